// Package runstore persists pipeline run history in SQLite.
package runstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hochfrequenz/methyl-orchestrator/internal/domain"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no run matches an ID
var ErrNotFound = errors.New("run not found")

// ErrAmbiguous is returned when an ID prefix matches more than one run
var ErrAmbiguous = errors.New("ambiguous run id")

// Store provides SQLite-backed run persistence
type Store struct {
	db *sql.DB
}

// New opens the database at dbPath, creating it and its directory if needed
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// a single connection keeps :memory: databases consistent
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new run
func (s *Store) CreateRun(run *domain.Run) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (id, config_path, samples, status, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.ConfigPath,
		run.Samples,
		string(run.Status),
		run.Error,
		run.StartedAt,
		nullTime(run.FinishedAt),
	)
	return err
}

// FinishRun records the terminal status of a run
func (s *Store) FinishRun(id string, status domain.RunStatus, errMsg string, finishedAt time.Time) error {
	res, err := s.db.Exec(`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), errMsg, finishedAt, id)
	if err != nil {
		return err
	}
	return expectRow(res, id)
}

// GetRun retrieves a run by its full ID
func (s *Store) GetRun(id string) (*domain.Run, error) {
	row := s.db.QueryRow(`
		SELECT id, config_path, samples, status, error, started_at, finished_at
		FROM runs WHERE id = ?
	`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return run, err
}

// FindRun resolves a full ID or a unique ID prefix
func (s *Store) FindRun(prefix string) (*domain.Run, error) {
	rows, err := s.db.Query(`
		SELECT id, config_path, samples, status, error, started_at, finished_at
		FROM runs WHERE id LIKE ? || '%' LIMIT 2
	`, prefix)
	if err != nil {
		return nil, err
	}
	runs, err := collectRuns(rows)
	if err != nil {
		return nil, err
	}

	switch len(runs) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, prefix)
	case 1:
		return runs[0], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrAmbiguous, prefix)
	}
}

// LatestRun returns the most recently started run
func (s *Store) LatestRun() (*domain.Run, error) {
	runs, err := s.ListRuns(1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNotFound
	}
	return runs[0], nil
}

// ListRuns returns runs newest first. A limit of zero or less returns all runs.
func (s *Store) ListRuns(limit int) ([]*domain.Run, error) {
	query := `SELECT id, config_path, samples, status, error, started_at, finished_at FROM runs ORDER BY started_at DESC, rowid DESC`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	return collectRuns(rows)
}

// StartStage inserts a stage record and assigns its ID
func (s *Store) StartStage(sr *domain.StageRun) error {
	res, err := s.db.Exec(`
		INSERT INTO stage_runs (run_id, sample, stage, command, log_path, status, exit_code, lines, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sr.RunID,
		sr.Sample,
		sr.Stage,
		sr.Command,
		sr.LogPath,
		string(sr.Status),
		sr.ExitCode,
		sr.Lines,
		sr.StartedAt,
		nullTime(sr.FinishedAt),
	)
	if err != nil {
		return err
	}
	sr.ID, err = res.LastInsertId()
	return err
}

// FinishStage stores the outcome of a previously started stage
func (s *Store) FinishStage(sr *domain.StageRun) error {
	_, err := s.db.Exec(`
		UPDATE stage_runs SET status = ?, exit_code = ?, lines = ?, log_path = ?, finished_at = ?
		WHERE id = ?
	`,
		string(sr.Status),
		sr.ExitCode,
		sr.Lines,
		sr.LogPath,
		nullTime(sr.FinishedAt),
		sr.ID,
	)
	return err
}

// ListStageRuns returns the stages of a run in execution order
func (s *Store) ListStageRuns(runID string) ([]*domain.StageRun, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, sample, stage, command, log_path, status, exit_code, lines, started_at, finished_at
		FROM stage_runs WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stages []*domain.StageRun
	for rows.Next() {
		var sr domain.StageRun
		var sample, command, logPath sql.NullString
		var status string
		var finished sql.NullTime

		err := rows.Scan(&sr.ID, &sr.RunID, &sample, &sr.Stage, &command, &logPath, &status, &sr.ExitCode, &sr.Lines, &sr.StartedAt, &finished)
		if err != nil {
			return nil, err
		}
		sr.Sample = sample.String
		sr.Command = command.String
		sr.LogPath = logPath.String
		sr.Status = domain.StageStatus(status)
		if finished.Valid {
			sr.FinishedAt = &finished.Time
		}
		stages = append(stages, &sr)
	}
	return stages, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*domain.Run, error) {
	var run domain.Run
	var configPath, errMsg sql.NullString
	var status string
	var finished sql.NullTime

	if err := row.Scan(&run.ID, &configPath, &run.Samples, &status, &errMsg, &run.StartedAt, &finished); err != nil {
		return nil, err
	}

	run.ConfigPath = configPath.String
	run.Error = errMsg.String
	run.Status = domain.RunStatus(status)
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	return &run, nil
}

func collectRuns(rows *sql.Rows) ([]*domain.Run, error) {
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func expectRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
