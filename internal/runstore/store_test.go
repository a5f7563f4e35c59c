package runstore

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hochfrequenz/methyl-orchestrator/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_CreateAndGetRun(t *testing.T) {
	store := newTestStore(t)

	started := time.Date(2024, 3, 1, 10, 4, 5, 0, time.UTC)
	run := &domain.Run{
		ID:         "a1b2c3d4-0000-0000-0000-000000000001",
		ConfigPath: "/etc/methyl.toml",
		Samples:    2,
		Status:     domain.RunRunning,
		StartedAt:  started,
	}
	if err := store.CreateRun(run); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetRun(run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Samples != 2 || got.Status != domain.RunRunning || got.ConfigPath != run.ConfigPath {
		t.Errorf("got %+v", got)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}
	if got.FinishedAt != nil {
		t.Error("FinishedAt should be nil for a running run")
	}

	finished := started.Add(90 * time.Minute)
	if err := store.FinishRun(run.ID, domain.RunFailed, "stage bismark_alignment failed", finished); err != nil {
		t.Fatal(err)
	}

	got, err = store.GetRun(run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.RunFailed {
		t.Errorf("Status = %q, want failed", got.Status)
	}
	if got.Error != "stage bismark_alignment failed" {
		t.Errorf("Error = %q", got.Error)
	}
	if got.FinishedAt == nil || got.Duration() != 90*time.Minute {
		t.Errorf("Duration = %v, want 1h30m", got.Duration())
	}
}

func TestStore_GetRunNotFound(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.GetRun("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun() error = %v, want ErrNotFound", err)
	}
	if err := store.FinishRun("missing", domain.RunCompleted, "", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("FinishRun() error = %v, want ErrNotFound", err)
	}
	if _, err := store.LatestRun(); !errors.Is(err, ErrNotFound) {
		t.Errorf("LatestRun() error = %v, want ErrNotFound", err)
	}
}

func TestStore_ListAndFindRuns(t *testing.T) {
	store := newTestStore(t)

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	ids := []string{"abc-1", "abd-2", "xyz-3"}
	for i, id := range ids {
		run := &domain.Run{ID: id, Status: domain.RunCompleted, StartedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := store.CreateRun(run); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := store.ListRuns(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 3 || runs[0].ID != "xyz-3" || runs[2].ID != "abc-1" {
		t.Errorf("ListRuns order wrong: %v", runIDs(runs))
	}

	runs, err = store.ListRuns(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Errorf("ListRuns(2) returned %d runs", len(runs))
	}

	latest, err := store.LatestRun()
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != "xyz-3" {
		t.Errorf("LatestRun = %s, want xyz-3", latest.ID)
	}

	tests := []struct {
		prefix string
		want   string
		err    error
	}{
		{"abc", "abc-1", nil},
		{"x", "xyz-3", nil},
		{"ab", "", ErrAmbiguous},
		{"q", "", ErrNotFound},
	}
	for _, tt := range tests {
		got, err := store.FindRun(tt.prefix)
		if tt.err != nil {
			if !errors.Is(err, tt.err) {
				t.Errorf("FindRun(%q) error = %v, want %v", tt.prefix, err, tt.err)
			}
			continue
		}
		if err != nil {
			t.Errorf("FindRun(%q) error = %v", tt.prefix, err)
			continue
		}
		if got.ID != tt.want {
			t.Errorf("FindRun(%q) = %s, want %s", tt.prefix, got.ID, tt.want)
		}
	}
}

func TestStore_StageRuns(t *testing.T) {
	store := newTestStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	if err := store.CreateRun(&domain.Run{ID: "r1", Status: domain.RunRunning, StartedAt: now}); err != nil {
		t.Fatal(err)
	}

	genome := &domain.StageRun{RunID: "r1", Stage: "genome_preparation", Status: domain.StageSkipped, StartedAt: now}
	align := &domain.StageRun{
		RunID:     "r1",
		Sample:    "S1",
		Stage:     "bismark_alignment",
		Command:   "bismark --genome /g",
		Status:    domain.StageRunning,
		StartedAt: now,
	}
	for _, sr := range []*domain.StageRun{genome, align} {
		if err := store.StartStage(sr); err != nil {
			t.Fatal(err)
		}
	}
	if align.ID == 0 || align.ID == genome.ID {
		t.Errorf("stage IDs not assigned: %d, %d", genome.ID, align.ID)
	}

	finished := now.Add(time.Minute)
	align.Status = domain.StageFailed
	align.ExitCode = 2
	align.Lines = 17
	align.LogPath = "/data/S1/log/2024-03-01_10-04-05_bismark.log"
	align.FinishedAt = &finished
	if err := store.FinishStage(align); err != nil {
		t.Fatal(err)
	}

	stages, err := store.ListStageRuns("r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(stages) != 2 {
		t.Fatalf("len(stages) = %d, want 2", len(stages))
	}
	if stages[0].Stage != "genome_preparation" || stages[0].Sample != "" {
		t.Errorf("stages[0] = %+v", stages[0])
	}
	got := stages[1]
	if got.Status != domain.StageFailed || got.ExitCode != 2 || got.Lines != 17 {
		t.Errorf("stages[1] = %+v", got)
	}
	if got.LogPath != align.LogPath {
		t.Errorf("LogPath = %q", got.LogPath)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(finished) {
		t.Errorf("FinishedAt = %v, want %v", got.FinishedAt, finished)
	}
}

func TestStore_StageRequiresRun(t *testing.T) {
	store := newTestStore(t)

	err := store.StartStage(&domain.StageRun{RunID: "nope", Stage: "x", Status: domain.StageRunning, StartedAt: time.Now()})
	if err == nil {
		t.Error("expected foreign key violation for unknown run")
	}
}

func TestNew_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "runs.db")
	store, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if err := store.CreateRun(&domain.Run{ID: "r", Status: domain.RunRunning, StartedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
}

func runIDs(runs []*domain.Run) []string {
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.ID
	}
	return ids
}
