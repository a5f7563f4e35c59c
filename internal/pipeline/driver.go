// Package pipeline drives the per-sample stage sequence: one optional genome
// preparation, then for every sample its directories and each catalog stage
// in order. The first failing stage aborts the whole run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hochfrequenz/methyl-orchestrator/internal/command"
	"github.com/hochfrequenz/methyl-orchestrator/internal/domain"
	"github.com/hochfrequenz/methyl-orchestrator/internal/executor"
	"github.com/hochfrequenz/methyl-orchestrator/internal/stages"
)

// State is a driver lifecycle state
type State string

const (
	StateInit              State = "init"
	StateGenomePrep        State = "genome_prep"
	StateGenomePrepSkipped State = "genome_prep_skipped"
	StateSample            State = "sample"
	StateDone              State = "done"
	StateAborted           State = "aborted"
)

// StageRunner executes one resolved command, logging into logDir
type StageRunner interface {
	Execute(ctx context.Context, cmd command.Command, logDir string) (*executor.Result, error)
}

// Recorder persists stage records
type Recorder interface {
	StartStage(sr *domain.StageRun) error
	FinishStage(sr *domain.StageRun) error
}

// StageObserver receives stage lifecycle events
type StageObserver interface {
	StageStarted(sample, stage string)
	StageFinished(sample, stage string, status domain.StageStatus, d time.Duration)
	SampleCompleted(sample string)
}

// Options configures a Driver. Runner, Global and Samples are required.
type Options struct {
	Runner    StageRunner
	Global    *domain.GlobalConfig
	Samples   []*domain.Sample
	RunID     string
	Recorder  Recorder
	Observers []StageObserver
	Console   io.Writer
	Logger    zerolog.Logger
	DryRun    bool
	Now       func() time.Time
}

// Step is one entry of a resolved plan
type Step struct {
	Sample  string // empty for genome preparation
	Stage   string
	Title   string
	Command string
	Skip    bool
	Reason  string
}

// Driver runs the pipeline once
type Driver struct {
	opts   Options
	logger zerolog.Logger

	mu    sync.Mutex
	state State
}

// New validates the options and returns a driver in the init state
func New(opts Options) (*Driver, error) {
	if opts.Global == nil {
		return nil, ErrNoGlobalConfig
	}
	if len(opts.Samples) == 0 {
		return nil, ErrNoSamples
	}
	if opts.Runner == nil && !opts.DryRun {
		return nil, errors.New("pipeline: a stage runner is required")
	}
	if opts.Console == nil {
		opts.Console = io.Discard
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Driver{
		opts:   opts,
		logger: opts.Logger.With().Str("component", "pipeline").Str("run", opts.RunID).Logger(),
		state:  StateInit,
	}, nil
}

// State returns the current lifecycle state
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Driver) setState(s State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = s
}

// Plan resolves every step the driver would take, without running anything.
// Skip decisions reflect the file system at the time of the call.
func (d *Driver) Plan() []Step {
	g := d.opts.Global

	steps := []Step{{
		Stage:   stages.StageGenomePreparation,
		Title:   "Prepare bisulfite genome index",
		Command: stages.GenomePreparation(g).String(),
	}}
	if stages.GenomePrepared(g) {
		steps[0].Skip = true
		steps[0].Reason = "genome index already exists"
	}

	for _, s := range d.opts.Samples {
		steps = append(steps, Step{
			Sample:  s.Name,
			Stage:   stages.StageProvision,
			Title:   "Create output directories",
			Command: "mkdir -p " + strings.Join(stages.Directories(s, g), " "),
		})
		for _, st := range stages.Catalog() {
			skip, reason := st.ShouldSkip(s, g)
			steps = append(steps, Step{
				Sample:  s.Name,
				Stage:   st.Name,
				Title:   st.Title,
				Command: st.Resolve(s, g).String(),
				Skip:    skip,
				Reason:  reason,
			})
		}
	}
	return steps
}

// Run executes the pipeline. It returns nil once every sample is done, or
// the error of the first failing stage, which ends the run.
func (d *Driver) Run(ctx context.Context) error {
	if d.State() != StateInit {
		return ErrAlreadyRun
	}

	if err := d.prepareGenome(ctx); err != nil {
		return d.abort(err)
	}

	for i, s := range d.opts.Samples {
		d.setState(StateSample)
		d.logger.Info().Str("sample", s.Name).Int("index", i+1).Int("of", len(d.opts.Samples)).Msg("processing sample")
		if err := d.runSample(ctx, s); err != nil {
			return d.abort(fmt.Errorf("sample %s: %w", s.Name, err))
		}
	}

	d.setState(StateDone)
	d.logger.Info().Int("samples", len(d.opts.Samples)).Msg("pipeline done")
	return nil
}

func (d *Driver) abort(err error) error {
	d.mu.Lock()
	d.state = StateAborted
	d.mu.Unlock()
	d.logger.Error().Err(err).Msg("pipeline aborted")
	return err
}

func (d *Driver) prepareGenome(ctx context.Context) error {
	g := d.opts.Global

	if stages.GenomePrepared(g) {
		d.setState(StateGenomePrepSkipped)
		fmt.Fprintln(d.opts.Console, "Bisulfite genome index found, skipping genome preparation")
		d.recordSkip("", stages.StageGenomePreparation)
		return nil
	}

	d.setState(StateGenomePrep)
	cmd := stages.GenomePreparation(g)
	fmt.Fprintf(d.opts.Console, "Prepare bisulfite genome index: %s\n", cmd)

	// there is no run-level log directory; the first sample's is used
	logDir := d.opts.Samples[0].LogDir
	if err := d.runStage(ctx, "", stages.StageGenomePreparation, cmd, logDir); err != nil {
		return fmt.Errorf("genome preparation: %w", err)
	}
	return nil
}

func (d *Driver) runSample(ctx context.Context, s *domain.Sample) error {
	g := d.opts.Global
	console := d.opts.Console

	fmt.Fprintf(console, "Processing sample %s...\n", s.Name)

	fmt.Fprintln(console, "-----------------------")
	fmt.Fprintf(console, "Create output directories: %s\n", strings.Join(stages.Directories(s, g), " "))
	if !d.opts.DryRun {
		if err := stages.Provision(s, g); err != nil {
			return err
		}
	}

	for _, st := range stages.Catalog() {
		if skip, reason := st.ShouldSkip(s, g); skip {
			fmt.Fprintf(console, "Skipping %s: %s\n", st.Title, reason)
			d.recordSkip(s.Name, st.Name)
			continue
		}

		cmd := st.Resolve(s, g)
		fmt.Fprintln(console, "-----------------------")
		fmt.Fprintf(console, "%s: %s\n", st.Title, cmd)
		if err := d.runStage(ctx, s.Name, st.Name, cmd, s.LogDir); err != nil {
			return fmt.Errorf("stage %s: %w", st.Name, err)
		}
	}

	fmt.Fprintf(console, "Sample %s done\n", s.Name)
	fmt.Fprintln(console, "=======================")
	if !d.opts.DryRun {
		for _, o := range d.opts.Observers {
			o.SampleCompleted(s.Name)
		}
	}
	return nil
}

func (d *Driver) runStage(ctx context.Context, sample, stage string, cmd command.Command, logDir string) error {
	if d.opts.DryRun {
		return nil
	}

	sr := &domain.StageRun{
		RunID:     d.opts.RunID,
		Sample:    sample,
		Stage:     stage,
		Command:   cmd.String(),
		Status:    domain.StageRunning,
		StartedAt: d.opts.Now(),
	}
	if d.opts.Recorder != nil {
		if err := d.opts.Recorder.StartStage(sr); err != nil {
			d.logger.Warn().Err(err).Str("stage", stage).Msg("recording stage start failed")
		}
	}
	for _, o := range d.opts.Observers {
		o.StageStarted(sample, stage)
	}

	res, err := d.opts.Runner.Execute(ctx, cmd, logDir)

	finished := d.opts.Now()
	sr.FinishedAt = &finished
	sr.Status = stageStatus(err)
	if res != nil {
		sr.LogPath = res.LogPath
		sr.ExitCode = res.ExitCode
		sr.Lines = res.Lines
	}
	var execErr *executor.ExecError
	if errors.As(err, &execErr) {
		sr.ExitCode = execErr.ExitCode
		if sr.LogPath == "" {
			sr.LogPath = execErr.LogPath
		}
	}

	if d.opts.Recorder != nil {
		if rerr := d.opts.Recorder.FinishStage(sr); rerr != nil {
			d.logger.Warn().Err(rerr).Str("stage", stage).Msg("recording stage result failed")
		}
	}
	for _, o := range d.opts.Observers {
		o.StageFinished(sample, stage, sr.Status, finished.Sub(sr.StartedAt))
	}

	d.logger.Debug().Str("sample", sample).Str("stage", stage).Str("status", string(sr.Status)).
		Int("exit_code", sr.ExitCode).Str("log", sr.LogPath).Msg("stage finished")
	return err
}

func (d *Driver) recordSkip(sample, stage string) {
	if d.opts.DryRun {
		return
	}
	now := d.opts.Now()
	if d.opts.Recorder != nil {
		sr := &domain.StageRun{
			RunID:      d.opts.RunID,
			Sample:     sample,
			Stage:      stage,
			Status:     domain.StageSkipped,
			StartedAt:  now,
			FinishedAt: &now,
		}
		if err := d.opts.Recorder.StartStage(sr); err != nil {
			d.logger.Warn().Err(err).Str("stage", stage).Msg("recording skipped stage failed")
		}
	}
	for _, o := range d.opts.Observers {
		o.StageFinished(sample, stage, domain.StageSkipped, 0)
	}
}

func stageStatus(err error) domain.StageStatus {
	switch {
	case err == nil:
		return domain.StageSucceeded
	case errors.Is(err, executor.ErrCancelled):
		return domain.StageCancelled
	default:
		return domain.StageFailed
	}
}
