package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hochfrequenz/methyl-orchestrator/internal/config"
	"github.com/hochfrequenz/methyl-orchestrator/internal/domain"
	"github.com/hochfrequenz/methyl-orchestrator/internal/executor"
	"github.com/hochfrequenz/methyl-orchestrator/internal/logging"
	"github.com/hochfrequenz/methyl-orchestrator/internal/metrics"
	"github.com/hochfrequenz/methyl-orchestrator/internal/notify"
	"github.com/hochfrequenz/methyl-orchestrator/internal/observer"
	"github.com/hochfrequenz/methyl-orchestrator/internal/pipeline"
	"github.com/hochfrequenz/methyl-orchestrator/internal/runstore"
)

func resolvedConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig reads the config file and sets up diagnostic logging from it.
// The returned closer releases the log file.
func loadConfig() (*config.Config, io.Closer, error) {
	cfg, err := config.Load(resolvedConfigPath())
	if err != nil {
		return nil, nil, err
	}
	closer, err := logging.ConfigureGlobalLogger(verbose || cfg.Logging.Verbose, cfg.Logging.File)
	if err != nil {
		return nil, nil, err
	}
	return cfg, closer, nil
}

func openStore(cfg *config.Config) (*runstore.Store, error) {
	store, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening run history %s: %w", cfg.General.DatabasePath, err)
	}
	return store, nil
}

func buildNotifier(cfg *config.Config) notify.Notifier {
	var notifiers []notify.Notifier
	if cfg.Notifications.Desktop {
		notifiers = append(notifiers, notify.NewDesktopNotifier(true))
	}
	if cfg.Notifications.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.Notifications.SlackWebhook))
	}
	if len(notifiers) == 0 {
		return notify.NoopNotifier{}
	}
	return notify.NewMultiNotifier(notifiers...)
}

// runOptions selects what a single pipeline run does
type runOptions struct {
	Samples []string // subset of sample names, all when empty
	DryRun  bool
	Console io.Writer
}

// selectSamples keeps the named samples in their configured order
func selectSamples(samples []*domain.Sample, names []string) ([]*domain.Sample, error) {
	if len(names) == 0 {
		return samples, nil
	}
	byName := make(map[string]bool, len(samples))
	for _, s := range samples {
		byName[s.Name] = true
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		if !byName[n] {
			return nil, fmt.Errorf("%w: sample %q is not configured", config.ErrNotFound, n)
		}
		wanted[n] = true
	}

	var selected []*domain.Sample
	for _, s := range samples {
		if wanted[s.Name] {
			selected = append(selected, s)
		}
	}
	return selected, nil
}

// runStatus derives the terminal run status from the driver's result
func runStatus(ctx context.Context, err error) domain.RunStatus {
	switch {
	case err == nil:
		return domain.RunCompleted
	case errors.Is(err, executor.ErrCancelled) || ctx.Err() != nil:
		return domain.RunCancelled
	default:
		return domain.RunFailed
	}
}

// executeRun resolves the configuration and drives one pipeline run,
// recording it in the run history. Configuration errors abort before any
// stage or record is created.
func executeRun(ctx context.Context, cfg *config.Config, opts runOptions) (*domain.Run, error) {
	logger := logging.Component("run")
	console := opts.Console
	if console == nil {
		console = os.Stdout
	}

	global, samples, err := config.Resolve(cfg)
	if err != nil {
		return nil, err
	}
	samples, err = selectSamples(samples, opts.Samples)
	if err != nil {
		return nil, err
	}

	if opts.DryRun {
		driver, err := pipeline.New(pipeline.Options{
			Global:  global,
			Samples: samples,
			Console: console,
			Logger:  logger,
			DryRun:  true,
		})
		if err != nil {
			return nil, err
		}
		return nil, driver.Run(ctx)
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	run := &domain.Run{
		ID:         uuid.NewString(),
		ConfigPath: resolvedConfigPath(),
		Samples:    len(samples),
		Status:     domain.RunRunning,
		StartedAt:  time.Now(),
	}
	if err := store.CreateRun(run); err != nil {
		return nil, fmt.Errorf("recording run: %w", err)
	}
	logger = logger.With().Str("run", run.ID).Logger()
	logger.Info().Int("samples", len(samples)).Str("genome", global.GenomeFolder).Msg("run started")

	obs := observer.New()
	rec := metrics.New()
	driver, err := pipeline.New(pipeline.Options{
		Runner:    executor.New(executor.Config{Console: console, Logger: log.Logger}),
		Global:    global,
		Samples:   samples,
		RunID:     run.ID,
		Recorder:  store,
		Observers: []pipeline.StageObserver{obs, rec},
		Console:   console,
		Logger:    log.Logger,
	})
	if err != nil {
		return nil, err
	}

	runErr := driver.Run(ctx)

	finished := time.Now()
	run.Status = runStatus(ctx, runErr)
	run.FinishedAt = &finished
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if err := store.FinishRun(run.ID, run.Status, run.Error, finished); err != nil {
		logger.Warn().Err(err).Msg("recording run result failed")
	}

	rec.RunFinished(run.Status, finished)
	if err := rec.WriteTextfile(cfg.Metrics.Textfile); err != nil {
		logger.Warn().Err(err).Msg("writing metrics failed")
	}
	stageRuns, err := store.ListStageRuns(run.ID)
	if err != nil {
		logger.Warn().Err(err).Msg("reading stage records failed")
	}
	if err := buildNotifier(cfg).Send(notify.ForRun(run, stageRuns)); err != nil {
		logger.Warn().Err(err).Msg("sending notification failed")
	}

	printSummary(console, run, obs.Summary())
	logEvent(logger, run).Dur("duration", run.Duration()).Msg("run finished")
	return run, runErr
}

func logEvent(logger zerolog.Logger, run *domain.Run) *zerolog.Event {
	if run.Status == domain.RunCompleted {
		return logger.Info().Str("status", string(run.Status))
	}
	return logger.Error().Str("status", string(run.Status)).Str("error", run.Error)
}
