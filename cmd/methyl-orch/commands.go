package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/methyl-orchestrator/internal/batch"
	"github.com/hochfrequenz/methyl-orchestrator/internal/cancel"
	"github.com/hochfrequenz/methyl-orchestrator/internal/config"
	"github.com/hochfrequenz/methyl-orchestrator/internal/domain"
	"github.com/hochfrequenz/methyl-orchestrator/internal/logging"
	"github.com/hochfrequenz/methyl-orchestrator/internal/observer"
	"github.com/hochfrequenz/methyl-orchestrator/internal/pipeline"
	"github.com/hochfrequenz/methyl-orchestrator/internal/runstore"
	"github.com/hochfrequenz/methyl-orchestrator/internal/stages"
)

// overrides holds command line values that replace config file settings
type overrides struct {
	GenomeFolder      string
	UtilsFolder       string
	SkipFilter        bool
	ParallelNum       int
	ParallelAlignment int
	SamplesFile       string
	Sample            config.SampleConfig
}

var (
	flagOverrides overrides
	runSamples    []string
	runDryRun     bool
	historyLimit  int
	logsStage     string
	logsSample    string
)

func init() {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline for all configured samples",
		Long: `Runs genome preparation (unless the bisulfite index exists) and then every
stage for each sample in order. The first failing stage stops the run and its
exit code becomes the exit code of methyl-orch.`,
		RunE: runRun,
	}
	addOverrideFlags(runCmd.Flags())
	runCmd.Flags().StringSliceVar(&runSamples, "sample", nil, "only process the named samples (repeatable)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "print the commands without running anything")
	rootCmd.AddCommand(runCmd)

	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the resolved stage commands",
		RunE:  runPlan,
	}
	addOverrideFlags(planCmd.Flags())
	planCmd.Flags().StringSliceVar(&runSamples, "sample", nil, "only show the named samples (repeatable)")
	rootCmd.AddCommand(planCmd)

	statusCmd := &cobra.Command{
		Use:   "status [RUN]",
		Short: "Show the stages of a run (latest by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runStatusCmd,
	}
	rootCmd.AddCommand(statusCmd)

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List past runs",
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to show (0 for all)")
	rootCmd.AddCommand(historyCmd)

	logsCmd := &cobra.Command{
		Use:   "logs [RUN]",
		Short: "Print the log of a stage (the last executed stage by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLogs,
	}
	logsCmd.Flags().StringVar(&logsStage, "stage", "", "stage name")
	logsCmd.Flags().StringVar(&logsSample, "sample", "", "sample name")
	rootCmd.AddCommand(logsCmd)

	artifactsCmd := &cobra.Command{
		Use:   "artifacts",
		Short: "List the expected output files of each sample",
		RunE:  runArtifacts,
	}
	addOverrideFlags(artifactsCmd.Flags())
	rootCmd.AddCommand(artifactsCmd)

	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the pipeline on a cron schedule or when the sample sheet changes",
		RunE:  runSchedule,
	}
	rootCmd.AddCommand(scheduleCmd)
}

func addOverrideFlags(fs *pflag.FlagSet) {
	o := &flagOverrides
	fs.StringVar(&o.GenomeFolder, "genome-folder", "", "reference genome folder")
	fs.StringVar(&o.UtilsFolder, "utils-folder", "", "folder containing the utils/ summary scripts")
	fs.BoolVar(&o.SkipFilter, "skip-filter", false, "reads are already filtered, skip SOAPnuke")
	fs.IntVar(&o.ParallelNum, "parallel-num", config.DefaultParallelNum, "thread budget for filtering and extraction")
	fs.IntVar(&o.ParallelAlignment, "parallel-alignment", config.DefaultParallelAlignment, "parallel bismark instances")
	fs.StringVar(&o.SamplesFile, "samples-file", "", "sample sheet (.tsv, .csv, .yaml)")
	fs.StringVar(&o.Sample.SampleName, "sample-name", "", "run a single sample defined by flags")
	fs.StringVar(&o.Sample.GroupName, "group-name", "", "group of the single sample")
	fs.StringVar(&o.Sample.Input1, "input-1", "", "first read file of the single sample")
	fs.StringVar(&o.Sample.Input2, "input-2", "", "second read file of the single sample")
	fs.StringVar(&o.Sample.OutputDir, "output-dir", "", "output directory of the single sample")
	fs.StringVar(&o.Sample.LogDir, "log-dir", "", "log directory of the single sample")
	fs.StringVar(&o.Sample.ReportDir, "report-dir", "", "report directory of the single sample")
}

// applyOverrides copies explicitly set flags into cfg. A sample given by
// flags replaces every configured sample.
func applyOverrides(cfg *config.Config, fs *pflag.FlagSet, o overrides) {
	if fs.Changed("genome-folder") {
		cfg.General.GenomeFolder = config.ExpandPath(o.GenomeFolder)
	}
	if fs.Changed("utils-folder") {
		cfg.General.UtilsFolder = config.ExpandPath(o.UtilsFolder)
	}
	if fs.Changed("skip-filter") {
		cfg.General.SkipFilter = o.SkipFilter
	}
	if fs.Changed("parallel-num") {
		cfg.General.ParallelNum = o.ParallelNum
	}
	if fs.Changed("parallel-alignment") {
		cfg.General.ParallelAlignment = o.ParallelAlignment
	}
	if fs.Changed("samples-file") {
		cfg.General.SamplesFile = config.ExpandPath(o.SamplesFile)
	}
	if fs.Changed("sample-name") {
		cfg.General.SamplesFile = ""
		cfg.Samples = []config.SampleConfig{o.Sample}
	}
}

func loadRunConfig(cmd *cobra.Command) (*config.Config, io.Closer, error) {
	cfg, closer, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	applyOverrides(cfg, cmd.Flags(), flagOverrides)
	return cfg, closer, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, closer, err := loadRunConfig(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctl := cancel.New(context.Background(), logging.Component("cancel"))
	defer ctl.Stop()

	_, err = executeRun(ctl.Context(), cfg, runOptions{
		Samples: runSamples,
		DryRun:  runDryRun,
		Console: os.Stdout,
	})
	if err != nil {
		return &exitError{code: ctl.ExitCode(err), err: err}
	}
	return nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, closer, err := loadRunConfig(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	global, samples, err := config.Resolve(cfg)
	if err != nil {
		return err
	}
	if samples, err = selectSamples(samples, runSamples); err != nil {
		return err
	}
	driver, err := pipeline.New(pipeline.Options{Global: global, Samples: samples, DryRun: true})
	if err != nil {
		return err
	}

	printPlan(os.Stdout, driver.Plan())
	return nil
}

// findRun resolves an optional run ID prefix, defaulting to the latest run
func findRun(store *runstore.Store, args []string) (*domain.Run, error) {
	if len(args) == 0 {
		run, err := store.LatestRun()
		if errors.Is(err, runstore.ErrNotFound) {
			return nil, fmt.Errorf("no runs recorded yet")
		}
		return run, err
	}
	return store.FindRun(args[0])
}

func runStatusCmd(cmd *cobra.Command, args []string) error {
	cfg, closer, err := loadConfig()
	if err != nil {
		return err
	}
	defer closer.Close()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := findRun(store, args)
	if err != nil {
		return err
	}
	stageRuns, err := store.ListStageRuns(run.ID)
	if err != nil {
		return err
	}

	printRun(os.Stdout, run)
	printStages(os.Stdout, stageRuns)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, closer, err := loadConfig()
	if err != nil {
		return err
	}
	defer closer.Close()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet")
		return nil
	}
	printHistory(os.Stdout, runs)
	return nil
}

// pickStageLog chooses the stage whose log to show: the last executed stage
// matching the filters
func pickStageLog(stageRuns []*domain.StageRun, stage, sample string) (*domain.StageRun, error) {
	for i := len(stageRuns) - 1; i >= 0; i-- {
		sr := stageRuns[i]
		if sr.LogPath == "" {
			continue
		}
		if stage != "" && sr.Stage != stage {
			continue
		}
		if sample != "" && sr.Sample != sample {
			continue
		}
		return sr, nil
	}
	return nil, fmt.Errorf("no stage log matches stage=%q sample=%q", stage, sample)
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, closer, err := loadConfig()
	if err != nil {
		return err
	}
	defer closer.Close()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := findRun(store, args)
	if err != nil {
		return err
	}
	stageRuns, err := store.ListStageRuns(run.ID)
	if err != nil {
		return err
	}
	sr, err := pickStageLog(stageRuns, logsStage, logsSample)
	if err != nil {
		return err
	}

	f, err := os.Open(sr.LogPath)
	if err != nil {
		return fmt.Errorf("opening stage log: %w", err)
	}
	defer f.Close()

	fmt.Fprintln(os.Stderr, dimStyle.Render(fmt.Sprintf("==> %s (%s %s)", sr.LogPath, sr.Sample, sr.Stage)))
	_, err = io.Copy(os.Stdout, f)
	return err
}

func runArtifacts(cmd *cobra.Command, args []string) error {
	cfg, closer, err := loadRunConfig(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	_, samples, err := config.Resolve(cfg)
	if err != nil {
		return err
	}

	for _, s := range samples {
		fmt.Println(titleStyle.Render(s.Name))
		for _, a := range stages.Artifacts(s) {
			fmt.Printf("  %-32s %s\n", a.Stage, describeArtifact(a))
		}
	}
	return nil
}

func describeArtifact(a stages.Artifact) string {
	if a.Glob {
		matches, _ := filepath.Glob(a.Path)
		if len(matches) == 0 {
			return missingStyle.Render("missing") + " " + a.Path
		}
		var total uint64
		for _, m := range matches {
			if info, err := os.Stat(m); err == nil {
				total += uint64(info.Size())
			}
		}
		return fmt.Sprintf("%s %s (%d files)", okStyle.Render(humanize.Bytes(total)), a.Path, len(matches))
	}

	info, err := os.Stat(a.Path)
	if err != nil {
		return missingStyle.Render("missing") + " " + a.Path
	}
	return okStyle.Render(humanize.Bytes(uint64(info.Size()))) + " " + a.Path
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, closer, err := loadConfig()
	if err != nil {
		return err
	}
	defer closer.Close()

	if cfg.Schedule.Cron == "" && !cfg.Schedule.Watch {
		return fmt.Errorf("%w: schedule.cron or schedule.watch", config.ErrMissingField)
	}

	ctl := cancel.New(context.Background(), logging.Component("cancel"))
	defer ctl.Stop()

	logger := logging.Component("schedule")
	gate := &batch.Gate{}

	// every trigger rereads the config so sheet and setting edits apply
	trigger := func(ctx context.Context, reason string) error {
		current, err := config.Load(resolvedConfigPath())
		if err != nil {
			return err
		}
		logger.Info().Str("trigger", reason).Msg("starting run")
		_, err = executeRun(ctx, current, runOptions{Console: os.Stdout})
		return err
	}

	g, ctx := errgroup.WithContext(ctl.Context())

	if cfg.Schedule.Cron != "" {
		sched, err := batch.NewScheduler(cfg.Schedule.Cron, gate, log.Logger)
		if err != nil {
			return err
		}
		g.Go(func() error { return sched.Run(ctx, trigger) })
	}

	if cfg.Schedule.Watch {
		watched := []string{resolvedConfigPath()}
		if cfg.General.SamplesFile != "" {
			watched = append(watched, cfg.General.SamplesFile)
		}

		changes := make(chan []string, 1)
		watcher, err := observer.NewSheetWatcher(func(files []string) {
			select {
			case changes <- files:
			default: // a change is already pending
			}
		}, log.Logger)
		if err != nil {
			return err
		}
		for _, path := range watched {
			if err := watcher.Add(path); err != nil {
				watcher.Stop()
				return err
			}
		}
		watcher.Start(ctx)

		g.Go(func() error {
			defer watcher.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case files := <-changes:
					if !gate.TryStart() {
						logger.Info().Msg("run in progress, ignoring change")
						continue
					}
					err := trigger(ctx, "changed "+strings.Join(files, ", "))
					gate.Done()
					if err != nil {
						logger.Error().Err(err).Msg("triggered run failed")
					}
				}
			}
		})
	}

	logger.Info().Str("cron", cfg.Schedule.Cron).Bool("watch", cfg.Schedule.Watch).Msg("waiting for triggers")
	err = g.Wait()
	if sig := ctl.Signaled(); sig != nil {
		logger.Info().Str("signal", sig.String()).Msg("schedule stopped")
	}
	return scheduleExit(ctl.Signaled(), err)
}

// scheduleExit maps the end of the schedule loop to the command result. A
// delivered signal always ends the process with a non-zero status, also when
// no run was in progress.
func scheduleExit(sig os.Signal, err error) error {
	if sig == nil {
		return err
	}
	return &exitError{code: cancel.ExitSignalled, err: fmt.Errorf("schedule stopped by %s", sig)}
}
