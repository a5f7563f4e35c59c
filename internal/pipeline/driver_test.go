package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hochfrequenz/methyl-orchestrator/internal/command"
	"github.com/hochfrequenz/methyl-orchestrator/internal/domain"
	"github.com/hochfrequenz/methyl-orchestrator/internal/executor"
	"github.com/hochfrequenz/methyl-orchestrator/internal/stages"
)

type call struct {
	Program string
	LogDir  string
}

// fakeRunner records invocations and fails the programs listed in fail
type fakeRunner struct {
	calls []call
	fail  map[string]error
}

func (f *fakeRunner) Execute(ctx context.Context, cmd command.Command, logDir string) (*executor.Result, error) {
	name := cmd.ProgramName()
	f.calls = append(f.calls, call{Program: name, LogDir: logDir})

	res := &executor.Result{LogPath: filepath.Join(logDir, name+".log"), Lines: 3}
	if err, ok := f.fail[name]; ok {
		var execErr *executor.ExecError
		if errors.As(err, &execErr) {
			res.ExitCode = execErr.ExitCode
		}
		return res, err
	}
	return res, nil
}

func (f *fakeRunner) programs() []string {
	names := make([]string, len(f.calls))
	for i, c := range f.calls {
		names[i] = c.Program
	}
	return names
}

type memRecorder struct {
	runs []*domain.StageRun
}

func (m *memRecorder) StartStage(sr *domain.StageRun) error {
	sr.ID = int64(len(m.runs) + 1)
	m.runs = append(m.runs, sr)
	return nil
}

func (m *memRecorder) FinishStage(sr *domain.StageRun) error { return nil }

type countingObserver struct {
	started, finished int
	samples           []string
}

func (c *countingObserver) StageStarted(sample, stage string) { c.started++ }
func (c *countingObserver) StageFinished(sample, stage string, status domain.StageStatus, d time.Duration) {
	c.finished++
}
func (c *countingObserver) SampleCompleted(sample string) { c.samples = append(c.samples, sample) }

var sampleStages = []string{
	"SOAPnuke",
	"bismark",
	"deduplicate_bismark",
	"bismark_methylation_extractor",
	"bash_methylation_depth_analysis",
	"bash_methylation_coverage_analyse",
	"bash_methylation_distribution_analysis",
}

func setup(t *testing.T, prepared bool, names ...string) (*domain.GlobalConfig, []*domain.Sample) {
	t.Helper()
	root := t.TempDir()

	genome := filepath.Join(root, "genome")
	if err := os.MkdirAll(genome, 0755); err != nil {
		t.Fatal(err)
	}
	if prepared {
		if err := os.MkdirAll(filepath.Join(genome, stages.BisulfiteGenomeDir), 0755); err != nil {
			t.Fatal(err)
		}
	}

	g := &domain.GlobalConfig{
		GenomeFolder:      genome,
		UtilsFolder:       root,
		ParallelNum:       30,
		ParallelAlignment: 4,
		ScriptInterpreter: "bash",
	}

	var samples []*domain.Sample
	for _, name := range names {
		dir := filepath.Join(root, name)
		samples = append(samples, &domain.Sample{
			Name:      name,
			Input1:    filepath.Join(dir, name+"_1.fq.gz"),
			Input2:    filepath.Join(dir, name+"_2.fq.gz"),
			Prefix:    name + "_1",
			OutputDir: filepath.Join(dir, "output"),
			LogDir:    filepath.Join(dir, "log"),
			ReportDir: filepath.Join(dir, "report"),
		})
	}
	return g, samples
}

func newDriver(t *testing.T, opts Options) *Driver {
	t.Helper()
	opts.Logger = zerolog.Nop()
	d, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestNew_Validation(t *testing.T) {
	g, samples := setup(t, true, "S1")

	if _, err := New(Options{Runner: &fakeRunner{}, Global: g}); !errors.Is(err, ErrNoSamples) {
		t.Errorf("no samples: error = %v, want ErrNoSamples", err)
	}
	if _, err := New(Options{Runner: &fakeRunner{}, Samples: samples}); !errors.Is(err, ErrNoGlobalConfig) {
		t.Errorf("no global: error = %v, want ErrNoGlobalConfig", err)
	}
	if _, err := New(Options{Global: g, Samples: samples}); err == nil {
		t.Error("expected error without a runner")
	}
}

func TestDriver_GenomePrepSkippedWhenIndexExists(t *testing.T) {
	g, samples := setup(t, true, "S1")
	runner := &fakeRunner{}
	d := newDriver(t, Options{Runner: runner, Global: g, Samples: samples})

	if err := d.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	for _, p := range runner.programs() {
		if p == "bismark_genome_preparation" {
			t.Fatal("genome preparation ran although the index exists")
		}
	}
	if d.State() != StateDone {
		t.Errorf("State = %s, want done", d.State())
	}
}

func TestDriver_GenomePrepLogsIntoFirstSample(t *testing.T) {
	g, samples := setup(t, false, "S1", "S2")
	runner := &fakeRunner{}
	d := newDriver(t, Options{Runner: runner, Global: g, Samples: samples})

	if err := d.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	first := runner.calls[0]
	if first.Program != "bismark_genome_preparation" {
		t.Fatalf("first call = %s, want genome preparation", first.Program)
	}
	if first.LogDir != samples[0].LogDir {
		t.Errorf("genome prep logDir = %s, want %s", first.LogDir, samples[0].LogDir)
	}

	count := 0
	for _, p := range runner.programs() {
		if p == "bismark_genome_preparation" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("genome preparation ran %d times, want 1", count)
	}
}

func TestDriver_Order(t *testing.T) {
	g, samples := setup(t, true, "S1", "S2")
	runner := &fakeRunner{}
	d := newDriver(t, Options{Runner: runner, Global: g, Samples: samples})

	if err := d.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	want := append(append([]string{}, sampleStages...), sampleStages...)
	got := runner.programs()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("calls =\n%v\nwant\n%v", got, want)
	}
	for i, c := range runner.calls {
		wantDir := samples[i/len(sampleStages)].LogDir
		if c.LogDir != wantDir {
			t.Errorf("call %d logDir = %s, want %s", i, c.LogDir, wantDir)
		}
	}

	// directories are provisioned before the stages run
	for _, s := range samples {
		for _, dir := range stages.Directories(s, g) {
			if info, err := os.Stat(dir); err != nil || !info.IsDir() {
				t.Errorf("directory %s not provisioned", dir)
			}
		}
	}
}

func TestDriver_FailFast(t *testing.T) {
	g, samples := setup(t, true, "S1", "S2")
	runner := &fakeRunner{fail: map[string]error{
		"deduplicate_bismark": &executor.ExecError{Command: "deduplicate_bismark -p --bam", ExitCode: 2, LogPath: "/x.log"},
	}}
	rec := &memRecorder{}
	obs := &countingObserver{}
	d := newDriver(t, Options{Runner: runner, Global: g, Samples: samples, Recorder: rec, Observers: []StageObserver{obs}, RunID: "r1"})

	err := d.Run(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}

	var execErr *executor.ExecError
	if !errors.As(err, &execErr) || execErr.ExitCode != 2 {
		t.Fatalf("error = %v, want ExecError with exit code 2", err)
	}
	if !strings.Contains(err.Error(), "exit code 2") {
		t.Errorf("error %q does not mention exit code 2", err)
	}
	if !strings.Contains(err.Error(), "S1") || !strings.Contains(err.Error(), stages.StageDeduplicate) {
		t.Errorf("error %q should name the sample and stage", err)
	}

	want := []string{"SOAPnuke", "bismark", "deduplicate_bismark"}
	if got := runner.programs(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", got, want)
	}
	if d.State() != StateAborted {
		t.Errorf("State = %s, want aborted", d.State())
	}
	if len(obs.samples) != 0 {
		t.Errorf("samples completed = %v, want none", obs.samples)
	}

	last := rec.runs[len(rec.runs)-1]
	if last.Status != domain.StageFailed || last.ExitCode != 2 || last.Stage != stages.StageDeduplicate {
		t.Errorf("last record = %+v", last)
	}
	if last.RunID != "r1" || last.Sample != "S1" {
		t.Errorf("record run/sample = %s/%s", last.RunID, last.Sample)
	}
}

func TestDriver_GenomePrepFailureAbortsBeforeSamples(t *testing.T) {
	g, samples := setup(t, false, "S1")
	runner := &fakeRunner{fail: map[string]error{
		"bismark_genome_preparation": &executor.ExecError{ExitCode: 1},
	}}
	d := newDriver(t, Options{Runner: runner, Global: g, Samples: samples})

	if err := d.Run(context.Background()); err == nil {
		t.Fatal("expected an error")
	}
	if len(runner.calls) != 1 {
		t.Errorf("calls = %v, want only genome preparation", runner.programs())
	}
	if _, err := os.Stat(samples[0].OutputDir); !os.IsNotExist(err) {
		t.Error("sample directories were provisioned after genome preparation failed")
	}
}

func TestDriver_SkipFilter(t *testing.T) {
	g, samples := setup(t, true, "S1")
	g.SkipFilter = true
	runner := &fakeRunner{}
	rec := &memRecorder{}
	obs := &countingObserver{}
	d := newDriver(t, Options{Runner: runner, Global: g, Samples: samples, Recorder: rec, Observers: []StageObserver{obs}})

	if err := d.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if runner.programs()[0] != "bismark" {
		t.Errorf("first call = %s, want bismark", runner.programs()[0])
	}
	if len(runner.calls) != len(sampleStages)-1 {
		t.Errorf("calls = %d, want %d", len(runner.calls), len(sampleStages)-1)
	}

	skipped := 0
	for _, sr := range rec.runs {
		if sr.Status == domain.StageSkipped {
			skipped++
		}
	}
	// genome preparation and the filter
	if skipped != 2 {
		t.Errorf("skipped records = %d, want 2", skipped)
	}
	if len(obs.samples) != 1 || obs.samples[0] != "S1" {
		t.Errorf("samples completed = %v", obs.samples)
	}
	if obs.started != len(runner.calls) {
		t.Errorf("observer started = %d, want %d", obs.started, len(runner.calls))
	}
}

func TestDriver_Cancelled(t *testing.T) {
	g, samples := setup(t, true, "S1")
	runner := &fakeRunner{fail: map[string]error{
		"bismark": fmt.Errorf("%w: bismark --genome", executor.ErrCancelled),
	}}
	rec := &memRecorder{}
	d := newDriver(t, Options{Runner: runner, Global: g, Samples: samples, Recorder: rec})

	err := d.Run(context.Background())
	if !errors.Is(err, executor.ErrCancelled) {
		t.Fatalf("error = %v, want ErrCancelled", err)
	}
	last := rec.runs[len(rec.runs)-1]
	if last.Status != domain.StageCancelled {
		t.Errorf("last status = %s, want cancelled", last.Status)
	}
}

func TestDriver_DryRun(t *testing.T) {
	g, samples := setup(t, false, "S1")
	var console bytes.Buffer
	d := newDriver(t, Options{Global: g, Samples: samples, DryRun: true, Console: &console})

	if err := d.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(samples[0].OutputDir); !os.IsNotExist(err) {
		t.Error("dry run provisioned directories")
	}
	out := console.String()
	for _, want := range []string{
		"bismark_genome_preparation --bowtie2 --parallel 15 " + g.GenomeFolder,
		"deduplicate_bismark -p --bam",
		"Sample S1 done",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("console output missing %q", want)
		}
	}
}

func TestDriver_RunTwice(t *testing.T) {
	g, samples := setup(t, true, "S1")
	d := newDriver(t, Options{Runner: &fakeRunner{}, Global: g, Samples: samples})

	if err := d.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := d.Run(context.Background()); !errors.Is(err, ErrAlreadyRun) {
		t.Errorf("second Run error = %v, want ErrAlreadyRun", err)
	}
}

func TestDriver_Plan(t *testing.T) {
	g, samples := setup(t, true, "S1", "S2")
	g.SkipFilter = true
	d := newDriver(t, Options{Runner: &fakeRunner{}, Global: g, Samples: samples})

	steps := d.Plan()
	perSample := 1 + len(stages.Catalog())
	if len(steps) != 1+2*perSample {
		t.Fatalf("len(steps) = %d, want %d", len(steps), 1+2*perSample)
	}
	if !steps[0].Skip || steps[0].Stage != stages.StageGenomePreparation {
		t.Errorf("steps[0] = %+v, want skipped genome preparation", steps[0])
	}
	if steps[1].Stage != stages.StageProvision || steps[1].Sample != "S1" {
		t.Errorf("steps[1] = %+v", steps[1])
	}
	if steps[2].Stage != stages.StageFilter || !steps[2].Skip {
		t.Errorf("steps[2] = %+v, want skipped filter", steps[2])
	}
	if steps[1+perSample].Sample != "S2" {
		t.Errorf("second sample starts at %+v", steps[1+perSample])
	}
	if d.State() != StateInit {
		t.Errorf("Plan changed state to %s", d.State())
	}
}
