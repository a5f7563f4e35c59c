package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hochfrequenz/methyl-orchestrator/internal/domain"
)

// Placeholder substituted in sample input paths
const SampleNamePlaceholder = "{sample_name}"

// Default sample input locations, relative to the working directory
const (
	DefaultInput1 = "{sample_name}/{sample_name}_1.fq.gz"
	DefaultInput2 = "{sample_name}/{sample_name}_2.fq.gz"
)

// Resolve validates the configuration and produces the run settings and the
// samples in input order. Samples come from samples_file when it is set,
// otherwise from the inline [[samples]] tables.
func Resolve(cfg *Config) (*domain.GlobalConfig, []*domain.Sample, error) {
	global, err := ResolveGlobal(&cfg.General)
	if err != nil {
		return nil, nil, err
	}

	entries := cfg.Samples
	if cfg.General.SamplesFile != "" {
		entries, err = LoadSampleSheet(cfg.General.SamplesFile)
		if err != nil {
			return nil, nil, err
		}
	}
	if len(entries) == 0 {
		return nil, nil, fmt.Errorf("%w: no samples configured", ErrMissingField)
	}

	samples := make([]*domain.Sample, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for i, entry := range entries {
		s, err := ResolveSample(entry)
		if err != nil {
			return nil, nil, fmt.Errorf("sample %d: %w", i+1, err)
		}
		if seen[s.Name] {
			return nil, nil, fmt.Errorf("%w: duplicate sample_name %q", ErrInvalid, s.Name)
		}
		seen[s.Name] = true
		samples = append(samples, s)
	}

	return global, samples, nil
}

// ResolveGlobal checks the run-wide settings. The genome folder is made
// absolute because bismark requires it.
func ResolveGlobal(gc *GeneralConfig) (*domain.GlobalConfig, error) {
	if gc.GenomeFolder == "" {
		return nil, fmt.Errorf("%w: general.genome_folder", ErrMissingField)
	}
	genome, err := filepath.Abs(trimSlash(gc.GenomeFolder))
	if err != nil {
		return nil, fmt.Errorf("resolving genome folder: %w", err)
	}
	if !dirExists(genome) {
		return nil, fmt.Errorf("%w: reference genome folder %s", ErrNotFound, genome)
	}

	utils := trimSlash(gc.UtilsFolder)
	if utils == "" {
		utils = DefaultUtilsFolder
	}
	if !dirExists(utils) {
		return nil, fmt.Errorf("%w: utils folder %s", ErrNotFound, utils)
	}

	if gc.ParallelNum < 1 {
		return nil, fmt.Errorf("%w: general.parallel_num must be positive, got %d", ErrInvalid, gc.ParallelNum)
	}
	if gc.ParallelAlignment < 1 {
		return nil, fmt.Errorf("%w: general.parallel_alignment must be positive, got %d", ErrInvalid, gc.ParallelAlignment)
	}

	return &domain.GlobalConfig{
		GenomeFolder:      genome,
		UtilsFolder:       utils,
		SkipFilter:        gc.SkipFilter,
		ParallelNum:       gc.ParallelNum,
		ParallelAlignment: gc.ParallelAlignment,
		ScriptInterpreter: gc.ScriptInterpreter,
	}, nil
}

// ResolveSample fills in defaults for one sample and checks its inputs exist
func ResolveSample(sc SampleConfig) (*domain.Sample, error) {
	name := strings.TrimSpace(sc.SampleName)
	if name == "" {
		return nil, fmt.Errorf("%w: sample_name", ErrMissingField)
	}

	expand := func(v, def string) string {
		if v == "" {
			v = def
		}
		return strings.ReplaceAll(v, SampleNamePlaceholder, name)
	}

	s := &domain.Sample{
		Name:   name,
		Group:  sc.GroupName,
		Input1: ExpandPath(expand(sc.Input1, DefaultInput1)),
		Input2: ExpandPath(expand(sc.Input2, DefaultInput2)),
	}

	for _, input := range []string{s.Input1, s.Input2} {
		if !fileExists(input) {
			return nil, fmt.Errorf("%w: input file %s of sample %s", ErrNotFound, input, name)
		}
	}

	s.Prefix = strings.SplitN(filepath.Base(s.Input1), ".", 2)[0]

	sampleDir := filepath.Dir(s.Input1)
	s.OutputDir = dirOrDefault(sc.OutputDir, sampleDir, "output")
	s.LogDir = dirOrDefault(sc.LogDir, sampleDir, "log")
	s.ReportDir = dirOrDefault(sc.ReportDir, sampleDir, "report")

	return s, nil
}

func dirOrDefault(v, sampleDir, name string) string {
	if v == "" {
		return filepath.Join(sampleDir, name)
	}
	return filepath.Clean(ExpandPath(v))
}

func trimSlash(path string) string {
	if path == "/" {
		return path
	}
	return strings.TrimRight(path, "/")
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
