// Package stages defines the fixed, ordered set of pipeline stages and the
// file naming conventions that connect them.
package stages

import (
	"path/filepath"

	"github.com/hochfrequenz/methyl-orchestrator/internal/command"
	"github.com/hochfrequenz/methyl-orchestrator/internal/domain"
)

// Stage names, also used in logs and the run store
const (
	StageGenomePreparation = "genome_preparation"
	StageProvision         = "provision"
	StageFilter            = "soapnuke_filter"
	StageAlignment         = "bismark_alignment"
	StageDeduplicate       = "bismark_deduplicate"
	StageMethylation       = "bismark_methylation_extractor"
	StageDepth             = "methylation_depth_analysis"
	StageCoverage          = "methylation_coverage_analyse"
	StageDistribution      = "methylation_distribution_analysis"
)

// ResolveFunc maps a sample and the run configuration to a command
type ResolveFunc func(s *domain.Sample, g *domain.GlobalConfig) command.Command

// SkipFunc reports whether a stage's effect is already present
type SkipFunc func(s *domain.Sample, g *domain.GlobalConfig) (skip bool, reason string)

// Stage is one named step of the per-sample sequence
type Stage struct {
	Name    string
	Title   string
	Resolve ResolveFunc
	Skip    SkipFunc // nil means always run
}

// ShouldSkip evaluates the stage's skip predicate, if any
func (st Stage) ShouldSkip(s *domain.Sample, g *domain.GlobalConfig) (bool, string) {
	if st.Skip == nil {
		return false, ""
	}
	return st.Skip(s, g)
}

// Catalog returns the per-sample stages in execution order. Directory
// provisioning precedes them and genome preparation runs once before any
// sample; neither is part of the list.
func Catalog() []Stage {
	return []Stage{
		{Name: StageFilter, Title: "Filter reads with SOAPnuke", Resolve: Filter, Skip: skipFilter},
		{Name: StageAlignment, Title: "Align reads", Resolve: Alignment},
		{Name: StageDeduplicate, Title: "Remove duplicate reads", Resolve: Deduplicate},
		{Name: StageMethylation, Title: "Extract methylation calls", Resolve: MethylationExtractor},
		{Name: StageDepth, Title: "Summarize methylation depth", Resolve: summary(StageDepth, SummaryDepth)},
		{Name: StageCoverage, Title: "Summarize methylation coverage", Resolve: summary(StageCoverage, SummaryCoverage)},
		{Name: StageDistribution, Title: "Summarize methylation distribution", Resolve: summary(StageDistribution, SummaryDistribution)},
	}
}

// Lookup finds a catalog stage by name
func Lookup(name string) (Stage, bool) {
	for _, st := range Catalog() {
		if st.Name == name {
			return st, true
		}
	}
	return Stage{}, false
}

func skipFilter(_ *domain.Sample, g *domain.GlobalConfig) (bool, string) {
	if g.SkipFilter {
		return true, "reads are already filtered"
	}
	return false, ""
}

// atLeastOne keeps derived thread counts usable for small budgets
func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// GenomePreparation builds the bisulfite genome index. Each bowtie2 instance
// uses two cores, so the parallel budget is halved.
func GenomePreparation(g *domain.GlobalConfig) command.Command {
	return *command.New("bismark_genome_preparation").
		Flag("--bowtie2").
		SetInt("--parallel", atLeastOne(g.ParallelNum/2)).
		Positional(g.GenomeFolder)
}

// GenomePrepared reports whether the genome index already exists
func GenomePrepared(g *domain.GlobalConfig) bool {
	return dirExists(GenomeIndexDir(g))
}

// Filter runs SOAPnuke quality filtering on both reads
func Filter(s *domain.Sample, g *domain.GlobalConfig) command.Command {
	return *command.New("SOAPnuke", "filter").
		Set("-1", s.Input1).
		Set("-2", s.Input2).
		Set("-C", filepath.Base(s.Input1)).
		Set("-D", filepath.Base(s.Input2)).
		Set("-o", filepath.Join(s.OutputDir, FilterDir)).
		SetInt("-l", 5).
		SetFloat("-q", 0.5).
		SetFloat("-n", 0.1).
		SetInt("-T", g.ParallelNum)
}

// AlignmentInputs returns the reads the aligner consumes: the filtered copies
// when filtering ran, the raw inputs otherwise.
func AlignmentInputs(s *domain.Sample, g *domain.GlobalConfig) (string, string) {
	if g.FilterEnabled() {
		return FilteredRead(s, s.Input1), FilteredRead(s, s.Input2)
	}
	return s.Input1, s.Input2
}

// Alignment maps the reads against the bisulfite genome with bowtie2
func Alignment(s *domain.Sample, g *domain.GlobalConfig) command.Command {
	read1, read2 := AlignmentInputs(s, g)
	return *command.New("bismark").
		Set("--genome", g.GenomeFolder).
		SetInt("-N", 0).
		Set("-1", read1).
		Set("-2", read2).
		Flag("--bowtie2").
		Flag("--bam").
		SetInt("--parallel", atLeastOne(g.ParallelAlignment)).
		Set("--temp_dir", filepath.Join(s.OutputDir, AlignmentTemp)).
		Set("-o", filepath.Join(s.OutputDir, AlignmentDir))
}

// Deduplicate removes PCR duplicates from the paired-end alignment
func Deduplicate(s *domain.Sample, _ *domain.GlobalConfig) command.Command {
	return *command.New("deduplicate_bismark").
		Flag("-p").
		Flag("--bam").
		Set("--output_dir", filepath.Join(s.OutputDir, DedupDir)).
		Positional(AlignmentBAM(s))
}

// MethylationExtractor extracts methylation calls and the per-chromosome
// cytosine report. Each core runs three processes, so the budget is divided by three.
func MethylationExtractor(s *domain.Sample, g *domain.GlobalConfig) command.Command {
	return *command.New("bismark_methylation_extractor").
		Flag("--bedGraph").
		Flag("--CX").
		Flag("--gzip").
		SetInt("--multicore", atLeastOne(g.ParallelNum/3)).
		Set("--buffer_size", "30%").
		Set("-o", filepath.Join(s.OutputDir, MethylationDir)).
		Flag("--cytosine_report").
		Set("--genome_folder", g.GenomeFolder).
		Flag("--split_by_chromosome").
		Positional(DedupBAM(s))
}

// Script resolves an auxiliary script under the utils folder, prefixed by the
// configured interpreter when there is one.
func Script(g *domain.GlobalConfig, name string) []string {
	path := filepath.Join(g.UtilsFolder, "utils", name)
	if g.ScriptInterpreter == "" {
		return []string{path}
	}
	return []string{g.ScriptInterpreter, path}
}

func summary(script, kind string) ResolveFunc {
	return func(s *domain.Sample, g *domain.GlobalConfig) command.Command {
		return *command.New(Script(g, script)...).
			Positional(CytosineReportGlob(s)).
			Positional(SummaryReport(s, kind))
	}
}
