package stages

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hochfrequenz/methyl-orchestrator/internal/domain"
)

// DirMode is applied to every provisioned directory regardless of umask
const DirMode os.FileMode = 0777

// Subdirectories of a sample's output directory
const (
	FilterDir      = "soapnuke"
	AlignmentDir   = "bismark_alignment"
	AlignmentTemp  = "bismark_alignment/temp"
	MethylationDir = "bismark_methylation"
	DedupDir       = "bismark_deduplicate"

	// BisulfiteGenomeDir is created inside the genome folder by genome preparation
	BisulfiteGenomeDir = "Bisulfite_Genome"
)

// Summary kinds produced by the auxiliary scripts
const (
	SummaryDepth        = "depth"
	SummaryCoverage     = "coverage"
	SummaryDistribution = "distribution"
)

// AlignmentBAM is the BAM written by bismark for a paired-end sample
func AlignmentBAM(s *domain.Sample) string {
	return filepath.Join(s.OutputDir, AlignmentDir, s.Prefix+"_bismark_bt2_pe.bam")
}

// AlignmentReport is the alignment summary text read by the reporting stage
func AlignmentReport(s *domain.Sample) string {
	return filepath.Join(s.OutputDir, AlignmentDir, s.Prefix+"_bismark_bt2_PE_report.txt")
}

// DedupBAM is the BAM written by deduplicate_bismark
func DedupBAM(s *domain.Sample) string {
	return filepath.Join(s.OutputDir, DedupDir, s.Prefix+"_bismark_bt2_pe.deduplicated.bam")
}

// DedupReport is the deduplication summary text read by the reporting stage
func DedupReport(s *domain.Sample) string {
	return filepath.Join(s.OutputDir, DedupDir, s.Prefix+"_bismark_bt2_pe.deduplication_report.txt")
}

// SplittingReport is the methylation extractor summary read by the reporting stage
func SplittingReport(s *domain.Sample) string {
	return filepath.Join(s.OutputDir, MethylationDir, s.Prefix+"_bismark_bt2_pe.deduplicated_splitting_report.txt")
}

// CytosineReportGlob matches the per-chromosome cytosine reports.
// The summarization tools expand the pattern themselves.
func CytosineReportGlob(s *domain.Sample) string {
	return filepath.Join(s.OutputDir, MethylationDir, s.Prefix+"_bismark_bt2_pe.deduplicated.CX_report.txt*.gz")
}

// SummaryReport is the text file written by one of the summarization scripts
func SummaryReport(s *domain.Sample, kind string) string {
	return filepath.Join(s.OutputDir, fmt.Sprintf("%s_methylation_%s_report.txt", s.Name, kind))
}

// FilteredRead returns the path SOAPnuke writes the cleaned copy of input to
func FilteredRead(s *domain.Sample, input string) string {
	return filepath.Join(s.OutputDir, FilterDir, filepath.Base(input))
}

// GenomeIndexDir is the directory whose presence marks a prepared genome
func GenomeIndexDir(g *domain.GlobalConfig) string {
	return filepath.Join(g.GenomeFolder, BisulfiteGenomeDir)
}

// Directories lists every directory a sample's stages write into
func Directories(s *domain.Sample, g *domain.GlobalConfig) []string {
	subdirs := []string{AlignmentDir, AlignmentTemp, MethylationDir, DedupDir}
	if g.FilterEnabled() {
		subdirs = append(subdirs, FilterDir)
	}

	dirs := make([]string, 0, len(subdirs)+2)
	for _, d := range subdirs {
		dirs = append(dirs, filepath.Join(s.OutputDir, d))
	}
	return append(dirs, s.ReportDir, s.LogDir)
}

// Provision creates the sample's directories with DirMode. Safe to repeat.
func Provision(s *domain.Sample, g *domain.GlobalConfig) error {
	for _, dir := range Directories(s, g) {
		if err := os.MkdirAll(dir, DirMode); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
		// MkdirAll is subject to the umask
		if err := os.Chmod(dir, DirMode); err != nil {
			return fmt.Errorf("chmod %s: %w", dir, err)
		}
	}
	return nil
}

// Artifact is an expected output file of a sample
type Artifact struct {
	Stage string
	Path  string
	Glob  bool
}

// Artifacts lists the files a completed sample should contain, in stage order
func Artifacts(s *domain.Sample) []Artifact {
	return []Artifact{
		{Stage: StageAlignment, Path: AlignmentBAM(s)},
		{Stage: StageAlignment, Path: AlignmentReport(s)},
		{Stage: StageDeduplicate, Path: DedupBAM(s)},
		{Stage: StageDeduplicate, Path: DedupReport(s)},
		{Stage: StageMethylation, Path: SplittingReport(s)},
		{Stage: StageMethylation, Path: CytosineReportGlob(s), Glob: true},
		{Stage: StageDepth, Path: SummaryReport(s, SummaryDepth)},
		{Stage: StageCoverage, Path: SummaryReport(s, SummaryCoverage)},
		{Stage: StageDistribution, Path: SummaryReport(s, SummaryDistribution)},
	}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
