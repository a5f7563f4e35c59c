package domain

// GlobalConfig holds the immutable per-run settings shared by all samples.
// GenomeFolder is absolute and exists once resolved.
type GlobalConfig struct {
	GenomeFolder      string
	UtilsFolder       string
	SkipFilter        bool
	ParallelNum       int
	ParallelAlignment int
	ScriptInterpreter string
}

// FilterEnabled reports whether the read filtering stage runs
func (g *GlobalConfig) FilterEnabled() bool {
	return !g.SkipFilter
}

// Sample is one paired-end sequencing dataset and its working directories
type Sample struct {
	Name      string
	Group     string
	Input1    string
	Input2    string
	Prefix    string // first dot-delimited token of basename(Input1)
	OutputDir string
	LogDir    string
	ReportDir string
}

// String returns the sample name
func (s *Sample) String() string {
	return s.Name
}
