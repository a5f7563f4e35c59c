package domain

import "time"

// Run represents a single invocation of the pipeline over a batch of samples
type Run struct {
	ID         string
	ConfigPath string
	Samples    int
	Status     RunStatus
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Duration returns how long the run took, or has been running so far
func (r *Run) Duration() time.Duration {
	if r.FinishedAt != nil {
		return r.FinishedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

// StageRun is the persisted record of one stage invocation.
// Sample is empty for run-level stages such as genome preparation.
type StageRun struct {
	ID         int64
	RunID      string
	Sample     string
	Stage      string
	Command    string
	LogPath    string
	Status     StageStatus
	ExitCode   int
	Lines      int
	StartedAt  time.Time
	FinishedAt *time.Time
}
