// Package observer tracks stage outcomes during a run and watches sample
// sheets for changes.
package observer

import (
	"sync"
	"time"

	"github.com/hochfrequenz/methyl-orchestrator/internal/domain"
)

// Observer collects stage outcomes for the end-of-run summary
type Observer struct {
	completions []completion
	samples     []string
	mu          sync.RWMutex
}

type completion struct {
	Sample   string
	Stage    string
	Status   domain.StageStatus
	Duration time.Duration
}

// Summary holds aggregated stage outcomes
type Summary struct {
	Succeeded    int
	Failed       int
	Skipped      int
	Cancelled    int
	Samples      int // samples that went through every stage
	TotalRuntime time.Duration
	Slowest      string // "sample/stage" of the longest stage
	SlowestTime  time.Duration
}

// New creates a new Observer
func New() *Observer {
	return &Observer{}
}

// StageStarted is a no-op; only outcomes are summarized
func (o *Observer) StageStarted(sample, stage string) {}

// StageFinished records a stage outcome
func (o *Observer) StageFinished(sample, stage string, status domain.StageStatus, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.completions = append(o.completions, completion{
		Sample:   sample,
		Stage:    stage,
		Status:   status,
		Duration: d,
	})
}

// SampleCompleted records a sample that went through every stage
func (o *Observer) SampleCompleted(sample string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.samples = append(o.samples, sample)
}

// Summary returns aggregated outcomes
func (o *Observer) Summary() Summary {
	o.mu.RLock()
	defer o.mu.RUnlock()

	s := Summary{Samples: len(o.samples)}

	for _, c := range o.completions {
		switch c.Status {
		case domain.StageSucceeded:
			s.Succeeded++
		case domain.StageFailed:
			s.Failed++
		case domain.StageSkipped:
			s.Skipped++
		case domain.StageCancelled:
			s.Cancelled++
		}
		s.TotalRuntime += c.Duration
		if c.Duration > s.SlowestTime {
			s.SlowestTime = c.Duration
			s.Slowest = c.Stage
			if c.Sample != "" {
				s.Slowest = c.Sample + "/" + c.Stage
			}
		}
	}
	return s
}
