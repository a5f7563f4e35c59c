// Package batch triggers unattended pipeline runs on a cron schedule.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// RunFunc starts one pipeline run. reason describes the trigger.
type RunFunc func(ctx context.Context, reason string) error

// Scheduler fires a run whenever its cron schedule comes due
type Scheduler struct {
	expr     string
	schedule cron.Schedule
	gate     *Gate
	logger   zerolog.Logger
	now      func() time.Time
	interval time.Duration

	mu      sync.RWMutex
	lastRun time.Time
}

// NewScheduler parses expr and shares gate with any other trigger source
func NewScheduler(expr string, gate *Gate, logger zerolog.Logger) (*Scheduler, error) {
	sched, err := ParseCron(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	if gate == nil {
		gate = &Gate{}
	}
	s := &Scheduler{
		expr:     expr,
		schedule: sched,
		gate:     gate,
		logger:   logger.With().Str("component", "batch").Logger(),
		now:      time.Now,
		interval: 30 * time.Second,
	}
	s.lastRun = s.now()
	return s, nil
}

// ParseCron parses a standard five-field cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(expr)
}

// Expr returns the cron expression
func (s *Scheduler) Expr() string {
	return s.expr
}

// NextRun returns when the schedule next comes due
func (s *Scheduler) NextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schedule.Next(s.lastRun)
}

// ShouldRun returns true if the schedule is due and no run is in progress
func (s *Scheduler) ShouldRun() bool {
	if s.gate.Running() {
		return false
	}
	return !s.now().Before(s.NextRun())
}

// MarkComplete records a finished run so the next slot is computed from now
func (s *Scheduler) MarkComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = s.now()
}

// Tick runs fn once if the schedule is due. It reports whether a run started.
func (s *Scheduler) Tick(ctx context.Context, fn RunFunc) bool {
	if !s.ShouldRun() || !s.gate.TryStart() {
		return false
	}
	defer s.gate.Done()
	defer s.MarkComplete()

	s.logger.Info().Str("cron", s.expr).Msg("scheduled run starting")
	if err := fn(ctx, "cron "+s.expr); err != nil {
		s.logger.Error().Err(err).Msg("scheduled run failed")
	}
	return true
}

// Run checks the schedule until ctx is cancelled. Runs execute on the calling
// goroutine, so a slow run delays the next check instead of overlapping it.
func (s *Scheduler) Run(ctx context.Context, fn RunFunc) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Time("next", s.NextRun()).Msg("scheduler started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if s.Tick(ctx, fn) {
				s.logger.Info().Time("next", s.NextRun()).Msg("next scheduled run")
			}
		}
	}
}
