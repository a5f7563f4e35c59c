package batch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseCron(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 22 * * *", false},   // 10 PM daily
		{"0 12 * * 1-5", false}, // noon weekdays
		{"*/5 * * * *", false},  // every 5 minutes
		{"invalid", true},
		{"0 0 0 * * *", true}, // seconds field not accepted
	}

	for _, tt := range tests {
		_, err := ParseCron(tt.expr)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCron(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
	}
}

// newTestScheduler returns a scheduler whose clock is controlled by *now
func newTestScheduler(t *testing.T, expr string, now *time.Time) *Scheduler {
	t.Helper()
	s, err := NewScheduler(expr, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return *now }
	s.lastRun = *now
	return s
}

func TestScheduler_NextRun(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local)
	s := newTestScheduler(t, "0 22 * * *", &now)

	want := time.Date(2024, 3, 1, 22, 0, 0, 0, time.Local)
	if got := s.NextRun(); !got.Equal(want) {
		t.Errorf("NextRun() = %v, want %v", got, want)
	}
}

func TestScheduler_ShouldRun(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 30, 0, time.Local)
	s := newTestScheduler(t, "* * * * *", &now)

	if s.ShouldRun() {
		t.Error("should not run before the first slot")
	}

	now = now.Add(time.Minute)
	if !s.ShouldRun() {
		t.Error("should run once the slot has passed")
	}

	s.gate.TryStart()
	if s.ShouldRun() {
		t.Error("should not run while another run holds the gate")
	}
	s.gate.Done()

	s.MarkComplete()
	if s.ShouldRun() {
		t.Error("should not run right after completing")
	}
}

func TestScheduler_Tick(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 30, 0, time.Local)
	s := newTestScheduler(t, "* * * * *", &now)

	calls := 0
	fn := func(ctx context.Context, reason string) error {
		calls++
		if reason != "cron * * * * *" {
			t.Errorf("reason = %q", reason)
		}
		return errors.New("stage failed")
	}

	if s.Tick(context.Background(), fn) {
		t.Error("Tick started a run before it was due")
	}

	now = now.Add(time.Minute)
	if !s.Tick(context.Background(), fn) {
		t.Error("Tick did not start a due run")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if s.gate.Running() {
		t.Error("gate still held after the run")
	}

	// a failed run still counts as complete
	if s.Tick(context.Background(), fn) {
		t.Error("Tick ran twice in the same slot")
	}
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	s, err := NewScheduler("0 22 * * *", nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	s.interval = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context, string) error { return nil })
	}()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestGate(t *testing.T) {
	var g Gate
	if !g.TryStart() {
		t.Fatal("first TryStart should succeed")
	}
	if g.TryStart() {
		t.Error("second TryStart should fail while running")
	}
	g.Done()
	if !g.TryStart() {
		t.Error("TryStart should succeed after Done")
	}
}
