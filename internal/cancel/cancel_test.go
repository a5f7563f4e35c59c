package cancel

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/hochfrequenz/methyl-orchestrator/internal/executor"
	"github.com/rs/zerolog"
)

func TestController_SignalCancelsContext(t *testing.T) {
	exited := make(chan int, 1)
	c := newController(context.Background(), zerolog.Nop(), func(code int) { exited <- code }, syscall.SIGUSR1)
	defer c.Stop()

	if c.Signaled() != nil {
		t.Fatal("no signal should be recorded yet")
	}

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatal(err)
	}

	select {
	case <-c.Context().Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context not cancelled after signal")
	}
	if c.Signaled() != syscall.SIGUSR1 {
		t.Errorf("Signaled() = %v, want SIGUSR1", c.Signaled())
	}

	select {
	case code := <-exited:
		t.Fatalf("first signal must not exit the process (exit %d)", code)
	default:
	}
}

func TestController_SecondSignalExits(t *testing.T) {
	exited := make(chan int, 1)
	c := newController(context.Background(), zerolog.Nop(), func(code int) { exited <- code }, syscall.SIGUSR2)
	defer c.Stop()

	syscall.Kill(syscall.Getpid(), syscall.SIGUSR2)
	<-c.Context().Done()
	syscall.Kill(syscall.Getpid(), syscall.SIGUSR2)

	select {
	case code := <-exited:
		if code != ExitSignalled {
			t.Errorf("exit code = %d, want %d", code, ExitSignalled)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("second signal did not exit")
	}
}

func TestController_StopCancels(t *testing.T) {
	c := newController(context.Background(), zerolog.Nop(), func(int) {}, syscall.SIGUSR1)
	c.Stop()
	c.Stop() // idempotent

	select {
	case <-c.Context().Done():
	default:
		t.Error("Stop should cancel the context")
	}
	if c.Signaled() != nil {
		t.Error("Stop is not a signal")
	}
}

func TestController_ExitCode(t *testing.T) {
	c := newController(context.Background(), zerolog.Nop(), func(int) {}, syscall.SIGUSR1)
	defer c.Stop()

	stageErr := fmt.Errorf("sample S1: %w", &executor.ExecError{Command: "bismark", ExitCode: 2})

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, 0},
		{"stage failure", stageErr, 2},
		{"cancelled", fmt.Errorf("stage: %w", executor.ErrCancelled), ExitSignalled},
		{"config error", errors.New("genome folder missing"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
