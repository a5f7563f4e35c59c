// Package cancel turns interrupt and terminate signals into cancellation of
// the run context. Stage executions observe that context and terminate
// their process group, so a signal reaches whatever stage is active.
package cancel

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/hochfrequenz/methyl-orchestrator/internal/executor"
	"github.com/rs/zerolog"
)

// ExitSignalled is the process exit status after a delivered signal
const ExitSignalled = 1

// Controller owns the run's cancellation context. Create one per process
// run and pass Context() to every stage invocation.
type Controller struct {
	ctx    context.Context
	cancel context.CancelFunc
	sigCh  chan os.Signal
	done   chan struct{}
	exit   func(code int)
	logger zerolog.Logger

	mu       sync.Mutex
	received os.Signal
	stopOnce sync.Once
}

// New starts listening for SIGINT and SIGTERM. The first signal cancels the
// context; a second one exits the process immediately.
func New(parent context.Context, logger zerolog.Logger) *Controller {
	return newController(parent, logger, os.Exit, syscall.SIGINT, syscall.SIGTERM)
}

func newController(parent context.Context, logger zerolog.Logger, exit func(int), sigs ...os.Signal) *Controller {
	ctx, cancel := context.WithCancel(parent)
	c := &Controller{
		ctx:    ctx,
		cancel: cancel,
		sigCh:  make(chan os.Signal, 2),
		done:   make(chan struct{}),
		exit:   exit,
		logger: logger.With().Str("component", "cancel").Logger(),
	}
	signal.Notify(c.sigCh, sigs...)
	go c.listen()
	return c
}

func (c *Controller) listen() {
	for {
		select {
		case <-c.done:
			return
		case sig := <-c.sigCh:
			c.mu.Lock()
			first := c.received == nil
			if first {
				c.received = sig
			}
			c.mu.Unlock()

			if !first {
				c.logger.Error().Str("signal", sig.String()).Msg("second signal, exiting immediately")
				c.exit(ExitSignalled)
				return
			}
			c.logger.Warn().Str("signal", sig.String()).Msg("received signal to terminate, stopping active stage")
			c.cancel()
		}
	}
}

// Context is cancelled when a signal arrives or Stop is called
func (c *Controller) Context() context.Context {
	return c.ctx
}

// Signaled returns the first signal received, or nil
func (c *Controller) Signaled() os.Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.received
}

// Stop releases the signal handlers and cancels the context
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		signal.Stop(c.sigCh)
		close(c.done)
	})
	c.cancel()
}

// ExitCode maps the outcome of a run to the process exit status: 0 on
// success, 1 after a delivered signal, the failing stage's exit code for
// execution errors and 1 for anything else.
func (c *Controller) ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if c.Signaled() != nil || errors.Is(err, executor.ErrCancelled) {
		return ExitSignalled
	}
	var execErr *executor.ExecError
	if errors.As(err, &execErr) && execErr.ExitCode > 0 {
		return execErr.ExitCode
	}
	return 1
}
