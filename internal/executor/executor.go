// Package executor runs pipeline stages as supervised child process groups
// and records their combined output in per-invocation log files.
package executor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/hochfrequenz/methyl-orchestrator/internal/command"
	"github.com/rs/zerolog"
)

// DefaultKillGrace bounds how long a cancelled stage is waited for
const DefaultKillGrace = 5 * time.Second

// Config configures the stage executor
type Config struct {
	Console   io.Writer        // receives mirrored output; nil disables mirroring
	Env       []string         // extra KEY=VALUE pairs on top of the inherited environment
	KillGrace time.Duration    // wait after SIGTERM before giving up on the group
	Now       func() time.Time // clock, for tests
	Logger    zerolog.Logger
}

// Executor runs one command at a time in its own process group
type Executor struct {
	config Config
	logger zerolog.Logger
	pipe   func() (*os.File, *os.File, error)
}

// Result describes a finished invocation
type Result struct {
	LogPath    string
	ExitCode   int
	Lines      int // output lines recorded after the header
	PID        int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns the wall time of the invocation
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// New creates a stage executor
func New(config Config) *Executor {
	if config.KillGrace <= 0 {
		config.KillGrace = DefaultKillGrace
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Executor{
		config: config,
		logger: config.Logger.With().Str("component", "executor").Logger(),
		pipe:   os.Pipe,
	}
}

// Execute runs cmd, writing its timestamped combined output to a new log
// file in logDir and to the console. It blocks until the process exits or
// ctx is cancelled. A non-zero exit yields an *ExecError; cancellation
// terminates the process group and yields an error wrapping ErrCancelled.
// The log file is complete and closed when Execute returns.
func (e *Executor) Execute(ctx context.Context, cmd command.Command, logDir string) (*Result, error) {
	argv := cmd.Argv()
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	cmdline := cmd.String()

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("creating log directory %s: %w", logDir, err)
	}

	start := e.config.Now()
	logFile, err := createLogFile(logDir, start, cmd.ProgramName())
	if err != nil {
		return nil, fmt.Errorf("creating log file: %w", err)
	}
	defer logFile.Close()

	log := &stageLog{file: logFile, console: e.config.Console, now: e.config.Now}
	log.header(start, cmdline)

	res := &Result{LogPath: logFile.Name(), StartedAt: start}

	if err := ctx.Err(); err != nil {
		log.footer("Cancelled before start")
		res.FinishedAt = e.config.Now()
		return res, fmt.Errorf("%w: %s", ErrCancelled, cmdline)
	}

	// stdout and stderr share one pipe so lines keep their arrival order
	pr, pw, err := e.pipe()
	if err != nil {
		res.ExitCode = ExitCodeNotStarted
		res.FinishedAt = e.config.Now()
		log.footer(fmt.Sprintf("Command could not be started: creating output pipe: %v", err))
		return res, &ExecError{Command: cmdline, ExitCode: res.ExitCode, LogPath: res.LogPath, Err: err}
	}
	defer pr.Close()

	c := exec.Command(argv[0], argv[1:]...)
	c.Stdout = pw
	c.Stderr = pw
	c.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")
	c.Env = append(c.Env, e.config.Env...)
	startInGroup(c)

	e.logger.Debug().Str("command", cmdline).Str("log", res.LogPath).Msg("starting stage")
	if err := c.Start(); err != nil {
		pw.Close()
		res.ExitCode = ExitCodeNotStarted
		res.FinishedAt = e.config.Now()
		log.footer(fmt.Sprintf("Command could not be started: %v", err))
		return res, &ExecError{Command: cmdline, ExitCode: res.ExitCode, LogPath: res.LogPath, Err: err}
	}
	// the child owns the write end now; EOF arrives once every holder exits
	pw.Close()
	res.PID = c.Process.Pid

	streamed := make(chan int, 1)
	go func() {
		streamed <- log.stream(pr)
	}()

	waited := make(chan error, 1)
	lines := make(chan int, 1)
	go func() {
		n := <-streamed
		lines <- n
		waited <- c.Wait()
	}()

	var waitErr error
	select {
	case waitErr = <-waited:
		res.Lines = <-lines
	case <-ctx.Done():
		e.logger.Warn().Int("pgid", res.PID).Str("command", cmdline).Msg("run cancelled, terminating process group")
		if err := terminateGroup(res.PID); err != nil {
			e.logger.Error().Err(err).Int("pgid", res.PID).Msg("signalling process group failed")
		}
		res.ExitCode = ExitCodeTerminated
		select {
		case waitErr = <-waited:
			res.Lines = <-lines
			res.ExitCode = exitCode(waitErr)
		case <-time.After(e.config.KillGrace):
			e.logger.Warn().Int("pgid", res.PID).Dur("grace", e.config.KillGrace).
				Msg("process group still running after grace period")
			// unblocks the reader so the log can be finalized
			pr.Close()
			res.Lines = <-lines
		}
		res.FinishedAt = e.config.Now()
		log.footer(fmt.Sprintf("Cancelled, sent SIGTERM to process group %d", res.PID))
		return res, fmt.Errorf("%w: %s", ErrCancelled, cmdline)
	}

	res.ExitCode = exitCode(waitErr)
	res.FinishedAt = e.config.Now()
	e.logger.Debug().Int("exit_code", res.ExitCode).Int("lines", res.Lines).
		Dur("duration", res.Duration()).Msg("stage finished")

	if res.ExitCode != 0 {
		log.footer(fmt.Sprintf("Command '%s' failed with return code %d", cmdline, res.ExitCode))
		return res, &ExecError{Command: cmdline, ExitCode: res.ExitCode, LogPath: res.LogPath}
	}
	return res, nil
}
