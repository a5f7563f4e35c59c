package executor

import (
	"errors"
	"fmt"
)

// ErrCancelled is returned when a stage is terminated because the run was cancelled
var ErrCancelled = errors.New("execution cancelled")

// ExitCodeNotStarted is reported when the program could not be started at all
const ExitCodeNotStarted = 127

// ExitCodeTerminated is reported for a cancelled stage whose process group
// did not exit within the kill grace period (128+SIGTERM)
const ExitCodeTerminated = 143

// ExecError reports a stage whose command did not exit cleanly
type ExecError struct {
	Command  string
	ExitCode int
	LogPath  string
	Err      error // set when the process could not be started
}

func (e *ExecError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("command %q could not be started: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("command %q failed with exit code %d", e.Command, e.ExitCode)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}
