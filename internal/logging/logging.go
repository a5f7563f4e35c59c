// Package logging configures the diagnostic logger. Stage output never goes
// through here; it is written by the executor to per-stage log files.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	globallog "github.com/rs/zerolog/log"
)

// ConfigureGlobalLogger sets up the zerolog global logger. With an empty
// logFilePath it writes human readable lines to stderr at info level, or
// debug when verbose. With a path it appends JSON at debug level and the
// returned closer releases the file.
func ConfigureGlobalLogger(isVerbose bool, logFilePath string) (io.Closer, error) {
	if logFilePath == "" {
		globallog.Logger = New(ConsoleWriter(os.Stderr), isVerbose)
		globallog.Debug().Msg("Configured console logging.")
		return nopCloser{}, nil
	}

	dir := filepath.Dir(logFilePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %q: %w", dir, err)
	}
	fileHandle, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %q: %w", logFilePath, err)
	}

	// the file gets every level regardless of verbosity
	globallog.Logger = New(fileHandle, true)
	globallog.Debug().Msgf("Configured file logging (JSON format) to: %s", logFilePath)
	return fileHandle, nil
}

// New builds a timestamped logger writing to w
func New(w io.Writer, verbose bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// ConsoleWriter formats log events as "TIME [LEVEL] message key=value".
func ConsoleWriter(out io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		NoColor:    true,
		FormatLevel: func(i any) string {
			if level, ok := i.(string); ok {
				return strings.ToUpper(fmt.Sprintf("[%s]", level))
			}
			return fmt.Sprintf("[%v]", i)
		},
		FormatMessage: func(i any) string {
			if msg, ok := i.(string); ok {
				return msg
			}
			return fmt.Sprintf("%v", i)
		},
	}
}

// Component returns the global logger tagged with a component name
func Component(name string) zerolog.Logger {
	return globallog.With().Str("component", name).Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
