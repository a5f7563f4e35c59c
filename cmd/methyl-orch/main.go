package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
	rootCmd    = &cobra.Command{
		Use:   "methyl-orch",
		Short: "Bisulfite sequencing pipeline orchestrator",
		Long: `methyl-orch runs the whole-genome bisulfite sequencing pipeline for a batch
of samples: SOAPnuke filtering, Bismark alignment, deduplication, methylation
extraction and the methylation summary scripts. Every stage logs into the
sample's log directory and the first failing stage stops the run.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// exitError carries the process exit status of a failed run
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// exitStatus maps a command error to the process exit status
func exitStatus(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	return 1
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(exitStatus(err))
}
