package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/hochfrequenz/methyl-orchestrator/internal/domain"
	"github.com/hochfrequenz/methyl-orchestrator/internal/observer"
	"github.com/hochfrequenz/methyl-orchestrator/internal/pipeline"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	missingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	runningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))
)

// statusText renders a run or stage status with its color
func statusText(status string) string {
	switch status {
	case string(domain.RunCompleted), string(domain.StageSucceeded):
		return okStyle.Render(status)
	case string(domain.RunFailed):
		return missingStyle.Render(status)
	case string(domain.RunCancelled), string(domain.StageSkipped):
		return warnStyle.Render(status)
	case string(domain.RunRunning):
		return runningStyle.Render(status)
	default:
		return status
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "-"
	}
	return d.Round(time.Second).String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func printSummary(w io.Writer, run *domain.Run, s observer.Summary) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s %s  %s\n", titleStyle.Render("Run"), shortID(run.ID), statusText(string(run.Status)))
	fmt.Fprintf(w, "  samples completed: %d/%d\n", s.Samples, run.Samples)
	fmt.Fprintf(w, "  stages: %d succeeded, %d skipped, %d failed, %d cancelled\n",
		s.Succeeded, s.Skipped, s.Failed, s.Cancelled)
	fmt.Fprintf(w, "  wall time: %s\n", formatDuration(run.Duration()))
	if s.Slowest != "" {
		fmt.Fprintf(w, "  slowest stage: %s (%s)\n", s.Slowest, formatDuration(s.SlowestTime))
	}
	if run.Error != "" {
		fmt.Fprintf(w, "  %s %s\n", missingStyle.Render("error:"), run.Error)
	}
}

func printPlan(w io.Writer, steps []pipeline.Step) {
	sample := "-"
	for _, st := range steps {
		if st.Sample != "" && st.Sample != sample {
			sample = st.Sample
			fmt.Fprintln(w, titleStyle.Render("Sample "+sample))
		}
		marker := "  "
		line := st.Command
		if st.Skip {
			marker = warnStyle.Render("- ")
			line = dimStyle.Render(fmt.Sprintf("skipped: %s", st.Reason))
		}
		fmt.Fprintf(w, "%s%s\n    %s\n", marker, st.Title, line)
	}
}

func printRun(w io.Writer, run *domain.Run) {
	fmt.Fprintf(w, "%s %s\n", titleStyle.Render("Run"), run.ID)
	fmt.Fprintf(w, "  status:  %s\n", statusText(string(run.Status)))
	fmt.Fprintf(w, "  started: %s (%s)\n", run.StartedAt.Format("2006-01-02 15:04:05"), humanize.Time(run.StartedAt))
	fmt.Fprintf(w, "  samples: %d\n", run.Samples)
	if run.FinishedAt != nil {
		fmt.Fprintf(w, "  took:    %s\n", formatDuration(run.Duration()))
	}
	if run.ConfigPath != "" {
		fmt.Fprintf(w, "  config:  %s\n", run.ConfigPath)
	}
	if run.Error != "" {
		fmt.Fprintf(w, "  error:   %s\n", run.Error)
	}
	fmt.Fprintln(w)
}

func printStages(w io.Writer, stageRuns []*domain.StageRun) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SAMPLE\tSTAGE\tSTATUS\tEXIT\tLINES\tDURATION")
	for _, sr := range stageRuns {
		sample := sr.Sample
		if sample == "" {
			sample = "-"
		}
		duration := "-"
		if sr.FinishedAt != nil {
			duration = formatDuration(sr.FinishedAt.Sub(sr.StartedAt))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			sample, sr.Stage, sr.Status, sr.ExitCode, humanize.Comma(int64(sr.Lines)), duration)
	}
	tw.Flush()
}

func printHistory(w io.Writer, runs []*domain.Run) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tSTATUS\tSAMPLES\tDURATION\tERROR")
	for _, r := range runs {
		duration := "running"
		if r.FinishedAt != nil {
			duration = formatDuration(r.Duration())
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			shortID(r.ID), humanize.Time(r.StartedAt), r.Status, r.Samples, duration, truncate(r.Error, 60))
	}
	tw.Flush()
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
