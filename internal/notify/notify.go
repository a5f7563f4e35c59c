// Package notify delivers run outcome notifications.
package notify

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/hochfrequenz/methyl-orchestrator/internal/domain"
)

// NotificationType represents the severity of a notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	RunID   string // Optional run reference
	Sample  string // Optional sample the event concerns
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// ForRun summarizes a finished run. For a failed or cancelled run the
// stage that ended it is taken from stageRuns and named in the title.
func ForRun(run *domain.Run, stageRuns []*domain.StageRun) Notification {
	n := Notification{RunID: run.ID}
	elapsed := strings.TrimSpace(humanize.RelTime(run.StartedAt, run.StartedAt.Add(run.Duration()), "", ""))

	switch run.Status {
	case domain.RunCompleted:
		n.Type = NotifySuccess
		n.Title = "Methylation run completed"
		n.Message = fmt.Sprintf("%d sample(s) processed in %s", run.Samples, elapsed)
	case domain.RunCancelled:
		n.Type = NotifyWarning
		n.Title = "Methylation run cancelled"
		n.Message = fmt.Sprintf("Cancelled after %s", elapsed)
	default:
		n.Type = NotifyError
		n.Title = "Methylation run failed"
		n.Message = run.Error
		if n.Message == "" {
			n.Message = fmt.Sprintf("Run ended with status %s", run.Status)
		}
	}

	if run.Status != domain.RunCompleted {
		if sr := lastUnfinished(stageRuns); sr != nil {
			n.Title += " at " + sr.Stage
			n.Sample = sr.Sample
		}
	}
	return n
}

// lastUnfinished returns the last stage that failed or was cancelled
func lastUnfinished(stageRuns []*domain.StageRun) *domain.StageRun {
	for i := len(stageRuns) - 1; i >= 0; i-- {
		switch stageRuns[i].Status {
		case domain.StageFailed, domain.StageCancelled:
			return stageRuns[i]
		}
	}
	return nil
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send delivers to every notifier and joins their errors
func (m *MultiNotifier) Send(n Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }
