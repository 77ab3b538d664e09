package notify

import (
	"fmt"
	"strings"

	"github.com/gen2brain/beeep"

	"adamantium/internal/processor"
)

// Notifier delivers a run summary to the desktop.
type Notifier interface {
	Notify(title, message string) error
}

// Desktop sends notifications through the platform notification service.
// On headless systems the call fails and the caller logs it.
type Desktop struct{}

func (Desktop) Notify(title, message string) error {
	return beeep.Notify(title, message, "")
}

// Message formats the counts a notification carries.
func Message(summary processor.Summary, dryRun bool) (string, string) {
	title := "Metadata cleaned"
	if dryRun {
		title = "Metadata report"
	}
	if summary.ExitCode() != 0 {
		title += " with problems"
	}

	var parts []string
	if dryRun {
		parts = append(parts, fmt.Sprintf("%d reported", summary.Reported))
	} else {
		parts = append(parts,
			fmt.Sprintf("%d cleaned", summary.Cleaned),
			fmt.Sprintf("%d already clean", summary.AlreadyClean),
		)
	}
	if summary.Unsupported > 0 {
		parts = append(parts, fmt.Sprintf("%d unsupported", summary.Unsupported))
	}
	if summary.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", summary.Failed))
	}
	return title, strings.Join(parts, ", ")
}

// Send formats summary and hands it to n.
func Send(n Notifier, summary processor.Summary, dryRun bool) error {
	title, message := Message(summary, dryRun)
	if err := n.Notify(title, message); err != nil {
		return fmt.Errorf("desktop notification: %w", err)
	}
	return nil
}
