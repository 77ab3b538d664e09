package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"adamantium/internal/processor"
)

type SummaryRow struct {
	Label string
	Value string
}

// SummaryRows lays out the counts of a finished run.
func SummaryRows(s processor.Summary, dryRun bool) []SummaryRow {
	rows := []SummaryRow{{Label: "Files", Value: fmt.Sprintf("%d", s.Total)}}
	if dryRun {
		rows = append(rows, SummaryRow{Label: "Reported", Value: fmt.Sprintf("%d", s.Reported)})
	} else {
		rows = append(rows,
			SummaryRow{Label: "Cleaned", Value: fmt.Sprintf("%d", s.Cleaned)},
			SummaryRow{Label: "Already clean", Value: fmt.Sprintf("%d", s.AlreadyClean)},
		)
	}
	rows = append(rows,
		SummaryRow{Label: "Unsupported", Value: fmt.Sprintf("%d", s.Unsupported)},
		SummaryRow{Label: "Failed", Value: fmt.Sprintf("%d", s.Failed)},
		SummaryRow{Label: "Metadata fields", Value: fmt.Sprintf("%d", s.Fields)},
	)
	if !dryRun {
		rows = append(rows, SummaryRow{Label: "Bytes saved", Value: FormatBytes(s.BytesSaved)})
	}
	return rows
}

func RenderSummary(rows []SummaryRow) string {
	labelWidth := 0
	valueWidth := 0
	for _, row := range rows {
		if len(row.Label) > labelWidth {
			labelWidth = len(row.Label)
		}
		if len(row.Value) > valueWidth {
			valueWidth = len(row.Value)
		}
	}

	hline := strings.Repeat("-", labelWidth+valueWidth+3)
	lines := []string{hline}

	for _, row := range rows {
		label := padRight(row.Label, labelWidth)
		value := padRight(row.Value, valueWidth)
		line := fmt.Sprintf("%s | %s", labelStyle.Render(label), valueStyle.Render(value))
		lines = append(lines, line)
	}

	lines = append(lines, hline)
	return strings.Join(lines, "\n")
}

// OutcomeLabel renders an outcome in its status color.
func OutcomeLabel(o processor.Outcome) string {
	style := okStyle
	switch o {
	case processor.OutcomeUnsupported:
		style = warnStyle
	case processor.OutcomeFailed:
		style = failStyle
	case processor.OutcomeAlreadyClean, processor.OutcomeReported:
		style = dimStyle
	}
	return style.Render(o.String())
}

// FormatBytes prints n with a binary unit. Negative values mean the file
// grew.
func FormatBytes(n int64) string {
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%s%d B", sign, n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%s%.1f %ciB", sign, float64(n)/float64(div), "KMGTPE"[exp])
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

var (
	valueStyle = lipgloss.NewStyle().Foreground(ColorInk).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(ColorSuccess)
	warnStyle  = lipgloss.NewStyle().Foreground(ColorWarn)
	failStyle  = lipgloss.NewStyle().Foreground(ColorFail)
)
