package cmd

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"adamantium/internal/processor"
	"adamantium/internal/tui"
	"adamantium/pkg/sniff"
)

// writeText prints one line per file and, in a dry run, the fields and
// insights found in it.
func writeText(w io.Writer, dryRun bool, results []processor.Result) {
	for i, res := range results {
		if dryRun && i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s %s%s\n",
			tui.OutcomeLabel(res.Outcome),
			fileStyle.Render(res.Display),
			dimStyle.Render(describe(res, dryRun)),
		)
		if res.Reason != "" {
			fmt.Fprintf(w, "  %s %s\n", bulletStyle.Render("-"), reasonStyle.Render(res.Reason))
		}
		if !dryRun || res.Outcome != processor.OutcomeReported {
			continue
		}

		fields := res.Report.Fields()
		if len(fields) == 0 {
			fmt.Fprintf(w, "  %s %s\n", bulletStyle.Render("-"), dimStyle.Render("no metadata"))
			continue
		}
		for _, field := range fields {
			line := field.String()
			if field.Required {
				line += " (required)"
			}
			fmt.Fprintf(w, "  %s %s\n", bulletStyle.Render("-"), valueStyle.Render(line))
		}
		for _, in := range res.Insights {
			fmt.Fprintf(w, "  %s %s\n", insightStyle.Render("!"), categoryStyle.Render(in.Kind+":")+" "+valueStyle.Render(in.Message))
		}
	}
}

func describe(res processor.Result, dryRun bool) string {
	if res.Format == sniff.KindUnknown && res.Report.Len() == 0 {
		return ""
	}
	s := fmt.Sprintf(" (%s", res.Format)
	if n := res.Report.Len(); n > 0 {
		s += fmt.Sprintf(", %d fields", n)
	}
	if !dryRun && res.BytesSaved != 0 {
		s += ", " + tui.FormatBytes(res.BytesSaved) + " saved"
	}
	return s + ")"
}

var (
	fileStyle     = lipgloss.NewStyle().Bold(true).Foreground(tui.ColorAccent)
	categoryStyle = lipgloss.NewStyle().Foreground(tui.ColorAccentAlt)
	valueStyle    = lipgloss.NewStyle().Foreground(tui.ColorInk)
	reasonStyle   = lipgloss.NewStyle().Foreground(tui.ColorWarn)
	insightStyle  = lipgloss.NewStyle().Foreground(tui.ColorWarn).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(tui.ColorDim)
	bulletStyle   = lipgloss.NewStyle().Foreground(tui.ColorDim)
)
