package cmd

import (
	"encoding/json"
	"io"

	"adamantium/internal/formats"
	"adamantium/internal/processor"
	"adamantium/pkg/sniff"
)

const reportVersion = 1

type jsonReport struct {
	Version int         `json:"version"`
	DryRun  bool        `json:"dry_run"`
	Files   []jsonFile  `json:"files"`
	Summary jsonSummary `json:"summary"`
}

type jsonFile struct {
	Path       string          `json:"path"`
	Format     string          `json:"format,omitempty"`
	MIME       string          `json:"mime,omitempty"`
	Family     string          `json:"family,omitempty"`
	Outcome    string          `json:"outcome"`
	State      string          `json:"state"`
	Reason     string          `json:"reason,omitempty"`
	ErrorKind  string          `json:"error_kind,omitempty"`
	Fields     []formats.Field `json:"fields"`
	Insights   []jsonInsight   `json:"insights,omitempty"`
	BytesSaved int64           `json:"bytes_saved"`
}

type jsonInsight struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type jsonSummary struct {
	Total        int   `json:"total"`
	Cleaned      int   `json:"cleaned"`
	AlreadyClean int   `json:"already_clean"`
	Reported     int   `json:"reported"`
	Unsupported  int   `json:"unsupported"`
	Failed       int   `json:"failed"`
	Fields       int   `json:"fields"`
	BytesSaved   int64 `json:"bytes_saved"`
	ExitCode     int   `json:"exit_code"`
}

func buildJSONReport(dryRun bool, summary processor.Summary, results []processor.Result) jsonReport {
	report := jsonReport{
		Version: reportVersion,
		DryRun:  dryRun,
		Files:   make([]jsonFile, 0, len(results)),
		Summary: jsonSummary{
			Total:        summary.Total,
			Cleaned:      summary.Cleaned,
			AlreadyClean: summary.AlreadyClean,
			Reported:     summary.Reported,
			Unsupported:  summary.Unsupported,
			Failed:       summary.Failed,
			Fields:       summary.Fields,
			BytesSaved:   summary.BytesSaved,
			ExitCode:     summary.ExitCode(),
		},
	}

	for _, res := range results {
		file := jsonFile{
			Path:       res.Path,
			MIME:       res.MIME,
			Outcome:    res.Outcome.String(),
			State:      res.State.String(),
			Reason:     res.Reason,
			Fields:     res.Report.Fields(),
			BytesSaved: res.BytesSaved,
		}
		if res.Format != sniff.KindUnknown {
			file.Format = res.Format.String()
			file.Family = res.Family.String()
		}
		if kind, ok := processor.KindOf(res.Err); ok {
			file.ErrorKind = kind.String()
		}
		for _, in := range res.Insights {
			file.Insights = append(file.Insights, jsonInsight{Kind: in.Kind, Message: in.Message})
		}
		report.Files = append(report.Files, file)
	}
	return report
}

func writeJSON(w io.Writer, dryRun bool, summary processor.Summary, results []processor.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(buildJSONReport(dryRun, summary, results))
}
