package processor

import (
	"adamantium/internal/formats"
	"adamantium/pkg/sniff"
)

type Mode int

const (
	ModeClean Mode = iota
	ModeDryRun
)

type Options struct {
	Mode        Mode
	Workers     int
	PreserveICC bool
	Insights    bool
	// Lookup selects the handler for a sniffed format. Nil means
	// formats.Lookup.
	Lookup func(sniff.Kind) (formats.Handler, bool)
}

// State is the last step a path reached.
type State int

const (
	StateSniffing State = iota
	StateExtracting
	StateDryRunReport
	StateStripping
	StateVerifying
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSniffing:
		return "sniffing"
	case StateExtracting:
		return "extracting"
	case StateDryRunReport:
		return "dry-run-report"
	case StateStripping:
		return "stripping"
	case StateVerifying:
		return "verifying"
	case StateDone:
		return "done"
	default:
		return "failed"
	}
}

type Outcome int

const (
	OutcomeCleaned Outcome = iota
	OutcomeAlreadyClean
	OutcomeReported
	OutcomeUnsupported
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCleaned:
		return "cleaned"
	case OutcomeAlreadyClean:
		return "already-clean"
	case OutcomeReported:
		return "reported"
	case OutcomeUnsupported:
		return "unsupported"
	default:
		return "failed"
	}
}

type Job struct {
	Path     string
	Display  string
	Explicit bool
	seq      int
}

type Result struct {
	Path       string
	Display    string
	Format     sniff.Kind
	MIME       string
	Family     formats.Family
	State      State
	Outcome    Outcome
	Reason     string
	Err        error
	Report     formats.Report
	Insights   []Insight
	BytesSaved int64

	seq int
}

// Fields is the number of metadata fields found before any stripping.
func (r Result) Fields() int {
	return r.Report.Len()
}

type Summary struct {
	Total        int
	Cleaned      int
	AlreadyClean int
	Reported     int
	Unsupported  int
	Failed       int
	Fields       int
	BytesSaved   int64
}

func (s *Summary) add(res Result) {
	s.Total++
	s.Fields += res.Fields()
	s.BytesSaved += res.BytesSaved
	switch res.Outcome {
	case OutcomeCleaned:
		s.Cleaned++
	case OutcomeAlreadyClean:
		s.AlreadyClean++
	case OutcomeReported:
		s.Reported++
	case OutcomeUnsupported:
		s.Unsupported++
	default:
		s.Failed++
	}
}

// ExitCode is 0 when every path was cleaned, already clean or reported,
// and 1 otherwise.
func (s Summary) ExitCode() int {
	if s.Unsupported > 0 || s.Failed > 0 {
		return 1
	}
	return 0
}

type Insight struct {
	Kind    string
	Message string
}

type ProgressUpdate struct {
	TotalDelta      int
	ProcessedDelta  int
	FailedDelta     int
	FieldDelta      int
	BytesSavedDelta int64
	Current         string
}
