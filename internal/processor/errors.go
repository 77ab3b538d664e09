package processor

import (
	"errors"
	"fmt"
)

// ErrNoPaths is returned by Run when it is given nothing to do.
var ErrNoPaths = errors.New("no paths given")

// ErrNoReadablePaths is returned by Run when not one of its arguments
// could be stat'ed. The per-path failures are still in the results.
var ErrNoReadablePaths = errors.New("none of the given paths could be read")

type ErrorKind int

const (
	ErrRead ErrorKind = iota
	ErrParse
	ErrVerification
	ErrWrite
	ErrCanceled
)

func (k ErrorKind) String() string {
	switch k {
	case ErrRead:
		return "read error"
	case ErrParse:
		return "parse error"
	case ErrVerification:
		return "verification error"
	case ErrWrite:
		return "write error"
	default:
		return "canceled"
	}
}

// FileError is the failure of a single path. It never aborts the run.
type FileError struct {
	Kind ErrorKind
	Path string
	Err  error
}

func (e *FileError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Path, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Path, e.Kind, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

func (e *FileError) reason() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// KindOf returns the kind of a FileError anywhere in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var fe *FileError
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}
