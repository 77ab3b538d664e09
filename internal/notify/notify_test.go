package notify

import (
	"errors"
	"strings"
	"testing"

	"adamantium/internal/processor"
)

type recorder struct {
	title, message string
	err            error
}

func (r *recorder) Notify(title, message string) error {
	r.title, r.message = title, message
	return r.err
}

func TestMessage(t *testing.T) {
	title, msg := Message(processor.Summary{Total: 4, Cleaned: 2, AlreadyClean: 1, Failed: 1}, false)
	if title != "Metadata cleaned with problems" {
		t.Fatalf("title = %q", title)
	}
	if msg != "2 cleaned, 1 already clean, 1 failed" {
		t.Fatalf("message = %q", msg)
	}

	title, msg = Message(processor.Summary{Total: 3, Reported: 3}, true)
	if title != "Metadata report" || msg != "3 reported" {
		t.Fatalf("dry run notification = %q / %q", title, msg)
	}
}

func TestSendWrapsErrors(t *testing.T) {
	r := &recorder{err: errors.New("no notification daemon")}
	err := Send(r, processor.Summary{Cleaned: 1}, false)
	if err == nil || !strings.Contains(err.Error(), "no notification daemon") {
		t.Fatalf("err = %v", err)
	}
	if r.message != "1 cleaned, 0 already clean" {
		t.Fatalf("message = %q", r.message)
	}
}
