package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
)

func isolateConfig(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
}

func writeGzip(t *testing.T, dir string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Name = "holiday-plans.txt"
	zw.Comment = "written on the office laptop"
	zw.ModTime = time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	if _, err := zw.Write([]byte(strings.Repeat("nothing to see here\n", 50))); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	path := filepath.Join(dir, "notes.txt.gz")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := ExecuteArgs(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

type failingNotifier struct{ calls int }

func (n *failingNotifier) Notify(title, message string) error {
	n.calls++
	return errors.New("no notification service")
}

func TestCleanThenAlreadyClean(t *testing.T) {
	isolateConfig(t)
	path := writeGzip(t, t.TempDir())

	code, out, stderr := execute(t, "--no-color", path)
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(out, "cleaned") || !strings.Contains(out, "Bytes saved") {
		t.Fatalf("unexpected output:\n%s", out)
	}

	code, out, _ = execute(t, "--no-color", path)
	if code != exitOK || !strings.Contains(out, "already-clean") {
		t.Fatalf("second run: code %d, output:\n%s", code, out)
	}
}

func TestDryRunJSON(t *testing.T) {
	isolateConfig(t)
	path := writeGzip(t, t.TempDir())
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	code, out, stderr := execute(t, "--dry-run", "--json", path)
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr)
	}

	var report struct {
		Version int  `json:"version"`
		DryRun  bool `json:"dry_run"`
		Files   []struct {
			Path    string `json:"path"`
			Format  string `json:"format"`
			Outcome string `json:"outcome"`
			Fields  []struct {
				Namespace string `json:"namespace"`
				Name      string `json:"name"`
				Value     string `json:"value"`
			} `json:"fields"`
		} `json:"files"`
		Summary struct {
			Reported int `json:"reported"`
			ExitCode int `json:"exit_code"`
		} `json:"summary"`
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out)
	}
	if report.Version != 1 || !report.DryRun || len(report.Files) != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	file := report.Files[0]
	if file.Format != "gzip" || file.Outcome != "reported" {
		t.Fatalf("unexpected file entry %+v", file)
	}
	found := false
	for _, f := range file.Fields {
		if f.Namespace == "Gzip" && f.Name == "Name" && f.Value == "holiday-plans.txt" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Gzip:Name missing from %+v", file.Fields)
	}
	if report.Summary.Reported != 1 || report.Summary.ExitCode != 0 {
		t.Fatalf("unexpected summary %+v", report.Summary)
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatal("dry run modified the file")
	}
}

func TestDryRunTextListsFields(t *testing.T) {
	isolateConfig(t)
	path := writeGzip(t, t.TempDir())

	code, out, _ := execute(t, "--dry-run", "--no-color", path)
	if code != exitOK {
		t.Fatalf("exit code = %d", code)
	}
	for _, want := range []string{"reported", "Gzip:Name = holiday-plans.txt", "Gzip:Comment", "Reported"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPartialFailureExitCode(t *testing.T) {
	isolateConfig(t)
	dir := t.TempDir()
	good := writeGzip(t, dir)
	text := filepath.Join(dir, "plain.txt")
	if err := os.WriteFile(text, []byte("just some words in a file"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	missing := filepath.Join(dir, "missing.jpg")

	code, out, stderr := execute(t, "--no-color", good, text, missing)
	if code != exitPartial {
		t.Fatalf("exit code = %d, want %d", code, exitPartial)
	}
	if !strings.Contains(out, "unsupported") || !strings.Contains(out, "failed") || !strings.Contains(out, "cleaned") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if !strings.Contains(stderr, "missing.jpg") {
		t.Fatalf("failure not logged:\n%s", stderr)
	}
}

func TestUsageErrors(t *testing.T) {
	isolateConfig(t)

	if code, _, _ := execute(t); code != exitUsage {
		t.Fatalf("no arguments: exit code = %d", code)
	}
	if code, _, _ := execute(t, "--bogus", "x"); code != exitUsage {
		t.Fatalf("unknown flag: exit code = %d", code)
	}
	missing := filepath.Join(t.TempDir(), "none.yaml")
	if code, _, stderr := execute(t, "--config", missing, "x"); code != exitUsage || !strings.Contains(stderr, "config") {
		t.Fatalf("missing config: exit code = %d, stderr %s", code, stderr)
	}
	if code, _, _ := execute(t, "--help"); code != exitOK {
		t.Fatalf("help: exit code = %d", code)
	}
}

func TestNoReadablePathsIsUsageError(t *testing.T) {
	isolateConfig(t)
	dir := t.TempDir()

	code, _, stderr := execute(t, "--no-color", filepath.Join(dir, "gone.jpg"), filepath.Join(dir, "also-gone.pdf"))
	if code != exitUsage {
		t.Fatalf("exit code = %d, want %d", code, exitUsage)
	}
	if !strings.Contains(stderr, "gone.jpg") || !strings.Contains(stderr, "could be read") {
		t.Fatalf("unexpected stderr:\n%s", stderr)
	}
}

func TestNotifyFailureOnlyWarns(t *testing.T) {
	isolateConfig(t)
	path := writeGzip(t, t.TempDir())

	stub := &failingNotifier{}
	saved := notifier
	notifier = stub
	defer func() { notifier = saved }()

	code, _, stderr := execute(t, "--notify", "--no-color", path)
	if code != exitOK {
		t.Fatalf("exit code = %d", code)
	}
	if stub.calls != 1 {
		t.Fatalf("notifier called %d times", stub.calls)
	}
	if !strings.Contains(stderr, "WARNING") || !strings.Contains(stderr, "no notification service") {
		t.Fatalf("expected a warning, got:\n%s", stderr)
	}
}

func TestLogFile(t *testing.T) {
	isolateConfig(t)
	dir := t.TempDir()
	logPath := filepath.Join(dir, "run.log")

	code, _, stderr := execute(t, "--log-file", logPath, writeGzip(t, dir), filepath.Join(dir, "gone.png"))
	if code != exitPartial {
		t.Fatalf("exit code = %d", code)
	}
	if strings.Contains(stderr, "gone.png") {
		t.Fatalf("log written to stderr despite --log-file:\n%s", stderr)
	}
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "gone.png") {
		t.Fatalf("log file missing failure:\n%s", data)
	}
}
