package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Initialize(&buf)
	DisableColors()
	defer func() {
		EnableColors()
		Initialize(nil)
		SetLevel(LevelWarning)
	}()

	SetLevel(LevelWarning)
	Debugf("hidden %d", 1)
	Infof("hidden %d", 2)
	Warningf("shown %s", "warning")
	Errorf("shown %s", "error")

	got := buf.String()
	if strings.Contains(got, "hidden") {
		t.Fatalf("messages below the level were written: %q", got)
	}
	if !strings.Contains(got, "WARNING: ") || !strings.Contains(got, "shown warning") {
		t.Fatalf("missing warning: %q", got)
	}
	if !strings.Contains(got, "ERROR: ") {
		t.Fatalf("missing error: %q", got)
	}

	buf.Reset()
	SetLevel(LevelDebug)
	Debugf("now visible")
	if !strings.Contains(buf.String(), "DEBUG: ") {
		t.Fatalf("debug not written at debug level: %q", buf.String())
	}
}

func TestSetLevelIgnoresOutOfRange(t *testing.T) {
	SetLevel(LevelInfo)
	SetLevel(42)
	if LogLevel != LevelInfo {
		t.Fatalf("LogLevel = %d, want %d", LogLevel, LevelInfo)
	}
	SetLevel(LevelWarning)
}
