package processor

import (
	"math"
	"strings"
	"testing"

	"adamantium/internal/formats"
	"adamantium/pkg/sniff"
)

func TestParseGPSCoordinate(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
		ok   bool
	}{
		{"[48/1 51/1 2994/100]", 48.858316, true},
		{"[2/1 17/1]", 2.283333, true},
		{"12.5", 12.5, true},
		{"[1/0 2/1 3/1]", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseGPSCoordinate(tt.raw)
		if ok != tt.ok {
			t.Fatalf("%q: ok = %v, want %v", tt.raw, ok, tt.ok)
		}
		if ok && math.Abs(got-tt.want) > 1e-5 {
			t.Fatalf("%q: got %f, want %f", tt.raw, got, tt.want)
		}
	}
}

func TestBuildInsights(t *testing.T) {
	rep := formats.NewReport(sniff.KindJPEG, []formats.Field{
		{Namespace: "EXIF", Name: "Make", Value: "Apple"},
		{Namespace: "EXIF", Name: "Model", Value: "iPhone 12"},
		{Namespace: "EXIF", Name: "GPSLatitudeRef", Value: "S"},
		{Namespace: "EXIF", Name: "GPSLatitude", Value: "[33/1 52/1 0/1]"},
		{Namespace: "EXIF", Name: "GPSLongitudeRef", Value: "E"},
		{Namespace: "EXIF", Name: "GPSLongitude", Value: "[151/1 12/1 0/1]"},
		{Namespace: "EXIF", Name: "DateTimeOriginal", Value: "2021:06:01 10:11:12"},
		{Namespace: "EXIF", Name: "BodySerialNumber", Value: "X123"},
		{Namespace: "PDF", Name: "Author", Value: "Jane Roe"},
		{Namespace: "XMP", Name: "creator", Value: "Jane Roe"},
	})

	got := make(map[string]string)
	for _, in := range buildInsights(rep) {
		if _, dup := got[in.Kind]; !dup {
			got[in.Kind] = in.Message
		}
	}

	checks := map[string]string{
		"Location":   "-33.86667, 151.20000",
		"Device":     "Apple iPhone 12 (smartphone)",
		"Timeline":   "2021-06-01 10:11:12",
		"Identifier": "serial",
		"Identity":   "Names: Jane Roe",
	}
	for kind, want := range checks {
		if !strings.Contains(got[kind], want) {
			t.Fatalf("%s insight = %q, want it to contain %q", kind, got[kind], want)
		}
	}
	if strings.Contains(got["Identity"], ",") {
		t.Fatalf("names not deduplicated: %q", got["Identity"])
	}
}

func TestBuildInsightsEmptyReport(t *testing.T) {
	if got := buildInsights(formats.NewReport(sniff.KindPNG, nil)); got != nil {
		t.Fatalf("expected no insights, got %v", got)
	}
}
