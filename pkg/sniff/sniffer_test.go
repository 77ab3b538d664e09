package sniff

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDetectSignatures(t *testing.T) {
	riff := append([]byte("RIFF\x10\x00\x00\x00WEBP"), []byte("VP8 ")...)

	cases := []struct {
		name   string
		header []byte
		ext    string
		want   Kind
	}{
		{"jpeg", []byte{0xff, 0xd8, 0xff, 0xe0, 0, 0x10, 'J', 'F'}, ".bin", KindJPEG},
		{"png", []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}, "", KindPNG},
		{"tiff le", []byte{0x49, 0x49, 0x2a, 0x00, 8, 0, 0, 0}, "", KindTIFF},
		{"tiff be", []byte{0x4d, 0x4d, 0x00, 0x2a, 0, 0, 0, 8}, "", KindTIFF},
		{"webp", riff, "", KindWebP},
		{"id3", []byte("ID3\x03\x00\x00\x00\x00\x00\x00"), ".txt", KindMP3},
		{"flac", []byte("fLaC\x80\x00\x00\x22"), "", KindFLAC},
		{"mp4", []byte("\x00\x00\x00\x18ftypisom"), "", KindMP4},
		{"pdf", []byte("%PDF-1.7\n"), "", KindPDF},
		{"ole2", []byte{0xd0, 0xcf, 0x11, 0xe0, 0xa1, 0xb1, 0x1a, 0xe1}, "", KindOLE2},
		{"gzip", []byte{0x1f, 0x8b, 0x08, 0x00, 0, 0, 0, 0}, "", KindGzip},
		{"ar", []byte("!<arch>\nfoo"), "", KindAr},
		{"zstd", []byte{0x28, 0xb5, 0x2f, 0xfd, 0x00, 0x00}, "", KindZstd},
		{"zstd skippable", []byte{0x50, 0x2a, 0x4d, 0x18, 0, 0, 0, 0}, "", KindZstd},
		{"xz", []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00, 0x00}, "", KindXZ},
		{"rpm", []byte{0xed, 0xab, 0xee, 0xdb, 0x03, 0x00}, "", KindRPM},
		{"empty zip", []byte{0x50, 0x4b, 0x05, 0x06, 0, 0, 0, 0}, "", KindZIP},
		{"text", []byte("hello, world"), ".txt", KindUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Detect(tc.header, tc.ext)
			if got.Kind != tc.want {
				t.Fatalf("Detect(%q) = %v, want %v", tc.name, got.Kind, tc.want)
			}
		})
	}
}

func TestDetectIgnoresExtensionForStrongSignatures(t *testing.T) {
	png := []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}
	if got := Detect(png, ".jpg").Kind; got != KindPNG {
		t.Fatalf("expected png regardless of extension, got %v", got)
	}
}

func TestDetectWeakSignaturesNeedExtension(t *testing.T) {
	frame := []byte{0xff, 0xfb, 0x90, 0x64, 0x00, 0x00}
	if got := Detect(frame, ".mp3").Kind; got != KindMP3 {
		t.Fatalf("expected mp3 with .mp3 hint, got %v", got)
	}
	if got := Detect(frame, ".dat").Kind; got == KindMP3 {
		t.Fatalf("frame sync alone must not be treated as mp3")
	}

	junkPDF := append(bytes.Repeat([]byte{' '}, 16), []byte("%PDF-1.4\n")...)
	if got := Detect(junkPDF, ".pdf").Kind; got != KindPDF {
		t.Fatalf("expected pdf with .pdf hint, got %v", got)
	}
	if got := Detect(junkPDF, "").Kind; got == KindPDF {
		t.Fatalf("offset pdf marker must not match without hint")
	}
}

func TestDetectODF(t *testing.T) {
	mime := "application/vnd.oasis.opendocument.text"
	var buf bytes.Buffer
	buf.Write([]byte{0x50, 0x4b, 0x03, 0x04})
	buf.Write(make([]byte, 14))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(mime)))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(mime)))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(len("mimetype")))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(0))
	buf.WriteString("mimetype")
	buf.WriteString(mime)

	got := Detect(buf.Bytes(), ".odt")
	if got.Kind != KindODF {
		t.Fatalf("expected odf, got %v", got.Kind)
	}
	if got.MIME != mime {
		t.Fatalf("expected mime %q, got %q", mime, got.MIME)
	}
}

func ftypHeader(major string, compatible ...string) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, uint32(16+4*len(compatible)))
	buf.WriteString("ftyp")
	buf.WriteString(major)
	buf.Write([]byte{0, 0, 0, 0})
	for _, b := range compatible {
		buf.WriteString(b)
	}
	return buf.Bytes()
}

func TestDetectStillImageBrands(t *testing.T) {
	cases := []struct {
		name   string
		header []byte
		kind   Kind
		mime   string
	}{
		{"heic", ftypHeader("heic", "mif1", "heic"), KindUnknown, "image/heic"},
		{"avif", ftypHeader("avif", "avif", "mif1", "miaf"), KindUnknown, "image/avif"},
		{"cr3", ftypHeader("crx ", "crx ", "isom"), KindUnknown, "image/x-canon-cr3"},
		{"compatible only", ftypHeader("isom", "mif1"), KindUnknown, "image/heif"},
		{"movie", ftypHeader("isom", "isom", "iso2", "mp41"), KindMP4, "video/mp4"},
		{"quicktime", ftypHeader("qt  ", "qt  "), KindMP4, "video/mp4"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Detect(tc.header, ".mp4")
			if got.Kind != tc.kind {
				t.Fatalf("kind = %v, want %v", got.Kind, tc.kind)
			}
			if got.MIME != tc.mime {
				t.Fatalf("mime = %q, want %q", got.MIME, tc.mime)
			}
		})
	}
}

func TestDetectLabelsUnhandledFormats(t *testing.T) {
	gif := []byte("GIF89a\x01\x00\x01\x00")
	got := Detect(gif, ".gif")
	if got.Known() {
		t.Fatalf("gif has no handler, got %v", got.Kind)
	}
	if got.MIME != "image/gif" {
		t.Fatalf("expected image/gif label, got %q", got.MIME)
	}
}

func TestSniffFile(t *testing.T) {
	dir := t.TempDir()

	short := filepath.Join(dir, "short.jpg")
	if err := os.WriteFile(short, []byte{0xff, 0xd8}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := SniffFile(short); !errors.Is(err, ErrTooShort) {
		t.Fatalf("expected ErrTooShort, got %v", err)
	}

	if _, err := SniffFile(filepath.Join(dir, "missing.png")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}

	flac := filepath.Join(dir, "song")
	if err := os.WriteFile(flac, []byte("fLaC\x80\x00\x00\x22"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	res, err := SniffFile(flac)
	if err != nil {
		t.Fatalf("sniff: %v", err)
	}
	if res.Kind != KindFLAC {
		t.Fatalf("expected flac without extension, got %v", res.Kind)
	}
}
