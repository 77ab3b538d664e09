package sniff

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"
)

// Kind identifies a container format the cleaner knows how to handle.
type Kind int

const (
	KindUnknown Kind = iota
	KindJPEG
	KindPNG
	KindWebP
	KindTIFF
	KindMP3
	KindFLAC
	KindMP4
	KindOOXML
	KindODF
	KindZIP
	KindOLE2
	KindPDF
	KindGzip
	KindAr
	KindZstd
	KindXZ
	KindRPM
)

func (k Kind) String() string {
	switch k {
	case KindJPEG:
		return "jpeg"
	case KindPNG:
		return "png"
	case KindWebP:
		return "webp"
	case KindTIFF:
		return "tiff"
	case KindMP3:
		return "mp3"
	case KindFLAC:
		return "flac"
	case KindMP4:
		return "mp4"
	case KindOOXML:
		return "ooxml"
	case KindODF:
		return "odf"
	case KindZIP:
		return "zip"
	case KindOLE2:
		return "ole2"
	case KindPDF:
		return "pdf"
	case KindGzip:
		return "gzip"
	case KindAr:
		return "ar"
	case KindZstd:
		return "zstd"
	case KindXZ:
		return "xz"
	case KindRPM:
		return "rpm"
	default:
		return "unknown"
	}
}

// MaxHeader bounds how much of a file is read while sniffing.
const MaxHeader = 64 << 10

// MinHeader is the shortest input any signature can match.
const MinHeader = 4

// ErrTooShort is returned when a file is shorter than MinHeader.
var ErrTooShort = errors.New("file shorter than minimum signature length")

// Result is the outcome of sniffing one file.
type Result struct {
	Kind Kind
	// MIME is set for recognised kinds and, when possible, for formats
	// that were identified but have no handler.
	MIME string
}

// Known reports whether the result maps to a handled kind.
func (r Result) Known() bool {
	return r.Kind != KindUnknown
}

type signature struct {
	kind   Kind
	mime   string
	offset int
	magic  []byte
}

// REF: https://en.wikipedia.org/wiki/List_of_file_signatures
var signatures = []signature{
	{kind: KindJPEG, mime: "image/jpeg", magic: []byte{0xff, 0xd8, 0xff}},
	{kind: KindPNG, mime: "image/png", magic: []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}},
	{kind: KindTIFF, mime: "image/tiff", magic: []byte{0x49, 0x49, 0x2a, 0x00}},
	{kind: KindTIFF, mime: "image/tiff", magic: []byte{0x4d, 0x4d, 0x00, 0x2a}},
	{kind: KindMP3, mime: "audio/mpeg", magic: []byte("ID3")},
	{kind: KindFLAC, mime: "audio/flac", magic: []byte("fLaC")},
	{kind: KindMP4, mime: "video/mp4", offset: 4, magic: []byte("ftyp")},
	{kind: KindZIP, mime: "application/zip", magic: []byte{0x50, 0x4b, 0x03, 0x04}},
	{kind: KindZIP, mime: "application/zip", magic: []byte{0x50, 0x4b, 0x05, 0x06}},
	{kind: KindOLE2, mime: "application/x-ole-storage", magic: []byte{0xd0, 0xcf, 0x11, 0xe0, 0xa1, 0xb1, 0x1a, 0xe1}},
	{kind: KindPDF, mime: "application/pdf", magic: []byte("%PDF-")},
	{kind: KindGzip, mime: "application/gzip", magic: []byte{0x1f, 0x8b, 0x08}},
	{kind: KindAr, mime: "application/x-archive", magic: []byte("!<arch>\n")},
	{kind: KindZstd, mime: "application/zstd", magic: []byte{0x28, 0xb5, 0x2f, 0xfd}},
	{kind: KindXZ, mime: "application/x-xz", magic: []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}},
	{kind: KindRPM, mime: "application/x-rpm", magic: []byte{0xed, 0xab, 0xee, 0xdb}},
}

// SniffFile reads a bounded header of the file at path and determines its
// kind. The file is opened read-only.
func SniffFile(path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, err
	}
	defer f.Close()

	return SniffReader(f, filepath.Ext(path))
}

// SniffReader reads up to MaxHeader bytes from r and determines its kind.
// ext is only consulted when the signature alone is ambiguous.
func SniffReader(r io.Reader, ext string) (Result, error) {
	header := make([]byte, MaxHeader)
	n, err := io.ReadFull(r, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return Result{}, err
	}
	if n < MinHeader {
		return Result{}, ErrTooShort
	}

	return Detect(header[:n], ext), nil
}

// Detect matches header against the signature table. Formats that are
// recognised but not handled come back as KindUnknown with a MIME type.
func Detect(header []byte, ext string) Result {
	ext = strings.ToLower(ext)

	if isWebP(header) {
		return Result{Kind: KindWebP, MIME: "image/webp"}
	}
	if isZstdSkippable(header) {
		return Result{Kind: KindZstd, MIME: "application/zstd"}
	}

	for _, sig := range signatures {
		if len(header) < sig.offset+len(sig.magic) {
			continue
		}
		if !bytes.Equal(header[sig.offset:sig.offset+len(sig.magic)], sig.magic) {
			continue
		}
		switch sig.kind {
		case KindZIP:
			return refineZip(header)
		case KindMP4:
			return refineISOBMFF(header)
		}
		return Result{Kind: sig.kind, MIME: sig.mime}
	}

	// Weak signatures need the extension as a tie breaker.
	if ext == ".mp3" && isMPEGFrameSync(header) {
		return Result{Kind: KindMP3, MIME: "audio/mpeg"}
	}
	if ext == ".pdf" && bytes.Contains(header[:min(len(header), 1024)], []byte("%PDF-")) {
		return Result{Kind: KindPDF, MIME: "application/pdf"}
	}

	if kind, err := filetype.Match(header); err == nil && kind != filetype.Unknown {
		return Result{Kind: KindUnknown, MIME: kind.MIME.Value}
	}
	if ext != "" {
		if kind := filetype.GetType(strings.TrimPrefix(ext, ".")); kind != filetype.Unknown {
			return Result{Kind: KindUnknown, MIME: kind.MIME.Value}
		}
	}

	return Result{Kind: KindUnknown}
}

const odfMimePrefix = "application/vnd.oasis.opendocument"

// refineZip tells office containers apart from plain archives using the
// first local file header and the filetype matchers.
func refineZip(header []byte) Result {
	// ODF stores an uncompressed "mimetype" entry first.
	if len(header) >= 38 && string(header[30:38]) == "mimetype" {
		size := int(binary.LittleEndian.Uint32(header[18:22]))
		extra := int(binary.LittleEndian.Uint16(header[28:30]))
		start := 38 + extra
		if size > 0 && size < 256 && start+size <= len(header) {
			mime := string(header[start : start+size])
			if strings.HasPrefix(mime, odfMimePrefix) {
				return Result{Kind: KindODF, MIME: mime}
			}
		}
	}

	if kind, err := filetype.Match(header); err == nil {
		switch kind.Extension {
		case "docx", "xlsx", "pptx":
			return Result{Kind: KindOOXML, MIME: kind.MIME.Value}
		}
	}
	if bytes.Contains(header, []byte("[Content_Types].xml")) {
		return Result{Kind: KindOOXML, MIME: "application/vnd.openxmlformats-officedocument"}
	}

	return Result{Kind: KindZIP, MIME: "application/zip"}
}

// imageBrands are ftyp brands of ISO media files whose item structure
// lives in the top-level meta box. They share the MP4 signature but cannot
// be cleaned as movies.
var imageBrands = map[string]string{
	"heic": "image/heic",
	"heix": "image/heic",
	"heim": "image/heic",
	"heis": "image/heic",
	"mif1": "image/heif",
	"msf1": "image/heif-sequence",
	"avif": "image/avif",
	"avis": "image/avif",
	"crx ": "image/x-canon-cr3",
}

// refineISOBMFF checks the major and compatible brands of the ftyp box.
// Still image brands win over movie brands in the compatible list.
func refineISOBMFF(header []byte) Result {
	if len(header) < 12 {
		return Result{Kind: KindMP4, MIME: "video/mp4"}
	}
	if mime, ok := imageBrands[string(header[8:12])]; ok {
		return Result{Kind: KindUnknown, MIME: mime}
	}

	size := int(binary.BigEndian.Uint32(header[:4]))
	if size > len(header) {
		size = len(header)
	}
	for off := 16; off+4 <= size; off += 4 {
		if mime, ok := imageBrands[string(header[off:off+4])]; ok {
			return Result{Kind: KindUnknown, MIME: mime}
		}
	}
	return Result{Kind: KindMP4, MIME: "video/mp4"}
}

func isWebP(header []byte) bool {
	return len(header) >= 12 && string(header[0:4]) == "RIFF" && string(header[8:12]) == "WEBP"
}

// isZstdSkippable matches skippable frames, magic 0x184D2A50..0x184D2A5F.
func isZstdSkippable(header []byte) bool {
	if len(header) < 8 {
		return false
	}
	magic := binary.LittleEndian.Uint32(header[:4])
	return magic&0xfffffff0 == 0x184d2a50
}

func isMPEGFrameSync(header []byte) bool {
	if len(header) < 4 {
		return false
	}
	if header[0] != 0xff || header[1]&0xe0 != 0xe0 {
		return false
	}
	layer := (header[1] >> 1) & 0x03
	bitrate := header[2] >> 4
	return layer != 0 && bitrate != 0x0f
}
