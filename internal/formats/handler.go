package formats

import (
	"errors"
	"fmt"
	"hash"
	"io"
	"os"

	"golang.org/x/crypto/sha3"

	"adamantium/pkg/sniff"
)

// Family groups formats that share a metadata-embedding convention.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyImage
	FamilyAudio
	FamilyVideo
	FamilyDocumentZip
	FamilyDocumentLegacy
	FamilyDocument
	FamilyArchive
)

func (f Family) String() string {
	switch f {
	case FamilyImage:
		return "image"
	case FamilyAudio:
		return "audio"
	case FamilyVideo:
		return "video"
	case FamilyDocumentZip:
		return "document-zip"
	case FamilyDocumentLegacy:
		return "document-legacy"
	case FamilyDocument:
		return "document"
	case FamilyArchive:
		return "archive"
	default:
		return "unknown"
	}
}

// Options tune how metadata is stripped.
type Options struct {
	// PreserveICC keeps embedded color profiles.
	PreserveICC bool
}

// Handler is implemented once per container family.
type Handler interface {
	Family() Family
	// Extract enumerates metadata without modifying f.
	Extract(f *os.File) (Report, error)
	// Plan computes the edits that remove rep's strippable fields.
	Plan(f *os.File, rep Report, opts Options) (Plan, error)
}

// Payloader is implemented by handlers that can fingerprint the content a
// file carries independently of its metadata.
type Payloader interface {
	Payload(f *os.File) (string, error)
}

// ErrNotStrippable is returned by Plan for formats that are only reported.
var ErrNotStrippable = errors.New("format does not support metadata removal")

// ParseError reports a container that is malformed for its detected format.
type ParseError struct {
	Format sniff.Kind
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %s: %v", e.Format, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %s: %s", e.Format, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

func parseErrorf(kind sniff.Kind, format string, args ...interface{}) error {
	return &ParseError{Format: kind, Reason: fmt.Sprintf(format, args...)}
}

func wrapParse(kind sniff.Kind, reason string, err error) error {
	var pe *ParseError
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return &ParseError{Format: kind, Reason: reason + ": truncated", Err: err}
	}
	return &ParseError{Format: kind, Reason: reason, Err: err}
}

var handlers = map[sniff.Kind]Handler{
	sniff.KindJPEG:  jpegHandler{},
	sniff.KindPNG:   pngHandler{},
	sniff.KindWebP:  webpHandler{},
	sniff.KindTIFF:  tiffHandler{},
	sniff.KindMP3:   mp3Handler{},
	sniff.KindFLAC:  flacHandler{},
	sniff.KindMP4:   mp4Handler{},
	sniff.KindOOXML: zipHandler{kind: sniff.KindOOXML},
	sniff.KindODF:   zipHandler{kind: sniff.KindODF},
	sniff.KindZIP:   zipHandler{kind: sniff.KindZIP},
	sniff.KindOLE2:  oleHandler{},
	sniff.KindPDF:   pdfHandler{},
	sniff.KindGzip:  gzipHandler{},
	sniff.KindAr:    arHandler{},
	sniff.KindZstd:  zstdHandler{},
	sniff.KindXZ:    xzHandler{},
	sniff.KindRPM:   rpmHandler{},
}

// Lookup returns the handler for kind.
func Lookup(kind sniff.Kind) (Handler, bool) {
	h, ok := handlers[kind]
	return h, ok
}

func fileSize(f *os.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func readAt(r io.ReaderAt, off int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if got, err := r.ReadAt(buf, off); got < n {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

func newDigest() hash.Hash {
	return sha3.New256()
}

func sumHex(h hash.Hash) string {
	return fmt.Sprintf("%x", h.Sum(nil))
}
