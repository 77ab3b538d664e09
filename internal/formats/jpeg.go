package formats

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"adamantium/pkg/sniff"
)

var (
	jpegExifHeader    = []byte("Exif\x00\x00")
	jpegXmpHeader     = []byte("http://ns.adobe.com/xap/1.0/\x00")
	jpegXmpExtHeader  = []byte("http://ns.adobe.com/xmp/extension/\x00")
	jpegPhotoshop     = []byte("Photoshop 3.0\x00")
	jpegICCHeader     = []byte("ICC_PROFILE\x00")
	jpegMaxAppPayload = 1 << 16
)

const (
	markerSOI  = 0xd8
	markerEOI  = 0xd9
	markerSOS  = 0xda
	markerAPP0 = 0xe0
	markerAPP1 = 0xe1
	markerAPP2 = 0xe2
	markerAPPD = 0xed
	markerAPPE = 0xee
	markerAPPF = 0xef
	markerCOM  = 0xfe
)

type jpegSegment struct {
	marker byte
	offset int64
	size   int64
}

func (s jpegSegment) payloadOffset() int64 { return s.offset + 4 }
func (s jpegSegment) payloadSize() int64   { return s.size - 4 }

// isMetadataMarker reports APPn and COM segments that carry no decoding
// information. APP0 (JFIF) and APP14 (Adobe color transform) are kept.
func isMetadataMarker(marker byte) bool {
	if marker == markerCOM {
		return true
	}
	return marker >= markerAPP1 && marker <= markerAPPF && marker != markerAPPE
}

type jpegHandler struct{}

func (jpegHandler) Family() Family { return FamilyImage }

// jpegSegments walks the marker segments up to the first SOS and returns
// them with the offset where entropy-coded data starts.
func jpegSegments(r io.ReaderAt, size int64) ([]jpegSegment, int64, error) {
	soi, err := readAt(r, 0, 2)
	if err != nil {
		return nil, 0, err
	}
	if soi[0] != 0xff || soi[1] != markerSOI {
		return nil, 0, parseErrorf(sniff.KindJPEG, "invalid JPEG SOI")
	}

	var segments []jpegSegment
	pos := int64(2)
	for {
		if pos+2 > size {
			return nil, 0, parseErrorf(sniff.KindJPEG, "missing SOS before end of file")
		}
		hdr, err := readAt(r, pos, 2)
		if err != nil {
			return nil, 0, err
		}
		if hdr[0] != 0xff {
			return nil, 0, parseErrorf(sniff.KindJPEG, "expected marker at offset %d", pos)
		}
		marker := hdr[1]
		if marker == 0xff {
			// fill byte
			pos++
			continue
		}

		switch {
		case marker == markerEOI:
			return segments, pos, nil
		case marker == 0x01 || (marker >= 0xd0 && marker <= 0xd7):
			pos += 2
			continue
		}

		lenBuf, err := readAt(r, pos+2, 2)
		if err != nil {
			return nil, 0, err
		}
		segLen := int64(binary.BigEndian.Uint16(lenBuf))
		if segLen < 2 || pos+2+segLen > size {
			return nil, 0, parseErrorf(sniff.KindJPEG, "invalid segment length at offset %d", pos)
		}
		seg := jpegSegment{marker: marker, offset: pos, size: segLen + 2}

		if marker == markerSOS {
			return segments, pos, nil
		}
		segments = append(segments, seg)
		pos += seg.size
	}
}

func (jpegHandler) Extract(f *os.File) (Report, error) {
	size, err := fileSize(f)
	if err != nil {
		return Report{}, err
	}
	segments, _, err := jpegSegments(f, size)
	if err != nil {
		return Report{}, wrapParse(sniff.KindJPEG, "read segments", err)
	}

	var fields []Field
	for _, seg := range segments {
		if !isMetadataMarker(seg.marker) {
			continue
		}
		peek := seg.payloadSize()
		if peek > int64(jpegMaxAppPayload) {
			peek = int64(jpegMaxAppPayload)
		}
		payload, err := readAt(f, seg.payloadOffset(), int(peek))
		if err != nil {
			return Report{}, wrapParse(sniff.KindJPEG, "read segment payload", err)
		}
		fields = append(fields, jpegSegmentFields(seg, payload)...)
	}

	return NewReport(sniff.KindJPEG, fields), nil
}

func jpegSegmentFields(seg jpegSegment, payload []byte) []Field {
	block := func(ns, name, value string) []Field {
		return []Field{{
			Namespace: ns,
			Name:      name,
			Kind:      ValueBlock,
			Value:     value,
			Offset:    seg.offset,
			Size:      seg.size,
		}}
	}

	switch {
	case seg.marker == markerAPP1 && bytes.HasPrefix(payload, jpegExifHeader):
		return exifFields(payload[len(jpegExifHeader):], seg.offset, seg.size)
	case seg.marker == markerAPP1 && bytes.HasPrefix(payload, jpegXmpHeader):
		return xmpFields(payload[len(jpegXmpHeader):], seg.offset, seg.size)
	case seg.marker == markerAPP1 && bytes.HasPrefix(payload, jpegXmpExtHeader):
		return block("XMP", "ExtendedXMP", "")
	case seg.marker == markerAPPD && bytes.HasPrefix(payload, jpegPhotoshop):
		return block("IPTC", "Photoshop", "Photoshop 3.0 resource block")
	case seg.marker == markerAPP2 && bytes.HasPrefix(payload, jpegICCHeader):
		return block(nsICC, "Profile", "")
	case seg.marker == markerCOM:
		return []Field{{
			Namespace: "JPEG",
			Name:      "Comment",
			Kind:      ValueString,
			Value:     strings.TrimRight(string(payload), "\x00"),
			Offset:    seg.offset,
			Size:      seg.size,
		}}
	default:
		return block("JPEG", fmt.Sprintf("APP%d", seg.marker-markerAPP0), appIdentifier(payload))
	}
}

// appIdentifier returns the NUL-terminated signature that opens most
// APPn payloads.
func appIdentifier(payload []byte) string {
	idx := bytes.IndexByte(payload, 0)
	if idx <= 0 || idx > 64 {
		return ""
	}
	return string(payload[:idx])
}

func (jpegHandler) Plan(f *os.File, rep Report, opts Options) (Plan, error) {
	return Plan{Edits: removeEdits(Residual(rep, opts))}, nil
}

// Payload hashes every segment needed to decode the image plus the
// entropy-coded data.
func (jpegHandler) Payload(f *os.File) (string, error) {
	size, err := fileSize(f)
	if err != nil {
		return "", err
	}
	segments, scan, err := jpegSegments(f, size)
	if err != nil {
		return "", wrapParse(sniff.KindJPEG, "read segments", err)
	}

	h := newDigest()
	for _, seg := range segments {
		if isMetadataMarker(seg.marker) {
			continue
		}
		if _, err := io.Copy(h, io.NewSectionReader(f, seg.offset, seg.size)); err != nil {
			return "", err
		}
	}
	if _, err := io.Copy(h, io.NewSectionReader(f, scan, size-scan)); err != nil {
		return "", err
	}
	return sumHex(h), nil
}
