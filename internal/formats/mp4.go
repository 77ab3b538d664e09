package formats

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	mp4 "github.com/abema/go-mp4"

	"adamantium/pkg/sniff"
)

// XMP packets in ISO BMFF live in a uuid box with this user type.
var xmpUUID = []byte{0xbe, 0x7a, 0xcf, 0xcb, 0x97, 0xa9, 0x42, 0xe8, 0x9c, 0x71, 0x99, 0x94, 0x91, 0xe3, 0xaf, 0xac}

type mp4Box struct {
	typ    string
	path   string
	offset int64
	size   int64
	header int64
	// handler is the hdlr type of a meta box, e.g. "mdir" or "pict".
	handler  string
	children []mp4Box
}

func (b mp4Box) dataOffset() int64 { return b.offset + b.header }
func (b mp4Box) dataSize() int64   { return b.size - b.header }

type mp4Handler struct{}

func (mp4Handler) Family() Family { return FamilyVideo }

func boxFromHandle(h *mp4.ReadHandle) mp4Box {
	names := make([]string, len(h.Path))
	for i, t := range h.Path {
		names[i] = t.String()
	}
	return mp4Box{
		typ:    h.BoxInfo.Type.String(),
		path:   strings.Join(names, "/"),
		offset: int64(h.BoxInfo.Offset),
		size:   int64(h.BoxInfo.Size),
		header: int64(h.BoxInfo.HeaderSize),
	}
}

// metaChild is passed to Expand so the handler knows it is listing the
// children of a metadata box instead of walking the tree.
type metaChild struct{}

func isMP4MetadataPath(path string) bool {
	switch path {
	case "moov/udta", "moov/meta", "moov/trak/udta", "moov/trak/meta", "meta", "udta":
		return true
	}
	return false
}

// isMP4MetadataBox reports whether b carries tags. A top-level meta box
// with a pict handler holds the item structure of an image and is not
// metadata.
func isMP4MetadataBox(b mp4Box) bool {
	if !isMP4MetadataPath(b.path) {
		return false
	}
	return !(b.path == "meta" && b.handler == "pict")
}

func isXMPBox(r io.ReaderAt, b mp4Box) bool {
	if b.typ != "uuid" || b.dataSize() < int64(len(xmpUUID)) {
		return false
	}
	id, err := readAt(r, b.dataOffset(), len(xmpUUID))
	return err == nil && bytes.Equal(id, xmpUUID)
}

// mp4Layout walks the box tree, descending into moov and trak. Metadata
// boxes carry their direct children.
func mp4Layout(f *os.File) ([]mp4Box, error) {
	size, err := fileSize(f)
	if err != nil {
		return nil, err
	}

	var boxes []mp4Box
	_, err = mp4.ReadBoxStructure(io.NewSectionReader(f, 0, size), func(h *mp4.ReadHandle) (interface{}, error) {
		b := boxFromHandle(h)
		if len(h.Params) > 0 {
			if b.typ == "hdlr" {
				if box, _, err := h.ReadPayload(); err == nil {
					if hdlr, ok := box.(*mp4.Hdlr); ok {
						b.handler = string(hdlr.HandlerType[:])
					}
				}
			}
			return b, nil
		}
		if b.offset+b.size > size {
			return nil, parseErrorf(sniff.KindMP4, "box %q at offset %d overruns the file", b.typ, b.offset)
		}

		switch {
		case b.path == "moov" || b.path == "moov/trak":
			boxes = append(boxes, b)
			_, err := h.Expand()
			return nil, err
		case isMP4MetadataPath(b.path):
			// malformed children still leave the whole box reported
			vals, _ := h.Expand(metaChild{})
			for _, v := range vals {
				child, ok := v.(mp4Box)
				if !ok {
					continue
				}
				if child.typ == "hdlr" {
					b.handler = child.handler
				}
				b.children = append(b.children, child)
			}
		}
		boxes = append(boxes, b)
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	if len(boxes) == 0 || (boxes[0].typ != "ftyp" && boxes[0].typ != "moov" && boxes[0].typ != "mdat") {
		return nil, parseErrorf(sniff.KindMP4, "missing ftyp box")
	}
	return boxes, nil
}

func (mp4Handler) Extract(f *os.File) (Report, error) {
	boxes, err := mp4Layout(f)
	if err != nil {
		return Report{}, wrapParse(sniff.KindMP4, "read boxes", err)
	}

	var fields []Field
	for _, b := range boxes {
		switch {
		case isXMPBox(f, b):
			n := b.dataSize() - int64(len(xmpUUID))
			if n > maxPNGTextChunk {
				n = maxPNGTextChunk
			}
			packet, err := readAt(f, b.dataOffset()+int64(len(xmpUUID)), int(n))
			if err != nil {
				return Report{}, wrapParse(sniff.KindMP4, "read XMP box", err)
			}
			fields = append(fields, xmpFields(packet, b.offset, b.size)...)
		case isMP4MetadataBox(b):
			fields = append(fields, mp4MetadataFields(b)...)
		}
	}
	return NewReport(sniff.KindMP4, fields), nil
}

// mp4MetadataFields names the children of a udta or meta box, e.g. the
// iTunes ilst atoms or ©xyz location strings.
func mp4MetadataFields(b mp4Box) []Field {
	var fields []Field
	for _, child := range b.children {
		if child.typ == "free" || child.typ == "hdlr" {
			continue
		}
		fields = append(fields, Field{
			Namespace: "QuickTime",
			Name:      b.path + "/" + child.typ,
			Kind:      ValueBlock,
			Value:     fmt.Sprintf("%d bytes", child.size),
			Offset:    b.offset,
			Size:      b.size,
		})
	}
	if len(fields) == 0 {
		fields = append(fields, Field{
			Namespace: "QuickTime",
			Name:      b.path,
			Kind:      ValueBlock,
			Offset:    b.offset,
			Size:      b.size,
		})
	}
	return fields
}

// Plan renames every metadata box to free and zeroes its contents. Sizes
// are untouched so stco/co64 chunk offsets remain valid.
func (mp4Handler) Plan(f *os.File, rep Report, opts Options) (Plan, error) {
	var edits []Edit
	seen := make(map[int64]bool)
	for _, field := range Residual(rep, opts) {
		if field.Size <= 0 || seen[field.Offset] {
			continue
		}
		seen[field.Offset] = true

		hdr, err := readAt(f, field.Offset, 8)
		if err != nil {
			return Plan{}, wrapParse(sniff.KindMP4, "read box header", err)
		}
		headerLen := int64(8)
		if binary.BigEndian.Uint32(hdr[:4]) == 1 {
			headerLen = 16
		}
		edits = append(edits, Overwrite(field.Offset+4, []byte("free")))
		if body := field.Size - headerLen; body > 0 {
			edits = append(edits, Overwrite(field.Offset+headerLen, make([]byte, body)))
		}
	}
	return Plan{Edits: edits}, nil
}

// Payload hashes every box outside the metadata boxes. Free boxes are
// skipped since stripping produces them.
func (mp4Handler) Payload(f *os.File) (string, error) {
	boxes, err := mp4Layout(f)
	if err != nil {
		return "", wrapParse(sniff.KindMP4, "read boxes", err)
	}

	h := newDigest()
	for _, b := range boxes {
		switch b.path {
		case "moov", "moov/trak":
			// containers: their children are visited individually
			continue
		}
		if b.typ == "free" || b.typ == "skip" || isMP4MetadataBox(b) || isXMPBox(f, b) {
			continue
		}
		if _, err := io.Copy(h, io.NewSectionReader(f, b.offset, b.size)); err != nil {
			return "", err
		}
	}
	return sumHex(h), nil
}
