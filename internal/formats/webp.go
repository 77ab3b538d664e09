package formats

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"adamantium/pkg/sniff"
)

const (
	vp8xFlagICC  = 0x20
	vp8xFlagEXIF = 0x08
	vp8xFlagXMP  = 0x04
)

type riffChunk struct {
	fourcc string
	offset int64
	length int64
}

// size includes the 8 byte header and the pad byte of odd chunks.
func (c riffChunk) size() int64 {
	return 8 + c.length + c.length&1
}

func (c riffChunk) dataOffset() int64 { return c.offset + 8 }

type webpHandler struct{}

func (webpHandler) Family() Family { return FamilyImage }

func webpChunks(r io.ReaderAt, size int64) ([]riffChunk, error) {
	hdr, err := readAt(r, 0, 12)
	if err != nil {
		return nil, err
	}
	if string(hdr[0:4]) != "RIFF" || string(hdr[8:12]) != "WEBP" {
		return nil, parseErrorf(sniff.KindWebP, "invalid RIFF/WEBP header")
	}
	end := int64(binary.LittleEndian.Uint32(hdr[4:8])) + 8
	if end > size {
		return nil, parseErrorf(sniff.KindWebP, "RIFF size exceeds file size")
	}

	var chunks []riffChunk
	pos := int64(12)
	for pos+8 <= end {
		ch, err := readAt(r, pos, 8)
		if err != nil {
			return nil, err
		}
		c := riffChunk{
			fourcc: string(ch[:4]),
			offset: pos,
			length: int64(binary.LittleEndian.Uint32(ch[4:8])),
		}
		if pos+8+c.length > end {
			return nil, parseErrorf(sniff.KindWebP, "chunk %q overruns RIFF", c.fourcc)
		}
		chunks = append(chunks, c)
		pos += c.size()
	}
	if len(chunks) == 0 {
		return nil, parseErrorf(sniff.KindWebP, "no chunks")
	}
	return chunks, nil
}

func isWebPMetadataChunk(fourcc string) bool {
	return fourcc == "ICCP" || fourcc == "EXIF" || fourcc == "XMP "
}

func (webpHandler) Extract(f *os.File) (Report, error) {
	size, err := fileSize(f)
	if err != nil {
		return Report{}, err
	}
	chunks, err := webpChunks(f, size)
	if err != nil {
		return Report{}, wrapParse(sniff.KindWebP, "read chunks", err)
	}

	var fields []Field
	for _, c := range chunks {
		switch c.fourcc {
		case "EXIF":
			data, err := readAt(f, c.dataOffset(), int(c.length))
			if err != nil {
				return Report{}, wrapParse(sniff.KindWebP, "read EXIF", err)
			}
			data = bytes.TrimPrefix(data, jpegExifHeader)
			fields = append(fields, exifFields(data, c.offset, c.size())...)
		case "XMP ":
			data, err := readAt(f, c.dataOffset(), int(c.length))
			if err != nil {
				return Report{}, wrapParse(sniff.KindWebP, "read XMP", err)
			}
			fields = append(fields, xmpFields(data, c.offset, c.size())...)
		case "ICCP":
			fields = append(fields, Field{
				Namespace: nsICC,
				Name:      "Profile",
				Kind:      ValueBlock,
				Offset:    c.offset,
				Size:      c.size(),
			})
		}
	}

	return NewReport(sniff.KindWebP, fields), nil
}

// Plan removes the metadata chunks, then fixes the RIFF length and clears
// the matching VP8X feature flags.
func (webpHandler) Plan(f *os.File, rep Report, opts Options) (Plan, error) {
	edits := removeEdits(Residual(rep, opts))
	if len(edits) == 0 {
		return Plan{}, nil
	}

	size, err := fileSize(f)
	if err != nil {
		return Plan{}, err
	}
	chunks, err := webpChunks(f, size)
	if err != nil {
		return Plan{}, wrapParse(sniff.KindWebP, "read chunks", err)
	}

	removed := make(map[int64]bool, len(edits))
	var saved int64
	for _, e := range edits {
		removed[e.Offset] = true
		saved += e.Length
	}

	var clear byte
	var vp8x *riffChunk
	for i, c := range chunks {
		if c.fourcc == "VP8X" {
			vp8x = &chunks[i]
		}
		if !removed[c.offset] {
			continue
		}
		switch c.fourcc {
		case "ICCP":
			clear |= vp8xFlagICC
		case "EXIF":
			clear |= vp8xFlagEXIF
		case "XMP ":
			clear |= vp8xFlagXMP
		}
	}

	hdr, err := readAt(f, 4, 4)
	if err != nil {
		return Plan{}, err
	}
	riffSize := int64(binary.LittleEndian.Uint32(hdr)) - saved
	sizeBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(sizeBuf, uint32(riffSize))
	edits = append(edits, Overwrite(4, sizeBuf))

	if vp8x != nil && vp8x.length > 0 {
		flags, err := readAt(f, vp8x.dataOffset(), 1)
		if err != nil {
			return Plan{}, err
		}
		edits = append(edits, Overwrite(vp8x.dataOffset(), []byte{flags[0] &^ clear}))
	}

	return Plan{Edits: edits}, nil
}

// Payload hashes the bitstream chunks; the VP8X header is excluded since
// its feature flags describe the metadata.
func (webpHandler) Payload(f *os.File) (string, error) {
	size, err := fileSize(f)
	if err != nil {
		return "", err
	}
	chunks, err := webpChunks(f, size)
	if err != nil {
		return "", wrapParse(sniff.KindWebP, "read chunks", err)
	}

	h := newDigest()
	for _, c := range chunks {
		if isWebPMetadataChunk(c.fourcc) || c.fourcc == "VP8X" {
			continue
		}
		if _, err := io.Copy(h, io.NewSectionReader(f, c.offset, c.size())); err != nil {
			return "", err
		}
	}
	return sumHex(h), nil
}
