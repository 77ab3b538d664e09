package formats

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zlib"

	"adamantium/pkg/sniff"
)

var pngSignature = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}

const maxPNGTextChunk = 1 << 20

type pngChunk struct {
	name   string
	offset int64
	length int64
}

// size is the full chunk length including length, type and CRC.
func (c pngChunk) size() int64       { return c.length + 12 }
func (c pngChunk) dataOffset() int64 { return c.offset + 8 }

func isPNGMetadataChunk(name string) bool {
	switch name {
	case "tEXt", "zTXt", "iTXt", "eXIf", "tIME", "iCCP":
		return true
	default:
		return false
	}
}

type pngHandler struct{}

func (pngHandler) Family() Family { return FamilyImage }

func pngChunks(r io.ReaderAt, size int64) ([]pngChunk, error) {
	sig, err := readAt(r, 0, len(pngSignature))
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(sig, pngSignature) {
		return nil, parseErrorf(sniff.KindPNG, "invalid PNG signature")
	}

	var chunks []pngChunk
	pos := int64(len(pngSignature))
	for pos < size {
		hdr, err := readAt(r, pos, 8)
		if err != nil {
			return nil, err
		}
		c := pngChunk{
			name:   string(hdr[4:8]),
			offset: pos,
			length: int64(binary.BigEndian.Uint32(hdr[:4])),
		}
		if pos+c.size() > size {
			return nil, parseErrorf(sniff.KindPNG, "chunk %q overruns file", c.name)
		}
		chunks = append(chunks, c)
		pos += c.size()
		if c.name == "IEND" {
			return chunks, nil
		}
	}
	return nil, parseErrorf(sniff.KindPNG, "missing IEND chunk")
}

func (pngHandler) Extract(f *os.File) (Report, error) {
	size, err := fileSize(f)
	if err != nil {
		return Report{}, err
	}
	chunks, err := pngChunks(f, size)
	if err != nil {
		return Report{}, wrapParse(sniff.KindPNG, "read chunks", err)
	}

	var fields []Field
	for _, c := range chunks {
		if !isPNGMetadataChunk(c.name) {
			continue
		}
		n := c.length
		if n > maxPNGTextChunk {
			n = maxPNGTextChunk
		}
		data, err := readAt(f, c.dataOffset(), int(n))
		if err != nil {
			return Report{}, wrapParse(sniff.KindPNG, "read chunk", err)
		}
		fields = append(fields, pngChunkFields(c, data)...)
	}

	return NewReport(sniff.KindPNG, fields), nil
}

func pngChunkFields(c pngChunk, data []byte) []Field {
	text := func(name, value string) []Field {
		return []Field{{
			Namespace: "PNG",
			Name:      name,
			Kind:      ValueString,
			Value:     value,
			Offset:    c.offset,
			Size:      c.size(),
		}}
	}

	switch c.name {
	case "tEXt":
		key, value := splitNul(data)
		return text(key, value)
	case "zTXt":
		key, rest := splitNul(data)
		if len(rest) < 1 {
			return text(key, "")
		}
		return text(key, inflateText([]byte(rest[1:])))
	case "iTXt":
		return pngITXtFields(c, data)
	case "eXIf":
		return exifFields(data, c.offset, c.size())
	case "tIME":
		if len(data) != 7 {
			return text("tIME", "")
		}
		year := binary.BigEndian.Uint16(data[:2])
		return text("tIME", fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d",
			year, data[2], data[3], data[4], data[5], data[6]))
	case "iCCP":
		name, _ := splitNul(data)
		return []Field{{
			Namespace: nsICC,
			Name:      "Profile",
			Kind:      ValueBlock,
			Value:     name,
			Offset:    c.offset,
			Size:      c.size(),
		}}
	}
	return nil
}

// pngITXtFields decodes keyword, compression flag, language, translated
// keyword and text.
func pngITXtFields(c pngChunk, data []byte) []Field {
	key, rest := splitNul(data)
	if len(rest) < 2 {
		return []Field{{Namespace: "PNG", Name: key, Offset: c.offset, Size: c.size()}}
	}
	compressed := rest[0] == 1
	_, rest = splitNul([]byte(rest[2:]))
	_, rest = splitNul([]byte(rest))
	value := rest
	if compressed {
		value = inflateText([]byte(rest))
	}

	if key == "XML:com.adobe.xmp" {
		return xmpFields([]byte(value), c.offset, c.size())
	}
	return []Field{{
		Namespace: "PNG",
		Name:      key,
		Kind:      ValueString,
		Value:     value,
		Offset:    c.offset,
		Size:      c.size(),
	}}
}

func splitNul(data []byte) (string, string) {
	idx := bytes.IndexByte(data, 0)
	if idx < 0 {
		return string(data), ""
	}
	return string(data[:idx]), string(data[idx+1:])
}

func inflateText(data []byte) string {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	defer zr.Close()
	out, err := io.ReadAll(io.LimitReader(zr, maxPNGTextChunk))
	if err != nil {
		return ""
	}
	return string(out)
}

func (pngHandler) Plan(f *os.File, rep Report, opts Options) (Plan, error) {
	return Plan{Edits: removeEdits(Residual(rep, opts))}, nil
}

// Payload hashes every chunk that is not metadata: header, palette and
// image data.
func (pngHandler) Payload(f *os.File) (string, error) {
	size, err := fileSize(f)
	if err != nil {
		return "", err
	}
	chunks, err := pngChunks(f, size)
	if err != nil {
		return "", wrapParse(sniff.KindPNG, "read chunks", err)
	}

	h := newDigest()
	for _, c := range chunks {
		if isPNGMetadataChunk(c.name) {
			continue
		}
		if _, err := io.Copy(h, io.NewSectionReader(f, c.offset, c.size())); err != nil {
			return "", err
		}
	}
	return sumHex(h), nil
}
