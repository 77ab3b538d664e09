package formats

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"

	"adamantium/pkg/sniff"
)

const (
	gzipFlagHCRC    = 0x02
	gzipFlagExtra   = 0x04
	gzipFlagName    = 0x08
	gzipFlagComment = 0x10
)

type gzipHandler struct{}

func (gzipHandler) Family() Family { return FamilyArchive }

// gzipHeaderLen returns the length of the first member header, which
// ends where the deflate stream begins.
func gzipHeaderLen(r io.ReaderAt, size int64) (int64, []byte, error) {
	hdr, err := readAt(r, 0, 10)
	if err != nil {
		return 0, nil, err
	}
	if hdr[0] != 0x1f || hdr[1] != 0x8b || hdr[2] != 8 {
		return 0, nil, parseErrorf(sniff.KindGzip, "invalid gzip header")
	}
	flags := hdr[3]
	pos := int64(10)
	if flags&gzipFlagExtra != 0 {
		xlen, err := readAt(r, pos, 2)
		if err != nil {
			return 0, nil, err
		}
		pos += 2 + (int64(xlen[0]) | int64(xlen[1])<<8)
	}
	for _, flag := range []byte{gzipFlagName, gzipFlagComment} {
		if flags&flag == 0 {
			continue
		}
		for {
			if pos >= size {
				return 0, nil, io.ErrUnexpectedEOF
			}
			b, err := readAt(r, pos, 1)
			if err != nil {
				return 0, nil, err
			}
			pos++
			if b[0] == 0 {
				break
			}
		}
	}
	if flags&gzipFlagHCRC != 0 {
		pos += 2
	}
	if pos > size {
		return 0, nil, io.ErrUnexpectedEOF
	}
	return pos, hdr, nil
}

func (gzipHandler) Extract(f *os.File) (Report, error) {
	size, err := fileSize(f)
	if err != nil {
		return Report{}, err
	}
	hdrLen, _, err := gzipHeaderLen(f, size)
	if err != nil {
		return Report{}, wrapParse(sniff.KindGzip, "read header", err)
	}

	zr, err := gzip.NewReader(io.NewSectionReader(f, 0, size))
	if err != nil {
		return Report{}, wrapParse(sniff.KindGzip, "read header", err)
	}
	defer zr.Close()

	field := func(name, value string) Field {
		return Field{
			Namespace: "Gzip",
			Name:      name,
			Kind:      ValueString,
			Value:     value,
			Offset:    0,
			Size:      hdrLen,
		}
	}
	var fields []Field
	if zr.Name != "" {
		fields = append(fields, field("Name", zr.Name))
	}
	if zr.Comment != "" {
		fields = append(fields, field("Comment", zr.Comment))
	}
	if !zr.ModTime.IsZero() && zr.ModTime.Unix() != 0 {
		fields = append(fields, field("ModTime", zr.ModTime.UTC().Format("2006-01-02 15:04:05")))
	}
	if len(zr.Extra) > 0 {
		extra := field("Extra", fmt.Sprintf("%d bytes", len(zr.Extra)))
		extra.Kind = ValueBinary
		fields = append(fields, extra)
	}

	return NewReport(sniff.KindGzip, fields), nil
}

// Plan replaces the first member header with a bare ten byte header. The
// deflate stream and trailer are copied unchanged.
func (gzipHandler) Plan(f *os.File, rep Report, opts Options) (Plan, error) {
	if len(Residual(rep, opts)) == 0 {
		return Plan{}, nil
	}
	size, err := fileSize(f)
	if err != nil {
		return Plan{}, err
	}
	hdrLen, hdr, err := gzipHeaderLen(f, size)
	if err != nil {
		return Plan{}, wrapParse(sniff.KindGzip, "read header", err)
	}

	bare := []byte{0x1f, 0x8b, 8, 0, 0, 0, 0, 0, hdr[8], hdr[9]}
	return Plan{Edits: []Edit{{Offset: 0, Length: hdrLen, Data: bare}}}, nil
}

// Payload hashes the compressed stream after the header.
func (gzipHandler) Payload(f *os.File) (string, error) {
	size, err := fileSize(f)
	if err != nil {
		return "", err
	}
	hdrLen, _, err := gzipHeaderLen(f, size)
	if err != nil {
		return "", wrapParse(sniff.KindGzip, "read header", err)
	}
	h := newDigest()
	if _, err := io.Copy(h, io.NewSectionReader(f, hdrLen, size-hdrLen)); err != nil {
		return "", err
	}
	return sumHex(h), nil
}
