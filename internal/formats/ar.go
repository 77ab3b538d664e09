package formats

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/blakesmith/ar"

	"adamantium/pkg/sniff"
)

const (
	arGlobalHeader = "!<arch>\n"
	arHeaderSize   = 60

	arMtimeOffset = 16
	arMtimeLen    = 12
	arOwnerOffset = 28
	arOwnerLen    = 12 // uid and gid, six bytes each
)

type arHandler struct{}

func (arHandler) Family() Family { return FamilyArchive }

type arMember struct {
	hdr    *ar.Header
	offset int64
}

// arMembers lists the members with the offset of each 60 byte header.
// Member data is skipped, not read.
func arMembers(f *os.File) ([]arMember, error) {
	size, err := fileSize(f)
	if err != nil {
		return nil, err
	}
	magic, err := readAt(f, 0, len(arGlobalHeader))
	if err != nil {
		return nil, err
	}
	if string(magic) != arGlobalHeader {
		return nil, parseErrorf(sniff.KindAr, "missing archive header")
	}

	r := ar.NewReader(io.NewSectionReader(f, 0, size))
	var members []arMember
	pos := int64(len(arGlobalHeader))
	for {
		hdr, err := r.Next()
		if err == io.EOF {
			return members, nil
		}
		if err != nil {
			return nil, err
		}
		if pos+arHeaderSize+hdr.Size > size {
			return nil, parseErrorf(sniff.KindAr, "member %q overruns archive", strings.TrimSpace(hdr.Name))
		}
		members = append(members, arMember{hdr: hdr, offset: pos})
		pos += arHeaderSize + hdr.Size + hdr.Size%2
	}
}

func (arHandler) Extract(f *os.File) (Report, error) {
	members, err := arMembers(f)
	if err != nil {
		return Report{}, wrapParse(sniff.KindAr, "read members", err)
	}

	var fields []Field
	for _, m := range members {
		name := strings.TrimRight(strings.TrimSpace(m.hdr.Name), "/")
		if !m.hdr.ModTime.IsZero() && m.hdr.ModTime.Unix() != 0 {
			fields = append(fields, Field{
				Namespace: "Ar",
				Name:      "ModTime:" + name,
				Kind:      ValueString,
				Value:     m.hdr.ModTime.UTC().Format("2006-01-02 15:04:05"),
				Offset:    m.offset + arMtimeOffset,
				Size:      arMtimeLen,
			})
		}
		if m.hdr.Uid != 0 || m.hdr.Gid != 0 {
			fields = append(fields, Field{
				Namespace: "Ar",
				Name:      "Owner:" + name,
				Kind:      ValueString,
				Value:     fmt.Sprintf("%d:%d", m.hdr.Uid, m.hdr.Gid),
				Offset:    m.offset + arOwnerOffset,
				Size:      arOwnerLen,
			})
		}
	}
	return NewReport(sniff.KindAr, fields), nil
}

// Plan zeroes the timestamp and owner columns of member headers. The
// columns are fixed width, so the archive layout does not move.
func (arHandler) Plan(f *os.File, rep Report, opts Options) (Plan, error) {
	var edits []Edit
	seen := make(map[int64]bool)
	for _, field := range Residual(rep, opts) {
		if seen[field.Offset] {
			continue
		}
		seen[field.Offset] = true
		switch {
		case strings.HasPrefix(field.Name, "ModTime:"):
			edits = append(edits, Overwrite(field.Offset, arDecimal(0, arMtimeLen)))
		case strings.HasPrefix(field.Name, "Owner:"):
			owner := append(arDecimal(0, 6), arDecimal(0, 6)...)
			edits = append(edits, Overwrite(field.Offset, owner))
		}
	}
	return Plan{Edits: edits}, nil
}

// arDecimal formats n left-aligned in a space padded column.
func arDecimal(n int64, width int) []byte {
	s := fmt.Sprintf("%d", n)
	return append([]byte(s), bytes.Repeat([]byte{' '}, width-len(s))...)
}

// Payload hashes member names, modes and contents.
func (arHandler) Payload(f *os.File) (string, error) {
	size, err := fileSize(f)
	if err != nil {
		return "", err
	}
	r := ar.NewReader(io.NewSectionReader(f, 0, size))
	h := newDigest()
	for {
		hdr, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", wrapParse(sniff.KindAr, "read members", err)
		}
		fmt.Fprintf(h, "%s\x00%o\x00%d\n", strings.TrimSpace(hdr.Name), hdr.Mode, hdr.Size)
		if _, err := io.Copy(h, r); err != nil {
			return "", err
		}
	}
	return sumHex(h), nil
}
