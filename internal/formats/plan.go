package formats

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
)

// Edit replaces the byte range [Offset, Offset+Length) of the source with
// Data. A nil Data removes the range; Data of the same length overwrites
// it in place.
type Edit struct {
	Offset int64
	Length int64
	Data   []byte
}

// Remove returns an edit that drops the given range.
func Remove(offset, length int64) Edit {
	return Edit{Offset: offset, Length: length}
}

// Overwrite returns an edit that replaces bytes at offset with data.
func Overwrite(offset int64, data []byte) Edit {
	return Edit{Offset: offset, Length: int64(len(data)), Data: data}
}

// Plan describes how to produce a cleaned copy of a file. Formats that can
// be cleaned by editing byte ranges fill Edits; containers that must be
// rebuilt set Rewrite instead.
type Plan struct {
	Edits   []Edit
	Rewrite func(dst *os.File) error
}

// Empty reports whether applying the plan would change nothing.
func (p Plan) Empty() bool {
	return p.Rewrite == nil && len(p.Edits) == 0
}

// InPlace reports whether every edit preserves the file length.
func (p Plan) InPlace() bool {
	if p.Rewrite != nil {
		return false
	}
	for _, e := range p.Edits {
		if int64(len(e.Data)) != e.Length {
			return false
		}
	}
	return true
}

func (p Plan) sorted(size int64) ([]Edit, error) {
	edits := make([]Edit, len(p.Edits))
	copy(edits, p.Edits)
	sort.SliceStable(edits, func(i, j int) bool { return edits[i].Offset < edits[j].Offset })

	var end int64
	for _, e := range edits {
		if e.Offset < end || e.Length < 0 {
			return nil, fmt.Errorf("overlapping edit at offset %d", e.Offset)
		}
		end = e.Offset + e.Length
		if end > size {
			return nil, fmt.Errorf("edit at offset %d runs past end of file", e.Offset)
		}
	}
	return edits, nil
}

// Apply writes the cleaned version of src to dst.
func (p Plan) Apply(src, dst *os.File) error {
	if p.Rewrite != nil {
		return p.Rewrite(dst)
	}

	info, err := src.Stat()
	if err != nil {
		return err
	}
	size := info.Size()

	edits, err := p.sorted(size)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(dst)
	var pos int64
	for _, e := range edits {
		if e.Offset > pos {
			if _, err := io.Copy(bw, io.NewSectionReader(src, pos, e.Offset-pos)); err != nil {
				return err
			}
		}
		if _, err := bw.Write(e.Data); err != nil {
			return err
		}
		pos = e.Offset + e.Length
	}
	if pos < size {
		if _, err := io.Copy(bw, io.NewSectionReader(src, pos, size-pos)); err != nil {
			return err
		}
	}

	return bw.Flush()
}
