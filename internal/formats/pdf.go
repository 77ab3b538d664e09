package formats

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"

	"adamantium/pkg/sniff"
)

var (
	infoRefPattern = regexp.MustCompile(`/Info\s+(\d+)\s+(\d+)\s+R`)
	xpacketBegin   = []byte("<?xpacket begin")
	xpacketEnd     = []byte("<?xpacket end")
	xmpmetaBegin   = []byte("<x:xmpmeta")
	xmpmetaEnd     = []byte("</x:xmpmeta>")
)

// pdfHandler blanks metadata in place. Every string of the document
// information dictionary and every XMP packet is overwritten with the same
// number of bytes, so the cross-reference offsets stay valid without
// rewriting the file.
type pdfHandler struct{}

func (pdfHandler) Family() Family { return FamilyDocument }

type pdfRange struct {
	start, end int
	hex        bool
}

// pdfDoc is what the raw scan finds: dictionary strings of every revision
// of the information dictionary, and XMP packets.
type pdfDoc struct {
	trailer   pdf.Value
	info      []pdfRange
	infoDicts []pdfRange
	packets   []pdfRange
}

// pdfValue runs fn, turning panics inside the PDF reader into errors.
func pdfValue(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed object: %v", r)
		}
	}()
	return fn()
}

func openPDF(f *os.File) (*pdfDoc, []byte, error) {
	size, err := fileSize(f)
	if err != nil {
		return nil, nil, err
	}
	data, err := readAt(f, 0, int(size))
	if err != nil {
		return nil, nil, wrapParse(sniff.KindPDF, "read document", err)
	}

	doc := &pdfDoc{}
	err = pdfValue(func() error {
		r, err := pdf.NewReader(bytes.NewReader(data), size)
		if err != nil {
			return err
		}
		doc.trailer = r.Trailer()
		return nil
	})
	if err != nil {
		return nil, nil, wrapParse(sniff.KindPDF, "read trailer", err)
	}

	seen := make(map[string]bool)
	for _, m := range infoRefPattern.FindAllSubmatch(data, -1) {
		key := string(m[1]) + " " + string(m[2])
		if seen[key] {
			continue
		}
		seen[key] = true
		num, _ := strconv.Atoi(string(m[1]))
		gen, _ := strconv.Atoi(string(m[2]))
		for _, dict := range findObjectDicts(data, num, gen) {
			strs, ok := pdfDictStrings(data, dict.start)
			if !ok {
				continue
			}
			doc.infoDicts = append(doc.infoDicts, dict)
			doc.info = append(doc.info, strs...)
		}
	}
	doc.packets = findXMPPackets(data)
	return doc, data, nil
}

// findObjectDicts returns the dictionaries that open every "num gen obj"
// definition in data. Incremental updates can define an object more than
// once.
func findObjectDicts(data []byte, num, gen int) []pdfRange {
	pattern := regexp.MustCompile(fmt.Sprintf(`(?:^|[^0-9])%d\s+%d\s+obj\s*<<`, num, gen))
	var out []pdfRange
	for _, loc := range pattern.FindAllIndex(data, -1) {
		start := loc[1] - 2
		end, ok := pdfDictEnd(data, start)
		if !ok {
			continue
		}
		out = append(out, pdfRange{start: start, end: end})
	}
	return out
}

// pdfDictStrings lists the literal and hex strings of the dictionary
// opening at start, including nested dictionaries. Ranges cover the
// delimiters.
func pdfDictStrings(data []byte, start int) ([]pdfRange, bool) {
	var out []pdfRange
	_, ok := walkPDFDict(data, start, func(r pdfRange) { out = append(out, r) })
	return out, ok
}

func pdfDictEnd(data []byte, start int) (int, bool) {
	return walkPDFDict(data, start, func(pdfRange) {})
}

func walkPDFDict(data []byte, start int, visit func(pdfRange)) (int, bool) {
	depth := 0
	for i := start; i < len(data); i++ {
		c := data[i]
		switch {
		case c == '%':
			for i < len(data) && data[i] != '\n' && data[i] != '\r' {
				i++
			}
		case c == '<' && i+1 < len(data) && data[i+1] == '<':
			depth++
			i++
		case c == '>' && i+1 < len(data) && data[i+1] == '>':
			depth--
			i++
			if depth == 0 {
				return i + 1, true
			}
		case c == '<':
			end := bytes.IndexByte(data[i:], '>')
			if end < 0 {
				return 0, false
			}
			visit(pdfRange{start: i, end: i + end, hex: true})
			i += end
		case c == '(':
			end, ok := literalEnd(data, i)
			if !ok {
				return 0, false
			}
			visit(pdfRange{start: i, end: end})
			i = end
		}
	}
	return 0, false
}

// literalEnd returns the index of the parenthesis closing the literal
// string that opens at start.
func literalEnd(data []byte, start int) (int, bool) {
	nest := 0
	for i := start; i < len(data); i++ {
		switch data[i] {
		case '\\':
			i++
		case '(':
			nest++
		case ')':
			nest--
			if nest == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

func findXMPPackets(data []byte) []pdfRange {
	var out []pdfRange
	find := func(begin, end []byte, tail bool) {
		pos := 0
		for {
			s := bytes.Index(data[pos:], begin)
			if s < 0 {
				return
			}
			s += pos
			e := bytes.Index(data[s:], end)
			if e < 0 {
				return
			}
			e += s + len(end)
			if tail {
				// the end processing instruction runs to "?>"
				stop := bytes.Index(data[e:], []byte("?>"))
				if stop < 0 {
					return
				}
				e += stop + 2
			}
			out = append(out, pdfRange{start: s, end: e - 1})
			pos = e
		}
	}
	find(xpacketBegin, xpacketEnd, true)
	if len(out) == 0 {
		find(xmpmetaBegin, xmpmetaEnd, false)
	}
	return out
}

func (pdfHandler) Extract(f *os.File) (Report, error) {
	doc, data, err := openPDF(f)
	if err != nil {
		return Report{}, err
	}

	var fields []Field
	var dictOffset, dictSize int64
	if n := len(doc.infoDicts); n > 0 {
		last := doc.infoDicts[n-1]
		dictOffset, dictSize = int64(last.start), int64(last.end-last.start)
	}

	err = pdfValue(func() error {
		info := doc.trailer.Key("Info")
		if info.Kind() != pdf.Dict {
			return nil
		}
		for _, key := range info.Keys() {
			v := info.Key(key)
			if v.Kind() != pdf.String {
				continue
			}
			text := strings.Trim(v.Text(), " \x00")
			if text == "" {
				continue
			}
			fields = append(fields, Field{
				Namespace: "PDF",
				Name:      key,
				Kind:      ValueString,
				Value:     text,
				Offset:    dictOffset,
				Size:      dictSize,
			})
		}
		return nil
	})
	if err != nil {
		return Report{}, wrapParse(sniff.KindPDF, "read info dictionary", err)
	}

	for _, p := range doc.packets {
		packet := data[p.start : p.end+1]
		if len(bytes.TrimSpace(packet)) == 0 {
			continue
		}
		fields = append(fields, xmpFields(packet, int64(p.start), int64(p.end-p.start+1))...)
	}

	if len(doc.packets) == 0 {
		var compressed bool
		err = pdfValue(func() error {
			md := doc.trailer.Key("Root").Key("Metadata")
			if md.Kind() != pdf.Stream {
				return nil
			}
			rc := md.Reader()
			defer rc.Close()
			content, err := io.ReadAll(io.LimitReader(rc, maxPNGTextChunk))
			if err != nil {
				return err
			}
			compressed = len(bytes.TrimSpace(content)) > 0
			return nil
		})
		if err == nil && compressed {
			fields = append(fields, Field{
				Namespace: nsXMP,
				Name:      "Metadata",
				Kind:      ValueBlock,
				Value:     "compressed metadata stream",
			})
		}
	}

	return NewReport(sniff.KindPDF, fields), nil
}

// Plan blanks every information dictionary string, including those of
// earlier revisions, and every XMP packet.
func (pdfHandler) Plan(f *os.File, rep Report, opts Options) (Plan, error) {
	residual := Residual(rep, opts)
	if len(residual) == 0 {
		return Plan{}, nil
	}
	for _, field := range residual {
		if field.Size <= 0 {
			return Plan{}, fmt.Errorf("%w: %s is inside a compressed object", ErrNotStrippable, field.Key())
		}
	}

	doc, _, err := openPDF(f)
	if err != nil {
		return Plan{}, err
	}
	var encrypted bool
	_ = pdfValue(func() error {
		encrypted = !doc.trailer.Key("Encrypt").IsNull()
		return nil
	})
	if encrypted {
		return Plan{}, fmt.Errorf("%w: document is encrypted", ErrNotStrippable)
	}

	var edits []Edit
	for _, s := range doc.info {
		inner := s.end - s.start - 1
		if inner <= 0 {
			continue
		}
		fill := bytes.Repeat([]byte{' '}, inner)
		if s.hex {
			fill = hexSpaces(inner)
		}
		edits = append(edits, Overwrite(int64(s.start+1), fill))
	}
	for _, p := range doc.packets {
		edits = append(edits, Overwrite(int64(p.start), bytes.Repeat([]byte{' '}, p.end-p.start+1)))
	}
	return Plan{Edits: dropOverlaps(edits)}, nil
}

// hexSpaces encodes spaces as hex digits. An odd trailing digit is padded
// with zero by readers, so "2" still decodes to a space.
func hexSpaces(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = '2'
		} else {
			out[i] = '0'
		}
	}
	return out
}

// dropOverlaps keeps the first of any edits that overlap, e.g. an
// information dictionary string inside an XMP packet.
func dropOverlaps(edits []Edit) []Edit {
	sort.SliceStable(edits, func(i, j int) bool { return edits[i].Offset < edits[j].Offset })
	out := edits[:0]
	var end int64 = -1
	for _, e := range edits {
		if e.Offset < end {
			continue
		}
		out = append(out, e)
		end = e.Offset + e.Length
	}
	return out
}
