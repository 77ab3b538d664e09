package formats

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/sassoftware/relic/v7/lib/comdoc"

	"adamantium/pkg/sniff"
)

const (
	summaryStream    = "\x05SummaryInformation"
	docSummaryStream = "\x05DocumentSummaryInformation"
	maxPropertyData  = 1 << 20
)

var summaryNames = map[uint32]string{
	0x02: "Title",
	0x03: "Subject",
	0x04: "Author",
	0x05: "Keywords",
	0x06: "Comments",
	0x07: "Template",
	0x08: "LastAuthor",
	0x09: "RevisionNumber",
	0x0a: "EditTime",
	0x0b: "LastPrinted",
	0x0c: "CreateTime",
	0x0d: "LastSaveTime",
	0x0e: "PageCount",
	0x0f: "WordCount",
	0x10: "CharCount",
	0x12: "ApplicationName",
	0x13: "Security",
}

var docSummaryNames = map[uint32]string{
	0x02: "Category",
	0x03: "PresentationTarget",
	0x04: "Bytes",
	0x05: "Lines",
	0x06: "Paragraphs",
	0x07: "Slides",
	0x08: "Notes",
	0x09: "HiddenSlides",
	0x0a: "MMClips",
	0x0e: "Manager",
	0x0f: "Company",
	0x1a: "ContentType",
	0x1b: "ContentStatus",
	0x1c: "Language",
	0x1d: "DocVersion",
}

func isPropertyStream(name string) bool {
	return name == summaryStream || name == docSummaryStream
}

// oleHandler reports and deletes the OLE property set streams of legacy
// Office documents and MSI packages.
type oleHandler struct{}

func (oleHandler) Family() Family { return FamilyDocumentLegacy }

func (oleHandler) Extract(f *os.File) (Report, error) {
	doc, err := comdoc.ReadFile(f)
	if err != nil {
		return Report{}, wrapParse(sniff.KindOLE2, "read compound document", err)
	}
	defer doc.Close()

	entries, err := doc.ListDir(nil)
	if err != nil {
		return Report{}, wrapParse(sniff.KindOLE2, "list root storage", err)
	}

	var fields []Field
	for _, e := range entries {
		if e.Type != comdoc.DirStream || !isPropertyStream(e.Name()) {
			continue
		}
		r, err := doc.ReadStream(e)
		if err != nil {
			return Report{}, wrapParse(sniff.KindOLE2, "open "+strings.TrimPrefix(e.Name(), "\x05"), err)
		}
		data, err := io.ReadAll(io.LimitReader(r, maxPropertyData))
		if err != nil {
			return Report{}, wrapParse(sniff.KindOLE2, "read "+strings.TrimPrefix(e.Name(), "\x05"), err)
		}

		namespace, names := "OLE-Summary", summaryNames
		if e.Name() == docSummaryStream {
			namespace, names = "OLE-DocSummary", docSummaryNames
		}
		props := propertySetFields(data, namespace, names, int64(len(data)))
		if len(props) == 0 {
			props = []Field{{
				Namespace: namespace,
				Name:      "PropertySet",
				Kind:      ValueBlock,
				Size:      int64(len(data)),
			}}
		}
		fields = append(fields, props...)
	}

	return NewReport(sniff.KindOLE2, fields), nil
}

// propertySetFields decodes the first property set of a stream in the
// OLE property set format. Unknown or malformed properties are skipped.
func propertySetFields(data []byte, namespace string, names map[uint32]string, size int64) []Field {
	if len(data) < 48 || binary.LittleEndian.Uint16(data[:2]) != 0xfffe {
		return nil
	}
	setOffset := int(binary.LittleEndian.Uint32(data[44:48]))
	if setOffset < 0 || setOffset+8 > len(data) {
		return nil
	}
	set := data[setOffset:]
	count := int(binary.LittleEndian.Uint32(set[4:8]))

	var fields []Field
	codepage := uint16(1252)
	for i := 0; i < count && 8+i*8+8 <= len(set); i++ {
		entry := set[8+i*8:]
		id := binary.LittleEndian.Uint32(entry[:4])
		off := int(binary.LittleEndian.Uint32(entry[4:8]))
		if off < 0 || off+4 > len(set) {
			continue
		}
		vt := binary.LittleEndian.Uint16(set[off : off+2])
		value := set[off+4:]

		if id == 1 && vt == 2 && len(value) >= 2 {
			codepage = binary.LittleEndian.Uint16(value[:2])
			continue
		}
		if id < 2 {
			continue
		}

		name, ok := names[id]
		if !ok {
			name = fmt.Sprintf("Property%d", id)
		}
		field := Field{Namespace: namespace, Name: name, Kind: ValueString, Size: size}
		switch vt {
		case 0x02: // VT_I2
			if len(value) < 2 {
				continue
			}
			field.Kind = ValueInteger
			field.Int = int64(int16(binary.LittleEndian.Uint16(value)))
		case 0x03: // VT_I4
			if len(value) < 4 {
				continue
			}
			field.Kind = ValueInteger
			field.Int = int64(int32(binary.LittleEndian.Uint32(value)))
		case 0x0b: // VT_BOOL
			if len(value) < 2 {
				continue
			}
			field.Value = fmt.Sprintf("%t", binary.LittleEndian.Uint16(value) != 0)
		case 0x1e: // VT_LPSTR
			field.Value = lpstr(value, codepage)
		case 0x1f: // VT_LPWSTR
			field.Value = lpwstr(value)
		case 0x40: // VT_FILETIME
			if len(value) < 8 {
				continue
			}
			field.Value = filetime(binary.LittleEndian.Uint64(value), name == "EditTime")
		default:
			field.Kind = ValueBinary
			field.Value = fmt.Sprintf("type 0x%04x", vt)
		}
		if field.Kind == ValueString && field.Value == "" {
			continue
		}
		fields = append(fields, field)
	}
	return fields
}

func lpstr(b []byte, codepage uint16) string {
	if len(b) < 4 {
		return ""
	}
	n := int(binary.LittleEndian.Uint32(b[:4]))
	if n < 0 || 4+n > len(b) {
		return ""
	}
	s := b[4 : 4+n]
	if codepage == 1200 {
		return lpwstrBytes(s)
	}
	return strings.TrimRight(decodeID3Text(0, s), "\x00 /")
}

func lpwstr(b []byte) string {
	if len(b) < 4 {
		return ""
	}
	n := int(binary.LittleEndian.Uint32(b[:4])) * 2
	if n < 0 || 4+n > len(b) {
		return ""
	}
	return lpwstrBytes(b[4 : 4+n])
}

func lpwstrBytes(b []byte) string {
	u := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		c := binary.LittleEndian.Uint16(b[i:])
		if c == 0 {
			break
		}
		u = append(u, c)
	}
	return string(utf16.Decode(u))
}

// filetime converts 100ns intervals since 1601. EditTime holds a duration
// in the same unit.
func filetime(v uint64, duration bool) string {
	if duration {
		return (time.Duration(v) * 100).String()
	}
	if v == 0 {
		return ""
	}
	const epochDelta = 116444736000000000
	if v < epochDelta {
		return ""
	}
	return time.Unix(0, int64(v-epochDelta)*100).UTC().Format(time.RFC3339)
}

// Plan copies the document and deletes the property streams from the copy
// through the compound document writer. Every other stream keeps its
// sectors.
func (oleHandler) Plan(f *os.File, rep Report, opts Options) (Plan, error) {
	if len(Residual(rep, opts)) == 0 {
		return Plan{}, nil
	}

	var streams []string
	for _, ns := range []string{"OLE-Summary", "OLE-DocSummary"} {
		for _, field := range rep.fields {
			if field.Namespace == ns {
				name := summaryStream
				if ns == "OLE-DocSummary" {
					name = docSummaryStream
				}
				streams = append(streams, name)
				break
			}
		}
	}

	rewrite := func(dst *os.File) error {
		size, err := fileSize(f)
		if err != nil {
			return err
		}
		if _, err := io.Copy(dst, io.NewSectionReader(f, 0, size)); err != nil {
			return fmt.Errorf("copy compound document: %w", err)
		}
		doc, err := comdoc.WritePath(dst.Name())
		if err != nil {
			return fmt.Errorf("open compound document for writing: %w", err)
		}
		for _, name := range streams {
			if err := doc.DeleteFile(name); err != nil {
				doc.Close()
				return fmt.Errorf("delete %s: %w", strings.TrimPrefix(name, "\x05"), err)
			}
		}
		return doc.Close()
	}
	return Plan{Rewrite: rewrite}, nil
}

// Payload hashes the names and contents of every root stream other than
// the property sets.
func (oleHandler) Payload(f *os.File) (string, error) {
	doc, err := comdoc.ReadFile(f)
	if err != nil {
		return "", wrapParse(sniff.KindOLE2, "read compound document", err)
	}
	defer doc.Close()

	entries, err := doc.ListDir(nil)
	if err != nil {
		return "", wrapParse(sniff.KindOLE2, "list root storage", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	h := newDigest()
	for _, e := range entries {
		if e.Type != comdoc.DirStream || isPropertyStream(e.Name()) {
			continue
		}
		r, err := doc.ReadStream(e)
		if err != nil {
			return "", wrapParse(sniff.KindOLE2, "open stream", err)
		}
		fmt.Fprintf(h, "%s\x00", e.Name())
		if _, err := io.Copy(h, r); err != nil {
			return "", err
		}
	}
	return sumHex(h), nil
}
