package formats

import (
	"bytes"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"adamantium/pkg/sniff"
)

// MS-DOS date of 1980-01-01, the earliest a zip entry can carry.
const (
	dosEpochDate = 1<<5 | 1
	dosEpochTime = 0
)

// Extra field IDs that record timestamps or file ownership.
var zipIdentityExtras = map[uint16]string{
	0x000a: "NTFS times",
	0x000d: "Unix owner",
	0x5455: "extended timestamp",
	0x5855: "Info-ZIP Unix",
	0x7855: "Info-ZIP Unix owner",
	0x7875: "Info-ZIP Unix owner",
}

var (
	emptyCoreProps = []byte(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n" +
		`<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties" ` +
		`xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:dcterms="http://purl.org/dc/terms/" ` +
		`xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"></cp:coreProperties>`)
	emptyAppProps = []byte(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n" +
		`<Properties xmlns="http://schemas.openxmlformats.org/officeDocument/2006/extended-properties" ` +
		`xmlns:vt="http://schemas.openxmlformats.org/officeDocument/2006/docPropsVTypes"></Properties>`)
	emptyCustomProps = []byte(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n" +
		`<Properties xmlns="http://schemas.openxmlformats.org/officeDocument/2006/custom-properties" ` +
		`xmlns:vt="http://schemas.openxmlformats.org/officeDocument/2006/docPropsVTypes"></Properties>`)
	emptyODFMeta = []byte(`<?xml version="1.0" encoding="UTF-8"?>` + "\n" +
		`<office:document-meta xmlns:office="urn:oasis:names:tc:opendocument:xmlns:office:1.0" ` +
		`office:version="1.2"><office:meta/></office:document-meta>`)
)

// zipHandler covers plain zip archives and the office formats built on
// them. Property parts are replaced with empty documents rather than
// dropped, since the package relationships still point at them.
type zipHandler struct {
	kind sniff.Kind
}

func (h zipHandler) Family() Family {
	if h.kind == sniff.KindZIP {
		return FamilyArchive
	}
	return FamilyDocumentZip
}

// propertyParts maps metadata part names to their blank replacement.
func (h zipHandler) propertyParts() map[string][]byte {
	switch h.kind {
	case sniff.KindOOXML:
		return map[string][]byte{
			"docProps/core.xml":   emptyCoreProps,
			"docProps/app.xml":    emptyAppProps,
			"docProps/custom.xml": emptyCustomProps,
		}
	case sniff.KindODF:
		return map[string][]byte{"meta.xml": emptyODFMeta}
	}
	return nil
}

func (h zipHandler) open(f *os.File) (*zip.Reader, error) {
	size, err := fileSize(f)
	if err != nil {
		return nil, err
	}
	zr, err := zip.NewReader(f, size)
	if err != nil {
		return nil, wrapParse(h.kind, "read central directory", err)
	}
	return zr, nil
}

func (h zipHandler) Extract(f *os.File) (Report, error) {
	zr, err := h.open(f)
	if err != nil {
		return Report{}, err
	}
	parts := h.propertyParts()

	var fields []Field
	if zr.Comment != "" {
		fields = append(fields, Field{
			Namespace: "ZIP",
			Name:      "Comment",
			Kind:      ValueString,
			Value:     zr.Comment,
		})
	}
	for _, zf := range zr.File {
		offset, _ := zf.DataOffset()
		size := int64(zf.CompressedSize64)
		entry := func(name, value string) {
			fields = append(fields, Field{
				Namespace: "ZIP",
				Name:      name + ":" + zf.Name,
				Kind:      ValueString,
				Value:     value,
				Offset:    offset,
				Size:      size,
			})
		}

		if zf.Comment != "" {
			entry("Comment", zf.Comment)
		}
		if !isDOSEpoch(zf.ModifiedDate, zf.ModifiedTime) {
			entry("ModTime", zf.Modified.UTC().Format("2006-01-02 15:04:05"))
		}
		for _, id := range zipExtraIDs(zf.Extra) {
			if label, ok := zipIdentityExtras[id]; ok {
				entry("Extra", label)
			}
		}

		if _, ok := parts[zf.Name]; !ok {
			continue
		}
		data, err := readZipEntry(zf)
		if err != nil {
			return Report{}, wrapParse(h.kind, "read "+zf.Name, err)
		}
		fields = append(fields, xmlPropertyFields(data, h.partNamespace(zf.Name), offset, size)...)
	}

	return NewReport(h.kind, fields), nil
}

func (h zipHandler) partNamespace(name string) string {
	switch name {
	case "docProps/core.xml":
		return "OOXML-Core"
	case "docProps/app.xml":
		return "OOXML-App"
	case "docProps/custom.xml":
		return "OOXML-Custom"
	default:
		return "ODF-Meta"
	}
}

func isDOSEpoch(date, tm uint16) bool {
	return tm == dosEpochTime && (date == dosEpochDate || date == 0)
}

func zipExtraIDs(extra []byte) []uint16 {
	var ids []uint16
	for len(extra) >= 4 {
		id := binary.LittleEndian.Uint16(extra[:2])
		n := int(binary.LittleEndian.Uint16(extra[2:4]))
		if 4+n > len(extra) {
			break
		}
		ids = append(ids, id)
		extra = extra[4+n:]
	}
	return ids
}

func readZipEntry(zf *zip.File) ([]byte, error) {
	rc, err := zf.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, maxPNGTextChunk))
}

// xmlPropertyFields reports every element carrying text, named by its
// local name. Custom properties use their name attribute instead.
func xmlPropertyFields(data []byte, namespace string, offset, size int64) []Field {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false

	var fields []Field
	var stack []string
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			name := t.Name.Local
			for _, attr := range t.Attr {
				if attr.Name.Local == "name" && t.Name.Local == "property" {
					name = attr.Value
				}
			}
			if t.Name.Local == "user-defined" {
				for _, attr := range t.Attr {
					if attr.Name.Local == "name" {
						name = attr.Value
					}
				}
			}
			stack = append(stack, name)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			value := strings.TrimSpace(string(t))
			if value == "" || len(stack) == 0 {
				continue
			}
			name := stack[len(stack)-1]
			if strings.HasPrefix(name, "lp") || name == "i4" || name == "bool" || name == "filetime" {
				// vt:* value wrappers take the name of their property
				if len(stack) >= 2 {
					name = stack[len(stack)-2]
				}
			}
			fields = append(fields, Field{
				Namespace: namespace,
				Name:      name,
				Kind:      ValueString,
				Value:     value,
				Offset:    offset,
				Size:      size,
			})
		}
	}
	return fields
}

// Plan rebuilds the archive. Entries are copied with their compressed
// bytes untouched; only headers and property parts change.
func (h zipHandler) Plan(f *os.File, rep Report, opts Options) (Plan, error) {
	if len(Residual(rep, opts)) == 0 {
		return Plan{}, nil
	}
	zr, err := h.open(f)
	if err != nil {
		return Plan{}, err
	}
	parts := h.propertyParts()

	rewrite := func(dst *os.File) error {
		zw := zip.NewWriter(dst)
		for _, zf := range zr.File {
			hdr := zf.FileHeader
			hdr.Comment = ""
			hdr.Extra = nil
			hdr.Modified = time.Time{}
			hdr.ModifiedDate = dosEpochDate
			hdr.ModifiedTime = dosEpochTime

			if blank, ok := parts[zf.Name]; ok {
				hdr.Method = zip.Deflate
				hdr.Flags = 0
				w, err := zw.CreateHeader(&hdr)
				if err != nil {
					return fmt.Errorf("create %s: %w", zf.Name, err)
				}
				if _, err := w.Write(blank); err != nil {
					return fmt.Errorf("write %s: %w", zf.Name, err)
				}
				continue
			}

			raw, err := zf.OpenRaw()
			if err != nil {
				return fmt.Errorf("open %s: %w", zf.Name, err)
			}
			w, err := zw.CreateRaw(&hdr)
			if err != nil {
				return fmt.Errorf("create %s: %w", zf.Name, err)
			}
			if _, err := io.Copy(w, raw); err != nil {
				return fmt.Errorf("copy %s: %w", zf.Name, err)
			}
		}
		return zw.Close()
	}
	return Plan{Rewrite: rewrite}, nil
}

// Payload hashes the name, CRC and length of every entry that is not a
// property part.
func (h zipHandler) Payload(f *os.File) (string, error) {
	zr, err := h.open(f)
	if err != nil {
		return "", err
	}
	parts := h.propertyParts()

	d := newDigest()
	for _, zf := range zr.File {
		if _, ok := parts[zf.Name]; ok {
			continue
		}
		fmt.Fprintf(d, "%s\x00%08x\x00%d\n", zf.Name, zf.CRC32, zf.UncompressedSize64)
	}
	return sumHex(d), nil
}
