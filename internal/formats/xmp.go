package formats

import (
	"bytes"
	"encoding/xml"
	"strings"
)

const nsXMP = "XMP"

const rdfNamespace = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"

// xmpFields lists the properties of an XMP packet. Properties appear
// either as attributes of rdf:Description or as child elements with
// character data. A packet that does not parse is reported as one block.
func xmpFields(packet []byte, offset, size int64) []Field {
	var fields []Field
	add := func(name, value string) {
		value = strings.TrimSpace(value)
		if name == "" || value == "" {
			return
		}
		fields = append(fields, Field{
			Namespace: nsXMP,
			Name:      name,
			Kind:      ValueString,
			Value:     value,
			Offset:    offset,
			Size:      size,
		})
	}

	dec := xml.NewDecoder(bytes.NewReader(packet))
	dec.Strict = false
	var current string
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			// rdf containers (Seq, Alt, li) keep the enclosing property name
			if t.Name.Space == rdfNamespace {
				if t.Name.Local == "Description" {
					for _, attr := range t.Attr {
						if attr.Name.Space == "xmlns" || attr.Name.Space == rdfNamespace || attr.Name.Local == "xmlns" {
							continue
						}
						add(attr.Name.Local, attr.Value)
					}
				}
				continue
			}
			if t.Name.Space == "adobe:ns:meta/" {
				current = ""
				continue
			}
			current = t.Name.Local
		case xml.CharData:
			if current != "" {
				add(current, string(t))
			}
		case xml.EndElement:
			if t.Name.Space != rdfNamespace {
				current = ""
			}
		}
	}

	if len(fields) == 0 {
		fields = append(fields, Field{
			Namespace: nsXMP,
			Name:      "Packet",
			Kind:      ValueBlock,
			Offset:    offset,
			Size:      size,
		})
	}
	return fields
}
