package formats

import (
	"encoding/json"
	"fmt"

	"adamantium/pkg/sniff"
)

// ValueKind classifies the value carried by a Field.
type ValueKind int

const (
	ValueString ValueKind = iota
	ValueInteger
	ValueBinary
	ValueBlock
)

func (k ValueKind) String() string {
	switch k {
	case ValueInteger:
		return "integer"
	case ValueBinary:
		return "binary"
	case ValueBlock:
		return "block"
	default:
		return "string"
	}
}

// Field is one metadata item found in a file. Offset and Size locate the
// structure that carries it in the source byte stream.
type Field struct {
	Namespace string
	Name      string
	Kind      ValueKind
	Value     string
	Int       int64
	Offset    int64
	Size      int64
	// Required marks fields the format mandates; they are reported but
	// never stripped.
	Required bool
}

// Key returns the namespaced field name, e.g. "EXIF:GPSLatitude".
func (f Field) Key() string {
	return f.Namespace + ":" + f.Name
}

func (f Field) String() string {
	switch f.Kind {
	case ValueInteger:
		return fmt.Sprintf("%s = %d", f.Key(), f.Int)
	case ValueBinary, ValueBlock:
		if f.Value != "" {
			return fmt.Sprintf("%s = %s", f.Key(), f.Value)
		}
		return fmt.Sprintf("%s (%d bytes)", f.Key(), f.Size)
	default:
		return fmt.Sprintf("%s = %s", f.Key(), f.Value)
	}
}

// Report is the ordered list of fields extracted from one file. It is
// immutable once built.
type Report struct {
	kind   sniff.Kind
	fields []Field
}

// NewReport copies fields into a new Report.
func NewReport(kind sniff.Kind, fields []Field) Report {
	cp := make([]Field, len(fields))
	copy(cp, fields)
	return Report{kind: kind, fields: cp}
}

func (r Report) Kind() sniff.Kind { return r.kind }

func (r Report) Len() int { return len(r.fields) }

// Fields returns a copy of the report's fields.
func (r Report) Fields() []Field {
	cp := make([]Field, len(r.fields))
	copy(cp, r.fields)
	return cp
}

// Strippable returns the fields that are not marked Required.
func (r Report) Strippable() []Field {
	var out []Field
	for _, f := range r.fields {
		if !f.Required {
			out = append(out, f)
		}
	}
	return out
}

// Clean reports whether nothing strippable was found.
func (r Report) Clean() bool {
	for _, f := range r.fields {
		if !f.Required {
			return false
		}
	}
	return true
}

// Has reports whether a field with the given namespace and name exists.
func (r Report) Has(namespace, name string) bool {
	for _, f := range r.fields {
		if f.Namespace == namespace && f.Name == name {
			return true
		}
	}
	return false
}

type fieldJSON struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Value     string `json:"value,omitempty"`
	Int       *int64 `json:"int,omitempty"`
	Offset    int64  `json:"offset"`
	Size      int64  `json:"size"`
	Required  bool   `json:"required,omitempty"`
}

func (f Field) MarshalJSON() ([]byte, error) {
	out := fieldJSON{
		Namespace: f.Namespace,
		Name:      f.Name,
		Kind:      f.Kind.String(),
		Value:     f.Value,
		Offset:    f.Offset,
		Size:      f.Size,
		Required:  f.Required,
	}
	if f.Kind == ValueInteger {
		v := f.Int
		out.Int = &v
	}
	return json.Marshal(out)
}

func (r Report) MarshalJSON() ([]byte, error) {
	fields := r.fields
	if fields == nil {
		fields = []Field{}
	}
	return json.Marshal(struct {
		Format string  `json:"format"`
		Fields []Field `json:"fields"`
	}{Format: r.kind.String(), Fields: fields})
}
