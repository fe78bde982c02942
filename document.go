package monsoon

import (
	j "github.com/goccy/go-json"
	"go.mongodb.org/mongo-driver/bson"
)

// Document is one validated instance of a schema. Values live under field
// names in their canonical in-memory form; a missing entry means the field is
// absent, a nil entry is an explicit null.
type Document struct {
	schema *Schema
	values map[string]any
}

// New validates data strictly, applies declared defaults and returns the
// document. Keys are matched by stored key first, then by field name; unknown
// keys are ignored. All field errors are reported together.
func (s *Schema) New(data map[string]any) (*Document, error) {
	return s.Parse(data, ParseOptions{UseDefaults: true})
}

// Parse validates data under the given options.
func (s *Schema) Parse(data map[string]any, opts ParseOptions) (*Document, error) {
	doc := &Document{schema: s, values: make(map[string]any, len(s.fields))}
	var issues []Issue
	for _, f := range s.fields {
		v, ok := data[f.Alias()]
		if !ok {
			v, ok = data[f.name]
		}
		if !ok {
			v = Empty
		}
		out, err := f.Parse(v, opts)
		if err != nil {
			if ve, isValidation := AsValidationError(err); isValidation {
				issues = AppendIssues(issues, ve.Issues...)
			} else {
				issues = AppendIssues(issues, Issue{Path: f.name, Code: CodeParseError, Message: err.Error(), Cause: err})
			}
			continue
		}
		if !IsEmpty(out) {
			doc.values[f.name] = out
		}
	}
	if len(issues) > 0 {
		return nil, &ValidationError{Doc: s.name, Issues: issues}
	}
	return doc, nil
}

// ParseJSON decodes a JSON object and validates it leniently, applying
// defaults.
func (s *Schema) ParseJSON(data []byte) (*Document, error) {
	var raw map[string]any
	if err := j.Unmarshal(data, &raw); err != nil {
		return nil, &ValidationError{Doc: s.name, Issues: []Issue{{Code: CodeParseError, Message: err.Error(), Cause: err}}}
	}
	return s.Parse(raw, ParseOptions{UseDefaults: true, Lenient: true})
}

// Schema returns the schema the document was validated against.
func (d *Document) Schema() *Schema { return d.schema }

// Get returns the canonical value of the named field, or Empty when the field
// is absent.
func (d *Document) Get(name string) (any, error) {
	f, ok := d.schema.byName[name]
	if !ok {
		return nil, schemaErrorf(d.schema.name, "field %s not found or not declared yet", name)
	}
	v, ok := d.values[f.name]
	if !ok {
		return Empty, nil
	}
	return v, nil
}

// Set validates v for the named field and stores the result. A value that
// resolves to Empty leaves the document unchanged.
func (d *Document) Set(name string, v any) error {
	f, ok := d.schema.byName[name]
	if !ok {
		return schemaErrorf(d.schema.name, "field %s not found or not declared yet", name)
	}
	out, err := f.Parse(v, ParseOptions{})
	if err != nil {
		if ve, isValidation := AsValidationError(err); isValidation {
			ve.Doc = d.schema.name
			return ve
		}
		return err
	}
	if IsEmpty(out) {
		return nil
	}
	d.values[f.name] = out
	return nil
}

// Unset removes the named field's value.
func (d *Document) Unset(name string) error {
	f, ok := d.schema.byName[name]
	if !ok {
		return schemaErrorf(d.schema.name, "field %s not found or not declared yet", name)
	}
	delete(d.values, f.name)
	return nil
}

// ID returns the identity value, or Empty when unset or when the schema is
// embedded.
func (d *Document) ID() any {
	if d.schema.idField == nil {
		return Empty
	}
	v, ok := d.values[d.schema.idField.name]
	if !ok {
		return Empty
	}
	return v
}

// Dump returns the plain in-memory form keyed by field name. Absent fields
// are skipped; nulls are kept.
func (d *Document) Dump() map[string]any {
	out := make(map[string]any, len(d.values))
	for _, f := range d.schema.fields {
		v, ok := d.values[f.name]
		if !ok {
			continue
		}
		out[f.name] = f.mapper.Dump(v)
	}
	return out
}

// DumpJSON returns the wire form keyed by field name. Absent fields are
// skipped; nulls are kept.
func (d *Document) DumpJSON() map[string]any {
	out := make(map[string]any, len(d.values))
	for _, f := range d.schema.fields {
		v, ok := d.values[f.name]
		if !ok {
			continue
		}
		out[f.name] = f.mapper.DumpJSON(v)
	}
	return out
}

// DumpBSON returns the storage form keyed by stored key. Absent and null
// fields are skipped. Reference fields store only the referenced key value,
// under the reference's key name; referenced documents that do not carry the
// key yet are skipped.
func (d *Document) DumpBSON() bson.M {
	out := bson.M{}
	for _, f := range d.schema.fields {
		v, ok := d.values[f.name]
		if !ok || v == nil {
			continue
		}
		dumped := f.mapper.DumpBSON(v)
		key := f.Alias()
		if f.ref != nil {
			key = f.ref.keyName
			if items, isList := dumped.([]any); isList && f.ref.isMany {
				vals := make([]any, 0, len(items))
				for _, it := range items {
					if IsEmpty(it) || it == nil {
						continue
					}
					vals = append(vals, it)
				}
				dumped = vals
			}
		}
		if IsEmpty(dumped) {
			continue
		}
		out[key] = dumped
	}
	return out
}

// MarshalJSON encodes the wire form of the document.
func (d *Document) MarshalJSON() ([]byte, error) {
	return j.Marshal(d.DumpJSON())
}

// fieldBSON returns the storage form of one field, or Empty when the field
// is absent or null.
func (d *Document) fieldBSON(name string) any {
	f, ok := d.schema.byName[name]
	if !ok {
		return Empty
	}
	v, ok := d.values[name]
	if !ok || v == nil {
		return Empty
	}
	return f.mapper.DumpBSON(v)
}
