package monsoon

import (
	js "github.com/reoring/monsoon/jsonschema"
)

// JSONSchema projects the document schema onto its wire-JSON shape: the form
// MarshalJSON produces and ParseJSON accepts. Embedded and referenced
// documents project recursively; a cycle falls back to a bare object node.
func (s *Schema) JSONSchema() (*js.Schema, error) {
	return objectJSONSchema(s, map[*Schema]bool{})
}

func objectJSONSchema(s *Schema, seen map[*Schema]bool) (*js.Schema, error) {
	if seen[s] {
		return &js.Schema{Type: "object"}, nil
	}
	seen[s] = true
	defer delete(seen, s)

	node := &js.Schema{
		Type:       "object",
		Properties: make(map[string]*js.Schema, len(s.fields)),
	}
	for _, f := range s.fields {
		fs, err := mapperJSONSchema(f.mapper, seen)
		if err != nil {
			return nil, schemaErrorf(s.name, "cannot describe field %s: %v", f.name, err)
		}
		node.Properties[f.name] = fs
	}
	return node, nil
}

func mapperJSONSchema(m Mapper, seen map[*Schema]bool) (*js.Schema, error) {
	switch t := m.(type) {
	case *policyMapper:
		inner, err := mapperJSONSchema(t.inner, seen)
		if err != nil {
			return nil, err
		}
		if t.policy.Nullable {
			return &js.Schema{OneOf: []*js.Schema{inner, {Type: "null"}}}, nil
		}
		return inner, nil
	case boolMapper:
		return &js.Schema{Type: "boolean"}, nil
	case *stringMapper:
		node := &js.Schema{Type: "string"}
		if t.minLen >= 0 {
			node.MinLength = ptr(t.minLen)
		}
		if t.maxLen >= 0 {
			node.MaxLength = ptr(t.maxLen)
		}
		if t.pattern != nil {
			node.Pattern = t.pattern.String()
		}
		for _, c := range t.choices {
			node.Enum = append(node.Enum, c)
		}
		return node, nil
	case *intMapper:
		node := &js.Schema{Type: "integer"}
		fillBounds(node, t.bounds)
		if t.multipleOf != 0 {
			node.MultipleOf = ptr(float64(t.multipleOf))
		}
		return node, nil
	case *floatMapper:
		node := &js.Schema{Type: "number"}
		fillBounds(node, t.bounds)
		return node, nil
	case *decimalMapper:
		return &js.Schema{Type: "string", Format: "decimal"}, nil
	case objectIDMapper:
		return &js.Schema{Type: "string", Format: "objectid", Pattern: "^[0-9a-fA-F]{24}$"}, nil
	case uuidMapper:
		return &js.Schema{Type: "string", Format: "uuid"}, nil
	case binaryMapper:
		return &js.Schema{Type: "string", Format: "base64"}, nil
	case jsonMapper, rawMapper:
		return &js.Schema{Type: "object"}, nil
	case *dateTimeMapper:
		return &js.Schema{Type: "string", Format: "date-time"}, nil
	case *dateMapper:
		return &js.Schema{Type: "string", Format: "date"}, nil
	case *clockTimeMapper:
		return &js.Schema{Type: "string", Format: "time"}, nil
	case *timestampMapper:
		return &js.Schema{Type: "integer", Format: "unix-ms"}, nil
	case *sequenceMapper:
		items, err := mapperJSONSchema(t.elem, seen)
		if err != nil {
			return nil, err
		}
		node := &js.Schema{Type: "array", Items: items}
		if t.minItems >= 0 {
			node.MinItems = ptr(t.minItems)
		}
		if t.maxItems >= 0 {
			node.MaxItems = ptr(t.maxItems)
		}
		return node, nil
	case *embeddedMapper:
		target, err := t.target.Schema()
		if err != nil {
			return nil, err
		}
		return objectJSONSchema(target, seen)
	case *referencedMapper:
		target, err := t.target.Schema()
		if err != nil {
			return nil, err
		}
		return objectJSONSchema(target, seen)
	case formatMapper:
		return &js.Schema{Type: "string", Format: t.format}, nil
	case geometryMapper:
		return &js.Schema{
			Type: "object",
			Properties: map[string]*js.Schema{
				"type":        {Type: "string", Enum: []any{t.kind}},
				"coordinates": {Type: "array"},
			},
			Required: []string{"type", "coordinates"},
		}, nil
	default:
		// Custom registered mappers carry no description of their own.
		return &js.Schema{}, nil
	}
}

func fillBounds[T int64 | float64](node *js.Schema, b boundSet[T]) {
	if b.gte != nil {
		node.Minimum = ptr(float64(*b.gte))
	}
	if b.gt != nil {
		node.ExclusiveMinimum = ptr(float64(*b.gt))
	}
	if b.lte != nil {
		node.Maximum = ptr(float64(*b.lte))
	}
	if b.lt != nil {
		node.ExclusiveMaximum = ptr(float64(*b.lt))
	}
}
