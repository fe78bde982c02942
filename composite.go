package monsoon

import (
	"strconv"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
)

// docHandle points at a document schema that may not be registered yet.
// Resolution is deferred to first use so documents can reference each other
// regardless of declaration order.
type docHandle struct {
	mu     sync.Mutex
	reg    *Registry
	name   string
	schema *Schema
}

func handleFor(reg *Registry, name string) *docHandle {
	return &docHandle{reg: reg, name: name}
}

func handleOf(s *Schema) *docHandle {
	return &docHandle{schema: s, name: s.Name()}
}

func (h *docHandle) Name() string { return h.name }

func (h *docHandle) Schema() (*Schema, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.schema != nil {
		return h.schema, nil
	}
	s, err := h.reg.Resolve(h.name)
	if err != nil {
		return nil, err
	}
	h.schema = s
	return s, nil
}

// asDocMap normalizes the map shapes a document value may arrive in.
func asDocMap(v any, opts ParseOptions) (map[string]any, bool) {
	switch x := v.(type) {
	case map[string]any:
		return x, true
	case bson.M:
		return map[string]any(x), true
	case bson.D:
		if opts.FromStorage {
			return x.Map(), true
		}
	}
	return nil, false
}

// ---- sequences ----

type sequenceMapper struct {
	elem     Mapper
	minItems int
	maxItems int
}

func newSequenceMapper(elem Mapper) *sequenceMapper {
	return &sequenceMapper{elem: elem, minItems: -1, maxItems: -1}
}

// Parse validates every element even after the first failure, so one pass
// reports all broken indices.
func (m *sequenceMapper) Parse(v any, opts ParseOptions) (any, error) {
	items, ok := sliceElems(v)
	if !ok {
		return nil, issueError(CodeInvalidType, "expected array, got %T", v)
	}
	if m.minItems >= 0 && len(items) < m.minItems {
		return nil, issueError(CodeTooShort, "array must have at least %d items", m.minItems)
	}
	if m.maxItems >= 0 && len(items) > m.maxItems {
		return nil, issueError(CodeTooLong, "array must have at most %d items", m.maxItems)
	}
	out := make([]any, len(items))
	var issues []Issue
	for i, item := range items {
		parsed, err := m.elem.Parse(item, opts)
		if err != nil {
			issues = AppendIssues(issues, wrapIssues(strconv.Itoa(i), err).Issues...)
			continue
		}
		out[i] = parsed
	}
	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}
	return out, nil
}

func (m *sequenceMapper) Dump(v any) any {
	return m.dumpEach(v, m.elem.Dump)
}

func (m *sequenceMapper) DumpJSON(v any) any {
	return m.dumpEach(v, m.elem.DumpJSON)
}

func (m *sequenceMapper) DumpBSON(v any) any {
	return m.dumpEach(v, m.elem.DumpBSON)
}

func (m *sequenceMapper) dumpEach(v any, dump func(any) any) any {
	items, ok := v.([]any)
	if !ok {
		return v
	}
	out := make([]any, len(items))
	for i, item := range items {
		if IsEmpty(item) || item == nil {
			out[i] = item
			continue
		}
		out[i] = dump(item)
	}
	return out
}

// ---- embedded documents ----

// embeddedMapper validates a full sub-document against its schema. The
// canonical in-memory form is *Document.
type embeddedMapper struct {
	target *docHandle
}

func (m *embeddedMapper) Parse(v any, opts ParseOptions) (any, error) {
	target, err := m.target.Schema()
	if err != nil {
		return nil, err
	}
	if doc, ok := v.(*Document); ok {
		if !doc.Schema().extends(target) {
			return nil, issueError(CodeInvalidType, "expected %s document, got %s", target.Name(), doc.Schema().Name())
		}
		return doc, nil
	}
	data, ok := asDocMap(v, opts)
	if !ok {
		return nil, issueError(CodeInvalidType, "expected %s document, got %T", target.Name(), v)
	}
	return target.Parse(data, opts)
}

func (*embeddedMapper) Dump(v any) any {
	if doc, ok := v.(*Document); ok {
		return doc.Dump()
	}
	return v
}

func (*embeddedMapper) DumpJSON(v any) any {
	if doc, ok := v.(*Document); ok {
		return doc.DumpJSON()
	}
	return v
}

func (*embeddedMapper) DumpBSON(v any) any {
	if doc, ok := v.(*Document); ok {
		return doc.DumpBSON()
	}
	return v
}

// ---- referenced documents ----

// referencedMapper validates a reference to a row in another collection. In
// memory the value is the full *Document; in storage only the referenced key
// survives, written under the owning field's key name by Document.DumpBSON.
type referencedMapper struct {
	target   *docHandle
	refField string
	keyName  string
}

func (m *referencedMapper) Parse(v any, opts ParseOptions) (any, error) {
	target, err := m.target.Schema()
	if err != nil {
		return nil, err
	}
	if target.Embedded() {
		return nil, schemaErrorf(target.Name(), "embedded document %s cannot be referenced", target.Name())
	}
	doc, ok := v.(*Document)
	if ok {
		if !doc.Schema().extends(target) {
			return nil, issueError(CodeInvalidType, "expected %s document, got %s", target.Name(), doc.Schema().Name())
		}
	} else {
		data, isMap := asDocMap(v, opts)
		if !isMap {
			return nil, issueError(CodeInvalidType, "expected %s document, got %T", target.Name(), v)
		}
		doc, err = target.Parse(data, opts)
		if err != nil {
			return nil, err
		}
	}
	// A reference is flattened to the ref field's value at save time, so the
	// document must already carry it.
	rv, err := doc.Get(m.refField)
	if err != nil {
		return nil, err
	}
	if IsEmpty(rv) || rv == nil {
		return nil, issueError(CodeRequired, "referenced %s document does not carry a %s value", target.Name(), m.refField)
	}
	return doc, nil
}

func (*referencedMapper) Dump(v any) any {
	if doc, ok := v.(*Document); ok {
		return doc.Dump()
	}
	return v
}

func (*referencedMapper) DumpJSON(v any) any {
	if doc, ok := v.(*Document); ok {
		return doc.DumpJSON()
	}
	return v
}

// DumpBSON reduces the referenced document to its referenced key value. A
// document that does not carry the key yet reduces to Empty and is skipped by
// the owning dump.
func (m *referencedMapper) DumpBSON(v any) any {
	doc, ok := v.(*Document)
	if !ok {
		return v
	}
	return doc.fieldBSON(m.refField)
}
