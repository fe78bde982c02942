package monsoon

// emptyValue is the type of the Empty sentinel.
type emptyValue struct{}

func (emptyValue) String() string { return "<empty>" }

// Empty marks a value as explicitly absent. Absent is distinct from null: an
// absent field is skipped by every dump, while a null is stored as null.
var Empty any = emptyValue{}

// IsEmpty reports whether v is the Empty sentinel.
func IsEmpty(v any) bool {
	_, ok := v.(emptyValue)
	return ok
}

// ParseOptions control how values are validated.
type ParseOptions struct {
	// UseDefaults applies a field's default factory to absent values.
	UseDefaults bool
	// Lenient accepts wire and textual representations (hex object ids,
	// RFC 3339 strings, maps for embedded documents) in addition to the
	// canonical in-memory types.
	Lenient bool
	// FromStorage marks values decoded from the document store, enabling
	// storage-native representations (primitive.DateTime, primitive.Binary).
	FromStorage bool
}

// Mapper validates one logical value shape and serializes it for each output
// surface. Parse returns the canonical in-memory form of v; the Dump methods
// never fail and pass Empty and nil through untouched.
type Mapper interface {
	Parse(v any, opts ParseOptions) (any, error)
	// Dump returns the plain in-memory form.
	Dump(v any) any
	// DumpJSON returns a wire-JSON-ready form.
	DumpJSON(v any) any
	// DumpBSON returns the storage form.
	DumpBSON(v any) any
}

// Policy carries the nullability flag and the default factory that wrap a
// mapper. Null handling and defaulting always run before the wrapped mapper
// sees the value.
type Policy struct {
	Nullable bool
	// Default produces a default for absent values; nil means no default.
	// Returning Empty leaves the value absent.
	Default func() any
}

func (p Policy) defaultValue() any {
	if p.Default == nil {
		return Empty
	}
	return p.Default()
}

// WithPolicy wraps inner so that absent and null values are resolved by p
// before inner validates. Defaults produced by p are validated like any other
// value.
func WithPolicy(inner Mapper, p Policy) Mapper {
	return &policyMapper{inner: inner, policy: p}
}

type policyMapper struct {
	inner  Mapper
	policy Policy
}

func (m *policyMapper) Parse(v any, opts ParseOptions) (any, error) {
	if IsEmpty(v) {
		if opts.UseDefaults {
			v = m.policy.defaultValue()
		}
		if IsEmpty(v) {
			return Empty, nil
		}
	}
	if v == nil {
		if !m.policy.Nullable {
			return nil, issueError(CodeNullValue, "null value not allowed")
		}
		return nil, nil
	}
	return m.inner.Parse(v, opts)
}

func (m *policyMapper) Dump(v any) any {
	if IsEmpty(v) || v == nil {
		return v
	}
	return m.inner.Dump(v)
}

func (m *policyMapper) DumpJSON(v any) any {
	if IsEmpty(v) || v == nil {
		return v
	}
	return m.inner.DumpJSON(v)
}

func (m *policyMapper) DumpBSON(v any) any {
	if IsEmpty(v) || v == nil {
		return v
	}
	return m.inner.DumpBSON(v)
}

// Unwrap returns the mapper beneath any policy wrappers. Schema assembly uses
// it to recognize sequence and reference mappers regardless of nullability.
func Unwrap(m Mapper) Mapper {
	for {
		pm, ok := m.(*policyMapper)
		if !ok {
			return m
		}
		m = pm.inner
	}
}
