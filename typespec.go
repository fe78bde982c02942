package monsoon

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TypeSpec describes the shape of one document field. A spec is an inert
// value descriptor; the schema builder compiles it into a mapper. The set of
// specs is closed: composition happens through List and Nullable, never
// through user implementations.
type TypeSpec interface {
	build(reg *Registry) (Mapper, error)
}

// compileSpec turns a field annotation into its mapper. The shape grammar is
// small: Nullable marks and unwraps, List wraps exactly one level, anything
// else resolves to a concrete mapper. A list inside a list is a definition
// error.
func compileSpec(spec TypeSpec, reg *Registry) (Mapper, bool, error) {
	spec, nullable := stripNullable(spec)
	l, ok := spec.(ListSpec)
	if !ok {
		m, err := spec.build(reg)
		return m, nullable, err
	}
	elemSpec, elemNullable := stripNullable(l.elem)
	if _, nested := elemSpec.(ListSpec); nested {
		return nil, false, errors.New("list of list is not supported, embed a document instead")
	}
	elem, err := elemSpec.build(reg)
	if err != nil {
		return nil, false, err
	}
	if elemNullable {
		elem = WithPolicy(elem, Policy{Nullable: true})
	}
	sm := newSequenceMapper(elem)
	sm.minItems = l.minItems
	sm.maxItems = l.maxItems
	return sm, nullable, nil
}

func stripNullable(spec TypeSpec) (TypeSpec, bool) {
	nullable := false
	for {
		n, ok := spec.(NullableSpec)
		if !ok {
			return spec, nullable
		}
		nullable = true
		spec = n.inner
	}
}

// NullableSpec marks the wrapped spec as accepting null.
type NullableSpec struct {
	inner TypeSpec
}

// Nullable allows null for the wrapped spec. On a field it makes the stored
// value nullable; on a list element it allows null entries.
func Nullable(inner TypeSpec) NullableSpec { return NullableSpec{inner: inner} }

func (s NullableSpec) build(reg *Registry) (Mapper, error) {
	m, err := s.inner.build(reg)
	if err != nil {
		return nil, err
	}
	return WithPolicy(m, Policy{Nullable: true}), nil
}

// ListSpec wraps an element spec into an array.
type ListSpec struct {
	elem     TypeSpec
	minItems int
	maxItems int
}

// List declares an array of elem. Lists do not nest.
func List(elem TypeSpec) ListSpec { return ListSpec{elem: elem, minItems: -1, maxItems: -1} }

func (s ListSpec) MinItems(n int) ListSpec { s.minItems = n; return s }
func (s ListSpec) MaxItems(n int) ListSpec { s.maxItems = n; return s }

func (s ListSpec) build(reg *Registry) (Mapper, error) {
	m, _, err := compileSpec(s, reg)
	return m, err
}

// ---- scalars ----

// StringSpec declares a string field.
type StringSpec struct {
	minLen  int
	maxLen  int
	choices []string
	pattern string
}

func String() StringSpec { return StringSpec{minLen: -1, maxLen: -1} }

func (s StringSpec) MinLen(n int) StringSpec { s.minLen = n; return s }
func (s StringSpec) MaxLen(n int) StringSpec { s.maxLen = n; return s }

// Choices restricts the value to the given set.
func (s StringSpec) Choices(vals ...string) StringSpec { s.choices = vals; return s }

// Pattern restricts the value to match expr. The expression is compiled when
// the schema is built; a bad expression fails the build.
func (s StringSpec) Pattern(expr string) StringSpec { s.pattern = expr; return s }

func (s StringSpec) build(*Registry) (Mapper, error) {
	m := &stringMapper{minLen: s.minLen, maxLen: s.maxLen, choices: s.choices}
	if s.pattern != "" {
		re, err := regexp.Compile(s.pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %v", s.pattern, err)
		}
		m.pattern = re
	}
	return m, nil
}

// IntSpec declares a 64-bit integer field.
type IntSpec struct {
	bounds     boundSet[int64]
	multipleOf int64
}

func Int() IntSpec { return IntSpec{} }

func (s IntSpec) Gt(n int64) IntSpec  { s.bounds.gt = ptr(n); return s }
func (s IntSpec) Gte(n int64) IntSpec { s.bounds.gte = ptr(n); return s }
func (s IntSpec) Lt(n int64) IntSpec  { s.bounds.lt = ptr(n); return s }
func (s IntSpec) Lte(n int64) IntSpec { s.bounds.lte = ptr(n); return s }

func (s IntSpec) MultipleOf(n int64) IntSpec { s.multipleOf = n; return s }

func (s IntSpec) build(*Registry) (Mapper, error) {
	return &intMapper{bounds: s.bounds, multipleOf: s.multipleOf}, nil
}

// FloatSpec declares a 64-bit float field.
type FloatSpec struct {
	bounds boundSet[float64]
}

func Float() FloatSpec { return FloatSpec{} }

func (s FloatSpec) Gt(n float64) FloatSpec  { s.bounds.gt = ptr(n); return s }
func (s FloatSpec) Gte(n float64) FloatSpec { s.bounds.gte = ptr(n); return s }
func (s FloatSpec) Lt(n float64) FloatSpec  { s.bounds.lt = ptr(n); return s }
func (s FloatSpec) Lte(n float64) FloatSpec { s.bounds.lte = ptr(n); return s }

func (s FloatSpec) build(*Registry) (Mapper, error) {
	return &floatMapper{bounds: s.bounds}, nil
}

// DecimalSpec declares a Decimal128 field. Bounds are decimal strings so they
// round-trip without float noise.
type DecimalSpec struct {
	gt, gte, lt, lte string
}

func Decimal() DecimalSpec { return DecimalSpec{} }

func (s DecimalSpec) Gt(v string) DecimalSpec  { s.gt = v; return s }
func (s DecimalSpec) Gte(v string) DecimalSpec { s.gte = v; return s }
func (s DecimalSpec) Lt(v string) DecimalSpec  { s.lt = v; return s }
func (s DecimalSpec) Lte(v string) DecimalSpec { s.lte = v; return s }

func (s DecimalSpec) build(*Registry) (Mapper, error) {
	m := &decimalMapper{}
	for _, b := range []struct {
		raw string
		dst **primitive.Decimal128
	}{{s.gt, &m.gt}, {s.gte, &m.gte}, {s.lt, &m.lt}, {s.lte, &m.lte}} {
		if b.raw == "" {
			continue
		}
		d, err := primitive.ParseDecimal128(b.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid decimal bound %q: %v", b.raw, err)
		}
		*b.dst = &d
	}
	return m, nil
}

// BoolSpec declares a boolean field.
type BoolSpec struct{}

func Bool() BoolSpec { return BoolSpec{} }

func (BoolSpec) build(*Registry) (Mapper, error) { return boolMapper{}, nil }

// ---- temporal ----

// DateTimeSpec declares an instant with wall-clock precision.
type DateTimeSpec struct {
	bounds timeBounds
}

func DateTime() DateTimeSpec { return DateTimeSpec{} }

func (s DateTimeSpec) Gt(t time.Time) DateTimeSpec  { s.bounds.gt = ptr(t); return s }
func (s DateTimeSpec) Gte(t time.Time) DateTimeSpec { s.bounds.gte = ptr(t); return s }
func (s DateTimeSpec) Lt(t time.Time) DateTimeSpec  { s.bounds.lt = ptr(t); return s }
func (s DateTimeSpec) Lte(t time.Time) DateTimeSpec { s.bounds.lte = ptr(t); return s }

func (s DateTimeSpec) build(*Registry) (Mapper, error) {
	return &dateTimeMapper{bounds: s.bounds}, nil
}

// DateSpec declares a calendar date. Lower bounds compare against the start
// of the bound day and upper bounds against its end, so a bound given as a
// datetime still behaves like a date.
type DateSpec struct {
	bounds timeBounds
}

func Date() DateSpec { return DateSpec{} }

func (s DateSpec) Gt(t time.Time) DateSpec  { s.bounds.gt = ptr(t); return s }
func (s DateSpec) Gte(t time.Time) DateSpec { s.bounds.gte = ptr(t); return s }
func (s DateSpec) Lt(t time.Time) DateSpec  { s.bounds.lt = ptr(t); return s }
func (s DateSpec) Lte(t time.Time) DateSpec { s.bounds.lte = ptr(t); return s }

func (s DateSpec) build(*Registry) (Mapper, error) {
	return &dateMapper{bounds: s.bounds}, nil
}

// TimeSpec declares a time of day. Bounds keep only their clock component.
type TimeSpec struct {
	bounds timeBounds
}

func Time() TimeSpec { return TimeSpec{} }

func (s TimeSpec) Gt(t time.Time) TimeSpec  { s.bounds.gt = ptr(t); return s }
func (s TimeSpec) Gte(t time.Time) TimeSpec { s.bounds.gte = ptr(t); return s }
func (s TimeSpec) Lt(t time.Time) TimeSpec  { s.bounds.lt = ptr(t); return s }
func (s TimeSpec) Lte(t time.Time) TimeSpec { s.bounds.lte = ptr(t); return s }

func (s TimeSpec) build(*Registry) (Mapper, error) {
	return &clockTimeMapper{bounds: s.bounds}, nil
}

// TimestampSpec declares a millisecond timestamp stored as a BSON datetime.
type TimestampSpec struct {
	bounds timeBounds
}

func Timestamp() TimestampSpec { return TimestampSpec{} }

func (s TimestampSpec) Gt(t time.Time) TimestampSpec  { s.bounds.gt = ptr(t); return s }
func (s TimestampSpec) Gte(t time.Time) TimestampSpec { s.bounds.gte = ptr(t); return s }
func (s TimestampSpec) Lt(t time.Time) TimestampSpec  { s.bounds.lt = ptr(t); return s }
func (s TimestampSpec) Lte(t time.Time) TimestampSpec { s.bounds.lte = ptr(t); return s }

func (s TimestampSpec) build(*Registry) (Mapper, error) {
	return &timestampMapper{bounds: s.bounds}, nil
}

// ---- identifiers and blobs ----

// ObjectIDSpec declares a BSON ObjectId field.
type ObjectIDSpec struct{}

func ObjectID() ObjectIDSpec { return ObjectIDSpec{} }

func (ObjectIDSpec) build(*Registry) (Mapper, error) { return objectIDMapper{}, nil }

// UUIDSpec declares a UUID field stored as BSON binary subtype 4.
type UUIDSpec struct {
	version int
}

func UUID() UUIDSpec { return UUIDSpec{} }

// Version restricts the accepted UUID version.
func (s UUIDSpec) Version(n int) UUIDSpec { s.version = n; return s }

func (s UUIDSpec) build(*Registry) (Mapper, error) {
	return uuidMapper{version: s.version}, nil
}

// BinarySpec declares a raw byte field.
type BinarySpec struct{}

func Binary() BinarySpec { return BinarySpec{} }

func (BinarySpec) build(*Registry) (Mapper, error) { return binaryMapper{}, nil }

// JSONSpec declares a free-form object field. The content passes through
// unvalidated.
type JSONSpec struct{}

func JSON() JSONSpec { return JSONSpec{} }

func (JSONSpec) build(*Registry) (Mapper, error) { return jsonMapper{}, nil }

// RawSpec declares a raw BSON document field.
type RawSpec struct{}

func Raw() RawSpec { return RawSpec{} }

func (RawSpec) build(*Registry) (Mapper, error) { return rawMapper{}, nil }

// OfSpec resolves a mapper by Go type through the registry, covering custom
// registered mappers and every builtin.
type OfSpec struct {
	t reflect.Type
}

// Of declares a field whose mapper is registered for the Go type T.
func Of[T any]() OfSpec { return OfSpec{t: reflect.TypeOf((*T)(nil)).Elem()} }

func (s OfSpec) build(reg *Registry) (Mapper, error) {
	b, ok := reg.MapperFor(s.t)
	if !ok {
		return nil, fmt.Errorf("no mapper registered for type %s", s.t)
	}
	return b(), nil
}

// ---- documents ----

// EmbeddedSpec declares a sub-document stored inline.
type EmbeddedSpec struct {
	name   string
	schema *Schema
}

// Embedded declares an inline sub-document by schema name. The name may be
// registered later; it resolves on first use.
func Embedded(name string) EmbeddedSpec { return EmbeddedSpec{name: name} }

// EmbeddedOf declares an inline sub-document by schema.
func EmbeddedOf(s *Schema) EmbeddedSpec { return EmbeddedSpec{schema: s} }

func (s EmbeddedSpec) build(reg *Registry) (Mapper, error) {
	if s.schema != nil {
		return &embeddedMapper{target: handleOf(s.schema)}, nil
	}
	return &embeddedMapper{target: handleFor(reg, s.name)}, nil
}

// RefSpec declares a reference to a row of another document collection.
type RefSpec struct {
	name     string
	schema   *Schema
	refField string
	keyName  string
}

// Ref declares a reference to the named document. The name may be registered
// later; it resolves on first use.
func Ref(name string) RefSpec { return RefSpec{name: name} }

// RefOf declares a reference to the given schema.
func RefOf(s *Schema) RefSpec { return RefSpec{schema: s} }

// RefField names the field of the target document the reference points at.
// Defaults to "id".
func (s RefSpec) RefField(name string) RefSpec { s.refField = name; return s }

// KeyName names the stored key carrying the referenced value. Defaults to
// "<alias>_<refField>" of the owning field.
func (s RefSpec) KeyName(name string) RefSpec { s.keyName = name; return s }

func (s RefSpec) build(reg *Registry) (Mapper, error) {
	refField := s.refField
	if refField == "" {
		refField = "id"
	}
	target := handleFor(reg, s.name)
	if s.schema != nil {
		target = handleOf(s.schema)
	}
	return &referencedMapper{target: target, refField: refField, keyName: s.keyName}, nil
}
