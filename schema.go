package monsoon

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// CappedOptions fixes the size of the backing collection.
type CappedOptions struct {
	SizeBytes    int64
	MaxDocuments int64
}

// TimeseriesOptions turns the backing collection into a timeseries
// collection. TimeField and MetaField name schema fields; the stored keys are
// resolved when the schema is built.
type TimeseriesOptions struct {
	TimeField   string
	MetaField   string
	Granularity string
	ExpireAfter time.Duration
}

// Schema is the compiled shape of one document kind: its ordered fields, the
// identity field, reference metadata and collection configuration. Schemas
// are built once, registered and never mutated afterwards.
type Schema struct {
	name       string
	collection string
	embedded   bool
	registry   *Registry
	bases      []*Schema
	fields     []*Field
	byName     map[string]*Field
	idField    *Field
	references []*Reference
	capped     *CappedOptions
	timeseries *TimeseriesOptions
}

// Name returns the registered document name.
func (s *Schema) Name() string { return s.name }

// Collection returns the backing collection name. Embedded schemas have none.
func (s *Schema) Collection() string { return s.collection }

// Embedded reports whether the schema describes an inline sub-document
// without a collection of its own.
func (s *Schema) Embedded() bool { return s.embedded }

// Registry returns the registry the schema was built against.
func (s *Schema) Registry() *Registry { return s.registry }

// Fields returns the fields in declaration order.
func (s *Schema) Fields() []*Field {
	out := make([]*Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Field looks a field up by name.
func (s *Schema) Field(name string) (*Field, bool) {
	f, ok := s.byName[name]
	return f, ok
}

// IDField returns the identity field, nil for embedded schemas.
func (s *Schema) IDField() *Field { return s.idField }

// References returns the reference metadata of the schema's fields in
// declaration order.
func (s *Schema) References() []*Reference {
	out := make([]*Reference, len(s.references))
	copy(out, s.references)
	return out
}

// Capped returns the capped collection configuration, or nil.
func (s *Schema) Capped() *CappedOptions { return s.capped }

// Timeseries returns the timeseries collection configuration, or nil.
func (s *Schema) Timeseries() *TimeseriesOptions { return s.timeseries }

func (s *Schema) extends(target *Schema) bool {
	if s == target {
		return true
	}
	for _, b := range s.bases {
		if b.extends(target) {
			return true
		}
	}
	return false
}

// Indexes compiles every declared index of the schema. Indexes of embedded
// sub-documents are hoisted with their keys prefixed by the owning field's
// stored key; one list level is looked through on the way.
func (s *Schema) Indexes() ([]mongo.IndexModel, error) {
	var out []mongo.IndexModel
	for _, f := range s.fields {
		if model, ok := f.IndexModel(); ok {
			out = append(out, model)
		}
		inner := Unwrap(f.mapper)
		if sm, ok := inner.(*sequenceMapper); ok {
			inner = Unwrap(sm.elem)
		}
		em, ok := inner.(*embeddedMapper)
		if !ok {
			continue
		}
		target, err := em.target.Schema()
		if err != nil {
			return nil, err
		}
		nested, err := target.Indexes()
		if err != nil {
			return nil, err
		}
		for _, model := range nested {
			keys, ok := model.Keys.(bson.D)
			if !ok {
				continue
			}
			prefixed := make(bson.D, len(keys))
			for i, key := range keys {
				prefixed[i] = bson.E{Key: f.Alias() + "." + key.Key, Value: key.Value}
			}
			out = append(out, mongo.IndexModel{Keys: prefixed, Options: model.Options})
		}
	}
	return out, nil
}

// schemaBuilder assembles a Schema. Field declarations keep their order; a
// field redeclared over a base keeps the base position.
type schemaBuilder struct {
	name       string
	embedded   bool
	reg        *Registry
	collection string
	bases      []*Schema
	decls      []fieldDecl
	validators map[string]func(any) error
	capped     *CappedOptions
	timeseries *TimeseriesOptions
}

type fieldDecl struct {
	name string
	spec TypeSpec
	opts []FieldOption
}

// NewSchema starts a collection-backed document schema.
func NewSchema(name string) *schemaBuilder {
	return &schemaBuilder{name: name}
}

// NewEmbeddedSchema starts a schema for inline sub-documents. Embedded
// schemas have no identity field and no collection.
func NewEmbeddedSchema(name string) *schemaBuilder {
	return &schemaBuilder{name: name, embedded: true}
}

// Registry sets the registry to build against. Defaults to DefaultRegistry.
func (b *schemaBuilder) Registry(reg *Registry) *schemaBuilder {
	b.reg = reg
	return b
}

// Base inherits the fields of the given schemas, in order.
func (b *schemaBuilder) Base(bases ...*Schema) *schemaBuilder {
	b.bases = append(b.bases, bases...)
	return b
}

// Collection overrides the default collection name.
func (b *schemaBuilder) Collection(name string) *schemaBuilder {
	b.collection = name
	return b
}

// Field declares a field.
func (b *schemaBuilder) Field(name string, spec TypeSpec, opts ...FieldOption) *schemaBuilder {
	b.decls = append(b.decls, fieldDecl{name: name, spec: spec, opts: opts})
	return b
}

// Validate attaches an extra validator to a field, run after the field's
// mapper accepts the value.
func (b *schemaBuilder) Validate(field string, fn func(any) error) *schemaBuilder {
	if b.validators == nil {
		b.validators = map[string]func(any) error{}
	}
	b.validators[field] = fn
	return b
}

// Capped makes the backing collection capped.
func (b *schemaBuilder) Capped(sizeBytes, maxDocuments int64) *schemaBuilder {
	b.capped = &CappedOptions{SizeBytes: sizeBytes, MaxDocuments: maxDocuments}
	return b
}

// Timeseries makes the backing collection a timeseries collection.
func (b *schemaBuilder) Timeseries(opts TimeseriesOptions) *schemaBuilder {
	b.timeseries = &opts
	return b
}

// Build compiles the schema and registers it. Building twice under the same
// name fails, as does any definition problem.
func (b *schemaBuilder) Build() (*Schema, error) {
	reg := b.reg
	if reg == nil {
		reg = DefaultRegistry()
	}
	if b.name == "" {
		return nil, schemaErrorf("", "document name is required")
	}

	var fields []*Field
	index := map[string]int{}
	add := func(f *Field) {
		if i, ok := index[f.name]; ok {
			fields[i] = f
			return
		}
		index[f.name] = len(fields)
		fields = append(fields, f)
	}
	for _, base := range b.bases {
		if base == nil {
			return nil, schemaErrorf(b.name, "nil base schema")
		}
		for _, f := range base.fields {
			add(f)
		}
	}
	for _, decl := range b.decls {
		f, err := buildField(b.name, decl, reg)
		if err != nil {
			return nil, err
		}
		add(f)
	}

	for name, fn := range b.validators {
		i, ok := index[name]
		if !ok {
			return nil, schemaErrorf(b.name, "validator declared for unknown field %q", name)
		}
		clone := *fields[i]
		clone.validate = fn
		fields[i] = &clone
	}

	var idField *Field
	if !b.embedded {
		var ids []string
		for _, f := range fields {
			if f.id {
				ids = append(ids, f.name)
			}
		}
		switch {
		case len(ids) > 1:
			return nil, schemaErrorf(b.name, "too many id fields declared: %s", strings.Join(ids, ", "))
		case len(ids) == 0:
			if _, taken := index["id"]; taken {
				return nil, schemaErrorf(b.name, "field id conflicts with the implicit id field, mark it with AsID")
			}
			fields = append([]*Field{syntheticIDField()}, fields...)
		}
		for _, f := range fields {
			if f.id {
				idField = f
				break
			}
		}
	}

	s := &Schema{
		name:     b.name,
		embedded: b.embedded,
		registry: reg,
		bases:    b.bases,
		fields:   fields,
		byName:   make(map[string]*Field, len(fields)),
		idField:  idField,
		capped:   b.capped,
	}
	for _, f := range fields {
		s.byName[f.name] = f
		if f.ref != nil {
			s.references = append(s.references, f.ref)
		}
	}

	if !b.embedded {
		s.collection = b.collection
		if s.collection == "" {
			s.collection = pluralize(strings.ToLower(b.name))
		}
	}

	if b.timeseries != nil {
		ts, err := b.resolveTimeseries(s)
		if err != nil {
			return nil, err
		}
		s.timeseries = ts
	}

	if err := reg.RegisterDocument(s); err != nil {
		return nil, err
	}
	return s, nil
}

// MustBuild is like Build but panics on error.
func (b *schemaBuilder) MustBuild() *Schema {
	s, err := b.Build()
	if err != nil {
		panic(err)
	}
	return s
}

func (b *schemaBuilder) resolveTimeseries(s *Schema) (*TimeseriesOptions, error) {
	ts := *b.timeseries
	f, ok := s.byName[ts.TimeField]
	if !ok {
		return nil, schemaErrorf(b.name, "timeseries time field %q is not declared", ts.TimeField)
	}
	ts.TimeField = f.Alias()
	if ts.MetaField != "" {
		mf, ok := s.byName[ts.MetaField]
		if !ok {
			return nil, schemaErrorf(b.name, "timeseries meta field %q is not declared", ts.MetaField)
		}
		ts.MetaField = mf.Alias()
	}
	switch ts.Granularity {
	case "", "seconds", "minutes", "hours":
	default:
		return nil, schemaErrorf(b.name, "invalid timeseries granularity %q", ts.Granularity)
	}
	return &ts, nil
}

func buildField(doc string, decl fieldDecl, reg *Registry) (*Field, error) {
	mapper, nullable, err := compileSpec(decl.spec, reg)
	if err != nil {
		return nil, schemaErrorf(doc, "field %q: %v", decl.name, err)
	}
	f := &Field{name: decl.name, index: IndexNone}
	for _, opt := range decl.opts {
		opt(f)
	}
	if f.id {
		f.alias = "_id"
		nullable = false
	}
	f.nullable = nullable
	f.mapper = WithPolicy(mapper, Policy{Nullable: nullable, Default: f.defaultFn})

	inner := mapper
	isMany := false
	if sm, ok := inner.(*sequenceMapper); ok {
		inner = Unwrap(sm.elem)
		isMany = true
	}
	if rm, ok := inner.(*referencedMapper); ok {
		if rm.keyName == "" {
			rm.keyName = f.Alias() + "_" + rm.refField
		}
		f.ref = &Reference{
			name:     f.name,
			target:   rm.target,
			refField: rm.refField,
			keyName:  rm.keyName,
			isMany:   isMany,
		}
	}
	return f, nil
}

func syntheticIDField() *Field {
	fn := func() any { return primitive.NewObjectID() }
	return &Field{
		name:      "id",
		alias:     "_id",
		id:        true,
		index:     IndexNone,
		defaultFn: fn,
		mapper:    WithPolicy(objectIDMapper{}, Policy{Default: fn}),
	}
}

// pluralize applies basic English pluralization to a collection name.
func pluralize(s string) string {
	switch {
	case s == "":
		return s
	case strings.HasSuffix(s, "s"), strings.HasSuffix(s, "x"), strings.HasSuffix(s, "z"),
		strings.HasSuffix(s, "ch"), strings.HasSuffix(s, "sh"):
		return s + "es"
	case strings.HasSuffix(s, "y") && len(s) > 1 && !isVowel(s[len(s)-2]):
		return s[:len(s)-1] + "ies"
	default:
		return s + "s"
	}
}

func isVowel(c byte) bool {
	return c == 'a' || c == 'e' || c == 'i' || c == 'o' || c == 'u'
}
