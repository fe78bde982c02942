package monsoon

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// IndexKind selects the server index type for a single field key.
type IndexKind int

const (
	IndexNone IndexKind = iota
	IndexAsc
	IndexDesc
	Index2D
	Index2DSphere
	IndexHashed
	IndexText
)

// keyValue returns the value the server expects in an index key document.
func (k IndexKind) keyValue() any {
	switch k {
	case IndexAsc:
		return int32(1)
	case IndexDesc:
		return int32(-1)
	case Index2D:
		return "2d"
	case Index2DSphere:
		return "2dsphere"
	case IndexHashed:
		return "hashed"
	case IndexText:
		return "text"
	}
	return nil
}

// Field is one named slot of a document schema. Fields are created by the
// schema builder and immutable afterwards.
type Field struct {
	name       string
	alias      string
	mapper     Mapper
	id         bool
	nullable   bool
	defaultFn  func() any
	index      IndexKind
	unique     bool
	uniqueWith []string
	sparse     bool
	validate   func(any) error
	ref        *Reference
}

// Name returns the declared field name.
func (f *Field) Name() string { return f.name }

// Alias returns the stored key of the field. It defaults to the name; the id
// field always stores under "_id".
func (f *Field) Alias() string {
	if f.alias != "" {
		return f.alias
	}
	return f.name
}

// IsID reports whether this is the identity field.
func (f *Field) IsID() bool { return f.id }

// Nullable reports whether null is an accepted value.
func (f *Field) Nullable() bool { return f.nullable }

// Mapper returns the compiled mapper, including null and default handling.
func (f *Field) Mapper() Mapper { return f.mapper }

// Reference returns the reference metadata when the field points at another
// collection, or nil.
func (f *Field) Reference() *Reference { return f.ref }

// Parse validates v for this field. Issues are reported under the field name.
func (f *Field) Parse(v any, opts ParseOptions) (any, error) {
	out, err := f.mapper.Parse(v, opts)
	if err != nil {
		return nil, wrapIssues(f.name, err)
	}
	if f.validate != nil && !IsEmpty(out) && out != nil {
		if err := f.validate(out); err != nil {
			return nil, wrapIssues(f.name, err)
		}
	}
	return out, nil
}

// IndexModel compiles the field's index declaration. Unique and sparse flags
// key the field ascending unless an explicit kind overrides it; unique-with
// companions are keyed ascending after it.
func (f *Field) IndexModel() (mongo.IndexModel, bool) {
	var kind any
	if f.unique || f.sparse {
		kind = IndexAsc.keyValue()
	}
	if f.index != IndexNone {
		kind = f.index.keyValue()
	}
	keys := bson.D{}
	if kind != nil {
		keys = append(keys, bson.E{Key: f.Alias(), Value: kind})
	}
	for _, key := range f.uniqueWith {
		keys = append(keys, bson.E{Key: key, Value: IndexAsc.keyValue()})
	}
	if len(keys) == 0 {
		return mongo.IndexModel{}, false
	}
	opts := options.Index()
	if f.unique {
		opts.SetUnique(true)
	}
	if f.sparse {
		opts.SetSparse(true)
	}
	return mongo.IndexModel{Keys: keys, Options: opts}, true
}

// FieldOption adjusts a field declaration at build time.
type FieldOption func(*Field)

// AsID marks the field as the document identity. An id field stores under
// "_id" and never accepts null.
func AsID() FieldOption {
	return func(f *Field) { f.id = true }
}

// WithAlias stores the field under a different key.
func WithAlias(alias string) FieldOption {
	return func(f *Field) { f.alias = alias }
}

// WithDefault fills absent values with v.
func WithDefault(v any) FieldOption {
	return func(f *Field) { f.defaultFn = func() any { return v } }
}

// WithDefaultFunc fills absent values by calling fn.
func WithDefaultFunc(fn func() any) FieldOption {
	return func(f *Field) { f.defaultFn = fn }
}

// WithIndex declares a single-field index of the given kind.
func WithIndex(kind IndexKind) FieldOption {
	return func(f *Field) { f.index = kind }
}

// WithUnique declares a unique index on the field.
func WithUnique() FieldOption {
	return func(f *Field) { f.unique = true }
}

// WithUniqueWith declares a compound unique index over this field and the
// given stored keys. It implies WithUnique.
func WithUniqueWith(keys ...string) FieldOption {
	return func(f *Field) {
		f.unique = true
		f.uniqueWith = append(f.uniqueWith, keys...)
	}
}

// WithSparse makes the field's index sparse.
func WithSparse() FieldOption {
	return func(f *Field) { f.sparse = true }
}
