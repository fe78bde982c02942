package monsoon

import (
	"reflect"
	"sync"
)

// MapperBuilder produces a configured Mapper for a registered value type.
type MapperBuilder func() Mapper

// builtinMappers holds the mapper builders for every built-in scalar and value
// type. It is populated by init functions and never written afterwards.
var builtinMappers = map[reflect.Type]MapperBuilder{}

func registerBuiltinMapper(t reflect.Type, b MapperBuilder) {
	builtinMappers[t] = b
}

// Registry is the mutable service that document schemas and mapper builders
// are registered into. Two independent tables live here: document schemas by
// name (iterated in insertion order) and mapper builders by Go value type.
//
// A package-level default exists for the common case; tests and embedders can
// build private registries and pass them to schema builders instead.
type Registry struct {
	mu       sync.RWMutex
	docs     map[string]*Schema
	docOrder []string
	mappers  map[reflect.Type]MapperBuilder
}

// NewRegistry returns an empty registry. Built-in mapper builders are always
// visible through MapperFor; they do not need registering.
func NewRegistry() *Registry {
	return &Registry{
		docs:    make(map[string]*Schema),
		mappers: make(map[reflect.Type]MapperBuilder),
	}
}

var (
	defaultRegistryOnce sync.Once
	defaultRegistry     *Registry
)

// DefaultRegistry returns the process-wide registry used when a schema builder
// is not given an explicit one.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// RegisterDocument adds a schema under its name. Registering a name twice is a
// schema error: the registry is the namespace that forward references resolve
// against, so collisions would silently rebind them.
func (r *Registry) RegisterDocument(s *Schema) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[s.Name()]; ok {
		return schemaErrorf(s.Name(), "document %s already defined, please use a different name", s.Name())
	}
	r.docs[s.Name()] = s
	r.docOrder = append(r.docOrder, s.Name())
	return nil
}

// Document returns the schema registered under name.
func (r *Registry) Document(name string) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.docs[name]
	return s, ok
}

// Resolve returns the schema registered under name or a ResolutionError.
func (r *Registry) Resolve(name string) (*Schema, error) {
	if s, ok := r.Document(name); ok {
		return s, nil
	}
	return nil, &ResolutionError{Name: name}
}

// Documents returns every registered schema in registration order.
func (r *Registry) Documents() []*Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Schema, 0, len(r.docOrder))
	for _, name := range r.docOrder {
		out = append(out, r.docs[name])
	}
	return out
}

// RegisterMapper binds a mapper builder to a Go value type, overriding any
// built-in binding for that type.
func (r *Registry) RegisterMapper(t reflect.Type, b MapperBuilder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappers[t] = b
}

// MapperFor returns the mapper builder bound to t, consulting registry-local
// bindings first and the built-in table second.
func (r *Registry) MapperFor(t reflect.Type) (MapperBuilder, bool) {
	r.mu.RLock()
	b, ok := r.mappers[t]
	r.mu.RUnlock()
	if ok {
		return b, true
	}
	b, ok = builtinMappers[t]
	return b, ok
}

// Reset drops every registered document and custom mapper binding. Built-in
// mappers survive. Intended for test teardown.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs = make(map[string]*Schema)
	r.docOrder = nil
	r.mappers = make(map[reflect.Type]MapperBuilder)
}
