package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"github.com/reoring/monsoon"
	"github.com/reoring/monsoon/expr"
)

// ErrNotFound reports that no document matched the requested id.
var ErrNotFound = errors.New("document not found")

// Objects is a typed handle over one document collection. Handles are cheap;
// create them per use.
type Objects struct {
	engine *Engine
	schema *monsoon.Schema
	depth  int
}

// Collection returns a handle for the schema's collection, reading at the
// engine's default dereference depth.
func (e *Engine) Collection(s *monsoon.Schema) *Objects {
	return &Objects{engine: e, schema: s, depth: e.cfg.DereferenceDepth}
}

// WithDepth returns a handle whose reads resolve references depth levels
// deep.
func (o *Objects) WithDepth(depth int) *Objects {
	return &Objects{engine: o.engine, schema: o.schema, depth: depth}
}

// Schema returns the handle's schema.
func (o *Objects) Schema() *monsoon.Schema { return o.schema }

// prepare materializes the collection and returns the store.
func (o *Objects) prepare(ctx context.Context) (Store, error) {
	if err := o.engine.EnsureCollection(ctx, o.schema); err != nil {
		return nil, err
	}
	return o.engine.ensureStore()
}

// check rejects documents validated against a different schema before any
// I/O is issued.
func (o *Objects) check(doc *monsoon.Document) error {
	if doc == nil {
		return engineErrorf("nil %s document", o.schema.Name())
	}
	if doc.Schema() != o.schema {
		return engineErrorf("expected %s document, got %s", o.schema.Name(), doc.Schema().Name())
	}
	return nil
}

// idBSON validates an id value against the schema's identity field and
// returns its storage form.
func (o *Objects) idBSON(id any) (any, error) {
	f := o.schema.IDField()
	if f == nil {
		return nil, engineErrorf("document %s has no id field", o.schema.Name())
	}
	v, err := f.Parse(id, monsoon.ParseOptions{Lenient: true})
	if err != nil {
		return nil, err
	}
	if monsoon.IsEmpty(v) || v == nil {
		return nil, engineErrorf("document %s: missing id value", o.schema.Name())
	}
	return f.Mapper().DumpBSON(v), nil
}

// Get fetches one document by id, resolving references at the handle's
// depth. The error wraps ErrNotFound when no row matches.
func (o *Objects) Get(ctx context.Context, id any) (doc *monsoon.Document, err error) {
	defer func(start time.Time) { o.engine.observe("get", o.schema.Collection(), start, err) }(time.Now())
	store, err := o.prepare(ctx)
	if err != nil {
		return nil, err
	}
	idVal, err := o.idBSON(id)
	if err != nil {
		return nil, err
	}
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{"_id": idVal}}},
		bson.D{{Key: "$limit", Value: 1}},
	}
	deref, err := monsoon.BuildDereferencePipeline(o.schema.References(), o.depth)
	if err != nil {
		return nil, err
	}
	pipeline = append(pipeline, deref...)
	rows, err := store.Aggregate(ctx, o.schema.Collection(), pipeline)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s %v: %w", o.schema.Name(), id, ErrNotFound)
	}
	return o.schema.Parse(map[string]any(rows[0]), monsoon.ParseOptions{FromStorage: true})
}

type findQuery struct {
	sort  expr.Sort
	skip  int64
	limit int64
}

// FindOption adjusts a Find.
type FindOption func(*findQuery)

// WithSort orders the results.
func WithSort(s expr.Sort) FindOption {
	return func(q *findQuery) { q.sort = s }
}

// WithSkip drops the first n results.
func WithSkip(n int64) FindOption {
	return func(q *findQuery) { q.skip = n }
}

// WithLimit caps the number of results.
func WithLimit(n int64) FindOption {
	return func(q *findQuery) { q.limit = n }
}

// Find returns the documents matching filter, resolving references at the
// handle's depth. An empty filter matches everything.
func (o *Objects) Find(ctx context.Context, filter expr.Query, opts ...FindOption) (docs []*monsoon.Document, err error) {
	defer func(start time.Time) { o.engine.observe("find", o.schema.Collection(), start, err) }(time.Now())
	store, err := o.prepare(ctx)
	if err != nil {
		return nil, err
	}
	var q findQuery
	for _, opt := range opts {
		opt(&q)
	}
	pipeline := mongo.Pipeline{}
	if len(filter) > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: filter.Document()}})
	}
	if len(q.sort) > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$sort", Value: q.sort.Document()}})
	}
	if q.skip > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$skip", Value: q.skip}})
	}
	if q.limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: q.limit}})
	}
	deref, err := monsoon.BuildDereferencePipeline(o.schema.References(), o.depth)
	if err != nil {
		return nil, err
	}
	pipeline = append(pipeline, deref...)
	rows, err := store.Aggregate(ctx, o.schema.Collection(), pipeline)
	if err != nil {
		return nil, err
	}
	docs = make([]*monsoon.Document, 0, len(rows))
	for _, row := range rows {
		doc, err := o.schema.Parse(map[string]any(row), monsoon.ParseOptions{FromStorage: true})
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Count returns the number of documents matching filter.
func (o *Objects) Count(ctx context.Context, filter expr.Query) (n int64, err error) {
	defer func(start time.Time) { o.engine.observe("count", o.schema.Collection(), start, err) }(time.Now())
	store, err := o.prepare(ctx)
	if err != nil {
		return 0, err
	}
	return store.Count(ctx, o.schema.Collection(), filter.Document())
}

// Save upserts the document keyed by its id, touching only the fields
// present in its storage dump. With cascade, referenced documents are saved
// first so their keys exist before the owning row is written.
func (o *Objects) Save(ctx context.Context, doc *monsoon.Document, cascade bool) (err error) {
	defer func(start time.Time) { o.engine.observe("save", o.schema.Collection(), start, err) }(time.Now())
	if err := o.check(doc); err != nil {
		return err
	}
	if _, err := o.prepare(ctx); err != nil {
		return err
	}
	return o.engine.saveDocument(ctx, doc, cascade)
}

// SaveAll saves the documents concurrently within the engine's cascade
// limit. Any failure surfaces after dispatched siblings settle.
func (o *Objects) SaveAll(ctx context.Context, docs []*monsoon.Document, cascade bool) (err error) {
	defer func(start time.Time) { o.engine.observe("save_all", o.schema.Collection(), start, err) }(time.Now())
	for _, doc := range docs {
		if err := o.check(doc); err != nil {
			return err
		}
	}
	if _, err := o.prepare(ctx); err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.engine.cfg.CascadeLimit)
	for _, doc := range docs {
		doc := doc
		g.Go(func() error { return o.engine.saveDocument(gctx, doc, cascade) })
	}
	return g.Wait()
}

// Delete removes the document's row. With cascade, documents referencing it
// are pruned first: single-valued referencing fields delete their owner,
// list fields shrink in place and delete the owner only when emptied. The
// document's own row goes last.
func (o *Objects) Delete(ctx context.Context, doc *monsoon.Document, cascade bool) (err error) {
	defer func(start time.Time) { o.engine.observe("delete", o.schema.Collection(), start, err) }(time.Now())
	if err := o.check(doc); err != nil {
		return err
	}
	if _, err := o.prepare(ctx); err != nil {
		return err
	}
	return o.engine.deleteDocument(ctx, doc, cascade)
}

// DeleteMany removes every document matching filter, without cascade.
func (o *Objects) DeleteMany(ctx context.Context, filter expr.Query) (err error) {
	defer func(start time.Time) { o.engine.observe("delete_many", o.schema.Collection(), start, err) }(time.Now())
	store, err := o.prepare(ctx)
	if err != nil {
		return err
	}
	return store.DeleteMany(ctx, o.schema.Collection(), filter.Document())
}
