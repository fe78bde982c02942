package engine_test

import (
	"context"
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"

	monsoon "github.com/reoring/monsoon"
	"github.com/reoring/monsoon/engine"
	"github.com/reoring/monsoon/expr"
	"github.com/reoring/monsoon/internal/memstore"
)

// librarySchemas registers an Author <- Book pair in a private registry.
func librarySchemas(tb testing.TB) (*monsoon.Registry, *monsoon.Schema, *monsoon.Schema) {
	tb.Helper()
	reg := monsoon.NewRegistry()
	author := monsoon.NewSchema("Author").Registry(reg).
		Field("name", monsoon.String().MinLen(1)).
		Field("age", monsoon.Int().Gte(0)).
		MustBuild()
	book := monsoon.NewSchema("Book").Registry(reg).
		Field("title", monsoon.String()).
		Field("author", monsoon.Ref("Author")).
		MustBuild()
	return reg, author, book
}

// libraryEngine wires the library schemas to an engine over an in-memory
// store.
func libraryEngine(tb testing.TB) (*engine.Engine, *memstore.Store, *monsoon.Schema, *monsoon.Schema) {
	tb.Helper()
	_, author, book := librarySchemas(tb)
	store := memstore.New()
	eng, err := engine.NewEngine(engine.Config{Database: "library"}, engine.WithStore(store))
	if err != nil {
		tb.Fatalf("new engine: %v", err)
	}
	return eng, store, author, book
}

func newDoc(tb testing.TB, s *monsoon.Schema, data map[string]any) *monsoon.Document {
	tb.Helper()
	doc, err := s.New(data)
	if err != nil {
		tb.Fatalf("new %s: %v", s.Name(), err)
	}
	return doc
}

func mustGet(tb testing.TB, doc *monsoon.Document, field string) any {
	tb.Helper()
	v, err := doc.Get(field)
	if err != nil {
		tb.Fatalf("get %s: %v", field, err)
	}
	return v
}

func TestObjects_SaveAndGet(t *testing.T) {
	eng, store, authorSchema, _ := libraryEngine(t)
	ctx := context.Background()
	authors := eng.Collection(authorSchema)

	author := newDoc(t, authorSchema, map[string]any{"name": "Naomi", "age": 41})
	if err := authors.Save(ctx, author, false); err != nil {
		t.Fatalf("save: %v", err)
	}
	rows := store.Rows("authors")
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0]["_id"] != author.ID() {
		t.Fatalf("row keyed by %v, want %v", rows[0]["_id"], author.ID())
	}

	got, err := authors.Get(ctx, author.ID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if name := mustGet(t, got, "name"); name != "Naomi" {
		t.Fatalf("name = %v, want Naomi", name)
	}
	if age := mustGet(t, got, "age"); age != int64(41) {
		t.Fatalf("age = %v (%T), want 41", age, age)
	}
	if got.ID() != author.ID() {
		t.Fatalf("id = %v, want %v", got.ID(), author.ID())
	}
}

func TestObjects_SaveAgainUpdatesInPlace(t *testing.T) {
	eng, store, authorSchema, _ := libraryEngine(t)
	ctx := context.Background()
	authors := eng.Collection(authorSchema)

	author := newDoc(t, authorSchema, map[string]any{"name": "Naomi", "age": 41})
	if err := authors.Save(ctx, author, false); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := author.Set("age", 42); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := authors.Save(ctx, author, false); err != nil {
		t.Fatalf("save again: %v", err)
	}
	rows := store.Rows("authors")
	if len(rows) != 1 {
		t.Fatalf("expected the row to be updated in place, got %d rows", len(rows))
	}
	if rows[0]["age"] != int64(42) {
		t.Fatalf("age = %v, want 42", rows[0]["age"])
	}
}

func TestObjects_GetAcceptsHexID(t *testing.T) {
	eng, _, authorSchema, _ := libraryEngine(t)
	ctx := context.Background()
	authors := eng.Collection(authorSchema)

	author := newDoc(t, authorSchema, map[string]any{"name": "Naomi", "age": 41})
	if err := authors.Save(ctx, author, false); err != nil {
		t.Fatalf("save: %v", err)
	}
	hex := author.ID().(primitive.ObjectID).Hex()
	got, err := authors.Get(ctx, hex)
	if err != nil {
		t.Fatalf("get by hex: %v", err)
	}
	if got.ID() != author.ID() {
		t.Fatalf("id = %v, want %v", got.ID(), author.ID())
	}
}

func TestObjects_GetNotFound(t *testing.T) {
	eng, _, authorSchema, _ := libraryEngine(t)
	_, err := eng.Collection(authorSchema).Get(context.Background(), primitive.NewObjectID())
	if !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestObjects_GetRejectsBadID(t *testing.T) {
	eng, _, authorSchema, _ := libraryEngine(t)
	_, err := eng.Collection(authorSchema).Get(context.Background(), "not-an-id")
	if err == nil {
		t.Fatalf("expected an id validation error")
	}
	if errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("a bad id should fail validation, not read: %v", err)
	}
}

func seedAuthors(tb testing.TB, eng *engine.Engine, s *monsoon.Schema) []*monsoon.Document {
	tb.Helper()
	ctx := context.Background()
	handle := eng.Collection(s)
	var docs []*monsoon.Document
	for _, a := range []struct {
		name string
		age  int
	}{
		{"Ada", 31},
		{"Brin", 35},
		{"Cleo", 40},
		{"Dara", 45},
	} {
		doc := newDoc(tb, s, map[string]any{"name": a.name, "age": a.age})
		if err := handle.Save(ctx, doc, false); err != nil {
			tb.Fatalf("seed %s: %v", a.name, err)
		}
		docs = append(docs, doc)
	}
	return docs
}

func TestObjects_Find(t *testing.T) {
	eng, _, authorSchema, _ := libraryEngine(t)
	ctx := context.Background()
	authors := eng.Collection(authorSchema)
	seedAuthors(t, eng, authorSchema)

	all, err := authors.Find(ctx, expr.Query{})
	if err != nil {
		t.Fatalf("find all: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 documents, got %d", len(all))
	}

	// Ages >= 35 sorted descending are 45, 40, 35; skip one, take one.
	got, err := authors.Find(ctx, expr.Gte("age", 35),
		engine.WithSort(expr.Desc("age")),
		engine.WithSkip(1),
		engine.WithLimit(1))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 document, got %d", len(got))
	}
	if name := mustGet(t, got[0], "name"); name != "Cleo" {
		t.Fatalf("name = %v, want Cleo", name)
	}
}

func TestObjects_Count(t *testing.T) {
	eng, _, authorSchema, _ := libraryEngine(t)
	ctx := context.Background()
	authors := eng.Collection(authorSchema)
	seedAuthors(t, eng, authorSchema)

	n, err := authors.Count(ctx, expr.Gt("age", 34))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Fatalf("count = %d, want 3", n)
	}
	n, err = authors.Count(ctx, expr.Query{})
	if err != nil {
		t.Fatalf("count all: %v", err)
	}
	if n != 4 {
		t.Fatalf("count all = %d, want 4", n)
	}
}

func TestObjects_DeleteManySkipsCascade(t *testing.T) {
	eng, store, authorSchema, _ := libraryEngine(t)
	ctx := context.Background()
	authors := eng.Collection(authorSchema)
	docs := seedAuthors(t, eng, authorSchema)

	if err := authors.DeleteMany(ctx, expr.Lt("age", 40)); err != nil {
		t.Fatalf("delete many: %v", err)
	}
	if rows := store.Rows("authors"); len(rows) != 2 {
		t.Fatalf("expected 2 rows to survive, got %d", len(rows))
	}
	if _, err := authors.Get(ctx, docs[0].ID()); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected Ada to be gone, got %v", err)
	}
}

func TestObjects_Delete(t *testing.T) {
	eng, store, authorSchema, _ := libraryEngine(t)
	ctx := context.Background()
	authors := eng.Collection(authorSchema)

	author := newDoc(t, authorSchema, map[string]any{"name": "Naomi", "age": 41})
	if err := authors.Save(ctx, author, false); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := authors.Delete(ctx, author, false); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if rows := store.Rows("authors"); len(rows) != 0 {
		t.Fatalf("expected no rows, got %d", len(rows))
	}
	if _, err := authors.Get(ctx, author.ID()); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestObjects_SaveRejectsForeignDocument(t *testing.T) {
	eng, store, authorSchema, bookSchema := libraryEngine(t)
	ctx := context.Background()

	book := newDoc(t, bookSchema, map[string]any{"title": "Dust"})
	err := eng.Collection(authorSchema).Save(ctx, book, false)
	var engErr *engine.EngineError
	if !errors.As(err, &engErr) {
		t.Fatalf("expected an engine error, got %v", err)
	}
	// The mismatch is caught before any store traffic.
	if ops := store.Ops(); len(ops) != 0 {
		t.Fatalf("expected no store operations, got %v", ops)
	}
}

func TestObjects_SaveAll(t *testing.T) {
	eng, store, authorSchema, _ := libraryEngine(t)
	ctx := context.Background()
	authors := eng.Collection(authorSchema)

	docs := []*monsoon.Document{
		newDoc(t, authorSchema, map[string]any{"name": "Ada", "age": 31}),
		newDoc(t, authorSchema, map[string]any{"name": "Brin", "age": 35}),
		newDoc(t, authorSchema, map[string]any{"name": "Cleo", "age": 40}),
	}
	if err := authors.SaveAll(ctx, docs, false); err != nil {
		t.Fatalf("save all: %v", err)
	}
	if rows := store.Rows("authors"); len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	for _, doc := range docs {
		if _, err := authors.Get(ctx, doc.ID()); err != nil {
			t.Fatalf("get %v: %v", doc.ID(), err)
		}
	}
}

func TestObjects_SaveAllRejectsForeignDocuments(t *testing.T) {
	eng, store, authorSchema, bookSchema := libraryEngine(t)
	ctx := context.Background()

	docs := []*monsoon.Document{
		newDoc(t, authorSchema, map[string]any{"name": "Ada", "age": 31}),
		newDoc(t, bookSchema, map[string]any{"title": "Dust"}),
	}
	err := eng.Collection(authorSchema).SaveAll(ctx, docs, false)
	var engErr *engine.EngineError
	if !errors.As(err, &engErr) {
		t.Fatalf("expected an engine error, got %v", err)
	}
	if ops := store.Ops(); len(ops) != 0 {
		t.Fatalf("expected no store operations, got %v", ops)
	}
}

func TestObjects_DepthResolvesReferences(t *testing.T) {
	eng, _, authorSchema, bookSchema := libraryEngine(t)
	ctx := context.Background()
	books := eng.Collection(bookSchema)

	author := newDoc(t, authorSchema, map[string]any{"name": "Naomi", "age": 41})
	book := newDoc(t, bookSchema, map[string]any{"title": "Dust", "author": author})
	if err := books.Save(ctx, book, true); err != nil {
		t.Fatalf("save: %v", err)
	}

	// At the default depth the row carries the key only.
	shallow, err := books.Get(ctx, book.ID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v := mustGet(t, shallow, "author"); !monsoon.IsEmpty(v) {
		t.Fatalf("expected an unresolved reference, got %v", v)
	}

	deep, err := books.WithDepth(1).Get(ctx, book.ID())
	if err != nil {
		t.Fatalf("get at depth 1: %v", err)
	}
	child, ok := mustGet(t, deep, "author").(*monsoon.Document)
	if !ok {
		t.Fatalf("expected a resolved document")
	}
	if child.ID() != author.ID() {
		t.Fatalf("resolved id = %v, want %v", child.ID(), author.ID())
	}
	if name := mustGet(t, child, "name"); name != "Naomi" {
		t.Fatalf("resolved name = %v, want Naomi", name)
	}
}
