package engine_test

import (
	"context"
	"reflect"
	"slices"
	"strings"
	"testing"

	monsoon "github.com/reoring/monsoon"
	"github.com/reoring/monsoon/engine"
	"github.com/reoring/monsoon/internal/memstore"
)

// opsWithPrefix filters the store log down to one operation kind.
func opsWithPrefix(ops []string, prefix string) []string {
	var out []string
	for _, op := range ops {
		if strings.HasPrefix(op, prefix) {
			out = append(out, op)
		}
	}
	return out
}

func TestCascadeSave_ChildrenBeforeOwner(t *testing.T) {
	eng, store, authorSchema, bookSchema := libraryEngine(t)
	ctx := context.Background()

	author := newDoc(t, authorSchema, map[string]any{"name": "Naomi", "age": 41})
	book := newDoc(t, bookSchema, map[string]any{"title": "Dust", "author": author})
	if err := eng.Collection(bookSchema).Save(ctx, book, true); err != nil {
		t.Fatalf("save: %v", err)
	}

	upserts := opsWithPrefix(store.Ops(), "upsert:")
	want := []string{"upsert:authors", "upsert:books"}
	if !slices.Equal(upserts, want) {
		t.Fatalf("upsert order %v, want %v", upserts, want)
	}
	rows := store.Rows("books")
	if len(rows) != 1 {
		t.Fatalf("expected 1 book row, got %d", len(rows))
	}
	if rows[0]["author_id"] != author.ID() {
		t.Fatalf("stored key %v, want %v", rows[0]["author_id"], author.ID())
	}
	if rows := store.Rows("authors"); len(rows) != 1 {
		t.Fatalf("expected the author to be saved too, got %d rows", len(rows))
	}
}

func TestCascadeSave_OffLeavesChildrenUnsaved(t *testing.T) {
	eng, store, authorSchema, bookSchema := libraryEngine(t)
	ctx := context.Background()

	author := newDoc(t, authorSchema, map[string]any{"name": "Naomi", "age": 41})
	book := newDoc(t, bookSchema, map[string]any{"title": "Dust", "author": author})
	if err := eng.Collection(bookSchema).Save(ctx, book, false); err != nil {
		t.Fatalf("save: %v", err)
	}

	if rows := store.Rows("authors"); len(rows) != 0 {
		t.Fatalf("expected no author rows, got %d", len(rows))
	}
	// The key is still written; only the child row is skipped.
	rows := store.Rows("books")
	if len(rows) != 1 || rows[0]["author_id"] != author.ID() {
		t.Fatalf("expected the book row to keep the key, got %v", rows)
	}
}

// blogEngine wires a single-valued Author <- Post <- Comment chain.
func blogEngine(tb testing.TB) (*engine.Engine, *memstore.Store, *monsoon.Schema, *monsoon.Schema, *monsoon.Schema) {
	tb.Helper()
	reg := monsoon.NewRegistry()
	author := monsoon.NewSchema("Author").Registry(reg).
		Field("name", monsoon.String()).
		MustBuild()
	post := monsoon.NewSchema("Post").Registry(reg).
		Field("title", monsoon.String()).
		Field("author", monsoon.Ref("Author")).
		MustBuild()
	comment := monsoon.NewSchema("Comment").Registry(reg).
		Field("body", monsoon.String()).
		Field("post", monsoon.Ref("Post")).
		MustBuild()
	store := memstore.New()
	eng, err := engine.NewEngine(engine.Config{Database: "blog"}, engine.WithStore(store))
	if err != nil {
		tb.Fatalf("new engine: %v", err)
	}
	return eng, store, author, post, comment
}

func TestCascadeDelete_SingleEdgesDeleteOwners(t *testing.T) {
	eng, store, authorSchema, postSchema, commentSchema := blogEngine(t)
	ctx := context.Background()

	author := newDoc(t, authorSchema, map[string]any{"name": "Naomi"})
	post := newDoc(t, postSchema, map[string]any{"title": "Dust", "author": author})
	comment := newDoc(t, commentSchema, map[string]any{"body": "More!", "post": post})
	if err := eng.Collection(commentSchema).Save(ctx, comment, true); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store.ClearOps()

	if err := eng.Collection(authorSchema).Delete(ctx, author, true); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// The whole chain goes, leaves first, the target's own row last.
	deletes := opsWithPrefix(store.Ops(), "delete:")
	want := []string{"delete:comments", "delete:posts", "delete:authors"}
	if !slices.Equal(deletes, want) {
		t.Fatalf("delete order %v, want %v", deletes, want)
	}
	for _, coll := range []string{"authors", "posts", "comments"} {
		if rows := store.Rows(coll); len(rows) != 0 {
			t.Fatalf("expected %s to be empty, got %d rows", coll, len(rows))
		}
	}
}

func TestCascadeDelete_OffLeavesReferencingRows(t *testing.T) {
	eng, store, authorSchema, postSchema, _ := blogEngine(t)
	ctx := context.Background()

	author := newDoc(t, authorSchema, map[string]any{"name": "Naomi"})
	post := newDoc(t, postSchema, map[string]any{"title": "Dust", "author": author})
	if err := eng.Collection(postSchema).Save(ctx, post, true); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store.ClearOps()

	if err := eng.Collection(authorSchema).Delete(ctx, author, false); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if deletes := opsWithPrefix(store.Ops(), "delete:"); !slices.Equal(deletes, []string{"delete:authors"}) {
		t.Fatalf("expected only the author row to go, got %v", deletes)
	}
	rows := store.Rows("posts")
	if len(rows) != 1 || rows[0]["author_id"] != author.ID() {
		t.Fatalf("expected the post row to survive untouched, got %v", rows)
	}
}

// subscriptionEngine wires a many-valued Reader <- Magazine edge.
func subscriptionEngine(tb testing.TB) (*engine.Engine, *memstore.Store, *monsoon.Schema, *monsoon.Schema) {
	tb.Helper()
	reg := monsoon.NewRegistry()
	reader := monsoon.NewSchema("Reader").Registry(reg).
		Field("name", monsoon.String()).
		MustBuild()
	magazine := monsoon.NewSchema("Magazine").Registry(reg).
		Field("title", monsoon.String()).
		Field("subscribers", monsoon.List(monsoon.Ref("Reader"))).
		MustBuild()
	store := memstore.New()
	eng, err := engine.NewEngine(engine.Config{Database: "news"}, engine.WithStore(store))
	if err != nil {
		tb.Fatalf("new engine: %v", err)
	}
	return eng, store, reader, magazine
}

func TestCascadeDelete_ListEdgeShrinksInPlace(t *testing.T) {
	eng, store, readerSchema, magazineSchema := subscriptionEngine(t)
	ctx := context.Background()

	r1 := newDoc(t, readerSchema, map[string]any{"name": "Ines"})
	r2 := newDoc(t, readerSchema, map[string]any{"name": "Jody"})
	mag := newDoc(t, magazineSchema, map[string]any{"title": "Tides", "subscribers": []any{r1, r2}})
	if err := eng.Collection(magazineSchema).Save(ctx, mag, true); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store.ClearOps()

	if err := eng.Collection(readerSchema).Delete(ctx, r1, true); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// The magazine keeps its row with the deleted reader filtered out.
	rows := store.Rows("magazines")
	if len(rows) != 1 {
		t.Fatalf("expected the magazine to survive, got %d rows", len(rows))
	}
	if got := rows[0]["subscribers_id"]; !reflect.DeepEqual(got, []any{r2.ID()}) {
		t.Fatalf("subscribers_id = %v, want [%v]", got, r2.ID())
	}
	if rows := store.Rows("readers"); len(rows) != 1 {
		t.Fatalf("expected one reader left, got %d", len(rows))
	}

	ops := store.Ops()
	if deletes := opsWithPrefix(ops, "delete:"); !slices.Equal(deletes, []string{"delete:readers"}) {
		t.Fatalf("expected only the reader row to go, got %v", deletes)
	}
	// The shrink is persisted before the target row goes.
	if slices.Index(ops, "upsert:magazines") > slices.Index(ops, "delete:readers") {
		t.Fatalf("expected the shrink before the delete, got %v", ops)
	}
}

// accountEngine wires two document types that reference each other, a cycle
// the reference graph explicitly permits.
func accountEngine(tb testing.TB) (*engine.Engine, *memstore.Store, *monsoon.Schema, *monsoon.Schema) {
	tb.Helper()
	reg := monsoon.NewRegistry()
	account := monsoon.NewSchema("Account").Registry(reg).
		Field("email", monsoon.String()).
		Field("profile", monsoon.Ref("Profile")).
		MustBuild()
	profile := monsoon.NewSchema("Profile").Registry(reg).
		Field("bio", monsoon.String()).
		Field("account", monsoon.Ref("Account")).
		MustBuild()
	store := memstore.New()
	eng, err := engine.NewEngine(engine.Config{Database: "accounts"}, engine.WithStore(store))
	if err != nil {
		tb.Fatalf("new engine: %v", err)
	}
	return eng, store, account, profile
}

func TestCascadeDelete_MutualReferencesTerminate(t *testing.T) {
	eng, store, accountSchema, profileSchema := accountEngine(t)
	ctx := context.Background()

	acct := newDoc(t, accountSchema, map[string]any{"email": "naomi@example.com"})
	prof := newDoc(t, profileSchema, map[string]any{"bio": "pilot", "account": acct})
	if err := acct.Set("profile", prof); err != nil {
		t.Fatalf("set: %v", err)
	}
	// Seed both rows without cascade; the in-memory pair is cyclic.
	if err := eng.Collection(accountSchema).Save(ctx, acct, false); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	if err := eng.Collection(profileSchema).Save(ctx, prof, false); err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	store.ClearOps()

	if err := eng.Collection(accountSchema).Delete(ctx, acct, true); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// Each row is deleted exactly once: the walk re-finds the account
	// through the profile's back edge and must stop there.
	deletes := opsWithPrefix(store.Ops(), "delete:")
	want := []string{"delete:profiles", "delete:accounts"}
	if !slices.Equal(deletes, want) {
		t.Fatalf("delete order %v, want %v", deletes, want)
	}
	for _, coll := range []string{"accounts", "profiles"} {
		if rows := store.Rows(coll); len(rows) != 0 {
			t.Fatalf("expected %s to be empty, got %d rows", coll, len(rows))
		}
	}
}

func TestCascadeDelete_SelfReferenceTerminates(t *testing.T) {
	reg := monsoon.NewRegistry()
	taskSchema := monsoon.NewSchema("Task").Registry(reg).
		Field("title", monsoon.String()).
		Field("parent", monsoon.Ref("Task")).
		MustBuild()
	store := memstore.New()
	eng, err := engine.NewEngine(engine.Config{Database: "todo"}, engine.WithStore(store))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	ctx := context.Background()

	task := newDoc(t, taskSchema, map[string]any{"title": "loop"})
	if err := task.Set("parent", task); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := eng.Collection(taskSchema).Save(ctx, task, false); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store.ClearOps()

	if err := eng.Collection(taskSchema).Delete(ctx, task, true); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if deletes := opsWithPrefix(store.Ops(), "delete:"); !slices.Equal(deletes, []string{"delete:tasks"}) {
		t.Fatalf("expected a single delete, got %v", deletes)
	}
	if rows := store.Rows("tasks"); len(rows) != 0 {
		t.Fatalf("expected tasks to be empty, got %d rows", len(rows))
	}
}

func TestCascadeDelete_ListEdgeEmptiedDeletesOwner(t *testing.T) {
	eng, store, readerSchema, magazineSchema := subscriptionEngine(t)
	ctx := context.Background()

	r1 := newDoc(t, readerSchema, map[string]any{"name": "Ines"})
	mag := newDoc(t, magazineSchema, map[string]any{"title": "Tides", "subscribers": []any{r1}})
	if err := eng.Collection(magazineSchema).Save(ctx, mag, true); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store.ClearOps()

	if err := eng.Collection(readerSchema).Delete(ctx, r1, true); err != nil {
		t.Fatalf("delete: %v", err)
	}

	deletes := opsWithPrefix(store.Ops(), "delete:")
	want := []string{"delete:magazines", "delete:readers"}
	if !slices.Equal(deletes, want) {
		t.Fatalf("delete order %v, want %v", deletes, want)
	}
	if rows := store.Rows("magazines"); len(rows) != 0 {
		t.Fatalf("expected the emptied magazine to go, got %d rows", len(rows))
	}
	if rows := store.Rows("readers"); len(rows) != 0 {
		t.Fatalf("expected no readers left, got %d rows", len(rows))
	}
}
