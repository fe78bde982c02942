package engine

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/reoring/monsoon"
	"github.com/reoring/monsoon/expr"
)

// saveDocument writes one document, saving its referenced children first
// when cascade is set. Children must be persisted before the owning row so
// the row never points at documents that do not exist yet.
func (e *Engine) saveDocument(ctx context.Context, doc *monsoon.Document, cascade bool) error {
	if err := e.EnsureCollection(ctx, doc.Schema()); err != nil {
		return err
	}
	if cascade {
		if err := e.saveReferenced(ctx, doc); err != nil {
			return err
		}
	}
	return e.upsertRow(ctx, doc)
}

// saveReferenced fans out over the document's reference fields and saves
// every held child concurrently. Siblings have no relative order; the first
// failure cancels the group and surfaces.
func (e *Engine) saveReferenced(ctx context.Context, doc *monsoon.Document) error {
	refs := doc.Schema().References()
	if len(refs) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.CascadeLimit)
	children := 0
	for _, ref := range refs {
		v, err := doc.Get(ref.Name())
		if err != nil {
			return err
		}
		if monsoon.IsEmpty(v) || v == nil {
			continue
		}
		if !ref.IsMany() {
			child, ok := v.(*monsoon.Document)
			if !ok {
				return engineErrorf("field %s of %s holds %T, expected a document", ref.Name(), doc.Schema().Name(), v)
			}
			children++
			g.Go(func() error { return e.saveDocument(gctx, child, true) })
			continue
		}
		items, ok := v.([]any)
		if !ok {
			return engineErrorf("field %s of %s holds %T, expected a document list", ref.Name(), doc.Schema().Name(), v)
		}
		for _, item := range items {
			if item == nil {
				continue
			}
			child, ok := item.(*monsoon.Document)
			if !ok {
				return engineErrorf("field %s of %s holds %T, expected a document", ref.Name(), doc.Schema().Name(), item)
			}
			children++
			g.Go(func() error { return e.saveDocument(gctx, child, true) })
		}
	}
	if children > 0 {
		e.log.Debug("cascade save",
			zap.String("document", doc.Schema().Name()),
			zap.Int("children", children))
	}
	return g.Wait()
}

// upsertRow writes the document's storage dump keyed by its id. The update
// sets only present fields; absent ones are left untouched.
func (e *Engine) upsertRow(ctx context.Context, doc *monsoon.Document) error {
	store, err := e.ensureStore()
	if err != nil {
		return err
	}
	row := doc.DumpBSON()
	id, ok := row["_id"]
	if !ok {
		return engineErrorf("document %s has no id value", doc.Schema().Name())
	}
	delete(row, "_id")
	return store.UpsertOne(ctx, doc.Schema().Collection(), bson.M{"_id": id}, row)
}

// claimedRows tracks the rows a cascade delete has already taken charge of,
// keyed by collection and id. The reference graph may contain cycles, so a
// walk can re-find a row whose deletion is still in flight higher up the
// stack; claiming breaks the recursion there.
type claimedRows struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newClaimedRows() *claimedRows {
	return &claimedRows{keys: map[string]struct{}{}}
}

// claim reports whether the caller is the first to take the document's row.
func (c *claimedRows) claim(doc *monsoon.Document) bool {
	key := fmt.Sprintf("%s\x00%v", doc.Schema().Collection(), doc.ID())
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, seen := c.keys[key]; seen {
		return false
	}
	c.keys[key] = struct{}{}
	return true
}

// deleteDocument removes one document, pruning documents that reference it
// first when cascade is set. The document's own row always goes last so the
// store never holds dangling references.
func (e *Engine) deleteDocument(ctx context.Context, doc *monsoon.Document, cascade bool) error {
	return e.deleteClaimed(ctx, doc, cascade, newClaimedRows())
}

func (e *Engine) deleteClaimed(ctx context.Context, doc *monsoon.Document, cascade bool, claimed *claimedRows) error {
	if !claimed.claim(doc) {
		return nil
	}
	if err := e.EnsureCollection(ctx, doc.Schema()); err != nil {
		return err
	}
	if cascade {
		if err := e.pruneReferencing(ctx, doc, claimed); err != nil {
			return err
		}
	}
	return e.deleteRow(ctx, doc)
}

// pruneReferencing walks the reverse-reference index of the document's type
// and detaches every referencing document, concurrently across source types.
func (e *Engine) pruneReferencing(ctx context.Context, doc *monsoon.Document, claimed *claimedRows) error {
	target := doc.Schema()
	revs, err := monsoon.ReverseReferences(target.Registry(), target)
	if err != nil {
		return err
	}
	if len(revs) == 0 {
		return nil
	}
	e.log.Debug("cascade delete",
		zap.String("document", target.Name()),
		zap.Int("sources", len(revs)))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.CascadeLimit)
	for _, rev := range revs {
		rev := rev
		g.Go(func() error { return e.pruneSource(gctx, rev, doc, claimed) })
	}
	return g.Wait()
}

// pruneSource detaches one referencing document type from the deleted
// target. Matches are read at depth one so the reference field holds live
// documents: single-valued owners are deleted outright and cascaded
// further, list owners shrink in place and are deleted only when the list
// empties.
func (e *Engine) pruneSource(ctx context.Context, rev monsoon.ReverseReference, target *monsoon.Document, claimed *claimedRows) error {
	handle := e.Collection(rev.Source).WithDepth(1)
	for _, ref := range rev.Refs {
		key := ref.StorageValue(target)
		if monsoon.IsEmpty(key) {
			continue
		}
		rows, err := handle.Find(ctx, expr.Eq(ref.KeyName(), key))
		if err != nil {
			return err
		}
		for _, row := range rows {
			if !ref.IsMany() {
				if err := e.deleteClaimed(ctx, row, true, claimed); err != nil {
					return err
				}
				continue
			}
			v, err := row.Get(ref.Name())
			if err != nil {
				return err
			}
			items, _ := v.([]any)
			kept := make([]any, 0, len(items))
			for _, item := range items {
				child, ok := item.(*monsoon.Document)
				if ok && reflect.DeepEqual(ref.StorageValue(child), key) {
					continue
				}
				kept = append(kept, item)
			}
			if len(kept) == 0 {
				if err := e.deleteClaimed(ctx, row, true, claimed); err != nil {
					return err
				}
				continue
			}
			if err := row.Set(ref.Name(), kept); err != nil {
				return err
			}
			if err := e.saveDocument(ctx, row, false); err != nil {
				return err
			}
		}
	}
	return nil
}

// deleteRow removes the document's own row by id.
func (e *Engine) deleteRow(ctx context.Context, doc *monsoon.Document) error {
	store, err := e.ensureStore()
	if err != nil {
		return err
	}
	row := doc.DumpBSON()
	id, ok := row["_id"]
	if !ok {
		return engineErrorf("document %s has no id value", doc.Schema().Name())
	}
	return store.DeleteOne(ctx, doc.Schema().Collection(), bson.M{"_id": id})
}
