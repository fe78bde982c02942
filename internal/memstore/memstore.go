// Package memstore is an in-memory document store for engine tests. It
// implements the engine's Store interface over plain maps and evaluates the
// pipeline stages the mapping layer generates: $match (including $expr with
// let bindings), $sort, $skip, $limit, $lookup and $unwind. Operations are
// recorded in order so tests can assert cascade sequencing.
package memstore

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store holds collections of rows. The zero value is not usable; call New.
type Store struct {
	mu      sync.Mutex
	colls   map[string]*collection
	created map[string]bool
	ops     []string
}

type collection struct {
	rows    []bson.M
	indexes []mongo.IndexModel
}

func New() *Store {
	return &Store{
		colls:   make(map[string]*collection),
		created: make(map[string]bool),
	}
}

// Ops returns the operations issued so far, as "op:collection" strings.
func (s *Store) Ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.ops))
	copy(out, s.ops)
	return out
}

// ClearOps drops the recorded operation log.
func (s *Store) ClearOps() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = nil
}

// Rows returns a copy of the collection's rows in insertion order.
func (s *Store) Rows(collection string) []bson.M {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.colls[collection]
	if !ok {
		return nil
	}
	return cloneRows(c.rows)
}

// Insert adds rows directly, bypassing the operation log.
func (s *Store) Insert(collection string, rows ...bson.M) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(collection)
	for _, row := range rows {
		c.rows = append(c.rows, cloneRow(row))
	}
}

// Indexes returns the index models created on the collection.
func (s *Store) Indexes(collection string) []mongo.IndexModel {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.colls[collection]
	if !ok {
		return nil
	}
	return c.indexes
}

func (s *Store) record(op, collection string) {
	s.ops = append(s.ops, op+":"+collection)
}

// coll fetches or implicitly creates a collection, like a live server does on
// first write.
func (s *Store) coll(name string) *collection {
	c, ok := s.colls[name]
	if !ok {
		c = &collection{}
		s.colls[name] = c
		s.created[name] = true
	}
	return c
}

func (s *Store) UpsertOne(ctx context.Context, coll string, filter bson.M, fields bson.M) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("upsert", coll)
	c := s.coll(coll)
	for i, row := range c.rows {
		ok, err := matchRow(row, filter, nil)
		if err != nil {
			return err
		}
		if ok {
			next := cloneRow(row)
			for k, v := range fields {
				next[k] = v
			}
			c.rows[i] = next
			return nil
		}
	}
	next := bson.M{}
	for k, v := range filter {
		next[k] = v
	}
	for k, v := range fields {
		next[k] = v
	}
	c.rows = append(c.rows, next)
	return nil
}

func (s *Store) DeleteOne(ctx context.Context, coll string, filter bson.M) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("delete", coll)
	c := s.coll(coll)
	for i, row := range c.rows {
		ok, err := matchRow(row, filter, nil)
		if err != nil {
			return err
		}
		if ok {
			c.rows = append(c.rows[:i], c.rows[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *Store) DeleteMany(ctx context.Context, coll string, filter bson.M) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("delete_many", coll)
	c := s.coll(coll)
	kept := c.rows[:0]
	for _, row := range c.rows {
		ok, err := matchRow(row, filter, nil)
		if err != nil {
			return err
		}
		if !ok {
			kept = append(kept, row)
		}
	}
	c.rows = kept
	return nil
}

func (s *Store) Count(ctx context.Context, coll string, filter bson.M) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("count", coll)
	c := s.coll(coll)
	var n int64
	for _, row := range c.rows {
		ok, err := matchRow(row, filter, nil)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func (s *Store) Aggregate(ctx context.Context, coll string, pipeline mongo.Pipeline) ([]bson.M, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("aggregate", coll)
	c := s.coll(coll)
	stages := make([]any, len(pipeline))
	for i, stage := range pipeline {
		stages[i] = stage
	}
	return s.run(cloneRows(c.rows), stages, nil)
}

func (s *Store) ListCollectionNames(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.created))
	for name := range s.created {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) CreateCollection(ctx context.Context, name string, _ *options.CreateCollectionOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("create", name)
	if s.created[name] {
		return mongo.CommandError{Code: 48, Name: "NamespaceExists", Message: "collection already exists"}
	}
	s.coll(name)
	return nil
}

func (s *Store) CreateIndexes(ctx context.Context, coll string, models []mongo.IndexModel) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("index", coll)
	c := s.coll(coll)
	c.indexes = append(c.indexes, models...)
	return nil
}

// ---- pipeline evaluation ----

// run executes stages over rows. vars carries $$-bindings of an enclosing
// $lookup. The store lock is held by the caller.
func (s *Store) run(rows []bson.M, stages []any, vars map[string]any) ([]bson.M, error) {
	var err error
	for _, stage := range stages {
		key, val, kvErr := stageKV(stage)
		if kvErr != nil {
			return nil, kvErr
		}
		switch key {
		case "$match":
			rows, err = s.evalMatch(rows, val, vars)
		case "$sort":
			rows, err = evalSort(rows, val)
		case "$skip":
			rows, err = evalSkip(rows, val)
		case "$limit":
			rows, err = evalLimit(rows, val)
		case "$lookup":
			rows, err = s.evalLookup(rows, val, vars)
		case "$unwind":
			rows, err = evalUnwind(rows, val)
		default:
			return nil, fmt.Errorf("unsupported stage %q", key)
		}
		if err != nil {
			return nil, err
		}
	}
	return rows, nil
}

func stageKV(stage any) (string, any, error) {
	switch st := stage.(type) {
	case bson.D:
		if len(st) != 1 {
			return "", nil, fmt.Errorf("stage must hold one operator, got %d", len(st))
		}
		return st[0].Key, st[0].Value, nil
	case bson.M:
		if len(st) != 1 {
			return "", nil, fmt.Errorf("stage must hold one operator, got %d", len(st))
		}
		for k, v := range st {
			return k, v, nil
		}
	}
	return "", nil, fmt.Errorf("unsupported stage type %T", stage)
}

func (s *Store) evalMatch(rows []bson.M, val any, vars map[string]any) ([]bson.M, error) {
	filter, ok := val.(bson.M)
	if !ok {
		return nil, fmt.Errorf("$match expects a document, got %T", val)
	}
	out := rows[:0]
	for _, row := range rows {
		ok, err := matchRow(row, filter, vars)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, row)
		}
	}
	return out, nil
}

// matchRow evaluates a filter document against one row.
func matchRow(row bson.M, filter bson.M, vars map[string]any) (bool, error) {
	for key, cond := range filter {
		var ok bool
		var err error
		switch key {
		case "$and":
			ok, err = matchEvery(row, cond, vars, true)
		case "$or":
			ok, err = matchAny(row, cond, vars)
		case "$nor":
			ok, err = matchEvery(row, cond, vars, false)
		case "$expr":
			var v any
			v, err = evalExpr(row, cond, vars)
			ok = v == true
		default:
			ok, err = matchField(fieldValue(row, key), cond)
		}
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func clauses(cond any) ([]any, error) {
	if list, ok := asList(cond); ok {
		return list, nil
	}
	return nil, fmt.Errorf("logical operator expects an array, got %T", cond)
}

func matchEvery(row bson.M, cond any, vars map[string]any, want bool) (bool, error) {
	list, err := clauses(cond)
	if err != nil {
		return false, err
	}
	for _, clause := range list {
		sub, ok := asFilter(clause)
		if !ok {
			return false, fmt.Errorf("clause must be a document, got %T", clause)
		}
		hit, err := matchRow(row, sub, vars)
		if err != nil {
			return false, err
		}
		if hit != want {
			return false, nil
		}
	}
	return true, nil
}

func matchAny(row bson.M, cond any, vars map[string]any) (bool, error) {
	list, err := clauses(cond)
	if err != nil {
		return false, err
	}
	for _, clause := range list {
		sub, ok := asFilter(clause)
		if !ok {
			return false, fmt.Errorf("clause must be a document, got %T", clause)
		}
		hit, err := matchRow(row, sub, vars)
		if err != nil {
			return false, err
		}
		if hit {
			return true, nil
		}
	}
	return false, nil
}

// matchField evaluates one field condition: either an operator document or a
// bare literal compared for equality.
func matchField(field any, cond any) (bool, error) {
	ops, ok := operatorDoc(cond)
	if !ok {
		return eqOrContains(field, cond), nil
	}
	for op, arg := range ops {
		var hit bool
		switch op {
		case "$eq":
			hit = eqOrContains(field, arg)
		case "$ne":
			hit = !eqOrContains(field, arg)
		case "$gt", "$gte", "$lt", "$lte":
			c, comparable := compare(field, arg)
			if !comparable {
				hit = false
			} else {
				switch op {
				case "$gt":
					hit = c > 0
				case "$gte":
					hit = c >= 0
				case "$lt":
					hit = c < 0
				case "$lte":
					hit = c <= 0
				}
			}
		case "$in":
			list, ok := asList(arg)
			if !ok {
				return false, fmt.Errorf("$in expects an array, got %T", arg)
			}
			for _, want := range list {
				if eqOrContains(field, want) {
					hit = true
					break
				}
			}
		case "$nin":
			list, ok := asList(arg)
			if !ok {
				return false, fmt.Errorf("$nin expects an array, got %T", arg)
			}
			hit = true
			for _, want := range list {
				if eqOrContains(field, want) {
					hit = false
					break
				}
			}
		case "$regex":
			hit = matchRegex(field, arg)
		default:
			return false, fmt.Errorf("unsupported operator %q", op)
		}
		if !hit {
			return false, nil
		}
	}
	return true, nil
}

// operatorDoc reports whether cond is a document of $-operators.
func operatorDoc(cond any) (bson.M, bool) {
	doc, ok := asFilter(cond)
	if !ok || len(doc) == 0 {
		return nil, false
	}
	for k := range doc {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return doc, true
}

func matchRegex(field any, arg any) bool {
	var pattern string
	switch a := arg.(type) {
	case primitive.Regex:
		pattern = a.Pattern
	case string:
		pattern = a
	default:
		return false
	}
	str, ok := field.(string)
	if !ok {
		return false
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(str)
}

// evalExpr evaluates the aggregation expressions the dereference pipeline
// uses: field paths, $$-variables, literals, and $eq / $in over them.
func evalExpr(row bson.M, expr any, vars map[string]any) (any, error) {
	switch e := expr.(type) {
	case string:
		if strings.HasPrefix(e, "$$") {
			return vars[e[2:]], nil
		}
		if strings.HasPrefix(e, "$") {
			return fieldValue(row, e[1:]), nil
		}
		return e, nil
	case bson.M:
		if len(e) != 1 {
			return nil, fmt.Errorf("expression must hold one operator, got %d", len(e))
		}
		for op, rawArgs := range e {
			args, ok := asList(rawArgs)
			if !ok || len(args) != 2 {
				return nil, fmt.Errorf("%s expects two operands", op)
			}
			a, err := evalExpr(row, args[0], vars)
			if err != nil {
				return nil, err
			}
			b, err := evalExpr(row, args[1], vars)
			if err != nil {
				return nil, err
			}
			switch op {
			case "$eq":
				return equal(a, b), nil
			case "$in":
				list, ok := asList(b)
				if !ok {
					return false, nil
				}
				for _, want := range list {
					if equal(a, want) {
						return true, nil
					}
				}
				return false, nil
			default:
				return nil, fmt.Errorf("unsupported expression operator %q", op)
			}
		}
	}
	return expr, nil
}

func evalSort(rows []bson.M, val any) ([]bson.M, error) {
	keys, ok := val.(bson.D)
	if !ok {
		return nil, fmt.Errorf("$sort expects an ordered document, got %T", val)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, key := range keys {
			dir := int64(1)
			if n, ok := toNumber(key.Value); ok && n < 0 {
				dir = -1
			}
			c := compareForSort(rows[i][key.Key], rows[j][key.Key])
			if c == 0 {
				continue
			}
			return int64(c)*dir < 0
		}
		return false
	})
	return rows, nil
}

// compareForSort ranks missing and null values first, like the server.
func compareForSort(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if c, ok := compare(a, b); ok {
		return c
	}
	return 0
}

func evalSkip(rows []bson.M, val any) ([]bson.M, error) {
	n, ok := toNumber(val)
	if !ok {
		return nil, fmt.Errorf("$skip expects a number, got %T", val)
	}
	if int(n) >= len(rows) {
		return nil, nil
	}
	return rows[int(n):], nil
}

func evalLimit(rows []bson.M, val any) ([]bson.M, error) {
	n, ok := toNumber(val)
	if !ok {
		return nil, fmt.Errorf("$limit expects a number, got %T", val)
	}
	if int(n) < len(rows) {
		rows = rows[:int(n)]
	}
	return rows, nil
}

func (s *Store) evalLookup(rows []bson.M, val any, vars map[string]any) ([]bson.M, error) {
	spec, ok := val.(bson.M)
	if !ok {
		return nil, fmt.Errorf("$lookup expects a document, got %T", val)
	}
	from, _ := spec["from"].(string)
	as, _ := spec["as"].(string)
	let, _ := spec["let"].(bson.M)
	stages, ok := asList(spec["pipeline"])
	if !ok {
		return nil, fmt.Errorf("$lookup expects a pipeline")
	}
	foreign, ok := s.colls[from]
	var source []bson.M
	if ok {
		source = foreign.rows
	}
	for i, row := range rows {
		sub := make(map[string]any, len(let))
		for name, e := range let {
			v, err := evalExpr(row, e, vars)
			if err != nil {
				return nil, err
			}
			sub[name] = v
		}
		matched, err := s.run(cloneRows(source), stages, sub)
		if err != nil {
			return nil, err
		}
		joined := make(bson.A, len(matched))
		for j, m := range matched {
			joined[j] = m
		}
		next := cloneRow(row)
		next[as] = joined
		rows[i] = next
	}
	return rows, nil
}

func evalUnwind(rows []bson.M, val any) ([]bson.M, error) {
	spec, ok := val.(bson.M)
	if !ok {
		return nil, fmt.Errorf("$unwind expects a document, got %T", val)
	}
	path, _ := spec["path"].(string)
	preserve, _ := spec["preserveNullAndEmptyArrays"].(bool)
	field := strings.TrimPrefix(path, "$")
	var out []bson.M
	for _, row := range rows {
		v, present := row[field]
		items, isList := asList(v)
		if !present || v == nil || (isList && len(items) == 0) {
			if preserve {
				next := cloneRow(row)
				delete(next, field)
				out = append(out, next)
			}
			continue
		}
		if !isList {
			out = append(out, row)
			continue
		}
		for _, item := range items {
			next := cloneRow(row)
			next[field] = item
			out = append(out, next)
		}
	}
	return out, nil
}

// ---- value helpers ----

func cloneRow(row bson.M) bson.M {
	out := make(bson.M, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

func cloneRows(rows []bson.M) []bson.M {
	out := make([]bson.M, len(rows))
	for i, row := range rows {
		out[i] = cloneRow(row)
	}
	return out
}

func asList(v any) ([]any, bool) {
	switch list := v.(type) {
	case []any:
		return list, true
	case bson.A:
		return list, true
	}
	return nil, false
}

func asFilter(v any) (bson.M, bool) {
	switch doc := v.(type) {
	case bson.M:
		return doc, true
	case map[string]any:
		return doc, true
	}
	return nil, false
}

// fieldValue resolves a dotted path against nested documents.
func fieldValue(row bson.M, path string) any {
	var cur any = row
	for _, part := range strings.Split(path, ".") {
		doc, ok := asFilter(cur)
		if !ok {
			return nil
		}
		cur, ok = doc[part]
		if !ok {
			return nil
		}
	}
	return cur
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// equal compares two values with numeric widening.
func equal(a, b any) bool {
	if na, ok := toNumber(a); ok {
		nb, ok := toNumber(b)
		return ok && na == nb
	}
	return reflect.DeepEqual(a, b)
}

func eqOrContains(field any, want any) bool {
	if equal(field, want) {
		return true
	}
	if items, ok := asList(field); ok {
		for _, item := range items {
			if equal(item, want) {
				return true
			}
		}
	}
	return false
}

// compare orders two values of the same general kind.
func compare(a, b any) (int, bool) {
	if na, ok := toNumber(a); ok {
		nb, ok := toNumber(b)
		if !ok {
			return 0, false
		}
		switch {
		case na < nb:
			return -1, true
		case na > nb:
			return 1, true
		}
		return 0, true
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return av.Compare(bv), true
	case primitive.DateTime:
		bv, ok := b.(primitive.DateTime)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		}
		return 0, true
	case primitive.ObjectID:
		bv, ok := b.(primitive.ObjectID)
		if !ok {
			return 0, false
		}
		return bytes.Compare(av[:], bv[:]), true
	}
	return 0, false
}
