package expr_test

import (
	"fmt"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/reoring/monsoon/expr"
)

func TestQ_BuildsComparisonDocuments(t *testing.T) {
	cases := []struct {
		q    expr.Query
		want bson.M
	}{
		{expr.Eq("age", 30), bson.M{"age": bson.M{"$eq": 30}}},
		{expr.Ne("age", 30), bson.M{"age": bson.M{"$ne": 30}}},
		{expr.Gt("age", 30), bson.M{"age": bson.M{"$gt": 30}}},
		{expr.Gte("age", 30), bson.M{"age": bson.M{"$gte": 30}}},
		{expr.Lt("age", 30), bson.M{"age": bson.M{"$lt": 30}}},
		{expr.Lte("age", 30), bson.M{"age": bson.M{"$lte": 30}}},
		{expr.In("kind", "a", "b"), bson.M{"kind": bson.M{"$in": bson.A{"a", "b"}}}},
		{expr.Nin("kind", "a"), bson.M{"kind": bson.M{"$nin": bson.A{"a"}}}},
	}
	for _, tc := range cases {
		if got := tc.q.Document(); fmt.Sprint(got) != fmt.Sprint(tc.want) {
			t.Fatalf("expected %v, got %v", tc.want, got)
		}
	}
}

func TestRegex_WrapsDriverPattern(t *testing.T) {
	q := expr.Regex("name", "^g")
	cond := q.Document()["name"].(bson.M)
	re, ok := cond["$regex"].(primitive.Regex)
	if !ok || re.Pattern != "^g" {
		t.Fatalf("expected a driver regex, got %#v", cond)
	}
}

func TestAnd_AbsorbsEmptyOperands(t *testing.T) {
	a := expr.Eq("x", 1)
	b := expr.Eq("y", 2)

	got := expr.And(a, expr.Query{}, b).Document()
	clauses, ok := got["$and"].(bson.A)
	if !ok || len(clauses) != 2 {
		t.Fatalf("expected two clauses, got %v", got)
	}

	// A single surviving operand passes through without the wrapper.
	got = expr.And(expr.Query{}, a).Document()
	if _, wrapped := got["$and"]; wrapped {
		t.Fatalf("expected the single operand unwrapped, got %v", got)
	}
	if fmt.Sprint(got) != fmt.Sprint(a.Document()) {
		t.Fatalf("expected %v, got %v", a.Document(), got)
	}

	// All empty collapses to the match-all filter.
	if got := expr.And().Document(); len(got) != 0 {
		t.Fatalf("expected an empty filter, got %v", got)
	}
}

func TestOr_MirrorsAnd(t *testing.T) {
	a := expr.Eq("x", 1)
	b := expr.Eq("y", 2)

	got := expr.Or(a, b).Document()
	clauses, ok := got["$or"].(bson.A)
	if !ok || len(clauses) != 2 {
		t.Fatalf("expected two clauses, got %v", got)
	}
	if got := expr.Or(expr.Query{}, expr.Query{}).Document(); len(got) != 0 {
		t.Fatalf("expected an empty filter, got %v", got)
	}
}

func TestNot_UsesNorAndKeepsEmpty(t *testing.T) {
	got := expr.Not(expr.Eq("x", 1)).Document()
	clauses, ok := got["$nor"].(bson.A)
	if !ok || len(clauses) != 1 {
		t.Fatalf("expected a $nor wrapper, got %v", got)
	}
	inner := clauses[0].(bson.M)
	if fmt.Sprint(inner) != fmt.Sprint(bson.M{"x": bson.M{"$eq": 1}}) {
		t.Fatalf("expected the negated clause, got %v", inner)
	}

	if got := expr.Not(expr.Query{}).Document(); len(got) != 0 {
		t.Fatalf("expected an empty filter to stay empty, got %v", got)
	}
}

func TestNilQueryDocument(t *testing.T) {
	var q expr.Query
	if got := q.Document(); got == nil || len(got) != 0 {
		t.Fatalf("expected a non-nil empty document, got %#v", got)
	}
}

func TestSort_OrderAndOverride(t *testing.T) {
	s := expr.Asc("a", "b").Then(expr.Desc("c"))
	want := bson.D{{Key: "a", Value: 1}, {Key: "b", Value: 1}, {Key: "c", Value: -1}}
	if fmt.Sprint(s.Document()) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, s.Document())
	}

	// A repeated key keeps its position and takes the later direction.
	s = expr.Asc("a", "b").Then(expr.Desc("a"))
	want = bson.D{{Key: "a", Value: -1}, {Key: "b", Value: 1}}
	if fmt.Sprint(s.Document()) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, s.Document())
	}
}
