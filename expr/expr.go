// Package expr builds filter and sort documents for collection queries.
// Values compile directly to driver documents; the engine consumes them
// verbatim.
package expr

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Query is a filter document. The zero value matches every document.
type Query bson.M

// Op names a comparison operator accepted by Q.
type Op string

const (
	OpEq  Op = "$eq"
	OpNe  Op = "$ne"
	OpGt  Op = "$gt"
	OpGte Op = "$gte"
	OpLt  Op = "$lt"
	OpLte Op = "$lte"
	OpIn  Op = "$in"
	OpNin Op = "$nin"
)

// Q builds a single field condition.
func Q(field string, op Op, v any) Query {
	return Query{field: bson.M{string(op): v}}
}

// Eq matches documents whose field equals v.
func Eq(field string, v any) Query { return Q(field, OpEq, v) }

// Ne matches documents whose field differs from v.
func Ne(field string, v any) Query { return Q(field, OpNe, v) }

// Gt matches documents whose field is greater than v.
func Gt(field string, v any) Query { return Q(field, OpGt, v) }

// Gte matches documents whose field is greater than or equal to v.
func Gte(field string, v any) Query { return Q(field, OpGte, v) }

// Lt matches documents whose field is less than v.
func Lt(field string, v any) Query { return Q(field, OpLt, v) }

// Lte matches documents whose field is less than or equal to v.
func Lte(field string, v any) Query { return Q(field, OpLte, v) }

// In matches documents whose field holds any of the given values.
func In(field string, vs ...any) Query { return Q(field, OpIn, bson.A(vs)) }

// Nin matches documents whose field holds none of the given values.
func Nin(field string, vs ...any) Query { return Q(field, OpNin, bson.A(vs)) }

// Regex matches documents whose field matches the pattern.
func Regex(field, pattern string) Query {
	return Query{field: bson.M{"$regex": primitive.Regex{Pattern: pattern}}}
}

// And combines queries conjunctively. Empty operands are absorbed; a single
// surviving operand is returned as is.
func And(qs ...Query) Query {
	return combine("$and", qs)
}

// Or combines queries disjunctively. Empty operands are absorbed; a single
// surviving operand is returned as is.
func Or(qs ...Query) Query {
	return combine("$or", qs)
}

// Not negates a query. An empty query stays empty.
func Not(q Query) Query {
	if len(q) == 0 {
		return Query{}
	}
	return Query{"$nor": bson.A{bson.M(q)}}
}

func combine(op string, qs []Query) Query {
	parts := make([]Query, 0, len(qs))
	for _, q := range qs {
		if len(q) == 0 {
			continue
		}
		parts = append(parts, q)
	}
	switch len(parts) {
	case 0:
		return Query{}
	case 1:
		return parts[0]
	}
	clauses := make(bson.A, len(parts))
	for i, q := range parts {
		clauses[i] = bson.M(q)
	}
	return Query{op: clauses}
}

// Document returns the filter as a driver document.
func (q Query) Document() bson.M {
	if q == nil {
		return bson.M{}
	}
	return bson.M(q)
}

// Sort is an ordered sort document.
type Sort bson.D

// Asc sorts the given fields in ascending order.
func Asc(fields ...string) Sort {
	var s Sort
	for _, f := range fields {
		s = s.Then(Sort{{Key: f, Value: 1}})
	}
	return s
}

// Desc sorts the given fields in descending order.
func Desc(fields ...string) Sort {
	var s Sort
	for _, f := range fields {
		s = s.Then(Sort{{Key: f, Value: -1}})
	}
	return s
}

// Then merges another sort after this one. A repeated field keeps its
// position and takes the later direction.
func (s Sort) Then(more Sort) Sort {
	out := make(Sort, len(s), len(s)+len(more))
	copy(out, s)
next:
	for _, e := range more {
		for i := range out {
			if out[i].Key == e.Key {
				out[i].Value = e.Value
				continue next
			}
		}
		out = append(out, e)
	}
	return out
}

// Document returns the sort as a driver document.
func (s Sort) Document() bson.D {
	return bson.D(s)
}
