package monsoon_test

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	monsoon "github.com/reoring/monsoon"
)

// fieldSchema builds a single-field probe schema on a private registry.
func fieldSchema(tb testing.TB, spec monsoon.TypeSpec, opts ...monsoon.FieldOption) *monsoon.Schema {
	tb.Helper()
	s, err := monsoon.NewSchema("Probe").
		Registry(monsoon.NewRegistry()).
		Field("v", spec, opts...).
		Build()
	if err != nil {
		tb.Fatalf("schema build failed: %v", err)
	}
	return s
}

// parseValue runs one value through the probe field.
func parseValue(tb testing.TB, s *monsoon.Schema, v any, opts monsoon.ParseOptions) (any, error) {
	tb.Helper()
	doc, err := s.Parse(map[string]any{"v": v}, opts)
	if err != nil {
		return nil, err
	}
	out, err := doc.Get("v")
	if err != nil {
		tb.Fatalf("get: %v", err)
	}
	return out, nil
}

// mustParse fails the test when the value is rejected.
func mustParse(tb testing.TB, s *monsoon.Schema, v any, opts monsoon.ParseOptions) any {
	tb.Helper()
	out, err := parseValue(tb, s, v, opts)
	if err != nil {
		tb.Fatalf("parse %v: %v", v, err)
	}
	return out
}

// firstCode extracts the code of the first issue.
func firstCode(tb testing.TB, err error) string {
	tb.Helper()
	ve, ok := monsoon.AsValidationError(err)
	if !ok {
		tb.Fatalf("expected a validation error, got %v", err)
	}
	if len(ve.Issues) == 0 {
		tb.Fatalf("expected at least one issue")
	}
	return ve.Issues[0].Code
}

// storageRoundTrip dumps the probe document to storage form and parses it
// back, returning the re-parsed field value.
func storageRoundTrip(tb testing.TB, s *monsoon.Schema, v any) any {
	tb.Helper()
	doc, err := s.New(map[string]any{"v": v})
	if err != nil {
		tb.Fatalf("new: %v", err)
	}
	row := doc.DumpBSON()
	back, err := s.Parse(map[string]any(row), monsoon.ParseOptions{FromStorage: true})
	if err != nil {
		tb.Fatalf("parse from storage: %v", err)
	}
	out, err := back.Get("v")
	if err != nil {
		tb.Fatalf("get: %v", err)
	}
	return out
}

func TestStringMapper_ConstraintOrder(t *testing.T) {
	s := fieldSchema(t, monsoon.String().MinLen(2).MaxLen(5).Pattern("^[a-z]+$"))

	if out := mustParse(t, s, "abc", monsoon.ParseOptions{}); out != "abc" {
		t.Fatalf("expected abc, got %v", out)
	}
	// Length is checked before the pattern.
	_, err := parseValue(t, s, "A", monsoon.ParseOptions{})
	if code := firstCode(t, err); code != monsoon.CodeTooShort {
		t.Fatalf("expected too_short first, got %s", code)
	}
	_, err = parseValue(t, s, "toolong", monsoon.ParseOptions{})
	if code := firstCode(t, err); code != monsoon.CodeTooLong {
		t.Fatalf("expected too_long, got %s", code)
	}
	_, err = parseValue(t, s, "ABC", monsoon.ParseOptions{})
	if code := firstCode(t, err); code != monsoon.CodePattern {
		t.Fatalf("expected pattern, got %s", code)
	}
	_, err = parseValue(t, s, 42, monsoon.ParseOptions{})
	if code := firstCode(t, err); code != monsoon.CodeInvalidType {
		t.Fatalf("expected invalid_type, got %s", code)
	}
}

func TestStringMapper_Choices(t *testing.T) {
	s := fieldSchema(t, monsoon.String().Choices("red", "green", "blue"))
	mustParse(t, s, "green", monsoon.ParseOptions{})
	_, err := parseValue(t, s, "pink", monsoon.ParseOptions{})
	if code := firstCode(t, err); code != monsoon.CodeInvalidChoice {
		t.Fatalf("expected invalid_choice, got %s", code)
	}
}

func TestIntMapper_BoundsAndMultiple(t *testing.T) {
	s := fieldSchema(t, monsoon.Int().Gte(0).Lt(100).MultipleOf(5))

	if out := mustParse(t, s, 25, monsoon.ParseOptions{}); out != int64(25) {
		t.Fatalf("expected int64(25), got %#v", out)
	}
	_, err := parseValue(t, s, -5, monsoon.ParseOptions{})
	if code := firstCode(t, err); code != monsoon.CodeTooSmall {
		t.Fatalf("expected too_small, got %s", code)
	}
	_, err = parseValue(t, s, 100, monsoon.ParseOptions{})
	if code := firstCode(t, err); code != monsoon.CodeTooBig {
		t.Fatalf("expected too_big, got %s", code)
	}
	_, err = parseValue(t, s, 7, monsoon.ParseOptions{})
	if code := firstCode(t, err); code != monsoon.CodeNotMultiple {
		t.Fatalf("expected not_multiple, got %s", code)
	}
}

func TestIntMapper_LenientText(t *testing.T) {
	s := fieldSchema(t, monsoon.Int())

	// Strict mode rejects text.
	if _, err := parseValue(t, s, "16", monsoon.ParseOptions{}); err == nil {
		t.Fatalf("expected error for text in strict mode")
	}
	// Lenient mode accepts decimal and hex text.
	if out := mustParse(t, s, "16", monsoon.ParseOptions{Lenient: true}); out != int64(16) {
		t.Fatalf("expected 16, got %v", out)
	}
	if out := mustParse(t, s, "0x10", monsoon.ParseOptions{Lenient: true}); out != int64(16) {
		t.Fatalf("expected 16 from hex, got %v", out)
	}
	// Whole floats are accepted from storage; fractional ones never.
	if out := mustParse(t, s, float64(3), monsoon.ParseOptions{FromStorage: true}); out != int64(3) {
		t.Fatalf("expected 3, got %v", out)
	}
	if _, err := parseValue(t, s, 3.5, monsoon.ParseOptions{Lenient: true}); err == nil {
		t.Fatalf("expected error for fractional float")
	}
}

func TestFloatMapper_Bounds(t *testing.T) {
	s := fieldSchema(t, monsoon.Float().Gt(0).Lte(1))
	mustParse(t, s, 0.5, monsoon.ParseOptions{})
	_, err := parseValue(t, s, 0.0, monsoon.ParseOptions{})
	if code := firstCode(t, err); code != monsoon.CodeTooSmall {
		t.Fatalf("expected too_small, got %s", code)
	}
	_, err = parseValue(t, s, 7, monsoon.ParseOptions{})
	if code := firstCode(t, err); code != monsoon.CodeTooBig {
		t.Fatalf("expected too_big, got %s", code)
	}
}

func TestFloatMapper_IntWidens(t *testing.T) {
	s := fieldSchema(t, monsoon.Float())
	if out := mustParse(t, s, 7, monsoon.ParseOptions{}); out != float64(7) {
		t.Fatalf("expected float64(7), got %#v", out)
	}
}

func TestBoolMapper_LenientText(t *testing.T) {
	s := fieldSchema(t, monsoon.Bool())
	if out := mustParse(t, s, true, monsoon.ParseOptions{}); out != true {
		t.Fatalf("expected true, got %v", out)
	}
	if _, err := parseValue(t, s, "yes", monsoon.ParseOptions{}); err == nil {
		t.Fatalf("expected error for text in strict mode")
	}
	if out := mustParse(t, s, "yes", monsoon.ParseOptions{Lenient: true}); out != true {
		t.Fatalf("expected true from yes, got %v", out)
	}
	if out := mustParse(t, s, "0", monsoon.ParseOptions{Lenient: true}); out != false {
		t.Fatalf("expected false from 0, got %v", out)
	}
	if _, err := parseValue(t, s, "maybe", monsoon.ParseOptions{Lenient: true}); err == nil {
		t.Fatalf("expected error for unparseable text")
	}
}

func TestDecimalMapper_ClampsTo34Digits(t *testing.T) {
	s := fieldSchema(t, monsoon.Decimal())

	// 36 significant digits round half-even into 34.
	long := "123456789012345678901234567890123456"
	out := mustParse(t, s, long, monsoon.ParseOptions{Lenient: true})
	want, err := primitive.ParseDecimal128("1234567890123456789012345678901235E2")
	if err != nil {
		t.Fatalf("parse want: %v", err)
	}
	if got := out.(primitive.Decimal128); got.String() != want.String() {
		t.Fatalf("expected %s, got %s", want, got)
	}

	// A tie keeps an even last digit and bumps an odd one.
	evenTie := mustParse(t, s, "10000000000000000000000000000000005", monsoon.ParseOptions{Lenient: true})
	wantEven, _ := primitive.ParseDecimal128("1000000000000000000000000000000000E1")
	if got := evenTie.(primitive.Decimal128); got.String() != wantEven.String() {
		t.Fatalf("half-even tie: expected %s, got %s", wantEven, got)
	}
	oddTie := mustParse(t, s, "10000000000000000000000000000000015", monsoon.ParseOptions{Lenient: true})
	wantOdd, _ := primitive.ParseDecimal128("1000000000000000000000000000000002E1")
	if got := oddTie.(primitive.Decimal128); got.String() != wantOdd.String() {
		t.Fatalf("half-even tie: expected %s, got %s", wantOdd, got)
	}

	// 34 digits survive untouched.
	exact := strings.Repeat("9", 34)
	out = mustParse(t, s, exact, monsoon.ParseOptions{Lenient: true})
	wantExact, _ := primitive.ParseDecimal128(exact)
	if got := out.(primitive.Decimal128); got.String() != wantExact.String() {
		t.Fatalf("expected %s, got %s", wantExact, got)
	}
}

func TestDecimalMapper_Bounds(t *testing.T) {
	s := fieldSchema(t, monsoon.Decimal().Gte("0").Lt("100"))
	mustParse(t, s, "99.5", monsoon.ParseOptions{Lenient: true})
	_, err := parseValue(t, s, "100", monsoon.ParseOptions{Lenient: true})
	if code := firstCode(t, err); code != monsoon.CodeTooBig {
		t.Fatalf("expected too_big, got %s", code)
	}
	_, err = parseValue(t, s, "-0.5", monsoon.ParseOptions{Lenient: true})
	if code := firstCode(t, err); code != monsoon.CodeTooSmall {
		t.Fatalf("expected too_small, got %s", code)
	}
}

func TestDecimalMapper_RejectsNonFinite(t *testing.T) {
	s := fieldSchema(t, monsoon.Decimal())
	for _, bad := range []string{"NaN", "Infinity", "-Infinity", "", "abc"} {
		if _, err := parseValue(t, s, bad, monsoon.ParseOptions{Lenient: true}); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestObjectIDMapper_HexText(t *testing.T) {
	s := fieldSchema(t, monsoon.ObjectID())
	oid := primitive.NewObjectID()

	if out := mustParse(t, s, oid, monsoon.ParseOptions{}); out != oid {
		t.Fatalf("expected identity, got %v", out)
	}
	if _, err := parseValue(t, s, oid.Hex(), monsoon.ParseOptions{}); err == nil {
		t.Fatalf("expected error for hex text in strict mode")
	}
	if out := mustParse(t, s, oid.Hex(), monsoon.ParseOptions{Lenient: true}); out != oid {
		t.Fatalf("expected parsed hex, got %v", out)
	}
	if _, err := parseValue(t, s, "zz", monsoon.ParseOptions{Lenient: true}); err == nil {
		t.Fatalf("expected error for malformed hex")
	}
}

func TestUUIDMapper_VersionAndStorage(t *testing.T) {
	s := fieldSchema(t, monsoon.UUID())
	u := uuid.New()

	doc, err := s.New(map[string]any{"v": u})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	row := doc.DumpBSON()
	bin, ok := row["v"].(primitive.Binary)
	if !ok || bin.Subtype != bson.TypeBinaryUUID {
		t.Fatalf("expected UUID binary subtype in storage, got %#v", row["v"])
	}
	if got := storageRoundTrip(t, s, u); got != u {
		t.Fatalf("expected storage round-trip identity, got %v", got)
	}

	v1only := fieldSchema(t, monsoon.UUID().Version(1))
	_, err = parseValue(t, v1only, u, monsoon.ParseOptions{})
	if code := firstCode(t, err); code != monsoon.CodeInvalidFormat {
		t.Fatalf("expected invalid_format for version mismatch, got %s", code)
	}
}

func TestUUIDMapper_RejectsGenericBinarySubtype(t *testing.T) {
	s := fieldSchema(t, monsoon.UUID())
	u := uuid.New()

	// Subtype 0 is a plain blob; only the UUID subtype decodes.
	generic := primitive.Binary{Subtype: bson.TypeBinaryGeneric, Data: u[:]}
	_, err := parseValue(t, s, generic, monsoon.ParseOptions{FromStorage: true})
	if code := firstCode(t, err); code != monsoon.CodeInvalidType {
		t.Fatalf("expected invalid_type for generic binary, got %s", code)
	}

	tagged := primitive.Binary{Subtype: bson.TypeBinaryUUID, Data: u[:]}
	out, err := parseValue(t, s, tagged, monsoon.ParseOptions{FromStorage: true})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if out != u {
		t.Fatalf("expected %v, got %v", u, out)
	}
}

func TestBinaryMapper_Base64AndStorage(t *testing.T) {
	s := fieldSchema(t, monsoon.Binary())
	raw := []byte{0x01, 0x02, 0xff}

	out := mustParse(t, s, raw, monsoon.ParseOptions{})
	if string(out.([]byte)) != string(raw) {
		t.Fatalf("expected identity, got %v", out)
	}
	if out := mustParse(t, s, "AQL/", monsoon.ParseOptions{Lenient: true}); string(out.([]byte)) != string(raw) {
		t.Fatalf("expected decoded base64, got %v", out)
	}
	got := storageRoundTrip(t, s, raw)
	if string(got.([]byte)) != string(raw) {
		t.Fatalf("expected storage round-trip identity, got %v", got)
	}
}

func TestJSONAndRawMappers(t *testing.T) {
	js := fieldSchema(t, monsoon.JSON())
	v := mustParse(t, js, map[string]any{"k": "v"}, monsoon.ParseOptions{})
	if v.(map[string]any)["k"] != "v" {
		t.Fatalf("expected passthrough map, got %v", v)
	}
	if _, err := parseValue(t, js, "text", monsoon.ParseOptions{}); err == nil {
		t.Fatalf("expected error for non-object")
	}

	raw := fieldSchema(t, monsoon.Raw())
	r := mustParse(t, raw, bson.M{"op": 1}, monsoon.ParseOptions{})
	if r.(bson.M)["op"] != 1 {
		t.Fatalf("expected passthrough bson.M, got %v", r)
	}
	// Plain maps convert into bson.M.
	r = mustParse(t, raw, map[string]any{"op": 2}, monsoon.ParseOptions{})
	if _, ok := r.(bson.M); !ok {
		t.Fatalf("expected bson.M, got %T", r)
	}
}

// Every scalar mapper must satisfy validate(dumpBSON(validate(x))) == validate(x).
func TestScalarStorageRoundTrips(t *testing.T) {
	oid := primitive.NewObjectID()
	u := uuid.New()
	cases := []struct {
		name string
		spec monsoon.TypeSpec
		in   any
	}{
		{"string", monsoon.String(), "hello"},
		{"bool", monsoon.Bool(), true},
		{"int", monsoon.Int(), 42},
		{"float", monsoon.Float(), 2.5},
		{"objectid", monsoon.ObjectID(), oid},
		{"uuid", monsoon.UUID(), u},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := fieldSchema(t, tc.spec)
			first := mustParse(t, s, tc.in, monsoon.ParseOptions{})
			again := storageRoundTrip(t, s, tc.in)
			if first != again {
				t.Fatalf("round trip changed the value: %#v != %#v", first, again)
			}
		})
	}

	// Decimal compares by string: the storage form is the value itself.
	dec := fieldSchema(t, monsoon.Decimal())
	first := mustParse(t, dec, "12.340", monsoon.ParseOptions{Lenient: true}).(primitive.Decimal128)
	doc, err := dec.Parse(map[string]any{"v": first}, monsoon.ParseOptions{})
	if err != nil {
		t.Fatalf("parse canonical decimal: %v", err)
	}
	row := doc.DumpBSON()
	back, err := dec.Parse(map[string]any(row), monsoon.ParseOptions{FromStorage: true})
	if err != nil {
		t.Fatalf("parse from storage: %v", err)
	}
	again, _ := back.Get("v")
	if first.String() != again.(primitive.Decimal128).String() {
		t.Fatalf("decimal round trip changed the value: %s != %s", first, again)
	}
}
