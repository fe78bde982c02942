package monsoon

import (
	"cmp"
	"encoding/base64"
	"math"
	"math/big"
	"reflect"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func init() {
	registerBuiltinMapper(reflect.TypeOf((*string)(nil)).Elem(), func() Mapper { return &stringMapper{minLen: -1, maxLen: -1} })
	registerBuiltinMapper(reflect.TypeOf((*bool)(nil)).Elem(), func() Mapper { return boolMapper{} })
	registerBuiltinMapper(reflect.TypeOf((*int)(nil)).Elem(), func() Mapper { return &intMapper{} })
	registerBuiltinMapper(reflect.TypeOf((*int32)(nil)).Elem(), func() Mapper { return &intMapper{} })
	registerBuiltinMapper(reflect.TypeOf((*int64)(nil)).Elem(), func() Mapper { return &intMapper{} })
	registerBuiltinMapper(reflect.TypeOf((*float32)(nil)).Elem(), func() Mapper { return &floatMapper{} })
	registerBuiltinMapper(reflect.TypeOf((*float64)(nil)).Elem(), func() Mapper { return &floatMapper{} })
	registerBuiltinMapper(reflect.TypeOf((*primitive.Decimal128)(nil)).Elem(), func() Mapper { return &decimalMapper{} })
	registerBuiltinMapper(reflect.TypeOf((*primitive.ObjectID)(nil)).Elem(), func() Mapper { return objectIDMapper{} })
	registerBuiltinMapper(reflect.TypeOf((*uuid.UUID)(nil)).Elem(), func() Mapper { return uuidMapper{} })
	registerBuiltinMapper(reflect.TypeOf((*[]byte)(nil)).Elem(), func() Mapper { return binaryMapper{} })
	registerBuiltinMapper(reflect.TypeOf((*map[string]any)(nil)).Elem(), func() Mapper { return jsonMapper{} })
	registerBuiltinMapper(reflect.TypeOf((*bson.M)(nil)).Elem(), func() Mapper { return rawMapper{} })
}

// boundSet holds the optional comparison bounds shared by the numeric and
// temporal mappers.
type boundSet[T cmp.Ordered] struct {
	gt, gte, lt, lte *T
}

func (b boundSet[T]) check(v T) error {
	if b.gt != nil && v <= *b.gt {
		return issueError(CodeTooSmall, "value must be greater than %v", *b.gt)
	}
	if b.gte != nil && v < *b.gte {
		return issueError(CodeTooSmall, "value must be greater than or equal to %v", *b.gte)
	}
	if b.lt != nil && v >= *b.lt {
		return issueError(CodeTooBig, "value must be less than %v", *b.lt)
	}
	if b.lte != nil && v > *b.lte {
		return issueError(CodeTooBig, "value must be less than or equal to %v", *b.lte)
	}
	return nil
}

func ptr[T any](v T) *T { return &v }

// ---- bool ----

type boolMapper struct{}

var boolStrings = map[string]bool{
	"1": true, "true": true, "yes": true, "on": true,
	"0": false, "false": false, "no": false, "off": false,
}

func (boolMapper) Parse(v any, opts ParseOptions) (any, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		if opts.Lenient {
			if b, ok := boolStrings[strings.ToLower(t)]; ok {
				return b, nil
			}
			return nil, issueError(CodeParseError, "cannot parse %q as boolean", t)
		}
	}
	return nil, issueError(CodeInvalidType, "expected boolean, got %T", v)
}

func (boolMapper) Dump(v any) any     { return v }
func (boolMapper) DumpJSON(v any) any { return v }
func (boolMapper) DumpBSON(v any) any { return v }

// ---- string ----

type stringMapper struct {
	minLen  int // -1 when unset
	maxLen  int // -1 when unset
	choices []string
	pattern *regexp.Regexp
}

func (m *stringMapper) Parse(v any, opts ParseOptions) (any, error) {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case []byte:
		if !opts.Lenient {
			return nil, issueError(CodeInvalidType, "expected string, got %T", v)
		}
		s = string(t)
	default:
		return nil, issueError(CodeInvalidType, "expected string, got %T", v)
	}
	if m.minLen >= 0 && len(s) < m.minLen {
		return nil, issueError(CodeTooShort, "length must be at least %d", m.minLen)
	}
	if m.maxLen >= 0 && len(s) > m.maxLen {
		return nil, issueError(CodeTooLong, "length must be at most %d", m.maxLen)
	}
	if len(m.choices) > 0 && !slices.Contains(m.choices, s) {
		return nil, issueError(CodeInvalidChoice, "value must be one of %v", m.choices)
	}
	if m.pattern != nil && !m.pattern.MatchString(s) {
		return nil, issueError(CodePattern, "value does not match pattern %s", m.pattern)
	}
	return s, nil
}

func (*stringMapper) Dump(v any) any     { return v }
func (*stringMapper) DumpJSON(v any) any { return v }
func (*stringMapper) DumpBSON(v any) any { return v }

// ---- integer ----

type intMapper struct {
	bounds     boundSet[int64]
	multipleOf int64 // 0 when unset
}

func (m *intMapper) Parse(v any, opts ParseOptions) (any, error) {
	n, err := m.toInt64(v, opts)
	if err != nil {
		return nil, err
	}
	if err := m.bounds.check(n); err != nil {
		return nil, err
	}
	if m.multipleOf != 0 && n%m.multipleOf != 0 {
		return nil, issueError(CodeNotMultiple, "value must be a multiple of %d", m.multipleOf)
	}
	return n, nil
}

func (m *intMapper) toInt64(v any, opts ParseOptions) (int64, error) {
	switch t := v.(type) {
	case int:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case uint:
		return int64(t), nil
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint64:
		if t > math.MaxInt64 {
			return 0, issueError(CodeTooBig, "integer overflows 64 bits")
		}
		return int64(t), nil
	case float64:
		if !opts.Lenient && !opts.FromStorage {
			return 0, issueError(CodeInvalidType, "expected integer, got %T", v)
		}
		if t != math.Trunc(t) {
			return 0, issueError(CodeParseError, "cannot parse %v as integer", t)
		}
		return int64(t), nil
	case string:
		if !opts.Lenient {
			return 0, issueError(CodeInvalidType, "expected integer, got %T", v)
		}
		// base 0 admits decimal, hex (0x), octal (0o) and binary (0b) text
		n, err := strconv.ParseInt(t, 0, 64)
		if err != nil {
			return 0, issueError(CodeParseError, "cannot parse %q as integer", t)
		}
		return n, nil
	default:
		return 0, issueError(CodeInvalidType, "expected integer, got %T", v)
	}
}

func (*intMapper) Dump(v any) any     { return v }
func (*intMapper) DumpJSON(v any) any { return v }
func (*intMapper) DumpBSON(v any) any { return v }

// ---- float ----

type floatMapper struct {
	bounds boundSet[float64]
}

func (m *floatMapper) Parse(v any, opts ParseOptions) (any, error) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int32:
		f = float64(t)
	case int64:
		f = float64(t)
	case string:
		if !opts.Lenient {
			return nil, issueError(CodeInvalidType, "expected float, got %T", v)
		}
		var err error
		f, err = strconv.ParseFloat(t, 64)
		if err != nil {
			return nil, issueError(CodeParseError, "cannot parse %q as float", t)
		}
	default:
		return nil, issueError(CodeInvalidType, "expected float, got %T", v)
	}
	if err := m.bounds.check(f); err != nil {
		return nil, err
	}
	return f, nil
}

func (*floatMapper) Dump(v any) any     { return v }
func (*floatMapper) DumpJSON(v any) any { return v }
func (*floatMapper) DumpBSON(v any) any { return v }

// ---- decimal ----

// decimalDigits is the significand capacity of the storage engine's native
// decimal type (IEEE 754-2008 decimal128). Inputs with more significant digits
// are rounded half-even to fit, never rejected.
const decimalDigits = 34

type decimalMapper struct {
	gt, gte, lt, lte *primitive.Decimal128
}

func (m *decimalMapper) Parse(v any, opts ParseOptions) (any, error) {
	d, err := decimalFromAny(v, opts)
	if err != nil {
		return nil, err
	}
	if m.gt != nil {
		if c, err := compareDecimal128(d, *m.gt); err != nil || c <= 0 {
			return nil, issueError(CodeTooSmall, "value must be greater than %v", *m.gt)
		}
	}
	if m.gte != nil {
		if c, err := compareDecimal128(d, *m.gte); err != nil || c < 0 {
			return nil, issueError(CodeTooSmall, "value must be greater than or equal to %v", *m.gte)
		}
	}
	if m.lt != nil {
		if c, err := compareDecimal128(d, *m.lt); err != nil || c >= 0 {
			return nil, issueError(CodeTooBig, "value must be less than %v", *m.lt)
		}
	}
	if m.lte != nil {
		if c, err := compareDecimal128(d, *m.lte); err != nil || c > 0 {
			return nil, issueError(CodeTooBig, "value must be less than or equal to %v", *m.lte)
		}
	}
	return d, nil
}

func decimalFromAny(v any, opts ParseOptions) (primitive.Decimal128, error) {
	switch t := v.(type) {
	case primitive.Decimal128:
		return clampDecimal128(t.String())
	case string:
		if !opts.Lenient {
			return primitive.Decimal128{}, issueError(CodeInvalidType, "expected decimal, got %T", v)
		}
		return clampDecimal128(t)
	case float64:
		return clampDecimal128(strconv.FormatFloat(t, 'g', -1, 64))
	case float32:
		return clampDecimal128(strconv.FormatFloat(float64(t), 'g', -1, 32))
	case int:
		return clampDecimal128(strconv.FormatInt(int64(t), 10))
	case int64:
		return clampDecimal128(strconv.FormatInt(t, 10))
	case int32:
		return clampDecimal128(strconv.FormatInt(int64(t), 10))
	default:
		return primitive.Decimal128{}, issueError(CodeInvalidType, "expected decimal, got %T", v)
	}
}

func (*decimalMapper) Dump(v any) any { return v }

func (*decimalMapper) DumpJSON(v any) any {
	if d, ok := v.(primitive.Decimal128); ok {
		return d.String()
	}
	return v
}

func (*decimalMapper) DumpBSON(v any) any { return v }

// clampDecimal128 parses decimal text, rounds the significand half-even to the
// decimal128 capacity, and returns the storage value.
func clampDecimal128(s string) (primitive.Decimal128, error) {
	neg, digits, exp, err := splitDecimal(s)
	if err != nil {
		return primitive.Decimal128{}, err
	}
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return primitive.ParseDecimal128("0")
	}
	if len(digits) > decimalDigits {
		keep, rest := digits[:decimalDigits], digits[decimalDigits:]
		exp += len(rest)
		if roundsUp(keep, rest) {
			keep = incrementDigits(keep)
			if len(keep) > decimalDigits {
				keep = keep[:decimalDigits]
				exp++
			}
		}
		digits = keep
	}
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	b.WriteString(digits)
	if exp != 0 {
		b.WriteByte('E')
		b.WriteString(strconv.Itoa(exp))
	}
	d, err := primitive.ParseDecimal128(b.String())
	if err != nil {
		return primitive.Decimal128{}, issueError(CodeParseError, "cannot represent %q as decimal128", s)
	}
	return d, nil
}

// splitDecimal tears decimal text into sign, significand digits and exponent.
// Non-finite values are rejected: they cannot participate in bound checks.
func splitDecimal(s string) (neg bool, digits string, exp int, err error) {
	text := strings.TrimSpace(s)
	if text == "" {
		return false, "", 0, issueError(CodeParseError, "empty decimal literal")
	}
	switch text[0] {
	case '+':
		text = text[1:]
	case '-':
		neg = true
		text = text[1:]
	}
	mant := text
	if i := strings.IndexAny(text, "eE"); i >= 0 {
		mant = text[:i]
		e, convErr := strconv.Atoi(text[i+1:])
		if convErr != nil {
			return false, "", 0, issueError(CodeParseError, "invalid decimal literal %q", s)
		}
		exp = e
	}
	intPart, fracPart, hasFrac := strings.Cut(mant, ".")
	if intPart == "" && fracPart == "" {
		return false, "", 0, issueError(CodeParseError, "invalid decimal literal %q", s)
	}
	for _, r := range intPart + fracPart {
		if r < '0' || r > '9' {
			return false, "", 0, issueError(CodeParseError, "invalid decimal literal %q", s)
		}
	}
	if hasFrac {
		exp -= len(fracPart)
	}
	return neg, intPart + fracPart, exp, nil
}

// roundsUp implements round-half-even on the dropped digit tail.
func roundsUp(keep, rest string) bool {
	switch {
	case rest[0] > '5':
		return true
	case rest[0] < '5':
		return false
	}
	if strings.TrimRight(rest[1:], "0") != "" {
		return true
	}
	last := keep[len(keep)-1]
	return (last-'0')%2 == 1
}

func incrementDigits(d string) string {
	b := []byte(d)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < '9' {
			b[i]++
			return string(b)
		}
		b[i] = '0'
	}
	return "1" + string(b)
}

// compareDecimal128 orders two finite decimal128 values.
func compareDecimal128(a, b primitive.Decimal128) (int, error) {
	ai, aexp, err := a.BigInt()
	if err != nil {
		return 0, issueError(CodeParseError, "non-finite decimal %v", a)
	}
	bi, bexp, err := b.BigInt()
	if err != nil {
		return 0, issueError(CodeParseError, "non-finite decimal %v", b)
	}
	switch {
	case aexp > bexp:
		ai = new(big.Int).Mul(ai, pow10(aexp-bexp))
	case bexp > aexp:
		bi = new(big.Int).Mul(bi, pow10(bexp-aexp))
	}
	return ai.Cmp(bi), nil
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// ---- object id ----

type objectIDMapper struct{}

func (objectIDMapper) Parse(v any, opts ParseOptions) (any, error) {
	switch t := v.(type) {
	case primitive.ObjectID:
		return t, nil
	case string:
		if !opts.Lenient && !opts.FromStorage {
			return nil, issueError(CodeInvalidType, "expected object id, got %T", v)
		}
		oid, err := primitive.ObjectIDFromHex(t)
		if err != nil {
			return nil, issueError(CodeParseError, "cannot parse %q as object id", t)
		}
		return oid, nil
	default:
		return nil, issueError(CodeInvalidType, "expected object id, got %T", v)
	}
}

func (objectIDMapper) Dump(v any) any { return v }

func (objectIDMapper) DumpJSON(v any) any {
	if oid, ok := v.(primitive.ObjectID); ok {
		return oid.Hex()
	}
	return v
}

func (objectIDMapper) DumpBSON(v any) any { return v }

// ---- uuid ----

type uuidMapper struct {
	version int // 0 accepts any version
}

func (m uuidMapper) Parse(v any, opts ParseOptions) (any, error) {
	var u uuid.UUID
	switch t := v.(type) {
	case uuid.UUID:
		u = t
	case string:
		if !opts.Lenient {
			return nil, issueError(CodeInvalidType, "expected uuid, got %T", v)
		}
		var err error
		u, err = uuid.Parse(t)
		if err != nil {
			return nil, issueError(CodeParseError, "cannot parse %q as uuid", t)
		}
	case primitive.Binary:
		if !opts.FromStorage {
			return nil, issueError(CodeInvalidType, "expected uuid, got %T", v)
		}
		if t.Subtype != bson.TypeBinaryUUID {
			return nil, issueError(CodeInvalidType, "expected uuid binary subtype %d, got %d", bson.TypeBinaryUUID, t.Subtype)
		}
		var err error
		u, err = uuid.FromBytes(t.Data)
		if err != nil {
			return nil, issueError(CodeParseError, "cannot decode binary as uuid")
		}
	default:
		return nil, issueError(CodeInvalidType, "expected uuid, got %T", v)
	}
	if m.version > 0 && int(u.Version()) != m.version {
		return nil, issueError(CodeInvalidFormat, "expected uuid version %d, got %d", m.version, u.Version())
	}
	return u, nil
}

func (uuidMapper) Dump(v any) any { return v }

func (uuidMapper) DumpJSON(v any) any {
	if u, ok := v.(uuid.UUID); ok {
		return u.String()
	}
	return v
}

func (uuidMapper) DumpBSON(v any) any {
	if u, ok := v.(uuid.UUID); ok {
		return primitive.Binary{Subtype: bson.TypeBinaryUUID, Data: u[:]}
	}
	return v
}

// ---- binary ----

type binaryMapper struct{}

func (binaryMapper) Parse(v any, opts ParseOptions) (any, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case primitive.Binary:
		if opts.FromStorage {
			return t.Data, nil
		}
	case string:
		if opts.Lenient {
			raw, err := base64.StdEncoding.DecodeString(t)
			if err != nil {
				return nil, issueError(CodeParseError, "cannot decode base64 binary")
			}
			return raw, nil
		}
	}
	return nil, issueError(CodeInvalidType, "expected binary, got %T", v)
}

func (binaryMapper) Dump(v any) any { return v }

func (binaryMapper) DumpJSON(v any) any {
	if raw, ok := v.([]byte); ok {
		return base64.StdEncoding.EncodeToString(raw)
	}
	return v
}

func (binaryMapper) DumpBSON(v any) any {
	if raw, ok := v.([]byte); ok {
		return primitive.Binary{Subtype: bson.TypeBinaryGeneric, Data: raw}
	}
	return v
}

// ---- arbitrary json / raw bson ----

type jsonMapper struct{}

func (jsonMapper) Parse(v any, opts ParseOptions) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		return t, nil
	case bson.M:
		return map[string]any(t), nil
	case bson.D:
		if opts.FromStorage {
			return t.Map(), nil
		}
	}
	return nil, issueError(CodeInvalidType, "expected json object, got %T", v)
}

func (jsonMapper) Dump(v any) any     { return v }
func (jsonMapper) DumpJSON(v any) any { return v }

func (jsonMapper) DumpBSON(v any) any {
	if m, ok := v.(map[string]any); ok {
		return bson.M(m)
	}
	return v
}

type rawMapper struct{}

func (rawMapper) Parse(v any, opts ParseOptions) (any, error) {
	switch t := v.(type) {
	case bson.M:
		return t, nil
	case map[string]any:
		return bson.M(t), nil
	case bson.D:
		if opts.FromStorage {
			return bson.M(t.Map()), nil
		}
	}
	return nil, issueError(CodeInvalidType, "expected bson document, got %T", v)
}

func (rawMapper) Dump(v any) any     { return v }
func (rawMapper) DumpJSON(v any) any { return v }
func (rawMapper) DumpBSON(v any) any { return v }

// sliceElems normalizes any slice or array value into []any. The bool result
// is false for non-sequence values.
func sliceElems(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case primitive.A:
		return []any(t), true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
		// []byte is binary, not a sequence
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
