package monsoon

import (
	"reflect"
	"regexp"
	"strconv"

	"go.mongodb.org/mongo-driver/bson"
)

func init() {
	registerBuiltinMapper(reflect.TypeOf((*Position)(nil)).Elem(), func() Mapper {
		return geometryMapper{kind: "Point", parse: parsePointValue, coords: pointCoords}
	})
	registerBuiltinMapper(reflect.TypeOf((*MultiPoint)(nil)).Elem(), func() Mapper {
		return geometryMapper{kind: "MultiPoint", parse: parseMultiPointValue, coords: multiPointCoords}
	})
	registerBuiltinMapper(reflect.TypeOf((*LineString)(nil)).Elem(), func() Mapper {
		return geometryMapper{kind: "LineString", parse: parseLineStringValue, coords: lineStringCoords}
	})
	registerBuiltinMapper(reflect.TypeOf((*MultiLineString)(nil)).Elem(), func() Mapper {
		return geometryMapper{kind: "MultiLineString", parse: parseMultiLineStringValue, coords: multiLineStringCoords}
	})
	registerBuiltinMapper(reflect.TypeOf((*Polygon)(nil)).Elem(), func() Mapper {
		return geometryMapper{kind: "Polygon", parse: parsePolygonValue, coords: polygonCoords}
	})
	registerBuiltinMapper(reflect.TypeOf((*MultiPolygon)(nil)).Elem(), func() Mapper {
		return geometryMapper{kind: "MultiPolygon", parse: parseMultiPolygonValue, coords: multiPolygonCoords}
	})
}

// ---- constrained strings ----

var (
	reIPv4 = regexp.MustCompile(
		`^(\b25[0-5]|\b2[0-4][0-9]|\b[01]?[0-9][0-9]?)(\.(25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)){3}$`,
	)
	reIPv6 = regexp.MustCompile(
		`^(([0-9a-fA-F]{1,4}:){7,7}[0-9a-fA-F]{1,4}|([0-9a-fA-F]{1,4}:){1,7}:|([0-9a-fA-F]{1,4}:)` +
			`{1,6}:[0-9a-fA-F]{1,4}|([0-9a-fA-F]{1,4}:){1,5}(:[0-9a-fA-F]{1,4}){1,2}|([0-9a-fA-F]{1,4}:)` +
			`{1,4}(:[0-9a-fA-F]{1,4}){1,3}|([0-9a-fA-F]{1,4}:){1,3}(:[0-9a-fA-F]{1,4}){1,4}|([0-9a-fA-F]` +
			`{1,4}:){1,2}(:[0-9a-fA-F]{1,4}){1,5}|[0-9a-fA-F]{1,4}:((:[0-9a-fA-F]{1,4}){1,6})|:((:[0-9a-fA-F]` +
			`{1,4}){1,7}|:)|fe80:(:[0-9a-fA-F]{0,4}){0,4}%[0-9a-zA-Z]{1,}|::(ffff(:0{1,4}){0,1}:){0,1}` +
			`((25[0-5]|(2[0-4]|1{0,1}[0-9]){0,1}[0-9])\.){3,3}(25[0-5]|(2[0-4]|1{0,1}[0-9]){0,1}[0-9])|` +
			`([0-9a-fA-F]{1,4}:){1,4}:((25[0-5]|(2[0-4]|1{0,1}[0-9]){0,1}[0-9])\.){3,3}(25[0-5]|(2[0-4]|` +
			`1{0,1}[0-9]){0,1}[0-9]))$`,
	)
	rePort = regexp.MustCompile(
		`^((6553[0-5])|(655[0-2][0-9])|(65[0-4][0-9]{2})|(6[0-4][0-9]{3})|([1-5][0-9]{4})|([0-5]{0,5})|([0-9]{1,4}))$`,
	)
	reMAC   = regexp.MustCompile(`^[a-fA-F0-9]{2}(:[a-fA-F0-9]{2}){5}$`)
	rePhone = regexp.MustCompile(`^[+]?[(]?[0-9]{3}[)]?[-\s.]?[0-9]{3}[-\s.]?[0-9]{4,6}$`)
	reEmail = regexp.MustCompile(
		`^(([^<>()\[\]\\.,;:\s@"]+(\.[^<>()\[\]\\.,;:\s@"]+)*)|(".+"))@((\[[0-9]{1,3}\.[0-9]{1,3}\.[0-9]` +
			`{1,3}\.[0-9]{1,3}])|(([a-zA-Z\-0-9]+\.)+[a-zA-Z]{2,}))$`,
	)
	reCreditCard = regexp.MustCompile(
		`^(?:4[0-9]{12}(?:[0-9]{3})?|(?:5[1-5][0-9]{2}|222[1-9]|22[3-9][0-9]|2[3-6][0-9]{2}|27[01][0-9]|2720)` +
			`[0-9]{12}|3[47][0-9]{13}|3(?:0[0-5]|[68][0-9])[0-9]{11}|6(?:011|5[0-9]{2})[0-9]{12}|` +
			`(?:2131|1800|35\d{3})\d{11})$`,
	)
	reSSN     = regexp.MustCompile(`^[0-8]\d{2}-\d{2}-\d{4}$`)
	reHashtag = regexp.MustCompile(`^#[^ !@#$%^&*(),.?":{}|<>]*$`)
	reDOI     = regexp.MustCompile(`^10\.\d{4,5}/\S+[^;,.\s]$`)
	reURL     = regexp.MustCompile(
		`^https?://(www\.)?[-a-zA-Z0-9@:%._+~#=]{1,256}\.[a-zA-Z0-9()]{1,6}\b[-a-zA-Z0-9()!@:%_+.~#?&/=]*$`,
	)
	reSemVer = regexp.MustCompile(
		`^(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)(?:-((?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*)` +
			`(?:\.(?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*))*))?(?:\+([0-9a-zA-Z-]+(?:\.[0-9a-zA-Z-]+)*))?$`,
	)
)

// ssn forbids all-zero segments and the 666 area in addition to the shape.
func validSSN(s string) bool {
	if !reSSN.MatchString(s) {
		return false
	}
	if s[:3] == "000" || s[:3] == "666" {
		return false
	}
	return s[4:6] != "00" && s[7:] != "0000"
}

// FormatSpec declares a string field constrained to a named format.
type FormatSpec struct {
	format string
	check  func(string) bool
}

func (s FormatSpec) build(*Registry) (Mapper, error) {
	return formatMapper{format: s.format, check: s.check}, nil
}

// Email declares an email address field.
func Email() FormatSpec { return FormatSpec{format: "email address", check: reEmail.MatchString} }

// IPv4 declares an IPv4 address field.
func IPv4() FormatSpec { return FormatSpec{format: "IPv4 address", check: reIPv4.MatchString} }

// IPv6 declares an IPv6 address field.
func IPv6() FormatSpec { return FormatSpec{format: "IPv6 address", check: reIPv6.MatchString} }

// Port declares a TCP or UDP port number field.
func Port() FormatSpec { return FormatSpec{format: "port number", check: rePort.MatchString} }

// MAC declares a MAC address field.
func MAC() FormatSpec { return FormatSpec{format: "MAC address", check: reMAC.MatchString} }

// Phone declares a phone number field.
func Phone() FormatSpec { return FormatSpec{format: "phone number", check: rePhone.MatchString} }

// CreditCard declares a credit card number field.
func CreditCard() FormatSpec {
	return FormatSpec{format: "credit card number", check: reCreditCard.MatchString}
}

// SSN declares a Social Security Number field.
func SSN() FormatSpec { return FormatSpec{format: "SSN", check: validSSN} }

// Hashtag declares a hashtag field.
func Hashtag() FormatSpec { return FormatSpec{format: "hashtag", check: reHashtag.MatchString} }

// DOI declares a Digital Object Identifier field.
func DOI() FormatSpec { return FormatSpec{format: "DOI", check: reDOI.MatchString} }

// URL declares an http or https URL field.
func URL() FormatSpec { return FormatSpec{format: "URL", check: reURL.MatchString} }

// Version declares a semantic version field.
func Version() FormatSpec {
	return FormatSpec{format: "semantic version", check: reSemVer.MatchString}
}

type formatMapper struct {
	format string
	check  func(string) bool
}

func (m formatMapper) Parse(v any, _ ParseOptions) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, issueError(CodeInvalidType, "expected string, got %T", v)
	}
	if !m.check(s) {
		return nil, issueError(CodeInvalidFormat, "value %q is not a valid %s", s, m.format)
	}
	return s, nil
}

func (formatMapper) Dump(v any) any     { return v }
func (formatMapper) DumpJSON(v any) any { return v }
func (formatMapper) DumpBSON(v any) any { return v }

// ---- geometry ----
//
// Geometry values follow RFC 7946. In memory they are bare coordinate
// structures; both dump surfaces wrap them into GeoJSON objects with a
// "type" and "coordinates" member, which is also the shape the server's
// geospatial indexes expect. Fields declare them by Go type, e.g.
// Of[Point]().

// Position is a single longitude, latitude coordinate pair.
type Position [2]float64

func (p Position) Longitude() float64 { return p[0] }
func (p Position) Latitude() float64  { return p[1] }

// Point locates a single position.
type Point = Position

// MultiPoint is an array of positions.
type MultiPoint []Point

// LineString is an array of two or more positions.
type LineString []Point

// Validate checks the minimum length.
func (l LineString) Validate() error {
	if len(l) < 2 {
		return issueError(CodeInvalidFormat, "line string requires at least two positions")
	}
	return nil
}

// MultiLineString is an array of line strings.
type MultiLineString []LineString

func (m MultiLineString) Validate() error {
	for i, l := range m {
		if err := l.Validate(); err != nil {
			return wrapIssues(strconv.Itoa(i), err)
		}
	}
	return nil
}

// Polygon is an array of linear rings. Every ring must be closed and hold at
// least four positions.
type Polygon []LineString

func (p Polygon) Validate() error {
	for i, ring := range p {
		if len(ring) < 4 || ring[0] != ring[len(ring)-1] {
			return wrapIssues(strconv.Itoa(i),
				issueError(CodeInvalidFormat, "polygon ring must be closed and hold at least four positions"))
		}
	}
	return nil
}

// MultiPolygon is an array of polygons.
type MultiPolygon []Polygon

func (m MultiPolygon) Validate() error {
	for i, p := range m {
		if err := p.Validate(); err != nil {
			return wrapIssues(strconv.Itoa(i), err)
		}
	}
	return nil
}

type geometryMapper struct {
	kind   string
	parse  func(v any, lenient bool) (any, error)
	coords func(v any) ([]any, bool)
}

func (m geometryMapper) Parse(v any, opts ParseOptions) (any, error) {
	lenient := opts.Lenient || opts.FromStorage
	if lenient {
		if data, ok := asDocMap(v, opts); ok {
			kind, _ := data["type"].(string)
			if kind != m.kind {
				return nil, issueError(CodeInvalidFormat, "expected %s geometry, got %q", m.kind, kind)
			}
			v = data["coordinates"]
		}
	}
	return m.parse(v, lenient)
}

func (geometryMapper) Dump(v any) any { return v }

func (m geometryMapper) DumpJSON(v any) any {
	if c, ok := m.coords(v); ok {
		return map[string]any{"type": m.kind, "coordinates": c}
	}
	return v
}

func (m geometryMapper) DumpBSON(v any) any {
	if c, ok := m.coords(v); ok {
		return bson.M{"type": m.kind, "coordinates": c}
	}
	return v
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}

func parsePosition(v any) (Position, error) {
	if p, ok := v.(Position); ok {
		return p, nil
	}
	items, ok := sliceElems(v)
	if !ok {
		return Position{}, issueError(CodeInvalidType, "expected position, got %T", v)
	}
	if len(items) != 2 {
		return Position{}, issueError(CodeInvalidFormat, "position must hold exactly two coordinates")
	}
	var p Position
	for i, it := range items {
		f, ok := toFloat(it)
		if !ok {
			return Position{}, issueError(CodeInvalidType, "coordinate must be a number, got %T", it)
		}
		p[i] = f
	}
	return p, nil
}

func parsePositions(v any) ([]Position, error) {
	items, ok := sliceElems(v)
	if !ok {
		return nil, issueError(CodeInvalidType, "expected position array, got %T", v)
	}
	out := make([]Position, len(items))
	for i, it := range items {
		p, err := parsePosition(it)
		if err != nil {
			return nil, wrapIssues(strconv.Itoa(i), err)
		}
		out[i] = p
	}
	return out, nil
}

func parsePointValue(v any, lenient bool) (any, error) {
	if p, ok := v.(Position); ok {
		return p, nil
	}
	if !lenient {
		return nil, issueError(CodeInvalidType, "expected Point, got %T", v)
	}
	return parsePosition(v)
}

func parseMultiPointValue(v any, lenient bool) (any, error) {
	if mp, ok := v.(MultiPoint); ok {
		return mp, nil
	}
	if !lenient {
		return nil, issueError(CodeInvalidType, "expected MultiPoint, got %T", v)
	}
	ps, err := parsePositions(v)
	if err != nil {
		return nil, err
	}
	return MultiPoint(ps), nil
}

func parseLineStringValue(v any, lenient bool) (any, error) {
	l, ok := v.(LineString)
	if !ok {
		if !lenient {
			return nil, issueError(CodeInvalidType, "expected LineString, got %T", v)
		}
		ps, err := parsePositions(v)
		if err != nil {
			return nil, err
		}
		l = LineString(ps)
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return l, nil
}

func parseMultiLineStringValue(v any, lenient bool) (any, error) {
	m, ok := v.(MultiLineString)
	if !ok {
		if !lenient {
			return nil, issueError(CodeInvalidType, "expected MultiLineString, got %T", v)
		}
		items, ok := sliceElems(v)
		if !ok {
			return nil, issueError(CodeInvalidType, "expected line string array, got %T", v)
		}
		m = make(MultiLineString, len(items))
		for i, it := range items {
			ps, err := parsePositions(it)
			if err != nil {
				return nil, wrapIssues(strconv.Itoa(i), err)
			}
			m[i] = LineString(ps)
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func parsePolygonValue(v any, lenient bool) (any, error) {
	p, ok := v.(Polygon)
	if !ok {
		if !lenient {
			return nil, issueError(CodeInvalidType, "expected Polygon, got %T", v)
		}
		items, ok := sliceElems(v)
		if !ok {
			return nil, issueError(CodeInvalidType, "expected ring array, got %T", v)
		}
		p = make(Polygon, len(items))
		for i, it := range items {
			ps, err := parsePositions(it)
			if err != nil {
				return nil, wrapIssues(strconv.Itoa(i), err)
			}
			p[i] = LineString(ps)
		}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func parseMultiPolygonValue(v any, lenient bool) (any, error) {
	m, ok := v.(MultiPolygon)
	if !ok {
		if !lenient {
			return nil, issueError(CodeInvalidType, "expected MultiPolygon, got %T", v)
		}
		items, ok := sliceElems(v)
		if !ok {
			return nil, issueError(CodeInvalidType, "expected polygon array, got %T", v)
		}
		m = make(MultiPolygon, len(items))
		for i, it := range items {
			parsed, err := parsePolygonValue(it, true)
			if err != nil {
				return nil, wrapIssues(strconv.Itoa(i), err)
			}
			m[i] = parsed.(Polygon)
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func pointCoords(v any) ([]any, bool) {
	p, ok := v.(Position)
	if !ok {
		return nil, false
	}
	return []any{p[0], p[1]}, true
}

func multiPointCoords(v any) ([]any, bool) {
	m, ok := v.(MultiPoint)
	if !ok {
		return nil, false
	}
	return positionListCoords(m), true
}

func lineStringCoords(v any) ([]any, bool) {
	l, ok := v.(LineString)
	if !ok {
		return nil, false
	}
	return positionListCoords(l), true
}

func multiLineStringCoords(v any) ([]any, bool) {
	m, ok := v.(MultiLineString)
	if !ok {
		return nil, false
	}
	out := make([]any, len(m))
	for i, l := range m {
		out[i] = positionListCoords(l)
	}
	return out, true
}

func polygonCoords(v any) ([]any, bool) {
	p, ok := v.(Polygon)
	if !ok {
		return nil, false
	}
	out := make([]any, len(p))
	for i, ring := range p {
		out[i] = positionListCoords(ring)
	}
	return out, true
}

func multiPolygonCoords(v any) ([]any, bool) {
	m, ok := v.(MultiPolygon)
	if !ok {
		return nil, false
	}
	out := make([]any, len(m))
	for i, p := range m {
		rings := make([]any, len(p))
		for j, ring := range p {
			rings[j] = positionListCoords(ring)
		}
		out[i] = rings
	}
	return out, true
}

func positionListCoords(ps []Position) []any {
	out := make([]any, len(ps))
	for i, p := range ps {
		out[i] = []any{p[0], p[1]}
	}
	return out
}
