package monsoon

import (
	"reflect"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func init() {
	registerBuiltinMapper(reflect.TypeOf((*time.Time)(nil)).Elem(), func() Mapper { return &dateTimeMapper{} })
	registerBuiltinMapper(reflect.TypeOf((*primitive.DateTime)(nil)).Elem(), func() Mapper { return &timestampMapper{} })
}

// epochDay anchors clock-time values: a bare time of day is stored as a
// datetime on this day, mirroring the date/time split of the storage model.
var epochDay = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)

type timeBounds struct {
	gt, gte, lt, lte *time.Time
}

func (b timeBounds) check(v time.Time) error {
	if b.gt != nil && !v.After(*b.gt) {
		return issueError(CodeTooSmall, "value must be after %v", b.gt.Format(time.RFC3339))
	}
	if b.gte != nil && v.Before(*b.gte) {
		return issueError(CodeTooSmall, "value must be at or after %v", b.gte.Format(time.RFC3339))
	}
	if b.lt != nil && !v.Before(*b.lt) {
		return issueError(CodeTooBig, "value must be before %v", b.lt.Format(time.RFC3339))
	}
	if b.lte != nil && v.After(*b.lte) {
		return issueError(CodeTooBig, "value must be at or before %v", b.lte.Format(time.RFC3339))
	}
	return nil
}

// ---- datetime ----

type dateTimeMapper struct {
	bounds timeBounds
}

func (m *dateTimeMapper) Parse(v any, opts ParseOptions) (any, error) {
	var t time.Time
	switch x := v.(type) {
	case time.Time:
		t = x.UTC()
	case primitive.DateTime:
		if !opts.FromStorage {
			return nil, issueError(CodeInvalidType, "expected datetime, got %T", v)
		}
		t = x.Time().UTC()
	case string:
		if !opts.Lenient {
			return nil, issueError(CodeInvalidType, "expected datetime, got %T", v)
		}
		parsed, err := time.Parse(time.RFC3339Nano, x)
		if err != nil {
			return nil, issueError(CodeParseError, "cannot parse %q as datetime", x)
		}
		t = parsed.UTC()
	default:
		return nil, issueError(CodeInvalidType, "expected datetime, got %T", v)
	}
	if err := m.bounds.check(t); err != nil {
		return nil, err
	}
	return t, nil
}

func (*dateTimeMapper) Dump(v any) any { return v }

func (*dateTimeMapper) DumpJSON(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.Format(time.RFC3339Nano)
	}
	return v
}

func (*dateTimeMapper) DumpBSON(v any) any {
	if t, ok := v.(time.Time); ok {
		return primitive.NewDateTimeFromTime(t)
	}
	return v
}

// ---- date ----

const dateLayout = "2006-01-02"

type dateMapper struct {
	// bounds are calendar dates; lower bounds compare against the start of
	// the bound day, upper bounds against its end.
	bounds timeBounds
}

func startOfDay(t time.Time) time.Time {
	y, mo, d := t.UTC().Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}

func endOfDay(t time.Time) time.Time {
	return startOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

func (m *dateMapper) effectiveBounds() timeBounds {
	eff := timeBounds{}
	if m.bounds.gt != nil {
		eff.gt = ptr(startOfDay(*m.bounds.gt))
	}
	if m.bounds.gte != nil {
		eff.gte = ptr(startOfDay(*m.bounds.gte))
	}
	if m.bounds.lt != nil {
		eff.lt = ptr(endOfDay(*m.bounds.lt))
	}
	if m.bounds.lte != nil {
		eff.lte = ptr(endOfDay(*m.bounds.lte))
	}
	return eff
}

func (m *dateMapper) Parse(v any, opts ParseOptions) (any, error) {
	var t time.Time
	switch x := v.(type) {
	case time.Time:
		t = startOfDay(x)
	case primitive.DateTime:
		if !opts.FromStorage {
			return nil, issueError(CodeInvalidType, "expected date, got %T", v)
		}
		t = startOfDay(x.Time())
	case string:
		if !opts.Lenient {
			return nil, issueError(CodeInvalidType, "expected date, got %T", v)
		}
		parsed, err := time.Parse(dateLayout, x)
		if err != nil {
			return nil, issueError(CodeParseError, "cannot parse %q as date", x)
		}
		t = parsed
	default:
		return nil, issueError(CodeInvalidType, "expected date, got %T", v)
	}
	if err := m.effectiveBounds().check(t); err != nil {
		return nil, err
	}
	return t, nil
}

func (*dateMapper) Dump(v any) any { return v }

func (*dateMapper) DumpJSON(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.Format(dateLayout)
	}
	return v
}

func (*dateMapper) DumpBSON(v any) any {
	if t, ok := v.(time.Time); ok {
		return primitive.NewDateTimeFromTime(t)
	}
	return v
}

// ---- clock time ----

var clockLayouts = []string{"15:04:05.999999999", "15:04:05", "15:04"}

type clockTimeMapper struct {
	// bounds are clock times; they compare on the epoch day like the values.
	bounds timeBounds
}

func onEpochDay(t time.Time) time.Time {
	h, mi, s := t.Clock()
	return time.Date(1, time.January, 1, h, mi, s, t.Nanosecond(), time.UTC)
}

func (m *clockTimeMapper) effectiveBounds() timeBounds {
	eff := timeBounds{}
	if m.bounds.gt != nil {
		eff.gt = ptr(onEpochDay(*m.bounds.gt))
	}
	if m.bounds.gte != nil {
		eff.gte = ptr(onEpochDay(*m.bounds.gte))
	}
	if m.bounds.lt != nil {
		eff.lt = ptr(onEpochDay(*m.bounds.lt))
	}
	if m.bounds.lte != nil {
		eff.lte = ptr(onEpochDay(*m.bounds.lte))
	}
	return eff
}

func (m *clockTimeMapper) Parse(v any, opts ParseOptions) (any, error) {
	var t time.Time
	switch x := v.(type) {
	case time.Time:
		t = onEpochDay(x)
	case primitive.DateTime:
		if !opts.FromStorage {
			return nil, issueError(CodeInvalidType, "expected time, got %T", v)
		}
		t = onEpochDay(x.Time().UTC())
	case string:
		if !opts.Lenient {
			return nil, issueError(CodeInvalidType, "expected time, got %T", v)
		}
		var err error
		t, err = parseClock(x)
		if err != nil {
			return nil, err
		}
	default:
		return nil, issueError(CodeInvalidType, "expected time, got %T", v)
	}
	if err := m.effectiveBounds().check(t); err != nil {
		return nil, err
	}
	return t, nil
}

func parseClock(s string) (time.Time, error) {
	for _, layout := range clockLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			return onEpochDay(parsed), nil
		}
	}
	return time.Time{}, issueError(CodeParseError, "cannot parse %q as time", s)
}

func (*clockTimeMapper) Dump(v any) any { return v }

func (*clockTimeMapper) DumpJSON(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.Format("15:04:05.999999999")
	}
	return v
}

func (*clockTimeMapper) DumpBSON(v any) any {
	if t, ok := v.(time.Time); ok {
		return primitive.NewDateTimeFromTime(t)
	}
	return v
}

// ---- millisecond timestamp ----

type timestampMapper struct {
	bounds timeBounds
}

func (m *timestampMapper) Parse(v any, opts ParseOptions) (any, error) {
	var dt primitive.DateTime
	switch x := v.(type) {
	case primitive.DateTime:
		dt = x
	case time.Time:
		dt = primitive.NewDateTimeFromTime(x)
	case int64:
		if !opts.Lenient && !opts.FromStorage {
			return nil, issueError(CodeInvalidType, "expected timestamp, got %T", v)
		}
		dt = primitive.DateTime(x)
	case int:
		if !opts.Lenient {
			return nil, issueError(CodeInvalidType, "expected timestamp, got %T", v)
		}
		dt = primitive.DateTime(int64(x))
	case string:
		if !opts.Lenient {
			return nil, issueError(CodeInvalidType, "expected timestamp, got %T", v)
		}
		parsed, err := time.Parse(time.RFC3339Nano, x)
		if err != nil {
			return nil, issueError(CodeParseError, "cannot parse %q as timestamp", x)
		}
		dt = primitive.NewDateTimeFromTime(parsed)
	default:
		return nil, issueError(CodeInvalidType, "expected timestamp, got %T", v)
	}
	if err := m.bounds.check(dt.Time().UTC()); err != nil {
		return nil, err
	}
	return dt, nil
}

func (*timestampMapper) Dump(v any) any {
	if dt, ok := v.(primitive.DateTime); ok {
		return dt.Time().UTC()
	}
	return v
}

func (*timestampMapper) DumpJSON(v any) any {
	if dt, ok := v.(primitive.DateTime); ok {
		return int64(dt)
	}
	return v
}

func (*timestampMapper) DumpBSON(v any) any { return v }
