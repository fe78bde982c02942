package monsoon_test

import (
	"bytes"
	"strconv"
	"testing"

	monsoon "github.com/reoring/monsoon"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ---- Fixtures ----

func userSchema(tb testing.TB) *monsoon.Schema {
	tb.Helper()
	reg := monsoon.NewRegistry()
	return monsoon.NewSchema("User").Registry(reg).
		Field("name", monsoon.String().MinLen(1)).
		Field("age", monsoon.Int().Gte(0)).
		Field("active", monsoon.Bool()).
		Field("tags", monsoon.List(monsoon.String())).
		MustBuild()
}

func smallUserData() map[string]any {
	return map[string]any{
		"name":   "alice",
		"age":    31,
		"active": true,
		"tags":   []any{"reader", "writer"},
	}
}

func smallUserJSON() []byte {
	return []byte(`{"name":"alice","age":31,"active":true,"tags":["reader","writer"]}`)
}

// generateTagHeavyJSON returns a user document whose tags list holds num
// entries, to exercise the sequence mapper on large inputs.
func generateTagHeavyJSON(num int) []byte {
	var buf bytes.Buffer
	buf.Grow(32 + num*12)
	buf.WriteString(`{"name":"alice","age":31,"tags":[`)
	for i := 0; i < num; i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(`"tag_`)
		buf.WriteString(strconv.Itoa(i))
		buf.WriteByte('"')
	}
	buf.WriteString(`]}`)
	return buf.Bytes()
}

// ---- Construction ----

func Benchmark_New_Small(b *testing.B) {
	s := userSchema(b)
	data := smallUserData()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.New(data); err != nil {
			b.Fatal(err)
		}
	}
}

func Benchmark_Parse_StoredRow(b *testing.B) {
	s := userSchema(b)
	row := map[string]any{
		"_id":    primitive.NewObjectID(),
		"name":   "alice",
		"age":    int64(31),
		"active": true,
		"tags":   []any{"reader", "writer"},
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Parse(row, monsoon.ParseOptions{FromStorage: true}); err != nil {
			b.Fatal(err)
		}
	}
}

func Benchmark_ParseJSON_Small(b *testing.B) {
	s := userSchema(b)
	data := smallUserJSON()
	b.ReportAllocs()
	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.ParseJSON(data); err != nil {
			b.Fatal(err)
		}
	}
}

func Benchmark_ParseJSON_TagHeavy_1k(b *testing.B) {
	s := userSchema(b)
	data := generateTagHeavyJSON(1000)
	b.ReportAllocs()
	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.ParseJSON(data); err != nil {
			b.Fatal(err)
		}
	}
}

// ---- Dumping ----

func Benchmark_DumpBSON_Small(b *testing.B) {
	s := userSchema(b)
	doc, err := s.New(smallUserData())
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if row := doc.DumpBSON(); row == nil {
			b.Fatal("nil row")
		}
	}
}

func Benchmark_MarshalJSON_Small(b *testing.B) {
	s := userSchema(b)
	doc, err := s.New(smallUserData())
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := doc.MarshalJSON(); err != nil {
			b.Fatal(err)
		}
	}
}
