package engine_test

import (
	"slices"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	monsoon "github.com/reoring/monsoon"
	"github.com/reoring/monsoon/engine"
)

func TestFileSchema_Shape(t *testing.T) {
	s := engine.FileSchema()
	if s.Name() != "File" {
		t.Fatalf("name = %q, want File", s.Name())
	}
	if s.Collection() != "fs.files" {
		t.Fatalf("collection = %q, want fs.files", s.Collection())
	}
	if s.Embedded() {
		t.Fatalf("file documents must have a collection")
	}
	id := s.IDField()
	if id == nil || id.Name() != "id" || id.Alias() != "_id" {
		t.Fatalf("unexpected id field: %+v", id)
	}
	var names []string
	for _, f := range s.Fields() {
		names = append(names, f.Name())
	}
	want := []string{"id", "filename", "metadata", "chunkSize", "length", "uploadDate"}
	if !slices.Equal(names, want) {
		t.Fatalf("fields = %v, want %v", names, want)
	}
	if engine.FileSchema() != s {
		t.Fatalf("expected one shared schema instance")
	}
}

func TestFileSchema_ParsesBucketRow(t *testing.T) {
	now := time.Now()
	row := map[string]any{
		"_id":        primitive.NewObjectID(),
		"filename":   "report.pdf",
		"chunkSize":  int32(261120),
		"length":     int64(2048),
		"uploadDate": primitive.NewDateTimeFromTime(now),
		"metadata":   bson.M{"owner": "ops"},
	}
	doc, err := engine.FileSchema().Parse(row, monsoon.ParseOptions{FromStorage: true})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if v := mustGet(t, doc, "filename"); v != "report.pdf" {
		t.Fatalf("filename = %v", v)
	}
	if v := mustGet(t, doc, "chunkSize"); v != int64(261120) {
		t.Fatalf("chunkSize = %v (%T), want 261120", v, v)
	}
	if v := mustGet(t, doc, "length"); v != int64(2048) {
		t.Fatalf("length = %v, want 2048", v)
	}
	meta, ok := mustGet(t, doc, "metadata").(map[string]any)
	if !ok || meta["owner"] != "ops" {
		t.Fatalf("metadata = %v", meta)
	}
	up, ok := mustGet(t, doc, "uploadDate").(time.Time)
	if !ok || !up.Equal(now.UTC().Truncate(time.Millisecond)) {
		t.Fatalf("uploadDate = %v, want %v", up, now.UTC().Truncate(time.Millisecond))
	}
}
