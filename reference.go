package monsoon

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Reference links a field to a document stored in its own collection. Parent
// rows store only the referenced key value, under the reference's key name;
// the full document is joined back in at read time.
type Reference struct {
	name     string
	target   *docHandle
	refField string
	keyName  string
	isMany   bool
}

// Name returns the declaring field's name.
func (r *Reference) Name() string { return r.name }

// RefField returns the name of the referenced field on the target document.
func (r *Reference) RefField() string { return r.refField }

// KeyName returns the stored key the parent keeps the referenced value under.
func (r *Reference) KeyName() string { return r.keyName }

// IsMany reports whether the field holds a list of referenced documents.
func (r *Reference) IsMany() bool { return r.isMany }

// Target resolves the referenced schema. Only collection-backed documents can
// be referenced.
func (r *Reference) Target() (*Schema, error) {
	s, err := r.target.Schema()
	if err != nil {
		return nil, err
	}
	if s.Embedded() {
		return nil, schemaErrorf(s.Name(), "embedded document %s cannot be referenced", s.Name())
	}
	return s, nil
}

// StorageValue reduces a referenced document to the stored form of its
// referenced field, or Empty when the document does not carry it yet.
func (r *Reference) StorageValue(doc *Document) any {
	return doc.fieldBSON(r.refField)
}

// refFieldAlias returns the stored key of the referenced field on the target.
func (r *Reference) refFieldAlias() (string, error) {
	target, err := r.Target()
	if err != nil {
		return "", err
	}
	f, ok := target.Field(r.refField)
	if !ok {
		return "", schemaErrorf(target.Name(), "referenced field %q is not declared", r.refField)
	}
	return f.Alias(), nil
}

// BuildDereferencePipeline returns the aggregation stages that join the given
// references back into their declaring fields, recursing depth levels into
// the referenced documents. Single-valued references are unwound so the field
// holds one document rather than a one-element array.
func BuildDereferencePipeline(refs []*Reference, depth int) (mongo.Pipeline, error) {
	pipeline := mongo.Pipeline{}
	if depth <= 0 {
		return pipeline, nil
	}
	for _, ref := range refs {
		target, err := ref.Target()
		if err != nil {
			return nil, err
		}
		alias, err := ref.refFieldAlias()
		if err != nil {
			return nil, err
		}
		joinOp := "$eq"
		if ref.isMany {
			joinOp = "$in"
		}
		inner := bson.A{
			bson.M{"$match": bson.M{"$expr": bson.M{joinOp: bson.A{"$" + alias, "$$fk"}}}},
		}
		nested, err := BuildDereferencePipeline(target.References(), depth-1)
		if err != nil {
			return nil, err
		}
		for _, stage := range nested {
			inner = append(inner, stage)
		}
		if !ref.isMany {
			inner = append(inner, bson.M{"$limit": 1})
		}
		pipeline = append(pipeline, bson.D{{Key: "$lookup", Value: bson.M{
			"from":     target.Collection(),
			"let":      bson.M{"fk": "$" + ref.keyName},
			"pipeline": inner,
			"as":       ref.name,
		}}})
		if !ref.isMany {
			pipeline = append(pipeline, bson.D{{Key: "$unwind", Value: bson.M{
				"path":                       "$" + ref.name,
				"preserveNullAndEmptyArrays": true,
			}}})
		}
	}
	return pipeline, nil
}

// ReverseReference groups the references one registered document declares
// toward a given target.
type ReverseReference struct {
	Source *Schema
	Refs   []*Reference
}

// ReverseReferences scans the registry for documents referencing target.
// Embedded schemas are skipped. Sources appear in registration order.
func ReverseReferences(reg *Registry, target *Schema) ([]ReverseReference, error) {
	var out []ReverseReference
	for _, s := range reg.Documents() {
		if s.Embedded() {
			continue
		}
		var refs []*Reference
		for _, ref := range s.References() {
			t, err := ref.Target()
			if err != nil {
				return nil, err
			}
			if t == target {
				refs = append(refs, ref)
			}
		}
		if len(refs) > 0 {
			out = append(out, ReverseReference{Source: s, Refs: refs})
		}
	}
	return out, nil
}
