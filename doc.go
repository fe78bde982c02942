package monsoon

// Package monsoon provides:
//
// - Schema-driven document mapping for MongoDB (fields, defaults, validation)
// - A stable error model via Issues (field path, code, message)
// - Embedded documents, references with $lookup dereferencing, and index declarations
// - An engine layer for sessions, transactions, file storage and collection management
//
// Design policy:
// - Keep only public APIs in the root package; put the database client under engine/.
// - Place filter and sort helpers under expr/.
// - Prefer black-box testing against public APIs.
//
// Typical usage:
//
//	user := monsoon.NewSchema("User").
//		Field("name", monsoon.String().MinLen(1)).
//		Field("email", monsoon.Email()).
//		MustBuild()
//
//	doc, err := user.New(map[string]any{"name": "Ada", "email": "ada@example.com"})
//	row := doc.DumpBSON()
