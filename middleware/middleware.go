// Package middleware validates JSON request bodies against document schemas
// at net/http boundaries.
package middleware

import (
	"context"
	"io"
	"net/http"

	j "github.com/goccy/go-json"
	monsoon "github.com/reoring/monsoon"
)

// ctxKeyDocument is a typed context key for the validated request document.
type ctxKeyDocument struct{}

// ContextWithDocument attaches a validated document to the context.
func ContextWithDocument(ctx context.Context, doc *monsoon.Document) context.Context {
	return context.WithValue(ctx, ctxKeyDocument{}, doc)
}

// DocumentFromContext retrieves the document stored by ValidateJSON.
func DocumentFromContext(ctx context.Context) (*monsoon.Document, bool) {
	doc, ok := ctx.Value(ctxKeyDocument{}).(*monsoon.Document)
	return doc, ok
}

// MaxBodyBytes caps request bodies read by ValidateJSON.
const MaxBodyBytes = 1 << 20

// ValidateJSON parses the request body against s, stores the document in the
// request context on success, or answers 400 with the validation issues.
func ValidateJSON(s *monsoon.Schema, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		doc, err := s.ParseJSON(body)
		if err != nil {
			WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithDocument(r.Context(), doc)))
	})
}

// ErrorPayload shapes issues for JSON responses. Causes are dropped; they are
// for programmatic inspection, not the wire.
func ErrorPayload(issues []monsoon.Issue) map[string]any {
	out := make([]map[string]any, 0, len(issues))
	for _, it := range issues {
		entry := map[string]any{"code": it.Code, "message": it.Message}
		if it.Path != "" {
			entry["path"] = it.Path
		}
		out = append(out, entry)
	}
	return map[string]any{"issues": out}
}

// WriteError renders err as JSON: validation errors answer 400 with their
// issues, anything else answers 500. Callers wanting translated messages can
// rewrite err with i18n.LocalizeError first.
func WriteError(w http.ResponseWriter, err error) {
	if ve, ok := monsoon.AsValidationError(err); ok {
		writeJSON(w, http.StatusBadRequest, ErrorPayload(ve.Report()))
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = j.NewEncoder(w).Encode(body)
}
