package monsoon

import (
	"errors"
	"fmt"
	"strings"
)

// Issue codes (exported consts for IDE completion and stable programmatic matching)
const (
	CodeInvalidType   = "invalid_type"
	CodeRequired      = "required"
	CodeNullValue     = "null_not_allowed"
	CodeTooShort      = "too_short"
	CodeTooLong       = "too_long"
	CodeTooSmall      = "too_small"
	CodeTooBig        = "too_big"
	CodePattern       = "pattern"
	CodeInvalidChoice = "invalid_choice"
	CodeNotMultiple   = "not_multiple"
	CodeInvalidFormat = "invalid_format"
	CodeParseError    = "parse_error"
)

// Issue represents a single validation entry.
type Issue struct {
	Path    string // dotted location inside the document, e.g. "address.street" or "items.2"
	Code    string // one of the codes listed above
	Message string
	Cause   error // optional: underlying error
}

// ValidationError aggregates every Issue found while validating a value or a
// whole document. Validation never stops at the first failing field; callers
// receive the complete set of location-tagged entries.
type ValidationError struct {
	// Doc names the document schema when the error was raised by a
	// schema-level operation; empty for bare mapper errors.
	Doc    string
	Issues []Issue
}

// Error summarizes the first few issues.
func (e *ValidationError) Error() string {
	b := &strings.Builder{}
	if e.Doc != "" {
		fmt.Fprintf(b, "invalid data at document %s", e.Doc)
	} else {
		fmt.Fprintf(b, "invalid data in %d field(s)", len(e.Issues))
	}
	const maxShown = 3
	lim := len(e.Issues)
	if lim > maxShown {
		lim = maxShown
	}
	for i := 0; i < lim; i++ {
		it := e.Issues[i]
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		if it.Path != "" {
			fmt.Fprintf(b, "%s: %s", it.Path, it.Message)
		} else {
			b.WriteString(it.Message)
		}
	}
	if n := len(e.Issues); n > lim {
		fmt.Fprintf(b, "; ... (total %d)", n)
	}
	return b.String()
}

// Report returns a copy of the issues, suitable for serialization in API
// responses.
func (e *ValidationError) Report() []Issue {
	out := make([]Issue, len(e.Issues))
	copy(out, e.Issues)
	return out
}

// AppendIssues appends issues to the destination, initializing the slice when
// needed.
func AppendIssues(dst []Issue, more ...Issue) []Issue {
	if dst == nil {
		dst = []Issue{}
	}
	return append(dst, more...)
}

// AsValidationError extracts a *ValidationError using errors.As internally.
func AsValidationError(err error) (*ValidationError, bool) {
	if err == nil {
		return nil, false
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// issueError builds a single-issue ValidationError rooted at the current value.
func issueError(code, format string, args ...any) *ValidationError {
	return &ValidationError{Issues: []Issue{{Code: code, Message: fmt.Sprintf(format, args...)}}}
}

// wrapIssues rebases err under loc. A nested ValidationError contributes all of
// its issues with loc-prefixed paths; any other error becomes a single issue at
// loc.
func wrapIssues(loc string, err error) *ValidationError {
	if ve, ok := AsValidationError(err); ok {
		issues := make([]Issue, 0, len(ve.Issues))
		for _, it := range ve.Issues {
			p := loc
			if it.Path != "" {
				p = loc + "." + it.Path
			}
			issues = append(issues, Issue{Path: p, Code: it.Code, Message: it.Message, Cause: it.Cause})
		}
		return &ValidationError{Issues: issues}
	}
	return &ValidationError{Issues: []Issue{{Path: loc, Code: CodeParseError, Message: err.Error(), Cause: err}}}
}

// SchemaError reports a structural problem detected while building a document
// schema. Definition problems are fatal: there is no partially built schema to
// recover.
type SchemaError struct {
	Doc    string // schema under construction, may be empty
	Detail string
}

func (e *SchemaError) Error() string {
	if e.Doc != "" {
		return fmt.Sprintf("document %s: %s", e.Doc, e.Detail)
	}
	return e.Detail
}

func schemaErrorf(doc, format string, args ...any) *SchemaError {
	return &SchemaError{Doc: doc, Detail: fmt.Sprintf(format, args...)}
}

// ResolutionError reports a document name that could not be resolved against
// the registry. Forward references are legal at definition time; resolution is
// lazy, so this surfaces on first use instead.
type ResolutionError struct {
	Name string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("document %q not found or not declared yet", e.Name)
}
