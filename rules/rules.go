// Package rules provides composable field validators for document schemas.
// A Rule has the signature the schema builder's Validate hook expects;
// combinators express conditional and cross-item checks that a single field
// mapper cannot.
package rules

import (
	"fmt"
	"strconv"

	monsoon "github.com/reoring/monsoon"
)

// CodeDuplicate marks repeated values inside a list field. It extends the
// mapper issue codes; translators without an entry fall back to the code
// itself.
const CodeDuplicate = "duplicate_value"

// Rule validates one parsed field value. The field's mapper has already
// accepted the value, so rules see canonical forms: int64, string, []any,
// *monsoon.Document and so on. Null and absent values never reach a rule.
type Rule = func(v any) error

func singleIssue(code, format string, args ...any) error {
	return &monsoon.ValidationError{Issues: []monsoon.Issue{{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}}}
}

func issuesOf(err error) []monsoon.Issue {
	if ve, ok := monsoon.AsValidationError(err); ok {
		return ve.Issues
	}
	return []monsoon.Issue{{Code: monsoon.CodeParseError, Message: err.Error(), Cause: err}}
}

// All runs every rule and aggregates their issues. Rules after a failing one
// still run, so the caller sees the complete set.
func All(rules ...Rule) Rule {
	return func(v any) error {
		var all []monsoon.Issue
		for _, r := range rules {
			if r == nil {
				continue
			}
			if err := r(v); err != nil {
				all = monsoon.AppendIssues(all, issuesOf(err)...)
			}
		}
		if len(all) > 0 {
			return &monsoon.ValidationError{Issues: all}
		}
		return nil
	}
}

// Any passes when at least one rule passes. When every branch fails, the
// branch with the fewest issues is reported.
func Any(rules ...Rule) Rule {
	return func(v any) error {
		var best []monsoon.Issue
		bestSet := false
		for _, r := range rules {
			if r == nil {
				continue
			}
			err := r(v)
			if err == nil {
				return nil
			}
			issues := issuesOf(err)
			if !bestSet || len(issues) < len(best) {
				best = issues
				bestSet = true
			}
		}
		if bestSet {
			return &monsoon.ValidationError{Issues: best}
		}
		return nil
	}
}

// When guards rules behind a predicate on the field value.
func When(pred func(v any) bool, rules ...Rule) Rule {
	inner := All(rules...)
	return func(v any) error {
		if pred == nil || !pred(v) {
			return nil
		}
		return inner(v)
	}
}

// AtLeastOne requires a list value to hold at least one element. Non-list
// values pass; the field's own mapper reports those.
func AtLeastOne() Rule {
	return func(v any) error {
		items, ok := v.([]any)
		if !ok {
			return nil
		}
		if len(items) == 0 {
			return singleIssue(monsoon.CodeTooShort, "at least 1 item is required")
		}
		return nil
	}
}

// Unique requires the elements of a list value to be pairwise distinct.
// Elements are keyed by their printed form, so mixed-type lists that print
// alike may collide; keep the element type uniform.
func Unique() Rule {
	return uniqueBy("", func(item any) (any, bool) { return item, item != nil })
}

// UniqueBy requires the elements of a list value, which must be documents,
// to be distinct by the named field. Elements without the field are skipped.
func UniqueBy(field string) Rule {
	return uniqueBy(field, func(item any) (any, bool) {
		doc, ok := item.(*monsoon.Document)
		if !ok {
			return nil, false
		}
		v, err := doc.Get(field)
		if err != nil || monsoon.IsEmpty(v) || v == nil {
			return nil, false
		}
		return v, true
	})
}

func uniqueBy(field string, key func(item any) (any, bool)) Rule {
	return func(v any) error {
		items, ok := v.([]any)
		if !ok {
			return nil
		}
		seen := map[string]int{}
		var out []monsoon.Issue
		for i, item := range items {
			kv, ok := key(item)
			if !ok {
				continue
			}
			k := fmt.Sprint(kv)
			first, dup := seen[k]
			if !dup {
				seen[k] = i
				continue
			}
			path := strconv.Itoa(i)
			if field != "" {
				path += "." + field
			}
			out = append(out, monsoon.Issue{
				Path:    path,
				Code:    CodeDuplicate,
				Message: fmt.Sprintf("duplicate value, first seen at index %d", first),
			})
		}
		if len(out) > 0 {
			return &monsoon.ValidationError{Issues: out}
		}
		return nil
	}
}

// ForDocument applies fn to document-valued fields. Non-document values
// pass through untouched.
func ForDocument(fn func(doc *monsoon.Document) error) Rule {
	return func(v any) error {
		doc, ok := v.(*monsoon.Document)
		if !ok {
			return nil
		}
		return fn(doc)
	}
}
