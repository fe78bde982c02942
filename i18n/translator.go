// Package i18n localizes validation issue messages. The built-in dictionary
// covers the issue codes the mappers emit; applications can swap in their own
// Translator for other languages or message catalogs.
package i18n

import (
	monsoon "github.com/reoring/monsoon"
)

// Translator retrieves localized messages for issue codes. data provides
// optional metadata to embed in the message (for example, "expected" or
// "field").
type Translator interface {
	Message(code string, data map[string]string) string
}

// dictTranslator is the built-in dictionary-based Translator.
type dictTranslator struct{ lang string }

func (t dictTranslator) Message(code string, data map[string]string) string {
	switch t.lang {
	case "ja":
		switch code {
		case monsoon.CodeInvalidType:
			return "型が不正です"
		case monsoon.CodeRequired:
			return "必須の値がありません"
		case monsoon.CodeNullValue:
			return "null は許可されていません"
		case monsoon.CodeTooShort:
			return "短すぎます"
		case monsoon.CodeTooLong:
			return "長すぎます"
		case monsoon.CodeTooSmall:
			return "小さすぎます"
		case monsoon.CodeTooBig:
			return "大きすぎます"
		case monsoon.CodePattern:
			return "パターンに一致しません"
		case monsoon.CodeInvalidChoice:
			return "許可された値ではありません"
		case monsoon.CodeNotMultiple:
			return "指定の倍数ではありません"
		case monsoon.CodeInvalidFormat:
			return "形式が不正です"
		case monsoon.CodeParseError:
			return "解析エラー"
		}
	default: // "en"
		switch code {
		case monsoon.CodeInvalidType:
			return "invalid type"
		case monsoon.CodeRequired:
			return "required value missing"
		case monsoon.CodeNullValue:
			return "null is not allowed"
		case monsoon.CodeTooShort:
			return "too short"
		case monsoon.CodeTooLong:
			return "too long"
		case monsoon.CodeTooSmall:
			return "too small"
		case monsoon.CodeTooBig:
			return "too big"
		case monsoon.CodePattern:
			return "does not match the pattern"
		case monsoon.CodeInvalidChoice:
			return "not one of the allowed choices"
		case monsoon.CodeNotMultiple:
			return "not a multiple of the required step"
		case monsoon.CodeInvalidFormat:
			return "invalid format"
		case monsoon.CodeParseError:
			return "parse error"
		}
	}
	return code
}

var currentTranslator Translator = dictTranslator{lang: "en"}

// SetLanguage switches the built-in Translator language ("en"/"ja").
func SetLanguage(lang string) {
	if lang != "ja" {
		lang = "en"
	}
	currentTranslator = dictTranslator{lang: lang}
}

// SetTranslator replaces the Translator implementation (not limited to the
// dictionary version).
func SetTranslator(tr Translator) {
	if tr == nil {
		currentTranslator = dictTranslator{lang: "en"}
		return
	}
	currentTranslator = tr
}

// T fetches a message for the given code using the current Translator.
func T(code string, data map[string]string) string { return currentTranslator.Message(code, data) }

// LocalizeError returns a copy of err with every issue message replaced by
// its localized form. Paths, codes and causes are preserved; errors that are
// not validation errors pass through unchanged.
func LocalizeError(err error) error {
	ve, ok := monsoon.AsValidationError(err)
	if !ok {
		return err
	}
	issues := ve.Report()
	for i := range issues {
		issues[i].Message = T(issues[i].Code, nil)
	}
	return &monsoon.ValidationError{Doc: ve.Doc, Issues: issues}
}
