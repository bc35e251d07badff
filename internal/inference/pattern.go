package inference

import (
	"regexp"

	"tabimport/internal/model"
)

// Letters are Unicode letters so accented Latin text ("São Paulo") is text,
// not mixed.
var (
	reDigits       = regexp.MustCompile(`^\d+$`)
	reText         = regexp.MustCompile(`^[\p{L}\s]+$`)
	reAlphanumeric = regexp.MustCompile(`^[\p{L}\d\s]+$`)
	reEmail        = regexp.MustCompile(`^\S+@\S+\.\S+$`)
	rePhone        = regexp.MustCompile(`^\+?[\d\s\-()]+$`)
)

// Classify tags one cell value. The declared column type short-circuits the
// regex checks for numeric, temporal and boolean columns.
func Classify(v any, declared model.ColumnType) model.PatternTag {
	if v == nil {
		return model.PatternNull
	}
	switch {
	case declared.Numeric():
		return model.PatternNumeric
	case declared.Temporal():
		return model.PatternDate
	case declared == model.TypeBoolean:
		return model.PatternBoolean
	}

	s := Stringify(v)
	switch {
	case reDigits.MatchString(s):
		return model.PatternDigits
	case reText.MatchString(s):
		return model.PatternText
	case reAlphanumeric.MatchString(s):
		return model.PatternAlphanumeric
	case reEmail.MatchString(s):
		return model.PatternEmail
	case rePhone.MatchString(s):
		return model.PatternPhone
	}
	return model.PatternMixed
}
