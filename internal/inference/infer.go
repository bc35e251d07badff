// Package inference assigns a column type from a sample value and a pattern
// tag to every cell value.
//
// Type inference deliberately looks at a single sample (the first data row):
// the first matching rule wins, in this order:
//
//  1. number   -> numeric if the text contains ".", else smallint / integer /
//     bigint by the integer-prefix value
//  2. date     -> timestamp with time zone if the text contains ":", else date
//  3. boolean  -> one of true/false/t/f/yes/no/sim/não/1/0
//  4. text     -> everything else, including a missing sample
//
// Rule 1 only applies to non-zero numbers, so "0" is boolean while "1" is
// smallint.
//
// A column whose first value is misleading keeps the misleading type; the
// consistency score is what surfaces that.
package inference

import (
	"math"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"tabimport/internal/decoder"
	"tabimport/internal/model"
)

var boolWords = map[string]struct{}{
	"true": {}, "false": {}, "t": {}, "f": {},
	"yes": {}, "no": {}, "sim": {}, "não": {},
	"1": {}, "0": {},
}

var dateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"02/01/2006",
	"01/02/2006",
	"2006/01/02",
	"Jan 2 2006",
	"January 2, 2006",
	"2 Jan 2006",
}

var tsLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z07:00",
	"02.01.2006 15:04:05",
	"01/02/2006 15:04:05",
	"02/01/2006 15:04",
	time.RFC1123,
	time.RFC1123Z,
}

// InferType returns the column type implied by sample.
//
// Strings follow the rule order in the package doc. Native spreadsheet values
// map directly: integral numbers by range, other floats to numeric, bool to
// boolean, time.Time to date at midnight and timestamp otherwise.
func InferType(sample any) model.ColumnType {
	switch v := sample.(type) {
	case nil:
		return model.TypeText
	case string:
		return inferString(v)
	case bool:
		return model.TypeBoolean
	case time.Time:
		if v.Hour() == 0 && v.Minute() == 0 && v.Second() == 0 && v.Nanosecond() == 0 {
			return model.TypeDate
		}
		return model.TypeTimestamp
	case int64:
		return intRange(float64(v))
	case int:
		return intRange(float64(v))
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return model.TypeBigint
		}
		if v != math.Trunc(v) {
			return model.TypeNumeric
		}
		return intRange(v)
	}
	return model.TypeText
}

func inferString(s string) model.ColumnType {
	if strings.TrimSpace(s) == "" {
		return model.TypeText
	}
	// A zero value is falsy and falls through to the later rules, which is
	// why "0" ends up boolean.
	if n, ok := jsNumber(s); ok && n != 0 {
		if strings.Contains(s, ".") {
			return model.TypeNumeric
		}
		n, ok := jsParseInt(s)
		if !ok {
			return model.TypeBigint
		}
		return intRange(n)
	}
	if IsDate(s) {
		if strings.Contains(s, ":") {
			return model.TypeTimestamp
		}
		return model.TypeDate
	}
	if IsBoolWord(s) {
		return model.TypeBoolean
	}
	return model.TypeText
}

func intRange(n float64) model.ColumnType {
	switch {
	case n >= math.MinInt16 && n <= math.MaxInt16:
		return model.TypeSmallint
	case n >= math.MinInt32 && n <= math.MaxInt32:
		return model.TypeInteger
	}
	return model.TypeBigint
}

// IsDate reports whether s parses as a calendar date or timestamp. Known
// layouts are tried first; dateparse covers the long tail (month names,
// zone abbreviations, mixed separators).
func IsDate(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	for _, lay := range dateLayouts {
		if _, err := time.Parse(lay, s); err == nil {
			return true
		}
	}
	for _, lay := range tsLayouts {
		if _, err := time.Parse(lay, s); err == nil {
			return true
		}
	}
	// Number-shaped strings ("0", "0.0", unix seconds) are never dates here,
	// even though dateparse accepts some of them.
	if isJSNumber(s) {
		return false
	}
	_, err := dateparse.ParseStrict(s)
	return err == nil
}

// IsBoolWord reports whether s is one of the accepted boolean spellings.
func IsBoolWord(s string) bool {
	_, ok := boolWords[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

// InferColumns builds descriptors for cols from the first data row. first
// may be nil (no data rows): every column is then text and nullable.
func InferColumns(cols []decoder.Column, first *decoder.Row) []model.ColumnDescriptor {
	out := make([]model.ColumnDescriptor, len(cols))
	for i, c := range cols {
		var sample any
		if first != nil && c.Index < len(first.V) {
			sample = first.V[c.Index]
		}
		out[i] = model.ColumnDescriptor{
			Index:        c.Index,
			Name:         c.Name,
			OriginalName: c.Original,
			InferredType: InferType(sample),
			Sample:       sample,
			Nullable:     sample == nil,
		}
	}
	return out
}
