package inference

import (
	"math"
	"strconv"
	"strings"
	"unicode"
)

// jsTrim strips the characters ECMAScript treats as white space or line
// terminators.
func jsTrim(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '\uFEFF'
	})
}

// isJSNumber reports whether Number(s) would produce a value other than NaN
// for a non-blank s.
//
// Accepted: decimal literals with optional sign, fraction and exponent
// ("1", "-2.5", ".5", "5.", "1e3"), Infinity with optional sign, and unsigned
// 0x / 0o / 0b integer literals. Rejected: thousands separators, underscores,
// Go-only forms such as "0x1p-2", "NaN" and "inf".
func isJSNumber(s string) bool {
	s = jsTrim(s)
	if s == "" {
		return false
	}
	if len(s) > 2 && s[0] == '0' {
		var base int
		switch s[1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}
		if base != 0 {
			return allDigitsIn(s[2:], base)
		}
	}

	body := s
	if body[0] == '+' || body[0] == '-' {
		body = body[1:]
	}
	if body == "Infinity" {
		return true
	}

	i, digits := 0, 0
	for i < len(body) && isDecDigit(body[i]) {
		i++
		digits++
	}
	if i < len(body) && body[i] == '.' {
		i++
		for i < len(body) && isDecDigit(body[i]) {
			i++
			digits++
		}
	}
	if digits == 0 {
		return false
	}
	if i < len(body) && (body[i] == 'e' || body[i] == 'E') {
		i++
		if i < len(body) && (body[i] == '+' || body[i] == '-') {
			i++
		}
		exp := 0
		for i < len(body) && isDecDigit(body[i]) {
			i++
			exp++
		}
		if exp == 0 {
			return false
		}
	}
	return i == len(body)
}

// jsNumber returns the value Number(s) would produce. ok is false when the
// result would be NaN.
func jsNumber(s string) (float64, bool) {
	if !isJSNumber(s) {
		return math.NaN(), false
	}
	s = jsTrim(s)
	if len(s) > 2 && s[0] == '0' {
		base := 0
		switch s[1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}
		if base != 0 {
			if n, err := strconv.ParseUint(s[2:], base, 64); err == nil {
				return float64(n), true
			}
			return math.Inf(1), true
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// Out of float64 range: ParseFloat still returns ±Inf.
		return f, !math.IsNaN(f)
	}
	return f, true
}

// jsParseInt mirrors parseInt(s) without a radix: optional sign, a 0x prefix
// switches to hex, then the longest digit prefix. ok is false for NaN.
func jsParseInt(s string) (float64, bool) {
	s = jsTrim(s)
	neg := false
	if s != "" && (s[0] == '+' || s[0] == '-') {
		neg = s[0] == '-'
		s = s[1:]
	}
	base := 10
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		base = 16
		s = s[2:]
	}
	end := 0
	for end < len(s) && digitVal(s[end]) < base {
		end++
	}
	if end == 0 {
		return math.NaN(), false
	}
	var v float64
	if n, err := strconv.ParseUint(s[:end], base, 64); err == nil {
		v = float64(n)
	} else {
		// Longer than 64 bits: magnitude is all that matters for range checks.
		for _, c := range []byte(s[:end]) {
			v = v*float64(base) + float64(digitVal(c))
		}
	}
	if neg {
		v = -v
	}
	return v, true
}

func isDecDigit(c byte) bool { return c >= '0' && c <= '9' }

func digitVal(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'z':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 10
	}
	return 99
}

func allDigitsIn(s string, base int) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if digitVal(s[i]) >= base {
			return false
		}
	}
	return true
}
