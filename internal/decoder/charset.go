package decoder

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// pickEncoding returns the decoder for the named charset, or for what the
// prefix looks like when name is empty/"auto". A nil encoding means UTF-8.
//
// Detection order: UTF-8 BOM, UTF-16 BOM, valid UTF-8, else Windows-1252
// (the usual spreadsheet export encoding for Latin text).
func pickEncoding(name string, prefix []byte) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
	case "utf-8", "utf8":
		return nil, nil
	case "utf-16", "utf16":
		return unicode.UTF16(unicode.LittleEndian, unicode.UseBOM), nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252, nil
	case "iso-8859-1", "latin1", "latin-1":
		return charmap.ISO8859_1, nil
	default:
		return nil, fmt.Errorf("unknown charset %q", name)
	}

	switch {
	case bytes.HasPrefix(prefix, bomUTF8):
		return nil, nil
	case bytes.HasPrefix(prefix, bomUTF16LE):
		return unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM), nil
	case bytes.HasPrefix(prefix, bomUTF16BE):
		return unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM), nil
	}
	if validUTF8Prefix(prefix) {
		return nil, nil
	}
	return charmap.Windows1252, nil
}

// validUTF8Prefix is utf8.Valid tolerant of a rune cut at the end of the
// sniffed window.
func validUTF8Prefix(p []byte) bool {
	if utf8.Valid(p) {
		return true
	}
	for cut := 1; cut <= utf8.UTFMax-1 && cut < len(p); cut++ {
		if utf8.Valid(p[:len(p)-cut]) && !utf8.FullRune(p[len(p)-cut:]) {
			return true
		}
	}
	return false
}

// sniffDelimiter counts candidate separators outside quotes on the first line
// of prefix and returns the most frequent, defaulting to comma.
func sniffDelimiter(prefix []byte) rune {
	candidates := []byte{',', ';', '\t', '|'}
	counts := make(map[byte]int, len(candidates))
	inQuote := false
	for _, b := range prefix {
		if b == '"' {
			inQuote = !inQuote
			continue
		}
		if inQuote {
			continue
		}
		if b == '\n' {
			break
		}
		counts[b]++
	}
	best, bestN := byte(','), 0
	for _, c := range candidates {
		if counts[c] > bestN {
			best, bestN = c, counts[c]
		}
	}
	return rune(best)
}
