package decoder

import (
	"strconv"
	"strings"
)

// Column is one header cell after renaming and disambiguation. Index is the
// stable position used by every downstream accumulator; Name is unique within
// the file.
type Column struct {
	Index    int
	Name     string
	Original string
}

// BuildColumns turns raw header cells into unique columns.
//
// Rules:
//   - cells are trimmed and a leading UTF-8 BOM is removed from the first one;
//   - rename (optional) maps an original header to a suggested name;
//   - an empty header becomes "column_<n>" with n the 1-based position;
//   - a repeated name gets the smallest free "_<k>" suffix, k >= 2, so
//     ["id","id","id_2"] becomes ["id","id_3","id_2"].
//
// The result depends only on the input, never on map iteration order.
func BuildColumns(raw []string, rename map[string]string) []Column {
	cols := make([]Column, len(raw))
	names := make([]string, len(raw))
	taken := make(map[string]bool, len(raw))

	for i, h := range raw {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		h = strings.TrimSpace(h)
		cols[i] = Column{Index: i, Original: h}

		name := h
		if mapped, ok := rename[h]; ok && strings.TrimSpace(mapped) != "" {
			name = strings.TrimSpace(mapped)
		}
		if name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}
		names[i] = name
	}

	// First pass reserves every name that appears at least once so a later
	// literal "id_2" keeps its name and the duplicate "id" skips over it.
	seen := make(map[string]bool, len(names))
	dup := make([]bool, len(names))
	for i, n := range names {
		if seen[n] {
			dup[i] = true
			continue
		}
		seen[n] = true
		taken[n] = true
	}

	for i, n := range names {
		if dup[i] {
			for k := 2; ; k++ {
				cand := n + "_" + strconv.Itoa(k)
				if !taken[cand] {
					n = cand
					break
				}
			}
			taken[n] = true
		}
		cols[i].Name = n
	}
	return cols
}

// Names returns the column names in index order.
func Names(cols []Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}
