package decoder

import "sync"

// Row is a pooled positional record. V[i] holds the value of column i (nil for
// null); Line is the 1-based physical record number in the source, header
// included.
//
// Ownership contract:
//   - Exactly one goroutine owns a Row at a time.
//   - A Row may be handed downstream through a channel (ownership transfer).
//   - The final consumer calls Free() once nothing references r or r.V.
//
// On ctx cancellation use Drop() instead of Free(): a canceled consumer may
// still be reading V while the producer unwinds, and a re-pooled Row would be
// reused underneath it.
type Row struct {
	V    []any
	Line int
}

var rowPool sync.Pool

// GetRow returns a pooled Row with len(V) == colCount and every field nil.
func GetRow(colCount int) *Row {
	if v := rowPool.Get(); v != nil {
		r := v.(*Row)
		if cap(r.V) < colCount {
			r.V = make([]any, colCount)
		}
		r.V = r.V[:colCount]
		clear(r.V)
		r.Line = 0
		return r
	}
	return &Row{V: make([]any, colCount)}
}

// Free returns the Row to the pool.
func (r *Row) Free() {
	rowPool.Put(r)
}

// Drop discards the Row without re-pooling it.
func (r *Row) Drop() {
	r.V = nil
	r.Line = 0
}

// Map returns the row keyed by column name. Columns beyond len(V) map to nil.
func (r *Row) Map(cols []Column) map[string]any {
	m := make(map[string]any, len(cols))
	for _, c := range cols {
		if c.Index < len(r.V) {
			m[c.Name] = r.V[c.Index]
		} else {
			m[c.Name] = nil
		}
	}
	return m
}

// FreeAll frees every row in rows.
func FreeAll(rows []*Row) {
	for _, r := range rows {
		r.Free()
	}
}
