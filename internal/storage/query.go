package storage

import (
	"strings"
)

// Paging defaults for row reads.
const (
	DefaultPageSize = 50
	MaxPageSize     = 1000
)

// RowQuery selects a page of materialized rows.
type RowQuery struct {
	Sort     string // column name; empty keeps import order
	Desc     bool
	Search   string // case-insensitive substring over the whole row
	Page     int    // 1-based
	PageSize int
}

// Normalize clamps paging values to their defaults and limits.
func (q RowQuery) Normalize() RowQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	q.Search = strings.TrimSpace(q.Search)
	q.Sort = strings.TrimSpace(q.Sort)
	return q
}

// Offset is the number of rows skipped before the page.
func (q RowQuery) Offset() int {
	return (q.Page - 1) * q.PageSize
}

// Record is one materialized row.
type Record struct {
	Num  int64          `json:"row"`
	Data map[string]any `json:"data"`
}

// RowPage is a page of records plus the filtered total.
type RowPage struct {
	Rows       []Record `json:"rows"`
	Total      int64    `json:"total"`
	Page       int      `json:"page"`
	PageSize   int      `json:"page_size"`
	TotalPages int      `json:"total_pages"`
}

// NewRowPage fills the paging fields of a page.
func NewRowPage(q RowQuery, rows []Record, total int64) *RowPage {
	if rows == nil {
		rows = []Record{}
	}
	pages := 0
	if total > 0 {
		pages = int((total + int64(q.PageSize) - 1) / int64(q.PageSize))
	}
	return &RowPage{Rows: rows, Total: total, Page: q.Page, PageSize: q.PageSize, TotalPages: pages}
}

// LikePattern builds a %search% LIKE pattern with \ as the escape character.
func LikePattern(search string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(search) + "%"
}

// JSONPath is the SQL/JSON path addressing a top-level key, quoted so any
// header text is a valid member name.
func JSONPath(key string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `$."` + r.Replace(key) + `"`
}
