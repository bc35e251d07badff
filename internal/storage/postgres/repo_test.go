package postgres

import (
	"encoding/json"
	"testing"

	"tabimport/internal/storage"
)

func TestBuildRowQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		q         storage.RowQuery
		wantCount string
		wantNArgs int
		wantSel   string
		wantArgs  []any
	}{
		{
			name:      "defaults",
			q:         storage.RowQuery{},
			wantCount: "SELECT COUNT(*) FROM import_rows WHERE job_id = $1",
			wantNArgs: 1,
			wantSel:   "SELECT row_num, data FROM import_rows WHERE job_id = $1 ORDER BY row_num LIMIT $2 OFFSET $3",
			wantArgs:  []any{"j", 50, 0},
		},
		{
			name:      "search sort page",
			q:         storage.RowQuery{Search: "a_b", Sort: "city", Desc: true, Page: 3, PageSize: 10},
			wantCount: "SELECT COUNT(*) FROM import_rows WHERE job_id = $1 AND EXISTS (SELECT 1 FROM jsonb_each_text(data) e WHERE e.value ILIKE $2)",
			wantNArgs: 2,
			wantSel:   "SELECT row_num, data FROM import_rows WHERE job_id = $1 AND EXISTS (SELECT 1 FROM jsonb_each_text(data) e WHERE e.value ILIKE $2) ORDER BY data->>$3 DESC NULLS LAST, row_num LIMIT $4 OFFSET $5",
			wantArgs:  []any{"j", `%a\_b%`, "city", 10, 20},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			count, countArgs, sel, args := buildRowQuery("j", tt.q.Normalize())
			if count != tt.wantCount || len(countArgs) != tt.wantNArgs {
				t.Fatalf("count = %q (%d args)", count, len(countArgs))
			}
			if sel != tt.wantSel {
				t.Fatalf("select =\n%s\nwant\n%s", sel, tt.wantSel)
			}
			if len(args) != len(tt.wantArgs) {
				t.Fatalf("args = %#v; want %#v", args, tt.wantArgs)
			}
			for i := range args {
				if args[i] != tt.wantArgs[i] {
					t.Fatalf("args[%d] = %#v; want %#v", i, args[i], tt.wantArgs[i])
				}
			}
		})
	}
}

func TestCopyRows(t *testing.T) {
	t.Parallel()

	rows, err := copyRows("j", 1001, []map[string]any{{"a": "x"}, {"a": nil}})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0][1] != int64(1001) || rows[1][1] != int64(1002) {
		t.Fatalf("rows = %#v", rows)
	}
	var doc map[string]any
	if err := json.Unmarshal(rows[1][2].([]byte), &doc); err != nil {
		t.Fatal(err)
	}
	if v, ok := doc["a"]; !ok || v != nil {
		t.Fatalf("null cell not preserved: %v", doc)
	}
}

func TestJSONBNull(t *testing.T) {
	t.Parallel()

	b, err := jsonb(map[string]string{}, true)
	if err != nil || b != nil {
		t.Fatalf("jsonb(null) = %q, %v", b, err)
	}
	b, err = jsonb([]string{"x"}, false)
	if err != nil || string(b) != `["x"]` {
		t.Fatalf("jsonb = %q, %v", b, err)
	}
}
