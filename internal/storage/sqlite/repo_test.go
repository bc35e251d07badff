package sqlite

import (
	"context"
	"testing"
	"time"

	"tabimport/internal/storage"
	"tabimport/internal/storage/storagetest"
)

func openMemory(t *testing.T) storage.Repository {
	t.Helper()
	ctx := context.Background()
	repo, err := storage.New(ctx, storage.Config{Kind: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(repo.Close)
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	// Idempotent.
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema twice: %v", err)
	}
	return repo
}

func TestRepositoryContract(t *testing.T) {
	storagetest.Run(t, openMemory)
}

func TestBuildRowSQL(t *testing.T) {
	t.Parallel()

	where, args := buildRowFilter("j1", storage.RowQuery{Search: "50%"}.Normalize())
	if where != `job_id = ? AND EXISTS (SELECT 1 FROM json_each(data) WHERE `+searchValue+` LIKE ? ESCAPE '\')` {
		t.Fatalf("where = %s", where)
	}
	if len(args) != 2 || args[1] != `%50\%%` {
		t.Fatalf("args = %#v", args)
	}

	order, oargs := buildRowOrder(storage.RowQuery{Sort: `a"b`, Desc: true})
	if order != `CAST(json_extract(data, ?) AS TEXT) DESC NULLS LAST, row_num` {
		t.Fatalf("order = %s", order)
	}
	if len(oargs) != 1 || oargs[0] != `$."a\"b"` {
		t.Fatalf("order args = %#v", oargs)
	}

	if order, _ := buildRowOrder(storage.RowQuery{}); order != "row_num" {
		t.Fatalf("default order = %s", order)
	}
}

func TestParseSQLiteTime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		wantUTC string
		wantErr bool
	}{
		{name: "rfc3339nano", in: "2026-01-27T12:17:08.123456789Z", wantUTC: "2026-01-27T12:17:08.123456789Z"},
		{name: "offset", in: "2026-01-27T14:17:08+02:00", wantUTC: "2026-01-27T12:17:08Z"},
		{name: "sqlite_space_tz", in: "2026-01-27 12:17:08+00:00", wantUTC: "2026-01-27T12:17:08Z"},
		{name: "sqlite_no_tz_assume_utc", in: "2026-01-27 12:17:08", wantUTC: "2026-01-27T12:17:08Z"},
		{name: "invalid", in: "not-a-time", wantErr: true},
		{name: "empty", in: " ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseSQLiteTime(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseSQLiteTime(%q) err=%v wantErr=%v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if s := got.Format(time.RFC3339Nano); s != tt.wantUTC {
				t.Fatalf("parseSQLiteTime(%q) = %s; want %s", tt.in, s, tt.wantUTC)
			}
		})
	}
}
