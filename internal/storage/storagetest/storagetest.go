// Package storagetest holds the behavior every storage.Repository backend
// must share. Backend test files call Run with a constructor.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"tabimport/internal/model"
	"tabimport/internal/storage"
)

// Run exercises repo against the Repository contract. open must return a
// fresh, empty repository with its schema in place.
func Run(t *testing.T, open func(t *testing.T) storage.Repository) {
	t.Helper()

	t.Run("job round trip", func(t *testing.T) { testJobRoundTrip(t, open(t)) })
	t.Run("not found", func(t *testing.T) { testNotFound(t, open(t)) })
	t.Run("columns and metrics replace", func(t *testing.T) { testReplace(t, open(t)) })
	t.Run("rows paging sort search", func(t *testing.T) { testRows(t, open(t)) })
}

func newJob(id string) *model.ImportJob {
	return &model.ImportJob{
		ID:             id,
		OrganizationID: "org-1",
		FileRef:        "uploads/" + id + ".csv",
		Filename:       "people.csv",
		Status:         model.StatusPending,
		RenameMap:      map[string]string{"Nome": "name"},
		CreatedAt:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func testJobRoundTrip(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	job := newJob("job-1")
	if err := repo.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	started := time.Date(2024, 5, 1, 12, 0, 5, 0, time.UTC)
	done := started.Add(3 * time.Second)
	rows := int64(42)
	msg := "boom"
	job.Status = model.StatusError
	job.Progress = 37
	job.RowCount = &rows
	job.ErrorMessage = &msg
	job.ProcessingStartedAt = &started
	job.CompletedAt = &done
	if err := repo.UpdateJob(ctx, job); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	got, err := repo.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != model.StatusError || got.Progress != 37 || got.Filename != "people.csv" || got.OrganizationID != "org-1" {
		t.Fatalf("job = %+v", got)
	}
	if got.RowCount == nil || *got.RowCount != 42 {
		t.Fatalf("row count = %v", got.RowCount)
	}
	if got.ErrorMessage == nil || *got.ErrorMessage != "boom" {
		t.Fatalf("error message = %v", got.ErrorMessage)
	}
	if got.ProcessingStartedAt == nil || !got.ProcessingStartedAt.Equal(started) {
		t.Fatalf("started = %v", got.ProcessingStartedAt)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(done) {
		t.Fatalf("completed = %v", got.CompletedAt)
	}
	if !got.CreatedAt.Equal(job.CreatedAt) {
		t.Fatalf("created = %v; want %v", got.CreatedAt, job.CreatedAt)
	}
	if got.RenameMap["Nome"] != "name" {
		t.Fatalf("rename map = %v", got.RenameMap)
	}
}

func testNotFound(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	if _, err := repo.GetJob(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetJob err = %v; want ErrNotFound", err)
	}
	if err := repo.UpdateJob(ctx, newJob("missing")); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("UpdateJob err = %v; want ErrNotFound", err)
	}
}

func testReplace(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	if err := repo.CreateJob(ctx, newJob("job-2")); err != nil {
		t.Fatal(err)
	}

	cols := []model.ColumnDescriptor{
		{Index: 0, Name: "id", OriginalName: "id", InferredType: model.TypeSmallint, Sample: "1"},
		{Index: 1, Name: "email", OriginalName: "E-mail", InferredType: model.TypeText, Nullable: true},
	}
	if err := repo.SaveColumns(ctx, "job-2", cols); err != nil {
		t.Fatalf("SaveColumns: %v", err)
	}
	if err := repo.SaveColumns(ctx, "job-2", cols[:1]); err != nil {
		t.Fatalf("SaveColumns again: %v", err)
	}

	first := &model.IntegrityMetrics{Overall: 0.5, Completeness: 0.5, Uniqueness: 0.5, Consistency: 0.5,
		Recommendations: []model.Recommendation{{Type: model.RecFillNulls, Column: "email", Description: "d", Impact: "i"}},
		ComputedAt:      time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	second := &model.IntegrityMetrics{Overall: 0.9, Completeness: 1, Uniqueness: 0.8, Consistency: 0.8667,
		Recommendations: []model.Recommendation{},
		Columns:         []model.ColumnScore{{Index: 0, Name: "id", Completeness: 1, Uniqueness: 0.8, Consistency: 0.8667, DominantPattern: model.PatternNumeric}},
		ComputedAt:      time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)}
	if err := repo.SaveMetrics(ctx, "job-2", first); err != nil {
		t.Fatalf("SaveMetrics: %v", err)
	}
	if err := repo.SaveMetrics(ctx, "job-2", second); err != nil {
		t.Fatalf("SaveMetrics again: %v", err)
	}

	got, err := repo.GetJob(ctx, "job-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Columns) != 1 || got.Columns[0].Name != "id" || got.Columns[0].InferredType != model.TypeSmallint {
		t.Fatalf("columns = %+v", got.Columns)
	}
	if got.Metrics == nil || got.Metrics.Overall != 0.9 || len(got.Metrics.Recommendations) != 0 {
		t.Fatalf("metrics = %+v", got.Metrics)
	}
	if len(got.Metrics.Columns) != 1 || got.Metrics.Columns[0].DominantPattern != model.PatternNumeric {
		t.Fatalf("metric columns = %+v", got.Metrics.Columns)
	}
}

func testRows(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	if err := repo.CreateJob(ctx, newJob("job-3")); err != nil {
		t.Fatal(err)
	}
	rows := []map[string]any{
		{"name": "carol", "city": "Recife"},
		{"name": "alice", "city": "São Paulo"},
		{"name": nil, "city": "Natal"},
		{"name": "bob", "city": "Recife"},
		{"name": "dave", "city": "Olinda_1"},
	}
	if err := repo.AppendRows(ctx, "job-3", 1, rows[:3]); err != nil {
		t.Fatalf("AppendRows: %v", err)
	}
	if err := repo.AppendRows(ctx, "job-3", 4, rows[3:]); err != nil {
		t.Fatalf("AppendRows: %v", err)
	}

	page, err := repo.QueryRows(ctx, "job-3", storage.RowQuery{Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("QueryRows: %v", err)
	}
	if page.Total != 5 || page.TotalPages != 3 || len(page.Rows) != 2 || page.Rows[0].Num != 1 || page.Rows[1].Num != 2 {
		t.Fatalf("import order page = %+v", page)
	}

	page, err = repo.QueryRows(ctx, "job-3", storage.RowQuery{Sort: "name", PageSize: 10})
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{2, 4, 1, 5, 3}
	for i, w := range want {
		if page.Rows[i].Num != w {
			t.Fatalf("asc order = %v; want %v", nums(page.Rows), want)
		}
	}

	page, err = repo.QueryRows(ctx, "job-3", storage.RowQuery{Sort: "name", Desc: true, PageSize: 10})
	if err != nil {
		t.Fatal(err)
	}
	want = []int64{5, 1, 4, 2, 3}
	for i, w := range want {
		if page.Rows[i].Num != w {
			t.Fatalf("desc order = %v; want %v", nums(page.Rows), want)
		}
	}

	page, err = repo.QueryRows(ctx, "job-3", storage.RowQuery{Search: "RECIFE"})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 2 || page.Rows[0].Data["name"] != "carol" {
		t.Fatalf("search page = %+v", page)
	}

	// LIKE wildcards in the search text are literal.
	page, err = repo.QueryRows(ctx, "job-3", storage.RowQuery{Search: "_1"})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 || page.Rows[0].Num != 5 {
		t.Fatalf("wildcard search page = %+v", page)
	}

	// Only cell values are searched, never column names or JSON syntax.
	for _, needle := range []string{"city", "NAME", `":"`, "null"} {
		page, err = repo.QueryRows(ctx, "job-3", storage.RowQuery{Search: needle})
		if err != nil {
			t.Fatal(err)
		}
		if page.Total != 0 || len(page.Rows) != 0 {
			t.Fatalf("search %q matched %v; want no rows", needle, nums(page.Rows))
		}
	}
	page, err = repo.QueryRows(ctx, "job-3", storage.RowQuery{Search: "paulo"})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 || page.Rows[0].Num != 2 {
		t.Fatalf("value search page = %+v", page)
	}

	if err := repo.DeleteRows(ctx, "job-3"); err != nil {
		t.Fatal(err)
	}
	page, err = repo.QueryRows(ctx, "job-3", storage.RowQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 0 || len(page.Rows) != 0 || page.PageSize != storage.DefaultPageSize {
		t.Fatalf("after delete = %+v", page)
	}
}

func nums(rows []storage.Record) []int64 {
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i] = r.Num
	}
	return out
}
