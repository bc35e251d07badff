package job

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"tabimport/internal/blob"
	"tabimport/internal/decoder"
	"tabimport/internal/errs"
	"tabimport/internal/model"
	"tabimport/internal/progress"
	"tabimport/internal/storage"
	"tabimport/internal/storage/memory"
)

const peopleCSV = "id,name,notes\n1,Ana,\n2,Bo,\n3,Cy,\n4,Di,\n5,Ed,\n"

// memBlobs is an in-memory blob.Store keyed by file name.
type memBlobs struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemBlobs() *memBlobs { return &memBlobs{files: map[string][]byte{}} }

func (b *memBlobs) Download(ctx context.Context, ref string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.files[ref]
	if !ok {
		return nil, errs.Ef(errs.KindStorage, "test.download", "no such object %q", ref)
	}
	return data, nil
}

func (b *memBlobs) Upload(ctx context.Context, name string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.files[name] = data
	return name, nil
}

// stuckBlobs never finishes a download before ctx ends.
type stuckBlobs struct{ *memBlobs }

func (b *stuckBlobs) Download(ctx context.Context, ref string) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// hungBlobs ignores ctx and blocks until the test releases it.
type hungBlobs struct{ release chan struct{} }

func (b *hungBlobs) Download(ctx context.Context, ref string) ([]byte, error) {
	<-b.release
	return nil, errors.New("released")
}

func (b *hungBlobs) Upload(ctx context.Context, name string, data []byte) (string, error) {
	return name, nil
}

// flakyRepo fails AppendRows for every batch after the first.
type flakyRepo struct {
	storage.Repository
}

func (r flakyRepo) AppendRows(ctx context.Context, jobID string, firstRow int64, rows []map[string]any) error {
	if firstRow > 1 {
		return errors.New("disk full")
	}
	return r.Repository.AppendRows(ctx, jobID, firstRow, rows)
}

type fixture struct {
	repo  storage.Repository
	blobs *memBlobs
	prog  *progress.Memory
	ctl   *Controller
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{repo: memory.New(), blobs: newMemBlobs(), prog: progress.NewMemory()}
	f.ctl = NewController(f.repo, f.blobs, f.prog, cfg, nil)
	return f
}

func (f *fixture) upload(t *testing.T, name, data string) *model.ImportJob {
	t.Helper()
	j, err := f.ctl.Upload(context.Background(), "org-1", name, []byte(data), nil)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	return j
}

func waitStatus(t *testing.T, ctl *Controller, id string, want model.Status) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		v, err := ctl.Status(context.Background(), id)
		if err == nil && v.Status == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s status = %+v, %v; want %s", id, v, err, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAnalyzeEndToEndCSV(t *testing.T) {
	t.Parallel()

	var seen []int
	res, err := Analyze(context.Background(), decoder.KindCSV, strings.NewReader(peopleCSV), int64(len(peopleCSV)), Options{}, func(p int) {
		seen = append(seen, p)
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.RowCount != 5 {
		t.Fatalf("RowCount = %d; want 5", res.RowCount)
	}

	wantTypes := []model.ColumnType{model.TypeSmallint, model.TypeText, model.TypeText}
	for i, c := range res.Columns {
		if c.InferredType != wantTypes[i] {
			t.Fatalf("column %s type = %s; want %s", c.Name, c.InferredType, wantTypes[i])
		}
	}
	if !res.Columns[2].Nullable || res.Columns[2].Sample != nil || res.Columns[0].Nullable {
		t.Fatalf("nullability = %+v", res.Columns)
	}

	recs := res.Metrics.Recommendations
	if len(recs) != 1 || recs[0].Type != model.RecFillNulls || recs[0].Column != "notes" {
		t.Fatalf("recommendations = %+v; want one fill_nulls for notes", recs)
	}
	if len(seen) == 0 || seen[len(seen)-1] != decodeShare {
		t.Fatalf("progress = %v; want to end at %d", seen, decodeShare)
	}
}

func TestAnalyzeHeaderOnlyIsEmptyDataset(t *testing.T) {
	t.Parallel()

	data := "a,b\n"
	_, err := Analyze(context.Background(), decoder.KindCSV, strings.NewReader(data), int64(len(data)), Options{}, nil)
	if !errors.Is(err, errs.EmptyDataset) {
		t.Fatalf("err = %v; want EmptyDataset", err)
	}
}

func TestAnalyzeBatchHookAndRowNumbers(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString("n\n")
	for i := 1; i <= 25; i++ {
		fmt.Fprintf(&b, "%d\n", i)
	}
	data := b.String()

	var firsts []int64
	var count int64
	opt := Options{
		BatchSize: 10,
		OnBatch: func(ctx context.Context, cols []decoder.Column, firstRow int64, rows []*decoder.Row) error {
			firsts = append(firsts, firstRow)
			return nil
		},
		OnRowCount: func(n int64) { count = n },
	}
	if _, err := Analyze(context.Background(), decoder.KindCSV, strings.NewReader(data), int64(len(data)), opt, nil); err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(firsts) != "[1 11 21]" || count != 25 {
		t.Fatalf("firsts = %v count = %d", firsts, count)
	}

	boom := errors.New("boom")
	opt.OnBatch = func(context.Context, []decoder.Column, int64, []*decoder.Row) error { return boom }
	if _, err := Analyze(context.Background(), decoder.KindCSV, strings.NewReader(data), int64(len(data)), opt, nil); !errors.Is(err, boom) {
		t.Fatalf("err = %v; want hook error", err)
	}
}

func TestControllerRunCompletes(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	j := f.upload(t, "people.csv", peopleCSV)

	if v, err := f.ctl.Status(ctx, j.ID); err != nil || v.Status != model.StatusPending {
		t.Fatalf("initial status = %+v, %v", v, err)
	}
	if err := f.ctl.Run(ctx, j.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	v, err := f.ctl.Status(ctx, j.ID)
	if err != nil || v.Status != model.StatusCompleted || v.Progress != 100 || v.ErrorMessage != nil {
		t.Fatalf("status = %+v, %v", v, err)
	}

	got, err := f.ctl.Get(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.RowCount == nil || *got.RowCount != 5 || got.CompletedAt == nil || got.ProcessingStartedAt == nil {
		t.Fatalf("job = %+v", got)
	}
	if len(got.Columns) != 3 || got.Metrics == nil {
		t.Fatalf("columns/metrics not persisted: %+v", got)
	}
	if recs := got.Metrics.Recommendations; len(recs) != 1 || recs[0].Type != model.RecFillNulls {
		t.Fatalf("recommendations = %+v", recs)
	}

	page, err := f.ctl.Rows(ctx, j.ID, storage.RowQuery{Sort: "name", Desc: true})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 5 || page.Rows[0].Data["name"] != "Ed" || page.Rows[0].Num != 5 {
		t.Fatalf("rows page = %+v", page)
	}
}

func TestControllerRerunOverwrites(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	j := f.upload(t, "people.csv", peopleCSV)

	for i := 0; i < 2; i++ {
		if err := f.ctl.Run(ctx, j.ID); err != nil {
			t.Fatalf("Run #%d: %v", i+1, err)
		}
	}
	page, err := f.ctl.Rows(ctx, j.ID, storage.RowQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 5 {
		t.Fatalf("rows after re-run = %d; want 5", page.Total)
	}
	got, _ := f.ctl.Get(ctx, j.ID)
	if got.Status != model.StatusCompleted || len(got.Columns) != 3 {
		t.Fatalf("job after re-run = %+v", got)
	}
}

func TestControllerTimeout(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		blobs func(t *testing.T) blob.Store
	}{
		{"download honors ctx", func(*testing.T) blob.Store { return &stuckBlobs{newMemBlobs()} }},
		{"download ignores ctx", func(t *testing.T) blob.Store {
			b := &hungBlobs{release: make(chan struct{})}
			t.Cleanup(func() { close(b.release) })
			return b
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultConfig()
			cfg.MaxProcessTime = 20 * time.Millisecond
			ctl := NewController(memory.New(), tt.blobs(t), nil, cfg, nil)

			ctx := context.Background()
			j, err := ctl.Register(ctx, RegisterRequest{OrganizationID: "org", FileRef: "big.csv", Filename: "big.csv"})
			if err != nil {
				t.Fatal(err)
			}

			done := make(chan error, 1)
			go func() { done <- ctl.Run(ctx, j.ID) }()
			select {
			case err = <-done:
			case <-time.After(5 * time.Second):
				t.Fatal("Run did not return after MaxProcessTime")
			}
			if !errors.Is(err, errs.Timeout) {
				t.Fatalf("Run err = %v; want Timeout", err)
			}
			v, _ := ctl.Status(ctx, j.ID)
			if v.Status != model.StatusError || v.ErrorMessage == nil || *v.ErrorMessage != errs.TimeoutMessage {
				t.Fatalf("status = %+v", v)
			}
		})
	}
}

func TestControllerFailureKeepsProgress(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString("n\n")
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&b, "%d\n", i)
	}

	blobs := newMemBlobs()
	cfg := DefaultConfig()
	cfg.BatchSize = 10
	ctl := NewController(flakyRepo{memory.New()}, blobs, nil, cfg, nil)
	ctx := context.Background()
	j, err := ctl.Upload(ctx, "org", "nums.csv", []byte(b.String()), nil)
	if err != nil {
		t.Fatal(err)
	}

	err = ctl.Run(ctx, j.ID)
	if !errors.Is(err, errs.StorageError) {
		t.Fatalf("Run err = %v; want StorageError", err)
	}
	got, _ := ctl.Get(ctx, j.ID)
	if got.Status != model.StatusError || got.Progress == 0 || got.Progress == 100 {
		t.Fatalf("job = status %s progress %d; want error with partial progress", got.Status, got.Progress)
	}
	if got.ErrorMessage == nil || !strings.Contains(*got.ErrorMessage, "disk full") {
		t.Fatalf("error message = %v", got.ErrorMessage)
	}
}

func TestControllerErrorIsFinal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	j := f.upload(t, "report.pdf", "%PDF-1.4")

	if err := f.ctl.Run(ctx, j.ID); !errors.Is(err, errs.UnsupportedFormat) {
		t.Fatalf("Run err = %v; want UnsupportedFormat", err)
	}
	if err := f.ctl.Run(ctx, j.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second Run err = %v; want ErrInvalidTransition", err)
	}
	if _, err := f.ctl.Status(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Status(unknown) err = %v; want ErrNotFound", err)
	}
}

func TestControllerMissingBlob(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	j, err := f.ctl.Register(ctx, RegisterRequest{OrganizationID: "org", FileRef: "gone.csv", Filename: "gone.csv"})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.ctl.Run(ctx, j.ID); !errors.Is(err, errs.StorageError) {
		t.Fatalf("Run err = %v; want StorageError", err)
	}
	v, _ := f.ctl.Status(ctx, j.ID)
	if v.Status != model.StatusError || v.Progress != 0 {
		t.Fatalf("status = %+v", v)
	}
}

func TestStatusFallsBackToRepository(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	j := f.upload(t, "people.csv", peopleCSV)
	if err := f.ctl.Run(ctx, j.ID); err != nil {
		t.Fatal(err)
	}

	// A controller with a cold progress store, as on another replica.
	cold := NewController(f.repo, f.blobs, progress.NewMemory(), DefaultConfig(), nil)
	v, err := cold.Status(ctx, j.ID)
	if err != nil || v.Status != model.StatusCompleted || v.Progress != 100 {
		t.Fatalf("fallback status = %+v, %v", v, err)
	}
}

func TestManagerRunsInBackground(t *testing.T) {
	t.Parallel()

	f := newFixture(t, DefaultConfig())
	m := NewManager(f.ctl, 2, nil)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 4; i++ {
		ids = append(ids, f.upload(t, fmt.Sprintf("people-%d.csv", i), peopleCSV).ID)
	}
	for _, id := range ids {
		if err := m.Submit(ctx, id); err != nil {
			t.Fatalf("Submit(%s): %v", id, err)
		}
	}
	m.Wait()

	for _, id := range ids {
		v, err := f.ctl.Status(ctx, id)
		if err != nil || v.Status != model.StatusCompleted {
			t.Fatalf("job %s status = %+v, %v", id, v, err)
		}
	}

	if err := m.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.Submit(ctx, ids[0]); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("Submit after Shutdown err = %v; want ErrShuttingDown", err)
	}
}

func TestManagerRejectsDuplicateSubmit(t *testing.T) {
	t.Parallel()

	repo := memory.New()
	blobs := &stuckBlobs{newMemBlobs()}
	cfg := DefaultConfig()
	cfg.MaxProcessTime = time.Minute
	ctl := NewController(repo, blobs, nil, cfg, nil)
	m := NewManager(ctl, 1, nil)
	ctx := context.Background()

	j, err := ctl.Register(ctx, RegisterRequest{OrganizationID: "org", FileRef: "slow.csv", Filename: "slow.csv"})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Submit(ctx, j.ID); err != nil {
		t.Fatal(err)
	}
	if err := m.Submit(ctx, j.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("duplicate Submit err = %v; want ErrInvalidTransition", err)
	}
	waitStatus(t, ctl, j.ID, model.StatusProcessing)

	// Shutdown cancels the stuck run, which still records a terminal state.
	if err := m.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	v, _ := ctl.Status(ctx, j.ID)
	if v.Status != model.StatusError {
		t.Fatalf("status after shutdown = %+v; want error", v)
	}
}
