// Package memory is an in-process storage backend. It backs tests and
// single-node development runs; nothing survives a restart.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"tabimport/internal/model"
	"tabimport/internal/storage"
)

func init() {
	storage.Register("memory", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		return New(), nil
	})
}

type storedRow struct {
	num  int64
	raw  []byte // JSON object, same shape the SQL backends keep
	text string // lower-cased cell values, for search
}

// Repo implements storage.Repository with maps guarded by one RWMutex.
// Values are copied through JSON on the way in and out so callers can never
// alias stored state.
type Repo struct {
	mu      sync.RWMutex
	jobs    map[string][]byte
	columns map[string][]byte
	metrics map[string][]byte
	rows    map[string][]storedRow
}

var _ storage.Repository = (*Repo)(nil)

// New returns an empty repository.
func New() *Repo {
	return &Repo{
		jobs:    make(map[string][]byte),
		columns: make(map[string][]byte),
		metrics: make(map[string][]byte),
		rows:    make(map[string][]storedRow),
	}
}

func (r *Repo) Close()                                 {}
func (r *Repo) EnsureSchema(ctx context.Context) error { return nil }

// encodeJob stores the job without columns and metrics; those live apart, as
// in the SQL schema.
func encodeJob(job *model.ImportJob) ([]byte, error) {
	rec := *job
	rec.Columns, rec.Metrics = nil, nil
	return json.Marshal(rec)
}

func (r *Repo) CreateJob(ctx context.Context, job *model.ImportJob) error {
	b, err := encodeJob(job)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; ok {
		return fmt.Errorf("memory: job %s already exists", job.ID)
	}
	r.jobs[job.ID] = b
	return nil
}

func (r *Repo) GetJob(ctx context.Context, id string) (*model.ImportJob, error) {
	r.mu.RLock()
	jb, ok := r.jobs[id]
	cb := r.columns[id]
	mb := r.metrics[id]
	r.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}

	var job model.ImportJob
	if err := json.Unmarshal(jb, &job); err != nil {
		return nil, err
	}
	if cb != nil {
		if err := json.Unmarshal(cb, &job.Columns); err != nil {
			return nil, err
		}
	}
	if mb != nil {
		job.Metrics = &model.IntegrityMetrics{}
		if err := json.Unmarshal(mb, job.Metrics); err != nil {
			return nil, err
		}
	}
	return &job, nil
}

func (r *Repo) UpdateJob(ctx context.Context, job *model.ImportJob) error {
	b, err := encodeJob(job)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; !ok {
		return storage.ErrNotFound
	}
	r.jobs[job.ID] = b
	return nil
}

func (r *Repo) SaveColumns(ctx context.Context, jobID string, cols []model.ColumnDescriptor) error {
	b, err := json.Marshal(cols)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[jobID]; !ok {
		return storage.ErrNotFound
	}
	r.columns[jobID] = b
	return nil
}

func (r *Repo) SaveMetrics(ctx context.Context, jobID string, m *model.IntegrityMetrics) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[jobID]; !ok {
		return storage.ErrNotFound
	}
	r.metrics[jobID] = b
	return nil
}

func (r *Repo) DeleteRows(ctx context.Context, jobID string) error {
	r.mu.Lock()
	delete(r.rows, jobID)
	r.mu.Unlock()
	return nil
}

func (r *Repo) AppendRows(ctx context.Context, jobID string, firstRow int64, rows []map[string]any) error {
	batch := make([]storedRow, len(rows))
	for i, row := range rows {
		b, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("memory: encode row %d: %w", firstRow+int64(i), err)
		}
		text, err := searchText(b)
		if err != nil {
			return fmt.Errorf("memory: index row %d: %w", firstRow+int64(i), err)
		}
		batch[i] = storedRow{num: firstRow + int64(i), raw: b, text: text}
	}
	r.mu.Lock()
	r.rows[jobID] = append(r.rows[jobID], batch...)
	r.mu.Unlock()
	return nil
}

// searchText joins the row's non-null values as the SQL backends render them
// for search. Column names are left out. The separator keeps a needle from
// spanning two cells.
func searchText(raw []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var row map[string]any
	if err := dec.Decode(&row); err != nil {
		return "", err
	}
	var b strings.Builder
	for _, v := range row {
		switch v := v.(type) {
		case nil:
			continue
		case string:
			b.WriteString(v)
		case json.Number:
			b.WriteString(v.String())
		case bool:
			b.WriteString(strconv.FormatBool(v))
		default:
			nested, err := json.Marshal(v)
			if err != nil {
				return "", err
			}
			b.Write(nested)
		}
		b.WriteByte(0)
	}
	return strings.ToLower(b.String()), nil
}

func (r *Repo) QueryRows(ctx context.Context, jobID string, q storage.RowQuery) (*storage.RowPage, error) {
	q = q.Normalize()
	needle := strings.ToLower(q.Search)

	r.mu.RLock()
	all := r.rows[jobID]
	matched := make([]storedRow, 0, len(all))
	for _, row := range all {
		if needle == "" || strings.Contains(row.text, needle) {
			matched = append(matched, row)
		}
	}
	r.mu.RUnlock()

	decoded := make([]storage.Record, len(matched))
	for i, row := range matched {
		decoded[i].Num = row.num
		if err := json.Unmarshal(row.raw, &decoded[i].Data); err != nil {
			return nil, err
		}
	}

	if q.Sort != "" {
		sort.SliceStable(decoded, func(i, j int) bool {
			a, aok := sortKey(decoded[i].Data[q.Sort])
			b, bok := sortKey(decoded[j].Data[q.Sort])
			switch {
			case !aok || !bok:
				// nulls last in both directions
				return aok && !bok
			case a == b:
				return decoded[i].Num < decoded[j].Num
			case q.Desc:
				return a > b
			}
			return a < b
		})
	}

	total := int64(len(decoded))
	lo := q.Offset()
	if lo > len(decoded) {
		lo = len(decoded)
	}
	hi := lo + q.PageSize
	if hi > len(decoded) {
		hi = len(decoded)
	}
	return storage.NewRowPage(q, decoded[lo:hi], total), nil
}

// sortKey renders a decoded JSON value as the text the SQL backends compare.
func sortKey(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(x), true
	}
	b, _ := json.Marshal(v)
	return string(b), true
}
