package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"tabimport/internal/model"
)

// ErrNotFound is returned when a job does not exist.
var ErrNotFound = errors.New("storage: not found")

// Config is the minimal configuration needed to open a Repository.
//
// Edge cases:
//   - Kind must match a registered backend ("memory", "postgres", "sqlite",
//     "mssql").
//   - DSN is passed through to the backend; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Repository persists import jobs, their inferred columns, their integrity
// metrics and the materialized rows of each import.
//
// IMPORTANT: every write is a replace. Re-analyzing a job overwrites its
// columns, metrics and rows; nothing is versioned.
type Repository interface {
	// Close releases backend resources. Call once.
	Close()

	// EnsureSchema creates the tables if they do not exist.
	EnsureSchema(ctx context.Context) error

	CreateJob(ctx context.Context, job *model.ImportJob) error
	// GetJob returns the job with its columns and metrics, or ErrNotFound.
	GetJob(ctx context.Context, id string) (*model.ImportJob, error)
	// UpdateJob writes the mutable job fields (status, progress, row count,
	// error message, timestamps). Columns and metrics are not touched.
	UpdateJob(ctx context.Context, job *model.ImportJob) error

	SaveColumns(ctx context.Context, jobID string, cols []model.ColumnDescriptor) error
	SaveMetrics(ctx context.Context, jobID string, m *model.IntegrityMetrics) error

	// DeleteRows drops every materialized row of a job.
	DeleteRows(ctx context.Context, jobID string) error
	// AppendRows stores rows numbered from firstRow (1-based).
	AppendRows(ctx context.Context, jobID string, firstRow int64, rows []map[string]any) error
	// QueryRows serves one page of materialized rows.
	QueryRows(ctx context.Context, jobID string, q RowQuery) (*RowPage, error)
}

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register makes a backend available under kind. Backends call it from init().
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New opens the repository for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds lists the registered backends, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
