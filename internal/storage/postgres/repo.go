package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tabimport/internal/model"
	"tabimport/internal/storage"
)

/*
Repo implements storage.Repository for Postgres.

It provides:
  - jobs, columns and metrics as plain tables with jsonb for nested values
  - materialized rows as one jsonb document per row, bulk-loaded with COPY
  - paginated reads sorted on data->>column with NULLS LAST
*/
type Repo struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Repo)(nil)

func init() {
	storage.Register("postgres", Open)
}

// Open creates a pooled Postgres repository.
func Open(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS import_jobs (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		file_ref TEXT NOT NULL,
		filename TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('pending','processing','completed','error')),
		progress INTEGER NOT NULL DEFAULT 0 CHECK (progress BETWEEN 0 AND 100),
		row_count BIGINT,
		error_message TEXT,
		rename_map JSONB,
		created_at TIMESTAMPTZ NOT NULL,
		processing_started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS import_columns (
		job_id TEXT NOT NULL REFERENCES import_jobs(id) ON DELETE CASCADE,
		idx INTEGER NOT NULL,
		name TEXT NOT NULL,
		original_name TEXT NOT NULL,
		inferred_type TEXT NOT NULL,
		sample JSONB,
		nullable BOOLEAN NOT NULL,
		PRIMARY KEY (job_id, idx)
	)`,
	`CREATE TABLE IF NOT EXISTS import_metrics (
		job_id TEXT PRIMARY KEY REFERENCES import_jobs(id) ON DELETE CASCADE,
		overall DOUBLE PRECISION NOT NULL,
		completeness DOUBLE PRECISION NOT NULL,
		uniqueness DOUBLE PRECISION NOT NULL,
		consistency DOUBLE PRECISION NOT NULL,
		recommendations JSONB NOT NULL,
		column_scores JSONB,
		computed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS import_rows (
		job_id TEXT NOT NULL REFERENCES import_jobs(id) ON DELETE CASCADE,
		row_num BIGINT NOT NULL,
		data JSONB NOT NULL,
		PRIMARY KEY (job_id, row_num)
	)`,
}

func (r *Repo) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schema {
		if _, err := r.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("postgres ensure schema: %w", err)
		}
	}
	return nil
}

func (r *Repo) CreateJob(ctx context.Context, job *model.ImportJob) error {
	rename, err := jsonb(job.RenameMap, len(job.RenameMap) == 0)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO import_jobs
		(id, organization_id, file_ref, filename, status, progress, row_count, error_message, rename_map, created_at, processing_started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		job.ID, job.OrganizationID, job.FileRef, job.Filename, string(job.Status), job.Progress,
		job.RowCount, job.ErrorMessage, rename, job.CreatedAt, job.ProcessingStartedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres create job %s: %w", job.ID, err)
	}
	return nil
}

func (r *Repo) UpdateJob(ctx context.Context, job *model.ImportJob) error {
	tag, err := r.pool.Exec(ctx, `UPDATE import_jobs SET
		status = $2, progress = $3, row_count = $4, error_message = $5, processing_started_at = $6, completed_at = $7
		WHERE id = $1`,
		job.ID, string(job.Status), job.Progress, job.RowCount, job.ErrorMessage, job.ProcessingStartedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres update job %s: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *Repo) GetJob(ctx context.Context, id string) (*model.ImportJob, error) {
	var (
		job    model.ImportJob
		status string
		rename []byte
	)
	err := r.pool.QueryRow(ctx, `SELECT id, organization_id, file_ref, filename, status, progress,
		row_count, error_message, rename_map, created_at, processing_started_at, completed_at
		FROM import_jobs WHERE id = $1`, id).Scan(
		&job.ID, &job.OrganizationID, &job.FileRef, &job.Filename, &status, &job.Progress,
		&job.RowCount, &job.ErrorMessage, &rename, &job.CreatedAt, &job.ProcessingStartedAt, &job.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres get job %s: %w", id, err)
	}
	job.Status = model.Status(status)
	if err := storage.DecodeJSON(string(rename), &job.RenameMap); err != nil {
		return nil, err
	}

	if job.Columns, err = r.loadColumns(ctx, id); err != nil {
		return nil, err
	}
	if job.Metrics, err = r.loadMetrics(ctx, id); err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *Repo) loadColumns(ctx context.Context, jobID string) ([]model.ColumnDescriptor, error) {
	rows, err := r.pool.Query(ctx, `SELECT idx, name, original_name, inferred_type, sample, nullable
		FROM import_columns WHERE job_id = $1 ORDER BY idx`, jobID)
	if err != nil {
		return nil, fmt.Errorf("postgres load columns: %w", err)
	}
	defer rows.Close()

	var out []model.ColumnDescriptor
	for rows.Next() {
		var (
			c      model.ColumnDescriptor
			typ    string
			sample []byte
		)
		if err := rows.Scan(&c.Index, &c.Name, &c.OriginalName, &typ, &sample, &c.Nullable); err != nil {
			return nil, err
		}
		c.InferredType = model.ColumnType(typ)
		if err := storage.DecodeJSON(string(sample), &c.Sample); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repo) loadMetrics(ctx context.Context, jobID string) (*model.IntegrityMetrics, error) {
	var (
		m            model.IntegrityMetrics
		recs, scores []byte
	)
	err := r.pool.QueryRow(ctx, `SELECT overall, completeness, uniqueness, consistency, recommendations, column_scores, computed_at
		FROM import_metrics WHERE job_id = $1`, jobID).Scan(
		&m.Overall, &m.Completeness, &m.Uniqueness, &m.Consistency, &recs, &scores, &m.ComputedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres load metrics: %w", err)
	}
	if err := storage.DecodeJSON(string(recs), &m.Recommendations); err != nil {
		return nil, err
	}
	m.Recommendations = storage.RecommendationsOrEmpty(m.Recommendations)
	if err := storage.DecodeJSON(string(scores), &m.Columns); err != nil {
		return nil, err
	}
	return &m, nil
}

// SaveColumns replaces the job's columns in one transaction.
func (r *Repo) SaveColumns(ctx context.Context, jobID string, cols []model.ColumnDescriptor) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockJob(ctx, tx, jobID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM import_columns WHERE job_id = $1`, jobID); err != nil {
			return fmt.Errorf("postgres clear columns: %w", err)
		}
		batch := &pgx.Batch{}
		for _, c := range cols {
			sample, err := jsonb(c.Sample, c.Sample == nil)
			if err != nil {
				return err
			}
			batch.Queue(`INSERT INTO import_columns (job_id, idx, name, original_name, inferred_type, sample, nullable)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				jobID, c.Index, c.Name, c.OriginalName, string(c.InferredType), sample, c.Nullable)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (r *Repo) SaveMetrics(ctx context.Context, jobID string, m *model.IntegrityMetrics) error {
	recs, err := jsonb(storage.RecommendationsOrEmpty(m.Recommendations), false)
	if err != nil {
		return err
	}
	scores, err := jsonb(m.Columns, len(m.Columns) == 0)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockJob(ctx, tx, jobID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO import_metrics
			(job_id, overall, completeness, uniqueness, consistency, recommendations, column_scores, computed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (job_id) DO UPDATE SET
				overall = EXCLUDED.overall,
				completeness = EXCLUDED.completeness,
				uniqueness = EXCLUDED.uniqueness,
				consistency = EXCLUDED.consistency,
				recommendations = EXCLUDED.recommendations,
				column_scores = EXCLUDED.column_scores,
				computed_at = EXCLUDED.computed_at`,
			jobID, m.Overall, m.Completeness, m.Uniqueness, m.Consistency, recs, scores, m.ComputedAt)
		if err != nil {
			return fmt.Errorf("postgres save metrics: %w", err)
		}
		return nil
	})
}

func lockJob(ctx context.Context, tx pgx.Tx, jobID string) error {
	var one int
	err := tx.QueryRow(ctx, `SELECT 1 FROM import_jobs WHERE id = $1 FOR UPDATE`, jobID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

func (r *Repo) DeleteRows(ctx context.Context, jobID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM import_rows WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("postgres delete rows: %w", err)
	}
	return nil
}

// AppendRows bulk-loads a batch with COPY.
func (r *Repo) AppendRows(ctx context.Context, jobID string, firstRow int64, rows []map[string]any) error {
	src, err := copyRows(jobID, firstRow, rows)
	if err != nil {
		return err
	}
	_, err = r.pool.CopyFrom(ctx, pgx.Identifier{"import_rows"}, []string{"job_id", "row_num", "data"}, pgx.CopyFromRows(src))
	if err != nil {
		return fmt.Errorf("postgres copy rows: %w", err)
	}
	return nil
}

func copyRows(jobID string, firstRow int64, rows []map[string]any) ([][]any, error) {
	out := make([][]any, len(rows))
	for i, row := range rows {
		b, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("encode row %d: %w", firstRow+int64(i), err)
		}
		out[i] = []any{jobID, firstRow + int64(i), b}
	}
	return out, nil
}

func (r *Repo) QueryRows(ctx context.Context, jobID string, q storage.RowQuery) (*storage.RowPage, error) {
	q = q.Normalize()
	countSQL, countArgs, selectSQL, args := buildRowQuery(jobID, q)

	var total int64
	if err := r.pool.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("postgres count rows: %w", err)
	}

	rows, err := r.pool.Query(ctx, selectSQL, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres query rows: %w", err)
	}
	defer rows.Close()

	var out []storage.Record
	for rows.Next() {
		var (
			rec  storage.Record
			data []byte
		)
		if err := rows.Scan(&rec.Num, &data); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &rec.Data); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return storage.NewRowPage(q, out, total), nil
}

// buildRowQuery returns the count statement with its args and the page
// statement with its args.
//
// Pure and deterministic so placeholder numbering is unit tested without a
// database.
func buildRowQuery(jobID string, q storage.RowQuery) (countSQL string, countArgs []any, selectSQL string, args []any) {
	args = []any{jobID}
	where := "job_id = $1"
	if q.Search != "" {
		args = append(args, storage.LikePattern(q.Search))
		where += " AND EXISTS (SELECT 1 FROM jsonb_each_text(data) e WHERE e.value ILIKE $" + strconv.Itoa(len(args)) + ")"
	}
	countSQL = "SELECT COUNT(*) FROM import_rows WHERE " + where
	countArgs = append([]any(nil), args...)

	order := "row_num"
	if q.Sort != "" {
		args = append(args, q.Sort)
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		order = "data->>$" + strconv.Itoa(len(args)) + " " + dir + " NULLS LAST, row_num"
	}

	args = append(args, q.PageSize, q.Offset())
	n := len(args)
	selectSQL = "SELECT row_num, data FROM import_rows WHERE " + where +
		" ORDER BY " + order +
		" LIMIT $" + strconv.Itoa(n-1) + " OFFSET $" + strconv.Itoa(n)
	return countSQL, countArgs, selectSQL, args
}

// jsonb encodes v for a JSONB parameter; null stores SQL NULL.
func jsonb(v any, null bool) ([]byte, error) {
	if null {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode jsonb: %w", err)
	}
	return b, nil
}
