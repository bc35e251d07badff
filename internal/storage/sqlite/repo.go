package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"tabimport/internal/model"
	"tabimport/internal/storage"
)

// Repo implements storage.Repository for SQLite.
//
// SQLite has no timestamp type; timestamps are stored as RFC3339Nano TEXT in
// UTC, which round-trips exactly and sorts lexically. Nested values are JSON
// TEXT and queried with the JSON1 functions.
type Repo struct {
	db *sql.DB
}

var _ storage.Repository = (*Repo)(nil)

func init() {
	storage.Register("sqlite", Open)
}

// Open connects to cfg.DSN. An in-memory DSN is pinned to a single
// connection, otherwise every pooled connection would see its own database.
func Open(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if strings.Contains(cfg.DSN, ":memory:") || strings.Contains(cfg.DSN, "mode=memory") {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

var schema = []string{
	`CREATE TABLE IF NOT EXISTS import_jobs (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		file_ref TEXT NOT NULL,
		filename TEXT NOT NULL,
		status TEXT NOT NULL,
		progress INTEGER NOT NULL DEFAULT 0,
		row_count INTEGER,
		error_message TEXT,
		rename_map TEXT,
		created_at TEXT NOT NULL,
		processing_started_at TEXT,
		completed_at TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS import_columns (
		job_id TEXT NOT NULL REFERENCES import_jobs(id) ON DELETE CASCADE,
		idx INTEGER NOT NULL,
		name TEXT NOT NULL,
		original_name TEXT NOT NULL,
		inferred_type TEXT NOT NULL,
		sample TEXT,
		nullable INTEGER NOT NULL,
		PRIMARY KEY (job_id, idx)
	)`,
	`CREATE TABLE IF NOT EXISTS import_metrics (
		job_id TEXT PRIMARY KEY REFERENCES import_jobs(id) ON DELETE CASCADE,
		overall REAL NOT NULL,
		completeness REAL NOT NULL,
		uniqueness REAL NOT NULL,
		consistency REAL NOT NULL,
		recommendations TEXT NOT NULL,
		column_scores TEXT,
		computed_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS import_rows (
		job_id TEXT NOT NULL,
		row_num INTEGER NOT NULL,
		data TEXT NOT NULL,
		PRIMARY KEY (job_id, row_num)
	)`,
}

func (r *Repo) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schema {
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("sqlite ensure schema: %w", err)
		}
	}
	return nil
}

func (r *Repo) CreateJob(ctx context.Context, job *model.ImportJob) error {
	rename, err := storage.EncodeJSON(job.RenameMap)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO import_jobs
		(id, organization_id, file_ref, filename, status, progress, row_count, error_message, rename_map, created_at, processing_started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.OrganizationID, job.FileRef, job.Filename, string(job.Status), job.Progress,
		nullInt(job.RowCount), nullString(job.ErrorMessage), rename,
		formatTime(job.CreatedAt), nullTime(job.ProcessingStartedAt), nullTime(job.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite create job %s: %w", job.ID, err)
	}
	return nil
}

func (r *Repo) UpdateJob(ctx context.Context, job *model.ImportJob) error {
	res, err := r.db.ExecContext(ctx, `UPDATE import_jobs SET
		status = ?, progress = ?, row_count = ?, error_message = ?, processing_started_at = ?, completed_at = ?
		WHERE id = ?`,
		string(job.Status), job.Progress, nullInt(job.RowCount), nullString(job.ErrorMessage),
		nullTime(job.ProcessingStartedAt), nullTime(job.CompletedAt), job.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite update job %s: %w", job.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *Repo) GetJob(ctx context.Context, id string) (*model.ImportJob, error) {
	var (
		job                    model.ImportJob
		status                 string
		rowCount               sql.NullInt64
		errMsg, rename         sql.NullString
		created                string
		startedAt, completedAt sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `SELECT id, organization_id, file_ref, filename, status, progress,
		row_count, error_message, rename_map, created_at, processing_started_at, completed_at
		FROM import_jobs WHERE id = ?`, id).Scan(
		&job.ID, &job.OrganizationID, &job.FileRef, &job.Filename, &status, &job.Progress,
		&rowCount, &errMsg, &rename, &created, &startedAt, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get job %s: %w", id, err)
	}

	job.Status = model.Status(status)
	if rowCount.Valid {
		job.RowCount = &rowCount.Int64
	}
	if errMsg.Valid {
		job.ErrorMessage = &errMsg.String
	}
	if err := storage.DecodeJSON(rename.String, &job.RenameMap); err != nil {
		return nil, err
	}
	if job.CreatedAt, err = parseSQLiteTime(created); err != nil {
		return nil, err
	}
	if job.ProcessingStartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, err
	}
	if job.CompletedAt, err = parseNullTime(completedAt); err != nil {
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
	rows, err := r.db.QueryContext(ctx, `SELECT idx, name, original_name, inferred_type, sample, nullable
		FROM import_columns WHERE job_id = ? ORDER BY idx`, jobID)
	if err != nil {
		return nil, fmt.Errorf("sqlite load columns: %w", err)
	}
	defer rows.Close()

	var out []model.ColumnDescriptor
	for rows.Next() {
		var (
			c      model.ColumnDescriptor
			typ    string
			sample sql.NullString
		)
		if err := rows.Scan(&c.Index, &c.Name, &c.OriginalName, &typ, &sample, &c.Nullable); err != nil {
			return nil, err
		}
		c.InferredType = model.ColumnType(typ)
		if err := storage.DecodeJSON(sample.String, &c.Sample); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repo) loadMetrics(ctx context.Context, jobID string) (*model.IntegrityMetrics, error) {
	var (
		m        model.IntegrityMetrics
		recs     string
		scores   sql.NullString
		computed string
	)
	err := r.db.QueryRowContext(ctx, `SELECT overall, completeness, uniqueness, consistency, recommendations, column_scores, computed_at
		FROM import_metrics WHERE job_id = ?`, jobID).Scan(
		&m.Overall, &m.Completeness, &m.Uniqueness, &m.Consistency, &recs, &scores, &computed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite load metrics: %w", err)
	}
	if err := storage.DecodeJSON(recs, &m.Recommendations); err != nil {
		return nil, err
	}
	m.Recommendations = storage.RecommendationsOrEmpty(m.Recommendations)
	if err := storage.DecodeJSON(scores.String, &m.Columns); err != nil {
		return nil, err
	}
	if m.ComputedAt, err = parseSQLiteTime(computed); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *Repo) exists(ctx context.Context, tx *sql.Tx, jobID string) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM import_jobs WHERE id = ?`, jobID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

func (r *Repo) SaveColumns(ctx context.Context, jobID string, cols []model.ColumnDescriptor) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := r.exists(ctx, tx, jobID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM import_columns WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("sqlite clear columns: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO import_columns
		(job_id, idx, name, original_name, inferred_type, sample, nullable) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, c := range cols {
		sample, err := storage.EncodeJSON(c.Sample)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, jobID, c.Index, c.Name, c.OriginalName, string(c.InferredType), sample, c.Nullable); err != nil {
			return fmt.Errorf("sqlite insert column %s: %w", c.Name, err)
		}
	}
	return tx.Commit()
}

func (r *Repo) SaveMetrics(ctx context.Context, jobID string, m *model.IntegrityMetrics) error {
	recs, err := storage.EncodeJSON(storage.RecommendationsOrEmpty(m.Recommendations))
	if err != nil {
		return err
	}
	var scores any
	if len(m.Columns) > 0 {
		if scores, err = storage.EncodeJSON(m.Columns); err != nil {
			return err
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := r.exists(ctx, tx, jobID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO import_metrics
		(job_id, overall, completeness, uniqueness, consistency, recommendations, column_scores, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id) DO UPDATE SET
			overall = excluded.overall,
			completeness = excluded.completeness,
			uniqueness = excluded.uniqueness,
			consistency = excluded.consistency,
			recommendations = excluded.recommendations,
			column_scores = excluded.column_scores,
			computed_at = excluded.computed_at`,
		jobID, m.Overall, m.Completeness, m.Uniqueness, m.Consistency, recs, scores, formatTime(m.ComputedAt))
	if err != nil {
		return fmt.Errorf("sqlite save metrics: %w", err)
	}
	return tx.Commit()
}

func (r *Repo) DeleteRows(ctx context.Context, jobID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM import_rows WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("sqlite delete rows: %w", err)
	}
	return nil
}

func (r *Repo) AppendRows(ctx context.Context, jobID string, firstRow int64, rows []map[string]any) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO import_rows (job_id, row_num, data) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, row := range rows {
		data, err := storage.EncodeJSON(row)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, jobID, firstRow+int64(i), data); err != nil {
			return fmt.Errorf("sqlite insert row %d: %w", firstRow+int64(i), err)
		}
	}
	return tx.Commit()
}

func (r *Repo) QueryRows(ctx context.Context, jobID string, q storage.RowQuery) (*storage.RowPage, error) {
	q = q.Normalize()
	where, args := buildRowFilter(jobID, q)

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM import_rows WHERE `+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("sqlite count rows: %w", err)
	}

	order, orderArgs := buildRowOrder(q)
	args = append(args, orderArgs...)
	args = append(args, q.PageSize, q.Offset())
	rows, err := r.db.QueryContext(ctx, `SELECT row_num, data FROM import_rows WHERE `+where+` ORDER BY `+order+` LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query rows: %w", err)
	}
	defer rows.Close()

	var out []storage.Record
	for rows.Next() {
		var (
			rec  storage.Record
			data string
		)
		if err := rows.Scan(&rec.Num, &data); err != nil {
			return nil, err
		}
		if err := storage.DecodeJSON(data, &rec.Data); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return storage.NewRowPage(q, out, total), nil
}

// searchValue renders a json_each value as text; JSON booleans come back as
// 1 and 0 otherwise.
const searchValue = `CASE type WHEN 'true' THEN 'true' WHEN 'false' THEN 'false' ELSE value END`

// buildRowFilter is pure so tests can check the SQL without a database.
// Search matches cell values only, never column names.
func buildRowFilter(jobID string, q storage.RowQuery) (string, []any) {
	where := `job_id = ?`
	args := []any{jobID}
	if q.Search != "" {
		where += ` AND EXISTS (SELECT 1 FROM json_each(data) WHERE ` + searchValue + ` LIKE ? ESCAPE '\')`
		args = append(args, storage.LikePattern(q.Search))
	}
	return where, args
}

func buildRowOrder(q storage.RowQuery) (string, []any) {
	if q.Sort == "" {
		return `row_num`, nil
	}
	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}
	path := storage.JSONPath(q.Sort)
	// CAST keeps numbers and strings in one text ordering, matching the
	// other backends' ->> / JSON_VALUE text comparison.
	return `CAST(json_extract(data, ?) AS TEXT) ` + dir + ` NULLS LAST, row_num`, []any{path}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullInt(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseSQLiteTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// parseSQLiteTime accepts the RFC3339 text this backend writes plus the
// "YYYY-MM-DD HH:MM:SS" forms SQLite's own date functions produce (assumed
// UTC when no offset is present).
func parseSQLiteTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}

	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	if ts, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unsupported time format: %q", s)
}
