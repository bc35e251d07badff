package mssql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"tabimport/internal/model"
	"tabimport/internal/storage"
)

// Repo implements storage.Repository for Microsoft SQL Server.
//
// Notes:
//   - Nested values and row documents are NVARCHAR(MAX) JSON, read back with
//     JSON_VALUE (SQL Server 2016+; a variable path needs 2017+).
//   - Timestamps are DATETIMEOFFSET.
//   - Row batches are split so one INSERT stays under the 2100 parameter
//     limit.
type Repo struct {
	db dbConn
}

var _ storage.Repository = (*Repo)(nil)

func init() {
	storage.Register("mssql", Open)
}

// rowsPerInsert keeps 3 params per row well below the 2100 limit.
const rowsPerInsert = 500

// Open connects with the "sqlserver" driver and validates connectivity.
func Open(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	raw.SetMaxOpenConns(32)
	raw.SetMaxIdleConns(32)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Repo{db: &sqlDB{db: raw}}, nil
}

// Close releases database resources held by this repository.
func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

var schema = []string{
	`IF OBJECT_ID(N'import_jobs', N'U') IS NULL
	CREATE TABLE import_jobs (
		id NVARCHAR(64) NOT NULL PRIMARY KEY,
		organization_id NVARCHAR(128) NOT NULL,
		file_ref NVARCHAR(1024) NOT NULL,
		filename NVARCHAR(512) NOT NULL,
		status NVARCHAR(16) NOT NULL,
		progress INT NOT NULL DEFAULT 0,
		row_count BIGINT NULL,
		error_message NVARCHAR(MAX) NULL,
		rename_map NVARCHAR(MAX) NULL,
		created_at DATETIMEOFFSET NOT NULL,
		processing_started_at DATETIMEOFFSET NULL,
		completed_at DATETIMEOFFSET NULL
	)`,
	`IF OBJECT_ID(N'import_columns', N'U') IS NULL
	CREATE TABLE import_columns (
		job_id NVARCHAR(64) NOT NULL REFERENCES import_jobs(id) ON DELETE CASCADE,
		idx INT NOT NULL,
		name NVARCHAR(512) NOT NULL,
		original_name NVARCHAR(512) NOT NULL,
		inferred_type NVARCHAR(64) NOT NULL,
		sample NVARCHAR(MAX) NULL,
		nullable BIT NOT NULL,
		PRIMARY KEY (job_id, idx)
	)`,
	`IF OBJECT_ID(N'import_metrics', N'U') IS NULL
	CREATE TABLE import_metrics (
		job_id NVARCHAR(64) NOT NULL PRIMARY KEY REFERENCES import_jobs(id) ON DELETE CASCADE,
		overall FLOAT NOT NULL,
		completeness FLOAT NOT NULL,
		uniqueness FLOAT NOT NULL,
		consistency FLOAT NOT NULL,
		recommendations NVARCHAR(MAX) NOT NULL,
		column_scores NVARCHAR(MAX) NULL,
		computed_at DATETIMEOFFSET NOT NULL
	)`,
	`IF OBJECT_ID(N'import_rows', N'U') IS NULL
	CREATE TABLE import_rows (
		job_id NVARCHAR(64) NOT NULL REFERENCES import_jobs(id) ON DELETE CASCADE,
		row_num BIGINT NOT NULL,
		data NVARCHAR(MAX) NOT NULL,
		PRIMARY KEY (job_id, row_num)
	)`,
}

// EnsureSchema is idempotent and safe to run on every start.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schema {
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("mssql ensure schema: %w", err)
		}
	}
	return nil
}

func (r *Repo) CreateJob(ctx context.Context, job *model.ImportJob) error {
	var rename any
	if len(job.RenameMap) > 0 {
		var err error
		if rename, err = storage.EncodeJSON(job.RenameMap); err != nil {
			return err
		}
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO import_jobs
		(id, organization_id, file_ref, filename, status, progress, row_count, error_message, rename_map, created_at, processing_started_at, completed_at)
		VALUES (@p1, @p2, @p3, @p4, @p5, @p6, @p7, @p8, @p9, @p10, @p11, @p12)`,
		job.ID, job.OrganizationID, job.FileRef, job.Filename, string(job.Status), job.Progress,
		nullInt(job.RowCount), nullString(job.ErrorMessage), rename,
		job.CreatedAt, nullTime(job.ProcessingStartedAt), nullTime(job.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("mssql create job %s: %w", job.ID, err)
	}
	return nil
}

func (r *Repo) UpdateJob(ctx context.Context, job *model.ImportJob) error {
	res, err := r.db.ExecContext(ctx, `UPDATE import_jobs SET
		status = @p2, progress = @p3, row_count = @p4, error_message = @p5, processing_started_at = @p6, completed_at = @p7
		WHERE id = @p1`,
		job.ID, string(job.Status), job.Progress, nullInt(job.RowCount), nullString(job.ErrorMessage),
		nullTime(job.ProcessingStartedAt), nullTime(job.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("mssql update job %s: %w", job.ID, err)
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
		startedAt, completedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `SELECT id, organization_id, file_ref, filename, status, progress,
		row_count, error_message, rename_map, created_at, processing_started_at, completed_at
		FROM import_jobs WHERE id = @p1`, id).Scan(
		&job.ID, &job.OrganizationID, &job.FileRef, &job.Filename, &status, &job.Progress,
		&rowCount, &errMsg, &rename, &job.CreatedAt, &startedAt, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mssql get job %s: %w", id, err)
	}
	job.Status = model.Status(status)
	if rowCount.Valid {
		job.RowCount = &rowCount.Int64
	}
	if errMsg.Valid {
		job.ErrorMessage = &errMsg.String
	}
	if startedAt.Valid {
		job.ProcessingStartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	if err := storage.DecodeJSON(rename.String, &job.RenameMap); err != nil {
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
		FROM import_columns WHERE job_id = @p1 ORDER BY idx`, jobID)
	if err != nil {
		return nil, fmt.Errorf("mssql load columns: %w", err)
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
		m      model.IntegrityMetrics
		recs   string
		scores sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `SELECT overall, completeness, uniqueness, consistency, recommendations, column_scores, computed_at
		FROM import_metrics WHERE job_id = @p1`, jobID).Scan(
		&m.Overall, &m.Completeness, &m.Uniqueness, &m.Consistency, &recs, &scores, &m.ComputedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mssql load metrics: %w", err)
	}
	if err := storage.DecodeJSON(recs, &m.Recommendations); err != nil {
		return nil, err
	}
	m.Recommendations = storage.RecommendationsOrEmpty(m.Recommendations)
	if err := storage.DecodeJSON(scores.String, &m.Columns); err != nil {
		return nil, err
	}
	return &m, nil
}

// lockJob takes an update lock on the job row so concurrent replaces of the
// same job serialize.
func lockJob(ctx context.Context, tx txConn, jobID string) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM import_jobs WITH (UPDLOCK, ROWLOCK) WHERE id = @p1`, jobID).Scan(&one)
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

	if err := lockJob(ctx, tx, jobID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM import_columns WHERE job_id = @p1`, jobID); err != nil {
		return fmt.Errorf("mssql clear columns: %w", err)
	}
	for _, c := range cols {
		sample, err := storage.EncodeJSON(c.Sample)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO import_columns
			(job_id, idx, name, original_name, inferred_type, sample, nullable)
			VALUES (@p1, @p2, @p3, @p4, @p5, @p6, @p7)`,
			jobID, c.Index, c.Name, c.OriginalName, string(c.InferredType), sample, c.Nullable); err != nil {
			return fmt.Errorf("mssql insert column %s: %w", c.Name, err)
		}
	}
	return tx.Commit()
}

// SaveMetrics replaces the metrics row (delete + insert under the job lock;
// MERGE adds nothing for a single-row upsert).
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

	if err := lockJob(ctx, tx, jobID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM import_metrics WHERE job_id = @p1`, jobID); err != nil {
		return fmt.Errorf("mssql clear metrics: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO import_metrics
		(job_id, overall, completeness, uniqueness, consistency, recommendations, column_scores, computed_at)
		VALUES (@p1, @p2, @p3, @p4, @p5, @p6, @p7, @p8)`,
		jobID, m.Overall, m.Completeness, m.Uniqueness, m.Consistency, recs, scores, m.ComputedAt); err != nil {
		return fmt.Errorf("mssql save metrics: %w", err)
	}
	return tx.Commit()
}

func (r *Repo) DeleteRows(ctx context.Context, jobID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM import_rows WHERE job_id = @p1`, jobID); err != nil {
		return fmt.Errorf("mssql delete rows: %w", err)
	}
	return nil
}

func (r *Repo) AppendRows(ctx context.Context, jobID string, firstRow int64, rows []map[string]any) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for start := 0; start < len(rows); start += rowsPerInsert {
		end := min(start+rowsPerInsert, len(rows))
		query, args, err := buildInsertRowsSQL(jobID, firstRow+int64(start), rows[start:end])
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("mssql insert rows %d-%d: %w", firstRow+int64(start), firstRow+int64(end-1), err)
		}
	}
	return tx.Commit()
}

// buildInsertRowsSQL renders one multi-row INSERT with @pN placeholders.
func buildInsertRowsSQL(jobID string, firstRow int64, rows []map[string]any) (string, []any, error) {
	var b strings.Builder
	b.WriteString("INSERT INTO import_rows (job_id, row_num, data) VALUES ")
	args := make([]any, 0, len(rows)*3)
	for i, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return "", nil, fmt.Errorf("encode row %d: %w", firstRow+int64(i), err)
		}
		if i > 0 {
			b.WriteString(", ")
		}
		n := len(args)
		b.WriteString("(@p" + strconv.Itoa(n+1) + ", @p" + strconv.Itoa(n+2) + ", @p" + strconv.Itoa(n+3) + ")")
		args = append(args, jobID, firstRow+int64(i), string(data))
	}
	return b.String(), args, nil
}

func (r *Repo) QueryRows(ctx context.Context, jobID string, q storage.RowQuery) (*storage.RowPage, error) {
	q = q.Normalize()
	countSQL, countArgs, selectSQL, args := buildRowQuery(jobID, q)

	var total int64
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("mssql count rows: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, selectSQL, args...)
	if err != nil {
		return nil, fmt.Errorf("mssql query rows: %w", err)
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

// buildRowQuery mirrors the Postgres builder. SQL Server has no NULLS LAST,
// so null keys are pushed down with a CASE term.
func buildRowQuery(jobID string, q storage.RowQuery) (countSQL string, countArgs []any, selectSQL string, args []any) {
	args = []any{jobID}
	where := "job_id = @p1"
	if q.Search != "" {
		args = append(args, storage.LikePattern(q.Search))
		where += " AND EXISTS (SELECT 1 FROM OPENJSON(data) WHERE value LIKE @p" + strconv.Itoa(len(args)) + ` ESCAPE '\')`
	}
	countSQL = "SELECT COUNT(*) FROM import_rows WHERE " + where
	countArgs = append([]any(nil), args...)

	order := "row_num"
	if q.Sort != "" {
		args = append(args, storage.JSONPath(q.Sort))
		p := "@p" + strconv.Itoa(len(args))
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		order = "CASE WHEN JSON_VALUE(data, " + p + ") IS NULL THEN 1 ELSE 0 END, JSON_VALUE(data, " + p + ") " + dir + ", row_num"
	}

	args = append(args, q.Offset(), q.PageSize)
	n := len(args)
	selectSQL = "SELECT row_num, data FROM import_rows WHERE " + where +
		" ORDER BY " + order +
		" OFFSET @p" + strconv.Itoa(n-1) + " ROWS FETCH NEXT @p" + strconv.Itoa(n) + " ROWS ONLY"
	return countSQL, countArgs, selectSQL, args
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
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

// dbConn is a small interface over *sql.DB used to make this package testable.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) rowScanner
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is a small interface over *sql.Tx.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) rowScanner
	Commit() error
	Rollback() error
}

// rowScanner is a narrow adapter over *sql.Row.Scan.
type rowScanner interface {
	Scan(dest ...any) error
}

type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

func (s *sqlDB) QueryRowContext(ctx context.Context, query string, args ...any) rowScanner {
	return s.db.QueryRowContext(ctx, query, args...)
}

func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: tx}, nil
}

func (s *sqlDB) Close() error { return s.db.Close() }

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

func (t *sqlTx) QueryRowContext(ctx context.Context, query string, args ...any) rowScanner {
	return t.tx.QueryRowContext(ctx, query, args...)
}

func (t *sqlTx) Commit() error   { return t.tx.Commit() }
func (t *sqlTx) Rollback() error { return t.tx.Rollback() }

var (
	_ dbConn = (*sqlDB)(nil)
	_ txConn = (*sqlTx)(nil)
)
