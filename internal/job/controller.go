// Package job runs import analyses: it owns the job state machine, the time
// budget of a run and the persistence of its results.
package job

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"tabimport/internal/blob"
	"tabimport/internal/decoder"
	"tabimport/internal/errs"
	"tabimport/internal/logging"
	"tabimport/internal/metrics"
	"tabimport/internal/model"
	"tabimport/internal/progress"
	"tabimport/internal/storage"
)

// MaxProcessTime is the default wall-clock budget of one run.
const MaxProcessTime = 120 * time.Second

// progressSaveStep debounces progress writes to the row store; the progress
// store sees every update.
const progressSaveStep = 10

// finalizeTimeout bounds the terminal write, which runs on a fresh context
// because the run context may already be done.
const finalizeTimeout = 10 * time.Second

// ErrInvalidTransition is returned when a job is not in a state that allows
// the requested transition.
var ErrInvalidTransition = errors.New("job: invalid status transition")

// Config tunes the controller.
type Config struct {
	MaxProcessTime    time.Duration
	BatchSize         int
	PatternSampleRows int
	Decoder           decoder.Options
}

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{
		MaxProcessTime:    MaxProcessTime,
		BatchSize:         decoder.BatchSize,
		PatternSampleRows: 100,
	}
}

// RegisterRequest describes a file already present in the blob store.
type RegisterRequest struct {
	OrganizationID string
	FileRef        string
	Filename       string
	RenameMap      map[string]string
}

// Controller drives jobs through pending -> processing -> completed | error.
// It is safe for concurrent use; each run owns its job record.
type Controller struct {
	repo  storage.Repository
	blobs blob.Store
	prog  progress.Store
	cfg   Config
	log   *slog.Logger
	now   func() time.Time
}

// NewController wires the collaborators. A nil progress store uses an
// in-memory one; a nil logger discards.
func NewController(repo storage.Repository, blobs blob.Store, prog progress.Store, cfg Config, log *slog.Logger) *Controller {
	if prog == nil {
		prog = progress.NewMemory()
	}
	if cfg.MaxProcessTime <= 0 {
		cfg.MaxProcessTime = MaxProcessTime
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = decoder.BatchSize
	}
	return &Controller{
		repo:  repo,
		blobs: blobs,
		prog:  prog,
		cfg:   cfg,
		log:   logging.OrDiscard(log),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Register creates a pending job for a stored file.
func (c *Controller) Register(ctx context.Context, req RegisterRequest) (*model.ImportJob, error) {
	j := &model.ImportJob{
		ID:             uuid.NewString(),
		OrganizationID: req.OrganizationID,
		FileRef:        req.FileRef,
		Filename:       req.Filename,
		Status:         model.StatusPending,
		RenameMap:      req.RenameMap,
		CreatedAt:      c.now(),
	}
	if err := c.repo.CreateJob(ctx, j); err != nil {
		return nil, errs.E(errs.KindStorage, "job.register", err)
	}
	c.publish(ctx, j)
	c.log.Info("job registered", "job_id", j.ID, "file", j.Filename, "organization_id", j.OrganizationID)
	return j, nil
}

// Upload stores data in the blob store and registers a pending job for it.
func (c *Controller) Upload(ctx context.Context, orgID, filename string, data []byte, rename map[string]string) (*model.ImportJob, error) {
	ref, err := c.blobs.Upload(ctx, filename, data)
	if err != nil {
		return nil, err
	}
	return c.Register(ctx, RegisterRequest{
		OrganizationID: orgID,
		FileRef:        ref,
		Filename:       filename,
		RenameMap:      rename,
	})
}

// Get returns the job with its columns and metrics.
func (c *Controller) Get(ctx context.Context, id string) (*model.ImportJob, error) {
	return c.repo.GetJob(ctx, id)
}

// Status serves the polling view, from the progress store when it has the
// job and from the row store otherwise.
func (c *Controller) Status(ctx context.Context, id string) (model.StatusView, error) {
	if v, ok, err := c.prog.Get(ctx, id); err == nil && ok {
		return v, nil
	} else if err != nil {
		c.log.Warn("progress store read failed, falling back", "job_id", id, "error", err)
	}
	j, err := c.repo.GetJob(ctx, id)
	if err != nil {
		return model.StatusView{}, err
	}
	return j.View(), nil
}

// Rows pages through the materialized rows of a job.
func (c *Controller) Rows(ctx context.Context, id string, q storage.RowQuery) (*storage.RowPage, error) {
	if _, err := c.repo.GetJob(ctx, id); err != nil {
		return nil, err
	}
	return c.repo.QueryRows(ctx, id, q.Normalize())
}

// CheckRunnable reports ErrInvalidTransition when id cannot start a run now.
func (c *Controller) CheckRunnable(ctx context.Context, id string) error {
	j, err := c.repo.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if !j.CanTransition(model.StatusProcessing) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, model.StatusProcessing)
	}
	return nil
}

type outcome struct {
	res *Result
	err error
}

// Run processes one job to a terminal state. A pending job runs for the
// first time; a completed job is re-analyzed and its columns, metrics and
// rows are replaced.
//
// The pipeline races the time budget: when MaxProcessTime elapses first the
// job fails with the timeout message and the pipeline is canceled. Any
// failure leaves progress at its last value.
//
// The returned error is the cause the job failed with, or a transition or
// storage error when the job could not be started.
func (c *Controller) Run(ctx context.Context, id string) error {
	j, err := c.repo.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if !j.CanTransition(model.StatusProcessing) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, model.StatusProcessing)
	}

	started := c.now()
	j.Status = model.StatusProcessing
	j.Progress = 0
	j.RowCount = nil
	j.ErrorMessage = nil
	j.CompletedAt = nil
	j.ProcessingStartedAt = &started
	if err := c.repo.UpdateJob(ctx, j); err != nil {
		return errs.E(errs.KindStorage, "job.start", err)
	}
	c.publish(ctx, j)
	log := c.log.With("job_id", j.ID)
	log.Info("job processing", "file", j.Filename, "max_process_time", c.cfg.MaxProcessTime)

	runCtx, cancel := context.WithTimeoutCause(ctx, c.cfg.MaxProcessTime, errs.E(errs.KindTimeout, "job.run", nil))
	defer cancel()

	tr := &tracker{c: c, job: j}
	done := make(chan outcome, 1)
	go func() {
		res, err := c.process(runCtx, j.ID, j.FileRef, j.Filename, j.RenameMap, tr, log)
		done <- outcome{res: res, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-runCtx.Done():
		out.err = context.Cause(runCtx)
	}
	// A pipeline that lost the race reports a bare context error; surface the
	// cause instead.
	if out.err != nil && runCtx.Err() != nil {
		out.err = context.Cause(runCtx)
	}

	return c.finish(ctx, tr.close(), out, log)
}

// process is the body of a run. It must not touch the job record; progress
// goes through tr.
func (c *Controller) process(ctx context.Context, id, ref, filename string, rename map[string]string, tr *tracker, log *slog.Logger) (*Result, error) {
	kind, err := decoder.KindFromFilename(filename)
	if err != nil {
		return nil, err
	}

	dlStart := time.Now()
	data, err := c.blobs.Download(ctx, ref)
	metrics.RecordStep("download", metrics.StatusOf(err), time.Since(dlStart))
	if err != nil {
		if errs.KindOf(err) == errs.KindUnknown {
			err = errs.E(errs.KindStorage, "job.download", err)
		}
		return nil, err
	}
	log.Debug("file downloaded", "stage", "download", "bytes", len(data), "duration", time.Since(dlStart).Truncate(time.Millisecond))

	if err := c.repo.DeleteRows(ctx, id); err != nil {
		return nil, errs.E(errs.KindStorage, "job.rows", err)
	}

	decOpts := c.cfg.Decoder
	decOpts.Rename = rename
	opt := Options{
		BatchSize:         c.cfg.BatchSize,
		PatternSampleRows: c.cfg.PatternSampleRows,
		Decoder:           decOpts,
		Logger:            log,
		OnBatch: func(ctx context.Context, cols []decoder.Column, firstRow int64, rows []*decoder.Row) error {
			maps := make([]map[string]any, len(rows))
			for i, r := range rows {
				maps[i] = r.Map(cols)
			}
			if err := c.repo.AppendRows(ctx, id, firstRow, maps); err != nil {
				return errs.E(errs.KindStorage, "job.rows", err)
			}
			return nil
		},
		OnRowCount: func(n int64) { tr.setRowCount(ctx, n) },
	}

	res, err := Analyze(ctx, kind, bytes.NewReader(data), int64(len(data)), opt, func(pct int) { tr.set(ctx, pct) })
	if err != nil {
		return nil, err
	}

	persistStart := time.Now()
	if err := c.repo.SaveColumns(ctx, id, res.Columns); err != nil {
		return nil, errs.E(errs.KindStorage, "job.persist", err)
	}
	if err := c.repo.SaveMetrics(ctx, id, &res.Metrics); err != nil {
		return nil, errs.E(errs.KindStorage, "job.persist", err)
	}
	metrics.RecordStep("persist", "ok", time.Since(persistStart))
	return res, nil
}

func (c *Controller) finish(ctx context.Context, j *model.ImportJob, out outcome, log *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if out.err != nil {
		msg := errs.Message(out.err)
		j.Status = model.StatusError
		j.ErrorMessage = &msg
		log.Error("job failed", "kind", errs.KindOf(out.err).String(), "progress", j.Progress, "error", msg)
	} else {
		now := c.now()
		rows := out.res.RowCount
		j.Status = model.StatusCompleted
		j.Progress = 100
		j.RowCount = &rows
		j.CompletedAt = &now
		j.Columns = out.res.Columns
		j.Metrics = &out.res.Metrics
		log.Info("job completed", "rows", rows, "overall", out.res.Metrics.Overall, "recommendations", len(out.res.Metrics.Recommendations))
	}
	metrics.RecordJob(string(j.Status), time.Since(*j.ProcessingStartedAt))

	if err := c.repo.UpdateJob(ctx, j); err != nil {
		log.Error("persist terminal status", "status", j.Status, "error", err)
		if out.err == nil {
			out.err = errs.E(errs.KindStorage, "job.finish", err)
		}
	}
	c.publish(ctx, j)
	return out.err
}

func (c *Controller) publish(ctx context.Context, j *model.ImportJob) {
	if err := c.prog.Put(ctx, j.ID, j.View()); err != nil {
		c.log.Warn("progress store write failed", "job_id", j.ID, "error", err)
	}
}

// tracker serializes progress updates from a running pipeline with the
// controller's terminal write. After close, late updates from a pipeline that
// lost the timeout race are ignored.
type tracker struct {
	mu        sync.Mutex
	c         *Controller
	job       *model.ImportJob
	lastSaved int
	closed    bool
}

func (t *tracker) set(ctx context.Context, pct int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || pct <= t.job.Progress {
		return
	}
	t.job.Progress = pct
	t.c.publish(ctx, t.job)
	if pct-t.lastSaved >= progressSaveStep {
		t.lastSaved = pct
		if err := t.c.repo.UpdateJob(ctx, t.job); err != nil {
			t.c.log.Warn("progress write failed", "job_id", t.job.ID, "progress", pct, "error", err)
		}
	}
}

func (t *tracker) setRowCount(ctx context.Context, n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.job.RowCount = &n
	if err := t.c.repo.UpdateJob(ctx, t.job); err != nil {
		t.c.log.Warn("row count write failed", "job_id", t.job.ID, "error", err)
	}
}

func (t *tracker) close() *model.ImportJob {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return t.job
}
