package job

import (
	"context"
	"io"
	"log/slog"
	"time"

	"tabimport/internal/decoder"
	"tabimport/internal/errs"
	"tabimport/internal/inference"
	"tabimport/internal/logging"
	"tabimport/internal/metrics"
	"tabimport/internal/model"
	"tabimport/internal/quality"
	"tabimport/internal/stats"
)

// decodeShare is the progress span covered by decoding; the rest is scoring
// and persistence, reported as 100 on completion.
const decodeShare = 95

// ProgressFunc receives the running percentage. Values never decrease.
type ProgressFunc func(pct int)

// BatchFunc receives every decoded batch before its rows are released.
// firstRow is the 1-based data row number of rows[0].
type BatchFunc func(ctx context.Context, cols []decoder.Column, firstRow int64, rows []*decoder.Row) error

// Options tunes one pipeline run. BatchSize <= 0 uses decoder.BatchSize;
// PatternSampleRows <= 0 classifies every row.
type Options struct {
	BatchSize         int
	PatternSampleRows int
	Decoder           decoder.Options
	Logger            *slog.Logger

	// OnBatch, when set, sees every batch (row materialization).
	OnBatch BatchFunc
	// OnRowCount, when set, is called once decoding has finished.
	OnRowCount func(n int64)
}

// Result is everything one pipeline run produces.
type Result struct {
	Columns  []model.ColumnDescriptor `json:"columns"`
	Stats    []model.ColumnStatistics `json:"statistics"`
	Metrics  model.IntegrityMetrics   `json:"metrics"`
	RowCount int64                    `json:"row_count"`
	Issues   int                      `json:"skipped_records"`
}

// Analyze decodes src, infers column types from the first data row, collects
// column statistics over every row and scores the dataset. It touches no
// storage; callers hook persistence in through Options.
//
// Decoding runs on its own goroutine and hands batches to the calling
// goroutine, which owns inference, statistics and the hooks. ctx
// cancellation stops both.
//
// Errors: UnsupportedFormat, EmptyDataset (no header or no data rows),
// DecodeError, or whatever OnBatch returned.
func Analyze(ctx context.Context, kind decoder.Kind, src io.Reader, size int64, opt Options, progress ProgressFunc) (*Result, error) {
	log := logging.OrDiscard(opt.Logger)
	if progress == nil {
		progress = func(int) {}
	}
	batchSize := opt.BatchSize
	if batchSize <= 0 {
		batchSize = decoder.BatchSize
	}

	decOpts := opt.Decoder
	userIssue := decOpts.OnIssue
	decOpts.OnIssue = func(line int, err error) {
		metrics.IncCounter(metrics.DecodeIssuesTotal, 1, nil)
		log.Warn("skipped malformed record", "line", line, "error", err)
		if userIssue != nil {
			userIssue(line, err)
		}
	}

	openStart := time.Now()
	r, err := decoder.NewReader(kind, src, size, decOpts)
	metrics.RecordStep("open", metrics.StatusOf(err), time.Since(openStart))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	cols := r.Columns()
	log.Debug("header decoded", "stage", "open", "columns", len(cols), "duration", time.Since(openStart).Truncate(time.Millisecond))

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	// Producer: pooled rows, ownership moves to the loop below.
	batchCh := make(chan decoder.Batch, 2)
	prodErr := make(chan error, 1)
	go func() {
		defer close(batchCh)
		prodErr <- decoder.StreamBatches(ctx, r, batchSize, batchCh)
	}()

	var (
		coll    *stats.Collector
		nextRow int64 = 1
		lastPct       = -1
		loopErr error
	)
	decodeStart := time.Now()
	for b := range batchCh {
		if loopErr != nil {
			// Drain so the producer can observe cancellation.
			decoder.FreeAll(b.Rows)
			continue
		}
		if coll == nil {
			descs := inference.InferColumns(cols, b.Rows[0])
			coll = stats.NewCollector(descs, stats.Options{PatternSampleRows: opt.PatternSampleRows})
			log.Debug("types inferred", "stage", "infer", "columns", len(descs))
		}
		coll.ObserveBatch(b.Rows)

		if opt.OnBatch != nil {
			if err := opt.OnBatch(ctx, cols, nextRow, b.Rows); err != nil {
				loopErr = err
				cancel(err)
			}
		}
		nextRow += int64(len(b.Rows))
		metrics.RecordBatch(len(b.Rows))
		decoder.FreeAll(b.Rows)

		if pct := int(b.Progress * decodeShare); pct > lastPct {
			lastPct = pct
			progress(pct)
		}
	}
	err = <-prodErr
	if loopErr != nil {
		err = loopErr
	}
	metrics.RecordStep("decode", metrics.StatusOf(err), time.Since(decodeStart))
	if err != nil {
		return nil, err
	}
	if coll == nil {
		return nil, errs.Ef(errs.KindEmptyDataset, "job.analyze", "no data rows after the header")
	}

	rows := coll.Rows()
	if opt.OnRowCount != nil {
		opt.OnRowCount(rows)
	}
	log.Info("decoded", "stage", "decode", "rows", rows, "skipped", r.Issues(), "duration", time.Since(decodeStart).Truncate(time.Millisecond))

	scoreStart := time.Now()
	colStats := coll.Result()
	m := quality.Score(colStats, rows)
	metrics.RecordStep("score", "ok", time.Since(scoreStart))
	log.Debug("scored", "stage", "score", "overall", m.Overall, "recommendations", len(m.Recommendations))

	return &Result{
		Columns:  coll.Describe(),
		Stats:    colStats,
		Metrics:  m,
		RowCount: rows,
		Issues:   r.Issues(),
	}, nil
}
