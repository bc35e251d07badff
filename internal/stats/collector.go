// Package stats accumulates per-column statistics over decoded row batches.
//
// Columns are addressed by their stable index; the collector keeps one
// accumulator per index in a flat slice, so duplicate or renamed headers never
// merge two columns.
package stats

import (
	"github.com/cespare/xxhash/v2"

	"tabimport/internal/decoder"
	"tabimport/internal/inference"
	"tabimport/internal/model"
)

// DefaultPatternSampleRows bounds the pattern histogram to the leading rows.
const DefaultPatternSampleRows = 100

// Options tunes a Collector.
type Options struct {
	// PatternSampleRows is how many leading rows feed the pattern histogram.
	// <= 0 classifies every row.
	PatternSampleRows int
}

// DefaultOptions returns the standard collector settings.
func DefaultOptions() Options {
	return Options{PatternSampleRows: DefaultPatternSampleRows}
}

type colAcc struct {
	nulls    int64
	dups     int64
	seen     map[uint64]struct{}
	patterns map[model.PatternTag]int
	sampled  int
	first    any
}

// Collector is not safe for concurrent use; the pipeline feeds it from a
// single consumer goroutine.
type Collector struct {
	cols  []model.ColumnDescriptor
	accs  []colAcc
	rows  int64
	limit int
}

// NewCollector prepares accumulators for cols. The declared types drive
// pattern short-circuiting.
func NewCollector(cols []model.ColumnDescriptor, opt Options) *Collector {
	c := &Collector{
		cols:  cols,
		accs:  make([]colAcc, len(cols)),
		limit: opt.PatternSampleRows,
	}
	for i := range c.accs {
		c.accs[i].seen = make(map[uint64]struct{})
		c.accs[i].patterns = make(map[model.PatternTag]int)
	}
	return c
}

// Observe folds one row into the accumulators.
func (c *Collector) Observe(row *decoder.Row) {
	sample := c.limit <= 0 || c.rows < int64(c.limit)
	c.rows++

	for i := range c.cols {
		acc := &c.accs[i]
		var v any
		if idx := c.cols[i].Index; idx < len(row.V) {
			v = row.V[idx]
		}
		key, null := fingerprint(v)
		if null {
			acc.nulls++
			continue
		}
		if acc.first == nil {
			acc.first = v
		}
		if _, dup := acc.seen[key]; dup {
			acc.dups++
		} else {
			acc.seen[key] = struct{}{}
		}
		if sample {
			acc.patterns[inference.Classify(v, c.cols[i].InferredType)]++
			acc.sampled++
		}
	}
}

// ObserveBatch folds every row of batch.
func (c *Collector) ObserveBatch(batch []*decoder.Row) {
	for _, r := range batch {
		c.Observe(r)
	}
}

// Rows is the number of rows observed so far.
func (c *Collector) Rows() int64 { return c.rows }

// Result snapshots the statistics in column index order. The collector can
// keep observing afterwards.
func (c *Collector) Result() []model.ColumnStatistics {
	out := make([]model.ColumnStatistics, len(c.cols))
	for i, col := range c.cols {
		acc := &c.accs[i]
		hist := make(map[model.PatternTag]int, len(acc.patterns))
		for k, v := range acc.patterns {
			hist[k] = v
		}
		out[i] = model.ColumnStatistics{
			Index:          col.Index,
			Name:           col.Name,
			TotalRows:      c.rows,
			NullCount:      acc.nulls,
			DuplicateCount: acc.dups,
			DistinctCount:  int64(len(acc.seen)),
			Patterns:       hist,
			PatternSampled: acc.sampled,
		}
	}
	return out
}

// Describe returns the descriptors with Sample set to the first non-null
// value seen in each column and Nullable set when any null was observed.
func (c *Collector) Describe() []model.ColumnDescriptor {
	out := make([]model.ColumnDescriptor, len(c.cols))
	for i, col := range c.cols {
		col.Sample = c.accs[i].first
		col.Nullable = c.accs[i].nulls > 0
		out[i] = col
	}
	return out
}

// fingerprint hashes the comparable form of v. Empty strings count as null
// so CSV and spreadsheet inputs agree.
func fingerprint(v any) (uint64, bool) {
	if v == nil {
		return 0, true
	}
	s := inference.Stringify(v)
	if s == "" {
		return 0, true
	}
	return xxhash.Sum64String(s), false
}
