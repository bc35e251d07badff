// Package model holds the records shared by the import pipeline: jobs, column
// descriptors, per-column statistics and the integrity metrics derived from them.
//
// The package is a leaf: it imports nothing from the rest of the module so the
// decoder, inference, statistics, scoring, storage and job layers can all use
// the same types without cycles.
package model

import "time"

// Status is the lifecycle state of an ImportJob.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Terminal reports whether s is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusError:
		return true
	}
	return false
}

// ColumnType is the SQL-flavoured type inferred for a column.
type ColumnType string

const (
	TypeSmallint  ColumnType = "smallint"
	TypeInteger   ColumnType = "integer"
	TypeBigint    ColumnType = "bigint"
	TypeNumeric   ColumnType = "numeric"
	TypeDate      ColumnType = "date"
	TypeTimestamp ColumnType = "timestamp with time zone"
	TypeBoolean   ColumnType = "boolean"
	TypeText      ColumnType = "text"
)

// Numeric reports whether t belongs to the number family.
func (t ColumnType) Numeric() bool {
	switch t {
	case TypeSmallint, TypeInteger, TypeBigint, TypeNumeric:
		return true
	}
	return false
}

// Temporal reports whether t is date or timestamp.
func (t ColumnType) Temporal() bool {
	return t == TypeDate || t == TypeTimestamp
}

// PatternTag is the coarse shape of a single cell value.
type PatternTag string

const (
	PatternNull         PatternTag = "null"
	PatternNumeric      PatternTag = "numeric"
	PatternDate         PatternTag = "date"
	PatternBoolean      PatternTag = "boolean"
	PatternDigits       PatternTag = "digits"
	PatternText         PatternTag = "text"
	PatternAlphanumeric PatternTag = "alphanumeric"
	PatternEmail        PatternTag = "email"
	PatternPhone        PatternTag = "phone"
	PatternMixed        PatternTag = "mixed"
)

// PatternOrder is the declaration order of the tags. It is also the tie-break
// order when two tags share the dominant count.
var PatternOrder = []PatternTag{
	PatternNull,
	PatternNumeric,
	PatternDate,
	PatternBoolean,
	PatternDigits,
	PatternText,
	PatternAlphanumeric,
	PatternEmail,
	PatternPhone,
	PatternMixed,
}

// ColumnDescriptor describes one column of an imported file.
type ColumnDescriptor struct {
	Index        int        `json:"index"`
	Name         string     `json:"name"`
	OriginalName string     `json:"original_name"`
	InferredType ColumnType `json:"inferred_type"`
	Sample       any        `json:"sample,omitempty"`
	Nullable     bool       `json:"nullable"`
}

// ColumnStatistics is the per-column accumulator output.
type ColumnStatistics struct {
	Index          int                `json:"index"`
	Name           string             `json:"name"`
	TotalRows      int64              `json:"total_rows"`
	NullCount      int64              `json:"null_count"`
	DuplicateCount int64              `json:"duplicate_count"`
	DistinctCount  int64              `json:"distinct_count"`
	Patterns       map[PatternTag]int `json:"patterns"`
	PatternSampled int                `json:"pattern_sampled"`
}

// DominantPattern returns the most frequent tag, its count and the histogram
// total. Ties go to the tag declared first in PatternOrder.
func (s ColumnStatistics) DominantPattern() (PatternTag, int, int) {
	var (
		best  PatternTag
		count int
		sum   int
	)
	for _, tag := range PatternOrder {
		n := s.Patterns[tag]
		sum += n
		if n > count {
			best, count = tag, n
		}
	}
	return best, count, sum
}

// DistinctPatterns is the number of tags with a non-zero count.
func (s ColumnStatistics) DistinctPatterns() int {
	n := 0
	for _, c := range s.Patterns {
		if c > 0 {
			n++
		}
	}
	return n
}

// RecommendationType names a remediation.
type RecommendationType string

const (
	RecFillNulls         RecommendationType = "fill_nulls"
	RecHandleDuplicates  RecommendationType = "handle_duplicates"
	RecStandardizeFormat RecommendationType = "standardize_format"
)

// Recommendation is a human-readable remediation suggestion.
type Recommendation struct {
	Type        RecommendationType `json:"type"`
	Description string             `json:"description"`
	Impact      string             `json:"impact"`
	Column      string             `json:"column,omitempty"`
}

// ColumnScore carries the per-column components of the dataset metrics.
type ColumnScore struct {
	Index           int        `json:"index"`
	Name            string     `json:"name"`
	Completeness    float64    `json:"completeness"`
	Uniqueness      float64    `json:"uniqueness"`
	Consistency     float64    `json:"consistency"`
	DominantPattern PatternTag `json:"dominant_pattern,omitempty"`
}

// IntegrityMetrics is the scored summary of a dataset.
type IntegrityMetrics struct {
	Overall         float64          `json:"overall"`
	Completeness    float64          `json:"completeness"`
	Uniqueness      float64          `json:"uniqueness"`
	Consistency     float64          `json:"consistency"`
	Recommendations []Recommendation `json:"recommendations"`
	Columns         []ColumnScore    `json:"columns,omitempty"`
	ComputedAt      time.Time        `json:"computed_at"`
}

// ImportJob is one upload moving through the pipeline.
type ImportJob struct {
	ID                  string             `json:"id"`
	OrganizationID      string             `json:"organization_id"`
	FileRef             string             `json:"file_ref"`
	Filename            string             `json:"filename"`
	Status              Status             `json:"status"`
	Progress            int                `json:"progress"`
	RowCount            *int64             `json:"row_count,omitempty"`
	ErrorMessage        *string            `json:"error_message,omitempty"`
	RenameMap           map[string]string  `json:"rename_map,omitempty"`
	CreatedAt           time.Time          `json:"created_at"`
	ProcessingStartedAt *time.Time         `json:"processing_started_at,omitempty"`
	CompletedAt         *time.Time         `json:"completed_at,omitempty"`
	Columns             []ColumnDescriptor `json:"columns,omitempty"`
	Metrics             *IntegrityMetrics  `json:"metrics,omitempty"`
}

// CanTransition reports whether the job may move to the target state.
//
// pending -> processing -> {completed, error}. A completed job may go back to
// processing for a re-analysis; an errored job is final.
func (j *ImportJob) CanTransition(to Status) bool {
	switch j.Status {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusError
	case StatusCompleted:
		return to == StatusProcessing
	}
	return false
}

// StatusView is the polling payload.
type StatusView struct {
	Status       Status  `json:"status"`
	Progress     int     `json:"progress"`
	ErrorMessage *string `json:"error_message"`
}

// View returns the polling snapshot of j.
func (j *ImportJob) View() StatusView {
	return StatusView{Status: j.Status, Progress: j.Progress, ErrorMessage: j.ErrorMessage}
}
