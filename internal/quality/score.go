// Package quality turns column statistics into integrity scores and
// remediation recommendations. Everything here is pure: same statistics in,
// same metrics out.
package quality

import (
	"time"

	"tabimport/internal/model"
)

// Weights of the overall score.
const (
	WeightCompleteness = 0.4
	WeightUniqueness   = 0.3
	WeightConsistency  = 0.3
)

// neutralConsistency is used for a column with no classified values.
const neutralConsistency = 0.5

// ColumnScores computes completeness, uniqueness and consistency for one
// column. totalRows must be > 0.
func ColumnScores(s model.ColumnStatistics, totalRows int64) model.ColumnScore {
	total := float64(totalRows)
	nonNull := totalRows - s.NullCount
	denom := nonNull
	if denom < 1 {
		denom = 1
	}

	cs := model.ColumnScore{
		Index:        s.Index,
		Name:         s.Name,
		Completeness: float64(nonNull) / total,
		Uniqueness:   1 - float64(s.DuplicateCount)/float64(denom),
		Consistency:  neutralConsistency,
	}
	if tag, dominant, sum := s.DominantPattern(); sum > 0 {
		cs.Consistency = float64(dominant) / float64(sum)
		cs.DominantPattern = tag
	}
	return cs
}

// Score averages the per-column scores and combines them into the overall
// score. With no columns or no rows every metric is 0.
func Score(stats []model.ColumnStatistics, totalRows int64) model.IntegrityMetrics {
	m := model.IntegrityMetrics{
		Recommendations: []model.Recommendation{},
		ComputedAt:      time.Now().UTC(),
	}
	if len(stats) == 0 || totalRows <= 0 {
		return m
	}

	m.Columns = make([]model.ColumnScore, len(stats))
	for i, s := range stats {
		cs := ColumnScores(s, totalRows)
		m.Columns[i] = cs
		m.Completeness += cs.Completeness
		m.Uniqueness += cs.Uniqueness
		m.Consistency += cs.Consistency
	}
	n := float64(len(stats))
	m.Completeness /= n
	m.Uniqueness /= n
	m.Consistency /= n
	m.Overall = Overall(m.Completeness, m.Uniqueness, m.Consistency)
	m.Recommendations = Recommend(stats, totalRows)
	return m
}

// Overall is the weighted sum of the three dataset scores.
func Overall(completeness, uniqueness, consistency float64) float64 {
	return completeness*WeightCompleteness + uniqueness*WeightUniqueness + consistency*WeightConsistency
}
