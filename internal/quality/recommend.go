package quality

import (
	"fmt"

	"tabimport/internal/model"
)

// Thresholds for the recommendation rules.
const (
	NullRatioThreshold      = 0.10 // strictly greater triggers fill_nulls
	DuplicateRatioThreshold = 0.20 // strictly greater triggers handle_duplicates
	ConsistencyThreshold    = 0.80 // strictly lower triggers standardize_format
)

// Recommend evaluates the rules per column. The result is grouped by type in
// the order fill_nulls, handle_duplicates, standardize_format, and by column
// index inside each group.
func Recommend(stats []model.ColumnStatistics, totalRows int64) []model.Recommendation {
	out := []model.Recommendation{}
	if totalRows <= 0 {
		return out
	}
	total := float64(totalRows)

	for _, s := range stats {
		ratio := float64(s.NullCount) / total
		if ratio > NullRatioThreshold {
			out = append(out, model.Recommendation{
				Type:        model.RecFillNulls,
				Column:      s.Name,
				Description: fmt.Sprintf("Column %q has %.1f%% empty values (%d of %d rows).", s.Name, ratio*100, s.NullCount, totalRows),
				Impact:      fmt.Sprintf("Filling or defaulting the missing values can raise completeness for this column by up to %.1f%%.", ratio*100),
			})
		}
	}

	for _, s := range stats {
		if float64(s.DuplicateCount) > total*DuplicateRatioThreshold {
			ratio := float64(s.DuplicateCount) / total
			out = append(out, model.Recommendation{
				Type:        model.RecHandleDuplicates,
				Column:      s.Name,
				Description: fmt.Sprintf("Column %q repeats values in %.1f%% of rows (%d duplicates).", s.Name, ratio*100, s.DuplicateCount),
				Impact:      "Deduplicating or confirming the column is not a key avoids double counting in downstream analysis.",
			})
		}
	}

	for _, s := range stats {
		tag, dominant, sum := s.DominantPattern()
		if sum == 0 || s.DistinctPatterns() <= 1 {
			continue
		}
		share := float64(dominant) / float64(sum)
		if share < ConsistencyThreshold {
			out = append(out, model.Recommendation{
				Type:        model.RecStandardizeFormat,
				Column:      s.Name,
				Description: fmt.Sprintf("Column %q mixes %d value formats; the most common (%s) covers only %.1f%% of sampled values.", s.Name, s.DistinctPatterns(), tag, share*100),
				Impact:      fmt.Sprintf("Standardizing on the %s format can raise consistency for this column to 100%%.", tag),
			})
		}
	}
	return out
}
