package storage

import (
	"encoding/json"
	"fmt"

	"tabimport/internal/model"
)

// Backends keep nested values (rename map, recommendations, per-column
// scores, cell samples, row data) as JSON text so every dialect can store
// them in a plain text column.

// EncodeJSON marshals v; nil maps and slices encode as SQL NULL (nil).
func EncodeJSON(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case map[string]string:
		if x == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return string(b), nil
}

// DecodeJSON unmarshals s into dst; an empty string leaves dst untouched.
func DecodeJSON(s string, dst any) error {
	if s == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), dst); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

// RecommendationsOrEmpty never returns nil so API payloads carry [].
func RecommendationsOrEmpty(r []model.Recommendation) []model.Recommendation {
	if r == nil {
		return []model.Recommendation{}
	}
	return r
}
