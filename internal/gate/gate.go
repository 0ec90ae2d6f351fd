// Package gate decides whether an inferred field is trusted enough to keep.
package gate

import (
	"strings"

	"toll-monitor/internal/domain/detection"
)

// Thresholds holds one independently configured threshold per field category.
type Thresholds struct {
	Plate float64
	Make  float64
	Model float64
	Color float64
}

// Pair gates a value together with its confidence so both are either present
// or absent. The value is kept when confidence is present, within [0, 1] and
// at least threshold.
func Pair[T any](value T, confidence *float64, threshold float64) (*T, *float64) {
	if !passes(confidence, threshold) {
		return nil, nil
	}
	c := *confidence
	return &value, &c
}

// Text gates a named field. Blank text carries no information and is absent
// whatever its confidence.
func Text(value string, confidence *float64, threshold float64) (*string, *float64) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	return Pair(value, confidence, threshold)
}

func passes(confidence *float64, threshold float64) bool {
	if confidence == nil || !detection.InRange(*confidence) {
		return false
	}
	return *confidence >= threshold
}
