package detection

import (
	"fmt"
	"math"

	"github.com/google/uuid"
)

// Validate checks the invariants every event must hold before it is stored
// or sent: a uuid detection id, a camera, a capture time, confidences in
// [0, 1] and no named field without its confidence.
func Validate(ev DetectionEvent) error {
	if _, err := uuid.Parse(ev.DetectionID); err != nil {
		return fmt.Errorf("%w: detection_id must be a uuid", ErrInvalidInput)
	}
	if ev.CameraID == "" {
		return fmt.Errorf("%w: camera_id is required", ErrInvalidInput)
	}
	if ev.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrInvalidInput)
	}

	pairs := []struct {
		name       string
		value      *string
		confidence *float64
	}{
		{"license_plate_text", ev.LicensePlateText, ev.LicensePlateConfidence},
		{"make", ev.Make, ev.MakeConfidence},
		{"model", ev.Model, ev.ModelConfidence},
		{"color", ev.Color, ev.ColorConfidence},
	}
	for _, p := range pairs {
		if p.confidence != nil && !InRange(*p.confidence) {
			return fmt.Errorf("%w: %s confidence %v outside [0,1]", ErrInvalidInput, p.name, *p.confidence)
		}
		if p.value != nil && p.confidence == nil {
			return fmt.Errorf("%w: %s present without confidence", ErrInvalidInput, p.name)
		}
	}
	return nil
}

// InRange reports whether c is a usable confidence value.
func InRange(c float64) bool {
	return !math.IsNaN(c) && c >= 0 && c <= 1
}
