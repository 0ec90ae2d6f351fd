package detection

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func validEvent() DetectionEvent {
	return DetectionEvent{
		DetectionID:            uuid.NewString(),
		Timestamp:              time.Now(),
		TollBoothID:            1,
		CameraID:               "main_camera",
		VehicleType:            ptr("car"),
		LicensePlateText:       ptr("ABC123"),
		LicensePlateConfidence: ptr(0.93),
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*DetectionEvent)
		wantErr bool
	}{
		{"valid", func(*DetectionEvent) {}, false},
		{"all enrichment absent", func(e *DetectionEvent) {
			e.LicensePlateText, e.LicensePlateConfidence = nil, nil
		}, false},
		{"bad id", func(e *DetectionEvent) { e.DetectionID = "abc" }, true},
		{"no camera", func(e *DetectionEvent) { e.CameraID = "" }, true},
		{"no timestamp", func(e *DetectionEvent) { e.Timestamp = time.Time{} }, true},
		{"orphan plate text", func(e *DetectionEvent) { e.LicensePlateConfidence = nil }, true},
		{"orphan color", func(e *DetectionEvent) { e.Color = ptr("red") }, true},
		{"confidence above one", func(e *DetectionEvent) { e.LicensePlateConfidence = ptr(1.2) }, true},
		{"negative confidence", func(e *DetectionEvent) { e.MakeConfidence = ptr(-0.1) }, true},
		{"nan confidence", func(e *DetectionEvent) { e.ModelConfidence = ptr(math.NaN()) }, true},
		{"confidence without value", func(e *DetectionEvent) { e.ColorConfidence = ptr(0.2) }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := validEvent()
			tt.mutate(&ev)
			err := Validate(ev)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			assert.NoError(t, err)
		})
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify(nil))
	assert.ErrorIs(t, Classify(timeoutErr{}), ErrTimeout)
	assert.ErrorIs(t, Classify(errors.New("connection refused")), ErrTransport)

	bad := Classify(ErrBadResponse)
	assert.ErrorIs(t, bad, ErrBadResponse)
	assert.NotErrorIs(t, bad, ErrTransport)

	wrapped := &StageError{Stage: StagePlate, Err: Classify(timeoutErr{})}
	assert.Equal(t, ErrTimeout, Kind(wrapped))
	assert.Contains(t, wrapped.Error(), "license_plate stage")
}
