package assembler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toll-monitor/internal/domain/detection"
	"toll-monitor/internal/frame"
	"toll-monitor/internal/gate"
)

func conf(v float64) *float64 { return &v }

// fakeStages answers per crop size so each vehicle can be told apart.
type fakeStages struct {
	mu          sync.Mutex
	vehicles    []detection.VehicleDetection
	vehiclesErr error
	plates      map[int]*detection.Plate
	plateErr    map[int]error
	attrs       *detection.Attributes
	attrsErr    error
	plateCalls  int
	attrCalls   int
}

func (f *fakeStages) DetectVehicles(_ context.Context, data []byte) ([]detection.VehicleDetection, error) {
	if len(data) == 0 {
		return nil, detection.ErrInvalidInput
	}
	return f.vehicles, f.vehiclesErr
}

func cropWidth(data []byte) int {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return -1
	}
	return cfg.Width
}

func (f *fakeStages) ExtractPlate(_ context.Context, crop []byte) (*detection.Plate, error) {
	f.mu.Lock()
	f.plateCalls++
	f.mu.Unlock()
	w := cropWidth(crop)
	if err := f.plateErr[w]; err != nil {
		return nil, err
	}
	return f.plates[w], nil
}

func (f *fakeStages) InferAttributes(context.Context, []byte) (*detection.Attributes, error) {
	f.mu.Lock()
	f.attrCalls++
	f.mu.Unlock()
	return f.attrs, f.attrsErr
}

type countRecorder struct{ n int }

func (c *countRecorder) EventAssembled() { c.n++ }

func pngFrame(t *testing.T) frame.Frame {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 400, 200))))
	return frame.Frame{CameraID: "lane_1", Data: buf.Bytes(), CapturedAt: time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)}
}

func testConfig() Config {
	return Config{
		TollBoothID: 7,
		CameraIDs:   []string{"lane_1", "lane_2"},
		Thresholds:  gate.Thresholds{Plate: 0.8, Make: 0.7, Model: 0.7, Color: 0.5},
	}
}

func twoVehicles() []detection.VehicleDetection {
	return []detection.VehicleDetection{
		{VehicleType: "car", BBox: detection.BBox{0, 0, 100, 80}, Confidence: 0.95},
		{VehicleType: "truck", BBox: detection.BBox{150, 20, 120, 100}, Confidence: 0.9},
	}
}

func fullAttrs() *detection.Attributes {
	return &detection.Attributes{
		Make: "Volvo", Model: "FH16", Color: "white",
		MakeConfidence: conf(0.9), ModelConfidence: conf(0.85), ColorConfidence: conf(0.99),
	}
}

func TestAssembleAllFieldsAboveThreshold(t *testing.T) {
	stages := &fakeStages{
		vehicles: twoVehicles(),
		plates: map[int]*detection.Plate{
			100: {Text: "AAA111", Confidence: conf(0.95)},
			120: {Text: "BBB222", Confidence: conf(0.81)},
		},
		attrs: fullAttrs(),
	}
	rec := &countRecorder{}
	a := New(stages, testConfig(), zerolog.Nop(), WithRecorder(rec))

	f := pngFrame(t)
	events, err := a.Assemble(context.Background(), f)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 2, rec.n)

	assert.Equal(t, "car", *events[0].VehicleType)
	assert.Equal(t, "AAA111", *events[0].LicensePlateText)
	assert.Equal(t, "truck", *events[1].VehicleType)
	assert.Equal(t, "BBB222", *events[1].LicensePlateText)

	ids := map[string]bool{}
	for _, ev := range events {
		require.NoError(t, detection.Validate(ev))
		assert.Equal(t, 7, ev.TollBoothID)
		assert.Equal(t, "lane_1", ev.CameraID)
		assert.Equal(t, f.CapturedAt, ev.Timestamp)
		assert.Equal(t, "Volvo", *ev.Make)
		assert.Equal(t, "FH16", *ev.Model)
		assert.Equal(t, "white", *ev.Color)
		assert.Nil(t, ev.ImageURL)
		ids[ev.DetectionID] = true
	}
	assert.Len(t, ids, 2, "detection ids must be unique")
}

func TestAssemblePlateTimeoutDegradesOneVehicle(t *testing.T) {
	stages := &fakeStages{
		vehicles: twoVehicles(),
		plates: map[int]*detection.Plate{
			120: {Text: "BBB222", Confidence: conf(0.9)},
		},
		plateErr: map[int]error{
			100: &detection.StageError{Stage: detection.StagePlate, Err: fmt.Errorf("%w: deadline", detection.ErrTimeout)},
		},
		attrs: fullAttrs(),
	}
	a := New(stages, testConfig(), zerolog.Nop())

	events, err := a.Assemble(context.Background(), pngFrame(t))
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Nil(t, events[0].LicensePlateText)
	assert.Nil(t, events[0].LicensePlateConfidence)
	assert.Equal(t, "Volvo", *events[0].Make, "attributes survive a plate failure")

	require.NotNil(t, events[1].LicensePlateText)
	assert.Equal(t, "BBB222", *events[1].LicensePlateText)
}

func TestAssembleGatesLowConfidence(t *testing.T) {
	stages := &fakeStages{
		vehicles: twoVehicles()[:1],
		plates:   map[int]*detection.Plate{100: {Text: "AAA111", Confidence: conf(0.79)}},
		attrs: &detection.Attributes{
			Make: "Saab", Model: "9-3", Color: "red",
			MakeConfidence: conf(0.7), ModelConfidence: conf(0.4), ColorConfidence: nil,
		},
	}
	a := New(stages, testConfig(), zerolog.Nop())

	events, err := a.Assemble(context.Background(), pngFrame(t))
	require.NoError(t, err)
	require.Len(t, events, 1)
	ev := events[0]

	assert.Nil(t, ev.LicensePlateText)
	assert.Nil(t, ev.LicensePlateConfidence)
	require.NotNil(t, ev.Make, "confidence equal to threshold is kept")
	assert.Equal(t, "Saab", *ev.Make)
	assert.Nil(t, ev.Model)
	assert.Nil(t, ev.ModelConfidence)
	assert.Nil(t, ev.Color)
	assert.NoError(t, detection.Validate(ev))
}

func TestAssembleEmptyPlateTextIsNoPlate(t *testing.T) {
	stages := &fakeStages{
		vehicles: twoVehicles()[:1],
		plates:   map[int]*detection.Plate{100: {Text: "", Confidence: conf(0.95)}},
		attrs: &detection.Attributes{
			Make: "Volvo", Model: " ", Color: "white",
			MakeConfidence: conf(0.9), ModelConfidence: conf(0.9), ColorConfidence: conf(0.9),
		},
	}
	a := New(stages, testConfig(), zerolog.Nop())

	events, err := a.Assemble(context.Background(), pngFrame(t))
	require.NoError(t, err)
	require.Len(t, events, 1)
	ev := events[0]

	assert.Nil(t, ev.LicensePlateText)
	assert.Nil(t, ev.LicensePlateConfidence)
	assert.Nil(t, ev.Model)
	assert.Nil(t, ev.ModelConfidence)
	require.NotNil(t, ev.Make)
	assert.Equal(t, "Volvo", *ev.Make)
	assert.NoError(t, detection.Validate(ev))
}

func TestAssembleAttributeFailure(t *testing.T) {
	stages := &fakeStages{
		vehicles: twoVehicles()[:1],
		plates:   map[int]*detection.Plate{100: {Text: "AAA111", Confidence: conf(0.9)}},
		attrsErr: &detection.StageError{Stage: detection.StageAttributes, Err: detection.ErrBadResponse},
	}
	a := New(stages, testConfig(), zerolog.Nop())

	events, err := a.Assemble(context.Background(), pngFrame(t))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "AAA111", *events[0].LicensePlateText)
	assert.Nil(t, events[0].Make)
	assert.Nil(t, events[0].Model)
	assert.Nil(t, events[0].Color)
}

func TestAssembleVehicleDetectionFailureAborts(t *testing.T) {
	stages := &fakeStages{vehiclesErr: &detection.StageError{Stage: detection.StageVehicles, Err: detection.ErrTransport}}
	a := New(stages, testConfig(), zerolog.Nop())

	events, err := a.Assemble(context.Background(), pngFrame(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, detection.ErrTransport)
	assert.Empty(t, events)
	assert.Zero(t, stages.plateCalls)
	assert.Zero(t, stages.attrCalls)
}

func TestAssembleNoVehicles(t *testing.T) {
	a := New(&fakeStages{}, testConfig(), zerolog.Nop())

	events, err := a.Assemble(context.Background(), pngFrame(t))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestAssembleBBoxOutsideFrame(t *testing.T) {
	stages := &fakeStages{
		vehicles: []detection.VehicleDetection{{VehicleType: "bus", BBox: detection.BBox{1000, 1000, 10, 10}}},
		attrs:    fullAttrs(),
	}
	a := New(stages, testConfig(), zerolog.Nop())

	events, err := a.Assemble(context.Background(), pngFrame(t))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "bus", *events[0].VehicleType)
	assert.Nil(t, events[0].Make)
	assert.Zero(t, stages.plateCalls)
}

func TestAssembleUndecodableFrameUsesWholeFrame(t *testing.T) {
	stages := &fakeStages{
		vehicles: twoVehicles()[:1],
		plates:   map[int]*detection.Plate{-1: {Text: "RAW001", Confidence: conf(0.99)}},
		attrs:    fullAttrs(),
	}
	a := New(stages, testConfig(), zerolog.Nop())

	events, err := a.Assemble(context.Background(), frame.Frame{CameraID: "lane_2", Data: []byte("raw-bytes")})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "RAW001", *events[0].LicensePlateText)
	assert.Equal(t, "lane_2", events[0].CameraID)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestAssembleCameraFromDetector(t *testing.T) {
	vehicles := twoVehicles()
	vehicles[0].CameraID = "lane_2"
	vehicles[1].CameraID = "unknown_cam"
	ids := []string{"id-1", "id-2"}
	next := 0
	a := New(&fakeStages{vehicles: vehicles}, testConfig(), zerolog.Nop(), WithIDGenerator(func() string {
		id := ids[next]
		next++
		return id
	}))

	events, err := a.Assemble(context.Background(), pngFrame(t))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "lane_2", events[0].CameraID)
	assert.Equal(t, "lane_1", events[1].CameraID)
	assert.Equal(t, "id-1", events[0].DetectionID)
	assert.Equal(t, "id-2", events[1].DetectionID)
}

func TestAssembleEmptyFrame(t *testing.T) {
	a := New(&fakeStages{}, testConfig(), zerolog.Nop())
	_, err := a.Assemble(context.Background(), frame.Frame{CameraID: "lane_1"})
	assert.True(t, errors.Is(err, detection.ErrInvalidInput))
}
