// Package assembler turns one camera frame into detection events by chaining
// the inference stages for every detected vehicle.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"toll-monitor/internal/domain/detection"
	"toll-monitor/internal/frame"
	"toll-monitor/internal/gate"
)

// Stages is the set of remote inference calls the assembler drives.
type Stages interface {
	DetectVehicles(ctx context.Context, frame []byte) ([]detection.VehicleDetection, error)
	ExtractPlate(ctx context.Context, crop []byte) (*detection.Plate, error)
	InferAttributes(ctx context.Context, crop []byte) (*detection.Attributes, error)
}

type Recorder interface {
	EventAssembled()
}

type Config struct {
	TollBoothID int
	CameraIDs   []string
	Thresholds  gate.Thresholds
}

type Assembler struct {
	stages   Stages
	cfg      Config
	log      zerolog.Logger
	recorder Recorder
	newID    func() string
	crop     func([]byte, detection.BBox) ([]byte, error)
}

type Option func(*Assembler)

func WithRecorder(r Recorder) Option {
	return func(a *Assembler) { a.recorder = r }
}

// WithIDGenerator overrides detection id generation.
func WithIDGenerator(fn func() string) Option {
	return func(a *Assembler) { a.newID = fn }
}

func New(stages Stages, cfg Config, log zerolog.Logger, opts ...Option) *Assembler {
	a := &Assembler{
		stages: stages,
		cfg:    cfg,
		log:    log.With().Str("component", "assembler").Logger(),
		newID:  uuid.NewString,
		crop:   frame.Crop,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble runs vehicle detection on f and builds one event per detected
// vehicle, in detection order. A vehicle detection failure aborts the whole
// frame; plate and attribute failures only leave those fields absent.
func (a *Assembler) Assemble(ctx context.Context, f frame.Frame) ([]detection.DetectionEvent, error) {
	vehicles, err := a.stages.DetectVehicles(ctx, f.Data)
	if err != nil {
		return nil, fmt.Errorf("vehicle detection failed: %w", err)
	}

	if len(vehicles) == 0 {
		a.log.Debug().Str("camera_id", f.CameraID).Msg("no vehicles detected in frame")
		return nil, nil
	}

	a.log.Info().
		Str("camera_id", f.CameraID).
		Int("vehicles", len(vehicles)).
		Msg("detected vehicles")

	events := make([]detection.DetectionEvent, 0, len(vehicles))
	for i, v := range vehicles {
		ev := a.assembleVehicle(ctx, f, i, v)
		events = append(events, ev)
		if a.recorder != nil {
			a.recorder.EventAssembled()
		}
	}
	return events, nil
}

func (a *Assembler) assembleVehicle(ctx context.Context, f frame.Frame, index int, v detection.VehicleDetection) detection.DetectionEvent {
	log := a.log.With().Str("camera_id", f.CameraID).Int("vehicle", index).Logger()

	ev := detection.DetectionEvent{
		DetectionID: a.newID(),
		Timestamp:   f.CapturedAt,
		TollBoothID: a.cfg.TollBoothID,
		CameraID:    a.cameraFor(f, v),
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if v.VehicleType != "" {
		vt := v.VehicleType
		ev.VehicleType = &vt
	}

	crop, err := a.cropVehicle(f.Data, v.BBox)
	if err != nil {
		log.Warn().Err(err).Interface("bbox", v.BBox).Msg("bbox outside frame, skipping enrichment")
		return ev
	}

	plate, err := a.stages.ExtractPlate(ctx, crop)
	if err != nil {
		log.Warn().Err(err).Msg("plate extraction failed, treating as no plate")
	} else if plate != nil {
		ev.LicensePlateText, ev.LicensePlateConfidence = gate.Text(plate.Text, plate.Confidence, a.cfg.Thresholds.Plate)
		if ev.LicensePlateText == nil {
			log.Debug().Str("plate", plate.Text).Msg("plate below confidence threshold")
		}
	}

	attrs, err := a.stages.InferAttributes(ctx, crop)
	if err != nil {
		log.Warn().Err(err).Msg("attribute inference failed, treating as unknown")
	} else if attrs != nil {
		ev.Make, ev.MakeConfidence = gate.Text(attrs.Make, attrs.MakeConfidence, a.cfg.Thresholds.Make)
		ev.Model, ev.ModelConfidence = gate.Text(attrs.Model, attrs.ModelConfidence, a.cfg.Thresholds.Model)
		ev.Color, ev.ColorConfidence = gate.Text(attrs.Color, attrs.ColorConfidence, a.cfg.Thresholds.Color)
	}

	log.Debug().
		Str("detection_id", ev.DetectionID).
		Bool("plate", ev.LicensePlateText != nil).
		Msg("assembled detection event")
	return ev
}

// cropVehicle returns the vehicle crop. Frames that cannot be decoded are
// passed through whole so enrichment still has an image to work on.
func (a *Assembler) cropVehicle(data []byte, box detection.BBox) ([]byte, error) {
	crop, err := a.crop(data, box)
	if err == nil {
		return crop, nil
	}
	if errors.Is(err, frame.ErrUndecodable) {
		a.log.Debug().Err(err).Msg("frame not decodable, using full frame")
		return data, nil
	}
	return nil, err
}

// cameraFor prefers the camera reported by the detector when it is one of
// ours, otherwise the camera the frame came from.
func (a *Assembler) cameraFor(f frame.Frame, v detection.VehicleDetection) string {
	if v.CameraID != "" && slices.Contains(a.cfg.CameraIDs, v.CameraID) {
		return v.CameraID
	}
	if f.CameraID != "" {
		return f.CameraID
	}
	if len(a.cfg.CameraIDs) > 0 {
		return a.cfg.CameraIDs[0]
	}
	return ""
}
