package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"toll-monitor/internal/domain/detection"
	"toll-monitor/internal/notify"
	"toll-monitor/internal/repository"
	"toll-monitor/internal/utils"
)

const (
	defaultLimit    = 50
	maxLimit        = 500
	publishTimeout  = 5 * time.Second
	defaultDedupTTL = 10 * time.Minute
)

// Recorder receives ingestion counters.
type Recorder interface {
	IncIngested()
	IncDuplicate()
	IncRejected()
	IncPublishFailure(publisher string)
}

type Repository interface {
	CreateIfAbsent(ctx context.Context, v *repository.Vehicle) (bool, error)
	GetByDetectionID(ctx context.Context, detectionID string) (*repository.Vehicle, error)
	Search(ctx context.Context, f repository.SearchFilter) ([]repository.Vehicle, error)
}

type DetectionService struct {
	repo       Repository
	seen       *cache.Cache
	publishers []notify.Publisher
	metrics    Recorder
	log        zerolog.Logger
}

type Option func(*DetectionService)

func WithPublishers(p ...notify.Publisher) Option {
	return func(s *DetectionService) { s.publishers = append(s.publishers, p...) }
}

func WithRecorder(r Recorder) Option {
	return func(s *DetectionService) { s.metrics = r }
}

// NewDetectionService builds the hub ingestion service. Detection ids seen
// within dedupTTL are answered from memory without touching the database.
func NewDetectionService(repo Repository, dedupTTL time.Duration, log zerolog.Logger, opts ...Option) *DetectionService {
	if dedupTTL <= 0 {
		dedupTTL = defaultDedupTTL
	}
	s := &DetectionService{
		repo: repo,
		seen: cache.New(dedupTTL, 2*dedupTTL),
		log:  log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type IngestResult struct {
	DetectionID string `json:"detection_id"`
	Duplicate   bool   `json:"duplicate"`
}

// Ingest stores ev once per detection id. Replays of an already stored id
// succeed with Duplicate set and leave the stored row untouched.
func (s *DetectionService) Ingest(ctx context.Context, ev detection.DetectionEvent) (*IngestResult, error) {
	if err := detection.Validate(ev); err != nil {
		s.incRejected()
		return nil, err
	}

	result := &IngestResult{DetectionID: ev.DetectionID}
	if _, found := s.seen.Get(ev.DetectionID); found {
		result.Duplicate = true
		s.incDuplicate()
		s.log.Debug().Str("detection_id", ev.DetectionID).Msg("duplicate detection served from cache")
		return result, nil
	}

	v, err := toVehicle(ev)
	if err != nil {
		return nil, err
	}
	created, err := s.repo.CreateIfAbsent(ctx, v)
	if err != nil {
		s.log.Error().
			Err(err).
			Str("detection_id", ev.DetectionID).
			Int("toll_booth_id", ev.TollBoothID).
			Msg("failed to store detection")
		return nil, fmt.Errorf("failed to store detection: %w", err)
	}
	s.seen.SetDefault(ev.DetectionID, struct{}{})

	if !created {
		result.Duplicate = true
		s.incDuplicate()
		s.log.Debug().Str("detection_id", ev.DetectionID).Msg("duplicate detection ignored")
		return result, nil
	}

	if s.metrics != nil {
		s.metrics.IncIngested()
	}
	s.log.Info().
		Str("detection_id", ev.DetectionID).
		Int("toll_booth_id", ev.TollBoothID).
		Str("camera_id", ev.CameraID).
		Str("plate", deref(v.NormalizedPlate)).
		Time("timestamp", ev.Timestamp).
		Msg("saved detection to database")

	s.publish(ctx, ev)
	return result, nil
}

func (s *DetectionService) publish(ctx context.Context, ev detection.DetectionEvent) {
	if len(s.publishers) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	for _, p := range s.publishers {
		if err := p.Publish(ctx, ev); err != nil {
			if s.metrics != nil {
				s.metrics.IncPublishFailure(p.Name())
			}
			s.log.Warn().
				Err(err).
				Str("publisher", p.Name()).
				Str("detection_id", ev.DetectionID).
				Msg("failed to publish detection")
		}
	}
}

// Get returns one stored detection by id.
func (s *DetectionService) Get(ctx context.Context, detectionID string) (*detection.DetectionEvent, error) {
	if _, err := uuid.Parse(detectionID); err != nil {
		return nil, fmt.Errorf("%w: detection_id must be a uuid", detection.ErrInvalidInput)
	}
	v, err := s.repo.GetByDetectionID(ctx, detectionID)
	if err != nil {
		if errors.Is(err, detection.ErrNotFound) {
			return nil, fmt.Errorf("%w: detection %s", detection.ErrNotFound, detectionID)
		}
		return nil, fmt.Errorf("failed to get detection: %w", err)
	}
	ev := v.ToEvent()
	return &ev, nil
}

// SearchParams carries raw query values; times are RFC 3339.
type SearchParams struct {
	From        *string
	To          *string
	TollBoothID *int
	Plate       *string
	Make        *string
	Model       *string
	Color       *string
	Limit       int
	Offset      int
}

func (s *DetectionService) Search(ctx context.Context, p SearchParams) ([]detection.DetectionEvent, error) {
	filter := repository.SearchFilter{
		TollBoothID: p.TollBoothID,
		Make:        nonEmpty(p.Make),
		Model:       nonEmpty(p.Model),
		Color:       nonEmpty(p.Color),
	}

	if p.Plate != nil {
		if normalized := utils.NormalizePlate(*p.Plate); normalized != "" {
			filter.NormalizedPlate = &normalized
		}
	}

	var err error
	if filter.From, err = parseTime("time_start", p.From); err != nil {
		return nil, err
	}
	if filter.To, err = parseTime("time_end", p.To); err != nil {
		return nil, err
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, fmt.Errorf("%w: time_end before time_start", detection.ErrInvalidInput)
	}

	filter.Limit, filter.Offset = page(p.Limit, p.Offset)
	return s.find(ctx, filter)
}

// History lists detections of one plate, newest first.
func (s *DetectionService) History(ctx context.Context, plate string, limit, offset int) ([]detection.DetectionEvent, error) {
	normalized := utils.NormalizePlate(plate)
	if normalized == "" {
		return nil, fmt.Errorf("%w: plate cannot be empty after normalization", detection.ErrInvalidInput)
	}
	filter := repository.SearchFilter{NormalizedPlate: &normalized}
	filter.Limit, filter.Offset = page(limit, offset)
	return s.find(ctx, filter)
}

func (s *DetectionService) find(ctx context.Context, filter repository.SearchFilter) ([]detection.DetectionEvent, error) {
	vehicles, err := s.repo.Search(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to search detections: %w", err)
	}
	result := make([]detection.DetectionEvent, 0, len(vehicles))
	for _, v := range vehicles {
		result = append(result, v.ToEvent())
	}
	return result, nil
}

func (s *DetectionService) incRejected() {
	if s.metrics != nil {
		s.metrics.IncRejected()
	}
}

func (s *DetectionService) incDuplicate() {
	if s.metrics != nil {
		s.metrics.IncDuplicate()
	}
}

func toVehicle(ev detection.DetectionEvent) (*repository.Vehicle, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal detection: %w", err)
	}
	v := &repository.Vehicle{
		DetectionID:            ev.DetectionID,
		Timestamp:              ev.Timestamp,
		TollBoothID:            ev.TollBoothID,
		CameraID:               ev.CameraID,
		VehicleType:            ev.VehicleType,
		LicensePlateText:       ev.LicensePlateText,
		LicensePlateConfidence: ev.LicensePlateConfidence,
		Make:                   ev.Make,
		MakeConfidence:         ev.MakeConfidence,
		Model:                  ev.Model,
		ModelConfidence:        ev.ModelConfidence,
		Color:                  ev.Color,
		ColorConfidence:        ev.ColorConfidence,
		ImageURL:               ev.ImageURL,
		RawPayload:             datatypes.JSON(raw),
	}
	if ev.LicensePlateText != nil {
		if normalized := utils.NormalizePlate(*ev.LicensePlateText); normalized != "" {
			v.NormalizedPlate = &normalized
		}
	}
	return v, nil
}

func parseTime(name string, value *string) (*time.Time, error) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(*value))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid %s time format", detection.ErrInvalidInput, name)
	}
	return &t, nil
}

func page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
