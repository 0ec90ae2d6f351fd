package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"toll-monitor/internal/domain/detection"
)

type DetectionRepository struct {
	db *gorm.DB
}

func NewDetectionRepository(db *gorm.DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

// Vehicle is one stored detection. DetectionID is unique and doubles as the
// idempotency key for ingestion.
type Vehicle struct {
	ID                     int64     `gorm:"primaryKey"`
	DetectionID            string    `gorm:"not null;uniqueIndex"`
	Timestamp              time.Time `gorm:"not null;index"`
	TollBoothID            int       `gorm:"not null"`
	CameraID               string    `gorm:"not null"`
	VehicleType            *string
	LicensePlateText       *string
	NormalizedPlate        *string `gorm:"index"`
	LicensePlateConfidence *float64
	Make                   *string
	Model                  *string
	Color                  *string
	MakeConfidence         *float64
	ModelConfidence        *float64
	ColorConfidence        *float64
	ImageURL               *string
	RawPayload             datatypes.JSON
	CreatedAt              time.Time
}

func (Vehicle) TableName() string {
	return "vehicles"
}

func (v Vehicle) ToEvent() detection.DetectionEvent {
	return detection.DetectionEvent{
		DetectionID:            v.DetectionID,
		Timestamp:              v.Timestamp,
		TollBoothID:            v.TollBoothID,
		CameraID:               v.CameraID,
		VehicleType:            v.VehicleType,
		LicensePlateText:       v.LicensePlateText,
		LicensePlateConfidence: v.LicensePlateConfidence,
		Make:                   v.Make,
		MakeConfidence:         v.MakeConfidence,
		Model:                  v.Model,
		ModelConfidence:        v.ModelConfidence,
		Color:                  v.Color,
		ColorConfidence:        v.ColorConfidence,
		ImageURL:               v.ImageURL,
	}
}

// CreateIfAbsent inserts v unless a row with the same detection id exists.
// It reports whether a new row was written.
func (r *DetectionRepository) CreateIfAbsent(ctx context.Context, v *Vehicle) (bool, error) {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "detection_id"}},
			DoNothing: true,
		}).
		Create(v)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *DetectionRepository) GetByDetectionID(ctx context.Context, detectionID string) (*Vehicle, error) {
	var v Vehicle
	err := r.db.WithContext(ctx).Where("detection_id = ?", detectionID).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, detection.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

type SearchFilter struct {
	From            *time.Time
	To              *time.Time
	TollBoothID     *int
	NormalizedPlate *string
	Make            *string
	Model           *string
	Color           *string
	Limit           int
	Offset          int
}

func (r *DetectionRepository) Search(ctx context.Context, f SearchFilter) ([]Vehicle, error) {
	query := r.db.WithContext(ctx).Model(&Vehicle{})

	if f.From != nil {
		query = query.Where("timestamp >= ?", *f.From)
	}
	if f.To != nil {
		query = query.Where("timestamp <= ?", *f.To)
	}
	if f.TollBoothID != nil {
		query = query.Where("toll_booth_id = ?", *f.TollBoothID)
	}
	if f.NormalizedPlate != nil {
		query = query.Where("normalized_plate = ?", *f.NormalizedPlate)
	}
	if f.Make != nil {
		query = query.Where("LOWER(make) = LOWER(?)", *f.Make)
	}
	if f.Model != nil {
		query = query.Where("LOWER(model) = LOWER(?)", *f.Model)
	}
	if f.Color != nil {
		query = query.Where("LOWER(color) = LOWER(?)", *f.Color)
	}

	query = query.Order("timestamp DESC").Order("id DESC")

	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}
	if f.Offset > 0 {
		query = query.Offset(f.Offset)
	}

	var vehicles []Vehicle
	err := query.Find(&vehicles).Error
	return vehicles, err
}

func (r *DetectionRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Vehicle{}).Count(&n).Error
	return n, err
}
