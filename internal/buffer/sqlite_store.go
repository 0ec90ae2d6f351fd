package buffer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"toll-monitor/internal/domain/detection"
)

// pendingEvent is one row of the local buffer table. Seq preserves FIFO order
// across restarts.
type pendingEvent struct {
	Seq          int64          `gorm:"primaryKey;autoIncrement"`
	DetectionID  string         `gorm:"not null;uniqueIndex"`
	Payload      datatypes.JSON `gorm:"not null"`
	EnqueuedAt   time.Time      `gorm:"not null"`
	AttemptCount int            `gorm:"not null;default:0"`
	LastError    string
}

func (pendingEvent) TableName() string {
	return "pending_events"
}

// SQLiteStore persists buffered events in a local sqlite file.
type SQLiteStore struct {
	db *gorm.DB
}

// OpenSQLiteStore opens (or creates) the buffer database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create buffer directory: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open buffer database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get buffer database handle: %w", err)
	}
	// sqlite allows a single writer
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&pendingEvent{}); err != nil {
		return nil, fmt.Errorf("failed to migrate buffer database: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) ([]detection.BufferedEvent, error) {
	var rows []pendingEvent
	if err := s.db.WithContext(ctx).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]detection.BufferedEvent, 0, len(rows))
	for _, row := range rows {
		var ev detection.DetectionEvent
		if err := json.Unmarshal(row.Payload, &ev); err != nil {
			return nil, fmt.Errorf("corrupt buffered event %s: %w", row.DetectionID, err)
		}
		out = append(out, detection.BufferedEvent{
			Event:        ev,
			EnqueuedAt:   row.EnqueuedAt,
			AttemptCount: row.AttemptCount,
			LastError:    row.LastError,
		})
	}
	return out, nil
}

func (s *SQLiteStore) Append(ctx context.Context, ev detection.BufferedEvent) error {
	payload, err := json.Marshal(ev.Event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	row := pendingEvent{
		DetectionID:  ev.ID(),
		Payload:      datatypes.JSON(payload),
		EnqueuedAt:   ev.EnqueuedAt,
		AttemptCount: ev.AttemptCount,
		LastError:    ev.LastError,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *SQLiteStore) Update(ctx context.Context, ev detection.BufferedEvent) error {
	return s.db.WithContext(ctx).
		Model(&pendingEvent{}).
		Where("detection_id = ?", ev.ID()).
		Updates(map[string]any{
			"attempt_count": ev.AttemptCount,
			"last_error":    ev.LastError,
		}).Error
}

func (s *SQLiteStore) Delete(ctx context.Context, detectionID string) error {
	return s.db.WithContext(ctx).
		Where("detection_id = ?", detectionID).
		Delete(&pendingEvent{}).Error
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
