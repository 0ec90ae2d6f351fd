// Package notify fans newly stored detections out to live subscribers.
package notify

import (
	"context"

	"toll-monitor/internal/domain/detection"
)

// Publisher pushes one stored detection to a live feed.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, ev detection.DetectionEvent) error
	Close() error
}
