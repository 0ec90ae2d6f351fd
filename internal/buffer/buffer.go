// Package buffer holds detection events that could not be delivered to the
// hub. It is a bounded FIFO: when full, the oldest event is evicted to make
// room for the newest.
package buffer

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"toll-monitor/internal/domain/detection"
)

// Store persists buffer contents so they survive a restart.
type Store interface {
	Load(ctx context.Context) ([]detection.BufferedEvent, error)
	Append(ctx context.Context, ev detection.BufferedEvent) error
	Update(ctx context.Context, ev detection.BufferedEvent) error
	Delete(ctx context.Context, detectionID string) error
	Close() error
}

type Recorder interface {
	BufferEvicted()
	SetBufferDepth(n int)
}

// Buffer is safe for concurrent use. The in-memory sequence is the source of
// truth; the store mirrors it.
type Buffer struct {
	mu       sync.Mutex
	items    []detection.BufferedEvent
	capacity int
	store    Store
	log      zerolog.Logger
	recorder Recorder
}

type Option func(*Buffer)

// WithStore makes the buffer durable.
func WithStore(s Store) Option {
	return func(b *Buffer) { b.store = s }
}

func WithRecorder(r Recorder) Option {
	return func(b *Buffer) { b.recorder = r }
}

// New creates a buffer of the given capacity. With a store, previously
// persisted events are reloaded in FIFO order; any beyond capacity are evicted
// oldest first.
func New(ctx context.Context, capacity int, log zerolog.Logger, opts ...Option) (*Buffer, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: buffer capacity must be at least 1", detection.ErrInvalidInput)
	}
	b := &Buffer{
		capacity: capacity,
		log:      log.With().Str("component", "delivery_buffer").Logger(),
	}
	for _, opt := range opts {
		opt(b)
	}

	if b.store != nil {
		loaded, err := b.store.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load buffered events: %w", err)
		}
		b.items = append(b.items, loaded...)
		for len(b.items) > b.capacity {
			b.evictOldestLocked(ctx)
		}
		if len(loaded) > 0 {
			b.log.Info().Int("recovered", len(b.items)).Msg("recovered buffered events")
		}
	}
	b.reportDepthLocked()
	return b, nil
}

// Push appends ev, evicting the oldest entry first when the buffer is full.
// It reports whether an eviction happened. The returned error is only ever a
// persistence failure; the event is held in memory regardless.
func (b *Buffer) Push(ctx context.Context, ev detection.BufferedEvent) (evicted bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) >= b.capacity {
		b.evictOldestLocked(ctx)
		evicted = true
	}
	b.items = append(b.items, ev)
	b.reportDepthLocked()

	if b.store != nil {
		if err := b.store.Append(ctx, ev); err != nil {
			b.log.Error().Err(err).Str("detection_id", ev.ID()).Msg("failed to persist buffered event")
			return evicted, fmt.Errorf("failed to persist buffered event: %w", err)
		}
	}
	return evicted, nil
}

// PeekOldest returns a copy of the oldest event without removing it.
func (b *Buffer) PeekOldest() (detection.BufferedEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return detection.BufferedEvent{}, false
	}
	return b.items[0], true
}

// Update replaces the stored copy of an event that is still buffered.
func (b *Buffer) Update(ctx context.Context, ev detection.BufferedEvent) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := b.indexLocked(ev.ID())
	if i < 0 {
		return false
	}
	b.items[i] = ev
	if b.store != nil {
		if err := b.store.Update(ctx, ev); err != nil {
			b.log.Error().Err(err).Str("detection_id", ev.ID()).Msg("failed to persist attempt count")
		}
	}
	return true
}

// Remove deletes the event with the given detection id. It reports whether
// the event was present.
func (b *Buffer) Remove(ctx context.Context, detectionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := b.indexLocked(detectionID)
	if i < 0 {
		return false
	}
	b.items = append(b.items[:i], b.items[i+1:]...)
	b.reportDepthLocked()
	b.deleteFromStoreLocked(ctx, detectionID)
	return true
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

func (b *Buffer) Capacity() int {
	return b.capacity
}

// Snapshot returns a copy of the buffered events, oldest first.
func (b *Buffer) Snapshot() []detection.BufferedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]detection.BufferedEvent, len(b.items))
	copy(out, b.items)
	return out
}

func (b *Buffer) Close() error {
	if b.store == nil {
		return nil
	}
	return b.store.Close()
}

func (b *Buffer) evictOldestLocked(ctx context.Context) {
	oldest := b.items[0]
	b.items = b.items[1:]
	if b.recorder != nil {
		b.recorder.BufferEvicted()
	}
	b.log.Warn().
		Err(detection.ErrBufferOverflow).
		Str("detection_id", oldest.ID()).
		Int("capacity", b.capacity).
		Int("attempts", oldest.AttemptCount).
		Msg("buffer full, evicted oldest event")
	b.deleteFromStoreLocked(ctx, oldest.ID())
}

func (b *Buffer) deleteFromStoreLocked(ctx context.Context, detectionID string) {
	if b.store == nil {
		return
	}
	if err := b.store.Delete(ctx, detectionID); err != nil {
		b.log.Error().Err(err).Str("detection_id", detectionID).Msg("failed to delete persisted event")
	}
}

func (b *Buffer) indexLocked(detectionID string) int {
	for i := range b.items {
		if b.items[i].ID() == detectionID {
			return i
		}
	}
	return -1
}

func (b *Buffer) reportDepthLocked() {
	if b.recorder != nil {
		b.recorder.SetBufferDepth(len(b.items))
	}
}
