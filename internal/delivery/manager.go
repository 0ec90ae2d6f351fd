// Package delivery gets detection events to the central hub.
//
// Fresh events are sent directly. When that fails they are pushed into the
// delivery buffer, and a background drain loop retries the oldest buffered
// event with linear backoff until it is delivered or its attempt count
// exceeds the retry ceiling, at which point it is dropped and reported.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"toll-monitor/internal/buffer"
	"toll-monitor/internal/domain/detection"
)

var (
	errQueueFull = errors.New("delivery queue full")
	errStopped   = errors.New("delivery manager stopped")
)

// Sender performs one delivery attempt.
type Sender interface {
	Send(ctx context.Context, ev detection.DetectionEvent) error
}

type Recorder interface {
	DeliveryAttempted()
	Delivered(path string)
	Buffered()
	Dropped()
}

// State is the delivery state of a single event.
type State int

const (
	StatePending State = iota
	StateDelivering
	StateDelivered
	StateBuffered
	StateDropped
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateDelivering:
		return "Delivering"
	case StateDelivered:
		return "Delivered"
	case StateBuffered:
		return "Buffered"
	case StateDropped:
		return "Dropped"
	default:
		return "Unknown"
	}
}

// Transition describes an event entering a new state. Attempt is the
// buffered attempt count at that point.
type Transition struct {
	DetectionID string
	State       State
	Attempt     int
	Err         error
}

type Config struct {
	QueueSize     int
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

type Manager struct {
	sender   Sender
	buf      *buffer.Buffer
	cfg      Config
	log      zerolog.Logger
	recorder Recorder
	observer func(Transition)
	now      func() time.Time

	queue    chan detection.DetectionEvent
	mu       sync.RWMutex
	closed   bool
	stopping atomic.Bool
	stop     chan struct{}
	wg       sync.WaitGroup
	started  atomic.Bool
	stopOnce sync.Once
}

type Option func(*Manager)

func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithObserver registers a callback invoked on every state transition. It is
// called synchronously and must not block.
func WithObserver(fn func(Transition)) Option {
	return func(m *Manager) { m.observer = fn }
}

func NewManager(sender Sender, buf *buffer.Buffer, cfg Config, log zerolog.Logger, opts ...Option) *Manager {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 64
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.MaxRetryDelay < cfg.RetryDelay {
		cfg.MaxRetryDelay = cfg.RetryDelay
	}
	m := &Manager{
		sender: sender,
		buf:    buf,
		cfg:    cfg,
		log:    log.With().Str("component", "delivery_manager").Logger(),
		now:    time.Now,
		queue:  make(chan detection.DetectionEvent, cfg.QueueSize),
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the direct-send worker and the drain loop. Both stop when
// ctx is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	m.wg.Add(2)
	go m.sendWorker(ctx)
	go m.drainLoop(ctx)

	m.log.Info().
		Int("max_retries", m.cfg.MaxRetries).
		Dur("retry_delay", m.cfg.RetryDelay).
		Dur("max_retry_delay", m.cfg.MaxRetryDelay).
		Int("buffered", m.buf.Len()).
		Msg("delivery manager started")
}

// Submit hands an event over for delivery without blocking. If the send
// queue is full or the manager is stopped, the event goes straight to the
// buffer.
func (m *Manager) Submit(ev detection.DetectionEvent) {
	m.transition(ev.DetectionID, StatePending, 0, nil)

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		m.bufferFresh(context.Background(), ev, errStopped)
		return
	}
	select {
	case m.queue <- ev:
	default:
		m.log.Warn().Str("detection_id", ev.DetectionID).Msg("delivery queue full, buffering event")
		m.bufferFresh(context.Background(), ev, errQueueFull)
	}
}

// Stop stops accepting new work, buffers whatever is still queued, waits for
// in-flight deliveries to finish and returns.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.stopping.Store(true)
		m.mu.Lock()
		m.closed = true
		close(m.queue)
		m.mu.Unlock()
		close(m.stop)

		if m.started.Load() {
			m.wg.Wait()
		} else {
			for ev := range m.queue {
				m.bufferFresh(context.Background(), ev, errStopped)
			}
		}
		m.log.Info().Int("buffered", m.buf.Len()).Msg("delivery manager stopped")
	})
}

func (m *Manager) sendWorker(ctx context.Context) {
	defer m.wg.Done()
	for ev := range m.queue {
		if m.stopping.Load() || ctx.Err() != nil {
			m.bufferFresh(context.WithoutCancel(ctx), ev, errStopped)
			continue
		}
		m.deliverFresh(ctx, ev)
	}
}

func (m *Manager) drainLoop(ctx context.Context) {
	defer m.wg.Done()

	failures := 0
	timer := time.NewTimer(m.cfg.RetryDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-timer.C:
		}

		if m.DrainOnce(ctx) {
			failures = 0
		} else {
			failures++
		}
		timer.Reset(m.backoff(failures))
	}
}

// backoff grows linearly with consecutive failed drain cycles and is capped
// at MaxRetryDelay.
func (m *Manager) backoff(failures int) time.Duration {
	d := m.cfg.RetryDelay * time.Duration(failures+1)
	if d > m.cfg.MaxRetryDelay || d <= 0 {
		return m.cfg.MaxRetryDelay
	}
	return d
}

func (m *Manager) deliverFresh(ctx context.Context, ev detection.DetectionEvent) {
	m.transition(ev.DetectionID, StateDelivering, 0, nil)

	err := m.send(ctx, ev)
	if err == nil {
		if m.recorder != nil {
			m.recorder.Delivered("direct")
		}
		m.transition(ev.DetectionID, StateDelivered, 0, nil)
		m.log.Info().Str("detection_id", ev.DetectionID).Msg("sent detection to central hub")
		return
	}
	m.bufferFresh(context.WithoutCancel(ctx), ev, err)
}

func (m *Manager) bufferFresh(ctx context.Context, ev detection.DetectionEvent, cause error) {
	be := detection.BufferedEvent{
		Event:      ev,
		EnqueuedAt: m.now(),
		LastError:  cause.Error(),
	}
	if _, err := m.buf.Push(ctx, be); err != nil {
		m.log.Error().Err(err).Str("detection_id", ev.DetectionID).Msg("buffered event not persisted")
	}
	if m.recorder != nil {
		m.recorder.Buffered()
	}
	m.transition(ev.DetectionID, StateBuffered, 0, cause)
	m.log.Warn().
		Err(cause).
		Str("detection_id", ev.DetectionID).
		Int("buffer_depth", m.buf.Len()).
		Msg("direct delivery failed, event buffered")
}

// DrainOnce delivers buffered events oldest first until the buffer is empty
// or an attempt fails. It reports whether the cycle ended without failure.
func (m *Manager) DrainOnce(ctx context.Context) bool {
	for {
		select {
		case <-m.stop:
			return true
		default:
		}

		be, ok := m.buf.PeekOldest()
		if !ok {
			return true
		}

		m.transition(be.ID(), StateDelivering, be.AttemptCount, nil)
		err := m.send(ctx, be.Event)
		if err == nil {
			m.buf.Remove(context.WithoutCancel(ctx), be.ID())
			if m.recorder != nil {
				m.recorder.Delivered("drained")
			}
			m.transition(be.ID(), StateDelivered, be.AttemptCount, nil)
			m.log.Info().
				Str("detection_id", be.ID()).
				Int("attempts", be.AttemptCount).
				Dur("buffered_for", m.now().Sub(be.EnqueuedAt)).
				Msg("delivered buffered detection")
			continue
		}

		be.AttemptCount++
		be.LastError = err.Error()
		if be.AttemptCount > m.cfg.MaxRetries {
			m.drop(ctx, be, err)
			return false
		}

		if m.buf.Update(context.WithoutCancel(ctx), be) {
			m.transition(be.ID(), StateBuffered, be.AttemptCount, err)
		}
		m.log.Debug().
			Err(err).
			Str("detection_id", be.ID()).
			Int("attempts", be.AttemptCount).
			Msg("buffered delivery failed, will retry")
		return false
	}
}

func (m *Manager) drop(ctx context.Context, be detection.BufferedEvent, cause error) {
	if !m.buf.Remove(context.WithoutCancel(ctx), be.ID()) {
		// already evicted, and reported as such
		return
	}
	if m.recorder != nil {
		m.recorder.Dropped()
	}
	err := fmt.Errorf("%w: %d attempts: %w", detection.ErrDeliveryExhausted, be.AttemptCount, cause)
	m.transition(be.ID(), StateDropped, be.AttemptCount, err)
	m.log.Error().
		Err(err).
		Str("detection_id", be.ID()).
		Int("attempts", be.AttemptCount).
		Time("enqueued_at", be.EnqueuedAt).
		Msg("dropping detection after retry ceiling")
}

// send makes one attempt. It is detached from ctx cancellation so a shutdown
// lets it finish or time out on the client's own deadline.
func (m *Manager) send(ctx context.Context, ev detection.DetectionEvent) error {
	if m.recorder != nil {
		m.recorder.DeliveryAttempted()
	}
	return m.sender.Send(context.WithoutCancel(ctx), ev)
}

func (m *Manager) transition(id string, s State, attempt int, err error) {
	if m.observer != nil {
		m.observer(Transition{DetectionID: id, State: s, Attempt: attempt, Err: err})
	}
}
