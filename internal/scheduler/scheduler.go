// Package scheduler drives the edge detection loop at a fixed interval.
//
// Ticks never overlap: when a tick fires while the previous one is still in
// flight, it is skipped and counted. Cancelling the Run context stops new
// ticks immediately; an in-flight tick runs to completion on its own stage
// timeouts.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"toll-monitor/internal/domain/detection"
	"toll-monitor/internal/frame"
)

type Assembler interface {
	Assemble(ctx context.Context, f frame.Frame) ([]detection.DetectionEvent, error)
}

type Submitter interface {
	Submit(ev detection.DetectionEvent)
}

type Recorder interface {
	TickStarted()
	TickSkipped()
	ObserveTick(d time.Duration)
}

type Config struct {
	Interval       time.Duration
	CaptureTimeout time.Duration
}

type Scheduler struct {
	source    frame.Source
	assembler Assembler
	submitter Submitter
	cfg       Config
	log       zerolog.Logger
	recorder  Recorder

	busy atomic.Bool
	wg   sync.WaitGroup
}

type Option func(*Scheduler)

func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

func New(source frame.Source, assembler Assembler, submitter Submitter, cfg Config, log zerolog.Logger, opts ...Option) *Scheduler {
	if cfg.CaptureTimeout <= 0 {
		cfg.CaptureTimeout = 5 * time.Second
	}
	s := &Scheduler{
		source:    source,
		assembler: assembler,
		submitter: submitter,
		cfg:       cfg,
		log:       log.With().Str("component", "scheduler").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run fires a tick every interval until ctx is cancelled, then waits for the
// in-flight tick, if any, and returns.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.cfg.Interval <= 0 {
		return fmt.Errorf("%w: detection interval must be positive", detection.ErrInvalidInput)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.cfg.Interval).Msg("starting detection loop")

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("detection loop stopping, waiting for in-flight tick")
			s.wg.Wait()
			return nil
		case <-ticker.C:
			s.fire(ctx)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context) {
	if !s.busy.CompareAndSwap(false, true) {
		if s.recorder != nil {
			s.recorder.TickSkipped()
		}
		s.log.Warn().Msg("previous tick still in flight, skipping")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.busy.Store(false)
		s.Tick(context.WithoutCancel(ctx))
	}()
}

// Tick runs one capture, assembly and hand-off cycle. It returns the number
// of events handed to the submitter.
func (s *Scheduler) Tick(ctx context.Context) int {
	start := time.Now()
	if s.recorder != nil {
		s.recorder.TickStarted()
		defer func() { s.recorder.ObserveTick(time.Since(start)) }()
	}

	captureCtx, cancel := context.WithTimeout(ctx, s.cfg.CaptureTimeout)
	f, err := s.source.Capture(captureCtx)
	cancel()
	if err != nil {
		s.log.Error().Err(err).Msg("frame capture failed")
		return 0
	}
	if len(f.Data) == 0 {
		s.log.Warn().Str("camera_id", f.CameraID).Msg("no frame data captured")
		return 0
	}

	events, err := s.assembler.Assemble(ctx, f)
	if err != nil {
		s.log.Error().Err(err).Str("camera_id", f.CameraID).Msg("tick aborted")
		return 0
	}

	for _, ev := range events {
		s.submitter.Submit(ev)
	}

	s.log.Debug().
		Str("camera_id", f.CameraID).
		Int("events", len(events)).
		Dur("took", time.Since(start)).
		Msg("tick complete")
	return len(events)
}
