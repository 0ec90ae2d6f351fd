package main

import (
	"context"
	"fmt"
	"math"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"toll-monitor/internal/assembler"
	"toll-monitor/internal/buffer"
	"toll-monitor/internal/config"
	"toll-monitor/internal/delivery"
	"toll-monitor/internal/frame"
	apphttp "toll-monitor/internal/http"
	"toll-monitor/internal/inference"
	"toll-monitor/internal/logger"
	"toll-monitor/internal/metrics"
	"toll-monitor/internal/scheduler"
)

const edgeService = "anvl-edge"

func edgeCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "edge",
		Short: "Run the edge detection pipeline for one toll booth",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadEdge(*configFile)
			if err != nil {
				return err
			}
			log, closer, err := logger.New(cfg.Log, edgeService)
			if err != nil {
				return err
			}
			defer closer.Close()
			return runEdge(cmd.Context(), cfg, log)
		},
	}
}

func runEdge(ctx context.Context, cfg *config.EdgeConfig, log zerolog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.NewEdgeMetrics(registry)
	if err != nil {
		return err
	}

	bufOpts := []buffer.Option{buffer.WithRecorder(m)}
	if cfg.Buffer.Path != "" {
		store, err := buffer.OpenSQLiteStore(cfg.Buffer.Path)
		if err != nil {
			return err
		}
		bufOpts = append(bufOpts, buffer.WithStore(store))
	}
	buf, err := buffer.New(ctx, cfg.Buffer.Capacity, log, bufOpts...)
	if err != nil {
		return err
	}
	defer buf.Close()

	source, err := frameSource(cfg, log)
	if err != nil {
		return err
	}

	stages := inference.NewClient(cfg.Inference.URL, cfg.Inference.Timeout, log, inference.WithRecorder(m))
	asm := assembler.New(stages, assembler.Config{
		TollBoothID: cfg.TollBoothID,
		CameraIDs:   cfg.CameraIDs,
		Thresholds:  cfg.Thresholds,
	}, log, assembler.WithRecorder(m))

	hub := delivery.NewHubClient(cfg.Hub.URL, cfg.Hub.APIKey, cfg.Hub.Timeout, nil)
	mgr := delivery.NewManager(hub, buf, delivery.Config{
		QueueSize:     cfg.Delivery.QueueSize,
		MaxRetries:    cfg.Delivery.MaxRetries,
		RetryDelay:    cfg.Delivery.RetryDelay,
		MaxRetryDelay: cfg.Delivery.MaxRetryDelay,
	}, log, delivery.WithRecorder(m))

	// The manager outlives ctx so that Stop can buffer queued events.
	mgrCtx, cancelMgr := context.WithCancel(context.Background())
	defer cancelMgr()
	mgr.Start(mgrCtx)

	engine := apphttp.NewEngine(edgeService, registry, nil, log, gin.H{"booth_id": cfg.TollBoothID})
	srvErr := watchServer(serve(ctx, newServer(cfg.Port, engine), log), cancel, log)

	sched := scheduler.New(source, asm, mgr, scheduler.Config{
		Interval:       cfg.DetectionInterval,
		CaptureTimeout: cfg.CaptureTimeout,
	}, log, scheduler.WithRecorder(m))

	log.Info().
		Int("toll_booth_id", cfg.TollBoothID).
		Strs("camera_ids", cfg.CameraIDs).
		Dur("detection_interval", cfg.DetectionInterval).
		Str("inference_url", cfg.Inference.URL).
		Str("hub_url", cfg.Hub.URL).
		Int("buffer_capacity", buf.Capacity()).
		Bool("durable_buffer", cfg.Buffer.Path != "").
		Msg("edge node starting")

	runErr := sched.Run(ctx)
	cancel()
	mgr.Stop()

	if err := <-srvErr; err != nil && runErr == nil {
		runErr = err
	}
	log.Info().Int("buffered", buf.Len()).Msg("edge node stopped")
	return runErr
}

// frameSource replays FRAME_DIR when set. Without it the edge has no camera
// and every capture is empty, so ticks are no-ops.
func frameSource(cfg *config.EdgeConfig, log zerolog.Logger) (frame.Source, error) {
	if cfg.FrameDir == "" {
		log.Warn().Msg("no frame_dir configured, captures will be empty")
		return frame.NewStaticSource(nil, cfg.CameraIDs), nil
	}
	step := int(math.Round(float64(cfg.FrameRate) * cfg.DetectionInterval.Seconds()))
	if step < 1 {
		step = 1
	}
	src, err := frame.NewDirectorySource(cfg.FrameDir, cfg.CameraIDs, step)
	if err != nil {
		return nil, fmt.Errorf("frame source: %w", err)
	}
	return src, nil
}
