package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"toll-monitor/internal/config"
	"toll-monitor/internal/db"
	apphttp "toll-monitor/internal/http"
	"toll-monitor/internal/logger"
	"toll-monitor/internal/metrics"
	"toll-monitor/internal/notify"
	"toll-monitor/internal/repository"
	"toll-monitor/internal/service"
)

const hubService = "anvl-hub"

func hubCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "hub",
		Short: "Run the central hub ingestion and search API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadHub(*configFile)
			if err != nil {
				return err
			}
			log, closer, err := logger.New(cfg.Log, hubService)
			if err != nil {
				return err
			}
			defer closer.Close()
			return runHub(cmd.Context(), cfg, log)
		},
	}
}

func runHub(ctx context.Context, cfg *config.HubConfig, log zerolog.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.NewHubMetrics(registry)
	if err != nil {
		return err
	}

	gdb, err := db.Open(cfg.Database, log)
	if err != nil {
		return err
	}
	if sqlDB, err := gdb.DB(); err == nil {
		defer sqlDB.Close()
	}

	publishers := livePublishers(ctx, cfg, log)
	defer func() {
		for _, p := range publishers {
			if err := p.Close(); err != nil {
				log.Warn().Err(err).Str("publisher", p.Name()).Msg("failed to close publisher")
			}
		}
	}()

	repo := repository.NewDetectionRepository(gdb)
	svc := service.NewDetectionService(repo, cfg.DedupTTL, log,
		service.WithRecorder(m),
		service.WithPublishers(publishers...),
	)

	stored, err := repo.Count(ctx)
	if err != nil {
		return err
	}

	engine := apphttp.NewEngine(hubService, registry, cfg.CORS.Origins, log, nil)
	apphttp.NewHandler(svc, log).Register(engine, apphttp.AuthMiddleware(cfg.Auth.APIKey, cfg.Auth.JWTSecret))

	log.Info().
		Int("port", cfg.Port).
		Int("publishers", len(publishers)).
		Int64("stored_detections", stored).
		Dur("dedup_ttl", cfg.DedupTTL).
		Msg("hub starting")

	return <-serve(ctx, newServer(cfg.Port, engine), log)
}

// livePublishers connects the optional live feeds. A feed that cannot be
// reached is logged and skipped; ingestion does not depend on it.
func livePublishers(ctx context.Context, cfg *config.HubConfig, log zerolog.Logger) []notify.Publisher {
	var publishers []notify.Publisher
	if cfg.Redis.URL != "" {
		p, err := notify.NewRedisPublisher(ctx, cfg.Redis.URL, cfg.Redis.Channel)
		if err != nil {
			log.Warn().Err(err).Msg("redis live feed disabled")
		} else {
			publishers = append(publishers, p)
		}
	}
	if cfg.MQTT.Broker != "" {
		p, err := notify.NewMQTTPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID, cfg.MQTT.TopicPrefix, log)
		if err != nil {
			log.Warn().Err(err).Msg("mqtt live feed disabled")
		} else {
			publishers = append(publishers, p)
		}
	}
	return publishers
}
