// Danmulens - Live Danmaku Stream Analytics
// Copyright 2026 Danmulens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/danmulens/danmulens

// Package main is the entry point for the Danmulens server.
//
// Danmulens ingests live danmaku (bullet comment) streams from broadcast
// rooms, scores comment sentiment, maintains rolling per-room statistics
// and wordclouds, and fans the results out to dashboard viewers over
// websockets. An optional NATS JetStream pipeline archives every event
// for offline analysis.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: Koanf v2 layered sources (defaults, config.yaml, env)
//  2. Logging: zerolog, configured from the loaded settings
//  3. Archive (optional): embedded NATS server, JetStream stream, publisher
//  4. Analysis: sentiment scorer behind a circuit breaker, tokenizer
//  5. Room coordinator: session registry with the concurrent-room limit
//  6. HTTP server: Chi REST API, websocket attach points, /metrics
//  7. Supervisor tree: suture root with pipeline and API layers
//
// # Configuration
//
// Settings are loaded via Koanf v2 with layered sources (highest priority
// wins): environment variables, config file (config.yaml), built-in
// defaults. See internal/config for the full key list.
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: rooms drain,
// viewers receive a final disconnected status, the archive queue flushes,
// and the HTTP server stops accepting connections with a bounded timeout.
//
// # Example Usage
//
// Track rooms from the command line:
//
//	export UPSTREAM_BASE_URL=wss://broadcastlv.example.com/sub
//	export LIVE_MAX_ROOMS=4
//	./danmulens
//	curl -X POST localhost:8086/api/v1/live/rooms -d '{"room_id":"92613"}'
//
// With the archive pipeline on an embedded NATS server:
//
//	export ARCHIVE_ENABLED=true
//	export ARCHIVE_NATS_EMBEDDED=true
//	export ARCHIVE_STORE_DIR=/var/lib/danmulens/jetstream
//	./danmulens
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmulens/danmulens/internal/analysis"
	"github.com/danmulens/danmulens/internal/api"
	"github.com/danmulens/danmulens/internal/archive"
	"github.com/danmulens/danmulens/internal/config"
	"github.com/danmulens/danmulens/internal/logging"
	"github.com/danmulens/danmulens/internal/room"
	"github.com/danmulens/danmulens/internal/supervisor"
	"github.com/danmulens/danmulens/internal/supervisor/services"
	"github.com/danmulens/danmulens/internal/upstream"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("upstream", cfg.Upstream.BaseURL).
		Int("max_rooms", cfg.Live.MaxRooms).
		Bool("archive", cfg.Archive.Enabled).
		Msg("Starting Danmulens")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Archive pipeline, or a no-op sink when disabled.
	var archiver room.Archiver = room.NopArchiver{}
	var archivePublisher *archive.Publisher
	if cfg.Archive.Enabled {
		if cfg.Archive.EmbeddedServer {
			embedded, err := archive.NewEmbeddedServer(cfg.Archive)
			if err != nil {
				logging.Fatal().Err(err).Msg("Failed to start embedded NATS server")
			}
			defer func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				if err := embedded.Shutdown(shutdownCtx); err != nil {
					logging.Error().Err(err).Msg("Embedded NATS shutdown failed")
				}
			}()
			cfg.Archive.URL = embedded.ClientURL()
			logging.Info().Str("url", cfg.Archive.URL).Msg("Embedded NATS server running")
		}

		if err := archive.EnsureStream(ctx, cfg.Archive); err != nil {
			logging.Fatal().Err(err).Str("stream", cfg.Archive.Stream).Msg("Failed to provision JetStream stream")
		}

		archivePublisher, err = archive.NewPublisher(cfg.Archive)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to create archive publisher")
		}
		archiver = archivePublisher
		logging.Info().Str("stream", cfg.Archive.Stream).Msg("Event archiving enabled")
	} else {
		logging.Info().Msg("Event archiving disabled")
	}

	// Sentiment analysis behind a circuit breaker; scorer failures
	// degrade comments to neutral instead of dropping them.
	tagger := analysis.NewTagger(analysis.NewLexiconScorer(), cfg.Analysis)

	coordinator := room.NewCoordinator(room.CoordinatorConfig{
		MaxRooms:      cfg.Live.MaxRooms,
		AutoCreate:    cfg.Live.AutoCreate,
		IdleTimeout:   cfg.EffectiveIdleTimeout(),
		WordcloudTopK: cfg.Live.WordcloudTopK,
		Session: room.SessionConfig{
			StatsInterval:        cfg.Live.StatsInterval,
			WordcloudInterval:    cfg.Live.WordcloudInterval,
			WordcloudTopK:        cfg.Live.WordcloudTopK,
			RingCapacity:         cfg.Live.RingCapacity,
			SubscriberBuffer:     cfg.Live.SubscriberBuffer,
			MailboxSize:          cfg.Live.MailboxSize,
			ReconnectMaxAttempts: cfg.Live.ReconnectMaxAttempts,
			ReconnectBaseDelay:   cfg.Live.ReconnectBaseDelay,
			ReconnectMultiplier:  cfg.Live.ReconnectMultiplier,
			StatsHistory:         cfg.Live.StatsHistory,
		},
	}, room.SessionDeps{
		Dialer:    upstream.NewWebSocketDialer(cfg.Upstream.BaseURL, cfg.Upstream.ConnectTimeout),
		Tagger:    tagger,
		Tokenizer: analysis.NewUnicodeTokenizer(),
		Archiver:  archiver,
	})

	handler := api.NewHandler(coordinator, tagger, cfg)
	router := api.NewRouter(handler, cfg)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: 0, // websocket connections outlive any deadline
		IdleTimeout:  2 * cfg.Server.Timeout,
	}

	// Supervision: pipeline and API restart independently.
	tree := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddPipelineService(services.NewNamedService("room-coordinator", coordinator))
	if archivePublisher != nil {
		tree.AddPipelineService(services.NewNamedService("archive-publisher", archivePublisher))
	}
	tree.AddAPIService(services.NewHTTPServerService(httpServer, 10*time.Second))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Str("addr", httpServer.Addr).Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Application stopped gracefully")
}
