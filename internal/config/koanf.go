// Danmulens - Live Danmaku Stream Analytics
// Copyright 2026 Danmulens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/danmulens/danmulens

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/danmulens/config.yaml",
	"/etc/danmulens/config.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with built-in defaults. Defaults are applied
// first, then overridden by the config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8086,
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Security: SecurityConfig{
			CORSOrigins:       []string{"*"},
			RateLimitReqs:     100,
			RateLimitWindow:   1 * time.Minute,
			RateLimitDisabled: false,
		},
		Upstream: UpstreamConfig{
			BaseURL:        "",
			ConnectTimeout: 10 * time.Second,
		},
		Live: LiveConfig{
			MaxRooms:             4,
			AutoCreate:           true,
			StatsInterval:        5 * time.Second,
			WordcloudInterval:    10 * time.Second,
			WordcloudTopK:        50,
			RingCapacity:         100,
			SubscriberBuffer:     64,
			MailboxSize:          256,
			ReconnectMaxAttempts: 5,
			ReconnectBaseDelay:   3 * time.Second,
			ReconnectMultiplier:  2,
			IdleTimeout:          0, // 0 = one stats interval
			StatsHistory:         50,
		},
		Analysis: AnalysisConfig{
			PositiveThreshold:       0.6,
			NegativeThreshold:       0.4,
			BreakerFailureThreshold: 5,
			BreakerResetTimeout:     30 * time.Second,
		},
		Archive: ArchiveConfig{
			Enabled:        false, // Archival is opt-in
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: false,
			StoreDir:       "/data/nats/jetstream",
			Stream:         "DANMAKU_EVENTS",
			SubjectPrefix:  "danmaku.events",
			QueueSize:      1024,
			RetentionDays:  7,
			MaxReconnects:  10,
			ReconnectWait:  2 * time.Second,
		},
	}
}

// Load builds the configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML file (if one exists)
//  3. Environment variables: override any setting
//
// Precedence is ENV > File > Defaults.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// LIVE_MAX_ROOMS -> live.max_rooms, LOG_LEVEL -> logging.level
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first config file found, or "" when none exists.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths lists config paths parsed as comma-separated slices when
// they arrive from the environment.
var sliceConfigPaths = []string{
	"security.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields. Env vars come in as strings but the config expects
// slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// Already a slice (from YAML); leave it alone.
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		if strVal, ok := val.(string); ok {
			if strVal == "" {
				continue
			}
			parts := strings.Split(strVal, ",")
			trimmed := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					trimmed = append(trimmed, p)
				}
			}
			if len(trimmed) > 0 {
				if err := k.Set(path, trimmed); err != nil {
					return fmt.Errorf("failed to set %s: %w", path, err)
				}
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config paths.
//
// Examples:
//   - HTTP_PORT -> server.port
//   - LIVE_MAX_ROOMS -> live.max_rooms
//   - ARCHIVE_NATS_URL -> archive.url
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Server mappings
		"http_port":    "server.port",
		"http_host":    "server.host",
		"http_timeout": "server.timeout",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",

		// Security mappings
		"cors_origins":        "security.cors_origins",
		"rate_limit_requests": "security.rate_limit_reqs",
		"rate_limit_window":   "security.rate_limit_window",
		"disable_rate_limit":  "security.rate_limit_disabled",

		// Upstream feed mappings
		"upstream_base_url":        "upstream.base_url",
		"upstream_connect_timeout": "upstream.connect_timeout",

		// Live room mappings
		"live_max_rooms":              "live.max_rooms",
		"live_auto_create":            "live.auto_create",
		"live_stats_interval":         "live.stats_interval",
		"live_wordcloud_interval":     "live.wordcloud_interval",
		"live_wordcloud_top_k":        "live.wordcloud_top_k",
		"live_ring_capacity":          "live.ring_capacity",
		"live_subscriber_buffer":      "live.subscriber_buffer",
		"live_mailbox_size":           "live.mailbox_size",
		"live_reconnect_max_attempts": "live.reconnect_max_attempts",
		"live_reconnect_base_delay":   "live.reconnect_base_delay",
		"live_reconnect_multiplier":   "live.reconnect_multiplier",
		"live_idle_timeout":           "live.idle_timeout",
		"live_stats_history":          "live.stats_history",

		// Analysis mappings
		"analysis_positive_threshold": "analysis.positive_threshold",
		"analysis_negative_threshold": "analysis.negative_threshold",
		"analysis_breaker_failures":   "analysis.breaker_failure_threshold",
		"analysis_breaker_reset":      "analysis.breaker_reset_timeout",

		// Archive mappings
		"archive_enabled":        "archive.enabled",
		"archive_nats_url":       "archive.url",
		"archive_nats_embedded":  "archive.embedded_server",
		"archive_store_dir":      "archive.store_dir",
		"archive_stream":         "archive.stream",
		"archive_subject_prefix": "archive.subject_prefix",
		"archive_queue_size":     "archive.queue_size",
		"archive_retention_days": "archive.retention_days",
		"archive_max_reconnects": "archive.max_reconnects",
		"archive_reconnect_wait": "archive.reconnect_wait",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// Unmapped keys are skipped so stray environment variables cannot
	// pollute the config.
	return ""
}
