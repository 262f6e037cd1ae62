// Danmulens - Live Danmaku Stream Analytics
// Copyright 2026 Danmulens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/danmulens/danmulens

// Package config loads and validates the service configuration using Koanf
// with layered sources: built-in defaults, an optional YAML file, and
// environment variables (highest priority).
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the service.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
	Security SecurityConfig `koanf:"security"`
	Upstream UpstreamConfig `koanf:"upstream"`
	Live     LiveConfig     `koanf:"live"`
	Analysis AnalysisConfig `koanf:"analysis"`
	Archive  ArchiveConfig  `koanf:"archive"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// LoggingConfig configures the zerolog backend.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// SecurityConfig configures CORS and API rate limiting.
type SecurityConfig struct {
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// UpstreamConfig configures the connection to the live-room event feed.
type UpstreamConfig struct {
	// BaseURL is the websocket endpoint of the upstream broadcast relay.
	// The room id is appended as a query parameter on dial.
	BaseURL        string        `koanf:"base_url"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
}

// LiveConfig configures room sessions and fan-out.
type LiveConfig struct {
	MaxRooms             int           `koanf:"max_rooms"`
	AutoCreate           bool          `koanf:"auto_create"`
	StatsInterval        time.Duration `koanf:"stats_interval"`
	WordcloudInterval    time.Duration `koanf:"wordcloud_interval"`
	WordcloudTopK        int           `koanf:"wordcloud_top_k"`
	RingCapacity         int           `koanf:"ring_capacity"`
	SubscriberBuffer     int           `koanf:"subscriber_buffer"`
	MailboxSize          int           `koanf:"mailbox_size"`
	ReconnectMaxAttempts int           `koanf:"reconnect_max_attempts"`
	ReconnectBaseDelay   time.Duration `koanf:"reconnect_base_delay"`
	ReconnectMultiplier  int           `koanf:"reconnect_multiplier"`
	// IdleTimeout is how long an auto-created session may stay without
	// subscribers before it is reaped. Zero means one stats interval.
	IdleTimeout time.Duration `koanf:"idle_timeout"`
	// StatsHistory is the number of per-room stats snapshots retained for
	// the trend endpoint.
	StatsHistory int `koanf:"stats_history"`
}

// AnalysisConfig configures sentiment thresholds and the scorer breaker.
type AnalysisConfig struct {
	PositiveThreshold       float64       `koanf:"positive_threshold"`
	NegativeThreshold       float64       `koanf:"negative_threshold"`
	BreakerFailureThreshold uint32        `koanf:"breaker_failure_threshold"`
	BreakerResetTimeout     time.Duration `koanf:"breaker_reset_timeout"`
}

// ArchiveConfig configures the NATS JetStream archival producer.
type ArchiveConfig struct {
	Enabled        bool          `koanf:"enabled"`
	URL            string        `koanf:"url"`
	EmbeddedServer bool          `koanf:"embedded_server"`
	StoreDir       string        `koanf:"store_dir"`
	Stream         string        `koanf:"stream"`
	SubjectPrefix  string        `koanf:"subject_prefix"`
	QueueSize      int           `koanf:"queue_size"`
	RetentionDays  int           `koanf:"retention_days"`
	MaxReconnects  int           `koanf:"max_reconnects"`
	ReconnectWait  time.Duration `koanf:"reconnect_wait"`
}

// Validate checks cross-field constraints. It is called by Load; callers
// constructing a Config by hand should run it themselves.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Live.MaxRooms < 1 {
		return fmt.Errorf("live.max_rooms must be >= 1, got %d", c.Live.MaxRooms)
	}
	if c.Live.StatsInterval <= 0 {
		return fmt.Errorf("live.stats_interval must be positive, got %v", c.Live.StatsInterval)
	}
	if c.Live.WordcloudInterval <= 0 {
		return fmt.Errorf("live.wordcloud_interval must be positive, got %v", c.Live.WordcloudInterval)
	}
	if c.Live.WordcloudTopK < 1 {
		return fmt.Errorf("live.wordcloud_top_k must be >= 1, got %d", c.Live.WordcloudTopK)
	}
	if c.Live.RingCapacity < 1 {
		return fmt.Errorf("live.ring_capacity must be >= 1, got %d", c.Live.RingCapacity)
	}
	if c.Live.SubscriberBuffer < 1 {
		return fmt.Errorf("live.subscriber_buffer must be >= 1, got %d", c.Live.SubscriberBuffer)
	}
	if c.Live.ReconnectMaxAttempts < 0 {
		return fmt.Errorf("live.reconnect_max_attempts must be >= 0, got %d", c.Live.ReconnectMaxAttempts)
	}
	if c.Live.ReconnectMultiplier < 1 {
		return fmt.Errorf("live.reconnect_multiplier must be >= 1, got %d", c.Live.ReconnectMultiplier)
	}

	neg, pos := c.Analysis.NegativeThreshold, c.Analysis.PositiveThreshold
	if neg < 0 || pos > 1 || neg >= pos {
		return fmt.Errorf("analysis thresholds must satisfy 0 <= negative < positive <= 1, got negative=%v positive=%v", neg, pos)
	}

	if c.Archive.Enabled {
		if c.Archive.Stream == "" {
			return fmt.Errorf("archive.stream must be set when archiving is enabled")
		}
		if c.Archive.SubjectPrefix == "" {
			return fmt.Errorf("archive.subject_prefix must be set when archiving is enabled")
		}
		if c.Archive.QueueSize < 1 {
			return fmt.Errorf("archive.queue_size must be >= 1, got %d", c.Archive.QueueSize)
		}
	}

	return nil
}

// EffectiveIdleTimeout resolves the idle-reap timeout; zero falls back to one
// stats interval.
func (c *Config) EffectiveIdleTimeout() time.Duration {
	if c.Live.IdleTimeout > 0 {
		return c.Live.IdleTimeout
	}
	return c.Live.StatsInterval
}
