// Danmulens - Live Danmaku Stream Analytics
// Copyright 2026 Danmulens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/danmulens/danmulens

// Package metrics provides Prometheus instrumentation for the live pipeline:
// upstream ingestion, sentiment scoring, broadcast fan-out, room lifecycle,
// archival publishing, and the HTTP API.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "danmu_events_ingested_total",
			Help: "Total upstream events accepted by room sessions",
		},
		[]string{"kind"}, // "comment", "gift", "presence"
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "danmu_events_dropped_total",
			Help: "Total upstream events dropped before aggregation",
		},
		[]string{"reason"}, // "unknown_kind", "malformed"
	)

	// Sentiment metrics
	CommentsScored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "danmu_comments_scored_total",
			Help: "Total comments run through the sentiment tagger",
		},
	)

	ScorerFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "danmu_scorer_failures_total",
			Help: "Total scorer calls that fell back to the neutral label",
		},
	)

	// Broadcast metrics
	BroadcastsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "danmu_broadcasts_sent_total",
			Help: "Total messages queued to subscriber buffers",
		},
		[]string{"type"},
	)

	BroadcastsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "danmu_broadcasts_dropped_total",
			Help: "Total messages dropped from full subscriber buffers (drop-oldest)",
		},
	)

	// Room lifecycle metrics
	ActiveRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "danmu_active_rooms",
			Help: "Current number of registered room sessions",
		},
	)

	ActiveSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "danmu_active_subscribers",
			Help: "Current number of attached viewer subscriptions",
		},
	)

	ReconnectAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "danmu_upstream_reconnect_attempts_total",
			Help: "Total upstream reconnection attempts across all rooms",
		},
	)

	RoomsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "danmu_rooms_closed_total",
			Help: "Total room sessions that reached the Closed state",
		},
		[]string{"reason"}, // "removed", "reconnect_exhausted", "idle"
	)

	// Archival metrics
	ArchivePublishes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "danmu_archive_publishes_total",
			Help: "Total events published to the archival stream",
		},
	)

	ArchiveDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "danmu_archive_dropped_total",
			Help: "Total events dropped from the full archival queue",
		},
	)

	// API metrics
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "danmu_api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "danmu_api_active_requests",
			Help: "Current number of in-flight API requests",
		},
	)
)

// RecordAPIRequest records one completed API request.
func RecordAPIRequest(method, path string, status int, duration time.Duration) {
	APIRequestDuration.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

// TrackActiveRequest adjusts the in-flight request gauge.
func TrackActiveRequest(active bool) {
	if active {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordBroadcast records one message fanned out to a subscriber buffer.
func RecordBroadcast(messageType string) {
	BroadcastsSent.WithLabelValues(messageType).Inc()
}
