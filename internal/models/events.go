// Danmulens - Live Danmaku Stream Analytics
// Copyright 2026 Danmulens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/danmulens/danmulens

// Package models defines the event, statistics, and wire-message types shared
// across the live analysis pipeline.
package models

import (
	"time"
)

// RoomID identifies one upstream live broadcast room. It is opaque to the
// pipeline and stable for the lifetime of a session.
type RoomID string

// SentimentLabel is the three-way classification attached to a scored comment.
type SentimentLabel string

const (
	SentimentPositive SentimentLabel = "positive"
	SentimentNeutral  SentimentLabel = "neutral"
	SentimentNegative SentimentLabel = "negative"
)

// CommentEvent is a single viewer comment (danmaku) as delivered by the
// upstream room, before sentiment tagging. Immutable once created.
type CommentEvent struct {
	RoomID     RoomID    `json:"room_id"`
	UserName   string    `json:"user_name"`
	UserID     int64     `json:"user_id,omitempty"`
	RawText    string    `json:"content"`
	ReceivedAt time.Time `json:"timestamp"`
}

// ScoredComment is a CommentEvent with sentiment attached. Immutable.
type ScoredComment struct {
	CommentEvent
	SentimentScore float64        `json:"sentiment_score"`
	SentimentLabel SentimentLabel `json:"sentiment_label"`
}

// GiftEvent is a gift sent to the room by a viewer.
type GiftEvent struct {
	RoomID     RoomID    `json:"room_id"`
	Sender     string    `json:"user_name"`
	UserID     int64     `json:"user_id,omitempty"`
	GiftName   string    `json:"gift_name"`
	Count      int       `json:"gift_count"`
	Value      int64     `json:"price"`
	ReceivedAt time.Time `json:"timestamp"`
}

// PresenceAction enumerates the interaction kinds carried by PresenceEvent.
const (
	PresenceEnter = "enter"
	PresenceLike  = "like"
)

// PresenceEvent is a room-enter or like interaction.
type PresenceEvent struct {
	RoomID     RoomID    `json:"room_id"`
	UserName   string    `json:"user_name"`
	UserID     int64     `json:"user_id,omitempty"`
	Action     string    `json:"action"`
	ReceivedAt time.Time `json:"timestamp"`
}

// SentimentHistogram counts comments per sentiment label.
type SentimentHistogram struct {
	Positive int `json:"positive"`
	Neutral  int `json:"neutral"`
	Negative int `json:"negative"`
}

// Add bumps the bucket for the given label.
func (h *SentimentHistogram) Add(label SentimentLabel) {
	switch label {
	case SentimentPositive:
		h.Positive++
	case SentimentNegative:
		h.Negative++
	default:
		h.Neutral++
	}
}

// Total returns the number of classified comments.
func (h SentimentHistogram) Total() int {
	return h.Positive + h.Neutral + h.Negative
}

// RoomStats is the rolling aggregate for one room. It is owned exclusively by
// the room's session loop; everything outside the loop sees value copies.
type RoomStats struct {
	RoomID               RoomID             `json:"room_id"`
	TotalComments        int64              `json:"total_danmaku"`
	TotalGifts           int64              `json:"total_gift"`
	TotalGiftValue       int64              `json:"total_gift_value"`
	CommentRatePerMinute float64            `json:"danmaku_rate"`
	AvgSentiment         float64            `json:"avg_sentiment"`
	SentimentDist        SentimentHistogram `json:"sentiment_dist"`
	WindowStart          time.Time          `json:"window_start"`
	WindowSeq            uint64             `json:"window_seq"`
}

// WordCount is one entry of a wordcloud payload.
type WordCount struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// RoomState names a session's position in its lifecycle.
type RoomState string

const (
	RoomStateConnecting RoomState = "connecting"
	RoomStateLive       RoomState = "live"
	RoomStateDraining   RoomState = "draining"
	RoomStateClosed     RoomState = "closed"
)

// RoomInfo is the externally visible summary of one session, served by the
// room-listing and status endpoints.
type RoomInfo struct {
	RoomID      RoomID    `json:"room_id"`
	State       RoomState `json:"state"`
	Subscribers int       `json:"viewers"`
	CreatedAt   time.Time `json:"created_at"`
}

// AggregateSnapshot is the cross-room view computed on demand by the
// coordinator from per-session snapshots.
type AggregateSnapshot struct {
	Ranking         []RoomID             `json:"ranking"`
	MergedTopTokens []WordCount          `json:"merged_top_tokens"`
	PerRoomStats    map[RoomID]RoomStats `json:"per_room_stats"`
	GeneratedAt     time.Time            `json:"generated_at"`
}
