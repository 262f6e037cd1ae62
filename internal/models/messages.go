// Danmulens - Live Danmaku Stream Analytics
// Copyright 2026 Danmulens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/danmulens/danmulens

package models

import (
	"time"
)

// Message kinds carried in the viewer-facing envelope.
const (
	MessageTypeStatus    = "status"
	MessageTypeDanmaku   = "danmaku"
	MessageTypeGift      = "gift"
	MessageTypeInteract  = "interact"
	MessageTypeStats     = "stats"
	MessageTypeWordcloud = "wordcloud"
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"
)

// Message is the envelope for every message delivered to a viewer:
// {"type": <kind>, "data": <payload>}.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Connection status values carried by StatusData.
const (
	StatusConnecting   = "connecting"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// StatusData is the payload of a "status" message.
type StatusData struct {
	Status string `json:"status"`
	RoomID RoomID `json:"room_id"`
}

// WordcloudData is the payload of a "wordcloud" message. Words hold the
// top-K entries of the room's cumulative token frequency table.
type WordcloudData struct {
	RoomID    RoomID      `json:"room_id"`
	WindowSeq uint64      `json:"window_seq"`
	Words     []WordCount `json:"words"`
}

// PongData is the payload answering a viewer ping.
type PongData struct {
	Timestamp time.Time `json:"timestamp"`
}

// NewStatusMessage builds a "status" envelope.
func NewStatusMessage(status string, roomID RoomID) Message {
	return Message{Type: MessageTypeStatus, Data: StatusData{Status: status, RoomID: roomID}}
}

// NewDanmakuMessage builds a "danmaku" envelope for one scored comment.
func NewDanmakuMessage(c ScoredComment) Message {
	return Message{Type: MessageTypeDanmaku, Data: c}
}

// NewGiftMessage builds a "gift" envelope.
func NewGiftMessage(g GiftEvent) Message {
	return Message{Type: MessageTypeGift, Data: g}
}

// NewInteractMessage builds an "interact" envelope.
func NewInteractMessage(p PresenceEvent) Message {
	return Message{Type: MessageTypeInteract, Data: p}
}

// NewStatsMessage builds a "stats" envelope from a stats snapshot.
func NewStatsMessage(s RoomStats) Message {
	return Message{Type: MessageTypeStats, Data: s}
}

// NewWordcloudMessage builds a "wordcloud" envelope.
func NewWordcloudMessage(roomID RoomID, seq uint64, words []WordCount) Message {
	return Message{Type: MessageTypeWordcloud, Data: WordcloudData{RoomID: roomID, WindowSeq: seq, Words: words}}
}
