// Danmulens - Live Danmaku Stream Analytics
// Copyright 2026 Danmulens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/danmulens/danmulens

package upstream

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/danmulens/danmulens/internal/logging"
	"github.com/danmulens/danmulens/internal/metrics"
	"github.com/danmulens/danmulens/internal/models"
)

// Upstream frame kinds this pipeline consumes. Anything else is dropped.
const (
	cmdDanmaku  = "DANMU_MSG"
	cmdGift     = "SEND_GIFT"
	cmdInteract = "INTERACT_WORD"
	cmdLike     = "LIKE_INFO_V3_CLICK"
)

// Normalize converts a raw upstream frame into one of the internal event
// types: models.CommentEvent, models.GiftEvent, or models.PresenceEvent.
// Unknown or malformed frames return (nil, false); they are logged at debug
// level and counted, never fatal.
func Normalize(roomID models.RoomID, raw RawEvent, receivedAt time.Time) (interface{}, bool) {
	switch raw.Cmd {
	case cmdDanmaku:
		return normalizeComment(roomID, raw, receivedAt)
	case cmdGift:
		return normalizeGift(roomID, raw, receivedAt)
	case cmdInteract:
		return normalizePresence(roomID, raw, models.PresenceEnter, receivedAt)
	case cmdLike:
		return normalizePresence(roomID, raw, models.PresenceLike, receivedAt)
	default:
		metrics.EventsDropped.WithLabelValues("unknown_kind").Inc()
		logging.Debug().
			Str("room_id", string(roomID)).
			Str("cmd", raw.Cmd).
			Msg("Dropping unknown upstream event kind")
		return nil, false
	}
}

// danmakuPayload is the DANMU_MSG frame body. The comment rides in the
// positional "info" array: info[1] is the text, info[2] is [uid, uname, ...].
type danmakuPayload struct {
	Info []json.RawMessage `json:"info"`
}

func normalizeComment(roomID models.RoomID, raw RawEvent, receivedAt time.Time) (interface{}, bool) {
	var payload danmakuPayload
	if err := json.Unmarshal(raw.Data, &payload); err != nil || len(payload.Info) < 3 {
		dropMalformed(roomID, raw.Cmd, err)
		return nil, false
	}

	var text string
	if err := json.Unmarshal(payload.Info[1], &text); err != nil || text == "" {
		dropMalformed(roomID, raw.Cmd, err)
		return nil, false
	}

	var userInfo []json.RawMessage
	if err := json.Unmarshal(payload.Info[2], &userInfo); err != nil {
		dropMalformed(roomID, raw.Cmd, err)
		return nil, false
	}

	var userID int64
	var userName string
	if len(userInfo) > 0 {
		_ = json.Unmarshal(userInfo[0], &userID)
	}
	if len(userInfo) > 1 {
		_ = json.Unmarshal(userInfo[1], &userName)
	}

	metrics.EventsIngested.WithLabelValues("danmaku").Inc()
	return models.CommentEvent{
		RoomID:     roomID,
		UserName:   userName,
		UserID:     userID,
		RawText:    text,
		ReceivedAt: receivedAt,
	}, true
}

type giftPayload struct {
	GiftName string `json:"giftName"`
	Num      int    `json:"num"`
	UserName string `json:"uname"`
	UserID   int64  `json:"uid"`
	Price    int64  `json:"price"`
}

func normalizeGift(roomID models.RoomID, raw RawEvent, receivedAt time.Time) (interface{}, bool) {
	var payload giftPayload
	if err := json.Unmarshal(raw.Data, &payload); err != nil {
		dropMalformed(roomID, raw.Cmd, err)
		return nil, false
	}
	if payload.Num < 1 {
		payload.Num = 1
	}

	metrics.EventsIngested.WithLabelValues("gift").Inc()
	return models.GiftEvent{
		RoomID:     roomID,
		Sender:     payload.UserName,
		UserID:     payload.UserID,
		GiftName:   payload.GiftName,
		Count:      payload.Num,
		Value:      payload.Price * int64(payload.Num),
		ReceivedAt: receivedAt,
	}, true
}

type presencePayload struct {
	UserName string `json:"uname"`
	UserID   int64  `json:"uid"`
}

func normalizePresence(roomID models.RoomID, raw RawEvent, action string, receivedAt time.Time) (interface{}, bool) {
	var payload presencePayload
	if err := json.Unmarshal(raw.Data, &payload); err != nil {
		dropMalformed(roomID, raw.Cmd, err)
		return nil, false
	}

	metrics.EventsIngested.WithLabelValues("interact").Inc()
	return models.PresenceEvent{
		RoomID:     roomID,
		Action:     action,
		UserName:   payload.UserName,
		UserID:     payload.UserID,
		ReceivedAt: receivedAt,
	}, true
}

func dropMalformed(roomID models.RoomID, cmd string, err error) {
	metrics.EventsDropped.WithLabelValues("malformed").Inc()
	logging.Debug().
		Err(err).
		Str("room_id", string(roomID)).
		Str("cmd", cmd).
		Msg("Dropping malformed upstream event")
}
