// Danmulens - Live Danmaku Stream Analytics
// Copyright 2026 Danmulens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/danmulens/danmulens

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/danmulens/danmulens/internal/logging"
	"github.com/danmulens/danmulens/internal/models"
	ws "github.com/danmulens/danmulens/internal/websocket"
)

// upgrader is shared by both websocket attach points. Origin checks are
// left to the CORS layer; same-origin browser dashboards and non-browser
// clients both connect here.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// RoomWS upgrades the connection and attaches the viewer to one room's
// broadcast hub. Auto-creates the room when enabled; otherwise the room
// must already be tracked.
//
// Method: GET
// Path: /api/v1/live/ws/{roomID}
//
// After the upgrade the viewer immediately receives a catch-up burst:
// the room's connection status, its latest stats snapshot, and the latest
// wordcloud, before any live events.
func (h *Handler) RoomWS(w http.ResponseWriter, r *http.Request) {
	req := addRoomRequest{RoomID: chi.URLParam(r, "roomID")}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}
	roomID := models.RoomID(req.RoomID)

	sess, err := h.coordinator.EnsureRoom(roomID)
	if err != nil {
		respondRoomError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error().Err(err).Str("room_id", string(roomID)).Msg("WebSocket upgrade failed")
		return
	}

	subID := uuid.NewString()
	sub := sess.Subscribe(subID)

	catchUp := []models.Message{
		models.NewStatusMessage(statusForState(sess.State()), roomID),
		models.NewStatsMessage(sess.Stats()),
	}
	if words := sess.LastWordcloud(); len(words) > 0 {
		catchUp = append(catchUp, models.NewWordcloudMessage(roomID, sess.Stats().WindowSeq, words))
	}

	client := ws.NewClient(conn, sub, func() { sess.Unsubscribe(subID) }, catchUp...)
	client.Start()

	logging.Debug().Str("room_id", string(roomID)).Str("subscriber", subID).Msg("Viewer attached")
}

// AggregateWS upgrades the connection and attaches the viewer to the
// coordinator's cross-room hub, which carries periodic aggregate stats
// and merged wordclouds.
//
// Method: GET
// Path: /api/v1/live/ws/aggregate
func (h *Handler) AggregateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	subID := uuid.NewString()
	sub := h.coordinator.SubscribeAggregate(subID)

	snapshot := h.coordinator.AggregateSnapshot()
	catchUp := []models.Message{
		{Type: models.MessageTypeStats, Data: snapshot},
		models.NewWordcloudMessage("aggregate", 0, snapshot.MergedTopTokens),
	}

	client := ws.NewClient(conn, sub, func() { h.coordinator.UnsubscribeAggregate(subID) }, catchUp...)
	client.Start()

	logging.Debug().Str("subscriber", subID).Msg("Aggregate viewer attached")
}

// statusForState maps a session lifecycle state onto the status wire
// values. Draining reports "connecting": the session is between bounded
// reconnect attempts and still serves buffered stats.
func statusForState(state models.RoomState) string {
	switch state {
	case models.RoomStateLive:
		return models.StatusConnected
	case models.RoomStateClosed:
		return models.StatusDisconnected
	default:
		return models.StatusConnecting
	}
}
