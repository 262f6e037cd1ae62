// Danmulens - Live Danmaku Stream Analytics
// Copyright 2026 Danmulens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/danmulens/danmulens

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/danmulens/danmulens/internal/analysis"
	"github.com/danmulens/danmulens/internal/config"
	"github.com/danmulens/danmulens/internal/models"
	"github.com/danmulens/danmulens/internal/room"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// defaultRecentLimit bounds /recent responses when no limit is given.
const defaultRecentLimit = 100

// Handler carries the dependencies shared by all HTTP handlers.
type Handler struct {
	coordinator *room.Coordinator
	tagger      *analysis.Tagger
	config      *config.Config
	startTime   time.Time
}

// NewHandler creates a Handler. The tagger may be nil, in which case the
// health endpoint omits the scorer breaker state.
func NewHandler(coordinator *room.Coordinator, tagger *analysis.Tagger, cfg *config.Config) *Handler {
	return &Handler{
		coordinator: coordinator,
		tagger:      tagger,
		config:      cfg,
		startTime:   time.Now(),
	}
}

// Health reports overall service health: active room count, scorer
// circuit-breaker state, and process uptime.
//
// Method: GET
// Path: /api/v1/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	health := models.HealthStatus{
		Status:        "healthy",
		Version:       Version,
		ActiveRooms:   len(h.coordinator.Rooms()),
		UptimeSeconds: time.Since(h.startTime).Seconds(),
	}
	if h.tagger != nil {
		health.BreakerState = h.tagger.BreakerState()
		if health.BreakerState == "open" {
			health.Status = "degraded"
		}
	}

	respondSuccess(w, health)
}

// HealthLive is the liveness probe: 200 whenever the process responds.
//
// Method: GET
// Path: /api/v1/health/live
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, map[string]string{"status": "alive"})
}

// HealthReady is the readiness probe: ready once the coordinator is serving.
//
// Method: GET
// Path: /api/v1/health/ready
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if h.coordinator == nil {
		respondError(w, http.StatusServiceUnavailable, "NOT_READY", "Room coordinator not running", nil)
		return
	}
	respondSuccess(w, map[string]string{"status": "ready"})
}

// Rooms lists all tracked rooms with state and viewer counts.
//
// Method: GET
// Path: /api/v1/live/rooms
func (h *Handler) Rooms(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, h.coordinator.Rooms())
}

// addRoomRequest is the body of POST /api/v1/live/rooms.
type addRoomRequest struct {
	RoomID string `json:"room_id" validate:"required,room_id"`
}

// AddRoom starts tracking a room.
//
// Method: POST
// Path: /api/v1/live/rooms
//
// Response:
//   - 201: Room created; body carries its initial RoomInfo
//   - 400: Malformed body or invalid room id
//   - 409: Room already tracked
//   - 429: Concurrent room limit reached
func (h *Handler) AddRoom(w http.ResponseWriter, r *http.Request) {
	var req addRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, codeInvalidBody, "Request body must be JSON with a room_id field", err)
		return
	}

	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	sess, err := h.coordinator.AddRoom(models.RoomID(req.RoomID))
	if err != nil {
		respondRoomError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, &models.APIResponse{
		Status: "success",
		Data:   sess.Info(),
		Metadata: models.Metadata{
			Timestamp: time.Now(),
		},
	})
}

// RemoveRoom stops tracking a room and disconnects its viewers.
//
// Method: DELETE
// Path: /api/v1/live/rooms/{roomID}
func (h *Handler) RemoveRoom(w http.ResponseWriter, r *http.Request) {
	roomID, ok := h.roomIDParam(w, r)
	if !ok {
		return
	}

	if err := h.coordinator.RemoveRoom(roomID); err != nil {
		respondRoomError(w, err)
		return
	}

	respondSuccess(w, map[string]string{"room_id": string(roomID), "state": "removed"})
}

// RoomStatus returns a room's lifecycle state and viewer count.
//
// Method: GET
// Path: /api/v1/live/rooms/{roomID}/status
func (h *Handler) RoomStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookupRoom(w, r)
	if !ok {
		return
	}
	respondSuccess(w, sess.Info())
}

// RoomStats returns a room's current statistics snapshot.
//
// Method: GET
// Path: /api/v1/live/rooms/{roomID}/stats
func (h *Handler) RoomStats(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookupRoom(w, r)
	if !ok {
		return
	}
	respondSuccess(w, sess.Stats())
}

// RoomStatsHistory returns the retained per-tick stats snapshots, oldest
// first, for trend charts.
//
// Method: GET
// Path: /api/v1/live/rooms/{roomID}/stats/history
func (h *Handler) RoomStatsHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookupRoom(w, r)
	if !ok {
		return
	}
	respondSuccess(w, sess.StatsHistory())
}

// RoomRecent returns the most recent scored comments from the room's ring
// buffer, oldest first. The limit query parameter caps the count.
//
// Method: GET
// Path: /api/v1/live/rooms/{roomID}/recent
func (h *Handler) RoomRecent(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookupRoom(w, r)
	if !ok {
		return
	}

	limit := getIntParam(r, "limit", defaultRecentLimit)
	if limit < 1 {
		limit = defaultRecentLimit
	}
	respondSuccess(w, sess.Recent(limit))
}

// RoomWordcloud returns the room's most recent top-K token list.
//
// Method: GET
// Path: /api/v1/live/rooms/{roomID}/wordcloud
func (h *Handler) RoomWordcloud(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookupRoom(w, r)
	if !ok {
		return
	}
	respondSuccess(w, sess.LastWordcloud())
}

// AllStats returns the current stats snapshot of every tracked room.
//
// Method: GET
// Path: /api/v1/live/stats
func (h *Handler) AllStats(w http.ResponseWriter, r *http.Request) {
	snapshot := h.coordinator.AggregateSnapshot()
	respondSuccess(w, snapshot.PerRoomStats)
}

// Ranking returns rooms ordered by total comment count, busiest first.
//
// Method: GET
// Path: /api/v1/live/ranking
func (h *Handler) Ranking(w http.ResponseWriter, r *http.Request) {
	snapshot := h.coordinator.AggregateSnapshot()
	respondSuccess(w, snapshot.Ranking)
}

// Tokens returns the cross-room merged top tokens.
//
// Method: GET
// Path: /api/v1/live/tokens
func (h *Handler) Tokens(w http.ResponseWriter, r *http.Request) {
	snapshot := h.coordinator.AggregateSnapshot()
	respondSuccess(w, snapshot.MergedTopTokens)
}

// roomIDParam extracts and validates the roomID path parameter. On failure
// it writes a 400 response and returns ok=false.
func (h *Handler) roomIDParam(w http.ResponseWriter, r *http.Request) (models.RoomID, bool) {
	req := addRoomRequest{RoomID: chi.URLParam(r, "roomID")}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return "", false
	}
	return models.RoomID(req.RoomID), true
}

// lookupRoom resolves the roomID path parameter to a live session. On
// failure it writes the error response and returns ok=false.
func (h *Handler) lookupRoom(w http.ResponseWriter, r *http.Request) (*room.Session, bool) {
	roomID, ok := h.roomIDParam(w, r)
	if !ok {
		return nil, false
	}

	sess, err := h.coordinator.GetRoom(roomID)
	if err != nil {
		respondRoomError(w, err)
		return nil, false
	}
	return sess, true
}
