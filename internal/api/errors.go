// Danmulens - Live Danmaku Stream Analytics
// Copyright 2026 Danmulens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/danmulens/danmulens

package api

import (
	"errors"
	"net/http"

	"github.com/danmulens/danmulens/internal/room"
)

// Machine-readable error codes returned in APIError.Code.
const (
	codeRoomExists    = "ROOM_EXISTS"
	codeRoomLimit     = "ROOM_LIMIT_EXCEEDED"
	codeRoomNotFound  = "ROOM_NOT_FOUND"
	codeValidation    = "VALIDATION_ERROR"
	codeInvalidBody   = "INVALID_BODY"
	codeInternalError = "INTERNAL_ERROR"
)

// respondRoomError maps room package sentinel errors onto HTTP statuses.
// Unknown errors become a generic 500 without leaking internals.
func respondRoomError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, room.ErrRoomExists):
		respondError(w, http.StatusConflict, codeRoomExists, "Room is already tracked", nil)
	case errors.Is(err, room.ErrRoomLimitExceeded):
		respondError(w, http.StatusTooManyRequests, codeRoomLimit, "Concurrent room limit reached", nil)
	case errors.Is(err, room.ErrRoomNotFound):
		respondError(w, http.StatusNotFound, codeRoomNotFound, "Room is not tracked", nil)
	default:
		respondError(w, http.StatusInternalServerError, codeInternalError, "Internal error", err)
	}
}
