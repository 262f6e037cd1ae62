// Danmulens - Live Danmaku Stream Analytics
// Copyright 2026 Danmulens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/danmulens/danmulens

// Package api provides the HTTP surface of the service: a Chi router with
// CORS and rate limiting, REST handlers for room management and analytics
// snapshots, and the websocket attach points that bridge viewers onto
// room broadcast hubs.
//
// All REST responses use the models.APIResponse envelope. Error responses
// carry machine-readable codes (ROOM_EXISTS, ROOM_LIMIT_EXCEEDED,
// ROOM_NOT_FOUND, VALIDATION_ERROR) so clients can branch without string
// matching.
package api
