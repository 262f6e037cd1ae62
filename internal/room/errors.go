// Danmulens - Live Danmaku Stream Analytics
// Copyright 2026 Danmulens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/danmulens/danmulens

package room

import "errors"

// Coordinator errors, returned synchronously to callers. None of them is
// fatal to the process.
var (
	// ErrRoomExists is returned when adding a room that is already active.
	ErrRoomExists = errors.New("room already exists")

	// ErrRoomLimitExceeded is returned when adding a room would exceed the
	// configured maximum concurrent room count. No session is created.
	ErrRoomLimitExceeded = errors.New("room limit exceeded")

	// ErrRoomNotFound is returned when looking up a room id with no active
	// session.
	ErrRoomNotFound = errors.New("room not found")
)
