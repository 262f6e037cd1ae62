// Danmulens - Live Danmaku Stream Analytics
// Copyright 2026 Danmulens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/danmulens/danmulens

// Package room implements per-room ingestion sessions, the broadcast hub
// that fans derived messages out to viewers, and the coordinator that owns
// the room registry.
package room

import (
	"github.com/danmulens/danmulens/internal/models"
)

// commentRing holds the most recent scored comments for one room. Fixed
// capacity, oldest dropped first. Not safe for concurrent use; the owning
// session serializes access.
type commentRing struct {
	buf   []models.ScoredComment
	head  int
	count int
}

func newCommentRing(capacity int) *commentRing {
	if capacity < 1 {
		capacity = 1
	}
	return &commentRing{buf: make([]models.ScoredComment, capacity)}
}

// Push appends a comment, evicting the oldest when full.
func (r *commentRing) Push(c models.ScoredComment) {
	r.buf[r.head] = c
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// Len returns the number of buffered comments.
func (r *commentRing) Len() int {
	return r.count
}

// Snapshot returns the buffered comments oldest-first.
func (r *commentRing) Snapshot() []models.ScoredComment {
	out := make([]models.ScoredComment, 0, r.count)
	start := r.head - r.count
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}
