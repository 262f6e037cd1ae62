// Danmulens - Live Danmaku Stream Analytics
// Copyright 2026 Danmulens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/danmulens/danmulens

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestEventsIngestedCounter(t *testing.T) {
	before := testutil.ToFloat64(EventsIngested.WithLabelValues("comment"))
	EventsIngested.WithLabelValues("comment").Inc()
	after := testutil.ToFloat64(EventsIngested.WithLabelValues("comment"))

	if after != before+1 {
		t.Errorf("counter did not increment: before=%f after=%f", before, after)
	}
}

func TestTrackActiveRequest(t *testing.T) {
	base := testutil.ToFloat64(APIActiveRequests)

	TrackActiveRequest(true)
	if got := testutil.ToFloat64(APIActiveRequests); got != base+1 {
		t.Errorf("gauge after inc = %f, want %f", got, base+1)
	}

	TrackActiveRequest(false)
	if got := testutil.ToFloat64(APIActiveRequests); got != base {
		t.Errorf("gauge after dec = %f, want %f", got, base)
	}
}

func TestRecordBroadcast(t *testing.T) {
	before := testutil.ToFloat64(BroadcastsSent.WithLabelValues("stats"))
	RecordBroadcast("stats")
	if got := testutil.ToFloat64(BroadcastsSent.WithLabelValues("stats")); got != before+1 {
		t.Errorf("broadcast counter = %f, want %f", got, before+1)
	}
}

func TestRecordAPIRequestDoesNotPanic(t *testing.T) {
	RecordAPIRequest("GET", "/api/v1/live/rooms", 200, 15*time.Millisecond)
}
