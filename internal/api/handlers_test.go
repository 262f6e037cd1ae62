// Danmulens - Live Danmaku Stream Analytics
// Copyright 2026 Danmulens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/danmulens/danmulens

package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/danmulens/danmulens/internal/analysis"
	"github.com/danmulens/danmulens/internal/config"
	"github.com/danmulens/danmulens/internal/logging"
	"github.com/danmulens/danmulens/internal/models"
	"github.com/danmulens/danmulens/internal/room"
	"github.com/danmulens/danmulens/internal/upstream"
)

func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

// fakeFeed delivers scripted frames and blocks until closed.
type fakeFeed struct {
	events chan upstream.RawEvent
	once   sync.Once
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{events: make(chan upstream.RawEvent, 64)}
}

func (f *fakeFeed) ReadEvent(ctx context.Context) (upstream.RawEvent, error) {
	select {
	case <-ctx.Done():
		return upstream.RawEvent{}, ctx.Err()
	case ev, ok := <-f.events:
		if !ok {
			return upstream.RawEvent{}, io.EOF
		}
		return ev, nil
	}
}

func (f *fakeFeed) Close() error {
	f.once.Do(func() { close(f.events) })
	return nil
}

// fakeDialer hands each session its own feed and remembers the latest one
// so tests can push frames into it.
type fakeDialer struct {
	mu    sync.Mutex
	feeds map[models.RoomID]*fakeFeed
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{feeds: make(map[models.RoomID]*fakeFeed)}
}

func (d *fakeDialer) Dial(ctx context.Context, roomID models.RoomID) (upstream.Feed, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	feed := newFakeFeed()
	d.feeds[roomID] = feed
	return feed, nil
}

func (d *fakeDialer) feed(roomID models.RoomID) *fakeFeed {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.feeds[roomID]
}

func danmakuFrame(t *testing.T, text string) upstream.RawEvent {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{
		"info": []interface{}{[]interface{}{}, text, []interface{}{int64(1), "viewer"}},
	})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return upstream.RawEvent{Cmd: "DANMU_MSG", Data: data}
}

// fixture bundles a running coordinator with an httptest server.
type fixture struct {
	srv         *httptest.Server
	dialer      *fakeDialer
	coordinator *room.Coordinator
	handler     *Handler
}

func newFixture(t *testing.T, maxRooms int, autoCreate bool) *fixture {
	t.Helper()

	dialer := newFakeDialer()
	cfg := config.AnalysisConfig{
		PositiveThreshold:       0.6,
		NegativeThreshold:       0.4,
		BreakerFailureThreshold: 5,
		BreakerResetTimeout:     30 * time.Second,
	}
	tagger := analysis.NewTagger(analysis.NewLexiconScorer(), cfg)

	coordinator := room.NewCoordinator(room.CoordinatorConfig{
		MaxRooms:   maxRooms,
		AutoCreate: autoCreate,
		Session: room.SessionConfig{
			// Long intervals so tests never race a tick.
			StatsInterval:        time.Hour,
			WordcloudInterval:    time.Hour,
			WordcloudTopK:        50,
			RingCapacity:         100,
			SubscriberBuffer:     64,
			MailboxSize:          256,
			ReconnectMaxAttempts: 5,
			ReconnectBaseDelay:   time.Millisecond,
			ReconnectMultiplier:  2,
			StatsHistory:         50,
		},
	}, room.SessionDeps{
		Dialer:    dialer,
		Tagger:    tagger,
		Tokenizer: analysis.NewUnicodeTokenizer(),
		Archiver:  room.NopArchiver{},
	})
	t.Cleanup(coordinator.Shutdown)

	handler := NewHandler(coordinator, tagger, nil)
	srv := httptest.NewServer(NewRouter(handler, nil).Setup())
	t.Cleanup(srv.Close)

	return &fixture{srv: srv, dialer: dialer, coordinator: coordinator, handler: handler}
}

// envelope mirrors models.APIResponse with a raw data payload for decoding.
type envelope struct {
	Status string           `json:"status"`
	Data   json.RawMessage  `json:"data"`
	Error  *models.APIError `json:"error"`
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) (int, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, f.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode %s %s response: %v", method, path, err)
	}
	return resp.StatusCode, env
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestAddRoomAndList(t *testing.T) {
	f := newFixture(t, 4, false)

	status, env := f.do(t, http.MethodPost, "/api/v1/live/rooms", map[string]string{"room_id": "92613"})
	if status != http.StatusCreated {
		t.Fatalf("POST rooms = %d, want 201", status)
	}

	var info models.RoomInfo
	if err := json.Unmarshal(env.Data, &info); err != nil {
		t.Fatalf("decode room info: %v", err)
	}
	if info.RoomID != "92613" {
		t.Errorf("RoomID = %q, want 92613", info.RoomID)
	}

	waitFor(t, time.Second, func() bool {
		return f.dialer.feed("92613") != nil
	})

	status, env = f.do(t, http.MethodGet, "/api/v1/live/rooms", nil)
	if status != http.StatusOK {
		t.Fatalf("GET rooms = %d, want 200", status)
	}
	var rooms []models.RoomInfo
	if err := json.Unmarshal(env.Data, &rooms); err != nil {
		t.Fatalf("decode rooms: %v", err)
	}
	if len(rooms) != 1 || rooms[0].RoomID != "92613" {
		t.Errorf("rooms = %+v, want single entry 92613", rooms)
	}
}

func TestAddRoomRejectsBadInput(t *testing.T) {
	f := newFixture(t, 4, false)

	tests := []struct {
		name string
		body interface{}
	}{
		{"missing room_id", map[string]string{}},
		{"empty room_id", map[string]string{"room_id": ""}},
		{"invalid characters", map[string]string{"room_id": "../etc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := f.do(t, http.MethodPost, "/api/v1/live/rooms", tt.body)
			if status != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", status)
			}
			if env.Error == nil || env.Error.Code != codeValidation {
				t.Errorf("error = %+v, want %s", env.Error, codeValidation)
			}
		})
	}
}

func TestAddRoomDuplicateConflict(t *testing.T) {
	f := newFixture(t, 4, false)

	f.do(t, http.MethodPost, "/api/v1/live/rooms", map[string]string{"room_id": "1"})
	status, env := f.do(t, http.MethodPost, "/api/v1/live/rooms", map[string]string{"room_id": "1"})
	if status != http.StatusConflict {
		t.Errorf("status = %d, want 409", status)
	}
	if env.Error == nil || env.Error.Code != codeRoomExists {
		t.Errorf("error = %+v, want %s", env.Error, codeRoomExists)
	}
}

func TestAddRoomLimit(t *testing.T) {
	f := newFixture(t, 2, false)

	f.do(t, http.MethodPost, "/api/v1/live/rooms", map[string]string{"room_id": "1"})
	f.do(t, http.MethodPost, "/api/v1/live/rooms", map[string]string{"room_id": "2"})

	status, env := f.do(t, http.MethodPost, "/api/v1/live/rooms", map[string]string{"room_id": "3"})
	if status != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", status)
	}
	if env.Error == nil || env.Error.Code != codeRoomLimit {
		t.Errorf("error = %+v, want %s", env.Error, codeRoomLimit)
	}
}

func TestRemoveRoom(t *testing.T) {
	f := newFixture(t, 4, false)

	f.do(t, http.MethodPost, "/api/v1/live/rooms", map[string]string{"room_id": "1"})

	status, _ := f.do(t, http.MethodDelete, "/api/v1/live/rooms/1", nil)
	if status != http.StatusOK {
		t.Errorf("DELETE = %d, want 200", status)
	}

	status, env := f.do(t, http.MethodGet, "/api/v1/live/rooms/1/status", nil)
	if status != http.StatusNotFound {
		t.Errorf("status after delete = %d, want 404", status)
	}
	if env.Error == nil || env.Error.Code != codeRoomNotFound {
		t.Errorf("error = %+v, want %s", env.Error, codeRoomNotFound)
	}

	status, _ = f.do(t, http.MethodDelete, "/api/v1/live/rooms/unknown", nil)
	if status != http.StatusNotFound {
		t.Errorf("DELETE unknown = %d, want 404", status)
	}
}

func TestRoomRecentAndStats(t *testing.T) {
	f := newFixture(t, 4, false)

	f.do(t, http.MethodPost, "/api/v1/live/rooms", map[string]string{"room_id": "7"})
	waitFor(t, time.Second, func() bool { return f.dialer.feed("7") != nil })

	f.dialer.feed("7").events <- danmakuFrame(t, "great stream")
	f.dialer.feed("7").events <- danmakuFrame(t, "hello")

	waitFor(t, time.Second, func() bool {
		_, env := f.do(t, http.MethodGet, "/api/v1/live/rooms/7/recent", nil)
		var recent []models.ScoredComment
		if err := json.Unmarshal(env.Data, &recent); err != nil {
			return false
		}
		return len(recent) == 2
	})

	status, env := f.do(t, http.MethodGet, "/api/v1/live/rooms/7/stats", nil)
	if status != http.StatusOK {
		t.Fatalf("GET stats = %d, want 200", status)
	}
	var stats models.RoomStats
	if err := json.Unmarshal(env.Data, &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalComments != 2 {
		t.Errorf("TotalComments = %d, want 2", stats.TotalComments)
	}

	status, _ = f.do(t, http.MethodGet, "/api/v1/live/rooms/7/stats/history", nil)
	if status != http.StatusOK {
		t.Errorf("GET stats/history = %d, want 200", status)
	}

	status, _ = f.do(t, http.MethodGet, "/api/v1/live/rooms/7/wordcloud", nil)
	if status != http.StatusOK {
		t.Errorf("GET wordcloud = %d, want 200", status)
	}
}

func TestRecentLimitParam(t *testing.T) {
	f := newFixture(t, 4, false)

	f.do(t, http.MethodPost, "/api/v1/live/rooms", map[string]string{"room_id": "7"})
	waitFor(t, time.Second, func() bool { return f.dialer.feed("7") != nil })

	for i := 0; i < 5; i++ {
		f.dialer.feed("7").events <- danmakuFrame(t, "hello")
	}
	waitFor(t, time.Second, func() bool {
		_, env := f.do(t, http.MethodGet, "/api/v1/live/rooms/7/recent", nil)
		var recent []models.ScoredComment
		return json.Unmarshal(env.Data, &recent) == nil && len(recent) == 5
	})

	_, env := f.do(t, http.MethodGet, "/api/v1/live/rooms/7/recent?limit=2", nil)
	var recent []models.ScoredComment
	if err := json.Unmarshal(env.Data, &recent); err != nil {
		t.Fatalf("decode recent: %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("len(recent) = %d, want 2", len(recent))
	}
}

func TestAggregateEndpoints(t *testing.T) {
	f := newFixture(t, 4, false)

	f.do(t, http.MethodPost, "/api/v1/live/rooms", map[string]string{"room_id": "a"})
	f.do(t, http.MethodPost, "/api/v1/live/rooms", map[string]string{"room_id": "b"})
	waitFor(t, time.Second, func() bool {
		return f.dialer.feed("a") != nil && f.dialer.feed("b") != nil
	})

	for i := 0; i < 3; i++ {
		f.dialer.feed("b").events <- danmakuFrame(t, "hello")
	}
	waitFor(t, time.Second, func() bool {
		_, env := f.do(t, http.MethodGet, "/api/v1/live/rooms/b/stats", nil)
		var stats models.RoomStats
		return json.Unmarshal(env.Data, &stats) == nil && stats.TotalComments == 3
	})

	status, env := f.do(t, http.MethodGet, "/api/v1/live/ranking", nil)
	if status != http.StatusOK {
		t.Fatalf("GET ranking = %d, want 200", status)
	}
	var ranking []models.RoomID
	if err := json.Unmarshal(env.Data, &ranking); err != nil {
		t.Fatalf("decode ranking: %v", err)
	}
	if len(ranking) != 2 || ranking[0] != "b" {
		t.Errorf("ranking = %v, want [b a]", ranking)
	}

	status, env = f.do(t, http.MethodGet, "/api/v1/live/stats", nil)
	if status != http.StatusOK {
		t.Fatalf("GET stats = %d, want 200", status)
	}
	var perRoom map[models.RoomID]models.RoomStats
	if err := json.Unmarshal(env.Data, &perRoom); err != nil {
		t.Fatalf("decode per-room stats: %v", err)
	}
	if len(perRoom) != 2 {
		t.Errorf("per-room stats has %d entries, want 2", len(perRoom))
	}

	status, _ = f.do(t, http.MethodGet, "/api/v1/live/tokens", nil)
	if status != http.StatusOK {
		t.Errorf("GET tokens = %d, want 200", status)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t, 4, false)

	status, env := f.do(t, http.MethodGet, "/api/v1/health", nil)
	if status != http.StatusOK {
		t.Fatalf("GET health = %d, want 200", status)
	}

	var health models.HealthStatus
	if err := json.Unmarshal(env.Data, &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", health.Status)
	}
	if health.BreakerState != "closed" {
		t.Errorf("BreakerState = %q, want closed", health.BreakerState)
	}

	for _, path := range []string{"/api/v1/health/live", "/api/v1/health/ready"} {
		status, _ := f.do(t, http.MethodGet, path, nil)
		if status != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, status)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, 4, false)

	resp, err := f.srv.Client().Get(f.srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /metrics = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte("danmu_")) {
		t.Error("metrics output missing danmu_ prefixed series")
	}
}

func TestRequestIDHeader(t *testing.T) {
	f := newFixture(t, 4, false)

	resp, err := f.srv.Client().Get(f.srv.URL + "/api/v1/health/live")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("response missing X-Request-ID header")
	}
}
