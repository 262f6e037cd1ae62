// Danmulens - Live Danmaku Stream Analytics
// Copyright 2026 Danmulens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/danmulens/danmulens

package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestBuildURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://relay.local:9000/feed", "ws://relay.local:9000/feed?room_id=1001"},
		{"https://relay.local/feed", "wss://relay.local/feed?room_id=1001"},
		{"ws://relay.local/feed", "ws://relay.local/feed?room_id=1001"},
	}

	for _, tt := range tests {
		d := NewWebSocketDialer(tt.base, 10*time.Second)
		got, err := d.buildURL("1001")
		if err != nil {
			t.Fatalf("buildURL(%q) error = %v", tt.base, err)
		}
		if got != tt.want {
			t.Errorf("buildURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestDialAndReadEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	frames := []string{
		`not json at all`, // must be skipped, not fatal
		`{"cmd": "DANMU_MSG", "data": {"info": [[], "hello", [1, "u"]]}}`,
		`{"cmd": "SEND_GIFT", "data": {"giftName": "flower", "num": 1, "uname": "u", "uid": 1}}`,
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("room_id"); got != "1001" {
			t.Errorf("room_id query = %q, want 1001", got)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		// Keep the connection open until the client is done.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	d := NewWebSocketDialer(strings.Replace(srv.URL, "http", "ws", 1), 5*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	feed, err := d.Dial(ctx, "1001")
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer feed.Close()

	first, err := feed.ReadEvent(ctx)
	if err != nil {
		t.Fatalf("ReadEvent() error = %v", err)
	}
	if first.Cmd != "DANMU_MSG" {
		t.Errorf("first frame cmd = %q, want DANMU_MSG (malformed frame skipped)", first.Cmd)
	}

	second, err := feed.ReadEvent(ctx)
	if err != nil {
		t.Fatalf("ReadEvent() error = %v", err)
	}
	if second.Cmd != "SEND_GIFT" {
		t.Errorf("second frame cmd = %q, want SEND_GIFT", second.Cmd)
	}
}

func TestReadEventAfterServerClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	d := NewWebSocketDialer(strings.Replace(srv.URL, "http", "ws", 1), 5*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	feed, err := d.Dial(ctx, "1001")
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer feed.Close()

	if _, err := feed.ReadEvent(ctx); err == nil {
		t.Fatal("ReadEvent() on a closed connection returned nil error")
	}
}

func TestFeedCloseIdempotent(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	d := NewWebSocketDialer(strings.Replace(srv.URL, "http", "ws", 1), 5*time.Second)
	feed, err := d.Dial(context.Background(), "1001")
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	if err := feed.Close(); err != nil {
		t.Errorf("first Close() error = %v", err)
	}
	// Second close must not panic or error.
	if err := feed.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestDialFailure(t *testing.T) {
	d := NewWebSocketDialer("ws://127.0.0.1:1", time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := d.Dial(ctx, "1001"); err == nil {
		t.Fatal("Dial() to unreachable address returned nil error")
	}
}
