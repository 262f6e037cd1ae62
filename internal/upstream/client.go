// Danmulens - Live Danmaku Stream Analytics
// Copyright 2026 Danmulens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/danmulens/danmulens

// Package upstream connects to the live-broadcast relay and turns its raw
// frames into typed internal events. Reconnection policy lives with the room
// session, not here: a Feed represents exactly one connection attempt's
// lifetime.
package upstream

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/danmulens/danmulens/internal/logging"
	"github.com/danmulens/danmulens/internal/models"
)

// RawEvent is one frame from the upstream relay.
//
// Comment frames carry the payload in Data's "info" array; gift and interact
// frames carry it in a nested "data" object.
type RawEvent struct {
	Cmd  string          `json:"cmd"`
	Data json.RawMessage `json:"data"`
}

// Feed is one live connection to a room's event stream. ReadEvent returns
// frames in arrival order; once it returns an error the feed is dead and
// must be closed.
type Feed interface {
	ReadEvent(ctx context.Context) (RawEvent, error)
	Close() error
}

// Dialer establishes feeds. The websocket implementation is the production
// dialer; tests substitute fakes.
type Dialer interface {
	Dial(ctx context.Context, roomID models.RoomID) (Feed, error)
}

const (
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

// WebSocketDialer dials the relay's websocket endpoint, one connection per
// room.
type WebSocketDialer struct {
	baseURL        string
	connectTimeout time.Duration
}

// NewWebSocketDialer builds a dialer for the given relay base URL
// (http(s):// or ws(s)://).
func NewWebSocketDialer(baseURL string, connectTimeout time.Duration) *WebSocketDialer {
	return &WebSocketDialer{
		baseURL:        baseURL,
		connectTimeout: connectTimeout,
	}
}

// Dial connects to the relay for one room. The returned feed owns the
// connection and its keepalive goroutine.
func (d *WebSocketDialer) Dial(ctx context.Context, roomID models.RoomID) (Feed, error) {
	wsURL, err := d.buildURL(roomID)
	if err != nil {
		return nil, fmt.Errorf("build websocket url: %w", err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout:  d.connectTimeout,
		EnableCompression: true,
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	logging.Info().
		Str("room_id", string(roomID)).
		Msg("Upstream feed connected")

	feed := &wsFeed{
		conn:     conn,
		roomID:   roomID,
		stopPing: make(chan struct{}),
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	go feed.pingLoop()

	return feed, nil
}

// buildURL converts the base URL scheme to ws(s) and appends the room id.
func (d *WebSocketDialer) buildURL(roomID models.RoomID) (string, error) {
	parsed, err := url.Parse(d.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}

	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	}

	q := parsed.Query()
	q.Set("room_id", string(roomID))
	parsed.RawQuery = q.Encode()

	return parsed.String(), nil
}

// wsFeed wraps one websocket connection as a Feed.
type wsFeed struct {
	conn   *websocket.Conn
	roomID models.RoomID

	stopPing  chan struct{}
	closeOnce sync.Once
}

// ReadEvent blocks for the next parseable frame. Malformed frames are
// dropped with a debug log and the read continues; connection errors are
// returned to the caller.
func (f *wsFeed) ReadEvent(ctx context.Context) (RawEvent, error) {
	for {
		if err := ctx.Err(); err != nil {
			return RawEvent{}, err
		}

		if err := f.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return RawEvent{}, fmt.Errorf("set read deadline: %w", err)
		}

		_, payload, err := f.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return RawEvent{}, ctx.Err()
			}
			return RawEvent{}, fmt.Errorf("read frame: %w", err)
		}

		var raw RawEvent
		if err := json.Unmarshal(payload, &raw); err != nil {
			logging.Debug().
				Err(err).
				Str("room_id", string(f.roomID)).
				Msg("Dropping malformed upstream frame")
			continue
		}
		return raw, nil
	}
}

// Close shuts down the keepalive loop and the connection. Idempotent.
func (f *wsFeed) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.stopPing)
		writeErr := f.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		if writeErr != nil {
			logging.Debug().Err(writeErr).Msg("Failed to send close frame")
		}
		err = f.conn.Close()
	})
	return err
}

func (f *wsFeed) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopPing:
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := f.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				logging.Debug().
					Err(err).
					Str("room_id", string(f.roomID)).
					Msg("Upstream ping failed")
				return
			}
		}
	}
}
