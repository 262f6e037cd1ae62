// Danmulens - Live Danmaku Stream Analytics
// Copyright 2026 Danmulens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/danmulens/danmulens

// Package websocket is the viewer gateway: it bridges one viewer's websocket
// connection to a room's broadcast hub (or the aggregate view) and
// serializes outgoing messages onto the transport.
package websocket

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/danmulens/danmulens/internal/logging"
	"github.com/danmulens/danmulens/internal/models"
	"github.com/danmulens/danmulens/internal/room"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024 // 64 KB; viewers only send control messages
)

// Client is the per-viewer boundary object. Messages flow from the hub
// subscription to the websocket connection; the only inbound traffic is the
// viewer's application-level ping. When the transport closes, for any
// reason, the client deregisters itself from the hub.
type Client struct {
	conn        *websocket.Conn
	sub         *room.Subscriber
	unsubscribe func()
	catchUp     []models.Message

	// pongs routes ping replies from the read pump to the write pump;
	// the connection allows only one concurrent writer.
	pongs chan models.Message
}

// NewClient wires a connection to an existing hub subscription. unsubscribe
// is invoked exactly once when the client shuts down. catchUp messages are
// written before any live broadcast.
func NewClient(conn *websocket.Conn, sub *room.Subscriber, unsubscribe func(), catchUp ...models.Message) *Client {
	return &Client{
		conn:        conn,
		sub:         sub,
		unsubscribe: unsubscribe,
		catchUp:     catchUp,
		pongs:       make(chan models.Message, 4),
	}
}

// Start begins the read and write pumps. It returns immediately; the pumps
// run until the connection or the subscription ends.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// readPump consumes inbound frames. Its exit is the single teardown path:
// unsubscribing from the hub stops the write pump via the Done signal.
func (c *Client) readPump() {
	defer func() {
		c.unsubscribe()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("Failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg models.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logging.Debug().Err(err).Msg("Viewer connection closed unexpectedly")
			}
			return
		}

		if msg.Type == models.MessageTypePing {
			select {
			case c.pongs <- models.Message{
				Type: models.MessageTypePong,
				Data: models.PongData{Timestamp: time.Now()},
			}:
			default:
				// Viewer is pinging faster than we can reply; drop.
			}
		}
	}
}

// writePump serializes catch-up and live messages to the connection and
// keeps the transport alive with protocol pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for _, msg := range c.catchUp {
		if !c.writeMessage(msg) {
			return
		}
	}

	for {
		select {
		case msg := <-c.sub.Messages():
			if !c.writeMessage(msg) {
				return
			}

		case msg := <-c.pongs:
			if !c.writeMessage(msg) {
				return
			}

		case <-c.sub.Done():
			// Drain anything already queued, then close politely.
			for {
				select {
				case msg := <-c.sub.Messages():
					if !c.writeMessage(msg) {
						return
					}
					continue
				default:
				}
				break
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) writeMessage(msg models.Message) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		logging.Debug().Err(err).Msg("Failed to write viewer message")
		return false
	}
	return true
}
