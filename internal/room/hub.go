// Danmulens - Live Danmaku Stream Analytics
// Copyright 2026 Danmulens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/danmulens/danmulens

package room

import (
	"sync"

	"github.com/danmulens/danmulens/internal/metrics"
	"github.com/danmulens/danmulens/internal/models"
)

// Subscriber is one viewer's live handle on a hub. Messages arrive on
// Messages(); Done() is closed when the subscription ends from the hub side.
type Subscriber struct {
	ID string

	ch   chan models.Message
	done chan struct{}
}

// Messages returns the subscriber's outbound message channel.
func (s *Subscriber) Messages() <-chan models.Message {
	return s.ch
}

// Done is closed when the hub drops the subscription (unsubscribe or hub
// shutdown).
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Hub multicasts derived messages to the subscriber set of one room (or the
// aggregate view). Publish never blocks the producer: each subscriber has a
// bounded buffer, and when it is full the oldest queued message for that
// subscriber is dropped.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]*Subscriber
	bufferSize  int
	closed      bool
}

// NewHub creates a hub whose subscribers buffer up to bufferSize messages.
func NewHub(bufferSize int) *Hub {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Hub{
		subscribers: make(map[string]*Subscriber),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a subscriber id. Idempotent: subscribing an id that is
// already registered returns the existing handle, so a viewer never receives
// duplicate copies of a broadcast.
func (h *Hub) Subscribe(id string) *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub, ok := h.subscribers[id]; ok {
		return sub
	}

	sub := &Subscriber{
		ID:   id,
		ch:   make(chan models.Message, h.bufferSize),
		done: make(chan struct{}),
	}
	if h.closed {
		close(sub.done)
		return sub
	}
	h.subscribers[id] = sub
	metrics.ActiveSubscribers.Inc()
	return sub
}

// Unsubscribe removes a subscriber. Idempotent; unknown ids are a no-op.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subscribers[id]
	if !ok {
		return
	}
	delete(h.subscribers, id)
	close(sub.done)
	metrics.ActiveSubscribers.Dec()
}

// Publish delivers msg to every subscriber without ever blocking. A
// subscriber whose buffer is full loses its oldest queued message.
func (h *Hub) Publish(msg models.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subscribers {
		select {
		case sub.ch <- msg:
		default:
			// Buffer full: drop the oldest, then retry once.
			select {
			case <-sub.ch:
				metrics.BroadcastsDropped.Inc()
			default:
			}
			select {
			case sub.ch <- msg:
			default:
			}
		}
	}
	metrics.RecordBroadcast(msg.Type)
}

// Len returns the current subscriber count.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// CloseAll drops every subscriber and rejects future subscriptions. Used
// when a session reaches its terminal state.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subscribers {
		delete(h.subscribers, id)
		close(sub.done)
		metrics.ActiveSubscribers.Dec()
	}
}
