// Danmulens - Live Danmaku Stream Analytics
// Copyright 2026 Danmulens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/danmulens/danmulens

// Package archive delegates durable event history to NATS JetStream. The
// pipeline itself never persists: each normalized event is handed to a
// bounded queue and published asynchronously, and when the queue is full the
// event is dropped rather than slowing ingestion.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"

	"github.com/danmulens/danmulens/internal/config"
	"github.com/danmulens/danmulens/internal/logging"
	"github.com/danmulens/danmulens/internal/metrics"
)

// item is one queued archival record.
type item struct {
	kind    string
	payload []byte
}

// Publisher satisfies the session's archiver contract, buffering events and
// publishing them to JetStream subjects <prefix>.<kind>.
type Publisher struct {
	publisher     message.Publisher
	subjectPrefix string
	queue         chan item
}

// NewPublisher connects a watermill NATS publisher using the archive
// configuration.
func NewPublisher(cfg config.ArchiveConfig) (*Publisher, error) {
	logger := newWatermillLogger()

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("Archive NATS disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("Archive NATS reconnected")
		}),
	}

	pub, err := wmnats.NewPublisher(wmnats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmnats.NATSMarshaler{},
		JetStream: wmnats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false, // the stream is created by EnsureStream
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create archive publisher: %w", err)
	}

	return NewWithPublisher(pub, cfg), nil
}

// NewWithPublisher wraps an existing watermill publisher. Used directly by
// tests.
func NewWithPublisher(pub message.Publisher, cfg config.ArchiveConfig) *Publisher {
	queueSize := cfg.QueueSize
	if queueSize < 1 {
		queueSize = 1024
	}
	return &Publisher{
		publisher:     pub,
		subjectPrefix: cfg.SubjectPrefix,
		queue:         make(chan item, queueSize),
	}
}

// Archive enqueues one event for publication. Never blocks: when the queue
// is full the event is dropped and counted.
func (p *Publisher) Archive(kind string, event interface{}) {
	payload, err := json.Marshal(event)
	if err != nil {
		logging.Debug().Err(err).Str("kind", kind).Msg("Failed to encode archive event")
		metrics.ArchiveDropped.Inc()
		return
	}

	select {
	case p.queue <- item{kind: kind, payload: payload}:
	default:
		metrics.ArchiveDropped.Inc()
	}
}

// Serve drains the queue, publishing each record. It satisfies the
// supervisor's service contract and returns once ctx ends and the queue has
// been flushed.
func (p *Publisher) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.flush()
			if err := p.publisher.Close(); err != nil {
				logging.Warn().Err(err).Msg("Archive publisher close failed")
			}
			return ctx.Err()
		case it := <-p.queue:
			p.publish(it)
		}
	}
}

func (p *Publisher) flush() {
	for {
		select {
		case it := <-p.queue:
			p.publish(it)
		default:
			return
		}
	}
}

func (p *Publisher) publish(it item) {
	msg := message.NewMessage(uuid.New().String(), it.payload)
	msg.Metadata.Set("kind", it.kind)

	topic := p.subjectPrefix + "." + it.kind
	if err := p.publisher.Publish(topic, msg); err != nil {
		metrics.ArchiveDropped.Inc()
		logging.Warn().
			Err(err).
			Str("topic", topic).
			Msg("Archive publish failed")
		return
	}
	metrics.ArchivePublishes.Inc()
}
