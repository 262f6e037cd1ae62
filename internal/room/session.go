// Danmulens - Live Danmaku Stream Analytics
// Copyright 2026 Danmulens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/danmulens/danmulens

package room

import (
	"context"
	"sync"
	"time"

	"github.com/danmulens/danmulens/internal/analysis"
	"github.com/danmulens/danmulens/internal/logging"
	"github.com/danmulens/danmulens/internal/metrics"
	"github.com/danmulens/danmulens/internal/models"
	"github.com/danmulens/danmulens/internal/upstream"
)

// Archiver receives a copy of every normalized event for durable archival.
// Implementations must never block; the session fires and forgets.
type Archiver interface {
	Archive(kind string, event interface{})
}

// NopArchiver discards everything. Used when archiving is disabled.
type NopArchiver struct{}

// Archive does nothing.
func (NopArchiver) Archive(string, interface{}) {}

// SessionConfig holds the per-room tunables. Zero values are replaced with
// safe minimums by NewSession.
type SessionConfig struct {
	StatsInterval        time.Duration
	WordcloudInterval    time.Duration
	WordcloudTopK        int
	RingCapacity         int
	SubscriberBuffer     int
	MailboxSize          int
	ReconnectMaxAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMultiplier  int
	StatsHistory         int
}

func (c *SessionConfig) applyDefaults() {
	if c.StatsInterval <= 0 {
		c.StatsInterval = 5 * time.Second
	}
	if c.WordcloudInterval <= 0 {
		c.WordcloudInterval = 10 * time.Second
	}
	if c.WordcloudTopK < 1 {
		c.WordcloudTopK = 50
	}
	if c.RingCapacity < 1 {
		c.RingCapacity = 100
	}
	if c.SubscriberBuffer < 1 {
		c.SubscriberBuffer = 64
	}
	if c.MailboxSize < 1 {
		c.MailboxSize = 256
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = 3 * time.Second
	}
	if c.ReconnectMultiplier < 1 {
		c.ReconnectMultiplier = 2
	}
	if c.StatsHistory < 1 {
		c.StatsHistory = 50
	}
}

// SessionDeps are the collaborators a session needs.
type SessionDeps struct {
	Dialer    upstream.Dialer
	Tagger    *analysis.Tagger
	Tokenizer analysis.Tokenizer
	Archiver  Archiver
}

// Session owns one room: its upstream connection, event mailbox, rolling
// state, and subscriber hub. All mutation of session state happens on the
// session's own goroutine; readers get copies through the snapshot methods,
// which share a short-held mutex with the loop.
type Session struct {
	roomID    models.RoomID
	cfg       SessionConfig
	deps      SessionDeps
	hub       *Hub
	createdAt time.Time

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	mu            sync.RWMutex
	state         models.RoomState
	ring          *commentRing
	freq          *analysis.FrequencyTable
	histogram     models.SentimentHistogram
	totalComments int64
	totalGifts    int64
	giftValue     int64
	sentimentSum  float64
	windowCount   int64
	windowStart   time.Time
	windowSeq     uint64
	lastStats     models.RoomStats
	statsHistory  []models.RoomStats
	lastWordcloud []models.WordCount
	emptySince    time.Time
}

// NewSession builds a session in the Connecting state. Run must be called to
// start ingestion.
func NewSession(roomID models.RoomID, cfg SessionConfig, deps SessionDeps) *Session {
	cfg.applyDefaults()
	if deps.Archiver == nil {
		deps.Archiver = NopArchiver{}
	}

	now := time.Now()
	return &Session{
		roomID:      roomID,
		cfg:         cfg,
		deps:        deps,
		hub:         NewHub(cfg.SubscriberBuffer),
		createdAt:   now,
		done:        make(chan struct{}),
		state:       models.RoomStateConnecting,
		ring:        newCommentRing(cfg.RingCapacity),
		freq:        analysis.NewFrequencyTable(),
		windowStart: now,
		emptySince:  now,
	}
}

// Run starts the session loop on its own goroutine. The loop stops when
// Stop is called or ctx is canceled.
func (s *Session) Run(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)
}

// Stop initiates teardown: the upstream connection is closed, subscribers
// get one final disconnected status, and the loop exits. It does not block;
// use Done to wait.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// Done is closed once the session loop has fully exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// run drives the connect/ingest/reconnect cycle until the context ends or
// reconnection attempts are exhausted.
func (s *Session) run(ctx context.Context) {
	defer s.close()

	attempts := 0
	delay := s.cfg.ReconnectBaseDelay

	for {
		if ctx.Err() != nil {
			return
		}

		// A session that has already been live stays Draining for the
		// whole reconnect phase; buffered stats remain readable.
		if s.State() != models.RoomStateDraining {
			s.setState(models.RoomStateConnecting)
		}
		s.hub.Publish(models.NewStatusMessage(models.StatusConnecting, s.roomID))

		feed, err := s.deps.Dialer.Dial(ctx, s.roomID)
		if err != nil {
			attempts++
			metrics.ReconnectAttempts.Inc()
			logging.Warn().
				Err(err).
				Str("room_id", string(s.roomID)).
				Int("attempt", attempts).
				Msg("Upstream connect failed")

			if s.cfg.ReconnectMaxAttempts > 0 && attempts >= s.cfg.ReconnectMaxAttempts {
				metrics.RoomsClosed.WithLabelValues("reconnect_exhausted").Inc()
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= time.Duration(s.cfg.ReconnectMultiplier)
			continue
		}

		attempts = 0
		delay = s.cfg.ReconnectBaseDelay
		s.setState(models.RoomStateLive)
		s.hub.Publish(models.NewStatusMessage(models.StatusConnected, s.roomID))

		s.liveLoop(ctx, feed)
		_ = feed.Close()

		if ctx.Err() != nil {
			return
		}

		// Connection lost: drain while attempting bounded reconnection.
		// Buffered stats stay readable throughout.
		s.setState(models.RoomStateDraining)
		logging.Info().
			Str("room_id", string(s.roomID)).
			Msg("Upstream connection lost, reconnecting")
	}
}

// liveLoop pumps feed events through a bounded mailbox and runs the two
// aggregation tickers. Returns when the feed dies or ctx ends.
func (s *Session) liveLoop(ctx context.Context, feed upstream.Feed) {
	mailbox := make(chan upstream.RawEvent, s.cfg.MailboxSize)
	readErr := make(chan error, 1)

	pumpCtx, stopPump := context.WithCancel(ctx)
	defer stopPump()

	go func() {
		for {
			raw, err := feed.ReadEvent(pumpCtx)
			if err != nil {
				readErr <- err
				return
			}
			// Blocking send: a full mailbox backpressures the upstream
			// read instead of shedding events. Only viewer fan-out may
			// drop; every ingested event reaches the counters.
			select {
			case mailbox <- raw:
			case <-pumpCtx.Done():
				return
			}
		}
	}()

	statsTicker := time.NewTicker(s.cfg.StatsInterval)
	defer statsTicker.Stop()
	wordcloudTicker := time.NewTicker(s.cfg.WordcloudInterval)
	defer wordcloudTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-readErr:
			if ctx.Err() == nil {
				logging.Debug().
					Err(err).
					Str("room_id", string(s.roomID)).
					Msg("Upstream feed read ended")
			}
			return
		case raw := <-mailbox:
			s.processRaw(ctx, raw)
		case <-statsTicker.C:
			s.hub.Publish(models.NewStatsMessage(s.statsTick(time.Now())))
		case <-wordcloudTicker.C:
			seq, words := s.wordcloudTick()
			s.hub.Publish(models.NewWordcloudMessage(s.roomID, seq, words))
		}
	}
}

// processRaw normalizes one frame and applies it to session state.
func (s *Session) processRaw(ctx context.Context, raw upstream.RawEvent) {
	ev, ok := upstream.Normalize(s.roomID, raw, time.Now())
	if !ok {
		return
	}

	switch ev := ev.(type) {
	case models.CommentEvent:
		scored := s.deps.Tagger.Tag(ctx, ev)
		tokens := s.deps.Tokenizer.Tokenize(ev.RawText)

		s.mu.Lock()
		s.ring.Push(scored)
		s.totalComments++
		s.windowCount++
		s.sentimentSum += scored.SentimentScore
		s.histogram.Add(scored.SentimentLabel)
		s.freq.Add(tokens...)
		s.mu.Unlock()

		s.hub.Publish(models.NewDanmakuMessage(scored))
		s.deps.Archiver.Archive(models.MessageTypeDanmaku, scored)

	case models.GiftEvent:
		s.mu.Lock()
		s.totalGifts++
		s.giftValue += ev.Value
		s.mu.Unlock()

		s.hub.Publish(models.NewGiftMessage(ev))
		s.deps.Archiver.Archive(models.MessageTypeGift, ev)

	case models.PresenceEvent:
		s.hub.Publish(models.NewInteractMessage(ev))
		s.deps.Archiver.Archive(models.MessageTypeInteract, ev)
	}
}

// statsTick snapshots the counters into a RoomStats, resets the windowed
// rate counter, and appends to the stats history.
func (s *Session) statsTick(now time.Time) models.RoomStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	elapsed := now.Sub(s.windowStart).Minutes()
	var rate float64
	if elapsed > 0 {
		rate = float64(s.windowCount) / elapsed
	}

	var avg float64
	if scored := s.histogram.Total(); scored > 0 {
		avg = s.sentimentSum / float64(scored)
	}

	s.windowSeq++
	stats := models.RoomStats{
		RoomID:               s.roomID,
		TotalComments:        s.totalComments,
		TotalGifts:           s.totalGifts,
		TotalGiftValue:       s.giftValue,
		CommentRatePerMinute: rate,
		AvgSentiment:         avg,
		SentimentDist:        s.histogram,
		WindowStart:          s.windowStart,
		WindowSeq:            s.windowSeq,
	}

	s.windowCount = 0
	s.windowStart = now
	s.lastStats = stats

	s.statsHistory = append(s.statsHistory, stats)
	if len(s.statsHistory) > s.cfg.StatsHistory {
		s.statsHistory = s.statsHistory[len(s.statsHistory)-s.cfg.StatsHistory:]
	}

	return stats
}

// wordcloudTick publishes the cumulative top-K. The frequency table is not
// reset; only the emission is periodic.
func (s *Session) wordcloudTick() (uint64, []models.WordCount) {
	s.mu.Lock()
	defer s.mu.Unlock()

	words := s.freq.TopK(s.cfg.WordcloudTopK)
	s.lastWordcloud = words
	return s.windowSeq, words
}

// close is the single exit path for the session loop: terminal state,
// exactly one final disconnected status, all subscriber references dropped.
func (s *Session) close() {
	s.setState(models.RoomStateClosed)
	s.hub.Publish(models.NewStatusMessage(models.StatusDisconnected, s.roomID))
	s.hub.CloseAll()
	close(s.done)

	logging.Info().
		Str("room_id", string(s.roomID)).
		Msg("Room session closed")
}

func (s *Session) setState(state models.RoomState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// RoomID returns the session's room id.
func (s *Session) RoomID() models.RoomID {
	return s.roomID
}

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// State returns the current lifecycle state.
func (s *Session) State() models.RoomState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Info returns the externally visible summary of the session.
func (s *Session) Info() models.RoomInfo {
	return models.RoomInfo{
		RoomID:      s.roomID,
		State:       s.State(),
		Subscribers: s.hub.Len(),
		CreatedAt:   s.createdAt,
	}
}

// Stats builds a point-in-time stats snapshot from the live counters. Unlike
// the tick, it does not advance the window sequence or reset anything.
func (s *Session) Stats() models.RoomStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var avg float64
	if scored := s.histogram.Total(); scored > 0 {
		avg = s.sentimentSum / float64(scored)
	}

	stats := s.lastStats
	stats.RoomID = s.roomID
	stats.TotalComments = s.totalComments
	stats.TotalGifts = s.totalGifts
	stats.TotalGiftValue = s.giftValue
	stats.AvgSentiment = avg
	stats.SentimentDist = s.histogram
	return stats
}

// StatsHistory returns the retained stats snapshots, oldest first.
func (s *Session) StatsHistory() []models.RoomStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.RoomStats, len(s.statsHistory))
	copy(out, s.statsHistory)
	return out
}

// LastWordcloud returns the most recently published top-K list.
func (s *Session) LastWordcloud() []models.WordCount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.WordCount, len(s.lastWordcloud))
	copy(out, s.lastWordcloud)
	return out
}

// Recent returns up to n of the most recent scored comments, oldest first.
func (s *Session) Recent(n int) []models.ScoredComment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.ring.Snapshot()
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}

// TokenSnapshot returns a copy of the cumulative token counts, used by the
// coordinator's merged wordcloud.
func (s *Session) TokenSnapshot() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.freq.Snapshot()
}

// Subscribe attaches a viewer to the session's hub. Idempotent per id.
func (s *Session) Subscribe(id string) *Subscriber {
	sub := s.hub.Subscribe(id)
	s.touchEmpty()
	return sub
}

// Unsubscribe detaches a viewer. Idempotent.
func (s *Session) Unsubscribe(id string) {
	s.hub.Unsubscribe(id)
	s.touchEmpty()
}

// SubscriberCount returns the number of attached viewers.
func (s *Session) SubscriberCount() int {
	return s.hub.Len()
}

// IdleSince reports how long the session has had no subscribers; ok is false
// while at least one viewer is attached.
func (s *Session) IdleSince() (time.Time, bool) {
	if s.hub.Len() > 0 {
		return time.Time{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.emptySince, true
}

func (s *Session) touchEmpty() {
	s.mu.Lock()
	s.emptySince = time.Now()
	s.mu.Unlock()
}
