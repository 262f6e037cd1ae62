// Danmulens - Live Danmaku Stream Analytics
// Copyright 2026 Danmulens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/danmulens/danmulens

package room

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/danmulens/danmulens/internal/analysis"
	"github.com/danmulens/danmulens/internal/config"
	"github.com/danmulens/danmulens/internal/models"
	"github.com/danmulens/danmulens/internal/upstream"
)

// fakeFeed replays scripted frames, then blocks until closed.
type fakeFeed struct {
	events    chan upstream.RawEvent
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeFeed(buffer int) *fakeFeed {
	return &fakeFeed{
		events: make(chan upstream.RawEvent, buffer),
		closed: make(chan struct{}),
	}
}

func (f *fakeFeed) ReadEvent(ctx context.Context) (upstream.RawEvent, error) {
	select {
	case raw := <-f.events:
		return raw, nil
	case <-f.closed:
		return upstream.RawEvent{}, errors.New("feed closed")
	case <-ctx.Done():
		return upstream.RawEvent{}, ctx.Err()
	}
}

func (f *fakeFeed) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// fakeDialer fails the first failures dials, then hands out feeds.
type fakeDialer struct {
	mu       sync.Mutex
	failures int
	dials    int
	feeds    []*fakeFeed
}

func (d *fakeDialer) Dial(ctx context.Context, roomID models.RoomID) (upstream.Feed, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if d.dials <= d.failures {
		return nil, errors.New("connect refused")
	}
	feed := newFakeFeed(256)
	d.feeds = append(d.feeds, feed)
	return feed, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) currentFeed() *fakeFeed {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.feeds) == 0 {
		return nil
	}
	return d.feeds[len(d.feeds)-1]
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

func giftFrame(t *testing.T, name string, num int, price int64) upstream.RawEvent {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{
		"giftName": name, "num": num, "uname": "viewer", "uid": 1, "price": price,
	})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return upstream.RawEvent{Cmd: "SEND_GIFT", Data: data}
}

// scriptedScorer returns a fixed score per text, defaulting to 0.5.
func scriptedScorer(scores map[string]float64) analysis.ScorerFunc {
	return func(_ context.Context, text string) (float64, error) {
		if s, ok := scores[text]; ok {
			return s, nil
		}
		return 0.5, nil
	}
}

func testSessionConfig() SessionConfig {
	return SessionConfig{
		// Long tick intervals so tests drive ticks explicitly.
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
	}
}

func testDeps(dialer upstream.Dialer, scorer analysis.Scorer) SessionDeps {
	if scorer == nil {
		scorer = scriptedScorer(nil)
	}
	return SessionDeps{
		Dialer:    dialer,
		Tagger:    analysis.NewTagger(scorer, config.AnalysisConfig{PositiveThreshold: 0.6, NegativeThreshold: 0.4, BreakerFailureThreshold: 5, BreakerResetTimeout: time.Minute}),
		Tokenizer: analysis.NewUnicodeTokenizer(),
		Archiver:  nil,
	}
}

func timeoutAfter(t *testing.T) <-chan time.Time {
	t.Helper()
	return time.After(5 * time.Second)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSessionCountsEveryComment(t *testing.T) {
	dialer := &fakeDialer{}
	sess := NewSession("1001", testSessionConfig(), testDeps(dialer, nil))
	sess.Run(context.Background())
	defer sess.Stop()

	waitFor(t, "session live", func() bool { return sess.State() == models.RoomStateLive })

	const n = 50
	feed := dialer.currentFeed()
	for i := 0; i < n; i++ {
		feed.events <- danmakuFrame(t, "主播加油")
	}

	waitFor(t, "all comments ingested", func() bool {
		return sess.Stats().TotalComments == n
	})

	stats := sess.statsTick(time.Now())
	if stats.TotalComments != n {
		t.Errorf("TotalComments = %d, want %d", stats.TotalComments, n)
	}
	if stats.WindowSeq != 1 {
		t.Errorf("WindowSeq = %d, want 1", stats.WindowSeq)
	}
}

func TestSessionCountsEveryCommentWithTinyMailbox(t *testing.T) {
	dialer := &fakeDialer{}
	cfg := testSessionConfig()
	// A one-slot mailbox forces the pump to backpressure the feed read;
	// no comment may be shed between ingestion and the counters.
	cfg.MailboxSize = 1
	sess := NewSession("1001", cfg, testDeps(dialer, nil))
	sess.Run(context.Background())
	defer sess.Stop()

	waitFor(t, "session live", func() bool { return sess.State() == models.RoomStateLive })

	const n = 2000
	feed := dialer.currentFeed()
	for i := 0; i < n; i++ {
		feed.events <- danmakuFrame(t, "主播加油")
	}

	waitFor(t, "all comments ingested", func() bool {
		return sess.Stats().TotalComments == n
	})
}

func TestSessionSentimentScenario(t *testing.T) {
	scores := map[string]float64{
		"text-positive": 0.9,
		"text-negative": 0.3,
		"text-neutral":  0.5,
	}
	dialer := &fakeDialer{}
	sess := NewSession("1001", testSessionConfig(), testDeps(dialer, scriptedScorer(scores)))
	sess.Run(context.Background())
	defer sess.Stop()

	waitFor(t, "session live", func() bool { return sess.State() == models.RoomStateLive })

	feed := dialer.currentFeed()
	for _, text := range []string{"text-positive", "text-negative", "text-neutral"} {
		feed.events <- danmakuFrame(t, text)
	}
	waitFor(t, "three comments ingested", func() bool {
		return sess.Stats().TotalComments == 3
	})

	stats := sess.statsTick(time.Now())
	want := models.SentimentHistogram{Positive: 1, Neutral: 1, Negative: 1}
	if stats.SentimentDist != want {
		t.Errorf("SentimentDist = %+v, want %+v", stats.SentimentDist, want)
	}
	if math.Abs(stats.AvgSentiment-0.5666) > 0.001 {
		t.Errorf("AvgSentiment = %v, want ~0.567", stats.AvgSentiment)
	}
}

func TestSessionGiftCounters(t *testing.T) {
	dialer := &fakeDialer{}
	sess := NewSession("1001", testSessionConfig(), testDeps(dialer, nil))
	sess.Run(context.Background())
	defer sess.Stop()

	waitFor(t, "session live", func() bool { return sess.State() == models.RoomStateLive })

	feed := dialer.currentFeed()
	feed.events <- giftFrame(t, "flower", 2, 100)
	feed.events <- giftFrame(t, "rocket", 1, 5000)

	waitFor(t, "gifts counted", func() bool {
		return sess.Stats().TotalGifts == 2
	})
	if got := sess.Stats().TotalGiftValue; got != 5200 {
		t.Errorf("TotalGiftValue = %d, want 5200", got)
	}
}

func TestSessionBroadcastsInArrivalOrder(t *testing.T) {
	dialer := &fakeDialer{}
	sess := NewSession("1001", testSessionConfig(), testDeps(dialer, nil))
	sess.Run(context.Background())
	defer sess.Stop()

	waitFor(t, "session live", func() bool { return sess.State() == models.RoomStateLive })
	sub := sess.Subscribe("viewer-1")

	texts := []string{"first", "second", "third"}
	feed := dialer.currentFeed()
	for _, text := range texts {
		feed.events <- danmakuFrame(t, text)
	}

	for i, want := range texts {
		select {
		case msg := <-sub.Messages():
			if msg.Type != models.MessageTypeDanmaku {
				t.Fatalf("message %d type = %q, want danmaku", i, msg.Type)
			}
			if got := msg.Data.(models.ScoredComment).RawText; got != want {
				t.Fatalf("message %d = %q, want %q", i, got, want)
			}
		case <-timeoutAfter(t):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}

func TestSessionWordcloudCumulative(t *testing.T) {
	dialer := &fakeDialer{}
	sess := NewSession("1001", testSessionConfig(), testDeps(dialer, nil))
	sess.Run(context.Background())
	defer sess.Stop()

	waitFor(t, "session live", func() bool { return sess.State() == models.RoomStateLive })

	feed := dialer.currentFeed()
	feed.events <- danmakuFrame(t, "加油 加油")
	feed.events <- danmakuFrame(t, "好棒")
	waitFor(t, "comments ingested", func() bool { return sess.Stats().TotalComments == 2 })

	_, first := sess.wordcloudTick()
	if len(first) != 2 || first[0].Name != "加油" || first[0].Value != 2 {
		t.Fatalf("first wordcloud = %v, want 加油/2 leading", first)
	}

	// The table is cumulative across ticks.
	feed.events <- danmakuFrame(t, "加油")
	waitFor(t, "third comment ingested", func() bool { return sess.Stats().TotalComments == 3 })
	_, second := sess.wordcloudTick()
	if second[0].Name != "加油" || second[0].Value != 3 {
		t.Fatalf("second wordcloud = %v, want 加油/3 leading", second)
	}
}

func TestSessionReconnectExhaustionCloses(t *testing.T) {
	dialer := &fakeDialer{failures: 1000}
	sess := NewSession("1001", testSessionConfig(), testDeps(dialer, nil))

	sub := sess.Subscribe("viewer-1")
	sess.Run(context.Background())

	select {
	case <-sess.Done():
	case <-timeoutAfter(t):
		t.Fatal("session did not close after exhausting reconnect attempts")
	}

	if sess.State() != models.RoomStateClosed {
		t.Errorf("State = %q, want closed", sess.State())
	}
	if got := dialer.dialCount(); got != 5 {
		t.Errorf("dial attempts = %d, want 5", got)
	}

	disconnects := 0
	for {
		select {
		case msg := <-sub.Messages():
			if msg.Type == models.MessageTypeStatus {
				if data := msg.Data.(models.StatusData); data.Status == models.StatusDisconnected {
					disconnects++
				}
			}
			continue
		default:
		}
		break
	}
	if disconnects != 1 {
		t.Errorf("received %d disconnected statuses, want exactly 1", disconnects)
	}
}

func TestSessionConnectsAfterTransientFailures(t *testing.T) {
	dialer := &fakeDialer{failures: 2} // success on attempt 3
	sess := NewSession("1001", testSessionConfig(), testDeps(dialer, nil))
	sub := sess.Subscribe("viewer-1")
	sess.Run(context.Background())
	defer sess.Stop()

	waitFor(t, "session live", func() bool { return sess.State() == models.RoomStateLive })
	if got := dialer.dialCount(); got != 3 {
		t.Errorf("dial attempts = %d, want 3", got)
	}

	// No disconnected status may have been emitted on the way to Live.
	for {
		select {
		case msg := <-sub.Messages():
			if msg.Type == models.MessageTypeStatus {
				if data := msg.Data.(models.StatusData); data.Status == models.StatusDisconnected {
					t.Fatal("disconnected status emitted before reaching Live")
				}
			}
			continue
		default:
		}
		break
	}
}

func TestSessionReconnectsAfterFeedLoss(t *testing.T) {
	dialer := &fakeDialer{}
	sess := NewSession("1001", testSessionConfig(), testDeps(dialer, nil))
	sess.Run(context.Background())
	defer sess.Stop()

	waitFor(t, "session live", func() bool { return sess.State() == models.RoomStateLive })
	first := dialer.currentFeed()
	first.Close()

	waitFor(t, "session reconnected", func() bool {
		return dialer.dialCount() == 2 && sess.State() == models.RoomStateLive
	})

	// Counters survive the reconnect.
	feed := dialer.currentFeed()
	feed.events <- danmakuFrame(t, "back again")
	waitFor(t, "comment after reconnect", func() bool {
		return sess.Stats().TotalComments == 1
	})
}

// lossyDialer connects on the first dial, then refuses until released.
type lossyDialer struct {
	mu       sync.Mutex
	dials    int
	released bool
	feeds    []*fakeFeed
}

func (d *lossyDialer) Dial(ctx context.Context, roomID models.RoomID) (upstream.Feed, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if d.dials > 1 && !d.released {
		return nil, errors.New("connect refused")
	}
	feed := newFakeFeed(256)
	d.feeds = append(d.feeds, feed)
	return feed, nil
}

func (d *lossyDialer) release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released = true
}

func (d *lossyDialer) currentFeed() *fakeFeed {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.feeds) == 0 {
		return nil
	}
	return d.feeds[len(d.feeds)-1]
}

func TestSessionDrainsAcrossReconnectAttempts(t *testing.T) {
	dialer := &lossyDialer{}
	cfg := testSessionConfig()
	cfg.ReconnectBaseDelay = 20 * time.Millisecond
	cfg.ReconnectMaxAttempts = 100
	sess := NewSession("1001", cfg, testDeps(dialer, nil))
	sess.Run(context.Background())
	defer sess.Stop()

	waitFor(t, "session live", func() bool { return sess.State() == models.RoomStateLive })
	dialer.currentFeed().events <- danmakuFrame(t, "before the drop")
	waitFor(t, "comment ingested", func() bool { return sess.Stats().TotalComments == 1 })

	dialer.currentFeed().Close()

	// The whole reconnect phase reports Draining, not Connecting.
	waitFor(t, "session draining", func() bool { return sess.State() == models.RoomStateDraining })

	// Buffered stats stay readable while reconnecting.
	if got := sess.Stats().TotalComments; got != 1 {
		t.Errorf("TotalComments while draining = %d, want 1", got)
	}

	dialer.release()
	waitFor(t, "session live again", func() bool { return sess.State() == models.RoomStateLive })
}

func TestSessionStopEmitsFinalDisconnect(t *testing.T) {
	dialer := &fakeDialer{}
	sess := NewSession("1001", testSessionConfig(), testDeps(dialer, nil))
	sess.Run(context.Background())

	waitFor(t, "session live", func() bool { return sess.State() == models.RoomStateLive })
	sub := sess.Subscribe("viewer-1")

	sess.Stop()
	select {
	case <-sess.Done():
	case <-timeoutAfter(t):
		t.Fatal("session did not exit after Stop")
	}

	if sess.State() != models.RoomStateClosed {
		t.Errorf("State = %q, want closed", sess.State())
	}
	select {
	case <-sub.Done():
	default:
		t.Error("subscriber not released on session close")
	}

	var sawDisconnect bool
	for {
		select {
		case msg := <-sub.Messages():
			if msg.Type == models.MessageTypeStatus &&
				msg.Data.(models.StatusData).Status == models.StatusDisconnected {
				sawDisconnect = true
			}
			continue
		default:
		}
		break
	}
	if !sawDisconnect {
		t.Error("no final disconnected status delivered")
	}
}

func TestSessionRecentComments(t *testing.T) {
	dialer := &fakeDialer{}
	sess := NewSession("1001", testSessionConfig(), testDeps(dialer, nil))
	sess.Run(context.Background())
	defer sess.Stop()

	waitFor(t, "session live", func() bool { return sess.State() == models.RoomStateLive })
	feed := dialer.currentFeed()
	for _, text := range []string{"one", "two", "three"} {
		feed.events <- danmakuFrame(t, text)
	}
	waitFor(t, "comments ingested", func() bool { return sess.Stats().TotalComments == 3 })

	recent := sess.Recent(2)
	if len(recent) != 2 || recent[0].RawText != "two" || recent[1].RawText != "three" {
		t.Errorf("Recent(2) = %v, want [two three]", recent)
	}
}

func TestSessionStatsHistoryBounded(t *testing.T) {
	dialer := &fakeDialer{}
	cfg := testSessionConfig()
	cfg.StatsHistory = 3
	sess := NewSession("1001", cfg, testDeps(dialer, nil))
	sess.Run(context.Background())
	defer sess.Stop()

	waitFor(t, "session live", func() bool { return sess.State() == models.RoomStateLive })
	for i := 0; i < 5; i++ {
		sess.statsTick(time.Now())
	}

	history := sess.StatsHistory()
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	// Window sequence numbers are monotonically increasing.
	for i := 1; i < len(history); i++ {
		if history[i].WindowSeq != history[i-1].WindowSeq+1 {
			t.Errorf("history seq %d then %d, want consecutive", history[i-1].WindowSeq, history[i].WindowSeq)
		}
	}
	if history[2].WindowSeq != 5 {
		t.Errorf("latest WindowSeq = %d, want 5", history[2].WindowSeq)
	}
}

func TestSessionRateWindowResets(t *testing.T) {
	dialer := &fakeDialer{}
	sess := NewSession("1001", testSessionConfig(), testDeps(dialer, nil))
	sess.Run(context.Background())
	defer sess.Stop()

	waitFor(t, "session live", func() bool { return sess.State() == models.RoomStateLive })
	feed := dialer.currentFeed()
	for i := 0; i < 10; i++ {
		feed.events <- danmakuFrame(t, "hi there")
	}
	waitFor(t, "comments ingested", func() bool { return sess.Stats().TotalComments == 10 })

	first := sess.statsTick(time.Now())
	if first.CommentRatePerMinute <= 0 {
		t.Errorf("first tick rate = %v, want > 0", first.CommentRatePerMinute)
	}

	// No new comments: the windowed rate drops to zero while totals persist.
	second := sess.statsTick(time.Now().Add(time.Minute))
	if second.CommentRatePerMinute != 0 {
		t.Errorf("second tick rate = %v, want 0", second.CommentRatePerMinute)
	}
	if second.TotalComments != 10 {
		t.Errorf("TotalComments = %d, want cumulative 10", second.TotalComments)
	}
}
