// Danmulens - Live Danmaku Stream Analytics
// Copyright 2026 Danmulens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/danmulens/danmulens

package room

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/danmulens/danmulens/internal/analysis"
	"github.com/danmulens/danmulens/internal/logging"
	"github.com/danmulens/danmulens/internal/metrics"
	"github.com/danmulens/danmulens/internal/models"
)

// CoordinatorConfig holds the registry-level tunables.
type CoordinatorConfig struct {
	MaxRooms      int
	AutoCreate    bool
	IdleTimeout   time.Duration
	WordcloudTopK int
	Session       SessionConfig
}

// Coordinator owns the room registry: it creates, looks up, and destroys
// sessions, enforces the concurrent-room limit, and computes the cross-room
// aggregate view. The registry map is the only state shared across
// goroutines and sits behind a single short-held mutex; the per-room hot
// path never touches it.
type Coordinator struct {
	cfg  CoordinatorConfig
	deps SessionDeps

	mu          sync.Mutex
	rooms       map[models.RoomID]*Session
	autoCreated map[models.RoomID]bool
	baseCtx     context.Context

	aggHub *Hub
}

// NewCoordinator builds an empty registry.
func NewCoordinator(cfg CoordinatorConfig, deps SessionDeps) *Coordinator {
	if cfg.MaxRooms < 1 {
		cfg.MaxRooms = 4
	}
	if cfg.WordcloudTopK < 1 {
		cfg.WordcloudTopK = 50
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = cfg.Session.StatsInterval
	}
	return &Coordinator{
		cfg:         cfg,
		deps:        deps,
		rooms:       make(map[models.RoomID]*Session),
		autoCreated: make(map[models.RoomID]bool),
		baseCtx:     context.Background(),
		aggHub:      NewHub(cfg.Session.SubscriberBuffer),
	}
}

// Serve runs the coordinator's housekeeping loop: reaping terminal and idle
// sessions and publishing the aggregate view on the stats cadence. It
// satisfies the supervisor's service contract and returns when ctx ends.
func (c *Coordinator) Serve(ctx context.Context) error {
	c.mu.Lock()
	c.baseCtx = ctx
	c.mu.Unlock()

	interval := c.cfg.Session.StatsInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Shutdown()
			return ctx.Err()
		case <-ticker.C:
			c.reap()
			c.publishAggregate()
		}
	}
}

// AddRoom creates and starts a session for roomID. Fails cleanly with
// ErrRoomExists or ErrRoomLimitExceeded; no session is created on error.
func (c *Coordinator) AddRoom(roomID models.RoomID) (*Session, error) {
	return c.addRoom(roomID, false)
}

// EnsureRoom returns the existing session for roomID, creating one first
// when auto-create is enabled. Auto-created sessions are reaped after
// sitting without subscribers for the idle timeout.
func (c *Coordinator) EnsureRoom(roomID models.RoomID) (*Session, error) {
	c.mu.Lock()
	if sess, ok := c.rooms[roomID]; ok {
		c.mu.Unlock()
		return sess, nil
	}
	c.mu.Unlock()

	if !c.cfg.AutoCreate {
		return nil, ErrRoomNotFound
	}
	sess, err := c.addRoom(roomID, true)
	if err == ErrRoomExists {
		// Lost the race to a concurrent creator; use theirs.
		return c.GetRoom(roomID)
	}
	return sess, err
}

func (c *Coordinator) addRoom(roomID models.RoomID, auto bool) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.rooms[roomID]; ok {
		return nil, ErrRoomExists
	}
	if len(c.rooms) >= c.cfg.MaxRooms {
		return nil, ErrRoomLimitExceeded
	}

	sess := NewSession(roomID, c.cfg.Session, c.deps)
	c.rooms[roomID] = sess
	c.autoCreated[roomID] = auto
	metrics.ActiveRooms.Set(float64(len(c.rooms)))

	sess.Run(c.baseCtx)
	logging.Info().
		Str("room_id", string(roomID)).
		Bool("auto_created", auto).
		Int("active_rooms", len(c.rooms)).
		Msg("Room session started")

	return sess, nil
}

// RemoveRoom initiates teardown of a session. It does not block waiting for
// the session loop to exit.
func (c *Coordinator) RemoveRoom(roomID models.RoomID) error {
	c.mu.Lock()
	sess, ok := c.rooms[roomID]
	if ok {
		delete(c.rooms, roomID)
		delete(c.autoCreated, roomID)
		metrics.ActiveRooms.Set(float64(len(c.rooms)))
	}
	c.mu.Unlock()

	if !ok {
		return ErrRoomNotFound
	}

	sess.Stop()
	metrics.RoomsClosed.WithLabelValues("removed").Inc()
	logging.Info().
		Str("room_id", string(roomID)).
		Msg("Room session removal initiated")
	return nil
}

// GetRoom looks up an active session.
func (c *Coordinator) GetRoom(roomID models.RoomID) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return sess, nil
}

// Rooms lists the active sessions, ordered by room id for stable output.
func (c *Coordinator) Rooms() []models.RoomInfo {
	sessions := c.sessions()

	infos := make([]models.RoomInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sess.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].RoomID < infos[j].RoomID
	})
	return infos
}

// AggregateSnapshot reads every session's current state and builds the
// cross-room view: rooms ranked by total comments (ties rank the newer
// session first) and the merged top-K token list (ties lexicographic).
// Read-only: sessions are never mutated from here.
func (c *Coordinator) AggregateSnapshot() models.AggregateSnapshot {
	sessions := c.sessions()

	type ranked struct {
		stats     models.RoomStats
		createdAt time.Time
	}
	entries := make([]ranked, 0, len(sessions))
	tokenSets := make([]map[string]int, 0, len(sessions))
	perRoom := make(map[models.RoomID]models.RoomStats, len(sessions))

	for _, sess := range sessions {
		stats := sess.Stats()
		entries = append(entries, ranked{stats: stats, createdAt: sess.CreatedAt()})
		tokenSets = append(tokenSets, sess.TokenSnapshot())
		perRoom[sess.RoomID()] = stats
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].stats.TotalComments != entries[j].stats.TotalComments {
			return entries[i].stats.TotalComments > entries[j].stats.TotalComments
		}
		return entries[i].createdAt.After(entries[j].createdAt)
	})

	ranking := make([]models.RoomID, 0, len(entries))
	for _, e := range entries {
		ranking = append(ranking, e.stats.RoomID)
	}

	return models.AggregateSnapshot{
		Ranking:         ranking,
		MergedTopTokens: analysis.MergeTopK(tokenSets, c.cfg.WordcloudTopK),
		PerRoomStats:    perRoom,
		GeneratedAt:     time.Now(),
	}
}

// SubscribeAggregate attaches a viewer to the aggregate view.
func (c *Coordinator) SubscribeAggregate(id string) *Subscriber {
	return c.aggHub.Subscribe(id)
}

// UnsubscribeAggregate detaches an aggregate viewer.
func (c *Coordinator) UnsubscribeAggregate(id string) {
	c.aggHub.Unsubscribe(id)
}

// Shutdown stops every session and drops all subscribers. Called when the
// coordinator's Serve context ends.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.rooms))
	for id, sess := range c.rooms {
		sessions = append(sessions, sess)
		delete(c.rooms, id)
		delete(c.autoCreated, id)
	}
	metrics.ActiveRooms.Set(0)
	c.mu.Unlock()

	for _, sess := range sessions {
		sess.Stop()
	}
	c.aggHub.CloseAll()
}

// reap removes sessions that reached the terminal state on their own and
// auto-created sessions idle beyond the timeout.
func (c *Coordinator) reap() {
	c.mu.Lock()
	var closed, idle []models.RoomID
	for id, sess := range c.rooms {
		if sess.State() == models.RoomStateClosed {
			closed = append(closed, id)
			continue
		}
		if !c.autoCreated[id] {
			continue
		}
		if since, ok := sess.IdleSince(); ok && time.Since(since) > c.cfg.IdleTimeout {
			idle = append(idle, id)
		}
	}
	for _, id := range closed {
		delete(c.rooms, id)
		delete(c.autoCreated, id)
	}
	c.mu.Unlock()

	for _, id := range closed {
		logging.Info().
			Str("room_id", string(id)).
			Msg("Reaped closed room session")
	}
	for _, id := range idle {
		if err := c.RemoveRoom(id); err == nil {
			metrics.RoomsClosed.WithLabelValues("idle").Inc()
			logging.Info().
				Str("room_id", string(id)).
				Msg("Reaped idle auto-created room session")
		}
	}

	c.mu.Lock()
	metrics.ActiveRooms.Set(float64(len(c.rooms)))
	c.mu.Unlock()
}

// publishAggregate pushes the current aggregate view to aggregate viewers.
func (c *Coordinator) publishAggregate() {
	if c.aggHub.Len() == 0 {
		return
	}
	snap := c.AggregateSnapshot()
	c.aggHub.Publish(models.Message{Type: models.MessageTypeStats, Data: snap})
	c.aggHub.Publish(models.NewWordcloudMessage("aggregate", 0, snap.MergedTopTokens))
}

func (c *Coordinator) sessions() []*Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Session, 0, len(c.rooms))
	for _, sess := range c.rooms {
		out = append(out, sess)
	}
	return out
}
