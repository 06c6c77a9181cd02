// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package conversation keeps short-term conversational context: a bounded
// ring of recent turns per conversation key, cached in process and written
// back to a durable store after a debounce window.
package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sigil-dev/aria/internal/store"
	ariaerr "github.com/sigil-dev/aria/pkg/errors"
	"github.com/sigil-dev/aria/pkg/types"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultMaxTurns      = 20
	DefaultTTL           = 30 * time.Minute
	DefaultDebounce      = 2 * time.Second
	DefaultSweepInterval = 5 * time.Minute

	storeTimeout = 10 * time.Second
)

// Config tunes the cache.
type Config struct {
	MaxTurns      int
	TTL           time.Duration
	Debounce      time.Duration
	SweepInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxTurns <= 0 {
		c.MaxTurns = DefaultMaxTurns
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
}

type entry struct {
	turns        []types.Turn
	createdAt    time.Time
	lastActivity time.Time
}

// Cache is the conversation context cache. It is safe for concurrent use.
// Within one key, mutations apply in call order.
type Cache struct {
	store store.ConversationStore
	cfg   Config

	mu         sync.Mutex
	entries    map[string]*entry
	tombstones map[string]time.Time
	pending    map[string]*time.Timer
	closed     bool
	nowFunc    func() time.Time

	loads   singleflight.Group
	writes  sync.WaitGroup
	stop    chan struct{}
	stopped sync.WaitGroup
	once    sync.Once
}

// New creates a cache over a durable store. Call Start to run the
// background sweep and Close to flush pending writes.
func New(st store.ConversationStore, cfg Config) *Cache {
	cfg.applyDefaults()
	return &Cache{
		store:      st,
		cfg:        cfg,
		entries:    make(map[string]*entry),
		tombstones: make(map[string]time.Time),
		pending:    make(map[string]*time.Timer),
		nowFunc:    time.Now,
		stop:       make(chan struct{}),
	}
}

// SetNowFunc overrides the clock. For tests.
func (c *Cache) SetNowFunc(fn func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nowFunc = fn
}

// Config returns the effective configuration.
func (c *Cache) Config() Config { return c.cfg }

// Start launches the periodic sweep of expired entries and tombstones.
func (c *Cache) Start() {
	c.stopped.Add(1)
	go func() {
		defer c.stopped.Done()
		ticker := time.NewTicker(c.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}

// Close stops the sweep, cancels pending debounce timers and writes their
// latest state synchronously. Appends after Close stay in memory only.
func (c *Cache) Close() error {
	c.once.Do(func() { close(c.stop) })
	c.stopped.Wait()

	c.mu.Lock()
	c.closed = true
	keys := make([]string, 0, len(c.pending))
	for key, t := range c.pending {
		t.Stop()
		keys = append(keys, key)
	}
	c.mu.Unlock()

	var errs []error
	for _, key := range keys {
		if err := c.flush(key, false); err != nil {
			errs = append(errs, err)
		}
	}
	c.writes.Wait()
	return errors.Join(errs...)
}

// Append adds a turn to the conversation. Turns without content are
// ignored. It clears any tombstone for key and schedules a debounced write.
func (c *Cache) Append(ctx context.Context, key string, role types.Role, parts []types.Part, sender *types.Attribution) error {
	if key == "" {
		return ariaerr.New(ariaerr.CodeConversationInvalidInput, "conversation key is required")
	}
	if !role.Valid() {
		return ariaerr.New(ariaerr.CodeConversationInvalidInput, "unsupported role",
			ariaerr.FieldConversationKey(key), ariaerr.Field("role", string(role)))
	}
	turn := types.Turn{Role: role, Parts: parts, Sender: sender}
	if !turn.HasContent() {
		return nil
	}

	// Populate the cache first so the write-back never clobbers durable
	// history that was not loaded yet.
	if !c.cached(key) {
		if _, err := c.load(ctx, key); err != nil {
			slog.Warn("conversation: history load before append failed", "conversation_key", key, "error", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFunc()
	turn.Timestamp = now

	e := c.entries[key]
	if e == nil || c.expiredLocked(e, now) {
		e = &entry{createdAt: now}
		c.entries[key] = e
	}
	e.turns = appendCapped(e.turns, turn, c.cfg.MaxTurns)
	if now.After(e.lastActivity) {
		e.lastActivity = now
	}
	delete(c.tombstones, key)

	c.scheduleLocked(key)
	return nil
}

// History returns up to maxMessages of the most recent turns, oldest first.
// maxMessages <= 0 returns the whole buffer.
func (c *Cache) History(ctx context.Context, key string, maxMessages int) ([]types.Turn, error) {
	c.mu.Lock()
	if e := c.liveLocked(key); e != nil {
		out := tail(e.turns, maxMessages)
		c.mu.Unlock()
		return out, nil
	}
	if c.tombstonedLocked(key) {
		c.mu.Unlock()
		return nil, nil
	}
	c.mu.Unlock()

	turns, err := c.load(ctx, key)
	if err != nil {
		return nil, err
	}
	return tail(turns, maxMessages), nil
}

// Clear drops the conversation from memory, writes a tombstone, cancels a
// pending write and deletes the durable copy.
func (c *Cache) Clear(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.tombstones[key] = c.nowFunc()
	if t, ok := c.pending[key]; ok {
		t.Stop()
		delete(c.pending, key)
	}
	c.mu.Unlock()

	if err := c.store.DeleteConversation(ctx, key); err != nil {
		return ariaerr.Wrap(err, ariaerr.CodeStoreDatabaseFailure, "deleting conversation", ariaerr.FieldConversationKey(key))
	}
	return nil
}

// Sweep removes expired entries and tombstones.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.nowFunc()
	for key, e := range c.entries {
		if _, busy := c.pending[key]; !busy && c.expiredLocked(e, now) {
			delete(c.entries, key)
		}
	}
	for key, at := range c.tombstones {
		if now.Sub(at) > c.cfg.TTL {
			delete(c.tombstones, key)
		}
	}
}

// PurgeExpired deletes durable conversations idle for longer than the TTL.
func (c *Cache) PurgeExpired(ctx context.Context) (int64, error) {
	c.mu.Lock()
	cutoff := c.nowFunc().Add(-c.cfg.TTL)
	c.mu.Unlock()
	return c.store.PurgeConversations(ctx, cutoff)
}

// Len reports the number of cached conversations.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) cached(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(key) != nil || c.tombstonedLocked(key)
}

// load reads key from the durable store once per concurrent burst. The
// tombstone is checked before and after the read so a clear that races
// the load wins.
func (c *Cache) load(ctx context.Context, key string) ([]types.Turn, error) {
	v, err, _ := c.loads.Do(key, func() (any, error) {
		c.mu.Lock()
		if c.tombstonedLocked(key) {
			c.mu.Unlock()
			return []types.Turn(nil), nil
		}
		notBefore := c.nowFunc().Add(-c.cfg.TTL)
		c.mu.Unlock()

		// One caller's cancellation must not fail the others sharing the load.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
		defer cancel()

		rec, err := c.store.LoadConversation(loadCtx, key, notBefore)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, ariaerr.Wrap(err, ariaerr.CodeConversationLoadFailure, "loading conversation", ariaerr.FieldConversationKey(key))
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.tombstonedLocked(key) {
			return []types.Turn(nil), nil
		}
		if e := c.liveLocked(key); e != nil {
			return tail(e.turns, 0), nil
		}
		if rec == nil {
			return []types.Turn(nil), nil
		}

		e := &entry{
			turns:        normalize(rec.Turns, rec.LastActivityAt, c.cfg.MaxTurns),
			createdAt:    rec.CreatedAt,
			lastActivity: rec.LastActivityAt,
		}
		if e.createdAt.IsZero() {
			e.createdAt = e.lastActivity
		}
		if len(e.turns) == 0 {
			return []types.Turn(nil), nil
		}
		c.entries[key] = e
		return tail(e.turns, 0), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]types.Turn), nil
}

func (c *Cache) scheduleLocked(key string) {
	if c.closed {
		return
	}
	if _, ok := c.pending[key]; ok {
		return
	}
	c.pending[key] = time.AfterFunc(c.cfg.Debounce, func() {
		if err := c.flush(key, true); err != nil {
			slog.Warn("conversation: debounced write failed", "conversation_key", key, "error", err)
		}
	})
}

// flush writes the latest in-memory state of key. Timer-fired flushes
// that lose the race with Close are skipped; Close writes those keys itself.
func (c *Cache) flush(key string, scheduled bool) error {
	c.mu.Lock()
	if scheduled && c.closed {
		c.mu.Unlock()
		return nil
	}
	delete(c.pending, key)
	e := c.entries[key]
	if e == nil {
		c.mu.Unlock()
		return nil
	}
	rec := &store.ConversationRecord{
		Key:            key,
		Turns:          tail(e.turns, 0),
		CreatedAt:      e.createdAt,
		LastActivityAt: e.lastActivity,
	}
	snapshotAt := c.nowFunc()
	c.writes.Add(1)
	c.mu.Unlock()
	defer c.writes.Done()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := c.store.SaveConversation(ctx, rec); err != nil {
		return err
	}

	// A clear that landed while the write was in flight must not be undone.
	c.mu.Lock()
	at, cleared := c.tombstones[key]
	c.mu.Unlock()
	if cleared && !at.Before(snapshotAt) {
		return c.store.DeleteConversation(ctx, key)
	}
	return nil
}

func (c *Cache) liveLocked(key string) *entry {
	e := c.entries[key]
	if e == nil {
		return nil
	}
	if c.expiredLocked(e, c.nowFunc()) {
		delete(c.entries, key)
		return nil
	}
	return e
}

func (c *Cache) expiredLocked(e *entry, now time.Time) bool {
	return now.Sub(e.lastActivity) > c.cfg.TTL
}

func (c *Cache) tombstonedLocked(key string) bool {
	at, ok := c.tombstones[key]
	if !ok {
		return false
	}
	if c.nowFunc().Sub(at) > c.cfg.TTL {
		delete(c.tombstones, key)
		return false
	}
	return true
}

// normalize drops turns with unknown roles or no content, defaults missing
// timestamps and keeps the newest limit turns.
func normalize(raw []types.Turn, fallback time.Time, limit int) []types.Turn {
	out := make([]types.Turn, 0, len(raw))
	for _, t := range raw {
		if !t.Role.Valid() || !t.HasContent() {
			continue
		}
		if t.Timestamp.IsZero() {
			t.Timestamp = fallback
		}
		out = append(out, t)
	}
	return tail(out, limit)
}

func appendCapped(turns []types.Turn, t types.Turn, limit int) []types.Turn {
	turns = append(turns, t)
	if len(turns) <= limit {
		return turns
	}
	trimmed := make([]types.Turn, limit)
	copy(trimmed, turns[len(turns)-limit:])
	return trimmed
}

// tail copies the last n turns (all when n <= 0).
func tail(turns []types.Turn, n int) []types.Turn {
	if n <= 0 || n > len(turns) {
		n = len(turns)
	}
	out := make([]types.Turn, n)
	copy(out, turns[len(turns)-n:])
	return out
}
