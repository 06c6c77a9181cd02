// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package conversation_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sigil-dev/aria/internal/conversation"
	"github.com/sigil-dev/aria/internal/store"
	ariaerr "github.com/sigil-dev/aria/pkg/errors"
	"github.com/sigil-dev/aria/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory store.ConversationStore with call counters and
// an optional gate that blocks loads until released.
type memStore struct {
	mu      sync.Mutex
	records map[string]store.ConversationRecord
	gate    chan struct{}
	started chan struct{}

	loads   atomic.Int32
	saves   atomic.Int32
	deletes atomic.Int32
}

func newMemStore() *memStore {
	return &memStore{records: map[string]store.ConversationRecord{}}
}

func (m *memStore) LoadConversation(_ context.Context, key string, notBefore time.Time) (*store.ConversationRecord, error) {
	m.loads.Add(1)
	if m.started != nil {
		m.started <- struct{}{}
	}
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok || rec.LastActivityAt.Before(notBefore) {
		return nil, ariaerr.Wrap(store.ErrNotFound, ariaerr.CodeStoreConversationNotFound, "not found")
	}
	return &rec, nil
}

func (m *memStore) SaveConversation(_ context.Context, rec *store.ConversationRecord) error {
	m.saves.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Key] = *rec
	return nil
}

func (m *memStore) DeleteConversation(_ context.Context, key string) error {
	m.deletes.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}

func (m *memStore) PurgeConversations(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, r := range m.records {
		if r.LastActivityAt.Before(olderThan) {
			delete(m.records, k)
			n++
		}
	}
	return n, nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) record(key string) (store.ConversationRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[key]
	return r, ok
}

func text(s string) []types.Part { return []types.Part{types.TextPart{Text: s}} }

func newCache(t *testing.T, st store.ConversationStore, cfg conversation.Config) *conversation.Cache {
	t.Helper()
	if cfg.Debounce == 0 {
		cfg.Debounce = 20 * time.Millisecond
	}
	c := conversation.New(st, cfg)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func texts(turns []types.Turn) []string {
	out := make([]string, len(turns))
	for i, t := range turns {
		out[i] = t.Text()
	}
	return out
}

func TestCache_AppendThenHistoryIsCacheFirst(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	c := newCache(t, st, conversation.Config{})

	sender := &types.Attribution{ID: "u1", Username: "ann"}
	require.NoError(t, c.Append(ctx, "dm:u1", types.RoleUser, text("hello"), sender))
	loadsAfterAppend := st.loads.Load()

	got, err := c.History(ctx, "dm:u1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Text())
	assert.Equal(t, sender, got[0].Sender)
	assert.False(t, got[0].Timestamp.IsZero())
	assert.Equal(t, loadsAfterAppend, st.loads.Load(), "history is served from memory")
}

func TestCache_RingBufferKeepsMostRecent(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, newMemStore(), conversation.Config{MaxTurns: 3})

	for i := range 5 {
		require.NoError(t, c.Append(ctx, "k", types.RoleUser, text(fmt.Sprintf("m%d", i)), nil))
	}

	got, err := c.History(ctx, "k", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "m3", "m4"}, texts(got))

	last, err := c.History(ctx, "k", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"m3", "m4"}, texts(last))
}

func TestCache_AppendValidation(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	c := newCache(t, st, conversation.Config{})

	require.NoError(t, c.Append(ctx, "k", types.RoleUser, text("   "), nil))
	require.NoError(t, c.Append(ctx, "k", types.RoleUser, nil, nil))
	assert.Equal(t, 0, c.Len(), "empty content is a no-op")

	err := c.Append(ctx, "k", types.Role("system"), text("x"), nil)
	assert.True(t, ariaerr.IsInvalidInput(err))

	err = c.Append(ctx, "", types.RoleUser, text("x"), nil)
	assert.True(t, ariaerr.IsInvalidInput(err))
}

func TestCache_DebouncedWritesCoalesce(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	c := newCache(t, st, conversation.Config{Debounce: 50 * time.Millisecond})

	for i := range 5 {
		require.NoError(t, c.Append(ctx, "k", types.RoleUser, text(fmt.Sprintf("m%d", i)), nil))
	}
	assert.Equal(t, int32(0), st.saves.Load())

	require.Eventually(t, func() bool { return st.saves.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), st.saves.Load(), "a burst produces one write")

	rec, ok := st.record("k")
	require.True(t, ok)
	assert.Len(t, rec.Turns, 5, "the write carries the latest state")
}

func TestCache_ClearCancelsPendingWrite(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	c := newCache(t, st, conversation.Config{Debounce: 30 * time.Millisecond})

	require.NoError(t, c.Append(ctx, "k", types.RoleUser, text("secret"), nil))
	require.NoError(t, c.Clear(ctx, "k"))

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(0), st.saves.Load())
	assert.Equal(t, int32(1), st.deletes.Load())

	got, err := c.History(ctx, "k", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCache_TombstoneBeatsLateDurableRead(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	now := time.Now()
	require.NoError(t, st.SaveConversation(ctx, &store.ConversationRecord{
		Key:            "k",
		Turns:          []types.Turn{{Role: types.RoleUser, Parts: text("old"), Timestamp: now}},
		CreatedAt:      now,
		LastActivityAt: now,
	}))
	st.gate = make(chan struct{})
	st.started = make(chan struct{}, 1)
	c := newCache(t, st, conversation.Config{})

	type result struct {
		turns []types.Turn
		err   error
	}
	done := make(chan result, 1)
	go func() {
		turns, err := c.History(ctx, "k", 10)
		done <- result{turns, err}
	}()

	<-st.started
	require.NoError(t, c.Clear(ctx, "k"))
	// Put the stale record back as if the delete had not reached it yet.
	require.NoError(t, st.SaveConversation(ctx, &store.ConversationRecord{
		Key:            "k",
		Turns:          []types.Turn{{Role: types.RoleUser, Parts: text("old"), Timestamp: now}},
		LastActivityAt: now,
	}))
	close(st.gate)

	res := <-done
	require.NoError(t, res.err)
	assert.Empty(t, res.turns, "the load that raced the clear is discarded")

	again, err := c.History(ctx, "k", 10)
	require.NoError(t, err)
	assert.Empty(t, again, "the tombstone short-circuits later reads")

	require.NoError(t, c.Append(ctx, "k", types.RoleUser, text("new"), nil))
	fresh, err := c.History(ctx, "k", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, texts(fresh))
}

func TestCache_ConcurrentMissesShareOneLoad(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	now := time.Now()
	require.NoError(t, st.SaveConversation(ctx, &store.ConversationRecord{
		Key:            "k",
		Turns:          []types.Turn{{Role: types.RoleUser, Parts: text("hi"), Timestamp: now}},
		LastActivityAt: now,
	}))
	st.gate = make(chan struct{})
	st.started = make(chan struct{}, 16)
	c := newCache(t, st, conversation.Config{})

	const callers = 8
	var wg sync.WaitGroup
	results := make([][]types.Turn, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			turns, err := c.History(ctx, "k", 10)
			assert.NoError(t, err)
			results[i] = turns
		}()
	}

	<-st.started
	time.Sleep(50 * time.Millisecond)
	close(st.gate)
	wg.Wait()

	assert.Equal(t, int32(1), st.loads.Load())
	for _, r := range results {
		assert.Equal(t, []string{"hi"}, texts(r))
	}
}

func TestCache_LoadNormalizesRecords(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	activity := time.Now().Add(-time.Minute).UTC()
	require.NoError(t, st.SaveConversation(ctx, &store.ConversationRecord{
		Key: "k",
		Turns: []types.Turn{
			{Role: types.RoleUser, Parts: text("keep")},
			{Role: types.Role("system"), Parts: text("drop role")},
			{Role: types.RoleAssistant},
			{Role: types.RoleAssistant, Parts: text("reply"), Timestamp: activity.Add(-time.Second)},
		},
		LastActivityAt: activity,
	}))
	c := newCache(t, st, conversation.Config{})

	got, err := c.History(ctx, "k", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"keep", "reply"}, texts(got))
	assert.Equal(t, activity, got[0].Timestamp, "missing timestamps default to last activity")
}

func TestCache_ExpiryAndSweep(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	c := newCache(t, st, conversation.Config{TTL: time.Minute, Debounce: time.Hour})

	now := time.Now()
	c.SetNowFunc(func() time.Time { return now })
	require.NoError(t, c.Append(ctx, "k", types.RoleUser, text("hi"), nil))
	require.NoError(t, c.Close())

	now = now.Add(2 * time.Minute)
	c.Sweep()
	assert.Equal(t, 0, c.Len())

	got, err := c.History(ctx, "k", 10)
	require.NoError(t, err)
	assert.Empty(t, got, "expired durable entries are treated as absent")

	n, err := c.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCache_CloseFlushesPendingWrites(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	c := conversation.New(st, conversation.Config{Debounce: time.Hour})

	require.NoError(t, c.Append(ctx, "a", types.RoleUser, text("one"), nil))
	require.NoError(t, c.Append(ctx, "b", types.RoleAssistant, text("two"), nil))
	require.NoError(t, c.Close())

	assert.Equal(t, int32(2), st.saves.Load())
	_, ok := st.record("b")
	assert.True(t, ok)
}

func TestCache_CloseRacingDebouncedWrites(t *testing.T) {
	ctx := context.Background()
	for range 20 {
		st := newMemStore()
		c := conversation.New(st, conversation.Config{Debounce: time.Millisecond})

		keys := make([]string, 30)
		for i := range keys {
			keys[i] = fmt.Sprintf("k%d", i)
			require.NoError(t, c.Append(ctx, keys[i], types.RoleUser, text("hi"), nil))
		}
		time.Sleep(time.Millisecond)
		require.NoError(t, c.Close())

		for _, key := range keys {
			_, ok := st.record(key)
			assert.True(t, ok, key)
		}
	}
}

func TestCache_AppendPreservesDurableHistory(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	now := time.Now()
	require.NoError(t, st.SaveConversation(ctx, &store.ConversationRecord{
		Key:            "k",
		Turns:          []types.Turn{{Role: types.RoleUser, Parts: text("earlier"), Timestamp: now}},
		CreatedAt:      now,
		LastActivityAt: now,
	}))
	c := newCache(t, st, conversation.Config{})

	require.NoError(t, c.Append(ctx, "k", types.RoleAssistant, text("later"), nil))
	got, err := c.History(ctx, "k", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"earlier", "later"}, texts(got))
}
