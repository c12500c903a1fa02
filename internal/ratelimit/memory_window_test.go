package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryWindowStoreEvictsLeastRecentlySeen(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryWindowStore(2)

	_, err := s.Hit(ctx, "a", 5, time.Hour, t0)
	require.NoError(t, err)
	_, err = s.Hit(ctx, "b", 5, time.Hour, t0.Add(time.Second))
	require.NoError(t, err)
	_, err = s.Hit(ctx, "a", 5, time.Hour, t0.Add(2*time.Second))
	require.NoError(t, err)

	_, err = s.Hit(ctx, "c", 5, time.Hour, t0.Add(3*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())

	// "b" was evicted, so it starts over; "a" still has two hits.
	st, _ := s.Hit(ctx, "b", 5, time.Hour, t0.Add(4*time.Second))
	assert.Equal(t, 1, st.Count)
}

func TestMemoryWindowStoreSweep(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryWindowStore(0)

	_, _ = s.Hit(ctx, "short", 5, time.Minute, t0)
	_, _ = s.Hit(ctx, "long", 5, time.Hour, t0)
	require.Equal(t, 2, s.Len())

	assert.Zero(t, s.Sweep(t0.Add(30*time.Second)))
	assert.Equal(t, 1, s.Sweep(t0.Add(time.Minute)))
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 1, s.Sweep(t0.Add(time.Hour)))
	assert.Zero(t, s.Len())
}

func TestMemoryWindowStoreBoundaryIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryWindowStore(0)

	st, _ := s.Hit(ctx, "k", 1, time.Minute, t0)
	require.True(t, st.Allowed)
	st, _ = s.Hit(ctx, "k", 1, time.Minute, t0.Add(time.Minute-time.Nanosecond))
	assert.False(t, st.Allowed)
	st, _ = s.Hit(ctx, "k", 1, time.Minute, t0.Add(time.Minute))
	assert.True(t, st.Allowed)
	assert.Equal(t, t0.Add(time.Minute), st.Oldest)
}

func TestMemoryWindowStoreHitSurvivesConcurrentRemoval(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryWindowStore(0)

	// A caller holds an entry that is swept before it takes the key lock.
	held := s.entry("k", time.Minute, t0)
	require.Equal(t, 1, s.Sweep(t0))
	_, ok := held.hit(1, t0)
	assert.False(t, ok, "removed entry must refuse the hit")

	st, err := s.Hit(ctx, "k", 1, time.Minute, t0)
	require.NoError(t, err)
	assert.True(t, st.Allowed)
	st, err = s.Hit(ctx, "k", 1, time.Minute, t0.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, st.Allowed, "the first hit must still count")
	assert.Equal(t, 1, s.Len())
}

func TestMemoryWindowStoreNewEntryIsNotEvictedFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryWindowStore(2)

	_, err := s.Hit(ctx, "old", 5, time.Hour, t0)
	require.NoError(t, err)
	// Created but not yet hit.
	s.entry("fresh", time.Hour, t0.Add(time.Second))
	_, err = s.Hit(ctx, "next", 5, time.Hour, t0.Add(2*time.Second))
	require.NoError(t, err)

	s.mu.Lock()
	_, oldKept := s.entries["old"]
	_, freshKept := s.entries["fresh"]
	s.mu.Unlock()
	assert.False(t, oldKept)
	assert.True(t, freshKept)
}

func TestMemoryWindowStorePeekDoesNotRecord(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryWindowStore(0)

	st, err := s.Peek(ctx, "k", 1, time.Minute, t0)
	require.NoError(t, err)
	assert.True(t, st.Allowed)
	assert.Zero(t, s.Len())

	_, _ = s.Hit(ctx, "k", 1, time.Minute, t0)
	st, _ = s.Peek(ctx, "k", 1, time.Minute, t0.Add(time.Second))
	assert.False(t, st.Allowed)
	assert.Equal(t, 1, st.Count)
	assert.Equal(t, t0, st.Oldest)

	st, _ = s.Peek(ctx, "k", 1, time.Minute, t0.Add(time.Minute))
	assert.True(t, st.Allowed)
}
