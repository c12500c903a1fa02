package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/signup-verification/internal/config"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisWindowStoreLimits(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	clock := newFakeClock()
	l := NewLimiter("resend_email", config.Limit{Max: 3, Window: time.Hour},
		NewRedisWindowStore(rdb, "test:"), WithClock(clock.Now))

	for want := 2; want >= 0; want-- {
		d := l.Check(ctx, "a@example.com")
		require.True(t, d.Allowed)
		assert.Equal(t, want, d.Remaining)
		clock.Advance(10 * time.Minute)
	}

	d := l.Check(ctx, "a@example.com")
	assert.False(t, d.Allowed)
	assert.Equal(t, 30*time.Minute, d.RetryAfter)

	key := "test:rl:resend_email:a@example.com:3600000"
	assert.True(t, mr.Exists(key))
	n, err := rdb.ZCard(ctx, key).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	clock.Advance(30 * time.Minute)
	assert.True(t, l.Check(ctx, "a@example.com").Allowed)
}

func TestRedisWindowStoreSameInstantHitsAreDistinct(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	s := NewRedisWindowStore(rdb, "")

	for i := 0; i < 3; i++ {
		st, err := s.Hit(ctx, "k", 5, time.Minute, t0)
		require.NoError(t, err)
		assert.Equal(t, i+1, st.Count)
	}
}

func TestRedisWindowStorePeekDoesNotRecord(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	s := NewRedisWindowStore(rdb, "")

	st, err := s.Peek(ctx, "k", 1, time.Minute, t0)
	require.NoError(t, err)
	assert.True(t, st.Allowed)
	assert.False(t, mr.Exists("k"))

	_, err = s.Hit(ctx, "k", 1, time.Minute, t0)
	require.NoError(t, err)
	st, err = s.Peek(ctx, "k", 1, time.Minute, t0.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, st.Allowed)
	assert.Equal(t, 1, st.Count)
	assert.True(t, t0.Equal(st.Oldest))
}

func TestRedisWindowStoreFailsOpenWhenDown(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = rdb.Close() })
	l := NewLimiter("signup_ip", config.Limit{Max: 1, Window: time.Hour}, NewRedisWindowStore(rdb, ""))

	assert.True(t, l.Check(context.Background(), "ip").Allowed)
	assert.True(t, l.Check(context.Background(), "ip").Allowed)
}

func TestRedisBanStore(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	clock := newFakeClock()
	b := NewBanTracker(NewRedisBanStore(rdb, "test:", 24*time.Hour), 3, time.Hour, WithClock(clock.Now))

	assert.True(t, b.TrackFailedAttempt(ctx, "ip", ActionVerify))
	assert.True(t, b.TrackFailedAttempt(ctx, "ip", ActionVerify))
	assert.False(t, b.TrackFailedAttempt(ctx, "ip", ActionVerify))
	assert.False(t, b.IsBanned(ctx, "ip", ActionSignup))

	until, banned := b.BannedUntil(ctx, "ip", ActionVerify)
	require.True(t, banned)
	assert.Equal(t, t0.Add(time.Hour), until.UTC())

	clock.Advance(time.Hour)
	assert.False(t, b.IsBanned(ctx, "ip", ActionVerify))
	assert.True(t, b.TrackFailedAttempt(ctx, "ip", ActionVerify))
}
