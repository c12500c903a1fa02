package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/signup-verification/internal/config"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type failingWindowStore struct{}

func (failingWindowStore) Hit(context.Context, string, int, time.Duration, time.Time) (WindowState, error) {
	return WindowState{}, errors.New("connection refused")
}

func (failingWindowStore) Peek(context.Context, string, int, time.Duration, time.Time) (WindowState, error) {
	return WindowState{}, errors.New("connection refused")
}

func TestLimiterWindowCorrectness(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	l := NewLimiter("signup_ip", config.Limit{Max: 3, Window: time.Hour}, NewMemoryWindowStore(0), WithClock(clock.Now))

	for want := 2; want >= 0; want-- {
		d := l.Check(ctx, "1.2.3.4")
		require.True(t, d.Allowed)
		assert.Equal(t, want, d.Remaining)
		assert.Zero(t, d.RetryAfter)
		clock.Advance(time.Minute)
	}

	d := l.Check(ctx, "1.2.3.4")
	assert.False(t, d.Allowed)
	assert.Zero(t, d.Remaining)
	// Oldest hit was at t0, so the slot frees at t0+1h; now is t0+3m.
	assert.Equal(t, 57*time.Minute, d.RetryAfter)
	assert.Equal(t, 57*60, d.RetryAfterSeconds())
	assert.Equal(t, t0.Add(time.Hour), d.ResetAt)

	// Other identifiers keep their own budget.
	assert.True(t, l.Check(ctx, "5.6.7.8").Allowed)
}

func TestLimiterSlidesWithOldestHit(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	l := NewLimiter("resend_email", config.Limit{Max: 2, Window: time.Hour}, NewMemoryWindowStore(0), WithClock(clock.Now))

	require.True(t, l.Check(ctx, "a@example.com").Allowed)
	clock.Advance(30 * time.Minute)
	require.True(t, l.Check(ctx, "a@example.com").Allowed)
	clock.Advance(29 * time.Minute)
	require.False(t, l.Check(ctx, "a@example.com").Allowed)

	// The first hit leaves the window; the second one does not.
	clock.Advance(time.Minute)
	d := l.Check(ctx, "a@example.com")
	assert.True(t, d.Allowed)
	assert.Zero(t, d.Remaining)
	assert.False(t, l.Check(ctx, "a@example.com").Allowed)
}

func TestLimiterRejectionsDoNotConsume(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	l := NewLimiter("verify_ip", config.Limit{Max: 1, Window: time.Minute}, NewMemoryWindowStore(0), WithClock(clock.Now))

	require.True(t, l.Check(ctx, "ip").Allowed)
	for i := 0; i < 5; i++ {
		clock.Advance(5 * time.Second)
		require.False(t, l.Check(ctx, "ip").Allowed)
	}
	clock.Advance(35 * time.Second)
	assert.True(t, l.Check(ctx, "ip").Allowed)
}

func TestLimiterNamesKeepKeysApart(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryWindowStore(0)
	a := NewLimiter("signup_ip", config.Limit{Max: 1, Window: time.Hour}, store)
	b := NewLimiter("verify_ip", config.Limit{Max: 1, Window: time.Hour}, store)

	require.True(t, a.Check(ctx, "ip").Allowed)
	assert.True(t, b.Check(ctx, "ip").Allowed)
	assert.False(t, a.Check(ctx, "ip").Allowed)
	assert.Equal(t, "signup_ip", a.Name())
}

func TestLimiterFailsOpen(t *testing.T) {
	l := NewLimiter("signup_ip", config.Limit{Max: 1, Window: time.Hour}, failingWindowStore{})
	for i := 0; i < 3; i++ {
		assert.True(t, l.Check(context.Background(), "ip").Allowed)
	}
}

func TestLimiterConcurrentChecksNeverOverAdmit(t *testing.T) {
	ctx := context.Background()
	l := NewLimiter("signup_email", config.Limit{Max: 5, Window: time.Hour}, NewMemoryWindowStore(0))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Check(ctx, "a@example.com").Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, allowed)
}

func TestCheckAllChargesNothingWhenOneTargetIsOut(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewMemoryWindowStore(0)
	perEmail := NewLimiter("dispatch_email", config.Limit{Max: 2, Window: time.Hour}, store, WithClock(clock.Now))
	perIP := NewLimiter("dispatch_ip", config.Limit{Max: 1, Window: time.Hour}, store, WithClock(clock.Now))

	require.True(t, CheckAll(ctx, Target{perEmail, "a@example.com"}, Target{perIP, "ip-1"}).Allowed)

	d := CheckAll(ctx, Target{perEmail, "a@example.com"}, Target{perIP, "ip-1"})
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Hour, d.RetryAfter)

	// The rejected call left the per-email budget untouched.
	assert.Equal(t, 1, perEmail.Peek(ctx, "a@example.com").Remaining)
	assert.True(t, CheckAll(ctx, Target{perEmail, "a@example.com"}, Target{perIP, "ip-2"}).Allowed)
	assert.False(t, perEmail.Peek(ctx, "a@example.com").Allowed)
}

func TestLimiterPeekFailsOpen(t *testing.T) {
	l := NewLimiter("signup_ip", config.Limit{Max: 1, Window: time.Hour}, failingWindowStore{})
	assert.True(t, l.Peek(context.Background(), "ip").Allowed)
	assert.True(t, CheckAll(context.Background(), Target{l, "ip"}).Allowed)
}

func TestRetryAfterSecondsRoundsUp(t *testing.T) {
	assert.Equal(t, 0, Decision{Allowed: true}.RetryAfterSeconds())
	assert.Equal(t, 1, Decision{RetryAfter: time.Millisecond}.RetryAfterSeconds())
	assert.Equal(t, 2, Decision{RetryAfter: 1500 * time.Millisecond}.RetryAfterSeconds())
}
