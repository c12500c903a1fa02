// Package ratelimit holds the request limiter and the failure ban tracker.
// Both keep their counters behind a store interface so the in-process
// tables used by a single instance can be swapped for Redis when the
// service runs on more than one node.
package ratelimit

import (
	"context"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/signup-verification/internal/config"
)

// Decision is the outcome of one Check.
type Decision struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time     // when the oldest hit in the window falls out
	RetryAfter time.Duration // zero when allowed
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (d Decision) RetryAfterSeconds() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(d.RetryAfter.Seconds()))
}

// WindowState is what a WindowStore reports after a hit.
type WindowState struct {
	Allowed bool
	Count   int       // hits inside the window, including this one when allowed
	Oldest  time.Time // earliest hit still inside the window
}

// WindowStore keeps sliding-window hit logs. Hit must check and record in
// one atomic step per key: a hit at now is recorded only when fewer than
// limit hits fall inside (now-window, now]. Peek reports the same state
// without recording anything.
type WindowStore interface {
	Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (WindowState, error)
	Peek(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (WindowState, error)
}

type options struct {
	now func() time.Time
	log *zap.Logger
}

// Option customizes a Limiter or BanTracker.
type Option func(*options)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithLogger sets the logger used to report store failures.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.log = l } }

func buildOptions(opts []Option) options {
	o := options{now: time.Now, log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Limiter is one named limit applied to arbitrary identifiers. Instances
// are never shared between concerns; the name keeps their keys apart.
type Limiter struct {
	name  string
	limit config.Limit
	store WindowStore
	now   func() time.Time
	log   *zap.Logger
}

// NewLimiter returns a sliding-window limiter over store.
func NewLimiter(name string, limit config.Limit, store WindowStore, opts ...Option) *Limiter {
	o := buildOptions(opts)
	return &Limiter{
		name:  name,
		limit: limit,
		store: store,
		now:   o.now,
		log:   o.log.Named("ratelimit").With(zap.String("limiter", name)),
	}
}

// Name identifies the limiter in logs and keys.
func (l *Limiter) Name() string { return l.name }

func (l *Limiter) key(identifier string) string {
	return "rl:" + l.name + ":" + identifier + ":" + strconv.FormatInt(l.limit.Window.Milliseconds(), 10)
}

// Check consumes one unit for identifier if the budget allows it. Store
// failures allow the request.
func (l *Limiter) Check(ctx context.Context, identifier string) Decision {
	now := l.now()
	st, err := l.store.Hit(ctx, l.key(identifier), l.limit.Max, l.limit.Window, now)
	if err != nil {
		l.log.Warn("limiter store failed, allowing request", zap.Error(err))
		return Decision{Allowed: true, Remaining: l.limit.Max - 1, ResetAt: now.Add(l.limit.Window)}
	}
	return l.decide(st, now)
}

// Peek reports whether Check would allow identifier now, without
// consuming a unit. Store failures report allowed.
func (l *Limiter) Peek(ctx context.Context, identifier string) Decision {
	now := l.now()
	st, err := l.store.Peek(ctx, l.key(identifier), l.limit.Max, l.limit.Window, now)
	if err != nil {
		l.log.Warn("limiter store failed, allowing request", zap.Error(err))
		return Decision{Allowed: true, Remaining: l.limit.Max, ResetAt: now.Add(l.limit.Window)}
	}
	return l.decide(st, now)
}

func (l *Limiter) decide(st WindowState, now time.Time) Decision {
	d := Decision{Allowed: st.Allowed, Remaining: l.limit.Max - st.Count}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	oldest := st.Oldest
	if oldest.IsZero() {
		oldest = now
	}
	d.ResetAt = oldest.Add(l.limit.Window)
	if !st.Allowed {
		d.RetryAfter = d.ResetAt.Sub(now)
		if d.RetryAfter < time.Millisecond {
			d.RetryAfter = time.Millisecond
		}
	}
	return d
}

// Target applies a limiter to one identifier.
type Target struct {
	Limiter *Limiter
	ID      string
}

// CheckAll consumes one unit from every target only when all of them have
// budget left. Otherwise it returns the first rejection and nothing is
// consumed. A concurrent caller can still take the last unit of a later
// target between the peek and the hit; that target's rejection is then
// returned after earlier targets were charged.
func CheckAll(ctx context.Context, targets ...Target) Decision {
	for _, t := range targets {
		if d := t.Limiter.Peek(ctx, t.ID); !d.Allowed {
			return d
		}
	}
	var last Decision
	for _, t := range targets {
		last = t.Limiter.Check(ctx, t.ID)
		if !last.Allowed {
			return last
		}
	}
	last.Allowed = true
	return last
}
