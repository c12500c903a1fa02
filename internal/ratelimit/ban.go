package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ActionKind scopes failure counting; the same identifier is tracked
// separately per kind.
type ActionKind string

const (
	ActionSignup ActionKind = "signup"
	ActionResend ActionKind = "resend"
	ActionVerify ActionKind = "verify"
)

// BanState is one (identifier, kind) failure record.
type BanState struct {
	Count       int
	LastAttempt time.Time
	Banned      bool
	BanExpiry   time.Time
}

// Active reports whether the ban is in force at now.
func (s BanState) Active(now time.Time) bool { return s.Banned && now.Before(s.BanExpiry) }

// BanStore persists failure records. Both methods are atomic per key and
// lift a ban whose expiry has passed, resetting its counter.
type BanStore interface {
	// Fail adds one failure at now and bans for banFor once the count
	// reaches threshold.
	Fail(ctx context.Context, key string, threshold int, banFor time.Duration, now time.Time) (BanState, error)
	Status(ctx context.Context, key string, now time.Time) (BanState, error)
}

// BanTracker escalates repeated failures into temporary bans. It counts
// failures only, never raw traffic, and its counters outlive any limiter
// window.
type BanTracker struct {
	store     BanStore
	threshold int
	banFor    time.Duration
	now       func() time.Time
	log       *zap.Logger
}

// NewBanTracker bans an identifier for banFor after threshold failures.
func NewBanTracker(store BanStore, threshold int, banFor time.Duration, opts ...Option) *BanTracker {
	o := buildOptions(opts)
	return &BanTracker{
		store:     store,
		threshold: threshold,
		banFor:    banFor,
		now:       o.now,
		log:       o.log.Named("ban"),
	}
}

func banKey(identifier string, kind ActionKind) string {
	return "ban:" + string(kind) + ":" + identifier
}

// TrackFailedAttempt records a failure and reports whether the identifier
// may still act. The call that reaches the threshold already returns false.
func (b *BanTracker) TrackFailedAttempt(ctx context.Context, identifier string, kind ActionKind) bool {
	now := b.now()
	st, err := b.store.Fail(ctx, banKey(identifier, kind), b.threshold, b.banFor, now)
	if err != nil {
		b.log.Warn("ban store failed, not counting failure", zap.String("kind", string(kind)), zap.Error(err))
		return true
	}
	if st.Active(now) && st.Count == b.threshold {
		b.log.Info("identifier banned", zap.String("kind", string(kind)), zap.Time("until", st.BanExpiry))
	}
	return !st.Active(now)
}

// IsBanned reports whether identifier is currently banned for kind.
func (b *BanTracker) IsBanned(ctx context.Context, identifier string, kind ActionKind) bool {
	_, banned := b.BannedUntil(ctx, identifier, kind)
	return banned
}

// BannedUntil returns the ban expiry when a ban is in force.
func (b *BanTracker) BannedUntil(ctx context.Context, identifier string, kind ActionKind) (time.Time, bool) {
	now := b.now()
	st, err := b.store.Status(ctx, banKey(identifier, kind), now)
	if err != nil {
		b.log.Warn("ban store failed, treating as not banned", zap.String("kind", string(kind)), zap.Error(err))
		return time.Time{}, false
	}
	if !st.Active(now) {
		return time.Time{}, false
	}
	return st.BanExpiry, true
}
