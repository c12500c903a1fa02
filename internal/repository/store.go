package repository

import (
	"context"
	"time"

	"github.com/iliyamo/signup-verification/internal/model"
)

// SignupStore is the persistence contract of the verification engine.
// Every mutating method is atomic for a single email; implementations
// must not lose concurrent updates to the attempt counter.
type SignupStore interface {
	// Create inserts a pending signup with attempts at zero.
	Create(ctx context.Context, email, code string, meta model.ClientMeta, at time.Time) (model.Signup, error)
	FindByEmail(ctx context.Context, email string) (model.Signup, error)
	// UpdateCode stores code, zeroes attempts, clears any lock and sets
	// updated_at to at.
	UpdateCode(ctx context.Context, email, code string, at time.Time) (model.Signup, error)
	// IncrementAttempts adds one to the attempt counter unless it is
	// already at ceiling, in which case ErrAttemptsExhausted is returned.
	IncrementAttempts(ctx context.Context, email string, ceiling int) (model.Signup, error)
	Lock(ctx context.Context, email string, until time.Time) error
	// MarkVerified flips is_verified and sets verified_at once. A nil
	// fields writes only the flag and timestamp.
	MarkVerified(ctx context.Context, email string, at time.Time, fields *model.VerifiedFields) error

	CountAll(ctx context.Context) (int64, error)
	CountCreatedBefore(ctx context.Context, t time.Time) (int64, error)
	CountVerified(ctx context.Context) (int64, error)

	// LogAttempt appends to the audit log of guesses and resends.
	LogAttempt(ctx context.Context, a model.VerificationAttempt) error
}
