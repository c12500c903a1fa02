package service

import (
	"errors"
	"fmt"
	"time"
)

// Messages are what callers may show to users. They never mention
// storage, transport or whether an email is registered.
const (
	msgNotFound        = "no signup found"
	msgRateLimited     = "too many requests, please try again later"
	msgExpired         = "verification code has expired, please request a new one"
	msgAlreadyVerified = "this email is already verified"
)

// ErrInternal is returned for storage failures. The cause is logged, not
// returned.
var ErrInternal = errors.New("internal error")

// ErrDispatchFailed means the code was stored but the email could not be
// handed to the sender. The code stays valid; the user may resend.
var ErrDispatchFailed = errors.New("verification email could not be sent")

// ValidationError is a malformed email or code.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// NotFoundError is returned for unknown and unusable emails alike.
type NotFoundError struct{}

func (e *NotFoundError) Error() string { return msgNotFound }

// RateLimitError is a rejected request, either by a limiter or by a ban.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string { return msgRateLimited }

// RetryAfterSeconds rounds RetryAfter up to whole seconds, at least one.
func (e *RateLimitError) RetryAfterSeconds() int {
	s := int((e.RetryAfter + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

// LockedError means verification is blocked until Until.
type LockedError struct {
	Until        time.Time
	RetryMinutes int
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("too many failed attempts, try again in %d minutes", e.RetryMinutes)
}

// ExpiredError means the live code is older than the expiry window.
type ExpiredError struct{}

func (e *ExpiredError) Error() string { return msgExpired }

// AlreadyVerifiedError is returned by every verify once an email is verified.
type AlreadyVerifiedError struct{}

func (e *AlreadyVerifiedError) Error() string { return msgAlreadyVerified }

func newLockedError(until, now time.Time) *LockedError {
	return &LockedError{Until: until, RetryMinutes: minutesUntil(until, now)}
}

// minutesUntil rounds the remaining time up to whole minutes, at least one.
func minutesUntil(until, now time.Time) int {
	d := until.Sub(now)
	m := int((d + time.Minute - 1) / time.Minute)
	if m < 1 {
		m = 1
	}
	return m
}
