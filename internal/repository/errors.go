// Package repository defines the signup store used by the verification
// engine, its MySQL and in-memory implementations, and the errors they
// share. Sentinels describe expected outcomes; anything else a backend
// reports is wrapped in a StorageError so callers can tell "not there"
// from "could not ask".
package repository

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no signup exists for the email.
var ErrNotFound = errors.New("signup not found")

// ErrEmailExists is returned by Create when the email is already taken.
var ErrEmailExists = errors.New("email already exists")

// ErrAttemptsExhausted is returned by IncrementAttempts when the counter
// already sits at the ceiling; the caller lost a race with the guess that
// triggered the lock.
var ErrAttemptsExhausted = errors.New("verification attempts exhausted")

// ErrAlreadyVerified is returned by MarkVerified when the signup was
// verified by an earlier call.
var ErrAlreadyVerified = errors.New("signup already verified")

// StorageError wraps a failure of the underlying storage engine.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
