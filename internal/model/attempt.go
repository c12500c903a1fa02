package model

import "time"

// ResendMarker is stored as AttemptedCode when a log row records a resend
// rather than a guess.
const ResendMarker = "RESEND"

// VerificationAttempt models a row in the append-only
// `verification_attempts` table. Every guess that reaches the code
// comparison is written, as is every resend. Rows are never updated.
//
// Fields:
//
//	ID            – primary key identifier.
//	Email         – normalized address the attempt was made against.
//	AttemptedCode – the submitted code, or ResendMarker for a resend.
//	WasSuccessful – whether the code matched.
//	IPAddress     – requester address.
//	CreatedAt     – timestamp of the attempt.
type VerificationAttempt struct {
	ID            uint64    // verification_attempts.id
	Email         string    // verification_attempts.email
	AttemptedCode string    // literal input, or ResendMarker
	WasSuccessful bool      // verification_attempts.was_successful
	IPAddress     string    // verification_attempts.ip_address
	CreatedAt     time.Time // verification_attempts.created_at
}
