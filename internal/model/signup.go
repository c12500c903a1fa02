package model

import "time"

// Signup mirrors one row of the `signups` table. The email is stored
// lower-cased and acts as the primary key. A row is created by the first
// code request and is never deleted; later requests replace the code in
// place and reset the attempt counter.
//
// UpdatedAt doubles as the moment the current code was issued; expiry is
// measured from it. WelcomeMessageID and CalculatedNumber are only filled
// in when the signup is verified.
//
// Fields:
//
//	Email                – normalized address, unique.
//	VerificationCode     – the live 6 character code, stored as issued.
//	IsVerified           – set once, never cleared.
//	VerifiedAt           – when the correct code was entered (null until then).
//	VerificationAttempts – wrong guesses against the live code.
//	LockedUntil          – end of the current lock (null when never locked).
//	WelcomeMessageID     – catalog entry shown after verification.
//	CalculatedNumber     – the signup's place in line at verification.
//	IPAddress            – requester address at creation.
//	UserAgent            – requester user agent at creation.
//	CreatedAt            – timestamp of creation.
//	UpdatedAt            – when the current code was issued.
type Signup struct {
	Email                string     // signups.email
	VerificationCode     string     // signups.verification_code
	IsVerified           bool       // signups.is_verified
	VerifiedAt           *time.Time // signups.verified_at (nullable)
	VerificationAttempts int        // signups.verification_attempts
	LockedUntil          *time.Time // signups.locked_until (nullable)
	WelcomeMessageID     *int       // signups.welcome_message_id (nullable)
	CalculatedNumber     *int64     // signups.calculated_number (nullable)
	IPAddress            string     // signups.ip_address at creation
	UserAgent            string     // signups.user_agent at creation
	CreatedAt            time.Time  // signups.created_at
	UpdatedAt            time.Time  // signups.updated_at
}

// IsLocked reports whether verification attempts are blocked at now.
func (s Signup) IsLocked(now time.Time) bool {
	return s.LockedUntil != nil && now.Before(*s.LockedUntil)
}

// IsExpired reports whether the current code is older than window.
func (s Signup) IsExpired(now time.Time, window time.Duration) bool {
	return now.Sub(s.UpdatedAt) > window
}

// ClientMeta describes the requester that created a signup. Handlers
// fill it from the request; it is copied onto new rows only.
//
// Fields:
//
//	IPAddress – client address as resolved by the HTTP layer.
//	UserAgent – raw User-Agent header.
type ClientMeta struct {
	IPAddress string
	UserAgent string
}

// VerifiedFields are the denormalized values written once, when a signup
// is verified.
//
// Fields:
//
//	WelcomeMessageID – catalog entry picked at random.
//	CalculatedNumber – sequence offset plus the signup count at that moment.
type VerifiedFields struct {
	WelcomeMessageID int
	CalculatedNumber int64
}
