package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/signup-verification/internal/model"
)

// mysqlDuplicateEntry is the server error number for a unique key clash.
const mysqlDuplicateEntry = 1062

const signupColumns = `email, verification_code, is_verified, verified_at, verification_attempts,
	locked_until, welcome_message_id, calculated_number, ip_address, user_agent, created_at, updated_at`

// SignupRepo implements SignupStore on MySQL. All timestamps are written
// in UTC by the caller.
type SignupRepo struct {
	db *sql.DB
}

// NewSignupRepo returns a SignupRepo bound to db.
func NewSignupRepo(db *sql.DB) *SignupRepo { return &SignupRepo{db: db} }

var _ SignupStore = (*SignupRepo)(nil)

func normalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSignup(row rowScanner) (model.Signup, error) {
	var (
		s           model.Signup
		verifiedAt  sql.NullTime
		lockedUntil sql.NullTime
		welcomeID   sql.NullInt64
		number      sql.NullInt64
	)
	err := row.Scan(&s.Email, &s.VerificationCode, &s.IsVerified, &verifiedAt, &s.VerificationAttempts,
		&lockedUntil, &welcomeID, &number, &s.IPAddress, &s.UserAgent, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return model.Signup{}, err
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time
		s.VerifiedAt = &t
	}
	if lockedUntil.Valid {
		t := lockedUntil.Time
		s.LockedUntil = &t
	}
	if welcomeID.Valid {
		id := int(welcomeID.Int64)
		s.WelcomeMessageID = &id
	}
	if number.Valid {
		n := number.Int64
		s.CalculatedNumber = &n
	}
	return s, nil
}

// Create inserts a pending signup.
func (r *SignupRepo) Create(ctx context.Context, email, code string, meta model.ClientMeta, at time.Time) (model.Signup, error) {
	email = normalizeEmail(email)
	at = at.UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO signups (email, verification_code, is_verified, verification_attempts, ip_address, user_agent, created_at, updated_at)
		 VALUES (?, ?, 0, 0, ?, ?, ?, ?)`,
		email, code, meta.IPAddress, meta.UserAgent, at, at)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
			return model.Signup{}, ErrEmailExists
		}
		return model.Signup{}, storageErr("create signup", err)
	}
	return model.Signup{
		Email:            email,
		VerificationCode: code,
		IPAddress:        meta.IPAddress,
		UserAgent:        meta.UserAgent,
		CreatedAt:        at,
		UpdatedAt:        at,
	}, nil
}

// FindByEmail fetches a signup by normalized email.
func (r *SignupRepo) FindByEmail(ctx context.Context, email string) (model.Signup, error) {
	s, err := scanSignup(r.db.QueryRowContext(ctx,
		"SELECT "+signupColumns+" FROM signups WHERE email = ? LIMIT 1", normalizeEmail(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Signup{}, ErrNotFound
	}
	if err != nil {
		return model.Signup{}, storageErr("find signup", err)
	}
	return s, nil
}

// UpdateCode replaces the live code and resets attempt and lock state.
func (r *SignupRepo) UpdateCode(ctx context.Context, email, code string, at time.Time) (model.Signup, error) {
	email = normalizeEmail(email)
	_, err := r.db.ExecContext(ctx,
		`UPDATE signups SET verification_code = ?, verification_attempts = 0, locked_until = NULL, updated_at = ?
		 WHERE email = ?`,
		code, at.UTC(), email)
	if err != nil {
		return model.Signup{}, storageErr("update code", err)
	}
	return r.FindByEmail(ctx, email)
}

// IncrementAttempts bumps the attempt counter under a row lock so two
// concurrent wrong guesses never collapse into one.
func (r *SignupRepo) IncrementAttempts(ctx context.Context, email string, ceiling int) (model.Signup, error) {
	email = normalizeEmail(email)
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Signup{}, storageErr("increment attempts", err)
	}
	defer func() { _ = tx.Rollback() }()

	s, err := scanSignup(tx.QueryRowContext(ctx,
		"SELECT "+signupColumns+" FROM signups WHERE email = ? FOR UPDATE", email))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Signup{}, ErrNotFound
	}
	if err != nil {
		return model.Signup{}, storageErr("increment attempts", err)
	}
	if s.VerificationAttempts >= ceiling {
		return s, ErrAttemptsExhausted
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE signups SET verification_attempts = verification_attempts + 1 WHERE email = ?", email); err != nil {
		return model.Signup{}, storageErr("increment attempts", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Signup{}, storageErr("increment attempts", err)
	}
	s.VerificationAttempts++
	return s, nil
}

// Lock blocks verification for email until the given time.
func (r *SignupRepo) Lock(ctx context.Context, email string, until time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE signups SET locked_until = ? WHERE email = ?", until.UTC(), normalizeEmail(email))
	return storageErr("lock signup", err)
}

// MarkVerified flips the verified flag exactly once. With fields set it
// also resets attempts, clears the lock and writes the derived columns.
func (r *SignupRepo) MarkVerified(ctx context.Context, email string, at time.Time, fields *model.VerifiedFields) error {
	email = normalizeEmail(email)
	var (
		res sql.Result
		err error
	)
	if fields != nil {
		res, err = r.db.ExecContext(ctx,
			`UPDATE signups SET is_verified = 1, verified_at = ?, verification_attempts = 0, locked_until = NULL,
			 welcome_message_id = ?, calculated_number = ?
			 WHERE email = ? AND is_verified = 0`,
			at.UTC(), fields.WelcomeMessageID, fields.CalculatedNumber, email)
	} else {
		res, err = r.db.ExecContext(ctx,
			"UPDATE signups SET is_verified = 1, verified_at = ? WHERE email = ? AND is_verified = 0",
			at.UTC(), email)
	}
	if err != nil {
		return storageErr("mark verified", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("mark verified", err)
	}
	if n > 0 {
		return nil
	}
	// Nothing changed: either the row is gone or it was verified already.
	if _, err := r.FindByEmail(ctx, email); err != nil {
		return err
	}
	return ErrAlreadyVerified
}

func (r *SignupRepo) count(ctx context.Context, op, q string, args ...any) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, storageErr(op, err)
	}
	return n, nil
}

// CountAll returns the number of signups.
func (r *SignupRepo) CountAll(ctx context.Context) (int64, error) {
	return r.count(ctx, "count signups", "SELECT COUNT(*) FROM signups")
}

// CountCreatedBefore returns the number of signups created strictly before t.
func (r *SignupRepo) CountCreatedBefore(ctx context.Context, t time.Time) (int64, error) {
	return r.count(ctx, "count signups", "SELECT COUNT(*) FROM signups WHERE created_at < ?", t.UTC())
}

// CountVerified returns the number of verified signups.
func (r *SignupRepo) CountVerified(ctx context.Context) (int64, error) {
	return r.count(ctx, "count verified", "SELECT COUNT(*) FROM signups WHERE is_verified = 1")
}

// LogAttempt appends one row to verification_attempts.
func (r *SignupRepo) LogAttempt(ctx context.Context, a model.VerificationAttempt) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO verification_attempts (email, attempted_code, was_successful, ip_address, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		normalizeEmail(a.Email), a.AttemptedCode, a.WasSuccessful, a.IPAddress, a.CreatedAt.UTC())
	return storageErr("log attempt", err)
}
