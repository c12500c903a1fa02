package repository

import (
	"context"
	"sync"
	"time"

	"github.com/iliyamo/signup-verification/internal/model"
)

// MemoryStore is a SignupStore kept in process memory. It backs tests and
// single-node development runs; a single mutex makes every method atomic.
type MemoryStore struct {
	mu       sync.Mutex
	signups  map[string]*model.Signup
	attempts []model.VerificationAttempt
	nextID   uint64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{signups: make(map[string]*model.Signup)}
}

var _ SignupStore = (*MemoryStore)(nil)

// clone copies s including the pointed-to optional fields so callers can
// never mutate stored state.
func clone(s *model.Signup) model.Signup {
	c := *s
	if s.VerifiedAt != nil {
		t := *s.VerifiedAt
		c.VerifiedAt = &t
	}
	if s.LockedUntil != nil {
		t := *s.LockedUntil
		c.LockedUntil = &t
	}
	if s.WelcomeMessageID != nil {
		id := *s.WelcomeMessageID
		c.WelcomeMessageID = &id
	}
	if s.CalculatedNumber != nil {
		n := *s.CalculatedNumber
		c.CalculatedNumber = &n
	}
	return c
}

func (m *MemoryStore) Create(_ context.Context, email, code string, meta model.ClientMeta, at time.Time) (model.Signup, error) {
	email = normalizeEmail(email)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.signups[email]; ok {
		return model.Signup{}, ErrEmailExists
	}
	s := &model.Signup{
		Email:            email,
		VerificationCode: code,
		IPAddress:        meta.IPAddress,
		UserAgent:        meta.UserAgent,
		CreatedAt:        at,
		UpdatedAt:        at,
	}
	m.signups[email] = s
	return clone(s), nil
}

func (m *MemoryStore) FindByEmail(_ context.Context, email string) (model.Signup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.signups[normalizeEmail(email)]
	if !ok {
		return model.Signup{}, ErrNotFound
	}
	return clone(s), nil
}

func (m *MemoryStore) UpdateCode(_ context.Context, email, code string, at time.Time) (model.Signup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.signups[normalizeEmail(email)]
	if !ok {
		return model.Signup{}, ErrNotFound
	}
	s.VerificationCode = code
	s.VerificationAttempts = 0
	s.LockedUntil = nil
	s.UpdatedAt = at
	return clone(s), nil
}

func (m *MemoryStore) IncrementAttempts(_ context.Context, email string, ceiling int) (model.Signup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.signups[normalizeEmail(email)]
	if !ok {
		return model.Signup{}, ErrNotFound
	}
	if s.VerificationAttempts >= ceiling {
		return clone(s), ErrAttemptsExhausted
	}
	s.VerificationAttempts++
	return clone(s), nil
}

func (m *MemoryStore) Lock(_ context.Context, email string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.signups[normalizeEmail(email)]
	if !ok {
		return ErrNotFound
	}
	s.LockedUntil = &until
	return nil
}

func (m *MemoryStore) MarkVerified(_ context.Context, email string, at time.Time, fields *model.VerifiedFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.signups[normalizeEmail(email)]
	if !ok {
		return ErrNotFound
	}
	if s.IsVerified {
		return ErrAlreadyVerified
	}
	s.IsVerified = true
	s.VerifiedAt = &at
	if fields != nil {
		s.VerificationAttempts = 0
		s.LockedUntil = nil
		id, n := fields.WelcomeMessageID, fields.CalculatedNumber
		s.WelcomeMessageID = &id
		s.CalculatedNumber = &n
	}
	return nil
}

func (m *MemoryStore) CountAll(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.signups)), nil
}

func (m *MemoryStore) CountCreatedBefore(_ context.Context, t time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.signups {
		if s.CreatedAt.Before(t) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CountVerified(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.signups {
		if s.IsVerified {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) LogAttempt(_ context.Context, a model.VerificationAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	a.ID = m.nextID
	a.Email = normalizeEmail(a.Email)
	m.attempts = append(m.attempts, a)
	return nil
}

// Attempts returns a copy of the attempt log for email, oldest first.
func (m *MemoryStore) Attempts(email string) []model.VerificationAttempt {
	email = normalizeEmail(email)
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.VerificationAttempt
	for _, a := range m.attempts {
		if a.Email == email {
			out = append(out, a)
		}
	}
	return out
}
