package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/signup-verification/internal/model"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestMemoryStoreCreateAndFind(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	s, err := m.Create(ctx, " User@Example.com ", "K3X9P4", model.ClientMeta{IPAddress: "1.2.3.4"}, t0)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", s.Email)

	_, err = m.Create(ctx, "user@example.com", "AAAAAA", model.ClientMeta{}, t0)
	assert.ErrorIs(t, err, ErrEmailExists)

	got, err := m.FindByEmail(ctx, "USER@example.com")
	require.NoError(t, err)
	assert.Equal(t, "K3X9P4", got.VerificationCode)
	assert.Equal(t, t0, got.UpdatedAt)

	_, err = m.FindByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreUpdateCodeResetsState(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	_, err := m.Create(ctx, "a@example.com", "AAAAAA", model.ClientMeta{}, t0)
	require.NoError(t, err)
	_, err = m.IncrementAttempts(ctx, "a@example.com", 4)
	require.NoError(t, err)
	require.NoError(t, m.Lock(ctx, "a@example.com", t0.Add(time.Hour)))

	s, err := m.UpdateCode(ctx, "a@example.com", "BBBBBB", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "BBBBBB", s.VerificationCode)
	assert.Zero(t, s.VerificationAttempts)
	assert.Nil(t, s.LockedUntil)
	assert.Equal(t, t0.Add(time.Minute), s.UpdatedAt)

	_, err = m.UpdateCode(ctx, "missing@example.com", "CCCCCC", t0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreIncrementAttemptsIsCappedUnderContention(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	_, err := m.Create(ctx, "race@example.com", "AAAAAA", model.ClientMeta{}, t0)
	require.NoError(t, err)

	const workers = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		accepted  []int
		exhausted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := m.IncrementAttempts(ctx, "race@example.com", 4)
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, ErrAttemptsExhausted) {
				exhausted++
				return
			}
			accepted = append(accepted, s.VerificationAttempts)
		}()
	}
	wg.Wait()

	assert.ElementsMatch(t, []int{1, 2, 3, 4}, accepted)
	assert.Equal(t, workers-4, exhausted)
	s, err := m.FindByEmail(ctx, "race@example.com")
	require.NoError(t, err)
	assert.Equal(t, 4, s.VerificationAttempts)
}

func TestMemoryStoreMarkVerified(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	_, err := m.Create(ctx, "v@example.com", "AAAAAA", model.ClientMeta{}, t0)
	require.NoError(t, err)
	_, err = m.IncrementAttempts(ctx, "v@example.com", 4)
	require.NoError(t, err)

	at := t0.Add(time.Minute)
	require.NoError(t, m.MarkVerified(ctx, "v@example.com", at, &model.VerifiedFields{WelcomeMessageID: 7, CalculatedNumber: 1001}))
	assert.ErrorIs(t, m.MarkVerified(ctx, "v@example.com", at.Add(time.Minute), nil), ErrAlreadyVerified)

	s, err := m.FindByEmail(ctx, "v@example.com")
	require.NoError(t, err)
	assert.True(t, s.IsVerified)
	require.NotNil(t, s.VerifiedAt)
	assert.Equal(t, at, *s.VerifiedAt, "verified_at is set once")
	assert.Zero(t, s.VerificationAttempts)
	require.NotNil(t, s.WelcomeMessageID)
	assert.Equal(t, 7, *s.WelcomeMessageID)
	require.NotNil(t, s.CalculatedNumber)
	assert.EqualValues(t, 1001, *s.CalculatedNumber)
}

func TestMemoryStoreMarkVerifiedMinimal(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	_, err := m.Create(ctx, "min@example.com", "AAAAAA", model.ClientMeta{}, t0)
	require.NoError(t, err)

	require.NoError(t, m.MarkVerified(ctx, "min@example.com", t0, nil))
	s, err := m.FindByEmail(ctx, "min@example.com")
	require.NoError(t, err)
	assert.True(t, s.IsVerified)
	assert.Nil(t, s.WelcomeMessageID)
	assert.Nil(t, s.CalculatedNumber)
}

func TestMemoryStoreCounts(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	for i, e := range []string{"a@x.io", "b@x.io", "c@x.io"} {
		_, err := m.Create(ctx, e, "AAAAAA", model.ClientMeta{}, t0.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}
	require.NoError(t, m.MarkVerified(ctx, "b@x.io", t0, nil))

	all, _ := m.CountAll(ctx)
	before, _ := m.CountCreatedBefore(ctx, t0.Add(90*time.Second))
	verified, _ := m.CountVerified(ctx)
	assert.EqualValues(t, 3, all)
	assert.EqualValues(t, 2, before)
	assert.EqualValues(t, 1, verified)
}

func TestMemoryStoreAttemptLog(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.LogAttempt(ctx, model.VerificationAttempt{Email: "A@x.io", AttemptedCode: "AAAAAA"}))
	require.NoError(t, m.LogAttempt(ctx, model.VerificationAttempt{Email: "b@x.io", AttemptedCode: model.ResendMarker}))
	require.NoError(t, m.LogAttempt(ctx, model.VerificationAttempt{Email: "a@x.io", AttemptedCode: "BBBBBB", WasSuccessful: true}))

	log := m.Attempts("a@x.io")
	require.Len(t, log, 2)
	assert.EqualValues(t, 1, log[0].ID)
	assert.EqualValues(t, 3, log[1].ID)
	assert.True(t, log[1].WasSuccessful)
}
