package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerificationTokenRoundTrip(t *testing.T) {
	now := time.Now()
	tok, err := NewVerificationToken("secret", "user@example.com", 17, now, time.Minute)
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(time.Minute), tok.Exp, time.Second)

	claims, err := ParseVerificationToken("secret", tok.Token)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", claims.Subject)
	assert.Equal(t, 17, claims.WelcomeMessageID)
}

func TestVerificationTokenRejectsWrongSecret(t *testing.T) {
	tok, err := NewVerificationToken("secret", "user@example.com", 1, time.Now(), time.Minute)
	require.NoError(t, err)

	_, err = ParseVerificationToken("other", tok.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerificationTokenRejectsExpired(t *testing.T) {
	tok, err := NewVerificationToken("secret", "user@example.com", 1, time.Now().Add(-2*time.Hour), time.Hour)
	require.NoError(t, err)

	_, err = ParseVerificationToken("secret", tok.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
