package utils // package utils provides code generation and token helpers

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any receipt that fails parsing,
// signature or expiry checks.
var ErrInvalidToken = errors.New("invalid verification token")

// VerificationToken is a signed receipt handed to the client after a
// successful verification, along with its expiry.
type VerificationToken struct {
	Token string
	Exp   time.Time
}

// VerificationClaims is what a receipt asserts: the verified email (sub)
// and the welcome message chosen for it.
type VerificationClaims struct {
	WelcomeMessageID int `json:"wmid"`
	jwt.RegisteredClaims
}

// NewVerificationToken signs an HS256 receipt for email that expires after
// ttl, measured from now.
func NewVerificationToken(secret, email string, welcomeMessageID int, now time.Time, ttl time.Duration) (VerificationToken, error) {
	exp := now.UTC().Add(ttl)
	claims := VerificationClaims{
		WelcomeMessageID: welcomeMessageID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now.UTC()),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return VerificationToken{}, err
	}
	return VerificationToken{Token: signed, Exp: exp}, nil
}

// ParseVerificationToken validates a receipt and returns its claims.
func ParseVerificationToken(secret, raw string) (*VerificationClaims, error) {
	claims := &VerificationClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
