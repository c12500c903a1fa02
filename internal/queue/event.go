// Package queue carries SignupVerified events over RabbitMQ so the
// confirmation email is sent outside the request path.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/signup-verification/internal/service"
)

// SignupVerifiedQueue is the durable queue events are published to.
const SignupVerifiedQueue = "signup.verified"

// SignupVerifiedEvent is the wire form of service.SignupVerified. ID lets
// consumers drop redeliveries.
type SignupVerifiedEvent struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	WelcomeMessageID int    `json:"welcome_message_id"`
	CalculatedNumber int64  `json:"calculated_number"`
	VerifiedAt       string `json:"verified_at"`
}

// NewSignupVerifiedEvent stamps ev with a fresh ID.
func NewSignupVerifiedEvent(ev service.SignupVerified) SignupVerifiedEvent {
	return SignupVerifiedEvent{
		ID:               uuid.NewString(),
		Email:            ev.Email,
		WelcomeMessageID: ev.WelcomeMessageID,
		CalculatedNumber: ev.CalculatedNumber,
		VerifiedAt:       ev.VerifiedAt.UTC().Format(time.RFC3339),
	}
}

func decodeEvent(body []byte) (SignupVerifiedEvent, service.SignupVerified, error) {
	var wire SignupVerifiedEvent
	if err := json.Unmarshal(body, &wire); err != nil {
		return wire, service.SignupVerified{}, fmt.Errorf("unmarshal: %w", err)
	}
	if wire.Email == "" {
		return wire, service.SignupVerified{}, fmt.Errorf("event %s has no email", wire.ID)
	}
	at, err := time.Parse(time.RFC3339, wire.VerifiedAt)
	if err != nil {
		return wire, service.SignupVerified{}, fmt.Errorf("verified_at: %w", err)
	}
	return wire, service.SignupVerified{
		Email:            wire.Email,
		WelcomeMessageID: wire.WelcomeMessageID,
		CalculatedNumber: wire.CalculatedNumber,
		VerifiedAt:       at,
	}, nil
}
