package queue

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/signup-verification/internal/logger"
	"github.com/iliyamo/signup-verification/internal/service"
)

// Publisher sends SignupVerified events to SignupVerifiedQueue. Each
// publish opens its own connection; the volume is one message per
// verified signup.
type Publisher struct {
	url string
	log *zap.Logger
}

// NewPublisher publishes to the broker at url.
func NewPublisher(url string, log *zap.Logger) *Publisher {
	return &Publisher{url: url, log: log.Named("publisher")}
}

func newPublishing(ev SignupVerifiedEvent, now time.Time) (amqp.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Timestamp:    now.UTC(),
		Body:         body,
	}, nil
}

// Publish is a service.VerifiedHandler. Errors are logged and returned.
func (p *Publisher) Publish(ctx context.Context, ev service.SignupVerified) error {
	wire := NewSignupVerifiedEvent(ev)
	pub, err := newPublishing(wire, time.Now())
	if err != nil {
		p.log.Error("marshal event failed", zap.Error(err))
		return err
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		p.log.Warn("dial failed", zap.Error(err))
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.log.Warn("channel open failed", zap.Error(err))
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(SignupVerifiedQueue, true, false, false, false, nil); err != nil {
		p.log.Warn("queue declare failed", zap.Error(err))
		return err
	}
	if err := ch.PublishWithContext(ctx, "", SignupVerifiedQueue, false, false, pub); err != nil {
		p.log.Warn("publish failed", zap.Error(err))
		return err
	}
	p.log.Debug("event published", zap.String("id", wire.ID), logger.MaskEmail(ev.Email))
	return nil
}
