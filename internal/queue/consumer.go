package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/signup-verification/internal/logger"
	"github.com/iliyamo/signup-verification/internal/service"
)

const (
	maxBackoff = 30 * time.Second
	// maxSeen bounds the redelivery filter; it is cleared when full.
	maxSeen = 10000
)

// Consumer reads SignupVerified events and hands them to a handler,
// reconnecting with backoff whenever the broker goes away.
type Consumer struct {
	url    string
	handle service.VerifiedHandler
	log    *zap.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewConsumer consumes from the broker at url.
func NewConsumer(url string, handle service.VerifiedHandler, log *zap.Logger) *Consumer {
	return &Consumer{url: url, handle: handle, log: log.Named("consumer"), seen: make(map[string]struct{})}
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.Warn("dial failed, retrying", zap.Error(err), zap.Duration("backoff", backoff))
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("consume loop ended, reconnecting", zap.Error(err))
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(10, 0, false); err != nil {
		c.log.Warn("set qos failed", zap.Error(err))
	}
	if _, err := ch.QueueDeclare(SignupVerifiedQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.ConsumeWithContext(ctx, SignupVerifiedQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for d := range msgs {
		c.settle(ctx, d)
	}
	return errors.New("deliveries channel closed")
}

// errMalformed marks a body that can never be handled.
var errMalformed = errors.New("malformed event")

// settle handles d and acknowledges it. A handler failure is requeued
// once; a malformed body or a failed redelivery is dropped.
func (c *Consumer) settle(ctx context.Context, d amqp.Delivery) {
	err := c.handleDelivery(ctx, d.Body)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, errMalformed) || d.Redelivered:
		c.log.Warn("message dropped", zap.Error(err), zap.Bool("redelivered", d.Redelivered))
		_ = d.Nack(false, false)
	default:
		c.log.Warn("message requeued", zap.Error(err))
		_ = d.Nack(false, true)
	}
}

// handleDelivery decodes body and runs the handler once per event ID.
func (c *Consumer) handleDelivery(ctx context.Context, body []byte) error {
	wire, ev, err := decodeEvent(body)
	if err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	if wire.ID != "" && c.isDuplicate(wire.ID) {
		c.log.Debug("duplicate event dropped", zap.String("id", wire.ID))
		return nil
	}
	if err := c.handle(ctx, ev); err != nil {
		c.forget(wire.ID)
		return err
	}
	c.log.Info("event handled", zap.String("id", wire.ID), logger.MaskEmail(ev.Email))
	return nil
}

func (c *Consumer) isDuplicate(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[id]; ok {
		return true
	}
	if len(c.seen) >= maxSeen {
		clear(c.seen)
	}
	c.seen[id] = struct{}{}
	return false
}

func (c *Consumer) forget(id string) {
	c.mu.Lock()
	delete(c.seen, id)
	c.mu.Unlock()
}
