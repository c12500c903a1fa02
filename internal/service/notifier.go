package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/signup-verification/internal/logger"
)

// SignupVerified is emitted once per email, after the verified flag is
// committed.
type SignupVerified struct {
	Email            string    `json:"email"`
	WelcomeMessageID int       `json:"welcome_message_id"`
	CalculatedNumber int64     `json:"calculated_number"`
	VerifiedAt       time.Time `json:"verified_at"`
}

// Notifier receives SignupVerified events. Implementations must not block
// on delivery; the engine ignores their errors beyond logging them.
type Notifier interface {
	NotifyVerified(ctx context.Context, ev SignupVerified) error
}

// VerifiedHandler consumes a SignupVerified event.
type VerifiedHandler func(ctx context.Context, ev SignupVerified) error

type nopNotifier struct{}

func (nopNotifier) NotifyVerified(context.Context, SignupVerified) error { return nil }

// ErrNotifierFull is returned when the in-process queue has no room.
var ErrNotifierFull = errors.New("notifier queue full")

// AsyncNotifier hands events to a single worker over a buffered channel.
// It is the in-process stand-in for the broker.
type AsyncNotifier struct {
	events  chan SignupVerified
	handle  VerifiedHandler
	timeout time.Duration
	log     *zap.Logger
}

// NewAsyncNotifier queues up to buffer events for handle.
func NewAsyncNotifier(handle VerifiedHandler, buffer int, log *zap.Logger) *AsyncNotifier {
	if buffer < 1 {
		buffer = 1
	}
	return &AsyncNotifier{
		events:  make(chan SignupVerified, buffer),
		handle:  handle,
		timeout: 30 * time.Second,
		log:     log.Named("notifier"),
	}
}

// NotifyVerified enqueues ev without waiting.
func (n *AsyncNotifier) NotifyVerified(_ context.Context, ev SignupVerified) error {
	select {
	case n.events <- ev:
		return nil
	default:
		return ErrNotifierFull
	}
}

// Run processes events until ctx is cancelled.
func (n *AsyncNotifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-n.events:
			hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
			if err := n.handle(hctx, ev); err != nil {
				n.log.Warn("verified event not handled", logger.MaskEmail(ev.Email), zap.Error(err))
			}
			cancel()
		}
	}
}

// ConfirmationSender emails the "you're verified" message, subject to the
// dispatch gate.
type ConfirmationSender struct {
	gate   *DispatchGate
	sender Sender
	log    *zap.Logger
}

// NewConfirmationSender sends through sender once gate allows it.
func NewConfirmationSender(gate *DispatchGate, sender Sender, log *zap.Logger) *ConfirmationSender {
	return &ConfirmationSender{gate: gate, sender: sender, log: log.Named("confirmation")}
}

// Handle is a VerifiedHandler. A send denied by the gate is skipped, not
// retried.
func (c *ConfirmationSender) Handle(ctx context.Context, ev SignupVerified) error {
	if err := c.gate.AuthorizeSend(ctx, ev.Email, "", KindConfirmation); err != nil {
		c.log.Info("confirmation skipped", logger.MaskEmail(ev.Email))
		return nil
	}
	m := confirmationMessage(ev)
	if err := c.sender.Send(ctx, ev.Email, m.Subject, m.Text, m.HTML); err != nil {
		return err
	}
	c.log.Info("confirmation sent", logger.MaskEmail(ev.Email))
	return nil
}
