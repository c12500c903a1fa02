package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/signup-verification/internal/config"
	"github.com/iliyamo/signup-verification/internal/logger"
	"github.com/iliyamo/signup-verification/internal/ratelimit"
)

// MessageKind labels an outbound email.
type MessageKind string

const (
	KindCode         MessageKind = "code"
	KindConfirmation MessageKind = "confirmation"
)

// Sender delivers one email. Retries and backoff are its own business.
type Sender interface {
	Send(ctx context.Context, to, subject, textBody, htmlBody string) error
}

// DispatchGate applies the outbound email budget. It is separate from
// request limiting: a client may be allowed to call an endpoint and still
// not be sent another email.
type DispatchGate struct {
	perEmail *ratelimit.Limiter
	perIP    *ratelimit.Limiter
	log      *zap.Logger
}

// NewDispatchGate builds the per-email and per-IP send limiters over store.
// Gates built over the same store share one budget.
func NewDispatchGate(cfg config.VerificationConfig, store ratelimit.WindowStore, opts ...ratelimit.Option) *DispatchGate {
	return &DispatchGate{
		perEmail: ratelimit.NewLimiter("dispatch_email", cfg.DispatchPerEmail, store, opts...),
		perIP:    ratelimit.NewLimiter("dispatch_ip", cfg.DispatchPerIP, store, opts...),
		log:      zap.NewNop(),
	}
}

// WithLogger returns g logging to l.
func (g *DispatchGate) WithLogger(l *zap.Logger) *DispatchGate {
	g.log = l.Named("dispatch")
	return g
}

// AuthorizeSend returns nil when an email of kind may go to email, or a
// *RateLimitError. A denied send charges neither budget. An empty ip
// skips the per-IP budget; background sends have no requester.
func (g *DispatchGate) AuthorizeSend(ctx context.Context, email, ip string, kind MessageKind) error {
	targets := []ratelimit.Target{{Limiter: g.perEmail, ID: email}}
	if ip != "" {
		targets = append(targets, ratelimit.Target{Limiter: g.perIP, ID: ip})
	}
	if d := ratelimit.CheckAll(ctx, targets...); !d.Allowed {
		g.log.Info("send denied", logger.MaskEmail(email), zap.String("ip", ip), zap.String("kind", string(kind)))
		return &RateLimitError{RetryAfter: d.RetryAfter}
	}
	return nil
}

func retryAfter(until, now time.Time) *RateLimitError {
	d := until.Sub(now)
	if d < time.Second {
		d = time.Second
	}
	return &RateLimitError{RetryAfter: d}
}
