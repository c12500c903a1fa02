// Package service holds the verification engine: code issuance, resend,
// verification with attempt counting and lockout, the outbound email gate
// and the public stats read.
package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/iliyamo/signup-verification/internal/config"
	"github.com/iliyamo/signup-verification/internal/logger"
	"github.com/iliyamo/signup-verification/internal/model"
	"github.com/iliyamo/signup-verification/internal/ratelimit"
	"github.com/iliyamo/signup-verification/internal/repository"
	"github.com/iliyamo/signup-verification/internal/utils"
)

// IssueResult describes a code that was stored and handed to the sender.
type IssueResult struct {
	Email     string
	Sent      bool
	ExpiresAt time.Time
	// Position is the signup's place in line, 0 when it could not be read.
	Position int64
}

// VerifyResult is the outcome of a verify call that reached the code
// comparison. A wrong code is a result, not an error.
type VerifyResult struct {
	Email             string
	Verified          bool
	WelcomeMessageID  int
	CalculatedNumber  int64
	AttemptsRemaining int
	Locked            bool
	RetryMinutes      int
}

// Stats is the public counter shown on the landing page.
type Stats struct {
	VerifiedCount int64 `json:"verified_count"`
}

// Engine runs the signup verification state machine. It is safe for
// concurrent use; per-email atomicity comes from the store and the
// limiter stores.
type Engine struct {
	cfg      config.VerificationConfig
	store    repository.SignupStore
	sender   Sender
	notifier Notifier
	gate     *DispatchGate
	bans     *ratelimit.BanTracker

	signupByIP    *ratelimit.Limiter
	signupByEmail *ratelimit.Limiter
	verifyByIP    *ratelimit.Limiter
	resendByEmail *ratelimit.Limiter
	resendByIP    *ratelimit.Limiter

	validate  *validator.Validate
	now       func() time.Time
	newCode   func() string
	welcomeID func() int
	log       *zap.Logger

	statsMu   sync.Mutex
	stats     Stats
	statsTime time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces time.Now for the engine and its limiters.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.log = l } }

// WithNotifier sets where SignupVerified events go.
func WithNotifier(n Notifier) Option { return func(e *Engine) { e.notifier = n } }

// WithCodeGenerator replaces utils.GenerateCode.
func WithCodeGenerator(f func() string) Option { return func(e *Engine) { e.newCode = f } }

// WithWelcomePicker replaces model.RandomWelcomeMessageID.
func WithWelcomePicker(f func() int) Option { return func(e *Engine) { e.welcomeID = f } }

// NewEngine wires the engine. windows backs every request and dispatch
// limiter; bans backs the ban tracker.
func NewEngine(cfg config.VerificationConfig, store repository.SignupStore, windows ratelimit.WindowStore,
	bans ratelimit.BanStore, sender Sender, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg,
		store:     store,
		sender:    sender,
		notifier:  nopNotifier{},
		validate:  validator.New(),
		now:       time.Now,
		newCode:   utils.GenerateCode,
		welcomeID: model.RandomWelcomeMessageID,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.Named("verification")

	rl := []ratelimit.Option{ratelimit.WithClock(e.now), ratelimit.WithLogger(e.log)}
	e.signupByIP = ratelimit.NewLimiter("signup_ip", cfg.SignupPerIP, windows, rl...)
	e.signupByEmail = ratelimit.NewLimiter("signup_email", cfg.SignupPerEmail, windows, rl...)
	e.verifyByIP = ratelimit.NewLimiter("verify_ip", cfg.VerifyPerIP, windows, rl...)
	e.resendByEmail = ratelimit.NewLimiter("resend_email", cfg.ResendPerEmail, windows, rl...)
	e.resendByIP = ratelimit.NewLimiter("resend_ip", cfg.ResendPerIP, windows, rl...)
	e.bans = ratelimit.NewBanTracker(bans, cfg.BanThreshold, cfg.BanDuration, rl...)
	e.gate = NewDispatchGate(cfg, windows, rl...).WithLogger(e.log)
	return e
}

func normalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

func (e *Engine) validEmail(email string) bool {
	return e.validate.Var(email, "required,email,max=254") == nil
}

// admit runs the ban check and then the limiters. A rejected request
// consumes no limiter budget but counts as a failure towards a ban.
func (e *Engine) admit(ctx context.Context, ip string, kind ratelimit.ActionKind, targets ...ratelimit.Target) error {
	if until, banned := e.bans.BannedUntil(ctx, ip, kind); banned {
		e.log.Info("banned requester rejected", zap.String("ip", ip), zap.String("kind", string(kind)))
		return retryAfter(until, e.now())
	}
	if d := ratelimit.CheckAll(ctx, targets...); !d.Allowed {
		e.bans.TrackFailedAttempt(ctx, ip, kind)
		return &RateLimitError{RetryAfter: d.RetryAfter}
	}
	return nil
}

func (e *Engine) logAttempt(ctx context.Context, email, code, ip string, ok bool, at time.Time) {
	err := e.store.LogAttempt(ctx, model.VerificationAttempt{
		Email:         email,
		AttemptedCode: code,
		WasSuccessful: ok,
		IPAddress:     ip,
		CreatedAt:     at,
	})
	if err != nil {
		e.log.Warn("attempt log write failed", logger.MaskEmail(email), zap.Error(err))
	}
}

func (e *Engine) internal(op, email string, err error) error {
	e.log.Error(op+" failed", logger.MaskEmail(email), zap.Error(err))
	return ErrInternal
}

// RequestCode handles a signup: it creates the record or, for a known
// email, replaces its code. Verified emails get a fresh code too; their
// state does not change.
func (e *Engine) RequestCode(ctx context.Context, email string, meta model.ClientMeta) (IssueResult, error) {
	email = normalizeEmail(email)
	if !e.validEmail(email) {
		return IssueResult{}, &ValidationError{Field: "email", Message: "a valid email address is required"}
	}
	ip := meta.IPAddress
	err := e.admit(ctx, ip, ratelimit.ActionSignup,
		ratelimit.Target{Limiter: e.signupByIP, ID: ip},
		ratelimit.Target{Limiter: e.signupByEmail, ID: email},
	)
	if err != nil {
		return IssueResult{}, err
	}

	rec, err := e.store.FindByEmail(ctx, email)
	exists := true
	switch {
	case errors.Is(err, repository.ErrNotFound):
		exists = false
	case err != nil:
		return IssueResult{}, e.internal("find signup", email, err)
	case rec.IsLocked(e.now()):
		return IssueResult{}, newLockedError(*rec.LockedUntil, e.now())
	}

	if err := e.gate.AuthorizeSend(ctx, email, ip, KindCode); err != nil {
		return IssueResult{}, err
	}

	code := e.newCode()
	at := e.now()
	if exists {
		rec, err = e.store.UpdateCode(ctx, email, code, at)
	} else {
		rec, err = e.store.Create(ctx, email, code, meta, at)
		if errors.Is(err, repository.ErrEmailExists) {
			// Lost a race with a concurrent signup for the same email.
			rec, err = e.store.UpdateCode(ctx, email, code, at)
		}
	}
	if err != nil {
		return IssueResult{}, e.internal("store code", email, err)
	}
	if rec.IsVerified {
		e.log.Info("code re-issued to verified email", logger.MaskEmail(email))
	}

	res := IssueResult{Email: email, ExpiresAt: at.Add(e.cfg.CodeExpiry), Position: e.position(ctx, rec)}
	if err := e.send(ctx, email, code); err != nil {
		return res, err
	}
	res.Sent = true
	return res, nil
}

// position is the sequence offset plus the number of signups created
// before rec, plus one.
func (e *Engine) position(ctx context.Context, rec model.Signup) int64 {
	n, err := e.store.CountCreatedBefore(ctx, rec.CreatedAt)
	if err != nil {
		e.log.Warn("position unavailable", logger.MaskEmail(rec.Email), zap.Error(err))
		return 0
	}
	return e.cfg.SequenceOffset + n + 1
}

// ResendCode replaces the code of an existing signup and sends it again.
func (e *Engine) ResendCode(ctx context.Context, email, ip string) (IssueResult, error) {
	email = normalizeEmail(email)
	if !e.validEmail(email) {
		return IssueResult{}, &NotFoundError{}
	}
	err := e.admit(ctx, ip, ratelimit.ActionResend,
		ratelimit.Target{Limiter: e.resendByIP, ID: ip},
		ratelimit.Target{Limiter: e.resendByEmail, ID: email},
	)
	if err != nil {
		return IssueResult{}, err
	}

	rec, err := e.store.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		e.bans.TrackFailedAttempt(ctx, ip, ratelimit.ActionResend)
		return IssueResult{}, &NotFoundError{}
	}
	if err != nil {
		return IssueResult{}, e.internal("find signup", email, err)
	}
	if rec.IsLocked(e.now()) {
		return IssueResult{}, newLockedError(*rec.LockedUntil, e.now())
	}

	if err := e.gate.AuthorizeSend(ctx, email, ip, KindCode); err != nil {
		return IssueResult{}, err
	}

	code := e.newCode()
	at := e.now()
	if _, err := e.store.UpdateCode(ctx, email, code, at); err != nil {
		return IssueResult{}, e.internal("update code", email, err)
	}
	e.logAttempt(ctx, email, model.ResendMarker, ip, true, at)

	res := IssueResult{Email: email, ExpiresAt: at.Add(e.cfg.CodeExpiry)}
	if err := e.send(ctx, email, code); err != nil {
		return res, err
	}
	res.Sent = true
	return res, nil
}

func (e *Engine) send(ctx context.Context, email, code string) error {
	m := codeMessage(code, e.cfg.CodeExpiry)
	if err := e.sender.Send(ctx, email, m.Subject, m.Text, m.HTML); err != nil {
		e.log.Error("code email not sent", logger.MaskEmail(email), zap.Error(err))
		return ErrDispatchFailed
	}
	return nil
}

// VerifyCode checks code against the live code of email. Unknown emails,
// verified emails, locks and expiry are rejected before any attempt is
// counted.
func (e *Engine) VerifyCode(ctx context.Context, email, code, ip string) (VerifyResult, error) {
	email = normalizeEmail(email)
	if !e.validEmail(email) {
		return VerifyResult{}, &NotFoundError{}
	}
	err := e.admit(ctx, ip, ratelimit.ActionVerify,
		ratelimit.Target{Limiter: e.verifyByIP, ID: ip},
	)
	if err != nil {
		return VerifyResult{}, err
	}

	input := utils.SanitizeCode(code)
	if !utils.IsWellFormedCode(input) {
		e.bans.TrackFailedAttempt(ctx, ip, ratelimit.ActionVerify)
		return VerifyResult{}, &ValidationError{Field: "code", Message: "verification code must be 6 characters"}
	}

	rec, err := e.store.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		e.bans.TrackFailedAttempt(ctx, ip, ratelimit.ActionVerify)
		return VerifyResult{}, &NotFoundError{}
	}
	if err != nil {
		return VerifyResult{}, e.internal("find signup", email, err)
	}

	now := e.now()
	switch {
	case rec.IsVerified:
		return VerifyResult{}, &AlreadyVerifiedError{}
	case rec.IsLocked(now):
		return VerifyResult{}, newLockedError(*rec.LockedUntil, now)
	case rec.IsExpired(now, e.cfg.CodeExpiry):
		return VerifyResult{}, &ExpiredError{}
	}

	if input != rec.VerificationCode {
		return e.wrongCode(ctx, email, input, ip, now)
	}
	return e.finalize(ctx, email, input, ip, now)
}

func (e *Engine) wrongCode(ctx context.Context, email, input, ip string, now time.Time) (VerifyResult, error) {
	rec, err := e.store.IncrementAttempts(ctx, email, e.cfg.MaxAttempts)
	exhausted := errors.Is(err, repository.ErrAttemptsExhausted)
	switch {
	case exhausted:
	case errors.Is(err, repository.ErrNotFound):
		return VerifyResult{}, &NotFoundError{}
	case err != nil:
		return VerifyResult{}, e.internal("increment attempts", email, err)
	}

	e.logAttempt(ctx, email, input, ip, false, now)
	e.bans.TrackFailedAttempt(ctx, ip, ratelimit.ActionVerify)

	if exhausted {
		// A concurrent guess used the last attempt. Make sure the lock is
		// in place and report it.
		if rec.IsLocked(now) {
			return VerifyResult{}, newLockedError(*rec.LockedUntil, now)
		}
		return e.lock(ctx, email, now), nil
	}
	if rec.VerificationAttempts >= e.cfg.MaxAttempts {
		return e.lock(ctx, email, now), nil
	}
	remaining := e.cfg.MaxAttempts - rec.VerificationAttempts
	if remaining < 0 {
		remaining = 0
	}
	return VerifyResult{Email: email, AttemptsRemaining: remaining}, nil
}

// lock writes lockedUntil. A failed write is only logged: the counter is
// at its ceiling, so the next guess comes back here and retries.
func (e *Engine) lock(ctx context.Context, email string, now time.Time) VerifyResult {
	until := now.Add(e.cfg.LockDuration)
	if err := e.store.Lock(ctx, email, until); err != nil {
		e.log.Error("lock write failed", logger.MaskEmail(email), zap.Error(err))
	} else {
		e.log.Info("signup locked", logger.MaskEmail(email), zap.Time("until", until))
	}
	return VerifyResult{Email: email, Locked: true, RetryMinutes: minutesUntil(until, now)}
}

func (e *Engine) finalize(ctx context.Context, email, input, ip string, now time.Time) (VerifyResult, error) {
	res := VerifyResult{Email: email, Verified: true}

	var fields *model.VerifiedFields
	if total, err := e.store.CountAll(ctx); err != nil {
		e.log.Warn("sequence count failed", logger.MaskEmail(email), zap.Error(err))
	} else {
		fields = &model.VerifiedFields{
			WelcomeMessageID: e.welcomeID(),
			CalculatedNumber: e.cfg.SequenceOffset + total,
		}
	}

	err := e.markVerified(ctx, email, now, fields)
	switch {
	case err == nil:
		if fields != nil {
			res.WelcomeMessageID = fields.WelcomeMessageID
			res.CalculatedNumber = fields.CalculatedNumber
		}
	case errors.Is(err, errFieldsDropped):
	case errors.Is(err, repository.ErrAlreadyVerified):
		return VerifyResult{}, &AlreadyVerifiedError{}
	case errors.Is(err, repository.ErrNotFound):
		return VerifyResult{}, &NotFoundError{}
	default:
		return VerifyResult{}, e.internal("mark verified", email, err)
	}

	e.logAttempt(ctx, email, input, ip, true, now)
	e.log.Info("signup verified", logger.MaskEmail(email), zap.Int64("number", res.CalculatedNumber))

	ev := SignupVerified{
		Email:            email,
		WelcomeMessageID: res.WelcomeMessageID,
		CalculatedNumber: res.CalculatedNumber,
		VerifiedAt:       now,
	}
	if err := e.notifier.NotifyVerified(ctx, ev); err != nil {
		e.log.Warn("verified event dropped", logger.MaskEmail(email), zap.Error(err))
	}
	return res, nil
}

// errFieldsDropped reports that only the flag and timestamp were written.
var errFieldsDropped = errors.New("verified without derived fields")

// markVerified writes the full update and falls back to flag and
// timestamp only when that fails for any reason other than the row's
// state.
func (e *Engine) markVerified(ctx context.Context, email string, at time.Time, fields *model.VerifiedFields) error {
	if fields != nil {
		err := e.store.MarkVerified(ctx, email, at, fields)
		if err == nil || errors.Is(err, repository.ErrAlreadyVerified) || errors.Is(err, repository.ErrNotFound) {
			return err
		}
		e.log.Warn("full verify update failed, writing flag only", logger.MaskEmail(email), zap.Error(err))
	}
	err := e.store.MarkVerified(ctx, email, at, nil)
	if errors.Is(err, repository.ErrAlreadyVerified) && fields != nil {
		// The full update may have committed before reporting its error.
		return errFieldsDropped
	}
	if err == nil {
		return errFieldsDropped
	}
	return err
}

// PublicStats returns the verified count, cached for StatsTTL. A stale
// value is served when the store cannot be read. The cache lock is never
// held while the store is queried.
func (e *Engine) PublicStats(ctx context.Context) (Stats, error) {
	now := e.now()
	e.statsMu.Lock()
	cached, cachedAt := e.stats, e.statsTime
	e.statsMu.Unlock()

	if !cachedAt.IsZero() && now.Sub(cachedAt) < e.cfg.StatsTTL {
		return cached, nil
	}
	n, err := e.store.CountVerified(ctx)
	if err != nil {
		if !cachedAt.IsZero() {
			e.log.Warn("stats refresh failed, serving cached value", zap.Error(err))
			return cached, nil
		}
		e.log.Error("stats read failed", zap.Error(err))
		return Stats{}, ErrInternal
	}

	st := Stats{VerifiedCount: n}
	e.statsMu.Lock()
	if now.After(e.statsTime) {
		e.stats, e.statsTime = st, now
	}
	e.statsMu.Unlock()
	return st, nil
}
