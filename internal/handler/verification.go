package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/signup-verification/internal/middleware"
	"github.com/iliyamo/signup-verification/internal/model"
	"github.com/iliyamo/signup-verification/internal/service"
	"github.com/iliyamo/signup-verification/internal/utils"
)

const requestTimeout = 5 * time.Second

// VerificationHandler exposes the verification engine over HTTP.
type VerificationHandler struct {
	Engine    *service.Engine
	JWTSecret string
	TokenTTL  time.Duration
	Log       *zap.Logger
	Now       func() time.Time
}

func NewVerificationHandler(engine *service.Engine, jwtSecret string, tokenTTL time.Duration, log *zap.Logger) *VerificationHandler {
	return &VerificationHandler{Engine: engine, JWTSecret: jwtSecret, TokenTTL: tokenTTL, Log: log.Named("http"), Now: time.Now}
}

// ----- DTOs -----

type emailReq struct {
	Email string `json:"email"`
}

type verifyReq struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type issueResp struct {
	Sent      bool      `json:"sent"`
	ExpiresAt time.Time `json:"expires_at"`
	Position  int64     `json:"position,omitempty"`
}

type verifyResp struct {
	Verified          bool       `json:"verified"`
	WelcomeMessageID  int        `json:"welcome_message_id,omitempty"`
	CalculatedNumber  int64      `json:"calculated_number,omitempty"`
	Token             string     `json:"token,omitempty"`
	TokenExpires      *time.Time `json:"token_expires,omitempty"`
	AttemptsRemaining *int       `json:"attempts_remaining,omitempty"`
	Locked            bool       `json:"locked,omitempty"`
	RetryMinutes      int        `json:"retry_minutes,omitempty"`
	Error             string     `json:"error,omitempty"`
}

// Signup: create or refresh a pending signup and email a code.
func (h *VerificationHandler) Signup(c echo.Context) error {
	var req emailReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	meta := model.ClientMeta{IPAddress: c.RealIP(), UserAgent: c.Request().UserAgent()}
	res, err := h.Engine.RequestCode(ctx, req.Email, meta)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, issueResp{Sent: res.Sent, ExpiresAt: res.ExpiresAt, Position: res.Position})
}

// Resend: email a fresh code for an existing signup.
func (h *VerificationHandler) Resend(c echo.Context) error {
	var req emailReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	res, err := h.Engine.ResendCode(ctx, req.Email, c.RealIP())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, issueResp{Sent: res.Sent, ExpiresAt: res.ExpiresAt})
}

// Verify: check a code. Success returns a signed receipt.
func (h *VerificationHandler) Verify(c echo.Context) error {
	var req verifyReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	res, err := h.Engine.VerifyCode(ctx, req.Email, req.Code, c.RealIP())
	if err != nil {
		return h.fail(c, err)
	}

	switch {
	case res.Locked:
		return c.JSON(http.StatusLocked, verifyResp{
			Locked:       true,
			RetryMinutes: res.RetryMinutes,
			Error:        "too many failed attempts",
		})
	case !res.Verified:
		left := res.AttemptsRemaining
		return c.JSON(http.StatusBadRequest, verifyResp{
			AttemptsRemaining: &left,
			Error:             "invalid verification code",
		})
	}

	out := verifyResp{
		Verified:         true,
		WelcomeMessageID: res.WelcomeMessageID,
		CalculatedNumber: res.CalculatedNumber,
	}
	tok, err := utils.NewVerificationToken(h.JWTSecret, res.Email, res.WelcomeMessageID, h.Now(), h.TokenTTL)
	if err != nil {
		// The signup is verified either way; the receipt is a convenience.
		h.Log.Warn("receipt not issued", zap.Error(err))
	} else {
		out.Token, out.TokenExpires = tok.Token, &tok.Exp
	}
	return c.JSON(http.StatusOK, out)
}

// Receipt: echo back what a valid receipt asserts.
func (h *VerificationHandler) Receipt(c echo.Context) error {
	claims, ok := c.Get(middleware.ReceiptKey).(*utils.VerificationClaims)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"email":              claims.Subject,
		"welcome_message_id": claims.WelcomeMessageID,
	})
}

// Stats: public verified counter.
func (h *VerificationHandler) Stats(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	st, err := h.Engine.PublicStats(ctx)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

// fail maps engine errors to status codes. Messages come from the error
// types themselves and never carry internal detail.
func (h *VerificationHandler) fail(c echo.Context, err error) error {
	var (
		ve *service.ValidationError
		nf *service.NotFoundError
		rl *service.RateLimitError
		le *service.LockedError
		ee *service.ExpiredError
		av *service.AlreadyVerifiedError
	)
	switch {
	case errors.As(err, &ve):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": ve.Error()})
	case errors.As(err, &nf):
		return c.JSON(http.StatusNotFound, echo.Map{"error": nf.Error()})
	case errors.As(err, &rl):
		secs := rl.RetryAfterSeconds()
		c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
		return c.JSON(http.StatusTooManyRequests, echo.Map{"error": rl.Error(), "retry_after": secs})
	case errors.As(err, &le):
		return c.JSON(http.StatusLocked, echo.Map{"error": le.Error(), "locked": true, "retry_minutes": le.RetryMinutes})
	case errors.As(err, &ee):
		return c.JSON(http.StatusGone, echo.Map{"error": ee.Error()})
	case errors.As(err, &av):
		return c.JSON(http.StatusConflict, echo.Map{"error": av.Error()})
	case errors.Is(err, service.ErrDispatchFailed):
		return c.JSON(http.StatusBadGateway, echo.Map{"error": err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": service.ErrInternal.Error()})
	}
}
