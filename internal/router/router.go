// Package router registers HTTP routes on an echo instance.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/signup-verification/internal/handler"
	"github.com/iliyamo/signup-verification/internal/middleware"
)

// RegisterRoutes registers routes outside the versioned API.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterVerification registers the signup verification API under /v1.
// limit guards every route in the group; statsCache wraps only the
// public counter.
func RegisterVerification(e *echo.Echo, h *handler.VerificationHandler, limit, statsCache echo.MiddlewareFunc) {
	g := e.Group("/v1", limit)

	s := g.Group("/signup")
	s.POST("", h.Signup)
	s.POST("/resend", h.Resend)
	s.POST("/verify", h.Verify)
	s.GET("/receipt", h.Receipt, middleware.RequireReceipt(h.JWTSecret))

	g.GET("/stats", h.Stats, statsCache)
}
