package middleware

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/signup-verification/internal/ratelimit"
)

// RateLimit applies l per client IP to every request it wraps and sets
// the usual X-RateLimit headers. A nil limiter disables it.
func RateLimit(l *ratelimit.Limiter, max int) echo.MiddlewareFunc {
	if l == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			if ip == "" {
				ip = "unknown"
			}
			d := l.Check(c.Request().Context(), ip)

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.Allowed {
				secs := d.RetryAfterSeconds()
				h.Set("Retry-After", strconv.Itoa(secs))
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"error":       "too many requests, please try again later",
					"retry_after": secs,
				})
			}
			return next(c)
		}
	}
}
