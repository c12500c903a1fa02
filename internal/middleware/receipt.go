package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/signup-verification/internal/utils"
)

// ReceiptKey is the context key holding *utils.VerificationClaims.
const ReceiptKey = "receipt"

// RequireReceipt validates a Bearer verification receipt and stores its
// claims under ReceiptKey.
func RequireReceipt(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			claims, err := utils.ParseVerificationToken(secret, strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			c.Set(ReceiptKey, claims)
			return next(c)
		}
	}
}
