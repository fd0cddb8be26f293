package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/kiennguyen/apptravel/internal/policy"
)

// Authorize enforces the route gate of op from the policy table. The rule
// is resolved once, when the route is registered. Object-level checks
// stay in the handlers because they need the loaded resource.
func Authorize(op policy.Operation) echo.MiddlewareFunc {
	rule := policy.Lookup(op)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			switch policy.CheckGate(rule, CallerFrom(c)) {
			case policy.Unauthenticated:
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
			case policy.Forbidden:
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
			}
			return next(c)
		}
	}
}
