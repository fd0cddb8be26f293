package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/kiennguyen/apptravel/internal/policy"
	"github.com/kiennguyen/apptravel/internal/utils"
)

// callerKey is the echo context key holding the resolved policy.Caller.
const callerKey = "caller"

// JWTAuth returns an Echo middleware that resolves the caller from an
// optional Bearer access token. Requests without an Authorization header
// continue as policy.Anonymous; a header carrying a bad or expired token
// is rejected with 401 so clients learn they must refresh.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if auth == "" {
				c.Set(callerKey, policy.Anonymous)
				return next(c)
			}
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			claims, err := utils.ParseAccessToken(secret, strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			c.Set(callerKey, policy.Caller{
				UserID:        claims.UserID,
				IsSuperUser:   claims.IsSuperUser,
				Authenticated: true,
			})
			return next(c)
		}
	}
}

// CallerFrom returns the caller stored by JWTAuth, or policy.Anonymous.
func CallerFrom(c echo.Context) policy.Caller {
	if v, ok := c.Get(callerKey).(policy.Caller); ok {
		return v
	}
	return policy.Anonymous
}

// SetCaller stores caller in c. Used by tests and internal tooling.
func SetCaller(c echo.Context, caller policy.Caller) { c.Set(callerKey, caller) }
