package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// ContextKey represents keys for context values
type ContextKey string

// UserContextKey holds the authenticated identity for the request.
const UserContextKey ContextKey = "user"

// Identity is the authenticated caller, as carried in the token claims.
type Identity struct {
	UserID int64
	Email  string
}

// RequireAuth validates the Bearer token and puts the caller's identity
// in the request context.
func RequireAuth(tokenService *TokenService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header required")
			}

			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization header format")
			}

			claims, err := tokenService.ValidateToken(tokenParts[1])
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
			}

			c.Set(string(UserContextKey), &Identity{UserID: claims.UserID, Email: claims.Email})
			return next(c)
		}
	}
}

// GetIdentity extracts the authenticated identity from echo context.
// Returns nil on unauthenticated requests.
func GetIdentity(c echo.Context) *Identity {
	v := c.Get(string(UserContextKey))
	if v == nil {
		return nil
	}
	id, ok := v.(*Identity)
	if !ok {
		return nil
	}
	return id
}
