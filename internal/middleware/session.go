package middleware // middleware provides shared request processing for handlers

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/taskpilot/taskpilot/internal/auth"
)

// Cookie names shared by the issuer, resolver and guard.
const (
	AccessCookie  = "token"
	RefreshCookie = "refreshToken"
)

// Context keys populated by the session resolver.
const (
	ctxUserID = "user_id"
	ctxEmail  = "user_email"
)

// Session returns middleware that resolves the current user from the access
// token and rejects the request with 401 when no valid token is present.
// The check is stateless: it trusts the signature and expiry embedded in the
// token and never touches the database. The token is read from the access
// cookie first, with an Authorization bearer fallback for non-browser
// clients.
func Session(codec *auth.Codec) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := rawAccessToken(c)
			if raw == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Authentication required. Token missing or invalid."})
			}
			claims, err := codec.VerifyAccess(raw)
			if err != nil {
				// Expired and tampered tokens get the same response.
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Authentication required. Token missing or invalid."})
			}
			c.Set(ctxUserID, claims.UserID)
			c.Set(ctxEmail, claims.Email)
			return next(c)
		}
	}
}

// CurrentUserID is the identity contract exposed to every protected handler:
// it returns the authenticated user id, or 0 when the request carries no
// resolved identity. Handlers scope all queries by this value and never trust
// a client-supplied id.
func CurrentUserID(c echo.Context) uint64 {
	if v, ok := c.Get(ctxUserID).(uint64); ok {
		return v
	}
	return 0
}

// CurrentEmail returns the email claim of the resolved session, if any.
func CurrentEmail(c echo.Context) string {
	if v, ok := c.Get(ctxEmail).(string); ok {
		return v
	}
	return ""
}

// rawAccessToken extracts the access token from the request without
// validating it: cookie first, then the Authorization header.
func rawAccessToken(c echo.Context) string {
	if ck, err := c.Cookie(AccessCookie); err == nil && ck.Value != "" {
		return ck.Value
	}
	if h := c.Request().Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// BestEffortUserID resolves the user id from the access token when possible
// and returns 0 otherwise. Logout uses it so that clearing a session always
// succeeds even when the token has already expired.
func BestEffortUserID(c echo.Context, codec *auth.Codec) uint64 {
	raw := rawAccessToken(c)
	if raw == "" {
		return 0
	}
	claims, err := codec.VerifyAccess(raw)
	if err != nil {
		return 0
	}
	return claims.UserID
}
