package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/taskpilot/taskpilot/internal/auth"
)

// publicPages are the page paths reachable without a session. Everything else
// outside /api and /healthz requires one.
var publicPages = map[string]bool{
	"/":                true,
	"/login":           true,
	"/signup":          true,
	"/verify-email":    true,
	"/forgot-password": true,
	"/reset-password":  true,
	"/features":        true,
	"/contact":         true,
	"/logout":          true,
}

// authEntryPages are public pages that make no sense for an authenticated
// user; the guard bounces a valid session off them to the profile page.
var authEntryPages = map[string]bool{
	"/login":  true,
	"/signup": true,
}

// PageGuard is the edge policy for server-rendered pages. It runs before any
// page handler and only inspects the access cookie:
//
//   - no token on a protected page  -> redirect to /login
//   - valid token on login/signup   -> redirect to /profile
//   - invalid token on a protected page -> redirect to /logout?reason=expired,
//     so the client can show a "session expired" message instead of a bare
//     login prompt.
//
// The check is intentionally shallow; every protected API handler re-checks
// the session through the resolver.
func PageGuard(codec *auth.Codec) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			if strings.HasPrefix(path, "/api/") || path == "/healthz" {
				return next(c)
			}

			raw := ""
			if ck, err := c.Cookie(AccessCookie); err == nil {
				raw = ck.Value
			}

			if raw == "" {
				if publicPages[path] {
					return next(c)
				}
				return c.Redirect(http.StatusFound, "/login")
			}

			_, err := codec.VerifyAccess(raw)
			if err != nil {
				if publicPages[path] {
					// A stale cookie on a public page is just an anonymous visit.
					return next(c)
				}
				return c.Redirect(http.StatusFound, "/logout?reason=expired")
			}

			if authEntryPages[path] {
				return c.Redirect(http.StatusFound, "/profile")
			}
			return next(c)
		}
	}
}
