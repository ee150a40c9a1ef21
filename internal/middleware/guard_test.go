package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskpilot/taskpilot/internal/auth"
)

func newGuardApp(codec *auth.Codec) *echo.Echo {
	e := echo.New()
	e.Use(PageGuard(codec))
	ok := func(c echo.Context) error { return c.String(http.StatusOK, "page") }
	for _, p := range []string{"/", "/login", "/signup", "/profile", "/tasks", "/logout"} {
		e.GET(p, ok)
	}
	e.GET("/api/users/details", ok)
	e.GET("/healthz", ok)
	return e
}

func guardGet(e *echo.Echo, path, cookie string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: AccessCookie, Value: cookie})
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestPageGuardRedirects(t *testing.T) {
	codec := auth.NewCodec("a", "r", time.Hour, time.Hour)
	e := newGuardApp(codec)

	valid, _, err := codec.IssueAccess(5, "a@x.com")
	require.NoError(t, err)

	cases := []struct {
		name     string
		path     string
		cookie   string
		code     int
		location string
	}{
		{"anonymous on protected page", "/profile", "", http.StatusFound, "/login"},
		{"anonymous on public page", "/", "", http.StatusOK, ""},
		{"anonymous on login", "/login", "", http.StatusOK, ""},
		{"valid session on protected page", "/tasks", valid, http.StatusOK, ""},
		{"valid session bounced off login", "/login", valid, http.StatusFound, "/profile"},
		{"valid session bounced off signup", "/signup", valid, http.StatusFound, "/profile"},
		{"stale cookie on protected page", "/profile", "garbage", http.StatusFound, "/logout?reason=expired"},
		{"stale cookie on public page", "/", "garbage", http.StatusOK, ""},
		{"stale cookie on login", "/login", "garbage", http.StatusOK, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := guardGet(e, tc.path, tc.cookie)
			assert.Equal(t, tc.code, rec.Code)
			if tc.location != "" {
				assert.Equal(t, tc.location, rec.Header().Get(echo.HeaderLocation))
			}
		})
	}
}

func TestPageGuardSkipsAPIAndHealth(t *testing.T) {
	codec := auth.NewCodec("a", "r", time.Hour, time.Hour)
	e := newGuardApp(codec)

	// API routes enforce their own auth through the session resolver; the
	// page guard must not redirect them.
	assert.Equal(t, http.StatusOK, guardGet(e, "/api/users/details", "").Code)
	assert.Equal(t, http.StatusOK, guardGet(e, "/healthz", "").Code)
}
