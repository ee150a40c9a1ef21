package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/taskpilot/taskpilot/internal/auth"
	"github.com/taskpilot/taskpilot/internal/config"
	"github.com/taskpilot/taskpilot/internal/queue"
	"github.com/taskpilot/taskpilot/internal/repository"
)

type authFixture struct {
	h    *AuthHandler
	mock sqlmock.Sqlmock
	sent *[]queue.EmailRequestedEvent
}

func newAuthFixture(t *testing.T) authFixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.Config{
		Env:        "test",
		AccessTTL:  time.Hour,
		RefreshTTL: 5 * 24 * time.Hour,
		OneTimeTTL: 10 * time.Minute,
		BcryptCost: bcrypt.MinCost,
	}
	codec := auth.NewCodec("test-access-secret", "test-refresh-secret", cfg.AccessTTL, cfg.RefreshTTL)

	sent := []queue.EmailRequestedEvent{}
	mail := func(ctx context.Context, ev queue.EmailRequestedEvent) error {
		sent = append(sent, ev)
		return nil
	}
	h := NewAuthHandler(cfg, codec, repository.NewUserRepo(db), mail)
	return authFixture{h: h, mock: mock, sent: &sent}
}

func jsonRequest(method, target, body string, cookies ...*http.Cookie) (*http.Request, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	return req, httptest.NewRecorder()
}

func call(t *testing.T, fn echo.HandlerFunc, req *http.Request, rec *httptest.ResponseRecorder) {
	t.Helper()
	c := echo.New().NewContext(req, rec)
	require.NoError(t, fn(c))
}

func cookieByName(res *http.Response, name string) *http.Cookie {
	for _, ck := range res.Cookies() {
		if ck.Name == name {
			return ck
		}
	}
	return nil
}

func userRow(id uint64, email, passwordHash string, verified bool) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "username", "email", "password_hash", "is_verified", "is_admin", "refresh_token",
		"email_verification_token", "email_verification_token_expiry",
		"forgot_password_token", "forgot_password_token_expiry",
		"last_password_change", "created_at", "updated_at",
	}).AddRow(id, "alice", email, passwordHash, verified, false, nil, nil, nil, nil, nil, nil, now, now)
}

func mustHash(t *testing.T, plain string) string {
	t.Helper()
	h, err := auth.HashPassword(plain, bcrypt.MinCost)
	require.NoError(t, err)
	return h
}

// ----- signup -----

func TestSignupCreatesUserAndRequestsVerificationMail(t *testing.T) {
	f := newAuthFixture(t)

	f.mock.ExpectExec("INSERT INTO users").
		WithArgs("alice", "a@x.com", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(7, 1))
	f.mock.ExpectExec("UPDATE users SET email_verification_token=").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), uint64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	req, rec := jsonRequest(http.MethodPost, "/api/users/signup",
		`{"username":"alice","email":"A@X.com","password":"Abcd1234"}`)
	call(t, f.h.Signup, req, rec)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"isVerificationMailSent":true`)

	require.Len(t, *f.sent, 1)
	ev := (*f.sent)[0]
	assert.Equal(t, queue.EmailVerify, ev.Kind)
	assert.Equal(t, "a@x.com", ev.Email)
	assert.NotEmpty(t, ev.Token)
}

func TestSignupDuplicateEmail(t *testing.T) {
	f := newAuthFixture(t)

	f.mock.ExpectExec("INSERT INTO users").
		WillReturnError(errors.New("Error 1062 (23000): Duplicate entry"))

	req, rec := jsonRequest(http.MethodPost, "/api/users/signup",
		`{"username":"alice","email":"a@x.com","password":"Abcd1234"}`)
	call(t, f.h.Signup, req, rec)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "already exists")
}

func TestSignupValidation(t *testing.T) {
	f := newAuthFixture(t)

	cases := []string{
		`{"username":"","email":"a@x.com","password":"Abcd1234"}`,
		`{"username":"alice","email":"not-an-email","password":"Abcd1234"}`,
		`{"username":"alice","email":"a@x.com","password":"short"}`,
	}
	for _, body := range cases {
		req, rec := jsonRequest(http.MethodPost, "/api/users/signup", body)
		call(t, f.h.Signup, req, rec)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	// No DB statement may run before validation passes.
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

// ----- login -----

func TestLoginSetsCookiesAndPersistsRefreshToken(t *testing.T) {
	f := newAuthFixture(t)
	hash := mustHash(t, "Abcd1234")

	f.mock.ExpectQuery("SELECT .+ FROM users WHERE email=").
		WithArgs("a@x.com").
		WillReturnRows(userRow(5, "a@x.com", hash, true))
	f.mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET refresh_token=? WHERE id=?")).
		WithArgs(sqlmock.AnyArg(), uint64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	req, rec := jsonRequest(http.MethodPost, "/api/users/login",
		`{"email":"a@x.com","password":"Abcd1234"}`)
	call(t, f.h.Login, req, rec)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"isLoginSuccess":true`)

	res := rec.Result()
	access := cookieByName(res, "token")
	refresh := cookieByName(res, "refreshToken")
	require.NotNil(t, access)
	require.NotNil(t, refresh)
	assert.True(t, access.HttpOnly)
	assert.True(t, refresh.HttpOnly)
	assert.Equal(t, "/", access.Path)
	assert.Equal(t, int(time.Hour/time.Second), access.MaxAge)
	assert.Equal(t, int(5*24*time.Hour/time.Second), refresh.MaxAge)

	// The cookie really is a verifiable token for the right user.
	claims, err := f.h.Codec.VerifyAccess(access.Value)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), claims.UserID)

	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newAuthFixture(t)

	f.mock.ExpectQuery("SELECT .+ FROM users WHERE email=").
		WithArgs("ghost@x.com").
		WillReturnError(sql.ErrNoRows)
	reqA, recA := jsonRequest(http.MethodPost, "/api/users/login",
		`{"email":"ghost@x.com","password":"Abcd1234"}`)
	call(t, f.h.Login, reqA, recA)

	f.mock.ExpectQuery("SELECT .+ FROM users WHERE email=").
		WithArgs("a@x.com").
		WillReturnRows(userRow(5, "a@x.com", mustHash(t, "Abcd1234"), true))
	reqB, recB := jsonRequest(http.MethodPost, "/api/users/login",
		`{"email":"a@x.com","password":"WrongPass1"}`)
	call(t, f.h.Login, reqB, recB)

	assert.Equal(t, http.StatusBadRequest, recA.Code)
	assert.Equal(t, http.StatusBadRequest, recB.Code)
	// Unknown email and wrong password must yield byte-identical bodies.
	assert.Equal(t, recA.Body.String(), recB.Body.String())
}

func TestLoginHonorsVerifiedPolicy(t *testing.T) {
	f := newAuthFixture(t)
	f.h.Cfg.RequireVerifiedLogin = true

	f.mock.ExpectQuery("SELECT .+ FROM users WHERE email=").
		WithArgs("a@x.com").
		WillReturnRows(userRow(5, "a@x.com", mustHash(t, "Abcd1234"), false))

	req, rec := jsonRequest(http.MethodPost, "/api/users/login",
		`{"email":"a@x.com","password":"Abcd1234"}`)
	call(t, f.h.Login, req, rec)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"needsVerification":true`)
}

// ----- refresh -----

func TestRefreshRotatesTokenPair(t *testing.T) {
	f := newAuthFixture(t)

	presented, _, err := f.h.Codec.IssueRefresh(5)
	require.NoError(t, err)

	f.mock.ExpectQuery("SELECT .+ FROM users WHERE id=").
		WithArgs(uint64(5)).
		WillReturnRows(userRow(5, "a@x.com", "hash", true))
	f.mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET refresh_token=? WHERE id=? AND refresh_token=?")).
		WithArgs(sqlmock.AnyArg(), uint64(5), auth.DigestToken(presented)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	req, rec := jsonRequest(http.MethodPost, "/api/users/refresh-token", "",
		&http.Cookie{Name: "refreshToken", Value: presented})
	call(t, f.h.RefreshToken, req, rec)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	claims, err := f.h.Codec.VerifyAccess(body.Token)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), claims.UserID)

	res := rec.Result()
	require.NotNil(t, cookieByName(res, "token"))
	require.NotNil(t, cookieByName(res, "refreshToken"))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestRefreshRejectsReplayAfterRotation(t *testing.T) {
	f := newAuthFixture(t)

	// Cryptographically valid and unexpired, but no longer the stored value.
	presented, _, err := f.h.Codec.IssueRefresh(5)
	require.NoError(t, err)

	f.mock.ExpectQuery("SELECT .+ FROM users WHERE id=").
		WithArgs(uint64(5)).
		WillReturnRows(userRow(5, "a@x.com", "hash", true))
	f.mock.ExpectExec("UPDATE users SET refresh_token=").
		WillReturnResult(sqlmock.NewResult(0, 0))

	req, rec := jsonRequest(http.MethodPost, "/api/users/refresh-token", "",
		&http.Cookie{Name: "refreshToken", Value: presented})
	call(t, f.h.RefreshToken, req, rec)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshWithoutCookie(t *testing.T) {
	f := newAuthFixture(t)

	req, rec := jsonRequest(http.MethodPost, "/api/users/refresh-token", "")
	call(t, f.h.RefreshToken, req, rec)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshRejectsAccessTokenInRefreshCookie(t *testing.T) {
	f := newAuthFixture(t)

	// Signed with the access secret; must not pass refresh verification.
	access, _, err := f.h.Codec.IssueAccess(5, "a@x.com")
	require.NoError(t, err)

	req, rec := jsonRequest(http.MethodPost, "/api/users/refresh-token", "",
		&http.Cookie{Name: "refreshToken", Value: access})
	call(t, f.h.RefreshToken, req, rec)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

// ----- logout -----

func TestLogoutIsIdempotent(t *testing.T) {
	f := newAuthFixture(t)

	access, _, err := f.h.Codec.IssueAccess(5, "a@x.com")
	require.NoError(t, err)

	f.mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET refresh_token=NULL WHERE id=?")).
		WithArgs(uint64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	req, rec := jsonRequest(http.MethodGet, "/api/users/logout", "",
		&http.Cookie{Name: "token", Value: access})
	call(t, f.h.Logout, req, rec)
	assert.Equal(t, http.StatusOK, rec.Code)

	res := rec.Result()
	for _, name := range []string{"token", "refreshToken"} {
		ck := cookieByName(res, name)
		require.NotNil(t, ck)
		assert.Empty(t, ck.Value)
		assert.Negative(t, ck.MaxAge)
	}

	// Second logout with no token at all: still 200, no DB access.
	req2, rec2 := jsonRequest(http.MethodGet, "/api/users/logout", "")
	call(t, f.h.Logout, req2, rec2)
	assert.Equal(t, http.StatusOK, rec2.Code)

	// Third, with a garbage token: still 200.
	req3, rec3 := jsonRequest(http.MethodGet, "/api/users/logout", "",
		&http.Cookie{Name: "token", Value: "garbage"})
	call(t, f.h.Logout, req3, rec3)
	assert.Equal(t, http.StatusOK, rec3.Code)

	assert.NoError(t, f.mock.ExpectationsWereMet())
}

// ----- email verification -----

func TestVerifyEmailIsSingleUse(t *testing.T) {
	f := newAuthFixture(t)

	raw, digest, err := auth.NewOneTimeToken()
	require.NoError(t, err)

	f.mock.ExpectExec("UPDATE users SET is_verified=1").
		WithArgs(digest).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec("UPDATE users SET is_verified=1").
		WithArgs(digest).
		WillReturnResult(sqlmock.NewResult(0, 0))

	req, rec := jsonRequest(http.MethodPost, "/api/users/verifyemail", `{"token":"`+raw+`"}`)
	call(t, f.h.VerifyEmail, req, rec)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"isUserVerified":true`)

	req2, rec2 := jsonRequest(http.MethodPost, "/api/users/verifyemail", `{"token":"`+raw+`"}`)
	call(t, f.h.VerifyEmail, req2, rec2)
	assert.Equal(t, http.StatusBadRequest, rec2.Code)
	assert.Contains(t, rec2.Body.String(), invalidOrExpiredToken)
}

func TestVerifyEmailMissingToken(t *testing.T) {
	f := newAuthFixture(t)

	req, rec := jsonRequest(http.MethodPost, "/api/users/verifyemail", `{}`)
	call(t, f.h.VerifyEmail, req, rec)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ----- forgot / reset password -----

func TestForgotPasswordNeverRevealsAccountExistence(t *testing.T) {
	f := newAuthFixture(t)

	f.mock.ExpectQuery("SELECT .+ FROM users WHERE email=").
		WithArgs("a@x.com").
		WillReturnRows(userRow(5, "a@x.com", "hash", true))
	f.mock.ExpectExec("UPDATE users SET forgot_password_token=").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), uint64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	reqA, recA := jsonRequest(http.MethodPost, "/api/users/forgot-password", `{"email":"a@x.com"}`)
	call(t, f.h.ForgotPassword, reqA, recA)

	f.mock.ExpectQuery("SELECT .+ FROM users WHERE email=").
		WithArgs("ghost@x.com").
		WillReturnError(sql.ErrNoRows)
	reqB, recB := jsonRequest(http.MethodPost, "/api/users/forgot-password", `{"email":"ghost@x.com"}`)
	call(t, f.h.ForgotPassword, reqB, recB)

	assert.Equal(t, http.StatusOK, recA.Code)
	assert.Equal(t, http.StatusOK, recB.Code)
	assert.Equal(t, recA.Body.String(), recB.Body.String())

	// Only the existing account got a reset mail.
	require.Len(t, *f.sent, 1)
	assert.Equal(t, queue.EmailReset, (*f.sent)[0].Kind)
}

func TestResetPasswordConsumesToken(t *testing.T) {
	f := newAuthFixture(t)

	raw, digest, err := auth.NewOneTimeToken()
	require.NoError(t, err)

	f.mock.ExpectExec("UPDATE users SET password_hash=").
		WithArgs(sqlmock.AnyArg(), digest).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec("UPDATE users SET password_hash=").
		WithArgs(sqlmock.AnyArg(), digest).
		WillReturnResult(sqlmock.NewResult(0, 0))

	body := `{"token":"` + raw + `","password":"NewPass1234"}`
	req, rec := jsonRequest(http.MethodPost, "/api/users/reset-password", body)
	call(t, f.h.ResetPassword, req, rec)
	assert.Equal(t, http.StatusOK, rec.Code)

	req2, rec2 := jsonRequest(http.MethodPost, "/api/users/reset-password", body)
	call(t, f.h.ResetPassword, req2, rec2)
	assert.Equal(t, http.StatusBadRequest, rec2.Code)
	assert.Contains(t, rec2.Body.String(), invalidOrExpiredToken)
}

func TestResetPasswordValidatesBeforeTouchingDB(t *testing.T) {
	f := newAuthFixture(t)

	req, rec := jsonRequest(http.MethodPost, "/api/users/reset-password",
		`{"token":"sometoken","password":"short"}`)
	call(t, f.h.ResetPassword, req, rec)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}
