package handler

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/taskpilot/taskpilot/internal/auth"
	"github.com/taskpilot/taskpilot/internal/config"
	"github.com/taskpilot/taskpilot/internal/middleware"
	"github.com/taskpilot/taskpilot/internal/model"
	"github.com/taskpilot/taskpilot/internal/queue"
	"github.com/taskpilot/taskpilot/internal/repository"
)

// genericCredentialError is the single message for every credential failure
// at login: unknown email and wrong password must be indistinguishable.
const genericCredentialError = "invalid email or password"

// invalidOrExpiredToken is the single message for every one-time token
// failure: wrong, expired and already-consumed tokens look the same.
const invalidOrExpiredToken = "Invalid or expired token"

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// AuthHandler bundles dependencies for the session-lifecycle endpoints.
type AuthHandler struct {
	Cfg   config.Config
	Codec *auth.Codec
	Users *repository.UserRepo
	Mail  queue.Publisher
}

func NewAuthHandler(cfg config.Config, codec *auth.Codec, users *repository.UserRepo, mail queue.Publisher) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Codec: codec, Users: users, Mail: mail}
}

// ----- DTOs -----

type signupReq struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}
type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
type tokenReq struct {
	Token string `json:"token"`
}
type forgotReq struct {
	Email string `json:"email"`
}
type resetReq struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type userPart struct {
	ID         uint64    `json:"id"`
	Username   string    `json:"username"`
	Email      string    `json:"email"`
	IsVerified bool      `json:"isVerified"`
	CreatedAt  time.Time `json:"createdAt"`
}

func sanitizeUser(u model.User) userPart {
	return userPart{ID: u.ID, Username: u.Username, Email: u.Email, IsVerified: u.IsVerified, CreatedAt: u.CreatedAt}
}

// ----- validation -----

func validEmail(s string) bool { return emailPattern.MatchString(s) }

// validPassword enforces the minimum credential strength accepted at signup
// and reset. Kept deliberately simple: length only.
func validPassword(s string) bool { return len(s) >= 8 }

// ----- cookies -----

// setSessionCookies writes both token cookies. Cookie lifetimes equal the
// corresponding token TTLs, so the browser drops them as they expire.
func (h *AuthHandler) setSessionCookies(c echo.Context, access, refresh string) {
	c.SetCookie(sessionCookie(middleware.AccessCookie, access, int(h.Cfg.AccessTTL/time.Second), h.Cfg.IsProd()))
	c.SetCookie(sessionCookie(middleware.RefreshCookie, refresh, int(h.Cfg.RefreshTTL/time.Second), h.Cfg.IsProd()))
}

// clearSessionCookies expires both token cookies.
func (h *AuthHandler) clearSessionCookies(c echo.Context) {
	c.SetCookie(sessionCookie(middleware.AccessCookie, "", -1, h.Cfg.IsProd()))
	c.SetCookie(sessionCookie(middleware.RefreshCookie, "", -1, h.Cfg.IsProd()))
}

func sessionCookie(name, value string, maxAge int, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		MaxAge:   maxAge,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ----- handlers -----

// Signup creates a user and sends the verification mail.
func (h *AuthHandler) Signup(c echo.Context) error {
	var req signupReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Username == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "username is required"})
	}
	if !validEmail(req.Email) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "a valid email is required"})
	}
	if !validPassword(req.Password) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "password must be at least 8 characters"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if h.Cfg.UniqueUsername {
		taken, err := h.Users.UsernameExists(ctx, req.Username)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create user failed"})
		}
		if taken {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "Username already taken"})
		}
	}

	uid, err := h.Users.Create(ctx, req.Username, req.Email, req.Password, h.Cfg.BcryptCost)
	if err != nil {
		if err == repository.ErrEmailExists {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "User with this email already exists"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create user failed"})
	}

	mailSent := h.requestMail(ctx, queue.EmailVerify, uid, req.Email)

	return c.JSON(http.StatusCreated, echo.Map{
		"data": echo.Map{
			"message":                "User created successfully",
			"success":                true,
			"isVerificationMailSent": mailSent,
			"user": userPart{
				ID: uid, Username: req.Username, Email: req.Email,
			},
		},
	})
}

// Login verifies credentials, persists a fresh refresh token (overwriting any
// prior one) and sets both session cookies.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email and password are required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.GetByEmail(ctx, req.Email)
	if err != nil {
		if err == sql.ErrNoRows {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": genericCredentialError})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	if !auth.VerifyPassword(u.PasswordHash, req.Password) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": genericCredentialError})
	}
	if h.Cfg.RequireVerifiedLogin && !u.IsVerified {
		// The caller proved ownership of the password, so revealing the
		// verification state leaks nothing.
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error":             "Please verify your email before logging in.",
			"needsVerification": true,
		})
	}

	access, _, err := h.Codec.IssueAccess(u.ID, u.Email)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue access failed"})
	}
	refresh, _, err := h.Codec.IssueRefresh(u.ID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue refresh failed"})
	}
	if err := h.Users.SetRefreshToken(ctx, u.ID, auth.DigestToken(refresh)); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "save refresh failed"})
	}

	h.setSessionCookies(c, access, refresh)
	return c.JSON(http.StatusOK, echo.Map{
		"message":        "User logged in successfully",
		"success":        true,
		"isLoginSuccess": true,
		"data":           echo.Map{"user": sanitizeUser(u)},
	})
}

// RefreshToken exchanges a valid, server-matching refresh token for a new
// pair, rotating the stored value. Any failure is terminal for the request:
// the client re-authenticates.
func (h *AuthHandler) RefreshToken(c echo.Context) error {
	ck, err := c.Cookie(middleware.RefreshCookie)
	if err != nil || ck.Value == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "No refresh token provided"})
	}
	presented := ck.Value

	claims, err := h.Codec.VerifyRefresh(presented)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Invalid or expired refresh token"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.GetByID(ctx, claims.UserID)
	if err != nil {
		if err == sql.ErrNoRows {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Invalid or expired refresh token"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}

	access, _, err := h.Codec.IssueAccess(u.ID, u.Email)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue access failed"})
	}
	refresh, _, err := h.Codec.IssueRefresh(u.ID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue refresh failed"})
	}

	// Single guarded UPDATE: the rotation only succeeds when the stored
	// digest still equals the presented token. Revoked tokens and replays of
	// a rotated-out token both fail here, even though they verify
	// cryptographically.
	err = h.Users.RotateRefreshToken(ctx, u.ID, auth.DigestToken(presented), auth.DigestToken(refresh))
	if err != nil {
		if err == repository.ErrNoMatch {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Invalid or expired refresh token"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "save refresh failed"})
	}

	h.setSessionCookies(c, access, refresh)
	return c.JSON(http.StatusOK, echo.Map{
		"message": "Token refreshed successfully",
		"success": true,
		"token":   access,
	})
}

// Logout clears the stored refresh token when the access token still
// resolves, and always clears both cookies. It never fails: logging out with
// an expired session is still a logout.
func (h *AuthHandler) Logout(c echo.Context) error {
	if uid := middleware.BestEffortUserID(c, h.Codec); uid != 0 {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()
		if err := h.Users.ClearRefreshToken(ctx, uid); err != nil {
			log.Printf("logout: clear refresh token for user %d: %v", uid, err)
		}
	}
	h.clearSessionCookies(c)
	return c.JSON(http.StatusOK, echo.Map{
		"message": "User logged out successfully",
		"success": true,
	})
}

// VerifyEmail consumes a pending verification token. Consumption is a single
// guarded update, so a second attempt with the same token fails.
func (h *AuthHandler) VerifyEmail(c echo.Context) error {
	var req tokenReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "token is required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	err := h.Users.ConsumeVerificationToken(ctx, auth.DigestToken(strings.TrimSpace(req.Token)))
	if err != nil {
		if err == repository.ErrNoMatch {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": invalidOrExpiredToken})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "verification failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"data": echo.Map{"message": "User verified successfully", "isUserVerified": true},
	})
}

// ResendVerification issues a fresh verification token for the current user,
// overwriting any pending one (the old emailed link stops working).
func (h *AuthHandler) ResendVerification(c echo.Context) error {
	uid := middleware.CurrentUserID(c)
	if uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Unauthorized"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.GetByID(ctx, uid)
	if err != nil {
		if err == sql.ErrNoRows {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "User not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}

	if !h.requestMail(ctx, queue.EmailVerify, u.ID, u.Email) {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not send verification mail"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"data": echo.Map{
			"message":                "Verification link has been sent to your mail. Please check your inbox.",
			"isVerificationMailSent": true,
			"success":                true,
		},
	})
}

// ForgotPassword starts the reset flow. The response is 200 whether or not
// the account exists so the endpoint cannot be used to enumerate emails.
func (h *AuthHandler) ForgotPassword(c echo.Context) error {
	var req forgotReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if !validEmail(req.Email) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "a valid email is required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.GetByEmail(ctx, req.Email)
	switch {
	case err == sql.ErrNoRows:
		// fall through to the generic response
	case err != nil:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	default:
		h.requestMail(ctx, queue.EmailReset, u.ID, u.Email)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"message": "If an account exists for that email, a reset link has been sent",
		"success": true,
	})
}

// ResetPassword consumes a pending reset token and overwrites the password
// hash in the same guarded update that clears the token pair.
func (h *AuthHandler) ResetPassword(c echo.Context) error {
	var req resetReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "token is required"})
	}
	if !validPassword(req.Password) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "password must be at least 8 characters"})
	}

	hash, err := auth.HashPassword(req.Password, h.Cfg.BcryptCost)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "reset failed"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	err = h.Users.ConsumeResetToken(ctx, auth.DigestToken(strings.TrimSpace(req.Token)), hash)
	if err != nil {
		if err == repository.ErrNoMatch {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": invalidOrExpiredToken})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "reset failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message": "Password reset successfully",
		"success": true,
	})
}

// requestMail stores a fresh one-time token for the user and publishes the
// matching email event. Publish failures are logged but not fatal; the user
// can always request another mail.
func (h *AuthHandler) requestMail(ctx context.Context, kind queue.EmailKind, uid uint64, email string) bool {
	raw, digest, err := auth.NewOneTimeToken()
	if err != nil {
		log.Printf("mail request: mint token for user %d: %v", uid, err)
		return false
	}
	expiry := time.Now().UTC().Add(h.Cfg.OneTimeTTL)

	switch kind {
	case queue.EmailVerify:
		err = h.Users.SetVerificationToken(ctx, uid, digest, expiry)
	case queue.EmailReset:
		err = h.Users.SetResetToken(ctx, uid, digest, expiry)
	}
	if err != nil {
		log.Printf("mail request: store token for user %d: %v", uid, err)
		return false
	}

	if h.Mail == nil {
		return false
	}
	ev := queue.EmailRequestedEvent{
		Kind:        kind,
		UserID:      uid,
		Email:       email,
		Token:       raw,
		RequestedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := h.Mail(ctx, ev); err != nil {
		log.Printf("mail request: publish for user %d: %v", uid, err)
		return false
	}
	return true
}
