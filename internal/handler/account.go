package handler

import (
	"context"
	"database/sql"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/taskpilot/taskpilot/internal/auth"
	"github.com/taskpilot/taskpilot/internal/config"
	"github.com/taskpilot/taskpilot/internal/middleware"
	"github.com/taskpilot/taskpilot/internal/repository"
)

// AccountHandler serves the profile endpoints behind the session resolver.
type AccountHandler struct {
	Cfg   config.Config
	Users *repository.UserRepo
}

func NewAccountHandler(cfg config.Config, users *repository.UserRepo) *AccountHandler {
	return &AccountHandler{Cfg: cfg, Users: users}
}

type changePasswordReq struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}
type updateProfileReq struct {
	Username string `json:"username"`
}

// Details returns the sanitized record of the current user. Password hash,
// refresh token and pending one-time tokens never leave the server.
func (h *AccountHandler) Details(c echo.Context) error {
	uid := middleware.CurrentUserID(c)
	if uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Authentication required. Token missing or invalid."})
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
	return c.JSON(http.StatusOK, echo.Map{
		"message": "User found",
		"data":    sanitizeUser(u),
	})
}

// ChangePassword verifies the current password before overwriting the hash.
func (h *AccountHandler) ChangePassword(c echo.Context) error {
	uid := middleware.CurrentUserID(c)
	if uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Authentication required. Token missing or invalid."})
	}

	var req changePasswordReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "current password and new password are required"})
	}
	if !validPassword(req.NewPassword) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "password must be at least 8 characters"})
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
	if !auth.VerifyPassword(u.PasswordHash, req.CurrentPassword) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Current password is incorrect"})
	}

	hash, err := auth.HashPassword(req.NewPassword, h.Cfg.BcryptCost)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "change password failed"})
	}
	if err := h.Users.UpdatePassword(ctx, uid, hash); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "change password failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Password changed successfully", "success": true})
}

// UpdateProfile changes the display name.
func (h *AccountHandler) UpdateProfile(c echo.Context) error {
	uid := middleware.CurrentUserID(c)
	if uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Authentication required. Token missing or invalid."})
	}

	var req updateProfileReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "username is required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if h.Cfg.UniqueUsername {
		taken, err := h.Users.UsernameExists(ctx, req.Username)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update failed"})
		}
		if taken {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "Username already taken"})
		}
	}

	if err := h.Users.UpdateUsername(ctx, uid, req.Username); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Profile updated successfully", "success": true})
}

// DeleteAccount removes the user record and ends the session. Cookie removal
// uses the same attributes as issuance so browsers actually drop them.
func (h *AccountHandler) DeleteAccount(c echo.Context) error {
	uid := middleware.CurrentUserID(c)
	if uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Authentication required. Token missing or invalid."})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Users.Delete(ctx, uid); err != nil {
		if err == sql.ErrNoRows {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "User not found or already deleted."})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "delete failed"})
	}

	c.SetCookie(sessionCookie(middleware.AccessCookie, "", -1, h.Cfg.IsProd()))
	c.SetCookie(sessionCookie(middleware.RefreshCookie, "", -1, h.Cfg.IsProd()))
	return c.JSON(http.StatusOK, echo.Map{
		"message":   "User deleted successfully. Session terminated.",
		"isDeleted": true,
	})
}
