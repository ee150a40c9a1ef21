package model

import (
	"database/sql"
	"time"
)

// User mirrors the 'users' table. Email is stored lowercased and trimmed.
// RefreshToken holds the SHA-256 digest of the single active refresh token;
// the nullable token/expiry pairs drive the email verification and password
// reset flows and are both NULL while no token is pending.
type User struct {
	ID           uint64
	Username     string
	Email        string
	PasswordHash string
	IsVerified   bool
	IsAdmin      bool

	RefreshToken sql.NullString

	EmailVerificationToken       sql.NullString
	EmailVerificationTokenExpiry sql.NullTime

	ForgotPasswordToken       sql.NullString
	ForgotPasswordTokenExpiry sql.NullTime

	LastPasswordChange sql.NullTime

	CreatedAt time.Time
	UpdatedAt time.Time
}
