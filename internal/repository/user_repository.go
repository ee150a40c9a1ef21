package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/taskpilot/taskpilot/internal/auth"
	"github.com/taskpilot/taskpilot/internal/model"
)

const userColumns = `id,username,email,password_hash,is_verified,is_admin,refresh_token,
email_verification_token,email_verification_token_expiry,
forgot_password_token,forgot_password_token_expiry,
last_password_change,created_at,updated_at`

// UserRepo persists user records. All session state the server holds lives on
// this row: the refresh token digest and the two one-time token pairs.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

func scanUser(row *sql.Row) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsVerified, &u.IsAdmin,
		&u.RefreshToken,
		&u.EmailVerificationToken, &u.EmailVerificationTokenExpiry,
		&u.ForgotPasswordToken, &u.ForgotPasswordTokenExpiry,
		&u.LastPasswordChange, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// Create inserts a user with a bcrypt-hashed password and returns its ID.
func (r *UserRepo) Create(ctx context.Context, username, email, password string, cost int) (uint64, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	username = strings.TrimSpace(username)
	hash, err := auth.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (username, email, password_hash) VALUES (?,?,?)",
		username, email, hash)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "1062") {
			return 0, ErrEmailExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", email))
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id))
}

// UsernameExists reports whether a username is already taken. Only consulted
// when the uniqueness policy flag is enabled.
func (r *UserRepo) UsernameExists(ctx context.Context, username string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM users WHERE username=?", strings.TrimSpace(username)).Scan(&n)
	return n > 0, err
}

// SetRefreshToken overwrites the stored refresh token digest. Login calls
// this unconditionally, which invalidates any previously issued refresh token
// for the user (single active session semantics).
func (r *UserRepo) SetRefreshToken(ctx context.Context, id uint64, digest string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET refresh_token=? WHERE id=?", digest, id)
	return err
}

// RotateRefreshToken swaps oldDigest for newDigest in a single statement.
// The WHERE clause carries the old digest, so two concurrent refreshes for
// the same user cannot both succeed: whichever lands second finds no row and
// gets ErrNoMatch. This also rejects reuse of a rotated-out token.
func (r *UserRepo) RotateRefreshToken(ctx context.Context, id uint64, oldDigest, newDigest string) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET refresh_token=? WHERE id=? AND refresh_token=?",
		newDigest, id, oldDigest)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoMatch
	}
	return nil
}

// ClearRefreshToken revokes the active refresh token. Used by logout and
// account deletion; clearing the stored value invalidates the client-held
// refresh token even though it is still cryptographically valid.
func (r *UserRepo) ClearRefreshToken(ctx context.Context, id uint64) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET refresh_token=NULL WHERE id=?", id)
	return err
}

// SetVerificationToken stores a pending email-verification token digest and
// its expiry, overwriting any previous pending token.
func (r *UserRepo) SetVerificationToken(ctx context.Context, id uint64, digest string, expiry time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET email_verification_token=?, email_verification_token_expiry=? WHERE id=?",
		digest, expiry, id)
	return err
}

// ConsumeVerificationToken marks the user verified and clears the token pair
// in the same statement that checks digest and expiry, so a token can never
// be consumed twice. ErrNoMatch covers wrong, expired and already-used
// tokens alike.
func (r *UserRepo) ConsumeVerificationToken(ctx context.Context, digest string) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE users SET is_verified=1,
			email_verification_token=NULL, email_verification_token_expiry=NULL
		 WHERE email_verification_token=? AND email_verification_token_expiry > UTC_TIMESTAMP()`,
		digest)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoMatch
	}
	return nil
}

// SetResetToken stores a pending password-reset token digest and its expiry.
func (r *UserRepo) SetResetToken(ctx context.Context, id uint64, digest string, expiry time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET forgot_password_token=?, forgot_password_token_expiry=? WHERE id=?",
		digest, expiry, id)
	return err
}

// ConsumeResetToken overwrites the password hash, stamps the change and
// clears the token pair, all guarded by the digest/expiry check.
func (r *UserRepo) ConsumeResetToken(ctx context.Context, digest, newPasswordHash string) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE users SET password_hash=?, last_password_change=UTC_TIMESTAMP(),
			forgot_password_token=NULL, forgot_password_token_expiry=NULL
		 WHERE forgot_password_token=? AND forgot_password_token_expiry > UTC_TIMESTAMP()`,
		newPasswordHash, digest)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoMatch
	}
	return nil
}

// UpdatePassword overwrites the password hash for an authenticated change.
func (r *UserRepo) UpdatePassword(ctx context.Context, id uint64, newPasswordHash string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET password_hash=?, last_password_change=UTC_TIMESTAMP() WHERE id=?",
		newPasswordHash, id)
	return err
}

// UpdateUsername changes the display name.
func (r *UserRepo) UpdateUsername(ctx context.Context, id uint64, username string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET username=? WHERE id=?", strings.TrimSpace(username), id)
	return err
}

// Delete removes the user record entirely.
func (r *UserRepo) Delete(ctx context.Context, id uint64) error {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM users WHERE id=?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
