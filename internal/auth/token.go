// Package auth provides the cryptographic building blocks of the session
// subsystem: the signed-token codec, password hashing and one-time token
// generation for the email verification and password reset flows.
package auth

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is the only verification failure callers ever see. Expired,
// tampered and malformed tokens are deliberately indistinguishable so that
// nothing about the failure cause leaks to the network boundary.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the decoded claim set of an access or refresh token. Email is
// empty for refresh tokens.
type Claims struct {
	UserID    uint64
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Codec issues and verifies HS256-signed access and refresh tokens. The two
// token classes use independent secrets, so an access token can never pass
// refresh verification and vice versa. The clock is injectable for tests.
type Codec struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewCodec builds a Codec from the two signing secrets and the per-class TTLs.
func NewCodec(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *Codec {
	return &Codec{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}
}

// WithClock replaces the codec's time source. Tests use it to move past a
// token's expiry without sleeping.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	c.now = now
	return c
}

// AccessTTL returns the configured access token lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }

// IssueAccess signs a short-lived access token carrying the user id and email.
func (c *Codec) IssueAccess(userID uint64, email string) (string, time.Time, error) {
	iat := c.now().UTC()
	exp := iat.Add(c.accessTTL)
	claims := jwt.MapClaims{
		"sub":   userID,
		"email": email,
		"iat":   iat.Unix(),
		"exp":   exp.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.accessSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// IssueRefresh signs a long-lived refresh token carrying only the user id.
func (c *Codec) IssueRefresh(userID uint64) (string, time.Time, error) {
	iat := c.now().UTC()
	exp := iat.Add(c.refreshTTL)
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": iat.Unix(),
		"exp": exp.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.refreshSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// VerifyAccess validates an access token and returns its claims.
func (c *Codec) VerifyAccess(raw string) (Claims, error) {
	return c.verify(raw, c.accessSecret)
}

// VerifyRefresh validates a refresh token and returns its claims.
func (c *Codec) VerifyRefresh(raw string) (Claims, error) {
	return c.verify(raw, c.refreshSecret)
}

func (c *Codec) verify(raw string, secret []byte) (Claims, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		// Reject tokens signed with anything but HMAC; an attacker must not
		// be able to downgrade the algorithm.
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return c.now() }))
	if err != nil || !tok.Valid {
		return Claims{}, ErrInvalidToken
	}
	mc, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, ErrInvalidToken
	}
	uid := subjectID(mc["sub"])
	if uid == 0 {
		return Claims{}, ErrInvalidToken
	}
	out := Claims{UserID: uid}
	if e, ok := mc["email"].(string); ok {
		out.Email = e
	}
	if v, ok := mc["iat"].(float64); ok {
		out.IssuedAt = time.Unix(int64(v), 0).UTC()
	}
	if v, ok := mc["exp"].(float64); ok {
		out.ExpiresAt = time.Unix(int64(v), 0).UTC()
	}
	return out, nil
}

// subjectID converts the JWT "sub" claim to a user id. JSON numbers decode as
// float64; string subjects are tolerated for compatibility.
func subjectID(v interface{}) uint64 {
	switch s := v.(type) {
	case float64:
		return uint64(s)
	case string:
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
