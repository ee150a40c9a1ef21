package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// NewOneTimeToken mints a single-use token for email verification or password
// reset. The raw value is emailed to the user; only the SHA-256 digest is
// stored, so a database leak cannot be replayed against the consume endpoints.
func NewOneTimeToken() (raw, digest string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	raw = hex.EncodeToString(buf)
	return raw, DigestToken(raw), nil
}

// DigestToken returns the SHA-256 hex digest of a raw token. The same digest
// is used for refresh tokens and one-time tokens: digest equality is exact
// token equality.
func DigestToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
