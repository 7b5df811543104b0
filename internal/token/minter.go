// Package token provides cryptographic primitives for single-use credentials:
// password-reset tokens and generated passwords.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"
)

// ResetTokenExpiry is the lifetime of a password-reset token.
const ResetTokenExpiry = time.Hour

// DefaultPasswordLength is the length used by GenerateSecurePassword when
// the caller passes a non-positive length.
const DefaultPasswordLength = 16

// passwordAlphabet is the fixed character set for generated passwords.
const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789" +
	"!@#$%^&*()-_=+[]{}|;:,.<>?"

// ResetToken holds a freshly minted password-reset token.
// Plaintext is transmitted to the user out-of-band and must never be
// persisted; callers store only the hash and expiry.
type ResetToken struct {
	Plaintext string
	Hash      string
	ExpiresAt time.Time
}

// GenerateResetToken mints a new single-use reset token: 256 bits of CSPRNG
// output hex-encoded, its SHA-256 hash (also hex), and an expiry one hour out.
func GenerateResetToken() (ResetToken, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return ResetToken{}, fmt.Errorf("failed to read random bytes: %w", err)
	}

	plaintext := hex.EncodeToString(raw)
	sum := sha256.Sum256([]byte(plaintext))

	return ResetToken{
		Plaintext: plaintext,
		Hash:      hex.EncodeToString(sum[:]),
		ExpiresAt: time.Now().Add(ResetTokenExpiry),
	}, nil
}

// HashToken returns the hex-encoded SHA-256 hash of a token plaintext.
func HashToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// VerifyResetToken reports whether candidate matches storedHash.
// The comparison is constant-time. This is a total boolean function: a
// malformed or wrong-length storedHash yields false, never an error, so
// callers cannot distinguish "invalid input" from "wrong token".
func VerifyResetToken(candidate, storedHash string) bool {
	sum := sha256.Sum256([]byte(candidate))
	computed := hex.EncodeToString(sum[:])

	if len(computed) != len(storedHash) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}

// IsTokenExpired reports whether the token expiry has passed.
func IsTokenExpired(expiresAt time.Time) bool {
	return time.Now().After(expiresAt)
}

// GenerateSecurePassword returns a random password of the given length drawn
// from a fixed ~90-character alphabet. Each CSPRNG byte is mapped into the
// alphabet by modulo; the small resulting bias is accepted for this use.
func GenerateSecurePassword(length int) (string, error) {
	if length <= 0 {
		length = DefaultPasswordLength
	}

	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	out := make([]byte, length)
	for i, b := range raw {
		out[i] = passwordAlphabet[int(b)%len(passwordAlphabet)]
	}
	return string(out), nil
}
