package users

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// newSalt returns a fresh 16-byte salt, hex encoded.
func newSalt() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// hashSecret computes the stored digest for a secret: hex(SHA-512(salt||secret)).
//
// WARNING: this is a single fast digest round, kept only for compatibility
// with existing users files. It is not a modern password KDF; the
// progressive-delay tracker is the primary online brute-force mitigation.
func hashSecret(salt, secret string) string {
	sum := sha512.Sum512([]byte(salt + secret))
	return hex.EncodeToString(sum[:])
}

// verifySecret compares a candidate against a stored hash in constant time.
func verifySecret(salt, candidate, storedHash string) bool {
	computed := hashSecret(salt, candidate)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}

// newAPIPasswordValue returns a fresh 32-byte random credential, base64url
// encoded without padding.
func newAPIPasswordValue() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate api password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
