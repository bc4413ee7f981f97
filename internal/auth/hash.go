package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

// scrypt cost parameters. 128 * N * r bytes of memory per hash, so these
// target ~32Mb: expensive enough to brute-force, cheap enough that login
// latency stays tolerable.
const (
	hashN = 1 << 14
	hashR = 16
	hashP = 1
)

// SaltSize is the number of random salt bytes generated per user.
const SaltSize = 32

// KeySize is the length of the derived key stored for each user.
const KeySize = 32

// NewSalt returns SaltSize bytes of cryptographically random salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("unable to generate salt: %w", err)
	}
	return salt, nil
}

// HashPassword derives the key stored for a password. The pepper, if any,
// is a process-wide secret mixed in alongside the per-user salt; it may be
// nil.
func HashPassword(password string, salt, pepper []byte) ([]byte, error) {
	seasoned := append([]byte(password), pepper...)
	return scrypt.Key(seasoned, salt, hashN, hashR, hashP, KeySize)
}

// VerifyPassword reports whether password matches the stored derived key.
// The comparison is constant time.
func VerifyPassword(password string, salt, pepper, derived []byte) (bool, error) {
	key, err := HashPassword(password, salt, pepper)
	if err != nil {
		return false, err
	}
	return hmac.Equal(key, derived), nil
}
