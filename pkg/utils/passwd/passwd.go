// Package passwd hashes and verifies API bearer-token secrets. Tokens
// are never stored in clear: the datastore keeps (salt, bcrypt hash)
// and the presented secret is recombined with the salt on every check.
package passwd

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// SaltLength in bytes.
	SaltLength = 16
	// BcryptCost for token hashing.
	BcryptCost = 10
)

// GenerateSalt returns a fresh random hex salt.
func GenerateSalt() (string, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return hex.EncodeToString(salt), nil
}

// HashSecret hashes secret+salt with bcrypt.
func HashSecret(secret, salt string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret+salt), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hash), nil
}

// VerifySecret reports whether secret+salt matches the stored hash.
func VerifySecret(secret, salt, hashed string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(secret+salt)) == nil
}
