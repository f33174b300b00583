// Package wgcrypto generates and validates WireGuard key material.
//
// It is a pure-Go implementation (crypto/rand + Curve25519) so that
// fleetkeeper never shells out to `wg genkey` and works in minimal
// containers that do not ship wireguard-tools.
package wgcrypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/HappyLadySauce/errors"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/code"
	"golang.org/x/crypto/curve25519"
)

// KeyLen is the length in bytes of a WireGuard Curve25519 key.
const KeyLen = 32

// GeneratePrivateKey returns a new base64-encoded, correctly clamped
// Curve25519 private key.
func GeneratePrivateKey() (string, error) {
	raw := make([]byte, KeyLen)
	if _, err := rand.Read(raw); err != nil {
		return "", errors.WithCode(code.ErrCryptoKeyGenFailed, "failed to read random bytes: %s", err.Error())
	}

	// Curve25519 clamping per RFC 7748 / WireGuard's own key generation.
	raw[0] &= 248
	raw[31] &= 127
	raw[31] |= 64

	return base64.StdEncoding.EncodeToString(raw), nil
}

// DerivePublicKey computes the public key for a base64-encoded private key.
func DerivePublicKey(privateKey string) (string, error) {
	priv, err := decodeKey(privateKey)
	if err != nil {
		return "", errors.WithCode(code.ErrCryptoKeyInvalid, "invalid private key: %s", err.Error())
	}

	var pub, privArr [KeyLen]byte
	copy(privArr[:], priv)
	curve25519.ScalarBaseMult(&pub, &privArr)

	return base64.StdEncoding.EncodeToString(pub[:]), nil
}

// GenerateKeyPair generates a fresh private/public key pair.
func GenerateKeyPair() (privateKey, publicKey string, err error) {
	privateKey, err = GeneratePrivateKey()
	if err != nil {
		return "", "", err
	}
	publicKey, err = DerivePublicKey(privateKey)
	if err != nil {
		return "", "", errors.Wrap(err, "failed to derive public key from generated private key")
	}
	return privateKey, publicKey, nil
}

// GeneratePresharedKey returns a new base64-encoded 256-bit PSK.
func GeneratePresharedKey() (string, error) {
	raw := make([]byte, KeyLen)
	if _, err := rand.Read(raw); err != nil {
		return "", errors.WithCode(code.ErrCryptoKeyGenFailed, "failed to read random bytes: %s", err.Error())
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// ValidateKey checks that s is a syntactically valid WireGuard key: 44
// base64 characters decoding to exactly 32 bytes.
func ValidateKey(s string) error {
	_, err := decodeKey(s)
	if err != nil {
		return errors.WithCode(code.ErrCryptoKeyInvalid, "%s", err.Error())
	}
	return nil
}

func decodeKey(s string) ([]byte, error) {
	if len(s) != 44 {
		return nil, fmt.Errorf("key must be 44 base64 characters, got %d", len(s))
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("key is not valid base64: %w", err)
	}
	if len(raw) != KeyLen {
		return nil, fmt.Errorf("key must decode to %d bytes, got %d", KeyLen, len(raw))
	}
	return raw, nil
}
