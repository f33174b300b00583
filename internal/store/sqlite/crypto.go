package sqlite

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"strings"

	"golang.org/x/crypto/scrypt"
	"gorm.io/gorm"

	"github.com/HappyLadySauce/errors"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/code"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
)

// encTag marks a column value as ciphertext produced by this wrapper;
// anything else is treated as plaintext, so a datastore created before
// encryption was enabled keeps reading correctly.
const encTag = "enc:v1:"

const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	saltLen      = 16
	nonceLen     = 12
)

// Cipher wraps the AES-256-GCM secret-column encryption scheme over
// private keys, PSKs, and other at-rest secrets. A nil Cipher (no
// passphrase configured) passes values through unchanged.
type Cipher struct {
	key [scryptKeyLen]byte
}

// NewCipher derives an AES-256 key from passphrase using the KDF
// parameters recorded in the encryption_metadata singleton row, or
// generates fresh parameters (and persists them via es) on first use.
func NewCipher(ctx context.Context, es *encryptionStore, passphrase string) (*Cipher, error) {
	var meta model.EncryptionMetadata
	err := es.db.WithContext(ctx).First(&meta).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		meta.Enabled = false
	case err != nil:
		return nil, errors.WithCode(code.ErrStoreReadFailed, "%s", err.Error())
	}
	if !meta.Enabled {
		salt := make([]byte, saltLen)
		if _, err := rand.Read(salt); err != nil {
			return nil, errors.WithCode(code.ErrCryptoKeyGenFailed, "generate salt: %s", err.Error())
		}
		c, err := deriveCipher(passphrase, salt)
		if err != nil {
			return nil, err
		}
		nonce, canary, err := c.sealCanary()
		if err != nil {
			return nil, err
		}
		newMeta := &model.EncryptionMetadata{
			ID: 1, Enabled: true,
			KDFSalt: base64.StdEncoding.EncodeToString(salt), KDFN: scryptN, KDFR: scryptR, KDFP: scryptP,
			CanaryNonce: base64.StdEncoding.EncodeToString(nonce), Canary: canary,
		}
		if err := es.Set(ctx, newMeta); err != nil {
			return nil, err
		}
		return c, nil
	}

	salt, err := base64.StdEncoding.DecodeString(meta.KDFSalt)
	if err != nil {
		return nil, errors.WithCode(code.ErrCryptoKeyInvalid, "decode kdf salt: %s", err.Error())
	}
	c, err := deriveCipherWithParams(passphrase, salt, meta.KDFN, meta.KDFR, meta.KDFP)
	if err != nil {
		return nil, err
	}
	if err := c.verifyCanary(meta.CanaryNonce, meta.Canary); err != nil {
		return nil, err
	}
	return c, nil
}

func deriveCipher(passphrase string, salt []byte) (*Cipher, error) {
	return deriveCipherWithParams(passphrase, salt, scryptN, scryptR, scryptP)
}

func deriveCipherWithParams(passphrase string, salt []byte, n, r, p int) (*Cipher, error) {
	key, err := scrypt.Key([]byte(passphrase), salt, n, r, p, scryptKeyLen)
	if err != nil {
		return nil, errors.WithCode(code.ErrCryptoKeyGenFailed, "scrypt: %s", err.Error())
	}
	c := &Cipher{}
	copy(c.key[:], key)
	return c, nil
}

const canaryPlaintext = "fleetkeeper-canary-v1"

func (c *Cipher) sealCanary() (nonce []byte, canary string, err error) {
	nonce = make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, "", errors.WithCode(code.ErrCryptoKeyGenFailed, "generate nonce: %s", err.Error())
	}
	gcm, err := c.gcm()
	if err != nil {
		return nil, "", err
	}
	sealed := gcm.Seal(nil, nonce, []byte(canaryPlaintext), nil)
	return nonce, base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *Cipher) verifyCanary(nonceB64, canaryB64 string) error {
	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		return errors.WithCode(code.ErrCryptoKeyInvalid, "decode canary nonce: %s", err.Error())
	}
	sealed, err := base64.StdEncoding.DecodeString(canaryB64)
	if err != nil {
		return errors.WithCode(code.ErrCryptoKeyInvalid, "decode canary: %s", err.Error())
	}
	gcm, err := c.gcm()
	if err != nil {
		return err
	}
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil || string(plain) != canaryPlaintext {
		return errors.WithCode(code.ErrPassphraseIncorrect, "passphrase does not match stored canary")
	}
	return nil
}

func (c *Cipher) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return nil, errors.WithCode(code.ErrCryptoKeyInvalid, "aes cipher: %s", err.Error())
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.WithCode(code.ErrCryptoKeyInvalid, "gcm: %s", err.Error())
	}
	return gcm, nil
}

// Seal encrypts plaintext into the "enc:v1:<base64 nonce||ciphertext>"
// column form. Empty input passes through untouched (no secret set).
func (c *Cipher) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	if c == nil {
		return plaintext, nil
	}
	gcm, err := c.gcm()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.WithCode(code.ErrEncryptionFailed, "generate nonce: %s", err.Error())
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return encTag + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value previously produced by Seal. Values that do
// not carry the enc:v1: tag are returned unchanged, so callers never
// need to branch on whether encryption happens to be enabled.
func (c *Cipher) Open(value string) (string, error) {
	if value == "" || !strings.HasPrefix(value, encTag) || c == nil {
		return value, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, encTag))
	if err != nil {
		return "", errors.WithCode(code.ErrDecryptionFailed, "decode ciphertext: %s", err.Error())
	}
	if len(raw) < nonceLen {
		return "", errors.WithCode(code.ErrDecryptionFailed, "ciphertext too short")
	}
	gcm, err := c.gcm()
	if err != nil {
		return "", err
	}
	nonce, ct := raw[:nonceLen], raw[nonceLen:]
	plain, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", errors.WithCode(code.ErrDecryptionFailed, "%s", err.Error())
	}
	return string(plain), nil
}
