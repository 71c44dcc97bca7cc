// Package crypto seals OAuth2 token values before they are written to a
// persistent authorized-client store.
//
// TokenCipher uses AES-256-GCM, so every value is both encrypted and
// authenticated. A fresh random nonce is drawn for each call to Encrypt,
// which means sealing the same token twice yields different ciphertexts.
//
// Example usage:
//
//	cipher, err := crypto.NewTokenCipher(os.Getenv("TOKEN_ENCRYPTION_KEY"))
//	if err != nil {
//		return err
//	}
//	sealed, err := cipher.Encrypt(accessToken)
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"metal-detector/internal/common/errors"
)

const (
	keySalt       = "metal-detector-oauth2-tokens"
	keyIterations = 10000
	keyLength     = 32
)

// TokenCipher encrypts and decrypts token values.
//
// The cipher is safe for concurrent use by multiple goroutines.
type TokenCipher struct {
	aead cipher.AEAD
}

// NewTokenCipher derives a 32-byte AES key from passphrase with PBKDF2.
//
// The derivation is deterministic, so every instance configured with the
// same passphrase can read values sealed by the others.
//
// Parameters:
//   - passphrase: The secret the key is derived from. Must not be empty.
//
// Returns:
//   - *TokenCipher: A ready cipher
//   - error: A validation error if passphrase is empty
func NewTokenCipher(passphrase string) (*TokenCipher, error) {
	if passphrase == "" {
		return nil, errors.ValidationError("encryption key cannot be empty")
	}

	key := pbkdf2.Key([]byte(passphrase), []byte(keySalt), keyIterations, keyLength, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.InternalError("failed to create cipher", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.InternalError("failed to create GCM", err)
	}

	return &TokenCipher{aead: aead}, nil
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext).
// Empty input is returned unchanged.
func (c *TokenCipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.InternalError("failed to create nonce", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Tampered input, input sealed under another
// key, or malformed base64 all yield an error. Empty input is returned
// unchanged.
func (c *TokenCipher) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", errors.InternalError("failed to decode ciphertext", err)
	}

	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize {
		return "", errors.ValidationError("ciphertext too short")
	}

	plaintext, err := c.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", errors.InternalError("failed to decrypt", err)
	}
	return string(plaintext), nil
}
