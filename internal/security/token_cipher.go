package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const (
	gcmNonceSize = 12
	gcmTagSize   = 16
)

var (
	ErrEmptyEncryptionSecret = errors.New("encryption secret must not be empty")
	ErrDecryptFailed         = errors.New("refresh token decryption failed")
)

// TokenCipher performs authenticated encryption of refresh tokens with
// AES-256-GCM. The key is derived once from the server secret; a blob
// is base64(nonce || tag || ciphertext) with fixed offsets.
type TokenCipher struct {
	aead cipher.AEAD
}

// NewTokenCipher derives a 256-bit key from the secret via SHA-256.
// An empty secret is rejected so the caller can fail startup.
func NewTokenCipher(secret string) (*TokenCipher, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrEmptyEncryptionSecret
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("init aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &TokenCipher{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random 96-bit nonce. Two calls
// with the same plaintext never produce the same blob.
func (c *TokenCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	// Seal appends the tag to the ciphertext; storage layout puts the
	// tag between nonce and ciphertext.
	ciphertext := sealed[:len(sealed)-gcmTagSize]
	tag := sealed[len(sealed)-gcmTagSize:]

	blob := make([]byte, 0, gcmNonceSize+len(sealed))
	blob = append(blob, nonce...)
	blob = append(blob, tag...)
	blob = append(blob, ciphertext...)
	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt opens a blob produced by Encrypt. Any tampering, truncation
// or key mismatch yields ErrDecryptFailed, never garbage plaintext.
func (c *TokenCipher) Decrypt(blob string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", ErrDecryptFailed
	}
	if len(raw) < gcmNonceSize+gcmTagSize {
		return "", ErrDecryptFailed
	}
	nonce := raw[:gcmNonceSize]
	tag := raw[gcmNonceSize : gcmNonceSize+gcmTagSize]
	ciphertext := raw[gcmNonceSize+gcmTagSize:]

	sealed := make([]byte, 0, len(ciphertext)+gcmTagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryptFailed
	}
	return string(plaintext), nil
}
