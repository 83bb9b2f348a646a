// Package fieldcipher provides authenticated field-level encryption for
// secrets at rest (TOTP seeds, PHI-adjacent strings).
//
// The cipher is AES-256-GCM over string values with a base64url wire form.
// Decryption fails closed: any tamper, wrong key, or malformed input returns
// [ErrCrypto] and never partial plaintext. Empty strings pass through
// unchanged on both sides.
package fieldcipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
)

// KeySize is the required key length in bytes (AES-256).
const KeySize = 32

var (
	// ErrNotConfigured is returned when the cipher has no key material.
	// Distinct from ErrCrypto so health checks can report "not ready"
	// instead of surfacing it as a per-request decryption failure.
	ErrNotConfigured = errors.New("field cipher key not configured")

	// ErrCrypto is returned on any encryption or decryption failure.
	ErrCrypto = errors.New("field cipher operation failed")
)

// Cipher encrypts and decrypts individual string fields.
//
// A Cipher is immutable after construction and safe for concurrent use.
// The zero value (or a nil pointer) reports ErrNotConfigured on every call.
type Cipher struct {
	aead cipher.AEAD
}

// New creates a Cipher from a 32-byte key.
func New(key []byte) (*Cipher, error) {
	if len(key) == 0 {
		return nil, ErrNotConfigured
	}
	if len(key) != KeySize {
		return nil, errors.New("field cipher key must be 32 bytes")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrCrypto
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ErrCrypto
	}

	return &Cipher{aead: aead}, nil
}

// Encrypt returns the base64url ciphertext of plaintext.
// An empty plaintext returns an empty string without touching the key.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	if c == nil || c.aead == nil {
		return "", ErrNotConfigured
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", ErrCrypto
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Any input not produced by Encrypt under the
// same key fails with ErrCrypto. Empty input returns an empty string.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	if c == nil || c.aead == nil {
		return "", ErrNotConfigured
	}

	raw, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrCrypto
	}
	if len(raw) < c.aead.NonceSize() {
		return "", ErrCrypto
	}

	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrCrypto
	}

	return string(plain), nil
}

// Ready reports whether the cipher can complete an encrypt/decrypt
// round-trip. Used by health checks; independent of any stored data.
func (c *Cipher) Ready() bool {
	const probe = "fieldcipher-readiness-probe"

	ct, err := c.Encrypt(probe)
	if err != nil {
		return false
	}
	pt, err := c.Decrypt(ct)
	return err == nil && pt == probe
}
