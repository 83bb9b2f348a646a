package fieldcipher

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, KeySize)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := New(testKey(1))
	require.NoError(t, err)

	for _, plaintext := range []string{
		"John Doe",
		"Patient Name 123",
		"JBSWY3DPEHPK3PXP",
		"üñîçødé ✓",
		"a",
	} {
		ct, err := c.Encrypt(plaintext)
		require.NoError(t, err)
		require.NotEqual(t, plaintext, ct)

		pt, err := c.Decrypt(ct)
		require.NoError(t, err)
		require.Equal(t, plaintext, pt)
	}
}

func TestEmptyStringPassThrough(t *testing.T) {
	c, err := New(testKey(1))
	require.NoError(t, err)

	ct, err := c.Encrypt("")
	require.NoError(t, err)
	require.Equal(t, "", ct)

	pt, err := c.Decrypt("")
	require.NoError(t, err)
	require.Equal(t, "", pt)
}

func TestEncryptionIsNonDeterministic(t *testing.T) {
	c, err := New(testKey(1))
	require.NoError(t, err)

	a, err := c.Encrypt("same input")
	require.NoError(t, err)
	b, err := c.Encrypt("same input")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestDecryptFailsClosed(t *testing.T) {
	c, err := New(testKey(1))
	require.NoError(t, err)

	cases := map[string]string{
		"not base64":       "invalid-ciphertext!!",
		"garbage base64":   base64.RawURLEncoding.EncodeToString([]byte("too-short")),
		"random plaintext": "aGVsbG8gd29ybGQ",
	}
	for name, input := range cases {
		_, err := c.Decrypt(input)
		require.ErrorIs(t, err, ErrCrypto, name)
	}
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	c1, err := New(testKey(1))
	require.NoError(t, err)
	c2, err := New(testKey(2))
	require.NoError(t, err)

	ct, err := c1.Encrypt("secret seed")
	require.NoError(t, err)

	_, err = c2.Decrypt(ct)
	require.ErrorIs(t, err, ErrCrypto)
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	c, err := New(testKey(1))
	require.NoError(t, err)

	ct, err := c.Encrypt("secret seed")
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(ct)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01

	_, err = c.Decrypt(base64.RawURLEncoding.EncodeToString(raw))
	require.ErrorIs(t, err, ErrCrypto)
}

func TestUnconfiguredCipher(t *testing.T) {
	_, err := New(nil)
	require.ErrorIs(t, err, ErrNotConfigured)

	var c *Cipher
	_, err = c.Encrypt("x")
	require.ErrorIs(t, err, ErrNotConfigured)
	_, err = c.Decrypt("x")
	require.ErrorIs(t, err, ErrNotConfigured)
	require.False(t, c.Ready())
}

func TestInvalidKeyLength(t *testing.T) {
	_, err := New([]byte("short"))
	require.Error(t, err)
}

func TestReady(t *testing.T) {
	c, err := New(testKey(7))
	require.NoError(t, err)
	require.True(t, c.Ready())
}
