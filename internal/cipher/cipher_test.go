package cipher

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestCipher(t *testing.T, secret string) *Cipher {
	t.Helper()
	c, err := New(secret)
	require.NoError(t, err)
	return c
}

func TestCipherRoundTrip(t *testing.T) {
	c := newTestCipher(t, "super-secret")

	for _, plaintext := range []string{"", "access-token", "CJSP5qf1MhICAQEYs-gDIIGOBii1hQIyGQ", "ümlaut ✓"} {
		envelope, err := c.Encrypt(plaintext)
		require.NoError(t, err)

		got, err := c.Decrypt(envelope)
		require.NoError(t, err)
		require.Equal(t, plaintext, got)
	}
}

func TestCipherEnvelopeLayout(t *testing.T) {
	c := newTestCipher(t, "super-secret")

	envelope, err := c.Encrypt("refresh-token")
	require.NoError(t, err)

	parts := strings.Split(envelope, ":")
	require.Len(t, parts, 3)
	require.Len(t, parts[0], nonceSize*2)
	require.Len(t, parts[1], tagSize*2)
	require.Len(t, parts[2], len("refresh-token")*2)
}

func TestCipherNonceFreshness(t *testing.T) {
	c := newTestCipher(t, "super-secret")

	first, err := c.Encrypt("same")
	require.NoError(t, err)
	second, err := c.Encrypt("same")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	for _, envelope := range []string{first, second} {
		got, err := c.Decrypt(envelope)
		require.NoError(t, err)
		require.Equal(t, "same", got)
	}
}

func TestCipherDetectsTampering(t *testing.T) {
	c := newTestCipher(t, "super-secret")
	envelope, err := c.Encrypt("access-token")
	require.NoError(t, err)

	for _, field := range []int{1, 2} {
		parts := strings.Split(envelope, ":")
		raw, err := hex.DecodeString(parts[field])
		require.NoError(t, err)
		raw[0] ^= 0x01
		parts[field] = hex.EncodeToString(raw)

		_, err = c.Decrypt(strings.Join(parts, ":"))
		require.ErrorIs(t, err, ErrIntegrity, "field %d", field)
	}
}

func TestCipherWrongKey(t *testing.T) {
	envelope, err := newTestCipher(t, "key-one").Encrypt("access-token")
	require.NoError(t, err)

	_, err = newTestCipher(t, "key-two").Decrypt(envelope)
	require.ErrorIs(t, err, ErrIntegrity)
}

func TestCipherRejectsMalformedEnvelopes(t *testing.T) {
	c := newTestCipher(t, "super-secret")
	valid, err := c.Encrypt("x")
	require.NoError(t, err)
	parts := strings.Split(valid, ":")

	cases := map[string]string{
		"empty":       "",
		"two fields":  parts[0] + ":" + parts[1],
		"four fields": valid + ":00",
		"not hex":     "zz:" + parts[1] + ":" + parts[2],
		"short nonce": "00:" + parts[1] + ":" + parts[2],
		"short tag":   parts[0] + ":00:" + parts[2],
	}
	for name, envelope := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := c.Decrypt(envelope)
			require.ErrorIs(t, err, ErrFormat)
		})
	}
}

func TestNewRejectsEmptySecret(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
}
