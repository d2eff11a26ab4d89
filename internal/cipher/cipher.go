package cipher

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	nonceSize = 12
	tagSize   = 16
)

var (
	// ErrFormat means the envelope is not three colon-delimited hex fields.
	ErrFormat = errors.New("cipher: malformed envelope")
	// ErrIntegrity means the authentication tag did not verify.
	ErrIntegrity = errors.New("cipher: integrity check failed")
)

// Cipher seals token strings with AES-256-GCM. Envelopes have the form
// hex(nonce):hex(tag):hex(ciphertext).
type Cipher struct {
	aead stdcipher.AEAD
	rand io.Reader
}

// New derives the AES key as SHA-256 of secret.
func New(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, fmt.Errorf("cipher: empty secret")
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := stdcipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return &Cipher{aead: aead, rand: rand.Reader}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	// Seal appends the tag after the ciphertext.
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	split := len(sealed) - tagSize
	ciphertext, tag := sealed[:split], sealed[split:]

	return strings.Join([]string{
		hex.EncodeToString(nonce),
		hex.EncodeToString(tag),
		hex.EncodeToString(ciphertext),
	}, ":"), nil
}

// Decrypt opens an envelope produced by Encrypt.
func (c *Cipher) Decrypt(envelope string) (string, error) {
	nonce, tag, ciphertext, err := splitEnvelope(envelope)
	if err != nil {
		return "", err
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrIntegrity
	}
	return string(plaintext), nil
}

func splitEnvelope(envelope string) (nonce, tag, ciphertext []byte, err error) {
	parts := strings.Split(envelope, ":")
	if len(parts) != 3 {
		return nil, nil, nil, fmt.Errorf("%w: want 3 fields, got %d", ErrFormat, len(parts))
	}
	decoded := make([][]byte, len(parts))
	for i, part := range parts {
		b, decodeErr := hex.DecodeString(part)
		if decodeErr != nil {
			return nil, nil, nil, fmt.Errorf("%w: field %d: %v", ErrFormat, i, decodeErr)
		}
		decoded[i] = b
	}
	if len(decoded[0]) != nonceSize {
		return nil, nil, nil, fmt.Errorf("%w: nonce is %d bytes", ErrFormat, len(decoded[0]))
	}
	if len(decoded[1]) != tagSize {
		return nil, nil, nil, fmt.Errorf("%w: tag is %d bytes", ErrFormat, len(decoded[1]))
	}
	return decoded[0], decoded[1], decoded[2], nil
}
