package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// TextCodec seals message text before it reaches a SQL column.
type TextCodec interface {
	Seal(plain string) (string, error)
	Open(sealed string) (string, error)
}

// Plaintext stores text as is.
type Plaintext struct{}

func (Plaintext) Seal(plain string) (string, error)  { return plain, nil }
func (Plaintext) Open(sealed string) (string, error) { return sealed, nil }

// Cipher seals text with XChaCha20-Poly1305. The key is derived from an
// arbitrary-length secret with SHA-256.
type Cipher struct {
	key [chacha20poly1305.KeySize]byte
}

func NewCipher(secret []byte) (*Cipher, error) {
	if len(secret) == 0 {
		return nil, errors.New("encryption key must not be empty")
	}
	return &Cipher{key: sha256.Sum256(secret)}, nil
}

func (c *Cipher) Seal(plain string) (string, error) {
	aead, err := chacha20poly1305.NewX(c.key[:])
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *Cipher) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("decode sealed text: %w", err)
	}
	aead, err := chacha20poly1305.NewX(c.key[:])
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", errors.New("ciphertext too short")
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("open sealed text: %w", err)
	}
	return string(plain), nil
}

// NewTextCodec returns a Cipher for a non-empty secret and Plaintext otherwise.
func NewTextCodec(secret string) (TextCodec, error) {
	if secret == "" {
		return Plaintext{}, nil
	}
	return NewCipher([]byte(secret))
}
