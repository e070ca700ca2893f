package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
)

// Sealer encrypts provider account credentials at rest. AES-256-GCM with
// a fresh random nonce per seal; the sealed form is
// base64(nonce || ciphertext). Keys are 32 bytes, base64-encoded.
type Sealer struct {
	aead cipher.AEAD
}

// credentialKeyEnv overrides the configured key so deployments can keep
// it out of the config file.
const credentialKeyEnv = "CREDENTIAL_KEY"

var ErrNoKey = errors.New("credential key not configured")

// NewSealer builds a Sealer from a base64-encoded 32-byte key. The
// CREDENTIAL_KEY environment variable takes precedence over the argument.
func NewSealer(configuredKey string) (*Sealer, error) {
	encoded := os.Getenv(credentialKeyEnv)
	if encoded == "" {
		encoded = configuredKey
	}
	if encoded == "" {
		return nil, ErrNoKey
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid credential key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("credential key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &Sealer{aead: aead}, nil
}

// Seal encrypts a credential for storage.
func (s *Sealer) Seal(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a sealed credential. Tampered or truncated input fails.
func (s *Sealer) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("invalid sealed credential: %w", err)
	}
	if len(raw) < s.aead.NonceSize() {
		return "", errors.New("sealed credential too short")
	}
	nonce, ciphertext := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to open sealed credential: %w", err)
	}
	return string(plaintext), nil
}

// GenerateKey returns a fresh base64-encoded 32-byte key.
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
