package secrets

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealerRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	sealer, err := NewSealer(key)
	require.NoError(t, err)

	tests := []struct {
		name      string
		plaintext string
	}{
		{name: "api key", plaintext: "sk-test-1234567890abcdef"},
		{name: "empty string", plaintext: ""},
		{name: "unicode", plaintext: "密钥-ключ-🔑"},
		{name: "long credential", plaintext: strings.Repeat("x", 4096)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := sealer.Seal(tt.plaintext)
			require.NoError(t, err)
			assert.NotEqual(t, tt.plaintext, sealed)

			opened, err := sealer.Open(sealed)
			require.NoError(t, err)
			assert.Equal(t, tt.plaintext, opened)
		})
	}
}

func TestSealerNonceUniqueness(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	sealer, err := NewSealer(key)
	require.NoError(t, err)

	// Sealing the same plaintext twice must not produce the same blob.
	first, err := sealer.Seal("same-credential")
	require.NoError(t, err)
	second, err := sealer.Seal("same-credential")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestSealerRejectsTamperedInput(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	sealer, err := NewSealer(key)
	require.NoError(t, err)

	sealed, err := sealer.Seal("sk-real-key")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(sealed)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01
	tampered := base64.StdEncoding.EncodeToString(raw)

	_, err = sealer.Open(tampered)
	assert.Error(t, err)
}

func TestSealerRejectsWrongKey(t *testing.T) {
	keyA, err := GenerateKey()
	require.NoError(t, err)
	keyB, err := GenerateKey()
	require.NoError(t, err)

	sealerA, err := NewSealer(keyA)
	require.NoError(t, err)
	sealerB, err := NewSealer(keyB)
	require.NoError(t, err)

	sealed, err := sealerA.Seal("sk-real-key")
	require.NoError(t, err)

	_, err = sealerB.Open(sealed)
	assert.Error(t, err)
}

func TestSealerKeyValidation(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr string
	}{
		{
			name:    "missing key",
			key:     "",
			wantErr: "credential key not configured",
		},
		{
			name:    "not base64",
			key:     "!!!not-base64!!!",
			wantErr: "invalid credential key",
		},
		{
			name:    "wrong length",
			key:     base64.StdEncoding.EncodeToString([]byte("short")),
			wantErr: "must be 32 bytes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSealer(tt.key)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSealerEnvOverride(t *testing.T) {
	envKey, err := GenerateKey()
	require.NoError(t, err)
	t.Setenv(credentialKeyEnv, envKey)

	// The configured key is ignored when the env var is set.
	configuredKey, err := GenerateKey()
	require.NoError(t, err)

	sealer, err := NewSealer(configuredKey)
	require.NoError(t, err)

	sealed, err := sealer.Seal("credential")
	require.NoError(t, err)

	envSealer, err := NewSealer("")
	require.NoError(t, err)
	opened, err := envSealer.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "credential", opened)
}

func TestOpenRejectsGarbage(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	sealer, err := NewSealer(key)
	require.NoError(t, err)

	_, err = sealer.Open("%%%")
	assert.Error(t, err)

	_, err = sealer.Open(base64.StdEncoding.EncodeToString([]byte("tiny")))
	assert.Error(t, err)
}
