package solana

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKeypair(t *testing.T) (string, ed25519.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return base58.Encode(priv), pub
}

// buildUnsignedTx assembles a minimal wire transaction: one empty signature
// slot followed by the message bytes.
func buildUnsignedTx(message []byte) string {
	raw := make([]byte, 1+ed25519.SignatureSize+len(message))
	raw[0] = 1
	copy(raw[1+ed25519.SignatureSize:], message)
	return base64.StdEncoding.EncodeToString(raw)
}

func TestNewSigner(t *testing.T) {
	key, pub := newTestKeypair(t)
	s, err := NewSigner(key)
	require.NoError(t, err)
	assert.Equal(t, Pubkey(base58.Encode(pub)), s.PublicKey())
}

func TestNewSigner_Invalid(t *testing.T) {
	_, err := NewSigner("not-base58-!!!")
	assert.Error(t, err)

	// Valid base58 but wrong length.
	_, err = NewSigner(base58.Encode([]byte{1, 2, 3}))
	assert.Error(t, err)
}

func TestSignTransaction(t *testing.T) {
	key, pub := newTestKeypair(t)
	s, err := NewSigner(key)
	require.NoError(t, err)

	message := []byte("serialized message bytes")
	signed, err := s.SignTransaction(buildUnsignedTx(message))
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(signed)
	require.NoError(t, err)
	require.Equal(t, byte(1), raw[0])

	sig := raw[1 : 1+ed25519.SignatureSize]
	assert.True(t, ed25519.Verify(pub, message, sig), "signature must verify against the message")
}

func TestSignTransaction_Malformed(t *testing.T) {
	key, _ := newTestKeypair(t)
	s, err := NewSigner(key)
	require.NoError(t, err)

	_, err = s.SignTransaction("%%%not-base64%%%")
	assert.Error(t, err)

	_, err = s.SignTransaction(base64.StdEncoding.EncodeToString([]byte{1, 2, 3}))
	assert.Error(t, err, "truncated transaction")

	_, err = s.SignTransaction(base64.StdEncoding.EncodeToString([]byte{0}))
	assert.Error(t, err, "zero signature slots")
}

func TestDecodeCompactU16(t *testing.T) {
	tests := []struct {
		name      string
		data      []byte
		wantValue int
		wantLen   int
		wantErr   bool
	}{
		{"single byte", []byte{1}, 1, 1, false},
		{"max single byte", []byte{0x7f}, 127, 1, false},
		{"two bytes", []byte{0x80, 0x01}, 128, 2, false},
		{"empty", nil, 0, 0, true},
		{"truncated multi-byte", []byte{0x80}, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, n, err := decodeCompactU16(tt.data)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantValue, value)
			assert.Equal(t, tt.wantLen, n)
		})
	}
}
