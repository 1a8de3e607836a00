package solana

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"

	"github.com/mr-tron/base58"
)

// Signer holds a wallet keypair and signs serialized transactions.
type Signer struct {
	priv ed25519.PrivateKey
	pub  Pubkey
}

// NewSigner parses a base58-encoded 64-byte keypair (the standard wallet
// export format: 32-byte seed followed by the 32-byte public key).
func NewSigner(privateKeyBase58 string) (*Signer, error) {
	raw, err := base58.Decode(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("signer: decode private key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signer: expected %d-byte keypair, got %d", ed25519.PrivateKeySize, len(raw))
	}
	priv := ed25519.PrivateKey(raw)
	pub := base58.Encode(priv.Public().(ed25519.PublicKey))
	return &Signer{priv: priv, pub: Pubkey(pub)}, nil
}

// PublicKey returns the wallet's base58 public key.
func (s *Signer) PublicKey() Pubkey {
	return s.pub
}

// SignTransaction signs a base64-serialized transaction in place: the
// message portion is signed and the signature written into the first
// signature slot. Works for both legacy and versioned transactions, whose
// wire layout is a compact-u16 signature count, the signature slots, then
// the message.
func (s *Signer) SignTransaction(txBase64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		return "", fmt.Errorf("signer: decode transaction: %w", err)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("signer: empty transaction")
	}

	numSigs, offset, err := decodeCompactU16(raw)
	if err != nil {
		return "", fmt.Errorf("signer: parse signature count: %w", err)
	}
	if numSigs < 1 {
		return "", fmt.Errorf("signer: transaction requires no signatures")
	}

	msgStart := offset + numSigs*ed25519.SignatureSize
	if len(raw) <= msgStart {
		return "", fmt.Errorf("signer: truncated transaction (%d bytes, message at %d)", len(raw), msgStart)
	}

	sig := ed25519.Sign(s.priv, raw[msgStart:])
	copy(raw[offset:offset+ed25519.SignatureSize], sig)

	return base64.StdEncoding.EncodeToString(raw), nil
}

// decodeCompactU16 reads Solana's compact-u16 length prefix and returns the
// value plus the number of bytes consumed.
func decodeCompactU16(data []byte) (int, int, error) {
	value := 0
	for i := 0; i < 3; i++ {
		if i >= len(data) {
			return 0, 0, fmt.Errorf("truncated compact-u16")
		}
		b := int(data[i])
		value |= (b & 0x7f) << (7 * i)
		if b&0x80 == 0 {
			return value, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("compact-u16 too long")
}
