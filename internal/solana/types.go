package solana

import "github.com/shopspring/decimal"

// Pubkey is a Solana public key (base58 string).
type Pubkey string

// Signature is a Solana transaction signature.
type Signature string

// Well-known mints.
const (
	SOLMint  Pubkey = "So11111111111111111111111111111111111111112"
	USDCMint Pubkey = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

// LamportsPerSOL converts between lamports and SOL.
var LamportsPerSOL = decimal.NewFromInt(1_000_000_000)

// TxStatus is the confirmation state of a submitted transaction.
type TxStatus string

const (
	StatusPending   TxStatus = "pending"
	StatusConfirmed TxStatus = "confirmed"
	StatusFinalized TxStatus = "finalized"
	// StatusFailed means the transaction landed on chain with an error.
	// Terminal: resubmitting the same signature cannot succeed.
	StatusFailed TxStatus = "failed"
)

// Landed reports whether the status is a successful terminal state.
func (s TxStatus) Landed() bool {
	return s == StatusConfirmed || s == StatusFinalized
}

// WalletBalance is a wallet's SOL plus SPL token holdings.
type WalletBalance struct {
	SOL    decimal.Decimal            `json:"sol"`
	Tokens map[Pubkey]decimal.Decimal `json:"tokens"` // mint -> ui amount
}
