// Package quote wraps the Jupiter V6 aggregator: route quotes and swap
// transaction building.
package quote

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/crowsnest-trading/crowsnest/internal/solana"
)

// ErrNoRoute means the aggregator found no viable route for the pair. A
// quote failure is an expected outcome for thin or dead tokens, not an
// infrastructure error.
var ErrNoRoute = errors.New("quote: no route for pair")

// Request asks for the best route swapping amountRaw of the input mint.
type Request struct {
	InputMint   solana.Pubkey
	OutputMint  solana.Pubkey
	AmountRaw   decimal.Decimal // smallest units of the input mint
	SlippageBps int
}

// Quote is a priced route. Raw carries the aggregator's full response for
// the follow-up swap build.
type Quote struct {
	InputMint      solana.Pubkey
	OutputMint     solana.Pubkey
	InAmountRaw    decimal.Decimal
	OutAmountRaw   decimal.Decimal
	PriceImpactPct string
	Raw            json.RawMessage
}

// SwapTx is an unsigned serialized swap transaction.
type SwapTx struct {
	TxBase64             string
	LastValidBlockHeight uint64
}

// Service quotes routes and builds swap transactions.
type Service interface {
	GetQuote(ctx context.Context, req Request) (*Quote, error)
	BuildSwapTx(ctx context.Context, q *Quote, user solana.Pubkey, priorityFee uint64) (*SwapTx, error)
}
