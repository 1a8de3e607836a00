package fetcher

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crowsnest-trading/crowsnest/internal/history"
)

// Well-known settlement mints.
const (
	WSOLMint = "So11111111111111111111111111111111111111112"
	USDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDTMint = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
)

// ignoredMints are never treated as the traded token side of a swap.
var ignoredMints = map[string]bool{
	WSOLMint: true,
	USDCMint: true,
	USDTMint: true,
}

// Side is the wallet's direction in a swap.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Swap is a classified wallet swap: settlement asset against one traded token.
type Swap struct {
	Wallet        string
	Signature     string
	BlockTime     time.Time
	TokenMint     string
	TokenSymbol   string
	TokenDecimals int
	TokenAmount   decimal.Decimal // traded token units, always positive
	SolAmount     decimal.Decimal // settlement units, always positive
	Side          Side
}

// classify extracts a swap from a transaction's balance changes. It returns
// false when the transaction is not a recognizable swap: no settlement leg,
// no traded token leg, mismatched directions, or settlement below minSOL.
func classify(wallet string, tx history.TxRecord, minSOL float64) (Swap, bool) {
	var (
		settleDelta   float64
		settleIsSOL   bool
		haveSettle    bool
		tokenMint     string
		tokenSymbol   string
		tokenDecimals int
		tokenDelta    float64
		haveToken     bool
	)

	for _, bc := range tx.BalanceChanges {
		if bc.Amount == 0 {
			continue
		}
		switch {
		case bc.Address == WSOLMint || bc.Address == USDCMint:
			// Prefer the larger settlement leg when both appear.
			norm := normalize(bc.Amount, bc.Decimals)
			if !haveSettle || math.Abs(norm) > math.Abs(settleDelta) {
				settleDelta = norm
				settleIsSOL = bc.Address == WSOLMint
				haveSettle = true
			}
		case ignoredMints[bc.Address]:
			continue
		default:
			norm := normalize(bc.Amount, bc.Decimals)
			if !haveToken || math.Abs(norm) > math.Abs(tokenDelta) {
				tokenMint = bc.Address
				tokenSymbol = bc.Symbol
				tokenDecimals = bc.Decimals
				tokenDelta = norm
				haveToken = true
			}
		}
	}

	if !haveSettle || !haveToken {
		return Swap{}, false
	}
	// A swap moves settlement and token in opposite directions.
	if settleDelta*tokenDelta >= 0 {
		return Swap{}, false
	}
	if settleIsSOL && math.Abs(settleDelta) < minSOL {
		return Swap{}, false
	}

	side := SideSell
	if tokenDelta > 0 {
		side = SideBuy
	}

	return Swap{
		Wallet:        wallet,
		Signature:     tx.Signature,
		BlockTime:     tx.BlockTime,
		TokenMint:     tokenMint,
		TokenSymbol:   tokenSymbol,
		TokenDecimals: tokenDecimals,
		TokenAmount:   decimal.NewFromFloat(math.Abs(tokenDelta)),
		SolAmount:     decimal.NewFromFloat(math.Abs(settleDelta)),
		Side:          side,
	}, true
}

func normalize(raw float64, decimals int) float64 {
	if decimals <= 0 {
		return raw
	}
	return raw / math.Pow10(decimals)
}
