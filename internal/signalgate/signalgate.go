// Package signalgate turns score signals into concrete trade parameters.
package signalgate

import (
	"github.com/shopspring/decimal"

	"github.com/crowsnest-trading/crowsnest/internal/bus"
	"github.com/crowsnest-trading/crowsnest/internal/ledger"
)

// TradeParams is a fully sized buy order derived from a signal.
type TradeParams struct {
	TokenAddress  string
	Symbol        string
	Category      ledger.Category
	TokenDecimals int
	SpendSOL      decimal.Decimal
	SlippageBps   int
	PriorityFee   uint64
}

// Config holds per-category thresholds and order sizing.
type Config struct {
	// Minimum signal score per category. The gate re-checks the score so
	// a stale or replayed signal below the bar is never traded.
	Thresholds map[ledger.Category]float64
	// SOL spent per entry, keyed by category. Categories absent from the
	// map are not traded.
	Sizes       map[ledger.Category]float64
	SlippageBps int
	PriorityFee uint64
}

// DefaultConfig returns production thresholds and sizing.
func DefaultConfig() Config {
	return Config{
		Thresholds: ledger.DefaultConfig().Thresholds,
		Sizes: map[ledger.Category]float64{
			ledger.CategoryAI:     0.05,
			ledger.CategoryMeme:   0.025,
			ledger.CategoryHybrid: 0.05,
		},
		SlippageBps: 100,
		PriorityFee: 1_000_000,
	}
}

// Gate converts trading signals to trade parameters. Pure and stateless:
// position caps and balance checks belong to the trading system.
type Gate struct {
	cfg Config
}

// New creates a Gate.
func New(cfg Config) *Gate {
	if cfg.Thresholds == nil {
		cfg.Thresholds = DefaultConfig().Thresholds
	}
	if cfg.Sizes == nil {
		cfg.Sizes = DefaultConfig().Sizes
	}
	return &Gate{cfg: cfg}
}

// Evaluate returns trade parameters for a signal, or nil when the signal is
// below its category threshold or the category has no configured size. An
// untradeable signal is not an error.
func (g *Gate) Evaluate(signal bus.TradingSignal) *TradeParams {
	category := ledger.Category(signal.Category)
	if !category.Valid() {
		return nil
	}
	threshold, ok := g.cfg.Thresholds[category]
	if !ok || signal.Score < threshold {
		return nil
	}
	size, ok := g.cfg.Sizes[category]
	if !ok || size <= 0 {
		return nil
	}
	return &TradeParams{
		TokenAddress:  signal.TokenAddress,
		Symbol:        signal.Symbol,
		Category:      category,
		TokenDecimals: signal.Decimals,
		SpendSOL:      decimal.NewFromFloat(size),
		SlippageBps:   g.cfg.SlippageBps,
		PriorityFee:   g.cfg.PriorityFee,
	}
}
