// Package pricing marks tokens to market by probing the aggregator with a
// sell quote, so the mark reflects real route depth rather than a midpoint.
package pricing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crowsnest-trading/crowsnest/internal/quote"
	"github.com/crowsnest-trading/crowsnest/internal/solana"
)

// Config tunes the price service.
type Config struct {
	CacheTTL    time.Duration
	SlippageBps int
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{
		CacheTTL:    time.Minute,
		SlippageBps: 100,
	}
}

type cacheEntry struct {
	price   decimal.Decimal
	expires time.Time
}

// Service derives SOL-per-token prices from sell quotes, cached per mint.
type Service struct {
	cfg    Config
	quotes quote.Service

	mu    sync.Mutex
	cache map[solana.Pubkey]cacheEntry
}

// New creates a price service.
func New(cfg Config, quotes quote.Service) *Service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultConfig().CacheTTL
	}
	if cfg.SlippageBps <= 0 {
		cfg.SlippageBps = DefaultConfig().SlippageBps
	}
	return &Service{
		cfg:    cfg,
		quotes: quotes,
		cache:  make(map[solana.Pubkey]cacheEntry),
	}
}

// Price returns the SOL value of one token, derived from quoting a sell of
// sampleTokens (the caller's actual holding, so depth matches what a real
// exit would see). A non-positive sample probes with a single token.
func (s *Service) Price(ctx context.Context, mint solana.Pubkey, decimals int, sampleTokens decimal.Decimal) (decimal.Decimal, error) {
	now := time.Now()

	s.mu.Lock()
	entry, ok := s.cache[mint]
	s.mu.Unlock()
	if ok && now.Before(entry.expires) {
		return entry.price, nil
	}

	if !sampleTokens.IsPositive() {
		sampleTokens = decimal.NewFromInt(1)
	}
	scale := decimal.New(1, int32(decimals))
	inRaw := sampleTokens.Mul(scale).Round(0)
	if !inRaw.IsPositive() {
		return decimal.Zero, fmt.Errorf("pricing: sample of %s tokens rounds to zero raw units", sampleTokens)
	}

	q, err := s.quotes.GetQuote(ctx, quote.Request{
		InputMint:   mint,
		OutputMint:  solana.SOLMint,
		AmountRaw:   inRaw,
		SlippageBps: s.cfg.SlippageBps,
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("pricing: %s: %w", mint, err)
	}

	solOut := q.OutAmountRaw.Div(solana.LamportsPerSOL)
	tokensIn := inRaw.Div(scale)
	price := solOut.Div(tokensIn)
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("pricing: non-positive price for %s", mint)
	}

	s.mu.Lock()
	s.cache[mint] = cacheEntry{price: price, expires: now.Add(s.cfg.CacheTTL)}
	s.mu.Unlock()
	return price, nil
}

// Invalidate drops a mint's cached price, forcing the next call to requote.
func (s *Service) Invalidate(mint solana.Pubkey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, mint)
}
