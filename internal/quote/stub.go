package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/crowsnest-trading/crowsnest/internal/solana"
)

// Stub is an in-memory Service for tests: quotes convert at configured
// rates and swap builds return a canned transaction.
type Stub struct {
	mu         sync.Mutex
	rates      map[string]decimal.Decimal // "in->out" -> outRaw per inRaw
	quoteErrs  int
	quoteErr   error
	buildErr   error
	QuoteCalls int
	BuildCalls int
}

// NewStub creates an empty stub.
func NewStub() *Stub {
	return &Stub{rates: make(map[string]decimal.Decimal)}
}

func rateKey(in, out solana.Pubkey) string {
	return string(in) + "->" + string(out)
}

// SetRate makes quotes from in to out return inRaw * rate.
func (s *Stub) SetRate(in, out solana.Pubkey, rate decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[rateKey(in, out)] = rate
}

// FailQuotes makes the next n GetQuote calls return err.
func (s *Stub) FailQuotes(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quoteErrs = n
	s.quoteErr = err
}

// FailBuild makes every BuildSwapTx call return err until reset with nil.
func (s *Stub) FailBuild(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buildErr = err
}

func (s *Stub) GetQuote(_ context.Context, req Request) (*Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.QuoteCalls++
	if s.quoteErrs > 0 {
		s.quoteErrs--
		return nil, s.quoteErr
	}
	rate, ok := s.rates[rateKey(req.InputMint, req.OutputMint)]
	if !ok {
		return nil, fmt.Errorf("%w: %s -> %s", ErrNoRoute, req.InputMint, req.OutputMint)
	}
	out := req.AmountRaw.Mul(rate)
	return &Quote{
		InputMint:    req.InputMint,
		OutputMint:   req.OutputMint,
		InAmountRaw:  req.AmountRaw,
		OutAmountRaw: out,
		Raw:          json.RawMessage(`{}`),
	}, nil
}

func (s *Stub) BuildSwapTx(_ context.Context, q *Quote, _ solana.Pubkey, _ uint64) (*SwapTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.BuildCalls++
	if s.buildErr != nil {
		return nil, s.buildErr
	}
	return &SwapTx{
		TxBase64:             fmt.Sprintf("unsigned-tx-%s-%s", q.InputMint, q.OutputMint),
		LastValidBlockHeight: 1000,
	}, nil
}
