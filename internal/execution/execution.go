// Package execution drives a swap through quote, build, sign, submit, and
// confirmation, with bounded retries around the whole pipeline.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/crowsnest-trading/crowsnest/internal/quote"
	"github.com/crowsnest-trading/crowsnest/internal/solana"
)

// State is the progress of one swap attempt.
type State string

const (
	StateQuoteRequested State = "quote_requested"
	StateQuoteFailed    State = "quote_failed"
	StateQuoteOK        State = "quote_ok"
	StateTxBuilt        State = "tx_built"
	StateSigned         State = "signed"
	StateSubmitted      State = "submitted"
	StateConfirmed      State = "confirmed"
	StateFailed         State = "failed"
	StateTimeout        State = "timeout"
)

var (
	// ErrOnChainFailure means the transaction landed with an error. The
	// signature is spent; any retry needs a fresh quote and transaction.
	ErrOnChainFailure = errors.New("execution: transaction failed on chain")
	// ErrConfirmTimeout means the transaction never reached a terminal
	// status within the confirmation budget.
	ErrConfirmTimeout = errors.New("execution: confirmation timed out")
)

// Signer abstracts the wallet keypair.
type Signer interface {
	PublicKey() solana.Pubkey
	SignTransaction(txBase64 string) (string, error)
}

// Order is one swap to execute.
type Order struct {
	InputMint   solana.Pubkey
	OutputMint  solana.Pubkey
	AmountRaw   decimal.Decimal // smallest units of the input mint
	SlippageBps int
	PriorityFee uint64
}

// Result is the outcome of an executed order. Quote holds the route the
// confirmed transaction was built from, so fills are priced from real
// quote amounts rather than the request.
type Result struct {
	State     State
	Signature solana.Signature
	Quote     *quote.Quote
	Attempts  int
}

// Config bounds the engine's retry and confirmation budgets.
type Config struct {
	MaxAttempts       int
	RetryDelay        time.Duration
	TakeProfitRetries int
	TakeProfitDelay   time.Duration
	ConfirmAttempts   int
	ConfirmPollDelay  time.Duration
	DryRun            bool
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		RetryDelay:        time.Second,
		TakeProfitRetries: 10,
		TakeProfitDelay:   30 * time.Second,
		ConfirmAttempts:   30,
		ConfirmPollDelay:  time.Second,
	}
}

// Engine executes orders against the aggregator and chain.
type Engine struct {
	cfg    Config
	quotes quote.Service
	rpc    solana.Client
	signer Signer
}

// New creates an Engine.
func New(cfg Config, quotes quote.Service, rpc solana.Client, signer Signer) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.ConfirmAttempts <= 0 {
		cfg.ConfirmAttempts = DefaultConfig().ConfirmAttempts
	}
	if cfg.ConfirmPollDelay <= 0 {
		cfg.ConfirmPollDelay = DefaultConfig().ConfirmPollDelay
	}
	if cfg.TakeProfitRetries <= 0 {
		cfg.TakeProfitRetries = DefaultConfig().TakeProfitRetries
	}
	return &Engine{cfg: cfg, quotes: quotes, rpc: rpc, signer: signer}
}

// ExecuteSwap runs an entry order under the standard retry budget.
func (e *Engine) ExecuteSwap(ctx context.Context, order Order) (*Result, error) {
	return e.execute(ctx, order, e.cfg.MaxAttempts, e.cfg.RetryDelay)
}

// ExecuteTakeProfit runs an exit order under the larger take-profit budget:
// exits must eventually land, so they retry longer and more patiently.
func (e *Engine) ExecuteTakeProfit(ctx context.Context, order Order) (*Result, error) {
	return e.execute(ctx, order, e.cfg.TakeProfitRetries, e.cfg.TakeProfitDelay)
}

// execute retries the full quote->build->sign->submit->confirm pipeline.
// Every attempt starts from a fresh quote: a stale route is the most common
// reason a memecoin swap fails, so nothing from a failed attempt is reused.
func (e *Engine) execute(ctx context.Context, order Order, maxAttempts int, retryDelay time.Duration) (*Result, error) {
	result := &Result{State: StateQuoteRequested}
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt
		if attempt > 1 {
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return result, ctx.Err()
			}
		}

		err := e.attempt(ctx, order, result)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		log.Warn().
			Err(err).
			Str("state", string(result.State)).
			Int("attempt", attempt).
			Int("max", maxAttempts).
			Str("out", shorten(order.OutputMint)).
			Msg("execution: attempt failed")
	}

	return result, fmt.Errorf("execution: %d attempts exhausted: %w", maxAttempts, lastErr)
}

// attempt runs the pipeline once, updating result.State as it advances.
func (e *Engine) attempt(ctx context.Context, order Order, result *Result) error {
	result.State = StateQuoteRequested
	q, err := e.quotes.GetQuote(ctx, quote.Request{
		InputMint:   order.InputMint,
		OutputMint:  order.OutputMint,
		AmountRaw:   order.AmountRaw,
		SlippageBps: order.SlippageBps,
	})
	if err != nil {
		result.State = StateQuoteFailed
		return err
	}
	result.State = StateQuoteOK
	result.Quote = q

	if e.cfg.DryRun {
		result.State = StateConfirmed
		result.Signature = "dry-run"
		log.Info().
			Str("in", shorten(order.InputMint)).
			Str("out", shorten(order.OutputMint)).
			Str("in_amount", q.InAmountRaw.String()).
			Str("out_amount", q.OutAmountRaw.String()).
			Msg("execution: dry run, swap not submitted")
		return nil
	}

	tx, err := e.quotes.BuildSwapTx(ctx, q, e.signer.PublicKey(), order.PriorityFee)
	if err != nil {
		return fmt.Errorf("build swap: %w", err)
	}
	result.State = StateTxBuilt

	signed, err := e.signer.SignTransaction(tx.TxBase64)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	result.State = StateSigned

	sig, err := e.rpc.SendTransaction(ctx, signed)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	result.State = StateSubmitted
	result.Signature = sig

	log.Info().
		Str("signature", string(sig)).
		Str("out", shorten(order.OutputMint)).
		Msg("execution: submitted, awaiting confirmation")

	return e.confirm(ctx, sig, result)
}

// confirm polls the signature until it lands, fails, or the budget runs
// out. An on-chain failure is terminal for this signature; a timeout leaves
// the transaction in flight and consumes the outer attempt.
func (e *Engine) confirm(ctx context.Context, sig solana.Signature, result *Result) error {
	for i := 0; i < e.cfg.ConfirmAttempts; i++ {
		if i > 0 {
			select {
			case <-time.After(e.cfg.ConfirmPollDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		status, err := e.rpc.SignatureStatus(ctx, sig)
		if err != nil {
			log.Debug().Err(err).Str("signature", string(sig)).Msg("execution: status poll failed")
			continue
		}
		switch {
		case status.Landed():
			result.State = StateConfirmed
			log.Info().Str("signature", string(sig)).Str("status", string(status)).Msg("execution: confirmed")
			return nil
		case status == solana.StatusFailed:
			result.State = StateFailed
			return fmt.Errorf("%w: %s", ErrOnChainFailure, sig)
		}
	}

	result.State = StateTimeout
	return fmt.Errorf("%w: %s after %d polls", ErrConfirmTimeout, sig, e.cfg.ConfirmAttempts)
}

func shorten(mint solana.Pubkey) string {
	s := string(mint)
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}
