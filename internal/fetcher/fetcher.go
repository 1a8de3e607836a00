package fetcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/crowsnest-trading/crowsnest/internal/batch"
	"github.com/crowsnest-trading/crowsnest/internal/bus"
	"github.com/crowsnest-trading/crowsnest/internal/history"
	"github.com/crowsnest-trading/crowsnest/internal/retry"
	"github.com/crowsnest-trading/crowsnest/internal/wallets"
)

// Sink receives classified swaps for scoring.
type Sink interface {
	ProcessSwap(ctx context.Context, swap Swap) error
}

// Config tunes a Fetcher.
type Config struct {
	LookbackWindow   time.Duration // initial-scan window
	MinSettlementSOL float64
	MinCallSpacing   time.Duration
	Retries          retry.Policy
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{
		LookbackWindow:   15 * time.Minute,
		MinSettlementSOL: 0.1,
		MinCallSpacing:   100 * time.Millisecond,
		Retries: retry.Policy{
			MaxAttempts: 3,
			Delay:       2 * time.Second,
			Backoff:     retry.Linear,
		},
	}
}

// Stats is a snapshot of fetcher counters.
type Stats struct {
	Fetches     uint64
	FetchErrors uint64
	Swaps       uint64
	Skipped     uint64
}

// Fetcher pulls wallet transaction history, classifies swaps, and forwards
// them to the scoring sink. Each wallet carries a monotone time cursor so a
// transaction is processed at most once.
type Fetcher struct {
	cfg      Config
	svc      history.Service
	registry *wallets.Registry
	sink     Sink
	txTopic  *bus.Topic[bus.Transaction]
	spacer   *batch.Spacer

	mu      sync.Mutex
	cursors map[string]time.Time

	fetches     atomic.Uint64
	fetchErrors atomic.Uint64
	swaps       atomic.Uint64
	skipped     atomic.Uint64
}

// New creates a Fetcher. txTopic may be nil when nothing consumes raw
// transaction events.
func New(cfg Config, svc history.Service, registry *wallets.Registry, sink Sink, txTopic *bus.Topic[bus.Transaction]) *Fetcher {
	return &Fetcher{
		cfg:      cfg,
		svc:      svc,
		registry: registry,
		sink:     sink,
		txTopic:  txTopic,
		spacer:   batch.NewSpacer(cfg.MinCallSpacing),
		cursors:  make(map[string]time.Time),
	}
}

// Cursor returns the wallet's cursor and whether one exists.
func (f *Fetcher) Cursor(wallet string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cursors[wallet]
	return c, ok
}

// Stats returns a snapshot of counters.
func (f *Fetcher) Stats() Stats {
	return Stats{
		Fetches:     f.fetches.Load(),
		FetchErrors: f.fetchErrors.Load(),
		Swaps:       f.swaps.Load(),
		Skipped:     f.skipped.Load(),
	}
}

// Process handles one wallet scan. Initial scans look back over the
// configured window; incremental scans resume from the wallet's cursor. The
// cursor only advances after a successful fetch, so a failed call replays
// the same window next time.
func (f *Fetcher) Process(ctx context.Context, wallet string, mode wallets.ScanMode) {
	if err := f.fetchWallet(ctx, wallet, mode); err != nil {
		f.fetchErrors.Add(1)
		log.Warn().Err(err).Str("wallet", shorten(wallet)).Msg("fetcher: scan failed")
	}
}

func (f *Fetcher) fetchWallet(ctx context.Context, wallet string, mode wallets.ScanMode) error {
	now := time.Now()
	since := f.sinceFor(wallet, mode, now)

	if err := f.spacer.Wait(ctx); err != nil {
		return err
	}
	f.fetches.Add(1)

	var records []history.TxRecord
	err := f.cfg.Retries.Do(ctx, "history.list", func(ctx context.Context) error {
		var err error
		records, err = f.svc.List(ctx, wallet, since)
		return err
	})
	if err != nil {
		return fmt.Errorf("list %s: %w", shorten(wallet), err)
	}

	cursor, _ := f.Cursor(wallet)
	maxSeen := now
	for _, tx := range records {
		// Strictly after the cursor; the boundary transaction was
		// already processed by the previous scan.
		if !tx.BlockTime.After(cursor) {
			continue
		}
		if tx.BlockTime.After(maxSeen) {
			maxSeen = tx.BlockTime
		}
		f.handleTx(ctx, wallet, tx)
	}

	f.advanceCursor(wallet, maxSeen)
	return nil
}

// sinceFor picks the fetch window start for the scan mode.
func (f *Fetcher) sinceFor(wallet string, mode wallets.ScanMode, now time.Time) time.Time {
	if mode == wallets.ScanInitial {
		return now.Add(-f.cfg.LookbackWindow)
	}
	f.mu.Lock()
	cursor, ok := f.cursors[wallet]
	f.mu.Unlock()
	if !ok {
		return now.Add(-f.cfg.LookbackWindow)
	}
	return cursor
}

// advanceCursor moves the wallet cursor forward, never backward.
func (f *Fetcher) advanceCursor(wallet string, to time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.cursors[wallet]; ok && !to.After(cur) {
		return
	}
	f.cursors[wallet] = to
}

func (f *Fetcher) handleTx(ctx context.Context, wallet string, tx history.TxRecord) {
	if err := f.registry.UpdateActivity(wallet, tx.BlockTime); err != nil {
		log.Warn().Err(err).Str("wallet", shorten(wallet)).Msg("fetcher: activity update failed")
	}

	swap, ok := classify(wallet, tx, f.cfg.MinSettlementSOL)
	if !ok {
		f.skipped.Add(1)
		return
	}
	f.swaps.Add(1)

	log.Debug().
		Str("wallet", shorten(wallet)).
		Str("token", swap.TokenSymbol).
		Str("side", string(swap.Side)).
		Str("sol", swap.SolAmount.StringFixed(4)).
		Msg("fetcher: swap detected")

	if err := f.sink.ProcessSwap(ctx, swap); err != nil {
		log.Warn().Err(err).Str("tx", tx.Signature).Msg("fetcher: sink rejected swap")
	}

	if f.txTopic != nil {
		f.txTopic.Publish(bus.Transaction{
			BaseEvent:   bus.NewBaseEvent("fetcher"),
			Wallet:      wallet,
			Signature:   tx.Signature,
			TokenMint:   swap.TokenMint,
			TokenSymbol: swap.TokenSymbol,
			Side:        string(swap.Side),
			SolAmount:   swap.SolAmount.String(),
			TokenAmount: swap.TokenAmount.String(),
			BlockTime:   tx.BlockTime,
		})
	}
}

func shorten(addr string) string {
	if len(addr) <= 8 {
		return addr
	}
	return addr[:8]
}
