package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/crowsnest-trading/crowsnest/internal/bus"
	"github.com/crowsnest-trading/crowsnest/internal/fetcher"
	"github.com/crowsnest-trading/crowsnest/internal/wallets"
)

const recentChangesCap = 10

// Validation errors returned by ProcessSwap.
var (
	ErrEmptyToken  = errors.New("ledger: empty token address")
	ErrEmptyWallet = errors.New("ledger: empty wallet address")
	ErrBadAmount   = errors.New("ledger: non-positive token amount")
)

// Config tunes the ledger.
type Config struct {
	Thresholds  map[Category]float64
	TokenMaxAge time.Duration
}

// DefaultConfig returns production scoring thresholds.
func DefaultConfig() Config {
	return Config{
		Thresholds: map[Category]float64{
			CategoryAI:      199,
			CategoryMeme:    399,
			CategoryHybrid:  199,
			CategoryUnknown: 399,
		},
		TokenMaxAge: 24 * time.Hour,
	}
}

// TokenRecord is the ledger's view of one token.
type TokenRecord struct {
	Address    string
	Symbol     string
	Decimals   int
	Category   Category
	Confidence float64
	Score      float64

	// Contributions maps wallet -> the score that wallet added. A later
	// sell removes exactly this amount, regardless of the wallet's
	// reputation at sell time.
	Contributions map[string]float64
	UniqueBuyers  map[string]struct{}

	BuyCount    int
	SellCount   int
	TotalVolume float64 // settlement units across buys and sells

	FirstSeen  time.Time
	LastUpdate time.Time

	// RecentChanges keeps the newest changes first, capped at ten.
	RecentChanges []bus.ScoreChange
}

// Stats is a snapshot of ledger counters.
type Stats struct {
	TokensTracked int
	Processed     uint64
	Rejected      uint64
	Signals       uint64
}

// Ledger accumulates wallet-reputation scores per token and emits a trading
// signal the moment a token's score first crosses its category threshold.
type Ledger struct {
	cfg         Config
	categorizer Categorizer
	registry    *wallets.Registry
	signals     *bus.Topic[bus.TradingSignal]
	metrics     *bus.Topic[bus.TokenMetricsSnapshot]

	mu     sync.Mutex
	tokens map[string]*TokenRecord

	processed atomic.Uint64
	rejected  atomic.Uint64
	emitted   atomic.Uint64
}

// New creates a Ledger. signals and metrics topics may be nil in tests.
func New(cfg Config, categorizer Categorizer, registry *wallets.Registry, signals *bus.Topic[bus.TradingSignal], metrics *bus.Topic[bus.TokenMetricsSnapshot]) *Ledger {
	if cfg.Thresholds == nil {
		cfg.Thresholds = DefaultConfig().Thresholds
	}
	if cfg.TokenMaxAge <= 0 {
		cfg.TokenMaxAge = DefaultConfig().TokenMaxAge
	}
	return &Ledger{
		cfg:         cfg,
		categorizer: categorizer,
		registry:    registry,
		signals:     signals,
		metrics:     metrics,
		tokens:      make(map[string]*TokenRecord),
	}
}

// Threshold returns the signal threshold for a category. Unrecognized
// categories fall back to the Unknown threshold.
func (l *Ledger) Threshold(c Category) float64 {
	if th, ok := l.cfg.Thresholds[c]; ok {
		return th
	}
	return l.cfg.Thresholds[CategoryUnknown]
}

// ProcessSwap implements fetcher.Sink. Buys add the wallet's reputation to
// the token score once per (token, wallet); sells remove exactly the stored
// contribution. A signal is emitted only on the upward threshold crossing.
func (l *Ledger) ProcessSwap(ctx context.Context, swap fetcher.Swap) error {
	if swap.TokenMint == "" {
		l.rejected.Add(1)
		return ErrEmptyToken
	}
	if swap.Wallet == "" {
		l.rejected.Add(1)
		return ErrEmptyWallet
	}
	if !swap.TokenAmount.IsPositive() {
		l.rejected.Add(1)
		return ErrBadAmount
	}

	l.mu.Lock()
	rec, ok := l.tokens[swap.TokenMint]
	if !ok {
		rec = l.newRecord(ctx, swap)
		l.tokens[swap.TokenMint] = rec
	}

	prev := rec.Score
	var delta float64
	switch swap.Side {
	case fetcher.SideBuy:
		delta = l.applyBuy(rec, swap)
	case fetcher.SideSell:
		delta = l.applySell(rec, swap)
	default:
		l.mu.Unlock()
		l.rejected.Add(1)
		return errors.New("ledger: unknown swap side")
	}

	rec.LastUpdate = swap.BlockTime
	sol, _ := swap.SolAmount.Float64()
	rec.TotalVolume += sol
	l.pushChange(rec, string(swap.Side), delta, swap.BlockTime)

	crossed := prev < l.Threshold(rec.Category) && rec.Score >= l.Threshold(rec.Category)
	signal := bus.TradingSignal{}
	if crossed {
		signal = bus.TradingSignal{
			BaseEvent:    bus.NewBaseEvent("ledger"),
			TokenAddress: rec.Address,
			Symbol:       rec.Symbol,
			Category:     string(rec.Category),
			Decimals:     rec.Decimals,
			Score:        rec.Score,
			Confidence:   rec.Confidence,
		}
	}
	snapshot := l.snapshotLocked()
	l.mu.Unlock()

	l.processed.Add(1)

	if crossed {
		l.emitted.Add(1)
		log.Info().
			Str("token", signal.Symbol).
			Str("category", signal.Category).
			Float64("score", signal.Score).
			Msg("ledger: signal threshold crossed")
		if l.signals != nil {
			l.signals.Publish(signal)
		}
	}
	if l.metrics != nil {
		l.metrics.Publish(snapshot)
	}
	return nil
}

func (l *Ledger) newRecord(ctx context.Context, swap fetcher.Swap) *TokenRecord {
	category, confidence, err := l.categorizer.Categorize(ctx, swap.TokenMint, swap.TokenSymbol)
	if err != nil || !category.Valid() {
		// Fail closed: an unclassifiable token gets the strictest
		// threshold, never a guessed category.
		if err != nil {
			log.Warn().Err(err).Str("token", swap.TokenSymbol).Msg("ledger: categorization failed")
		}
		category, confidence = CategoryUnknown, 0
	}
	return &TokenRecord{
		Address:       swap.TokenMint,
		Symbol:        swap.TokenSymbol,
		Decimals:      swap.TokenDecimals,
		Category:      category,
		Confidence:    confidence,
		Contributions: make(map[string]float64),
		UniqueBuyers:  make(map[string]struct{}),
		FirstSeen:     swap.BlockTime,
		LastUpdate:    swap.BlockTime,
	}
}

// applyBuy returns the score delta. A wallet contributes at most once per
// token; repeat buys still count toward volume and buy statistics.
func (l *Ledger) applyBuy(rec *TokenRecord, swap fetcher.Swap) float64 {
	rec.BuyCount++
	rec.UniqueBuyers[swap.Wallet] = struct{}{}
	if _, seen := rec.Contributions[swap.Wallet]; seen {
		return 0
	}
	contribution := l.registry.Score(swap.Wallet)
	rec.Contributions[swap.Wallet] = contribution
	rec.Score += contribution
	return contribution
}

// applySell returns the (negative) score delta. Only wallets with a stored
// contribution move the score, and they remove exactly what they added.
func (l *Ledger) applySell(rec *TokenRecord, swap fetcher.Swap) float64 {
	rec.SellCount++
	contribution, ok := rec.Contributions[swap.Wallet]
	if !ok {
		return 0
	}
	delete(rec.Contributions, swap.Wallet)
	rec.Score -= contribution
	if rec.Score < 0 {
		rec.Score = 0
	}
	return -contribution
}

func (l *Ledger) pushChange(rec *TokenRecord, kind string, amount float64, at time.Time) {
	rec.RecentChanges = append([]bus.ScoreChange{{Type: kind, Amount: amount, Time: at}}, rec.RecentChanges...)
	if len(rec.RecentChanges) > recentChangesCap {
		rec.RecentChanges = rec.RecentChanges[:recentChangesCap]
	}
}

// snapshotLocked builds a metrics event from every token with score > 0.
// Caller holds l.mu.
func (l *Ledger) snapshotLocked() bus.TokenMetricsSnapshot {
	out := bus.TokenMetricsSnapshot{
		BaseEvent: bus.NewBaseEvent("ledger"),
		Tokens:    make(map[string]bus.TokenMetricsEntry),
	}
	for addr, rec := range l.tokens {
		if rec.Score <= 0 {
			continue
		}
		out.Tokens[addr] = bus.TokenMetricsEntry{
			Symbol:        rec.Symbol,
			Category:      string(rec.Category),
			Score:         rec.Score,
			Confidence:    rec.Confidence,
			BuyCount:      rec.BuyCount,
			SellCount:     rec.SellCount,
			TotalVolume:   rec.TotalVolume,
			UniqueBuyers:  len(rec.UniqueBuyers),
			LastUpdate:    rec.LastUpdate,
			RecentChanges: append([]bus.ScoreChange(nil), rec.RecentChanges...),
		}
	}
	return out
}

// Token returns a copy of a token's record.
func (l *Ledger) Token(address string) (TokenRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.tokens[address]
	if !ok {
		return TokenRecord{}, false
	}
	return copyRecord(rec), true
}

// Cleanup drops stale zero-score tokens. A record with positive score is
// never removed: its contributions map is what makes a later sell subtract
// the stored amount, so dropping it would double-count a re-buy. Returns
// the number removed.
func (l *Ledger) Cleanup(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	horizon := now.Add(-l.cfg.TokenMaxAge)
	removed := 0
	for addr, rec := range l.tokens {
		if rec.Score <= 0 && rec.LastUpdate.Before(horizon) {
			delete(l.tokens, addr)
			removed++
		}
	}
	if removed > 0 {
		log.Debug().Int("removed", removed).Int("remaining", len(l.tokens)).Msg("ledger: cleanup")
	}
	return removed
}

// Stats returns a snapshot of counters.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	tracked := len(l.tokens)
	l.mu.Unlock()
	return Stats{
		TokensTracked: tracked,
		Processed:     l.processed.Load(),
		Rejected:      l.rejected.Load(),
		Signals:       l.emitted.Load(),
	}
}

func copyRecord(rec *TokenRecord) TokenRecord {
	out := *rec
	out.Contributions = make(map[string]float64, len(rec.Contributions))
	for k, v := range rec.Contributions {
		out.Contributions[k] = v
	}
	out.UniqueBuyers = make(map[string]struct{}, len(rec.UniqueBuyers))
	for k := range rec.UniqueBuyers {
		out.UniqueBuyers[k] = struct{}{}
	}
	out.RecentChanges = append([]bus.ScoreChange(nil), rec.RecentChanges...)
	return out
}
