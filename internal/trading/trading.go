// Package trading owns the position lifecycle: it turns trading signals
// into entries, marks open positions to market, walks take-profit ladders,
// and closes out dust.
package trading

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/crowsnest-trading/crowsnest/internal/bus"
	"github.com/crowsnest-trading/crowsnest/internal/execution"
	"github.com/crowsnest-trading/crowsnest/internal/positions"
	"github.com/crowsnest-trading/crowsnest/internal/pricing"
	"github.com/crowsnest-trading/crowsnest/internal/signalgate"
	"github.com/crowsnest-trading/crowsnest/internal/solana"
	"github.com/crowsnest-trading/crowsnest/internal/store"
)

// Config tunes the trading loop.
type Config struct {
	// RepriceInterval is how often open positions are marked to market and
	// checked against their ladders.
	RepriceInterval time.Duration
	SlippageBps     int
	PriorityFee     uint64
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{
		RepriceInterval: time.Minute,
		SlippageBps:     100,
		PriorityFee:     1_000_000,
	}
}

// System drives positions from signal to exit.
type System struct {
	cfg    Config
	gate   *signalgate.Gate
	book   *positions.Book
	engine *execution.Engine
	prices *pricing.Service
	db     store.Store

	signals *bus.Topic[bus.TradingSignal]
	updates *bus.Topic[bus.PositionUpdate]

	signalsSeen    atomic.Int64
	signalsSkipped atomic.Int64
	entriesOpened  atomic.Int64
	entriesFailed  atomic.Int64
	takeProfits    atomic.Int64
	closed         atomic.Int64
}

// Stats is a snapshot of the system's counters.
type Stats struct {
	SignalsSeen    int64
	SignalsSkipped int64
	EntriesOpened  int64
	EntriesFailed  int64
	TakeProfits    int64
	Closed         int64
}

// New creates a trading System.
func New(cfg Config, gate *signalgate.Gate, book *positions.Book, engine *execution.Engine, prices *pricing.Service, db store.Store, b *bus.Bus) *System {
	if cfg.RepriceInterval <= 0 {
		cfg.RepriceInterval = DefaultConfig().RepriceInterval
	}
	if cfg.SlippageBps <= 0 {
		cfg.SlippageBps = DefaultConfig().SlippageBps
	}
	return &System{
		cfg:     cfg,
		gate:    gate,
		book:    book,
		engine:  engine,
		prices:  prices,
		db:      db,
		signals: b.TradingSignals,
		updates: b.PositionUpdates,
	}
}

// Restore loads open positions from the store back into the book. Called
// once at startup, before Run.
func (s *System) Restore(ctx context.Context) (int, error) {
	saved, err := s.db.LoadOpenPositions(ctx)
	if err != nil {
		return 0, fmt.Errorf("trading: restore: %w", err)
	}
	restored := 0
	for _, p := range saved {
		if err := s.book.Restore(p); err != nil {
			log.Warn().Err(err).Str("token", p.Symbol).Msg("trading: could not restore position")
			continue
		}
		restored++
	}
	if restored > 0 {
		log.Info().Int("positions", restored).Msg("trading: restored open positions")
	}
	return restored, nil
}

// Run consumes trading signals and reprices open positions until the
// context is cancelled.
func (s *System) Run(ctx context.Context) {
	signals, cancel := s.signals.Subscribe("trading", 128)
	defer cancel()

	ticker := time.NewTicker(s.cfg.RepriceInterval)
	defer ticker.Stop()

	log.Info().Dur("reprice_interval", s.cfg.RepriceInterval).Msg("trading: started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("trading: stopped")
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			if err := s.HandleSignal(ctx, sig); err != nil {
				log.Error().Err(err).Str("token", sig.Symbol).Msg("trading: entry failed")
			}
		case <-ticker.C:
			s.RepricePass(ctx)
		}
	}
}

// HandleSignal sizes and executes an entry for one trading signal. Signals
// for untradeable categories, tokens that already have an open position, or
// categories at their cap are skipped, not errors.
func (s *System) HandleSignal(ctx context.Context, sig bus.TradingSignal) error {
	s.signalsSeen.Add(1)

	params := s.gate.Evaluate(sig)
	if params == nil {
		s.signalsSkipped.Add(1)
		log.Debug().Str("token", sig.Symbol).Str("category", sig.Category).Msg("trading: signal not tradeable")
		return nil
	}
	if p, ok := s.book.Get(params.TokenAddress); ok && p.Status == positions.StatusOpen {
		s.signalsSkipped.Add(1)
		log.Debug().Str("token", params.Symbol).Msg("trading: position already open")
		return nil
	}
	if err := s.book.CanOpen(params.Category); err != nil {
		s.signalsSkipped.Add(1)
		log.Warn().Err(err).Str("token", params.Symbol).Msg("trading: signal skipped")
		return nil
	}

	lamports := params.SpendSOL.Mul(solana.LamportsPerSOL).Round(0)
	result, err := s.engine.ExecuteSwap(ctx, execution.Order{
		InputMint:   solana.SOLMint,
		OutputMint:  solana.Pubkey(params.TokenAddress),
		AmountRaw:   lamports,
		SlippageBps: params.SlippageBps,
		PriorityFee: params.PriorityFee,
	})
	if err != nil {
		s.entriesFailed.Add(1)
		return fmt.Errorf("trading: buy %s: %w", params.Symbol, err)
	}

	scale := decimal.New(1, int32(params.TokenDecimals))
	tokensBought := result.Quote.OutAmountRaw.Div(scale)
	if !tokensBought.IsPositive() {
		s.entriesFailed.Add(1)
		return fmt.Errorf("trading: buy %s filled zero tokens", params.Symbol)
	}
	solSpent := result.Quote.InAmountRaw.Div(solana.LamportsPerSOL)
	entryPrice := solSpent.Div(tokensBought)

	pos, err := s.book.Open(params.TokenAddress, params.Symbol, params.Category, params.TokenDecimals, entryPrice, tokensBought, solSpent)
	if err != nil {
		// The swap landed but the book refused the position; record it so
		// the tokens are not orphaned silently.
		log.Error().Err(err).
			Str("token", params.Symbol).
			Str("signature", string(result.Signature)).
			Msg("trading: confirmed buy could not be booked")
		return fmt.Errorf("trading: book %s: %w", params.Symbol, err)
	}

	s.entriesOpened.Add(1)
	s.persist(ctx, pos)
	return nil
}

// RepricePass marks every open position to market and acts on ladders and
// dust. A failure on one position never blocks the rest.
func (s *System) RepricePass(ctx context.Context) {
	for _, p := range s.book.OpenPositions() {
		s.checkOne(ctx, p)
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *System) checkOne(ctx context.Context, p positions.Position) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Str("token", p.Symbol).Msg("trading: reprice check panicked")
		}
	}()
	if err := s.checkPosition(ctx, p); err != nil {
		log.Warn().Err(err).Str("token", p.Symbol).Msg("trading: reprice check failed")
	}
}

func (s *System) checkPosition(ctx context.Context, p positions.Position) error {
	mint := solana.Pubkey(p.TokenAddress)
	price, err := s.prices.Price(ctx, mint, p.Decimals, p.Tokens)
	if err != nil {
		return err
	}
	if err := s.book.Reprice(p.TokenAddress, price); err != nil {
		return err
	}

	if tp, due := s.book.NextTakeProfit(p.TokenAddress); due {
		if err := s.takeProfit(ctx, p, tp); err != nil {
			return err
		}
	}

	if s.book.IsDust(p.TokenAddress) {
		closed, err := s.book.Close(p.TokenAddress)
		if err != nil {
			return err
		}
		s.closed.Add(1)
		s.prices.Invalidate(mint)
		s.persist(ctx, closed)
	}
	return nil
}

// takeProfit sells one ladder rung's worth of tokens and books the fill.
func (s *System) takeProfit(ctx context.Context, p positions.Position, tp positions.TakeProfit) error {
	scale := decimal.New(1, int32(p.Decimals))
	sellRaw := tp.SellTokens.Mul(scale).Round(0)
	if !sellRaw.IsPositive() {
		return fmt.Errorf("trading: level %d of %s sells zero raw units", tp.Level, p.Symbol)
	}

	result, err := s.engine.ExecuteTakeProfit(ctx, execution.Order{
		InputMint:   solana.Pubkey(p.TokenAddress),
		OutputMint:  solana.SOLMint,
		AmountRaw:   sellRaw,
		SlippageBps: s.cfg.SlippageBps,
		PriorityFee: s.cfg.PriorityFee,
	})
	if err != nil {
		return fmt.Errorf("trading: sell %s level %d: %w", p.Symbol, tp.Level, err)
	}

	tokensSold := result.Quote.InAmountRaw.Div(scale)
	proceeds := result.Quote.OutAmountRaw.Div(solana.LamportsPerSOL)
	updated, err := s.book.ApplySell(p.TokenAddress, tp.Level, tokensSold, proceeds)
	if err != nil {
		return fmt.Errorf("trading: apply sell %s: %w", p.Symbol, err)
	}

	s.takeProfits.Add(1)
	s.prices.Invalidate(solana.Pubkey(p.TokenAddress))
	s.persist(ctx, updated)
	return nil
}

// persist saves the position snapshot and publishes an update event. A
// store failure is logged, never fatal: the book stays authoritative.
func (s *System) persist(ctx context.Context, p positions.Position) {
	if err := s.db.SavePosition(ctx, p); err != nil {
		log.Error().Err(err).Str("token", p.Symbol).Msg("trading: persist failed")
	}
	s.updates.Publish(bus.PositionUpdate{
		BaseEvent:     bus.NewBaseEvent("trading"),
		TokenAddress:  p.TokenAddress,
		Symbol:        p.Symbol,
		Category:      string(p.Category),
		EntryPrice:    p.EntryPrice.String(),
		CurrentPrice:  p.CurrentPrice.String(),
		Tokens:        p.Tokens.String(),
		RealizedPnL:   p.RealizedPnL.String(),
		UnrealizedPnL: p.UnrealizedPnL().String(),
		TotalPnL:      p.TotalPnL().String(),
		Status:        string(p.Status),
		LevelsHit:     p.LevelsHit(),
	})
}

// Stats returns counter values.
func (s *System) Stats() Stats {
	return Stats{
		SignalsSeen:    s.signalsSeen.Load(),
		SignalsSkipped: s.signalsSkipped.Load(),
		EntriesOpened:  s.entriesOpened.Load(),
		EntriesFailed:  s.entriesFailed.Load(),
		TakeProfits:    s.takeProfits.Load(),
		Closed:         s.closed.Load(),
	}
}
