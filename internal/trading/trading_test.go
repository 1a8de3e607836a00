package trading

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crowsnest-trading/crowsnest/internal/bus"
	"github.com/crowsnest-trading/crowsnest/internal/execution"
	"github.com/crowsnest-trading/crowsnest/internal/ledger"
	"github.com/crowsnest-trading/crowsnest/internal/positions"
	"github.com/crowsnest-trading/crowsnest/internal/pricing"
	"github.com/crowsnest-trading/crowsnest/internal/quote"
	"github.com/crowsnest-trading/crowsnest/internal/signalgate"
	"github.com/crowsnest-trading/crowsnest/internal/solana"
	"github.com/crowsnest-trading/crowsnest/internal/store"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeSigner struct{}

func (fakeSigner) PublicKey() solana.Pubkey { return "TestWallet1111111111111111111111" }

func (fakeSigner) SignTransaction(tx string) (string, error) { return "signed:" + tx, nil }

type harness struct {
	sys    *System
	quotes *quote.Stub
	rpc    *solana.StubClient
	book   *positions.Book
	db     *store.Memory
	events *bus.Bus
}

func testLadder() []positions.LadderSpec {
	return []positions.LadderSpec{
		{Increase: 0.6, SellPortion: 0.25},
		{Increase: 1.2, SellPortion: 0.25},
		{Increase: 1.8, SellPortion: 0.25},
		{Increase: 2.4, SellPortion: 0.25},
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	quotes := quote.NewStub()
	rpc := solana.NewStubClient()
	engine := execution.New(execution.Config{
		MaxAttempts:       2,
		RetryDelay:        time.Millisecond,
		TakeProfitRetries: 2,
		TakeProfitDelay:   time.Millisecond,
		ConfirmAttempts:   3,
		ConfirmPollDelay:  time.Millisecond,
	}, quotes, rpc, fakeSigner{})
	prices := pricing.New(pricing.Config{CacheTTL: time.Nanosecond, SlippageBps: 100}, quotes)
	book := positions.NewBook(positions.DefaultCaps(), testLadder())
	events := bus.New()
	db := store.NewMemory()

	sys := New(Config{
		RepriceInterval: time.Hour,
		SlippageBps:     100,
		PriorityFee:     1_000_000,
	}, signalgate.New(signalgate.DefaultConfig()), book, engine, prices, db, events)

	return &harness{sys: sys, quotes: quotes, rpc: rpc, book: book, db: db, events: events}
}

func aiSignal(mint, symbol string) bus.TradingSignal {
	return bus.TradingSignal{
		BaseEvent:    bus.NewBaseEvent("test"),
		TokenAddress: mint,
		Symbol:       symbol,
		Category:     string(ledger.CategoryAI),
		Decimals:     6,
		Score:        210,
	}
}

func TestHandleSignalOpensPosition(t *testing.T) {
	h := newHarness(t)
	mint := solana.Pubkey("RoboMint111111111111111111111111")
	// 0.05 SOL in (50M lamports) at rate 2 buys 100M raw units = 100 tokens.
	h.quotes.SetRate(solana.SOLMint, mint, d("2"))

	err := h.sys.HandleSignal(context.Background(), aiSignal(string(mint), "ROBO"))
	require.NoError(t, err)

	p, ok := h.book.Get(string(mint))
	require.True(t, ok)
	assert.Equal(t, positions.StatusOpen, p.Status)
	assert.Equal(t, 6, p.Decimals)
	assert.True(t, p.Tokens.Equal(d("100")), "tokens = %s", p.Tokens)
	assert.True(t, p.EntryPrice.Equal(d("0.0005")), "entry = %s", p.EntryPrice)
	assert.True(t, p.SpentSOL.Equal(d("0.05")))

	assert.Equal(t, 1, h.db.SaveCalls)
	assert.Len(t, h.rpc.Submitted, 1)
	assert.Equal(t, int64(1), h.sys.Stats().EntriesOpened)
}

func TestHandleSignalPublishesUpdate(t *testing.T) {
	h := newHarness(t)
	updates, cancel := h.events.PositionUpdates.Subscribe("test", 4)
	defer cancel()

	mint := solana.Pubkey("RoboMint111111111111111111111111")
	h.quotes.SetRate(solana.SOLMint, mint, d("2"))
	require.NoError(t, h.sys.HandleSignal(context.Background(), aiSignal(string(mint), "ROBO")))

	select {
	case ev := <-updates:
		assert.Equal(t, string(mint), ev.TokenAddress)
		assert.Equal(t, "open", ev.Status)
		assert.Equal(t, "0.0005", ev.EntryPrice)
	default:
		t.Fatal("no position update published")
	}
}

func TestHandleSignalSkipsUntradeableCategory(t *testing.T) {
	h := newHarness(t)
	sig := aiSignal("UnknownMint111111111111111111111", "MYST")
	sig.Category = string(ledger.CategoryUnknown)

	require.NoError(t, h.sys.HandleSignal(context.Background(), sig))
	assert.Equal(t, 0, h.quotes.QuoteCalls)
	assert.Equal(t, int64(1), h.sys.Stats().SignalsSkipped)
}

func TestHandleSignalSkipsExistingPosition(t *testing.T) {
	h := newHarness(t)
	mint := solana.Pubkey("RoboMint111111111111111111111111")
	h.quotes.SetRate(solana.SOLMint, mint, d("2"))

	sig := aiSignal(string(mint), "ROBO")
	require.NoError(t, h.sys.HandleSignal(context.Background(), sig))
	calls := h.quotes.QuoteCalls

	require.NoError(t, h.sys.HandleSignal(context.Background(), sig))
	assert.Equal(t, calls, h.quotes.QuoteCalls, "second signal must not quote")
	assert.Equal(t, int64(1), h.sys.Stats().EntriesOpened)
	assert.Equal(t, int64(1), h.sys.Stats().SignalsSkipped)
}

func TestHandleSignalSkipsAtCategoryCap(t *testing.T) {
	h := newHarness(t)
	mints := []solana.Pubkey{
		"MemeMintA11111111111111111111111",
		"MemeMintB11111111111111111111111",
		"MemeMintC11111111111111111111111",
	}
	for _, m := range mints {
		h.quotes.SetRate(solana.SOLMint, m, d("2"))
	}

	for i, m := range mints {
		sig := aiSignal(string(m), "MEME")
		sig.Category = string(ledger.CategoryMeme)
		sig.Score = 450
		require.NoError(t, h.sys.HandleSignal(context.Background(), sig), "signal %d", i)
	}

	// Meme cap is 2: the third signal is skipped, not an error.
	assert.Equal(t, int64(2), h.sys.Stats().EntriesOpened)
	assert.Equal(t, int64(1), h.sys.Stats().SignalsSkipped)
	_, ok := h.book.Get(string(mints[2]))
	assert.False(t, ok)
}

func TestHandleSignalEntryFailure(t *testing.T) {
	h := newHarness(t)
	h.quotes.FailQuotes(10, errors.New("aggregator down"))

	err := h.sys.HandleSignal(context.Background(), aiSignal("RoboMint111111111111111111111111", "ROBO"))
	require.Error(t, err)
	assert.Equal(t, int64(1), h.sys.Stats().EntriesFailed)
	assert.Empty(t, h.rpc.Submitted)
	assert.Empty(t, h.book.OpenPositions())
}

func TestRepricePassTakesOneLevel(t *testing.T) {
	h := newHarness(t)
	mint := solana.Pubkey("RoboMint111111111111111111111111")
	h.quotes.SetRate(solana.SOLMint, mint, d("2"))
	require.NoError(t, h.sys.HandleSignal(context.Background(), aiSignal(string(mint), "ROBO")))

	// Entry 0.0005 SOL/token, level 0 target 0.0008. A sell rate of 0.8
	// lamports per raw unit marks the token at exactly 0.0008.
	h.quotes.SetRate(mint, solana.SOLMint, d("0.8"))
	h.sys.RepricePass(context.Background())

	p, ok := h.book.Get(string(mint))
	require.True(t, ok)
	assert.Equal(t, []int{0}, p.LevelsHit())
	assert.True(t, p.Tokens.Equal(d("75")), "tokens = %s", p.Tokens)
	assert.True(t, p.CurrentPrice.Equal(d("0.0008")), "price = %s", p.CurrentPrice)
	// Sold 25 tokens for 0.02 SOL against a 0.0125 SOL cost basis.
	assert.True(t, p.RealizedPnL.Equal(d("0.0075")), "realized = %s", p.RealizedPnL)
	assert.Equal(t, int64(1), h.sys.Stats().TakeProfits)
}

func TestRepricePassGapTakesLevelsOnePassAtATime(t *testing.T) {
	h := newHarness(t)
	mint := solana.Pubkey("RoboMint111111111111111111111111")
	h.quotes.SetRate(solana.SOLMint, mint, d("2"))
	require.NoError(t, h.sys.HandleSignal(context.Background(), aiSignal(string(mint), "ROBO")))

	// Price gaps over every rung at once.
	h.quotes.SetRate(mint, solana.SOLMint, d("5"))

	h.sys.RepricePass(context.Background())
	p, _ := h.book.Get(string(mint))
	assert.Equal(t, []int{0}, p.LevelsHit())

	h.sys.RepricePass(context.Background())
	p, _ = h.book.Get(string(mint))
	assert.Equal(t, []int{0, 1}, p.LevelsHit())
}

func TestRepricePassBelowTargetDoesNothing(t *testing.T) {
	h := newHarness(t)
	mint := solana.Pubkey("RoboMint111111111111111111111111")
	h.quotes.SetRate(solana.SOLMint, mint, d("2"))
	require.NoError(t, h.sys.HandleSignal(context.Background(), aiSignal(string(mint), "ROBO")))

	// 0.0006 SOL/token is above entry but below the first rung.
	h.quotes.SetRate(mint, solana.SOLMint, d("0.6"))
	h.sys.RepricePass(context.Background())

	p, _ := h.book.Get(string(mint))
	assert.Empty(t, p.LevelsHit())
	assert.True(t, p.Tokens.Equal(d("100")))
	assert.True(t, p.CurrentPrice.Equal(d("0.0006")))
	assert.Equal(t, int64(0), h.sys.Stats().TakeProfits)
}

func TestRepricePassClosesDust(t *testing.T) {
	h := newHarness(t)
	mint := solana.Pubkey("DustMint111111111111111111111111")
	// 0.025 SOL (Meme size) at rate 0.048 buys 1.2 tokens.
	h.quotes.SetRate(solana.SOLMint, mint, d("0.048"))
	sig := aiSignal(string(mint), "DUST")
	sig.Category = string(ledger.CategoryMeme)
	sig.Score = 450
	require.NoError(t, h.sys.HandleSignal(context.Background(), sig))

	p, _ := h.book.Get(string(mint))
	require.True(t, p.Tokens.Equal(d("1.2")), "tokens = %s", p.Tokens)

	// Level 0 sells 25%, leaving 0.9 tokens: below the dust threshold, so
	// the position is closed in the same pass.
	h.quotes.SetRate(mint, solana.SOLMint, d("40"))
	h.sys.RepricePass(context.Background())

	p, ok := h.book.Get(string(mint))
	require.True(t, ok)
	assert.Equal(t, positions.StatusClosed, p.Status)
	assert.Empty(t, h.book.OpenPositions())
	assert.Equal(t, int64(1), h.sys.Stats().Closed)

	saved, err := h.db.LoadOpenPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, saved, "closed position must not be restorable")
}

func TestRepricePassIsolatesFailures(t *testing.T) {
	h := newHarness(t)
	good := solana.Pubkey("GoodMint111111111111111111111111")
	bad := solana.Pubkey("BadMint1111111111111111111111111")
	h.quotes.SetRate(solana.SOLMint, good, d("2"))
	h.quotes.SetRate(solana.SOLMint, bad, d("2"))
	require.NoError(t, h.sys.HandleSignal(context.Background(), aiSignal(string(good), "GOOD")))
	require.NoError(t, h.sys.HandleSignal(context.Background(), aiSignal(string(bad), "BAD")))

	// Only the good mint has a sell route; the bad one fails to price.
	h.quotes.SetRate(good, solana.SOLMint, d("0.6"))
	h.sys.RepricePass(context.Background())

	p, _ := h.book.Get(string(good))
	assert.True(t, p.CurrentPrice.Equal(d("0.0006")), "good position must still reprice")
}

func TestRestore(t *testing.T) {
	h := newHarness(t)
	saved := positions.Position{
		ID:            "restored-1",
		TokenAddress:  "RoboMint111111111111111111111111",
		Symbol:        "ROBO",
		Category:      ledger.CategoryAI,
		Decimals:      6,
		EntryPrice:    d("0.0005"),
		CurrentPrice:  d("0.0005"),
		Tokens:        d("100"),
		InitialTokens: d("100"),
		SpentSOL:      d("0.05"),
		Status:        positions.StatusOpen,
		Levels: []positions.Level{
			{Target: d("0.0008"), SellPortion: d("0.25")},
		},
	}
	require.NoError(t, h.db.SavePosition(context.Background(), saved))

	n, err := h.sys.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	p, ok := h.book.Get(saved.TokenAddress)
	require.True(t, ok)
	assert.Equal(t, "restored-1", p.ID)
	assert.True(t, p.Tokens.Equal(d("100")))
}

func TestRunConsumesSignals(t *testing.T) {
	h := newHarness(t)
	mint := solana.Pubkey("RoboMint111111111111111111111111")
	h.quotes.SetRate(solana.SOLMint, mint, d("2"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.sys.Run(ctx)
		close(done)
	}()

	// Give Run a moment to subscribe before publishing.
	require.Eventually(t, func() bool {
		return h.events.TradingSignals.SubscriberCount() == 1
	}, time.Second, time.Millisecond)

	h.events.TradingSignals.Publish(aiSignal(string(mint), "ROBO"))
	require.Eventually(t, func() bool {
		_, ok := h.book.Get(string(mint))
		return ok
	}, time.Second, time.Millisecond)

	cancel()
	<-done
}
