package fetcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crowsnest-trading/crowsnest/internal/history"
	"github.com/crowsnest-trading/crowsnest/internal/retry"
	"github.com/crowsnest-trading/crowsnest/internal/wallets"
)

type recordingSink struct {
	mu    sync.Mutex
	swaps []Swap
}

func (s *recordingSink) ProcessSwap(_ context.Context, swap Swap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swaps = append(s.swaps, swap)
	return nil
}

func (s *recordingSink) all() []Swap {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Swap(nil), s.swaps...)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MinCallSpacing = 0
	cfg.Retries = retry.Policy{MaxAttempts: 2, Delay: time.Millisecond}
	return cfg
}

func buyTx(sig string, at time.Time) history.TxRecord {
	return history.TxRecord{
		Signature: sig,
		BlockTime: at,
		BalanceChanges: []history.BalanceChange{
			{Address: WSOLMint, Symbol: "SOL", Amount: -5e8, Decimals: 9},
			{Address: "Mint1", Symbol: "PUMP", Amount: 1e9, Decimals: 6},
		},
	}
}

func TestFetcher_ProcessesSwapsAndAdvancesCursor(t *testing.T) {
	stub := history.NewStub()
	registry := wallets.NewRegistry(wallets.DefaultThresholds())
	registry.Add("wallet1", 50)
	sink := &recordingSink{}

	now := time.Now()
	stub.AddTx("wallet1", buyTx("sig1", now.Add(-5*time.Minute)))

	f := New(testConfig(), stub, registry, sink, nil)
	f.Process(context.Background(), "wallet1", wallets.ScanInitial)

	require.Len(t, sink.all(), 1)
	assert.Equal(t, "sig1", sink.all()[0].Signature)

	cursor, ok := f.Cursor("wallet1")
	require.True(t, ok)
	assert.False(t, cursor.Before(now.Add(-5*time.Minute)))

	stats := f.Stats()
	assert.Equal(t, uint64(1), stats.Fetches)
	assert.Equal(t, uint64(1), stats.Swaps)
}

func TestFetcher_BoundaryTransactionNotReprocessed(t *testing.T) {
	stub := history.NewStub()
	registry := wallets.NewRegistry(wallets.DefaultThresholds())
	registry.Add("wallet1", 50)
	sink := &recordingSink{}

	now := time.Now()
	stub.AddTx("wallet1", buyTx("sig1", now.Add(-5*time.Minute)))

	f := New(testConfig(), stub, registry, sink, nil)
	f.Process(context.Background(), "wallet1", wallets.ScanInitial)
	f.Process(context.Background(), "wallet1", wallets.ScanIncremental)

	// Second scan sees the same record but the cursor already covers it.
	assert.Len(t, sink.all(), 1)
}

func TestFetcher_FailureLeavesCursorUntouched(t *testing.T) {
	stub := history.NewStub()
	registry := wallets.NewRegistry(wallets.DefaultThresholds())
	registry.Add("wallet1", 50)
	sink := &recordingSink{}

	f := New(testConfig(), stub, registry, sink, nil)
	stub.FailNext(10, errors.New("rate limited"))
	f.Process(context.Background(), "wallet1", wallets.ScanIncremental)

	_, ok := f.Cursor("wallet1")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), f.Stats().FetchErrors)
}

func TestFetcher_RetriesTransientFailure(t *testing.T) {
	stub := history.NewStub()
	registry := wallets.NewRegistry(wallets.DefaultThresholds())
	registry.Add("wallet1", 50)
	sink := &recordingSink{}

	now := time.Now()
	stub.AddTx("wallet1", buyTx("sig1", now.Add(-time.Minute)))
	stub.FailNext(1, errors.New("flaky"))

	f := New(testConfig(), stub, registry, sink, nil)
	f.Process(context.Background(), "wallet1", wallets.ScanInitial)

	assert.Len(t, sink.all(), 1)
	assert.Equal(t, 2, stub.Calls())
}

func TestFetcher_UpdatesWalletActivity(t *testing.T) {
	stub := history.NewStub()
	registry := wallets.NewRegistry(wallets.DefaultThresholds())
	registry.Add("wallet1", 50)
	sink := &recordingSink{}

	now := time.Now()
	stub.AddTx("wallet1", buyTx("sig1", now.Add(-time.Minute)))

	f := New(testConfig(), stub, registry, sink, nil)
	f.Process(context.Background(), "wallet1", wallets.ScanInitial)

	w, ok := registry.Get("wallet1")
	require.True(t, ok)
	assert.Equal(t, 1, w.TransactionCount)
	assert.Equal(t, wallets.TierVeryActive, w.Tier)
}

func TestFetcher_NonSwapCountedAsSkipped(t *testing.T) {
	stub := history.NewStub()
	registry := wallets.NewRegistry(wallets.DefaultThresholds())
	registry.Add("wallet1", 50)
	sink := &recordingSink{}

	now := time.Now()
	stub.AddTx("wallet1", history.TxRecord{
		Signature: "transfer",
		BlockTime: now.Add(-time.Minute),
		BalanceChanges: []history.BalanceChange{
			{Address: WSOLMint, Symbol: "SOL", Amount: -1e9, Decimals: 9},
		},
	})

	f := New(testConfig(), stub, registry, sink, nil)
	f.Process(context.Background(), "wallet1", wallets.ScanInitial)

	assert.Empty(t, sink.all())
	assert.Equal(t, uint64(1), f.Stats().Skipped)
}
