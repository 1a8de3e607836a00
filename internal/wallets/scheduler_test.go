package wallets

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scanRecorder struct {
	mu    sync.Mutex
	scans map[string][]ScanMode
}

func newScanRecorder() *scanRecorder {
	return &scanRecorder{scans: make(map[string][]ScanMode)}
}

func (r *scanRecorder) process(_ context.Context, wallet string, mode ScanMode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scans[wallet] = append(r.scans[wallet], mode)
}

func (r *scanRecorder) modes(wallet string) []ScanMode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ScanMode(nil), r.scans[wallet]...)
}

func (r *scanRecorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.scans {
		n += len(m)
	}
	return n
}

func quickConfig() SchedulerConfig {
	cfg := DefaultSchedulerConfig()
	cfg.BatchSize = 2
	cfg.BatchDelay = time.Millisecond
	cfg.MaintenanceInterval = time.Hour
	for tier := range cfg.TierIntervals {
		cfg.TierIntervals[tier] = time.Hour
	}
	return cfg
}

func TestInitialScanCoversEveryWallet(t *testing.T) {
	registry := NewRegistry(DefaultThresholds())
	registry.Add("walletA", 50)
	registry.Add("walletB", 75)
	registry.Add("walletC", 90)

	rec := newScanRecorder()
	s := NewScheduler(quickConfig(), registry, rec.process)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return rec.total() >= 3 }, time.Second, time.Millisecond)
	cancel()
	<-done

	for _, w := range []string{"walletA", "walletB", "walletC"} {
		modes := rec.modes(w)
		require.NotEmpty(t, modes, "wallet %s never scanned", w)
		assert.Equal(t, ScanInitial, modes[0], "first scan of %s must use the look-back window", w)
	}
}

func TestDueWalletsRespectsLastChecked(t *testing.T) {
	registry := NewRegistry(DefaultThresholds())
	registry.Add("walletA", 50)
	registry.Add("walletB", 50)

	s := NewScheduler(quickConfig(), registry, func(context.Context, string, ScanMode) {})

	due := s.dueWallets(TierWatching, time.Hour)
	assert.ElementsMatch(t, []string{"walletA", "walletB"}, due, "never-checked wallets are always due")

	s.mu.Lock()
	s.lastChecked["walletA"] = time.Now()
	s.lastChecked["walletB"] = time.Now().Add(-2 * time.Hour)
	s.mu.Unlock()

	due = s.dueWallets(TierWatching, time.Hour)
	assert.Equal(t, []string{"walletB"}, due)
}

func TestScanOnePanicIsolated(t *testing.T) {
	registry := NewRegistry(DefaultThresholds())
	registry.Add("walletA", 50)

	s := NewScheduler(quickConfig(), registry, func(context.Context, string, ScanMode) {
		panic("processor bug")
	})

	assert.NotPanics(t, func() {
		s.scanOne(context.Background(), "walletA", ScanIncremental)
	})
}

func TestMaintenanceTickRunsHookAndSweep(t *testing.T) {
	registry := NewRegistry(DefaultThresholds())
	registry.Add("walletA", 50)
	require.NoError(t, registry.UpdateActivity("walletA", time.Now().Add(-10*24*time.Hour)))

	hookCalls := 0
	s := NewScheduler(quickConfig(), registry, func(context.Context, string, ScanMode) {})
	s.SetOnMaintenance(func() { hookCalls++ })

	s.maintenanceTick()

	assert.Equal(t, 1, hookCalls)
	w, ok := registry.Get("walletA")
	require.True(t, ok)
	assert.Equal(t, TierDormant, w.Tier)
}

func TestMaintenanceTickSurvivesHookPanic(t *testing.T) {
	registry := NewRegistry(DefaultThresholds())
	s := NewScheduler(quickConfig(), registry, func(context.Context, string, ScanMode) {})
	s.SetOnMaintenance(func() { panic("hook bug") })

	assert.NotPanics(t, func() { s.maintenanceTick() })
}
