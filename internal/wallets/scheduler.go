package wallets

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/crowsnest-trading/crowsnest/internal/batch"
)

// ---------------------------------------------------------------------------
// Tier scheduler — one independent polling loop per tier plus a maintenance
// sweep that demotes inactive wallets regardless of fetch traffic.
// ---------------------------------------------------------------------------

// ScanMode selects the fetch cursor behavior for a wallet scan.
type ScanMode int

const (
	// ScanIncremental resumes from the stored per-wallet cursor.
	ScanIncremental ScanMode = iota
	// ScanInitial forces a fixed look-back window.
	ScanInitial
)

// Processor handles one wallet scan. Failures are the processor's to log;
// the scheduler isolates them per wallet.
type Processor func(ctx context.Context, wallet string, mode ScanMode)

// SchedulerConfig configures the tier scheduler.
type SchedulerConfig struct {
	BatchSize           int
	BatchDelay          time.Duration
	TierIntervals       map[Tier]time.Duration
	MaintenanceInterval time.Duration
	ErrorPause          time.Duration
}

// DefaultSchedulerConfig returns the standard polling cadence.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		BatchSize:  10,
		BatchDelay: time.Second,
		TierIntervals: map[Tier]time.Duration{
			TierVeryActive: 15 * time.Minute,
			TierActive:     30 * time.Minute,
			TierWatching:   time.Hour,
			TierAsleep:     4 * time.Hour,
			TierDormant:    24 * time.Hour,
		},
		MaintenanceInterval: time.Hour,
		ErrorPause:          5 * time.Second,
	}
}

// Scheduler drives per-tier polling of the wallet registry.
type Scheduler struct {
	config   SchedulerConfig
	registry *Registry
	process  Processor
	runner   batch.Runner[string]

	mu          sync.Mutex
	lastChecked map[string]time.Time

	// Optional hook run inside each maintenance tick, after the sweep.
	onMaintenance func()
}

// NewScheduler creates a Scheduler over the registry.
func NewScheduler(config SchedulerConfig, registry *Registry, process Processor) *Scheduler {
	return &Scheduler{
		config:   config,
		registry: registry,
		process:  process,
		runner: batch.Runner[string]{
			BatchSize:  config.BatchSize,
			BatchDelay: config.BatchDelay,
		},
		lastChecked: make(map[string]time.Time),
	}
}

// SetOnMaintenance registers a hook invoked on every maintenance tick.
func (s *Scheduler) SetOnMaintenance(fn func()) {
	s.onMaintenance = fn
}

// Run performs the initial scan, then blocks driving one goroutine per tier
// plus the maintenance loop until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.initialScan(ctx)

	var wg sync.WaitGroup
	for _, tier := range AllTiers {
		wg.Add(1)
		go func(tier Tier) {
			defer wg.Done()
			s.tierLoop(ctx, tier)
		}(tier)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.maintenanceLoop(ctx)
	}()

	wg.Wait()
	log.Info().Msg("scheduler: shutdown complete")
}

// initialScan processes every tracked wallet with the forced look-back.
func (s *Scheduler) initialScan(ctx context.Context) {
	addrs := s.registry.Addresses()
	log.Info().Int("wallets", len(addrs)).Msg("scheduler: initial scan starting")

	s.runner.Run(ctx, addrs, func(ctx context.Context, wallet string) {
		s.scanOne(ctx, wallet, ScanInitial)
	})

	log.Info().Msg("scheduler: initial scan complete")
}

func (s *Scheduler) tierLoop(ctx context.Context, tier Tier) {
	interval, ok := s.config.TierIntervals[tier]
	if !ok {
		interval = time.Hour
	}
	log.Info().Str("tier", string(tier)).Dur("interval", interval).Msg("scheduler: tier loop starting")

	for {
		if ctx.Err() != nil {
			return
		}

		due := s.dueWallets(tier, interval)
		if len(due) > 0 {
			s.runner.Run(ctx, due, func(ctx context.Context, wallet string) {
				s.scanOne(ctx, wallet, ScanIncremental)
			})
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return
		}
	}
}

// dueWallets selects the tier's wallets whose reputation-scaled interval
// has elapsed since their last check.
func (s *Scheduler) dueWallets(tier Tier, interval time.Duration) []string {
	now := time.Now()
	members := s.registry.InTier(tier)

	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]string, 0, len(members))
	for _, addr := range members {
		last, seen := s.lastChecked[addr]
		if !seen || now.Sub(last) >= s.registry.ScaledInterval(addr, interval) {
			due = append(due, addr)
		}
	}
	return due
}

func (s *Scheduler) scanOne(ctx context.Context, wallet string, mode ScanMode) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Str("wallet", wallet).Msg("scheduler: wallet scan panicked")
		}
	}()

	s.process(ctx, wallet, mode)
	s.registry.MarkChecked(wallet)

	s.mu.Lock()
	s.lastChecked[wallet] = time.Now()
	s.mu.Unlock()
}

func (s *Scheduler) maintenanceLoop(ctx context.Context) {
	log.Info().Dur("interval", s.config.MaintenanceInterval).Msg("scheduler: maintenance loop starting")
	ticker := time.NewTicker(s.config.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.maintenanceTick()
		}
	}
}

func (s *Scheduler) maintenanceTick() {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("scheduler: maintenance tick panicked")
		}
	}()

	changed := s.registry.SweepTiers(time.Now())
	if changed > 0 {
		log.Info().Int("changed", changed).Msg("scheduler: maintenance sweep demoted/promoted wallets")
	}
	if s.onMaintenance != nil {
		s.onMaintenance()
	}
}
