package wallets

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Wallet registry — activity tiers for tracked whale wallets.
// Tier is a pure function of elapsed time since last activity; the registry
// is the single owner of wallet state and is safe for concurrent use.
// ---------------------------------------------------------------------------

// Tier classifies a wallet by recency of activity.
type Tier string

const (
	TierVeryActive Tier = "VERY_ACTIVE"
	TierActive     Tier = "ACTIVE"
	TierWatching   Tier = "WATCHING"
	TierAsleep     Tier = "ASLEEP"
	TierDormant    Tier = "DORMANT"
)

func (t Tier) String() string { return string(t) }

// AllTiers lists every tier from most to least active.
var AllTiers = []Tier{TierVeryActive, TierActive, TierWatching, TierAsleep, TierDormant}

// Thresholds are the elapsed-time cutoffs for each tier, strictly increasing.
type Thresholds struct {
	VeryActiveWithin time.Duration
	ActiveWithin     time.Duration
	WatchingWithin   time.Duration
	AsleepWithin     time.Duration
}

// DefaultThresholds returns the standard cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		VeryActiveWithin: 15 * time.Minute,
		ActiveWithin:     time.Hour,
		WatchingWithin:   4 * time.Hour,
		AsleepWithin:     5 * 24 * time.Hour,
	}
}

// TierFor maps elapsed time since last activity to a tier.
func TierFor(elapsed time.Duration, th Thresholds) Tier {
	switch {
	case elapsed <= th.VeryActiveWithin:
		return TierVeryActive
	case elapsed <= th.ActiveWithin:
		return TierActive
	case elapsed <= th.WatchingWithin:
		return TierWatching
	case elapsed <= th.AsleepWithin:
		return TierAsleep
	default:
		return TierDormant
	}
}

// Wallet is a tracked whale wallet.
type Wallet struct {
	Address          string    `json:"address"`
	Score            float64   `json:"score"` // reputation, clamped >= 0
	Tier             Tier      `json:"tier"`
	LastActive       time.Time `json:"last_active"`
	TransactionCount int       `json:"transaction_count"`
}

// Registry owns all tracked wallets. All mutation goes through
// UpdateActivity and SweepTiers.
type Registry struct {
	thresholds Thresholds

	mu      sync.RWMutex
	wallets map[string]*Wallet
	checked int
}

// NewRegistry creates an empty registry.
func NewRegistry(th Thresholds) *Registry {
	return &Registry{
		thresholds: th,
		wallets:    make(map[string]*Wallet),
	}
}

// Add registers a wallet with its reputation score. New wallets start in
// WATCHING until activity is observed.
func (r *Registry) Add(address string, score float64) {
	if address == "" {
		return
	}
	if score < 0 {
		score = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.wallets[address]; exists {
		r.wallets[address].Score = score
		return
	}
	r.wallets[address] = &Wallet{
		Address:    address,
		Score:      score,
		Tier:       TierWatching,
		LastActive: time.Now().UTC(),
	}
}

// Score returns the wallet's reputation score, clamped non-negative.
// Unknown wallets score zero.
func (r *Registry) Score(address string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.wallets[address]
	if !ok || w.Score < 0 {
		return 0
	}
	return w.Score
}

// UpdateActivity is the single entry point that records wallet activity:
// it bumps the transaction count, sets last-active, and recomputes the tier.
// A zero timestamp is an error; an empty address is a no-op.
func (r *Registry) UpdateActivity(address string, at time.Time) error {
	if address == "" {
		return nil
	}
	if at.IsZero() {
		return fmt.Errorf("wallets: zero activity timestamp for %s", shorten(address))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.wallets[address]
	if !ok {
		w = &Wallet{Address: address, Tier: TierWatching}
		r.wallets[address] = w
	}

	w.TransactionCount++
	w.LastActive = at

	newTier := TierFor(time.Since(at), r.thresholds)
	if newTier != w.Tier {
		log.Info().
			Str("wallet", shorten(address)).
			Str("from", string(w.Tier)).
			Str("to", string(newTier)).
			Msg("wallets: tier changed")
		w.Tier = newTier
	}
	return nil
}

// SweepTiers recomputes every wallet's tier purely from elapsed time since
// last activity. This guarantees demotion even for wallets that stopped
// producing transactions.
func (r *Registry) SweepTiers(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := 0
	for _, w := range r.wallets {
		newTier := TierFor(now.Sub(w.LastActive), r.thresholds)
		if newTier != w.Tier {
			log.Info().
				Str("wallet", shorten(w.Address)).
				Str("from", string(w.Tier)).
				Str("to", string(newTier)).
				Msg("wallets: tier swept")
			w.Tier = newTier
			changed++
		}
	}
	return changed
}

// InTier returns the addresses of every wallet currently in the tier.
func (r *Registry) InTier(tier Tier) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for _, w := range r.wallets {
		if w.Tier == tier {
			out = append(out, w.Address)
		}
	}
	return out
}

// Addresses returns every tracked wallet address.
func (r *Registry) Addresses() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.wallets))
	for addr := range r.wallets {
		out = append(out, addr)
	}
	return out
}

// Get returns a copy of the wallet, if tracked.
func (r *Registry) Get(address string) (Wallet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.wallets[address]
	if !ok {
		return Wallet{}, false
	}
	return *w, true
}

// MarkChecked records that a wallet completed a scan cycle.
func (r *Registry) MarkChecked(address string) {
	r.mu.Lock()
	r.checked++
	r.mu.Unlock()
}

// TierCounts returns the number of wallets per tier.
func (r *Registry) TierCounts() map[Tier]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[Tier]int, len(AllTiers))
	for _, t := range AllTiers {
		counts[t] = 0
	}
	for _, w := range r.wallets {
		counts[w.Tier]++
	}
	return counts
}

// Stats summarizes registry state.
type Stats struct {
	Tracked int          `json:"tracked"`
	Checked int          `json:"checked"`
	Tiers   map[Tier]int `json:"tiers"`
}

// Stats returns a snapshot of registry counters.
func (r *Registry) Stats() Stats {
	counts := r.TierCounts()
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{Tracked: len(r.wallets), Checked: r.checked, Tiers: counts}
}

// ScaledInterval adjusts a base polling interval by the wallet's reputation:
// high-reputation wallets poll 25% faster, low-reputation 25% slower.
// A QoS tweak only, never a correctness requirement.
func (r *Registry) ScaledInterval(address string, base time.Duration) time.Duration {
	score := r.Score(address)
	switch {
	case score >= 75:
		return base * 3 / 4
	case score < 50:
		return base * 5 / 4
	default:
		return base
	}
}

func shorten(addr string) string {
	if len(addr) > 8 {
		return addr[:8]
	}
	return addr
}
