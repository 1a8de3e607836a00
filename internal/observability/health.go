// Package observability exposes system health and runtime counters over
// HTTP.
package observability

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Status grades a component's health.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func severity(s Status) int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 2
	default:
		return -1
	}
}

// Check probes one dependency.
type Check func(ctx context.Context) error

// Component is the latest result for one registered check.
type Component struct {
	Name        string        `json:"name"`
	Status      Status        `json:"status"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Latency     time.Duration `json:"latency_ms"`
}

// Snapshot is the aggregate health of the system: the worst component
// status wins.
type Snapshot struct {
	Status     Status               `json:"status"`
	Components map[string]Component `json:"components"`
	Uptime     time.Duration        `json:"uptime"`
	Timestamp  time.Time            `json:"ts"`
}

// Healthy reports whether the snapshot allows serving traffic. Degraded
// still counts as up: only a hard dependency failure flips readiness.
func (s Snapshot) Healthy() bool {
	return s.Status != StatusUnhealthy
}

// Monitor runs registered checks on an interval and keeps the latest
// results. Status transitions are logged.
type Monitor struct {
	interval time.Duration
	started  time.Time

	mu      sync.RWMutex
	checks  map[string]Check
	results map[string]Component
}

// NewMonitor creates a Monitor that probes every interval.
func NewMonitor(interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		interval: interval,
		started:  time.Now(),
		checks:   make(map[string]Check),
		results:  make(map[string]Component),
	}
}

// Register adds a named check. A nil check is ignored so callers can pass
// probes for optional dependencies unconditionally.
func (m *Monitor) Register(name string, check Check) {
	if check == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Run probes all components periodically until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.probeAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeAll(ctx)
		}
	}
}

// Snapshot returns the latest results without probing.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		Status:     StatusHealthy,
		Components: make(map[string]Component, len(m.results)),
		Uptime:     time.Since(m.started),
		Timestamp:  time.Now().UTC(),
	}
	for name, c := range m.results {
		snap.Components[name] = c
		if severity(c.Status) > severity(snap.Status) {
			snap.Status = c.Status
		}
	}
	return snap
}

func (m *Monitor) probeAll(ctx context.Context) {
	m.mu.RLock()
	checks := make(map[string]Check, len(m.checks))
	for name, fn := range m.checks {
		checks[name] = fn
	}
	m.mu.RUnlock()

	for name, fn := range checks {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		start := time.Now()
		err := fn(probeCtx)
		cancel()

		result := Component{
			Name:        name,
			Status:      StatusHealthy,
			LastChecked: time.Now().UTC(),
			Latency:     time.Since(start),
		}
		if err != nil {
			result.Status = StatusUnhealthy
			result.Message = err.Error()
		}

		m.mu.Lock()
		prev, existed := m.results[name]
		m.results[name] = result
		m.mu.Unlock()

		if !existed || prev.Status != result.Status {
			evt := log.Info()
			if result.Status == StatusUnhealthy {
				evt = log.Warn().Err(err)
			}
			evt.Str("component", name).
				Str("status", string(result.Status)).
				Msg("health: component status changed")
		}
	}
}
