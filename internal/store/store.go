// Package store persists positions so a restart resumes the book where it
// left off.
package store

import (
	"context"
	"sync"

	"github.com/crowsnest-trading/crowsnest/internal/positions"
)

// Store persists positions keyed by token address.
type Store interface {
	// SavePosition inserts or updates a position snapshot.
	SavePosition(ctx context.Context, p positions.Position) error
	// LoadOpenPositions returns every position saved as open.
	LoadOpenPositions(ctx context.Context) ([]positions.Position, error)
	Close()
}

// Memory is an in-process Store. Default when Postgres is not configured.
type Memory struct {
	mu        sync.Mutex
	byToken   map[string]positions.Position
	SaveCalls int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{byToken: make(map[string]positions.Position)}
}

func (m *Memory) SavePosition(_ context.Context, p positions.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byToken[p.TokenAddress] = p
	m.SaveCalls++
	return nil
}

func (m *Memory) LoadOpenPositions(context.Context) ([]positions.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []positions.Position
	for _, p := range m.byToken {
		if p.Status == positions.StatusOpen {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) Close() {}
