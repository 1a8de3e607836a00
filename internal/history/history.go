package history

import (
	"context"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Transaction history collaborator — lists swap-like transactions per wallet.
// ---------------------------------------------------------------------------

// BalanceChange is one asset delta inside a transaction.
type BalanceChange struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
	Amount   float64 `json:"amount"`   // raw units, sign = direction
	Decimals int     `json:"decimals"`
}

// TxRecord is one wallet transaction as reported by the history service.
type TxRecord struct {
	Signature      string          `json:"txHash"`
	BlockTime      time.Time       `json:"blockTime"`
	BalanceChanges []BalanceChange `json:"balanceChange"`
}

// Service lists a wallet's transactions at or after a point in time.
// Implementations: Client (live HTTP), Stub (tests).
type Service interface {
	List(ctx context.Context, wallet string, since time.Time) ([]TxRecord, error)
}

// ---------------------------------------------------------------------------
// Stub — canned transactions and scripted failures for tests.
// ---------------------------------------------------------------------------

// Stub is an in-memory Service for tests.
type Stub struct {
	mu        sync.Mutex
	records   map[string][]TxRecord
	failures  int // fail this many upcoming calls
	callCount int
	err       error
}

// NewStub creates an empty stub history service.
func NewStub() *Stub {
	return &Stub{records: make(map[string][]TxRecord)}
}

// AddTx registers a transaction for a wallet.
func (s *Stub) AddTx(wallet string, tx TxRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[wallet] = append(s.records[wallet], tx)
}

// FailNext makes the next n calls return err.
func (s *Stub) FailNext(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
	s.err = err
}

// Calls returns how many List calls were made.
func (s *Stub) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

// List implements Service.
func (s *Stub) List(_ context.Context, wallet string, since time.Time) ([]TxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++
	if s.failures > 0 {
		s.failures--
		return nil, s.err
	}

	var out []TxRecord
	for _, tx := range s.records[wallet] {
		if !tx.BlockTime.Before(since) {
			out = append(out, tx)
		}
	}
	return out, nil
}
