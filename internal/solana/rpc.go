package solana

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Client is the RPC surface the execution engine needs: submit a signed
// transaction, poll its status, and check endpoint health.
type Client interface {
	SendTransaction(ctx context.Context, txBase64 string) (Signature, error)
	SignatureStatus(ctx context.Context, sig Signature) (TxStatus, error)
	WalletBalance(ctx context.Context, wallet Pubkey) (*WalletBalance, error)
	Health(ctx context.Context) error
}

// ---------------------------------------------------------------------------
// Stub client for tests and dry runs.
// ---------------------------------------------------------------------------

// StubClient is an in-memory Client. Every submission succeeds and confirms
// unless scripted otherwise.
type StubClient struct {
	mu         sync.Mutex
	nextSig    int
	statuses   map[Signature]TxStatus
	sendErr    error
	sendErrN   int // fail this many upcoming sends
	Submitted  []string
	BalanceSOL string
}

// NewStubClient creates a stub that confirms everything.
func NewStubClient() *StubClient {
	return &StubClient{statuses: make(map[Signature]TxStatus)}
}

// FailSends makes the next n SendTransaction calls return err.
func (s *StubClient) FailSends(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErrN = n
	s.sendErr = err
}

// SetStatus overrides the reported status for a signature.
func (s *StubClient) SetStatus(sig Signature, status TxStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[sig] = status
}

func (s *StubClient) SendTransaction(_ context.Context, txBase64 string) (Signature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErrN > 0 {
		s.sendErrN--
		return "", s.sendErr
	}
	s.nextSig++
	sig := Signature(fmt.Sprintf("stub-sig-%d", s.nextSig))
	s.Submitted = append(s.Submitted, txBase64)
	if _, ok := s.statuses[sig]; !ok {
		s.statuses[sig] = StatusConfirmed
	}
	return sig, nil
}

func (s *StubClient) SignatureStatus(_ context.Context, sig Signature) (TxStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status, ok := s.statuses[sig]; ok {
		return status, nil
	}
	return StatusPending, nil
}

func (s *StubClient) WalletBalance(context.Context, Pubkey) (*WalletBalance, error) {
	bal := &WalletBalance{Tokens: make(map[Pubkey]decimal.Decimal)}
	if s.BalanceSOL != "" {
		v, err := decimal.NewFromString(s.BalanceSOL)
		if err != nil {
			return nil, err
		}
		bal.SOL = v
	}
	return bal, nil
}

func (s *StubClient) Health(context.Context) error { return nil }
