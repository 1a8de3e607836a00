package history

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStub_FiltersBySince(t *testing.T) {
	stub := NewStub()
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	stub.AddTx("wallet1", TxRecord{Signature: "old", BlockTime: base.Add(-time.Hour)})
	stub.AddTx("wallet1", TxRecord{Signature: "new", BlockTime: base.Add(time.Minute)})
	stub.AddTx("wallet1", TxRecord{Signature: "exact", BlockTime: base})

	got, err := stub.List(context.Background(), "wallet1", base)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].Signature)
	assert.Equal(t, "exact", got[1].Signature)
}

func TestStub_ScriptedFailures(t *testing.T) {
	stub := NewStub()
	boom := errors.New("rate limited")
	stub.FailNext(2, boom)

	_, err := stub.List(context.Background(), "w", time.Time{})
	assert.ErrorIs(t, err, boom)
	_, err = stub.List(context.Background(), "w", time.Time{})
	assert.ErrorIs(t, err, boom)
	_, err = stub.List(context.Background(), "w", time.Time{})
	assert.NoError(t, err)
	assert.Equal(t, 3, stub.Calls())
}

func TestClient_List(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-API-KEY"))
		assert.Equal(t, "wallet1", r.URL.Query().Get("wallet"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"success": true,
			"data": {"solana": [
				{
					"txHash": "sig1",
					"blockTime": "2026-02-01T12:05:00Z",
					"status": true,
					"balanceChange": [
						{"address": "So11111111111111111111111111111111111111112", "symbol": "SOL", "amount": -500000000, "decimals": 9},
						{"address": "TokenMint111", "symbol": "PUMP", "amount": 123456789, "decimals": 6}
					]
				},
				{"txHash": "failed", "blockTime": "2026-02-01T12:06:00Z", "status": false, "balanceChange": []},
				{"txHash": "stale", "blockTime": "2026-02-01T11:00:00Z", "status": true, "balanceChange": []}
			]}
		}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, APIKey: "test-key"})
	since := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	got, err := c.List(context.Background(), "wallet1", since)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "sig1", got[0].Signature)
	require.Len(t, got[0].BalanceChanges, 2)
	assert.Equal(t, "SOL", got[0].BalanceChanges[0].Symbol)
	assert.InDelta(t, -500000000, got[0].BalanceChanges[0].Amount, 0.1)
}

func TestClient_UpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL})
	_, err := c.List(context.Background(), "wallet1", time.Time{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}
