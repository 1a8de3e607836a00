package push

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crowsnest-trading/crowsnest/internal/bus"
)

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	require.NoError(t, err)
	return conn
}

func waitForClients(t *testing.T, s *Server, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.Stats().Clients == n
	}, time.Second, time.Millisecond)
}

func TestBroadcastReachesClient(t *testing.T) {
	s := NewServer(DefaultConfig(), bus.New())
	server := httptest.NewServer(s.Handler())
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()
	waitForClients(t, s, 1)

	s.broadcast(Envelope{
		Type: "position_update",
		Data: bus.PositionUpdate{TokenAddress: "Mint1", Status: "open"},
	})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var env struct {
		Type string             `json:"type"`
		Data bus.PositionUpdate `json:"data"`
	}
	require.NoError(t, json.Unmarshal(payload, &env))
	assert.Equal(t, "position_update", env.Type)
	assert.Equal(t, "Mint1", env.Data.TokenAddress)
	assert.Equal(t, "open", env.Data.Status)
}

func TestBroadcastReachesEveryClient(t *testing.T) {
	s := NewServer(DefaultConfig(), bus.New())
	server := httptest.NewServer(s.Handler())
	defer server.Close()

	first := dial(t, server)
	defer first.Close()
	second := dial(t, server)
	defer second.Close()
	waitForClients(t, s, 2)

	s.broadcast(Envelope{Type: "trading_signal", Data: map[string]string{"token_address": "Mint1"}})

	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Contains(t, string(payload), "Mint1")
	}
}

func TestDisconnectUnregistersClient(t *testing.T) {
	s := NewServer(DefaultConfig(), bus.New())
	server := httptest.NewServer(s.Handler())
	defer server.Close()

	conn := dial(t, server)
	waitForClients(t, s, 1)

	conn.Close()
	waitForClients(t, s, 0)

	// Broadcasting to nobody is fine.
	s.broadcast(Envelope{Type: "trading_signal", Data: map[string]string{}})
	assert.Equal(t, int64(0), s.Stats().Dropped)
}

func TestSlowClientDropsEvents(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ClientBuffer = 1
	s := NewServer(cfg, bus.New())
	server := httptest.NewServer(s.Handler())
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()
	waitForClients(t, s, 1)

	// Flood well past the queue; the writer cannot keep up with a client
	// that never reads, so drops must show up.
	for i := 0; i < 1000; i++ {
		s.broadcast(Envelope{Type: "transaction", Data: map[string]int{"n": i}})
	}
	assert.Positive(t, s.Stats().Dropped)
}
