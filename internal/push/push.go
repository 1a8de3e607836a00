// Package push streams bus events to websocket subscribers, so dashboards
// follow signals, positions, and token metrics live.
package push

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/crowsnest-trading/crowsnest/internal/bus"
)

// Envelope wraps every pushed event with its topic.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Config tunes the push server.
type Config struct {
	Addr         string
	WriteTimeout time.Duration
	// ClientBuffer is the per-client send queue. A client that falls this
	// far behind starts losing events rather than slowing the broadcast.
	ClientBuffer int
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8422",
		WriteTimeout: 5 * time.Second,
		ClientBuffer: 256,
	}
}

type client struct {
	conn *websocket.Conn
	send chan Envelope
}

// Server fans bus events out to connected websocket clients.
type Server struct {
	cfg      Config
	events   *bus.Bus
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}

	sent    atomic.Int64
	dropped atomic.Int64
}

// NewServer creates a push server over the given bus.
func NewServer(cfg Config, events *bus.Bus) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultConfig().Addr
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = DefaultConfig().ClientBuffer
	}
	return &Server{
		cfg:    cfg,
		events: events,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Handler returns the websocket endpoint handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	return mux
}

// Run subscribes to every bus topic, serves websocket clients, and blocks
// until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	signals, cancelSignals := s.events.TradingSignals.Subscribe("push", 128)
	defer cancelSignals()
	updates, cancelUpdates := s.events.PositionUpdates.Subscribe("push", 128)
	defer cancelUpdates()
	metrics, cancelMetrics := s.events.TokenMetrics.Subscribe("push", 128)
	defer cancelMetrics()
	txs, cancelTxs := s.events.Transactions.Subscribe("push", 128)
	defer cancelTxs()

	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("push: server started")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			s.closeClients()
			return server.Shutdown(shutdownCtx)
		case err := <-errCh:
			return err
		case ev := <-signals:
			s.broadcast(Envelope{Type: s.events.TradingSignals.Name(), Data: ev})
		case ev := <-updates:
			s.broadcast(Envelope{Type: s.events.PositionUpdates.Name(), Data: ev})
		case ev := <-metrics:
			s.broadcast(Envelope{Type: s.events.TokenMetrics.Name(), Data: ev})
		case ev := <-txs:
			s.broadcast(Envelope{Type: s.events.Transactions.Name(), Data: ev})
		}
	}
}

// serveWS upgrades the connection and pumps envelopes until the client
// disconnects.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("push: upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan Envelope, s.cfg.ClientBuffer)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	count := len(s.clients)
	s.mu.Unlock()
	log.Info().Str("remote", r.RemoteAddr).Int("clients", count).Msg("push: client connected")

	go s.writeLoop(c)
	s.readLoop(c)

	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
	s.mu.Unlock()
	conn.Close()
	log.Info().Str("remote", r.RemoteAddr).Msg("push: client disconnected")
}

// readLoop drains inbound frames so pings and close frames are processed.
// The stream is one-way; client payloads are discarded.
func (s *Server) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writeLoop(c *client) {
	for env := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		if err := c.conn.WriteJSON(env); err != nil {
			c.conn.Close()
			return
		}
		s.sent.Add(1)
	}
}

// broadcast queues the envelope for every client, dropping it for clients
// whose send queue is full.
func (s *Server) broadcast(env Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- env:
		default:
			s.dropped.Add(1)
		}
	}
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		delete(s.clients, c)
		close(c.send)
		c.conn.Close()
	}
}

// Stats is a snapshot of the push server's counters.
type Stats struct {
	Clients int
	Sent    int64
	Dropped int64
}

// Stats returns counter values.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	clients := len(s.clients)
	s.mu.Unlock()
	return Stats{
		Clients: clients,
		Sent:    s.sent.Load(),
		Dropped: s.dropped.Load(),
	}
}
