package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// StatsFunc produces one named section of the /stats payload.
type StatsFunc func() any

// Server exposes /healthz and /stats.
type Server struct {
	addr    string
	monitor *Monitor

	mu    sync.Mutex
	stats map[string]StatsFunc
}

// NewServer creates the HTTP surface for the given monitor.
func NewServer(addr string, monitor *Monitor) *Server {
	return &Server{
		addr:    addr,
		monitor: monitor,
		stats:   make(map[string]StatsFunc),
	}
}

// RegisterStats adds a named section to the /stats payload.
func (s *Server) RegisterStats(name string, fn StatsFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[name] = fn
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	return mux
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.addr).Msg("observability: server started")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.monitor.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	if !snap.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(snap)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	sections := make(map[string]StatsFunc, len(s.stats))
	for name, fn := range s.stats {
		sections[name] = fn
	}
	s.mu.Unlock()

	payload := make(map[string]any, len(sections))
	for name, fn := range sections {
		payload[name] = fn()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}
