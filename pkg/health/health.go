// Package health serves the liveness, readiness, and metrics endpoints.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/semantic-explorer/viz-worker/pkg/log"
	"github.com/semantic-explorer/viz-worker/pkg/metrics"
)

// Server exposes /health/live, /health/ready, and /metrics. Liveness is
// unconditional; readiness flips once the worker finishes initialization
// and flips back during drain.
type Server struct {
	srv    *http.Server
	ready  atomic.Bool
	logger zerolog.Logger
}

// NewServer builds the endpoint server on the given port.
func NewServer(port int) *Server {
	s := &Server{logger: log.WithComponent("health")}

	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", s.handleLive)
	mux.HandleFunc("/health/ready", s.handleReady)
	mux.Handle("/metrics", metrics.Handler())

	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until Shutdown. It returns on listener failure only.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.srv.Addr).Msg("health server listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}

// SetReady flips the readiness state.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
	if ready {
		metrics.WorkerReady.Set(1)
	} else {
		metrics.WorkerReady.Set(0)
	}
}

// Ready reports the current readiness state.
func (s *Server) Ready() bool { return s.ready.Load() }

// Shutdown stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
