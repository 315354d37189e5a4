// Package diag exposes bridge runtime counters over a local HTTP listener,
// for operators and for the terminal monitor.
package diag

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/webitel/im-bridge/internal/dispatch"
	"github.com/webitel/im-bridge/internal/subscription"
)

// Snapshot is the full stats document served at /stats.
type Snapshot struct {
	Uptime       string                     `json:"uptime"`
	Dispatch     dispatch.StatsSnapshot     `json:"dispatch"`
	Subscription subscription.StatsSnapshot `json:"subscription"`
}

// Server is the diagnostics endpoint. Loopback only by configuration; it
// carries no auth.
type Server struct {
	logger    *slog.Logger
	http      *http.Server
	client    *dispatch.Client
	registry  *subscription.Registry
	startedAt time.Time
}

func NewServer(addr string, client *dispatch.Client, registry *subscription.Registry, logger *slog.Logger) *Server {
	s := &Server{
		logger:    logger.With(slog.String("component", "diag")),
		client:    client,
		registry:  registry,
		startedAt: time.Now(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/stats", s.handleStats)

	s.http = &http.Server{Addr: addr, Handler: r}
	return s
}

// Start begins serving on the configured address.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("diag endpoint listening", slog.String("addr", ln.Addr().String()))
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("diag server failed", slog.Any("err", err))
		}
	}()
	return nil
}

// Stop shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Snapshot collects current counters.
func (s *Server) Snapshot() Snapshot {
	return Snapshot{
		Uptime:       time.Since(s.startedAt).Round(time.Second).String(),
		Dispatch:     s.client.Stats().Snapshot(),
		Subscription: s.registry.Stats().Snapshot(),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Snapshot()); err != nil {
		s.logger.Error("encode stats", slog.Any("err", err))
	}
}
