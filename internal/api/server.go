// Package api serves a read-only view of the refresh pipeline.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/surfcast/internal/store"
)

// DefaultStaleAfter is how old the newest forecast data may get before
// /health reports the service as degraded.
const DefaultStaleAfter = 30 * time.Minute

type Server struct {
	store      *store.Store
	port       string
	loc        *time.Location
	clock      clockwork.Clock
	staleAfter time.Duration
	logger     *slog.Logger
}

func NewServer(store *store.Store, port string, loc *time.Location, logger *slog.Logger) *Server {
	return &Server{
		store:      store,
		port:       port,
		loc:        loc,
		clock:      clockwork.NewRealClock(),
		staleAfter: DefaultStaleAfter,
		logger:     logger.With("component", "api"),
	}
}

func (s *Server) SetClock(c clockwork.Clock) {
	s.clock = c
}

func (s *Server) SetStaleAfter(d time.Duration) {
	if d > 0 {
		s.staleAfter = d
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/forecast", s.handleAPIForecast)
	mux.HandleFunc("GET /api/stations", s.handleAPIStations)
	mux.HandleFunc("GET /api/runs/latest", s.handleAPILatestRun)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
