// Package server exposes the engine's control surface over HTTP: the health
// report read path, manual scan/fix/rollback triggers, and the fix history.
// This is the only interface the external admin dashboard consumes.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/healdb/heal/internal/connector"
	"github.com/healdb/heal/internal/monitor"
	"github.com/healdb/heal/internal/openapi"
	"github.com/healdb/heal/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	// TriggersPerMinute rate-limits the mutating endpoints per client IP.
	TriggersPerMinute int
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:              "0.0.0.0",
		Port:              8080,
		ShutdownTimeout:   30 * time.Second,
		CORSOrigins:       []string{"*"},
		TriggersPerMinute: 30,
	}
}

// Server is the top-level HTTP server. It owns the chi router and delegates
// all engine operations to the monitor.
type Server struct {
	cfg        Config
	router     chi.Router
	mon        *monitor.Monitor
	conn       connector.Connector
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server with all routes and middleware wired. Call
// ListenAndServe to start accepting connections.
func New(cfg Config, mon *monitor.Monitor, conn connector.Connector, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		mon:    mon,
		conn:   conn,
		logger: logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(chimw.Compress(5))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/openapi.json", s.handleOpenAPI)

	r.Get("/health-report", s.handleHealthReport)
	r.Get("/history", s.handleHistory)

	// Mutating triggers carry a per-IP rate limit.
	r.Group(func(r chi.Router) {
		if s.cfg.TriggersPerMinute > 0 {
			r.Use(middleware.RateLimit(s.cfg.TriggersPerMinute))
		}
		r.Post("/scan", s.handleScan)
		r.Post("/fix/{issueID}", s.handleFix)
		r.Post("/rollback/{fixID}", s.handleRollback)
	})

	s.router = r
}

// handleHealthz is a liveness probe.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz reports ready once the target database answers a ping.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.conn.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"target": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleOpenAPI serves the generated OpenAPI document for this surface.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	doc, err := openapi.ControlSurfaceSpec()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generate spec: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(doc) //nolint:errcheck
}

// ListenAndServe starts the server and blocks until SIGINT/SIGTERM, then
// drains in-flight requests and stops the monitor loop.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.mon.Stop()
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
