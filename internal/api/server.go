// Package api is the remote store HTTP server: paged type-scoped queries,
// single-record fetches, batch upserts and deletes, and a websocket feed of
// record changes.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/marcus/navsync/internal/serverdb"
)

// Server is the HTTP API server for navsync-server.
type Server struct {
	config      Config
	http        *http.Server
	store       *serverdb.ServerDB
	hub         *Hub
	metrics     *Metrics
	rateLimiter *RateLimiter
	cancel      context.CancelFunc
	addr        net.Addr
}

// NewServer creates a new Server with the given config and store.
func NewServer(cfg Config, store *serverdb.ServerDB) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("new server: store is required")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}
	m := NewMetrics()
	s := &Server{
		config:      cfg,
		store:       store,
		hub:         NewHub(m),
		metrics:     m,
		rateLimiter: NewRateLimiter(),
	}

	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start begins listening for HTTP requests (non-blocking).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.addr = ln.Addr()

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "err", err)
		}
	}()

	// Periodically drop stale rate limit buckets
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("housekeeping panic", "panic", r)
			}
		}()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.rateLimiter.cleanup(); n > 0 {
					slog.Debug("dropped rate limit buckets", "count", n)
				}
			}
		}
	}()

	return nil
}

// Addr returns the bound listen address once Start has run.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Shutdown disconnects subscribers and gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	s.hub.Close()
	return s.http.Shutdown(ctx)
}

// routes builds the HTTP handler with all routes and middleware.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health & metrics
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /metricz", s.handleMetrics)

	// Records
	read, write := s.config.RateLimitRead, s.config.RateLimitWrite
	mux.HandleFunc("GET /v1/records", s.requireAuth(s.withRateLimit(s.handleQuery, "read", read)))
	mux.HandleFunc("GET /v1/records/{identity}", s.requireAuth(s.withRateLimit(s.handleFetch, "read", read)))
	mux.HandleFunc("POST /v1/records/batch", s.requireAuth(s.withRateLimit(s.handleBatch, "write", write)))

	// Change feed
	mux.HandleFunc("GET /v1/subscribe", s.requireAuth(s.withRateLimit(s.handleSubscribe, "read", read)))

	return chain(mux, recoveryMiddleware, requestIDMiddleware, loggerMiddleware, metricsMiddleware(s.metrics), loggingMiddleware, maxBytesMiddleware(s.config.MaxBodyBytes))
}

// handleHealth returns a health check response, pinging the server DB.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "detail": "db unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.config.Version})
}

// handleMetrics returns a snapshot of server metrics and stored record counts.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap := s.metrics.Snapshot()
	counts, err := s.store.CountRecords(r.Context())
	if err != nil {
		logFor(r.Context()).Warn("count records", "err", err)
	}
	if len(counts) > 0 {
		snap.Records = make(map[string]int, len(counts))
		for k, n := range counts {
			snap.Records[string(k)] = n
		}
	}
	writeJSON(w, http.StatusOK, snap)
}
