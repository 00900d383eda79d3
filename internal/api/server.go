// Package api exposes the acquisition coordinator over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"property-acquisition/internal/acquisition"
	"property-acquisition/internal/domain"
	"property-acquisition/internal/observability"
	"property-acquisition/internal/ratelimit"
	"property-acquisition/internal/storage"
)

// Acquirer is the coordinator surface the API needs.
type Acquirer interface {
	Acquire(ctx context.Context, q domain.Query, opts acquisition.AcquireOptions) ([]domain.PropertyRecord, error)
	AcquireFast(ctx context.Context, q domain.Query) []domain.PropertyRecord
	Stats() domain.CoordinatorStats
}

// Config for the HTTP server.
type Config struct {
	Addr           string
	AllowedOrigins []string // defaults to "*"
	// ReadHeaderTimeout bounds slow clients; handlers are bounded by the
	// coordinator's own deadlines.
	ReadHeaderTimeout time.Duration
	// TrustedProxies are the peers whose X-Forwarded-For and X-Real-IP
	// headers are believed. Empty means every request is keyed on its peer.
	TrustedProxies []netip.Prefix
}

// Deps are the collaborators behind the routes. Only Coordinator is required.
type Deps struct {
	Coordinator Acquirer
	Properties  storage.PropertyStore
	Snapshots   storage.PriceSnapshotStore
	Guard       *ratelimit.Guard
	Stream      http.Handler // live feed; route is absent when nil
	Logger      *slog.Logger
}

// Server is the HTTP front end.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	deps       Deps
	logger     *slog.Logger
}

// NewServer builds the router and the underlying http.Server.
func NewServer(cfg Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "api")
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}

	s := &Server{deps: deps, logger: logger}

	r := chi.NewRouter()
	r.Use(resolveClient(cfg.TrustedProxies), requestLogger(logger), middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization", "X-API-Key"},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After", RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", observability.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.health)
		r.With(admit(deps.Guard, ratelimit.EndpointSearch, ratelimit.PermSearch)).
			Get("/search", s.search)
		r.With(admit(deps.Guard, ratelimit.EndpointPriceHistory, ratelimit.PermHistory)).
			Get("/price-history", s.priceHistory)
		r.With(admit(deps.Guard, ratelimit.EndpointNeighborhoodStats, ratelimit.PermAnalysis)).
			Get("/neighborhood-stats", s.neighborhoodStats)
		r.With(admit(deps.Guard, ratelimit.EndpointMarketAnalysis, ratelimit.PermAnalysis)).
			Get("/market-analysis", s.marketAnalysis)
		r.With(admit(deps.Guard, "/api/v1/stats", "")).
			Get("/stats", s.stats)
		if deps.Stream != nil {
			r.Handle("/stream", deps.Stream)
		}
	})

	s.handler = r
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// Start serves until Shutdown. http.ErrServerClosed is not an error.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}
