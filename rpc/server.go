package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"filamint/core"
	"filamint/native/escrow"
	"filamint/services/indexer"
)

// TxCostHeader lets a caller declare the transaction cost of a mutating
// call. Without it the node's default applies.
const TxCostHeader = "X-Tx-Cost"

const maxRequestBytes = 1 << 16

// JobIndex is the read side of the event indexer.
type JobIndex interface {
	ByStatus(ctx context.Context, status escrow.Status, limit int) ([]indexer.EscrowSummary, error)
	History(ctx context.Context, escrow string, limit int) ([]indexer.EventRecord, error)
}

type Config struct {
	Auth            AuthConfig
	RateLimitPerSec float64
	RateLimitBurst  int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration

	// AllowedOrigins lists Origin host patterns admitted to the event stream.
	AllowedOrigins []string
}

type Server struct {
	node    *core.Node
	jobs    JobIndex
	hub     *Hub
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger
	cfg     Config
	router  http.Handler
}

// NewServer wires the HTTP surface. jobs and hub are optional; the routes
// they back answer 503 when absent.
func NewServer(node *core.Node, jobs JobIndex, hub *Hub, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	s := &Server{
		node:    node,
		jobs:    jobs,
		hub:     hub,
		auth:    NewAuthenticator(cfg.Auth, logger),
		limiter: NewRateLimiter(cfg.RateLimitPerSec, cfg.RateLimitBurst),
		logger:  logger,
		cfg:     cfg,
	}
	if hub != nil && len(cfg.AllowedOrigins) > 0 {
		hub.AllowOrigins(cfg.AllowedOrigins...)
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestID)
	r.Use(observe(s.logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.auth.Middleware)
		api.Use(s.limiter.Middleware)

		api.Get("/registry", s.handleRegistry)
		api.With(Require).Put("/registry/{setting}", s.handleRegistryUpdate)
		api.Get("/accounts/{addr}", s.handleAccount)

		api.Get("/orders", s.handleListOrders)
		api.Get("/orders/count", s.handleOrderCount)
		api.Get("/orders/predict/{salt}", s.handlePredict)
		api.With(Require).Post("/orders", s.handleCreateOrder)

		api.Get("/escrows/{addr}", s.handleEscrow)
		api.Get("/escrows/{addr}/time-remaining", s.handleTimeRemaining)
		api.Get("/escrows/{addr}/history", s.handleHistory)
		api.With(Require).Post("/escrows/{addr}/{action}", s.handleAction)

		api.Get("/jobs", s.handleJobs)
		api.Get("/events/ws", s.handleStream)
	})

	return otelhttp.NewHandler(r, "filamint.rpc")
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       2 * s.cfg.ReadTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("rpc server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("rpc server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("rpc shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeProblem(w, http.StatusServiceUnavailable, codeServerError, "unavailable", "event stream disabled")
		return
	}
	s.hub.ServeHTTP(w, r)
}
