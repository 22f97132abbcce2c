// Package server exposes the bot management API over HTTP and websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/basketbot/internal/domain"
	"github.com/alanyoungcy/basketbot/internal/server/handler"
	"github.com/alanyoungcy/basketbot/internal/server/middleware"
	"github.com/alanyoungcy/basketbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	APIKey          string // empty disables authentication
	RateLimit       int    // requests per RateWindow per client IP, 0 disables
	RateWindow      time.Duration
	ShutdownTimeout time.Duration
}

// Handlers aggregates the route handlers.
type Handlers struct {
	Health *handler.HealthHandler
	Status *handler.StatusHandler
	Bots   *handler.BotHandler
	Prices *handler.PriceHandler
}

// Instrumenter wraps the route tree with request metrics.
type Instrumenter interface {
	Handler() http.Handler
	InstrumentHandler(next http.Handler) http.Handler
}

// Server is the API server.
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// publicPaths skip API-key auth.
var publicPaths = []string{"/api/health", "/metrics"}

// NewServer registers every route and builds the middleware chain. hub,
// limiter and metrics may be nil.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, metrics Instrumenter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	mux.HandleFunc("GET /api/bots", handlers.Bots.ListBots)
	mux.HandleFunc("POST /api/bots", handlers.Bots.CreateBot)
	mux.HandleFunc("GET /api/bots/{id}", handlers.Bots.GetBot)
	mux.HandleFunc("PUT /api/bots/{id}", handlers.Bots.UpdateBot)
	mux.HandleFunc("DELETE /api/bots/{id}", handlers.Bots.DeleteBot)
	mux.HandleFunc("POST /api/bots/{id}/toggle", handlers.Bots.ToggleBot)
	mux.HandleFunc("GET /api/bots/{id}/state", handlers.Bots.GetState)
	mux.HandleFunc("GET /api/bots/{id}/prices", handlers.Bots.ListPrices)
	mux.HandleFunc("GET /api/bots/{id}/trades", handlers.Bots.ListTrades)
	mux.HandleFunc("GET /api/bots/{id}/logs", handlers.Bots.ListLogs)
	mux.HandleFunc("POST /api/bots/{id}/cancel", handlers.Bots.CancelTrade)

	mux.HandleFunc("GET /api/prices", handlers.Prices.GetPrices)

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}
	if metrics != nil {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	// Outermost first: request id, CORS, logging, metrics, rate limit, auth.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, publicPaths...)(h)
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	if metrics != nil {
		h = metrics.InstrumentHandler(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	h = middleware.RequestID(h)

	shutdown := cfg.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = 10 * time.Second
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		shutdownTimeout: shutdown,
		logger:          logger,
	}
}

// Handler returns the fully wrapped route tree.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
