// Package api provides the webhook HTTP server for the intake service.
//
// It exposes the provider-facing webhook endpoints (GET handshake, POST event
// batches) plus health and profile-review endpoints, and wires them to the
// conversation engine and the store.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/telepharma-bw/intakebot/internal/flow"
	"github.com/telepharma-bw/intakebot/internal/store"
)

// Default server configuration.
const (
	// DefaultAddr is the default listen address for the webhook server.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
)

// Opts holds configuration options for the webhook server.
type Opts struct {
	Addr        string
	VerifyToken string
}

// Option defines a configuration option for the webhook server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithVerifyToken sets the webhook handshake verification secret.
func WithVerifyToken(token string) Option {
	return func(o *Opts) { o.VerifyToken = token }
}

// Server is the webhook HTTP server.
type Server struct {
	addr        string
	verifyToken string
	engine      *flow.Engine
	store       store.Store
	httpServer  *http.Server
}

// NewServer creates a webhook server over the given engine and store.
func NewServer(engine *flow.Engine, st store.Store, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		addr:        cfg.Addr,
		verifyToken: cfg.VerifyToken,
		engine:      engine,
		store:       st,
	}
}

// Handler returns the server's HTTP handler (exposed for tests).
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.webhookHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/profiles", s.profilesHandler)
	return mux
}

// Run starts the server and blocks until the context is cancelled or the
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{Addr: s.addr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Webhook server listening", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("Webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
