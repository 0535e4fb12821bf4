// Package server is the HTTP boundary: bearer-authenticated chat and agent
// inspection, HMAC-verified webhook ingestion, and token-gated admin CRUD.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/nevindra/yae"
)

// Server routes HTTP traffic onto a Yae instance.
type Server struct {
	y      *yae.Yae
	logger *slog.Logger
	public *Limiter
	authed *Limiter

	// instructions is the operator system prompt prepended to every chat turn.
	instructions string

	mux *http.ServeMux
	now func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithRateLimits overrides the per-minute budgets: public endpoints are
// keyed by client IP, authenticated endpoints by user id.
func WithRateLimits(publicPerMin, authedPerMin int) Option {
	return func(s *Server) {
		s.public = NewLimiter(publicPerMin)
		s.authed = NewLimiter(authedPerMin)
	}
}

// WithInstructions sets the system prompt used for chat turns.
func WithInstructions(instructions string) Option {
	return func(s *Server) { s.instructions = instructions }
}

// New creates a Server over an initialized Yae instance.
func New(y *yae.Yae, opts ...Option) *Server {
	s := &Server{
		y:      y,
		logger: slog.Default(),
		public: NewLimiter(5),
		authed: NewLimiter(30),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) routes() {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// User surface
	mux.HandleFunc("POST /verify", s.withUser(s.handleVerify))
	mux.HandleFunc("POST /chat", s.withUser(s.handleChat))
	mux.HandleFunc("GET /messages", s.withUser(s.handleMessages))
	mux.HandleFunc("GET /memory", s.withUser(s.handleMemory))
	mux.HandleFunc("GET /runs", s.withUser(s.handleUserRuns))

	// Webhook ingestion (public, IP rate-limited)
	mux.HandleFunc("POST /webhooks/{slug}", s.handleWebhook)

	// Admin surface
	mux.HandleFunc("POST /admin/users", s.withAdmin(s.handleCreateUser))
	mux.HandleFunc("GET /admin/users", s.withAdmin(s.handleListUsers))
	mux.HandleFunc("DELETE /admin/users/{id}", s.withAdmin(s.handleDeleteUser))
	mux.HandleFunc("POST /admin/webhooks", s.withAdmin(s.handleCreateWebhook))
	mux.HandleFunc("GET /admin/webhooks", s.withAdmin(s.handleListWebhooks))
	mux.HandleFunc("PUT /admin/webhooks/{id}", s.withAdmin(s.handleUpdateWebhook))
	mux.HandleFunc("DELETE /admin/webhooks/{id}", s.withAdmin(s.handleDeleteWebhook))
	mux.HandleFunc("GET /admin/webhooks/{id}/events", s.withAdmin(s.handleListWebhookEvents))
	mux.HandleFunc("GET /admin/runs", s.withAdmin(s.handleAdminRuns))

	s.mux = mux
}

// Serve runs the HTTP server until ctx is cancelled, then drains with a
// 30-second grace period.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.mux,
		// Chat turns stream for minutes; keep write generous, reads tight.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
