package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rogeecn/fub-assistant/internal/account"
	"github.com/rogeecn/fub-assistant/internal/auth"
	"github.com/rogeecn/fub-assistant/internal/config"
	"github.com/rogeecn/fub-assistant/internal/crm"
	"github.com/rogeecn/fub-assistant/internal/oauth"
	"github.com/rogeecn/fub-assistant/internal/ratelimit"
	"github.com/rs/zerolog/log"
	stripe "github.com/stripe/stripe-go/v82"
)

type AccountStore interface {
	Upsert(ctx context.Context, fubAccountID string) (*account.Account, error)
	Get(ctx context.Context, id int64) (*account.Account, error)
	UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string) error
}

type Advisor interface {
	Advise(ctx context.Context, acct *account.Account, personID, question string) (string, error)
}

type NoteCreator interface {
	CreateNote(ctx context.Context, tokens crm.Tokens, personID, content string) (string, crm.Tokens, error)
}

type OAuthFlow interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth.Token, error)
}

type WebhookProcessor interface {
	ConstructEvent(payload []byte, sigHeader string) (stripe.Event, error)
	Handle(ctx context.Context, event stripe.Event) error
}

type BillingSessions interface {
	CreateCheckoutSession(ctx context.Context, acct *account.Account) (string, error)
	CreatePortalSession(ctx context.Context, acct *account.Account) (string, error)
}

// Dependencies are built by the caller and owned by it; the server never
// closes them.
type Dependencies struct {
	Verifier *auth.Verifier
	Sessions *auth.Codec
	Accounts AccountStore
	Limiter  *ratelimit.Limiter
	Notes    NoteCreator
	Advisor  Advisor
	OAuth    OAuthFlow
	Webhooks WebhookProcessor
	Billing  BillingSessions
}

type Server struct {
	config     *config.Config
	deps       Dependencies
	httpServer *http.Server

	serveFn    func() error
	shutdownFn func(ctx context.Context) error
}

func New(cfg *config.Config, deps Dependencies) *Server {
	if cfg == nil {
		cfg = &config.Config{
			Host: "0.0.0.0",
			Port: 8000,
		}
	}

	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}

	s := &Server{
		config: cfg,
		deps:   deps,
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.serveFn = s.httpServer.ListenAndServe
	s.shutdownFn = s.httpServer.Shutdown

	return s
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	log.Info().
		Str("addr", s.httpServer.Addr).
		Msg("http server starting")

	if err := s.serveFn(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("start server: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if err := s.shutdownFn(ctx); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("stop server: %w", err)
	}
	return nil
}
