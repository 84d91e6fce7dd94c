package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rogeecn/fub-assistant/internal/account"
	"github.com/rogeecn/fub-assistant/internal/auth"
	"github.com/rogeecn/fub-assistant/internal/billing"
	"github.com/rogeecn/fub-assistant/internal/chat"
	"github.com/rogeecn/fub-assistant/internal/config"
	"github.com/rogeecn/fub-assistant/internal/crm"
	"github.com/rogeecn/fub-assistant/internal/oauth"
	"github.com/rogeecn/fub-assistant/internal/ratelimit"
	"github.com/rogeecn/fub-assistant/internal/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	shutdownGrace    = 10 * time.Second
	redisPingTimeout = 5 * time.Second
)

type serveRunner interface {
	Start() error
	Stop(ctx context.Context) error
}

// serveResources holds the clients serve opens; Close releases them in
// reverse order of creation.
type serveResources struct {
	deps    server.Dependencies
	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

func (r *serveResources) add(name string, fn func() error) {
	r.closers = append(r.closers, namedCloser{name: name, close: fn})
}

func (r *serveResources) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		c := r.closers[i]
		if err := c.close(); err != nil {
			log.Warn().Err(err).Str("resource", c.name).Msg("close resource failed")
		}
	}
	r.closers = nil
}

var (
	serveHost string
	servePort int
)

var (
	newServeServer = func(cfg *config.Config, deps server.Dependencies) serveRunner {
		return server.New(cfg, deps)
	}
	newServeResources   = buildServeResources
	signalNotifyContext = signal.NotifyContext
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen address (default: HOST)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default: PORT)")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if serveHost != "" {
		cfg.Host = serveHost
	}
	if servePort > 0 {
		cfg.Port = servePort
	}

	log.Logger = config.InitLogger(cfg.LogLevel, !cfg.IsProduction())
	log.Info().
		Str("log_level", cfg.LogLevel).
		Str("app_env", cfg.AppEnv).
		Msg("logger initialized")

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if strings.TrimSpace(cfg.EmbedSecret) == "" || strings.TrimSpace(cfg.JWTSecret) == "" {
		log.Warn().Msg("FUB_EMBED_SECRET or JWT_SECRET is empty, iframe logins will be rejected")
	}

	resources, err := newServeResources(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer resources.Close()

	srv := newServeServer(cfg, resources.deps)

	startErrCh := make(chan error, 1)
	go func() {
		startErrCh <- srv.Start()
	}()

	ctx, stop := signalNotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-startErrCh:
		if err != nil {
			log.Error().Err(err).Msg("serve exited with error")
		}
		return err
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		if err := srv.Stop(shutdownCtx); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("serve shutdown failed")
			return err
		}

		select {
		case err := <-startErrCh:
			if err != nil {
				log.Error().Err(err).Msg("serve exited after shutdown with error")
			}
			return err
		case <-time.After(shutdownGrace):
			log.Error().Msg("serve shutdown timed out")
			return fmt.Errorf("shutdown timeout")
		}
	}
}

// buildServeResources constructs every client the server depends on.
// Optional integrations (OAuth handshake, Stripe) stay nil when their
// settings are missing and the matching routes answer 503.
func buildServeResources(ctx context.Context, cfg *config.Config) (*serveResources, error) {
	res := &serveResources{}

	dir, err := openAccountDirectory(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res.add("account store", dir.Close)

	var (
		limitStore ratelimit.Store
		leadCache  chat.LeadCache
	)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		client, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			res.Close()
			return nil, err
		}
		res.add("redis", client.Close)
		limitStore = ratelimit.NewRedisStore(client)
		leadCache = chat.NewRedisLeadCache(client)
		log.Info().Msg("rate limits and lead cache backed by redis")
	} else {
		limitStore = ratelimit.NewMemoryStore()
		leadCache = chat.NewMemoryLeadCache()
		log.Warn().Msg("REDIS_URL not set, rate limits and lead cache are per-process")
	}

	oauthClient := oauth.NewClient(oauthConfig(cfg))
	crmClient := crm.NewClient(crm.Config{
		BaseURL:   cfg.FUBAPIBaseURL,
		System:    cfg.FUBSystem,
		SystemKey: cfg.FUBSystemKey,
		MaxRPS:    cfg.FUBMaxRPS,
	}, oauth.NewRefresher(oauthClient))

	llm := chat.NewOpenAIClient(chat.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
	})
	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		log.Warn().Msg("OPENAI_API_KEY is empty, chat completions will fail")
	}

	res.deps = server.Dependencies{
		Verifier: auth.NewVerifier(cfg.EmbedSecret),
		Sessions: auth.NewCodec(cfg.JWTSecret, cfg.SessionTTL),
		Accounts: dir,
		Limiter:  ratelimit.New(limitStore),
		Notes:    crmClient,
		Advisor:  chat.NewService(crmClient, llm, dir, leadCache),
	}

	if strings.TrimSpace(cfg.FUBClientID) != "" {
		res.deps.OAuth = oauthClient
	} else {
		log.Warn().Msg("FUB_CLIENT_ID not set, follow up boss connect is disabled")
	}

	if strings.TrimSpace(cfg.StripeWebhookSecret) != "" {
		res.deps.Webhooks = billing.NewWebhookHandler(cfg.StripeWebhookSecret, dir)
	} else {
		log.Warn().Msg("STRIPE_WEBHOOK_SECRET not set, stripe webhooks are disabled")
	}

	if strings.TrimSpace(cfg.StripeSecretKey) != "" && strings.TrimSpace(cfg.StripePriceIDMonthly) != "" {
		res.deps.Billing = billing.NewCheckout(billing.CheckoutConfig{
			SecretKey:       cfg.StripeSecretKey,
			PriceID:         cfg.StripePriceIDMonthly,
			SuccessURL:      cfg.StripeSuccessURL,
			CancelURL:       cfg.StripeCancelURL,
			PortalReturnURL: cfg.StripePortalReturnURL,
		})
	} else {
		log.Warn().Msg("STRIPE_SECRET_KEY or STRIPE_PRICE_ID_MONTHLY not set, billing sessions are disabled")
	}

	return res, nil
}

func openRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

func oauthConfig(cfg *config.Config) oauth.Config {
	return oauth.Config{
		ClientID:     cfg.FUBClientID,
		ClientSecret: cfg.FUBClientSecret,
		RedirectURL:  cfg.FUBRedirectURL,
		AuthURL:      cfg.FUBAuthorizeURL,
		TokenURL:     cfg.FUBTokenURL,
	}
}

var openAccountDirectory = func(ctx context.Context, cfg *config.Config) (*account.Directory, error) {
	store, err := account.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open account store: %w", err)
	}
	return account.NewDirectory(store), nil
}
