package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/errgroup"

	"fintrack/internal/api"
	"fintrack/internal/cache"
	"fintrack/internal/cli"
	"fintrack/internal/config"
	"fintrack/internal/events"
	apphttp "fintrack/internal/http"
	"fintrack/internal/identity/firebase"
	"fintrack/internal/log"
	"fintrack/internal/middleware/ratelimit"
	"fintrack/internal/session"
)

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.LoadAndValidateConfig()

	ctx, cancel := cli.ShutdownContext(logger)
	defer cancel()

	repo := cli.InitSessionStore(logger, cfg.SessionDBPath)
	defer repo.Close()

	provider, err := firebase.New(ctx, firebase.Config{
		APIKey:              cfg.FirebaseAPIKey,
		IdentityEndpoint:    cfg.IdentityEndpoint,
		SecureTokenEndpoint: cfg.SecureTokenEndpoint,
	})
	if err != nil {
		logger.Error("Failed to initialize identity provider", log.FieldError, err.Error())
		os.Exit(1)
	}

	backend, err := api.New(cfg.APIBaseURL, cfg.APITimeout, logger)
	if err != nil {
		logger.Error("Failed to initialize backend client", log.FieldError, err.Error())
		os.Exit(1)
	}

	registry := session.NewRegistry(provider, repo, session.RegistryConfig{
		MaxVisitors:    cfg.MaxVisitors,
		IdleTTL:        cfg.SessionTTL,
		QueryStaleTime: cfg.QueryStaleTime,
	}, logger)
	defer registry.Close()

	limiter := ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.RateLimitPerMinute})

	g, gctx := errgroup.WithContext(ctx)

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.AMQPEnabled() {
		broker, err := events.Dial(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, uuid.NewString(), logger)
		if err != nil {
			logger.Error("Failed to connect to message broker", log.FieldError, err.Error())
			os.Exit(1)
		}
		defer broker.Close()
		publisher = broker

		g.Go(func() error {
			err := broker.Consume(gctx, func(ctx context.Context, msg events.TransactionChanged) error {
				n := registry.InvalidateUser(msg.UserID, "transactions", "reports")
				logger.DebugContext(ctx, "Invalidated visitor queries",
					log.FieldUserID, msg.UserID, "visitors", n, "action", string(msg.Action))
				return nil
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
		logger.Info("Transaction change events enabled", "exchange", cfg.AMQPExchange)
	}

	srv, err := apphttp.NewServer(apphttp.Options{
		Addr:        net.JoinHostPort("", cfg.Port),
		Registry:    registry,
		Cookies:     session.NewCookieCodec(cfg.SessionSecret, cfg.SessionTTL, cfg.SecureCookies),
		Backend:     backend,
		Events:      publisher,
		Limiter:     limiter,
		Logger:      logger,
		Google:      googleConfig(cfg),
		QueryWait:   cfg.QueryWait,
		ReadyChecks: map[string]apphttp.ReadyCheck{"backend": backend.Ping, "session_store": repo.Ping},
	})
	if err != nil {
		logger.Error("Failed to build server", log.FieldError, err.Error())
		os.Exit(1)
	}

	caches := cache.NewManager(logger.Logger)
	caches.Register("visitors", registry)
	g.Go(func() error { return caches.Run(gctx, time.Minute) })
	g.Go(func() error { return limiter.Run(gctx, 5*time.Minute) })
	g.Go(func() error { return purgeSessions(gctx, repo, cfg.SessionTTL, logger) })

	g.Go(func() error {
		logger.Info("Starting fintrack server", "port", cfg.Port, "google_sign_in", cfg.GoogleSignInEnabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return cli.ShutdownWithTimeout(logger, 30*time.Second, srv.Shutdown)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", log.FieldError, err.Error())
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}

func googleConfig(cfg *config.Config) *oauth2.Config {
	if !cfg.GoogleSignInEnabled() {
		return nil
	}
	return &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       []string{"openid", "email", "profile"},
	}
}

type sessionPurger interface {
	PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// purgeSessions drops persisted sessions no cookie can still point at.
func purgeSessions(ctx context.Context, repo sessionPurger, ttl time.Duration, logger *log.Logger) error {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := repo.PurgeOlderThan(ctx, ttl)
			if err != nil {
				logger.Error("Failed to purge expired sessions", log.FieldError, err.Error())
				continue
			}
			if n > 0 {
				logger.Info("Purged expired sessions", "count", n)
			}
		}
	}
}
