// Package main is the entry point for the authentication gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/savlink/authgate/internal/auth"
	"github.com/savlink/authgate/internal/cache"
	"github.com/savlink/authgate/internal/config"
	"github.com/savlink/authgate/internal/identity"
	"github.com/savlink/authgate/internal/observability"
	"github.com/savlink/authgate/internal/ratelimit"
	"github.com/savlink/authgate/internal/server"
	"github.com/savlink/authgate/internal/server/middleware"
	"github.com/savlink/authgate/internal/store"
	"github.com/savlink/authgate/pkg/mail"
)

// Version information (set at build time).
var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", envOrDefault("AUTHGATE_CONFIG_PATH", "configs/gateway.yaml"),
		"Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("authgate version %s (%s)\n", version, gitCommit)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("gateway exited", observability.Error(err))
	}
}

func run(cfg *config.Config, logger observability.Logger) error {
	logger.Info("starting authgate",
		observability.String("version", version),
		observability.String("commit", gitCommit),
	)

	tracer, err := observability.NewTracer(observability.TracerConfig{
		ServiceName:  cfg.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
		Enabled:      cfg.Tracing.Enabled,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	cacheClient := cache.New(&cfg.Redis, cache.WithLogger(logger))
	defer func() { _ = cacheClient.Close() }()

	userStore, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open user store: %w", err)
	}
	defer func() { _ = userStore.Close() }()

	provider, err := identity.NewOIDCProvider(&cfg.Provider, identity.WithOIDCLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to initialize identity provider: %w", err)
	}
	defer func() { _ = provider.Close() }()

	verifier := auth.NewVerifier(provider, cacheClient, &cfg.Auth,
		auth.WithVerifierLogger(logger))
	resolver := auth.NewResolver(userStore, cacheClient, &cfg.Auth,
		auth.WithResolverLogger(logger))
	limiter := ratelimit.New(cacheClient, &cfg.RateLimit,
		ratelimit.WithLogger(logger))

	orchestratorOpts := []auth.OrchestratorOption{
		auth.WithOrchestratorLogger(logger),
		auth.WithRateLimiter(limiter),
	}
	handlerOpts := []server.HandlerOption{
		server.WithHandlerLogger(logger),
		server.WithRateLimiter(limiter),
		server.WithProviderReadiness(provider),
	}

	if cfg.Emergency.Enabled {
		emergency := auth.NewEmergency(userStore, newMailer(cfg, logger), &cfg.Emergency,
			auth.WithEmergencyLogger(logger))
		orchestratorOpts = append(orchestratorOpts, auth.WithEmergency(emergency))
		handlerOpts = append(handlerOpts, server.WithEmergency(emergency))
	}

	orchestrator := auth.NewOrchestrator(verifier, resolver, orchestratorOpts...)
	handlers := server.NewHandlers(orchestrator, cacheClient, userStore, handlerOpts...)

	srv := server.NewServer(&cfg.Server, logger)
	srv.Use(
		middleware.RequestID(),
		middleware.ClientIP(cfg.Server.TrustedProxies),
		middleware.Logging(logger),
		middleware.Recovery(logger),
	)
	handlers.Register(srv.Engine())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("received signal, shutting down",
			observability.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if err := srv.Stop(ctx); err != nil {
		return err
	}
	if err := tracer.Shutdown(ctx); err != nil {
		logger.Warn("failed to shut down tracer", observability.Error(err))
	}
	return nil
}

// newMailer picks the delivery channel for recovery tokens. Without a
// configured SMTP relay tokens are logged so operators can still
// complete a recovery by hand.
func newMailer(cfg *config.Config, logger observability.Logger) mail.Mailer {
	if cfg.SMTP.Enabled {
		mailer, err := mail.NewSMTPMailer(&cfg.SMTP, logger)
		if err == nil {
			return mailer
		}
		logger.Error("failed to initialize smtp mailer, falling back to log delivery",
			observability.Error(err))
	}
	return mail.NewLogMailer(logger)
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
