// Package main is the entry point for the phlagd server.
//
// The bootstrap sequence is:
//  1. Load configuration from environment variables.
//  2. Connect to PostgreSQL via pgxpool and apply pending migrations.
//  3. Create the repository, webhook dispatcher, and service.
//  4. Wire up the API key token validator.
//  5. Start the HTTP server.
//  6. Wait for SIGINT/SIGTERM, then gracefully shut down.
//
// Running with -create-api-key connects, migrates, mints a new API key, prints
// it to stdout, and exits without starting the server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/phlag/phlagd/internal/config"
	"github.com/phlag/phlagd/internal/logging"
	"github.com/phlag/phlagd/internal/metrics"
	"github.com/phlag/phlagd/internal/middleware"
	"github.com/phlag/phlagd/internal/repository"
	"github.com/phlag/phlagd/internal/server"
	"github.com/phlag/phlagd/internal/service"
	"github.com/phlag/phlagd/internal/tracing"
	"github.com/phlag/phlagd/internal/webhook"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	shutdownTimeout       = 10 * time.Second
	httpReadHeaderTimeout = 5 * time.Second
	httpReadTimeout       = 30 * time.Second
	httpIdleTimeout       = 2 * time.Minute
)

func main() {
	createAPIKey := flag.Bool("create-api-key", false, "create a new API key, print it, and exit")
	flag.Parse()

	if err := run(*createAPIKey); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(createAPIKey bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New(cfg.LogLevel)
	slog.SetDefault(log)

	shutdownTracer, err := tracing.Init(context.Background())
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Error("tracer shutdown error", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := runMigrations(pool); err != nil {
		return err
	}

	repo := repository.NewPostgresRepository(pool)

	if createAPIKey {
		keyID, secret, err := repo.CreateAPIKey(ctx)
		if err != nil {
			return fmt.Errorf("create api key: %w", err)
		}
		fmt.Printf("%s.%s\n", keyID, secret)
		return nil
	}

	m := metrics.New()
	metrics.RegisterPoolMetrics(m.Registry, pool)

	dispatcher := webhook.NewDispatcher(repo,
		webhook.WithLogger(log),
		webhook.WithTimeout(cfg.WebhookTimeout),
		webhook.WithMaxRetries(cfg.WebhookMaxRetries),
		webhook.WithDeliveryRecorder(m.RecordWebhookDelivery),
	)

	svc, err := service.New(repo,
		service.WithLogger(log),
		service.WithNotifier(dispatcher),
		service.WithEvaluationRecorder(m.RecordEvaluation),
	)
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}

	rateLimiter := middleware.NewRateLimiter(ctx, cfg.AuthRateLimit)
	defer rateLimiter.Stop()

	tokenValidator := &apiKeyTokenValidator{lookup: repo}
	apiHandler := server.NewHTTPHandlerWithBodyLimit(svc, cfg.MaxJSONBodySize)
	httpHandler := newHTTPHandler(apiHandler, m.Handler(), tokenValidator,
		middleware.WithOnAuthFailure(func() { m.AuthFailuresTotal.Inc() }),
		middleware.WithRateLimiter(rateLimiter),
	)
	httpHandler = m.HTTPMetricsMiddleware(httpHandler)
	httpHandler = middleware.HTTPRequestLogging(log)(httpHandler)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(httpHandler, "phlagd-http"),
		ReadHeaderTimeout: httpReadHeaderTimeout,
		ReadTimeout:       httpReadTimeout,
		IdleTimeout:       httpIdleTimeout,
	}

	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen HTTP %s: %w", cfg.HTTPAddr, err)
	}
	defer httpListener.Close()

	serveErrCh := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- fmt.Errorf("serve HTTP: %w", err)
		}
	}()

	log.Info("server started", "http_addr", cfg.HTTPAddr)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-serveErrCh:
	}
	stop()

	log.Info("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		if serveErr != nil {
			return serveErr
		}
		return fmt.Errorf("shutdown HTTP: %w", err)
	}

	return serveErr
}

// newHTTPHandler assembles the route tree: flag resolution and the
// management API under /v1/ require a bearer token, health is open, and
// /metrics is served from the Prometheus registry.
func newHTTPHandler(apiHandler, metricsHandler http.Handler, tokenValidator middleware.TokenValidator, opts ...middleware.AuthOption) http.Handler {
	protectedAPIHandler := middleware.HTTPBearerAuthMiddleware(tokenValidator, opts...)(apiHandler)

	mux := http.NewServeMux()
	mux.Handle("/v1/", protectedAPIHandler)
	mux.Handle("/flag/", protectedAPIHandler)
	mux.Handle("/all-flags/", protectedAPIHandler)
	mux.Handle("/get-flags/", protectedAPIHandler)
	mux.Handle("GET /healthz", apiHandler)
	mux.Handle("GET /metrics", metricsHandler)

	return mux
}

type apiKeyHashLookup interface {
	ValidateAPIKey(ctx context.Context, id string) (string, error)
}

type apiKeyTokenValidator struct {
	lookup apiKeyHashLookup
}

// ValidateToken checks a "keyID.secret" bearer token against the stored
// bcrypt hash and returns the key ID on success.
func (v *apiKeyTokenValidator) ValidateToken(ctx context.Context, token string) (string, error) {
	if v == nil || v.lookup == nil {
		return "", errors.New("api key validator is nil")
	}

	keyID, rawSecret, found := strings.Cut(token, ".")
	if !found || strings.TrimSpace(keyID) == "" || rawSecret == "" {
		return "", errors.New("invalid token format")
	}

	keyHash, err := v.lookup.ValidateAPIKey(ctx, keyID)
	if err != nil {
		return "", fmt.Errorf("lookup key hash: %w", err)
	}
	if !middleware.APIKeyMatchesHash(keyHash, rawSecret) {
		return "", errors.New("invalid token")
	}

	return keyID, nil
}
