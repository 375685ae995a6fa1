package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/onmp21/glamour-chat-center-34-sub000/internal/api/router"
	"github.com/onmp21/glamour-chat-center-34-sub000/internal/app/bootstrap"
	"github.com/onmp21/glamour-chat-center-34-sub000/internal/audit"
	"github.com/onmp21/glamour-chat-center-34-sub000/internal/channels"
	appconfig "github.com/onmp21/glamour-chat-center-34-sub000/internal/config"
	"github.com/onmp21/glamour-chat-center-34-sub000/internal/http/handlers"
	httpmiddleware "github.com/onmp21/glamour-chat-center-34-sub000/internal/http/middleware"
	"github.com/onmp21/glamour-chat-center-34-sub000/internal/inbox"
	"github.com/onmp21/glamour-chat-center-34-sub000/internal/messaging"
	"github.com/onmp21/glamour-chat-center-34-sub000/internal/observability/metrics"
	"github.com/onmp21/glamour-chat-center-34-sub000/pkg/logging"
)

func main() {
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting chat center API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"realtime", cfg.RealtimeBackend,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(cfg *appconfig.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, err := channels.Load(cfg.ChannelsJSON, cfg.ChannelsFile, cfg.DefaultChannelTable)
	if err != nil {
		return err
	}

	pool, err := bootstrap.BuildPgxPool(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if pool == nil {
		return errors.New("DATABASE_URL is required")
	}
	defer pool.Close()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}

	auditDB, err := bootstrap.BuildAuditDB(cfg)
	if err != nil {
		return err
	}
	if auditDB != nil {
		defer auditDB.Close()
	}

	metricsHandler, inboxMetrics := setupMetrics()

	listener, notifier, err := bootstrap.BuildRealtime(cfg.RealtimeBackend, pool, redisClient, logger)
	if err != nil {
		return err
	}

	svc := inbox.NewService(registry, inbox.NewPGRecordStore(pool), bootstrap.BuildStatusStore(redisClient), logger).
		WithMetrics(inboxMetrics).
		WithUnreadLookup(cfg.UnreadLookupTimeout, cfg.UnreadConcurrency).
		WithRealtime(listener, notifier, cfg.RefreshDebounce)

	var sender handlers.MessageSender
	if client, reason := bootstrap.BuildGatewayClient(cfg, logger); client != nil {
		sender = client
	} else {
		logger.Warn("outbound sending disabled", "reason", reason)
	}

	webhook := messaging.NewHandler(cfg.WhatsAppWebhookSecret, registry, svc, bootstrap.BuildDeduper(redisClient, pool), logger).
		WithMetrics(inboxMetrics)

	limiter := httpmiddleware.NewRateLimiter(20, 40)
	go limiter.RunEviction(ctx, 5*time.Minute, 10*time.Minute)

	if cfg.DashboardJWTSecret == "" {
		logger.Warn("DASHBOARD_JWT_SECRET not set; dashboard API is unauthenticated")
	}

	handler := router.New(&router.Config{
		Logger:             logger,
		InboxHandler:       handlers.NewInboxHandler(svc, sender, audit.NewService(auditDB), logger),
		WebhookHandler:     webhook,
		HealthHandler:      handlers.NewHealthHandler(healthChecks(pool, redisClient)),
		MetricsHandler:     metricsHandler,
		DashboardJWTSecret: cfg.DashboardJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		WebhookLimiter:     limiter,
	})

	// No WriteTimeout: dashboard streams are long-lived hijacked connections.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// setupMetrics builds a dedicated registry so tests can construct it more
// than once.
func setupMetrics() (http.Handler, *metrics.InboxMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewInboxMetrics(reg)
}

func healthChecks(pool *pgxpool.Pool, redisClient *redis.Client) map[string]handlers.HealthCheck {
	checks := map[string]handlers.HealthCheck{}
	if pool != nil {
		checks["postgres"] = pool.Ping
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}
	return checks
}
