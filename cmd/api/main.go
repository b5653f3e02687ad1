package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rejuvenators/booking-dispatch/cmd/mainconfig"
	"github.com/rejuvenators/booking-dispatch/internal/api/router"
	"github.com/rejuvenators/booking-dispatch/internal/app/bootstrap"
	appconfig "github.com/rejuvenators/booking-dispatch/internal/config"
	"github.com/rejuvenators/booking-dispatch/internal/escalation"
	"github.com/rejuvenators/booking-dispatch/internal/http/handlers"
	httpmiddleware "github.com/rejuvenators/booking-dispatch/internal/http/middleware"
	"github.com/rejuvenators/booking-dispatch/internal/messaging"
	"github.com/rejuvenators/booking-dispatch/internal/observability/metrics"
	"github.com/rejuvenators/booking-dispatch/pkg/logging"
)

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting booking-dispatch API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var pool *pgxpool.Pool
	if !cfg.UseMemoryStore {
		pool = connectPostgresPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, logger)
		if pool == nil {
			logger.Error("DATABASE_URL is required unless USE_MEMORY_STORE=true")
			os.Exit(1)
		}
		defer pool.Close()
	}
	var sqlDB *sql.DB
	if pool != nil {
		sqlDB = stdlib.OpenDBFromPool(pool)
		defer func() { _ = sqlDB.Close() }()
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	var awsCfg *aws.Config
	if mainconfig.NeedsAWS(cfg) {
		loaded, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		awsCfg = &loaded
	}

	metricsHandler, dispatchMetrics := setupDispatchMetrics()

	dispatcher, err := bootstrap.BuildDispatcher(cfg, awsCfg, dispatchMetrics, logger)
	if err != nil {
		logger.Error("failed to build notification dispatcher", "error", err)
		os.Exit(1)
	}
	core, err := bootstrap.BuildCore(cfg, bootstrap.CoreDeps{
		Pool:       pool,
		SQLDB:      sqlDB,
		Redis:      redisClient,
		Dispatcher: dispatcher,
		Metrics:    dispatchMetrics,
	}, logger)
	if err != nil {
		logger.Error("failed to wire booking core", "error", err)
		os.Exit(1)
	}

	// The memory store is process-local, so the sweep has to run here.
	if pool == nil {
		go escalation.NewWorker(core.Sweeper, logger).WithInterval(cfg.EscalationInterval).Run(ctx)
	}

	var attempts http.Handler
	if core.Attempts != nil {
		attempts = handlers.NewAttemptsHandler(core.Bookings, core.Attempts, cfg.SweepToken, logger)
	}

	smsAuthToken := ""
	if cfg.TwilioValidateHooks {
		smsAuthToken = cfg.TwilioAuthToken
	}
	r := router.New(&router.Config{
		Logger:          logger,
		Health:          handlers.Health,
		MetricsHandler:  metricsHandler,
		BookingResponse: handlers.NewBookingResponseHandler(core.Arbiter, cfg.BrandName, cfg.SupportPhone, logger),
		SMSWebhook: handlers.NewSMSWebhookHandler(core.Arbiter, core.Directory, messaging.NewDeduper(redisClient, 24*time.Hour),
			handlers.SMSWebhookConfig{AuthToken: smsAuthToken, Brand: cfg.BrandName, SupportPhone: cfg.SupportPhone},
			dispatchMetrics, logger),
		Sweep:           handlers.NewSweepHandler(core.Sweeper, cfg.SweepToken, logger),
		Attempts:        attempts,
		SettingsRefresh: handlers.NewSettingsRefreshHandler(core.Resolver, cfg.SweepToken, logger),
		RateLimiter:     httpmiddleware.NewRateLimiter(redisClient, cfg.ResponseRateLimit, cfg.ResponseRateWindow, logger),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// setupDispatchMetrics builds a private registry with process collectors
// and the dispatch series.
func setupDispatchMetrics() (http.Handler, *metrics.DispatchMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewDispatchMetrics(reg)
}

func connectPostgresPool(ctx context.Context, databaseURL string, maxConns int, logger *logging.Logger) *pgxpool.Pool {
	if strings.TrimSpace(databaseURL) == "" {
		return nil
	}
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		logger.Error("invalid DATABASE_URL", "error", err)
		return nil
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Error("postgres ping failed", "error", err)
		pool.Close()
		return nil
	}
	return pool
}
