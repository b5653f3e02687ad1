package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rejuvenators/booking-dispatch/cmd/mainconfig"
	"github.com/rejuvenators/booking-dispatch/internal/app/bootstrap"
	appconfig "github.com/rejuvenators/booking-dispatch/internal/config"
	"github.com/rejuvenators/booking-dispatch/internal/escalation"
	"github.com/rejuvenators/booking-dispatch/internal/observability/metrics"
	"github.com/rejuvenators/booking-dispatch/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting escalation worker", "env", cfg.Env, "interval", cfg.EscalationInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required for the escalation worker")
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer func() { _ = sqlDB.Close() }()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, false)
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

	m := metrics.NewDispatchMetrics(prometheus.DefaultRegisterer)
	dispatcher, err := bootstrap.BuildDispatcher(cfg, awsCfg, m, logger)
	if err != nil {
		logger.Error("failed to build notification dispatcher", "error", err)
		os.Exit(1)
	}
	core, err := bootstrap.BuildCore(cfg, bootstrap.CoreDeps{
		Pool:       pool,
		SQLDB:      sqlDB,
		Redis:      redisClient,
		Dispatcher: dispatcher,
		Metrics:    m,
	}, logger)
	if err != nil {
		logger.Error("failed to wire booking core", "error", err)
		os.Exit(1)
	}

	escalation.NewWorker(core.Sweeper, logger).WithInterval(cfg.EscalationInterval).Run(ctx)
	logger.Info("escalation worker stopped")
}
