package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rejuvenators/booking-dispatch/cmd/mainconfig"
	"github.com/rejuvenators/booking-dispatch/internal/app/bootstrap"
	appconfig "github.com/rejuvenators/booking-dispatch/internal/config"
	"github.com/rejuvenators/booking-dispatch/internal/notify"
	"github.com/rejuvenators/booking-dispatch/internal/observability/metrics"
	"github.com/rejuvenators/booking-dispatch/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	if cfg.NotifyQueueURL == "" {
		logger.Error("NOTIFY_QUEUE_URL is required for the notify worker")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	m := metrics.NewDispatchMetrics(prometheus.DefaultRegisterer)
	service, err := bootstrap.BuildNotifyService(cfg, &awsCfg, m, logger)
	if err != nil {
		logger.Error("failed to build notification service", "error", err)
		os.Exit(1)
	}

	client := sqs.NewFromConfig(awsCfg)
	workers := cfg.NotifyWorkerCount
	if workers <= 0 {
		workers = 1
	}
	logger.Info("starting notify workers", "count", workers, "queue", cfg.NotifyQueueURL, "max_receives", cfg.NotifyMaxReceives)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			notify.NewConsumer(client, cfg.NotifyQueueURL, service, logger).
				WithMaxReceives(cfg.NotifyMaxReceives).
				Run(ctx)
		}()
	}
	wg.Wait()
	logger.Info("notify workers stopped")
}
