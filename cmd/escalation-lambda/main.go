package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/rejuvenators/booking-dispatch/cmd/mainconfig"
	"github.com/rejuvenators/booking-dispatch/internal/app/bootstrap"
	appconfig "github.com/rejuvenators/booking-dispatch/internal/config"
	"github.com/rejuvenators/booking-dispatch/internal/escalation"
	"github.com/rejuvenators/booking-dispatch/pkg/logging"
)

// sweeper is satisfied by *escalation.Sweeper.
type sweeper interface {
	Sweep(ctx context.Context) ([]escalation.Outcome, error)
}

// summary is the Lambda result, visible in the invocation log.
type summary struct {
	Processed int            `json:"processed"`
	Actions   map[string]int `json:"actions"`
	Failed    int            `json:"failed"`
}

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	sqlDB := stdlib.OpenDBFromPool(pool)
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, false)

	var awsCfg *aws.Config
	if mainconfig.NeedsAWS(cfg) {
		loaded, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		awsCfg = &loaded
	}
	dispatcher, err := bootstrap.BuildDispatcher(cfg, awsCfg, nil, logger)
	if err != nil {
		logger.Error("failed to build notification dispatcher", "error", err)
		os.Exit(1)
	}
	core, err := bootstrap.BuildCore(cfg, bootstrap.CoreDeps{
		Pool:       pool,
		SQLDB:      sqlDB,
		Redis:      redisClient,
		Dispatcher: dispatcher,
	}, logger)
	if err != nil {
		logger.Error("failed to wire booking core", "error", err)
		os.Exit(1)
	}

	lambda.Start(func(ctx context.Context, evt events.CloudWatchEvent) (summary, error) {
		return handle(ctx, core.Sweeper, logger, evt)
	})
}

// handle runs one sweep per scheduled event. Per-booking failures are
// reported in the summary; only a sweep-level error fails the invocation.
func handle(ctx context.Context, s sweeper, logger *logging.Logger, evt events.CloudWatchEvent) (summary, error) {
	outcomes, err := s.Sweep(ctx)
	out := summary{Processed: len(outcomes), Actions: make(map[string]int)}
	for _, o := range outcomes {
		out.Actions[o.Action]++
		if o.Action == escalation.ActionFailed {
			out.Failed++
		}
	}
	logger.Info("escalation sweep invoked",
		"event_id", evt.ID,
		"source", evt.Source,
		"processed", out.Processed,
		"failed", out.Failed,
	)
	return out, err
}
