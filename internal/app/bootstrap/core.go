package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/rejuvenators/booking-dispatch/internal/arbiter"
	"github.com/rejuvenators/booking-dispatch/internal/audit"
	"github.com/rejuvenators/booking-dispatch/internal/booking"
	appconfig "github.com/rejuvenators/booking-dispatch/internal/config"
	"github.com/rejuvenators/booking-dispatch/internal/escalation"
	"github.com/rejuvenators/booking-dispatch/internal/matching"
	"github.com/rejuvenators/booking-dispatch/internal/notify"
	"github.com/rejuvenators/booking-dispatch/internal/observability/metrics"
	"github.com/rejuvenators/booking-dispatch/internal/settings"
	"github.com/rejuvenators/booking-dispatch/internal/therapists"
	"github.com/rejuvenators/booking-dispatch/pkg/logging"
)

// Bookings is the booking persistence shared by the arbiter and sweeper.
type Bookings interface {
	arbiter.Store
	escalation.Store
}

// Directory is the therapist lookup shared by matching, the arbiter and the
// SMS webhook.
type Directory interface {
	matching.Directory
	matching.Calendar
	arbiter.Directory
	FindByPhone(ctx context.Context, phone string) (*therapists.Therapist, error)
}

// Core is the wired booking domain. Attempts is nil when the audit log is
// disabled.
type Core struct {
	Bookings  Bookings
	Directory Directory
	Resolver  *settings.Resolver
	Matcher   *matching.Matcher
	Arbiter   *arbiter.Arbiter
	Sweeper   *escalation.Sweeper
	Attempts  *audit.Service
}

// CoreDeps are the runtime resources Core is built on. A nil Pool selects
// the in-memory stores; a nil SQLDB disables the response audit log.
type CoreDeps struct {
	Pool       *pgxpool.Pool
	SQLDB      *sql.DB
	Redis      *redis.Client
	Dispatcher notify.Dispatcher
	Metrics    *metrics.DispatchMetrics
}

// LoadLocation resolves BUSINESS_TIMEZONE.
func LoadLocation(cfg *appconfig.Config) (*time.Location, error) {
	if cfg.BusinessTimezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(cfg.BusinessTimezone)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: load timezone %q: %w", cfg.BusinessTimezone, err)
	}
	return loc, nil
}

// BuildCore wires stores, settings, matching, the arbiter and the sweeper.
func BuildCore(cfg *appconfig.Config, deps CoreDeps, logger *logging.Logger) (*Core, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("bootstrap: dispatcher is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	loc, err := LoadLocation(cfg)
	if err != nil {
		return nil, err
	}

	core := &Core{}
	var source settings.Source
	if deps.Pool != nil {
		core.Bookings = booking.NewStore(deps.Pool, cfg.CodePrefix)
		core.Directory = therapists.NewStore(deps.Pool)
		source = settings.NewDBSource(deps.Pool)
	} else {
		logger.Warn("no database configured; using in-memory booking store")
		mem := booking.NewMemoryStore()
		core.Bookings = mem
		core.Directory = therapists.NewMemoryDirectory(mem)
		source = settings.StaticSource(parseKeyValues(cfg.DevSettings))
	}

	core.Resolver = settings.NewResolver(source, deps.Redis, cfg.SettingsCacheTTL, loc, logger)
	core.Matcher = matching.NewMatcher(core.Directory, core.Directory, logger)

	var recorder arbiter.AttemptRecorder
	if deps.SQLDB != nil {
		core.Attempts = audit.NewService(deps.SQLDB)
		recorder = core.Attempts
	}
	core.Arbiter = arbiter.New(core.Bookings, core.Directory, core.Matcher, core.Resolver, deps.Dispatcher, recorder, deps.Metrics, logger)
	core.Sweeper = escalation.NewSweeper(core.Bookings, core.Matcher, core.Resolver, deps.Dispatcher, deps.Metrics, logger).
		WithBatchSize(cfg.EscalationBatchSize)
	return core, nil
}
