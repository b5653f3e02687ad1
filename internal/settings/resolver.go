package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"github.com/rejuvenators/booking-dispatch/internal/booking"
	"github.com/rejuvenators/booking-dispatch/pkg/logging"
)

const cacheKey = "settings:system"

// Source loads raw settings.
type Source interface {
	Load(ctx context.Context) (map[string]string, error)
}

// Querier is the subset of pgx used by DBSource.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// DBSource reads the system_settings table.
type DBSource struct {
	db Querier
}

// NewDBSource creates a Postgres settings source.
func NewDBSource(db Querier) *DBSource {
	return &DBSource{db: db}
}

// Load returns the required keys that exist in system_settings.
func (s *DBSource) Load(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.Query(ctx, `SELECT key, value FROM system_settings WHERE key = ANY($1)`, RequiredKeys)
	if err != nil {
		return nil, fmt.Errorf("settings: load: %w: %w", booking.ErrUpstream, err)
	}
	defer rows.Close()

	out := make(map[string]string, len(RequiredKeys))
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("settings: scan: %w", err)
		}
		out[key] = value
	}
	return out, rows.Err()
}

// StaticSource serves fixed values. Used by tests and memory mode.
type StaticSource map[string]string

// Load returns a copy of the static values.
func (s StaticSource) Load(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out, nil
}

// Resolver produces Snapshots, caching the raw values in Redis.
type Resolver struct {
	source   Source
	redis    *redis.Client
	ttl      time.Duration
	location *time.Location
	logger   *logging.Logger
}

// NewResolver creates a resolver. A nil redis client disables caching.
func NewResolver(source Source, redisClient *redis.Client, ttl time.Duration, loc *time.Location, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Resolver{source: source, redis: redisClient, ttl: ttl, location: loc, logger: logger}
}

// Resolve returns the current settings Snapshot. It fails with
// booking.ErrNotConfigured when a required key is absent.
func (r *Resolver) Resolve(ctx context.Context) (Snapshot, error) {
	values, err := r.load(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Parse(values, r.location)
}

// Invalidate drops the cached values so the next Resolve reads the source.
func (r *Resolver) Invalidate(ctx context.Context) error {
	if r.redis == nil {
		return nil
	}
	if err := r.redis.Del(ctx, cacheKey).Err(); err != nil {
		return fmt.Errorf("settings: invalidate: %w", err)
	}
	return nil
}

func (r *Resolver) load(ctx context.Context) (map[string]string, error) {
	if r.redis != nil {
		data, err := r.redis.Get(ctx, cacheKey).Bytes()
		switch {
		case err == nil:
			var cached map[string]string
			if jsonErr := json.Unmarshal(data, &cached); jsonErr == nil {
				return cached, nil
			}
			r.logger.Warn("settings: discarding unreadable cache entry")
		case !errors.Is(err, redis.Nil):
			r.logger.Warn("settings: cache read failed", "error", err)
		}
	}

	values, err := r.source.Load(ctx)
	if err != nil {
		return nil, err
	}

	// Incomplete sets are never cached.
	if r.redis != nil {
		if _, parseErr := Parse(values, r.location); parseErr == nil {
			data, _ := json.Marshal(values)
			if err := r.redis.Set(ctx, cacheKey, data, r.ttl).Err(); err != nil {
				r.logger.Warn("settings: cache write failed", "error", err)
			}
		}
	}
	return values, nil
}
