package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers inbound message ids so webhook retries are processed
// once.
type Deduper struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
}

// NewDeduper creates a Redis-backed deduper. A nil client makes every
// message look new.
func NewDeduper(client *redis.Client, ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Deduper{redis: client, ttl: ttl, prefix: "sms:inbound:"}
}

// FirstSeen claims id and reports whether this call was the first to see it.
func (d *Deduper) FirstSeen(ctx context.Context, id string) (bool, error) {
	if d == nil || d.redis == nil || id == "" {
		return true, nil
	}
	ok, err := d.redis.SetNX(ctx, d.prefix+id, 1, d.ttl).Result()
	if err != nil {
		return true, fmt.Errorf("messaging: dedupe: %w", err)
	}
	return ok, nil
}

// Forget releases id so a redelivery is processed again.
func (d *Deduper) Forget(ctx context.Context, id string) error {
	if d == nil || d.redis == nil || id == "" {
		return nil
	}
	return d.redis.Del(ctx, d.prefix+id).Err()
}
