package settings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rejuvenators/booking-dispatch/internal/booking"
)

func completeValues() map[string]string {
	return map[string]string{
		KeyResponseTimeout: "30",
		KeyOpeningHour:     "9",
		KeyClosingHour:     "17",
		KeyBeforeBuffer:    "15",
		KeyAfterBuffer:     "15",
	}
}

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

type countingSource struct {
	values map[string]string
	err    error
	calls  int
}

func (c *countingSource) Load(ctx context.Context) (map[string]string, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return StaticSource(c.values).Load(ctx)
}

func TestParseComplete(t *testing.T) {
	loc, err := time.LoadLocation("Australia/Sydney")
	require.NoError(t, err)

	snap, err := Parse(completeValues(), loc)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, snap.ResponseTimeout)
	assert.Equal(t, 9, snap.OpeningHour)
	assert.Equal(t, 17, snap.ClosingHour)
	assert.Equal(t, 15*time.Minute, snap.BeforeBuffer)
	assert.Equal(t, loc, snap.Location)
	assert.True(t, snap.Configured())

	created := time.Date(2024, 10, 3, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, created.Add(time.Hour), snap.FinalDeadline(created))
}

func TestParseAcceptsClockStyleHours(t *testing.T) {
	values := completeValues()
	values[KeyOpeningHour] = "08:00"
	values[KeyClosingHour] = "20.0"

	snap, err := Parse(values, nil)
	require.NoError(t, err)
	assert.Equal(t, 8, snap.OpeningHour)
	assert.Equal(t, 20, snap.ClosingHour)
	assert.Equal(t, time.UTC, snap.Location)
}

func TestParseMissingIsNotConfigured(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(map[string]string)
		mention string
	}{
		{"missing timeout", func(v map[string]string) { delete(v, KeyResponseTimeout) }, KeyResponseTimeout},
		{"blank buffer", func(v map[string]string) { v[KeyAfterBuffer] = " " }, KeyAfterBuffer},
		{"garbage hour", func(v map[string]string) { v[KeyOpeningHour] = "nine" }, KeyOpeningHour},
		{"zero timeout", func(v map[string]string) { v[KeyResponseTimeout] = "0" }, "must be positive"},
		{"inverted hours", func(v map[string]string) { v[KeyOpeningHour] = "18" }, "business hours"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values := completeValues()
			tt.mutate(values)
			_, err := Parse(values, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, booking.ErrNotConfigured)
			assert.Contains(t, err.Error(), tt.mention)
		})
	}

	var zero Snapshot
	assert.False(t, zero.Configured())
}

func TestResolverCachesCompleteSettings(t *testing.T) {
	client, mr := setupTestRedis(t)
	src := &countingSource{values: completeValues()}
	r := NewResolver(src, client, 5*time.Minute, nil, nil)
	ctx := context.Background()

	_, err := r.Resolve(ctx)
	require.NoError(t, err)
	_, err = r.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)
	assert.True(t, mr.Exists(cacheKey))
	assert.Equal(t, 5*time.Minute, mr.TTL(cacheKey))

	require.NoError(t, r.Invalidate(ctx))
	_, err = r.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestResolverDoesNotCacheIncompleteSettings(t *testing.T) {
	client, mr := setupTestRedis(t)
	values := completeValues()
	delete(values, KeyBeforeBuffer)
	src := &countingSource{values: values}
	r := NewResolver(src, client, time.Minute, nil, nil)

	_, err := r.Resolve(context.Background())
	assert.ErrorIs(t, err, booking.ErrNotConfigured)
	assert.False(t, mr.Exists(cacheKey))
}

func TestResolverFallsBackWhenRedisDown(t *testing.T) {
	client, mr := setupTestRedis(t)
	mr.Close()
	src := &countingSource{values: completeValues()}

	snap, err := NewResolver(src, client, time.Minute, nil, nil).Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, snap.ResponseTimeout)
}

func TestResolverSourceError(t *testing.T) {
	src := &countingSource{err: errors.New("db down")}
	_, err := NewResolver(src, nil, time.Minute, nil, nil).Resolve(context.Background())
	assert.EqualError(t, err, "db down")
}

func TestDBSourceLoad(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT key, value FROM system_settings WHERE key = ANY\\(\\$1\\)").
		WithArgs(RequiredKeys).
		WillReturnRows(pgxmock.NewRows([]string{"key", "value"}).
			AddRow(KeyResponseTimeout, "60").
			AddRow(KeyOpeningHour, "9"))

	values, err := NewDBSource(mock).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{KeyResponseTimeout: "60", KeyOpeningHour: "9"}, values)
	assert.NoError(t, mock.ExpectationsWereMet())
}
