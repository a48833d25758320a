package qrtoken

import (
	"context"
	"fmt"
	"time"

	"parcelqr/pkg/rediskey"
	"parcelqr/pkg/util"

	"github.com/redis/go-redis/v9"
)

// AttemptWindow counts verification attempts for a token over a trailing
// window ending at now.
type AttemptWindow interface {
	Attempts(ctx context.Context, token string, now time.Time) (int64, error)
	Observe(ctx context.Context, token string, now time.Time) error
}

// StoreWindow counts attempt rows in the database. Observe is a no-op
// because Store.RecordVerificationAttempt already writes the row.
type StoreWindow struct {
	store *Store
	size  time.Duration
}

func NewStoreWindow(store *Store, size time.Duration) *StoreWindow {
	return &StoreWindow{store: store, size: size}
}

func (w *StoreWindow) Attempts(ctx context.Context, token string, now time.Time) (int64, error) {
	return w.store.CountAttemptsSince(ctx, token, now.Add(-w.size))
}

func (w *StoreWindow) Observe(context.Context, string, time.Time) error {
	return nil
}

// KEYS[1] attempts zset, ARGV[1] window start (ms).
var countScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
return redis.call('ZCARD', KEYS[1])
`)

// KEYS[1] attempts zset, ARGV[1] score (ms), ARGV[2] member, ARGV[3] ttl (ms).
var observeScript = redis.NewScript(`
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// RedisWindow keeps one sorted set of attempt timestamps per token.
type RedisWindow struct {
	client *redis.Client
	size   time.Duration
}

func NewRedisWindow(client *redis.Client, size time.Duration) *RedisWindow {
	return &RedisWindow{client: client, size: size}
}

func (w *RedisWindow) Attempts(ctx context.Context, token string, now time.Time) (int64, error) {
	start := now.Add(-w.size).UnixMilli()
	n, err := countScript.Run(ctx, w.client, []string{rediskey.BuildQRAttemptsKey(token)}, start).Int64()
	if err != nil {
		return 0, fmt.Errorf("count attempts in redis window: %w", err)
	}
	return n, nil
}

func (w *RedisWindow) Observe(ctx context.Context, token string, now time.Time) error {
	suffix, err := util.GenerateVerificationCode()
	if err != nil {
		return fmt.Errorf("observe attempt in redis window: %w", err)
	}
	member := fmt.Sprintf("%d-%s", now.UnixNano(), suffix)
	ttl := w.size.Milliseconds()
	if ttl <= 0 {
		ttl = 1
	}

	if err := observeScript.Run(ctx, w.client, []string{rediskey.BuildQRAttemptsKey(token)}, now.UnixMilli(), member, ttl).Err(); err != nil {
		return fmt.Errorf("observe attempt in redis window: %w", err)
	}
	return nil
}
