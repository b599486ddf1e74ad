package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounterStore is a CounterStore backed by Redis, for deployments
// running more than one gateway instance. Each bucket is one Redis key
// with a TTL slightly longer than its retention window, so sweeping is
// delegated to Redis expiry.
//
// Admission uses increment-then-refund: both counters are INCRed in one
// pipeline and refunded if a limit turns out to be exceeded. The transient
// overshoot is invisible to callers (totals are unchanged once the call
// returns) and concurrent requests can never both take the last slot.
type RedisCounterStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisCounterStore creates a store over a new Redis client.
func NewRedisCounterStore(addr, password string, db, poolSize int) *RedisCounterStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})
	return &RedisCounterStore{client: client, prefix: "trustgate:rl", now: time.Now}
}

// NewRedisCounterStoreWithClient creates a store over an existing client.
// Used by tests running against miniredis.
func NewRedisCounterStoreWithClient(client *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{client: client, prefix: "trustgate:rl", now: time.Now}
}

// Ping verifies the Redis connection.
func (r *RedisCounterStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisCounterStore) bucketKey(key string, id BucketID) string {
	return fmt.Sprintf("%s:%s:%s:%d", r.prefix, id.Kind, key, id.Start)
}

// CheckAndIncrement admits or rejects one request for key.
func (r *RedisCounterStore) CheckAndIncrement(ctx context.Context, key string, dailyLimit, minuteLimit int) (Decision, error) {
	now := r.now()
	dailyBucket := BucketAt(KindDaily, now)
	minuteBucket := BucketAt(KindMinute, now)
	dailyKey := r.bucketKey(key, dailyBucket)
	minuteKey := r.bucketKey(key, minuteBucket)

	pipe := r.client.TxPipeline()
	dailyIncr := pipe.Incr(ctx, dailyKey)
	pipe.Expire(ctx, dailyKey, KindDaily.Retention()+time.Hour)
	minuteIncr := pipe.Incr(ctx, minuteKey)
	pipe.Expire(ctx, minuteKey, KindMinute.Retention()+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("increment counters: %w", err)
	}

	dailyCount := int(dailyIncr.Val())
	minuteCount := int(minuteIncr.Val())

	if dailyCount > dailyLimit {
		if err := r.refund(ctx, dailyKey, minuteKey); err != nil {
			return Decision{}, err
		}
		return Decision{
			Kind:        DailyExceeded,
			DailyLimit:  dailyLimit,
			MinuteLimit: minuteLimit,
			ResetAt:     dailyBucket.NextStart(),
		}, nil
	}

	if minuteCount > minuteLimit {
		if err := r.refund(ctx, dailyKey, minuteKey); err != nil {
			return Decision{}, err
		}
		return Decision{
			Kind:        MinuteExceeded,
			DailyLimit:  dailyLimit,
			MinuteLimit: minuteLimit,
			ResetAt:     minuteBucket.NextStart(),
		}, nil
	}

	return Decision{
		Kind:            Allowed,
		DailyLimit:      dailyLimit,
		MinuteLimit:     minuteLimit,
		DailyRemaining:  dailyLimit - dailyCount,
		MinuteRemaining: minuteLimit - minuteCount,
		ResetAt:         dailyBucket.NextStart(),
	}, nil
}

// refund gives back both increments after a rejected admission.
func (r *RedisCounterStore) refund(ctx context.Context, dailyKey, minuteKey string) error {
	pipe := r.client.TxPipeline()
	pipe.Decr(ctx, dailyKey)
	pipe.Decr(ctx, minuteKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("refund counters: %w", err)
	}
	return nil
}

// Usage returns current totals without mutating any counter.
func (r *RedisCounterStore) Usage(ctx context.Context, key string) (Usage, error) {
	now := r.now()
	dailyBucket := BucketAt(KindDaily, now)
	minuteBucket := BucketAt(KindMinute, now)

	pipe := r.client.Pipeline()
	daily := pipe.Get(ctx, r.bucketKey(key, dailyBucket))
	minute := pipe.Get(ctx, r.bucketKey(key, minuteBucket))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return Usage{}, fmt.Errorf("read counters: %w", err)
	}

	usage := Usage{DailyResetAt: dailyBucket.NextStart()}
	if count, err := daily.Int(); err == nil {
		usage.DailyCount = count
	}
	if count, err := minute.Int(); err == nil {
		usage.MinuteCount = count
	}
	return usage, nil
}

// Close releases the Redis client.
func (r *RedisCounterStore) Close() {
	_ = r.client.Close()
}
