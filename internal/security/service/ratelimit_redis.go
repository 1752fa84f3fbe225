package service

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/agriquest/authcore/pkg/idx"
	"github.com/redis/go-redis/v9"
)

const redisCounterPrefix = "ratelimit:"

// RedisCounterStore keeps hit timestamps in Redis sorted sets, scored by unix
// nanoseconds, so multiple instances share one admission budget. Every Redis
// failure degrades to the embedded in-memory store: rate limiting keeps
// working, it just stops being shared until Redis comes back.
type RedisCounterStore struct {
	Client   redis.Cmdable
	Logger   *slog.Logger
	fallback *MemoryCounterStore
}

func NewRedisCounterStore(client redis.Cmdable, logger *slog.Logger) *RedisCounterStore {
	return &RedisCounterStore{
		Client:   client,
		Logger:   logger,
		fallback: NewMemoryCounterStore(),
	}
}

func (r *RedisCounterStore) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (int, time.Time, error) {
	rkey := redisCounterPrefix + key
	cutoff := strconv.FormatInt(now.Add(-window).UnixNano(), 10)
	score := float64(now.UnixNano())

	// The member must be unique per hit; two instances recording the same
	// nanosecond would otherwise collapse into one set entry.
	member := idx.New().String()

	pipe := r.Client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, rkey, "-inf", "("+cutoff)
	pipe.ZAdd(ctx, rkey, redis.Z{Score: score, Member: member})
	card := pipe.ZCard(ctx, rkey)
	oldestCmd := pipe.ZRangeWithScores(ctx, rkey, 0, 0)
	pipe.Expire(ctx, rkey, window)

	if _, err := pipe.Exec(ctx); err != nil {
		r.Logger.Warn("redis rate counter unavailable, using memory fallback", "error", err)
		return r.fallback.Hit(ctx, key, window, now)
	}

	count := int(card.Val())
	var oldest time.Time
	if zs := oldestCmd.Val(); len(zs) > 0 {
		oldest = time.Unix(0, int64(zs[0].Score))
	}
	return count, oldest, nil
}

func (r *RedisCounterStore) Reset(ctx context.Context, key string) error {
	if err := r.Client.Del(ctx, redisCounterPrefix+key).Err(); err != nil {
		r.Logger.Warn("redis rate counter reset failed, resetting memory fallback", "error", err)
		return r.fallback.Reset(ctx, key)
	}
	return r.fallback.Reset(ctx, key)
}

// CleanupExpired only touches the memory fallback. Redis keys carry their own
// TTL via Expire and age out on their own.
func (r *RedisCounterStore) CleanupExpired(ctx context.Context, maxWindow time.Duration, now time.Time) error {
	return r.fallback.CleanupExpired(ctx, maxWindow, now)
}
