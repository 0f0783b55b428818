// Package velocity keeps a best-effort, Redis-backed running sum of daily
// transaction volume per account. The cache is advisory only: the scoring
// engine always recomputes from the transactional store, and a cold or
// unavailable Redis simply means a cache miss.
package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Cache aggregates per-account daily volume in Redis.
type Cache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// New creates a velocity cache. ttl bounds how long a day bucket lives past
// its last write.
func New(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &Cache{rdb: rdb, ttl: ttl, logger: logger}
}

func key(accountID uuid.UUID, day time.Time) string {
	return fmt.Sprintf("velocity:%s:%s", accountID, day.UTC().Format("20060102"))
}

// Add folds an observed amount into the account's day bucket. Errors are
// logged and swallowed; the bucket is not compliance-critical state.
func (c *Cache) Add(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, day time.Time) {
	if c == nil || c.rdb == nil {
		return
	}
	k := key(accountID, day)
	f, _ := amount.Float64()
	pipe := c.rdb.Pipeline()
	pipe.IncrByFloat(ctx, k, f)
	pipe.Expire(ctx, k, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Debug("velocity cache write failed", zap.String("key", k), zap.Error(err))
	}
}

// DaySum returns the cached volume for the account's day bucket. The second
// return is false on a miss or any Redis error.
func (c *Cache) DaySum(ctx context.Context, accountID uuid.UUID, day time.Time) (decimal.Decimal, bool) {
	if c == nil || c.rdb == nil {
		return decimal.Zero, false
	}
	k := key(accountID, day)
	val, err := c.rdb.Get(ctx, k).Float64()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug("velocity cache read failed", zap.String("key", k), zap.Error(err))
		}
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(val), true
}
