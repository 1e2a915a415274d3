package redisx

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// RateCache keeps the USD/INR rate under a single key.
type RateCache struct {
	RDB *redis.Client
	Key string
}

func (c *RateCache) GetRate(ctx context.Context) (decimal.Decimal, bool, error) {
	raw, err := c.RDB.Get(ctx, c.Key).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Decimal{}, false, nil
	}
	if err != nil {
		return decimal.Decimal{}, false, err
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, false, errors.Wrapf(err, "cached rate %q", raw)
	}
	return d, true, nil
}

func (c *RateCache) SetRate(ctx context.Context, rate decimal.Decimal, ttl time.Duration) error {
	return c.RDB.Set(ctx, c.Key, rate.String(), ttl).Err()
}
