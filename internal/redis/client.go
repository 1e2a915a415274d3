package redisx

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewClientWithBackoff pings until Redis answers or ctx ends, doubling the
// wait between attempts up to 5s.
func NewClientWithBackoff(ctx context.Context, cfg Config, log *zap.SugaredLogger) (*redis.Client, error) {
	backoff := 200 * time.Millisecond
	max := 5 * time.Second

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	for {
		err := rdb.Ping(ctx).Err()
		if err == nil {
			return rdb, nil
		}
		if log != nil {
			log.Debugw("redis not ready", "addr", cfg.Addr, "retry_in", backoff, "err", err)
		}
		select {
		case <-ctx.Done():
			_ = rdb.Close()
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < max {
			backoff *= 2
			if backoff > max {
				backoff = max
			}
		}
	}
}
