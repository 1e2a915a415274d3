package redisx

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Publisher appends JSON entries to one capped stream.
type Publisher struct {
	RDB    *redis.Client
	Stream string
	MaxLen int64
}

func (p *Publisher) Publish(ctx context.Context, v any) error {
	_, err := XAddJSON(ctx, p.RDB, p.Stream, p.MaxLen, v)
	return err
}
