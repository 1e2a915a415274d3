package redisx

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

const dataField = "data"

func EnsureGroup(ctx context.Context, rdb *redis.Client, stream, group string) error {
	err := rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return errors.Wrapf(err, "create group %s on %s", group, stream)
	}
	return nil
}

func isBusyGroup(err error) bool {
	if err == nil {
		return false
	}
	// v9 doesn't export ErrGroupExists; detect BUSYGROUP manually
	return strings.Contains(err.Error(), "BUSYGROUP")
}

// XAddJSON appends v under the "data" field. maxLen > 0 caps the stream
// length approximately.
func XAddJSON(ctx context.Context, rdb *redis.Client, stream string, maxLen int64, v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "marshal stream entry")
	}
	args := &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: map[string]any{dataField: string(b)},
	}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}
	return rdb.XAdd(ctx, args).Result()
}

type ReadOptions struct {
	Stream        string
	ID            string // ">" for new entries, "0" for this consumer's pending ones
	ConsumerGroup string
	ConsumerName  string
	Count         int64
	// Block < 0 returns immediately; 0 blocks forever.
	Block time.Duration
}

type Message struct {
	Stream string
	ID     string
	Data   []byte
}

func (m Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return errors.Newf("stream entry %s has no %s field", m.ID, dataField)
	}
	return json.Unmarshal(m.Data, v)
}

func XReadGroupJSON(ctx context.Context, rdb *redis.Client, opt ReadOptions) ([]Message, error) {
	if opt.Stream == "" {
		return nil, errors.New("stream required")
	}
	if opt.ID == "" {
		opt.ID = ">"
	}
	res, err := rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    opt.ConsumerGroup,
		Consumer: opt.ConsumerName,
		Streams:  []string{opt.Stream, opt.ID},
		Count:    opt.Count,
		Block:    opt.Block,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var out []Message
	for _, s := range res {
		for _, m := range s.Messages {
			out = append(out, toMessage(s.Stream, m))
		}
	}
	return out, nil
}

func Ack(ctx context.Context, rdb *redis.Client, stream, group string, ids ...string) (int64, error) {
	return rdb.XAck(ctx, stream, group, ids...).Result()
}

// Tail returns up to n most recent entries, newest first.
func Tail(ctx context.Context, rdb *redis.Client, stream string, n int64) ([]Message, error) {
	res, err := rdb.XRevRangeN(ctx, stream, "+", "-", n).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	out := make([]Message, 0, len(res))
	for _, m := range res {
		out = append(out, toMessage(stream, m))
	}
	return out, nil
}

func toMessage(stream string, m redis.XMessage) Message {
	var data []byte
	if raw, ok := m.Values[dataField].(string); ok {
		data = []byte(raw)
	}
	return Message{Stream: stream, ID: m.ID, Data: data}
}
