// Package worker carries operator requested harvests from the admin CLI to
// the scheduler through a Redis stream.
package worker

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	redisx "github.com/rishansujesh/rubber-prices/internal/redis"
)

// Request asks for one immediate harvest of Site.
type Request struct {
	ID          string    `json:"id"`
	Site        string    `json:"site"`
	RequestedBy string    `json:"requested_by,omitempty"`
	RequestedAt time.Time `json:"requested_at"`

	// MessageID is the stream entry id, set on requests returned by Pull.
	MessageID string `json:"-"`
}

type AdhocQueue struct {
	RDB      *redis.Client
	Stream   string
	Group    string
	Consumer string
	Batch    int64
	Logger   *zap.SugaredLogger
}

func (q *AdhocQueue) Init(ctx context.Context) error {
	return redisx.EnsureGroup(ctx, q.RDB, q.Stream, q.Group)
}

func (q *AdhocQueue) Submit(ctx context.Context, site, requestedBy string) (Request, error) {
	if site == "" {
		return Request{}, errors.New("site required")
	}
	req := Request{
		ID:          uuid.NewString(),
		Site:        site,
		RequestedBy: requestedBy,
		RequestedAt: time.Now().UTC(),
	}
	id, err := redisx.XAddJSON(ctx, q.RDB, q.Stream, 1000, req)
	if err != nil {
		return Request{}, errors.Wrap(err, "enqueue ad-hoc harvest")
	}
	req.MessageID = id
	return req, nil
}

// Pull returns waiting requests without blocking. Entries this consumer read
// before but never acknowledged (a crash mid-harvest) come first.
func (q *AdhocQueue) Pull(ctx context.Context) ([]Request, error) {
	var out []Request
	for _, id := range []string{"0", ">"} {
		msgs, err := redisx.XReadGroupJSON(ctx, q.RDB, redisx.ReadOptions{
			Stream:        q.Stream,
			ID:            id,
			ConsumerGroup: q.Group,
			ConsumerName:  q.Consumer,
			Count:         q.batch(),
			Block:         -1,
		})
		if err != nil {
			return out, errors.Wrapf(err, "read %s", q.Stream)
		}
		for _, m := range msgs {
			var req Request
			if err := m.Decode(&req); err != nil || req.Site == "" {
				q.Logger.Warnw("dropping malformed ad-hoc request", "id", m.ID, "err", err)
				_, _ = redisx.Ack(ctx, q.RDB, q.Stream, q.Group, m.ID)
				continue
			}
			req.MessageID = m.ID
			out = append(out, req)
		}
		if int64(len(out)) >= q.batch() {
			break
		}
	}
	return out, nil
}

func (q *AdhocQueue) Ack(ctx context.Context, req Request) error {
	_, err := redisx.Ack(ctx, q.RDB, q.Stream, q.Group, req.MessageID)
	return err
}

func (q *AdhocQueue) batch() int64 {
	if q.Batch <= 0 {
		return 10
	}
	return q.Batch
}
