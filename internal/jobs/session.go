package jobs

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
)

// Session is a registry store pinned to one pooled connection. The scheduler
// acquires one per cycle and must Close it before sleeping.
type Session struct {
	*Store
	conn *sql.Conn
}

func OpenSession(ctx context.Context, db *sql.DB) (*Session, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "acquire registry connection")
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "ping registry")
	}
	return &Session{Store: NewStore(conn), conn: conn}, nil
}

func (s *Session) Close() error {
	return s.conn.Close()
}
