// Package db applies the embedded SQL migrations.
package db

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var embedded embed.FS

// Conn is the subset of *pgx.Conn the migrator needs.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Migration struct {
	Name     string
	SQL      string
	Checksum string
}

// Embedded returns the migrations compiled into the binary, in name order.
func Embedded() ([]Migration, error) {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		return nil, err
	}
	return Load(sub)
}

// Load reads every *.sql file at the root of fsys, sorted by name.
func Load(fsys fs.FS) ([]Migration, error) {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, errors.Wrap(err, "list migrations")
	}
	sort.Strings(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		b, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", name)
		}
		if strings.TrimSpace(string(b)) == "" {
			continue
		}
		sum := sha256.Sum256(b)
		out = append(out, Migration{Name: path.Base(name), SQL: string(b), Checksum: hex.EncodeToString(sum[:])})
	}
	return out, nil
}

// Pending returns the migrations not yet recorded in applied. A recorded
// migration whose checksum changed is an error.
func Pending(all []Migration, applied map[string]string) ([]Migration, error) {
	var out []Migration
	for _, m := range all {
		prev, ok := applied[m.Name]
		if !ok {
			out = append(out, m)
			continue
		}
		if prev != m.Checksum {
			return nil, errors.Newf("migration %s already applied with different checksum (got %s, have %s)", m.Name, m.Checksum, prev)
		}
	}
	return out, nil
}

// Migrate applies pending migrations and records them in schema_migrations.
func Migrate(ctx context.Context, conn Conn, all []Migration, log *zap.SugaredLogger) error {
	_, err := conn.Exec(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  filename text PRIMARY KEY,
  checksum text NOT NULL,
  applied_at timestamptz NOT NULL DEFAULT now()
)`)
	if err != nil {
		return errors.Wrap(err, "create schema_migrations")
	}

	applied, err := appliedChecksums(ctx, conn)
	if err != nil {
		return err
	}
	todo, err := Pending(all, applied)
	if err != nil {
		return err
	}
	if len(todo) == 0 {
		log.Infow("migrations: nothing to do", "known", len(all))
		return nil
	}

	for _, m := range todo {
		start := time.Now()
		if _, err := conn.Exec(ctx, m.SQL); err != nil {
			return errors.Wrapf(err, "exec %s", m.Name)
		}
		if _, err := conn.Exec(ctx, `INSERT INTO schema_migrations (filename, checksum) VALUES ($1,$2)`, m.Name, m.Checksum); err != nil {
			return errors.Wrapf(err, "record %s", m.Name)
		}
		log.Infow("migration applied", "file", m.Name, "took", time.Since(start).Round(time.Millisecond))
	}
	return nil
}

func appliedChecksums(ctx context.Context, conn Conn) (map[string]string, error) {
	rows, err := conn.Query(ctx, `SELECT filename, checksum FROM schema_migrations`)
	if err != nil {
		return nil, errors.Wrap(err, "select schema_migrations")
	}
	defer rows.Close()

	applied := map[string]string{}
	for rows.Next() {
		var fn, sum string
		if err := rows.Scan(&fn, &sum); err != nil {
			return nil, errors.Wrap(err, "scan schema_migrations")
		}
		applied[fn] = sum
	}
	return applied, rows.Err()
}
