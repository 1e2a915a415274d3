package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"

	"github.com/rishansujesh/rubber-prices/internal/config"
	"github.com/rishansujesh/rubber-prices/internal/db"
	"github.com/rishansujesh/rubber-prices/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "migrate error: %+v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	log = log.Named("migrate")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	conn, err := pgx.Connect(ctx, cfg.Postgres.DSN())
	if err != nil {
		return errors.Wrap(err, "connect")
	}
	defer conn.Close(ctx)

	all, err := db.Embedded()
	if err != nil {
		return err
	}
	if err := db.Migrate(ctx, conn, all, log); err != nil {
		return err
	}
	log.Infow("migrations: done", "files", len(all))
	return nil
}
