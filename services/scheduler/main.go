package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rishansujesh/rubber-prices/internal/api/server"
	"github.com/rishansujesh/rubber-prices/internal/app"
	"github.com/rishansujesh/rubber-prices/internal/jobs"
	"github.com/rishansujesh/rubber-prices/internal/prices"
	"github.com/rishansujesh/rubber-prices/internal/scheduler"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := must(app.New(ctx, "scheduler"))
	defer a.Close()
	log := a.Logger
	cfg := a.Config

	runner := a.Runner(prices.NewStore(a.DB))
	loop := &scheduler.Loop{
		Open: func(ctx context.Context) (scheduler.Session, error) {
			s, err := jobs.OpenSession(ctx, a.DB)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		Runner:       runner,
		Interval:     cfg.Scheduler.PollInterval,
		RetryBackoff: cfg.Scheduler.RetryBackoff,
		Logger:       log.Named("loop"),
	}
	if q := a.AdhocQueue(); q != nil {
		if err := q.Init(ctx); err != nil {
			log.Warnw("ad-hoc queue disabled", "err", err)
		} else {
			loop.Adhoc = q
		}
	}

	// ---- Status API ----
	api := &server.Server{Jobs: a.Registry(), Loop: loop, DB: a.DB, Logger: log.Named("http")}
	go func() {
		log.Infow("status api listening", "addr", cfg.Scheduler.HTTPAddr)
		if err := server.Serve(ctx, cfg.Scheduler.HTTPAddr, api.Routes()); err != nil {
			log.Errorw("status api stopped", "err", err)
		}
	}()

	// ---- Startup harvest ----
	results, err := runner.RunAll(ctx)
	for _, res := range results {
		log.Infow("startup harvest", "site", res.SiteKey, "status", res.Status, "persisted", res.Persisted)
	}
	if err != nil {
		log.Errorw("startup harvest had failures", "err", err)
	}

	must0(loop.Run(ctx))
}

func must[T any](v T, err error) T {
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %+v\n", err)
		os.Exit(1)
	}
	return v
}

func must0(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %+v\n", err)
		os.Exit(1)
	}
}
