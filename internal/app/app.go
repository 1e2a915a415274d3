// Package app wires configuration into the concrete collaborators shared by
// the scheduler, harvest and admin binaries.
package app

import (
	"context"
	"database/sql"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rishansujesh/rubber-prices/internal/config"
	"github.com/rishansujesh/rubber-prices/internal/fetch"
	"github.com/rishansujesh/rubber-prices/internal/fx"
	"github.com/rishansujesh/rubber-prices/internal/harvest"
	"github.com/rishansujesh/rubber-prices/internal/jobs"
	"github.com/rishansujesh/rubber-prices/internal/logging"
	redisx "github.com/rishansujesh/rubber-prices/internal/redis"
	"github.com/rishansujesh/rubber-prices/internal/worker"
)

type App struct {
	Config *config.Config
	Logger *zap.SugaredLogger
	DB     *sql.DB
	Redis  *redis.Client // nil when REDIS_ADDR is unset or unreachable
}

// New loads config, builds the logger and opens Postgres. Redis is opened
// only when configured; failing to reach it is logged and tolerated.
func New(ctx context.Context, name string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	base, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	log := base.Named(name)

	db, err := sql.Open("pgx", cfg.Postgres.DSN())
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "ping postgres %s:%s", cfg.Postgres.Host, cfg.Postgres.Port)
	}

	a := &App{Config: cfg, Logger: log, DB: db}
	if cfg.Redis.Enabled() {
		rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		rdb, err := redisx.NewClientWithBackoff(rctx, redisx.Config{
			Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB,
		}, log)
		if err != nil {
			log.Warnw("redis unreachable, continuing without cache, events and ad-hoc queue", "addr", cfg.Redis.Addr, "err", err)
		} else {
			a.Redis = rdb
		}
	}
	return a, nil
}

func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	_ = a.DB.Close()
	_ = a.Logger.Sync()
}

func (a *App) Registry() *jobs.Store { return jobs.NewStore(a.DB) }

func (a *App) Fetcher() *fetch.Fetcher {
	f := a.Config.Fetch
	if f.InsecureTLS {
		a.Logger.Warnw("TLS certificate verification is disabled for outbound fetches", "setting", "FETCH_INSECURE_TLS")
	}
	return fetch.New(fetch.Options{
		UserAgent:          f.UserAgent,
		Timeout:            f.Timeout,
		RequestsPerSecond:  f.RPS,
		Burst:              f.Burst,
		InsecureSkipVerify: f.InsecureTLS,
	})
}

func (a *App) Converter(reg fx.Registry, f fx.Fetcher) *fx.Converter {
	c := &fx.Converter{
		Registry: reg,
		Fetcher:  f,
		TTL:      a.Config.FX.CacheTTL,
		Logger:   a.Logger.Named("fx"),
	}
	if a.Redis != nil {
		c.Cache = &redisx.RateCache{RDB: a.Redis, Key: a.Config.Redis.RateKey}
	}
	return c
}

// Runner builds a harvest runner persisting through store.
func (a *App) Runner(store harvest.Saver) *harvest.Runner {
	reg := a.Registry()
	f := a.Fetcher()
	r := &harvest.Runner{
		Registry: reg,
		Fetcher:  f,
		Rates:    a.Converter(reg, f),
		Store:    store,
		Logger:   a.Logger.Named("harvest"),
	}
	if a.Redis != nil {
		r.Events = &redisx.Publisher{RDB: a.Redis, Stream: a.Config.Redis.EventsStream, MaxLen: 10000}
	}
	return r
}

// AdhocQueue returns nil when Redis is unavailable.
func (a *App) AdhocQueue() *worker.AdhocQueue {
	if a.Redis == nil {
		return nil
	}
	return &worker.AdhocQueue{
		RDB:      a.Redis,
		Stream:   a.Config.Redis.AdhocStream,
		Group:    a.Config.Redis.ConsumerGroup,
		Consumer: Hostname(),
		Batch:    a.Config.Scheduler.AdhocBatch,
		Logger:   a.Logger.Named("adhoc"),
	}
}

func Hostname() string {
	h, _ := os.Hostname()
	if h == "" {
		h = "instance"
	}
	return h
}
