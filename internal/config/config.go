// Package config loads service configuration from the environment, an
// optional .env file and an optional config file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rishansujesh/rubber-prices/internal/logging"
)

type Postgres struct {
	Host     string
	Port     string
	User     string
	Password string
	DB       string
	SSLMode  string
}

// DSN renders a URL-style connection string for the pgx driver.
func (p Postgres) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DB, p.SSLMode)
}

type Redis struct {
	Addr     string
	Password string
	DB       int

	EventsStream  string
	AdhocStream   string
	ConsumerGroup string
	RateKey       string
}

// Enabled reports whether a Redis address was configured at all.
func (r Redis) Enabled() bool { return strings.TrimSpace(r.Addr) != "" }

type Scheduler struct {
	PollInterval time.Duration
	RetryBackoff time.Duration
	HTTPAddr     string
	// AdhocBatch bounds how many ad-hoc requests are drained per cycle.
	AdhocBatch int64
}

type Fetch struct {
	Timeout     time.Duration
	UserAgent   string
	RPS         float64
	Burst       int
	InsecureTLS bool
}

type FX struct {
	CacheTTL time.Duration
}

type Config struct {
	Postgres  Postgres
	Redis     Redis
	Scheduler Scheduler
	Fetch     Fetch
	FX        FX
	Log       logging.Config
}

// Load reads .env (when present), then CONFIG_FILE (when set), then the
// process environment, which wins over both.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "load .env")
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
	}
	return FromViper(v)
}

// SetDefaults registers every key so AutomaticEnv can resolve it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", "5432")
	v.SetDefault("postgres_user", "prices")
	v.SetDefault("postgres_password", "prices")
	v.SetDefault("postgres_db", "prices")
	v.SetDefault("postgres_sslmode", "disable")

	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("redis_stream_events", "harvest:events")
	v.SetDefault("redis_stream_adhoc", "harvest:adhoc")
	v.SetDefault("redis_consumer_group", "cg:scheduler")
	v.SetDefault("redis_rate_key", "fx:usd-inr")

	v.SetDefault("scheduler_poll_interval", "30s")
	v.SetDefault("scheduler_retry_backoff", "30s")
	v.SetDefault("scheduler_http_addr", ":8081")
	v.SetDefault("scheduler_adhoc_batch", 10)

	v.SetDefault("fetch_timeout", "10s")
	v.SetDefault("fetch_user_agent", "Mozilla/5.0")
	v.SetDefault("fetch_rps", 1.0)
	v.SetDefault("fetch_burst", 2)
	v.SetDefault("fetch_insecure_tls", true)

	v.SetDefault("fx_cache_ttl", "30m")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("log_file", "")
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Postgres: Postgres{
			Host:     v.GetString("postgres_host"),
			Port:     v.GetString("postgres_port"),
			User:     v.GetString("postgres_user"),
			Password: v.GetString("postgres_password"),
			DB:       v.GetString("postgres_db"),
			SSLMode:  v.GetString("postgres_sslmode"),
		},
		Redis: Redis{
			Addr:          v.GetString("redis_addr"),
			Password:      v.GetString("redis_password"),
			DB:            v.GetInt("redis_db"),
			EventsStream:  v.GetString("redis_stream_events"),
			AdhocStream:   v.GetString("redis_stream_adhoc"),
			ConsumerGroup: v.GetString("redis_consumer_group"),
			RateKey:       v.GetString("redis_rate_key"),
		},
		Scheduler: Scheduler{
			PollInterval: v.GetDuration("scheduler_poll_interval"),
			RetryBackoff: v.GetDuration("scheduler_retry_backoff"),
			HTTPAddr:     v.GetString("scheduler_http_addr"),
			AdhocBatch:   v.GetInt64("scheduler_adhoc_batch"),
		},
		Fetch: Fetch{
			Timeout:     v.GetDuration("fetch_timeout"),
			UserAgent:   v.GetString("fetch_user_agent"),
			RPS:         v.GetFloat64("fetch_rps"),
			Burst:       v.GetInt("fetch_burst"),
			InsecureTLS: v.GetBool("fetch_insecure_tls"),
		},
		FX: FX{
			CacheTTL: v.GetDuration("fx_cache_ttl"),
		},
		Log: logging.Config{
			Level:  v.GetString("log_level"),
			Format: v.GetString("log_format"),
			File:   v.GetString("log_file"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Scheduler.PollInterval <= 0 {
		return errors.Newf("scheduler_poll_interval must be positive, got %s", c.Scheduler.PollInterval)
	}
	if c.Scheduler.RetryBackoff <= 0 {
		c.Scheduler.RetryBackoff = c.Scheduler.PollInterval
	}
	if c.Fetch.Timeout <= 0 {
		return errors.Newf("fetch_timeout must be positive, got %s", c.Fetch.Timeout)
	}
	return nil
}
