package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
)

type Config struct {
	Logger          *slog.Logger
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Driver == "" {
		return errors.New("driver is required")
	}
	if c.DSN == "" {
		return errors.New("dsn is required")
	}
	return nil
}

// Open opens the pool and waits until the database answers a ping, retrying
// with exponential backoff for up to ConnectTimeout.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := Ping(ctx, db, cfg.Logger, cfg.ConnectTimeout); err != nil {
		db.Close()
		return nil, err
	}

	cfg.Logger.Info("database: connected", "driver", cfg.Driver)
	return db, nil
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

func Ping(ctx context.Context, db Pinger, log *slog.Logger, maxElapsed time.Duration) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if attempt > 0 {
			log.Warn("database: ping failed, retrying", "attempt", attempt)
		}
		attempt++
		return struct{}{}, db.PingContext(ctx)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(maxElapsed))
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}
