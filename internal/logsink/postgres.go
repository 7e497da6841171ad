package logsink

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// PostgresConfig describes how to reach the Postgres log table. DSN wins over
// the individual fields when set.
type PostgresConfig struct {
	DSN         string
	Server      string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int32
	DialTimeout time.Duration
}

// ConnString returns the DSN, building it from the credential fields when no
// DSN was given.
func (c PostgresConfig) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Server, port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=require&connect_timeout=30",
	}
	return u.String()
}

// OpenPostgres connects a pgx pool and returns a SQL sink on top of it.
func OpenPostgres(ctx context.Context, cfg PostgresConfig, table string) (*SQL, error) {
	pc, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "documentocr"

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	sink, err := NewSQL(stdlib.OpenDBFromPool(pool), Postgres, table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	sink.closeFn = pool.Close
	slog.Info("Connected to postgres log table.", "host", pc.ConnConfig.Host, "table", table)
	return sink, nil
}
