// Package db opens the dev backend's PostgreSQL pool and applies its schema.
package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	applicationName = "readaloud-dev"
	maxConns        = 8
	maxConnIdleTime = 5 * time.Minute
)

// Pool is the part of *pgxpool.Pool the repositories use.
type Pool interface {
	Acquire(ctx context.Context) (*pgxpool.Conn, error)
	Close()
}

// Connect opens a pool for databaseURL and pings it. Settings given in the
// URL win over the defaults applied here.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	applyDefaults(cfg)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func applyDefaults(cfg *pgxpool.Config) {
	if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		cfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	}
	if !hasParam(cfg.ConnString(), "pool_max_conns") {
		cfg.MaxConns = maxConns
	}
	if !hasParam(cfg.ConnString(), "pool_max_conn_idle_time") {
		cfg.MaxConnIdleTime = maxConnIdleTime
	}
}

// hasParam reports whether the connection string sets name, in either URL or
// keyword/value form.
func hasParam(connString, name string) bool {
	return strings.Contains(connString, name+"=")
}
