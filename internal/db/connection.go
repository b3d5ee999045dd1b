package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/kjannette/swapdesk-backend/internal/logging"
)

// PoolOptions bounds the connection pool. Zero fields keep the defaults.
type PoolOptions struct {
	MaxConns        int32
	MinConns        int32
	MaxConnIdleTime time.Duration
	MaxConnLifetime time.Duration
}

var defaultPool = PoolOptions{
	MaxConns:        20,
	MinConns:        2,
	MaxConnIdleTime: 30 * time.Second,
	MaxConnLifetime: 5 * time.Minute,
}

// Connect opens a pool against dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string, opts PoolOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	opts = opts.withDefaults()
	cfg.MaxConns = opts.MaxConns
	cfg.MinConns = min(opts.MinConns, opts.MaxConns)
	cfg.MaxConnIdleTime = opts.MaxConnIdleTime
	cfg.MaxConnLifetime = opts.MaxConnLifetime

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return p, nil
}

func (o PoolOptions) withDefaults() PoolOptions {
	if o.MaxConns <= 0 {
		o.MaxConns = defaultPool.MaxConns
	}
	if o.MinConns <= 0 {
		o.MinConns = defaultPool.MinConns
	}
	if o.MaxConnIdleTime <= 0 {
		o.MaxConnIdleTime = defaultPool.MaxConnIdleTime
	}
	if o.MaxConnLifetime <= 0 {
		o.MaxConnLifetime = defaultPool.MaxConnLifetime
	}
	return o
}

// TestConnection runs a round-trip query and logs the server clock and
// version.
func TestConnection(ctx context.Context, p *pgxpool.Pool) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var (
		now     time.Time
		version string
	)
	err := p.QueryRow(ctx, "SELECT NOW(), current_setting('server_version')").Scan(&now, &version)
	if err != nil {
		return fmt.Errorf("test query: %w", err)
	}
	logging.For("db").WithFields(logrus.Fields{
		"server_time":    now.Format(time.RFC3339),
		"server_version": version,
		"max_conns":      p.Config().MaxConns,
	}).Info("connection successful")
	return nil
}
