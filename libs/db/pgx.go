package db

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool is the service's Postgres pool. Repositories take it through narrow interfaces so tests
// can substitute pgxmock.
type Pool struct {
	*pgxpool.Pool
}

type Options struct {
	MaxConns int32
	MinConns int32
	// QueryTimeout becomes statement_timeout on every pooled connection.
	QueryTimeout time.Duration
	// AppName shows up in pg_stat_activity.
	AppName string
}

func (o Options) apply(cfg *pgxpool.Config) {
	cfg.MaxConns, cfg.MinConns = 10, 1
	if o.MaxConns > 0 {
		cfg.MaxConns = o.MaxConns
	}
	if o.MinConns > 0 && o.MinConns <= cfg.MaxConns {
		cfg.MinConns = o.MinConns
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute
	params := cfg.ConnConfig.RuntimeParams
	if o.QueryTimeout > 0 {
		params["statement_timeout"] = strconv.FormatInt(o.QueryTimeout.Milliseconds(), 10)
	}
	if o.AppName != "" {
		params["application_name"] = o.AppName
	}
}

// Open connects and pings, so a bad DATABASE_URL fails at startup rather than on first request.
func Open(ctx context.Context, databaseURL string, opts Options) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	opts.apply(cfg)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Pool{Pool: pool}, nil
}

func (p *Pool) Close() {
	if p != nil && p.Pool != nil {
		p.Pool.Close()
	}
}

func ReadyCheck(pool *Pool) func(context.Context) error {
	return func(ctx context.Context) error {
		if pool == nil || pool.Pool == nil {
			return errors.New("database pool not open")
		}
		return pool.Ping(ctx)
	}
}
