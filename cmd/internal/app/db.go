package app

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

const (
	dbPingTimeout     = 3 * time.Second
	dbBackoffBase     = 250 * time.Millisecond
	dbBackoffCap      = 5 * time.Second
	dbHealthCheckTick = 30 * time.Second
)

// NewDBPool opens a pool for cfg.DatabaseURL and blocks until the server
// answers a ping, backing off exponentially for up to cfg.DBConnectRetries
// extra attempts. Migrations are left to the caller.
func NewDBPool(ctx context.Context, cfg Config, log Logger) (*pgxpool.Pool, error) {
	errb := oops.In("db")

	pcfg, err := poolConfig(cfg)
	if err != nil {
		return nil, errb.Code("CONFIG_INVALID").Wrapf(err, "parse database url")
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, errb.Code("DB_CONNECT_FAILED").Wrap(err)
	}

	backoff := retry.WithMaxRetries(uint64(max(cfg.DBConnectRetries, 0)),
		retry.WithCappedDuration(dbBackoffCap, retry.NewExponential(dbBackoffBase)))

	var attempts int
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		if err := PingDB(ctx, pool, dbPingTimeout); err != nil {
			log.Warn("db.ping.fail", "attempt", attempts, "err", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, errb.Code("DB_CONNECT_FAILED").With("attempts", attempts).Wrap(err)
	}
	log.Debug("db.pool.ready", "attempts", attempts, "max_conns", pcfg.MaxConns)
	return pool, nil
}

func poolConfig(cfg Config) (*pgxpool.Config, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns > 0 {
		pcfg.MinConns = min(cfg.DBMinConns, pcfg.MaxConns)
	}
	pcfg.HealthCheckPeriod = dbHealthCheckTick
	return pcfg, nil
}

// PingDB round-trips to the server, giving up after timeout.
func PingDB(ctx context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return pool.Ping(ctx)
}
