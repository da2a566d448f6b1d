// Package app wires the instant server runtime: config, logging, storage,
// HTTP routes and the realtime gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"instant/cmd/identity"
	authapi "instant/cmd/internal/auth/api"
	"instant/cmd/internal/auth/session"
	"instant/cmd/internal/metrics"
	"instant/cmd/internal/migrations"
	"instant/cmd/internal/posts"
	"instant/cmd/internal/realtime"
	"instant/cmd/security/password"
)

// App is the server runtime: it owns the DB pool and the HTTP handler tree.
type App struct {
	cfg Config
	log Logger

	dbPool *pgxpool.Pool

	sessions *session.Service
	ws       *realtime.WSGateway
	handler  http.Handler
}

// New constructs a fully wired App. With an empty DatabaseURL it runs on
// in-memory stores.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, oops.In("app").Code("CONFIG_INVALID").Wrapf(err, "session config")
	}
	if err := ValidateSecurityConfig(cfg, sessCfg); err != nil {
		return nil, oops.In("app").Code("SECURITY_POLICY").Wrap(err)
	}
	pwCfg, err := password.FromEnv()
	if err != nil {
		return nil, oops.In("app").Code("CONFIG_INVALID").Wrapf(err, "password config")
	}

	a := &App{cfg: cfg, log: log}

	users, postStore, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}

	a.sessions, err = session.NewService(sessCfg, users, password.NewHasher(pwCfg), session.WithLogger(log))
	if err != nil {
		a.Close()
		return nil, err
	}

	authCfg := authapi.LoadConfigFromEnv()
	authHandler, err := authapi.NewHandler(log, a.sessions, authCfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	postSvc, err := posts.NewService(postStore, users)
	if err != nil {
		a.Close()
		return nil, err
	}
	postHandler, err := posts.NewHandler(log, postSvc, authHandler.Gate, authCfg.MaxBodyBytes)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.ws, err = realtime.NewWSGateway(log, realtime.NewHub(log), a.sessions, realtime.LoadConfigFromEnv())
	if err != nil {
		a.Close()
		return nil, err
	}

	r := routes{auth: authHandler, post: postHandler, ws: a.ws}
	if cfg.MetricsEnabled {
		r.metrics = metrics.NewRegistry()
	}

	mux := http.NewServeMux()
	a.registerHTTP(mux, r)
	a.handler = WithRequestLogging(WithSecurityHeaders(WithCORS(mux, cfg, log)), log)

	return a, nil
}

// openStores picks Postgres when a database is configured and in-memory
// stores otherwise.
func (a *App) openStores(ctx context.Context) (identity.Store, posts.Store, error) {
	if a.cfg.DatabaseURL == "" {
		a.log.Info("db.disabled.inmemory_store")
		users := identity.NewMemoryStore()
		exists := func(id string) bool {
			_, err := users.FindByID(context.Background(), id)
			return err == nil
		}
		return users, posts.NewMemoryStore(exists), nil
	}

	pool, err := NewDBPool(ctx, a.cfg, a.log)
	if err != nil {
		return nil, nil, err
	}
	a.dbPool = pool
	a.log.Info("db.enabled.postgres_store")

	if a.cfg.AutoMigrate {
		v, err := migrations.UpPool(ctx, pool)
		if err != nil {
			a.Close()
			return nil, nil, err
		}
		a.log.Info("db.migrate.done", "version", v)
	}

	users, err := identity.NewPostgresStore(pool)
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	postStore, err := posts.NewPostgresStore(pool)
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	return users, postStore, nil
}

// Handler returns the root HTTP handler with middleware applied.
func (a *App) Handler() http.Handler { return a.handler }

// Close releases the DB pool, if any.
func (a *App) Close() {
	if a.dbPool != nil {
		a.dbPool.Close()
		a.dbPool = nil
	}
}

// Run starts the HTTP server and blocks until ctx is done or the server fails.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbPool != nil)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return oops.In("app").Code("SERVER_FAILED").Wrap(err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
