// Package migrations embeds the goose SQL migrations for the instant schema
// and applies them.
package migrations

import (
	"context"
	"database/sql"
	"embed"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/samber/oops"
)

// FS holds the versioned migration files.
//
//go:embed *.sql
var FS embed.FS

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

var gooseVersion = goose.GetDBVersionContext

func prepare() error {
	goose.SetBaseFS(FS)
	if err := goose.SetDialect("pgx"); err != nil {
		return oops.In("migrations").Code("MIGRATION_DIALECT").Wrap(err)
	}
	return nil
}

// Up applies every pending migration and returns the resulting schema version.
func Up(ctx context.Context, db *sql.DB) (int64, error) {
	if err := prepare(); err != nil {
		return 0, err
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return 0, oops.In("migrations").Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
	}
	v, err := gooseVersion(ctx, db)
	if err != nil {
		return 0, oops.In("migrations").Code("MIGRATION_VERSION").Wrap(err)
	}
	return v, nil
}

// UpPool runs Up over a database/sql handle borrowed from pool.
func UpPool(ctx context.Context, pool *pgxpool.Pool) (int64, error) {
	db := stdlib.OpenDBFromPool(pool)
	defer func() { _ = db.Close() }()
	return Up(ctx, db)
}
