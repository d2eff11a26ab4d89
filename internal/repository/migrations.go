package repository

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
)

//go:embed migrations
var embedMigrations embed.FS

// MigratePostgres applies the schema of the given store variant ("basic" or
// "multitenant") through the pool.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool, variant string) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	return runMigrations(ctx, db, database.DialectPostgres, "migrations/postgres/"+variant)
}

// MigrateSQLite applies the single-table schema.
func MigrateSQLite(ctx context.Context, db *sql.DB) error {
	return runMigrations(ctx, db, database.DialectSQLite3, "migrations/sqlite")
}

func runMigrations(ctx context.Context, db *sql.DB, dialect database.Dialect, dir string) error {
	migrationFS, err := fs.Sub(embedMigrations, dir)
	if err != nil {
		return fmt.Errorf("open migrations %s: %w", dir, err)
	}

	provider, err := goose.NewProvider(dialect, db, migrationFS)
	if err != nil {
		return fmt.Errorf("create goose provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
