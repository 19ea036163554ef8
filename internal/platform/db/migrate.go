package db

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Migrate applies every pending "up" migration found in fsys (rooted at dir).
// It reports whether any migration was applied.
func Migrate(dsn string, fsys fs.FS, dir string) (bool, error) {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return false, fmt.Errorf("platform/db: open migration conn: %w", err)
	}
	defer func() { _ = sqlDB.Close() }()
	if err := sqlDB.Ping(); err != nil {
		return false, fmt.Errorf("platform/db: ping migration conn: %w", err)
	}

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		return false, fmt.Errorf("platform/db: migrate driver: %w", err)
	}
	source, err := iofs.New(fsys, dir)
	if err != nil {
		return false, fmt.Errorf("platform/db: migrate source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return false, fmt.Errorf("platform/db: migrate instance: %w", err)
	}

	upErr := m.Up()
	srcErr, dbErr := m.Close()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return false, fmt.Errorf("platform/db: migrate up: %w", upErr)
	}
	if srcErr != nil {
		return false, fmt.Errorf("platform/db: migrate source close: %w", srcErr)
	}
	if dbErr != nil {
		return false, fmt.Errorf("platform/db: migrate db close: %w", dbErr)
	}
	return !errors.Is(upErr, migrate.ErrNoChange), nil
}
