package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrations embed.FS

// Migrate applies every pending migration for the connection's dialect.
func (db *DBConn) Migrate() error {
	src, err := iofs.New(migrations, "migrations/"+db.driver)
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	var drv migratedb.Driver
	switch db.driver {
	// the drivers are left open: closing one also closes the shared pool
	case DriverPostgres:
		drv, err = postgres.WithInstance(db.conn.DB, &postgres.Config{})
		if err != nil {
			return fmt.Errorf("migration driver: %w", err)
		}
	case DriverSqlite:
		drv, err = sqlite3.WithInstance(db.conn.DB, &sqlite3.Config{})
		if err != nil {
			return fmt.Errorf("migration driver: %w", err)
		}
	}

	m, err := migrate.NewWithInstance("iofs", src, db.driver, drv)
	if err != nil {
		return fmt.Errorf("new migrate: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}

	return nil
}
