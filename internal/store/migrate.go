package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// migrateUp applies the embedded migrations for driverName on a dedicated connection.
// The connection is closed together with the migrate instance.
func migrateUp(ctx context.Context, driverName, dsn string) error {
	var dir string
	switch driverName {
	case "sqlite3":
		dir = "migrations/sqlite"
	case "postgres":
		dir = "migrations/postgres"
	default:
		return fmt.Errorf("unsupported migration driver %q", driverName)
	}

	srcDriver, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("init iofs: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return fmt.Errorf("open migration db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping migration db: %w", err)
	}

	var dbDriver database.Driver
	if driverName == "postgres" {
		dbDriver, err = postgres.WithInstance(db, &postgres.Config{})
	} else {
		dbDriver, err = sqlite3.WithInstance(db, &sqlite3.Config{})
	}
	if err != nil {
		db.Close()
		return fmt.Errorf("init db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", srcDriver, driverName, dbDriver)
	if err != nil {
		db.Close()
		return fmt.Errorf("init migrate: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	version, dirty, _ := m.Version()
	slog.Debug("store.migrateUp: schema ready", "driver", driverName, "version", version, "dirty", dirty)
	return nil
}
