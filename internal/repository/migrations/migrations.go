package migrations

import (
	"chat-bot/internal/logger"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"
)

//go:embed postgres/*.sql
var postgresFS embed.FS

//go:embed sqlite/*.sql
var sqliteFS embed.FS

// Dialect names a supported schema flavor
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite3"
)

// Up applies all pending migrations for the dialect
func Up(conn *sql.DB, dialect Dialect) error {
	m, err := newMigrate(conn, dialect)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("error running migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("error reading migration version: %w", err)
	}

	logger.Log.WithFields(logrus.Fields{"dialect": dialect, "version": version, "dirty": dirty}).Info("Database migrations applied successfully")
	return nil
}

// Down rolls back every migration for the dialect
func Down(conn *sql.DB, dialect Dialect) error {
	m, err := newMigrate(conn, dialect)
	if err != nil {
		return err
	}

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("error reverting migrations: %w", err)
	}

	logger.Log.WithField("dialect", dialect).Info("Database migrations reverted")
	return nil
}

func newMigrate(conn *sql.DB, dialect Dialect) (*migrate.Migrate, error) {
	var (
		driver database.Driver
		fsys   embed.FS
		dir    string
		err    error
	)

	switch dialect {
	case Postgres:
		driver, err = postgres.WithInstance(conn, &postgres.Config{})
		fsys, dir = postgresFS, "postgres"
	case SQLite:
		driver, err = sqlite3.WithInstance(conn, &sqlite3.Config{})
		fsys, dir = sqliteFS, "sqlite"
	default:
		return nil, fmt.Errorf("unsupported migration dialect: %s", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("error creating migration driver: %w", err)
	}

	source, err := iofs.New(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("error opening embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, string(dialect), driver)
	if err != nil {
		return nil, fmt.Errorf("error creating migration instance: %w", err)
	}
	return m, nil
}
