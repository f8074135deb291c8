package repository

import (
	"chat-bot/internal/config"
	"chat-bot/internal/logger"
	"chat-bot/internal/repository/db"
	"chat-bot/internal/repository/migrations"
	"chat-bot/internal/repository/postgres"
	"chat-bot/internal/repository/sqlite"
	"database/sql"
	"fmt"
)

// NewDatabase opens the configured store and applies migrations
func NewDatabase(dbConfig config.DatabaseConfig) (db.Database, error) {
	switch dbConfig.Driver {
	case config.DriverPostgres:
		logger.Log.Info("[Factory] Creating PostgreSQL store")
		store, err := postgres.NewPostgresDB(dbConfig)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverSQLite:
		logger.Log.Info("[Factory] Creating SQLite store")
		store, err := sqlite.NewSQLiteDB(dbConfig)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", dbConfig.Driver)
	}
}

// OpenRaw opens a connection and returns its migration dialect, without migrating
func OpenRaw(dbConfig config.DatabaseConfig) (*sql.DB, migrations.Dialect, error) {
	switch dbConfig.Driver {
	case config.DriverPostgres:
		conn, err := postgres.Open(dbConfig)
		return conn, migrations.Postgres, err
	case config.DriverSQLite:
		conn, err := sqlite.Open(dbConfig)
		return conn, migrations.SQLite, err
	default:
		return nil, "", fmt.Errorf("unsupported database driver: %s", dbConfig.Driver)
	}
}
