package postgres

import (
	"chat-bot/internal/config"
	"chat-bot/internal/logger"
	"chat-bot/internal/repository/db"
	"chat-bot/internal/repository/migrations"
	"chat-bot/internal/repository/sqlstore"
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Ensure PostgresDB implements db.Database interface
var _ db.Database = (*PostgresDB)(nil)

// PostgresDB implements the db.Database interface
type PostgresDB struct {
	*sqlstore.Store
}

// NewPostgresDB creates a new PostgresDB instance with a new connection
func NewPostgresDB(dbConfig config.DatabaseConfig) (*PostgresDB, error) {
	conn, err := Open(dbConfig)
	if err != nil {
		return nil, err
	}

	db := &PostgresDB{Store: sqlstore.New(conn, sqlstore.Dollar, dbConfig.HistoryWindow)}

	// Run migrations
	if err = db.RunMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("error running migrations: %w", err)
	}

	logger.Log.Info("Migrations completed successfully")

	return db, nil
}

// Open connects to PostgreSQL without running migrations
func Open(dbConfig config.DatabaseConfig) (*sql.DB, error) {
	dsn := dbConfig.GetDSN()
	logger.Log.WithField("dsn", dsn).Info("Connecting to PostgreSQL")

	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	conn.SetMaxOpenConns(dbConfig.MaxOpenConns)
	conn.SetMaxIdleConns(dbConfig.MaxOpenConns)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err = conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	logger.Log.Info("Successfully connected to PostgreSQL")
	return conn, nil
}

// RunMigrations runs database migrations using golang-migrate
func (p *PostgresDB) RunMigrations() error {
	return migrations.Up(p.GetDB(), migrations.Postgres)
}
