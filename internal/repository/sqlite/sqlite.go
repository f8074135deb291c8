package sqlite

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

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Ensure SQLiteDB implements db.Database interface
var _ db.Database = (*SQLiteDB)(nil)

// SQLiteDB implements the db.Database interface on a local file
type SQLiteDB struct {
	*sqlstore.Store
}

// NewSQLiteDB opens the database file and applies migrations
func NewSQLiteDB(dbConfig config.DatabaseConfig) (*SQLiteDB, error) {
	conn, err := Open(dbConfig)
	if err != nil {
		return nil, err
	}

	db := &SQLiteDB{Store: sqlstore.New(conn, sqlstore.Question, dbConfig.HistoryWindow)}

	if err = db.RunMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("error running migrations: %w", err)
	}

	return db, nil
}

// Open connects to the SQLite file without running migrations
func Open(dbConfig config.DatabaseConfig) (*sql.DB, error) {
	logger.Log.WithField("path", dbConfig.Path).Info("Opening SQLite database")

	conn, err := sql.Open("sqlite3", dbConfig.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	if dbConfig.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(dbConfig.MaxOpenConns)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err = conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	logger.Log.WithFields(logrus.Fields{"path": dbConfig.Path, "max_open_conns": dbConfig.MaxOpenConns}).Info("Successfully opened SQLite database")
	return conn, nil
}

// RunMigrations runs database migrations using golang-migrate
func (s *SQLiteDB) RunMigrations() error {
	return migrations.Up(s.GetDB(), migrations.SQLite)
}
