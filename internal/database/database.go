// Package database opens the SQL databases backing the authorized-client
// store and creates the tables it needs.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"metal-detector/internal/oauth2"
)

// Supported database types
const (
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
)

// DB is an open, migrated database
type DB struct {
	*sql.DB
	Type string
}

// Placeholders returns the bind-parameter style of the database
func (db *DB) Placeholders() string {
	if db.Type == TypePostgres {
		return oauth2.PlaceholderDollar
	}
	return oauth2.PlaceholderQuestion
}

// OpenSQLite opens (creating if needed) the SQLite file at path
func OpenSQLite(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	return initialize(&DB{DB: db, Type: TypeSQLite})
}

// OpenPostgres connects to PostgreSQL through pgx
func OpenPostgres(dsn string) (*DB, error) {
	config, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid PostgreSQL connection string: %w", err)
	}

	db := stdlib.OpenDB(*config)
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return initialize(&DB{DB: db, Type: TypePostgres})
}

func initialize(db *DB) (*DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := db.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

func (db *DB) migrate(ctx context.Context) error {
	queries := []string{
		oauth2.AuthorizedClientSchema(db.Placeholders()),
		`CREATE INDEX IF NOT EXISTS idx_oauth2_authorized_client_principal
			ON oauth2_authorized_client (principal_name)`,
	}

	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

// Health pings the database
func (db *DB) Health(ctx context.Context) error {
	return db.PingContext(ctx)
}
