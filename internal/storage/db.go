package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// DB wraps the SQLite database connection shared by the durable cache tier
// and long-term memory. WAL mode, foreign keys on, versioned migrations.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates or opens a SQLite database at the given path and applies
// pending migrations.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer at a time.
	conn.SetMaxOpenConns(1)

	var walMode string
	if err := conn.QueryRow("PRAGMA journal_mode=WAL").Scan(&walMode); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if walMode != "wal" {
		conn.Close()
		return nil, fmt.Errorf("failed to set WAL mode: got %s", walMode)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	db := &DB{conn: conn, path: dbPath}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return db, nil
}

// Conn exposes the underlying connection to the storage-backed services.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	if _, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to init migrations table: %w", err)
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	var migrations []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			migrations = append(migrations, entry.Name())
		}
	}
	sort.Strings(migrations)

	for _, migration := range migrations {
		if err := db.applyMigration(migration); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration, err)
		}
	}
	return nil
}

func (db *DB) applyMigration(filename string) error {
	var count int
	if err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM schema_migrations WHERE version = ?", filename,
	).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	script, err := migrationFS.ReadFile("migrations/" + filename)
	if err != nil {
		return err
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(string(script)); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
		filename, time.Now().Unix(),
	); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
