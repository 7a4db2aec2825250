// Package db is the on-device SQLite store for reviews, lesson progress and
// streaks, plus the bookkeeping the sync engine needs: synced flags, local
// revisions and cycle history.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	gosync "sync"

	"github.com/marcus/cardsync/internal/models"
	_ "modernc.org/sqlite"
)

const dbFile = "cards.db"

// DB wraps the database connection
type DB struct {
	conn    *sql.DB
	baseDir string

	// fetched holds the local_rev of each row handed out by the last
	// GetUnsyncedData call, keyed by table then id.
	mu      gosync.Mutex
	fetched map[models.Table]map[string]int64
}

// Path returns the database file for baseDir.
func Path(baseDir string) string {
	return filepath.Join(baseDir, dbFile)
}

// Open opens an existing database and runs any pending migrations
func Open(baseDir string) (*DB, error) {
	dbPath := Path(baseDir)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("database not found: run 'cardsync init' first")
	}
	return open(baseDir, dbPath)
}

// Initialize creates the database if needed and runs migrations
func Initialize(baseDir string) (*DB, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	return open(baseDir, Path(baseDir))
}

func open(baseDir, dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := configure(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return newDB(conn, baseDir)
}

// NewFromConn wraps an already opened connection, creating the schema and
// running migrations. Without a base directory, writes skip the file lock.
func NewFromConn(conn *sql.DB) (*DB, error) {
	return newDB(conn, "")
}

func newDB(conn *sql.DB, baseDir string) (*DB, error) {
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	db := &DB{conn: conn, baseDir: baseDir}
	if _, err := db.RunMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

func configure(conn *sql.DB) error {
	// WAL: concurrent reads while writes are serialized
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	// Fallback protection, matches the lock timeout
	if _, err := conn.Exec("PRAGMA busy_timeout=500"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	conn.Exec("PRAGMA synchronous=NORMAL")
	return nil
}

// Close closes the database
func (db *DB) Close() error {
	return db.conn.Close()
}

// BaseDir returns the base directory for the database
func (db *DB) BaseDir() string {
	return db.baseDir
}

// Conn returns the underlying connection.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// withWriteLock executes fn while holding an exclusive write lock.
// This prevents concurrent writes from multiple processes.
func (db *DB) withWriteLock(fn func() error) error {
	if db.baseDir == "" {
		return fn()
	}
	locker := newWriteLocker(db.baseDir)
	if err := locker.acquire(defaultTimeout); err != nil {
		return err
	}
	defer locker.release()
	return fn()
}
