// Package pgstore writes sync batches straight into Postgres with
// INSERT ... ON CONFLICT (id) DO UPDATE, for deployments without a REST layer.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/marcus/cardsync/internal/models"
)

const (
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
)

// Config holds connection settings.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store is a RemoteStore backed by Postgres.
type Store struct {
	db *gorm.DB
}

// Open builds the pool without connecting. Connections are dialed on first
// use, so an unreachable server surfaces as an Upsert error rather than here.
func Open(cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("pgstore: empty DSN")
	}

	gormDB, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger:               logger.Default.LogMode(logger.Silent),
		DisableAutomaticPing: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("db handle: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen == 0 {
		maxOpen = defaultMaxOpenConns
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle == 0 {
		maxIdle = defaultMaxIdleConns
	}
	connMaxLifetime := cfg.ConnMaxLifetime
	if connMaxLifetime == 0 {
		connMaxLifetime = defaultConnMaxLifetime
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	return &Store{db: gormDB}, nil
}

// Connect opens the pool and pings it.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	store, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	slog.Debug("pgstore: connecting")
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, err
	}
	slog.Debug("pgstore: connected")
	return store, nil
}

// Ping checks the server answers.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("db handle: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}

// New wraps an existing gorm handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Close releases the pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// EnsureSchema creates the three remote tables when missing. Production
// schemas usually come from the backend's own migrations; this is for local
// development and tests.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, t := range []struct {
		table models.Table
		model any
	}{
		{models.TableReviews, &models.RemoteReview{}},
		{models.TableProgress, &models.RemoteProgress{}},
		{models.TableStreaks, &models.RemoteStreak{}},
	} {
		if err := s.db.WithContext(ctx).Table(string(t.table)).AutoMigrate(t.model); err != nil {
			return fmt.Errorf("migrate %s: %w", t.table, err)
		}
	}
	return nil
}

// Upsert writes records to table in one transaction. Every column of an
// existing row is replaced by the incoming record.
func (s *Store) Upsert(ctx context.Context, table models.Table, records []models.RemoteRecord, opts models.UpsertOptions) error {
	if len(records) == 0 {
		return nil
	}
	rows, err := typedRows(table, records)
	if err != nil {
		return err
	}
	key := opts.OnConflict
	if key == "" {
		key = models.ConflictKey
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Table(string(table)).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: key}},
				UpdateAll: true,
			}).
			Create(rows)
		if result.Error != nil {
			return fmt.Errorf("upsert %s: %w", table, result.Error)
		}
		return nil
	})
}

// typedRows converts tagged records to the concrete slice gorm needs,
// rejecting records that do not belong to table.
func typedRows(table models.Table, records []models.RemoteRecord) (any, error) {
	switch table {
	case models.TableReviews:
		return collect[models.RemoteReview](table, records)
	case models.TableProgress:
		return collect[models.RemoteProgress](table, records)
	case models.TableStreaks:
		return collect[models.RemoteStreak](table, records)
	}
	return nil, fmt.Errorf("upsert: unknown table %q", table)
}

func collect[T models.RemoteRecord](table models.Table, records []models.RemoteRecord) (*[]T, error) {
	out := make([]T, 0, len(records))
	for _, r := range records {
		v, ok := r.(T)
		if !ok {
			return nil, fmt.Errorf("upsert %s: record %s is %T", table, r.RemoteID(), r)
		}
		out = append(out, v)
	}
	return &out, nil
}

// IsConstraintViolation reports whether err is a Postgres integrity
// constraint violation (class 23: unique, foreign key, not null, check).
func IsConstraintViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23")
}

// IsUniqueViolation reports whether err is a Postgres unique violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
