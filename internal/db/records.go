package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/marcus/cardsync/internal/models"
)

// ErrNotFound is returned when a record does not exist locally.
var ErrNotFound = errors.New("record not found")

// NewID returns a fresh record id.
func NewID() string {
	return uuid.NewString()
}

// SaveReview inserts or replaces a review by id and marks it unsynced.
// An empty id is filled with a new UUID. Returns the stored id.
func (db *DB) SaveReview(ctx context.Context, r models.Review) (string, error) {
	if r.ID == "" {
		r.ID = NewID()
	}
	err := db.withWriteLock(func() error {
		_, err := db.conn.ExecContext(ctx, `
			INSERT INTO reviews (id, user_id, flashcard_id, ease_factor, interval, repetitions,
			                     next_review, last_reviewed, created_at, synced, synced_at, local_rev)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, 1)
			ON CONFLICT(id) DO UPDATE SET
				user_id = excluded.user_id,
				flashcard_id = excluded.flashcard_id,
				ease_factor = excluded.ease_factor,
				interval = excluded.interval,
				repetitions = excluded.repetitions,
				next_review = excluded.next_review,
				last_reviewed = excluded.last_reviewed,
				synced = 0,
				synced_at = NULL,
				local_rev = reviews.local_rev + 1
		`, r.ID, r.UserID, r.FlashcardID, r.EaseFactor, r.Interval, r.Repetitions,
			r.NextReview, r.LastReviewed, r.CreatedAt)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("save review %s: %w", r.ID, err)
	}
	return r.ID, nil
}

// SaveProgress inserts or replaces a progress record by id and marks it unsynced.
func (db *DB) SaveProgress(ctx context.Context, p models.ProgressRecord) (string, error) {
	if p.ID == "" {
		p.ID = NewID()
	}
	var completedAt sql.NullInt64
	if p.CompletedAt != nil {
		completedAt = sql.NullInt64{Int64: *p.CompletedAt, Valid: true}
	}
	err := db.withWriteLock(func() error {
		_, err := db.conn.ExecContext(ctx, `
			INSERT INTO lesson_progress (id, user_id, lesson_id, points, completed, completed_at,
			                             created_at, synced, synced_at, local_rev)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, NULL, 1)
			ON CONFLICT(id) DO UPDATE SET
				user_id = excluded.user_id,
				lesson_id = excluded.lesson_id,
				points = excluded.points,
				completed = excluded.completed,
				completed_at = excluded.completed_at,
				synced = 0,
				synced_at = NULL,
				local_rev = lesson_progress.local_rev + 1
		`, p.ID, p.UserID, p.LessonID, p.Points, boolToInt(p.Completed), completedAt, p.CreatedAt)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("save progress %s: %w", p.ID, err)
	}
	return p.ID, nil
}

// SaveStreak inserts or replaces a streak record by id and marks it unsynced.
func (db *DB) SaveStreak(ctx context.Context, s models.StreakRecord) (string, error) {
	if s.ID == "" {
		s.ID = NewID()
	}
	err := db.withWriteLock(func() error {
		_, err := db.conn.ExecContext(ctx, `
			INSERT INTO streaks (id, user_id, current_streak, longest_streak, last_practice_date,
			                     total_points, synced, synced_at, local_rev)
			VALUES (?, ?, ?, ?, ?, ?, 0, NULL, 1)
			ON CONFLICT(id) DO UPDATE SET
				user_id = excluded.user_id,
				current_streak = excluded.current_streak,
				longest_streak = excluded.longest_streak,
				last_practice_date = excluded.last_practice_date,
				total_points = excluded.total_points,
				synced = 0,
				synced_at = NULL,
				local_rev = streaks.local_rev + 1
		`, s.ID, s.UserID, s.CurrentStreak, s.LongestStreak, s.LastPracticeDate, s.TotalPoints)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("save streak %s: %w", s.ID, err)
	}
	return s.ID, nil
}

// GetReview loads one review by id.
func (db *DB) GetReview(ctx context.Context, id string) (models.Review, error) {
	var r models.Review
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, user_id, flashcard_id, ease_factor, interval, repetitions,
		       next_review, last_reviewed, created_at
		FROM reviews WHERE id = ?`, id).
		Scan(&r.ID, &r.UserID, &r.FlashcardID, &r.EaseFactor, &r.Interval, &r.Repetitions,
			&r.NextReview, &r.LastReviewed, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return r, fmt.Errorf("review %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return r, fmt.Errorf("get review %s: %w", id, err)
	}
	return r, nil
}

// IsSynced reports the synced flag of a row. table is a remote table name.
func (db *DB) IsSynced(ctx context.Context, table models.Table, id string) (bool, error) {
	local, err := localTable(table)
	if err != nil {
		return false, err
	}
	var synced int
	err = db.conn.QueryRowContext(ctx, "SELECT synced FROM "+local+" WHERE id = ?", id).Scan(&synced)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	if err != nil {
		return false, err
	}
	return synced == 1, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
