package db

import (
	"context"
	"database/sql"
	"fmt"
	"maps"

	"github.com/marcus/cardsync/internal/models"
)

// localTables maps each remote table to the local table holding its rows.
// It is also the whitelist for every statement that takes a table name.
var localTables = map[models.Table]string{
	models.TableReviews:  "reviews",
	models.TableProgress: "lesson_progress",
	models.TableStreaks:  "streaks",
}

func localTable(t models.Table) (string, error) {
	name, ok := localTables[t]
	if !ok {
		return "", fmt.Errorf("unknown table %q", t)
	}
	return name, nil
}

// GetUnsyncedData returns every row with synced = 0, ordered by creation
// time then id. The local_rev of each returned row is remembered so
// MarkAsSynced can skip rows edited after the read.
func (db *DB) GetUnsyncedData(ctx context.Context) (*models.UnsyncedData, error) {
	revs := make(map[models.Table]map[string]int64, len(localTables))
	for t := range localTables {
		revs[t] = make(map[string]int64)
	}
	data := &models.UnsyncedData{}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin read: %w", err)
	}
	defer tx.Rollback()

	if data.Reviews, err = queryReviews(ctx, tx, revs[models.TableReviews]); err != nil {
		return nil, err
	}
	if data.Progress, err = queryProgress(ctx, tx, revs[models.TableProgress]); err != nil {
		return nil, err
	}
	if data.Streaks, err = queryStreaks(ctx, tx, revs[models.TableStreaks]); err != nil {
		return nil, err
	}

	db.mu.Lock()
	db.fetched = revs
	db.mu.Unlock()
	return data, nil
}

func queryReviews(ctx context.Context, tx *sql.Tx, revs map[string]int64) ([]models.Review, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, user_id, flashcard_id, ease_factor, interval, repetitions,
		       next_review, last_reviewed, created_at, local_rev
		FROM reviews WHERE synced = 0
		ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query unsynced reviews: %w", err)
	}
	defer rows.Close()

	var out []models.Review
	for rows.Next() {
		var r models.Review
		var rev int64
		if err := rows.Scan(&r.ID, &r.UserID, &r.FlashcardID, &r.EaseFactor, &r.Interval,
			&r.Repetitions, &r.NextReview, &r.LastReviewed, &r.CreatedAt, &rev); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		revs[r.ID] = rev
		out = append(out, r)
	}
	return out, rows.Err()
}

func queryProgress(ctx context.Context, tx *sql.Tx, revs map[string]int64) ([]models.ProgressRecord, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, user_id, lesson_id, points, completed, completed_at, created_at, local_rev
		FROM lesson_progress WHERE synced = 0
		ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query unsynced progress: %w", err)
	}
	defer rows.Close()

	var out []models.ProgressRecord
	for rows.Next() {
		var p models.ProgressRecord
		var completed int
		var completedAt sql.NullInt64
		var rev int64
		if err := rows.Scan(&p.ID, &p.UserID, &p.LessonID, &p.Points, &completed,
			&completedAt, &p.CreatedAt, &rev); err != nil {
			return nil, fmt.Errorf("scan progress: %w", err)
		}
		p.Completed = completed != 0
		if completedAt.Valid {
			v := completedAt.Int64
			p.CompletedAt = &v
		}
		revs[p.ID] = rev
		out = append(out, p)
	}
	return out, rows.Err()
}

func queryStreaks(ctx context.Context, tx *sql.Tx, revs map[string]int64) ([]models.StreakRecord, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, user_id, current_streak, longest_streak, last_practice_date, total_points, local_rev
		FROM streaks WHERE synced = 0
		ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query unsynced streaks: %w", err)
	}
	defer rows.Close()

	var out []models.StreakRecord
	for rows.Next() {
		var s models.StreakRecord
		var rev int64
		if err := rows.Scan(&s.ID, &s.UserID, &s.CurrentStreak, &s.LongestStreak,
			&s.LastPracticeDate, &s.TotalPoints, &rev); err != nil {
			return nil, fmt.Errorf("scan streak: %w", err)
		}
		revs[s.ID] = rev
		out = append(out, s)
	}
	return out, rows.Err()
}

// MarkAsSynced flips the synced flag for ids in table. Unknown ids and rows
// already synced are ignored, so the call is idempotent. Rows whose
// local_rev moved since GetUnsyncedData handed them out stay unsynced.
func (db *DB) MarkAsSynced(ctx context.Context, table models.Table, ids []string) error {
	local, err := localTable(table)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	db.mu.Lock()
	revs := maps.Clone(db.fetched[table])
	db.mu.Unlock()

	err = db.withWriteLock(func() error {
		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback()

		byRev, err := tx.PrepareContext(ctx, "UPDATE "+local+
			" SET synced = 1, synced_at = CURRENT_TIMESTAMP WHERE id = ? AND local_rev = ? AND synced = 0")
		if err != nil {
			return fmt.Errorf("prepare mark: %w", err)
		}
		defer byRev.Close()
		byID, err := tx.PrepareContext(ctx, "UPDATE "+local+
			" SET synced = 1, synced_at = CURRENT_TIMESTAMP WHERE id = ? AND synced = 0")
		if err != nil {
			return fmt.Errorf("prepare mark: %w", err)
		}
		defer byID.Close()

		for _, id := range ids {
			if rev, ok := revs[id]; ok {
				_, err = byRev.ExecContext(ctx, id, rev)
			} else {
				_, err = byID.ExecContext(ctx, id)
			}
			if err != nil {
				return fmt.Errorf("mark %s: %w", id, err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("mark %s synced: %w", table, err)
	}

	db.mu.Lock()
	if cur := db.fetched[table]; cur != nil {
		for _, id := range ids {
			delete(cur, id)
		}
	}
	db.mu.Unlock()
	return nil
}

// CountPending returns the number of unsynced rows per table.
func (db *DB) CountPending(ctx context.Context) (map[models.Table]int, error) {
	out := make(map[models.Table]int, len(localTables))
	for _, t := range models.Tables {
		var n int
		if err := db.conn.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM "+localTables[t]+" WHERE synced = 0").Scan(&n); err != nil {
			return nil, fmt.Errorf("count pending %s: %w", t, err)
		}
		out[t] = n
	}
	return out, nil
}
