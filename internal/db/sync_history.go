package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SyncHistoryEntry represents a row from the sync_history table. A completed
// cycle writes one row per dispatched table; a cycle that aborted before
// dispatch writes a single row with an empty Table.
type SyncHistoryEntry struct {
	ID         int64     `json:"id"`
	CycleAt    time.Time `json:"cycle_at"`
	Outcome    string    `json:"outcome"`
	Table      string    `json:"table,omitempty"`
	Attempted  int       `json:"attempted"`
	Succeeded  int       `json:"succeeded"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
}

// maxHistoryRows bounds sync_history; older rows are pruned on write.
const maxHistoryRows = 5000

// parseTimestamp tries common SQLite timestamp formats.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
		"2006-01-02 15:04:05.999999999-07:00",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &time.ParseError{Layout: time.RFC3339Nano, Value: s}
}

// RecordSyncCycle inserts the rows of one cycle and prunes old history.
// Returns nil if entries is empty.
func (db *DB) RecordSyncCycle(ctx context.Context, entries []SyncHistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return db.withWriteLock(func() error {
		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO sync_history (cycle_at, outcome, entity_table, attempted, succeeded, error, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range entries {
			_, err := stmt.ExecContext(ctx, e.CycleAt.UTC().Format(time.RFC3339Nano), e.Outcome,
				e.Table, e.Attempted, e.Succeeded, e.Error, e.DurationMS)
			if err != nil {
				return fmt.Errorf("insert sync history: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM sync_history WHERE id NOT IN (
				SELECT id FROM sync_history ORDER BY id DESC LIMIT ?
			)`, maxHistoryRows); err != nil {
			return fmt.Errorf("prune sync history: %w", err)
		}
		return tx.Commit()
	})
}

// GetSyncHistoryTail returns the last N entries in chronological order (oldest first).
func (db *DB) GetSyncHistoryTail(ctx context.Context, limit int) ([]SyncHistoryEntry, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, cycle_at, outcome, entity_table, attempted, succeeded, error, duration_ms
		FROM sync_history
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []SyncHistoryEntry
	for rows.Next() {
		var e SyncHistoryEntry
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.Outcome, &e.Table, &e.Attempted, &e.Succeeded, &e.Error, &e.DurationMS); err != nil {
			return nil, err
		}
		parsed, err := parseTimestamp(ts)
		if err != nil {
			return nil, err
		}
		e.CycleAt = parsed
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// LastSyncCycle returns the rows of the most recent recorded cycle, or nil
// when no cycle has been recorded.
func (db *DB) LastSyncCycle(ctx context.Context) ([]SyncHistoryEntry, error) {
	var last string
	err := db.conn.QueryRowContext(ctx,
		`SELECT cycle_at FROM sync_history ORDER BY id DESC LIMIT 1`).Scan(&last)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, cycle_at, outcome, entity_table, attempted, succeeded, error, duration_ms
		FROM sync_history WHERE cycle_at = ? ORDER BY id`, last)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []SyncHistoryEntry
	for rows.Next() {
		var e SyncHistoryEntry
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.Outcome, &e.Table, &e.Attempted, &e.Succeeded, &e.Error, &e.DurationMS); err != nil {
			return nil, err
		}
		if e.CycleAt, err = parseTimestamp(ts); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
