package db

// SchemaVersion is the current database schema version
const SchemaVersion = 3

const schema = `
CREATE TABLE IF NOT EXISTS reviews (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    flashcard_id TEXT NOT NULL,
    ease_factor REAL NOT NULL DEFAULT 2.5,
    interval INTEGER NOT NULL DEFAULT 0,
    repetitions INTEGER NOT NULL DEFAULT 0,
    next_review INTEGER NOT NULL,
    last_reviewed INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    synced INTEGER NOT NULL DEFAULT 0,
    synced_at DATETIME
);

CREATE TABLE IF NOT EXISTS lesson_progress (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    lesson_id TEXT NOT NULL,
    points INTEGER NOT NULL DEFAULT 0,
    completed INTEGER NOT NULL DEFAULT 0,
    completed_at INTEGER,
    created_at INTEGER NOT NULL,
    synced INTEGER NOT NULL DEFAULT 0,
    synced_at DATETIME
);

CREATE TABLE IF NOT EXISTS streaks (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    current_streak INTEGER NOT NULL DEFAULT 0,
    longest_streak INTEGER NOT NULL DEFAULT 0,
    last_practice_date INTEGER NOT NULL,
    total_points INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s','now')),
    synced INTEGER NOT NULL DEFAULT 0,
    synced_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_reviews_synced ON reviews(synced);
CREATE INDEX IF NOT EXISTS idx_lesson_progress_synced ON lesson_progress(synced);
CREATE INDEX IF NOT EXISTS idx_streaks_synced ON streaks(synced);

CREATE TABLE IF NOT EXISTS schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// Migration defines a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations is the list of all migrations in order
var Migrations = []Migration{
	{
		Version:     2,
		Description: "Add sync_history table",
		SQL: `CREATE TABLE IF NOT EXISTS sync_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    cycle_at TEXT NOT NULL,
    outcome TEXT NOT NULL,
    entity_table TEXT NOT NULL DEFAULT '',
    attempted INTEGER NOT NULL DEFAULT 0,
    succeeded INTEGER NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sync_history_cycle ON sync_history(cycle_at);`,
	},
	{
		Version:     3,
		Description: "Add local_rev for the lost-update guard",
		SQL: `ALTER TABLE reviews ADD COLUMN local_rev INTEGER NOT NULL DEFAULT 1;
ALTER TABLE lesson_progress ADD COLUMN local_rev INTEGER NOT NULL DEFAULT 1;
ALTER TABLE streaks ADD COLUMN local_rev INTEGER NOT NULL DEFAULT 1;`,
	},
}
