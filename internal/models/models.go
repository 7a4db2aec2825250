package models

// Table names a remote entity table. Values are the remote table names.
type Table string

const (
	TableReviews  Table = "flashcard_reviews"
	TableProgress Table = "user_progress"
	TableStreaks  Table = "streak_data"
)

// Tables lists every syncable table in dispatch order.
var Tables = []Table{TableReviews, TableProgress, TableStreaks}

// Valid reports whether t is one of the syncable tables.
func (t Table) Valid() bool {
	switch t {
	case TableReviews, TableProgress, TableStreaks:
		return true
	}
	return false
}

// ParseTable maps a table name or its local alias (reviews, progress,
// streaks) to a Table.
func ParseTable(s string) (Table, bool) {
	switch s {
	case "reviews", "review", string(TableReviews):
		return TableReviews, true
	case "progress", string(TableProgress):
		return TableProgress, true
	case "streaks", "streak", string(TableStreaks):
		return TableStreaks, true
	}
	return "", false
}

// ConflictKey is the only column remote upserts resolve conflicts on.
const ConflictKey = "id"

// UpsertOptions configures a remote upsert.
type UpsertOptions struct {
	OnConflict string
}

// DefaultUpsertOptions returns options keyed on ConflictKey.
func DefaultUpsertOptions() UpsertOptions {
	return UpsertOptions{OnConflict: ConflictKey}
}

// Review is a spaced-repetition review as stored on the device.
// Timestamps are epoch seconds.
type Review struct {
	ID           string  `json:"id"`
	UserID       string  `json:"user_id"`
	FlashcardID  string  `json:"flashcard_id"`
	EaseFactor   float64 `json:"ease_factor"`
	Interval     int     `json:"interval"`
	Repetitions  int     `json:"repetitions"`
	NextReview   int64   `json:"next_review"`
	LastReviewed int64   `json:"last_reviewed"`
	CreatedAt    int64   `json:"created_at"`
}

// ProgressRecord tracks lesson completion on the device.
type ProgressRecord struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	LessonID    string `json:"lesson_id"`
	Points      int    `json:"points"`
	Completed   bool   `json:"completed"`
	CompletedAt *int64 `json:"completed_at"`
	CreatedAt   int64  `json:"created_at"`
}

// StreakRecord holds a user's practice streak on the device.
type StreakRecord struct {
	ID               string `json:"id"`
	UserID           string `json:"user_id"`
	CurrentStreak    int    `json:"current_streak"`
	LongestStreak    int    `json:"longest_streak"`
	LastPracticeDate int64  `json:"last_practice_date"`
	TotalPoints      int    `json:"total_points"`
}

// UnsyncedData is every local record not yet confirmed remotely.
type UnsyncedData struct {
	Reviews  []Review         `json:"reviews"`
	Progress []ProgressRecord `json:"progress"`
	Streaks  []StreakRecord   `json:"streaks"`
}

// Len returns the number of pending records for table.
func (d *UnsyncedData) Len(table Table) int {
	if d == nil {
		return 0
	}
	switch table {
	case TableReviews:
		return len(d.Reviews)
	case TableProgress:
		return len(d.Progress)
	case TableStreaks:
		return len(d.Streaks)
	}
	return 0
}

// Total returns the number of pending records across all tables.
func (d *UnsyncedData) Total() int {
	n := 0
	for _, t := range Tables {
		n += d.Len(t)
	}
	return n
}

// RemoteRecord is a record in the shape written to the remote store.
type RemoteRecord interface {
	RemoteID() string
	RemoteTable() Table
}

// RemoteReview is the wire shape of a Review.
type RemoteReview struct {
	ID           string  `json:"id" gorm:"column:id;primaryKey"`
	UserID       string  `json:"user_id" gorm:"column:user_id"`
	FlashcardID  string  `json:"flashcard_id" gorm:"column:flashcard_id"`
	EaseFactor   float64 `json:"ease_factor" gorm:"column:ease_factor"`
	Interval     int     `json:"interval" gorm:"column:interval"`
	Repetitions  int     `json:"repetitions" gorm:"column:repetitions"`
	NextReview   string  `json:"next_review" gorm:"column:next_review"`
	LastReviewed string  `json:"last_reviewed" gorm:"column:last_reviewed"`
	CreatedAt    string  `json:"created_at" gorm:"column:created_at"`
}

func (r RemoteReview) RemoteID() string   { return r.ID }
func (r RemoteReview) RemoteTable() Table { return TableReviews }

// RemoteProgress is the wire shape of a ProgressRecord.
type RemoteProgress struct {
	ID          string  `json:"id" gorm:"column:id;primaryKey"`
	UserID      string  `json:"user_id" gorm:"column:user_id"`
	LessonID    string  `json:"lesson_id" gorm:"column:lesson_id"`
	Points      int     `json:"points" gorm:"column:points"`
	Completed   bool    `json:"completed" gorm:"column:completed"`
	CompletedAt *string `json:"completed_at" gorm:"column:completed_at"`
	CreatedAt   string  `json:"created_at" gorm:"column:created_at"`
}

func (r RemoteProgress) RemoteID() string   { return r.ID }
func (r RemoteProgress) RemoteTable() Table { return TableProgress }

// RemoteStreak is the wire shape of a StreakRecord.
type RemoteStreak struct {
	ID               string `json:"id" gorm:"column:id;primaryKey"`
	UserID           string `json:"user_id" gorm:"column:user_id"`
	CurrentStreak    int    `json:"current_streak" gorm:"column:current_streak"`
	LongestStreak    int    `json:"longest_streak" gorm:"column:longest_streak"`
	LastPracticeDate string `json:"last_practice_date" gorm:"column:last_practice_date"`
	TotalPoints      int    `json:"total_points" gorm:"column:total_points"`
}

func (r RemoteStreak) RemoteID() string   { return r.ID }
func (r RemoteStreak) RemoteTable() Table { return TableStreaks }
