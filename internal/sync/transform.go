package sync

import (
	"fmt"
	"time"

	"github.com/marcus/cardsync/internal/models"
)

// ISOLayout matches JavaScript's Date.prototype.toISOString.
const ISOLayout = "2006-01-02T15:04:05.000Z"

// EpochToISO converts epoch seconds to an ISO-8601 UTC string with
// millisecond precision.
func EpochToISO(sec int64) string {
	return time.Unix(sec, 0).UTC().Format(ISOLayout)
}

// ISOToEpoch parses an ISO-8601 timestamp back to epoch seconds, dropping
// sub-second precision.
func ISOToEpoch(s string) (int64, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.Unix(), nil
}

// ToRemoteReview converts a local review to its wire shape.
func ToRemoteReview(r models.Review) models.RemoteReview {
	return models.RemoteReview{
		ID:           r.ID,
		UserID:       r.UserID,
		FlashcardID:  r.FlashcardID,
		EaseFactor:   r.EaseFactor,
		Interval:     r.Interval,
		Repetitions:  r.Repetitions,
		NextReview:   EpochToISO(r.NextReview),
		LastReviewed: EpochToISO(r.LastReviewed),
		CreatedAt:    EpochToISO(r.CreatedAt),
	}
}

// ToRemoteProgress converts a local progress record to its wire shape.
// A null completed_at stays null.
func ToRemoteProgress(p models.ProgressRecord) models.RemoteProgress {
	out := models.RemoteProgress{
		ID:        p.ID,
		UserID:    p.UserID,
		LessonID:  p.LessonID,
		Points:    p.Points,
		Completed: p.Completed,
		CreatedAt: EpochToISO(p.CreatedAt),
	}
	if p.CompletedAt != nil {
		s := EpochToISO(*p.CompletedAt)
		out.CompletedAt = &s
	}
	return out
}

// ToRemoteStreak converts a local streak record to its wire shape.
func ToRemoteStreak(s models.StreakRecord) models.RemoteStreak {
	return models.RemoteStreak{
		ID:               s.ID,
		UserID:           s.UserID,
		CurrentStreak:    s.CurrentStreak,
		LongestStreak:    s.LongestStreak,
		LastPracticeDate: EpochToISO(s.LastPracticeDate),
		TotalPoints:      s.TotalPoints,
	}
}
