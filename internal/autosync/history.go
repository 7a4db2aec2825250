package autosync

import (
	"github.com/marcus/cardsync/internal/db"
	cardsync "github.com/marcus/cardsync/internal/sync"
)

// HistoryEntries converts a cycle summary into sync_history rows. Offline
// skips and joined cycles return nil: the first is noise and the second was
// already recorded by the caller that led it.
func HistoryEntries(s cardsync.CycleSummary) []db.SyncHistoryEntry {
	if s.Outcome == cardsync.OutcomeOffline || s.Shared {
		return nil
	}

	base := db.SyncHistoryEntry{
		CycleAt:    s.StartedAt,
		Outcome:    string(s.Outcome),
		DurationMS: s.Duration().Milliseconds(),
	}

	if len(s.Tables) == 0 {
		if s.Err != nil {
			base.Error = s.Err.Error()
		}
		return []db.SyncHistoryEntry{base}
	}

	entries := make([]db.SyncHistoryEntry, 0, len(s.Tables))
	for _, t := range s.Tables {
		e := base
		e.Table = string(t.Table)
		e.Attempted = t.Attempted
		e.Succeeded = t.Succeeded
		switch {
		case t.Err != nil:
			e.Error = t.Err.Error()
		case t.MarkErr != nil:
			e.Error = t.MarkErr.Error()
		}
		entries = append(entries, e)
	}
	return entries
}
