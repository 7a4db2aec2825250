package sync

import (
	"context"
	"time"

	"github.com/marcus/cardsync/internal/models"
	"github.com/marcus/cardsync/internal/netmon"
)

// NetworkMonitor reports whether a cycle may run.
type NetworkMonitor interface {
	CheckConnectivity(ctx context.Context) (netmon.State, error)
}

// LocalStore is the device-side store of unsynced records.
type LocalStore interface {
	GetUnsyncedData(ctx context.Context) (*models.UnsyncedData, error)
	MarkAsSynced(ctx context.Context, table models.Table, ids []string) error
}

// RemoteStore writes a batch of records to the authoritative store.
// A batch either fully applies or returns one error.
type RemoteStore interface {
	Upsert(ctx context.Context, table models.Table, records []models.RemoteRecord, opts models.UpsertOptions) error
}

// Outcome is how a cycle ended.
type Outcome string

const (
	// OutcomeCompleted means every non-empty table was attempted.
	OutcomeCompleted Outcome = "completed"
	// OutcomeOffline means the device was offline; nothing was touched.
	OutcomeOffline Outcome = "offline"
	// OutcomeCheckFailed means the connectivity check itself failed.
	OutcomeCheckFailed Outcome = "check_failed"
	// OutcomeLocalReadFailed means unsynced data could not be read.
	OutcomeLocalReadFailed Outcome = "local_read_failed"
	// OutcomeCancelled means the caller's context ended before the cycle finished.
	OutcomeCancelled Outcome = "cancelled"
)

// TableResult is the per-table result of a completed cycle.
type TableResult struct {
	Table     models.Table `json:"table"`
	Attempted int          `json:"attempted"`
	Succeeded int          `json:"succeeded"`
	Err       error        `json:"-"`
	MarkErr   error        `json:"-"`
}

// OK reports whether the table was upserted and marked.
func (r TableResult) OK() bool {
	return r.Err == nil && r.MarkErr == nil
}

// CycleSummary describes one run of the orchestrator.
type CycleSummary struct {
	Outcome      Outcome       `json:"outcome"`
	Err          error         `json:"-"`
	Connectivity netmon.State  `json:"connectivity"`
	Tables       []TableResult `json:"tables"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
	// Shared is set when the caller joined a cycle started by another caller.
	Shared bool `json:"shared"`
}

// Failed reports whether any table failed to upsert or mark.
func (s CycleSummary) Failed() bool {
	for _, t := range s.Tables {
		if !t.OK() {
			return true
		}
	}
	return false
}

// Pushed returns the number of records marked synced in this cycle.
func (s CycleSummary) Pushed() int {
	n := 0
	for _, t := range s.Tables {
		if t.MarkErr == nil {
			n += t.Succeeded
		}
	}
	return n
}

// Duration returns the wall time of the cycle.
func (s CycleSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Observer receives every finished cycle summary.
type Observer func(CycleSummary)
