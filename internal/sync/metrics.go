package sync

import (
	"sync/atomic"
	"time"
)

// Metrics collects in-memory sync counters using atomics.
type Metrics struct {
	startTime     time.Time
	cycles        atomic.Int64
	offline       atomic.Int64
	checkFailures atomic.Int64
	readFailures  atomic.Int64
	shared        atomic.Int64
	tableFailures atomic.Int64
	markFailures  atomic.Int64
	recordsPushed atomic.Int64
	lastCycleUnix atomic.Int64
}

// MetricsSnapshot is a point-in-time view of sync metrics.
type MetricsSnapshot struct {
	UptimeSeconds   float64 `json:"uptime_seconds"`
	Cycles          int64   `json:"cycles"`
	OfflineSkips    int64   `json:"offline_skips"`
	CheckFailures   int64   `json:"check_failures"`
	ReadFailures    int64   `json:"read_failures"`
	SharedJoins     int64   `json:"shared_joins"`
	TableFailures   int64   `json:"table_failures"`
	MarkFailures    int64   `json:"mark_failures"`
	RecordsPushed   int64   `json:"records_pushed"`
	LastCycleUnixMS int64   `json:"last_cycle_unix_ms"`
}

// NewMetrics creates a new Metrics instance with the current time as start.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// Record folds one cycle summary into the counters.
func (m *Metrics) Record(s CycleSummary) {
	if s.Shared {
		m.shared.Add(1)
		return
	}
	m.cycles.Add(1)
	m.lastCycleUnix.Store(s.FinishedAt.UnixMilli())
	switch s.Outcome {
	case OutcomeOffline:
		m.offline.Add(1)
	case OutcomeCheckFailed:
		m.checkFailures.Add(1)
	case OutcomeLocalReadFailed:
		m.readFailures.Add(1)
	}
	for _, t := range s.Tables {
		switch {
		case t.Err != nil:
			m.tableFailures.Add(1)
		case t.MarkErr != nil:
			m.markFailures.Add(1)
		default:
			m.recordsPushed.Add(int64(t.Succeeded))
		}
	}
}

// Snapshot returns a point-in-time copy of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		UptimeSeconds:   time.Since(m.startTime).Seconds(),
		Cycles:          m.cycles.Load(),
		OfflineSkips:    m.offline.Load(),
		CheckFailures:   m.checkFailures.Load(),
		ReadFailures:    m.readFailures.Load(),
		SharedJoins:     m.shared.Load(),
		TableFailures:   m.tableFailures.Load(),
		MarkFailures:    m.markFailures.Load(),
		RecordsPushed:   m.recordsPushed.Load(),
		LastCycleUnixMS: m.lastCycleUnix.Load(),
	}
}
