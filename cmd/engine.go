package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/marcus/cardsync/internal/autosync"
	"github.com/marcus/cardsync/internal/db"
	"github.com/marcus/cardsync/internal/netmon"
	"github.com/marcus/cardsync/internal/pgstore"
	cardsync "github.com/marcus/cardsync/internal/sync"
	"github.com/marcus/cardsync/internal/syncclient"
	"github.com/marcus/cardsync/internal/syncconfig"
)

// engine bundles the collaborators of one sync setup.
type engine struct {
	store   *db.DB
	monitor *netmon.Monitor
	orch    *cardsync.Orchestrator
	metrics *cardsync.Metrics
	close   func()
}

// newMonitor builds the connectivity monitor for the configured backend.
func newMonitor(c *syncconfig.Config) (*netmon.Monitor, error) {
	probe, err := c.ProbeTarget()
	if err != nil {
		return nil, err
	}
	return netmon.New(probe, c.Network.ProbeTimeout)
}

// newRemote builds the remote store and a function releasing it. Nothing
// is dialed here; reachability is the monitor's job.
func newRemote(c *syncconfig.Config) (cardsync.RemoteStore, func(), error) {
	switch c.Remote.Backend {
	case syncconfig.BackendPostgres:
		store, err := pgstore.Open(pgstore.Config{DSN: c.Remote.DSN})
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return store, func() { store.Close() }, nil
	case syncconfig.BackendREST:
		client := syncclient.New(c.Remote.URL, c.Remote.APIKey)
		client.MaxBatch = c.Remote.MaxBatch
		if c.Sync.CallTimeout > 0 {
			client.HTTP.Timeout = c.Sync.CallTimeout
		}
		return client, func() {}, nil
	}
	return nil, nil, fmt.Errorf("remote.backend: unsupported value %q", c.Remote.Backend)
}

// openEngine opens the local store, the monitor and the remote for c.
func openEngine(c *syncconfig.Config, opts ...cardsync.Option) (*engine, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	store, err := db.Open(c.Local.Dir)
	if err != nil {
		return nil, err
	}

	monitor, err := newMonitor(c)
	if err != nil {
		store.Close()
		return nil, err
	}

	remote, closeRemote, err := newRemote(c)
	if err != nil {
		store.Close()
		return nil, err
	}

	metrics := cardsync.NewMetrics()
	all := []cardsync.Option{
		cardsync.WithCallTimeout(c.Sync.CallTimeout),
		cardsync.WithLogger(slog.Default()),
		cardsync.WithMetrics(metrics),
	}
	if c.Sync.Sequential {
		all = append(all, cardsync.WithSequential())
	}
	all = append(all, opts...)

	return &engine{
		store:   store,
		monitor: monitor,
		orch:    cardsync.New(monitor, store, remote, all...),
		metrics: metrics,
		close: func() {
			closeRemote()
			store.Close()
		},
	}, nil
}

// recordHistory writes a finished cycle to sync_history. Failures are logged.
func recordHistory(store *db.DB, s cardsync.CycleSummary) {
	entries := autosync.HistoryEntries(s)
	if len(entries) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.RecordSyncCycle(ctx, entries); err != nil {
		slog.Warn("sync: record history", "err", err)
	}
}

// errSyncFailed is returned by `sync --strict` when the cycle did not push
// everything it attempted.
var errSyncFailed = errors.New("sync finished with failures")

// strictResult maps a summary to the --strict exit status. An offline skip
// and a cycle with nothing to push both succeed.
func strictResult(s cardsync.CycleSummary) error {
	switch s.Outcome {
	case cardsync.OutcomeCompleted, cardsync.OutcomeOffline:
	default:
		return fmt.Errorf("%w: %s", errSyncFailed, s.Outcome)
	}
	if s.Failed() {
		var failed []string
		for _, t := range s.Tables {
			if !t.OK() {
				failed = append(failed, string(t.Table))
			}
		}
		return fmt.Errorf("%w: %v", errSyncFailed, failed)
	}
	return nil
}
