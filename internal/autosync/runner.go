// Package autosync runs sync cycles in the background. Start, interval,
// reconnect and local database change triggers coalesce into one pending
// run consumed by a single worker.
package autosync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/marcus/cardsync/internal/db"
	"github.com/marcus/cardsync/internal/models"
	"github.com/marcus/cardsync/internal/netmon"
	cardsync "github.com/marcus/cardsync/internal/sync"
)

// Trigger names what asked for a run.
type Trigger string

const (
	TriggerStart       Trigger = "start"
	TriggerInterval    Trigger = "interval"
	TriggerReconnect   Trigger = "reconnect"
	TriggerLocalChange Trigger = "local_change"
	TriggerManual      Trigger = "manual"
)

// Syncer runs one sync cycle.
type Syncer interface {
	Run(ctx context.Context) cardsync.CycleSummary
}

// Store is the slice of the local database the runner needs.
type Store interface {
	CountPending(ctx context.Context) (map[models.Table]int, error)
	RecordSyncCycle(ctx context.Context, entries []db.SyncHistoryEntry) error
}

// Config holds runner settings. Zero durations disable the matching trigger.
type Config struct {
	OnStart bool
	// Interval between scheduled runs.
	Interval time.Duration
	// ReconnectPoll is how often connectivity is sampled for reconnects.
	ReconnectPoll time.Duration
	// WatchPath is the database file to watch for local writes.
	WatchPath string
	// Debounce collapses bursts of local writes into one trigger.
	Debounce time.Duration
	// QuietWindow ignores local writes for this long after a run, so the
	// run's own mark-synced writes do not schedule another.
	QuietWindow time.Duration
	// LockDir holds the cross-process sync lock. Empty skips locking.
	LockDir string
}

// Runner schedules sync cycles.
type Runner struct {
	cfg     Config
	syncer  Syncer
	store   Store
	monitor netmon.Checker
	logger  *slog.Logger

	kick    chan struct{}
	mu      sync.Mutex
	reason  Trigger
	running bool
	busy    bool
	last    time.Time

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	watcher *fsnotify.Watcher

	runs     atomic.Int64
	skipped  atomic.Int64
	observed func(Trigger, cardsync.CycleSummary)
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithMonitor enables the reconnect trigger.
func WithMonitor(m netmon.Checker) Option {
	return func(r *Runner) { r.monitor = m }
}

// WithRunHook is called after every run the worker performs.
func WithRunHook(fn func(Trigger, cardsync.CycleSummary)) Option {
	return func(r *Runner) { r.observed = fn }
}

// New creates a runner. store may be nil, which disables history and the
// pending gate on local change triggers.
func New(cfg Config, syncer Syncer, store Store, opts ...Option) *Runner {
	r := &Runner{
		cfg:    cfg,
		syncer: syncer,
		store:  store,
		logger: slog.Default(),
		kick:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the worker and the configured triggers.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("autosync: already running")
	}

	ctx, cancel := context.WithCancel(ctx)

	if r.cfg.WatchPath != "" {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			r.mu.Unlock()
			cancel()
			return fmt.Errorf("create watcher: %w", err)
		}
		if err := w.Add(filepath.Dir(r.cfg.WatchPath)); err != nil {
			w.Close()
			r.mu.Unlock()
			cancel()
			return fmt.Errorf("watch %s: %w", filepath.Dir(r.cfg.WatchPath), err)
		}
		r.watcher = w
	}

	r.cancel = cancel
	r.running = true

	r.goLoop(func() { r.worker(ctx) })
	if r.cfg.Interval > 0 {
		r.goLoop(func() { r.intervalLoop(ctx) })
	}
	if r.monitor != nil && r.cfg.ReconnectPoll > 0 {
		r.goLoop(func() { r.reconnectLoop(ctx) })
	}
	if r.watcher != nil {
		w := r.watcher
		r.goLoop(func() { r.watchLoop(ctx, w) })
	}
	r.mu.Unlock()

	if r.cfg.OnStart {
		r.trigger(TriggerStart)
	}

	r.logger.Info("autosync: started",
		"interval", r.cfg.Interval,
		"reconnect_poll", r.cfg.ReconnectPoll,
		"watch", r.cfg.WatchPath)
	return nil
}

// Stop cancels any in-flight run and waits for every loop to exit.
func (r *Runner) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	cancel := r.cancel
	w := r.watcher
	r.watcher = nil
	r.mu.Unlock()

	cancel()
	var err error
	if w != nil {
		err = w.Close()
	}
	r.wg.Wait()
	r.logger.Info("autosync: stopped", "runs", r.runs.Load())
	return err
}

// Trigger requests a run. It returns false when a run is already pending,
// in which case the request is folded into it.
func (r *Runner) Trigger() bool {
	return r.trigger(TriggerManual)
}

// Runs returns the number of cycles the worker has performed.
func (r *Runner) Runs() int64 { return r.runs.Load() }

// Skipped returns the number of runs skipped because the sync lock was held.
func (r *Runner) Skipped() int64 { return r.skipped.Load() }

func (r *Runner) goLoop(fn func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn()
	}()
}

// trigger fills the pending slot. The reason is written under mu before the
// worker can read it.
func (r *Runner) trigger(reason Trigger) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case r.kick <- struct{}{}:
		r.reason = reason
		r.logger.Debug("autosync: triggered", "reason", reason)
		return true
	default:
		r.logger.Debug("autosync: coalesced", "reason", reason)
		return false
	}
}

func (r *Runner) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.kick:
			r.mu.Lock()
			reason := r.reason
			r.mu.Unlock()
			r.runOnce(ctx, reason)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, reason Trigger) {
	r.setBusy(true)
	defer r.setBusy(false)

	if r.cfg.LockDir != "" {
		lock, err := db.AcquireSyncLock(r.cfg.LockDir, 0)
		if err != nil {
			r.skipped.Add(1)
			if errors.Is(err, db.ErrLockHeld) {
				r.logger.Debug("autosync: sync lock held, skipping", "reason", reason)
			} else {
				r.logger.Warn("autosync: sync lock", "err", err)
			}
			return
		}
		defer lock.Release()
	}

	summary := r.syncer.Run(ctx)
	r.runs.Add(1)

	if r.store != nil {
		if entries := HistoryEntries(summary); len(entries) > 0 {
			if err := r.store.RecordSyncCycle(context.WithoutCancel(ctx), entries); err != nil {
				r.logger.Warn("autosync: record history", "err", err)
			}
		}
	}

	r.logger.Debug("autosync: run finished",
		"reason", reason,
		"outcome", summary.Outcome,
		"pushed", summary.Pushed(),
		"failed", summary.Failed())

	if r.observed != nil {
		r.observed(reason, summary)
	}
}

func (r *Runner) setBusy(b bool) {
	r.mu.Lock()
	r.busy = b
	if !b {
		r.last = time.Now()
	}
	r.mu.Unlock()
}

// quiet reports whether local writes should be ignored right now.
func (r *Runner) quiet(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.busy {
		return true
	}
	return !r.last.IsZero() && now.Sub(r.last) < r.cfg.QuietWindow
}

func (r *Runner) intervalLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.trigger(TriggerInterval)
		}
	}
}

func (r *Runner) reconnectLoop(ctx context.Context) {
	first := true
	var online bool
	for state := range netmon.Watch(ctx, r.monitor, r.cfg.ReconnectPoll) {
		now := state.Online()
		if !first && now && !online {
			r.logger.Info("autosync: back online", "transport", state.Transport)
			r.trigger(TriggerReconnect)
		}
		first = false
		online = now
	}
}

func (r *Runner) watchLoop(ctx context.Context, w *fsnotify.Watcher) {
	base := filepath.Base(r.cfg.WatchPath)
	relevant := map[string]bool{base: true, base + "-wal": true}

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if !relevant[filepath.Base(event.Name)] {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if r.quiet(time.Now()) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(r.cfg.Debounce)
			} else {
				timer.Reset(r.cfg.Debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if r.quiet(time.Now()) {
				continue
			}
			if r.hasPending(ctx) {
				r.trigger(TriggerLocalChange)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			r.logger.Warn("autosync: watcher", "err", err)
		}
	}
}

func (r *Runner) hasPending(ctx context.Context) bool {
	if r.store == nil {
		return true
	}
	counts, err := r.store.CountPending(ctx)
	if err != nil {
		r.logger.Debug("autosync: count pending", "err", err)
		return false
	}
	for _, n := range counts {
		if n > 0 {
			return true
		}
	}
	return false
}
