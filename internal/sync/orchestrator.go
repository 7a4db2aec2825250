// Package sync pushes locally recorded, unsynced flashcard data to the
// remote store. One cycle gates on connectivity, reads unsynced rows once,
// upserts each table independently and marks only the tables that landed.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/marcus/cardsync/internal/models"
)

// DefaultCallTimeout bounds each collaborator call.
const DefaultCallTimeout = 15 * time.Second

const cycleKey = "cycle"

// Orchestrator runs sync cycles. It is safe for concurrent use; overlapping
// calls to Run share a single in-flight cycle.
type Orchestrator struct {
	monitor NetworkMonitor
	local   LocalStore
	remote  RemoteStore

	callTimeout time.Duration
	sequential  bool
	logger      *slog.Logger
	observers   []Observer
	metrics     *Metrics
	now         func() time.Time

	group singleflight.Group
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCallTimeout bounds every collaborator call. Zero or negative disables
// the per-call deadline.
func WithCallTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.callTimeout = d }
}

// WithSequential dispatches tables one after another in dispatch order
// instead of concurrently.
func WithSequential() Option {
	return func(o *Orchestrator) { o.sequential = true }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver registers a callback invoked once per executed cycle.
func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.observers = append(o.observers, fn)
		}
	}
}

// WithMetrics records every cycle into m.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock overrides time.Now for summary timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates an Orchestrator over the three collaborators.
func New(monitor NetworkMonitor, local LocalStore, remote RemoteStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		monitor:     monitor,
		local:       local,
		remote:      remote,
		callTimeout: DefaultCallTimeout,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one sync cycle and never returns an error. If a cycle is
// already running, Run waits for it and returns its summary with Shared set.
// If ctx ends first the caller gets OutcomeCancelled and the running cycle
// is left alone.
func (o *Orchestrator) Run(ctx context.Context) CycleSummary {
	started := o.now()
	leader := false
	ch := o.group.DoChan(cycleKey, func() (any, error) {
		leader = true
		s := o.cycle(ctx)
		o.publish(s)
		return s, nil
	})

	select {
	case res := <-ch:
		s := res.Val.(CycleSummary)
		if !leader {
			s.Shared = true
			if o.metrics != nil {
				o.metrics.Record(s)
			}
		}
		return s
	case <-ctx.Done():
		return CycleSummary{
			Outcome:    OutcomeCancelled,
			Err:        ctx.Err(),
			StartedAt:  started,
			FinishedAt: o.now(),
		}
	}
}

// RunAsync starts Run in a goroutine and returns a channel that yields the
// summary once and is then closed.
func (o *Orchestrator) RunAsync(ctx context.Context) <-chan CycleSummary {
	out := make(chan CycleSummary, 1)
	go func() {
		defer close(out)
		out <- o.Run(ctx)
	}()
	return out
}

func (o *Orchestrator) cycle(ctx context.Context) CycleSummary {
	s := CycleSummary{StartedAt: o.now()}
	finish := func(outcome Outcome, err error) CycleSummary {
		s.Outcome = outcome
		s.Err = err
		s.FinishedAt = o.now()
		return s
	}

	state, err := call(ctx, o.callTimeout, "check connectivity", o.monitor.CheckConnectivity)
	if err != nil {
		if ctx.Err() != nil {
			return finish(OutcomeCancelled, ctx.Err())
		}
		o.logger.Warn("sync: connectivity check failed", "err", err)
		return finish(OutcomeCheckFailed, fmt.Errorf("%w: %w", ErrConnectivityCheckFailed, err))
	}
	s.Connectivity = state
	if !state.Online() {
		o.logger.Debug("sync: offline, skipping",
			"connected", state.IsConnected,
			"reachable", state.IsInternetReachable,
			"transport", state.Transport)
		return finish(OutcomeOffline, ErrConnectivityUnavailable)
	}

	data, err := call(ctx, o.callTimeout, "get unsynced data", o.local.GetUnsyncedData)
	if err != nil {
		if ctx.Err() != nil {
			return finish(OutcomeCancelled, ctx.Err())
		}
		o.logger.Error("sync: read unsynced data", "err", err)
		return finish(OutcomeLocalReadFailed, fmt.Errorf("%w: %w", ErrLocalReadFailed, err))
	}

	batches := buildBatches(data)
	if len(batches) == 0 {
		o.logger.Debug("sync: nothing to push")
		return finish(OutcomeCompleted, nil)
	}

	s.Tables = o.dispatch(ctx, batches)
	if ctx.Err() != nil {
		return finish(OutcomeCancelled, ctx.Err())
	}
	return finish(OutcomeCompleted, nil)
}

// dispatch syncs every batch and returns results in dispatch order. Table
// failures are collected in the results and never cancel siblings.
func (o *Orchestrator) dispatch(ctx context.Context, batches []batch) []TableResult {
	results := make([]TableResult, len(batches))
	if o.sequential {
		for i, b := range batches {
			results[i] = o.syncTable(ctx, b)
		}
		return results
	}

	var g errgroup.Group
	for i, b := range batches {
		g.Go(func() error {
			results[i] = o.syncTable(ctx, b)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (o *Orchestrator) syncTable(ctx context.Context, b batch) TableResult {
	res := TableResult{Table: b.table, Attempted: len(b.ids)}
	log := o.logger.With("table", string(b.table), "records", len(b.ids))

	_, err := call(ctx, o.callTimeout, "upsert "+string(b.table), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.remote.Upsert(ctx, b.table, b.records, models.DefaultUpsertOptions())
	})
	if err != nil {
		res.Err = fmt.Errorf("%s: %w: %w", b.table, ErrRemoteWriteFailed, err)
		log.Warn("sync: upsert failed, rows stay unsynced", "err", err)
		return res
	}
	res.Succeeded = len(b.ids)

	_, err = call(ctx, o.callTimeout, "mark synced "+string(b.table), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.local.MarkAsSynced(ctx, b.table, b.ids)
	})
	if err != nil {
		res.MarkErr = fmt.Errorf("%s: %w: %w", b.table, ErrMarkSyncedFailed, err)
		log.Warn("sync: mark synced failed, rows will be re-sent", "err", err)
		return res
	}
	log.Debug("sync: table pushed")
	return res
}

func (o *Orchestrator) publish(s CycleSummary) {
	if s.Outcome == OutcomeCompleted && len(s.Tables) > 0 {
		failed := 0
		for _, t := range s.Tables {
			if !t.OK() {
				failed++
			}
		}
		o.logger.Info("sync: cycle complete",
			"tables", len(s.Tables),
			"failed", failed,
			"pushed", s.Pushed(),
			"duration", s.Duration())
	}
	if o.metrics != nil {
		o.metrics.Record(s)
	}
	for _, fn := range o.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error("sync: observer panicked", "panic", r)
				}
			}()
			fn(s)
		}()
	}
}

// call runs fn with a per-call deadline. A panic in fn is recovered into an
// error wrapping ErrCyclePanic. When the deadline passes first, fn is
// abandoned and ErrCallTimeout is returned.
func call[T any](ctx context.Context, timeout time.Duration, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, fmt.Errorf("%s: %w", name, err)
	}

	callCtx := ctx
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("%s: %w: %v", name, ErrCyclePanic, r)}
			}
		}()
		v, err := fn(callCtx)
		done <- result{v: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return r.v, fmt.Errorf("%s: %w: %w", name, ErrCallTimeout, r.err)
		}
		return r.v, r.err
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%s: %w", name, err)
		}
		return zero, fmt.Errorf("%s: %w after %s", name, ErrCallTimeout, timeout)
	}
}
