package autosync

import (
	"context"
	"os"
	"path/filepath"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marcus/cardsync/internal/db"
	"github.com/marcus/cardsync/internal/models"
	"github.com/marcus/cardsync/internal/netmon"
	cardsync "github.com/marcus/cardsync/internal/sync"
)

type fakeSyncer struct {
	calls   atomic.Int64
	started chan struct{}
	release chan struct{}
}

func (f *fakeSyncer) Run(ctx context.Context) cardsync.CycleSummary {
	f.calls.Add(1)
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return cardsync.CycleSummary{Outcome: cardsync.OutcomeCancelled, Err: ctx.Err()}
		}
	}
	now := time.Now()
	return cardsync.CycleSummary{
		Outcome:    cardsync.OutcomeCompleted,
		StartedAt:  now,
		FinishedAt: now,
		Tables:     []cardsync.TableResult{{Table: models.TableReviews, Attempted: 1, Succeeded: 1}},
	}
}

type fakeStore struct {
	mu      gosync.Mutex
	pending int
	history [][]db.SyncHistoryEntry
}

func (f *fakeStore) setPending(n int) {
	f.mu.Lock()
	f.pending = n
	f.mu.Unlock()
}

func (f *fakeStore) CountPending(ctx context.Context) (map[models.Table]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return map[models.Table]int{models.TableReviews: f.pending}, nil
}

func (f *fakeStore) RecordSyncCycle(ctx context.Context, entries []db.SyncHistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, entries)
	return nil
}

func (f *fakeStore) cycles() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.history)
}

// flappingMonitor is offline for the first offlineFor checks.
type flappingMonitor struct {
	checks     atomic.Int64
	offlineFor int64
}

func (m *flappingMonitor) CheckConnectivity(ctx context.Context) (netmon.State, error) {
	if m.checks.Add(1) <= m.offlineFor {
		return netmon.State{Transport: netmon.TransportNone}, nil
	}
	return netmon.State{IsConnected: true, IsInternetReachable: true, Transport: netmon.TransportWiFi}, nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func hookInto(ch chan Trigger) Option {
	return WithRunHook(func(reason Trigger, _ cardsync.CycleSummary) {
		select {
		case ch <- reason:
		default:
		}
	})
}

func TestRunner_OnStart(t *testing.T) {
	syncer := &fakeSyncer{}
	store := &fakeStore{}
	reasons := make(chan Trigger, 4)
	r := New(Config{OnStart: true}, syncer, store, hookInto(reasons))

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	select {
	case got := <-reasons:
		if got != TriggerStart {
			t.Errorf("reason: got %s, want %s", got, TriggerStart)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no run after start")
	}
	if store.cycles() != 1 {
		t.Errorf("history cycles: got %d, want 1", store.cycles())
	}
}

func TestRunner_StartTwice(t *testing.T) {
	r := New(Config{}, &fakeSyncer{}, nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
	if err := r.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestRunner_TriggersCoalesce(t *testing.T) {
	syncer := &fakeSyncer{started: make(chan struct{}, 4), release: make(chan struct{})}
	r := New(Config{}, syncer, nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	if !r.Trigger() {
		t.Fatal("first trigger should fill the slot")
	}
	select {
	case <-syncer.started:
	case <-time.After(2 * time.Second):
		t.Fatal("run never started")
	}

	// The worker is busy: one request queues, the rest fold into it.
	if !r.Trigger() {
		t.Error("trigger during a run should queue one follow-up")
	}
	if r.Trigger() || r.Trigger() {
		t.Error("further triggers should coalesce")
	}

	close(syncer.release)
	if !waitFor(t, 2*time.Second, func() bool { return r.Runs() == 2 }) {
		t.Fatalf("runs: got %d, want 2", r.Runs())
	}
	time.Sleep(50 * time.Millisecond)
	if got := syncer.calls.Load(); got != 2 {
		t.Errorf("syncer calls: got %d, want 2", got)
	}
}

func TestRunner_Interval(t *testing.T) {
	syncer := &fakeSyncer{}
	r := New(Config{Interval: 10 * time.Millisecond}, syncer, nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	if !waitFor(t, 2*time.Second, func() bool { return r.Runs() >= 2 }) {
		t.Fatalf("runs: got %d, want >= 2", r.Runs())
	}
}

func TestRunner_Reconnect(t *testing.T) {
	syncer := &fakeSyncer{}
	reasons := make(chan Trigger, 4)
	mon := &flappingMonitor{offlineFor: 2}
	r := New(Config{ReconnectPoll: 5 * time.Millisecond}, syncer, nil, WithMonitor(mon), hookInto(reasons))
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	select {
	case got := <-reasons:
		if got != TriggerReconnect {
			t.Errorf("reason: got %s, want %s", got, TriggerReconnect)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no run after reconnect")
	}
}

func TestRunner_OnlineAtStartIsNotReconnect(t *testing.T) {
	syncer := &fakeSyncer{}
	mon := &flappingMonitor{}
	r := New(Config{ReconnectPoll: 5 * time.Millisecond}, syncer, nil, WithMonitor(mon))
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, time.Second, func() bool { return mon.checks.Load() >= 5 })
	r.Stop()

	if got := r.Runs(); got != 0 {
		t.Errorf("runs: got %d, want 0", got)
	}
}

func writeDB(t *testing.T, path string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		t.Fatalf("open db file: %v", err)
	}
	f.Write([]byte("x"))
	f.Close()
}

func TestRunner_LocalChange(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "cards.db")
	writeDB(t, dbPath)

	syncer := &fakeSyncer{}
	store := &fakeStore{pending: 1}
	reasons := make(chan Trigger, 4)
	r := New(Config{WatchPath: dbPath, Debounce: 20 * time.Millisecond}, syncer, store, hookInto(reasons))
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	for range 5 {
		writeDB(t, dbPath)
	}

	select {
	case got := <-reasons:
		if got != TriggerLocalChange {
			t.Errorf("reason: got %s, want %s", got, TriggerLocalChange)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no run after local change")
	}

	time.Sleep(100 * time.Millisecond)
	if got := r.Runs(); got != 1 {
		t.Errorf("burst of writes should debounce into one run, got %d", got)
	}
}

func TestRunner_LocalChangeIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "cards.db")
	writeDB(t, dbPath)

	store := &fakeStore{pending: 1}
	r := New(Config{WatchPath: dbPath, Debounce: 10 * time.Millisecond}, &fakeSyncer{}, store)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	writeDB(t, filepath.Join(dir, "sync.lock"))
	writeDB(t, filepath.Join(dir, "notes.txt"))
	time.Sleep(150 * time.Millisecond)
	r.Stop()

	if got := r.Runs(); got != 0 {
		t.Errorf("runs: got %d, want 0", got)
	}
}

func TestRunner_LocalChangeNeedsPending(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "cards.db")
	writeDB(t, dbPath)

	store := &fakeStore{}
	r := New(Config{WatchPath: dbPath, Debounce: 10 * time.Millisecond}, &fakeSyncer{}, store)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	writeDB(t, dbPath+"-wal")
	time.Sleep(150 * time.Millisecond)
	if got := r.Runs(); got != 0 {
		t.Fatalf("runs with nothing pending: got %d, want 0", got)
	}

	store.setPending(2)
	writeDB(t, dbPath+"-wal")
	if !waitFor(t, 2*time.Second, func() bool { return r.Runs() == 1 }) {
		t.Errorf("runs after pending write: got %d, want 1", r.Runs())
	}
}

func TestRunner_QuietWindow(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "cards.db")
	writeDB(t, dbPath)

	store := &fakeStore{pending: 1}
	r := New(Config{
		OnStart:     true,
		WatchPath:   dbPath,
		Debounce:    10 * time.Millisecond,
		QuietWindow: time.Minute,
	}, &fakeSyncer{}, store)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	if !waitFor(t, 2*time.Second, func() bool { return r.Runs() == 1 }) {
		t.Fatalf("start run: got %d", r.Runs())
	}
	writeDB(t, dbPath)
	time.Sleep(150 * time.Millisecond)
	if got := r.Runs(); got != 1 {
		t.Errorf("writes inside the quiet window should not trigger, runs=%d", got)
	}
}

func TestRunner_SkipsWhenLockHeld(t *testing.T) {
	dir := t.TempDir()
	held, err := db.AcquireSyncLock(dir, 0)
	if err != nil {
		t.Fatalf("AcquireSyncLock: %v", err)
	}
	defer held.Release()

	syncer := &fakeSyncer{}
	r := New(Config{OnStart: true, LockDir: dir}, syncer, nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	if !waitFor(t, 2*time.Second, func() bool { return r.Skipped() == 1 }) {
		t.Fatalf("skipped: got %d, want 1", r.Skipped())
	}
	if got := syncer.calls.Load(); got != 0 {
		t.Errorf("syncer ran while lock held: %d", got)
	}

	held.Release()
	r.Trigger()
	if !waitFor(t, 2*time.Second, func() bool { return r.Runs() == 1 }) {
		t.Errorf("runs after release: got %d, want 1", r.Runs())
	}
}

func TestRunner_StopCancelsRun(t *testing.T) {
	syncer := &fakeSyncer{started: make(chan struct{}, 1), release: make(chan struct{})}
	store := &fakeStore{}
	r := New(Config{OnStart: true}, syncer, store)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-syncer.started

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while a run was in flight")
	}
	if store.cycles() != 1 {
		t.Errorf("cancelled run should still be recorded, got %d", store.cycles())
	}
}
