package sync

import (
	"context"
	"slices"
	gosync "sync"
	"sync/atomic"

	"github.com/marcus/cardsync/internal/models"
	"github.com/marcus/cardsync/internal/netmon"
)

var online = netmon.State{IsConnected: true, IsInternetReachable: true, Transport: netmon.TransportWiFi}

type fakeMonitor struct {
	state netmon.State
	err   error
	panic bool
	calls atomic.Int32
}

func (m *fakeMonitor) CheckConnectivity(ctx context.Context) (netmon.State, error) {
	m.calls.Add(1)
	if m.panic {
		panic("monitor exploded")
	}
	return m.state, m.err
}

type markCall struct {
	table models.Table
	ids   []string
}

// fakeLocal serves a fixed snapshot, or tracks synced ids when track is set
// so repeated cycles see only what is still pending.
type fakeLocal struct {
	mu       gosync.Mutex
	data     models.UnsyncedData
	readErr  error
	markErrs map[models.Table]error
	track    bool
	synced   map[string]bool
	reads    int
	marks    []markCall
}

func (l *fakeLocal) GetUnsyncedData(ctx context.Context) (*models.UnsyncedData, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reads++
	if l.readErr != nil {
		return nil, l.readErr
	}
	out := &models.UnsyncedData{}
	for _, r := range l.data.Reviews {
		if !l.synced[r.ID] {
			out.Reviews = append(out.Reviews, r)
		}
	}
	for _, p := range l.data.Progress {
		if !l.synced[p.ID] {
			out.Progress = append(out.Progress, p)
		}
	}
	for _, s := range l.data.Streaks {
		if !l.synced[s.ID] {
			out.Streaks = append(out.Streaks, s)
		}
	}
	return out, nil
}

func (l *fakeLocal) MarkAsSynced(ctx context.Context, table models.Table, ids []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.marks = append(l.marks, markCall{table: table, ids: slices.Clone(ids)})
	if err := l.markErrs[table]; err != nil {
		return err
	}
	if l.track {
		if l.synced == nil {
			l.synced = make(map[string]bool)
		}
		for _, id := range ids {
			l.synced[id] = true
		}
	}
	return nil
}

func (l *fakeLocal) markCalls() []markCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.marks)
}

func (l *fakeLocal) markedTables() []models.Table {
	var out []models.Table
	for _, m := range l.markCalls() {
		out = append(out, m.table)
	}
	slices.Sort(out)
	return out
}

type upsertCall struct {
	table   models.Table
	records []models.RemoteRecord
	opts    models.UpsertOptions
}

type fakeRemote struct {
	mu     gosync.Mutex
	errs   map[models.Table]error
	panics map[models.Table]bool
	// block, when set, is waited on by every upsert before returning.
	block   chan struct{}
	started chan models.Table
	calls   []upsertCall
}

func (r *fakeRemote) Upsert(ctx context.Context, table models.Table, records []models.RemoteRecord, opts models.UpsertOptions) error {
	r.mu.Lock()
	r.calls = append(r.calls, upsertCall{table: table, records: slices.Clone(records), opts: opts})
	err := r.errs[table]
	shouldPanic := r.panics[table]
	r.mu.Unlock()

	if r.started != nil {
		r.started <- table
	}
	if shouldPanic {
		panic("remote exploded")
	}
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (r *fakeRemote) upsertCalls() []upsertCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

func sampleData() models.UnsyncedData {
	done := int64(1672617600)
	return models.UnsyncedData{
		Reviews: []models.Review{
			{ID: "r1", UserID: "u1", FlashcardID: "f1", EaseFactor: 2.5, Interval: 1, Repetitions: 1,
				NextReview: 1672531200, LastReviewed: 1672444800, CreatedAt: 1672444800},
			{ID: "r2", UserID: "u1", FlashcardID: "f2", EaseFactor: 2.36, Interval: 6, Repetitions: 2,
				NextReview: 1672963200, LastReviewed: 1672444800, CreatedAt: 1672444800},
		},
		Progress: []models.ProgressRecord{
			{ID: "p1", UserID: "u1", LessonID: "l1", Points: 10, Completed: true, CompletedAt: &done, CreatedAt: 1672531200},
		},
		Streaks: []models.StreakRecord{
			{ID: "s1", UserID: "u1", CurrentStreak: 3, LongestStreak: 7, LastPracticeDate: 1672531200, TotalPoints: 120},
		},
	}
}
