package sync_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	gosync "sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/marcus/cardsync/internal/db"
	"github.com/marcus/cardsync/internal/models"
	"github.com/marcus/cardsync/internal/netmon"
	cardsync "github.com/marcus/cardsync/internal/sync"
	"github.com/marcus/cardsync/internal/syncclient"
)

type onlineMonitor struct{}

func (onlineMonitor) CheckConnectivity(ctx context.Context) (netmon.State, error) {
	return netmon.State{IsConnected: true, IsInternetReachable: true, Transport: netmon.TransportEthernet}, nil
}

// restBackend mimics the upsert endpoint: rows keyed by id per table,
// last write wins.
type restBackend struct {
	mu      gosync.Mutex
	rows    map[string]map[string]map[string]any
	failing map[string]bool
	posts   map[string]int
	// during runs inside the handler before the write is applied.
	during func(table string)
}

func newRESTBackend() *restBackend {
	return &restBackend{
		rows:    map[string]map[string]map[string]any{},
		failing: map[string]bool{},
		posts:   map[string]int{},
	}
}

func (b *restBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	table := strings.TrimPrefix(r.URL.Path, "/rest/v1/")
	var body []map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	b.mu.Lock()
	b.posts[table]++
	failing := b.failing[table]
	during := b.during
	b.mu.Unlock()

	if during != nil {
		during(table)
	}
	if failing {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"message":"upstream unavailable"}`))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rows[table] == nil {
		b.rows[table] = map[string]map[string]any{}
	}
	for _, row := range body {
		b.rows[table][row["id"].(string)] = row
	}
	w.WriteHeader(http.StatusCreated)
}

func (b *restBackend) row(table, id string) map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rows[table][id]
}

func (b *restBackend) setFailing(table string, v bool) {
	b.mu.Lock()
	b.failing[table] = v
	b.mu.Unlock()
}

func openMemoryDB(t *testing.T) *db.DB {
	t.Helper()
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite3: %v", err)
	}
	// One connection so every query sees the same in-memory database.
	conn.SetMaxOpenConns(1)
	store, err := db.NewFromConn(conn)
	if err != nil {
		t.Fatalf("NewFromConn: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seed(t *testing.T, ctx context.Context, store *db.DB) {
	t.Helper()
	done := int64(1672617600)
	if _, err := store.SaveReview(ctx, models.Review{ID: "r1", UserID: "u1", FlashcardID: "f1", EaseFactor: 2.5,
		Interval: 1, Repetitions: 1, NextReview: 1672531200, LastReviewed: 1672444800, CreatedAt: 1672444800}); err != nil {
		t.Fatalf("SaveReview: %v", err)
	}
	if _, err := store.SaveProgress(ctx, models.ProgressRecord{ID: "p1", UserID: "u1", LessonID: "l1", Points: 10,
		Completed: true, CompletedAt: &done, CreatedAt: 1672531200}); err != nil {
		t.Fatalf("SaveProgress: %v", err)
	}
	if _, err := store.SaveProgress(ctx, models.ProgressRecord{ID: "p2", UserID: "u1", LessonID: "l2",
		CreatedAt: 1672531200}); err != nil {
		t.Fatalf("SaveProgress: %v", err)
	}
	if _, err := store.SaveStreak(ctx, models.StreakRecord{ID: "s1", UserID: "u1", CurrentStreak: 3,
		LongestStreak: 7, LastPracticeDate: 1672531200, TotalPoints: 120}); err != nil {
		t.Fatalf("SaveStreak: %v", err)
	}
}

func TestStoreBacked_EndToEnd(t *testing.T) {
	ctx := context.Background()
	store := openMemoryDB(t)
	seed(t, ctx, store)

	backend := newRESTBackend()
	srv := httptest.NewServer(backend)
	defer srv.Close()

	o := cardsync.New(onlineMonitor{}, store, syncclient.New(srv.URL, "anon"))
	s := o.Run(ctx)
	if s.Outcome != cardsync.OutcomeCompleted || s.Failed() {
		t.Fatalf("summary: got %+v", s)
	}
	if s.Pushed() != 4 {
		t.Errorf("pushed: got %d, want 4", s.Pushed())
	}

	review := backend.row("flashcard_reviews", "r1")
	if review == nil || review["next_review"] != "2023-01-01T00:00:00.000Z" {
		t.Errorf("remote review: got %v", review)
	}
	if p2 := backend.row("user_progress", "p2"); p2 == nil || p2["completed_at"] != nil || p2["completed"] != false {
		t.Errorf("remote p2: got %v", p2)
	}
	if p1 := backend.row("user_progress", "p1"); p1 == nil || p1["completed_at"] != "2023-01-02T00:00:00.000Z" {
		t.Errorf("remote p1: got %v", p1)
	}

	counts, err := store.CountPending(ctx)
	if err != nil {
		t.Fatalf("CountPending: %v", err)
	}
	for table, n := range counts {
		if n != 0 {
			t.Errorf("%s pending after sync: got %d, want 0", table, n)
		}
	}

	// Nothing left: the next cycle reaches no remote.
	again := o.Run(ctx)
	if len(again.Tables) != 0 {
		t.Errorf("second cycle tables: got %+v, want none", again.Tables)
	}
}

func TestStoreBacked_FailedTableRetried(t *testing.T) {
	ctx := context.Background()
	store := openMemoryDB(t)
	seed(t, ctx, store)

	backend := newRESTBackend()
	backend.setFailing("user_progress", true)
	srv := httptest.NewServer(backend)
	defer srv.Close()

	o := cardsync.New(onlineMonitor{}, store, syncclient.New(srv.URL, "anon"))
	s := o.Run(ctx)
	if !s.Failed() {
		t.Fatal("expected a failed table")
	}

	for _, c := range []struct {
		table models.Table
		id    string
		want  bool
	}{
		{models.TableReviews, "r1", true},
		{models.TableProgress, "p1", false},
		{models.TableProgress, "p2", false},
		{models.TableStreaks, "s1", true},
	} {
		got, err := store.IsSynced(ctx, c.table, c.id)
		if err != nil {
			t.Fatalf("IsSynced(%s): %v", c.id, err)
		}
		if got != c.want {
			t.Errorf("%s synced: got %v, want %v", c.id, got, c.want)
		}
	}

	backend.setFailing("user_progress", false)
	s = o.Run(ctx)
	if s.Failed() || len(s.Tables) != 1 || s.Tables[0].Table != models.TableProgress || s.Tables[0].Succeeded != 2 {
		t.Fatalf("retry cycle: got %+v", s.Tables)
	}
	if ok, _ := store.IsSynced(ctx, models.TableProgress, "p2"); !ok {
		t.Error("p2 should be synced after retry")
	}
}

func TestStoreBacked_EditDuringUpsertStaysPending(t *testing.T) {
	ctx := context.Background()
	store := openMemoryDB(t)
	seed(t, ctx, store)

	backend := newRESTBackend()
	var once gosync.Once
	backend.during = func(table string) {
		if table != "flashcard_reviews" {
			return
		}
		once.Do(func() {
			// The user reviews the card again while the old version is in flight.
			if _, err := store.SaveReview(ctx, models.Review{ID: "r1", UserID: "u1", FlashcardID: "f1", EaseFactor: 2.6,
				Interval: 3, Repetitions: 2, NextReview: 1672790400, LastReviewed: 1672531200, CreatedAt: 1672444800}); err != nil {
				t.Errorf("SaveReview during upsert: %v", err)
			}
		})
	}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	o := cardsync.New(onlineMonitor{}, store, syncclient.New(srv.URL, "anon"), cardsync.WithSequential())
	o.Run(ctx)

	synced, err := store.IsSynced(ctx, models.TableReviews, "r1")
	if err != nil {
		t.Fatalf("IsSynced: %v", err)
	}
	if synced {
		t.Fatal("r1 was edited during the upsert and must stay unsynced")
	}

	// The next cycle pushes the new version.
	o.Run(ctx)
	if synced, _ := store.IsSynced(ctx, models.TableReviews, "r1"); !synced {
		t.Error("r1 should be synced after the follow-up cycle")
	}
	if got := backend.row("flashcard_reviews", "r1"); got["interval"] != float64(3) {
		t.Errorf("remote r1: got %v, want the edited version", got)
	}
}
