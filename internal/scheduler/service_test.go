package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"reelsync/internal/feed"
	"reelsync/internal/store"
	logx "reelsync/pkg/logx"
)

type recordingRunner struct {
	mu  sync.Mutex
	ids []string

	block chan struct{} // when set, Run waits on it
}

func (r *recordingRunner) Run(_ context.Context, taskID string) {
	r.mu.Lock()
	r.ids = append(r.ids, taskID)
	r.mu.Unlock()
	if r.block != nil {
		<-r.block
	}
}

func (r *recordingRunner) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func newTestService(t *testing.T, cfg Config, st store.Store, run Runner) *Service {
	t.Helper()
	return New(cfg, st, feed.New(0, nil), run, logx.Nop())
}

func TestCycleDispatchesOnlyDueTasks(t *testing.T) {
	t.Parallel()
	st := store.NewMemory()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	due1 := store.Task{URL: "https://example.com/1", ScheduledFor: now.Add(-time.Minute)}
	due2 := store.Task{URL: "https://example.com/2", ScheduledFor: now}
	future := store.Task{URL: "https://example.com/3", ScheduledFor: now.Add(time.Hour)}
	for _, task := range []*store.Task{&due1, &due2, &future} {
		if err := st.CreateTask(context.Background(), task); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
	}

	run := &recordingRunner{}
	s := newTestService(t, Config{}, st, run)
	s.now = func() time.Time { return now }

	s.cycle(context.Background())
	s.wg.Wait()

	seen := run.seen()
	if len(seen) != 2 {
		t.Fatalf("dispatched %d tasks, want 2: %v", len(seen), seen)
	}
	for _, id := range seen {
		if id == future.ID {
			t.Fatal("future task was dispatched")
		}
	}

	// The sweep stamps last_check on every examined task.
	got, _ := st.GetTask(context.Background(), due1.ID)
	if !got.LastCheck.Equal(now) {
		t.Fatalf("last_check = %v, want %v", got.LastCheck, now)
	}
}

func TestCycleRespectsConcurrencyBound(t *testing.T) {
	t.Parallel()
	st := store.NewMemory()
	now := time.Now()
	for i := 0; i < 3; i++ {
		task := store.Task{URL: "https://example.com/n", ScheduledFor: now.Add(-time.Minute)}
		if err := st.CreateTask(context.Background(), &task); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
	}

	release := make(chan struct{})
	run := &recordingRunner{block: release}
	s := newTestService(t, Config{MaxConcurrent: 1}, st, run)

	s.cycle(context.Background())
	if n := len(run.seen()); n != 1 {
		t.Fatalf("dispatched %d tasks with capacity 1, want 1", n)
	}

	// Capacity stays exhausted while the runner holds its slot.
	s.cycle(context.Background())
	if n := len(run.seen()); n != 1 {
		t.Fatalf("dispatched %d tasks while saturated, want 1", n)
	}

	close(release)
	s.wg.Wait()
}

type failingDueStore struct {
	store.Store
}

func (f *failingDueStore) DueTasks(context.Context, time.Time, int) ([]store.Task, error) {
	return nil, errors.New("database is locked")
}

func TestCycleSurvivesStoreError(t *testing.T) {
	t.Parallel()
	fd := feed.New(0, nil)
	run := &recordingRunner{}
	s := New(Config{}, &failingDueStore{Store: store.NewMemory()}, fd, run, logx.Nop())

	s.cycle(context.Background())

	if len(run.seen()) != 0 {
		t.Fatal("dispatched tasks despite store error")
	}
	entries := fd.EntriesAfter(0)
	if len(entries) != 1 || !strings.Contains(entries[0].Message, "due task query failed") {
		t.Fatalf("expected one error entry, got %+v", entries)
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	st := store.NewMemory()
	s := newTestService(t, Config{CycleInterval: time.Hour}, st, &recordingRunner{})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !s.Snapshot().Running {
		t.Fatal("Snapshot.Running = false after Start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.Snapshot().Running {
		t.Fatal("Snapshot.Running = true after Stop")
	}
}
