package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"reelsync/internal/feed"
	"reelsync/internal/store"
	logx "reelsync/pkg/logx"
)

type fakeFetcher struct {
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(_ context.Context, _, _ string) (MediaHandle, error) {
	f.calls++
	if f.err != nil {
		return MediaHandle{}, f.err
	}
	return MediaHandle{Path: "/work/src.mp4"}, nil
}

type fakeTransformer struct {
	err   error
	panic bool
}

func (f *fakeTransformer) Transform(_ context.Context, h MediaHandle) (MediaHandle, error) {
	if f.panic {
		panic("transformer blew up")
	}
	if f.err != nil {
		return MediaHandle{}, f.err
	}
	return MediaHandle{Path: "/work/out.mp4"}, nil
}

type fakePublisher struct {
	errs  []error // one per call; nil entry means success
	calls int
}

func (f *fakePublisher) Publish(_ context.Context, _ MediaHandle, _, _ string) error {
	f.calls++
	if f.calls <= len(f.errs) {
		return f.errs[f.calls-1]
	}
	return nil
}

type fakeCleaner struct {
	cleaned []MediaHandle
}

func (f *fakeCleaner) Clean(_ context.Context, handles ...MediaHandle) error {
	f.cleaned = append(f.cleaned, handles...)
	return nil
}

func testRunner(t *testing.T, st store.Store, stages Stages) (*Runner, *feed.Feed) {
	t.Helper()
	fd := feed.New(0, nil)
	r := New(Config{
		Retry: RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			Sleep:       func(context.Context, time.Duration) error { return nil },
		},
	}, st, fd, nil, logx.Nop(), stages)
	return r, fd
}

func createPending(t *testing.T, st store.Store, task store.Task) store.Task {
	t.Helper()
	if task.URL == "" {
		task.URL = "https://example.com/reel/1"
	}
	if err := st.CreateTask(context.Background(), &task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return task
}

func TestRunCompletesTask(t *testing.T) {
	t.Parallel()
	st := store.NewMemory()
	task := createPending(t, st, store.Task{})

	cleaner := &fakeCleaner{}
	r, fd := testRunner(t, st, Stages{
		Fetcher:     &fakeFetcher{},
		Transformer: &fakeTransformer{},
		Publisher:   &fakePublisher{},
		Cleaner:     cleaner,
	})
	r.Run(context.Background(), task.ID)

	got, err := st.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != store.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.CompletedAt.IsZero() {
		t.Fatal("CompletedAt not set")
	}
	if len(cleaner.cleaned) != 2 {
		t.Fatalf("cleaned %d handles, want 2", len(cleaner.cleaned))
	}

	changes := fd.StatusAfter(0)
	if len(changes) != 2 {
		t.Fatalf("got %d status changes, want 2", len(changes))
	}
	if changes[0].Status != store.StatusProcessing || changes[1].Status != store.StatusCompleted {
		t.Fatalf("unexpected transition order: %s then %s", changes[0].Status, changes[1].Status)
	}
}

func TestRunSkipsAlreadyClaimedTask(t *testing.T) {
	t.Parallel()
	st := store.NewMemory()
	task := createPending(t, st, store.Task{Status: store.StatusProcessing})

	fetcher := &fakeFetcher{}
	r, fd := testRunner(t, st, Stages{Fetcher: fetcher, Transformer: &fakeTransformer{}, Publisher: &fakePublisher{}})
	r.Run(context.Background(), task.ID)

	if fetcher.calls != 0 {
		t.Fatalf("fetcher ran %d times on a claimed task", fetcher.calls)
	}
	got, _ := st.GetTask(context.Background(), task.ID)
	if got.Status != store.StatusProcessing {
		t.Fatalf("status = %s, want processing (untouched)", got.Status)
	}
	if changes := fd.StatusAfter(0); len(changes) != 0 {
		t.Fatalf("expected no status changes, got %d", len(changes))
	}
}

func TestRunFetchFailureMarksFailed(t *testing.T) {
	t.Parallel()
	st := store.NewMemory()
	task := createPending(t, st, store.Task{})

	r, _ := testRunner(t, st, Stages{
		Fetcher:     &fakeFetcher{err: errors.New("connection refused")},
		Transformer: &fakeTransformer{},
		Publisher:   &fakePublisher{},
	})
	r.Run(context.Background(), task.ID)

	got, _ := st.GetTask(context.Background(), task.ID)
	if got.Status != store.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "fetch failed") {
		t.Fatalf("error message %q missing stage context", got.ErrorMessage)
	}
}

func TestRunPublishExhaustionMarksFailed(t *testing.T) {
	t.Parallel()
	st := store.NewMemory()
	task := createPending(t, st, store.Task{})

	pub := &fakePublisher{errs: []error{
		errors.New("503"), errors.New("503"), errors.New("503"),
	}}
	r, _ := testRunner(t, st, Stages{Fetcher: &fakeFetcher{}, Transformer: &fakeTransformer{}, Publisher: pub})
	r.Run(context.Background(), task.ID)

	if pub.calls != 3 {
		t.Fatalf("publish attempts = %d, want 3", pub.calls)
	}
	got, _ := st.GetTask(context.Background(), task.ID)
	if got.Status != store.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "publish failed after 3 attempts") {
		t.Fatalf("unexpected error message: %q", got.ErrorMessage)
	}
}

func TestRunPermanentPublishFailureFailsFast(t *testing.T) {
	t.Parallel()
	st := store.NewMemory()
	task := createPending(t, st, store.Task{})

	pub := &fakePublisher{errs: []error{
		Permanent(errors.New("credential unavailable")),
		errors.New("should not be reached"),
	}}
	r, _ := testRunner(t, st, Stages{Fetcher: &fakeFetcher{}, Transformer: &fakeTransformer{}, Publisher: pub})
	r.Run(context.Background(), task.ID)

	if pub.calls != 1 {
		t.Fatalf("publish attempts = %d, want 1", pub.calls)
	}
	got, _ := st.GetTask(context.Background(), task.ID)
	if got.Status != store.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
}

func TestRunStagePanicBecomesTaskFailure(t *testing.T) {
	t.Parallel()
	st := store.NewMemory()
	task := createPending(t, st, store.Task{})

	r, _ := testRunner(t, st, Stages{Fetcher: &fakeFetcher{}, Transformer: &fakeTransformer{panic: true}, Publisher: &fakePublisher{}})
	r.Run(context.Background(), task.ID)

	got, _ := st.GetTask(context.Background(), task.ID)
	if got.Status != store.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "stage panic") {
		t.Fatalf("unexpected error message: %q", got.ErrorMessage)
	}
}

func TestRunIntervalRepeatCreatesSuccessor(t *testing.T) {
	t.Parallel()
	st := store.NewMemory()
	task := createPending(t, st, store.Task{RepeatInterval: time.Hour, OwnerID: "acct-1"})

	completedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r, _ := testRunner(t, st, Stages{Fetcher: &fakeFetcher{}, Transformer: &fakeTransformer{}, Publisher: &fakePublisher{}})
	r.now = func() time.Time { return completedAt }
	r.Run(context.Background(), task.ID)

	all, err := st.ListTasks(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d tasks, want original plus successor", len(all))
	}
	var succ store.Task
	for _, c := range all {
		if c.ID != task.ID {
			succ = c
		}
	}
	if succ.ID == "" || succ.ID == task.ID {
		t.Fatal("successor must have a fresh id")
	}
	if succ.Status != store.StatusPending {
		t.Fatalf("successor status = %s, want pending", succ.Status)
	}
	if succ.URL != task.URL || succ.OwnerID != task.OwnerID || succ.RepeatInterval != time.Hour {
		t.Fatalf("successor lost task fields: %+v", succ)
	}
	if want := completedAt.Add(time.Hour); !succ.ScheduledFor.Equal(want) {
		t.Fatalf("successor scheduled for %v, want %v", succ.ScheduledFor, want)
	}
}

func TestRunCronRepeatCreatesSuccessor(t *testing.T) {
	t.Parallel()
	st := store.NewMemory()
	task := createPending(t, st, store.Task{RepeatSpec: "0 9 * * *"})

	completedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r, _ := testRunner(t, st, Stages{Fetcher: &fakeFetcher{}, Transformer: &fakeTransformer{}, Publisher: &fakePublisher{}})
	r.now = func() time.Time { return completedAt }
	r.Run(context.Background(), task.ID)

	all, _ := st.ListTasks(context.Background(), 0)
	if len(all) != 2 {
		t.Fatalf("got %d tasks, want 2", len(all))
	}
	var succ store.Task
	for _, c := range all {
		if c.ID != task.ID {
			succ = c
		}
	}
	want := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	if !succ.ScheduledFor.Equal(want) {
		t.Fatalf("successor scheduled for %v, want %v", succ.ScheduledFor, want)
	}
	if succ.RepeatSpec != task.RepeatSpec {
		t.Fatalf("successor spec = %q, want %q", succ.RepeatSpec, task.RepeatSpec)
	}
}

func TestRunFailureDoesNotCreateSuccessor(t *testing.T) {
	t.Parallel()
	st := store.NewMemory()
	task := createPending(t, st, store.Task{RepeatInterval: time.Hour})

	r, _ := testRunner(t, st, Stages{
		Fetcher:     &fakeFetcher{err: errors.New("gone")},
		Transformer: &fakeTransformer{},
		Publisher:   &fakePublisher{},
	})
	r.Run(context.Background(), task.ID)

	all, _ := st.ListTasks(context.Background(), 0)
	if len(all) != 1 {
		t.Fatalf("got %d tasks, want only the failed original", len(all))
	}
}
