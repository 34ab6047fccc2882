package notifier

import (
	"context"
	"sync"
	"testing"
	"time"

	"reelsync/internal/eventbus"
	logx "reelsync/pkg/logx"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSender) Send(_ int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestAlertsOnTaskFailure(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	sender := &fakeSender{}
	s := New(Config{ChatIDs: []int64{1, 2}, RatePerSec: 100}, bus, sender, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	bus.Publish(eventbus.Event{
		Type: eventbus.TypeTaskFailed,
		Data: eventbus.TaskEvent{TaskID: "t1", URL: "https://example.com/x", Error: "boom"},
	})
	// Other event types are ignored.
	bus.Publish(eventbus.Event{
		Type: eventbus.TypeTaskCompleted,
		Data: eventbus.TaskEvent{TaskID: "t2"},
	})

	waitFor(t, func() bool { return sender.count() == 2 })
}

func TestDedupSuppressesRepeatAlerts(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	sender := &fakeSender{}
	s := New(Config{ChatIDs: []int64{1}, RatePerSec: 100, DedupWindow: time.Hour}, bus, sender, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	for i := 0; i < 3; i++ {
		bus.Publish(eventbus.Event{
			Type: eventbus.TypeTaskFailed,
			Data: eventbus.TaskEvent{TaskID: "same", Error: "boom"},
		})
	}
	bus.Publish(eventbus.Event{
		Type: eventbus.TypeTaskFailed,
		Data: eventbus.TaskEvent{TaskID: "other", Error: "boom"},
	})

	waitFor(t, func() bool { return sender.count() == 2 })
	time.Sleep(50 * time.Millisecond)
	if sender.count() != 2 {
		t.Fatalf("sent %d alerts, want 2 (dedup window)", sender.count())
	}
}
