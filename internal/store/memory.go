package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is a volatile Store used by tests and local development.
// It honors the same guarded-transition semantics as the SQL drivers.
type Memory struct {
	mu     sync.Mutex
	tasks  map[string]Task
	logs   []LogEntry
	logSeq int64
}

func NewMemory() *Memory {
	return &Memory{tasks: map[string]Task{}}
}

func (m *Memory) CreateTask(ctx context.Context, t *Task) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.ScheduledFor.IsZero() {
		t.ScheduledFor = t.CreatedAt
	}
	m.tasks[t.ID] = *t
	return nil
}

func (m *Memory) GetTask(ctx context.Context, id string) (Task, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	return t, nil
}

func (m *Memory) ClaimTask(ctx context.Context, id string, now time.Time) (bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Status != StatusPending {
		return false, nil
	}
	t.Status = StatusProcessing
	t.LastCheck = now
	m.tasks[id] = t
	return true, nil
}

func (m *Memory) MarkCompleted(ctx context.Context, id string, at time.Time) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if t.Status != StatusProcessing {
		return ErrConflict
	}
	t.Status = StatusCompleted
	t.CompletedAt = at
	t.LastCheck = at
	m.tasks[id] = t
	return nil
}

func (m *Memory) MarkFailed(ctx context.Context, id string, msg string, at time.Time) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if t.Status != StatusProcessing {
		return ErrConflict
	}
	t.Status = StatusFailed
	t.ErrorMessage = msg
	t.LastCheck = at
	m.tasks[id] = t
	return nil
}

func (m *Memory) TouchLastCheck(ctx context.Context, id string, at time.Time) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	t.LastCheck = at
	m.tasks[id] = t
	return nil
}

func (m *Memory) DueTasks(ctx context.Context, now time.Time, limit int) ([]Task, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []Task
	for _, t := range m.tasks {
		if t.Status == StatusPending && !t.ScheduledFor.After(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledFor.Before(due[j].ScheduledFor) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *Memory) ListTasks(ctx context.Context, limit int) ([]Task, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		all = append(all, t)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *Memory) DeleteTask(ctx context.Context, id string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(m.tasks, id)
	return nil
}

func (m *Memory) AppendLog(ctx context.Context, e LogEntry) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logSeq++
	e.ID = m.logSeq
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	m.logs = append(m.logs, e)
	return nil
}

func (m *Memory) RecentLogs(ctx context.Context, limit int) ([]LogEntry, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.logs)
	if limit > 0 && n > limit {
		n = limit
	}
	out := make([]LogEntry, n)
	copy(out, m.logs[len(m.logs)-n:])
	return out, nil
}

func (m *Memory) Close() error { return nil }
