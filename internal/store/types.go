package store

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("store: task not found")
	// ErrConflict is returned when a guarded status update loses the race
	// (e.g. a task was already claimed, or is no longer processing).
	ErrConflict = errors.New("store: conflicting task state")
)

// Config configures the store.
//
// Driver values:
//   - "memory":   in-memory (volatile; tests and dev)
//   - "sqlite":   SQLite database file at Path
//   - "postgres": PostgreSQL via DSN
type Config struct {
	Driver      string
	Path        string        // sqlite only
	DSN         string        // postgres only
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Status is the task lifecycle state. Transitions only move forward:
// pending → processing → completed|failed. Repeats never reset a task;
// they create a new one.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is one scheduled execution of the fetch→transform→publish pipeline.
type Task struct {
	ID           string
	URL          string
	Status       Status
	CreatedAt    time.Time
	ScheduledFor time.Time
	CompletedAt  time.Time // zero until completed
	ErrorMessage string
	// RepeatInterval, when > 0, makes a successful task spawn a successor
	// scheduled this long after completion.
	RepeatInterval time.Duration
	// RepeatSpec optionally holds a cron expression used instead of
	// RepeatInterval to place the successor.
	RepeatSpec string
	LastCheck  time.Time
	OwnerID    string
}

// Repeats reports whether a successor should be created on success.
func (t Task) Repeats() bool {
	return t.RepeatInterval > 0 || t.RepeatSpec != ""
}

// LogEntry is an append-only observability record. IDs are assigned at
// insertion and strictly increase; entries are never mutated or deleted
// by the orchestrator.
type LogEntry struct {
	ID        int64
	Timestamp time.Time
	Level     string
	Message   string
}
