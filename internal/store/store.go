package store

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "reelsync/pkg/logx"
)

// Store is the persistence contract consumed by the scheduler and the
// pipeline runner.
//
// Guarded writes (ClaimTask, MarkCompleted, MarkFailed) are conditional on the
// task's current status so state only moves forward even under concurrent
// dispatch; losers get (false, nil) or ErrConflict rather than clobbering.
type Store interface {
	// CreateTask persists a new task. An empty ID is assigned a fresh UUID;
	// a zero ScheduledFor defaults to CreatedAt (immediate execution).
	CreateTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, id string) (Task, error)

	// ClaimTask transitions pending → processing and stamps LastCheck.
	// It returns false when the task was not pending (already claimed,
	// terminal, or missing); that is the scheduling-conflict case, not an error.
	ClaimTask(ctx context.Context, id string, now time.Time) (bool, error)

	// MarkCompleted transitions processing → completed and sets CompletedAt.
	MarkCompleted(ctx context.Context, id string, at time.Time) error
	// MarkFailed transitions processing → failed and sets ErrorMessage.
	MarkFailed(ctx context.Context, id string, msg string, at time.Time) error
	TouchLastCheck(ctx context.Context, id string, at time.Time) error

	// DueTasks returns tasks with status pending and scheduled_for <= now,
	// oldest first. limit <= 0 means no limit.
	DueTasks(ctx context.Context, now time.Time, limit int) ([]Task, error)
	ListTasks(ctx context.Context, limit int) ([]Task, error)
	DeleteTask(ctx context.Context, id string) error

	AppendLog(ctx context.Context, e LogEntry) error
	RecentLogs(ctx context.Context, limit int) ([]LogEntry, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "pgx":
		return openPostgres(cfg, log)
	default:
		return nil, errors.New("unknown store driver: " + driver)
	}
}
