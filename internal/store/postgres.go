package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	logx "reelsync/pkg/logx"
)

type pgStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS tasks (
    id                  TEXT PRIMARY KEY,
    url                 TEXT NOT NULL,
    status              TEXT NOT NULL DEFAULT 'pending',
    created_at          TIMESTAMPTZ NOT NULL,
    scheduled_for       TIMESTAMPTZ NOT NULL,
    completed_at        TIMESTAMPTZ,
    error_message       TEXT,
    repeat_interval_sec BIGINT NOT NULL DEFAULT 0,
    repeat_spec         TEXT,
    last_check          TIMESTAMPTZ,
    owner_id            TEXT
);
CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(status, scheduled_for);
CREATE TABLE IF NOT EXISTS logs (
    id      BIGSERIAL PRIMARY KEY,
    ts      TIMESTAMPTZ NOT NULL,
    level   TEXT NOT NULL,
    message TEXT NOT NULL
);`

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, err
	}
	return &pgStore{pool: pool, log: log}, nil
}

func (s *pgStore) Close() error {
	s.pool.Close()
	return nil
}

const pgTaskCols = "id, url, status, created_at, scheduled_for, completed_at, error_message, repeat_interval_sec, repeat_spec, last_check, owner_id"

func (s *pgStore) CreateTask(ctx context.Context, t *Task) error {
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
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tasks(`+pgTaskCols+`) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		t.ID, t.URL, string(t.Status), t.CreatedAt, t.ScheduledFor,
		pgNullTime(t.CompletedAt), pgNullStr(t.ErrorMessage),
		int64(t.RepeatInterval/time.Second), pgNullStr(t.RepeatSpec),
		pgNullTime(t.LastCheck), pgNullStr(t.OwnerID),
	)
	return err
}

func (s *pgStore) GetTask(ctx context.Context, id string) (Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgTaskCols+` FROM tasks WHERE id = $1`, id)
	return scanPgTask(row)
}

func (s *pgStore) ClaimTask(ctx context.Context, id string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = $1, last_check = $2 WHERE id = $3 AND status = $4`,
		string(StatusProcessing), now, id, string(StatusPending),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *pgStore) MarkCompleted(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = $1, completed_at = $2, last_check = $2 WHERE id = $3 AND status = $4`,
		string(StatusCompleted), at, id, string(StatusProcessing),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (s *pgStore) MarkFailed(ctx context.Context, id string, msg string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = $1, error_message = $2, last_check = $3 WHERE id = $4 AND status = $5`,
		string(StatusFailed), msg, at, id, string(StatusProcessing),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (s *pgStore) TouchLastCheck(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET last_check = $1 WHERE id = $2`, at, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgStore) DueTasks(ctx context.Context, now time.Time, limit int) ([]Task, error) {
	q := `SELECT ` + pgTaskCols + ` FROM tasks WHERE status = $1 AND scheduled_for <= $2 ORDER BY scheduled_for ASC`
	args := []any{string(StatusPending), now}
	if limit > 0 {
		q += ` LIMIT $3`
		args = append(args, limit)
	}
	return s.queryTasks(ctx, q, args...)
}

func (s *pgStore) ListTasks(ctx context.Context, limit int) ([]Task, error) {
	q := `SELECT ` + pgTaskCols + ` FROM tasks ORDER BY created_at DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}
	return s.queryTasks(ctx, q, args...)
}

func (s *pgStore) queryTasks(ctx context.Context, q string, args ...any) ([]Task, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Task
	for rows.Next() {
		t, err := scanPgTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *pgStore) DeleteTask(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgStore) AppendLog(ctx context.Context, e LogEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO logs(ts, level, message) VALUES($1,$2,$3)`,
		e.Timestamp, e.Level, e.Message,
	)
	return err
}

func (s *pgStore) RecentLogs(ctx context.Context, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, ts, level, message FROM logs ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Level, &e.Message); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

func scanPgTask(row pgx.Row) (Task, error) {
	var t Task
	var status string
	var completedAt, lastCheck *time.Time
	var errMsg, repeatSpec, ownerID *string
	var repeatSec int64
	err := row.Scan(&t.ID, &t.URL, &status, &t.CreatedAt, &t.ScheduledFor,
		&completedAt, &errMsg, &repeatSec, &repeatSpec, &lastCheck, &ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, err
	}
	t.Status = Status(status)
	if completedAt != nil {
		t.CompletedAt = *completedAt
	}
	if errMsg != nil {
		t.ErrorMessage = *errMsg
	}
	t.RepeatInterval = time.Duration(repeatSec) * time.Second
	if repeatSpec != nil {
		t.RepeatSpec = *repeatSpec
	}
	if lastCheck != nil {
		t.LastCheck = *lastCheck
	}
	if ownerID != nil {
		t.OwnerID = *ownerID
	}
	return t, nil
}

func pgNullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func pgNullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
