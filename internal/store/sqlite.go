package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	logx "reelsync/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const sqliteTaskCols = "id, url, status, created_at, scheduled_for, completed_at, error_message, repeat_interval_sec, repeat_spec, last_check, owner_id"

func (s *sqliteStore) CreateTask(ctx context.Context, t *Task) error {
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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(`+sqliteTaskCols+`) VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.URL, string(t.Status), fmtTime(t.CreatedAt), fmtTime(t.ScheduledFor),
		nullTime(t.CompletedAt), nullStr(t.ErrorMessage),
		int64(t.RepeatInterval/time.Second), nullStr(t.RepeatSpec),
		nullTime(t.LastCheck), nullStr(t.OwnerID),
	)
	return err
}

func (s *sqliteStore) GetTask(ctx context.Context, id string) (Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteTaskCols+` FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

func (s *sqliteStore) ClaimTask(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, last_check = ? WHERE id = ? AND status = ?`,
		string(StatusProcessing), fmtTime(now), id, string(StatusPending),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sqliteStore) MarkCompleted(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, completed_at = ?, last_check = ? WHERE id = ? AND status = ?`,
		string(StatusCompleted), fmtTime(at), fmtTime(at), id, string(StatusProcessing),
	)
	if err != nil {
		return err
	}
	return oneRowOrConflict(res)
}

func (s *sqliteStore) MarkFailed(ctx context.Context, id string, msg string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, error_message = ?, last_check = ? WHERE id = ? AND status = ?`,
		string(StatusFailed), msg, fmtTime(at), id, string(StatusProcessing),
	)
	if err != nil {
		return err
	}
	return oneRowOrConflict(res)
}

func (s *sqliteStore) TouchLastCheck(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET last_check = ? WHERE id = ?`, fmtTime(at), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) DueTasks(ctx context.Context, now time.Time, limit int) ([]Task, error) {
	q := `SELECT ` + sqliteTaskCols + ` FROM tasks WHERE status = ? AND scheduled_for <= ? ORDER BY scheduled_for ASC`
	args := []any{string(StatusPending), fmtTime(now)}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryTasks(ctx, q, args...)
}

func (s *sqliteStore) ListTasks(ctx context.Context, limit int) ([]Task, error) {
	q := `SELECT ` + sqliteTaskCols + ` FROM tasks ORDER BY created_at DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryTasks(ctx, q, args...)
}

func (s *sqliteStore) queryTasks(ctx context.Context, q string, args ...any) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) AppendLog(ctx context.Context, e LogEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO logs(ts, level, message) VALUES(?,?,?)`,
		fmtTime(e.Timestamp), e.Level, e.Message,
	)
	return err
}

func (s *sqliteStore) RecentLogs(ctx context.Context, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, level, message FROM logs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.Level, &e.Message); err != nil {
			return nil, err
		}
		e.Timestamp = parseTime(ts)
		out = append(out, e)
	}
	// Reverse into ascending id order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (Task, error) {
	var t Task
	var status, createdAt, scheduledFor string
	var completedAt, errMsg, repeatSpec, lastCheck, ownerID sql.NullString
	var repeatSec int64
	err := row.Scan(&t.ID, &t.URL, &status, &createdAt, &scheduledFor,
		&completedAt, &errMsg, &repeatSec, &repeatSpec, &lastCheck, &ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, err
	}
	t.Status = Status(status)
	t.CreatedAt = parseTime(createdAt)
	t.ScheduledFor = parseTime(scheduledFor)
	if completedAt.Valid {
		t.CompletedAt = parseTime(completedAt.String)
	}
	t.ErrorMessage = errMsg.String
	t.RepeatInterval = time.Duration(repeatSec) * time.Second
	t.RepeatSpec = repeatSpec.String
	if lastCheck.Valid {
		t.LastCheck = parseTime(lastCheck.String)
	}
	t.OwnerID = ownerID.String
	return t, nil
}

func oneRowOrConflict(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return fmtTime(t)
}
