// Package feed is the in-memory, append-only event/status stream consumed by
// observers (the HTTP API, the notifier, tests).
//
// Entry ids strictly increase and form the only total order across concurrent
// producers; a subscriber resumes by presenting its last-seen id as a cursor.
// Retention is bounded: cursor 0 means "from the beginning of the currently
// retained window". Status transitions form a parallel sequence with its own
// cursor so a poller sees each transition exactly once.
package feed

import (
	"fmt"
	"sync"
	"time"

	"reelsync/internal/eventbus"
	"reelsync/internal/store"
	"reelsync/internal/telemetry"
)

// Severity tags for entries. Free-form strings are allowed but these cover
// everything the orchestrator emits.
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARNING"
	LevelError = "ERROR"
)

// Entry is one feed record. IDs are assigned under the append lock and never
// reused; Time is informational only (ties are possible).
type Entry struct {
	ID      uint64    `json:"id"`
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// StatusChange records one task transition. Seq orders transitions the same
// way Entry.ID orders log entries.
type StatusChange struct {
	Seq    uint64       `json:"seq"`
	Time   time.Time    `json:"time"`
	TaskID string       `json:"task_id"`
	Status store.Status `json:"status"`
	Error  string       `json:"error,omitempty"`
}

const defaultRetain = 1024

// Feed owns the append path. A single mutex serializes appends from all
// producers (scheduler loop, pipeline runners), which is what makes the id
// order total.
type Feed struct {
	mu       sync.Mutex
	entries  []Entry
	statuses []StatusChange
	seq      uint64
	statSeq  uint64
	retain   int

	bus eventbus.Bus
}

// New creates a feed retaining at most retain entries per sequence
// (<= 0 selects the default). bus may be nil.
func New(retain int, bus eventbus.Bus) *Feed {
	if retain <= 0 {
		retain = defaultRetain
	}
	return &Feed{retain: retain, bus: bus}
}

// Append adds an entry and returns its id.
func (f *Feed) Append(level, message string) uint64 {
	now := time.Now()

	f.mu.Lock()
	f.seq++
	e := Entry{ID: f.seq, Time: now, Level: level, Message: message}
	f.entries = append(f.entries, e)
	if len(f.entries) > f.retain {
		f.entries = f.entries[len(f.entries)-f.retain:]
	}
	f.mu.Unlock()

	telemetry.FeedEntries.Inc()
	if f.bus != nil {
		f.bus.Publish(eventbus.Event{
			Type: eventbus.TypeLogAppended,
			Time: now,
			Data: eventbus.LogEvent{ID: e.ID, Time: e.Time, Level: e.Level, Message: e.Message},
		})
	}
	return e.ID
}

// Appendf is Append with fmt.Sprintf formatting.
func (f *Feed) Appendf(level, format string, args ...any) uint64 {
	return f.Append(level, fmt.Sprintf(format, args...))
}

// EntriesAfter returns all retained entries with id > cursor, ascending.
// The caller advances its cursor to the last returned id.
func (f *Feed) EntriesAfter(cursor uint64) []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := len(f.entries)
	for i, e := range f.entries {
		if e.ID > cursor {
			idx = i
			break
		}
	}
	if idx == len(f.entries) {
		return nil
	}
	out := make([]Entry, len(f.entries)-idx)
	copy(out, f.entries[idx:])
	return out
}

// MarkStatus records a task transition and returns its sequence number.
// Callers only invoke this on actual transitions, so a subscriber polling
// with an advancing cursor observes each (task, status) pair exactly once.
func (f *Feed) MarkStatus(taskID string, status store.Status, errMsg string) uint64 {
	now := time.Now()

	f.mu.Lock()
	f.statSeq++
	c := StatusChange{Seq: f.statSeq, Time: now, TaskID: taskID, Status: status, Error: errMsg}
	f.statuses = append(f.statuses, c)
	if len(f.statuses) > f.retain {
		f.statuses = f.statuses[len(f.statuses)-f.retain:]
	}
	f.mu.Unlock()

	return c.Seq
}

// StatusAfter returns retained status changes with seq > cursor, ascending.
func (f *Feed) StatusAfter(cursor uint64) []StatusChange {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := len(f.statuses)
	for i, c := range f.statuses {
		if c.Seq > cursor {
			idx = i
			break
		}
	}
	if idx == len(f.statuses) {
		return nil
	}
	out := make([]StatusChange, len(f.statuses)-idx)
	copy(out, f.statuses[idx:])
	return out
}

// LastID returns the id of the newest entry (0 when empty).
func (f *Feed) LastID() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seq
}
