package pipeline

import (
	"context"
	"time"

	"reelsync/internal/eventbus"
	"reelsync/internal/feed"
	"reelsync/internal/schedule"
	"reelsync/internal/store"
	logx "reelsync/pkg/logx"
)

// scheduleSuccessor creates the next occurrence of a repeating task. The
// completed task is left untouched; the successor is a brand new pending task
// with its own id, anchored to the completion time rather than the original
// schedule (a long outage produces one catch-up run, not a burst).
func (r *Runner) scheduleSuccessor(ctx context.Context, t store.Task, completedAt time.Time) {
	next, err := successorTime(t, completedAt)
	if err != nil {
		r.feed.Appendf(feed.LevelError, "task %s: repeat schedule %q: %v", t.ID, t.RepeatSpec, err)
		r.log.Warn("repeat schedule rejected", logx.String("task", t.ID), logx.String("schedule", t.RepeatSpec), logx.Err(err))
		return
	}

	succ := store.Task{
		URL:            t.URL,
		Status:         store.StatusPending,
		ScheduledFor:   next,
		RepeatInterval: t.RepeatInterval,
		RepeatSpec:     t.RepeatSpec,
		OwnerID:        t.OwnerID,
	}
	if err := r.store.CreateTask(ctx, &succ); err != nil {
		// Completion stands even when the successor cannot be written.
		r.feed.Appendf(feed.LevelError, "task %s: repeat scheduling failed: %v", t.ID, err)
		r.log.Error("repeat scheduling failed", logx.String("task", t.ID), logx.Err(err))
		return
	}

	r.feed.Appendf(feed.LevelInfo, "task %s: repeat scheduled as %s for %s", t.ID, succ.ID, next.UTC().Format(time.RFC3339))
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{
			Type: eventbus.TypeTaskCreated,
			Data: eventbus.TaskEvent{
				TaskID: succ.ID,
				URL:    succ.URL,
				Status: string(store.StatusPending),
				At:     next,
			},
		})
	}
}

func successorTime(t store.Task, completedAt time.Time) (time.Time, error) {
	if t.RepeatSpec != "" {
		return schedule.NextCron(t.RepeatSpec, completedAt)
	}
	return completedAt.Add(t.RepeatInterval), nil
}
