package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"reelsync/internal/eventbus"
	"reelsync/internal/feed"
	"reelsync/internal/store"
	"reelsync/internal/telemetry"
	logx "reelsync/pkg/logx"
)

// Config controls a Runner.
type Config struct {
	Retry   RetryPolicy
	Caption string
}

// Stages bundles the collaborators a Runner drives. Cleaner is optional.
type Stages struct {
	Fetcher     Fetcher
	Transformer Transformer
	Publisher   Publisher
	Cleaner     Cleaner
}

// Runner executes the pipeline for one task id at a time. A single Runner is
// shared by all dispatches; Run is safe for concurrent use because all task
// state lives in the store and is addressed by explicit task id (no shared
// "current task" variable).
type Runner struct {
	store store.Store
	feed  *feed.Feed
	bus   eventbus.Bus
	log   logx.Logger

	stages  Stages
	retry   RetryPolicy
	caption string

	now func() time.Time
}

func New(cfg Config, st store.Store, fd *feed.Feed, bus eventbus.Bus, log logx.Logger, stages Stages) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{
		store:   st,
		feed:    fd,
		bus:     bus,
		log:     log,
		stages:  stages,
		retry:   cfg.Retry,
		caption: cfg.Caption,
		now:     time.Now,
	}
}

// Run drives one task through the pipeline. It never returns an error and
// never panics: every failure mode ends as task state plus feed entries.
func (r *Runner) Run(ctx context.Context, taskID string) {
	t, err := r.store.GetTask(ctx, taskID)
	if errors.Is(err, store.ErrNotFound) {
		r.feed.Appendf(feed.LevelWarn, "task %s: dispatched but not found", taskID)
		return
	}
	if err != nil {
		r.feed.Appendf(feed.LevelError, "task %s: store read failed: %v", taskID, err)
		r.log.Warn("task load failed", logx.String("task", taskID), logx.Err(err))
		return
	}

	// Claim is the real dispatch gate: exactly one concurrent dispatcher wins
	// the pending → processing transition, the rest see a scheduling conflict
	// and back off silently.
	claimed, err := r.store.ClaimTask(ctx, taskID, r.now())
	if err != nil {
		r.feed.Appendf(feed.LevelError, "task %s: claim failed: %v", taskID, err)
		r.log.Warn("task claim failed", logx.String("task", taskID), logx.Err(err))
		return
	}
	if !claimed {
		r.log.Debug("task already claimed", logx.String("task", taskID))
		return
	}

	telemetry.Dispatched.Inc()
	telemetry.RunnersInFlight.Inc()
	defer telemetry.RunnersInFlight.Dec()

	r.feed.Appendf(feed.LevelInfo, "task %s: processing %s", t.ID, t.URL)
	r.feed.MarkStatus(t.ID, store.StatusProcessing, "")
	r.publishEvent(eventbus.TypeTaskClaimed, t, store.StatusProcessing, "")

	handles, err := r.runStages(ctx, t)
	if err != nil {
		r.fail(ctx, t, err)
		return
	}
	r.complete(ctx, t, handles)
}

// runStages executes fetch, transform and publish strictly in order.
// Collaborator panics are converted to errors here so one bad stage cannot
// take down the runner's goroutine.
func (r *Runner) runStages(ctx context.Context, t store.Task) (handles []MediaHandle, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("stage panicked", logx.String("task", t.ID), logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("stage panic: %v", p)
		}
	}()

	r.feed.Appendf(feed.LevelInfo, "task %s: fetching %s", t.ID, t.URL)
	src, ferr := r.stages.Fetcher.Fetch(ctx, t.URL, t.OwnerID)
	if ferr != nil {
		return handles, fmt.Errorf("fetch failed: %w", ferr)
	}
	handles = append(handles, src)

	r.feed.Appendf(feed.LevelInfo, "task %s: transforming %s", t.ID, src.Path)
	out, terr := r.stages.Transformer.Transform(ctx, src)
	if terr != nil {
		return handles, fmt.Errorf("transform failed: %w", terr)
	}
	handles = append(handles, out)

	perr := r.retry.Do(ctx, func(ctx context.Context, n int) error {
		telemetry.PublishAttempts.Inc()
		r.feed.Appendf(feed.LevelInfo, "task %s: publish attempt %d", t.ID, n)
		return r.stages.Publisher.Publish(ctx, out, r.caption, t.OwnerID)
	})
	if perr != nil {
		return handles, perr
	}
	return handles, nil
}

func (r *Runner) complete(ctx context.Context, t store.Task, handles []MediaHandle) {
	at := r.now()
	r.feed.Appendf(feed.LevelInfo, "task %s: completed", t.ID)
	if err := r.store.MarkCompleted(ctx, t.ID, at); err != nil {
		r.feed.Appendf(feed.LevelError, "task %s: completion write failed: %v", t.ID, err)
		r.log.Error("completion write failed", logx.String("task", t.ID), logx.Err(err))
		return
	}
	r.feed.MarkStatus(t.ID, store.StatusCompleted, "")
	r.publishEvent(eventbus.TypeTaskCompleted, t, store.StatusCompleted, "")
	telemetry.TasksTotal.WithLabelValues(string(store.StatusCompleted)).Inc()

	if t.Repeats() {
		r.scheduleSuccessor(ctx, t, at)
	}
	r.cleanup(ctx, t.ID, handles)
}

func (r *Runner) fail(ctx context.Context, t store.Task, cause error) {
	msg := cause.Error()
	r.feed.Appendf(feed.LevelError, "task %s: %s", t.ID, msg)
	if err := r.store.MarkFailed(ctx, t.ID, msg, r.now()); err != nil {
		r.feed.Appendf(feed.LevelError, "task %s: failure write failed: %v", t.ID, err)
		r.log.Error("failure write failed", logx.String("task", t.ID), logx.Err(err))
		return
	}
	r.feed.MarkStatus(t.ID, store.StatusFailed, msg)
	r.publishEvent(eventbus.TypeTaskFailed, t, store.StatusFailed, msg)
	telemetry.TasksTotal.WithLabelValues(string(store.StatusFailed)).Inc()
}

func (r *Runner) cleanup(ctx context.Context, taskID string, handles []MediaHandle) {
	if r.stages.Cleaner == nil || len(handles) == 0 {
		return
	}
	if err := r.stages.Cleaner.Clean(ctx, handles...); err != nil {
		r.log.Warn("artifact cleanup failed", logx.String("task", taskID), logx.Err(err))
	}
}

func (r *Runner) publishEvent(typ string, t store.Task, status store.Status, errMsg string) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{
		Type: typ,
		Data: eventbus.TaskEvent{
			TaskID: t.ID,
			URL:    t.URL,
			Status: string(status),
			Error:  errMsg,
			At:     r.now(),
		},
	})
}
