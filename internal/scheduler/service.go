// Package scheduler runs the dispatch loop: every cycle it asks the store for
// due pending tasks and hands each one to the pipeline runner, bounded by a
// concurrency semaphore. The loop is crash-only; a bad cycle is logged and the
// next tick starts clean.
package scheduler

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"reelsync/internal/feed"
	"reelsync/internal/store"
	"reelsync/internal/telemetry"
	logx "reelsync/pkg/logx"
)

// Config controls the dispatch loop.
type Config struct {
	// CycleInterval is the pause between due-task sweeps.
	CycleInterval time.Duration
	// MaxConcurrent bounds how many tasks run pipelines at once.
	MaxConcurrent int
	// BatchSize caps how many due tasks one sweep loads.
	BatchSize int
}

func (c Config) withDefaults() Config {
	if c.CycleInterval <= 0 {
		c.CycleInterval = 20 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	return c
}

// Runner executes the pipeline for one task. *pipeline.Runner satisfies it.
type Runner interface {
	Run(ctx context.Context, taskID string)
}

// Snapshot is a point-in-time view of the loop, served by the status API.
type Snapshot struct {
	Running   bool      `json:"running"`
	InFlight  int       `json:"in_flight"`
	Cycles    uint64    `json:"cycles"`
	LastCycle time.Time `json:"last_cycle"`
}

type Service struct {
	st   store.Store
	feed *feed.Feed
	run  Runner
	log  logx.Logger

	mu        sync.Mutex
	cfg       Config
	sem       chan struct{}
	cancel    context.CancelFunc
	done      chan struct{}
	cycles    uint64
	lastCycle time.Time

	wg  sync.WaitGroup
	now func() time.Time
}

func New(cfg Config, st store.Store, fd *feed.Feed, run Runner, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		st:   st,
		feed: fd,
		run:  run,
		log:  log,
		cfg:  cfg,
		sem:  make(chan struct{}, cfg.MaxConcurrent),
		now:  time.Now,
	}
}

// Start launches the loop goroutine. Calling Start on a running service is a
// no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(loopCtx, s.done)
	s.log.Info("scheduler started",
		logx.Duration("cycle_interval", s.cfg.CycleInterval),
		logx.Int("max_concurrent", s.cfg.MaxConcurrent))
	return nil
}

// Stop cancels the loop and waits for it plus all in-flight pipelines, or for
// ctx to expire, whichever comes first.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	idle := make(chan struct{})
	go func() {
		<-done
		s.wg.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Apply updates the loop timing live. MaxConcurrent is fixed at Start because
// the semaphore is shared with in-flight pipelines; a changed value takes
// effect on the next Start.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.MaxConcurrent != s.cfg.MaxConcurrent && s.cancel != nil {
		s.log.Warn("max_concurrent change deferred until restart",
			logx.Int("current", s.cfg.MaxConcurrent), logx.Int("requested", cfg.MaxConcurrent))
		cfg.MaxConcurrent = s.cfg.MaxConcurrent
	}
	s.cfg = cfg
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Running:   s.cancel != nil,
		InFlight:  len(s.sem),
		Cycles:    s.cycles,
		LastCycle: s.lastCycle,
	}
}

func (s *Service) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	// First sweep runs immediately so a restart picks up overdue work without
	// waiting a full interval.
	s.cycle(ctx)
	for {
		s.mu.Lock()
		interval := s.cfg.CycleInterval
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			s.cycle(ctx)
		}
	}
}

// cycle is one sweep. It recovers its own panics: the loop must outlive any
// single bad cycle.
func (s *Service) cycle(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			telemetry.SchedulerCycles.WithLabelValues("panic").Inc()
			s.log.Error("scheduler cycle panicked", logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
		}
	}()

	s.mu.Lock()
	batch := s.cfg.BatchSize
	s.mu.Unlock()

	now := s.now()
	due, err := s.st.DueTasks(ctx, now, batch)
	if err != nil {
		telemetry.SchedulerCycles.WithLabelValues("error").Inc()
		s.feed.Appendf(feed.LevelError, "scheduler: due task query failed: %v", err)
		s.log.Warn("due task query failed", logx.Err(err))
		return
	}
	telemetry.SchedulerCycles.WithLabelValues("ok").Inc()

	s.mu.Lock()
	s.cycles++
	s.lastCycle = now
	s.mu.Unlock()

	for _, t := range due {
		if ctx.Err() != nil {
			return
		}
		if err := s.st.TouchLastCheck(ctx, t.ID, now); err != nil {
			s.log.Debug("last_check update failed", logx.String("task", t.ID), logx.Err(err))
		}
		select {
		case s.sem <- struct{}{}:
		default:
			// At capacity; the remainder stays due and the next sweep gets it.
			s.log.Debug("dispatch capacity reached", logx.Int("deferred", len(due)))
			return
		}
		s.wg.Add(1)
		go func(id string) {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			s.run.Run(ctx, id)
		}(t.ID)
	}
}
