// Package app assembles the orchestrator: config, logging, store, feed,
// scheduler, pipeline, API and notifier, plus the background loops that tie
// them together.
package app

import (
	"context"
	"fmt"

	"reelsync/internal/api"
	"reelsync/internal/config"
	"reelsync/internal/eventbus"
	"reelsync/internal/feed"
	"reelsync/internal/media"
	"reelsync/internal/notifier"
	"reelsync/internal/pipeline"
	"reelsync/internal/runtime/supervisor"
	"reelsync/internal/scheduler"
	"reelsync/internal/store"
	logx "reelsync/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	bus   eventbus.Bus
	st    store.Store
	feed  *feed.Feed
	sched *scheduler.Service
	api   *api.Server
	notif *notifier.Service

	sup *supervisor.Supervisor
}

// New loads and validates the config at path and wires every component.
// Nothing is running yet; Start launches the loops.
func New(path string) (*App, error) {
	mgr := config.NewManager(path)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	mgr.SetLogger(log.With(logx.String("component", "config")))
	mgr.SetValidator(func(ctx context.Context, c *config.Config) error {
		return config.Validate(c)
	})

	bus := eventbus.New()
	fd := feed.New(cfg.Feed.Retain, bus)

	st, err := store.Open(storeConfig(cfg), log.With(logx.String("component", "store")))
	if err != nil {
		logSvc.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	runner, err := buildRunner(cfg, st, fd, bus, log)
	if err != nil {
		st.Close()
		logSvc.Close()
		return nil, err
	}

	schedCfg, err := schedulerConfig(cfg)
	if err != nil {
		st.Close()
		logSvc.Close()
		return nil, err
	}
	sched := scheduler.New(schedCfg, st, fd, runner, log.With(logx.String("component", "scheduler")))

	a := &App{
		cfgMgr: mgr,
		logSvc: logSvc,
		log:    log,
		bus:    bus,
		st:     st,
		feed:   fd,
		sched:  sched,
	}

	if cfg.API.Enabled {
		apiCfg, err := apiConfig(cfg)
		if err != nil {
			st.Close()
			logSvc.Close()
			return nil, err
		}
		a.api = api.New(apiCfg, st, fd, bus, sched, log.With(logx.String("component", "api")))
	}

	if n := cfg.Notifier; n != nil && n.Enabled {
		sender, err := notifier.NewTeleSender(n.Token)
		if err != nil {
			// Alerts are best-effort; a broken token must not block startup.
			log.Warn("notifier disabled", logx.Err(err))
		} else {
			dedup, _ := config.ParseDurationField("notifier.dedup_window", n.DedupWindow)
			a.notif = notifier.New(notifier.Config{
				Token:       n.Token,
				ChatIDs:     n.ChatIDs,
				RatePerSec:  n.RatePerSec,
				DedupWindow: dedup,
			}, bus, sender, log.With(logx.String("component", "notifier")))
		}
	}

	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}
	if a.api != nil {
		if err := a.api.Start(a.sup.Context()); err != nil {
			return err
		}
	}
	if a.notif != nil {
		if err := a.notif.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	a.sup.GoRestart("config.watch", a.cfgMgr.Watch)
	a.sup.Go0("config.apply", a.applyLoop)
	a.sup.Go0("feed.audit", a.auditLoop)

	a.feed.Append(feed.LevelInfo, "orchestrator started")
	a.log.Info("started")
	return nil
}

// Stop winds the process down in dependency order: stop producing work, then
// flush consumers, then close the store.
func (a *App) Stop(ctx context.Context) error {
	a.feed.Append(feed.LevelInfo, "orchestrator stopping")

	if err := a.sched.Stop(ctx); err != nil {
		a.log.Warn("scheduler stop", logx.Err(err))
	}
	if a.api != nil {
		if err := a.api.Stop(ctx); err != nil {
			a.log.Warn("api stop", logx.Err(err))
		}
	}
	if a.notif != nil {
		if err := a.notif.Stop(ctx); err != nil {
			a.log.Warn("notifier stop", logx.Err(err))
		}
	}

	if a.sup != nil {
		a.sup.Cancel()
		if err := a.sup.Wait(ctx); err != nil {
			a.log.Warn("background loops still running", logx.Err(err))
		}
	}

	if err := a.st.Close(); err != nil {
		a.log.Warn("store close", logx.Err(err))
	}
	a.log.Info("stopped")
	return a.logSvc.Close()
}

// applyLoop propagates config reloads to the components that support live
// changes (logging and scheduler timing).
func (a *App) applyLoop(ctx context.Context) {
	ch := a.cfgMgr.Subscribe(2)
	defer a.cfgMgr.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok || cfg == nil {
				return
			}
			a.logSvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			if schedCfg, err := schedulerConfig(cfg); err == nil {
				a.sched.Apply(schedCfg)
			} else {
				a.log.Warn("scheduler config rejected", logx.Err(err))
			}
			a.feed.Append(feed.LevelInfo, "configuration reloaded")
		}
	}
}

// auditLoop persists feed entries so the activity log survives restarts. The
// in-memory feed stays the source of truth for cursors; the store copy is an
// archive.
func (a *App) auditLoop(ctx context.Context) {
	ch, unsub := a.bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Type != eventbus.TypeLogAppended {
				continue
			}
			le, ok := ev.Data.(eventbus.LogEvent)
			if !ok {
				continue
			}
			err := a.st.AppendLog(ctx, store.LogEntry{
				Timestamp: le.Time,
				Level:     le.Level,
				Message:   le.Message,
			})
			if err != nil && ctx.Err() == nil {
				a.log.Debug("audit append failed", logx.Err(err))
			}
		}
	}
}

func storeConfig(cfg *config.Config) store.Config {
	busy, _ := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	return store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		DSN:         cfg.Storage.DSN,
		BusyTimeout: busy,
	}
}

func schedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	cycle, err := config.ParseDurationField("scheduler.cycle_interval", cfg.Scheduler.CycleInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		CycleInterval: cycle,
		MaxConcurrent: cfg.Scheduler.MaxConcurrent,
		BatchSize:     cfg.Scheduler.BatchSize,
	}, nil
}

func apiConfig(cfg *config.Config) (api.Config, error) {
	var out api.Config
	var err error
	out.Addr = cfg.API.Addr
	if out.ReadTimeout, err = config.ParseDurationField("api.read_timeout", cfg.API.ReadTimeout); err != nil {
		return out, err
	}
	if out.WriteTimeout, err = config.ParseDurationField("api.write_timeout", cfg.API.WriteTimeout); err != nil {
		return out, err
	}
	if out.IdleTimeout, err = config.ParseDurationField("api.idle_timeout", cfg.API.IdleTimeout); err != nil {
		return out, err
	}
	return out, nil
}

func buildRunner(cfg *config.Config, st store.Store, fd *feed.Feed, bus eventbus.Bus, log logx.Logger) (*pipeline.Runner, error) {
	baseDelay, err := config.ParseDurationField("publish.base_delay", cfg.Publish.BaseDelay)
	if err != nil {
		return nil, err
	}

	stages := pipeline.Stages{
		Fetcher:     media.NewHTTPFetcher(cfg.Media.DownloadDir, cfg.Media.UserAgent, log.With(logx.String("component", "fetch"))),
		Transformer: media.NewCopyTransformer(cfg.Media.ProcessedDir, log.With(logx.String("component", "transform"))),
		Publisher:   media.NewHTTPUploader(cfg.Publish.Endpoint, cfg.Publish.Token, log.With(logx.String("component", "publish"))),
	}
	if !cfg.Media.KeepArtifacts {
		stages.Cleaner = media.NewFSCleaner(log.With(logx.String("component", "cleanup")))
	}

	return pipeline.New(pipeline.Config{
		Retry: pipeline.RetryPolicy{
			MaxAttempts: cfg.Publish.MaxAttempts,
			BaseDelay:   baseDelay,
		},
		Caption: cfg.Publish.Caption,
	}, st, fd, bus, log.With(logx.String("component", "pipeline")), stages), nil
}
