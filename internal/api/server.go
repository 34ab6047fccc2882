// Package api exposes the orchestrator over HTTP: task CRUD, the cursor-based
// event feed, a live SSE stream, health and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"reelsync/internal/eventbus"
	"reelsync/internal/feed"
	"reelsync/internal/scheduler"
	"reelsync/internal/store"
	logx "reelsync/pkg/logx"
)

const defaultAddr = "127.0.0.1:8080"

type Config struct {
	Addr        string
	ReadTimeout time.Duration
	// WriteTimeout defaults to 0 so /api/stream can hold connections open.
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type Server struct {
	cfg   Config
	st    store.Store
	feed  *feed.Feed
	bus   eventbus.Bus
	sched *scheduler.Service
	log   logx.Logger

	srv     *http.Server
	started time.Time
	now     func() time.Time
}

func New(cfg Config, st store.Store, fd *feed.Feed, bus eventbus.Bus, sched *scheduler.Service, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		cfg:   cfg,
		st:    st,
		feed:  fd,
		bus:   bus,
		sched: sched,
		log:   log,
		now:   time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	mux.HandleFunc("GET /api/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("DELETE /api/tasks/{id}", s.handleDeleteTask)
	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/scheduler", s.handleScheduler)
	mux.HandleFunc("GET /api/stream", s.handleStream)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Start binds the listener synchronously so port conflicts surface as a
// startup error, then serves in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.started = s.now()
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("api server stopped", logx.Err(err))
		}
	}()
	s.log.Info("api listening", logx.String("addr", ln.Addr().String()))
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
