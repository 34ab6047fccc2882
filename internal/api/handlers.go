package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"reelsync/internal/eventbus"
	"reelsync/internal/schedule"
	"reelsync/internal/store"
	logx "reelsync/pkg/logx"
)

const maxBodyBytes = 1 << 20

// taskView is the wire shape of a task. Zero times render as omitted fields.
type taskView struct {
	ID             string     `json:"id"`
	URL            string     `json:"url"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	ScheduledFor   time.Time  `json:"scheduled_for"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	RepeatInterval string     `json:"repeat_interval,omitempty"`
	RepeatSpec     string     `json:"repeat_spec,omitempty"`
	LastCheck      *time.Time `json:"last_check,omitempty"`
	OwnerID        string     `json:"owner_id,omitempty"`
}

func viewOf(t store.Task) taskView {
	v := taskView{
		ID:           t.ID,
		URL:          t.URL,
		Status:       string(t.Status),
		CreatedAt:    t.CreatedAt,
		ScheduledFor: t.ScheduledFor,
		ErrorMessage: t.ErrorMessage,
		RepeatSpec:   t.RepeatSpec,
		OwnerID:      t.OwnerID,
	}
	if t.RepeatInterval > 0 {
		v.RepeatInterval = t.RepeatInterval.String()
	}
	if !t.CompletedAt.IsZero() {
		at := t.CompletedAt
		v.CompletedAt = &at
	}
	if !t.LastCheck.IsZero() {
		at := t.LastCheck
		v.LastCheck = &at
	}
	return v
}

type createTaskRequest struct {
	URL string `json:"url"`
	// ScheduledFor is an RFC3339 time for the first run. Default: now.
	ScheduledFor string `json:"scheduled_for,omitempty"`
	// Schedule accepts cron ("*/5 * * * *"), HH:MM, or a Go duration. A cron
	// or interval schedule also repeats unless Once is set.
	Schedule string `json:"schedule,omitempty"`
	// Once suppresses repetition: the schedule only places the first run.
	Once    bool   `json:"once,omitempty"`
	OwnerID string `json:"owner_id,omitempty"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, errors.New("url is required"))
		return
	}

	now := s.now()
	t := store.Task{
		URL:          strings.TrimSpace(req.URL),
		Status:       store.StatusPending,
		ScheduledFor: now,
		OwnerID:      strings.TrimSpace(req.OwnerID),
	}

	if req.ScheduledFor != "" {
		at, err := time.Parse(time.RFC3339, req.ScheduledFor)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("scheduled_for: %w", err))
			return
		}
		t.ScheduledFor = at
	}

	if req.Schedule != "" {
		spec, err := schedule.Parse(req.Schedule)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		switch spec.Kind {
		case schedule.SpecCron:
			// A cron schedule always computes the first run itself.
			first, err := schedule.NextCron(spec.Cron, now)
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			t.ScheduledFor = first
			if !req.Once {
				t.RepeatSpec = spec.Cron
			}
		case schedule.SpecInterval:
			// An interval delays the first run only when no explicit time was
			// given.
			if req.ScheduledFor == "" {
				t.ScheduledFor = now.Add(spec.Every)
			}
			if !req.Once {
				t.RepeatInterval = spec.Every
			}
		}
	}

	if err := s.st.CreateTask(r.Context(), &t); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.log.Info("task created",
		logx.String("task", t.ID), logx.String("url", t.URL),
		logx.Time("scheduled_for", t.ScheduledFor))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Type: eventbus.TypeTaskCreated,
			Data: eventbus.TaskEvent{TaskID: t.ID, URL: t.URL, Status: string(t.Status), At: t.ScheduledFor},
		})
	}
	writeJSON(w, http.StatusCreated, viewOf(t))
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 100)
	tasks, err := s.st.ListTasks(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if want := r.URL.Query().Get("status"); want != "" {
		filtered := tasks[:0]
		for _, t := range tasks {
			if string(t.Status) == want {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}
	views := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, viewOf(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": views})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.st.GetTask(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(t))
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.st.DeleteTask(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.log.Info("task deleted", logx.String("task", id))
	w.WriteHeader(http.StatusNoContent)
}

// handleLogs serves the cursor-based feed: entries strictly after ?after=N,
// oldest first. Clients resume by passing the highest id they have seen.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	after := uintQuery(r, "after", 0)
	limit := intQuery(r, "limit", 0)
	entries := s.feed.EntriesAfter(after)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"cursor":  s.feed.LastID(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	after := uintQuery(r, "after", 0)
	writeJSON(w, http.StatusOK, map[string]any{
		"changes": s.feed.StatusAfter(after),
	})
}

func (s *Server) handleScheduler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sched.Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": s.now().Sub(s.started).Truncate(time.Second).String(),
	})
}

// handleStream pushes bus events as server-sent events until the client
// disconnects. Slow clients miss events rather than stalling producers; the
// cursor endpoints exist for lossless catch-up.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}
	ch, unsub := s.bus.Subscribe(64)
	defer unsub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev.Data)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid request: trailing data")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func intQuery(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func uintQuery(r *http.Request, key string, def uint64) uint64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}
