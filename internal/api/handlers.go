package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Swind/go-sim-runner/sim"
)

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	RunID         string `json:"run_id"`
	Now           int64  `json:"now"`
	PendingEvents int    `json:"pending_events"`
	Engine        struct {
		Name      string `json:"name"`
		Capacity  int    `json:"capacity"`
		Pending   int    `json:"pending"`
		Active    int    `json:"active"`
		Workers   int    `json:"workers"`
		Suspended int    `json:"suspended"`
		Executed  int64  `json:"executed"`
		Failed    int64  `json:"failed"`
		Panicked  int64  `json:"panicked"`
		Rejected  int64  `json:"rejected"`
		Shutdown  bool   `json:"shutdown"`
		Quiescent bool   `json:"quiescent"`
	} `json:"engine"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats := s.sim.Engine().Stats()

	var resp statsResponse
	resp.RunID = s.sim.ID()
	resp.Now = int64(s.sim.Now())
	resp.PendingEvents = s.sim.Scheduler().Pending()
	resp.Engine.Name = stats.Name
	resp.Engine.Capacity = stats.Capacity
	resp.Engine.Pending = stats.Pending
	resp.Engine.Active = stats.Active
	resp.Engine.Workers = stats.Workers
	resp.Engine.Suspended = stats.Suspended
	resp.Engine.Executed = stats.Executed
	resp.Engine.Failed = stats.Failed
	resp.Engine.Panicked = stats.Panicked
	resp.Engine.Rejected = stats.Rejected
	resp.Engine.Shutdown = stats.Shutdown
	resp.Engine.Quiescent = stats.Quiescent
	s.writeJSON(w, http.StatusOK, resp)
}

type agentResponse struct {
	ID       string `json:"id"`
	Sent     int64  `json:"sent"`
	Received int64  `json:"received"`
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents := s.sim.Agents()
	out := make([]agentResponse, 0, len(agents))
	for _, a := range agents {
		out = append(out, agentResponse{ID: a.ID(), Sent: a.Sent(), Received: a.Received()})
	}
	s.writeJSON(w, http.StatusOK, out)
}

type taskResponse struct {
	Name        string  `json:"name"`
	WorkerID    string  `json:"worker_id"`
	DurationMS  float64 `json:"duration_ms"`
	Suspensions int     `json:"suspensions"`
	Failed      bool    `json:"failed"`
	Panicked    bool    `json:"panicked"`
	Error       string  `json:"error,omitempty"`
}

func (s *Server) handleRecentTasks(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", 50)
	if limit <= 0 || limit > 1000 {
		limit = 50
	}

	records := s.sim.Engine().RecentTasks(limit)
	out := make([]taskResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, taskResponse{
			Name:        rec.Name,
			WorkerID:    rec.WorkerID,
			DurationMS:  float64(rec.Duration) / float64(time.Millisecond),
			Suspensions: rec.Suspensions,
			Failed:      rec.Failed,
			Panicked:    rec.Panicked,
			Error:       rec.Err,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

type tickResponse struct {
	Tick       int64   `json:"tick"`
	Events     int     `json:"events"`
	Dropped    int     `json:"dropped"`
	Failures   int64   `json:"failures"`
	DurationMS float64 `json:"duration_ms"`
}

func (s *Server) handleListTicks(w http.ResponseWriter, r *http.Request) {
	ticks, err := s.sim.Journal().Ticks(r.Context(), s.sim.ID())
	if err != nil {
		s.logger.Error("list ticks", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list ticks")
		return
	}

	out := make([]tickResponse, 0, len(ticks))
	for _, t := range ticks {
		out = append(out, tickResponse{
			Tick:       int64(t.Tick),
			Events:     t.Events,
			Dropped:    t.Dropped,
			Failures:   t.Failures,
			DurationMS: float64(t.Duration) / float64(time.Millisecond),
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

type eventResponse struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Scheduled  int64   `json:"scheduled_tick"`
	Agent      string  `json:"agent,omitempty"`
	Error      string  `json:"error,omitempty"`
	DurationMS float64 `json:"duration_ms"`
}

func (s *Server) handleTickEvents(w http.ResponseWriter, r *http.Request) {
	tick, err := strconv.ParseInt(chi.URLParam(r, "tick"), 10, 64)
	if err != nil || tick < 0 {
		s.writeError(w, http.StatusBadRequest, "tick must be a non-negative integer")
		return
	}

	events, err := s.sim.Journal().Events(r.Context(), s.sim.ID(), sim.Time(tick))
	if err != nil {
		s.logger.Error("list tick events", zap.Int64("tick", tick), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	out := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, eventResponse{
			ID:         ev.EventID,
			Name:       ev.Name,
			Scheduled:  int64(ev.Tick),
			Agent:      ev.Agent,
			Error:      ev.Err,
			DurationMS: float64(ev.Duration) / float64(time.Millisecond),
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}
