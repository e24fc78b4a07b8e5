package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/rf.twin/internal/collector"
	"github.com/banshee-data/rf.twin/internal/db"
	"github.com/banshee-data/rf.twin/internal/httputil"
	"github.com/banshee-data/rf.twin/internal/tracking"
)

func (s *Server) requireTracker(w http.ResponseWriter) bool {
	if s.tracker == nil {
		httputil.ServiceUnavailable(w, "tracking is not running")
		return false
	}
	return true
}

type targetsResponse struct {
	Session string                   `json:"session"`
	Cycle   uint64                   `json:"cycle"`
	Taken   time.Time                `json:"taken"`
	Targets []tracking.TrackedTarget `json:"targets"`
}

// listTargets returns every tracked target, or only the active ones with
// ?active=true.
func (s *Server) listTargets(w http.ResponseWriter, r *http.Request) {
	if !s.requireTracker(w) {
		return
	}
	snap := s.tracker.Snapshot()
	resp := targetsResponse{Session: snap.Session, Cycle: snap.Cycle, Taken: snap.Taken, Targets: snap.Targets}
	if v := r.URL.Query().Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			httputil.BadRequest(w, "active must be a boolean")
			return
		}
		if active {
			resp.Targets = s.tracker.Active()
		}
	}
	if resp.Targets == nil {
		resp.Targets = []tracking.TrackedTarget{}
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) showTarget(w http.ResponseWriter, r *http.Request) {
	if !s.requireTracker(w) {
		return
	}
	id := r.PathValue("id")
	t, ok := s.tracker.Snapshot().Target(id)
	if !ok {
		httputil.NotFound(w, "unknown target "+id)
		return
	}
	httputil.WriteJSONOK(w, t)
}

type addTargetRequest struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	SignalType string `json:"signal_type"`
}

func (s *Server) addTarget(w http.ResponseWriter, r *http.Request) {
	if !s.requireTracker(w) {
		return
	}
	var req addTargetRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		httputil.BadRequest(w, "id is required")
		return
	}
	st, err := collector.ParseSignalType(req.SignalType)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	s.tracker.AddTarget(req.ID, req.Name, st)
	t, _ := s.tracker.Snapshot().Target(req.ID)
	httputil.WriteJSON(w, http.StatusCreated, t)
}

func (s *Server) removeTarget(w http.ResponseWriter, r *http.Request) {
	if !s.requireTracker(w) {
		return
	}
	id := r.PathValue("id")
	if !s.tracker.RemoveTarget(id) {
		httputil.NotFound(w, "unknown target "+id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// showTrajectory returns the in-memory trajectory of a target. With
// ?history=N and a store configured, the last N stored fixes of the current
// session are returned instead (0 means all).
func (s *Server) showTrajectory(w http.ResponseWriter, r *http.Request) {
	if !s.requireTracker(w) {
		return
	}
	id := r.PathValue("id")
	if v := r.URL.Query().Get("history"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			httputil.BadRequest(w, "history must be a non-negative integer")
			return
		}
		if s.store == nil {
			httputil.ServiceUnavailable(w, "no history store configured")
			return
		}
		pts, err := s.store.Trajectory(r.Context(), s.tracker.Session(), id, limit)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		if pts == nil {
			pts = []tracking.TrajectoryPoint{}
		}
		httputil.WriteJSONOK(w, pts)
		return
	}
	t, ok := s.tracker.Snapshot().Target(id)
	if !ok {
		httputil.NotFound(w, "unknown target "+id)
		return
	}
	pts := t.Trajectory
	if pts == nil {
		pts = []tracking.TrajectoryPoint{}
	}
	httputil.WriteJSONOK(w, pts)
}

type statsResponse struct {
	tracking.Stats
	Session string `json:"session"`
	Cycle   uint64 `json:"cycle"`
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if !s.requireTracker(w) {
		return
	}
	snap := s.tracker.Snapshot()
	httputil.WriteJSONOK(w, statsResponse{Stats: s.tracker.Stats(), Session: snap.Session, Cycle: snap.Cycle})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		httputil.ServiceUnavailable(w, "no history store configured")
		return
	}
	sessions, err := s.store.Sessions(r.Context())
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if sessions == nil {
		sessions = []db.TrackSession{}
	}
	httputil.WriteJSONOK(w, sessions)
}
