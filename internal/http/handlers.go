package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/job-tracking/internal/events"
	"github.com/example/job-tracking/internal/jobs"
	"github.com/example/job-tracking/internal/models"
)

// Check reports whether one dependency is ready.
type Check func(ctx context.Context) error

type Server struct {
	jobs   *jobs.Service
	relay  http.Handler
	checks map[string]Check
	logger *slog.Logger
	mux    *mux.Router
}

// NewServer wires the REST surface and mounts relay at /ws. checks back the
// /ready endpoint.
func NewServer(svc *jobs.Service, relay http.Handler, checks map[string]Check, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{jobs: svc, relay: relay, checks: checks, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/jobs", s.handleCreateJob).Methods(http.MethodPost)
	s.mux.HandleFunc("/jobs/{id}/tracking", s.handleTracking).Methods(http.MethodGet)
	s.mux.HandleFunc("/jobs/{id}", s.handleJob).Methods(http.MethodGet)
	s.mux.HandleFunc("/api/drivers/jobs/{id}/status", s.handleDriverStatus).Methods(http.MethodPut)
	s.mux.HandleFunc("/api/drivers/jobs/{id}/location", s.handleDriverLocation).Methods(http.MethodPut)
	s.mux.HandleFunc("/api/admin/jobs/{id}/status", s.handleOperatorStatus).Methods(http.MethodPut)
	if s.relay != nil {
		s.mux.Handle("/ws", s.relay).Methods(http.MethodGet)
	}
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods(http.MethodGet)
	s.mux.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleTracking(w http.ResponseWriter, r *http.Request) {
	snap, err := s.jobs.Snapshot(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.jobs.Job(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

type createJobRequest struct {
	ID              string        `json:"id"`
	Status          string        `json:"status"`
	Pickup          *models.Coord `json:"pickup_location"`
	Address         string        `json:"address"`
	ScheduledAt     *time.Time    `json:"scheduled_at"`
	PaymentIntentID string        `json:"payment_intent_id"`
}

// handleCreateJob is called by the booking backend once a job is booked.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Pickup == nil {
		writeError(w, http.StatusBadRequest, "pickup_location is required")
		return
	}
	j := &models.Job{
		ID:              req.ID,
		Pickup:          *req.Pickup,
		Address:         req.Address,
		ScheduledAt:     req.ScheduledAt,
		PaymentIntentID: req.PaymentIntentID,
	}
	if req.Status != "" {
		st, err := models.ParseStatus(req.Status)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		j.Status = st
	}
	created, err := s.jobs.Create(r.Context(), j)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

type statusRequest struct {
	Status   string `json:"status"`
	DriverID string `json:"driver_id"`
}

func (s *Server) handleDriverStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	next, err := models.ParseStatus(req.Status)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error(), "allowed": models.AllStatuses})
		return
	}
	j, err := s.jobs.Transition(r.Context(), mux.Vars(r)["id"], next, req.DriverID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// handleOperatorStatus moves a job without the assigned-driver check; a
// driver_id in the body assigns the job.
func (s *Server) handleOperatorStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	next, err := models.ParseStatus(req.Status)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error(), "allowed": models.AllStatuses})
		return
	}
	j, err := s.jobs.OperatorTransition(r.Context(), mux.Vars(r)["id"], next, req.DriverID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

type locationRequest struct {
	Lat      *float64  `json:"lat"`
	Lng      *float64  `json:"lng"`
	DriverID string    `json:"driver_id"`
	TS       time.Time `json:"ts"`
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Lat == nil || req.Lng == nil {
		writeError(w, http.StatusBadRequest, "lat and lng are required")
		return
	}
	u := events.LocationUpdate{
		JobID:    mux.Vars(r)["id"],
		DriverID: req.DriverID,
		Location: models.Coord{Lat: *req.Lat, Lng: *req.Lng},
		At:       req.TS,
	}
	if err := s.jobs.ReportLocation(r.Context(), "", u); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.logger.Warn("readiness check failed", "dependency", name, "error", err)
			http.Error(w, name+" not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(200)
	w.Write([]byte("ready"))
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var te *jobs.TransitionError
	switch {
	case errors.As(err, &te):
		writeJSON(w, http.StatusConflict, map[string]any{"error": te.Error(), "allowed": te.Allowed})
	case errors.Is(err, jobs.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, jobs.ErrNotAssigned):
		writeError(w, http.StatusForbidden, "not assigned to this job")
	case errors.Is(err, jobs.ErrJobFinished), errors.Is(err, jobs.ErrJobExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, events.ErrMalformed):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "request_id", requestIDFromContext(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
