package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/vitals-risk-worker/internal/alert"
	"github.com/septivank/vitals-risk-worker/internal/assignment"
	"github.com/septivank/vitals-risk-worker/internal/db"
	"github.com/septivank/vitals-risk-worker/internal/hub"
	"github.com/septivank/vitals-risk-worker/internal/logging"
	"github.com/septivank/vitals-risk-worker/internal/service"
	"github.com/septivank/vitals-risk-worker/internal/snapshot"
	"go.uber.org/zap"
)

// AlertReader reads and acknowledges alerts
type AlertReader interface {
	Get(ctx context.Context, id int64) (*db.Alert, error)
	List(ctx context.Context, limit int) ([]db.Alert, error)
	Acknowledge(ctx context.Context, id int64, reviewedBy, note *string) (*db.Alert, error)
}

// OverviewReader computes the dashboard counters
type OverviewReader interface {
	Overview(ctx context.Context) (*db.Overview, error)
}

// AssignmentManager opens, closes and lists assignments
type AssignmentManager interface {
	Assign(ctx context.Context, deviceID, patientID int64) (*db.Assignment, error)
	Unassign(ctx context.Context, deviceID int64) (*db.Assignment, error)
	ByDevice(ctx context.Context, deviceID int64) (*db.Assignment, error)
	Active(ctx context.Context) ([]db.Assignment, error)
	ActiveDevices(ctx context.Context) ([]int64, error)
}

// SnapshotReader reads the latest vitals of a patient
type SnapshotReader interface {
	Get(ctx context.Context, patientID int64) (*snapshot.Snapshot, error)
}

// Deps holds what the HTTP surface serves. Snapshots may be nil.
type Deps struct {
	Alerts      AlertReader
	Dashboard   OverviewReader
	Assignments AssignmentManager
	Snapshots   SnapshotReader
	AlertHub    *hub.Broadcaster[service.AlertNotice]
	VitalsHub   *hub.Keyed[int64, service.VitalsEvent]
	Logger      *zap.Logger
}

// Server is the dashboard HTTP surface
type Server struct {
	Deps
	heartbeat time.Duration
}

// NewServer creates the HTTP surface
func NewServer(deps Deps) *Server {
	return &Server{Deps: deps, heartbeat: 15 * time.Second}
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.health)

	mux.HandleFunc("GET /stream/alerts", s.streamAlerts)
	mux.HandleFunc("GET /stream/patients/{id}/vitals", s.streamVitals)
	mux.HandleFunc("GET /patients/{id}/vitals/latest", s.latestVitals)

	mux.HandleFunc("GET /alerts", s.listAlerts)
	mux.HandleFunc("GET /alerts/{id}", s.getAlert)
	mux.HandleFunc("POST /alerts/{id}/acknowledge", s.acknowledgeAlert)

	mux.HandleFunc("GET /dashboard/overview", s.overview)

	mux.HandleFunc("GET /assignments", s.activeAssignments)
	mux.HandleFunc("GET /assignments/active", s.activeDevices)
	mux.HandleFunc("GET /assignments/by-device/{id}", s.assignmentByDevice)
	mux.HandleFunc("POST /assignments", s.createAssignment)
	mux.HandleFunc("POST /assignments/by-device/{id}/close", s.closeAssignment)

	return s.withRequestID(mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

type loggerKey struct{}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		logger := logging.WithRequestID(s.Logger, requestID)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), loggerKey{}, logger)))

		logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) log(r *http.Request) *zap.Logger {
	if l, ok := r.Context().Value(loggerKey{}).(*zap.Logger); ok {
		return l
	}
	return s.Logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps domain errors to HTTP statuses
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, alert.ErrNotFound),
		errors.Is(err, assignment.ErrNotFound),
		errors.Is(err, snapshot.ErrNotFound),
		errors.Is(err, db.ErrNoRows):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, alert.ErrInvalidTransition),
		errors.Is(err, service.ErrAssignmentConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.log(r).Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"alert_subscribers": s.AlertHub.Len(),
		"streamed_patients": s.VitalsHub.Keys(),
	})
}

func (s *Server) latestVitals(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if s.Snapshots == nil {
		writeError(w, http.StatusServiceUnavailable, "snapshot store disabled")
		return
	}
	snap, err := s.Snapshots.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	alerts, err := s.Alerts.List(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) getAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a, err := s.Alerts.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type acknowledgeRequest struct {
	ReviewedBy   *string `json:"reviewed_by"`
	ClinicalNote *string `json:"clinical_note"`
}

func (s *Server) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req acknowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	a, err := s.Alerts.Acknowledge(r.Context(), id, req.ReviewedBy, req.ClinicalNote)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) overview(w http.ResponseWriter, r *http.Request) {
	o, err := s.Dashboard.Overview(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) activeAssignments(w http.ResponseWriter, r *http.Request) {
	list, err := s.Assignments.Active(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) activeDevices(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Assignments.ActiveDevices(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	writeJSON(w, http.StatusOK, ids)
}

func (s *Server) assignmentByDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a, err := s.Assignments.ByDevice(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type assignRequest struct {
	DeviceID  int64 `json:"device_id"`
	PatientID int64 `json:"patient_id"`
}

func (s *Server) createAssignment(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DeviceID <= 0 || req.PatientID <= 0 {
		writeError(w, http.StatusBadRequest, "device_id and patient_id are required")
		return
	}
	a, err := s.Assignments.Assign(r.Context(), req.DeviceID, req.PatientID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) closeAssignment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a, err := s.Assignments.Unassign(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
