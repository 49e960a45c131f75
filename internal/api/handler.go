// Package api is the thin HTTP surface over the agent core: live snapshots
// over websocket, process control, GPU inspection and metric history. All
// decisions live in the inner packages; handlers only decode, dispatch and
// map errors to status codes.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"telemetry-agent/internal/collector"
	"telemetry-agent/internal/control"
	"telemetry-agent/internal/gpu"
	"telemetry-agent/internal/protection"
	"telemetry-agent/internal/security"
	"telemetry-agent/internal/store"
)

// Handler carries the wired core services the routes dispatch to.
type Handler struct {
	logger     *zap.Logger
	hub        Hub
	collector  *collector.Collector
	control    *control.Service
	protection *protection.Service
	validator  security.Validator
	scanner    *gpu.Scanner
	store      *store.Store
}

// NewHandler builds the route handler over the wired services.
func NewHandler(hub Hub, col *collector.Collector, ctl *control.Service,
	prot *protection.Service, validator security.Validator,
	scanner *gpu.Scanner, st *store.Store, logger *zap.Logger) *Handler {
	return &Handler{
		logger:     logger,
		hub:        hub,
		collector:  col,
		control:    ctl,
		protection: prot,
		validator:  validator,
		scanner:    scanner,
		store:      st,
	}
}

// RegisterRoutes attaches all routes to the router.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ws", h.ServeWS)

	r.HandleFunc("/api/process/{pid}/kill", h.KillProcessHandler).Methods("POST")
	r.HandleFunc("/api/process/{pid}/suspend", h.SuspendProcessHandler).Methods("POST")
	r.HandleFunc("/api/process/{pid}/resume", h.ResumeProcessHandler).Methods("POST")
	r.HandleFunc("/api/process/{pid}/priority", h.SetProcessPriorityHandler).Methods("POST")

	r.HandleFunc("/api/gpu/info", h.GPUInfoHandler).Methods("GET")
	r.HandleFunc("/api/gpu/processes", h.GPUProcessesHandler).Methods("GET")

	r.HandleFunc("/api/metrics/history", h.MetricHistoryHandler).Methods("GET")

	r.HandleFunc("/api/security/context", h.SecurityContextHandler).Methods("GET")
	r.HandleFunc("/api/protection/processes", h.ProtectedProcessesHandler).Methods("GET")
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// statusForKind maps the control failure taxonomy onto HTTP status codes.
func statusForKind(kind control.Kind) int {
	switch kind {
	case control.KindProcessNotFound:
		return http.StatusNotFound
	case control.KindCriticalProcessProtected:
		return http.StatusForbidden
	case control.KindPermissionDenied:
		return http.StatusUnauthorized
	case control.KindInvalidPriority:
		return http.StatusBadRequest
	case control.KindAlreadyInTargetState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeControlError(w http.ResponseWriter, err error) {
	kind := control.KindOf(err)
	writeJSON(w, statusForKind(kind), map[string]string{
		"error": err.Error(),
		"kind":  kind.String(),
	})
}

func pidFromRequest(r *http.Request) (int32, error) {
	pid, err := strconv.ParseInt(mux.Vars(r)["pid"], 10, 32)
	if err != nil {
		return 0, err
	}
	return int32(pid), nil
}

func (h *Handler) controlHandler(op func(int32) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pid, err := pidFromRequest(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid pid"})
			return
		}
		if err := op(pid); err != nil {
			h.writeControlError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "pid": pid})
	}
}

func (h *Handler) KillProcessHandler(w http.ResponseWriter, r *http.Request) {
	h.controlHandler(h.control.Terminate)(w, r)
}

func (h *Handler) SuspendProcessHandler(w http.ResponseWriter, r *http.Request) {
	h.controlHandler(h.control.Suspend)(w, r)
}

func (h *Handler) ResumeProcessHandler(w http.ResponseWriter, r *http.Request) {
	h.controlHandler(h.control.Resume)(w, r)
}

func (h *Handler) SetProcessPriorityHandler(w http.ResponseWriter, r *http.Request) {
	pid, err := pidFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid pid"})
		return
	}

	var req struct {
		Priority string `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Priority == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing priority"})
		return
	}

	if err := h.control.SetPriority(pid, req.Priority); err != nil {
		h.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true, "pid": pid, "priority": req.Priority,
	})
}

func (h *Handler) GPUInfoHandler(w http.ResponseWriter, r *http.Request) {
	info, err := h.scanner.Board()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// GPUProcessesHandler returns a fresh GPU process list and tells the
// collector to refresh its gated GPU categories on the next tick.
func (h *Handler) GPUProcessesHandler(w http.ResponseWriter, r *http.Request) {
	h.collector.RequestGPURefresh()

	procs, err := h.scanner.Processes()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"processes": procs,
		"count":     len(procs),
	})
}

// MetricHistoryHandler serves persisted points for one metric type.
// Query parameters: type (required), minutes (default 60).
func (h *Handler) MetricHistoryHandler(w http.ResponseWriter, r *http.Request) {
	metricType := r.URL.Query().Get("type")
	if metricType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing type parameter"})
		return
	}

	minutes := 60
	if raw := r.URL.Query().Get("minutes"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid minutes parameter"})
			return
		}
		minutes = parsed
	}

	since := time.Now().Add(-time.Duration(minutes) * time.Minute)
	points, err := h.store.MetricHistory(metricType, since)
	if err != nil {
		h.logger.Error("metric history query failed",
			zap.String("type", metricType), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "history query failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"type":   metricType,
		"since":  since,
		"points": points,
	})
}

func (h *Handler) SecurityContextHandler(w http.ResponseWriter, r *http.Request) {
	ctx, err := h.validator.Context()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ctx)
}

func (h *Handler) ProtectedProcessesHandler(w http.ResponseWriter, r *http.Request) {
	entries := h.protection.Entries()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}
