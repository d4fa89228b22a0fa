// Package handler provides HTTP handlers for the control plane API.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/runtime-land/land/internal/confdata"
	"github.com/runtime-land/land/internal/middleware"
	"github.com/runtime-land/land/internal/models"
	"github.com/runtime-land/land/internal/repository"
	"github.com/runtime-land/land/internal/tokens"
	"github.com/runtime-land/land/internal/workers"
)

const checksumHeader = "X-Md5"

// workerEnvelope is the fixed response shape of the worker protocol. It
// predates the admin API envelope and the fleet depends on it, so it stays.
type workerEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// WorkerAPIHandler serves the fleet: configuration sync and task reporting.
type WorkerAPIHandler struct {
	snapshot *confdata.Builder
	fleet    *workers.Registry
	tasks    repository.TaskRepository
	registry *tokens.Registry
}

// NewWorkerAPIHandler creates the worker API handler.
func NewWorkerAPIHandler(snapshot *confdata.Builder, fleet *workers.Registry, tasks repository.TaskRepository, registry *tokens.Registry) *WorkerAPIHandler {
	return &WorkerAPIHandler{
		snapshot: snapshot,
		fleet:    fleet,
		tasks:    tasks,
		registry: registry,
	}
}

// Routes returns a chi router with worker API routes.
func (h *WorkerAPIHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.WorkerAuth(h.registry))
	r.Post("/sync", h.Sync)
	r.Get("/task", h.Task)
	return r
}

// Sync handles POST /worker-api/sync: the worker announces itself and pulls
// the routing snapshot. A matching X-Md5 checksum short-circuits to 304 so
// a quiet fleet costs a handful of bytes per worker per second.
func (h *WorkerAPIHandler) Sync(w http.ResponseWriter, r *http.Request) {
	ip := middleware.WorkerIPFromContext(r.Context())

	var info models.IPInfo
	if err := json.NewDecoder(r.Body).Decode(&info); err == nil && info.IP != "" {
		ip = info.IP
	}
	if err := h.fleet.Heartbeat(r.Context(), ip, &info); err != nil {
		writeWorkerError(w, http.StatusInternalServerError, "heartbeat failed")
		middleware.SyncRequestsTotal.WithLabelValues("error").Inc()
		return
	}

	snap := h.snapshot.Current()
	w.Header().Set(checksumHeader, snap.Checksum)

	if r.Header.Get(checksumHeader) == snap.Checksum && len(snap.Items) > 0 {
		w.WriteHeader(http.StatusNotModified)
		middleware.SyncRequestsTotal.WithLabelValues("not_modified").Inc()
		return
	}

	writeWorkerJSON(w, http.StatusOK, workerEnvelope{
		Status:  "ok",
		Message: "",
		Data:    snap.Items,
	})
	middleware.SyncRequestsTotal.WithLabelValues("full").Inc()
}

// Task handles GET /worker-api/task?ip=<ip>: the worker reports per-task
// outcomes and receives the tasks still pending for it. The body maps task
// ids to "success" or an error message.
func (h *WorkerAPIHandler) Task(w http.ResponseWriter, r *http.Request) {
	ip := r.URL.Query().Get("ip")
	if ip == "" {
		ip = middleware.WorkerIPFromContext(r.Context())
	}
	h.fleet.Touch(ip)

	var results map[string]string
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&results)
	}
	for taskID, result := range results {
		var err error
		if result == "success" {
			err = h.tasks.SetSuccess(r.Context(), ip, taskID)
		} else {
			err = h.tasks.SetFailed(r.Context(), ip, taskID, result)
		}
		if err != nil {
			writeWorkerError(w, http.StatusInternalServerError, "recording task result failed")
			return
		}
	}

	pending, err := h.tasks.List(r.Context(), repository.TaskFilter{
		WorkerIP: ip,
		Status:   models.TaskStatusDoing,
	})
	if err != nil {
		writeWorkerError(w, http.StatusInternalServerError, "listing tasks failed")
		return
	}
	if pending == nil {
		pending = []*models.DeployTask{}
	}

	writeWorkerJSON(w, http.StatusOK, workerEnvelope{
		Status: "ok",
		Data:   pending,
	})
}

func writeWorkerJSON(w http.ResponseWriter, status int, body workerEnvelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeWorkerError(w http.ResponseWriter, status int, message string) {
	writeWorkerJSON(w, status, workerEnvelope{Status: "error", Message: message})
}
