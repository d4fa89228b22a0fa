package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/runtime-land/land/internal/models"
	apierrors "github.com/runtime-land/land/internal/pkg/errors"
	"github.com/runtime-land/land/internal/pkg/response"
	"github.com/runtime-land/land/internal/projects"
	"github.com/runtime-land/land/internal/repository"
	"github.com/runtime-land/land/internal/settings"
	"github.com/runtime-land/land/internal/storage"
	"github.com/runtime-land/land/internal/workers"
)

// AdminHandler serves admin-only endpoints: fleet inspection, platform
// settings, and the all-projects listing.
type AdminHandler struct {
	fleet    *workers.Registry
	settings *settings.Store
	projects *projects.Service
	users    repository.UserRepository
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(fleet *workers.Registry, store *settings.Store, projectService *projects.Service, userRepo repository.UserRepository) *AdminHandler {
	return &AdminHandler{
		fleet:    fleet,
		settings: store,
		projects: projectService,
		users:    userRepo,
	}
}

// Routes returns a chi router with admin routes. The caller mounts this
// behind RequireAdmin.
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/workers", h.ListWorkers)
	r.Get("/projects", h.ListAllProjects)
	r.Get("/settings", h.ListSettings)
	r.Get("/settings/{name}", h.GetSetting)
	r.Put("/settings/{name}", h.UpdateSetting)
	return r
}

// ListWorkers handles GET /v1/admin/workers
func (h *AdminHandler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	list, err := h.fleet.List(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, list)
}

// adminProjectResponse decorates a project with its owner for the admin
// listing.
type adminProjectResponse struct {
	*models.Project
	Owner *models.User `json:"owner,omitempty"`
}

// ListAllProjects handles GET /v1/admin/projects?page=&size=&search=
func (h *AdminHandler) ListAllProjects(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))

	filter := repository.ProjectFilter{
		Search: r.URL.Query().Get("search"),
		Status: models.ProjectStatus(r.URL.Query().Get("status")),
	}
	list, total, err := h.projects.ListAll(r.Context(), filter, page, size)
	if err != nil {
		response.Error(w, err)
		return
	}

	ownerIDs := make([]int64, 0, len(list))
	for _, p := range list {
		ownerIDs = append(ownerIDs, p.OwnerID)
	}
	owners, err := h.users.FindByIDs(r.Context(), ownerIDs)
	if err != nil {
		response.Error(w, err)
		return
	}

	out := make([]adminProjectResponse, 0, len(list))
	for _, p := range list {
		out = append(out, adminProjectResponse{Project: p, Owner: owners[p.OwnerID]})
	}

	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	totalPages := int((total + int64(size) - 1) / int64(size))
	response.JSONWithMeta(w, http.StatusOK, out, &response.Meta{
		Page:       page,
		PerPage:    size,
		Total:      total,
		TotalPages: totalPages,
	})
}

// ListSettings handles GET /v1/admin/settings
func (h *AdminHandler) ListSettings(w http.ResponseWriter, r *http.Request) {
	names, err := h.settings.ListNames(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, names)
}

// GetSetting handles GET /v1/admin/settings/{name}
func (h *AdminHandler) GetSetting(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	value, err := h.settings.Raw(r.Context(), name)
	if err != nil {
		response.Error(w, err)
		return
	}
	if value == nil {
		response.Error(w, apierrors.NewNotFoundError("setting"))
		return
	}
	response.OK(w, map[string]any{"name": name, "value": json.RawMessage(*value)})
}

// UpdateSetting handles PUT /v1/admin/settings/{name}. Storage settings
// take effect immediately: the object store is rebuilt from the new value,
// and a broken configuration rolls back.
func (h *AdminHandler) UpdateSetting(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var value json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&value); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("setting value must be JSON"))
		return
	}

	prior, err := h.settings.Raw(r.Context(), name)
	if err != nil {
		response.Error(w, err)
		return
	}
	if err := h.settings.SetRaw(r.Context(), name, string(value)); err != nil {
		response.Error(w, err)
		return
	}

	switch name {
	case settings.KeyStorageType, settings.KeyStorageFs, settings.KeyStorageS3:
		if err := storage.Reload(r.Context(), h.settings); err != nil {
			if prior != nil {
				_ = h.settings.SetRaw(r.Context(), name, *prior)
				_ = storage.Reload(r.Context(), h.settings)
			}
			response.Error(w, apierrors.ErrBadRequest.WithMessage("storage configuration rejected: "+err.Error()))
			return
		}
	}
	response.OK(w, map[string]any{"name": name, "value": value})
}
