package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/runtime-land/land/internal/deploys"
	"github.com/runtime-land/land/internal/middleware"
	"github.com/runtime-land/land/internal/models"
	apierrors "github.com/runtime-land/land/internal/pkg/errors"
	"github.com/runtime-land/land/internal/pkg/response"
	"github.com/runtime-land/land/internal/projects"
)

// maxArtifactSize caps deploy uploads at 10 MiB.
const maxArtifactSize = 10 << 20

// ProjectHandler handles project and deployment HTTP requests.
type ProjectHandler struct {
	projects *projects.Service
	deploys  *deploys.Service
	validate *validator.Validate
}

// NewProjectHandler creates a new project handler.
func NewProjectHandler(projectService *projects.Service, deployService *deploys.Service) *ProjectHandler {
	return &ProjectHandler{
		projects: projectService,
		deploys:  deployService,
		validate: validator.New(),
	}
}

// Routes returns a chi router with project routes.
func (h *ProjectHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Route("/{name}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Delete("/", h.Delete)
		r.Post("/rename", h.Rename)
		r.Post("/deploy", h.Deploy)
		r.Post("/publish", h.Publish)
		r.Get("/playground", h.GetPlayground)
		r.Post("/playground", h.SavePlayground)
		r.Post("/deployments/{id}/enable", h.EnableDeployment)
		r.Post("/deployments/{id}/disable", h.DisableDeployment)
	})
	return r
}

// CreateProjectRequest is the HTTP request body for creating a project.
type CreateProjectRequest struct {
	Name        string `json:"name" validate:"omitempty,max=64"`
	Language    string `json:"language" validate:"omitempty,oneof=javascript"`
	Description string `json:"description" validate:"omitempty,max=255"`
	Source      string `json:"source"`
}

// projectResponse decorates a project with its latest deployment, which the
// dashboard and CLI both render.
type projectResponse struct {
	*models.Project
	Deployment *models.Deployment `json:"deployment,omitempty"`
}

// Create handles POST /v1/projects
func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	var req CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		response.Error(w, apierrors.NewValidationError("body", err.Error()))
		return
	}

	project, err := h.projects.Create(r.Context(), user, projects.CreateRequest{
		Name:        req.Name,
		Language:    models.ProjectLanguage(req.Language),
		Description: req.Description,
		Source:      req.Source,
	})
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Created(w, projectResponse{Project: project})
}

// List handles GET /v1/projects
func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	list, err := h.projects.List(r.Context(), user, limit)
	if err != nil {
		response.Error(w, err)
		return
	}

	out := make([]projectResponse, 0, len(list))
	for _, p := range list {
		d, err := h.deploys.GetLatestByProject(r.Context(), p.ID)
		if err != nil {
			response.Error(w, err)
			return
		}
		out = append(out, projectResponse{Project: p, Deployment: d})
	}
	response.OK(w, out)
}

// Get handles GET /v1/projects/{name}
func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	project, err := h.projects.Get(r.Context(), user, chi.URLParam(r, "name"))
	if err != nil {
		response.Error(w, err)
		return
	}
	d, err := h.deploys.GetLatestByProject(r.Context(), project.ID)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, projectResponse{Project: project, Deployment: d})
}

// Deploy handles POST /v1/projects/{name}/deploy. The body is the compiled
// wasm artifact; anything past the size cap is rejected with 413 before it
// is buffered.
func (h *ProjectHandler) Deploy(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	project, err := h.projects.Get(r.Context(), user, chi.URLParam(r, "name"))
	if err != nil {
		response.Error(w, err)
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxArtifactSize)
	wasm, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, apierrors.ErrTooLarge)
			return
		}
		response.Error(w, apierrors.ErrBadRequest.WithMessage("reading artifact failed"))
		return
	}
	if len(wasm) == 0 {
		response.Error(w, apierrors.NewValidationError("body", "artifact must not be empty"))
		return
	}

	deployment, err := h.deploys.Create(r.Context(), user, project)
	if err != nil {
		response.Error(w, err)
		return
	}
	if err := h.deploys.Launch(r.Context(), deployment, wasm); err != nil {
		// The deployment row is already terminal with the failure message;
		// return it so the caller sees what happened.
		middleware.DeploymentsTotal.WithLabelValues("failed").Inc()
		response.Error(w, err)
		return
	}
	middleware.DeploymentsTotal.WithLabelValues("launched").Inc()
	response.Created(w, deployment)
}

// Publish handles POST /v1/projects/{name}/publish
func (h *ProjectHandler) Publish(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	project, err := h.projects.Get(r.Context(), user, chi.URLParam(r, "name"))
	if err != nil {
		response.Error(w, err)
		return
	}
	promoted, err := h.deploys.Publish(r.Context(), project)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, promoted)
}

// RenameProjectRequest is the HTTP request body for renaming a project.
type RenameProjectRequest struct {
	Name string `json:"name" validate:"required,max=64"`
}

// Rename handles POST /v1/projects/{name}/rename
func (h *ProjectHandler) Rename(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	var req RenameProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		response.Error(w, apierrors.NewValidationError("name", "name is required"))
		return
	}

	project, err := h.projects.Get(r.Context(), user, chi.URLParam(r, "name"))
	if err != nil {
		response.Error(w, err)
		return
	}
	renamed, err := h.projects.Rename(r.Context(), user, project, req.Name)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, projectResponse{Project: renamed})
}

// Delete handles DELETE /v1/projects/{name}
func (h *ProjectHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	project, err := h.projects.Get(r.Context(), user, chi.URLParam(r, "name"))
	if err != nil {
		response.Error(w, err)
		return
	}
	if err := h.projects.Delete(r.Context(), user, project); err != nil {
		response.Error(w, err)
		return
	}
	response.NoContent(w)
}

// GetPlayground handles GET /v1/projects/{name}/playground
func (h *ProjectHandler) GetPlayground(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	project, err := h.projects.Get(r.Context(), user, chi.URLParam(r, "name"))
	if err != nil {
		response.Error(w, err)
		return
	}
	pg, err := h.projects.Playground(r.Context(), project)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, pg)
}

// SavePlaygroundRequest is the HTTP request body for saving playground source.
type SavePlaygroundRequest struct {
	Source string `json:"source" validate:"required"`
}

// SavePlayground handles POST /v1/projects/{name}/playground
func (h *ProjectHandler) SavePlayground(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	var req SavePlaygroundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		response.Error(w, apierrors.NewValidationError("source", "source is required"))
		return
	}

	project, err := h.projects.Get(r.Context(), user, chi.URLParam(r, "name"))
	if err != nil {
		response.Error(w, err)
		return
	}
	pg, err := h.projects.SavePlayground(r.Context(), project, req.Source)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, pg)
}

// EnableDeployment handles POST /v1/projects/{name}/deployments/{id}/enable
func (h *ProjectHandler) EnableDeployment(w http.ResponseWriter, r *http.Request) {
	h.setDeploymentEnabled(w, r, true)
}

// DisableDeployment handles POST /v1/projects/{name}/deployments/{id}/disable
func (h *ProjectHandler) DisableDeployment(w http.ResponseWriter, r *http.Request) {
	h.setDeploymentEnabled(w, r, false)
}

func (h *ProjectHandler) setDeploymentEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	user := middleware.UserFromContext(r.Context())

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		response.Error(w, apierrors.NewValidationError("id", "invalid deployment id"))
		return
	}
	if _, err := h.projects.Get(r.Context(), user, chi.URLParam(r, "name")); err != nil {
		response.Error(w, err)
		return
	}
	if err := h.deploys.SetEnabled(r.Context(), user, id, enabled); err != nil {
		response.Error(w, apierrors.NewNotFoundError("deployment"))
		return
	}
	response.NoContent(w)
}
