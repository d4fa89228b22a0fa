package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/runtime-land/land/internal/middleware"
	"github.com/runtime-land/land/internal/models"
	apierrors "github.com/runtime-land/land/internal/pkg/errors"
	"github.com/runtime-land/land/internal/pkg/response"
	"github.com/runtime-land/land/internal/tokens"
	"github.com/runtime-land/land/internal/users"
)

// TokenHandler handles sign-in and token management.
type TokenHandler struct {
	users    *users.Service
	registry *tokens.Registry
	validate *validator.Validate
}

// NewTokenHandler creates a new token handler.
func NewTokenHandler(userService *users.Service, registry *tokens.Registry) *TokenHandler {
	return &TokenHandler{
		users:    userService,
		registry: registry,
		validate: validator.New(),
	}
}

// TokenRoutes returns a chi router with token management routes, mounted
// under the authenticated admin API.
func (h *TokenHandler) TokenRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Delete("/{id}", h.Delete)
	return r
}

// LoginRequest is the HTTP request body for signing in.
type LoginRequest struct {
	Session string `json:"session" validate:"required"`
}

// loginResponse returns the user plus a freshly minted session token.
type loginResponse struct {
	User  *models.User  `json:"user"`
	Token *models.Token `json:"token"`
}

// Login handles POST /v1/login. It is the only unauthenticated admin
// endpoint: the provider session is the credential.
func (h *TokenHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		response.Error(w, apierrors.NewValidationError("session", "session is required"))
		return
	}

	user, token, err := h.users.SignIn(r.Context(), req.Session)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, loginResponse{User: user, Token: token})
}

// CreateTokenRequest is the HTTP request body for creating a cmdline or
// worker token.
type CreateTokenRequest struct {
	Name  string `json:"name" validate:"omitempty,max=64"`
	Usage string `json:"usage" validate:"omitempty,oneof=cmdline worker"`
}

// tokenResponse hides the opaque value unless the token is newly issued.
type tokenResponse struct {
	*models.Token
	Value string `json:"value,omitempty"`
	IsNew bool   `json:"is_new"`
}

func (h *TokenHandler) toResponse(t *models.Token, revealValue bool) tokenResponse {
	out := tokenResponse{Token: t, IsNew: h.registry.IsNew(t.ID)}
	if revealValue || out.IsNew {
		out.Value = t.Value
	}
	return out
}

// Create handles POST /v1/settings/tokens. Worker tokens are admin-only;
// they authenticate the entire fleet.
func (h *TokenHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	var req CreateTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		response.Error(w, apierrors.NewValidationError("body", err.Error()))
		return
	}

	usage := models.TokenUsage(req.Usage)
	if usage == "" {
		usage = models.TokenUsageCmdline
	}
	if usage == models.TokenUsageWorker && !user.IsAdmin() {
		response.Error(w, apierrors.ErrForbidden)
		return
	}

	token, err := h.registry.Issue(r.Context(), user.ID, req.Name, 0, usage)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Created(w, h.toResponse(token, true))
}

// List handles GET /v1/settings/tokens. Each token's value is revealed
// exactly once: the first listing after issuance.
func (h *TokenHandler) List(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	usage := models.TokenUsage(r.URL.Query().Get("usage"))
	if usage == "" {
		usage = models.TokenUsageCmdline
	}

	list, err := h.registry.ListByUser(r.Context(), user.ID, usage)
	if err != nil {
		response.Error(w, err)
		return
	}

	out := make([]tokenResponse, 0, len(list))
	for _, t := range list {
		resp := h.toResponse(t, false)
		out = append(out, resp)
		if resp.IsNew {
			h.registry.UnsetNew(t.ID)
		}
	}
	response.OK(w, out)
}

// Delete handles DELETE /v1/settings/tokens/{id}
func (h *TokenHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		response.Error(w, apierrors.NewValidationError("id", "invalid token id"))
		return
	}

	token, err := h.registry.GetByID(r.Context(), id)
	if err != nil {
		response.Error(w, err)
		return
	}
	if token == nil || token.UserID != user.ID {
		response.Error(w, apierrors.NewNotFoundError("token"))
		return
	}
	if err := h.registry.Expire(r.Context(), token.ID, token.Name); err != nil {
		response.Error(w, err)
		return
	}
	response.NoContent(w)
}
