package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/runtime-land/land/internal/middleware"
	"github.com/runtime-land/land/internal/models"
	"github.com/runtime-land/land/internal/tokens"
	"github.com/runtime-land/land/internal/users"
)

type tokenHandlerFixture struct {
	handler  *TokenHandler
	registry *tokens.Registry
	repo     *fakeTokenRepo
	admin    *models.User
	normal   *models.User
}

func newTokenHandlerFixture(t *testing.T) *tokenHandlerFixture {
	t.Helper()

	tokenRepo := &fakeTokenRepo{byValue: map[string]*models.Token{}}
	userRepo := &fakeUserRepo{byID: map[int64]*models.User{
		1: {ID: 1, Email: "admin@example.com", Status: models.UserStatusActive, Role: models.UserRoleAdmin},
		2: {ID: 2, Email: "dev@example.com", Status: models.UserStatusActive, Role: models.UserRoleNormal},
	}}
	registry := tokens.NewRegistry(tokenRepo, userRepo, testLogger())
	userService := users.NewService(nil, userRepo, registry, testLogger())

	return &tokenHandlerFixture{
		handler:  NewTokenHandler(userService, registry),
		registry: registry,
		repo:     tokenRepo,
		admin:    userRepo.byID[1],
		normal:   userRepo.byID[2],
	}
}

func authedRequest(t *testing.T, user *models.User, method, path string, body any) *http.Request {
	t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	ctx := context.WithValue(req.Context(), middleware.UserKey, user)
	return req.WithContext(ctx)
}

func TestTokenHandler_Create(t *testing.T) {
	t.Run("creates cmdline token and reveals value", func(t *testing.T) {
		f := newTokenHandlerFixture(t)

		rec := httptest.NewRecorder()
		req := authedRequest(t, f.normal, http.MethodPost, "/", CreateTokenRequest{Name: "ci-deploy"})
		f.handler.TokenRoutes().ServeHTTP(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
		}
		var env struct {
			Data tokenResponse `json:"data"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if env.Data.Name != "ci-deploy" {
			t.Errorf("name = %q", env.Data.Name)
		}
		if len(env.Data.Value) != 40 {
			t.Errorf("value length = %d, want 40", len(env.Data.Value))
		}
		if env.Data.Usage != models.TokenUsageCmdline {
			t.Errorf("usage = %q, want cmdline", env.Data.Usage)
		}
	})

	t.Run("worker token requires admin", func(t *testing.T) {
		f := newTokenHandlerFixture(t)

		rec := httptest.NewRecorder()
		req := authedRequest(t, f.normal, http.MethodPost, "/", CreateTokenRequest{Usage: "worker"})
		f.handler.TokenRoutes().ServeHTTP(rec, req)

		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rec.Code)
		}
	})

	t.Run("admin creates worker token", func(t *testing.T) {
		f := newTokenHandlerFixture(t)

		rec := httptest.NewRecorder()
		req := authedRequest(t, f.admin, http.MethodPost, "/", CreateTokenRequest{Name: "fleet-eu", Usage: "worker"})
		f.handler.TokenRoutes().ServeHTTP(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("duplicate name conflicts", func(t *testing.T) {
		f := newTokenHandlerFixture(t)

		for i, want := range []int{http.StatusCreated, http.StatusConflict} {
			rec := httptest.NewRecorder()
			req := authedRequest(t, f.normal, http.MethodPost, "/", CreateTokenRequest{Name: "dup"})
			f.handler.TokenRoutes().ServeHTTP(rec, req)
			if rec.Code != want {
				t.Fatalf("attempt %d: status = %d, want %d", i, rec.Code, want)
			}
		}
	})
}

func TestTokenHandler_List(t *testing.T) {
	f := newTokenHandlerFixture(t)

	issued, err := f.registry.Issue(context.Background(), f.normal.ID, "ci", 0, models.TokenUsageCmdline)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	list := func(t *testing.T) []tokenResponse {
		t.Helper()
		rec := httptest.NewRecorder()
		req := authedRequest(t, f.normal, http.MethodGet, "/", nil)
		f.handler.TokenRoutes().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var env struct {
			Data []tokenResponse `json:"data"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return env.Data
	}

	// First listing reveals the fresh token's value once.
	first := list(t)
	if len(first) != 1 {
		t.Fatalf("tokens = %d, want 1", len(first))
	}
	if first[0].Value != issued.Value {
		t.Errorf("first listing value = %q, want revealed", first[0].Value)
	}

	second := list(t)
	if second[0].Value != "" {
		t.Errorf("second listing value = %q, want hidden", second[0].Value)
	}
}

func TestTokenHandler_Delete(t *testing.T) {
	f := newTokenHandlerFixture(t)

	mine, err := f.registry.Issue(context.Background(), f.normal.ID, "mine", 0, models.TokenUsageCmdline)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	other, err := f.registry.Issue(context.Background(), f.admin.ID, "other", 0, models.TokenUsageCmdline)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	t.Run("cannot delete another user's token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := authedRequest(t, f.normal, http.MethodDelete, fmt.Sprintf("/%d", other.ID), nil)
		f.handler.TokenRoutes().ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("deletes own token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := authedRequest(t, f.normal, http.MethodDelete, fmt.Sprintf("/%d", mine.ID), nil)
		f.handler.TokenRoutes().ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", rec.Code)
		}
		if mine.Status == models.TokenStatusActive && mine.ExpiredAt.After(time.Now()) {
			t.Error("token still usable after delete")
		}
	})
}
