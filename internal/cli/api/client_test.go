package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/runtime-land/land/internal/models"
)

func TestClient_EnvelopeDecoding(t *testing.T) {
	t.Run("unwraps data", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get("Authorization"); got != "Bearer tok" {
				t.Errorf("authorization = %q", got)
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{{"name": "hello", "prod_domain": "hello"}},
			})
		}))
		defer srv.Close()

		client := NewClient(srv.URL, "tok")
		projects, err := client.ListProjects(context.Background())
		if err != nil {
			t.Fatalf("ListProjects() error = %v", err)
		}
		if len(projects) != 1 || projects[0].Name != "hello" {
			t.Fatalf("projects = %+v", projects)
		}
	})

	t.Run("surfaces API errors", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{"code": "not_found", "message": "project not found"},
			})
		}))
		defer srv.Close()

		client := NewClient(srv.URL, "tok")
		_, err := client.GetProject(context.Background(), "nope")
		if err == nil {
			t.Fatal("expected error")
		}
		apiErr, ok := err.(*APIError)
		if !ok {
			t.Fatalf("error type = %T", err)
		}
		if apiErr.Code != "not_found" || apiErr.Message != "project not found" {
			t.Errorf("error = %+v", apiErr)
		}
	})

	t.Run("no content", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodDelete {
				t.Errorf("method = %s", r.Method)
			}
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()

		client := NewClient(srv.URL, "tok")
		if err := client.DeleteProject(context.Background(), "gone"); err != nil {
			t.Fatalf("DeleteProject() error = %v", err)
		}
	})

	t.Run("binary upload", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get("Content-Type"); got != "application/octet-stream" {
				t.Errorf("content type = %q", got)
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{
				"data": models.Deployment{ID: 3, Domain: "hello-abc123"},
			})
		}))
		defer srv.Close()

		client := NewClient(srv.URL, "tok")
		d, err := client.Deploy(context.Background(), "hello", []byte{0x00, 0x61, 0x73, 0x6d})
		if err != nil {
			t.Fatalf("Deploy() error = %v", err)
		}
		if d.ID != 3 || d.Domain != "hello-abc123" {
			t.Errorf("deployment = %+v", d)
		}
	})
}
