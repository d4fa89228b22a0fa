package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/runtime-land/land/internal/deploys"
	"github.com/runtime-land/land/internal/middleware"
	"github.com/runtime-land/land/internal/models"
	"github.com/runtime-land/land/internal/projects"
	"github.com/runtime-land/land/internal/repository"
	"github.com/runtime-land/land/internal/settings"
	"github.com/runtime-land/land/internal/storage"
	"github.com/runtime-land/land/internal/workers"
)

type fakeProjectRepo struct {
	byName map[string]*models.Project
	nextID int64
}

func (f *fakeProjectRepo) CreateWithPlayground(ctx context.Context, p *models.Project, pg *models.Playground) error {
	if _, exists := f.byName[p.Name]; exists {
		return &pgconn.PgError{Code: "23505"}
	}
	f.nextID++
	p.ID = f.nextID
	p.CreatedAt = time.Now()
	f.byName[p.Name] = p
	return nil
}

func (f *fakeProjectRepo) GetByName(ctx context.Context, name string, ownerID int64) (*models.Project, error) {
	p, ok := f.byName[name]
	if !ok {
		return nil, nil
	}
	if ownerID != 0 && p.OwnerID != ownerID {
		return nil, nil
	}
	return p, nil
}

func (f *fakeProjectRepo) GetByID(ctx context.Context, id int64) (*models.Project, error) {
	for _, p := range f.byName {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakeProjectRepo) ListByUser(ctx context.Context, ownerID int64, status models.ProjectStatus, limit int) ([]*models.Project, error) {
	var out []*models.Project
	for _, p := range f.byName {
		if p.OwnerID == ownerID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeProjectRepo) ListPaginated(ctx context.Context, filter repository.ProjectFilter, page, size int) ([]*models.Project, int64, error) {
	return nil, 0, nil
}

func (f *fakeProjectRepo) Delete(ctx context.Context, ownerID, projectID int64) error {
	for name, p := range f.byName {
		if p.ID == projectID && p.OwnerID == ownerID {
			delete(f.byName, name)
		}
	}
	return nil
}

func (f *fakeProjectRepo) Rename(ctx context.Context, ownerID, projectID int64, newName, prodDomain, devDomain string) error {
	for name, p := range f.byName {
		if p.ID == projectID && p.OwnerID == ownerID {
			delete(f.byName, name)
			p.Name = newName
			p.ProdDomain = prodDomain
			p.DevDomain = devDomain
			f.byName[newName] = p
		}
	}
	return nil
}

func (f *fakeProjectRepo) SetDeployStatus(ctx context.Context, projectID int64, status models.DeployStatus) error {
	for _, p := range f.byName {
		if p.ID == projectID {
			p.DeployStatus = status
		}
	}
	return nil
}

type fakePlaygroundRepo struct {
	byProject map[int64]*models.Playground
}

func (f *fakePlaygroundRepo) GetActive(ctx context.Context, projectID int64) (*models.Playground, error) {
	return f.byProject[projectID], nil
}

func (f *fakePlaygroundRepo) SaveSource(ctx context.Context, projectID int64, source string) (*models.Playground, error) {
	pg := &models.Playground{ProjectID: projectID, Source: source, Version: 1}
	f.byProject[projectID] = pg
	return pg, nil
}

type projectHandlerFixture struct {
	handler     *ProjectHandler
	router      http.Handler
	projects    *fakeProjectRepo
	deployments *fakeDeploymentRepo
	tasks       *fakeTaskRepo
	user        *models.User
}

func newProjectHandlerFixture(t *testing.T, onlineWorkers int) *projectHandlerFixture {
	t.Helper()
	storage.Set(urlStore{})

	projectRepo := &fakeProjectRepo{byName: map[string]*models.Project{}}
	playgroundRepo := &fakePlaygroundRepo{byProject: map[int64]*models.Playground{}}
	projectService := projects.NewService(projectRepo, playgroundRepo, testLogger())

	workerRepo := &fakeWorkerRepo{byIP: map[string]*models.Worker{}}
	for i := 0; i < onlineWorkers; i++ {
		ip := string(rune('a'+i)) + ".worker"
		workerRepo.byIP[ip] = &models.Worker{
			ID:     int64(i + 1),
			IP:     ip,
			Status: models.WorkerStatusOnline,
		}
	}
	fleet := workers.NewRegistry(workerRepo, testLogger())

	settingsRepo := &fakeSettingsRepo{values: map[string]string{
		"domain-settings": `{"domain_suffix":"runtime.test","http_protocol":"https"}`,
	}}

	deploymentRepo := &fakeDeploymentRepo{}
	taskRepo := &fakeTaskRepo{}
	deployService := deploys.NewService(
		deploymentRepo,
		taskRepo,
		&fakeStorageRepo{byDeployID: map[int64]*models.Storage{}},
		projectRepo,
		fleet,
		settings.NewStore(settingsRepo),
		testLogger(),
	)

	user := &models.User{ID: 7, UUID: "u-7", Status: models.UserStatusActive, Role: models.UserRoleNormal}
	h := NewProjectHandler(projectService, deployService)
	return &projectHandlerFixture{
		handler:     h,
		router:      h.Routes(),
		projects:    projectRepo,
		deployments: deploymentRepo,
		tasks:       taskRepo,
		user:        user,
	}
}

func (f *projectHandlerFixture) seedProject(name string) *models.Project {
	p := &models.Project{
		ID:         f.projects.nextID + 1,
		OwnerID:    f.user.ID,
		UUID:       "p-" + name,
		Name:       name,
		Language:   models.ProjectLanguageJavaScript,
		ProdDomain: name,
		DevDomain:  name + "-dev",
		Status:     models.ProjectStatusActive,
	}
	f.projects.nextID++
	f.projects.byName[name] = p
	return p
}

func (f *projectHandlerFixture) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ctx := context.WithValue(req.Context(), middleware.UserKey, f.user)
	f.router.ServeHTTP(rec, req.WithContext(ctx))
	return rec
}

func TestProjectHandler_Create(t *testing.T) {
	t.Run("explicit name", func(t *testing.T) {
		f := newProjectHandlerFixture(t, 0)

		body, _ := json.Marshal(CreateProjectRequest{Name: "hello-wasm", Language: "javascript"})
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
		rec := f.serve(req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
		}
		var env struct {
			Data projectResponse `json:"data"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if env.Data.Name != "hello-wasm" {
			t.Errorf("name = %q", env.Data.Name)
		}
		if env.Data.ProdDomain != "hello-wasm" || env.Data.DevDomain != "hello-wasm-dev" {
			t.Errorf("domains = %q / %q", env.Data.ProdDomain, env.Data.DevDomain)
		}
	})

	t.Run("empty body generates a name", func(t *testing.T) {
		f := newProjectHandlerFixture(t, 0)

		req := httptest.NewRequest(http.MethodPost, "/", nil)
		rec := f.serve(req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
		}
		var env struct {
			Data projectResponse `json:"data"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if env.Data.Name == "" {
			t.Error("expected a generated project name")
		}
	})

	t.Run("duplicate explicit name conflicts", func(t *testing.T) {
		f := newProjectHandlerFixture(t, 0)
		f.seedProject("taken")

		body, _ := json.Marshal(CreateProjectRequest{Name: "taken"})
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
		rec := f.serve(req)

		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d, want 409: %s", rec.Code, rec.Body.String())
		}
	})
}

func TestProjectHandler_Get(t *testing.T) {
	f := newProjectHandlerFixture(t, 0)
	f.seedProject("mine")

	t.Run("found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/mine/", nil)
		rec := f.serve(req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("missing", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/nope/", nil)
		rec := f.serve(req)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
	})
}

func TestProjectHandler_Deploy(t *testing.T) {
	t.Run("launches and fans out", func(t *testing.T) {
		f := newProjectHandlerFixture(t, 2)
		f.seedProject("hello")

		req := httptest.NewRequest(http.MethodPost, "/hello/deploy", bytes.NewReader([]byte("\x00asm fake artifact")))
		rec := f.serve(req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
		}
		var env struct {
			Data models.Deployment `json:"data"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if env.Data.DeployStatus != models.DeployStatusDeploying {
			t.Errorf("deploy status = %q, want deploying", env.Data.DeployStatus)
		}
		if len(f.tasks.tasks) != 2 {
			t.Errorf("tasks = %d, want one per online worker", len(f.tasks.tasks))
		}
	})

	t.Run("empty body rejected", func(t *testing.T) {
		f := newProjectHandlerFixture(t, 1)
		f.seedProject("hello")

		req := httptest.NewRequest(http.MethodPost, "/hello/deploy", nil)
		rec := f.serve(req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("oversized artifact rejected", func(t *testing.T) {
		f := newProjectHandlerFixture(t, 1)
		f.seedProject("hello")

		big := bytes.Repeat([]byte("x"), maxArtifactSize+1)
		req := httptest.NewRequest(http.MethodPost, "/hello/deploy", bytes.NewReader(big))
		rec := f.serve(req)

		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Fatalf("status = %d, want 413: %s", rec.Code, rec.Body.String())
		}
		if len(f.deployments.created) != 0 {
			t.Errorf("deployments created = %d, want 0", len(f.deployments.created))
		}
	})

	t.Run("no online workers fails the deployment", func(t *testing.T) {
		f := newProjectHandlerFixture(t, 0)
		f.seedProject("hello")

		req := httptest.NewRequest(http.MethodPost, "/hello/deploy", bytes.NewReader([]byte("wasm")))
		rec := f.serve(req)

		if rec.Code != http.StatusBadGateway {
			t.Fatalf("status = %d, want 502: %s", rec.Code, rec.Body.String())
		}
	})
}

func TestProjectHandler_Rename(t *testing.T) {
	f := newProjectHandlerFixture(t, 0)
	f.seedProject("old-name")

	body, _ := json.Marshal(RenameProjectRequest{Name: "new-name"})
	req := httptest.NewRequest(http.MethodPost, "/old-name/rename", bytes.NewReader(body))
	rec := f.serve(req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if f.projects.byName["new-name"] == nil {
		t.Error("project not reachable under new name")
	}
	if got := f.projects.byName["new-name"].DevDomain; got != "new-name-dev" {
		t.Errorf("dev domain = %q, want re-derived", got)
	}
}

func TestProjectHandler_Delete(t *testing.T) {
	f := newProjectHandlerFixture(t, 0)
	f.seedProject("doomed")

	req := httptest.NewRequest(http.MethodDelete, "/doomed/", nil)
	rec := f.serve(req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if f.projects.byName["doomed"] != nil {
		t.Error("project still present after delete")
	}
}
