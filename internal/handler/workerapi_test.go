package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/runtime-land/land/internal/confdata"
	"github.com/runtime-land/land/internal/models"
	"github.com/runtime-land/land/internal/repository"
	"github.com/runtime-land/land/internal/settings"
	"github.com/runtime-land/land/internal/storage"
	"github.com/runtime-land/land/internal/tokens"
	"github.com/runtime-land/land/internal/workers"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTokenRepo struct {
	byValue map[string]*models.Token
	nextID  int64
}

func (f *fakeTokenRepo) Create(ctx context.Context, t *models.Token) error {
	f.nextID++
	t.ID = f.nextID
	t.CreatedAt = time.Now()
	f.byValue[t.Value] = t
	return nil
}

func (f *fakeTokenRepo) GetByValue(ctx context.Context, value string, usage models.TokenUsage) (*models.Token, error) {
	t, ok := f.byValue[value]
	if !ok || t.Usage != usage {
		return nil, nil
	}
	return t, nil
}

func (f *fakeTokenRepo) GetActiveByName(ctx context.Context, userID int64, name string, usage models.TokenUsage) (*models.Token, error) {
	for _, t := range f.byValue {
		if t.UserID == userID && t.Name == name && t.Usage == usage &&
			t.Status == models.TokenStatusActive && t.ExpiredAt.After(time.Now()) {
			return t, nil
		}
	}
	return nil, nil
}

func (f *fakeTokenRepo) GetByID(ctx context.Context, id int64) (*models.Token, error) {
	for _, t := range f.byValue {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, nil
}

func (f *fakeTokenRepo) ListByUser(ctx context.Context, userID int64, usage models.TokenUsage) ([]*models.Token, error) {
	var out []*models.Token
	for _, t := range f.byValue {
		if t.UserID == userID && t.Usage == usage {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTokenRepo) SetExpired(ctx context.Context, id int64, name string) error {
	for _, t := range f.byValue {
		if t.ID == id {
			t.Status = models.TokenStatusExpired
			t.ExpiredAt = time.Now().Add(-time.Second)
		}
	}
	return nil
}

func (f *fakeTokenRepo) TouchLatestUsed(ctx context.Context, id int64) error { return nil }

type fakeUserRepo struct {
	byID map[int64]*models.User
}

func (f *fakeUserRepo) Create(ctx context.Context, u *models.User) error { return nil }

func (f *fakeUserRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return f.byID[id], nil
}

func (f *fakeUserRepo) GetByOauthID(ctx context.Context, oauthUserID string) (*models.User, error) {
	return nil, nil
}

func (f *fakeUserRepo) FindByIDs(ctx context.Context, ids []int64) (map[int64]*models.User, error) {
	return f.byID, nil
}

func (f *fakeUserRepo) IsFirst(ctx context.Context) (bool, error)        { return false, nil }
func (f *fakeUserRepo) UpdateLastLogin(ctx context.Context, id int64) error { return nil }

type fakeWorkerRepo struct {
	byIP map[string]*models.Worker
}

func (f *fakeWorkerRepo) FindAll(ctx context.Context, status models.WorkerStatus) ([]*models.Worker, error) {
	var out []*models.Worker
	for _, w := range f.byIP {
		if status == "" || w.Status == status {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *fakeWorkerRepo) GetByIP(ctx context.Context, ip string) (*models.Worker, error) {
	return f.byIP[ip], nil
}

func (f *fakeWorkerRepo) Upsert(ctx context.Context, w *models.Worker) error {
	f.byIP[w.IP] = w
	return nil
}

func (f *fakeWorkerRepo) SetOffline(ctx context.Context, ip string) error {
	if w := f.byIP[ip]; w != nil {
		w.Status = models.WorkerStatusOffline
	}
	return nil
}

func (f *fakeWorkerRepo) SetOnlines(ctx context.Context, ips []string) error {
	for _, ip := range ips {
		if w := f.byIP[ip]; w != nil {
			w.Status = models.WorkerStatusOnline
		}
	}
	return nil
}

type fakeTaskRepo struct {
	tasks []*models.DeployTask
}

func (f *fakeTaskRepo) Create(ctx context.Context, t *models.DeployTask) error {
	f.tasks = append(f.tasks, t)
	return nil
}

func (f *fakeTaskRepo) ListByTaskID(ctx context.Context, deployID int64, taskID string) ([]*models.DeployTask, error) {
	var out []*models.DeployTask
	for _, t := range f.tasks {
		if t.DeployID == deployID && t.TaskID == taskID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTaskRepo) List(ctx context.Context, filter repository.TaskFilter) ([]*models.DeployTask, error) {
	var out []*models.DeployTask
	for _, t := range f.tasks {
		if filter.WorkerIP != "" && t.WorkerIP != filter.WorkerIP {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeTaskRepo) SetSuccess(ctx context.Context, workerIP, taskID string) error {
	for _, t := range f.tasks {
		if t.WorkerIP == workerIP && t.TaskID == taskID {
			t.Status = models.TaskStatusSuccess
		}
	}
	return nil
}

func (f *fakeTaskRepo) SetFailed(ctx context.Context, workerIP, taskID, message string) error {
	for _, t := range f.tasks {
		if t.WorkerIP == workerIP && t.TaskID == taskID {
			t.Status = models.TaskStatusFailed
			t.Message = message
		}
	}
	return nil
}

type fakeDeploymentRepo struct {
	routable []*models.Deployment
	updated  time.Time
	created  []*models.Deployment
}

func (f *fakeDeploymentRepo) Create(ctx context.Context, d *models.Deployment) error {
	d.ID = int64(len(f.created) + 1)
	d.CreatedAt = time.Now()
	f.created = append(f.created, d)
	return nil
}

func (f *fakeDeploymentRepo) GetByID(ctx context.Context, id int64) (*models.Deployment, error) {
	for _, d := range f.created {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, nil
}
func (f *fakeDeploymentRepo) GetByTaskID(ctx context.Context, taskID string) (*models.Deployment, error) {
	return nil, nil
}
func (f *fakeDeploymentRepo) ListByDeployStatus(ctx context.Context, status models.DeployStatus) ([]*models.Deployment, error) {
	return nil, nil
}
func (f *fakeDeploymentRepo) ListRoutable(ctx context.Context) ([]*models.Deployment, error) {
	return f.routable, nil
}
func (f *fakeDeploymentRepo) LatestUpdatedAt(ctx context.Context) (time.Time, error) {
	return f.updated, nil
}
func (f *fakeDeploymentRepo) GetLatestByProject(ctx context.Context, projectID int64) (*models.Deployment, error) {
	for i := len(f.created) - 1; i >= 0; i-- {
		if f.created[i].ProjectID == projectID {
			return f.created[i], nil
		}
	}
	return nil, nil
}
func (f *fakeDeploymentRepo) GetLatestSuccessByProject(ctx context.Context, projectID int64) (*models.Deployment, error) {
	return nil, nil
}
func (f *fakeDeploymentRepo) TransitionDeployStatus(ctx context.Context, id int64, from []models.DeployStatus, to models.DeployStatus, message string) (bool, error) {
	return true, nil
}
func (f *fakeDeploymentRepo) UpdateSpec(ctx context.Context, id int64, spec models.DeploySpec) error {
	return nil
}
func (f *fakeDeploymentRepo) SetStatus(ctx context.Context, id, ownerID int64, status models.DeploymentStatus) error {
	return nil
}
func (f *fakeDeploymentRepo) Publish(ctx context.Context, id, projectID int64, prodDomain string) error {
	return nil
}
func (f *fakeDeploymentRepo) OutdateDevelopment(ctx context.Context, projectID, keepID int64) error {
	return nil
}

type fakeStorageRepo struct {
	byDeployID map[int64]*models.Storage
}

func (f *fakeStorageRepo) Create(ctx context.Context, s *models.Storage) error {
	f.byDeployID[s.DeployID] = s
	return nil
}
func (f *fakeStorageRepo) GetSuccessByDeployID(ctx context.Context, deployID int64) (*models.Storage, error) {
	return f.byDeployID[deployID], nil
}
func (f *fakeStorageRepo) FindSuccessByDeployIDs(ctx context.Context, deployIDs []int64) (map[int64]*models.Storage, error) {
	return f.byDeployID, nil
}

type fakeSettingsRepo struct {
	values map[string]string
}

func (f *fakeSettingsRepo) Get(ctx context.Context, name string) (*models.Setting, error) {
	v, ok := f.values[name]
	if !ok {
		return nil, nil
	}
	return &models.Setting{Name: name, Value: v}, nil
}

func (f *fakeSettingsRepo) Set(ctx context.Context, name, value string) error {
	f.values[name] = value
	return nil
}

func (f *fakeSettingsRepo) ListNames(ctx context.Context) ([]string, error) { return nil, nil }

// urlStore satisfies the object store interface for URL building only.
type urlStore struct{}

func (urlStore) Write(ctx context.Context, name string, data []byte) error { return nil }
func (urlStore) Read(ctx context.Context, name string) ([]byte, error)     { return nil, nil }
func (urlStore) Exists(ctx context.Context, name string) (bool, error)     { return false, nil }
func (urlStore) Delete(ctx context.Context, name string) error             { return nil }
func (urlStore) BuildURL(name string) string                               { return "https://cdn.test/" + name }

type workerAPIFixture struct {
	handler  *WorkerAPIHandler
	router   http.Handler
	tasks    *fakeTaskRepo
	workers  *fakeWorkerRepo
	snapshot *confdata.Builder
}

const testWorkerToken = "workertokenworkertokenworkertokenworkerY"

func newWorkerAPIFixture(t *testing.T, routable []*models.Deployment, artifacts map[int64]*models.Storage) *workerAPIFixture {
	t.Helper()
	storage.Set(urlStore{})

	tokenRepo := &fakeTokenRepo{byValue: map[string]*models.Token{
		testWorkerToken: {
			ID:        1,
			UserID:    1,
			Name:      "fleet",
			Value:     testWorkerToken,
			Usage:     models.TokenUsageWorker,
			Status:    models.TokenStatusActive,
			ExpiredAt: time.Now().Add(time.Hour),
		},
	}}
	userRepo := &fakeUserRepo{byID: map[int64]*models.User{
		1: {ID: 1, Status: models.UserStatusActive, Role: models.UserRoleAdmin},
	}}
	registry := tokens.NewRegistry(tokenRepo, userRepo, testLogger())

	workerRepo := &fakeWorkerRepo{byIP: map[string]*models.Worker{}}
	fleet := workers.NewRegistry(workerRepo, testLogger())

	settingsRepo := &fakeSettingsRepo{values: map[string]string{
		"domain-settings": `{"domain_suffix":"runtime.test","http_protocol":"https"}`,
	}}
	builder := confdata.NewBuilder(
		&fakeDeploymentRepo{routable: routable, updated: time.Now()},
		&fakeStorageRepo{byDeployID: artifacts},
		settings.NewStore(settingsRepo),
		testLogger(),
	)
	if err := builder.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	taskRepo := &fakeTaskRepo{}
	h := NewWorkerAPIHandler(builder, fleet, taskRepo, registry)
	return &workerAPIFixture{
		handler:  h,
		router:   h.Routes(),
		tasks:    taskRepo,
		workers:  workerRepo,
		snapshot: builder,
	}
}

func syncRequest(t *testing.T, ip, checksum string) *http.Request {
	t.Helper()
	body, err := json.Marshal(models.IPInfo{IP: ip, Hostname: "w1"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/sync", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testWorkerToken)
	req.Header.Set("Content-Type", "application/json")
	if checksum != "" {
		req.Header.Set("X-Md5", checksum)
	}
	return req
}

func TestWorkerAPI_Sync(t *testing.T) {
	routable := []*models.Deployment{
		{ID: 10, OwnerID: 1, ProjectID: 5, TaskID: "task-a", Domain: "hello-123"},
	}
	artifacts := map[int64]*models.Storage{
		10: {DeployID: 10, Path: "wasm/hello.wasm", FileHash: "abc123"},
	}

	t.Run("full response on first sync", func(t *testing.T) {
		f := newWorkerAPIFixture(t, routable, artifacts)

		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, syncRequest(t, "10.0.0.1", ""))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		checksum := rec.Header().Get("X-Md5")
		if checksum == "" {
			t.Fatal("expected X-Md5 header on full response")
		}

		var out struct {
			Status string             `json:"status"`
			Data   []*models.ConfItem `json:"data"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if out.Status != "ok" {
			t.Errorf("status = %q, want ok", out.Status)
		}
		if len(out.Data) != 1 {
			t.Fatalf("items = %d, want 1", len(out.Data))
		}
		item := out.Data[0]
		if item.Domain != "hello-123.runtime.test" {
			t.Errorf("domain = %q", item.Domain)
		}
		if item.DownloadURL != "https://cdn.test/wasm/hello.wasm" {
			t.Errorf("download url = %q", item.DownloadURL)
		}

		// The heartbeat registered the worker.
		if f.workers.byIP["10.0.0.1"] == nil {
			t.Error("expected heartbeat to upsert worker row")
		}
	})

	t.Run("304 when checksum matches", func(t *testing.T) {
		f := newWorkerAPIFixture(t, routable, artifacts)
		checksum := f.snapshot.Current().Checksum

		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, syncRequest(t, "10.0.0.1", checksum))

		if rec.Code != http.StatusNotModified {
			t.Fatalf("status = %d, want 304", rec.Code)
		}
		if got := rec.Header().Get("X-Md5"); got != checksum {
			t.Errorf("X-Md5 = %q, want %q", got, checksum)
		}
	})

	t.Run("empty snapshot never 304s", func(t *testing.T) {
		f := newWorkerAPIFixture(t, nil, nil)
		checksum := f.snapshot.Current().Checksum

		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, syncRequest(t, "10.0.0.1", checksum))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200 for empty snapshot", rec.Code)
		}
	})

	t.Run("rejects missing token", func(t *testing.T) {
		f := newWorkerAPIFixture(t, routable, artifacts)

		req := syncRequest(t, "10.0.0.1", "")
		req.Header.Del("Authorization")
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("rejects cmdline token", func(t *testing.T) {
		f := newWorkerAPIFixture(t, routable, artifacts)

		req := syncRequest(t, "10.0.0.1", "")
		req.Header.Set("Authorization", "Bearer not-a-worker-token")
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})
}

func TestWorkerAPI_Task(t *testing.T) {
	taskFixture := func(t *testing.T) *workerAPIFixture {
		f := newWorkerAPIFixture(t, nil, nil)
		f.tasks.tasks = []*models.DeployTask{
			{ID: 1, DeployID: 10, TaskID: "task-a", WorkerIP: "10.0.0.1", Status: models.TaskStatusDoing, TaskContent: "{}"},
			{ID: 2, DeployID: 11, TaskID: "task-b", WorkerIP: "10.0.0.1", Status: models.TaskStatusDoing, TaskContent: "{}"},
			{ID: 3, DeployID: 12, TaskID: "task-c", WorkerIP: "10.0.0.2", Status: models.TaskStatusDoing, TaskContent: "{}"},
		}
		return f
	}

	exchange := func(t *testing.T, f *workerAPIFixture, ip string, results map[string]string) (*httptest.ResponseRecorder, []*models.DeployTask) {
		t.Helper()
		body, err := json.Marshal(results)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		req := httptest.NewRequest(http.MethodGet, "/task?ip="+ip, bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+testWorkerToken)
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)

		var out struct {
			Status string               `json:"status"`
			Data   []*models.DeployTask `json:"data"`
		}
		if rec.Code == http.StatusOK {
			if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
				t.Fatalf("decode: %v", err)
			}
		}
		return rec, out.Data
	}

	t.Run("returns pending tasks for the worker", func(t *testing.T) {
		f := taskFixture(t)
		rec, pending := exchange(t, f, "10.0.0.1", nil)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if len(pending) != 2 {
			t.Fatalf("pending = %d, want 2", len(pending))
		}
	})

	t.Run("records success and failure results", func(t *testing.T) {
		f := taskFixture(t)
		_, pending := exchange(t, f, "10.0.0.1", map[string]string{
			"task-a": "success",
			"task-b": "wasm trap: out of bounds",
		})

		if len(pending) != 0 {
			t.Fatalf("pending = %d, want 0 after reporting", len(pending))
		}
		if got := f.tasks.tasks[0].Status; got != models.TaskStatusSuccess {
			t.Errorf("task-a status = %q, want success", got)
		}
		if got := f.tasks.tasks[1].Status; got != models.TaskStatusFailed {
			t.Errorf("task-b status = %q, want failed", got)
		}
		if got := f.tasks.tasks[1].Message; got != "wasm trap: out of bounds" {
			t.Errorf("task-b message = %q", got)
		}
		// Another worker's task is untouched.
		if got := f.tasks.tasks[2].Status; got != models.TaskStatusDoing {
			t.Errorf("task-c status = %q, want doing", got)
		}
	})

	t.Run("empty body yields empty data array", func(t *testing.T) {
		f := newWorkerAPIFixture(t, nil, nil)
		req := httptest.NewRequest(http.MethodGet, "/task?ip=10.0.0.9", nil)
		req.Header.Set("Authorization", "Bearer "+testWorkerToken)
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if !bytes.Contains(rec.Body.Bytes(), []byte(`"data":[]`)) {
			t.Errorf("body = %s, want empty data array", rec.Body.String())
		}
	})
}
