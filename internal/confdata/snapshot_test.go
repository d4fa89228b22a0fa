package confdata

import (
	"context"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/runtime-land/land/internal/models"
	"github.com/runtime-land/land/internal/settings"
	"github.com/runtime-land/land/internal/storage"
)

type fakeDeploymentRepo struct {
	routable []*models.Deployment
	latest   time.Time
}

func (f *fakeDeploymentRepo) Create(ctx context.Context, d *models.Deployment) error { return nil }

func (f *fakeDeploymentRepo) GetByID(ctx context.Context, id int64) (*models.Deployment, error) {
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
	return f.latest, nil
}

func (f *fakeDeploymentRepo) GetLatestByProject(ctx context.Context, projectID int64) (*models.Deployment, error) {
	return nil, nil
}

func (f *fakeDeploymentRepo) GetLatestSuccessByProject(ctx context.Context, projectID int64) (*models.Deployment, error) {
	return nil, nil
}

func (f *fakeDeploymentRepo) TransitionDeployStatus(ctx context.Context, id int64, from []models.DeployStatus, to models.DeployStatus, message string) (bool, error) {
	return false, nil
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
	byDeploy map[int64]*models.Storage
}

func (f *fakeStorageRepo) Create(ctx context.Context, s *models.Storage) error { return nil }

func (f *fakeStorageRepo) GetSuccessByDeployID(ctx context.Context, deployID int64) (*models.Storage, error) {
	return f.byDeploy[deployID], nil
}

func (f *fakeStorageRepo) FindSuccessByDeployIDs(ctx context.Context, deployIDs []int64) (map[int64]*models.Storage, error) {
	out := make(map[int64]*models.Storage)
	for _, id := range deployIDs {
		if s, ok := f.byDeploy[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

type fakeSettingsRepo struct {
	values map[string]string
}

func (f *fakeSettingsRepo) Get(ctx context.Context, name string) (*models.Setting, error) {
	if v, ok := f.values[name]; ok {
		return &models.Setting{Name: name, Value: v}, nil
	}
	return nil, nil
}

func (f *fakeSettingsRepo) Set(ctx context.Context, name, value string) error { return nil }

func (f *fakeSettingsRepo) ListNames(ctx context.Context) ([]string, error) { return nil, nil }

type urlStore struct{}

func (urlStore) Write(ctx context.Context, name string, data []byte) error { return nil }
func (urlStore) Read(ctx context.Context, name string) ([]byte, error)     { return nil, nil }
func (urlStore) Exists(ctx context.Context, name string) (bool, error)     { return true, nil }
func (urlStore) Delete(ctx context.Context, name string) error             { return nil }
func (urlStore) BuildURL(name string) string                               { return "https://cdn.test/" + name }

func deployment(id int64, taskID, domain string) *models.Deployment {
	return &models.Deployment{
		ID:           id,
		OwnerID:      1,
		ProjectID:    2,
		TaskID:       taskID,
		Domain:       domain,
		DeployStatus: models.DeployStatusSuccess,
		Status:       models.DeploymentStatusActive,
		UpdatedAt:    time.Now(),
	}
}

func artifact(deployID int64, path, hash string) *models.Storage {
	return &models.Storage{
		DeployID: deployID,
		Path:     path,
		FileHash: hash,
		Status:   models.StorageStatusSuccess,
	}
}

func newTestBuilder(deps *fakeDeploymentRepo, arts *fakeStorageRepo) *Builder {
	storage.Set(urlStore{})
	store := settings.NewStore(&fakeSettingsRepo{values: map[string]string{
		settings.KeyDomainSettings: `{"domain_suffix":"runtime.test","http_protocol":"https"}`,
	}})
	return NewBuilder(deps, arts, store, slog.Default())
}

func TestBuilder_Refresh(t *testing.T) {
	ctx := context.Background()

	t.Run("builds items sorted by task id with full domains", func(t *testing.T) {
		deps := &fakeDeploymentRepo{
			routable: []*models.Deployment{
				deployment(2, "zz-task", "beta-app"),
				deployment(1, "aa-task", "alpha-app"),
			},
			latest: time.Now(),
		}
		arts := &fakeStorageRepo{byDeploy: map[int64]*models.Storage{
			1: artifact(1, "u/p/aa-task.wasm", "hash-a"),
			2: artifact(2, "u/p/zz-task.wasm", "hash-b"),
		}}
		b := newTestBuilder(deps, arts)

		if err := b.Refresh(ctx); err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
		snap := b.Current()
		if len(snap.Items) != 2 {
			t.Fatalf("items = %d, want 2", len(snap.Items))
		}
		if !sort.SliceIsSorted(snap.Items, func(i, j int) bool {
			return snap.Items[i].TaskID < snap.Items[j].TaskID
		}) {
			t.Error("items not sorted by task id")
		}
		first := snap.Items[0]
		if first.Domain != "alpha-app.runtime.test" {
			t.Errorf("Domain = %q, want alpha-app.runtime.test", first.Domain)
		}
		if first.DownloadURL != "https://cdn.test/u/p/aa-task.wasm" {
			t.Errorf("DownloadURL = %q", first.DownloadURL)
		}
		if first.FileHash != "hash-a" {
			t.Errorf("FileHash = %q, want hash-a", first.FileHash)
		}
		if len(snap.Checksum) != 32 {
			t.Errorf("Checksum = %q, want 32 hex chars", snap.Checksum)
		}
	})

	t.Run("checksum is deterministic across input order", func(t *testing.T) {
		arts := &fakeStorageRepo{byDeploy: map[int64]*models.Storage{
			1: artifact(1, "a.wasm", "h1"),
			2: artifact(2, "b.wasm", "h2"),
		}}
		depsA := &fakeDeploymentRepo{
			routable: []*models.Deployment{deployment(1, "aa", "a"), deployment(2, "bb", "b")},
			latest:   time.Now(),
		}
		depsB := &fakeDeploymentRepo{
			routable: []*models.Deployment{deployment(2, "bb", "b"), deployment(1, "aa", "a")},
			latest:   time.Now(),
		}
		ba := newTestBuilder(depsA, arts)
		bb := newTestBuilder(depsB, arts)
		if err := ba.Refresh(ctx); err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
		if err := bb.Refresh(ctx); err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
		if ba.Current().Checksum != bb.Current().Checksum {
			t.Errorf("checksums differ across input order: %q vs %q",
				ba.Current().Checksum, bb.Current().Checksum)
		}
	})

	t.Run("drops deployments missing artifact records", func(t *testing.T) {
		deps := &fakeDeploymentRepo{
			routable: []*models.Deployment{deployment(1, "aa", "a"), deployment(2, "bb", "b")},
			latest:   time.Now(),
		}
		arts := &fakeStorageRepo{byDeploy: map[int64]*models.Storage{
			1: artifact(1, "a.wasm", "h1"),
		}}
		b := newTestBuilder(deps, arts)

		if err := b.Refresh(ctx); err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
		snap := b.Current()
		if len(snap.Items) != 1 || snap.Items[0].DeployID != 1 {
			t.Errorf("items = %+v, want only deploy 1", snap.Items)
		}
	})

	t.Run("skips rebuild during a quiet window", func(t *testing.T) {
		deps := &fakeDeploymentRepo{
			routable: []*models.Deployment{deployment(1, "aa", "a")},
			latest:   time.Now(),
		}
		arts := &fakeStorageRepo{byDeploy: map[int64]*models.Storage{
			1: artifact(1, "a.wasm", "h1"),
		}}
		b := newTestBuilder(deps, arts)
		if err := b.Refresh(ctx); err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
		want := b.Current().Checksum

		// Nothing moved for a while; routable set changes must be ignored
		// until updated_at moves again.
		deps.latest = time.Now().Add(-time.Minute)
		deps.routable = nil
		if err := b.Refresh(ctx); err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
		if got := b.Current().Checksum; got != want {
			t.Errorf("snapshot rebuilt during quiet window: %q != %q", got, want)
		}
	})

	t.Run("empty fleet of deployments still yields a stable checksum", func(t *testing.T) {
		deps := &fakeDeploymentRepo{latest: time.Now()}
		arts := &fakeStorageRepo{}
		b := newTestBuilder(deps, arts)
		before := b.Current().Checksum

		if err := b.Refresh(ctx); err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
		if b.Current().Checksum != before {
			t.Errorf("empty checksum changed: %q -> %q", before, b.Current().Checksum)
		}
	})
}
