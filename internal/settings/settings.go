// Package settings provides the typed configuration store persisted in the
// settings table. Each recognized setting is a JSON document under a fixed
// name.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/runtime-land/land/internal/repository"
)

// Recognized setting names. The set is closed; unknown names are ignored by
// the admin surface.
const (
	KeyDomainSettings     = "domain-settings"
	KeyStorageType        = "storage-type"
	KeyStorageFs          = "storage-fs"
	KeyStorageS3          = "storage-s3"
	KeyPrometheusSettings = "prometheus-settings"
	KeyClerkJWKS          = "clerk_jwks"
)

// DomainSettings controls how deployment subdomains become full domains.
type DomainSettings struct {
	DomainSuffix string `json:"domain_suffix"`
	HTTPProtocol string `json:"http_protocol"`
}

// StorageType selects the active object store backend.
type StorageType struct {
	Type string `json:"type"` // "fs" or "s3"
}

// StorageFs configures the filesystem object store.
type StorageFs struct {
	LocalPath        string `json:"local_path"`
	LocalURLTemplate string `json:"local_url_template"`
}

// StorageS3 configures the S3-compatible object store.
type StorageS3 struct {
	Endpoint  string `json:"endpoint"`
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Directory string `json:"directory,omitempty"`
	URL       string `json:"url,omitempty"`
}

// PrometheusSettings configures the optional metrics push endpoint.
type PrometheusSettings struct {
	Endpoint string `json:"endpoint"`
}

// Store reads and writes typed settings.
type Store struct {
	repo repository.SettingsRepository
}

// NewStore creates a settings store over the repository.
func NewStore(repo repository.SettingsRepository) *Store {
	return &Store{repo: repo}
}

// Get fetches a setting and deserializes it into T; (nil, nil) when absent.
func Get[T any](ctx context.Context, s *Store, name string) (*T, error) {
	row, err := s.repo.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	var value T
	if err := json.Unmarshal([]byte(row.Value), &value); err != nil {
		return nil, fmt.Errorf("setting %q holds invalid JSON: %w", name, err)
	}
	return &value, nil
}

// Set serializes a value and upserts it by name.
func Set[T any](ctx context.Context, s *Store, name string, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.repo.Set(ctx, name, string(raw))
}

// Raw returns a setting's stored JSON without deserializing; nil when
// absent.
func (s *Store) Raw(ctx context.Context, name string) (*string, error) {
	row, err := s.repo.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	return &row.Value, nil
}

// SetRaw upserts a setting's JSON verbatim. Callers validate the payload;
// the admin API rolls back values that fail to take effect.
func (s *Store) SetRaw(ctx context.Context, name, value string) error {
	if !json.Valid([]byte(value)) {
		return fmt.Errorf("setting %q value is not valid JSON", name)
	}
	return s.repo.Set(ctx, name, value)
}

// ListNames enumerates known settings.
func (s *Store) ListNames(ctx context.Context) ([]string, error) {
	return s.repo.ListNames(ctx)
}

// DomainSettings returns the domain settings, which InstallDefaults
// guarantees exist after boot.
func (s *Store) DomainSettings(ctx context.Context) (*DomainSettings, error) {
	ds, err := Get[DomainSettings](ctx, s, KeyDomainSettings)
	if err != nil {
		return nil, err
	}
	if ds == nil {
		return &DomainSettings{DomainSuffix: "localhost", HTTPProtocol: "http"}, nil
	}
	return ds, nil
}

// InstallDefaults seeds settings that must exist for the control plane to
// run. Domain settings default to localhost; storage defaults to the
// filesystem backend, seeded from the S3_* environment when present.
func (s *Store) InstallDefaults(ctx context.Context) error {
	ds, err := Get[DomainSettings](ctx, s, KeyDomainSettings)
	if err != nil {
		return err
	}
	if ds == nil {
		if err := Set(ctx, s, KeyDomainSettings, DomainSettings{
			DomainSuffix: "localhost",
			HTTPProtocol: "http",
		}); err != nil {
			return err
		}
	}

	st, err := Get[StorageType](ctx, s, KeyStorageType)
	if err != nil {
		return err
	}
	if st != nil {
		return nil
	}

	if endpoint := os.Getenv("S3_ENDPOINT"); endpoint != "" {
		s3 := StorageS3{
			Endpoint:  endpoint,
			Bucket:    os.Getenv("S3_BUCKET"),
			Region:    os.Getenv("S3_REGION"),
			AccessKey: os.Getenv("S3_ACCESS_KEY_ID"),
			SecretKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
			Directory: os.Getenv("S3_BUCKET_BASEPATH"),
			URL:       os.Getenv("S3_ROOT_PATH"),
		}
		if err := Set(ctx, s, KeyStorageS3, s3); err != nil {
			return err
		}
		return Set(ctx, s, KeyStorageType, StorageType{Type: "s3"})
	}

	if err := Set(ctx, s, KeyStorageFs, StorageFs{
		LocalPath:        "/var/lib/runtime-land/storage",
		LocalURLTemplate: "http://localhost:7901/storage/{path}",
	}); err != nil {
		return err
	}
	return Set(ctx, s, KeyStorageType, StorageType{Type: "fs"})
}
