// Package storage provides the object store the deployment fabric writes
// wasm artifacts to. Two backends exist: local filesystem and S3-compatible.
// Callers never branch on the concrete backend; BuildURL is the only
// operation whose result depends on it.
package storage

import (
	"context"
)

// Store is the object store contract consumed by the upload phase and the
// routing snapshot.
type Store interface {
	Write(ctx context.Context, name string, data []byte) error
	Read(ctx context.Context, name string) ([]byte, error)
	Exists(ctx context.Context, name string) (bool, error)
	Delete(ctx context.Context, name string) error
	// BuildURL produces the URL a worker GETs to fetch the artifact. It is
	// purely a function of the configured template and the path.
	BuildURL(name string) string
}
