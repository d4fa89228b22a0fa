package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/runtime-land/land/internal/settings"
)

// The active store is a process-wide singleton, initialized at startup and
// swapped by Reload after a storage setting mutation. Tests substitute a
// fake through Set.
var (
	mu     sync.RWMutex
	active Store
)

// Global returns the active object store.
func Global() Store {
	mu.RLock()
	defer mu.RUnlock()
	return active
}

// Set replaces the active store.
func Set(s Store) {
	mu.Lock()
	active = s
	mu.Unlock()
}

// Reload rebuilds the active store from the current settings. Called at
// startup (fail-fast) and after any storage setting mutation.
func Reload(ctx context.Context, store *settings.Store) error {
	st, err := settings.Get[settings.StorageType](ctx, store, settings.KeyStorageType)
	if err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("storage-type setting is missing")
	}

	switch st.Type {
	case "fs":
		cfg, err := settings.Get[settings.StorageFs](ctx, store, settings.KeyStorageFs)
		if err != nil {
			return err
		}
		if cfg == nil {
			return fmt.Errorf("storage-fs setting is missing")
		}
		fsStore, err := NewFsStore(*cfg)
		if err != nil {
			return err
		}
		Set(fsStore)
		return nil
	case "s3":
		cfg, err := settings.Get[settings.StorageS3](ctx, store, settings.KeyStorageS3)
		if err != nil {
			return err
		}
		if cfg == nil {
			return fmt.Errorf("storage-s3 setting is missing")
		}
		s3Store, err := NewS3Store(ctx, *cfg)
		if err != nil {
			return err
		}
		Set(s3Store)
		return nil
	default:
		return fmt.Errorf("unknown storage type %q", st.Type)
	}
}
