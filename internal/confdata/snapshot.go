// Package confdata maintains the routing snapshot workers pull. The
// snapshot is derived state: it is rebuilt from successful deployments on a
// short period and served with a checksum so unchanged fleets exchange a
// few bytes per sync.
package confdata

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/runtime-land/land/internal/models"
	"github.com/runtime-land/land/internal/repository"
	"github.com/runtime-land/land/internal/settings"
	"github.com/runtime-land/land/internal/storage"
)

const (
	// RefreshPeriod is how often the snapshot is rebuilt.
	RefreshPeriod = time.Second
	// quietWindow skips rebuilds when no deployment moved recently and a
	// snapshot already exists.
	quietWindow = 10 * time.Second
)

// Snapshot is one immutable generation of routing configuration. Items are
// sorted by task id so the checksum is deterministic.
type Snapshot struct {
	Items    []*models.ConfItem
	Checksum string
}

// Builder rebuilds and serves the current snapshot.
type Builder struct {
	deployments repository.DeploymentRepository
	artifacts   repository.StorageRepository
	settings    *settings.Store
	logger      *slog.Logger

	mu      sync.RWMutex
	current *Snapshot
}

// NewBuilder creates a snapshot builder. The initial snapshot is empty with
// the checksum of an empty item list, so sync works before the first
// refresh completes.
func NewBuilder(
	deployments repository.DeploymentRepository,
	artifacts repository.StorageRepository,
	store *settings.Store,
	logger *slog.Logger,
) *Builder {
	empty, _ := buildSnapshot(nil)
	return &Builder{
		deployments: deployments,
		artifacts:   artifacts,
		settings:    store,
		logger:      logger,
		current:     empty,
	}
}

// Current returns the live snapshot. The returned value is shared and must
// not be mutated.
func (b *Builder) Current() *Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

// Refresh rebuilds the snapshot from routable deployments and swaps it in
// atomically. When nothing changed recently and a snapshot exists, the
// rebuild is skipped.
func (b *Builder) Refresh(ctx context.Context) error {
	latest, err := b.deployments.LatestUpdatedAt(ctx)
	if err != nil {
		return err
	}
	b.mu.RLock()
	haveItems := len(b.current.Items) > 0
	b.mu.RUnlock()
	if haveItems && !latest.IsZero() && time.Since(latest) > quietWindow {
		return nil
	}

	deployments, err := b.deployments.ListRoutable(ctx)
	if err != nil {
		return err
	}

	ids := make([]int64, 0, len(deployments))
	for _, d := range deployments {
		ids = append(ids, d.ID)
	}
	records, err := b.artifacts.FindSuccessByDeployIDs(ctx, ids)
	if err != nil {
		return err
	}
	ds, err := b.settings.DomainSettings(ctx)
	if err != nil {
		return err
	}

	items := make([]*models.ConfItem, 0, len(deployments))
	for _, d := range deployments {
		record, ok := records[d.ID]
		if !ok {
			// Routable but artifact record missing; leave it out rather
			// than handing workers a dead download link.
			b.logger.Warn("routable deployment has no artifact record",
				slog.Int64("deploy_id", d.ID))
			continue
		}
		items = append(items, &models.ConfItem{
			UserID:      d.OwnerID,
			ProjectID:   d.ProjectID,
			DeployID:    d.ID,
			TaskID:      d.TaskID,
			FileName:    record.Path,
			FileHash:    record.FileHash,
			DownloadURL: storage.Global().BuildURL(record.Path),
			Domain:      d.Domain + "." + ds.DomainSuffix,
		})
	}

	snapshot, err := buildSnapshot(items)
	if err != nil {
		return err
	}

	b.mu.Lock()
	changed := b.current.Checksum != snapshot.Checksum
	b.current = snapshot
	b.mu.Unlock()

	if changed {
		b.logger.Info("routing snapshot rebuilt",
			slog.Int("items", len(snapshot.Items)),
			slog.String("checksum", snapshot.Checksum))
	}
	return nil
}

// buildSnapshot sorts items by task id and computes the hex md5 of their
// JSON encoding. A nil item list encodes as an empty array so the checksum
// of "no deployments" is stable.
func buildSnapshot(items []*models.ConfItem) (*Snapshot, error) {
	if items == nil {
		items = []*models.ConfItem{}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].TaskID < items[j].TaskID })

	raw, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	sum := md5.Sum(raw)
	return &Snapshot{
		Items:    items,
		Checksum: hex.EncodeToString(sum[:]),
	}, nil
}
