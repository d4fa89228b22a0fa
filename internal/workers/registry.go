// Package workers tracks the data-plane fleet. Liveness is observed through
// sync calls: a worker that keeps pulling configuration is alive, one that
// stops is eventually marked offline by the reconcile loop.
package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/runtime-land/land/internal/models"
	"github.com/runtime-land/land/internal/repository"
)

const (
	// ReconcilePeriod is how often liveness is reconciled into the database.
	ReconcilePeriod = 10 * time.Second
	// OfflineThreshold is how long a worker may stay silent before it is
	// marked offline.
	OfflineThreshold = 60 * time.Second
)

// Registry tracks last-seen times for the fleet in process memory and
// periodically reconciles them with the worker_node table. The in-memory
// view is authoritative for liveness; the table is authoritative for
// identity and region.
type Registry struct {
	repo   repository.WorkerRepository
	logger *slog.Logger

	mu      sync.Mutex
	livings map[string]int64 // ip -> unix seconds of last sync
}

// NewRegistry creates a worker registry.
func NewRegistry(repo repository.WorkerRepository, logger *slog.Logger) *Registry {
	return &Registry{
		repo:    repo,
		logger:  logger,
		livings: make(map[string]int64),
	}
}

// Heartbeat records a sync from ip and upserts the worker row as Online.
func (r *Registry) Heartbeat(ctx context.Context, ip string, info *models.IPInfo) error {
	r.mu.Lock()
	r.livings[ip] = time.Now().Unix()
	r.mu.Unlock()

	worker := &models.Worker{
		IP:     ip,
		Status: models.WorkerStatusOnline,
	}
	if info != nil {
		worker.Hostname = info.Hostname
		worker.Region = info.RegionName()
		if raw, err := json.Marshal(info); err == nil {
			worker.IPInfo = string(raw)
		}
	}
	return r.repo.Upsert(ctx, worker)
}

// Touch records a sync from ip without rewriting the worker row. Used by
// endpoints that authenticate a worker but carry no fleet metadata.
func (r *Registry) Touch(ip string) {
	r.mu.Lock()
	r.livings[ip] = time.Now().Unix()
	r.mu.Unlock()
}

// LivingIPs returns the ips seen within the offline threshold.
func (r *Registry) LivingIPs() []string {
	cutoff := time.Now().Add(-OfflineThreshold).Unix()
	r.mu.Lock()
	defer r.mu.Unlock()
	ips := make([]string, 0, len(r.livings))
	for ip, seen := range r.livings {
		if seen >= cutoff {
			ips = append(ips, ip)
		}
	}
	return ips
}

// Online lists the workers currently marked Online in the database.
func (r *Registry) Online(ctx context.Context) ([]*models.Worker, error) {
	return r.repo.FindAll(ctx, models.WorkerStatusOnline)
}

// List lists all workers regardless of status.
func (r *Registry) List(ctx context.Context) ([]*models.Worker, error) {
	return r.repo.FindAll(ctx, "")
}

// Reconcile folds the in-memory liveness view into the database. Every
// worker row is examined: rows whose livings entry aged past the threshold
// go Offline and leave the map, and Online rows with no livings entry at
// all fall back to their own updated_at, so dead workers still go Offline
// after a control-plane restart empties the map. Live ones are bulk-marked
// Online, and rows the table does not know yet are created, which heals the
// table after it is restored from an older backup.
func (r *Registry) Reconcile(ctx context.Context) error {
	known, err := r.repo.FindAll(ctx, "")
	if err != nil {
		return err
	}

	now := time.Now()
	cutoff := now.Add(-OfflineThreshold)

	r.mu.Lock()
	livings := make(map[string]int64, len(r.livings))
	for ip, seen := range r.livings {
		livings[ip] = seen
	}
	r.mu.Unlock()

	knownIPs := make(map[string]struct{}, len(known))
	var onlines, silent []string
	for _, w := range known {
		knownIPs[w.IP] = struct{}{}
		seen, heard := livings[w.IP]
		switch {
		case heard && seen >= cutoff.Unix():
			onlines = append(onlines, w.IP)
		case heard:
			silent = append(silent, w.IP)
		case w.Status == models.WorkerStatusOnline && w.UpdatedAt.Before(cutoff):
			silent = append(silent, w.IP)
		}
	}

	r.mu.Lock()
	for _, ip := range silent {
		delete(r.livings, ip)
	}
	r.mu.Unlock()

	for _, ip := range silent {
		if err := r.repo.SetOffline(ctx, ip); err != nil {
			r.logger.Error("failed to mark worker offline",
				slog.String("ip", ip), slog.String("error", err.Error()))
		} else {
			r.logger.Info("worker went offline", slog.String("ip", ip))
		}
	}

	if len(onlines) > 0 {
		if err := r.repo.SetOnlines(ctx, onlines); err != nil {
			return err
		}
	}

	// Recreate rows for live workers missing from the table.
	for ip, seen := range livings {
		if _, ok := knownIPs[ip]; ok || seen < cutoff.Unix() {
			continue
		}
		w := &models.Worker{IP: ip, Status: models.WorkerStatusOnline}
		if err := r.repo.Upsert(ctx, w); err != nil {
			r.logger.Error("failed to recreate worker row",
				slog.String("ip", ip), slog.String("error", err.Error()))
		}
	}
	return nil
}
