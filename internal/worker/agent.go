// Package worker implements the data-plane agent. It pulls routing
// configuration from the control plane every second, materializes wasm
// artifacts on local disk, and reports per-task outcomes back.
package worker

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/runtime-land/land/internal/config"
	"github.com/runtime-land/land/internal/models"
)

// Engine is the wasm runtime the agent hands artifacts to. The concrete
// runtime ships separately; the agent only manages artifact placement and
// route registration.
type Engine interface {
	// Register makes a function live on its domain, serving from the local
	// artifact path.
	Register(ctx context.Context, item *models.ConfItem, artifactPath string) error
	// Deregister removes a function no longer present in the snapshot.
	Deregister(ctx context.Context, domain string) error
}

// Agent is the worker process: one sync loop against the control plane.
type Agent struct {
	cfg    *config.WorkerConfig
	client *Client
	engine Engine
	logger *slog.Logger

	info models.IPInfo

	mu       sync.Mutex
	checksum string
	serving  map[string]*models.ConfItem // domain -> live item
	results  map[string]string           // task_id -> "success" | error
}

// NewAgent creates a worker agent.
func NewAgent(cfg *config.WorkerConfig, engine Engine, logger *slog.Logger) (*Agent, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}
	info, err := DiscoverIPInfo(context.Background())
	if err != nil {
		return nil, err
	}
	return &Agent{
		cfg:     cfg,
		client:  NewClient(cfg.ServerURL, cfg.ServerToken),
		engine:  engine,
		logger:  logger,
		info:    *info,
		serving: make(map[string]*models.ConfItem),
		results: make(map[string]string),
	}, nil
}

// Run drives the sync loop until the context ends. Each tick syncs the
// routing snapshot and exchanges task results for pending tasks.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("worker agent starting",
		slog.String("ip", a.info.IP),
		slog.String("server", a.cfg.ServerURL),
		slog.String("data_dir", a.cfg.DataDir))

	ticker := time.NewTicker(a.cfg.SyncPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

func (a *Agent) tick(ctx context.Context) {
	a.mu.Lock()
	checksum := a.checksum
	a.mu.Unlock()

	items, newChecksum, changed, err := a.client.Sync(ctx, &a.info, checksum)
	if err != nil {
		a.logger.Error("sync failed", slog.String("error", err.Error()))
		return
	}
	if changed {
		a.apply(ctx, items)
		a.mu.Lock()
		a.checksum = newChecksum
		a.mu.Unlock()
	}

	a.exchangeTasks(ctx)
}

// apply reconciles the local state against a new snapshot: fetch and
// register what is new, deregister what disappeared.
func (a *Agent) apply(ctx context.Context, items []*models.ConfItem) {
	next := make(map[string]*models.ConfItem, len(items))
	for _, item := range items {
		next[item.Domain] = item
	}

	a.mu.Lock()
	current := a.serving
	a.mu.Unlock()

	for domain := range current {
		if _, ok := next[domain]; ok {
			continue
		}
		if err := a.engine.Deregister(ctx, domain); err != nil {
			a.logger.Error("deregister failed",
				slog.String("domain", domain), slog.String("error", err.Error()))
			continue
		}
		a.logger.Info("function removed", slog.String("domain", domain))
	}

	for domain, item := range next {
		prev := current[domain]
		if prev != nil && prev.FileHash == item.FileHash {
			continue
		}
		if err := a.deploy(ctx, item); err != nil {
			a.logger.Error("deploy failed",
				slog.String("domain", domain),
				slog.String("task_id", item.TaskID),
				slog.String("error", err.Error()))
			a.report(item.TaskID, err.Error())
			delete(next, domain)
			continue
		}
		a.report(item.TaskID, "success")
		a.logger.Info("function deployed",
			slog.String("domain", domain), slog.String("task_id", item.TaskID))
	}

	a.mu.Lock()
	a.serving = next
	a.mu.Unlock()
}

// deploy fetches the artifact (verifying its hash) and registers it.
func (a *Agent) deploy(ctx context.Context, item *models.ConfItem) error {
	path := a.artifactPath(item)
	if !a.artifactValid(path, item.FileHash) {
		data, err := a.client.Download(ctx, item.DownloadURL)
		if err != nil {
			return err
		}
		sum := md5.Sum(data)
		if hex.EncodeToString(sum[:]) != item.FileHash {
			return errHashMismatch
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
	}
	return a.engine.Register(ctx, item, path)
}

func (a *Agent) artifactPath(item *models.ConfItem) string {
	return filepath.Join(a.cfg.DataDir, filepath.FromSlash(item.FileName))
}

// artifactValid reports whether the on-disk artifact already matches the
// expected hash, which makes restarts and re-syncs cheap.
func (a *Agent) artifactValid(path, wantHash string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:]) == wantHash
}

// report queues a task outcome for the next task exchange.
func (a *Agent) report(taskID, result string) {
	a.mu.Lock()
	a.results[taskID] = result
	a.mu.Unlock()
}

// exchangeTasks flushes queued results and executes any tasks the control
// plane still considers pending. Tasks whose artifact is already live
// resolve immediately; the queue-and-flush shape keeps reporting at-least-
// once even when a flush fails mid-way.
func (a *Agent) exchangeTasks(ctx context.Context) {
	a.mu.Lock()
	outgoing := a.results
	a.results = make(map[string]string)
	a.mu.Unlock()

	pending, err := a.client.ReportTasks(ctx, a.info.IP, outgoing)
	if err != nil {
		// Re-queue so results are not lost.
		a.mu.Lock()
		for id, res := range outgoing {
			if _, exists := a.results[id]; !exists {
				a.results[id] = res
			}
		}
		a.mu.Unlock()
		a.logger.Error("task exchange failed", slog.String("error", err.Error()))
		return
	}

	for _, task := range pending {
		a.runTask(ctx, task)
	}
}

// runTask executes one pending deploy task: its content is a ConfItem.
func (a *Agent) runTask(ctx context.Context, task *models.DeployTask) {
	item, err := decodeConfItem(task.TaskContent)
	if err != nil {
		a.report(task.TaskID, "malformed task content")
		return
	}

	a.mu.Lock()
	live := a.serving[item.Domain]
	a.mu.Unlock()
	if live != nil && live.FileHash == item.FileHash {
		a.report(task.TaskID, "success")
		return
	}

	if err := a.deploy(ctx, item); err != nil {
		a.report(task.TaskID, err.Error())
		return
	}
	a.mu.Lock()
	a.serving[item.Domain] = item
	a.mu.Unlock()
	a.report(task.TaskID, "success")
}
