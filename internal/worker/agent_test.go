package worker

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/runtime-land/land/internal/config"
	"github.com/runtime-land/land/internal/models"
)

// recordingEngine captures register/deregister calls.
type recordingEngine struct {
	mu           sync.Mutex
	registered   map[string]string // domain -> artifact path
	deregistered []string
	registerErr  error
}

func newRecordingEngine() *recordingEngine {
	return &recordingEngine{registered: make(map[string]string)}
}

func (e *recordingEngine) Register(ctx context.Context, item *models.ConfItem, artifactPath string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.registerErr != nil {
		return e.registerErr
	}
	e.registered[item.Domain] = artifactPath
	return nil
}

func (e *recordingEngine) Deregister(ctx context.Context, domain string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deregistered = append(e.deregistered, domain)
	delete(e.registered, domain)
	return nil
}

// fakePlane is an httptest control plane speaking the worker protocol plus
// an artifact download path.
type fakePlane struct {
	mu        sync.Mutex
	items     []*models.ConfItem
	checksum  string
	artifacts map[string][]byte // file name -> bytes
	results   map[string]string // task_id -> reported result
	pending   []*models.DeployTask

	srv *httptest.Server
}

func newFakePlane(t *testing.T) *fakePlane {
	t.Helper()
	p := &fakePlane{
		artifacts: make(map[string][]byte),
		results:   make(map[string]string),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/worker-api/sync", p.handleSync)
	mux.HandleFunc("/worker-api/task", p.handleTask)
	mux.HandleFunc("/artifacts/", p.handleArtifact)
	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

// addItem registers an artifact and a conf item pointing at it.
func (p *fakePlane) addItem(domain, taskID string, wasm []byte) *models.ConfItem {
	p.mu.Lock()
	defer p.mu.Unlock()
	sum := md5.Sum(wasm)
	name := domain + ".wasm"
	p.artifacts[name] = wasm
	item := &models.ConfItem{
		Domain:      domain,
		TaskID:      taskID,
		FileName:    name,
		FileHash:    hex.EncodeToString(sum[:]),
		DownloadURL: p.srv.URL + "/artifacts/" + name,
	}
	p.items = append(p.items, item)
	p.checksum = "sum-" + taskID
	return item
}

func (p *fakePlane) removeItem(domain string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.items[:0]
	for _, item := range p.items {
		if item.Domain != domain {
			kept = append(kept, item)
		}
	}
	p.items = kept
	p.checksum = p.checksum + "-less-" + domain
}

func (p *fakePlane) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+testFleetToken {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	w.Header().Set(checksumHeader, p.checksum)
	if r.Header.Get(checksumHeader) == p.checksum && len(p.items) > 0 {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"status": "ok", "message": "", "data": p.items,
	})
}

func (p *fakePlane) handleTask(w http.ResponseWriter, r *http.Request) {
	var results map[string]string
	if err := json.NewDecoder(r.Body).Decode(&results); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, res := range results {
		p.results[id] = res
	}
	pending := p.pending
	p.pending = nil
	if pending == nil {
		pending = []*models.DeployTask{}
	}
	json.NewEncoder(w).Encode(map[string]any{
		"status": "ok", "message": "", "data": pending,
	})
}

func (p *fakePlane) handleArtifact(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	data, ok := p.artifacts[filepath.Base(r.URL.Path)]
	p.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Write(data)
}

func (p *fakePlane) result(taskID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.results[taskID]
}

const testFleetToken = "fleet-token"

func newTestAgent(t *testing.T, p *fakePlane, engine Engine) *Agent {
	t.Helper()
	cfg := &config.WorkerConfig{
		ServerURL:   p.srv.URL,
		ServerToken: testFleetToken,
		DataDir:     t.TempDir(),
		SyncPeriod:  time.Second,
	}
	return &Agent{
		cfg:     cfg,
		client:  NewClient(cfg.ServerURL, cfg.ServerToken),
		engine:  engine,
		logger:  slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
		info:    models.IPInfo{IP: "10.0.0.1"},
		serving: make(map[string]*models.ConfItem),
		results: make(map[string]string),
	}
}

func TestAgent_Tick(t *testing.T) {
	ctx := context.Background()
	wasm := []byte("\x00asm fake module")

	t.Run("deploys new items and reports success", func(t *testing.T) {
		p := newFakePlane(t)
		item := p.addItem("hello-abc.runtime.test", "task-1", wasm)
		engine := newRecordingEngine()
		a := newTestAgent(t, p, engine)

		a.tick(ctx)

		path, ok := engine.registered[item.Domain]
		if !ok {
			t.Fatalf("function not registered, engine has %v", engine.registered)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("artifact not on disk: %v", err)
		}
		if string(data) != string(wasm) {
			t.Error("artifact bytes differ from the upload")
		}
		if got := p.result("task-1"); got != "success" {
			t.Errorf("reported result = %q, want success", got)
		}
		if a.checksum == "" {
			t.Error("checksum not adopted after a changed sync")
		}
	})

	t.Run("unchanged snapshot leaves state alone", func(t *testing.T) {
		p := newFakePlane(t)
		p.addItem("hello-abc.runtime.test", "task-1", wasm)
		engine := newRecordingEngine()
		a := newTestAgent(t, p, engine)

		a.tick(ctx)
		before := len(engine.registered)
		a.tick(ctx) // second sync hits the 304 path
		if len(engine.registered) != before {
			t.Errorf("registered set changed across a 304: %v", engine.registered)
		}
	})

	t.Run("removed item is deregistered", func(t *testing.T) {
		p := newFakePlane(t)
		item := p.addItem("hello-abc.runtime.test", "task-1", wasm)
		engine := newRecordingEngine()
		a := newTestAgent(t, p, engine)

		a.tick(ctx)
		p.removeItem(item.Domain)
		a.tick(ctx)

		if len(engine.deregistered) != 1 || engine.deregistered[0] != item.Domain {
			t.Errorf("deregistered = %v, want [%s]", engine.deregistered, item.Domain)
		}
		if _, still := engine.registered[item.Domain]; still {
			t.Error("function still registered after removal")
		}
	})

	t.Run("corrupt download fails the task", func(t *testing.T) {
		p := newFakePlane(t)
		item := p.addItem("hello-abc.runtime.test", "task-1", wasm)
		p.mu.Lock()
		p.artifacts[item.FileName] = []byte("tampered")
		p.mu.Unlock()
		engine := newRecordingEngine()
		a := newTestAgent(t, p, engine)

		a.tick(ctx)

		if _, ok := engine.registered[item.Domain]; ok {
			t.Error("tampered artifact must not be registered")
		}
		if got := p.result("task-1"); got != errHashMismatch.Error() {
			t.Errorf("reported result = %q, want %q", got, errHashMismatch.Error())
		}
	})

	t.Run("engine failure is reported as the task error", func(t *testing.T) {
		p := newFakePlane(t)
		p.addItem("hello-abc.runtime.test", "task-1", wasm)
		engine := newRecordingEngine()
		engine.registerErr = context.DeadlineExceeded
		a := newTestAgent(t, p, engine)

		a.tick(ctx)

		if got := p.result("task-1"); got != context.DeadlineExceeded.Error() {
			t.Errorf("reported result = %q, want the engine error", got)
		}
	})
}

func TestAgent_RunTask(t *testing.T) {
	ctx := context.Background()
	wasm := []byte("module")

	t.Run("pending task for a live function resolves immediately", func(t *testing.T) {
		p := newFakePlane(t)
		item := p.addItem("hello-abc.runtime.test", "task-1", wasm)
		engine := newRecordingEngine()
		a := newTestAgent(t, p, engine)
		a.tick(ctx)

		content, _ := json.Marshal(item)
		p.mu.Lock()
		p.pending = []*models.DeployTask{{TaskID: "task-2", TaskContent: string(content)}}
		p.mu.Unlock()

		a.tick(ctx)
		// Results queue at execution and flush on the next exchange.
		a.tick(ctx)
		if got := p.result("task-2"); got != "success" {
			t.Errorf("reported result = %q, want success", got)
		}
	})

	t.Run("malformed task content is reported", func(t *testing.T) {
		p := newFakePlane(t)
		engine := newRecordingEngine()
		a := newTestAgent(t, p, engine)

		p.mu.Lock()
		p.pending = []*models.DeployTask{{TaskID: "task-bad", TaskContent: "{not json"}}
		p.pending = append(p.pending, &models.DeployTask{TaskID: "task-empty", TaskContent: "{}"})
		p.mu.Unlock()

		a.tick(ctx)
		// Results are queued at execution and flushed on the next exchange.
		a.tick(ctx)
		if got := p.result("task-bad"); got != "malformed task content" {
			t.Errorf("task-bad result = %q", got)
		}
		if got := p.result("task-empty"); got != "malformed task content" {
			t.Errorf("task-empty result = %q", got)
		}
	})
}
