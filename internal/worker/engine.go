package worker

import (
	"context"
	"log/slog"

	"github.com/runtime-land/land/internal/models"
)

// StubEngine is the Engine used until the external wasm runtime is wired
// in: it accepts every registration so the control-plane protocol can be
// exercised end to end, and logs what a real runtime would serve.
type StubEngine struct {
	logger *slog.Logger
}

// NewStubEngine creates a stub engine.
func NewStubEngine(logger *slog.Logger) *StubEngine {
	return &StubEngine{logger: logger}
}

// Register logs the route a real runtime would start serving.
func (e *StubEngine) Register(ctx context.Context, item *models.ConfItem, artifactPath string) error {
	e.logger.Info("registered function",
		slog.String("domain", item.Domain),
		slog.String("artifact", artifactPath))
	return nil
}

// Deregister logs the route a real runtime would stop serving.
func (e *StubEngine) Deregister(ctx context.Context, domain string) error {
	e.logger.Info("deregistered function", slog.String("domain", domain))
	return nil
}
