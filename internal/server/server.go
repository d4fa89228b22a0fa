// Package server wires the control plane together: repositories, services,
// background loops, and the HTTP surface.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/runtime-land/land/internal/authprovider"
	"github.com/runtime-land/land/internal/confdata"
	"github.com/runtime-land/land/internal/config"
	"github.com/runtime-land/land/internal/database"
	"github.com/runtime-land/land/internal/deploys"
	"github.com/runtime-land/land/internal/handler"
	"github.com/runtime-land/land/internal/middleware"
	"github.com/runtime-land/land/internal/models"
	"github.com/runtime-land/land/internal/projects"
	"github.com/runtime-land/land/internal/repository"
	"github.com/runtime-land/land/internal/settings"
	"github.com/runtime-land/land/internal/storage"
	"github.com/runtime-land/land/internal/tokens"
	"github.com/runtime-land/land/internal/users"
	"github.com/runtime-land/land/internal/workers"
)

// Server is the assembled control plane.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	db    *database.Postgres
	redis *database.Redis

	registry *tokens.Registry
	fleet    *workers.Registry
	deploys  *deploys.Service
	snapshot *confdata.Builder
	settings *settings.Store

	httpServer *http.Server
}

// New connects to the backing stores and wires every component. It runs
// migrations, seeds default settings, builds the object store, and ensures
// the pre-shared fleet token when one is configured.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := db.RunMigrations(cfg.Database); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	var redis *database.Redis
	if cfg.Redis.Enabled() {
		redis, err = database.NewRedis(cfg.Redis)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
	}

	pool := db.Pool()
	userRepo := repository.NewUserRepository(pool)
	tokenRepo := repository.NewTokenRepository(pool)
	projectRepo := repository.NewProjectRepository(pool)
	playgroundRepo := repository.NewPlaygroundRepository(pool)
	deploymentRepo := repository.NewDeploymentRepository(pool)
	taskRepo := repository.NewTaskRepository(pool)
	storageRepo := repository.NewStorageRepository(pool)
	workerRepo := repository.NewWorkerRepository(pool)
	settingsRepo := repository.NewSettingsRepository(pool)

	settingsStore := settings.NewStore(settingsRepo)
	if err := settingsStore.InstallDefaults(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("install default settings: %w", err)
	}
	if err := storage.Reload(ctx, settingsStore); err != nil {
		db.Close()
		return nil, fmt.Errorf("build object store: %w", err)
	}

	registry := tokens.NewRegistry(tokenRepo, userRepo, logger)
	fleet := workers.NewRegistry(workerRepo, logger)
	projectService := projects.NewService(projectRepo, playgroundRepo, logger)
	deployService := deploys.NewService(deploymentRepo, taskRepo, storageRepo, projectRepo, fleet, settingsStore, logger)
	snapshot := confdata.NewBuilder(deploymentRepo, storageRepo, settingsStore, logger)

	provider := authprovider.NewClerkProvider(cfg.Auth.ClerkSecretKey)
	userService := users.NewService(provider, userRepo, registry, logger)

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		redis:    redis,
		registry: registry,
		fleet:    fleet,
		deploys:  deployService,
		snapshot: snapshot,
		settings: settingsStore,
	}

	if cfg.Auth.WorkerToken != "" {
		if err := s.ensureFleetToken(ctx, userRepo, tokenRepo, cfg.Auth.WorkerToken); err != nil {
			db.Close()
			return nil, fmt.Errorf("ensure fleet token: %w", err)
		}
	}

	router := s.buildRouter(userService, projectService, userRepo, taskRepo)
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  time.Minute,
	}
	return s, nil
}

func (s *Server) buildRouter(userService *users.Service, projectService *projects.Service, userRepo repository.UserRepository, taskRepo repository.TaskRepository) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(s.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())
	r.Use(middleware.Metrics())
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	tokenHandler := handler.NewTokenHandler(userService, s.registry)
	projectHandler := handler.NewProjectHandler(projectService, s.deploys)
	adminHandler := handler.NewAdminHandler(s.fleet, s.settings, projectService, userRepo)
	workerHandler := handler.NewWorkerAPIHandler(s.snapshot, s.fleet, taskRepo, s.registry)

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(s.redis, middleware.DefaultRateLimitConfig()))

		r.Post("/login", tokenHandler.Login)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(s.registry))
			r.Mount("/projects", projectHandler.Routes())
			r.Mount("/settings/tokens", tokenHandler.TokenRoutes())
			r.With(middleware.RequireAdmin).Mount("/admin", adminHandler.Routes())
		})
	})

	r.Mount("/worker-api", workerHandler.Routes())

	return r
}

// Run starts the HTTP server and the background loops, blocking until the
// context is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	loops := []loop{
		{"snapshot-refresh", confdata.RefreshPeriod, func(ctx context.Context) error {
			err := s.snapshot.Refresh(ctx)
			middleware.SnapshotItems.Set(float64(len(s.snapshot.Current().Items)))
			return err
		}},
		{"deploy-review", time.Second, s.deploys.Review},
		{"stalled-sweep", time.Second, s.deploys.SweepStalled},
		{"worker-reconcile", workers.ReconcilePeriod, func(ctx context.Context) error {
			err := s.fleet.Reconcile(ctx)
			middleware.WorkersOnline.Set(float64(len(s.fleet.LivingIPs())))
			return err
		}},
	}
	for _, l := range loops {
		go s.runLoop(ctx, l)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.Close()
	return nil
}

// Close releases backing-store connections.
func (s *Server) Close() {
	if s.redis != nil {
		s.redis.Close()
	}
	s.db.Close()
}

type loop struct {
	name   string
	period time.Duration
	tick   func(context.Context) error
}

// runLoop ticks a background loop until the context ends. A slow tick skips
// the beats it missed instead of queueing them.
func (s *Server) runLoop(ctx context.Context, l loop) {
	ticker := time.NewTicker(l.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.tick(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("background loop tick failed",
					slog.String("loop", l.name), slog.String("error", err.Error()))
			}
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := s.db.Ping(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"error","component":"database"}`))
		return
	}
	if s.redis != nil {
		if err := s.redis.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"error","component":"redis"}`))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// ensureFleetToken installs the pre-shared worker token from the
// environment, owned by a system account. Workers ship with the same value,
// so a fresh database immediately accepts the fleet.
func (s *Server) ensureFleetToken(ctx context.Context, userRepo repository.UserRepository, tokenRepo repository.TokenRepository, value string) error {
	existing, err := tokenRepo.GetByValue(ctx, value, models.TokenUsageWorker)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	const systemOauthID = "system:fleet"
	owner, err := userRepo.GetByOauthID(ctx, systemOauthID)
	if err != nil {
		return err
	}
	if owner == nil {
		oauthID := systemOauthID
		owner = &models.User{
			UUID:          uuid.NewString(),
			Email:         "fleet@system.local",
			Name:          "fleet",
			NickName:      "fleet",
			Status:        models.UserStatusActive,
			Role:          models.UserRoleNormal,
			OauthUserID:   &oauthID,
			OauthProvider: "system",
		}
		if err := userRepo.Create(ctx, owner); err != nil {
			return err
		}
	}

	token := &models.Token{
		UserID:    owner.ID,
		Name:      "fleet-bootstrap",
		Value:     value,
		Usage:     models.TokenUsageWorker,
		Status:    models.TokenStatusActive,
		ExpiredAt: time.Now().Add(10 * 365 * 24 * time.Hour),
	}
	if err := tokenRepo.Create(ctx, token); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil
		}
		return err
	}
	s.logger.Info("installed pre-shared fleet token")
	return nil
}
