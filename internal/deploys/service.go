// Package deploys drives the deployment state machine: a deployment is
// created Waiting, its artifact is written to the object store during
// Uploading, one task per online worker is fanned out during Deploying, and
// the review loop folds task outcomes into the terminal state.
package deploys

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/runtime-land/land/internal/models"
	apierrors "github.com/runtime-land/land/internal/pkg/errors"
	"github.com/runtime-land/land/internal/repository"
	"github.com/runtime-land/land/internal/settings"
	"github.com/runtime-land/land/internal/storage"
	"github.com/runtime-land/land/internal/workers"
)

// Service owns deployment lifecycle operations.
type Service struct {
	deployments repository.DeploymentRepository
	tasks       repository.TaskRepository
	artifacts   repository.StorageRepository
	projects    repository.ProjectRepository
	fleet       *workers.Registry
	settings    *settings.Store
	logger      *slog.Logger
}

// NewService creates a deploy service.
func NewService(
	deployments repository.DeploymentRepository,
	tasks repository.TaskRepository,
	artifacts repository.StorageRepository,
	projects repository.ProjectRepository,
	fleet *workers.Registry,
	store *settings.Store,
	logger *slog.Logger,
) *Service {
	return &Service{
		deployments: deployments,
		tasks:       tasks,
		artifacts:   artifacts,
		projects:    projects,
		fleet:       fleet,
		settings:    store,
		logger:      logger,
	}
}

// Create inserts a Waiting deployment for the project. The task id is
// minted here and never changes. The deployment routes on the project's
// dev domain; publishing later reassigns it to the prod domain.
func (s *Service) Create(ctx context.Context, owner *models.User, project *models.Project) (*models.Deployment, error) {
	d := &models.Deployment{
		OwnerID:      owner.ID,
		OwnerUUID:    owner.UUID,
		ProjectID:    project.ID,
		ProjectUUID:  project.UUID,
		TaskID:       uuid.NewString(),
		Domain:       project.DevDomain,
		Spec:         models.DefaultDeploySpec(),
		DeployType:   models.DeployTypeDevelopment,
		DeployStatus: models.DeployStatusWaiting,
		Status:       models.DeploymentStatusActive,
	}
	if err := s.deployments.Create(ctx, d); err != nil {
		return nil, err
	}
	if err := s.projects.SetDeployStatus(ctx, project.ID, models.DeployStatusWaiting); err != nil {
		s.logger.Warn("failed to mirror project deploy status",
			slog.Int64("project_id", project.ID), slog.String("error", err.Error()))
	}
	s.logger.Info("deployment created",
		slog.Int64("deploy_id", d.ID),
		slog.String("task_id", d.TaskID),
		slog.String("domain", d.Domain))
	return d, nil
}

// Launch runs the request-time half of the pipeline: upload the artifact,
// then fan tasks out to the fleet. The review loop finalizes the state once
// workers report back. Launch leaves the deployment Failed on any error.
func (s *Service) Launch(ctx context.Context, d *models.Deployment, wasm []byte) error {
	if err := s.upload(ctx, d, wasm); err != nil {
		return err
	}
	return s.fanout(ctx, d)
}

// upload moves Waiting -> Uploading, writes the artifact to the object
// store, and records the storage row. Object store failures are upstream
// errors and fail the deployment.
func (s *Service) upload(ctx context.Context, d *models.Deployment, wasm []byte) error {
	ok, err := s.deployments.TransitionDeployStatus(ctx, d.ID,
		[]models.DeployStatus{models.DeployStatusWaiting, models.DeployStatusCompiling},
		models.DeployStatusUploading, "")
	if err != nil {
		return err
	}
	if !ok {
		return apierrors.NewConflictError("deployment is not waiting for upload")
	}
	d.DeployStatus = models.DeployStatusUploading
	s.mirrorProject(ctx, d.ProjectID, models.DeployStatusUploading)

	path := d.StoragePath()
	if err := storage.Global().Write(ctx, path, wasm); err != nil {
		s.fail(ctx, d, "artifact upload failed: "+err.Error())
		return apierrors.ErrUpstream.WithMessage("artifact upload failed")
	}

	sum := md5.Sum(wasm)
	record := &models.Storage{
		OwnerID:    d.OwnerID,
		ProjectID:  d.ProjectID,
		DeployID:   d.ID,
		TaskID:     d.TaskID,
		Path:       path,
		FileHash:   hex.EncodeToString(sum[:]),
		FileSize:   int64(len(wasm)),
		FileTarget: "wasm",
		Status:     models.StorageStatusSuccess,
	}
	if err := s.artifacts.Create(ctx, record); err != nil {
		s.fail(ctx, d, "artifact record failed: "+err.Error())
		return err
	}
	return nil
}

// fanout moves Uploading -> Deploying and creates one Doing task per online
// worker. No online workers fails the deployment immediately; nothing could
// ever report back.
func (s *Service) fanout(ctx context.Context, d *models.Deployment) error {
	ok, err := s.deployments.TransitionDeployStatus(ctx, d.ID,
		[]models.DeployStatus{models.DeployStatusUploading},
		models.DeployStatusDeploying, "")
	if err != nil {
		return err
	}
	if !ok {
		return apierrors.NewConflictError("deployment is not ready for fan-out")
	}
	d.DeployStatus = models.DeployStatusDeploying
	s.mirrorProject(ctx, d.ProjectID, models.DeployStatusDeploying)

	fleet, err := s.fleet.Online(ctx)
	if err != nil {
		return err
	}
	if len(fleet) == 0 {
		s.fail(ctx, d, "No online workers")
		return apierrors.ErrUpstream.WithMessage("No online workers")
	}

	item, err := s.confItem(ctx, d)
	if err != nil {
		s.fail(ctx, d, "building task content failed: "+err.Error())
		return err
	}
	content, err := json.Marshal(item)
	if err != nil {
		return err
	}

	for _, w := range fleet {
		task := &models.DeployTask{
			OwnerID:     d.OwnerID,
			ProjectID:   d.ProjectID,
			DeployID:    d.ID,
			TaskID:      d.TaskID,
			TaskType:    models.TaskTypeDeployWasmToWorker,
			TaskContent: string(content),
			WorkerID:    w.ID,
			WorkerIP:    w.IP,
			Status:      models.TaskStatusDoing,
		}
		if err := s.tasks.Create(ctx, task); err != nil {
			return err
		}
	}

	// The review loop compares observed tasks against this count.
	d.Spec.FanoutTotal = len(fleet)
	if err := s.deployments.UpdateSpec(ctx, d.ID, d.Spec); err != nil {
		return err
	}
	s.logger.Info("deployment fanned out",
		slog.Int64("deploy_id", d.ID),
		slog.Int("workers", len(fleet)))
	return nil
}

// confItem derives the routing record workers act on.
func (s *Service) confItem(ctx context.Context, d *models.Deployment) (*models.ConfItem, error) {
	record, err := s.artifacts.GetSuccessByDeployID(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("deployment %d has no uploaded artifact", d.ID)
	}
	ds, err := s.settings.DomainSettings(ctx)
	if err != nil {
		return nil, err
	}
	return &models.ConfItem{
		UserID:      d.OwnerID,
		ProjectID:   d.ProjectID,
		DeployID:    d.ID,
		TaskID:      d.TaskID,
		FileName:    record.Path,
		FileHash:    record.FileHash,
		DownloadURL: storage.Global().BuildURL(record.Path),
		Domain:      d.Domain + "." + ds.DomainSuffix,
	}, nil
}

// stallTimeout bounds how long a deployment may sit in a non-terminal state
// with nothing driving it. The upload normally follows the create within
// the same request, so a Waiting row older than this lost its artifact
// (client crash, dropped connection) and will never progress. A Deploying
// row with no recorded fan-out count never got its task rows written, so
// the review loop can never judge it.
const stallTimeout = 5 * time.Minute

// SweepStalled fails deployments stuck past the timeout: Waiting rows whose
// artifact never arrived, and Deploying rows whose fan-out never completed.
func (s *Service) SweepStalled(ctx context.Context) error {
	cutoff := time.Now().Add(-stallTimeout)

	waiting, err := s.deployments.ListByDeployStatus(ctx, models.DeployStatusWaiting)
	if err != nil {
		return err
	}
	for _, d := range waiting {
		if d.UpdatedAt.After(cutoff) {
			continue
		}
		s.fail(ctx, d, "timed out waiting for artifact upload")
		s.logger.Info("waiting deployment timed out", slog.Int64("deploy_id", d.ID))
	}

	deploying, err := s.deployments.ListByDeployStatus(ctx, models.DeployStatusDeploying)
	if err != nil {
		return err
	}
	for _, d := range deploying {
		if d.Spec.FanoutTotal > 0 || d.UpdatedAt.After(cutoff) {
			continue
		}
		s.fail(ctx, d, "fan-out did not complete")
		s.logger.Info("deployment with incomplete fan-out timed out",
			slog.Int64("deploy_id", d.ID))
	}
	return nil
}

// Review finalizes Deploying deployments whose fan-out generation has fully
// reported. Runs on a short period; each pass is independent.
func (s *Service) Review(ctx context.Context) error {
	deploying, err := s.deployments.ListByDeployStatus(ctx, models.DeployStatusDeploying)
	if err != nil {
		return err
	}
	for _, d := range deploying {
		s.reviewOne(ctx, d)
	}
	return nil
}

func (s *Service) reviewOne(ctx context.Context, d *models.Deployment) {
	tasks, err := s.tasks.ListByTaskID(ctx, d.ID, d.TaskID)
	if err != nil {
		s.logger.Error("review: listing tasks failed",
			slog.Int64("deploy_id", d.ID), slog.String("error", err.Error()))
		return
	}
	if d.Spec.FanoutTotal == 0 || len(tasks) != d.Spec.FanoutTotal {
		// Fan-out is still writing rows, or the count was lost; wait for a
		// later pass rather than judging a partial generation.
		s.logger.Warn("review: task count mismatch, skipping",
			slog.Int64("deploy_id", d.ID),
			slog.Int("have", len(tasks)),
			slog.Int("want", d.Spec.FanoutTotal))
		return
	}

	var doing, success int
	var failMessage string
	for _, t := range tasks {
		switch t.Status {
		case models.TaskStatusDoing:
			doing++
		case models.TaskStatusSuccess:
			success++
		case models.TaskStatusFailed:
			if failMessage == "" {
				failMessage = t.Message
			}
		}
	}
	if doing > 0 {
		return
	}

	if success == len(tasks) {
		ok, err := s.deployments.TransitionDeployStatus(ctx, d.ID,
			[]models.DeployStatus{models.DeployStatusDeploying},
			models.DeployStatusSuccess, "ok")
		if err != nil {
			s.logger.Error("review: finalize failed",
				slog.Int64("deploy_id", d.ID), slog.String("error", err.Error()))
			return
		}
		if ok {
			// Development deployments share the dev domain; retire the one
			// this rollout replaces.
			if d.DeployType == models.DeployTypeDevelopment {
				if err := s.deployments.OutdateDevelopment(ctx, d.ProjectID, d.ID); err != nil {
					s.logger.Error("review: retiring prior dev deployment failed",
						slog.Int64("deploy_id", d.ID), slog.String("error", err.Error()))
				}
			}
			s.mirrorProject(ctx, d.ProjectID, models.DeployStatusSuccess)
			s.logger.Info("deployment succeeded", slog.Int64("deploy_id", d.ID))
		}
		return
	}

	if failMessage == "" {
		failMessage = "deploy failed on one or more workers"
	}
	s.fail(ctx, d, failMessage)
	s.logger.Info("deployment failed",
		slog.Int64("deploy_id", d.ID), slog.String("message", failMessage))
}

// Publish promotes a project's newest successful deployment to production.
func (s *Service) Publish(ctx context.Context, project *models.Project) (*models.Deployment, error) {
	d, err := s.deployments.GetLatestSuccessByProject(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, apierrors.NewNotFoundError("successful deployment")
	}
	if err := s.deployments.Publish(ctx, d.ID, project.ID, project.ProdDomain); err != nil {
		return nil, err
	}
	return s.deployments.GetByID(ctx, d.ID)
}

// SetEnabled flips a deployment between active and disabled, controlling
// whether the routing snapshot carries it.
func (s *Service) SetEnabled(ctx context.Context, owner *models.User, deployID int64, enabled bool) error {
	status := models.DeploymentStatusDisabled
	if enabled {
		status = models.DeploymentStatusActive
	}
	return s.deployments.SetStatus(ctx, deployID, owner.ID, status)
}

// GetLatestByProject returns the project's newest deployment, if any.
func (s *Service) GetLatestByProject(ctx context.Context, projectID int64) (*models.Deployment, error) {
	return s.deployments.GetLatestByProject(ctx, projectID)
}

// fail moves the deployment to Failed from any live state and mirrors the
// project. Terminal states win races by construction.
func (s *Service) fail(ctx context.Context, d *models.Deployment, message string) {
	ok, err := s.deployments.TransitionDeployStatus(ctx, d.ID,
		[]models.DeployStatus{
			models.DeployStatusWaiting,
			models.DeployStatusCompiling,
			models.DeployStatusUploading,
			models.DeployStatusDeploying,
		},
		models.DeployStatusFailed, message)
	if err != nil {
		s.logger.Error("failed to mark deployment failed",
			slog.Int64("deploy_id", d.ID), slog.String("error", err.Error()))
		return
	}
	if ok {
		d.DeployStatus = models.DeployStatusFailed
		d.DeployMessage = message
		s.mirrorProject(ctx, d.ProjectID, models.DeployStatusFailed)
	}
}

func (s *Service) mirrorProject(ctx context.Context, projectID int64, status models.DeployStatus) {
	if err := s.projects.SetDeployStatus(ctx, projectID, status); err != nil {
		s.logger.Warn("failed to mirror project deploy status",
			slog.Int64("project_id", projectID), slog.String("error", err.Error()))
	}
}
