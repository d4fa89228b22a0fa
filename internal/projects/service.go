// Package projects implements the project lifecycle: named functions with
// an optional playground source, unique names, and derived domains.
package projects

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/runtime-land/land/internal/models"
	apierrors "github.com/runtime-land/land/internal/pkg/errors"
	"github.com/runtime-land/land/internal/pkg/namegen"
	"github.com/runtime-land/land/internal/repository"
)

// Service owns project operations.
type Service struct {
	projects    repository.ProjectRepository
	playgrounds repository.PlaygroundRepository
	logger      *slog.Logger
}

// NewService creates a project service.
func NewService(projects repository.ProjectRepository, playgrounds repository.PlaygroundRepository, logger *slog.Logger) *Service {
	return &Service{
		projects:    projects,
		playgrounds: playgrounds,
		logger:      logger,
	}
}

// CreateRequest describes a new project. An empty name gets a generated
// one; a non-empty source creates the project through the playground flow.
type CreateRequest struct {
	Name        string
	Language    models.ProjectLanguage
	Description string
	Source      string
}

// Create inserts a project, retrying generated names on collision. Explicit
// names collide loudly.
func (s *Service) Create(ctx context.Context, owner *models.User, req CreateRequest) (*models.Project, error) {
	generated := req.Name == ""
	name := req.Name
	if generated {
		name = namegen.Generate()
	}
	if !namegen.Valid(name) {
		return nil, apierrors.NewValidationError("name", "project name must start with a letter and contain only letters, digits, and dashes")
	}
	if req.Language == "" {
		req.Language = models.ProjectLanguageJavaScript
	}

	for attempt := 0; attempt < 3; attempt++ {
		project := &models.Project{
			UUID:        uuid.NewString(),
			OwnerID:     owner.ID,
			Name:        name,
			Language:    req.Language,
			ProdDomain:  name,
			DevDomain:   name + "-dev",
			Description: req.Description,
			Status:      models.ProjectStatusActive,
			CreatedBy:   models.ProjectCreatedByBlank,
		}
		var playground *models.Playground
		if req.Source != "" {
			project.CreatedBy = models.ProjectCreatedByPlayground
			playground = &models.Playground{
				OwnerID:    owner.ID,
				UUID:       uuid.NewString(),
				Language:   req.Language,
				Source:     req.Source,
				Version:    1,
				Status:     models.PlaygroundStatusActive,
				Visibility: models.PlaygroundVisibilityPrivate,
			}
		}

		err := s.projects.CreateWithPlayground(ctx, project, playground)
		if err == nil {
			s.logger.Info("project created",
				slog.Int64("project_id", project.ID),
				slog.String("name", project.Name))
			return project, nil
		}
		if !repository.IsUniqueViolation(err) {
			return nil, err
		}
		if !generated {
			return nil, apierrors.NewConflictError("project name already exists")
		}
		name = namegen.Generate()
	}
	return nil, apierrors.NewConflictError("could not find a free generated name")
}

// Get retrieves a project by name, scoped to the owner unless the caller is
// an admin.
func (s *Service) Get(ctx context.Context, caller *models.User, name string) (*models.Project, error) {
	ownerID := caller.ID
	if caller.IsAdmin() {
		ownerID = 0
	}
	project, err := s.projects.GetByName(ctx, name, ownerID)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, apierrors.NewNotFoundError("project")
	}
	return project, nil
}

// List lists the caller's projects.
func (s *Service) List(ctx context.Context, caller *models.User, limit int) ([]*models.Project, error) {
	return s.projects.ListByUser(ctx, caller.ID, "", limit)
}

// ListAll lists projects across all owners, paginated. Admin only; the
// handler enforces that.
func (s *Service) ListAll(ctx context.Context, filter repository.ProjectFilter, page, size int) ([]*models.Project, int64, error) {
	return s.projects.ListPaginated(ctx, filter, page, size)
}

// Rename changes a project's name and re-derives its domains. The routing
// snapshot follows on its next rebuild.
func (s *Service) Rename(ctx context.Context, caller *models.User, project *models.Project, newName string) (*models.Project, error) {
	if !namegen.Valid(newName) {
		return nil, apierrors.NewValidationError("name", "project name must start with a letter and contain only letters, digits, and dashes")
	}
	if newName == project.Name {
		return project, nil
	}
	err := s.projects.Rename(ctx, caller.ID, project.ID, newName, newName, newName+"-dev")
	if err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, apierrors.NewConflictError("project name already exists")
		}
		return nil, err
	}
	return s.projects.GetByID(ctx, project.ID)
}

// Delete soft-deletes a project and everything hanging off it.
func (s *Service) Delete(ctx context.Context, caller *models.User, project *models.Project) error {
	return s.projects.Delete(ctx, caller.ID, project.ID)
}

// Playground returns the project's active playground source.
func (s *Service) Playground(ctx context.Context, project *models.Project) (*models.Playground, error) {
	pg, err := s.playgrounds.GetActive(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	if pg == nil {
		return nil, apierrors.NewNotFoundError("playground")
	}
	return pg, nil
}

// SavePlayground writes a new playground version.
func (s *Service) SavePlayground(ctx context.Context, project *models.Project, source string) (*models.Playground, error) {
	if source == "" {
		return nil, apierrors.NewValidationError("source", "source must not be empty")
	}
	return s.playgrounds.SaveSource(ctx, project.ID, source)
}
