package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/runtime-land/land/internal/models"
)

// ProjectFilter narrows paginated project listings.
type ProjectFilter struct {
	OwnerID int64 // 0 means all owners
	Search  string
	Status  models.ProjectStatus // empty means any non-deleted
}

// ProjectRepository defines the interface for project data operations.
type ProjectRepository interface {
	CreateWithPlayground(ctx context.Context, project *models.Project, playground *models.Playground) error
	GetByName(ctx context.Context, name string, ownerID int64) (*models.Project, error)
	GetByID(ctx context.Context, id int64) (*models.Project, error)
	ListByUser(ctx context.Context, ownerID int64, status models.ProjectStatus, limit int) ([]*models.Project, error)
	ListPaginated(ctx context.Context, filter ProjectFilter, page, size int) ([]*models.Project, int64, error)
	Delete(ctx context.Context, ownerID, projectID int64) error
	Rename(ctx context.Context, ownerID, projectID int64, newName, prodDomain, devDomain string) error
	SetDeployStatus(ctx context.Context, projectID int64, status models.DeployStatus) error
}

type projectRepo struct {
	pool *pgxpool.Pool
}

// NewProjectRepository creates a new project repository.
func NewProjectRepository(pool *pgxpool.Pool) ProjectRepository {
	return &projectRepo{pool: pool}
}

const projectColumns = `id, uuid, owner_id, name, language, prod_domain, dev_domain, description,
       status, deploy_status, created_by, metadata, created_at, updated_at, deleted_at`

func scanProject(row pgx.Row) (*models.Project, error) {
	var p models.Project
	err := row.Scan(
		&p.ID,
		&p.UUID,
		&p.OwnerID,
		&p.Name,
		&p.Language,
		&p.ProdDomain,
		&p.DevDomain,
		&p.Description,
		&p.Status,
		&p.DeployStatus,
		&p.CreatedBy,
		&p.Metadata,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateWithPlayground inserts a project and, when playground is non-nil,
// its initial playground row in one transaction.
func (r *projectRepo) CreateWithPlayground(ctx context.Context, project *models.Project, playground *models.Playground) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO project (uuid, owner_id, name, language, prod_domain, dev_domain, description, status, deploy_status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`

	err = tx.QueryRow(ctx, query,
		project.UUID,
		project.OwnerID,
		project.Name,
		project.Language,
		project.ProdDomain,
		project.DevDomain,
		project.Description,
		project.Status,
		project.DeployStatus,
		project.CreatedBy,
	).Scan(&project.ID, &project.CreatedAt, &project.UpdatedAt)
	if err != nil {
		return err
	}

	if playground != nil {
		playground.ProjectID = project.ID
		playground.OwnerID = project.OwnerID
		pq := `
			INSERT INTO playground (owner_id, project_id, uuid, language, source, version, status, visibility)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id, created_at`
		err = tx.QueryRow(ctx, pq,
			playground.OwnerID,
			playground.ProjectID,
			playground.UUID,
			playground.Language,
			playground.Source,
			playground.Version,
			playground.Status,
			playground.Visibility,
		).Scan(&playground.ID, &playground.CreatedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// GetByName retrieves a non-deleted project by name. When ownerID is
// non-zero the lookup is scoped to that owner.
func (r *projectRepo) GetByName(ctx context.Context, name string, ownerID int64) (*models.Project, error) {
	if ownerID > 0 {
		query := `SELECT ` + projectColumns + ` FROM project
			WHERE name = $1 AND owner_id = $2 AND status != $3`
		return scanProject(r.pool.QueryRow(ctx, query, name, ownerID, models.ProjectStatusDeleted))
	}
	query := `SELECT ` + projectColumns + ` FROM project WHERE name = $1 AND status != $2`
	return scanProject(r.pool.QueryRow(ctx, query, name, models.ProjectStatusDeleted))
}

// GetByID retrieves a project by id.
func (r *projectRepo) GetByID(ctx context.Context, id int64) (*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM project WHERE id = $1`
	return scanProject(r.pool.QueryRow(ctx, query, id))
}

// ListByUser lists a user's projects, newest first.
func (r *projectRepo) ListByUser(ctx context.Context, ownerID int64, status models.ProjectStatus, limit int) ([]*models.Project, error) {
	args := []any{ownerID}
	query := `SELECT ` + projectColumns + ` FROM project WHERE owner_id = $1`
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	} else {
		args = append(args, models.ProjectStatusDeleted)
		query += fmt.Sprintf(" AND status != $%d", len(args))
	}
	query += " ORDER BY updated_at DESC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProjects(rows)
}

// ListPaginated lists projects matching the filter with page/size paging,
// returning the total match count.
func (r *projectRepo) ListPaginated(ctx context.Context, filter ProjectFilter, page, size int) ([]*models.Project, int64, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}

	where := ` WHERE status != $1`
	args := []any{models.ProjectStatusDeleted}
	if filter.Status != "" {
		where = ` WHERE status = $1`
		args = []any{filter.Status}
	}
	if filter.OwnerID > 0 {
		args = append(args, filter.OwnerID)
		where += fmt.Sprintf(" AND owner_id = $%d", len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		where += fmt.Sprintf(" AND name ILIKE $%d", len(args))
	}

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM project`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, size, (page-1)*size)
	query := `SELECT ` + projectColumns + ` FROM project` + where +
		fmt.Sprintf(" ORDER BY updated_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	projects, err := collectProjects(rows)
	return projects, total, err
}

// Delete soft-deletes a project and cascades the mark to its playgrounds
// and deployments.
func (r *projectRepo) Delete(ctx context.Context, ownerID, projectID int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE project SET status = $1, deleted_at = now(), updated_at = now()
		 WHERE id = $2 AND owner_id = $3 AND status != $1`,
		models.ProjectStatusDeleted, projectID, ownerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}

	_, err = tx.Exec(ctx,
		`UPDATE playground SET status = $1, deleted_at = now() WHERE project_id = $2 AND status != $1`,
		models.PlaygroundStatusDeleted, projectID)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`UPDATE deployment SET status = $1, deleted_at = now(), updated_at = now()
		 WHERE project_id = $2 AND status != $1`,
		models.DeploymentStatusDeleted, projectID)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Rename changes a project's name and derived domains.
func (r *projectRepo) Rename(ctx context.Context, ownerID, projectID int64, newName, prodDomain, devDomain string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE project SET name = $1, prod_domain = $2, dev_domain = $3, updated_at = now()
		 WHERE id = $4 AND owner_id = $5 AND status != $6`,
		newName, prodDomain, devDomain, projectID, ownerID, models.ProjectStatusDeleted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// SetDeployStatus mirrors the latest deployment's terminal status onto the
// project row.
func (r *projectRepo) SetDeployStatus(ctx context.Context, projectID int64, status models.DeployStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE project SET deploy_status = $1, updated_at = now() WHERE id = $2`,
		status, projectID)
	return err
}

func collectProjects(rows pgx.Rows) ([]*models.Project, error) {
	var projects []*models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}
