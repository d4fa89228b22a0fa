package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/runtime-land/land/internal/models"
)

// DeploymentRepository defines the interface for deployment data operations.
//
// Status transitions go through TransitionDeployStatus, which encodes the
// prior-status predicate in the update so terminal states are never
// clobbered by a concurrent writer.
type DeploymentRepository interface {
	Create(ctx context.Context, d *models.Deployment) error
	GetByID(ctx context.Context, id int64) (*models.Deployment, error)
	GetByTaskID(ctx context.Context, taskID string) (*models.Deployment, error)
	ListByDeployStatus(ctx context.Context, status models.DeployStatus) ([]*models.Deployment, error)
	ListRoutable(ctx context.Context) ([]*models.Deployment, error)
	LatestUpdatedAt(ctx context.Context) (time.Time, error)
	GetLatestByProject(ctx context.Context, projectID int64) (*models.Deployment, error)
	GetLatestSuccessByProject(ctx context.Context, projectID int64) (*models.Deployment, error)
	TransitionDeployStatus(ctx context.Context, id int64, from []models.DeployStatus, to models.DeployStatus, message string) (bool, error)
	UpdateSpec(ctx context.Context, id int64, spec models.DeploySpec) error
	SetStatus(ctx context.Context, id, ownerID int64, status models.DeploymentStatus) error
	Publish(ctx context.Context, id, projectID int64, prodDomain string) error
	OutdateDevelopment(ctx context.Context, projectID, keepID int64) error
}

type deploymentRepo struct {
	pool *pgxpool.Pool
}

// NewDeploymentRepository creates a new deployment repository.
func NewDeploymentRepository(pool *pgxpool.Pool) DeploymentRepository {
	return &deploymentRepo{pool: pool}
}

const deploymentColumns = `id, owner_id, owner_uuid, project_id, project_uuid, task_id, domain, spec,
       deploy_type, deploy_status, deploy_message, status, created_at, updated_at, deleted_at`

func scanDeployment(row pgx.Row) (*models.Deployment, error) {
	var d models.Deployment
	var spec string
	err := row.Scan(
		&d.ID,
		&d.OwnerID,
		&d.OwnerUUID,
		&d.ProjectID,
		&d.ProjectUUID,
		&d.TaskID,
		&d.Domain,
		&spec,
		&d.DeployType,
		&d.DeployStatus,
		&d.DeployMessage,
		&d.Status,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if spec != "" {
		if err := json.Unmarshal([]byte(spec), &d.Spec); err != nil {
			return nil, err
		}
	}
	return &d, nil
}

// Create inserts a new deployment in the Waiting state. TaskID must already
// be set by the caller; it is immutable afterwards.
func (r *deploymentRepo) Create(ctx context.Context, d *models.Deployment) error {
	spec, err := d.SpecJSON()
	if err != nil {
		return err
	}

	query := `
		INSERT INTO deployment (owner_id, owner_uuid, project_id, project_uuid, task_id, domain, spec, deploy_type, deploy_status, deploy_message, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`

	return r.pool.QueryRow(ctx, query,
		d.OwnerID,
		d.OwnerUUID,
		d.ProjectID,
		d.ProjectUUID,
		d.TaskID,
		d.Domain,
		string(spec),
		d.DeployType,
		d.DeployStatus,
		d.DeployMessage,
		d.Status,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
}

// GetByID retrieves a deployment by id.
func (r *deploymentRepo) GetByID(ctx context.Context, id int64) (*models.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployment WHERE id = $1`
	return scanDeployment(r.pool.QueryRow(ctx, query, id))
}

// GetByTaskID retrieves a deployment by its correlation key.
func (r *deploymentRepo) GetByTaskID(ctx context.Context, taskID string) (*models.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployment WHERE task_id = $1`
	return scanDeployment(r.pool.QueryRow(ctx, query, taskID))
}

// ListByDeployStatus lists non-deleted deployments in one FSM state.
func (r *deploymentRepo) ListByDeployStatus(ctx context.Context, status models.DeployStatus) ([]*models.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployment
		WHERE deploy_status = $1 AND status != $2
		ORDER BY id`
	rows, err := r.pool.Query(ctx, query, status, models.DeploymentStatusDeleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDeployments(rows)
}

// ListRoutable lists the deployments that belong in the routing snapshot:
// successfully deployed and active.
func (r *deploymentRepo) ListRoutable(ctx context.Context) ([]*models.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployment
		WHERE deploy_status = $1 AND status = $2
		ORDER BY id`
	rows, err := r.pool.Query(ctx, query, models.DeployStatusSuccess, models.DeploymentStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDeployments(rows)
}

// LatestUpdatedAt returns the newest updated_at across all deployments.
// The snapshot loop uses it to skip rebuilds when nothing moved recently.
func (r *deploymentRepo) LatestUpdatedAt(ctx context.Context) (time.Time, error) {
	var t *time.Time
	err := r.pool.QueryRow(ctx, `SELECT MAX(updated_at) FROM deployment`).Scan(&t)
	if err != nil {
		return time.Time{}, err
	}
	if t == nil {
		return time.Time{}, nil
	}
	return *t, nil
}

// GetLatestByProject returns the project's newest non-deleted deployment.
func (r *deploymentRepo) GetLatestByProject(ctx context.Context, projectID int64) (*models.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployment
		WHERE project_id = $1 AND status != $2
		ORDER BY id DESC LIMIT 1`
	return scanDeployment(r.pool.QueryRow(ctx, query, projectID, models.DeploymentStatusDeleted))
}

// GetLatestSuccessByProject returns the project's newest successful,
// non-deleted deployment. Publish promotes this one.
func (r *deploymentRepo) GetLatestSuccessByProject(ctx context.Context, projectID int64) (*models.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployment
		WHERE project_id = $1 AND deploy_status = $2 AND status != $3
		ORDER BY id DESC LIMIT 1`
	return scanDeployment(r.pool.QueryRow(ctx, query, projectID, models.DeployStatusSuccess, models.DeploymentStatusDeleted))
}

// TransitionDeployStatus moves the FSM from one of the expected prior states
// to the target state. Returns false when the row was not in any expected
// state, which keeps terminal states absorbing under concurrency.
func (r *deploymentRepo) TransitionDeployStatus(ctx context.Context, id int64, from []models.DeployStatus, to models.DeployStatus, message string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE deployment SET deploy_status = $1, deploy_message = $2, updated_at = now()
		 WHERE id = $3 AND deploy_status = ANY($4)`,
		to, message, id, from)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateSpec rewrites the spec JSON column.
func (r *deploymentRepo) UpdateSpec(ctx context.Context, id int64, spec models.DeploySpec) error {
	raw, err := json.Marshal(spec)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`UPDATE deployment SET spec = $1, updated_at = now() WHERE id = $2`,
		string(raw), id)
	return err
}

// SetStatus flips the row-level status (enable/disable). Deleted rows are
// left alone.
func (r *deploymentRepo) SetStatus(ctx context.Context, id, ownerID int64, status models.DeploymentStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE deployment SET status = $1, updated_at = now()
		 WHERE id = $2 AND owner_id = $3 AND status != $4`,
		status, id, ownerID, models.DeploymentStatusDeleted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// Publish promotes a deployment to production in one transaction: the row
// becomes a Production deployment routed on the prod domain, and every other
// active Production deployment of the project becomes Outdated. This keeps
// the at-most-one-active-production invariant without a two-step update.
func (r *deploymentRepo) Publish(ctx context.Context, id, projectID int64, prodDomain string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`UPDATE deployment SET status = $1, updated_at = now()
		 WHERE project_id = $2 AND deploy_type = $3 AND status = $4 AND id != $5`,
		models.DeploymentStatusOutdated, projectID, models.DeployTypeProduction, models.DeploymentStatusActive, id)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE deployment SET deploy_type = $1, domain = $2, status = $3, updated_at = now()
		 WHERE id = $4 AND deploy_status = $5`,
		models.DeployTypeProduction, prodDomain, models.DeploymentStatusActive, id, models.DeployStatusSuccess)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}

	return tx.Commit(ctx)
}

// OutdateDevelopment retires older successful development deployments of
// the project so only keepID routes on the dev domain.
func (r *deploymentRepo) OutdateDevelopment(ctx context.Context, projectID, keepID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE deployment SET status = $1, updated_at = now()
		 WHERE project_id = $2 AND deploy_type = $3 AND status = $4
		   AND deploy_status = $5 AND id != $6`,
		models.DeploymentStatusOutdated,
		projectID,
		models.DeployTypeDevelopment,
		models.DeploymentStatusActive,
		models.DeployStatusSuccess,
		keepID)
	return err
}

func collectDeployments(rows pgx.Rows) ([]*models.Deployment, error) {
	var deployments []*models.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}
