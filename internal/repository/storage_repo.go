package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/runtime-land/land/internal/models"
)

// StorageRepository defines the interface for artifact record operations.
type StorageRepository interface {
	Create(ctx context.Context, s *models.Storage) error
	GetSuccessByDeployID(ctx context.Context, deployID int64) (*models.Storage, error)
	FindSuccessByDeployIDs(ctx context.Context, deployIDs []int64) (map[int64]*models.Storage, error)
}

type storageRepo struct {
	pool *pgxpool.Pool
}

// NewStorageRepository creates a new storage repository.
func NewStorageRepository(pool *pgxpool.Pool) StorageRepository {
	return &storageRepo{pool: pool}
}

const storageColumns = `id, owner_id, project_id, deploy_id, task_id, path, file_hash, file_size,
       file_target, status, created_at, updated_at, deleted_at`

func scanStorage(row pgx.Row) (*models.Storage, error) {
	var s models.Storage
	err := row.Scan(
		&s.ID,
		&s.OwnerID,
		&s.ProjectID,
		&s.DeployID,
		&s.TaskID,
		&s.Path,
		&s.FileHash,
		&s.FileSize,
		&s.FileTarget,
		&s.Status,
		&s.CreatedAt,
		&s.UpdatedAt,
		&s.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create records one uploaded artifact.
func (r *storageRepo) Create(ctx context.Context, s *models.Storage) error {
	query := `
		INSERT INTO storage (owner_id, project_id, deploy_id, task_id, path, file_hash, file_size, file_target, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	return r.pool.QueryRow(ctx, query,
		s.OwnerID,
		s.ProjectID,
		s.DeployID,
		s.TaskID,
		s.Path,
		s.FileHash,
		s.FileSize,
		s.FileTarget,
		s.Status,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
}

// GetSuccessByDeployID retrieves a deployment's usable artifact record.
func (r *storageRepo) GetSuccessByDeployID(ctx context.Context, deployID int64) (*models.Storage, error) {
	query := `SELECT ` + storageColumns + ` FROM storage
		WHERE deploy_id = $1 AND status = $2 ORDER BY id DESC LIMIT 1`
	return scanStorage(r.pool.QueryRow(ctx, query, deployID, models.StorageStatusSuccess))
}

// FindSuccessByDeployIDs retrieves artifact records for many deployments in
// one query, keyed by deploy id. The snapshot loop uses this.
func (r *storageRepo) FindSuccessByDeployIDs(ctx context.Context, deployIDs []int64) (map[int64]*models.Storage, error) {
	if len(deployIDs) == 0 {
		return map[int64]*models.Storage{}, nil
	}

	query := `SELECT ` + storageColumns + ` FROM storage
		WHERE deploy_id = ANY($1) AND status = $2 ORDER BY id`
	rows, err := r.pool.Query(ctx, query, deployIDs, models.StorageStatusSuccess)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[int64]*models.Storage, len(deployIDs))
	for rows.Next() {
		s, err := scanStorage(rows)
		if err != nil {
			return nil, err
		}
		result[s.DeployID] = s
	}
	return result, rows.Err()
}
