package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/runtime-land/land/internal/models"
)

// PlaygroundRepository defines the interface for playground data operations.
type PlaygroundRepository interface {
	GetActive(ctx context.Context, projectID int64) (*models.Playground, error)
	SaveSource(ctx context.Context, projectID int64, source string) (*models.Playground, error)
}

type playgroundRepo struct {
	pool *pgxpool.Pool
}

// NewPlaygroundRepository creates a new playground repository.
func NewPlaygroundRepository(pool *pgxpool.Pool) PlaygroundRepository {
	return &playgroundRepo{pool: pool}
}

const playgroundColumns = `id, owner_id, project_id, uuid, language, source, version, status, visibility, created_at, deleted_at`

func scanPlayground(row pgx.Row) (*models.Playground, error) {
	var p models.Playground
	err := row.Scan(
		&p.ID,
		&p.OwnerID,
		&p.ProjectID,
		&p.UUID,
		&p.Language,
		&p.Source,
		&p.Version,
		&p.Status,
		&p.Visibility,
		&p.CreatedAt,
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

// GetActive retrieves the project's current playground row.
func (r *playgroundRepo) GetActive(ctx context.Context, projectID int64) (*models.Playground, error) {
	query := `SELECT ` + playgroundColumns + ` FROM playground
		WHERE project_id = $1 AND status = $2
		ORDER BY version DESC LIMIT 1`
	return scanPlayground(r.pool.QueryRow(ctx, query, projectID, models.PlaygroundStatusActive))
}

// SaveSource writes a new playground row with the edited source and
// soft-deletes the prior one, preserving edit history.
func (r *playgroundRepo) SaveSource(ctx context.Context, projectID int64, source string) (*models.Playground, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	current, err := scanPlayground(tx.QueryRow(ctx,
		`SELECT `+playgroundColumns+` FROM playground
		 WHERE project_id = $1 AND status = $2
		 ORDER BY version DESC LIMIT 1`,
		projectID, models.PlaygroundStatusActive))
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, pgx.ErrNoRows
	}

	_, err = tx.Exec(ctx,
		`UPDATE playground SET status = $1, deleted_at = now() WHERE id = $2`,
		models.PlaygroundStatusDeleted, current.ID)
	if err != nil {
		return nil, err
	}

	next := &models.Playground{
		OwnerID:    current.OwnerID,
		ProjectID:  current.ProjectID,
		UUID:       current.UUID,
		Language:   current.Language,
		Source:     source,
		Version:    current.Version + 1,
		Status:     models.PlaygroundStatusActive,
		Visibility: current.Visibility,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO playground (owner_id, project_id, uuid, language, source, version, status, visibility)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at`,
		next.OwnerID, next.ProjectID, next.UUID, next.Language, next.Source, next.Version, next.Status, next.Visibility,
	).Scan(&next.ID, &next.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return next, nil
}
