package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/runtime-land/land/internal/models"
)

// TokenRepository defines the interface for bearer token data operations.
type TokenRepository interface {
	Create(ctx context.Context, token *models.Token) error
	GetByValue(ctx context.Context, value string, usage models.TokenUsage) (*models.Token, error)
	GetActiveByName(ctx context.Context, userID int64, name string, usage models.TokenUsage) (*models.Token, error)
	GetByID(ctx context.Context, id int64) (*models.Token, error)
	ListByUser(ctx context.Context, userID int64, usage models.TokenUsage) ([]*models.Token, error)
	SetExpired(ctx context.Context, id int64, name string) error
	TouchLatestUsed(ctx context.Context, id int64) error
}

type tokenRepo struct {
	pool *pgxpool.Pool
}

// NewTokenRepository creates a new token repository.
func NewTokenRepository(pool *pgxpool.Pool) TokenRepository {
	return &tokenRepo{pool: pool}
}

const tokenColumns = `id, user_id, name, value, usage, status, created_at, updated_at, expired_at, latest_used_at`

func scanToken(row pgx.Row) (*models.Token, error) {
	var t models.Token
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.Name,
		&t.Value,
		&t.Usage,
		&t.Status,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.ExpiredAt,
		&t.LatestUsedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Create inserts a new token. A unique violation on value means the random
// value collided; callers regenerate and retry. A violation on
// (user_id, name, usage) means the caller already owns a token by that name.
func (r *tokenRepo) Create(ctx context.Context, token *models.Token) error {
	query := `
		INSERT INTO user_token (user_id, name, value, usage, status, expired_at, latest_used_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING id, created_at, updated_at, latest_used_at`

	return r.pool.QueryRow(ctx, query,
		token.UserID,
		token.Name,
		token.Value,
		token.Usage,
		token.Status,
		token.ExpiredAt,
	).Scan(&token.ID, &token.CreatedAt, &token.UpdatedAt, &token.LatestUsedAt)
}

// GetByValue retrieves an active token by its opaque value and usage scope.
func (r *tokenRepo) GetByValue(ctx context.Context, value string, usage models.TokenUsage) (*models.Token, error) {
	query := `SELECT ` + tokenColumns + ` FROM user_token
		WHERE value = $1 AND usage = $2 AND status = $3`
	return scanToken(r.pool.QueryRow(ctx, query, value, usage, models.TokenStatusActive))
}

// GetActiveByName retrieves the caller's active token with the given name
// and usage, if any.
func (r *tokenRepo) GetActiveByName(ctx context.Context, userID int64, name string, usage models.TokenUsage) (*models.Token, error) {
	query := `SELECT ` + tokenColumns + ` FROM user_token
		WHERE user_id = $1 AND name = $2 AND usage = $3 AND status = $4`
	return scanToken(r.pool.QueryRow(ctx, query, userID, name, usage, models.TokenStatusActive))
}

// GetByID retrieves a token by id.
func (r *tokenRepo) GetByID(ctx context.Context, id int64) (*models.Token, error) {
	query := `SELECT ` + tokenColumns + ` FROM user_token WHERE id = $1`
	return scanToken(r.pool.QueryRow(ctx, query, id))
}

// ListByUser lists a user's active tokens for one usage scope.
func (r *tokenRepo) ListByUser(ctx context.Context, userID int64, usage models.TokenUsage) ([]*models.Token, error) {
	query := `SELECT ` + tokenColumns + ` FROM user_token
		WHERE user_id = $1 AND usage = $2 AND status = $3
		ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, userID, usage, models.TokenStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []*models.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// SetExpired soft-deletes a token by marking it expired. The name check
// guards against expiring a token through a stale id.
func (r *tokenRepo) SetExpired(ctx context.Context, id int64, name string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE user_token SET status = $1, updated_at = now() WHERE id = $2 AND name = $3`,
		models.TokenStatusExpired, id, name)
	return err
}

// TouchLatestUsed refreshes latest_used_at. Best-effort; the registry only
// calls this when the prior value is older than its refresh window.
func (r *tokenRepo) TouchLatestUsed(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE user_token SET latest_used_at = $1 WHERE id = $2`, time.Now(), id)
	return err
}
