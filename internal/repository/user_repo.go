package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/runtime-land/land/internal/models"
)

// UserRepository defines the interface for user data operations.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByOauthID(ctx context.Context, oauthUserID string) (*models.User, error)
	FindByIDs(ctx context.Context, ids []int64) (map[int64]*models.User, error)
	IsFirst(ctx context.Context) (bool, error)
	UpdateLastLogin(ctx context.Context, id int64) error
}

type userRepo struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new user repository.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepo{pool: pool}
}

const userColumns = `id, uuid, email, name, nick_name, avatar, password, password_salt,
       status, role, oauth_user_id, oauth_provider, created_at, updated_at, last_login_at, deleted_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID,
		&u.UUID,
		&u.Email,
		&u.Name,
		&u.NickName,
		&u.Avatar,
		&u.Password,
		&u.PasswordSalt,
		&u.Status,
		&u.Role,
		&u.OauthUserID,
		&u.OauthProvider,
		&u.CreatedAt,
		&u.UpdatedAt,
		&u.LastLoginAt,
		&u.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts a new user.
func (r *userRepo) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO user_info (uuid, email, name, nick_name, avatar, password, password_salt, status, role, oauth_user_id, oauth_provider)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at, last_login_at`

	return r.pool.QueryRow(ctx, query,
		user.UUID,
		user.Email,
		user.Name,
		user.NickName,
		user.Avatar,
		user.Password,
		user.PasswordSalt,
		user.Status,
		user.Role,
		user.OauthUserID,
		user.OauthProvider,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt, &user.LastLoginAt)
}

// GetByID retrieves a user by id.
func (r *userRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM user_info WHERE id = $1 AND deleted_at IS NULL`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

// GetByOauthID retrieves a user by the external identity provider's user id.
func (r *userRepo) GetByOauthID(ctx context.Context, oauthUserID string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM user_info WHERE oauth_user_id = $1 AND deleted_at IS NULL`
	return scanUser(r.pool.QueryRow(ctx, query, oauthUserID))
}

// FindByIDs retrieves multiple users, keyed by id. Missing ids are absent
// from the result.
func (r *userRepo) FindByIDs(ctx context.Context, ids []int64) (map[int64]*models.User, error) {
	if len(ids) == 0 {
		return map[int64]*models.User{}, nil
	}

	query := `SELECT ` + userColumns + ` FROM user_info WHERE id = ANY($1) AND deleted_at IS NULL`
	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[int64]*models.User, len(ids))
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result[u.ID] = u
	}
	return result, rows.Err()
}

// IsFirst reports whether no human users exist yet. The first user to sign
// in becomes an admin; accounts provisioned by the server itself don't
// count.
func (r *userRepo) IsFirst(ctx context.Context) (bool, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM user_info WHERE oauth_provider != 'system'`).Scan(&count)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

// UpdateLastLogin records a successful authentication.
func (r *userRepo) UpdateLastLogin(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE user_info SET last_login_at = now(), updated_at = now() WHERE id = $1`, id)
	return err
}
