package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/runtime-land/land/internal/models"
)

// SettingsRepository defines the interface for the durable settings KV.
type SettingsRepository interface {
	Get(ctx context.Context, name string) (*models.Setting, error)
	Set(ctx context.Context, name, value string) error
	ListNames(ctx context.Context) ([]string, error)
}

type settingsRepo struct {
	pool *pgxpool.Pool
}

// NewSettingsRepository creates a new settings repository.
func NewSettingsRepository(pool *pgxpool.Pool) SettingsRepository {
	return &settingsRepo{pool: pool}
}

// Get fetches one setting row; nil when absent.
func (r *settingsRepo) Get(ctx context.Context, name string) (*models.Setting, error) {
	var s models.Setting
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, value, updated_at FROM settings WHERE name = $1`, name).
		Scan(&s.ID, &s.Name, &s.Value, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Set upserts a setting by name.
func (r *settingsRepo) Set(ctx context.Context, name, value string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO settings (name, value) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		name, value)
	return err
}

// ListNames enumerates known setting names.
func (r *settingsRepo) ListNames(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT name FROM settings ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
