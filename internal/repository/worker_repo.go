package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/runtime-land/land/internal/models"
)

// WorkerRepository defines the interface for worker fleet data operations.
type WorkerRepository interface {
	FindAll(ctx context.Context, status models.WorkerStatus) ([]*models.Worker, error)
	GetByIP(ctx context.Context, ip string) (*models.Worker, error)
	Upsert(ctx context.Context, worker *models.Worker) error
	SetOffline(ctx context.Context, ip string) error
	SetOnlines(ctx context.Context, ips []string) error
}

type workerRepo struct {
	pool *pgxpool.Pool
}

// NewWorkerRepository creates a new worker repository.
func NewWorkerRepository(pool *pgxpool.Pool) WorkerRepository {
	return &workerRepo{pool: pool}
}

const workerColumns = `id, ip, ipv6, hostname, region, ip_info, machine_info, status, created_at, updated_at`

func scanWorker(row pgx.Row) (*models.Worker, error) {
	var w models.Worker
	err := row.Scan(
		&w.ID,
		&w.IP,
		&w.IPv6,
		&w.Hostname,
		&w.Region,
		&w.IPInfo,
		&w.MachineInfo,
		&w.Status,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// FindAll lists workers, optionally filtered by status.
func (r *workerRepo) FindAll(ctx context.Context, status models.WorkerStatus) ([]*models.Worker, error) {
	query := `SELECT ` + workerColumns + ` FROM worker_node`
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workers []*models.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return workers, rows.Err()
}

// GetByIP retrieves a worker by its unique ip.
func (r *workerRepo) GetByIP(ctx context.Context, ip string) (*models.Worker, error) {
	query := `SELECT ` + workerColumns + ` FROM worker_node WHERE ip = $1`
	return scanWorker(r.pool.QueryRow(ctx, query, ip))
}

// Upsert inserts a worker row keyed by ip, or refreshes an existing one.
// Heartbeats call this on every sync, always forcing status Online.
func (r *workerRepo) Upsert(ctx context.Context, worker *models.Worker) error {
	query := `
		INSERT INTO worker_node (ip, ipv6, hostname, region, ip_info, machine_info, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (ip) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			region = EXCLUDED.region,
			ip_info = EXCLUDED.ip_info,
			status = EXCLUDED.status,
			updated_at = now()
		RETURNING id, created_at, updated_at`

	return r.pool.QueryRow(ctx, query,
		worker.IP,
		worker.IPv6,
		worker.Hostname,
		worker.Region,
		worker.IPInfo,
		worker.MachineInfo,
		worker.Status,
	).Scan(&worker.ID, &worker.CreatedAt, &worker.UpdatedAt)
}

// SetOffline marks one worker Offline.
func (r *workerRepo) SetOffline(ctx context.Context, ip string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE worker_node SET status = $1, updated_at = now() WHERE ip = $2`,
		models.WorkerStatusOffline, ip)
	return err
}

// SetOnlines bulk-marks workers Online in one conditional update; rows
// already Online keep their updated_at.
func (r *workerRepo) SetOnlines(ctx context.Context, ips []string) error {
	if len(ips) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE worker_node SET status = $1, updated_at = now()
		 WHERE ip = ANY($2) AND status != $1`,
		models.WorkerStatusOnline, ips)
	return err
}
