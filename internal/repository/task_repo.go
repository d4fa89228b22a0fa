package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/runtime-land/land/internal/models"
)

// TaskFilter narrows deploy task listings. Zero values match everything.
type TaskFilter struct {
	WorkerIP string
	Status   models.TaskStatus
	TaskID   string
}

// TaskRepository defines the interface for deploy task data operations.
type TaskRepository interface {
	Create(ctx context.Context, task *models.DeployTask) error
	ListByTaskID(ctx context.Context, deployID int64, taskID string) ([]*models.DeployTask, error)
	List(ctx context.Context, filter TaskFilter) ([]*models.DeployTask, error)
	SetSuccess(ctx context.Context, workerIP, taskID string) error
	SetFailed(ctx context.Context, workerIP, taskID, message string) error
}

type taskRepo struct {
	pool *pgxpool.Pool
}

// NewTaskRepository creates a new deploy task repository.
func NewTaskRepository(pool *pgxpool.Pool) TaskRepository {
	return &taskRepo{pool: pool}
}

const taskColumns = `id, owner_id, project_id, deploy_id, task_id, task_type, task_content,
       worker_id, worker_ip, status, message, created_at, updated_at`

func scanTask(row pgx.Row) (*models.DeployTask, error) {
	var t models.DeployTask
	err := row.Scan(
		&t.ID,
		&t.OwnerID,
		&t.ProjectID,
		&t.DeployID,
		&t.TaskID,
		&t.TaskType,
		&t.TaskContent,
		&t.WorkerID,
		&t.WorkerIP,
		&t.Status,
		&t.Message,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Create inserts a deploy task. ON CONFLICT DO NOTHING makes fan-out a no-op
// for (deploy, task, worker) triples that already exist, so a crashed fan-out
// can be replayed safely.
func (r *taskRepo) Create(ctx context.Context, task *models.DeployTask) error {
	query := `
		INSERT INTO deploy_task (owner_id, project_id, deploy_id, task_id, task_type, task_content, worker_id, worker_ip, status, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (deploy_id, task_id, worker_ip) DO NOTHING`

	_, err := r.pool.Exec(ctx, query,
		task.OwnerID,
		task.ProjectID,
		task.DeployID,
		task.TaskID,
		task.TaskType,
		task.TaskContent,
		task.WorkerID,
		task.WorkerIP,
		task.Status,
		task.Message,
	)
	return err
}

// ListByTaskID lists a deployment's tasks for one fan-out generation.
func (r *taskRepo) ListByTaskID(ctx context.Context, deployID int64, taskID string) ([]*models.DeployTask, error) {
	query := `SELECT ` + taskColumns + ` FROM deploy_task
		WHERE deploy_id = $1 AND task_id = $2 ORDER BY id`
	rows, err := r.pool.Query(ctx, query, deployID, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

// List lists tasks matching the filter.
func (r *taskRepo) List(ctx context.Context, filter TaskFilter) ([]*models.DeployTask, error) {
	query := `SELECT ` + taskColumns + ` FROM deploy_task WHERE 1=1`
	var args []any
	if filter.WorkerIP != "" {
		args = append(args, filter.WorkerIP)
		query += fmt.Sprintf(" AND worker_ip = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.TaskID != "" {
		args = append(args, filter.TaskID)
		query += fmt.Sprintf(" AND task_id = $%d", len(args))
	}
	query += " ORDER BY id"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

// SetSuccess marks a worker's task Success. The status predicate restricts
// the update to tasks still in Doing, so a late report cannot rewrite a
// finalized task.
func (r *taskRepo) SetSuccess(ctx context.Context, workerIP, taskID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE deploy_task SET status = $1, message = '', updated_at = now()
		 WHERE worker_ip = $2 AND task_id = $3 AND status = $4`,
		models.TaskStatusSuccess, workerIP, taskID, models.TaskStatusDoing)
	return err
}

// SetFailed marks a worker's task Failed with the reported message.
func (r *taskRepo) SetFailed(ctx context.Context, workerIP, taskID, message string) error {
	if len(message) > 255 {
		message = message[:255]
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE deploy_task SET status = $1, message = $2, updated_at = now()
		 WHERE worker_ip = $3 AND task_id = $4 AND status = $5`,
		models.TaskStatusFailed, message, workerIP, taskID, models.TaskStatusDoing)
	return err
}

func collectTasks(rows pgx.Rows) ([]*models.DeployTask, error) {
	var tasks []*models.DeployTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
