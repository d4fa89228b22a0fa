package models

import (
	"time"
)

// TaskType identifies a deploy task's kind. There is a single kind today.
type TaskType string

const (
	TaskTypeDeployWasmToWorker TaskType = "deploy-wasm-to-worker"
)

// TaskStatus is a deploy task's state as reported by its worker.
type TaskStatus string

const (
	TaskStatusDoing   TaskStatus = "doing"
	TaskStatusSuccess TaskStatus = "success"
	TaskStatusFailed  TaskStatus = "failed"
)

// DeployTask is one worker's unit of work for one deployment.
// (deploy_id, task_id, worker_ip) is unique, which makes fan-out idempotent.
type DeployTask struct {
	ID          int64      `json:"id" db:"id"`
	OwnerID     int64      `json:"owner_id" db:"owner_id"`
	ProjectID   int64      `json:"project_id" db:"project_id"`
	DeployID    int64      `json:"deploy_id" db:"deploy_id"`
	TaskID      string     `json:"task_id" db:"task_id"`
	TaskType    TaskType   `json:"task_type" db:"task_type"`
	TaskContent string     `json:"task_content" db:"task_content"`
	WorkerID    int64      `json:"worker_id" db:"worker_id"`
	WorkerIP    string     `json:"worker_ip" db:"worker_ip"`
	Status      TaskStatus `json:"status" db:"status"`
	Message     string     `json:"message" db:"message"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}
