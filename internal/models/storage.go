package models

import (
	"time"
)

// StorageStatus tracks whether an uploaded artifact is usable.
type StorageStatus string

const (
	StorageStatusSuccess StorageStatus = "success"
	StorageStatusDeleted StorageStatus = "deleted"
)

// Storage records one artifact written to the object store during a
// deployment's Uploading phase. The file hash is the hex md5 of the bytes.
type Storage struct {
	ID         int64         `json:"id" db:"id"`
	OwnerID    int64         `json:"owner_id" db:"owner_id"`
	ProjectID  int64         `json:"project_id" db:"project_id"`
	DeployID   int64         `json:"deploy_id" db:"deploy_id"`
	TaskID     string        `json:"task_id" db:"task_id"`
	Path       string        `json:"path" db:"path"`
	FileHash   string        `json:"file_hash" db:"file_hash"`
	FileSize   int64         `json:"file_size" db:"file_size"`
	FileTarget string        `json:"file_target" db:"file_target"`
	Status     StorageStatus `json:"status" db:"status"`
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at" db:"updated_at"`
	DeletedAt  *time.Time    `json:"deleted_at,omitempty" db:"deleted_at"`
}

// Setting is one row of the durable typed KV store. Value holds JSON.
type Setting struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Value     string    `json:"value" db:"value"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
