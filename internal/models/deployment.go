package models

import (
	"encoding/json"
	"time"
)

// DeployStatus is the deployment state machine's visible state.
//
//	Waiting -> Compiling -> Uploading -> Deploying -> Success
//	   \___________\____________\___________\______-> Failed
//
// Success and Failed are absorbing.
type DeployStatus string

const (
	DeployStatusWaiting   DeployStatus = "waiting"
	DeployStatusCompiling DeployStatus = "compiling"
	DeployStatusUploading DeployStatus = "uploading"
	DeployStatusDeploying DeployStatus = "deploying"
	DeployStatusSuccess   DeployStatus = "success"
	DeployStatusFailed    DeployStatus = "failed"
)

// Terminal reports whether the status is absorbing.
func (s DeployStatus) Terminal() bool {
	return s == DeployStatusSuccess || s == DeployStatusFailed
}

// DeployType distinguishes production from development deployments.
type DeployType string

const (
	DeployTypeProduction  DeployType = "production"
	DeployTypeDevelopment DeployType = "development"
)

// DeploymentStatus is the row-level lifecycle state, orthogonal to the
// deploy state machine.
type DeploymentStatus string

const (
	DeploymentStatusActive   DeploymentStatus = "active"
	DeploymentStatusDisabled DeploymentStatus = "disabled"
	DeploymentStatusDeleted  DeploymentStatus = "deleted"
	DeploymentStatusOutdated DeploymentStatus = "outdated"
)

// DeploySpec carries per-deployment resource limits plus bookkeeping written
// at fan-out time. Stored as a JSON column.
type DeploySpec struct {
	CPUTimeMillis  int `json:"cpu_time_ms"`
	MemoryBytes    int `json:"memory_bytes"`
	FetchLimit     int `json:"fetch_limit"`
	FanoutTotal    int `json:"fanout_total,omitempty"`
}

// DefaultDeploySpec returns the limits applied when a deployment is created
// without explicit overrides.
func DefaultDeploySpec() DeploySpec {
	return DeploySpec{
		CPUTimeMillis: 100,
		MemoryBytes:   128 * 1024 * 1024,
		FetchLimit:    5,
	}
}

// Deployment is one attempt to make a project's code live. TaskID is minted
// once at creation and never changes; it correlates the deployment with its
// fan-out tasks and its artifact in the object store.
type Deployment struct {
	ID            int64            `json:"id" db:"id"`
	OwnerID       int64            `json:"owner_id" db:"owner_id"`
	OwnerUUID     string           `json:"owner_uuid" db:"owner_uuid"`
	ProjectID     int64            `json:"project_id" db:"project_id"`
	ProjectUUID   string           `json:"project_uuid" db:"project_uuid"`
	TaskID        string           `json:"task_id" db:"task_id"`
	Domain        string           `json:"domain" db:"domain"`
	Spec          DeploySpec       `json:"spec" db:"spec"`
	DeployType    DeployType       `json:"deploy_type" db:"deploy_type"`
	DeployStatus  DeployStatus     `json:"deploy_status" db:"deploy_status"`
	DeployMessage string           `json:"deploy_message" db:"deploy_message"`
	Status        DeploymentStatus `json:"status" db:"status"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at" db:"updated_at"`
	DeletedAt     *time.Time       `json:"deleted_at,omitempty" db:"deleted_at"`
}

// StoragePath returns the object store key for this deployment's artifact.
func (d *Deployment) StoragePath() string {
	return d.OwnerUUID + "/" + d.ProjectUUID + "/" + d.TaskID + ".wasm"
}

// SpecJSON serializes the spec column.
func (d *Deployment) SpecJSON() ([]byte, error) {
	return json.Marshal(d.Spec)
}
