package models

import (
	"time"
)

// ProjectLanguage is the language a project's source is written in.
type ProjectLanguage string

const (
	ProjectLanguageJavaScript ProjectLanguage = "javascript"
)

// ProjectStatus represents a project's lifecycle state.
type ProjectStatus string

const (
	ProjectStatusActive   ProjectStatus = "active"
	ProjectStatusDisabled ProjectStatus = "disabled"
	ProjectStatusDeleted  ProjectStatus = "deleted"
)

// ProjectCreatedBy records how a project came to exist.
type ProjectCreatedBy string

const (
	ProjectCreatedByPlayground ProjectCreatedBy = "playground"
	ProjectCreatedByBlank      ProjectCreatedBy = "blank"
)

// Project is a user's named function. The name and prod_domain are unique
// across non-deleted projects.
type Project struct {
	ID           int64            `json:"id" db:"id"`
	UUID         string           `json:"uuid" db:"uuid"`
	OwnerID      int64            `json:"owner_id" db:"owner_id"`
	Name         string           `json:"name" db:"name"`
	Language     ProjectLanguage  `json:"language" db:"language"`
	ProdDomain   string           `json:"prod_domain" db:"prod_domain"`
	DevDomain    string           `json:"dev_domain" db:"dev_domain"`
	Description  string           `json:"description" db:"description"`
	Status       ProjectStatus    `json:"status" db:"status"`
	DeployStatus DeployStatus     `json:"deploy_status" db:"deploy_status"`
	CreatedBy    ProjectCreatedBy `json:"created_by" db:"created_by"`
	Metadata     *string          `json:"metadata,omitempty" db:"metadata"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at" db:"updated_at"`
	DeletedAt    *time.Time       `json:"deleted_at,omitempty" db:"deleted_at"`
}

// PlaygroundStatus represents a playground row's lifecycle state.
type PlaygroundStatus string

const (
	PlaygroundStatusActive  PlaygroundStatus = "active"
	PlaygroundStatusDeleted PlaygroundStatus = "deleted"
)

// PlaygroundVisibility controls who can view a playground's source.
type PlaygroundVisibility string

const (
	PlaygroundVisibilityPrivate PlaygroundVisibility = "private"
	PlaygroundVisibilityPublic  PlaygroundVisibility = "public"
)

// Playground is the editable source bound to a project created through the
// playground flow. Every edit writes a new row and soft-deletes the prior
// one, preserving history.
type Playground struct {
	ID         int64                `json:"id" db:"id"`
	OwnerID    int64                `json:"owner_id" db:"owner_id"`
	ProjectID  int64                `json:"project_id" db:"project_id"`
	UUID       string               `json:"uuid" db:"uuid"`
	Language   ProjectLanguage      `json:"language" db:"language"`
	Source     string               `json:"source" db:"source"`
	Version    int                  `json:"version" db:"version"`
	Status     PlaygroundStatus     `json:"status" db:"status"`
	Visibility PlaygroundVisibility `json:"visibility" db:"visibility"`
	CreatedAt  time.Time            `json:"created_at" db:"created_at"`
	DeletedAt  *time.Time           `json:"deleted_at,omitempty" db:"deleted_at"`
}
