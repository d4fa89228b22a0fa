package api

import (
	"context"
	"fmt"
	"net/url"

	"github.com/runtime-land/land/internal/models"
)

// Project is a project together with its latest deployment, as the list
// and get endpoints return it.
type Project struct {
	models.Project
	Deployment *models.Deployment `json:"deployment,omitempty"`
}

// CreateProjectRequest is the body for creating a project.
type CreateProjectRequest struct {
	Name        string `json:"name,omitempty"`
	Language    string `json:"language,omitempty"`
	Description string `json:"description,omitempty"`
}

// ListProjects returns the caller's projects, newest first.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var out []Project
	if err := c.Get(ctx, "/v1/projects", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetProject retrieves one project by name.
func (c *Client) GetProject(ctx context.Context, name string) (*Project, error) {
	var out Project
	if err := c.Get(ctx, "/v1/projects/"+url.PathEscape(name), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateProject creates a project. An empty name asks the server to
// generate one.
func (c *Client) CreateProject(ctx context.Context, req CreateProjectRequest) (*Project, error) {
	var out Project
	if err := c.Post(ctx, "/v1/projects", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RenameProject renames a project and returns it with its new domains.
func (c *Client) RenameProject(ctx context.Context, name, newName string) (*Project, error) {
	var out Project
	body := map[string]string{"name": newName}
	if err := c.Post(ctx, fmt.Sprintf("/v1/projects/%s/rename", url.PathEscape(name)), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteProject removes a project.
func (c *Client) DeleteProject(ctx context.Context, name string) error {
	return c.Delete(ctx, "/v1/projects/"+url.PathEscape(name))
}

// Deploy uploads a compiled wasm artifact and returns the resulting
// deployment. The server answers once fan-out has been scheduled; the
// deployment finishes asynchronously.
func (c *Client) Deploy(ctx context.Context, name string, wasm []byte) (*models.Deployment, error) {
	var out models.Deployment
	if err := c.PostRaw(ctx, fmt.Sprintf("/v1/projects/%s/deploy", url.PathEscape(name)), wasm, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Publish promotes the latest successful deployment to production.
func (c *Client) Publish(ctx context.Context, name string) (*models.Deployment, error) {
	var out models.Deployment
	if err := c.Post(ctx, fmt.Sprintf("/v1/projects/%s/publish", url.PathEscape(name)), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetDeploymentEnabled toggles routing for one deployment.
func (c *Client) SetDeploymentEnabled(ctx context.Context, name string, deploymentID int64, enabled bool) error {
	action := "disable"
	if enabled {
		action = "enable"
	}
	path := fmt.Sprintf("/v1/projects/%s/deployments/%d/%s", url.PathEscape(name), deploymentID, action)
	return c.Post(ctx, path, nil, nil)
}
