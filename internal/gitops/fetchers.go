package gitops

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	apperrors "github.com/aaronlmathis/kaptn-pulse/internal/errors"
)

// Version probes the controller and returns its build information
func (c *Client) Version(ctx context.Context) (*VersionInfo, error) {
	body, err := c.Execute(ctx, http.MethodGet, "/api/version", nil, true)
	if err != nil {
		return nil, err
	}

	var info VersionInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, apperrors.NewMalformedResponseError("failed to decode version", err, nil)
	}
	return &info, nil
}

// ListApplications lists all applications. refresh asks the controller to
// re-read application state before answering.
func (c *Client) ListApplications(ctx context.Context, refresh bool) ([]Application, error) {
	path := "/api/v1/applications"
	if refresh {
		path += "?refresh=true"
	}
	return listItems[Application](ctx, c, path, "applications")
}

// GetApplication fetches a single application by name
func (c *Client) GetApplication(ctx context.Context, name string) (*Application, error) {
	if name == "" {
		return nil, apperrors.NewValidationError("application name is required", nil)
	}

	body, err := c.Execute(ctx, http.MethodGet, "/api/v1/applications/"+url.PathEscape(name), nil, true)
	if err != nil {
		return nil, notFoundOr(err, name)
	}
	return decodeApplication(body, name)
}

// ListProjects lists all projects
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	return listItems[Project](ctx, c, "/api/v1/projects", "projects")
}

// ListRepositories lists all configured repositories
func (c *Client) ListRepositories(ctx context.Context) ([]Repository, error) {
	return listItems[Repository](ctx, c, "/api/v1/repositories", "repositories")
}

// listItems decodes an {"items": [...]} envelope. A missing or null items
// field is an empty list.
func listItems[T any](ctx context.Context, c *Client, path, kind string) ([]T, error) {
	body, err := c.Execute(ctx, http.MethodGet, path, nil, true)
	if err != nil {
		return nil, err
	}

	var list itemList[T]
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, apperrors.NewMalformedResponseError("failed to decode "+kind+" list", err, map[string]interface{}{"path": path})
	}
	if list.Items == nil {
		return []T{}, nil
	}
	return list.Items, nil
}

func notFoundOr(err error, name string) error {
	if apperrors.StatusCode(err) == http.StatusNotFound {
		return apperrors.NewNotFoundError("application not found", map[string]interface{}{"name": name})
	}
	return err
}
