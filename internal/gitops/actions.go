package gitops

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	apperrors "github.com/aaronlmathis/kaptn-pulse/internal/errors"
)

// SyncApplication asks the controller to sync an application
func (c *Client) SyncApplication(ctx context.Context, name string, req SyncRequest) (*Application, error) {
	if name == "" {
		return nil, apperrors.NewValidationError("application name is required", nil)
	}

	body, err := c.Execute(ctx, http.MethodPost, "/api/v1/applications/"+url.PathEscape(name)+"/sync", req, true)
	if err != nil {
		return nil, notFoundOr(err, name)
	}
	return decodeApplication(body, name)
}

// RefreshApplication forces the controller to re-read an application's state.
// hard also invalidates the manifest cache.
func (c *Client) RefreshApplication(ctx context.Context, name string, hard bool) (*Application, error) {
	if name == "" {
		return nil, apperrors.NewValidationError("application name is required", nil)
	}

	mode := "normal"
	if hard {
		mode = "hard"
	}
	body, err := c.Execute(ctx, http.MethodGet, "/api/v1/applications/"+url.PathEscape(name)+"?refresh="+mode, nil, true)
	if err != nil {
		return nil, notFoundOr(err, name)
	}
	return decodeApplication(body, name)
}

// DeleteApplication deletes an application; cascade also deletes its resources
func (c *Client) DeleteApplication(ctx context.Context, name string, cascade bool) error {
	if name == "" {
		return apperrors.NewValidationError("application name is required", nil)
	}

	path := "/api/v1/applications/" + url.PathEscape(name) + "?cascade=" + strconv.FormatBool(cascade)
	if _, err := c.Execute(ctx, http.MethodDelete, path, nil, true); err != nil {
		return notFoundOr(err, name)
	}
	return nil
}

// RunResourceAction runs a named action (restart, resume, ...) on a resource managed by an application
func (c *Client) RunResourceAction(ctx context.Context, name string, req ResourceActionRequest) error {
	if name == "" {
		return apperrors.NewValidationError("application name is required", nil)
	}
	if req.Kind == "" || req.ResourceName == "" || req.Action == "" {
		return apperrors.NewValidationError("kind, resourceName and action are required", nil)
	}

	params := url.Values{}
	params.Set("namespace", req.Namespace)
	params.Set("resourceName", req.ResourceName)
	params.Set("group", req.Group)
	params.Set("version", req.Version)
	params.Set("kind", req.Kind)

	path := "/api/v1/applications/" + url.PathEscape(name) + "/resource/actions?" + params.Encode()
	if _, err := c.Execute(ctx, http.MethodPost, path, req.Action, true); err != nil {
		return notFoundOr(err, name)
	}
	return nil
}

func decodeApplication(body []byte, name string) (*Application, error) {
	var app Application
	if err := json.Unmarshal(body, &app); err != nil {
		return nil, apperrors.NewMalformedResponseError("failed to decode application", err, map[string]interface{}{"name": name})
	}
	return &app, nil
}
