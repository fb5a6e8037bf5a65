package gitops

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/aaronlmathis/kaptn-pulse/internal/errors"
	"github.com/aaronlmathis/kaptn-pulse/internal/metrics"
)

// Options configures a Client
type Options struct {
	BaseURL   string
	Token     string
	Username  string
	Password  string
	Insecure  bool
	Timeout   time.Duration
	UserAgent string
}

// Client talks to the GitOps controller REST API with bearer authentication
// and one-shot re-authentication on 401.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	session    *Session
	logger     *zap.Logger
}

// NewClient creates a new GitOps API client
func NewClient(opts Options, logger *zap.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 -- opt-in for self-signed controllers
	}

	c := &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		baseURL:   strings.TrimSuffix(opts.BaseURL, "/"),
		userAgent: opts.UserAgent,
		logger:    logger.Named("gitops"),
	}
	c.session = NewSession(opts.Token, opts.Username, opts.Password, c.createSession, timeout, c.logger)

	return c
}

// Session exposes the token holder
func (c *Client) Session() *Session {
	return c.session
}

// Execute performs an authenticated request and returns the response body.
// With allowReauth set, a 401 triggers one re-authentication and one retry.
func (c *Client) Execute(ctx context.Context, method, path string, body interface{}, allowReauth bool) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to marshal request body", err)
		}
	}
	return c.execute(ctx, method, path, payload, allowReauth)
}

func (c *Client) execute(ctx context.Context, method, path string, payload []byte, allowReauth bool) ([]byte, error) {
	token, err := c.session.GetValidToken(ctx)
	if err != nil {
		return nil, err
	}

	status, statusText, respBody, err := c.do(ctx, method, path, payload, token)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		if !allowReauth || !c.session.HasCredentials() {
			return nil, apperrors.NewAuthenticationError("request unauthorized", fmt.Errorf("%s %s: status %d", method, path, status))
		}

		c.logger.Debug("Token rejected, re-authenticating", zap.String("method", method), zap.String("path", path))
		if _, err := c.session.Reauthenticate(ctx, token); err != nil {
			return nil, err
		}
		return c.execute(ctx, method, path, payload, false)
	}

	if status < 200 || status >= 300 {
		c.logger.Debug("GitOps request rejected",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", status))
		return nil, apperrors.NewAPIError(status, statusText, string(respBody), map[string]interface{}{
			"method": method,
			"path":   path,
		})
	}

	return respBody, nil
}

// do sends one request. Only transport failures are returned as errors.
func (c *Client) do(ctx context.Context, method, path string, payload []byte, token string) (int, string, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return 0, "", nil, apperrors.NewInternalError("failed to create request", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	c.logger.Debug("Making GitOps API request", zap.String("method", method), zap.String("url", url))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordGitOpsRequest(method, "transport", time.Since(start))
		return 0, "", nil, apperrors.NewTransportError("GitOps controller unreachable", err, map[string]interface{}{
			"method": method,
			"url":    url,
		})
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RecordGitOpsRequest(method, "transport", time.Since(start))
		return 0, "", nil, apperrors.NewTransportError("failed to read response body", err, map[string]interface{}{
			"method": method,
			"url":    url,
		})
	}
	metrics.RecordGitOpsRequest(method, strconv.Itoa(resp.StatusCode), time.Since(start))

	return resp.StatusCode, http.StatusText(resp.StatusCode), respBody, nil
}

// createSession is the LoginFunc backing the client's Session
func (c *Client) createSession(ctx context.Context, username, password string) (string, error) {
	payload, err := json.Marshal(sessionRequest{Username: username, Password: password})
	if err != nil {
		return "", apperrors.NewInternalError("failed to marshal session request", err)
	}

	status, statusText, body, err := c.do(ctx, http.MethodPost, "/api/v1/session", payload, "")
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", apperrors.NewAPIError(status, statusText, string(body), map[string]interface{}{
			"path": "/api/v1/session",
		})
	}

	var resp sessionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", apperrors.NewMalformedResponseError("failed to decode session response", err, nil)
	}
	return resp.Token, nil
}
