package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aaronlmathis/kaptn-pulse/internal/config"
	apperrors "github.com/aaronlmathis/kaptn-pulse/internal/errors"
	"github.com/aaronlmathis/kaptn-pulse/internal/gitops"
	"github.com/aaronlmathis/kaptn-pulse/internal/history"
	kpmiddleware "github.com/aaronlmathis/kaptn-pulse/internal/middleware"
	"github.com/aaronlmathis/kaptn-pulse/internal/snapshot"
)

type fakeSource struct {
	mu        sync.Mutex
	ready     bool
	current   snapshot.AggregatedSnapshot
	refreshes []bool
}

func (f *fakeSource) Current() snapshot.AggregatedSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeSource) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeSource) RefreshNow(ctx context.Context, force bool) snapshot.AggregatedSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes = append(f.refreshes, force)
	f.ready = true
	f.current.GitOps.Sequence++
	return f.current
}

type actionCall struct {
	action    string
	requestID string
	name      string
	flag      bool
	sync      gitops.SyncRequest
	resource  gitops.ResourceActionRequest
}

type fakeActions struct {
	mu    sync.Mutex
	calls []actionCall
	err   error
}

func (f *fakeActions) record(c actionCall) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	return f.err
}

func (f *fakeActions) Sync(ctx context.Context, requestID, name string, req gitops.SyncRequest) (*gitops.Application, error) {
	if err := f.record(actionCall{action: "sync", requestID: requestID, name: name, sync: req}); err != nil {
		return nil, err
	}
	app := &gitops.Application{}
	app.Name = name
	return app, nil
}

func (f *fakeActions) Refresh(ctx context.Context, requestID, name string, hard bool) (*gitops.Application, error) {
	if err := f.record(actionCall{action: "refresh", requestID: requestID, name: name, flag: hard}); err != nil {
		return nil, err
	}
	app := &gitops.Application{}
	app.Name = name
	return app, nil
}

func (f *fakeActions) Delete(ctx context.Context, requestID, name string, cascade bool) error {
	return f.record(actionCall{action: "delete", requestID: requestID, name: name, flag: cascade})
}

func (f *fakeActions) RunResourceAction(ctx context.Context, requestID, name string, req gitops.ResourceActionRequest) error {
	return f.record(actionCall{action: "resource_action", requestID: requestID, name: name, resource: req})
}

func (f *fakeActions) last(t *testing.T) actionCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.calls)
	return f.calls[len(f.calls)-1]
}

type fakeStreamer struct {
	called bool
}

func (f *fakeStreamer) ServeWS(w http.ResponseWriter, r *http.Request) {
	f.called = true
	w.WriteHeader(http.StatusOK)
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			BasePath: "/",
			CORS: config.CORSConfig{
				AllowOrigins: []string{"*"},
				AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			},
		},
		RateLimits: config.RateLimitsConfig{
			ActionsPerMinute: 100,
			RefreshPerMinute: 100,
		},
	}
}

func liveSnapshot() snapshot.AggregatedSnapshot {
	return snapshot.AggregatedSnapshot{
		GitOps:  snapshot.GitOpsSnapshot{State: snapshot.StateLive, Healthy: true, Sequence: 3},
		Cluster: snapshot.ClusterSnapshot{State: snapshot.StatePartiallyLive, FailedKinds: []string{"podMetrics"}, Sequence: 4},
	}
}

type fixture struct {
	source   *fakeSource
	actions  *fakeActions
	streamer *fakeStreamer
	history  *history.Store
	handler  http.Handler
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	f := &fixture{
		source:   &fakeSource{ready: true, current: liveSnapshot()},
		actions:  &fakeActions{},
		streamer: &fakeStreamer{},
	}
	f.history = history.NewStore(10, zaptest.NewLogger(t))
	f.handler = NewServer(zaptest.NewLogger(t), cfg, f.source, f.actions, f.streamer, f.history).Handler()
	return f
}

func (f *fixture) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealthAndVersion(t *testing.T) {
	f := newFixture(t, testConfig())

	rec := f.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = f.do(http.MethodGet, "/version", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info map[string]string
	decode(t, rec, &info)
	assert.Equal(t, "kaptn-pulse", info["name"])
}

func TestReadyz(t *testing.T) {
	f := newFixture(t, testConfig())
	f.source.ready = false

	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodGet, "/readyz", "", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodGet, "/api/v1/snapshot", "", nil).Code)

	f.source.ready = true
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/readyz", "", nil).Code)
}

func TestSnapshotEndpoints(t *testing.T) {
	f := newFixture(t, testConfig())

	rec := f.do(http.MethodGet, "/api/v1/snapshot", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var full snapshot.AggregatedSnapshot
	decode(t, rec, &full)
	assert.Equal(t, snapshot.StateLive, full.GitOps.State)
	assert.Equal(t, snapshot.StatePartiallyLive, full.Cluster.State)
	assert.Equal(t, []string{"podMetrics"}, full.Cluster.FailedKinds)

	rec = f.do(http.MethodGet, "/api/v1/snapshot/gitops", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var gitopsHalf snapshot.GitOpsSnapshot
	decode(t, rec, &gitopsHalf)
	assert.Equal(t, uint64(3), gitopsHalf.Sequence)

	rec = f.do(http.MethodGet, "/api/v1/snapshot/cluster", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var clusterHalf snapshot.ClusterSnapshot
	decode(t, rec, &clusterHalf)
	assert.Equal(t, uint64(4), clusterHalf.Sequence)
}

func TestSnapshotETag(t *testing.T) {
	f := newFixture(t, testConfig())

	first := f.do(http.MethodGet, "/api/v1/snapshot", "", nil)
	etag := first.Header().Get("ETag")
	require.NotEmpty(t, etag)

	rec := f.do(http.MethodGet, "/api/v1/snapshot", "", map[string]string{"If-None-Match": etag})
	assert.Equal(t, http.StatusNotModified, rec.Code)

	f.do(http.MethodPost, "/api/v1/refresh", "", nil)
	rec = f.do(http.MethodGet, "/api/v1/snapshot", "", map[string]string{"If-None-Match": etag})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEqual(t, etag, rec.Header().Get("ETag"))
}

func TestRefresh(t *testing.T) {
	f := newFixture(t, testConfig())

	rec := f.do(http.MethodPost, "/api/v1/refresh?force=true", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(http.MethodPost, "/api/v1/refresh", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []bool{true, false}, f.source.refreshes)

	var got snapshot.AggregatedSnapshot
	decode(t, rec, &got)
	assert.Equal(t, uint64(5), got.GitOps.Sequence)

	rec = f.do(http.MethodPost, "/api/v1/refresh?force=maybe", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, f.source.refreshes, 2)
}

func TestSyncApplication(t *testing.T) {
	f := newFixture(t, testConfig())

	rec := f.do(http.MethodPost, "/api/v1/applications/guestbook/sync", `{"revision":"main","prune":true}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	call := f.actions.last(t)
	assert.Equal(t, "sync", call.action)
	assert.Equal(t, "guestbook", call.name)
	assert.Equal(t, gitops.SyncRequest{Revision: "main", Prune: true}, call.sync)
	assert.NotEmpty(t, call.requestID)

	var app gitops.Application
	decode(t, rec, &app)
	assert.Equal(t, "guestbook", app.Name)

	// an empty body syncs with defaults
	rec = f.do(http.MethodPost, "/api/v1/applications/guestbook/sync", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/applications/guestbook/sync", `{"revision":`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp errorResponse
	decode(t, rec, &resp)
	assert.Equal(t, "validation", resp.Type)
}

func TestRefreshAndDeleteApplication(t *testing.T) {
	f := newFixture(t, testConfig())

	rec := f.do(http.MethodPost, "/api/v1/applications/guestbook/refresh?hard=true", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	call := f.actions.last(t)
	assert.Equal(t, "refresh", call.action)
	assert.True(t, call.flag)

	rec = f.do(http.MethodDelete, "/api/v1/applications/guestbook?cascade=true", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	call = f.actions.last(t)
	assert.Equal(t, "delete", call.action)
	assert.Equal(t, "guestbook", call.name)
	assert.True(t, call.flag)

	rec = f.do(http.MethodDelete, "/api/v1/applications/guestbook?cascade=nope", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResourceAction(t *testing.T) {
	f := newFixture(t, testConfig())

	body := `{"namespace":"default","resourceName":"web","group":"apps","version":"v1","kind":"Deployment","action":"restart"}`
	rec := f.do(http.MethodPost, "/api/v1/applications/guestbook/resource/actions", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	call := f.actions.last(t)
	assert.Equal(t, "resource_action", call.action)
	assert.Equal(t, "restart", call.resource.Action)
	assert.Equal(t, "Deployment", call.resource.Kind)

	rec = f.do(http.MethodPost, "/api/v1/applications/guestbook/resource/actions", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/applications/guestbook/resource/actions", `{"unknown":1}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActionErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"validation", apperrors.NewValidationError("bad", nil), http.StatusBadRequest},
		{"authentication", apperrors.NewAuthenticationError("denied", nil), http.StatusUnauthorized},
		{"not found", apperrors.NewNotFoundError("missing", nil), http.StatusNotFound},
		{"backend 404", apperrors.NewAPIError(404, "Not Found", "", nil), http.StatusNotFound},
		{"backend 500", apperrors.NewAPIError(500, "Internal Server Error", "", nil), http.StatusBadGateway},
		{"transport", apperrors.NewTransportError("timeout", context.DeadlineExceeded, nil), http.StatusGatewayTimeout},
		{"malformed", apperrors.NewMalformedResponseError("bad json", nil, nil), http.StatusBadGateway},
		{"wrapped", errors.Join(errors.New("sync"), apperrors.NewAuthenticationError("denied", nil)), http.StatusUnauthorized},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testConfig())
			f.actions.err = tt.err

			rec := f.do(http.MethodPost, "/api/v1/applications/guestbook/sync", "{}", nil)
			assert.Equal(t, tt.expected, rec.Code)
			assert.Equal(t, tt.expected, statusFor(tt.err))
		})
	}
}

func TestErrorDetailsOnlyForClientErrors(t *testing.T) {
	f := newFixture(t, testConfig())
	f.actions.err = apperrors.NewTransportError("GitOps controller unreachable", context.DeadlineExceeded, map[string]interface{}{
		"method": http.MethodPost,
		"url":    "https://argocd.internal/api/v1/applications/guestbook/sync",
	})

	rec := f.do(http.MethodPost, "/api/v1/applications/guestbook/sync", "{}", nil)
	require.Equal(t, http.StatusGatewayTimeout, rec.Code)
	var resp errorResponse
	decode(t, rec, &resp)
	assert.Equal(t, "transport", resp.Type)
	assert.Nil(t, resp.Details)
	assert.NotContains(t, rec.Body.String(), "argocd.internal")

	rec = f.do(http.MethodGet, "/api/v1/history?key=nope", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	resp = errorResponse{}
	decode(t, rec, &resp)
	assert.Equal(t, "nope", resp.Details["key"])
}

func TestActionRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimits.ActionsPerMinute = 1
	f := newFixture(t, cfg)

	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/v1/applications/guestbook/refresh", "", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, f.do(http.MethodPost, "/api/v1/applications/guestbook/refresh", "", nil).Code)

	// reads are not limited
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/v1/snapshot", "", nil).Code)
}

func TestActionIdempotency(t *testing.T) {
	f := newFixture(t, testConfig())
	headers := map[string]string{kpmiddleware.IdempotencyKeyHeader: "retry-1"}

	first := f.do(http.MethodPost, "/api/v1/applications/guestbook/sync", "{}", headers)
	require.Equal(t, http.StatusOK, first.Code)
	second := f.do(http.MethodPost, "/api/v1/applications/guestbook/sync", "{}", headers)
	require.Equal(t, http.StatusOK, second.Code)

	assert.Equal(t, "HIT", second.Header().Get("X-Idempotency-Cache"))
	assert.Len(t, f.actions.calls, 1)
}

func TestStreamRoute(t *testing.T) {
	f := newFixture(t, testConfig())

	f.do(http.MethodGet, "/api/v1/stream", "", nil)
	assert.True(t, f.streamer.called)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, testConfig())

	rec := f.do(http.MethodOptions, "/api/v1/applications/guestbook/sync", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, f.actions.calls)
}

func TestBasePath(t *testing.T) {
	cfg := testConfig()
	cfg.Server.BasePath = "/pulse/"
	f := newFixture(t, cfg)

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/pulse/api/v1/snapshot", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/v1/snapshot", "", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, testConfig())
	f.do(http.MethodGet, "/healthz", "", nil)

	rec := f.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestHistory(t *testing.T) {
	f := newFixture(t, testConfig())
	now := time.Now().UTC().Truncate(time.Second)
	snap := liveSnapshot()
	snap.GitOps.LastUpdated = now.Add(-time.Hour)
	snap.Cluster.LastUpdated = now
	snap.Cluster.State = snapshot.StateLive
	snap.Cluster.Stats.AvgCPUPercent = 42
	f.history.Record(snap)

	rec := f.do(http.MethodGet, "/api/v1/history", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var all map[string][]history.Point
	decode(t, rec, &all)
	assert.Contains(t, all, history.KeyGitOpsSynced)
	assert.Contains(t, all, history.KeyClusterCPU)

	rec = f.do(http.MethodGet, "/api/v1/history?key=cluster.cpu_percent&since=10m", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var points []history.Point
	decode(t, rec, &points)
	require.Len(t, points, 1)
	assert.Equal(t, 42.0, points[0].V)

	rec = f.do(http.MethodGet, "/api/v1/history?key=gitops.synced&since=10m", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &points)
	assert.Empty(t, points)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/v1/history?key=nope", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/v1/history?since=yesterday", "", nil).Code)
}

func TestParseSince(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	got, err := parseSince("", now)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = parseSince("15m", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-15*time.Minute), got)

	got, err = parseSince("2024-05-01T11:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-time.Hour), got)

	_, err = parseSince("-5m", now)
	assert.Error(t, err)
}
