package actions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	apperrors "github.com/aaronlmathis/kaptn-pulse/internal/errors"
	"github.com/aaronlmathis/kaptn-pulse/internal/gitops"
)

type fakeClient struct {
	err        error
	syncReq    gitops.SyncRequest
	hard       bool
	cascade    bool
	actionReq  gitops.ResourceActionRequest
	calledWith string
}

func (f *fakeClient) SyncApplication(ctx context.Context, name string, req gitops.SyncRequest) (*gitops.Application, error) {
	f.calledWith, f.syncReq = name, req
	if f.err != nil {
		return nil, f.err
	}
	return &gitops.Application{ObjectMeta: metav1.ObjectMeta{Name: name}}, nil
}

func (f *fakeClient) RefreshApplication(ctx context.Context, name string, hard bool) (*gitops.Application, error) {
	f.calledWith, f.hard = name, hard
	if f.err != nil {
		return nil, f.err
	}
	return &gitops.Application{ObjectMeta: metav1.ObjectMeta{Name: name}}, nil
}

func (f *fakeClient) DeleteApplication(ctx context.Context, name string, cascade bool) error {
	f.calledWith, f.cascade = name, cascade
	return f.err
}

func (f *fakeClient) RunResourceAction(ctx context.Context, name string, req gitops.ResourceActionRequest) error {
	f.calledWith, f.actionReq = name, req
	return f.err
}

type recordingRefresher struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingRefresher) ScheduleRefresh(delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, delay)
}

func (r *recordingRefresher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.delays)
}

func TestActionsScheduleRefreshOnSuccess(t *testing.T) {
	client := &fakeClient{}
	refresher := &recordingRefresher{}
	svc := NewService(client, refresher, 2*time.Second, zaptest.NewLogger(t))
	ctx := context.Background()

	app, err := svc.Sync(ctx, "req-1", "guestbook", gitops.SyncRequest{Revision: "main", Prune: true})
	require.NoError(t, err)
	assert.Equal(t, "guestbook", app.Name)
	assert.Equal(t, "main", client.syncReq.Revision)
	assert.True(t, client.syncReq.Prune)

	_, err = svc.Refresh(ctx, "req-2", "guestbook", true)
	require.NoError(t, err)
	assert.True(t, client.hard)

	require.NoError(t, svc.Delete(ctx, "req-3", "guestbook", true))
	assert.True(t, client.cascade)

	req := gitops.ResourceActionRequest{Kind: "Deployment", ResourceName: "web", Action: "restart", Group: "apps", Version: "v1"}
	require.NoError(t, svc.RunResourceAction(ctx, "req-4", "guestbook", req))
	assert.Equal(t, req, client.actionReq)

	assert.Equal(t, 4, refresher.count())
	assert.Equal(t, 2*time.Second, refresher.delays[0])
}

func TestActionFailureDoesNotScheduleRefresh(t *testing.T) {
	client := &fakeClient{err: apperrors.NewNotFoundError("application missing not found", nil)}
	refresher := &recordingRefresher{}
	svc := NewService(client, refresher, time.Second, zaptest.NewLogger(t))

	_, err := svc.Sync(context.Background(), "req-1", "missing", gitops.SyncRequest{})

	require.Error(t, err)
	assert.True(t, apperrors.IsNotFoundError(err))
	assert.Equal(t, 0, refresher.count())
}

func TestNilRefresher(t *testing.T) {
	svc := NewService(&fakeClient{}, nil, time.Second, zaptest.NewLogger(t))
	assert.NoError(t, svc.Delete(context.Background(), "req-1", "guestbook", false))
}
