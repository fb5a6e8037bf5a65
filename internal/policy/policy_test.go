package policy

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aaronlmathis/kaptn-pulse/internal/snapshot"
)

func TestDecide(t *testing.T) {
	p := New("", zaptest.NewLogger(t))

	tests := []struct {
		name        string
		failedKinds []string
		state       snapshot.State
		healthy     bool
	}{
		{name: "all fetchers ok", state: snapshot.StateLive, healthy: true},
		{name: "some fetchers failed", failedKinds: []string{"podMetrics"}, state: snapshot.StatePartiallyLive, healthy: true},
		{name: "every fetcher failed", failedKinds: []string{"applications", "projects", "repositories"}, state: snapshot.StatePartiallyLive, healthy: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, healthy := p.Decide(tt.failedKinds)
			assert.Equal(t, tt.state, state)
			assert.Equal(t, tt.healthy, healthy)
		})
	}
}

func TestSyntheticGitOps(t *testing.T) {
	p := New("", zaptest.NewLogger(t))
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	snap := p.SyntheticGitOps(errors.New("dial tcp: connection refused"), now)

	assert.Equal(t, snapshot.StateSynthetic, snap.State)
	assert.False(t, snap.Healthy)
	assert.Equal(t, "dial tcp: connection refused", snap.Error)
	assert.Equal(t, now, snap.LastUpdated)
	require.Len(t, snap.Applications, 4)
	assert.Len(t, snap.Projects, 2)
	assert.Len(t, snap.Repositories, 3)

	assert.Equal(t, 4, snap.Stats.Total)
	assert.Equal(t, 3, snap.Stats.Synced)
	assert.Equal(t, 1, snap.Stats.OutOfSync)
	assert.Equal(t, 2, snap.Stats.Healthy)
	assert.Equal(t, 1, snap.Stats.Degraded)
	assert.Equal(t, 1, snap.Stats.Progressing)
	assert.Equal(t, 2, snap.Stats.Projects)
	assert.Equal(t, 3, snap.Stats.Repositories)

	guestbook := snap.Applications[0]
	assert.Equal(t, "guestbook", guestbook.Name)
	assert.Equal(t, now.Add(-12*24*time.Hour), guestbook.CreatedAt)
	assert.Equal(t, "12d", guestbook.Age)
}

func TestSyntheticCluster(t *testing.T) {
	p := New("", zaptest.NewLogger(t))
	now := time.Now()

	snap := p.SyntheticCluster(errors.New("timeout"), now)

	assert.Equal(t, snapshot.StateSynthetic, snap.State)
	assert.False(t, snap.Healthy)
	assert.Equal(t, "timeout", snap.Error)
	assert.Len(t, snap.Pods, 6)
	assert.Len(t, snap.Nodes, 3)
	assert.Len(t, snap.Services, 4)
	assert.Len(t, snap.Deployments, 4)
	assert.Len(t, snap.Namespaces, 6)

	assert.Equal(t, 6, snap.Stats.TotalPods)
	assert.Equal(t, 5, snap.Stats.RunningPods)
	assert.Equal(t, 1, snap.Stats.PendingPods)
	assert.Equal(t, 3, snap.Stats.ReadyNodes)
	assert.Equal(t, 1, snap.Stats.ControlPlaneNodes)
	assert.Equal(t, 2, snap.Stats.WorkerNodes)
	assert.Equal(t, 3, snap.Stats.AvailableDeployments)
	assert.NotEmpty(t, snap.Stats.Advisories)

	for _, node := range snap.Nodes {
		assert.Equal(t, snapshot.CapacityAssumed, node.CapacitySource)
	}
	assert.Equal(t, "2h", snap.Namespaces[5].Age)
}

func TestSyntheticSnapshotsDoNotShareSlices(t *testing.T) {
	p := New("", zaptest.NewLogger(t))
	now := time.Now()

	first := p.SyntheticCluster(nil, now)
	first.Pods[0].Name = "mutated"
	first.Nodes = first.Nodes[:1]

	second := p.SyntheticCluster(nil, now)
	assert.NotEqual(t, "mutated", second.Pods[0].Name)
	assert.Len(t, second.Nodes, 3)
}

func TestSyntheticOverrideDirectory(t *testing.T) {
	dir := t.TempDir()
	override := `{"version":"v9.9.9","applications":[{"name":"only-app","syncStatus":"Synced","healthStatus":"Healthy","age":"1h"}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, gitOpsFile), []byte(override), 0o600))

	p := New(dir, zaptest.NewLogger(t))
	now := time.Now()

	gitops := p.SyntheticGitOps(errors.New("down"), now)
	assert.Equal(t, "v9.9.9", gitops.Version)
	require.Len(t, gitops.Applications, 1)
	assert.Equal(t, "only-app", gitops.Applications[0].Name)
	assert.NotNil(t, gitops.Applications[0].Resources)
	assert.NotNil(t, gitops.Projects)
	assert.Empty(t, gitops.Projects)

	// no cluster override: embedded copy
	cluster := p.SyntheticCluster(errors.New("down"), now)
	assert.Len(t, cluster.Pods, 6)
}

func TestSyntheticOverrideInvalidFallsBack(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, gitOpsFile), []byte("{not json"), 0o600))

	p := New(dir, zaptest.NewLogger(t))
	snap := p.SyntheticGitOps(errors.New("down"), time.Now())

	assert.Len(t, snap.Applications, 4)
}

func TestParseAge(t *testing.T) {
	assert.Equal(t, 3*24*time.Hour, parseAge("3d"))
	assert.Equal(t, 5*time.Hour, parseAge("5h"))
	assert.Equal(t, 12*time.Minute, parseAge("12m"))
	assert.Equal(t, time.Duration(0), parseAge("Just now"))
	assert.Equal(t, time.Duration(0), parseAge(""))
	assert.Equal(t, time.Duration(0), parseAge("xd"))
}
