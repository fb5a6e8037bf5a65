package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aaronlmathis/kaptn-pulse/internal/metrics"
	"github.com/aaronlmathis/kaptn-pulse/internal/settle"
	"github.com/aaronlmathis/kaptn-pulse/internal/snapshot"
)

// Aggregator produces the per-backend halves of a snapshot
type Aggregator interface {
	GitOps(ctx context.Context, force bool) snapshot.GitOpsSnapshot
	Cluster(ctx context.Context) snapshot.ClusterSnapshot
}

// Config holds the poll intervals of both backends
type Config struct {
	GitOpsInterval  time.Duration
	ClusterInterval time.Duration
}

// Poller composes one loop per backend and publishes the combined snapshot
// once both halves have been produced at least once
type Poller struct {
	gitops  *Loop[snapshot.GitOpsSnapshot]
	cluster *Loop[snapshot.ClusterSnapshot]
	logger  *zap.Logger

	mu          sync.RWMutex
	current     snapshot.AggregatedSnapshot
	haveGitOps  bool
	haveCluster bool
	subscribers []func(snapshot.AggregatedSnapshot)

	notifyMu sync.Mutex
}

// NewPoller creates a poller over agg
func NewPoller(agg Aggregator, cfg Config, logger *zap.Logger) *Poller {
	if cfg.GitOpsInterval <= 0 {
		cfg.GitOpsInterval = 30 * time.Second
	}
	if cfg.ClusterInterval <= 0 {
		cfg.ClusterInterval = 30 * time.Second
	}

	p := &Poller{logger: logger.Named("poller")}

	p.gitops = NewLoop[snapshot.GitOpsSnapshot](snapshot.BackendGitOps, cfg.GitOpsInterval,
		agg.GitOps,
		func(s snapshot.GitOpsSnapshot, seq uint64) snapshot.GitOpsSnapshot {
			s.Sequence = seq
			return s
		}, logger)
	p.cluster = NewLoop[snapshot.ClusterSnapshot](snapshot.BackendCluster, cfg.ClusterInterval,
		func(ctx context.Context, _ bool) snapshot.ClusterSnapshot {
			return agg.Cluster(ctx)
		},
		func(s snapshot.ClusterSnapshot, seq uint64) snapshot.ClusterSnapshot {
			s.Sequence = seq
			return s
		}, logger)

	p.gitops.Subscribe(func(s snapshot.GitOpsSnapshot) {
		p.mu.Lock()
		p.current.GitOps = s
		p.haveGitOps = true
		p.mu.Unlock()
		metrics.UpdateGitOpsMetrics(s.Stats.Total, s.Stats.Synced, s.Stats.OutOfSync, s.Stats.Healthy, s.Stats.Degraded)
		p.notify()
	})
	p.cluster.Subscribe(func(s snapshot.ClusterSnapshot) {
		p.mu.Lock()
		p.current.Cluster = s
		p.haveCluster = true
		p.mu.Unlock()
		metrics.UpdateClusterMetrics(s.Stats.AvgCPUPercent, s.Stats.AvgMemoryPercent,
			s.Stats.RunningPods, s.Stats.TotalPods, s.Stats.ReadyNodes, s.Stats.TotalNodes)
		p.notify()
	})

	return p
}

// Subscribe registers fn to receive every published combined snapshot.
// fn must not call back into the poller's refresh methods.
func (p *Poller) Subscribe(fn func(snapshot.AggregatedSnapshot)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = append(p.subscribers, fn)
}

// Current returns the published snapshot
func (p *Poller) Current() snapshot.AggregatedSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Ready reports whether both halves have been published
func (p *Poller) Ready() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.haveGitOps && p.haveCluster
}

// Start starts both loops
func (p *Poller) Start(ctx context.Context) {
	p.gitops.Start(ctx)
	p.cluster.Start(ctx)
}

// Stop stops both loops and waits for their in-flight cycles
func (p *Poller) Stop() {
	p.gitops.Stop()
	p.cluster.Stop()
}

// RefreshNow runs an out-of-band cycle of both backends, joining any cycle
// already in flight, and returns the combined result
func (p *Poller) RefreshNow(ctx context.Context, force bool) snapshot.AggregatedSnapshot {
	return p.both(ctx,
		func(ctx context.Context) snapshot.GitOpsSnapshot { return p.gitops.RefreshNow(ctx, force) },
		func(ctx context.Context) snapshot.ClusterSnapshot { return p.cluster.RefreshNow(ctx, false) })
}

// Supersede runs fresh cycles of both backends even when cycles are in flight
func (p *Poller) Supersede(ctx context.Context, force bool) snapshot.AggregatedSnapshot {
	return p.both(ctx,
		func(ctx context.Context) snapshot.GitOpsSnapshot { return p.gitops.Supersede(ctx, force) },
		func(ctx context.Context) snapshot.ClusterSnapshot { return p.cluster.Supersede(ctx, false) })
}

// ScheduleRefresh supersedes both backends after delay
func (p *Poller) ScheduleRefresh(delay time.Duration) {
	p.gitops.ScheduleRefresh(delay)
	p.cluster.ScheduleRefresh(delay)
}

func (p *Poller) both(ctx context.Context,
	gitopsFn func(context.Context) snapshot.GitOpsSnapshot,
	clusterFn func(context.Context) snapshot.ClusterSnapshot,
) snapshot.AggregatedSnapshot {
	var result snapshot.AggregatedSnapshot
	settle.All(ctx, 0,
		settle.Task{Name: snapshot.BackendGitOps, Run: func(ctx context.Context) error {
			result.GitOps = gitopsFn(ctx)
			return nil
		}},
		settle.Task{Name: snapshot.BackendCluster, Run: func(ctx context.Context) error {
			result.Cluster = clusterFn(ctx)
			return nil
		}},
	)
	return result
}

func (p *Poller) notify() {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.RLock()
	if !p.haveGitOps || !p.haveCluster {
		p.mu.RUnlock()
		return
	}
	current := p.current
	subscribers := append([]func(snapshot.AggregatedSnapshot){}, p.subscribers...)
	p.mu.RUnlock()

	p.logger.Debug("Publishing snapshot",
		zap.Uint64("gitopsSequence", current.GitOps.Sequence),
		zap.Uint64("clusterSequence", current.Cluster.Sequence),
		zap.Bool("healthy", current.Healthy()))

	for _, fn := range subscribers {
		fn(current)
	}
}
