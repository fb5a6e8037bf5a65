// Package aggregator builds snapshots by probing each backend and fanning out
// its fetchers. Fetcher failures are contained here: every entry point returns
// a snapshot, never an error.
package aggregator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	appsv1 "k8s.io/api/apps/v1"
	v1 "k8s.io/api/core/v1"
	metricsapi "k8s.io/metrics/pkg/apis/metrics/v1beta1"

	"github.com/aaronlmathis/kaptn-pulse/internal/gitops"
	"github.com/aaronlmathis/kaptn-pulse/internal/metrics"
	"github.com/aaronlmathis/kaptn-pulse/internal/policy"
	"github.com/aaronlmathis/kaptn-pulse/internal/settle"
	"github.com/aaronlmathis/kaptn-pulse/internal/snapshot"
)

// GitOpsAPI is the read side of the GitOps controller client
type GitOpsAPI interface {
	Version(ctx context.Context) (*gitops.VersionInfo, error)
	ListApplications(ctx context.Context, refresh bool) ([]gitops.Application, error)
	ListProjects(ctx context.Context) ([]gitops.Project, error)
	ListRepositories(ctx context.Context) ([]gitops.Repository, error)
}

// ClusterAPI is the read side of the cluster API
type ClusterAPI interface {
	Version(ctx context.Context) (string, error)
	ListPods(ctx context.Context, namespace string) ([]v1.Pod, error)
	ListServices(ctx context.Context, namespace string) ([]v1.Service, error)
	ListDeployments(ctx context.Context, namespace string) ([]appsv1.Deployment, error)
	ListNodes(ctx context.Context) ([]v1.Node, error)
	ListNamespaces(ctx context.Context) ([]v1.Namespace, error)
	ListPodMetrics(ctx context.Context, namespace string) ([]metricsapi.PodMetrics, error)
	ListNodeMetrics(ctx context.Context) ([]metricsapi.NodeMetrics, error)
}

// Fetcher kinds reported in failedKinds
const (
	KindApplications = "applications"
	KindProjects     = "projects"
	KindRepositories = "repositories"
	KindPods         = "pods"
	KindServices     = "services"
	KindDeployments  = "deployments"
	KindNodes        = "nodes"
	KindNamespaces   = "namespaces"
	KindPodMetrics   = "podMetrics"
	KindNodeMetrics  = "nodeMetrics"
)

// Options tunes a cycle
type Options struct {
	// FetchTimeout bounds the probe and every individual fetcher
	FetchTimeout time.Duration
	// Namespace scopes pods, services, deployments and pod metrics; empty means all
	Namespace string
	// AssumedCPUMillicores and AssumedMemoryMebibytes are the per-node capacity
	// used for usage percentages
	AssumedCPUMillicores   int64
	AssumedMemoryMebibytes int64
	// UseReportedCapacity prefers node-reported capacity when present
	UseReportedCapacity bool
}

// DefaultOptions returns the stock cycle settings
func DefaultOptions() Options {
	return Options{
		FetchTimeout:           10 * time.Second,
		AssumedCPUMillicores:   4000,
		AssumedMemoryMebibytes: 8192,
	}
}

// Aggregator runs poll cycles against both backends
type Aggregator struct {
	gitops  GitOpsAPI
	cluster ClusterAPI
	policy  *policy.Policy
	opts    Options
	logger  *zap.Logger
	now     func() time.Time
}

// New creates an aggregator
func New(gitopsAPI GitOpsAPI, clusterAPI ClusterAPI, pol *policy.Policy, opts Options, logger *zap.Logger) *Aggregator {
	defaults := DefaultOptions()
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaults.FetchTimeout
	}
	if opts.AssumedCPUMillicores <= 0 {
		opts.AssumedCPUMillicores = defaults.AssumedCPUMillicores
	}
	if opts.AssumedMemoryMebibytes <= 0 {
		opts.AssumedMemoryMebibytes = defaults.AssumedMemoryMebibytes
	}

	return &Aggregator{
		gitops:  gitopsAPI,
		cluster: clusterAPI,
		policy:  pol,
		opts:    opts,
		logger:  logger.Named("aggregator"),
		now:     time.Now,
	}
}

// Aggregate runs one cycle of both backends concurrently. force asks the
// GitOps controller to refresh applications before listing them.
func (a *Aggregator) Aggregate(ctx context.Context, force bool) snapshot.AggregatedSnapshot {
	var result snapshot.AggregatedSnapshot

	settle.All(ctx, 0,
		settle.Task{Name: snapshot.BackendGitOps, Run: func(ctx context.Context) error {
			result.GitOps = a.GitOps(ctx, force)
			return nil
		}},
		settle.Task{Name: snapshot.BackendCluster, Run: func(ctx context.Context) error {
			result.Cluster = a.Cluster(ctx)
			return nil
		}},
	)

	return result
}

// GitOps runs one GitOps cycle
func (a *Aggregator) GitOps(ctx context.Context, force bool) snapshot.GitOpsSnapshot {
	start := time.Now()

	var info *gitops.VersionInfo
	probeErr := a.probe(ctx, func(ctx context.Context) error {
		var err error
		info, err = a.gitops.Version(ctx)
		return err
	})
	if probeErr != nil {
		a.logger.Warn("GitOps controller unreachable, serving example data", zap.Error(probeErr))
		snap := a.policy.SyntheticGitOps(probeErr, a.now())
		a.finish(snapshot.BackendGitOps, snap.State, snap.Healthy, start)
		return snap
	}

	var (
		apps     []gitops.Application
		projects []gitops.Project
		repos    []gitops.Repository
	)
	outcomes := settle.All(ctx, a.opts.FetchTimeout,
		settle.Task{Name: KindApplications, Run: func(ctx context.Context) (err error) {
			apps, err = a.gitops.ListApplications(ctx, force)
			return err
		}},
		settle.Task{Name: KindProjects, Run: func(ctx context.Context) (err error) {
			projects, err = a.gitops.ListProjects(ctx)
			return err
		}},
		settle.Task{Name: KindRepositories, Run: func(ctx context.Context) (err error) {
			repos, err = a.gitops.ListRepositories(ctx)
			return err
		}},
	)
	failed := a.contain(snapshot.BackendGitOps, outcomes)

	now := a.now()
	snap := snapshot.GitOpsSnapshot{
		FailedKinds:  failed,
		Applications: mapApplications(apps, now),
		Projects:     mapProjects(projects),
		Repositories: mapRepositories(repos),
	}
	if info != nil {
		snap.Version = info.Version
	}
	snap.Stats = snapshot.ComputeGitOpsStats(snap.Applications, len(snap.Projects), len(snap.Repositories))
	snap.State, snap.Healthy = a.policy.Decide(failed)
	snap.LastUpdated = a.now()

	a.finish(snapshot.BackendGitOps, snap.State, snap.Healthy, start)
	return snap
}

// Cluster runs one cluster cycle
func (a *Aggregator) Cluster(ctx context.Context) snapshot.ClusterSnapshot {
	start := time.Now()

	var version string
	probeErr := a.probe(ctx, func(ctx context.Context) error {
		var err error
		version, err = a.cluster.Version(ctx)
		return err
	})
	if probeErr != nil {
		a.logger.Warn("Cluster API unreachable, serving example data", zap.Error(probeErr))
		snap := a.policy.SyntheticCluster(probeErr, a.now())
		a.finish(snapshot.BackendCluster, snap.State, snap.Healthy, start)
		return snap
	}

	ns := a.opts.Namespace
	var (
		pods        []v1.Pod
		services    []v1.Service
		deployments []appsv1.Deployment
		nodes       []v1.Node
		namespaces  []v1.Namespace
		podMetrics  []metricsapi.PodMetrics
		nodeMetrics []metricsapi.NodeMetrics
	)
	outcomes := settle.All(ctx, a.opts.FetchTimeout,
		settle.Task{Name: KindPods, Run: func(ctx context.Context) (err error) {
			pods, err = a.cluster.ListPods(ctx, ns)
			return err
		}},
		settle.Task{Name: KindServices, Run: func(ctx context.Context) (err error) {
			services, err = a.cluster.ListServices(ctx, ns)
			return err
		}},
		settle.Task{Name: KindDeployments, Run: func(ctx context.Context) (err error) {
			deployments, err = a.cluster.ListDeployments(ctx, ns)
			return err
		}},
		settle.Task{Name: KindNodes, Run: func(ctx context.Context) (err error) {
			nodes, err = a.cluster.ListNodes(ctx)
			return err
		}},
		settle.Task{Name: KindNamespaces, Run: func(ctx context.Context) (err error) {
			namespaces, err = a.cluster.ListNamespaces(ctx)
			return err
		}},
		settle.Task{Name: KindPodMetrics, Run: func(ctx context.Context) (err error) {
			podMetrics, err = a.cluster.ListPodMetrics(ctx, ns)
			return err
		}},
		settle.Task{Name: KindNodeMetrics, Run: func(ctx context.Context) (err error) {
			nodeMetrics, err = a.cluster.ListNodeMetrics(ctx)
			return err
		}},
	)
	failed := a.contain(snapshot.BackendCluster, outcomes)

	now := a.now()
	snap := snapshot.ClusterSnapshot{
		Version:     version,
		FailedKinds: failed,
		Pods:        mapPods(pods, podMetrics, now),
		Nodes:       a.mapNodes(nodes, nodeMetrics, now),
		Services:    mapServices(services, now),
		Deployments: mapDeployments(deployments, now),
		Namespaces:  mapNamespaces(namespaces, now),
	}
	snap.Stats = snapshot.ComputeClusterStats(snap.Pods, snap.Nodes, snap.Services, snap.Deployments, snap.Namespaces)
	snap.State, snap.Healthy = a.policy.Decide(failed)
	snap.LastUpdated = a.now()

	a.finish(snapshot.BackendCluster, snap.State, snap.Healthy, start)
	return snap
}

// probe runs a backend reachability check bounded by the fetch timeout
func (a *Aggregator) probe(ctx context.Context, check func(context.Context) error) error {
	outcome := settle.All(ctx, a.opts.FetchTimeout, settle.Task{Name: "probe", Run: check})
	return outcome[0].Err
}

// contain records fetcher failures and returns the failed kinds
func (a *Aggregator) contain(backend string, outcomes []settle.Outcome) []string {
	var combined error
	for _, o := range outcomes {
		if o.Err != nil {
			metrics.RecordFetchFailure(backend, o.Name)
			combined = multierr.Append(combined, fmt.Errorf("%s: %w", o.Name, o.Err))
		}
	}

	failed := settle.Failed(outcomes)
	if combined != nil {
		a.logger.Warn("Fetchers failed, serving partial data",
			zap.String("backend", backend),
			zap.Strings("failedKinds", failed),
			zap.Int("errors", len(multierr.Errors(combined))),
			zap.Error(combined))
	}
	return failed
}

func (a *Aggregator) finish(backend string, state snapshot.State, healthy bool, start time.Time) {
	duration := time.Since(start)
	metrics.RecordPollCycle(backend, string(state), duration)
	metrics.SetBackendHealthy(backend, healthy)
	a.logger.Debug("Cycle complete",
		zap.String("backend", backend),
		zap.String("state", string(state)),
		zap.Duration("duration", duration))
}
