// Package policy decides the degradation state of each backend and supplies
// the example dataset substituted when a backend cannot be reached.
package policy

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/aaronlmathis/kaptn-pulse/internal/snapshot"
	"github.com/aaronlmathis/kaptn-pulse/internal/units"
)

//go:embed data/*.json
var embedded embed.FS

const (
	gitOpsFile  = "gitops.json"
	clusterFile = "cluster.json"
)

type gitOpsDataset struct {
	Version      string                 `json:"version"`
	Applications []snapshot.Application `json:"applications"`
	Projects     []snapshot.Project     `json:"projects"`
	Repositories []snapshot.Repository  `json:"repositories"`
}

type clusterDataset struct {
	Version     string                `json:"version"`
	Pods        []snapshot.Pod        `json:"pods"`
	Nodes       []snapshot.Node       `json:"nodes"`
	Services    []snapshot.Service    `json:"services"`
	Deployments []snapshot.Deployment `json:"deployments"`
	Namespaces  []snapshot.Namespace  `json:"namespaces"`
}

// Policy stamps cycle outcomes and builds synthetic snapshots
type Policy struct {
	syntheticDir string
	logger       *zap.Logger
}

// New creates a degradation policy. syntheticDir may be empty, in which case
// only the embedded dataset is used.
func New(syntheticDir string, logger *zap.Logger) *Policy {
	return &Policy{
		syntheticDir: syntheticDir,
		logger:       logger.Named("policy"),
	}
}

// Decide maps the failed fetcher kinds of a cycle whose probe succeeded onto
// a state and the healthy flag. A failed probe yields SyntheticGitOps or
// SyntheticCluster instead.
func (p *Policy) Decide(failedKinds []string) (snapshot.State, bool) {
	if len(failedKinds) > 0 {
		return snapshot.StatePartiallyLive, true
	}
	return snapshot.StateLive, true
}

// SyntheticGitOps returns the example GitOps half, decoded fresh on every call
func (p *Policy) SyntheticGitOps(probeErr error, now time.Time) snapshot.GitOpsSnapshot {
	var ds gitOpsDataset
	p.load(gitOpsFile, &ds)

	apps := nonNil(ds.Applications)
	for i := range apps {
		apps[i].CreatedAt, apps[i].Age = backdate(apps[i].Age, now)
		if apps[i].Resources == nil {
			apps[i].Resources = []snapshot.ManagedResource{}
		}
	}
	projects := nonNil(ds.Projects)
	repos := nonNil(ds.Repositories)

	return snapshot.GitOpsSnapshot{
		State:        snapshot.StateSynthetic,
		Healthy:      false,
		Version:      ds.Version,
		Error:        errorText(probeErr),
		LastUpdated:  now,
		Applications: apps,
		Projects:     projects,
		Repositories: repos,
		Stats:        snapshot.ComputeGitOpsStats(apps, len(projects), len(repos)),
	}
}

// SyntheticCluster returns the example cluster half, decoded fresh on every call
func (p *Policy) SyntheticCluster(probeErr error, now time.Time) snapshot.ClusterSnapshot {
	var ds clusterDataset
	p.load(clusterFile, &ds)

	pods := nonNil(ds.Pods)
	for i := range pods {
		pods[i].CreatedAt, pods[i].Age = backdate(pods[i].Age, now)
	}
	nodes := nonNil(ds.Nodes)
	for i := range nodes {
		nodes[i].CreatedAt, nodes[i].Age = backdate(nodes[i].Age, now)
	}
	services := nonNil(ds.Services)
	for i := range services {
		services[i].CreatedAt, services[i].Age = backdate(services[i].Age, now)
	}
	deployments := nonNil(ds.Deployments)
	for i := range deployments {
		deployments[i].CreatedAt, deployments[i].Age = backdate(deployments[i].Age, now)
	}
	namespaces := nonNil(ds.Namespaces)
	for i := range namespaces {
		namespaces[i].CreatedAt, namespaces[i].Age = backdate(namespaces[i].Age, now)
	}

	return snapshot.ClusterSnapshot{
		State:       snapshot.StateSynthetic,
		Healthy:     false,
		Version:     ds.Version,
		Error:       errorText(probeErr),
		LastUpdated: now,
		Pods:        pods,
		Nodes:       nodes,
		Services:    services,
		Deployments: deployments,
		Namespaces:  namespaces,
		Stats:       snapshot.ComputeClusterStats(pods, nodes, services, deployments, namespaces),
	}
}

// load decodes the override file when one exists, otherwise the embedded copy
func (p *Policy) load(name string, v interface{}) {
	if p.syntheticDir != "" {
		path := filepath.Join(p.syntheticDir, name)
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			decodeErr := json.Unmarshal(data, v)
			if decodeErr == nil {
				return
			}
			p.logger.Warn("Invalid synthetic dataset override, using built-in copy",
				zap.String("path", path), zap.Error(decodeErr))
		case errors.Is(err, os.ErrNotExist):
			p.logger.Debug("No synthetic dataset override", zap.String("path", path))
		default:
			p.logger.Warn("Failed to read synthetic dataset override, using built-in copy",
				zap.String("path", path), zap.Error(err))
		}
	}

	data, err := embedded.ReadFile("data/" + name)
	if err != nil {
		// the embedded files are part of the binary
		panic(fmt.Sprintf("embedded dataset %s missing: %v", name, err))
	}
	if err := json.Unmarshal(data, v); err != nil {
		panic(fmt.Sprintf("embedded dataset %s is invalid: %v", name, err))
	}
}

// backdate turns a stored age ("3d", "5h", "12m") into a creation time
// relative to now and returns the re-rendered age
func backdate(age string, now time.Time) (time.Time, string) {
	created := now.Add(-parseAge(age))
	return created, units.Age(created, now)
}

func parseAge(age string) time.Duration {
	if len(age) < 2 {
		return 0
	}
	n, err := strconv.Atoi(age[:len(age)-1])
	if err != nil || n < 0 {
		return 0
	}
	switch age[len(age)-1] {
	case 'd':
		return time.Duration(n) * 24 * time.Hour
	case 'h':
		return time.Duration(n) * time.Hour
	case 'm':
		return time.Duration(n) * time.Minute
	default:
		return 0
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
