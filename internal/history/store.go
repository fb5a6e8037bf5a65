package history

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aaronlmathis/kaptn-pulse/internal/snapshot"
)

// Series keys
const (
	KeyGitOpsSynced       = "gitops.synced"
	KeyGitOpsOutOfSync    = "gitops.out_of_sync"
	KeyGitOpsDegraded     = "gitops.degraded"
	KeyGitOpsHealthyRatio = "gitops.healthy_ratio"
	KeyClusterCPU         = "cluster.cpu_percent"
	KeyClusterMemory      = "cluster.memory_percent"
	KeyClusterPodsRunning = "cluster.pods_running"
	KeyClusterNodesReady  = "cluster.nodes_ready"
	KeyClusterRestarts    = "cluster.restarts"
)

// Store records the statistics of each published snapshot. Synthetic halves
// are not recorded, and a half is recorded once per sequence number.
type Store struct {
	capacity int
	logger   *zap.Logger

	mu         sync.RWMutex
	series     map[string]*Series
	gitopsSeq  uint64
	clusterSeq uint64
}

// NewStore creates a store keeping capacity points per series
func NewStore(capacity int, logger *zap.Logger) *Store {
	if capacity <= 0 {
		capacity = 360
	}
	return &Store{
		capacity: capacity,
		logger:   logger.Named("history"),
		series:   make(map[string]*Series),
	}
}

// Record adds the statistics of s. It is meant to be registered as a
// snapshot subscriber.
func (st *Store) Record(s snapshot.AggregatedSnapshot) {
	st.mu.Lock()
	recordGitOps := s.GitOps.State != snapshot.StateSynthetic && s.GitOps.Sequence != st.gitopsSeq
	if recordGitOps {
		st.gitopsSeq = s.GitOps.Sequence
	}
	recordCluster := s.Cluster.State != snapshot.StateSynthetic && s.Cluster.Sequence != st.clusterSeq
	if recordCluster {
		st.clusterSeq = s.Cluster.Sequence
	}
	st.mu.Unlock()

	if recordGitOps {
		g, t := s.GitOps.Stats, s.GitOps.LastUpdated
		st.add(KeyGitOpsSynced, t, float64(g.Synced))
		st.add(KeyGitOpsOutOfSync, t, float64(g.OutOfSync))
		st.add(KeyGitOpsDegraded, t, float64(g.Degraded))
		st.add(KeyGitOpsHealthyRatio, t, g.HealthyRatio)
	}
	if recordCluster {
		c, t := s.Cluster.Stats, s.Cluster.LastUpdated
		st.add(KeyClusterCPU, t, c.AvgCPUPercent)
		st.add(KeyClusterMemory, t, c.AvgMemoryPercent)
		st.add(KeyClusterPodsRunning, t, float64(c.RunningPods))
		st.add(KeyClusterNodesReady, t, float64(c.ReadyNodes))
		st.add(KeyClusterRestarts, t, float64(c.TotalRestarts))
	}

	if recordGitOps || recordCluster {
		st.logger.Debug("Recorded snapshot statistics",
			zap.Bool("gitops", recordGitOps),
			zap.Bool("cluster", recordCluster))
	}
}

func (st *Store) add(key string, t time.Time, v float64) {
	st.upsert(key).Add(Point{T: t, V: v})
}

func (st *Store) upsert(key string) *Series {
	st.mu.Lock()
	defer st.mu.Unlock()

	series, ok := st.series[key]
	if !ok {
		series = NewSeries(st.capacity)
		st.series[key] = series
	}
	return series
}

// Get returns the points of one series since the given time
func (st *Store) Get(key string, since time.Time) ([]Point, bool) {
	st.mu.RLock()
	series, ok := st.series[key]
	st.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return series.Since(since), true
}

// All returns every series since the given time, keyed by series key
func (st *Store) All(since time.Time) map[string][]Point {
	result := make(map[string][]Point)
	for _, key := range st.Keys() {
		if points, ok := st.Get(key, since); ok {
			result[key] = points
		}
	}
	return result
}

// Keys returns the recorded series keys, sorted
func (st *Store) Keys() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()

	keys := make([]string, 0, len(st.series))
	for key := range st.series {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
