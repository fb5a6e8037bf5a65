package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the aggregator and its HTTP surface
var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaptn_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kaptn_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status_code"},
	)

	// GitOps controller call metrics
	gitopsRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaptn_gitops_requests_total",
			Help: "Total number of requests to the GitOps controller API",
		},
		[]string{"method", "outcome"},
	)

	gitopsRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kaptn_gitops_request_duration_seconds",
			Help:    "GitOps controller API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "outcome"},
	)

	gitopsReauthTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaptn_gitops_reauthentications_total",
			Help: "Total number of GitOps session logins",
		},
		[]string{"status"},
	)

	// Poll cycle metrics
	pollCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaptn_poll_cycles_total",
			Help: "Total number of completed poll cycles",
		},
		[]string{"backend", "state"},
	)

	pollCycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kaptn_poll_cycle_duration_seconds",
			Help:    "Poll cycle duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		},
		[]string{"backend"},
	)

	fetchFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaptn_fetch_failures_total",
			Help: "Total number of failed resource fetches",
		},
		[]string{"backend", "kind"},
	)

	staleCyclesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaptn_stale_cycles_dropped_total",
			Help: "Total number of cycle results dropped because a newer cycle had already published",
		},
		[]string{"backend"},
	)

	backendHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kaptn_backend_healthy",
			Help: "Whether the last published snapshot for a backend was built from live data (1) or synthetic data (0)",
		},
		[]string{"backend"},
	)

	// WebSocket metrics
	websocketConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaptn_websocket_connections_total",
			Help: "Total number of WebSocket connections",
		},
		[]string{"stream_type"},
	)

	websocketConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kaptn_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
		[]string{"stream_type"},
	)

	// Rate limiting metrics
	rateLimitedRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaptn_rate_limited_requests_total",
			Help: "Total number of rate limited requests",
		},
		[]string{"endpoint"},
	)

	// Imperative GitOps actions
	actionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaptn_gitops_actions_total",
			Help: "Total number of imperative GitOps actions",
		},
		[]string{"action", "status"},
	)

	// Snapshot gauges
	clusterCPUUsagePercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kaptn_cluster_cpu_usage_percent",
			Help: "Average node CPU usage percentage",
		},
	)

	clusterMemoryUsagePercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kaptn_cluster_memory_usage_percent",
			Help: "Average node memory usage percentage",
		},
	)

	clusterPodsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kaptn_cluster_pods_running",
			Help: "Number of running pods in cluster",
		},
	)

	clusterPodsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kaptn_cluster_pods_total",
			Help: "Total number of pods in cluster",
		},
	)

	clusterNodesReady = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kaptn_cluster_nodes_ready",
			Help: "Number of ready nodes in cluster",
		},
	)

	clusterNodesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kaptn_cluster_nodes_total",
			Help: "Total number of nodes in cluster",
		},
	)

	gitopsApplications = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kaptn_gitops_applications",
			Help: "Number of GitOps applications by bucket",
		},
		[]string{"bucket"},
	)
)

// RecordHTTPRequest records metrics for HTTP requests
func RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	labels := prometheus.Labels{
		"method":      method,
		"path":        path,
		"status_code": strconv.Itoa(statusCode),
	}

	httpRequestsTotal.With(labels).Inc()
	httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// RecordGitOpsRequest records one call to the GitOps controller.
// outcome is a status code, "transport" or "error".
func RecordGitOpsRequest(method, outcome string, duration time.Duration) {
	labels := prometheus.Labels{
		"method":  method,
		"outcome": outcome,
	}

	gitopsRequestsTotal.With(labels).Inc()
	gitopsRequestDuration.With(labels).Observe(duration.Seconds())
}

// RecordReauthentication records a GitOps session login attempt
func RecordReauthentication(success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	gitopsReauthTotal.With(prometheus.Labels{"status": status}).Inc()
}

// RecordPollCycle records a completed poll cycle for a backend
func RecordPollCycle(backend, state string, duration time.Duration) {
	pollCyclesTotal.With(prometheus.Labels{"backend": backend, "state": state}).Inc()
	pollCycleDuration.With(prometheus.Labels{"backend": backend}).Observe(duration.Seconds())
}

// RecordFetchFailure records a failed resource fetch
func RecordFetchFailure(backend, kind string) {
	fetchFailuresTotal.With(prometheus.Labels{"backend": backend, "kind": kind}).Inc()
}

// RecordStaleCycleDropped records a cycle result that lost the publish race
func RecordStaleCycleDropped(backend string) {
	staleCyclesDroppedTotal.With(prometheus.Labels{"backend": backend}).Inc()
}

// SetBackendHealthy records whether a backend's published snapshot is live
func SetBackendHealthy(backend string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	backendHealthy.With(prometheus.Labels{"backend": backend}).Set(v)
}

// RecordWebSocketConnection records WebSocket connection metrics
func RecordWebSocketConnection(streamType string) {
	websocketConnectionsTotal.With(prometheus.Labels{"stream_type": streamType}).Inc()
	websocketConnectionsActive.With(prometheus.Labels{"stream_type": streamType}).Inc()
}

// RecordWebSocketDisconnection records WebSocket disconnection metrics
func RecordWebSocketDisconnection(streamType string) {
	websocketConnectionsActive.With(prometheus.Labels{"stream_type": streamType}).Dec()
}

// RecordRateLimitedRequest records rate limiting metrics
func RecordRateLimitedRequest(endpoint string) {
	rateLimitedRequestsTotal.With(prometheus.Labels{"endpoint": endpoint}).Inc()
}

// RecordAction records the outcome of an imperative GitOps action
func RecordAction(action string, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	actionsTotal.With(prometheus.Labels{"action": action, "status": status}).Inc()
}

// UpdateClusterMetrics updates cluster-level gauges from the published snapshot
func UpdateClusterMetrics(cpuPercent, memoryPercent float64, podsRunning, podsTotal, nodesReady, nodesTotal int) {
	clusterCPUUsagePercent.Set(cpuPercent)
	clusterMemoryUsagePercent.Set(memoryPercent)
	clusterPodsRunning.Set(float64(podsRunning))
	clusterPodsTotal.Set(float64(podsTotal))
	clusterNodesReady.Set(float64(nodesReady))
	clusterNodesTotal.Set(float64(nodesTotal))
}

// UpdateGitOpsMetrics updates application gauges from the published snapshot
func UpdateGitOpsMetrics(total, synced, outOfSync, healthy, degraded int) {
	gitopsApplications.With(prometheus.Labels{"bucket": "total"}).Set(float64(total))
	gitopsApplications.With(prometheus.Labels{"bucket": "synced"}).Set(float64(synced))
	gitopsApplications.With(prometheus.Labels{"bucket": "out_of_sync"}).Set(float64(outOfSync))
	gitopsApplications.With(prometheus.Labels{"bucket": "healthy"}).Set(float64(healthy))
	gitopsApplications.With(prometheus.Labels{"bucket": "degraded"}).Set(float64(degraded))
}
