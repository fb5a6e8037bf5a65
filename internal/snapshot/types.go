// Package snapshot holds the immutable read model produced by each poll cycle.
package snapshot

import "time"

// State is the degradation outcome of one backend for one cycle
type State string

const (
	// StateLive means the probe and every fetcher succeeded
	StateLive State = "live"
	// StatePartiallyLive means the probe succeeded but some fetchers failed
	StatePartiallyLive State = "partially_live"
	// StateSynthetic means the backend was unreachable and example data was substituted
	StateSynthetic State = "synthetic"
)

// Backend names used in logs, metrics and failed-kind reporting
const (
	BackendGitOps  = "gitops"
	BackendCluster = "cluster"
)

// AggregatedSnapshot is the combined result handed to consumers
type AggregatedSnapshot struct {
	GitOps  GitOpsSnapshot  `json:"gitops"`
	Cluster ClusterSnapshot `json:"cluster"`
}

// Healthy reports whether both halves were built from live data
func (s AggregatedSnapshot) Healthy() bool {
	return s.GitOps.Healthy && s.Cluster.Healthy
}

// GitOpsSnapshot is the GitOps controller half of a snapshot
type GitOpsSnapshot struct {
	State        State         `json:"state"`
	Healthy      bool          `json:"healthy"`
	Version      string        `json:"version,omitempty"`
	Error        string        `json:"error,omitempty"`
	FailedKinds  []string      `json:"failedKinds,omitempty"`
	Sequence     uint64        `json:"sequence"`
	LastUpdated  time.Time     `json:"lastUpdated"`
	Applications []Application `json:"applications"`
	Projects     []Project     `json:"projects"`
	Repositories []Repository  `json:"repositories"`
	Stats        GitOpsStats   `json:"stats"`
}

// Application is a flattened GitOps application
type Application struct {
	Name                 string            `json:"name"`
	Namespace            string            `json:"namespace"`
	UID                  string            `json:"uid,omitempty"`
	Project              string            `json:"project"`
	RepoURL              string            `json:"repoURL"`
	Path                 string            `json:"path,omitempty"`
	TargetRevision       string            `json:"targetRevision,omitempty"`
	Chart                string            `json:"chart,omitempty"`
	DestinationServer    string            `json:"destinationServer,omitempty"`
	DestinationNamespace string            `json:"destinationNamespace,omitempty"`
	DestinationName      string            `json:"destinationName,omitempty"`
	AutoSync             bool              `json:"autoSync"`
	Prune                bool              `json:"prune"`
	SelfHeal             bool              `json:"selfHeal"`
	SyncStatus           string            `json:"syncStatus"`
	SyncRevision         string            `json:"syncRevision,omitempty"`
	HealthStatus         string            `json:"healthStatus"`
	HealthMessage        string            `json:"healthMessage,omitempty"`
	Resources            []ManagedResource `json:"resources"`
	LastOperation        *Operation        `json:"lastOperation,omitempty"`
	ReconciledAt         *time.Time        `json:"reconciledAt,omitempty"`
	CreatedAt            time.Time         `json:"createdAt"`
	Age                  string            `json:"age"`
}

// ManagedResource is a resource owned by an application
type ManagedResource struct {
	Group        string `json:"group,omitempty"`
	Kind         string `json:"kind"`
	Namespace    string `json:"namespace,omitempty"`
	Name         string `json:"name"`
	SyncStatus   string `json:"syncStatus,omitempty"`
	HealthStatus string `json:"healthStatus,omitempty"`
}

// Operation is the last operation run against an application
type Operation struct {
	Phase      string     `json:"phase"`
	Message    string     `json:"message,omitempty"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Project is a GitOps project
type Project struct {
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	SourceRepos  []string      `json:"sourceRepos"`
	Destinations []Destination `json:"destinations"`
}

// Destination is an allowed deployment target
type Destination struct {
	Server    string `json:"server,omitempty"`
	Namespace string `json:"namespace,omitempty"`
	Name      string `json:"name,omitempty"`
}

// Repository is a configured source repository
type Repository struct {
	Repo              string `json:"repo"`
	Name              string `json:"name,omitempty"`
	Type              string `json:"type"`
	Project           string `json:"project,omitempty"`
	CredentialsType   string `json:"credentialsType"`
	ConnectionStatus  string `json:"connectionStatus,omitempty"`
	ConnectionMessage string `json:"connectionMessage,omitempty"`
}

// GitOpsStats are the counters derived from the application list
type GitOpsStats struct {
	Total         int            `json:"total"`
	Synced        int            `json:"synced"`
	OutOfSync     int            `json:"outOfSync"`
	SyncUnknown   int            `json:"syncUnknown"`
	Healthy       int            `json:"healthy"`
	Degraded      int            `json:"degraded"`
	Progressing   int            `json:"progressing"`
	Suspended     int            `json:"suspended"`
	Missing       int            `json:"missing"`
	HealthUnknown int            `json:"healthUnknown"`
	SyncBuckets   map[string]int `json:"syncBuckets"`
	HealthBuckets map[string]int `json:"healthBuckets"`
	HealthyRatio  float64        `json:"healthyRatio"`
	Projects      int            `json:"projects"`
	Repositories  int            `json:"repositories"`
}

// ClusterSnapshot is the cluster API half of a snapshot
type ClusterSnapshot struct {
	State       State        `json:"state"`
	Healthy     bool         `json:"healthy"`
	Version     string       `json:"version,omitempty"`
	Error       string       `json:"error,omitempty"`
	FailedKinds []string     `json:"failedKinds,omitempty"`
	Sequence    uint64       `json:"sequence"`
	LastUpdated time.Time    `json:"lastUpdated"`
	Pods        []Pod        `json:"pods"`
	Nodes       []Node       `json:"nodes"`
	Services    []Service    `json:"services"`
	Deployments []Deployment `json:"deployments"`
	Namespaces  []Namespace  `json:"namespaces"`
	Stats       ClusterStats `json:"stats"`
}

// Pod is a pod with its correlated usage
type Pod struct {
	Name            string    `json:"name"`
	Namespace       string    `json:"namespace"`
	Node            string    `json:"node,omitempty"`
	Phase           string    `json:"phase"`
	Images          []string  `json:"images"`
	ReadyContainers int       `json:"readyContainers"`
	TotalContainers int       `json:"totalContainers"`
	Ready           string    `json:"ready"`
	Restarts        int32     `json:"restarts"`
	CreatedAt       time.Time `json:"createdAt"`
	Age             string    `json:"age"`
	CPUUsage        string    `json:"cpuUsage"`
	MemoryUsage     string    `json:"memoryUsage"`
}

// Capacity sources for node percentages
const (
	CapacityAssumed  = "assumed"
	CapacityReported = "reported"
)

// Node roles
const (
	RoleControlPlane = "control-plane"
	RoleWorker       = "worker"
)

// Node is a node with its correlated usage. Percentages are computed against
// CapacitySource; "assumed" capacity is an approximation, not a measurement.
type Node struct {
	Name           string    `json:"name"`
	Ready          bool      `json:"ready"`
	Status         string    `json:"status"`
	Roles          []string  `json:"roles"`
	Role           string    `json:"role"`
	KubeletVersion string    `json:"kubeletVersion"`
	OSImage        string    `json:"osImage,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	Age            string    `json:"age"`
	CPUUsage       string    `json:"cpuUsage"`
	MemoryUsage    string    `json:"memoryUsage"`
	CPUCapacity    string    `json:"cpuCapacity"`
	MemoryCapacity string    `json:"memoryCapacity"`
	CPUPercent     float64   `json:"cpuPercent"`
	MemoryPercent  float64   `json:"memoryPercent"`
	CapacitySource string    `json:"capacitySource"`
}

// Service is a cluster service
type Service struct {
	Name      string    `json:"name"`
	Namespace string    `json:"namespace"`
	Type      string    `json:"type"`
	ClusterIP string    `json:"clusterIP,omitempty"`
	Ports     []string  `json:"ports"`
	CreatedAt time.Time `json:"createdAt"`
	Age       string    `json:"age"`
}

// Deployment is a deployment with replica readiness
type Deployment struct {
	Name      string    `json:"name"`
	Namespace string    `json:"namespace"`
	Desired   int32     `json:"desired"`
	Ready     int32     `json:"readyReplicas"`
	Available int32     `json:"available"`
	Updated   int32     `json:"updated"`
	Display   string    `json:"ready"`
	CreatedAt time.Time `json:"createdAt"`
	Age       string    `json:"age"`
}

// Namespace is a cluster namespace
type Namespace struct {
	Name      string    `json:"name"`
	Phase     string    `json:"phase"`
	CreatedAt time.Time `json:"createdAt"`
	Age       string    `json:"age"`
}

// ClusterStats are the counters derived from the cluster lists
type ClusterStats struct {
	TotalPods            int            `json:"totalPods"`
	RunningPods          int            `json:"runningPods"`
	PendingPods          int            `json:"pendingPods"`
	FailedPods           int            `json:"failedPods"`
	SucceededPods        int            `json:"succeededPods"`
	PhaseBuckets         map[string]int `json:"phaseBuckets"`
	RunningRatio         float64        `json:"runningRatio"`
	TotalRestarts        int64          `json:"totalRestarts"`
	TotalNodes           int            `json:"totalNodes"`
	ReadyNodes           int            `json:"readyNodes"`
	ControlPlaneNodes    int            `json:"controlPlaneNodes"`
	WorkerNodes          int            `json:"workerNodes"`
	Services             int            `json:"services"`
	Deployments          int            `json:"deployments"`
	AvailableDeployments int            `json:"availableDeployments"`
	Namespaces           int            `json:"namespaces"`
	AvgCPUPercent        float64        `json:"avgCpuPercent"`
	AvgMemoryPercent     float64        `json:"avgMemoryPercent"`
	Advisories           []string       `json:"advisories"`
}
