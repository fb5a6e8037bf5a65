package gitops

import (
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Sync status values reported by the controller
const (
	SyncStatusSynced    = "Synced"
	SyncStatusOutOfSync = "OutOfSync"
	SyncStatusUnknown   = "Unknown"
)

// Health status values reported by the controller
const (
	HealthStatusHealthy     = "Healthy"
	HealthStatusProgressing = "Progressing"
	HealthStatusDegraded    = "Degraded"
	HealthStatusSuspended   = "Suspended"
	HealthStatusMissing     = "Missing"
	HealthStatusUnknown     = "Unknown"
)

// Application is the subset of the controller's Application resource the aggregator reads
type Application struct {
	metav1.ObjectMeta `json:"metadata"`
	Spec              ApplicationSpec   `json:"spec"`
	Status            ApplicationStatus `json:"status"`
}

// ApplicationSpec is the desired state of an application
type ApplicationSpec struct {
	Source      *ApplicationSource     `json:"source,omitempty"`
	Sources     []ApplicationSource    `json:"sources,omitempty"`
	Destination ApplicationDestination `json:"destination"`
	Project     string                 `json:"project"`
	SyncPolicy  *SyncPolicy            `json:"syncPolicy,omitempty"`
}

// PrimarySource returns the single source, or the first of a multi-source application
func (s ApplicationSpec) PrimarySource() ApplicationSource {
	if s.Source != nil {
		return *s.Source
	}
	if len(s.Sources) > 0 {
		return s.Sources[0]
	}
	return ApplicationSource{}
}

// ApplicationSource holds repository information where application manifests are located
type ApplicationSource struct {
	RepoURL        string `json:"repoURL"`
	Path           string `json:"path,omitempty"`
	TargetRevision string `json:"targetRevision,omitempty"`
	Chart          string `json:"chart,omitempty"`
}

// ApplicationDestination defines the cluster and namespace where the application is deployed
type ApplicationDestination struct {
	Server    string `json:"server,omitempty"`
	Namespace string `json:"namespace,omitempty"`
	Name      string `json:"name,omitempty"`
}

// SyncPolicy controls when a sync will be performed
type SyncPolicy struct {
	Automated *SyncPolicyAutomated `json:"automated,omitempty"`
}

// SyncPolicyAutomated controls the behavior of an automated sync
type SyncPolicyAutomated struct {
	Prune    bool `json:"prune,omitempty"`
	SelfHeal bool `json:"selfHeal,omitempty"`
}

// ApplicationStatus is the observed state of an application
type ApplicationStatus struct {
	Sync           SyncStatus       `json:"sync"`
	Health         HealthStatus     `json:"health"`
	Resources      []ResourceStatus `json:"resources,omitempty"`
	OperationState *OperationState  `json:"operationState,omitempty"`
	ReconciledAt   *metav1.Time     `json:"reconciledAt,omitempty"`
}

// SyncStatus holds the sync state of the application
type SyncStatus struct {
	Status   string `json:"status"`
	Revision string `json:"revision,omitempty"`
}

// HealthStatus holds the health state of an application or resource
type HealthStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ResourceStatus is a managed resource as reported in the application status
type ResourceStatus struct {
	Group     string        `json:"group,omitempty"`
	Version   string        `json:"version,omitempty"`
	Kind      string        `json:"kind"`
	Namespace string        `json:"namespace,omitempty"`
	Name      string        `json:"name"`
	Status    string        `json:"status,omitempty"`
	Health    *HealthStatus `json:"health,omitempty"`
}

// OperationState records the last operation run against an application
type OperationState struct {
	Phase      string       `json:"phase"`
	Message    string       `json:"message,omitempty"`
	StartedAt  metav1.Time  `json:"startedAt"`
	FinishedAt *metav1.Time `json:"finishedAt,omitempty"`
}

// Project is an AppProject
type Project struct {
	metav1.ObjectMeta `json:"metadata"`
	Spec              ProjectSpec `json:"spec"`
}

// ProjectSpec lists what a project allows
type ProjectSpec struct {
	Description  string                   `json:"description,omitempty"`
	SourceRepos  []string                 `json:"sourceRepos,omitempty"`
	Destinations []ApplicationDestination `json:"destinations,omitempty"`
}

// Repository is a configured source repository. Secret fields are redacted by the controller.
type Repository struct {
	Repo            string           `json:"repo"`
	Name            string           `json:"name,omitempty"`
	Type            string           `json:"type,omitempty"`
	Project         string           `json:"project,omitempty"`
	Username        string           `json:"username,omitempty"`
	InheritedCreds  bool             `json:"inheritedCreds,omitempty"`
	Insecure        bool             `json:"insecure,omitempty"`
	ConnectionState *ConnectionState `json:"connectionState,omitempty"`
}

// ConnectionState is the controller's view of a repository connection
type ConnectionState struct {
	Status      string       `json:"status"`
	Message     string       `json:"message,omitempty"`
	AttemptedAt *metav1.Time `json:"attemptedAt,omitempty"`
}

// Credentials types derived from a repository
const (
	CredentialsNone  = "none"
	CredentialsHTTPS = "https"
	CredentialsSSH   = "ssh"
)

// CredentialsType classifies how the controller authenticates to the repository
func (r Repository) CredentialsType() string {
	url := strings.ToLower(r.Repo)
	switch {
	case strings.HasPrefix(url, "ssh://"), strings.HasPrefix(url, "git@"):
		return CredentialsSSH
	case r.Username != "" || r.InheritedCreds:
		return CredentialsHTTPS
	default:
		return CredentialsNone
	}
}

// RepoType returns the repository type, defaulting to git
func (r Repository) RepoType() string {
	if r.Type == "" {
		return "git"
	}
	return r.Type
}

// VersionInfo is the body of GET /api/version
type VersionInfo struct {
	Version   string `json:"Version"`
	BuildDate string `json:"BuildDate,omitempty"`
	GitCommit string `json:"GitCommit,omitempty"`
	Platform  string `json:"Platform,omitempty"`
}

// SyncRequest is the body of POST /api/v1/applications/{name}/sync
type SyncRequest struct {
	Revision string `json:"revision,omitempty"`
	Prune    bool   `json:"prune,omitempty"`
	DryRun   bool   `json:"dryRun,omitempty"`
}

// ResourceActionRequest identifies a resource action to run inside an application
type ResourceActionRequest struct {
	Namespace    string `json:"namespace"`
	ResourceName string `json:"resourceName"`
	Group        string `json:"group"`
	Version      string `json:"version"`
	Kind         string `json:"kind"`
	Action       string `json:"action"`
}

type sessionRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token string `json:"token"`
}

type itemList[T any] struct {
	Items []T `json:"items"`
}
