package aggregator

import (
	"fmt"
	"slices"
	"strings"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	metricsapi "k8s.io/metrics/pkg/apis/metrics/v1beta1"

	"github.com/aaronlmathis/kaptn-pulse/internal/gitops"
	"github.com/aaronlmathis/kaptn-pulse/internal/snapshot"
	"github.com/aaronlmathis/kaptn-pulse/internal/units"
)

const nodeRoleLabelPrefix = "node-role.kubernetes.io/"

func mapApplications(apps []gitops.Application, now time.Time) []snapshot.Application {
	out := make([]snapshot.Application, 0, len(apps))
	for _, app := range apps {
		source := app.Spec.PrimarySource()
		item := snapshot.Application{
			Name:                 app.Name,
			Namespace:            app.Namespace,
			UID:                  string(app.UID),
			Project:              app.Spec.Project,
			RepoURL:              source.RepoURL,
			Path:                 source.Path,
			TargetRevision:       source.TargetRevision,
			Chart:                source.Chart,
			DestinationServer:    app.Spec.Destination.Server,
			DestinationNamespace: app.Spec.Destination.Namespace,
			DestinationName:      app.Spec.Destination.Name,
			SyncStatus:           statusOrUnknown(app.Status.Sync.Status),
			SyncRevision:         app.Status.Sync.Revision,
			HealthStatus:         statusOrUnknown(app.Status.Health.Status),
			HealthMessage:        app.Status.Health.Message,
			Resources:            mapManagedResources(app.Status.Resources),
			CreatedAt:            app.CreationTimestamp.Time,
			Age:                  units.Age(app.CreationTimestamp.Time, now),
		}

		if policy := app.Spec.SyncPolicy; policy != nil && policy.Automated != nil {
			item.AutoSync = true
			item.Prune = policy.Automated.Prune
			item.SelfHeal = policy.Automated.SelfHeal
		}
		if op := app.Status.OperationState; op != nil {
			item.LastOperation = &snapshot.Operation{
				Phase:      op.Phase,
				Message:    op.Message,
				StartedAt:  timePtr(&op.StartedAt),
				FinishedAt: timePtr(op.FinishedAt),
			}
		}
		item.ReconciledAt = timePtr(app.Status.ReconciledAt)

		out = append(out, item)
	}
	return out
}

func mapManagedResources(resources []gitops.ResourceStatus) []snapshot.ManagedResource {
	out := make([]snapshot.ManagedResource, 0, len(resources))
	for _, r := range resources {
		item := snapshot.ManagedResource{
			Group:      r.Group,
			Kind:       r.Kind,
			Namespace:  r.Namespace,
			Name:       r.Name,
			SyncStatus: r.Status,
		}
		if r.Health != nil {
			item.HealthStatus = r.Health.Status
		}
		out = append(out, item)
	}
	return out
}

func mapProjects(projects []gitops.Project) []snapshot.Project {
	out := make([]snapshot.Project, 0, len(projects))
	for _, p := range projects {
		destinations := make([]snapshot.Destination, 0, len(p.Spec.Destinations))
		for _, d := range p.Spec.Destinations {
			destinations = append(destinations, snapshot.Destination{Server: d.Server, Namespace: d.Namespace, Name: d.Name})
		}
		sourceRepos := p.Spec.SourceRepos
		if sourceRepos == nil {
			sourceRepos = []string{}
		}
		out = append(out, snapshot.Project{
			Name:         p.Name,
			Description:  p.Spec.Description,
			SourceRepos:  sourceRepos,
			Destinations: destinations,
		})
	}
	return out
}

func mapRepositories(repos []gitops.Repository) []snapshot.Repository {
	out := make([]snapshot.Repository, 0, len(repos))
	for _, r := range repos {
		item := snapshot.Repository{
			Repo:            r.Repo,
			Name:            r.Name,
			Type:            r.RepoType(),
			Project:         r.Project,
			CredentialsType: r.CredentialsType(),
		}
		if r.ConnectionState != nil {
			item.ConnectionStatus = r.ConnectionState.Status
			item.ConnectionMessage = r.ConnectionState.Message
		}
		out = append(out, item)
	}
	return out
}

// usage is a normalized CPU/memory pair
type usage struct {
	cpuMillicores int64
	memoryMi      int64
}

func (u usage) cpu() string    { return units.FormatMillicores(u.cpuMillicores) }
func (u usage) memory() string { return units.FormatMebibytes(u.memoryMi) }

func quantityUsage(list v1.ResourceList) usage {
	var u usage
	if q, ok := list[v1.ResourceCPU]; ok {
		u.cpuMillicores = units.ParseMillicores(units.NormalizeCPU(q.String()))
	}
	if q, ok := list[v1.ResourceMemory]; ok {
		u.memoryMi = units.ParseMebibytes(units.NormalizeMemory(q.String()))
	}
	return u
}

func podKey(namespace, name string) string {
	return namespace + "/" + name
}

// mapPods correlates pods with pod metrics by namespace and name. A pod with
// no metrics entry reports zero usage.
func mapPods(pods []v1.Pod, podMetrics []metricsapi.PodMetrics, now time.Time) []snapshot.Pod {
	usageByPod := make(map[string]usage, len(podMetrics))
	for _, pm := range podMetrics {
		var total usage
		for _, c := range pm.Containers {
			u := quantityUsage(c.Usage)
			total.cpuMillicores += u.cpuMillicores
			total.memoryMi += u.memoryMi
		}
		usageByPod[podKey(pm.Namespace, pm.Name)] = total
	}

	out := make([]snapshot.Pod, 0, len(pods))
	for _, pod := range pods {
		images := make([]string, 0, len(pod.Spec.Containers))
		for _, c := range pod.Spec.Containers {
			images = append(images, c.Image)
		}

		readyContainers := 0
		var restarts int32
		for _, cs := range pod.Status.ContainerStatuses {
			if cs.Ready {
				readyContainers++
			}
			restarts += cs.RestartCount
		}
		totalContainers := len(pod.Spec.Containers)

		u := usageByPod[podKey(pod.Namespace, pod.Name)]
		out = append(out, snapshot.Pod{
			Name:            pod.Name,
			Namespace:       pod.Namespace,
			Node:            pod.Spec.NodeName,
			Phase:           string(pod.Status.Phase),
			Images:          images,
			ReadyContainers: readyContainers,
			TotalContainers: totalContainers,
			Ready:           fmt.Sprintf("%d/%d", readyContainers, totalContainers),
			Restarts:        restarts,
			CreatedAt:       pod.CreationTimestamp.Time,
			Age:             units.Age(pod.CreationTimestamp.Time, now),
			CPUUsage:        u.cpu(),
			MemoryUsage:     u.memory(),
		})
	}
	return out
}

// mapNodes correlates nodes with node metrics by name and computes usage
// percentages against assumed or reported capacity
func (a *Aggregator) mapNodes(nodes []v1.Node, nodeMetrics []metricsapi.NodeMetrics, now time.Time) []snapshot.Node {
	usageByNode := make(map[string]usage, len(nodeMetrics))
	for _, nm := range nodeMetrics {
		usageByNode[nm.Name] = quantityUsage(nm.Usage)
	}

	out := make([]snapshot.Node, 0, len(nodes))
	for _, node := range nodes {
		ready := nodeReady(node)
		status := "NotReady"
		if ready {
			status = "Ready"
		}
		if node.Spec.Unschedulable {
			status += ",SchedulingDisabled"
		}

		roles := nodeRoles(node)
		role := snapshot.RoleWorker
		for _, r := range roles {
			if r == snapshot.RoleControlPlane || r == "master" {
				role = snapshot.RoleControlPlane
				break
			}
		}

		capacity := usage{cpuMillicores: a.opts.AssumedCPUMillicores, memoryMi: a.opts.AssumedMemoryMebibytes}
		source := snapshot.CapacityAssumed
		if a.opts.UseReportedCapacity {
			reported := quantityUsage(node.Status.Capacity)
			if reported.cpuMillicores > 0 && reported.memoryMi > 0 {
				capacity = reported
				source = snapshot.CapacityReported
			}
		}

		u := usageByNode[node.Name]
		out = append(out, snapshot.Node{
			Name:           node.Name,
			Ready:          ready,
			Status:         status,
			Roles:          roles,
			Role:           role,
			KubeletVersion: node.Status.NodeInfo.KubeletVersion,
			OSImage:        node.Status.NodeInfo.OSImage,
			CreatedAt:      node.CreationTimestamp.Time,
			Age:            units.Age(node.CreationTimestamp.Time, now),
			CPUUsage:       u.cpu(),
			MemoryUsage:    u.memory(),
			CPUCapacity:    capacity.cpu(),
			MemoryCapacity: capacity.memory(),
			CPUPercent:     units.Percent(float64(u.cpuMillicores), float64(capacity.cpuMillicores)),
			MemoryPercent:  units.Percent(float64(u.memoryMi), float64(capacity.memoryMi)),
			CapacitySource: source,
		})
	}
	return out
}

func nodeReady(node v1.Node) bool {
	for _, condition := range node.Status.Conditions {
		if condition.Type == v1.NodeReady {
			return condition.Status == v1.ConditionTrue
		}
	}
	return false
}

func nodeRoles(node v1.Node) []string {
	roles := []string{}
	for label := range node.Labels {
		if role, ok := strings.CutPrefix(label, nodeRoleLabelPrefix); ok && role != "" {
			roles = append(roles, role)
		}
	}
	slices.Sort(roles)
	return roles
}

func mapServices(services []v1.Service, now time.Time) []snapshot.Service {
	out := make([]snapshot.Service, 0, len(services))
	for _, svc := range services {
		ports := make([]string, 0, len(svc.Spec.Ports))
		for _, p := range svc.Spec.Ports {
			protocol := p.Protocol
			if protocol == "" {
				protocol = v1.ProtocolTCP
			}
			if p.NodePort > 0 {
				ports = append(ports, fmt.Sprintf("%d:%d/%s", p.Port, p.NodePort, protocol))
			} else {
				ports = append(ports, fmt.Sprintf("%d/%s", p.Port, protocol))
			}
		}
		out = append(out, snapshot.Service{
			Name:      svc.Name,
			Namespace: svc.Namespace,
			Type:      string(svc.Spec.Type),
			ClusterIP: svc.Spec.ClusterIP,
			Ports:     ports,
			CreatedAt: svc.CreationTimestamp.Time,
			Age:       units.Age(svc.CreationTimestamp.Time, now),
		})
	}
	return out
}

func mapDeployments(deployments []appsv1.Deployment, now time.Time) []snapshot.Deployment {
	out := make([]snapshot.Deployment, 0, len(deployments))
	for _, d := range deployments {
		desired := int32(1)
		if d.Spec.Replicas != nil {
			desired = *d.Spec.Replicas
		}
		out = append(out, snapshot.Deployment{
			Name:      d.Name,
			Namespace: d.Namespace,
			Desired:   desired,
			Ready:     d.Status.ReadyReplicas,
			Available: d.Status.AvailableReplicas,
			Updated:   d.Status.UpdatedReplicas,
			Display:   fmt.Sprintf("%d/%d", d.Status.ReadyReplicas, desired),
			CreatedAt: d.CreationTimestamp.Time,
			Age:       units.Age(d.CreationTimestamp.Time, now),
		})
	}
	return out
}

func mapNamespaces(namespaces []v1.Namespace, now time.Time) []snapshot.Namespace {
	out := make([]snapshot.Namespace, 0, len(namespaces))
	for _, ns := range namespaces {
		out = append(out, snapshot.Namespace{
			Name:      ns.Name,
			Phase:     string(ns.Status.Phase),
			CreatedAt: ns.CreationTimestamp.Time,
			Age:       units.Age(ns.CreationTimestamp.Time, now),
		})
	}
	return out
}

func statusOrUnknown(status string) string {
	if status == "" {
		return gitops.SyncStatusUnknown
	}
	return status
}

func timePtr(t *metav1.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}
