package snapshot

import (
	"fmt"
	"math"
)

// ComputeGitOpsStats derives application counters. Sync and health are
// counted independently; an empty status is bucketed as Unknown.
func ComputeGitOpsStats(apps []Application, projects, repositories int) GitOpsStats {
	stats := GitOpsStats{
		Total:         len(apps),
		SyncBuckets:   map[string]int{},
		HealthBuckets: map[string]int{},
		Projects:      projects,
		Repositories:  repositories,
	}

	for _, app := range apps {
		syncStatus := app.SyncStatus
		if syncStatus == "" {
			syncStatus = "Unknown"
		}
		stats.SyncBuckets[syncStatus]++
		switch syncStatus {
		case "Synced":
			stats.Synced++
		case "OutOfSync":
			stats.OutOfSync++
		default:
			stats.SyncUnknown++
		}

		healthStatus := app.HealthStatus
		if healthStatus == "" {
			healthStatus = "Unknown"
		}
		stats.HealthBuckets[healthStatus]++
		switch healthStatus {
		case "Healthy":
			stats.Healthy++
		case "Degraded":
			stats.Degraded++
		case "Progressing":
			stats.Progressing++
		case "Suspended":
			stats.Suspended++
		case "Missing":
			stats.Missing++
		default:
			stats.HealthUnknown++
		}
	}

	stats.HealthyRatio = ratio(stats.Healthy, stats.Total)
	return stats
}

// ComputeClusterStats derives cluster counters and advisories
func ComputeClusterStats(pods []Pod, nodes []Node, services []Service, deployments []Deployment, namespaces []Namespace) ClusterStats {
	stats := ClusterStats{
		TotalPods:    len(pods),
		PhaseBuckets: map[string]int{},
		TotalNodes:   len(nodes),
		Services:     len(services),
		Deployments:  len(deployments),
		Namespaces:   len(namespaces),
	}

	for _, pod := range pods {
		phase := pod.Phase
		if phase == "" {
			phase = "Unknown"
		}
		stats.PhaseBuckets[phase]++
		switch phase {
		case "Running":
			stats.RunningPods++
		case "Pending":
			stats.PendingPods++
		case "Failed":
			stats.FailedPods++
		case "Succeeded":
			stats.SucceededPods++
		}
		stats.TotalRestarts += int64(pod.Restarts)
	}
	stats.RunningRatio = ratio(stats.RunningPods, stats.TotalPods)

	var cpuSum, memSum float64
	for _, node := range nodes {
		if node.Ready {
			stats.ReadyNodes++
		}
		if node.Role == RoleControlPlane {
			stats.ControlPlaneNodes++
		} else {
			stats.WorkerNodes++
		}
		cpuSum += node.CPUPercent
		memSum += node.MemoryPercent
	}
	if len(nodes) > 0 {
		stats.AvgCPUPercent = round1(cpuSum / float64(len(nodes)))
		stats.AvgMemoryPercent = round1(memSum / float64(len(nodes)))
	}

	for _, d := range deployments {
		if d.Desired > 0 && d.Available >= d.Desired {
			stats.AvailableDeployments++
		}
	}

	stats.Advisories = Advisories(stats)
	return stats
}

// Advisories turns cluster counters into short human-readable notes
func Advisories(stats ClusterStats) []string {
	var advisories []string

	if stats.TotalPods > 0 {
		runningPercent := float64(stats.RunningPods) / float64(stats.TotalPods) * 100
		if runningPercent < 70 {
			advisories = append(advisories, fmt.Sprintf("Pod health critical: only %.1f%% pods running", runningPercent))
		} else if runningPercent < 85 {
			advisories = append(advisories, fmt.Sprintf("Pod health warning: %.1f%% pods running", runningPercent))
		}

		if stats.PendingPods > 5 {
			advisories = append(advisories, fmt.Sprintf("%d pods pending startup", stats.PendingPods))
		}
		if stats.FailedPods > 0 {
			advisories = append(advisories, fmt.Sprintf("%d pod(s) in Failed phase", stats.FailedPods))
		}
	}

	if stats.TotalNodes > 0 {
		readyPercent := float64(stats.ReadyNodes) / float64(stats.TotalNodes) * 100
		if readyPercent < 80 {
			advisories = append(advisories, fmt.Sprintf("Node availability critical: only %d/%d nodes ready", stats.ReadyNodes, stats.TotalNodes))
		} else if stats.ReadyNodes < stats.TotalNodes {
			advisories = append(advisories, fmt.Sprintf("%d node(s) unavailable; maintenance may be required", stats.TotalNodes-stats.ReadyNodes))
		}
	}

	if stats.AvgCPUPercent > 90 {
		advisories = append(advisories, fmt.Sprintf("CPU usage critical: %.1f%%", stats.AvgCPUPercent))
	} else if stats.AvgCPUPercent > 75 {
		advisories = append(advisories, fmt.Sprintf("CPU usage high: %.1f%% - consider scaling", stats.AvgCPUPercent))
	}

	if stats.AvgMemoryPercent > 90 {
		advisories = append(advisories, fmt.Sprintf("Memory usage critical: %.1f%%", stats.AvgMemoryPercent))
	} else if stats.AvgMemoryPercent > 75 {
		advisories = append(advisories, fmt.Sprintf("Memory pressure detected: %.1f%% - scaling may be needed", stats.AvgMemoryPercent))
	}

	if len(advisories) == 0 {
		advisories = append(advisories, "Cluster operating within normal parameters")
	}

	return advisories
}

func ratio(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*1000) / 1000
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
