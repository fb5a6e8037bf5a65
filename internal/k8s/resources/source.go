package resources

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"

	"go.uber.org/zap"
	appsv1 "k8s.io/api/apps/v1"
	v1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	metricsapi "k8s.io/metrics/pkg/apis/metrics/v1beta1"
	metricsv1beta1 "k8s.io/metrics/pkg/client/clientset/versioned/typed/metrics/v1beta1"

	apperrors "github.com/aaronlmathis/kaptn-pulse/internal/errors"
)

// Source reads the cluster resources that make up the cluster half of a snapshot.
// Each method is a single list call; an empty or missing list is not an error.
type Source struct {
	logger        *zap.Logger
	kubeClient    kubernetes.Interface
	metricsClient metricsv1beta1.MetricsV1beta1Interface
}

// NewSource creates a cluster source. metricsClient may be nil when the
// metrics API is not available; the metrics fetchers then fail on every call.
func NewSource(logger *zap.Logger, kubeClient kubernetes.Interface, metricsClient metricsv1beta1.MetricsV1beta1Interface) *Source {
	return &Source{
		logger:        logger.Named("cluster"),
		kubeClient:    kubeClient,
		metricsClient: metricsClient,
	}
}

// Version probes the API server and returns its git version
func (s *Source) Version(ctx context.Context) (string, error) {
	type result struct {
		version string
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := s.kubeClient.Discovery().ServerVersion()
		if err != nil {
			ch <- result{err: err}
			return
		}
		ch <- result{version: v.GitVersion}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return "", classify("version", r.err)
		}
		return r.version, nil
	case <-ctx.Done():
		return "", apperrors.NewTransportError("cluster API version probe timed out", ctx.Err(), nil)
	}
}

// ListPods lists pods in a namespace, or across all namespaces when namespace is empty
func (s *Source) ListPods(ctx context.Context, namespace string) ([]v1.Pod, error) {
	pods, err := s.kubeClient.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, classify("pods", err)
	}
	if pods.Items == nil {
		return []v1.Pod{}, nil
	}
	return pods.Items, nil
}

// ListServices lists services in a namespace, or across all namespaces
func (s *Source) ListServices(ctx context.Context, namespace string) ([]v1.Service, error) {
	services, err := s.kubeClient.CoreV1().Services(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, classify("services", err)
	}
	if services.Items == nil {
		return []v1.Service{}, nil
	}
	return services.Items, nil
}

// ListDeployments lists deployments in a namespace, or across all namespaces
func (s *Source) ListDeployments(ctx context.Context, namespace string) ([]appsv1.Deployment, error) {
	deployments, err := s.kubeClient.AppsV1().Deployments(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, classify("deployments", err)
	}
	if deployments.Items == nil {
		return []appsv1.Deployment{}, nil
	}
	return deployments.Items, nil
}

// ListNodes lists all nodes
func (s *Source) ListNodes(ctx context.Context) ([]v1.Node, error) {
	nodes, err := s.kubeClient.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, classify("nodes", err)
	}
	if nodes.Items == nil {
		return []v1.Node{}, nil
	}
	return nodes.Items, nil
}

// ListNamespaces lists all namespaces
func (s *Source) ListNamespaces(ctx context.Context) ([]v1.Namespace, error) {
	namespaces, err := s.kubeClient.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, classify("namespaces", err)
	}
	if namespaces.Items == nil {
		return []v1.Namespace{}, nil
	}
	return namespaces.Items, nil
}

// ListPodMetrics lists pod usage from the metrics API
func (s *Source) ListPodMetrics(ctx context.Context, namespace string) ([]metricsapi.PodMetrics, error) {
	if s.metricsClient == nil {
		return nil, apperrors.NewTransportError("metrics API not configured", nil, nil)
	}
	list, err := s.metricsClient.PodMetricses(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, classify("podMetrics", err)
	}
	if list.Items == nil {
		return []metricsapi.PodMetrics{}, nil
	}
	return list.Items, nil
}

// ListNodeMetrics lists node usage from the metrics API
func (s *Source) ListNodeMetrics(ctx context.Context) ([]metricsapi.NodeMetrics, error) {
	if s.metricsClient == nil {
		return nil, apperrors.NewTransportError("metrics API not configured", nil, nil)
	}
	list, err := s.metricsClient.NodeMetricses().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, classify("nodeMetrics", err)
	}
	if list.Items == nil {
		return []metricsapi.NodeMetrics{}, nil
	}
	return list.Items, nil
}

// classify maps client-go errors onto the application error taxonomy
func classify(kind string, err error) error {
	details := map[string]interface{}{"kind": kind}

	var status k8serrors.APIStatus
	if errors.As(err, &status) {
		code := int(status.Status().Code)
		switch {
		case k8serrors.IsUnauthorized(err):
			return apperrors.NewAuthenticationError(fmt.Sprintf("cluster API rejected credentials for %s", kind), err)
		case k8serrors.IsTimeout(err), k8serrors.IsServerTimeout(err):
			return apperrors.NewTransportError(fmt.Sprintf("cluster API timed out listing %s", kind), err, details)
		case code != 0:
			return apperrors.NewAPIError(code, string(status.Status().Reason), status.Status().Message, details)
		}
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperrors.NewTransportError(fmt.Sprintf("cluster API unreachable listing %s", kind), err, details)
	}

	return apperrors.NewMalformedResponseError(fmt.Sprintf("unexpected response listing %s", kind), err, details)
}
