// Package actions passes imperative application operations through to the
// GitOps controller and schedules a refresh once they succeed.
package actions

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aaronlmathis/kaptn-pulse/internal/gitops"
	"github.com/aaronlmathis/kaptn-pulse/internal/metrics"
)

// Action names used in audit entries and metrics
const (
	ActionSync           = "sync"
	ActionRefresh        = "refresh"
	ActionDelete         = "delete"
	ActionResourceAction = "resource_action"
)

// GitOpsClient is the write side of the GitOps controller client
type GitOpsClient interface {
	SyncApplication(ctx context.Context, name string, req gitops.SyncRequest) (*gitops.Application, error)
	RefreshApplication(ctx context.Context, name string, hard bool) (*gitops.Application, error)
	DeleteApplication(ctx context.Context, name string, cascade bool) error
	RunResourceAction(ctx context.Context, name string, req gitops.ResourceActionRequest) error
}

// Refresher schedules an out-of-band poll cycle
type Refresher interface {
	ScheduleRefresh(delay time.Duration)
}

// AuditLog represents an audit log entry
type AuditLog struct {
	RequestID string                 `json:"requestId"`
	Action    string                 `json:"action"`
	Resource  string                 `json:"resource"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  time.Duration          `json:"duration"`
	Success   bool                   `json:"success"`
	Error     string                 `json:"error,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Service runs application actions
type Service struct {
	client       GitOpsClient
	refresher    Refresher
	refreshDelay time.Duration
	logger       *zap.Logger
}

// NewService creates an action service. refresher may be nil.
func NewService(client GitOpsClient, refresher Refresher, refreshDelay time.Duration, logger *zap.Logger) *Service {
	return &Service{
		client:       client,
		refresher:    refresher,
		refreshDelay: refreshDelay,
		logger:       logger.Named("actions"),
	}
}

// Sync syncs an application
func (s *Service) Sync(ctx context.Context, requestID, name string, req gitops.SyncRequest) (*gitops.Application, error) {
	var app *gitops.Application
	err := s.run(ctx, requestID, ActionSync, name, map[string]interface{}{
		"revision": req.Revision,
		"prune":    req.Prune,
		"dryRun":   req.DryRun,
	}, func(ctx context.Context) error {
		var err error
		app, err = s.client.SyncApplication(ctx, name, req)
		return err
	})
	return app, err
}

// Refresh asks the controller to re-read an application's state
func (s *Service) Refresh(ctx context.Context, requestID, name string, hard bool) (*gitops.Application, error) {
	var app *gitops.Application
	err := s.run(ctx, requestID, ActionRefresh, name, map[string]interface{}{"hard": hard}, func(ctx context.Context) error {
		var err error
		app, err = s.client.RefreshApplication(ctx, name, hard)
		return err
	})
	return app, err
}

// Delete deletes an application
func (s *Service) Delete(ctx context.Context, requestID, name string, cascade bool) error {
	return s.run(ctx, requestID, ActionDelete, name, map[string]interface{}{"cascade": cascade}, func(ctx context.Context) error {
		return s.client.DeleteApplication(ctx, name, cascade)
	})
}

// RunResourceAction runs a named action on a resource managed by an application
func (s *Service) RunResourceAction(ctx context.Context, requestID, name string, req gitops.ResourceActionRequest) error {
	details := map[string]interface{}{
		"kind":         req.Kind,
		"namespace":    req.Namespace,
		"resourceName": req.ResourceName,
		"action":       req.Action,
	}
	return s.run(ctx, requestID, ActionResourceAction, name, details, func(ctx context.Context) error {
		return s.client.RunResourceAction(ctx, name, req)
	})
}

func (s *Service) run(ctx context.Context, requestID, action, name string, details map[string]interface{}, fn func(context.Context) error) error {
	audit := &AuditLog{
		RequestID: requestID,
		Action:    action,
		Resource:  fmt.Sprintf("application/%s", name),
		Timestamp: time.Now(),
		Details:   details,
	}

	err := fn(ctx)
	audit.Duration = time.Since(audit.Timestamp)
	metrics.RecordAction(action, err)

	if err != nil {
		audit.Error = err.Error()
		s.logAudit(audit)
		return err
	}

	audit.Success = true
	s.logAudit(audit)

	if s.refresher != nil {
		s.refresher.ScheduleRefresh(s.refreshDelay)
	}
	return nil
}

// logAudit logs an audit entry
func (s *Service) logAudit(audit *AuditLog) {
	s.logger.Info("audit_log",
		zap.String("requestId", audit.RequestID),
		zap.String("action", audit.Action),
		zap.String("resource", audit.Resource),
		zap.Time("timestamp", audit.Timestamp),
		zap.Duration("duration", audit.Duration),
		zap.Bool("success", audit.Success),
		zap.String("error", audit.Error),
		zap.Any("details", audit.Details))
}
