package oauth2

import (
	"context"
)

// ExecutionMode tells token providers where a call originates
type ExecutionMode int

const (
	// RequestScoped is a call made while serving an HTTP request
	RequestScoped ExecutionMode = iota
	// ScheduledJob is a call made by a background job with no inbound request
	ScheduledJob
)

// String returns the log representation of the mode
func (m ExecutionMode) String() string {
	switch m {
	case RequestScoped:
		return "request_scoped"
	case ScheduledJob:
		return "scheduled_job"
	default:
		return "unknown"
	}
}

type executionModeKey struct{}

// WithExecutionMode returns a copy of ctx tagged with mode
func WithExecutionMode(ctx context.Context, mode ExecutionMode) context.Context {
	return context.WithValue(ctx, executionModeKey{}, mode)
}

// ExecutionModeFromContext returns the mode tagged on ctx, RequestScoped when untagged
func ExecutionModeFromContext(ctx context.Context) ExecutionMode {
	mode, _ := ctx.Value(executionModeKey{}).(ExecutionMode)
	return mode
}

// ManagerProvider chooses the AuthorizedClientManager for an execution mode
type ManagerProvider interface {
	Provide(mode ExecutionMode) AuthorizedClientManager
}

// ManagerSelector dispatches between the request-scoped manager and the one
// built for scheduled jobs
type ManagerSelector struct {
	defaultManager    AuthorizedClientManager
	schedulingManager AuthorizedClientManager
}

// NewManagerSelector creates a selector over the two managers
func NewManagerSelector(defaultManager, schedulingManager AuthorizedClientManager) *ManagerSelector {
	return &ManagerSelector{
		defaultManager:    defaultManager,
		schedulingManager: schedulingManager,
	}
}

// Provide returns the scheduling manager for ScheduledJob and the default
// manager for every other mode
func (s *ManagerSelector) Provide(mode ExecutionMode) AuthorizedClientManager {
	if mode == ScheduledJob {
		return s.schedulingManager
	}
	return s.defaultManager
}
