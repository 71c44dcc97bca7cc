package oauth2

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManagerSelector_Provide(t *testing.T) {
	requestManager := new(MockManager)
	scheduledManager := new(MockManager)
	selector := NewManagerSelector(requestManager, scheduledManager)

	assert.Same(t, scheduledManager, selector.Provide(ScheduledJob))
	assert.Same(t, requestManager, selector.Provide(RequestScoped))
	assert.Same(t, requestManager, selector.Provide(ExecutionMode(42)))
}

func TestExecutionModeFromContext(t *testing.T) {
	assert.Equal(t, RequestScoped, ExecutionModeFromContext(context.Background()))

	ctx := WithExecutionMode(context.Background(), ScheduledJob)
	assert.Equal(t, ScheduledJob, ExecutionModeFromContext(ctx))
	assert.Equal(t, "scheduled_job", ScheduledJob.String())
	assert.Equal(t, "request_scoped", RequestScoped.String())
}
