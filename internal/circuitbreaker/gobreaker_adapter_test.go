package circuitbreaker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metal-detector/internal/common/errors"
	"metal-detector/internal/common/logging"
)

func TestGoBreakerAdapter(t *testing.T) {
	logger := logging.GetGlobalLogger()

	t.Run("basic operation", func(t *testing.T) {
		cb := NewGoBreaker("test-basic", Config{MaxFailures: 2, Timeout: 100 * time.Millisecond, MaxConcurrentRequests: 1}, logger)

		assert.Equal(t, StateClosed, cb.State())
		assert.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
		assert.Equal(t, StateClosed, cb.State())
		assert.Equal(t, "test-basic", cb.Name())
	})

	t.Run("opens after consecutive failures", func(t *testing.T) {
		cb := NewGoBreaker("test-failures", Config{MaxFailures: 3, Timeout: time.Minute, MaxConcurrentRequests: 1}, logger)

		for i := 0; i < 3; i++ {
			err := cb.Execute(context.Background(), func() error {
				return fmt.Errorf("failure %d", i)
			})
			assert.Error(t, err)
		}

		assert.True(t, cb.IsOpen())

		err := cb.Execute(context.Background(), func() error {
			t.Fatal("must not run while open")
			return nil
		})
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeConnection))
		assert.Contains(t, err.Error(), "test-failures")
	})

	t.Run("half-open after timeout then closes", func(t *testing.T) {
		cb := NewGoBreaker("test-recovery", Config{MaxFailures: 1, Timeout: 20 * time.Millisecond, MaxConcurrentRequests: 1}, logger)

		_ = cb.Execute(context.Background(), func() error { return fmt.Errorf("down") })
		require.Equal(t, StateOpen, cb.State())

		time.Sleep(40 * time.Millisecond)
		assert.Equal(t, StateHalfOpen, cb.State())

		assert.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("caller errors do not trip", func(t *testing.T) {
		cb := NewGoBreaker("test-caller-errors", Config{MaxFailures: 1, Timeout: time.Minute, MaxConcurrentRequests: 1}, logger)

		for i := 0; i < 3; i++ {
			err := cb.Execute(context.Background(), func() error {
				return errors.ValidationError("unsupported grant type: password")
			})
			assert.Error(t, err)
		}

		assert.Equal(t, StateClosed, cb.State())
		assert.Equal(t, 0, cb.Stats().Failures)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cb := NewGoBreaker("test-ctx", TokenEndpointConfig, logger)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := cb.Execute(ctx, func() error {
			t.Fatal("must not run with a cancelled context")
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("invalid config falls back to defaults", func(t *testing.T) {
		cb := NewGoBreaker("test-invalid", Config{}, logger)
		assert.NotNil(t, cb)
		assert.Equal(t, StateClosed, cb.State())
	})
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.NoError(t, TokenEndpointConfig.Validate())
	assert.Error(t, Config{MaxFailures: 0, Timeout: time.Second, MaxConcurrentRequests: 1}.Validate())
	assert.Error(t, Config{MaxFailures: 1, Timeout: 0, MaxConcurrentRequests: 1}.Validate())
	assert.Error(t, Config{MaxFailures: 1, Timeout: time.Second, MaxConcurrentRequests: 0}.Validate())
}

func TestGoBreakerManager(t *testing.T) {
	m := NewGoBreakerManager(nil)

	a := m.GetOrCreate("oauth2-scheduled", TokenEndpointConfig)
	b := m.GetOrCreate("oauth2-request", TokenEndpointConfig)
	assert.Same(t, a, m.GetOrCreate("oauth2-scheduled", DefaultConfig()))

	stats := m.AllStats()
	require.Len(t, stats, 2)
	assert.Equal(t, "oauth2-request", stats[0].Name)
	assert.Equal(t, "oauth2-scheduled", stats[1].Name)
	assert.False(t, m.AnyOpen())

	for i := 0; i < TokenEndpointConfig.MaxFailures; i++ {
		_ = b.Execute(context.Background(), func() error { return fmt.Errorf("down") })
	}
	assert.True(t, m.AnyOpen())
}
