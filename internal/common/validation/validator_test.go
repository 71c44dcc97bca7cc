package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metal-detector/internal/common/errors"
)

type sample struct {
	Name     string        `yaml:"name" validate:"required"`
	Endpoint string        `yaml:"endpoint" validate:"omitempty,url"`
	Schedule string        `env:"SCHEDULE" validate:"cron_expression"`
	Timeout  time.Duration `validate:"positive_duration"`
}

func TestValidator_Struct(t *testing.T) {
	v := New()

	t.Run("valid", func(t *testing.T) {
		err := v.Struct(sample{Name: "x", Endpoint: "https://example.com", Schedule: "0 */6 * * *", Timeout: time.Second}, "")
		assert.NoError(t, err)
	})

	t.Run("single failure", func(t *testing.T) {
		err := v.Struct(sample{Schedule: "@daily", Timeout: time.Second}, "spotify-app")
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
		assert.Contains(t, err.Error(), "spotify-app: field 'name' is required")
	})

	t.Run("several failures", func(t *testing.T) {
		err := v.Struct(sample{Name: "x", Endpoint: "not a url", Schedule: "every day"}, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "validation failed")
		assert.Contains(t, err.Error(), "'endpoint' must be a valid URL")
		assert.Contains(t, err.Error(), "'SCHEDULE' must be a valid cron expression")
		assert.Contains(t, err.Error(), "'Timeout'")
	})
}

func TestParseSchedule(t *testing.T) {
	schedule, err := ParseSchedule("0 */6 * * *")
	require.NoError(t, err)

	from := time.Date(2025, 1, 1, 1, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 1, 1, 6, 0, 0, 0, time.UTC), schedule.Next(from))

	_, err = ParseSchedule("0 0 */6 * * *")
	assert.Error(t, err)
}
