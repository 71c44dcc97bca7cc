package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"metal-detector/internal/common/errors"
	"metal-detector/internal/locks"
	"metal-detector/internal/oauth2"
	"metal-detector/internal/spotify"
)

type MockReleaseSource struct {
	mock.Mock
}

func (m *MockReleaseSource) NewReleases(ctx context.Context, limit int) ([]spotify.Album, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]spotify.Album), args.Error(1)
}

func TestRegister(t *testing.T) {
	s := New(time.Minute)
	noop := JobFunc(func(context.Context) error { return nil })

	require.NoError(t, s.Register("release-check", "0 */6 * * *", noop))
	require.NoError(t, s.Register("hourly", "@hourly", noop))

	tests := []struct {
		name    string
		jobName string
		spec    string
		job     Job
	}{
		{name: "duplicate", jobName: "release-check", spec: "* * * * *", job: noop},
		{name: "bad spec", jobName: "other", spec: "every tuesday", job: noop},
		{name: "six fields", jobName: "other", spec: "0 0 */6 * * *", job: noop},
		{name: "empty name", jobName: "", spec: "* * * * *", job: noop},
		{name: "nil job", jobName: "other", spec: "* * * * *", job: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Register(tt.jobName, tt.spec, tt.job)
			assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
		})
	}

	statuses := s.Status()
	require.Len(t, statuses, 2)
	assert.Equal(t, "hourly", statuses[0].Name)
	assert.Equal(t, "release-check", statuses[1].Name)
}

func TestRunNow_ScheduledContext(t *testing.T) {
	s := New(time.Minute)

	var mode oauth2.ExecutionMode
	var principal oauth2.Principal
	var deadline bool
	require.NoError(t, s.Register("inspect", "@daily", JobFunc(func(ctx context.Context) error {
		mode = oauth2.ExecutionModeFromContext(ctx)
		principal, _ = oauth2.PrincipalFromContext(ctx)
		_, deadline = ctx.Deadline()
		return nil
	})))

	require.NoError(t, s.RunNow(context.Background(), "inspect"))
	assert.Equal(t, oauth2.ScheduledJob, mode)
	require.NotNil(t, principal)
	assert.Equal(t, oauth2.AnonymousName, principal.Name())
	assert.True(t, deadline)

	err := s.RunNow(context.Background(), "missing")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestRun_RecordsFailuresAndPanics(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC))
	s := New(time.Minute, WithClock(clock))

	require.NoError(t, s.Register("failing", "@daily", JobFunc(func(context.Context) error {
		return errors.ConnectionError("spotify unavailable", nil)
	})))
	require.NoError(t, s.Register("panicking", "@daily", JobFunc(func(context.Context) error {
		panic("boom")
	})))

	err := s.RunNow(context.Background(), "failing")
	assert.True(t, errors.IsType(err, errors.ErrTypeConnection))

	err = s.RunNow(context.Background(), "panicking")
	assert.True(t, errors.IsType(err, errors.ErrTypeInternal))
	assert.Contains(t, err.Error(), "boom")

	for _, status := range s.Status() {
		assert.Equal(t, 1, status.Runs)
		assert.Equal(t, 1, status.Failures)
		assert.NotEmpty(t, status.LastError)
		require.NotNil(t, status.LastRun)
		assert.Equal(t, clock.Now(), *status.LastRun)
	}
}

func TestRun_Timeout(t *testing.T) {
	s := New(20 * time.Millisecond)
	require.NoError(t, s.Register("slow", "@daily", JobFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})))

	err := s.RunNow(context.Background(), "slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRun_SkipsWhenLockHeldElsewhere(t *testing.T) {
	locker := locks.NewLocalLocker()
	s := New(time.Minute, WithLocker(locker))

	var runs int32
	require.NoError(t, s.Register("release-check", "@daily", JobFunc(func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})))

	held, ok, err := locker.TryLock(context.Background(), "job:release-check", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.RunNow(context.Background(), "release-check"))
	assert.Equal(t, int32(0), atomic.LoadInt32(&runs))

	require.NoError(t, held.Release(context.Background()))
	require.NoError(t, s.RunNow(context.Background(), "release-check"))
	require.NoError(t, s.RunNow(context.Background(), "release-check"))
	assert.Equal(t, int32(2), atomic.LoadInt32(&runs))

	status := s.Status()[0]
	assert.Equal(t, 2, status.Runs)
	assert.Equal(t, 1, status.Skipped)
}

func TestStart_RunsOnScheduleAndStops(t *testing.T) {
	s := New(time.Minute)

	var runs atomic.Int32
	var scheduled atomic.Bool
	require.NoError(t, s.Register("tick", "@every 1s", JobFunc(func(ctx context.Context) error {
		scheduled.Store(oauth2.ExecutionModeFromContext(ctx) == oauth2.ScheduledJob)
		runs.Add(1)
		return nil
	})))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	assert.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	assert.True(t, scheduled.Load())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestReleaseCheck(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC))
	source := new(MockReleaseSource)

	first := []spotify.Album{
		{ID: "al1", Name: "Heritage", Artists: []spotify.ArtistRef{{ID: "a1", Name: "Opeth"}}},
		{ID: "al2", Name: "Fortitude", Artists: []spotify.ArtistRef{{ID: "a2", Name: "Gojira"}}},
	}
	second := []spotify.Album{
		first[1],
		{ID: "al3", Name: "Leviathan"},
	}
	source.On("NewReleases", mock.Anything, 20).Return(first, nil).Once()
	source.On("NewReleases", mock.Anything, 20).Return(second, nil).Once()
	source.On("NewReleases", mock.Anything, 20).Return(nil, errors.ConnectionError("down", nil)).Once()

	job := NewReleaseCheck(source, 20, clock)
	ctx := ScheduledContext(context.Background(), ReleaseCheckJobName)

	require.NoError(t, job.Run(ctx))
	assert.Equal(t, 2, job.Seen())

	clock.Advance(6 * time.Hour)
	require.NoError(t, job.Run(ctx))
	assert.Equal(t, 3, job.Seen())

	latest, checkedAt := job.Latest()
	assert.Equal(t, second, latest)
	assert.Equal(t, clock.Now(), checkedAt)

	assert.Error(t, job.Run(ctx))
	latest, _ = job.Latest()
	assert.Equal(t, second, latest)

	source.AssertExpectations(t)
}

func TestReleaseCheck_ForgetsReleasesAfterRetention(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC))
	source := new(MockReleaseSource)

	old := spotify.Album{ID: "al1", Name: "Heritage"}
	current := spotify.Album{ID: "al2", Name: "Fortitude"}
	source.On("NewReleases", mock.Anything, 20).Return([]spotify.Album{old, current}, nil).Once()
	source.On("NewReleases", mock.Anything, 20).Return([]spotify.Album{current}, nil).Times(2)

	job := NewReleaseCheck(source, 20, clock)
	ctx := ScheduledContext(context.Background(), ReleaseCheckJobName)

	require.NoError(t, job.Run(ctx))
	assert.Equal(t, 2, job.Seen())

	clock.Advance(SeenRetention / 2)
	require.NoError(t, job.Run(ctx))
	assert.Equal(t, 2, job.Seen())

	clock.Advance(SeenRetention/2 + time.Hour)
	require.NoError(t, job.Run(ctx))
	assert.Equal(t, 1, job.Seen())

	source.AssertExpectations(t)
}
