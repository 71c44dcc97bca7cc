// Package scheduler runs background jobs on cron schedules. Every run
// executes as a ScheduledJob on behalf of the anonymous principal, so token
// lookups go through the scheduling manager.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"metal-detector/internal/common/errors"
	"metal-detector/internal/common/logging"
	"metal-detector/internal/common/validation"
	"metal-detector/internal/locks"
	"metal-detector/internal/oauth2"
)

// DefaultTimeout bounds a single run when none is configured
const DefaultTimeout = 5 * time.Minute

// Job is a unit of scheduled work
type Job interface {
	Run(ctx context.Context) error
}

// JobFunc adapts a function to Job
type JobFunc func(ctx context.Context) error

// Run calls f(ctx)
func (f JobFunc) Run(ctx context.Context) error { return f(ctx) }

// JobStatus reports the state of a registered job
type JobStatus struct {
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	Runs      int        `json:"runs"`
	Failures  int        `json:"failures"`
	Skipped   int        `json:"skipped"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
}

type entry struct {
	name     string
	schedule string
	job      Job
	id       cron.EntryID
	runs     int
	failures int
	skipped  int
	lastRun  *time.Time
	lastErr  error
}

// Scheduler wraps a cron runner
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
	clock   clockwork.Clock
	locker  locks.Locker
	logger  logging.Logger

	mu      sync.RWMutex
	entries map[string]*entry
	baseCtx context.Context
}

// Option customizes a Scheduler
type Option func(*Scheduler)

// WithClock replaces the wall clock used for run bookkeeping
func WithClock(clock clockwork.Clock) Option {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

// WithLocker makes every run take the lock "job:<name>" first. A run whose
// lock is held elsewhere is skipped.
func WithLocker(locker locks.Locker) Option {
	return func(s *Scheduler) {
		s.locker = locker
	}
}

// New creates a scheduler whose runs are cut off after timeout
func New(timeout time.Duration, opts ...Option) *Scheduler {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	s := &Scheduler{
		timeout: timeout,
		clock:   clockwork.NewRealClock(),
		logger:  logging.GetGlobalLogger().WithFields(logging.String("component", "scheduler")),
		entries: make(map[string]*entry),
		baseCtx: context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}

	cronLog := cronLogger{logger: s.logger}
	s.cron = cron.New(
		cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.SkipIfStillRunning(cronLog)),
	)
	return s
}

// Register schedules job under name. spec is a standard five-field cron
// expression or a descriptor such as "@every 1h".
func (s *Scheduler) Register(name, spec string, job Job) error {
	if name == "" {
		return errors.ValidationError("job name is required")
	}
	if job == nil {
		return errors.ValidationError(fmt.Sprintf("job %s has no implementation", name))
	}
	if _, err := validation.ParseSchedule(spec); err != nil {
		return errors.ValidationError(fmt.Sprintf("invalid schedule %q for job %s: %v", spec, name, err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[name]; exists {
		return errors.ValidationError(fmt.Sprintf("job %s is already registered", name))
	}

	e := &entry{name: name, schedule: spec, job: job}
	id, err := s.cron.AddFunc(spec, func() {
		s.run(s.context(), e)
	})
	if err != nil {
		return errors.ValidationError(fmt.Sprintf("invalid schedule %q for job %s: %v", spec, name, err))
	}
	e.id = id
	s.entries[name] = e

	s.logger.Info("Registered scheduled job",
		logging.String("job", name),
		logging.String("schedule", spec),
	)
	return nil
}

func (s *Scheduler) context() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseCtx
}

// Start runs the cron loop until ctx is done, then waits for running jobs
// to finish
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	count := len(s.entries)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("Scheduler started", logging.Int("jobs", count))

	<-ctx.Done()

	stopped := s.cron.Stop()
	<-stopped.Done()
	s.logger.Info("Scheduler stopped")
	return nil
}

// RunNow runs the named job immediately, outside its schedule
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.RLock()
	e, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return errors.NotFoundError(fmt.Sprintf("job %s", name))
	}
	return s.run(ctx, e)
}

// ScheduledContext derives the context a scheduled run executes with
func ScheduledContext(parent context.Context, jobName string) context.Context {
	ctx := oauth2.WithExecutionMode(parent, oauth2.ScheduledJob)
	ctx = oauth2.WithPrincipal(ctx, oauth2.Anonymous)
	return logging.ContextWithFields(ctx,
		logging.String("job", jobName),
		logging.String("execution_mode", oauth2.ScheduledJob.String()),
		logging.String("principal", oauth2.Anonymous.Name()),
	)
}

func (s *Scheduler) run(parent context.Context, e *entry) (err error) {
	ctx, cancel := context.WithTimeout(ScheduledContext(parent, e.name), s.timeout)
	defer cancel()

	logger := logging.WithContext(ctx)

	if s.locker != nil {
		lock, acquired, err := s.locker.TryLock(ctx, "job:"+e.name, s.timeout)
		if err != nil {
			s.record(e, s.clock.Now(), err)
			logger.Error("Scheduled job lock failed", err)
			return err
		}
		if !acquired {
			s.mu.Lock()
			e.skipped++
			s.mu.Unlock()
			logger.Info("Scheduled job skipped, running on another instance")
			return nil
		}
		defer func() {
			if err := lock.Release(context.Background()); err != nil {
				logger.Warn("Failed to release job lock", logging.Err(err))
			}
		}()
	}

	start := s.clock.Now()

	defer func() {
		if rec := recover(); rec != nil {
			err = errors.InternalError(fmt.Sprintf("job %s panicked", e.name), fmt.Errorf("%v", rec))
		}

		s.record(e, start, err)

		duration := s.clock.Since(start)
		if err != nil {
			logger.Error("Scheduled job failed", err, logging.Duration("duration", duration))
			return
		}
		logger.Info("Scheduled job completed", logging.Duration("duration", duration))
	}()

	logger.Debug("Running scheduled job")
	return e.job.Run(ctx)
}

func (s *Scheduler) record(e *entry, start time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.runs++
	e.lastRun = &start
	e.lastErr = err
	if err != nil {
		e.failures++
	}
}

// Status lists registered jobs sorted by name
func (s *Scheduler) Status() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make([]JobStatus, 0, len(s.entries))
	for _, e := range s.entries {
		status := JobStatus{
			Name:     e.name,
			Schedule: e.schedule,
			Runs:     e.runs,
			Failures: e.failures,
			Skipped:  e.skipped,
			LastRun:  e.lastRun,
		}
		if e.lastErr != nil {
			status.LastError = e.lastErr.Error()
		}
		if next := s.cron.Entry(e.id).Next; !next.IsZero() {
			status.NextRun = &next
		}
		statuses = append(statuses, status)
	}

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

// cronLogger routes cron's own messages to the application logger
type cronLogger struct {
	logger logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, pairs(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, err, pairs(keysAndValues)...)
}

func pairs(keysAndValues []interface{}) []logging.Field {
	fields := make([]logging.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields = append(fields, logging.Any(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1]))
	}
	return fields
}
