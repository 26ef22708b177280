package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/dmitrymomot/billing/pkg/logger"
)

// Job is a named periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs jobs on their intervals with gocron. A job never overlaps
// itself: a run that is still going when the next one is due reschedules it.
// With a distributed locker only the instance holding the job's lock runs it.
type Scheduler struct {
	jobs   []Job
	locker gocron.Locker
	logger *slog.Logger
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithLocker makes every job run under a distributed lock named after it.
func WithLocker(l gocron.Locker) SchedulerOption {
	return func(s *Scheduler) {
		s.locker = l
	}
}

// WithSchedulerLogger sets the scheduler's logger.
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewScheduler validates jobs and creates a scheduler for them.
func NewScheduler(jobs []Job, opts ...SchedulerOption) (*Scheduler, error) {
	seen := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		switch {
		case j.Name == "" || j.Run == nil:
			return nil, errors.New("worker: job needs a name and a function")
		case j.Interval <= 0:
			return nil, fmt.Errorf("worker: job %s needs a positive interval", j.Name)
		case seen[j.Name]:
			return nil, fmt.Errorf("worker: duplicate job %s", j.Name)
		}
		seen[j.Name] = true
	}

	s := &Scheduler{
		jobs:   jobs,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.Component("scheduler"))
	return s, nil
}

// Run schedules every job, starting each immediately, and blocks until ctx
// is done. It then waits for running jobs to return.
func (s *Scheduler) Run(ctx context.Context) error {
	gopts := []gocron.SchedulerOption{gocron.WithLocation(time.UTC)}
	if s.locker != nil {
		gopts = append(gopts, gocron.WithDistributedLocker(s.locker))
	}
	sched, err := gocron.NewScheduler(gopts...)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	for _, j := range s.jobs {
		_, err := sched.NewJob(
			gocron.DurationJob(j.Interval),
			gocron.NewTask(s.execute, ctx, j),
			gocron.WithName(j.Name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			_ = sched.Shutdown()
			return fmt.Errorf("failed to schedule job %s: %w", j.Name, err)
		}
	}

	s.logger.LogAttrs(ctx, slog.LevelInfo, "scheduler started", logger.Count(len(s.jobs)))
	sched.Start()
	<-ctx.Done()

	if err := sched.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	s.logger.LogAttrs(context.Background(), slog.LevelInfo, "scheduler stopped")
	return nil
}

// RunOnce runs every job once in order, bypassing the locker.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var errs []error
	for _, j := range s.jobs {
		if err := s.execute(ctx, j); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", j.Name, err))
		}
	}
	return errors.Join(errs...)
}

// RunJob runs the named job once.
func (s *Scheduler) RunJob(ctx context.Context, name string) error {
	for _, j := range s.jobs {
		if j.Name == name {
			return s.execute(ctx, j)
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownJob, name)
}

func (s *Scheduler) execute(ctx context.Context, j Job) error {
	start := time.Now()
	err := j.Run(logger.ContextWith(ctx, logger.Job(j.Name)))
	if err != nil {
		s.logger.LogAttrs(ctx, slog.LevelError, "job failed",
			logger.Job(j.Name),
			logger.Duration(time.Since(start)),
			logger.Error(err),
		)
		return err
	}
	s.logger.LogAttrs(ctx, slog.LevelDebug, "job finished",
		logger.Job(j.Name),
		logger.Duration(time.Since(start)),
	)
	return nil
}
