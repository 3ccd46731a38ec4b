package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/DaDevFox/task-systems/pantry-core/internal/domain"
)

const (
	refreshJobName = "pantry-refresh"
	healthJobName  = "store-health"
)

// Reloader is the part of the inventory client the refresh job drives.
type Reloader interface {
	Reload(ctx context.Context) (domain.Inventory, error)
}

// HealthChecker is polled on the same interval as the refresh.
type HealthChecker interface {
	Check(ctx context.Context) error
}

// Scheduler runs the periodic inventory refresh so every viewer converges on remote state.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *logrus.Logger
	jobs      map[string]gocron.Job
}

// New registers the refresh job, and the health job when checker is non-nil.
// An interval of zero or less returns a scheduler with no jobs.
func New(ctx context.Context, interval time.Duration, reloader Reloader, checker HealthChecker, logger *logrus.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = logrus.New()
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create scheduler")
	}

	s := &Scheduler{
		scheduler: scheduler,
		logger:    logger,
		jobs:      make(map[string]gocron.Job),
	}
	if interval <= 0 {
		logger.Info("periodic refresh disabled")
		return s, nil
	}

	if err := s.add(refreshJobName, interval, func() {
		if _, err := reloader.Reload(ctx); err != nil {
			logger.WithError(err).Debug("periodic refresh failed")
		}
	}); err != nil {
		return nil, err
	}

	if checker != nil {
		if err := s.add(healthJobName, interval, func() {
			_ = checker.Check(ctx)
		}); err != nil {
			return nil, err
		}
	}

	logger.WithFields(logrus.Fields{
		"interval": interval,
		"jobs":     len(s.jobs),
	}).Info("registered background jobs")
	return s, nil
}

func (s *Scheduler) add(name string, interval time.Duration, task func()) error {
	job, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s job", name)
	}
	s.jobs[name] = job
	return nil
}

// Jobs returns the names of the registered jobs.
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.jobs))
	for _, job := range s.jobs {
		names = append(names, job.Name())
	}
	return names
}

func (s *Scheduler) Start() {
	s.logger.Info("starting background job scheduler")
	s.scheduler.Start()
}

func (s *Scheduler) Stop() error {
	s.logger.Info("stopping background job scheduler")
	return s.scheduler.Shutdown()
}
