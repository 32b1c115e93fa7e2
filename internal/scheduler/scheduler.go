// Package scheduler runs the periodic ingestion and email jobs
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/gel2mdt-server/internal/domain"
	"github.com/gel2mdt-server/internal/notify"
	"github.com/gel2mdt-server/internal/service"
)

// Locker takes a named lock shared by every replica. A nil release func means
// another holder has the lock.
type Locker interface {
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error)
}

// Job is one scheduled task
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Ingester is the part of the case ingester the scheduler drives
type Ingester interface {
	Run(ctx context.Context, sampleType domain.SampleType, opts service.RunOptions) (*domain.ListUpdate, error)
}

// Scheduler wraps a cron runner. Each job run is guarded by a lock so only one
// replica does the work.
type Scheduler struct {
	cron    *cron.Cron
	locker  Locker
	lockTTL time.Duration
	logger  *logrus.Logger

	mu   sync.Mutex
	ctx  context.Context
	jobs map[string]Job
}

// New creates a scheduler. locker may be nil, in which case jobs run unguarded.
func New(locker Locker, lockTTL time.Duration, logger *logrus.Logger) *Scheduler {
	if lockTTL <= 0 {
		lockTTL = 2 * time.Hour
	}
	return &Scheduler{
		cron:    cron.New(),
		locker:  locker,
		lockTTL: lockTTL,
		logger:  logger,
		ctx:     context.Background(),
		jobs:    make(map[string]Job),
	}
}

// Add registers a job. An empty spec disables it.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("%w: job needs a name and a run func", domain.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[job.Name]; dup {
		return fmt.Errorf("%w: job %q already registered", domain.ErrConflict, job.Name)
	}
	s.jobs[job.Name] = job
	if job.Spec == "" {
		s.logger.WithField("job", job.Name).Info("Job has no schedule, only manual runs are possible")
		return nil
	}
	if _, err := s.cron.AddFunc(job.Spec, func() { _ = s.execute(s.baseContext(), job) }); err != nil {
		delete(s.jobs, job.Name)
		return fmt.Errorf("invalid schedule %q for job %s: %w", job.Spec, job.Name, err)
	}
	return nil
}

// Jobs returns the registered job names with their schedules
func (s *Scheduler) Jobs() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.jobs))
	for name, j := range s.jobs {
		out[name] = j.Spec
	}
	return out
}

// RunNow executes a registered job immediately, under the same lock as the schedule
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: job %q", domain.ErrNotFound, name)
	}
	return s.execute(ctx, job)
}

// Start runs the schedule until ctx is cancelled, then waits for running jobs
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.WithField("jobs", len(s.cron.Entries())).Info("Scheduler started")
	<-ctx.Done()

	stopped := s.cron.Stop()
	<-stopped.Done()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Scheduler) execute(ctx context.Context, job Job) error {
	log := s.logger.WithFields(logrus.Fields{
		"job":    job.Name,
		"run_id": uuid.New().String(),
	})

	if s.locker != nil {
		release, err := s.locker.AcquireLock(ctx, "job:"+job.Name, s.lockTTL)
		if err != nil {
			log.WithError(err).Error("Failed to acquire job lock")
			return err
		}
		if release == nil {
			log.Info("Job already running elsewhere, skipping")
			return nil
		}
		defer func() {
			// the run context may be cancelled by now
			if err := release(context.Background()); err != nil {
				log.WithError(err).Warn("Failed to release job lock")
			}
		}()
	}

	start := time.Now()
	log.Info("Job started")
	if err := job.Run(ctx); err != nil {
		log.WithError(err).WithField("duration", time.Since(start).String()).Error("Job failed")
		return err
	}
	log.WithField("duration", time.Since(start).String()).Info("Job finished")
	return nil
}

// Register adds the standard jobs with the schedules from config
func Register(s *Scheduler, config domain.ScheduleConfig, ingester Ingester, sampleTypes []domain.SampleType, notifier *notify.Notifier) error {
	jobs := []Job{
		{Name: "update_cases", Spec: config.UpdateCases, Run: UpdateCases(ingester, sampleTypes, s.logger)},
	}
	if notifier != nil {
		jobs = append(jobs,
			Job{Name: "listupdate_email", Spec: config.ListUpdateEmail, Run: func(ctx context.Context) error {
				_, err := notifier.ListUpdateEmail(ctx, time.Now())
				return err
			}},
			Job{Name: "case_alert_email", Spec: config.CaseAlertEmail, Run: func(ctx context.Context) error {
				_, err := notifier.CaseAlertEmail(ctx)
				return err
			}},
			Job{Name: "update_report_email", Spec: config.UpdateReportEmail, Run: notifier.UpdateReportEmail},
			Job{Name: "cases_not_completed_email", Spec: config.CasesNotCompletedEmail, Run: notifier.CasesNotCompletedEmail},
		)
	}
	for _, j := range jobs {
		if err := s.Add(j); err != nil {
			return err
		}
	}
	return nil
}

// UpdateCases runs an ingestion for each sample type in turn. A failure in one
// programme does not stop the next.
func UpdateCases(ingester Ingester, sampleTypes []domain.SampleType, logger *logrus.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		var firstErr error
		for _, st := range sampleTypes {
			lu, err := ingester.Run(ctx, st, service.RunOptions{})
			if err != nil {
				logger.WithError(err).WithField("sample_type", st).Error("Case update failed")
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			logger.WithFields(logrus.Fields{
				"sample_type": st,
				"added":       lu.CasesAdded,
				"updated":     lu.CasesUpdated,
				"failed":      lu.CasesFailed,
			}).Info("Case update complete")
		}
		return firstErr
	}
}
