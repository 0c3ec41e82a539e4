package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

const evaluationJobTag = "automation_evaluation"

var ErrSchedulerNotStarted = errors.New("evaluation job is not scheduled")

// Evaluator is the evaluation entry point driven by the scheduler tick.
type Evaluator interface {
	RunEvaluation(ctx context.Context, isManual bool) (*EvaluationResult, error)
}

// SchedulerService fires the evaluation pass on a fixed interval. A tick that
// finds the previous pass still running is rescheduled instead of overlapping.
type SchedulerService struct {
	Scheduler  gocron.Scheduler
	Evaluator  Evaluator
	Interval   time.Duration
	appContext context.Context
	job        gocron.Job
	log        *zap.Logger
}

func NewSchedulerService(ctx context.Context, evaluator Evaluator, interval time.Duration, opts ...gocron.SchedulerOption) (*SchedulerService, error) {
	s, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &SchedulerService{
		Scheduler:  s,
		Evaluator:  evaluator,
		Interval:   interval,
		appContext: ctx,
		log:        zap.L().Named("scheduler"),
	}, nil
}

func (s *SchedulerService) Start() error {
	s.log.Info("SchedulerService starting...", zap.Duration("interval", s.Interval))
	if err := s.scheduleEvaluation(); err != nil {
		return err
	}
	s.Scheduler.Start()
	s.log.Info("SchedulerService started")
	return nil
}

func (s *SchedulerService) Stop() {
	s.log.Info("SchedulerService stopping...")
	if err := s.Scheduler.Shutdown(); err != nil {
		s.log.Error("Error shutting down gocron scheduler", zap.Error(err))
	} else {
		s.log.Info("Gocron scheduler shut down successfully")
	}
}

func (s *SchedulerService) scheduleEvaluation() error {
	s.Scheduler.RemoveByTags(evaluationJobTag)

	job, err := s.Scheduler.NewJob(
		gocron.DurationJob(s.Interval),
		gocron.NewTask(s.runTick),
		gocron.WithName("automation-evaluation"),
		gocron.WithTags(evaluationJobTag),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule evaluation job: %w", err)
	}
	s.job = job
	s.log.Info("Scheduled evaluation job", zap.String("job_id", job.ID().String()), zap.Strings("tags", job.Tags()))
	return nil
}

// runTick is fire-and-forget: the outcome is only logged.
func (s *SchedulerService) runTick() {
	if s.appContext.Err() != nil {
		return
	}
	result, err := s.Evaluator.RunEvaluation(s.appContext, false)
	if err != nil {
		s.log.Error("Scheduled evaluation failed", zap.Error(err))
		return
	}
	s.log.Info("Scheduled evaluation completed",
		zap.Int("processed", result.ProcessedCount),
		zap.Int("tasks_created", result.TasksCreated),
		zap.Int("failures", result.Failures),
	)
}

// RunNow asks gocron to fire the evaluation job immediately, outside the
// interval. It is safe on a nil service.
func (s *SchedulerService) RunNow() error {
	if s == nil || s.job == nil {
		return ErrSchedulerNotStarted
	}
	return s.job.RunNow()
}

// NextRun reports when the next scheduled tick will fire.
func (s *SchedulerService) NextRun() (time.Time, error) {
	if s == nil || s.job == nil {
		return time.Time{}, ErrSchedulerNotStarted
	}
	return s.job.NextRun()
}
