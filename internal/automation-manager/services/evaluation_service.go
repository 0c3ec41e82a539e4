package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"automation-service/internal/automation-manager/identity"
	amKafka "automation-service/internal/automation-manager/kafka"
	"automation-service/internal/automation-manager/repository"
	"automation-service/pkg/lock"
)

const (
	defaultMaxConcurrency    = 4
	defaultAutomationTimeout = time.Minute
	defaultFinalizeTimeout   = 30 * time.Second
)

// AutomationStore is everything the evaluation pass needs from the store.
type AutomationStore interface {
	CandidateFinder
	BookkeepingStore
	ResetRunMarkers(ctx context.Context, automationID *string) (int64, error)
}

type TemplateOutcome struct {
	TemplateID       string            `json:"template_id"`
	Title            string            `json:"title"`
	Skipped          SkipReason        `json:"skipped,omitempty"`
	MissingFields    []string          `json:"missing_fields,omitempty"`
	Attempted        bool              `json:"attempted"`
	Created          []string          `json:"created,omitempty"`
	InvalidAssignees int               `json:"invalid_assignees,omitempty"`
	Assignees        []AssigneeOutcome `json:"assignees,omitempty"`
	Error            string            `json:"error,omitempty"`
}

type AutomationOutcome struct {
	Candidate
	Templates    []TemplateOutcome `json:"templates,omitempty"`
	TasksCreated int               `json:"tasks_created"`
	Deleted      bool              `json:"deleted,omitempty"`
	// Skipped is set when a fresh read showed the automation is no longer due.
	Skipped string `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

type EvaluationResult struct {
	Success     bool      `json:"success"`
	Manual      bool      `json:"manual"`
	EvaluatedAt time.Time `json:"evaluated_at"`
	Candidates  int       `json:"candidates"`
	// ProcessedCount counts candidate automations processed without an automation-level error.
	ProcessedCount     int                 `json:"processed_count"`
	TasksCreated       int                 `json:"tasks_created"`
	AutomationsDeleted int                 `json:"automations_deleted"`
	DayOfMonthMatches  int64               `json:"day_of_month_matches"`
	Failures           int                 `json:"failures"`
	Automations        []AutomationOutcome `json:"automations,omitempty"`
	Error              string              `json:"error,omitempty"`
}

type ResetResult struct {
	Success       bool   `json:"success"`
	ModifiedCount int64  `json:"modified_count"`
	Error         string `json:"error,omitempty"`
}

// EvaluationService runs the evaluation pass: select candidates, gate each
// template, materialize work items, then persist bookkeeping.
type EvaluationService struct {
	store        AutomationStore
	recurrence   *RecurrenceEvaluator
	materializer *Materializer
	lifecycle    *LifecycleManager

	locker            lock.Locker
	clock             clockwork.Clock
	location          *time.Location
	validator         identity.Validator
	maxConcurrency    int
	automationTimeout time.Duration
	finalizeTimeout   time.Duration
	log               *zap.Logger
}

type EvaluationOption func(*EvaluationService)

func WithClock(c clockwork.Clock) EvaluationOption {
	return func(s *EvaluationService) { s.clock = c }
}

// WithLocation sets the organization zone all date math runs in.
func WithLocation(loc *time.Location) EvaluationOption {
	return func(s *EvaluationService) { s.location = loc }
}

func WithLocker(l lock.Locker) EvaluationOption {
	return func(s *EvaluationService) { s.locker = l }
}

func WithIdentityValidator(v identity.Validator) EvaluationOption {
	return func(s *EvaluationService) { s.validator = v }
}

func WithMaxConcurrency(n int) EvaluationOption {
	return func(s *EvaluationService) {
		if n > 0 {
			s.maxConcurrency = n
		}
	}
}

func WithAutomationTimeout(d time.Duration) EvaluationOption {
	return func(s *EvaluationService) {
		if d > 0 {
			s.automationTimeout = d
		}
	}
}

// WithFinalizeTimeout bounds the bookkeeping write that follows materialization.
func WithFinalizeTimeout(d time.Duration) EvaluationOption {
	return func(s *EvaluationService) {
		if d > 0 {
			s.finalizeTimeout = d
		}
	}
}

func NewEvaluationService(store AutomationStore, creator WorkItemCreator, publisher amKafka.Publisher, opts ...EvaluationOption) *EvaluationService {
	s := &EvaluationService{
		store:             store,
		locker:            lock.NewLocalLocker(),
		clock:             clockwork.NewRealClock(),
		location:          time.UTC,
		validator:         identity.UUIDValidator{},
		maxConcurrency:    defaultMaxConcurrency,
		automationTimeout: defaultAutomationTimeout,
		finalizeTimeout:   defaultFinalizeTimeout,
		log:               zap.L().Named("evaluation"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.recurrence = NewRecurrenceEvaluator(store)
	s.materializer = NewMaterializer(creator, s.validator, s.location)
	s.lifecycle = NewLifecycleManager(store, publisher)
	return s
}

// RunEvaluation performs one pass. Per-template and per-automation problems are
// reported in the result; an error is returned only when candidates could not
// be selected at all.
func (s *EvaluationService) RunEvaluation(ctx context.Context, isManual bool) (*EvaluationResult, error) {
	now := s.clock.Now().In(s.location)
	result := &EvaluationResult{Manual: isManual, EvaluatedAt: now}
	s.log.Info("Starting evaluation pass", zap.Bool("manual", isManual), zap.Time("now", now))

	set, err := s.recurrence.Candidates(ctx, now)
	if err != nil {
		result.Error = err.Error()
		s.log.Error("Evaluation pass failed to select candidates", zap.Bool("manual", isManual), zap.Error(err))
		return result, fmt.Errorf("select candidates: %w", err)
	}
	result.Candidates = len(set.Candidates)
	result.DayOfMonthMatches = set.DayOfMonthMatches

	outcomes := make([]AutomationOutcome, len(set.Candidates))
	var g errgroup.Group
	g.SetLimit(s.maxConcurrency)
	for i, c := range set.Candidates {
		i, c := i, c
		g.Go(func() error {
			outcomes[i] = s.processAutomation(ctx, c, now)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		// work items exist even when the automation's bookkeeping failed afterwards
		result.TasksCreated += o.TasksCreated
		if o.Error != "" {
			result.Failures++
			continue
		}
		result.ProcessedCount++
		if o.Deleted {
			result.AutomationsDeleted++
		}
	}
	result.Automations = outcomes
	result.Success = true

	s.log.Info("Evaluation pass finished",
		zap.Bool("manual", isManual),
		zap.Int("candidates", result.Candidates),
		zap.Int("processed", result.ProcessedCount),
		zap.Int("tasks_created", result.TasksCreated),
		zap.Int("automations_deleted", result.AutomationsDeleted),
		zap.Int("failures", result.Failures),
	)
	return result, nil
}

// processAutomation handles one automation under its lock. Nothing escapes it:
// errors and panics become the outcome's Error.
func (s *EvaluationService) processAutomation(parent context.Context, c Candidate, now time.Time) (out AutomationOutcome) {
	out.Candidate = c
	log := s.log.With(zap.String("automation_id", c.AutomationID), zap.String("trigger_kind", string(c.Kind)))

	defer func() {
		if r := recover(); r != nil {
			out.Error = fmt.Sprintf("panic: %v", r)
			log.Error("Automation processing panicked", zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(parent, s.automationTimeout)
	defer cancel()

	release, err := s.locker.Acquire(ctx, c.AutomationID)
	if err != nil {
		out.Error = err.Error()
		log.Error("Could not lock automation", zap.Error(err))
		return out
	}
	defer release()

	// re-read under the lock so a concurrent pass's bookkeeping is visible
	a, err := s.store.Get(ctx, c.AutomationID)
	if errors.Is(err, repository.ErrAutomationNotFound) {
		out.Skipped = "automation no longer exists"
		log.Info("Automation disappeared before processing")
		return out
	}
	if err != nil {
		out.Error = err.Error()
		log.Error("Failed to load automation", zap.Error(err))
		return out
	}
	if _, due, err := dueCandidate(a, now); err != nil || !due {
		out.Skipped = "automation no longer due"
		if err != nil {
			out.Skipped = err.Error()
		}
		log.Info("Automation no longer due on fresh read", zap.String("reason", out.Skipped))
		return out
	}

	run := RunSummary{CreatedBy: map[string][]string{}}
	for i := range a.Templates {
		tmpl := &a.Templates[i]
		to := TemplateOutcome{TemplateID: tmpl.ID, Title: tmpl.Title}

		reason, missing := CheckTemplate(a.TriggerKind, tmpl, now)
		if reason != "" {
			to.Skipped, to.MissingFields = reason, missing
			if reason == SkipMissingFields {
				log.Warn("Template is missing required fields", zap.String("template_id", tmpl.ID), zap.Strings("fields", missing))
			} else {
				log.Debug("Template skipped", zap.String("template_id", tmpl.ID), zap.String("reason", string(reason)))
			}
			out.Templates = append(out.Templates, to)
			continue
		}

		to.Attempted = true
		run.Attempted++
		res := s.materializer.Materialize(ctx, a, tmpl, now)
		to.Created, to.InvalidAssignees, to.Assignees = res.Created, res.InvalidAssignees, res.Assignees
		if res.Err != nil {
			to.Error = res.Err.Error()
		}
		if len(res.Created) > 0 {
			StampTemplate(a.TriggerKind, tmpl, res.Created, now)
			run.Changed = append(run.Changed, tmpl)
			run.Created = append(run.Created, res.Created...)
			run.CreatedBy[tmpl.ID] = res.Created
		}
		out.Templates = append(out.Templates, to)
	}
	out.TasksCreated = len(run.Created)

	// work items already exist, so the bookkeeping write is not bound by the per-automation deadline
	finalCtx, finalCancel := context.WithTimeout(context.WithoutCancel(ctx), s.finalizeTimeout)
	defer finalCancel()
	deleted, err := s.lifecycle.Finish(finalCtx, a, run, now)
	if err != nil {
		out.Error = err.Error()
		log.Error("Failed to persist automation bookkeeping", zap.Int("tasks_created", out.TasksCreated), zap.Error(err))
		return out
	}
	out.Deleted = deleted
	return out
}

// ResetRecurrenceMarkers clears run markers on one automation, or on every
// DayOfMonth automation when automationID is nil.
func (s *EvaluationService) ResetRecurrenceMarkers(ctx context.Context, automationID *string) (*ResetResult, error) {
	if automationID != nil {
		release, err := s.locker.Acquire(ctx, *automationID)
		if err != nil {
			return &ResetResult{Error: err.Error()}, err
		}
		defer release()
	}

	modified, err := s.store.ResetRunMarkers(ctx, automationID)
	if err != nil {
		s.log.Error("Failed to reset recurrence markers", zap.Error(err))
		return &ResetResult{Error: err.Error()}, err
	}
	s.log.Info("Reset recurrence markers", zap.Int64("modified", modified), zap.Bool("single", automationID != nil))
	return &ResetResult{Success: true, ModifiedCount: modified}, nil
}
