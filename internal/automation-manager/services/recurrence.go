package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"automation-service/internal/automation-manager/db"
)

// CandidateFinder is the read side of the automation store used to select candidates.
type CandidateFinder interface {
	FindRecurringCandidates(ctx context.Context, day, month int) ([]db.Automation, error)
	FindDateAndTimeCandidates(ctx context.Context, today, clock string) ([]db.Automation, error)
	CountDayOfMonthMatches(ctx context.Context, day int) (int64, error)
}

// Candidate is an automation selected for this tick.
type Candidate struct {
	AutomationID string         `json:"automation_id"`
	Name         string         `json:"name"`
	Kind         db.TriggerKind `json:"trigger_kind"`
	// Missed marks a one-shot automation whose date is already in the past.
	Missed bool `json:"missed,omitempty"`
}

type CandidateSet struct {
	Candidates []Candidate
	// DayOfMonthMatches is informational only and never drives scheduling.
	DayOfMonthMatches int64
}

// RecurrenceEvaluator selects the automations that are due at a given instant.
type RecurrenceEvaluator struct {
	Finder CandidateFinder
	log    *zap.Logger
}

func NewRecurrenceEvaluator(finder CandidateFinder) *RecurrenceEvaluator {
	return &RecurrenceEvaluator{Finder: finder, log: zap.L().Named("recurrence")}
}

// Candidates returns the union of recurring and one-shot candidates for now,
// which must already be expressed in the organization zone.
func (e *RecurrenceEvaluator) Candidates(ctx context.Context, now time.Time) (*CandidateSet, error) {
	set := &CandidateSet{}
	seen := make(map[string]bool)

	recurring, err := e.Finder.FindRecurringCandidates(ctx, now.Day(), int(now.Month()))
	if err != nil {
		return nil, err
	}
	for i := range recurring {
		if c, ok := e.candidate(&recurring[i], now); ok && !seen[c.AutomationID] {
			seen[c.AutomationID] = true
			set.Candidates = append(set.Candidates, c)
		}
	}

	oneShot, err := e.Finder.FindDateAndTimeCandidates(ctx, now.Format(db.DateLayout), now.Format(db.TimeLayout))
	if err != nil {
		return nil, err
	}
	for i := range oneShot {
		if c, ok := e.candidate(&oneShot[i], now); ok && !seen[c.AutomationID] {
			seen[c.AutomationID] = true
			set.Candidates = append(set.Candidates, c)
		}
	}

	count, err := e.Finder.CountDayOfMonthMatches(ctx, now.Day())
	if err != nil {
		e.log.Warn("Could not count day-of-month automations", zap.Error(err))
	} else {
		set.DayOfMonthMatches = count
	}

	e.log.Info("Selected candidate automations",
		zap.String("today", now.Format(db.DateLayout)),
		zap.String("time", now.Format(db.TimeLayout)),
		zap.Int("recurring_rows", len(recurring)),
		zap.Int("one_shot_rows", len(oneShot)),
		zap.Int("candidates", len(set.Candidates)),
		zap.Int64("day_of_month_matches", set.DayOfMonthMatches),
	)
	return set, nil
}

func (e *RecurrenceEvaluator) candidate(a *db.Automation, now time.Time) (Candidate, bool) {
	c, ok, err := dueCandidate(a, now)
	if err != nil {
		e.log.Warn("Skipping automation with malformed trigger", zap.String("automation_id", a.ID), zap.Error(err))
	}
	return c, ok
}

// dueCandidate decides whether a loaded automation is due at now. It applies
// the same rules as the store queries so it can be re-checked on a fresh read.
func dueCandidate(a *db.Automation, now time.Time) (Candidate, bool, error) {
	trigger, err := a.Trigger()
	if err != nil {
		return Candidate{}, false, err
	}
	if !trigger.Matches(now) || !hasApprovedTemplate(a) {
		return Candidate{}, false, nil
	}
	c := Candidate{AutomationID: a.ID, Name: a.Name, Kind: trigger.Kind()}
	if dt, ok := trigger.(db.DateAndTimeTrigger); ok {
		c.Missed = dt.Overdue(now)
	}
	return c, true, nil
}

func hasApprovedTemplate(a *db.Automation) bool {
	for i := range a.Templates {
		if a.Templates[i].ApprovalStatus == db.ApprovalCompleted {
			return true
		}
	}
	return false
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s(%s)", c.AutomationID, c.Kind)
}
