package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"automation-service/internal/automation-manager/db"
	"automation-service/internal/automation-manager/events"
	amKafka "automation-service/internal/automation-manager/kafka"
	"automation-service/internal/automation-manager/repository"
)

const maxBookkeepingAttempts = 3

// BookkeepingStore is the write side of the automation store.
type BookkeepingStore interface {
	Get(ctx context.Context, id string) (*db.Automation, error)
	SaveBookkeeping(ctx context.Context, automation *db.Automation, templates []*db.AutomationTemplate) error
	Delete(ctx context.Context, id string) error
}

// RunSummary is what one automation produced in this pass.
type RunSummary struct {
	// Attempted counts templates that reached the materializer.
	Attempted int
	Created   []string
	// Changed holds templates whose bookkeeping was stamped in memory.
	Changed []*db.AutomationTemplate
	// CreatedBy maps a changed template's id to the work items it produced in this run.
	CreatedBy map[string][]string
}

// LifecycleManager persists bookkeeping and retires one-shot automations.
type LifecycleManager struct {
	Store     BookkeepingStore
	Publisher amKafka.Publisher
	log       *zap.Logger
}

func NewLifecycleManager(store BookkeepingStore, publisher amKafka.Publisher) *LifecycleManager {
	if publisher == nil {
		publisher = amKafka.NopPublisher{}
	}
	return &LifecycleManager{Store: store, Publisher: publisher, log: zap.L().Named("lifecycle")}
}

// StampTemplate records a successful materialization on the template. Recurring
// kinds also get the period markers that the guard checks.
func StampTemplate(kind db.TriggerKind, tmpl *db.AutomationTemplate, created []string, now time.Time) {
	if len(created) == 0 {
		return
	}
	if kind.Recurring() {
		month, year := int(now.Month()), now.Year()
		stampedAt := now
		tmpl.LastProcessedMonth = &month
		tmpl.LastProcessedYear = &year
		tmpl.LastProcessedDate = &stampedAt
	}
	tmpl.CreatedTaskIDs = append(tmpl.CreatedTaskIDs, created...)
}

// Finish applies the automation-level outcome of a run and persists it. It
// reports whether the automation was deleted.
func (l *LifecycleManager) Finish(ctx context.Context, a *db.Automation, run RunSummary, now time.Time) (bool, error) {
	log := l.log.With(zap.String("automation_id", a.ID), zap.String("trigger_kind", string(a.TriggerKind)))

	if a.TriggerKind.Recurring() {
		if run.Attempted == 0 {
			log.Debug("No template was attempted, automation left untouched")
			return false, nil
		}
		gone, err := l.persist(ctx, a, run, now)
		if gone {
			log.Info("Automation was deleted during the run, bookkeeping dropped", zap.Int("work_items", len(run.Created)))
		}
		return false, err
	}

	if len(run.Created) == 0 {
		log.Info("One-shot automation produced no work items, retained for retry", zap.Int("attempted", run.Attempted))
		return false, nil
	}

	gone, err := l.persist(ctx, a, run, now)
	if err != nil {
		return false, err
	}
	if !gone {
		if err := l.Store.Delete(ctx, a.ID); err != nil {
			return false, fmt.Errorf("delete completed one-shot automation %s: %w", a.ID, err)
		}
	}
	log.Info("One-shot automation completed and deleted", zap.Int("work_items", len(run.Created)))

	payload := events.AutomationCompletedPayload{
		Type:         events.TypeAutomationCompleted,
		AutomationID: a.ID,
		Name:         a.Name,
		WorkItemIDs:  run.Created,
		CompletedAt:  now,
	}
	if err := l.Publisher.Publish(ctx, a.ID, payload); err != nil {
		log.Warn("Failed to publish automation completed event", zap.Error(err))
	}
	return true, nil
}

// persist saves the run's bookkeeping. When the automation was written by
// someone else after it was read, the run is replayed onto a fresh copy: the
// work items already exist, so their stamps must not be dropped. It reports
// whether the automation no longer exists.
func (l *LifecycleManager) persist(ctx context.Context, a *db.Automation, run RunSummary, now time.Time) (bool, error) {
	kind := a.TriggerKind
	target, changed := a, run.Changed
	for attempt := 1; ; attempt++ {
		markRun(kind, target, run, now)
		err := l.Store.SaveBookkeeping(ctx, target, changed)
		if !errors.Is(err, repository.ErrConcurrentModification) || attempt == maxBookkeepingAttempts {
			return false, err
		}
		l.log.Warn("Automation changed during the run, replaying bookkeeping",
			zap.String("automation_id", a.ID), zap.Int("attempt", attempt))

		fresh, err := l.Store.Get(ctx, a.ID)
		if errors.Is(err, repository.ErrAutomationNotFound) {
			return true, nil
		}
		if err != nil {
			return false, fmt.Errorf("reload automation %s: %w", a.ID, err)
		}
		target, changed = fresh, restamp(kind, fresh, run, now)
	}
}

// markRun sets the automation-level markers. Recurring markers are set even
// when every attempt produced nothing; the templates themselves stay unstamped
// and are retried.
func markRun(kind db.TriggerKind, a *db.Automation, run RunSummary, now time.Time) {
	a.GeneratedTaskIDs = append(a.GeneratedTaskIDs, run.Created...)
	if kind.Recurring() {
		month, year := int(now.Month()), now.Year()
		runAt := now
		a.LastRunDate, a.LastRunMonth, a.LastRunYear = &runAt, &month, &year
	}
}

// restamp applies the run's template stamps to a freshly read automation.
// Templates removed in the meantime are skipped.
func restamp(kind db.TriggerKind, fresh *db.Automation, run RunSummary, now time.Time) []*db.AutomationTemplate {
	var changed []*db.AutomationTemplate
	for _, stale := range run.Changed {
		for i := range fresh.Templates {
			tmpl := &fresh.Templates[i]
			created := run.CreatedBy[stale.ID]
			if tmpl.ID != stale.ID || len(created) == 0 {
				continue
			}
			StampTemplate(kind, tmpl, created, now)
			changed = append(changed, tmpl)
		}
	}
	return changed
}
