package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"automation-service/internal/automation-manager/db"
)

var (
	ErrAutomationNotFound     = errors.New("automation not found")
	ErrTemplateNotFound       = errors.New("template not found")
	ErrConcurrentModification = errors.New("automation was modified concurrently")
)

var recurringKinds = []db.TriggerKind{db.TriggerDayOfMonth, db.TriggerQuarterly, db.TriggerHalfYearly, db.TriggerYearly}

const hasApprovedTemplate = `EXISTS (SELECT 1 FROM automation_templates t WHERE t.automation_id = automations.id AND t.approval_status = ?)`

// AutomationRepository is the gorm-backed Automation store.
type AutomationRepository struct {
	DB *gorm.DB
}

func NewAutomationRepository(gormDB *gorm.DB) *AutomationRepository {
	return &AutomationRepository{DB: gormDB}
}

func orderedTemplates(tx *gorm.DB) *gorm.DB {
	return tx.Order("position ASC").Order("created_at ASC")
}

func (r *AutomationRepository) withTemplates(ctx context.Context) *gorm.DB {
	return r.DB.WithContext(ctx).Preload("Templates", orderedTemplates)
}

// FindRecurringCandidates returns recurring automations whose day of month is day
// and that hold at least one approved template. Yearly automations are also
// narrowed by month; quarterly and half-yearly month sets are left to the caller.
func (r *AutomationRepository) FindRecurringCandidates(ctx context.Context, day, month int) ([]db.Automation, error) {
	var automations []db.Automation
	err := r.withTemplates(ctx).
		Where("trigger_kind IN ?", recurringKinds).
		Where("day_of_month = ?", day).
		Where("(trigger_kind <> ? OR month_of_year = ?)", db.TriggerYearly, month).
		Where(hasApprovedTemplate, db.ApprovalCompleted).
		Order("created_at ASC").
		Find(&automations).Error
	if err != nil {
		return nil, fmt.Errorf("find recurring candidates: %w", err)
	}
	return automations, nil
}

// FindDateAndTimeCandidates returns one-shot automations due at or before
// today/clock (YYYY-MM-DD, HH:MM) that hold at least one approved template.
func (r *AutomationRepository) FindDateAndTimeCandidates(ctx context.Context, today, clock string) ([]db.Automation, error) {
	var automations []db.Automation
	err := r.withTemplates(ctx).
		Where("trigger_kind = ?", db.TriggerDateAndTime).
		Where("(specific_date < ? OR (specific_date = ? AND specific_time <= ?))", today, today, clock).
		Where(hasApprovedTemplate, db.ApprovalCompleted).
		Order("specific_date ASC").
		Find(&automations).Error
	if err != nil {
		return nil, fmt.Errorf("find date-and-time candidates: %w", err)
	}
	return automations, nil
}

// CountDayOfMonthMatches counts DayOfMonth automations for day regardless of approval.
func (r *AutomationRepository) CountDayOfMonthMatches(ctx context.Context, day int) (int64, error) {
	var count int64
	err := r.DB.WithContext(ctx).Model(&db.Automation{}).
		Where("trigger_kind = ? AND day_of_month = ?", db.TriggerDayOfMonth, day).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count day-of-month matches: %w", err)
	}
	return count, nil
}

func (r *AutomationRepository) Get(ctx context.Context, id string) (*db.Automation, error) {
	var automation db.Automation
	if err := r.withTemplates(ctx).First(&automation, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAutomationNotFound
		}
		return nil, fmt.Errorf("get automation %s: %w", id, err)
	}
	return &automation, nil
}

func (r *AutomationRepository) List(ctx context.Context, kind db.TriggerKind) ([]db.Automation, error) {
	q := r.withTemplates(ctx).Order("created_at ASC")
	if kind != "" {
		q = q.Where("trigger_kind = ?", kind)
	}
	var automations []db.Automation
	if err := q.Find(&automations).Error; err != nil {
		return nil, fmt.Errorf("list automations: %w", err)
	}
	return automations, nil
}

// Create inserts the automation with its templates. The trigger columns must
// already describe exactly one kind.
func (r *AutomationRepository) Create(ctx context.Context, automation *db.Automation) error {
	if _, err := automation.Trigger(); err != nil {
		return err
	}
	for i := range automation.Templates {
		automation.Templates[i].Position = i
	}
	if err := r.DB.WithContext(ctx).Create(automation).Error; err != nil {
		return fmt.Errorf("create automation: %w", err)
	}
	return nil
}

// UpdateTrigger replaces the automation's trigger, nulling the columns of the
// previous kind. Trigger columns are not bookkeeping, so the version is left
// alone and an evaluation pass in flight can still save its stamps.
func (r *AutomationRepository) UpdateTrigger(ctx context.Context, id string, trigger db.Trigger) (*db.Automation, error) {
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var automation db.Automation
		if err := tx.First(&automation, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAutomationNotFound
			}
			return err
		}
		if err := automation.SetTrigger(trigger); err != nil {
			return err
		}
		return tx.Model(&db.Automation{}).Where("id = ?", id).Updates(automation.TriggerColumns()).Error
	})
	if err != nil {
		if errors.Is(err, ErrAutomationNotFound) || errors.Is(err, db.ErrInvalidTrigger) {
			return nil, err
		}
		return nil, fmt.Errorf("update trigger of %s: %w", id, err)
	}
	return r.Get(ctx, id)
}

// SaveBookkeeping writes the automation's run markers and the bookkeeping of
// the given templates in one transaction. Only bookkeeping columns are written,
// so concurrent approval changes survive. The write is rejected with
// ErrConcurrentModification if the automation's version moved since it was read.
func (r *AutomationRepository) SaveBookkeeping(ctx context.Context, automation *db.Automation, templates []*db.AutomationTemplate) error {
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&db.Automation{}).
			Where("id = ? AND version = ?", automation.ID, automation.Version).
			Updates(map[string]interface{}{
				"generated_task_ids": jsonStrings(automation.GeneratedTaskIDs),
				"last_run_date":      automation.LastRunDate,
				"last_run_month":     automation.LastRunMonth,
				"last_run_year":      automation.LastRunYear,
				"version":            gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConcurrentModification
		}

		for _, tmpl := range templates {
			res := tx.Model(&db.AutomationTemplate{}).
				Where("id = ? AND automation_id = ?", tmpl.ID, automation.ID).
				Updates(map[string]interface{}{
					"last_processed_month": tmpl.LastProcessedMonth,
					"last_processed_year":  tmpl.LastProcessedYear,
					"last_processed_date":  tmpl.LastProcessedDate,
					"created_task_ids":     jsonStrings(tmpl.CreatedTaskIDs),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%w: %s", ErrTemplateNotFound, tmpl.ID)
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConcurrentModification) {
			return err
		}
		return fmt.Errorf("save bookkeeping of %s: %w", automation.ID, err)
	}
	automation.Version++
	return nil
}

// Delete removes the automation and its templates.
func (r *AutomationRepository) Delete(ctx context.Context, id string) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("automation_id = ?", id).Delete(&db.AutomationTemplate{}).Error; err != nil {
			return fmt.Errorf("delete templates of %s: %w", id, err)
		}
		res := tx.Where("id = ?", id).Delete(&db.Automation{})
		if res.Error != nil {
			return fmt.Errorf("delete automation %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrAutomationNotFound
		}
		return nil
	})
}

// ResetRunMarkers clears the run markers of one automation, or of every
// DayOfMonth automation when automationID is nil. The per-template
// lastProcessed markers are cleared too since they are what gates re-firing.
// It returns the number of automations modified.
func (r *AutomationRepository) ResetRunMarkers(ctx context.Context, automationID *string) (int64, error) {
	var modified int64
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scope := tx.Model(&db.Automation{})
		if automationID != nil {
			scope = scope.Where("id = ?", *automationID)
		} else {
			scope = scope.Where("trigger_kind = ?", db.TriggerDayOfMonth)
		}
		var ids []string
		if err := scope.Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			if automationID != nil {
				return ErrAutomationNotFound
			}
			return nil
		}

		res := tx.Model(&db.Automation{}).Where("id IN ?", ids).Updates(map[string]interface{}{
			"last_run_date":  nil,
			"last_run_month": nil,
			"last_run_year":  nil,
			"version":        gorm.Expr("version + 1"),
		})
		if res.Error != nil {
			return res.Error
		}
		modified = res.RowsAffected

		return tx.Model(&db.AutomationTemplate{}).Where("automation_id IN ?", ids).Updates(map[string]interface{}{
			"last_processed_month": nil,
			"last_processed_year":  nil,
			"last_processed_date":  nil,
		}).Error
	})
	if err != nil {
		if errors.Is(err, ErrAutomationNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("reset run markers: %w", err)
	}
	return modified, nil
}

// SetTemplateApproval records the outcome of the external approval workflow.
func (r *AutomationRepository) SetTemplateApproval(ctx context.Context, automationID, templateID string, status db.ApprovalStatus) error {
	res := r.DB.WithContext(ctx).Model(&db.AutomationTemplate{}).
		Where("id = ? AND automation_id = ?", templateID, automationID).
		Update("approval_status", status)
	if res.Error != nil {
		return fmt.Errorf("set approval of template %s: %w", templateID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

// jsonStrings keeps list columns as JSON arrays rather than JSON null.
func jsonStrings(v datatypes.JSONSlice[string]) datatypes.JSONSlice[string] {
	if v == nil {
		return datatypes.JSONSlice[string]{}
	}
	return v
}
