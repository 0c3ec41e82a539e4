package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type TriggerKind string

const (
	TriggerDayOfMonth  TriggerKind = "DayOfMonth"
	TriggerQuarterly   TriggerKind = "Quarterly"
	TriggerHalfYearly  TriggerKind = "HalfYearly"
	TriggerYearly      TriggerKind = "Yearly"
	TriggerDateAndTime TriggerKind = "DateAndTime"
)

// Recurring reports whether the kind repeats every period.
func (k TriggerKind) Recurring() bool {
	switch k {
	case TriggerDayOfMonth, TriggerQuarterly, TriggerHalfYearly, TriggerYearly:
		return true
	}
	return false
}

type ApprovalStatus string

const (
	ApprovalPending   ApprovalStatus = "pending"
	ApprovalCompleted ApprovalStatus = "completed"
)

func (s ApprovalStatus) Valid() bool {
	return s == ApprovalPending || s == ApprovalCompleted
}

type WorkItemStatus string

const WorkItemPending WorkItemStatus = "pending"

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Automation is a recurrence definition. Only the trigger columns belonging to
// TriggerKind are set; use SetTrigger to change them.
type Automation struct {
	ID          string `json:"id" gorm:"primaryKey;size:36"`
	Name        string `json:"name" gorm:"not null"`
	Description string `json:"description"`
	CreatedBy   string `json:"created_by" gorm:"size:64"`

	TriggerKind      TriggerKind              `json:"trigger_kind" gorm:"size:16;not null;index:idx_automation_trigger,priority:1"`
	DayOfMonth       *int                     `json:"day_of_month,omitempty" gorm:"index:idx_automation_trigger,priority:2"`
	QuarterlyMonths  datatypes.JSONSlice[int] `json:"quarterly_months,omitempty"`
	HalfYearlyMonths datatypes.JSONSlice[int] `json:"half_yearly_months,omitempty"`
	MonthOfYear      *int                     `json:"month_of_year,omitempty"`
	SpecificDate     *string                  `json:"specific_date,omitempty" gorm:"size:10;index"` // YYYY-MM-DD, organization zone
	SpecificTime     *string                  `json:"specific_time,omitempty" gorm:"size:5"`        // HH:MM, organization zone

	Templates        []AutomationTemplate        `json:"templates" gorm:"constraint:OnDelete:CASCADE"`
	GeneratedTaskIDs datatypes.JSONSlice[string] `json:"generated_task_ids"`

	LastRunDate  *time.Time `json:"last_run_date,omitempty"`
	LastRunMonth *int       `json:"last_run_month,omitempty"`
	LastRunYear  *int       `json:"last_run_year,omitempty"`

	// Version is bumped by every bookkeeping write and checked on the next one.
	Version   int       `json:"version" gorm:"not null;default:1"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *Automation) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Version == 0 {
		a.Version = 1
	}
	return nil
}

// AutomationTemplate describes the work-item to create and tracks its own
// per-period bookkeeping. Templates of one automation are ordered by Position.
type AutomationTemplate struct {
	ID           string `json:"id" gorm:"primaryKey;size:36"`
	AutomationID string `json:"automation_id" gorm:"size:36;not null;index"`
	Position     int    `json:"position"`

	Title           string                      `json:"title"`
	Description     string                      `json:"description"`
	ClientName      string                      `json:"client_name"`
	ClientGroup     string                      `json:"client_group"`
	WorkType        datatypes.JSONSlice[string] `json:"work_type"`
	AssignedTo      datatypes.JSONSlice[string] `json:"assigned_to"`
	AssignedBy      *string                     `json:"assigned_by,omitempty" gorm:"size:64"`
	Priority        string                      `json:"priority"`
	InwardEntryDate *string                     `json:"inward_entry_date,omitempty" gorm:"size:10"` // YYYY-MM-DD
	InwardEntryTime *string                     `json:"inward_entry_time,omitempty" gorm:"size:5"`  // HH:MM
	DueDate         *time.Time                  `json:"due_date,omitempty"`
	TargetDate      *time.Time                  `json:"target_date,omitempty"`
	Billed          *bool                       `json:"billed,omitempty"`

	ApprovalStatus ApprovalStatus `json:"approval_status" gorm:"size:16;not null;default:pending;index"`

	LastProcessedMonth *int                        `json:"last_processed_month,omitempty"`
	LastProcessedYear  *int                        `json:"last_processed_year,omitempty"`
	LastProcessedDate  *time.Time                  `json:"last_processed_date,omitempty"`
	CreatedTaskIDs     datatypes.JSONSlice[string] `json:"created_task_ids"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (t *AutomationTemplate) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.ApprovalStatus == "" {
		t.ApprovalStatus = ApprovalPending
	}
	return nil
}

// WorkItem is a concrete unit of work materialized from a template for one assignee.
// Verification fields are left nil on creation.
type WorkItem struct {
	ID              string                      `json:"id" gorm:"primaryKey;size:36"`
	Title           string                      `json:"title" gorm:"not null"`
	Description     string                      `json:"description"`
	ClientName      string                      `json:"client_name"`
	ClientGroup     string                      `json:"client_group"`
	WorkType        datatypes.JSONSlice[string] `json:"work_type"`
	AssignedTo      string                      `json:"assigned_to" gorm:"size:64;not null;index"`
	AssignedBy      *string                     `json:"assigned_by,omitempty" gorm:"size:64"`
	Priority        string                      `json:"priority"`
	Status          WorkItemStatus              `json:"status" gorm:"size:32;not null;index"`
	InwardEntryDate time.Time                   `json:"inward_entry_date"`
	DueDate         *time.Time                  `json:"due_date,omitempty"`
	TargetDate      *time.Time                  `json:"target_date,omitempty"`
	Billed          bool                        `json:"billed" gorm:"not null"`

	VerificationStatus *string    `json:"verification_status,omitempty" gorm:"size:32"`
	VerifiedBy         *string    `json:"verified_by,omitempty" gorm:"size:64"`
	VerifiedAt         *time.Time `json:"verified_at,omitempty"`

	AutomationID *string `json:"automation_id,omitempty" gorm:"size:36;index"`
	TemplateID   *string `json:"template_id,omitempty" gorm:"size:36;index"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (w *WorkItem) BeforeCreate(tx *gorm.DB) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.Status == "" {
		w.Status = WorkItemPending
	}
	return nil
}

// Models lists every table owned by the automation manager, in migration order.
func Models() []interface{} {
	return []interface{}{&Automation{}, &AutomationTemplate{}, &WorkItem{}}
}
