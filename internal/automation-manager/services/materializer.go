package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"automation-service/internal/automation-manager/db"
	"automation-service/internal/automation-manager/identity"
)

var ErrNoValidAssignees = errors.New("no valid assignees")

// WorkItemCreator persists a single work item.
type WorkItemCreator interface {
	CreateWorkItem(ctx context.Context, item *db.WorkItem) error
}

type AssigneeOutcome struct {
	AssigneeID string `json:"assignee_id"`
	WorkItemID string `json:"work_item_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

type MaterializeResult struct {
	Created          []string
	Assignees        []AssigneeOutcome
	InvalidAssignees int
	// Err is a template-level validation failure; no work item was attempted.
	Err error
}

// Materializer turns a due template into one work item per valid assignee.
type Materializer struct {
	Creator  WorkItemCreator
	Identity identity.Validator
	Location *time.Location
	log      *zap.Logger
}

func NewMaterializer(creator WorkItemCreator, validator identity.Validator, loc *time.Location) *Materializer {
	return &Materializer{Creator: creator, Identity: validator, Location: loc, log: zap.L().Named("materializer")}
}

func (m *Materializer) Materialize(ctx context.Context, a *db.Automation, tmpl *db.AutomationTemplate, now time.Time) MaterializeResult {
	log := m.log.With(zap.String("automation_id", a.ID), zap.String("template_id", tmpl.ID))
	var res MaterializeResult

	inward, err := m.inwardEntry(tmpl, now)
	if err != nil {
		res.Err = err
		log.Error("Invalid inward entry on template", zap.Error(err))
		return res
	}

	assignees, invalid := m.assignees(tmpl.AssignedTo)
	res.InvalidAssignees = len(invalid)
	if len(invalid) > 0 {
		log.Warn("Dropped invalid assignees", zap.Strings("invalid", invalid), zap.Int("valid", len(assignees)))
	}
	if len(assignees) == 0 {
		res.Err = ErrNoValidAssignees
		log.Error("Template has no valid assignees, skipping this run", zap.Int("invalid", len(invalid)))
		return res
	}

	assignedBy := m.assignedBy(tmpl, a)
	billed := true
	if tmpl.Billed != nil {
		billed = *tmpl.Billed
	}

	for _, assignee := range assignees {
		item := &db.WorkItem{
			Title:           tmpl.Title,
			Description:     tmpl.Description,
			ClientName:      tmpl.ClientName,
			ClientGroup:     tmpl.ClientGroup,
			WorkType:        slices.Clone(tmpl.WorkType),
			AssignedTo:      assignee,
			AssignedBy:      assignedBy,
			Priority:        tmpl.Priority,
			Status:          db.WorkItemPending,
			InwardEntryDate: inward,
			DueDate:         tmpl.DueDate,
			TargetDate:      tmpl.TargetDate,
			Billed:          billed,
			AutomationID:    &a.ID,
			TemplateID:      &tmpl.ID,
		}
		outcome := AssigneeOutcome{AssigneeID: assignee}
		if err := m.Creator.CreateWorkItem(ctx, item); err != nil {
			outcome.Error = err.Error()
			log.Error("Failed to create work item", zap.String("assignee", assignee), zap.Error(err))
		} else {
			outcome.WorkItemID = item.ID
			res.Created = append(res.Created, item.ID)
		}
		res.Assignees = append(res.Assignees, outcome)
	}

	log.Info("Materialized template",
		zap.Int("created", len(res.Created)),
		zap.Int("failed", len(assignees)-len(res.Created)),
		zap.Int("invalid_assignees", res.InvalidAssignees),
	)
	return res
}

// inwardEntry combines the template's civil date with its optional HH:MM in
// the organization zone. Without a time, the clock time of now is used.
func (m *Materializer) inwardEntry(tmpl *db.AutomationTemplate, now time.Time) (time.Time, error) {
	if tmpl.InwardEntryDate == nil {
		return time.Time{}, fmt.Errorf("inward entry date is missing")
	}
	date, err := time.ParseInLocation(db.DateLayout, strings.TrimSpace(*tmpl.InwardEntryDate), m.Location)
	if err != nil {
		return time.Time{}, fmt.Errorf("inward entry date %q: %w", *tmpl.InwardEntryDate, err)
	}
	local := now.In(m.Location)
	hour, minute, sec, nsec := local.Hour(), local.Minute(), local.Second(), local.Nanosecond()
	if tmpl.InwardEntryTime != nil && strings.TrimSpace(*tmpl.InwardEntryTime) != "" {
		clock, err := time.Parse(db.TimeLayout, strings.TrimSpace(*tmpl.InwardEntryTime))
		if err != nil {
			return time.Time{}, fmt.Errorf("inward entry time %q: %w", *tmpl.InwardEntryTime, err)
		}
		hour, minute, sec, nsec = clock.Hour(), clock.Minute(), 0, 0
	}
	return time.Date(date.Year(), date.Month(), date.Day(), hour, minute, sec, nsec, m.Location), nil
}

// assignees trims, drops blanks and duplicates, and splits valid from invalid references.
func (m *Materializer) assignees(raw datatypes.JSONSlice[string]) (valid, invalid []string) {
	seen := make(map[string]bool, len(raw))
	for _, ref := range raw {
		ref = strings.TrimSpace(ref)
		if ref == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		if m.Identity.Valid(ref) {
			valid = append(valid, ref)
		} else {
			invalid = append(invalid, ref)
		}
	}
	return valid, invalid
}

// assignedBy prefers the template's own value, then the automation's creator.
func (m *Materializer) assignedBy(tmpl *db.AutomationTemplate, a *db.Automation) *string {
	if tmpl.AssignedBy != nil {
		if ref := strings.TrimSpace(*tmpl.AssignedBy); m.Identity.Valid(ref) {
			return &ref
		}
	}
	if ref := strings.TrimSpace(a.CreatedBy); m.Identity.Valid(ref) {
		return &ref
	}
	return nil
}
