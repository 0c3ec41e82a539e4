package services

import (
	"errors"
	"time"

	"automation-service/internal/automation-manager/db"
	"automation-service/pkg/validation"
)

type SkipReason string

const (
	SkipMissingFields   SkipReason = "missing_required_fields"
	SkipNotApproved     SkipReason = "not_approved"
	SkipPeriodSatisfied SkipReason = "period_satisfied"
)

var requiredTemplateFields = validation.MustCompileSchema("template-required-fields.json", `{
	"type": "object",
	"required": ["title", "clientName", "clientGroup", "workType", "assignedTo", "priority", "inwardEntryDate"],
	"properties": {
		"title":           {"type": "string", "pattern": "\\S"},
		"clientName":      {"type": "string", "pattern": "\\S"},
		"clientGroup":     {"type": "string", "pattern": "\\S"},
		"workType":        {"type": "array", "minItems": 1},
		"assignedTo":      {"type": "array", "minItems": 1},
		"priority":        {"type": "string", "pattern": "\\S"},
		"inwardEntryDate": {"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"}
	}
}`)

type templateFields struct {
	Title           string   `json:"title"`
	ClientName      string   `json:"clientName"`
	ClientGroup     string   `json:"clientGroup"`
	WorkType        []string `json:"workType"`
	AssignedTo      []string `json:"assignedTo"`
	Priority        string   `json:"priority"`
	InwardEntryDate string   `json:"inwardEntryDate"`
}

// CheckTemplate runs the per-template gate in order: required fields, approval,
// then the period predicate of the automation's trigger kind. An empty reason
// means the template should be materialized.
func CheckTemplate(kind db.TriggerKind, tmpl *db.AutomationTemplate, now time.Time) (SkipReason, []string) {
	if missing := MissingRequiredFields(tmpl); len(missing) > 0 {
		return SkipMissingFields, missing
	}
	if tmpl.ApprovalStatus != db.ApprovalCompleted {
		return SkipNotApproved, nil
	}
	if PeriodSatisfied(kind, tmpl, now) {
		return SkipPeriodSatisfied, nil
	}
	return "", nil
}

// MissingRequiredFields lists the required template fields that are absent or blank.
func MissingRequiredFields(tmpl *db.AutomationTemplate) []string {
	view := templateFields{
		Title:       tmpl.Title,
		ClientName:  tmpl.ClientName,
		ClientGroup: tmpl.ClientGroup,
		WorkType:    nonNil(tmpl.WorkType),
		AssignedTo:  nonNil(tmpl.AssignedTo),
		Priority:    tmpl.Priority,
	}
	if tmpl.InwardEntryDate != nil {
		view.InwardEntryDate = *tmpl.InwardEntryDate
	}
	err := requiredTemplateFields.ValidateValue(view)
	if err == nil {
		return nil
	}
	var verr *validation.Error
	if errors.As(err, &verr) {
		return verr.Fields
	}
	return []string{err.Error()}
}

// PeriodSatisfied reports whether the template already ran in the period that
// contains now. One-shot templates are never satisfied.
func PeriodSatisfied(kind db.TriggerKind, tmpl *db.AutomationTemplate, now time.Time) bool {
	switch kind {
	case db.TriggerDayOfMonth, db.TriggerQuarterly, db.TriggerHalfYearly:
		return intEquals(tmpl.LastProcessedMonth, int(now.Month())) && intEquals(tmpl.LastProcessedYear, now.Year())
	case db.TriggerYearly:
		return intEquals(tmpl.LastProcessedYear, now.Year())
	default:
		return false
	}
}

func intEquals(p *int, v int) bool {
	return p != nil && *p == v
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
