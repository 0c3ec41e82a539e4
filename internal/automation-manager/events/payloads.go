package events

import "time"

const (
	TypeWorkItemMaterialized = "work_item.materialized"
	TypeAutomationCompleted  = "automation.completed"
)

// WorkItemMaterializedPayload is published for every work item created from a template.
type WorkItemMaterializedPayload struct {
	Type         string    `json:"type"`
	WorkItemID   string    `json:"work_item_id"`
	AutomationID string    `json:"automation_id"`
	TemplateID   string    `json:"template_id"`
	AssignedTo   string    `json:"assigned_to"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
}

// AutomationCompletedPayload is published when a one-shot automation is removed
// after producing its work items.
type AutomationCompletedPayload struct {
	Type         string    `json:"type"`
	AutomationID string    `json:"automation_id"`
	Name         string    `json:"name"`
	WorkItemIDs  []string  `json:"work_item_ids"`
	CompletedAt  time.Time `json:"completed_at"`
}

// TemplateApprovalPayload is received from the approval workflow.
type TemplateApprovalPayload struct {
	AutomationID   string `json:"automation_id"`
	TemplateID     string `json:"template_id"`
	ApprovalStatus string `json:"approval_status"`
}
