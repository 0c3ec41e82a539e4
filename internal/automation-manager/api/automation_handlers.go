package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	amDB "automation-service/internal/automation-manager/db"
	"automation-service/internal/automation-manager/repository"
)

type AutomationHandler struct {
	Repo *repository.AutomationRepository
	log  *zap.Logger
}

func NewAutomationHandler(repo *repository.AutomationRepository) *AutomationHandler {
	return &AutomationHandler{Repo: repo, log: zap.L().Named("api")}
}

// TriggerRequest carries the fields of exactly one trigger kind.
type TriggerRequest struct {
	Kind         amDB.TriggerKind `json:"kind"`
	DayOfMonth   *int             `json:"day_of_month,omitempty"`
	Months       []int            `json:"months,omitempty"`
	MonthOfYear  *int             `json:"month_of_year,omitempty"`
	SpecificDate string           `json:"specific_date,omitempty"`
	SpecificTime string           `json:"specific_time,omitempty"`
}

type TemplateRequest struct {
	Title           string              `json:"title"`
	Description     string              `json:"description"`
	ClientName      string              `json:"client_name"`
	ClientGroup     string              `json:"client_group"`
	WorkType        []string            `json:"work_type"`
	AssignedTo      []string            `json:"assigned_to"`
	AssignedBy      *string             `json:"assigned_by,omitempty"`
	Priority        string              `json:"priority"`
	InwardEntryDate *string             `json:"inward_entry_date,omitempty"`
	InwardEntryTime *string             `json:"inward_entry_time,omitempty"`
	DueDate         *time.Time          `json:"due_date,omitempty"`
	TargetDate      *time.Time          `json:"target_date,omitempty"`
	Billed          *bool               `json:"billed,omitempty"`
	ApprovalStatus  amDB.ApprovalStatus `json:"approval_status,omitempty"`
}

type CreateAutomationRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	CreatedBy   string            `json:"created_by"`
	Trigger     TriggerRequest    `json:"trigger"`
	Templates   []TemplateRequest `json:"templates"`
}

type ApprovalRequest struct {
	ApprovalStatus amDB.ApprovalStatus `json:"approval_status"`
}

// ToTrigger maps the request onto the typed trigger for Kind. Fields that
// belong to other kinds are rejected rather than ignored.
func (r TriggerRequest) ToTrigger() (amDB.Trigger, error) {
	day := func() (int, error) {
		if r.DayOfMonth == nil {
			return 0, errors.New("day_of_month is required")
		}
		return *r.DayOfMonth, nil
	}
	foreign := func(allowed ...string) error {
		set := map[string]bool{
			"day_of_month":  r.DayOfMonth != nil,
			"months":        len(r.Months) > 0,
			"month_of_year": r.MonthOfYear != nil,
			"specific_date": r.SpecificDate != "",
			"specific_time": r.SpecificTime != "",
		}
		for _, name := range allowed {
			delete(set, name)
		}
		for name, present := range set {
			if present {
				return errors.New(name + " is not valid for trigger kind " + string(r.Kind))
			}
		}
		return nil
	}

	var (
		t   amDB.Trigger
		err error
	)
	switch r.Kind {
	case amDB.TriggerDayOfMonth:
		err = foreign("day_of_month")
		if err == nil {
			var d int
			d, err = day()
			t = amDB.DayOfMonthTrigger{Day: d}
		}
	case amDB.TriggerQuarterly, amDB.TriggerHalfYearly:
		err = foreign("day_of_month", "months")
		if err == nil {
			var d int
			d, err = day()
			if r.Kind == amDB.TriggerQuarterly {
				t = amDB.QuarterlyTrigger{Day: d, Months: r.Months}
			} else {
				t = amDB.HalfYearlyTrigger{Day: d, Months: r.Months}
			}
		}
	case amDB.TriggerYearly:
		err = foreign("day_of_month", "month_of_year")
		if err == nil {
			var d int
			d, err = day()
			if err == nil && r.MonthOfYear == nil {
				err = errors.New("month_of_year is required")
			}
			if err == nil {
				t = amDB.YearlyTrigger{Day: d, Month: *r.MonthOfYear}
			}
		}
	case amDB.TriggerDateAndTime:
		err = foreign("specific_date", "specific_time")
		t = amDB.DateAndTimeTrigger{Date: r.SpecificDate, Time: r.SpecificTime}
	default:
		err = errors.New("unknown trigger kind " + string(r.Kind))
	}
	if err != nil {
		return nil, errors.Join(amDB.ErrInvalidTrigger, err)
	}
	return t, nil
}

func (r TemplateRequest) toModel() (amDB.AutomationTemplate, error) {
	status := r.ApprovalStatus
	if status == "" {
		status = amDB.ApprovalPending
	}
	if !status.Valid() {
		return amDB.AutomationTemplate{}, errors.New("invalid approval_status " + string(status))
	}
	return amDB.AutomationTemplate{
		Title:           r.Title,
		Description:     r.Description,
		ClientName:      r.ClientName,
		ClientGroup:     r.ClientGroup,
		WorkType:        datatypes.JSONSlice[string](nonNilStrings(r.WorkType)),
		AssignedTo:      datatypes.JSONSlice[string](nonNilStrings(r.AssignedTo)),
		AssignedBy:      r.AssignedBy,
		Priority:        r.Priority,
		InwardEntryDate: r.InwardEntryDate,
		InwardEntryTime: r.InwardEntryTime,
		DueDate:         r.DueDate,
		TargetDate:      r.TargetDate,
		Billed:          r.Billed,
		ApprovalStatus:  status,
		CreatedTaskIDs:  datatypes.JSONSlice[string]{},
	}, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (h *AutomationHandler) CreateAutomation(ctx context.Context, c *app.RequestContext) {
	var req CreateAutomationRequest
	if err := c.BindAndValidate(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid request payload: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid request payload: name is required"})
		return
	}

	trigger, err := req.Trigger.ToTrigger()
	if err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": err.Error()})
		return
	}
	automation := amDB.Automation{
		Name:             req.Name,
		Description:      req.Description,
		CreatedBy:        req.CreatedBy,
		GeneratedTaskIDs: datatypes.JSONSlice[string]{},
	}
	if err := automation.SetTrigger(trigger); err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": err.Error()})
		return
	}
	for i, t := range req.Templates {
		tmpl, err := t.toModel()
		if err != nil {
			c.JSON(http.StatusBadRequest, utils.H{"error": "templates[" + strconv.Itoa(i) + "]: " + err.Error()})
			return
		}
		automation.Templates = append(automation.Templates, tmpl)
	}

	if err := h.Repo.Create(ctx, &automation); err != nil {
		h.log.Error("Failed to create automation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to create automation: " + err.Error()})
		return
	}
	h.log.Info("Automation created",
		zap.String("automation_id", automation.ID),
		zap.String("trigger_kind", string(automation.TriggerKind)),
		zap.Int("templates", len(automation.Templates)),
	)
	c.JSON(http.StatusCreated, automation)
}

func (h *AutomationHandler) GetAutomations(ctx context.Context, c *app.RequestContext) {
	automations, err := h.Repo.List(ctx, amDB.TriggerKind(c.Query("trigger_kind")))
	if err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to fetch automations: " + err.Error()})
		return
	}
	if automations == nil {
		automations = []amDB.Automation{}
	}
	c.JSON(http.StatusOK, automations)
}

func (h *AutomationHandler) GetAutomationByID(ctx context.Context, c *app.RequestContext) {
	automation, err := h.Repo.Get(ctx, c.Param("id"))
	if err != nil {
		h.writeError(c, "Failed to fetch automation", err)
		return
	}
	c.JSON(http.StatusOK, automation)
}

func (h *AutomationHandler) UpdateTrigger(ctx context.Context, c *app.RequestContext) {
	var req TriggerRequest
	if err := c.BindAndValidate(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid request payload: " + err.Error()})
		return
	}
	trigger, err := req.ToTrigger()
	if err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": err.Error()})
		return
	}
	automation, err := h.Repo.UpdateTrigger(ctx, c.Param("id"), trigger)
	if err != nil {
		h.writeError(c, "Failed to update trigger", err)
		return
	}
	h.log.Info("Automation trigger replaced", zap.String("automation_id", automation.ID), zap.String("trigger_kind", string(automation.TriggerKind)))
	c.JSON(http.StatusOK, automation)
}

func (h *AutomationHandler) DeleteAutomation(ctx context.Context, c *app.RequestContext) {
	id := c.Param("id")
	if err := h.Repo.Delete(ctx, id); err != nil {
		h.writeError(c, "Failed to delete automation", err)
		return
	}
	h.log.Info("Automation deleted", zap.String("automation_id", id))
	c.JSON(http.StatusOK, utils.H{"message": "Automation deleted successfully"})
}

// SetTemplateApproval records an approval decision made outside this service.
func (h *AutomationHandler) SetTemplateApproval(ctx context.Context, c *app.RequestContext) {
	var req ApprovalRequest
	if err := c.BindAndValidate(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid request payload: " + err.Error()})
		return
	}
	if !req.ApprovalStatus.Valid() {
		c.JSON(http.StatusBadRequest, utils.H{"error": "approval_status must be pending or completed"})
		return
	}
	automationID, templateID := c.Param("id"), c.Param("templateId")
	if err := h.Repo.SetTemplateApproval(ctx, automationID, templateID, req.ApprovalStatus); err != nil {
		h.writeError(c, "Failed to update approval", err)
		return
	}
	c.JSON(http.StatusOK, utils.H{
		"automation_id":   automationID,
		"template_id":     templateID,
		"approval_status": req.ApprovalStatus,
	})
}

func (h *AutomationHandler) writeError(c *app.RequestContext, msg string, err error) {
	switch {
	case errors.Is(err, repository.ErrAutomationNotFound), errors.Is(err, repository.ErrTemplateNotFound):
		c.JSON(http.StatusNotFound, utils.H{"error": err.Error()})
	case errors.Is(err, amDB.ErrInvalidTrigger):
		c.JSON(http.StatusBadRequest, utils.H{"error": err.Error()})
	default:
		h.log.Error(msg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, utils.H{"error": msg + ": " + err.Error()})
	}
}
