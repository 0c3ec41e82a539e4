package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"go.uber.org/zap"

	"automation-service/internal/automation-manager/repository"
	"automation-service/internal/automation-manager/services"
)

// EvaluationRunner is the manual surface of the evaluation service.
type EvaluationRunner interface {
	RunEvaluation(ctx context.Context, isManual bool) (*services.EvaluationResult, error)
	ResetRecurrenceMarkers(ctx context.Context, automationID *string) (*services.ResetResult, error)
}

// TickScheduler is the subset of the scheduler exposed to operators. A nil
// *services.SchedulerService is acceptable; its methods report
// services.ErrSchedulerNotStarted.
type TickScheduler interface {
	RunNow() error
	NextRun() (time.Time, error)
}

type AdminHandler struct {
	Evaluations EvaluationRunner
	Scheduler   TickScheduler
	log         *zap.Logger
}

func NewAdminHandler(evaluations EvaluationRunner, scheduler TickScheduler) *AdminHandler {
	return &AdminHandler{Evaluations: evaluations, Scheduler: scheduler, log: zap.L().Named("api")}
}

type ResetRequest struct {
	AutomationID *string `json:"automation_id,omitempty"`
}

// RunEvaluation runs one manual pass synchronously and returns its summary.
func (h *AdminHandler) RunEvaluation(ctx context.Context, c *app.RequestContext) {
	result, err := h.Evaluations.RunEvaluation(ctx, true)
	if err != nil {
		h.log.Error("Manual evaluation failed", zap.Error(err))
		if result == nil {
			c.JSON(http.StatusInternalServerError, utils.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ResetRecurrence clears run markers for one automation, or for every
// DayOfMonth automation when the body is empty or omits automation_id.
func (h *AdminHandler) ResetRecurrence(ctx context.Context, c *app.RequestContext) {
	var req ResetRequest
	if body := c.Request.Body(); len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid request payload: " + err.Error()})
			return
		}
	}
	if req.AutomationID != nil && strings.TrimSpace(*req.AutomationID) == "" {
		c.JSON(http.StatusBadRequest, utils.H{"error": "automation_id must not be empty"})
		return
	}

	result, err := h.Evaluations.ResetRecurrenceMarkers(ctx, req.AutomationID)
	if err != nil {
		if errors.Is(err, repository.ErrAutomationNotFound) {
			c.JSON(http.StatusNotFound, result)
			return
		}
		c.JSON(http.StatusInternalServerError, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// RunScheduledTick fires the scheduler's evaluation job now. Unlike
// RunEvaluation it returns at once and the pass is not flagged manual.
func (h *AdminHandler) RunScheduledTick(ctx context.Context, c *app.RequestContext) {
	if h.Scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, utils.H{"error": "Scheduler is not running"})
		return
	}
	if err := h.Scheduler.RunNow(); err != nil {
		if errors.Is(err, services.ErrSchedulerNotStarted) {
			c.JSON(http.StatusServiceUnavailable, utils.H{"error": "Scheduler is not running"})
			return
		}
		c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to trigger scheduler: " + err.Error()})
		return
	}
	resp := utils.H{"message": "Evaluation tick triggered"}
	if next, err := h.Scheduler.NextRun(); err == nil {
		resp["next_run"] = next
	}
	c.JSON(http.StatusAccepted, resp)
}
