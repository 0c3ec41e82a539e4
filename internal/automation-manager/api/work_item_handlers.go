package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"

	amDB "automation-service/internal/automation-manager/db"
	"automation-service/internal/automation-manager/repository"
)

const maxWorkItemPage = 500

type WorkItemHandler struct {
	Repo *repository.WorkItemRepository
}

func NewWorkItemHandler(repo *repository.WorkItemRepository) *WorkItemHandler {
	return &WorkItemHandler{Repo: repo}
}

func (h *WorkItemHandler) GetWorkItems(ctx context.Context, c *app.RequestContext) {
	filter := repository.WorkItemFilter{
		AutomationID: c.Query("automation_id"),
		TemplateID:   c.Query("template_id"),
		AssignedTo:   c.Query("assigned_to"),
		Limit:        100,
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid " + name + " parameter"})
			return
		}
		*dst = n
	}
	if filter.Limit > maxWorkItemPage {
		filter.Limit = maxWorkItemPage
	}

	items, err := h.Repo.List(ctx, filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to fetch work items: " + err.Error()})
		return
	}
	if items == nil {
		items = []amDB.WorkItem{}
	}
	c.JSON(http.StatusOK, items)
}

func (h *WorkItemHandler) GetWorkItemByID(ctx context.Context, c *app.RequestContext) {
	item, err := h.Repo.Get(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrWorkItemNotFound) {
			c.JSON(http.StatusNotFound, utils.H{"error": "Work item not found"})
		} else {
			c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to fetch work item: " + err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, item)
}
