package api

import (
	"context"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/route"
)

// RegisterRoutes mounts every HTTP endpoint of the automation manager.
func RegisterRoutes(r *route.Engine, automations *AutomationHandler, workItems *WorkItemHandler, admin *AdminHandler) {
	automationGroup := r.Group("/automations")
	{
		automationGroup.POST("", automations.CreateAutomation)
		automationGroup.GET("", automations.GetAutomations)
		automationGroup.GET("/:id", automations.GetAutomationByID)
		automationGroup.PUT("/:id/trigger", automations.UpdateTrigger)
		automationGroup.DELETE("/:id", automations.DeleteAutomation)
		automationGroup.POST("/:id/templates/:templateId/approval", automations.SetTemplateApproval)
	}
	workItemGroup := r.Group("/work-items")
	{
		workItemGroup.GET("", workItems.GetWorkItems)
		workItemGroup.GET("/:id", workItems.GetWorkItemByID)
	}
	adminGroup := r.Group("/admin")
	{
		adminGroup.POST("/evaluations", admin.RunEvaluation)
		adminGroup.POST("/recurrence/reset", admin.ResetRecurrence)
		adminGroup.POST("/scheduler/run", admin.RunScheduledTick)
	}

	r.GET("/ping", func(c context.Context, ctx *app.RequestContext) {
		ctx.JSON(http.StatusOK, utils.H{"message": "pong"})
	})
}
