package services

import (
	"context"

	"go.uber.org/zap"

	"automation-service/internal/automation-manager/db"
	"automation-service/internal/automation-manager/events"
	amKafka "automation-service/internal/automation-manager/kafka"
)

type WorkItemStore interface {
	Create(ctx context.Context, item *db.WorkItem) error
}

// WorkItemService creates work items and announces them on the event bus.
type WorkItemService struct {
	Store     WorkItemStore
	Publisher amKafka.Publisher
	log       *zap.Logger
}

func NewWorkItemService(store WorkItemStore, publisher amKafka.Publisher) *WorkItemService {
	if publisher == nil {
		publisher = amKafka.NopPublisher{}
	}
	return &WorkItemService{Store: store, Publisher: publisher, log: zap.L().Named("work_items")}
}

// CreateWorkItem persists item. The event is best effort: once the row exists
// the item counts as created even if publishing fails.
func (s *WorkItemService) CreateWorkItem(ctx context.Context, item *db.WorkItem) error {
	item.VerificationStatus = nil
	item.VerifiedBy = nil
	item.VerifiedAt = nil
	if err := s.Store.Create(ctx, item); err != nil {
		return err
	}

	payload := events.WorkItemMaterializedPayload{
		Type:       events.TypeWorkItemMaterialized,
		WorkItemID: item.ID,
		AssignedTo: item.AssignedTo,
		Title:      item.Title,
		CreatedAt:  item.CreatedAt,
	}
	if item.AutomationID != nil {
		payload.AutomationID = *item.AutomationID
	}
	if item.TemplateID != nil {
		payload.TemplateID = *item.TemplateID
	}
	if err := s.Publisher.Publish(ctx, item.ID, payload); err != nil {
		s.log.Warn("Failed to publish work item event", zap.String("work_item_id", item.ID), zap.Error(err))
	}
	return nil
}
