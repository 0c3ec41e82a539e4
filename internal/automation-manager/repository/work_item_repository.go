package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"automation-service/internal/automation-manager/db"
)

var ErrWorkItemNotFound = errors.New("work item not found")

type WorkItemFilter struct {
	AutomationID string
	TemplateID   string
	AssignedTo   string
	Limit        int
	Offset       int
}

type WorkItemRepository struct {
	DB *gorm.DB
}

func NewWorkItemRepository(gormDB *gorm.DB) *WorkItemRepository {
	return &WorkItemRepository{DB: gormDB}
}

func (r *WorkItemRepository) Create(ctx context.Context, item *db.WorkItem) error {
	if err := r.DB.WithContext(ctx).Create(item).Error; err != nil {
		return fmt.Errorf("create work item: %w", err)
	}
	return nil
}

func (r *WorkItemRepository) Get(ctx context.Context, id string) (*db.WorkItem, error) {
	var item db.WorkItem
	if err := r.DB.WithContext(ctx).First(&item, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWorkItemNotFound
		}
		return nil, fmt.Errorf("get work item %s: %w", id, err)
	}
	return &item, nil
}

func (r *WorkItemRepository) List(ctx context.Context, f WorkItemFilter) ([]db.WorkItem, error) {
	q := r.DB.WithContext(ctx).Order("created_at ASC")
	if f.AutomationID != "" {
		q = q.Where("automation_id = ?", f.AutomationID)
	}
	if f.TemplateID != "" {
		q = q.Where("template_id = ?", f.TemplateID)
	}
	if f.AssignedTo != "" {
		q = q.Where("assigned_to = ?", f.AssignedTo)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	var items []db.WorkItem
	if err := q.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}
	return items, nil
}
