package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automation-service/internal/automation-manager/db"
	"automation-service/internal/automation-manager/events"
	"automation-service/internal/automation-manager/repository"
	"automation-service/internal/testutil"
)

type brokenPublisher struct{}

func (brokenPublisher) Publish(context.Context, string, any) error { return errors.New("broker down") }
func (brokenPublisher) Close() error                               { return nil }

func TestWorkItemService_CreateWorkItem(t *testing.T) {
	gormDB := testutil.NewTestDB(t, db.Models()...)
	items := repository.NewWorkItemRepository(gormDB)
	publisher := &recordingPublisher{}
	svc := NewWorkItemService(items, publisher)

	automationID, templateID := "a1", "t1"
	status, verifier := "verified", userB
	item := &db.WorkItem{
		Title:              "Filing",
		AssignedTo:         userA,
		AutomationID:       &automationID,
		TemplateID:         &templateID,
		VerificationStatus: &status,
		VerifiedBy:         &verifier,
	}
	require.NoError(t, svc.CreateWorkItem(context.Background(), item))
	require.NotEmpty(t, item.ID)

	stored, err := items.Get(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.VerificationStatus)
	assert.Nil(t, stored.VerifiedBy)
	assert.Equal(t, db.WorkItemPending, stored.Status)

	published := publisher.all()
	require.Len(t, published, 1)
	assert.Equal(t, item.ID, published[0].Key)
	payload, ok := published[0].Payload.(events.WorkItemMaterializedPayload)
	require.True(t, ok)
	assert.Equal(t, events.TypeWorkItemMaterialized, payload.Type)
	assert.Equal(t, "a1", payload.AutomationID)
	assert.Equal(t, "t1", payload.TemplateID)
	assert.Equal(t, userA, payload.AssignedTo)
}

func TestWorkItemService_PublishFailureIsNotFatal(t *testing.T) {
	gormDB := testutil.NewTestDB(t, db.Models()...)
	svc := NewWorkItemService(repository.NewWorkItemRepository(gormDB), brokenPublisher{})

	item := &db.WorkItem{Title: "Filing", AssignedTo: userA}
	require.NoError(t, svc.CreateWorkItem(context.Background(), item))

	var count int64
	require.NoError(t, gormDB.Model(&db.WorkItem{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
