package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"automation-service/internal/automation-manager/db"
	"automation-service/internal/automation-manager/repository"
	"automation-service/internal/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const (
	userA   = "3f1c9a2e-5b7d-4c8e-9f01-2a3b4c5d6e7f"
	userB   = "7d2e4f6a-8b0c-4d1e-a2f3-4b5c6d7e8f90"
	userC   = "b1c2d3e4-f5a6-4b7c-8d9e-0f1a2b3c4d5e"
	creator = "c0ffee00-1234-4abc-8def-0123456789ab"
)

var kolkata = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		panic(err)
	}
	return loc
}()

type publishedEvent struct {
	Key     string
	Payload any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, key string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Key: key, Payload: payload})
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) all() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedEvent(nil), p.events...)
}

// failingCreator fails creation for the listed assignees and delegates the rest.
type failingCreator struct {
	next WorkItemCreator
	fail map[string]bool
}

func (c *failingCreator) CreateWorkItem(ctx context.Context, item *db.WorkItem) error {
	if c.fail[item.AssignedTo] {
		return errors.New("work item store unavailable")
	}
	return c.next.CreateWorkItem(ctx, item)
}

type harness struct {
	db        *gorm.DB
	repo      *repository.AutomationRepository
	items     *repository.WorkItemRepository
	publisher *recordingPublisher
	clock     *clockwork.FakeClock
	svc       *EvaluationService
}

func newHarness(t *testing.T, now time.Time, opts ...EvaluationOption) *harness {
	t.Helper()
	gormDB := testutil.NewTestDB(t, db.Models()...)
	h := &harness{
		db:        gormDB,
		repo:      repository.NewAutomationRepository(gormDB),
		items:     repository.NewWorkItemRepository(gormDB),
		publisher: &recordingPublisher{},
		clock:     clockwork.NewFakeClockAt(now),
	}
	h.svc = h.service(NewWorkItemService(h.items, h.publisher), opts...)
	return h
}

func (h *harness) service(creator WorkItemCreator, opts ...EvaluationOption) *EvaluationService {
	base := []EvaluationOption{WithClock(h.clock), WithLocation(kolkata)}
	return NewEvaluationService(h.repo, creator, h.publisher, append(base, opts...)...)
}

func (h *harness) run(t *testing.T) *EvaluationResult {
	t.Helper()
	res, err := h.svc.RunEvaluation(context.Background(), false)
	require.NoError(t, err)
	require.True(t, res.Success)
	return res
}

func (h *harness) seed(t *testing.T, trigger db.Trigger, templates ...db.AutomationTemplate) *db.Automation {
	t.Helper()
	a := &db.Automation{Name: "automation", CreatedBy: creator, Templates: templates}
	require.NoError(t, a.SetTrigger(trigger))
	require.NoError(t, h.repo.Create(context.Background(), a))
	return a
}

func (h *harness) reload(t *testing.T, id string) *db.Automation {
	t.Helper()
	a, err := h.repo.Get(context.Background(), id)
	require.NoError(t, err)
	return a
}

func (h *harness) workItems(t *testing.T, templateID string) []db.WorkItem {
	t.Helper()
	items, err := h.items.List(context.Background(), repository.WorkItemFilter{TemplateID: templateID})
	require.NoError(t, err)
	return items
}

func approvedTemplate(title string, assignees ...string) db.AutomationTemplate {
	inward := "2024-03-01"
	return db.AutomationTemplate{
		Title:           title,
		Description:     title + " description",
		ClientName:      "Acme Traders",
		ClientGroup:     "Retail",
		WorkType:        datatypes.JSONSlice[string]{"compliance"},
		AssignedTo:      datatypes.JSONSlice[string](assignees),
		Priority:        "high",
		InwardEntryDate: &inward,
		ApprovalStatus:  db.ApprovalCompleted,
	}
}

func at(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, kolkata)
}

func intRef(v int) *int { return &v }
