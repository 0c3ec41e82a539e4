package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/cloudwego/hertz/pkg/route"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	amDB "automation-service/internal/automation-manager/db"
	amKafka "automation-service/internal/automation-manager/kafka"
	"automation-service/internal/automation-manager/repository"
	"automation-service/internal/automation-manager/services"
	"automation-service/internal/testutil"
)

const (
	assignee = "3f1c9a2e-5b7d-4c8e-9f01-2a3b4c5d6e7f"
	owner    = "c0ffee00-1234-4abc-8def-0123456789ab"
)

type stubScheduler struct {
	runs int
	err  error
}

func (s *stubScheduler) RunNow() error {
	s.runs++
	return s.err
}

func (s *stubScheduler) NextRun() (time.Time, error) {
	return time.Date(2024, time.March, 15, 10, 5, 0, 0, time.UTC), nil
}

type testApp struct {
	router    *route.Engine
	db        *gorm.DB
	repo      *repository.AutomationRepository
	scheduler *stubScheduler
}

func setupTestApp(t *testing.T) *testApp {
	t.Helper()
	zap.ReplaceGlobals(zap.NewNop())
	hlog.SetLevel(hlog.LevelFatal)

	gormDB := testutil.NewTestDB(t, amDB.Models()...)
	repo := repository.NewAutomationRepository(gormDB)
	items := repository.NewWorkItemRepository(gormDB)
	evaluations := services.NewEvaluationService(repo, services.NewWorkItemService(items, amKafka.NopPublisher{}), amKafka.NopPublisher{},
		services.WithClock(clockwork.NewFakeClockAt(time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC))))
	scheduler := &stubScheduler{}

	h := server.Default(
		server.WithHostPorts("127.0.0.1:0"),
		server.WithExitWaitTime(time.Duration(0)),
	)
	RegisterRoutes(h.Engine, NewAutomationHandler(repo), NewWorkItemHandler(items), NewAdminHandler(evaluations, scheduler))
	return &testApp{router: h.Engine, db: gormDB, repo: repo, scheduler: scheduler}
}

func (a *testApp) do(method, url string, payload any) (int, []byte) {
	var body *ut.Body
	if payload != nil {
		raw, _ := json.Marshal(payload)
		body = &ut.Body{Body: bytes.NewReader(raw), Len: len(raw)}
	}
	w := ut.PerformRequest(a.router, method, url, body, ut.Header{Key: "Content-Type", Value: "application/json"})
	resp := w.Result()
	return resp.StatusCode(), resp.Body()
}

func createPayload(trigger TriggerRequest) CreateAutomationRequest {
	date := "2024-03-01"
	return CreateAutomationRequest{
		Name:      "Monthly GST",
		CreatedBy: owner,
		Trigger:   trigger,
		Templates: []TemplateRequest{{
			Title:           "GST filing",
			ClientName:      "Acme Traders",
			ClientGroup:     "Retail",
			WorkType:        []string{"compliance"},
			AssignedTo:      []string{assignee},
			Priority:        "high",
			InwardEntryDate: &date,
		}},
	}
}

func dayRef(v int) *int { return &v }

func TestCreateAutomationAPI(t *testing.T) {
	app := setupTestApp(t)

	status, body := app.do(http.MethodPost, "/automations", createPayload(TriggerRequest{Kind: amDB.TriggerDayOfMonth, DayOfMonth: dayRef(15)}))
	require.Equal(t, http.StatusCreated, status, string(body))

	var created amDB.Automation
	require.NoError(t, json.Unmarshal(body, &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, amDB.TriggerDayOfMonth, created.TriggerKind)
	assert.Equal(t, 15, *created.DayOfMonth)
	require.Len(t, created.Templates, 1)
	assert.Equal(t, amDB.ApprovalPending, created.Templates[0].ApprovalStatus)

	status, body = app.do(http.MethodGet, "/automations/"+created.ID, nil)
	require.Equal(t, http.StatusOK, status)
	var fetched amDB.Automation
	require.NoError(t, json.Unmarshal(body, &fetched))
	assert.Equal(t, created.ID, fetched.ID)

	status, body = app.do(http.MethodGet, "/automations?trigger_kind=Yearly", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[]`, string(body))
}

func TestCreateAutomationAPI_Invalid(t *testing.T) {
	app := setupTestApp(t)

	tests := []struct {
		name    string
		payload CreateAutomationRequest
	}{
		{"missing name", func() CreateAutomationRequest {
			p := createPayload(TriggerRequest{Kind: amDB.TriggerDayOfMonth, DayOfMonth: dayRef(1)})
			p.Name = " "
			return p
		}()},
		{"unknown kind", createPayload(TriggerRequest{Kind: "Weekly", DayOfMonth: dayRef(1)})},
		{"day out of range", createPayload(TriggerRequest{Kind: amDB.TriggerDayOfMonth, DayOfMonth: dayRef(32)})},
		{"foreign field", createPayload(TriggerRequest{Kind: amDB.TriggerDayOfMonth, DayOfMonth: dayRef(1), MonthOfYear: dayRef(3)})},
		{"quarterly without months", createPayload(TriggerRequest{Kind: amDB.TriggerQuarterly, DayOfMonth: dayRef(1)})},
		{"yearly without month", createPayload(TriggerRequest{Kind: amDB.TriggerYearly, DayOfMonth: dayRef(1)})},
		{"bad date", createPayload(TriggerRequest{Kind: amDB.TriggerDateAndTime, SpecificDate: "15/03/2024", SpecificTime: "10:00"})},
		{"bad approval status", func() CreateAutomationRequest {
			p := createPayload(TriggerRequest{Kind: amDB.TriggerDayOfMonth, DayOfMonth: dayRef(1)})
			p.Templates[0].ApprovalStatus = "rejected"
			return p
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := app.do(http.MethodPost, "/automations", tt.payload)
			assert.Equal(t, http.StatusBadRequest, status, string(body))
		})
	}

	var count int64
	require.NoError(t, app.db.Model(&amDB.Automation{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestUpdateTriggerAPI(t *testing.T) {
	app := setupTestApp(t)
	_, body := app.do(http.MethodPost, "/automations", createPayload(TriggerRequest{
		Kind: amDB.TriggerQuarterly, DayOfMonth: dayRef(15), Months: []int{10, 1, 7, 4},
	}))
	var created amDB.Automation
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, []int{1, 4, 7, 10}, []int(created.QuarterlyMonths))

	status, body := app.do(http.MethodPut, "/automations/"+created.ID+"/trigger", TriggerRequest{
		Kind: amDB.TriggerDateAndTime, SpecificDate: "2024-04-01", SpecificTime: "09:30",
	})
	require.Equal(t, http.StatusOK, status, string(body))

	var updated amDB.Automation
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.Equal(t, amDB.TriggerDateAndTime, updated.TriggerKind)
	assert.Nil(t, updated.DayOfMonth)
	assert.Empty(t, updated.QuarterlyMonths)
	assert.Equal(t, "2024-04-01", *updated.SpecificDate)
	assert.Equal(t, created.Version, updated.Version)

	status, _ = app.do(http.MethodPut, "/automations/missing/trigger", TriggerRequest{Kind: amDB.TriggerDayOfMonth, DayOfMonth: dayRef(2)})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestApprovalAndEvaluationAPI(t *testing.T) {
	app := setupTestApp(t)
	_, body := app.do(http.MethodPost, "/automations", createPayload(TriggerRequest{Kind: amDB.TriggerDayOfMonth, DayOfMonth: dayRef(15)}))
	var created amDB.Automation
	require.NoError(t, json.Unmarshal(body, &created))
	templateID := created.Templates[0].ID

	status, body := app.do(http.MethodPost, "/admin/evaluations", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	var result services.EvaluationResult
	require.NoError(t, json.Unmarshal(body, &result))
	assert.True(t, result.Success)
	assert.True(t, result.Manual)
	assert.Zero(t, result.Candidates, "pending templates are not evaluated")

	status, _ = app.do(http.MethodPost, "/automations/"+created.ID+"/templates/"+templateID+"/approval", ApprovalRequest{ApprovalStatus: "maybe"})
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = app.do(http.MethodPost, "/automations/"+created.ID+"/templates/unknown/approval", ApprovalRequest{ApprovalStatus: amDB.ApprovalCompleted})
	assert.Equal(t, http.StatusNotFound, status)
	status, body = app.do(http.MethodPost, "/automations/"+created.ID+"/templates/"+templateID+"/approval", ApprovalRequest{ApprovalStatus: amDB.ApprovalCompleted})
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = app.do(http.MethodPost, "/admin/evaluations", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, 1, result.TasksCreated)

	status, body = app.do(http.MethodGet, "/work-items?automation_id="+created.ID, nil)
	require.Equal(t, http.StatusOK, status)
	var items []amDB.WorkItem
	require.NoError(t, json.Unmarshal(body, &items))
	require.Len(t, items, 1)
	assert.Equal(t, assignee, items[0].AssignedTo)
	require.NotNil(t, items[0].AssignedBy)
	assert.Equal(t, owner, *items[0].AssignedBy)

	status, _ = app.do(http.MethodGet, "/work-items/"+items[0].ID, nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = app.do(http.MethodGet, "/work-items/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = app.do(http.MethodGet, "/work-items?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestResetRecurrenceAPI(t *testing.T) {
	app := setupTestApp(t)
	_, body := app.do(http.MethodPost, "/automations", createPayload(TriggerRequest{Kind: amDB.TriggerDayOfMonth, DayOfMonth: dayRef(15)}))
	var created amDB.Automation
	require.NoError(t, json.Unmarshal(body, &created))

	status, body := app.do(http.MethodPost, "/admin/recurrence/reset", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	var reset services.ResetResult
	require.NoError(t, json.Unmarshal(body, &reset))
	assert.True(t, reset.Success)
	assert.Equal(t, int64(1), reset.ModifiedCount)

	status, _ = app.do(http.MethodPost, "/admin/recurrence/reset", ResetRequest{AutomationID: &created.ID})
	assert.Equal(t, http.StatusOK, status)

	missing := "00000000-0000-4000-8000-000000000000"
	status, _ = app.do(http.MethodPost, "/admin/recurrence/reset", ResetRequest{AutomationID: &missing})
	assert.Equal(t, http.StatusNotFound, status)

	empty := ""
	status, _ = app.do(http.MethodPost, "/admin/recurrence/reset", ResetRequest{AutomationID: &empty})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestDeleteAutomationAPI(t *testing.T) {
	app := setupTestApp(t)
	_, body := app.do(http.MethodPost, "/automations", createPayload(TriggerRequest{Kind: amDB.TriggerYearly, DayOfMonth: dayRef(1), MonthOfYear: dayRef(4)}))
	var created amDB.Automation
	require.NoError(t, json.Unmarshal(body, &created))

	status, _ := app.do(http.MethodDelete, "/automations/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = app.do(http.MethodDelete, "/automations/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, status)
	_, err := app.repo.Get(context.Background(), created.ID)
	assert.ErrorIs(t, err, repository.ErrAutomationNotFound)
}

func TestSchedulerRunAPI(t *testing.T) {
	app := setupTestApp(t)

	status, body := app.do(http.MethodPost, "/admin/scheduler/run", nil)
	require.Equal(t, http.StatusAccepted, status, string(body))
	assert.Equal(t, 1, app.scheduler.runs)
	assert.Contains(t, string(body), "next_run")

	app.scheduler.err = errors.New("job not scheduled")
	status, _ = app.do(http.MethodPost, "/admin/scheduler/run", nil)
	assert.Equal(t, http.StatusInternalServerError, status)

	app.scheduler.err = services.ErrSchedulerNotStarted
	status, _ = app.do(http.MethodPost, "/admin/scheduler/run", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)

	status, body = app.do(http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"message":"pong"}`, string(body))
}

func TestSchedulerRunAPI_NilSchedulerService(t *testing.T) {
	hlog.SetLevel(hlog.LevelFatal)
	h := server.Default(server.WithHostPorts("127.0.0.1:0"))
	var scheduler *services.SchedulerService
	h.POST("/admin/scheduler/run", NewAdminHandler(nil, scheduler).RunScheduledTick)

	w := ut.PerformRequest(h.Engine, http.MethodPost, "/admin/scheduler/run", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Result().StatusCode())
}
