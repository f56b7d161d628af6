package api

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"landflow/internal/mailer"
	"landflow/internal/models"
	"landflow/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type triggerCall struct {
	trigger  string
	leadID   uint
	clientID uint
}

type fakeTriggerer struct {
	calls chan triggerCall
}

func (f *fakeTriggerer) TriggerAutomations(_ context.Context, trigger string, leadID, clientID uint) {
	f.calls <- triggerCall{trigger, leadID, clientID}
}

func (f *fakeTriggerer) next(t *testing.T) triggerCall {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no trigger raised")
		return triggerCall{}
	}
}

func (f *fakeTriggerer) none(t *testing.T) {
	t.Helper()
	select {
	case c := <-f.calls:
		t.Fatalf("unexpected trigger %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

type fakeSender struct {
	recipients []mailer.Recipient
}

func (f *fakeSender) SendBulkEmails(_ context.Context, recipients []mailer.Recipient, _, _ string, _ uint) []mailer.Result {
	f.recipients = append(f.recipients, recipients...)
	out := make([]mailer.Result, 0, len(recipients))
	for _, r := range recipients {
		out = append(out, mailer.Result{Email: r.Email, Status: mailer.StatusSent})
	}
	return out
}

type fakeHealth struct {
	healthy bool
	last    time.Time
}

func (f fakeHealth) IsHealthy() bool      { return f.healthy }
func (f fakeHealth) LastRunAt() time.Time { return f.last }

type testServer struct {
	router  *gin.Engine
	store   *store.Store
	trigger *fakeTriggerer
	sender  *fakeSender
}

func setup(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.Client{}, &models.Lead{}, &models.Email{}, &models.Automation{},
		&models.ScheduledTask{}, &models.AutomationLog{}, &models.SystemSetting{}))

	s := store.New(db)
	trig := &fakeTriggerer{calls: make(chan triggerCall, 16)}
	sender := &fakeSender{}
	log := zap.NewNop()

	r := gin.New()
	Handlers{
		Automations: NewAutomationHandler(s, log),
		Leads:       NewLeadHandler(s, trig, log),
		Emails:      NewEmailHandler(s, sender, log),
		Dashboard:   NewDashboardHandler(s, fakeHealth{healthy: true}),
	}.Register(r)

	return &testServer{router: r, store: s, trigger: trig, sender: sender}
}

func (ts *testServer) do(t *testing.T, method, path string, client uint, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if client != 0 {
		req.Header.Set(ClientIDHeader, jsonNumber(client))
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func jsonNumber(n uint) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestRequireClientHeader(t *testing.T) {
	ts := setup(t)

	w := ts.do(t, http.MethodGet, "/api/automations", 0, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/automations", nil)
	req.Header.Set(ClientIDHeader, "abc")
	w = httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodGet, "/api/automations", 1, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestTenantCannotReachSystemSettings(t *testing.T) {
	ts := setup(t)
	ctx := context.Background()
	require.NoError(t, ts.store.DB().Create(&models.SystemSetting{Key: "SMTP_HOST", Value: "mail.example.com"}).Error)

	w := ts.do(t, http.MethodPut, "/api/settings", 1, gin.H{"key": "SMTP_HOST", "value": "attacker.example.net"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/settings", 1, nil).Code)

	settings, err := ts.store.GetSettings(ctx)
	require.NoError(t, err)
	require.Len(t, settings, 1)
	assert.Equal(t, "mail.example.com", settings[0].Value)
}

func TestCreateAutomationValidation(t *testing.T) {
	ts := setup(t)

	w := ts.do(t, http.MethodPost, "/api/automations", 1, gin.H{
		"name": "welcome", "trigger": "new_lead",
		"actions": []gin.H{{"type": "send_email", "emailId": 7}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[models.Automation](t, w)
	assert.Equal(t, uint(1), created.ClientID)
	assert.Equal(t, models.AutomationDraft, created.Status)

	w = ts.do(t, http.MethodPost, "/api/automations", 1, gin.H{"name": "x", "trigger": "lead_deleted"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/automations", 1, gin.H{
		"name": "x", "trigger": "new_lead", "actions": []gin.H{{"type": "send_email"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/automations", 1, gin.H{"name": "x", "trigger": "new_lead", "status": "running"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEditingActiveAutomationActionsConflicts(t *testing.T) {
	ts := setup(t)
	ctx := context.Background()
	a := models.Automation{ClientID: 1, Name: "drip", Trigger: "new_lead", Status: models.AutomationActive, Actions: `[{"type":"send_email","emailId":7}]`}
	require.NoError(t, ts.store.CreateAutomation(ctx, &a))
	path := "/api/automations/" + jsonNumber(a.ID)
	newActions := gin.H{"actions": []gin.H{{"type": "send_email", "emailId": 8, "delay": 2}}}

	w := ts.do(t, http.MethodPut, path, 1, newActions)
	assert.Equal(t, http.StatusConflict, w.Code)

	// renaming is fine while active
	w = ts.do(t, http.MethodPut, path, 1, gin.H{"name": "drip v2"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "drip v2", decode[models.Automation](t, w).Name)

	w = ts.do(t, http.MethodPost, path+"/status", 1, gin.H{"status": "paused"})
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodPut, path, 1, newActions)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[models.Automation](t, w)
	assert.JSONEq(t, `[{"type":"send_email","emailId":8,"delay":2}]`, got.Actions)
	assert.Equal(t, models.AutomationPaused, got.Status)
}

func TestActivateRejectsBrokenActions(t *testing.T) {
	ts := setup(t)
	a := models.Automation{ClientID: 1, Name: "broken", Trigger: "new_lead", Status: models.AutomationPaused, Actions: `{"emails":`}
	require.NoError(t, ts.store.CreateAutomation(context.Background(), &a))

	w := ts.do(t, http.MethodPost, "/api/automations/"+jsonNumber(a.ID)+"/status", 1, gin.H{"status": "active"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestDeleteAutomationSoftDisables(t *testing.T) {
	ts := setup(t)
	ctx := context.Background()
	a := models.Automation{ClientID: 1, Name: "drip", Trigger: "new_lead", Status: models.AutomationActive}
	require.NoError(t, ts.store.CreateAutomation(ctx, &a))

	w := ts.do(t, http.MethodDelete, "/api/automations/"+jsonNumber(a.ID), 2, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodDelete, "/api/automations/"+jsonNumber(a.ID), 1, nil)
	require.Equal(t, http.StatusOK, w.Code)

	got, err := ts.store.GetAutomationByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AutomationInactive, got.Status)
}

func TestAutomationLogsAndAnalytics(t *testing.T) {
	ts := setup(t)
	ctx := context.Background()
	a := models.Automation{ClientID: 1, Name: "drip", Trigger: "new_lead", Status: models.AutomationActive}
	require.NoError(t, ts.store.CreateAutomation(ctx, &a))
	require.NoError(t, ts.store.CreateAutomationLog(ctx, &models.AutomationLog{ClientID: 1, AutomationID: a.ID, ActionTaken: "send_email:7", Success: true}))
	require.NoError(t, ts.store.IncrementExecutionCount(ctx, a.ID))

	w := ts.do(t, http.MethodGet, "/api/automations/"+jsonNumber(a.ID)+"/logs", 1, nil)
	require.Equal(t, http.StatusOK, w.Code)
	logs := decode[[]models.AutomationLog](t, w)
	require.Len(t, logs, 1)
	assert.Equal(t, "send_email:7", logs[0].ActionTaken)

	w = ts.do(t, http.MethodGet, "/api/automation/analytics", 1, nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[store.AutomationAnalytics](t, w)
	assert.Equal(t, int64(1), stats.ActiveAutomations)
	assert.Equal(t, int64(1), stats.TotalExecutions)
	assert.Equal(t, int64(1), stats.SuccessfulActions)
}

func TestCreateLeadRaisesNewLead(t *testing.T) {
	ts := setup(t)

	w := ts.do(t, http.MethodPost, "/api/leads", 3, gin.H{"email": "ana@example.com", "name": "Ana"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	lead := decode[models.Lead](t, w)
	assert.Equal(t, "manual", lead.Source)

	call := ts.trigger.next(t)
	assert.Equal(t, triggerCall{"new_lead", lead.ID, 3}, call)

	w = ts.do(t, http.MethodPost, "/api/leads", 3, gin.H{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	ts.trigger.none(t)
}

func TestScoreChangeRaisesTrigger(t *testing.T) {
	ts := setup(t)
	lead := models.Lead{ClientID: 1, Email: "ana@example.com", Score: 10}
	require.NoError(t, ts.store.CreateLead(context.Background(), &lead))
	path := "/api/leads/" + jsonNumber(lead.ID)

	w := ts.do(t, http.MethodPut, path, 1, gin.H{"score": 10, "company": "Acme"})
	require.Equal(t, http.StatusOK, w.Code)
	ts.trigger.none(t)

	w = ts.do(t, http.MethodPut, path, 1, gin.H{"score": 40})
	require.Equal(t, http.StatusOK, w.Code)
	updated := decode[models.Lead](t, w)
	assert.Equal(t, 40, updated.Score)
	assert.Equal(t, "Acme", updated.Company)
	assert.Equal(t, triggerCall{"lead_score_change", lead.ID, 1}, ts.trigger.next(t))

	w = ts.do(t, http.MethodPut, path, 2, gin.H{"score": 99})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExportLeadsCSV(t *testing.T) {
	ts := setup(t)
	ctx := context.Background()
	require.NoError(t, ts.store.CreateLead(ctx, &models.Lead{ClientID: 1, Email: "ana@example.com", Name: "Pérez, Ana", Score: 5}))
	require.NoError(t, ts.store.CreateLead(ctx, &models.Lead{ClientID: 2, Email: "hidden@example.com"}))

	w := ts.do(t, http.MethodGet, "/api/leads/export", 1, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))

	rows, err := csv.NewReader(strings.NewReader(w.Body.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Email", rows[0][1])
	assert.Equal(t, "Pérez, Ana", rows[1][2])
	assert.Equal(t, "5", rows[1][6])
}

func TestDeleteLead(t *testing.T) {
	ts := setup(t)
	lead := models.Lead{ClientID: 1, Email: "ana@example.com"}
	require.NoError(t, ts.store.CreateLead(context.Background(), &lead))

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, "/api/leads/"+jsonNumber(lead.ID), 2, nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodDelete, "/api/leads/"+jsonNumber(lead.ID), 1, nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodDelete, "/api/leads/abc", 1, nil).Code)
}

func TestEmailCRUDAndSend(t *testing.T) {
	ts := setup(t)
	ctx := context.Background()

	w := ts.do(t, http.MethodPost, "/api/emails", 1, gin.H{"name": "welcome", "subject": "Hi {{name}}", "html_body": "<p>x</p>"})
	require.Equal(t, http.StatusCreated, w.Code)
	email := decode[models.Email](t, w)

	w = ts.do(t, http.MethodPut, "/api/emails/"+jsonNumber(email.ID), 1, gin.H{"subject": "Hello {{name}}"})
	require.Equal(t, http.StatusOK, w.Code)

	mine := models.Lead{ClientID: 1, Email: "ana@example.com", Name: "Ana"}
	theirs := models.Lead{ClientID: 2, Email: "bob@example.com"}
	require.NoError(t, ts.store.CreateLead(ctx, &mine))
	require.NoError(t, ts.store.CreateLead(ctx, &theirs))

	w = ts.do(t, http.MethodPost, "/api/emails/"+jsonNumber(email.ID)+"/send", 1, gin.H{"lead_ids": []uint{mine.ID, theirs.ID, 999}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode[map[string]interface{}](t, w)
	assert.EqualValues(t, 1, body["sent_to"])
	assert.EqualValues(t, 2, body["skipped"])
	require.Len(t, ts.sender.recipients, 1)
	assert.Equal(t, "Ana", ts.sender.recipients[0].Variables["name"])

	w = ts.do(t, http.MethodGet, "/api/emails", 2, nil)
	assert.JSONEq(t, `[]`, w.Body.String())

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, "/api/emails/"+jsonNumber(email.ID), 2, nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodDelete, "/api/emails/"+jsonNumber(email.ID), 1, nil).Code)
}

func TestTasksAndHealth(t *testing.T) {
	ts := setup(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, ts.store.CreateScheduledTask(ctx, &models.ScheduledTask{ClientID: 1, TaskType: models.TaskTypeSendAutomationEmail, ScheduledFor: now}))
	require.NoError(t, ts.store.CreateScheduledTask(ctx, &models.ScheduledTask{ClientID: 1, TaskType: models.TaskTypeSendAutomationEmail, ScheduledFor: now, Status: models.TaskCompleted}))
	require.NoError(t, ts.store.CreateScheduledTask(ctx, &models.ScheduledTask{ClientID: 2, TaskType: models.TaskTypeSendAutomationEmail, ScheduledFor: now}))

	w := ts.do(t, http.MethodGet, "/api/tasks?status=Programada", 1, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.ScheduledTask](t, w), 1)

	w = ts.do(t, http.MethodGet, "/api/tasks", 1, nil)
	assert.Len(t, decode[[]models.ScheduledTask](t, w), 2)

	w = ts.do(t, http.MethodGet, "/health", 0, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	r := gin.New()
	r.GET("/health", NewDashboardHandler(ts.store, fakeHealth{healthy: false, last: now}).GetHealth)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "last_poll_at")
}
