package automation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"landflow/internal/mailer"
	"landflow/internal/models"
	"landflow/internal/store"

	"github.com/stretchr/testify/mock"
)

// memStore is an in-memory implementation of every store the engine uses.
type memStore struct {
	mu          sync.Mutex
	automations map[uint]*models.Automation
	leads       map[uint]*models.Lead
	emails      map[uint]*models.Email
	tasks       []*models.ScheduledTask
	logs        []models.AutomationLog

	automationsErr error
	tasksErr       error
	// stolen tasks lose the claim race to another poller
	stolen map[uint]bool
	// afterList runs once the snapshot for a status has been taken
	afterList func(status string)
}

func newMemStore() *memStore {
	return &memStore{
		automations: map[uint]*models.Automation{},
		leads:       map[uint]*models.Lead{},
		emails:      map[uint]*models.Email{},
		stolen:      map[uint]bool{},
	}
}

func (m *memStore) stores() Stores {
	return Stores{Automations: m, Leads: m, Emails: m, Tasks: m, Logs: m}
}

func (m *memStore) GetAutomations(_ context.Context, clientID uint, status string) ([]models.Automation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.automationsErr != nil {
		return nil, m.automationsErr
	}
	var out []models.Automation
	for _, a := range m.automations {
		if a.ClientID == clientID && a.Status == status {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) GetAutomationByID(_ context.Context, id uint) (*models.Automation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.automations[id]
	if !ok {
		return nil, fmt.Errorf("automation %d: %w", id, store.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) UpdateAutomation(_ context.Context, id uint, patch map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.automations[id]
	if !ok {
		return store.ErrNotFound
	}
	if v, ok := patch["status"].(string); ok {
		a.Status = v
	}
	if v, ok := patch["actions"].(string); ok {
		a.Actions = v
	}
	return nil
}

func (m *memStore) IncrementExecutionCount(_ context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.automations[id]
	if !ok {
		return store.ErrNotFound
	}
	a.ExecutionCount++
	return nil
}

func (m *memStore) GetLeadByID(_ context.Context, id uint) (*models.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[id]
	if !ok {
		return nil, fmt.Errorf("lead %d: %w", id, store.ErrNotFound)
	}
	cp := *l
	return &cp, nil
}

func (m *memStore) GetEmailByID(_ context.Context, id uint) (*models.Email, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.emails[id]
	if !ok {
		return nil, fmt.Errorf("email %d: %w", id, store.ErrNotFound)
	}
	cp := *e
	return &cp, nil
}

func (m *memStore) CreateScheduledTask(_ context.Context, task *models.ScheduledTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task.ID = uint(len(m.tasks) + 1)
	cp := *task
	m.tasks = append(m.tasks, &cp)
	return nil
}

func (m *memStore) GetScheduledTasks(_ context.Context, status string) ([]models.ScheduledTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tasksErr != nil {
		return nil, m.tasksErr
	}
	var out []models.ScheduledTask
	for _, t := range m.tasks {
		if t.Status == status {
			out = append(out, *t)
		}
	}
	if m.afterList != nil {
		m.afterList(status)
	}
	return out, nil
}

func (m *memStore) FinishScheduledTask(_ context.Context, id uint, token, status, result string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.task(id)
	if t == nil || t.Status != models.TaskClaimed || t.ClaimToken != token {
		return false, nil
	}
	t.Status = status
	t.Result = result
	t.ExecutedAt = &at
	return true, nil
}

func (m *memStore) ClaimScheduledTask(_ context.Context, id uint, token string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.task(id)
	if t == nil || t.Status != models.TaskPending {
		return false, nil
	}
	if m.stolen[id] {
		t.Status = models.TaskClaimed
		t.ClaimToken = "someone-else"
		t.ClaimedAt = &at
		return false, nil
	}
	t.Status = models.TaskClaimed
	t.ClaimToken = token
	t.ClaimedAt = &at
	return true, nil
}

func (m *memStore) CreateAutomationLog(_ context.Context, entry *models.AutomationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, *entry)
	return nil
}

func (m *memStore) task(id uint) *models.ScheduledTask {
	for _, t := range m.tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (m *memStore) taskByID(id uint) models.ScheduledTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.task(id)
}

func (m *memStore) count(id uint) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.automations[id].ExecutionCount
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) SendBulkEmails(_ context.Context, recipients []mailer.Recipient, subject, htmlBody string, clientID uint) []mailer.Result {
	args := m.Called(recipients, subject, htmlBody, clientID)
	return args.Get(0).([]mailer.Result)
}

// funcSender adapts a function to EmailSender.
type funcSender func(recipients []mailer.Recipient) []mailer.Result

func (f funcSender) SendBulkEmails(_ context.Context, recipients []mailer.Recipient, _, _ string, _ uint) []mailer.Result {
	return f(recipients)
}

func sent(email string) []mailer.Result {
	return []mailer.Result{{Email: email, Status: mailer.StatusSent}}
}

func failed(email, reason string) []mailer.Result {
	return []mailer.Result{{Email: email, Status: mailer.StatusFailed, Error: reason}}
}

type recordingNotifier struct {
	mu    sync.Mutex
	tasks []models.ScheduledTask
}

func (r *recordingNotifier) NotifyTask(task models.ScheduledTask) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
}
