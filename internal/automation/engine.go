// Package automation matches lead events against tenant automations, runs
// their action lists and delivers deferred email tasks.
package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"landflow/internal/mailer"
	"landflow/internal/models"
	"landflow/internal/store"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

type AutomationStore interface {
	GetAutomations(ctx context.Context, clientID uint, status string) ([]models.Automation, error)
	GetAutomationByID(ctx context.Context, id uint) (*models.Automation, error)
	UpdateAutomation(ctx context.Context, id uint, patch map[string]interface{}) error
	IncrementExecutionCount(ctx context.Context, id uint) error
}

type LeadStore interface {
	GetLeadByID(ctx context.Context, id uint) (*models.Lead, error)
}

type EmailStore interface {
	GetEmailByID(ctx context.Context, id uint) (*models.Email, error)
}

type TaskStore interface {
	CreateScheduledTask(ctx context.Context, task *models.ScheduledTask) error
	GetScheduledTasks(ctx context.Context, status string) ([]models.ScheduledTask, error)
	ClaimScheduledTask(ctx context.Context, id uint, token string, at time.Time) (bool, error)
	FinishScheduledTask(ctx context.Context, id uint, token, status, result string, at time.Time) (bool, error)
}

type LogStore interface {
	CreateAutomationLog(ctx context.Context, entry *models.AutomationLog) error
}

// EmailSender delivers personalised copies of one template.
type EmailSender interface {
	SendBulkEmails(ctx context.Context, recipients []mailer.Recipient, subject, htmlBody string, clientID uint) []mailer.Result
}

// Stores groups the persistence collaborators. *store.Store satisfies all of
// them.
type Stores struct {
	Automations AutomationStore
	Leads       LeadStore
	Emails      EmailStore
	Tasks       TaskStore
	Logs        LogStore
}

// FromStore wires every collaborator to the same gorm-backed store.
func FromStore(s *store.Store) Stores {
	return Stores{Automations: s, Leads: s, Emails: s, Tasks: s, Logs: s}
}

type Engine struct {
	stores Stores
	sender EmailSender
	clock  clockwork.Clock
	logger *zap.Logger
}

func NewEngine(stores Stores, sender EmailSender, clock clockwork.Clock, logger *zap.Logger) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		stores: stores,
		sender: sender,
		clock:  clock,
		logger: logger.With(zap.String("module", "automation")),
	}
}

// TaskReference is the payload stored in ScheduledTask.ReferenceName.
type TaskReference struct {
	AutomationID uint `json:"automationId"`
	LeadID       uint `json:"leadId"`
	EmailID      uint `json:"emailId"`
}

// TriggerAutomations runs every active automation of clientID whose trigger
// equals trigger. Failures are logged, never returned. HTTP handlers call it
// in a goroutine with context.WithoutCancel.
func (e *Engine) TriggerAutomations(ctx context.Context, trigger string, leadID, clientID uint) {
	log := e.logger.With(zap.String("trigger", trigger), zap.Uint("lead_id", leadID), zap.Uint("client_id", clientID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while triggering automations", zap.Any("panic", r))
		}
	}()

	if !ValidTrigger(trigger) {
		log.Warn("ignoring unknown trigger")
		return
	}

	automations, err := e.stores.Automations.GetAutomations(ctx, clientID, models.AutomationActive)
	if err != nil {
		log.Error("load active automations", zap.Error(err))
		return
	}

	matched := 0
	for i := range automations {
		a := &automations[i]
		// conditions are stored but not evaluated
		if a.Trigger != trigger {
			continue
		}
		matched++
		e.ExecuteAutomation(ctx, a, leadID)
	}
	log.Debug("trigger processed", zap.Int("matched", matched))
}

// ExecuteAutomation runs a's actions in order for one lead. Per-action
// failures are logged and do not stop later actions. The execution count is
// incremented once when the action list was actually processed.
func (e *Engine) ExecuteAutomation(ctx context.Context, a *models.Automation, leadID uint) {
	log := e.logger.With(zap.Uint("automation_id", a.ID), zap.Uint("lead_id", leadID), zap.Uint("client_id", a.ClientID))

	actions, err := ParseActions(a.Actions)
	if err != nil {
		log.Error("parse automation actions", zap.Error(err))
		e.record(ctx, a, leadID, "parse_actions", err)
		return
	}
	if len(actions) == 0 {
		log.Warn("automation has no actions")
		return
	}

	lead, err := e.loadLead(ctx, leadID, a.ClientID)
	if err != nil {
		log.Error("load lead", zap.Error(err))
		e.record(ctx, a, leadID, "load_lead", err)
		return
	}

	for i, action := range actions {
		switch action.Type {
		case ActionSendEmail:
			if days := action.DelayDays(); days > 0 {
				err = e.scheduleEmail(ctx, a, lead.ID, action.EmailID, days)
				e.record(ctx, a, lead.ID, fmt.Sprintf("schedule_email:%d:+%dd", action.EmailID, days), err)
			} else {
				err = e.sendAutomationEmail(ctx, a.ClientID, action.EmailID, lead)
				e.record(ctx, a, lead.ID, fmt.Sprintf("send_email:%d", action.EmailID), err)
			}
			if err != nil {
				log.Warn("action failed", zap.Int("index", i), zap.Uint("email_id", action.EmailID), zap.Error(err))
			}
		default:
			// standalone waits and unknown types have no effect
			log.Debug("skipping action", zap.Int("index", i), zap.String("type", action.Type))
		}
	}

	if err := e.stores.Automations.IncrementExecutionCount(ctx, a.ID); err != nil {
		log.Error("increment execution count", zap.Error(err))
	}
}

func (e *Engine) loadLead(ctx context.Context, leadID, clientID uint) (*models.Lead, error) {
	lead, err := e.stores.Leads.GetLeadByID(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if lead == nil || lead.ClientID != clientID {
		return nil, fmt.Errorf("lead %d: %w", leadID, store.ErrNotFound)
	}
	return lead, nil
}

func (e *Engine) scheduleEmail(ctx context.Context, a *models.Automation, leadID, emailID uint, days int) error {
	ref, err := json.Marshal(TaskReference{AutomationID: a.ID, LeadID: leadID, EmailID: emailID})
	if err != nil {
		return err
	}
	task := &models.ScheduledTask{
		ClientID:      a.ClientID,
		TaskType:      models.TaskTypeSendAutomationEmail,
		ReferenceID:   emailID,
		ReferenceName: string(ref),
		ScheduledFor:  e.clock.Now().AddDate(0, 0, days),
		Status:        models.TaskPending,
	}
	if err := e.stores.Tasks.CreateScheduledTask(ctx, task); err != nil {
		return fmt.Errorf("create scheduled task: %w", err)
	}
	return nil
}

// sendAutomationEmail is shared by immediate actions and the scheduler.
func (e *Engine) sendAutomationEmail(ctx context.Context, clientID, emailID uint, lead *models.Lead) error {
	tpl, err := e.stores.Emails.GetEmailByID(ctx, emailID)
	if err != nil {
		return fmt.Errorf("load email %d: %w", emailID, err)
	}
	if tpl == nil || tpl.ClientID != clientID {
		return fmt.Errorf("email %d: %w", emailID, store.ErrNotFound)
	}

	recipient := mailer.Recipient{Email: lead.Email, Variables: LeadVariables(lead)}
	results := e.sender.SendBulkEmails(ctx, []mailer.Recipient{recipient}, tpl.Subject, tpl.HTMLBody, clientID)
	if len(results) == 0 {
		return errors.New("sender returned no result")
	}
	if r := results[0]; r.Status != mailer.StatusSent {
		if r.Error == "" {
			return fmt.Errorf("send to %s: status %s", mailer.MaskAddress(r.Email), r.Status)
		}
		return errors.New(r.Error)
	}
	return nil
}

// LeadVariables are the template variables available for a lead.
func LeadVariables(l *models.Lead) map[string]string {
	firstName := ""
	if fields := strings.Fields(l.Name); len(fields) > 0 {
		firstName = fields[0]
	}
	return map[string]string{
		"name":       l.Name,
		"first_name": firstName,
		"email":      l.Email,
		"company":    l.Company,
		"phone":      l.Phone,
		"lead_id":    strconv.FormatUint(uint64(l.ID), 10),
	}
}

// record writes an AutomationLog row. Logging failures are not fatal.
func (e *Engine) record(ctx context.Context, a *models.Automation, leadID uint, action string, actionErr error) {
	if e.stores.Logs == nil {
		return
	}
	entry := &models.AutomationLog{
		ClientID:     a.ClientID,
		AutomationID: a.ID,
		LeadID:       leadID,
		Trigger:      a.Trigger,
		ActionTaken:  action,
		Success:      actionErr == nil,
	}
	if actionErr != nil {
		entry.ErrorMessage = actionErr.Error()
	}
	if err := e.stores.Logs.CreateAutomationLog(ctx, entry); err != nil {
		e.logger.Warn("write automation log", zap.Uint("automation_id", a.ID), zap.Error(err))
	}
}
