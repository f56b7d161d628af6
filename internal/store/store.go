// Package store implements the automation collaborator stores on top of gorm.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"landflow/internal/models"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("record not found")

// Store handles CRUD for automations, leads, emails, scheduled tasks and
// automation logs.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func notFound(err error, what string, id uint) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return fmt.Errorf("load %s %d: %w", what, id, err)
}

// --- Automations ---

// GetAutomations lists a tenant's automations, optionally filtered by status.
func (s *Store) GetAutomations(ctx context.Context, clientID uint, status string) ([]models.Automation, error) {
	q := s.db.WithContext(ctx).Where("client_id = ?", clientID)
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var automations []models.Automation
	if err := q.Order("id ASC").Find(&automations).Error; err != nil {
		return nil, fmt.Errorf("list automations for client %d: %w", clientID, err)
	}
	return automations, nil
}

func (s *Store) GetAutomationByID(ctx context.Context, id uint) (*models.Automation, error) {
	var a models.Automation
	if err := s.db.WithContext(ctx).First(&a, id).Error; err != nil {
		return nil, notFound(err, "automation", id)
	}
	return &a, nil
}

func (s *Store) CreateAutomation(ctx context.Context, a *models.Automation) error {
	return s.db.WithContext(ctx).Create(a).Error
}

func (s *Store) UpdateAutomation(ctx context.Context, id uint, patch map[string]interface{}) error {
	res := s.db.WithContext(ctx).Model(&models.Automation{}).Where("id = ?", id).Updates(patch)
	if res.Error != nil {
		return fmt.Errorf("update automation %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("automation %d: %w", id, ErrNotFound)
	}
	return nil
}

// IncrementExecutionCount bumps execution_count atomically in SQL.
func (s *Store) IncrementExecutionCount(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Model(&models.Automation{}).
		Where("id = ?", id).
		UpdateColumn("execution_count", gorm.Expr("execution_count + ?", 1))
	if res.Error != nil {
		return fmt.Errorf("increment execution count of automation %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("automation %d: %w", id, ErrNotFound)
	}
	return nil
}

// --- Leads ---

func (s *Store) GetLeadByID(ctx context.Context, id uint) (*models.Lead, error) {
	var l models.Lead
	if err := s.db.WithContext(ctx).First(&l, id).Error; err != nil {
		return nil, notFound(err, "lead", id)
	}
	return &l, nil
}

func (s *Store) GetLeads(ctx context.Context, clientID uint) ([]models.Lead, error) {
	var leads []models.Lead
	err := s.db.WithContext(ctx).Where("client_id = ?", clientID).Order("created_at DESC").Find(&leads).Error
	return leads, err
}

// FindLeadByEmail looks a lead up by address within one tenant.
func (s *Store) FindLeadByEmail(ctx context.Context, clientID uint, email string) (*models.Lead, error) {
	var l models.Lead
	err := s.db.WithContext(ctx).Where("client_id = ? AND LOWER(email) = LOWER(?)", clientID, email).First(&l).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("lead %s: %w", email, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find lead by email: %w", err)
	}
	return &l, nil
}

func (s *Store) CreateLead(ctx context.Context, l *models.Lead) error {
	return s.db.WithContext(ctx).Create(l).Error
}

func (s *Store) UpdateLead(ctx context.Context, id uint, patch map[string]interface{}) error {
	res := s.db.WithContext(ctx).Model(&models.Lead{}).Where("id = ?", id).Updates(patch)
	if res.Error != nil {
		return fmt.Errorf("update lead %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("lead %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteLead(ctx context.Context, clientID, id uint) error {
	res := s.db.WithContext(ctx).Where("client_id = ?", clientID).Delete(&models.Lead{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete lead %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("lead %d: %w", id, ErrNotFound)
	}
	return nil
}

// --- Emails ---

func (s *Store) GetEmailByID(ctx context.Context, id uint) (*models.Email, error) {
	var e models.Email
	if err := s.db.WithContext(ctx).First(&e, id).Error; err != nil {
		return nil, notFound(err, "email", id)
	}
	return &e, nil
}

func (s *Store) GetEmails(ctx context.Context, clientID uint) ([]models.Email, error) {
	var emails []models.Email
	err := s.db.WithContext(ctx).Where("client_id = ?", clientID).Order("created_at DESC").Find(&emails).Error
	return emails, err
}

func (s *Store) CreateEmail(ctx context.Context, e *models.Email) error {
	return s.db.WithContext(ctx).Create(e).Error
}

func (s *Store) UpdateEmail(ctx context.Context, id uint, patch map[string]interface{}) error {
	res := s.db.WithContext(ctx).Model(&models.Email{}).Where("id = ?", id).Updates(patch)
	if res.Error != nil {
		return fmt.Errorf("update email %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("email %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteEmail(ctx context.Context, clientID, id uint) error {
	res := s.db.WithContext(ctx).Where("client_id = ?", clientID).Delete(&models.Email{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete email %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("email %d: %w", id, ErrNotFound)
	}
	return nil
}

// --- Clients ---

func (s *Store) GetClientByID(ctx context.Context, id uint) (*models.Client, error) {
	var c models.Client
	if err := s.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, notFound(err, "client", id)
	}
	return &c, nil
}

// --- Scheduled tasks ---

func (s *Store) CreateScheduledTask(ctx context.Context, task *models.ScheduledTask) error {
	if task.Status == "" {
		task.Status = models.TaskPending
	}
	if err := s.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("create scheduled task: %w", err)
	}
	return nil
}

// GetScheduledTasks lists tasks in the given status across all tenants.
func (s *Store) GetScheduledTasks(ctx context.Context, status string) ([]models.ScheduledTask, error) {
	var tasks []models.ScheduledTask
	err := s.db.WithContext(ctx).Where("status = ?", status).Order("scheduled_for ASC, id ASC").Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list %s tasks: %w", status, err)
	}
	return tasks, nil
}

// GetClientTasks lists one tenant's tasks, newest first.
func (s *Store) GetClientTasks(ctx context.Context, clientID uint, status string, limit int) ([]models.ScheduledTask, error) {
	q := s.db.WithContext(ctx).Where("client_id = ?", clientID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var tasks []models.ScheduledTask
	err := q.Order("scheduled_for DESC").Limit(limit).Find(&tasks).Error
	return tasks, err
}

func (s *Store) UpdateScheduledTask(ctx context.Context, id uint, patch map[string]interface{}) error {
	res := s.db.WithContext(ctx).Model(&models.ScheduledTask{}).Where("id = ?", id).Updates(patch)
	if res.Error != nil {
		return fmt.Errorf("update scheduled task %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("scheduled task %d: %w", id, ErrNotFound)
	}
	return nil
}

// ClaimScheduledTask moves a pending task to EnProceso under the given token.
// It reports false when another poller claimed the task first.
func (s *Store) ClaimScheduledTask(ctx context.Context, id uint, token string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.ScheduledTask{}).
		Where("id = ? AND status = ?", id, models.TaskPending).
		Updates(map[string]interface{}{
			"status":      models.TaskClaimed,
			"claim_token": token,
			"claimed_at":  at,
		})
	if res.Error != nil {
		return false, fmt.Errorf("claim scheduled task %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// FinishScheduledTask writes a terminal status for a claimed task. The write
// only applies while the task is still EnProceso under token; it reports
// false when the claim is no longer held.
func (s *Store) FinishScheduledTask(ctx context.Context, id uint, token, status, result string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.ScheduledTask{}).
		Where("id = ? AND status = ? AND claim_token = ?", id, models.TaskClaimed, token).
		Updates(map[string]interface{}{
			"status":      status,
			"result":      result,
			"executed_at": at,
		})
	if res.Error != nil {
		return false, fmt.Errorf("finish scheduled task %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// --- Automation logs ---

func (s *Store) CreateAutomationLog(ctx context.Context, entry *models.AutomationLog) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *Store) GetAutomationLogs(ctx context.Context, clientID, automationID uint, limit int) ([]models.AutomationLog, error) {
	var logs []models.AutomationLog
	err := s.db.WithContext(ctx).
		Where("client_id = ? AND automation_id = ?", clientID, automationID).
		Order("created_at DESC").Limit(limit).Find(&logs).Error
	return logs, err
}
