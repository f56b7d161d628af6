package store

import (
	"context"
	"fmt"

	"landflow/internal/models"
)

// AutomationAnalytics aggregates a tenant's automation activity.
type AutomationAnalytics struct {
	TotalAutomations  int64 `json:"total_automations"`
	ActiveAutomations int64 `json:"active_automations"`
	TotalExecutions   int64 `json:"total_executions"`
	SuccessfulActions int64 `json:"successful_actions"`
	FailedActions     int64 `json:"failed_actions"`
	PendingTasks      int64 `json:"pending_tasks"`
	CompletedTasks    int64 `json:"completed_tasks"`
	FailedTasks       int64 `json:"failed_tasks"`
}

func (s *Store) GetAutomationAnalytics(ctx context.Context, clientID uint) (*AutomationAnalytics, error) {
	var a AutomationAnalytics
	db := s.db.WithContext(ctx)

	counts := []struct {
		dst   *int64
		model interface{}
		where string
		args  []interface{}
	}{
		{&a.TotalAutomations, &models.Automation{}, "client_id = ?", []interface{}{clientID}},
		{&a.ActiveAutomations, &models.Automation{}, "client_id = ? AND status = ?", []interface{}{clientID, models.AutomationActive}},
		{&a.SuccessfulActions, &models.AutomationLog{}, "client_id = ? AND success = ?", []interface{}{clientID, true}},
		{&a.FailedActions, &models.AutomationLog{}, "client_id = ? AND success = ?", []interface{}{clientID, false}},
		{&a.PendingTasks, &models.ScheduledTask{}, "client_id = ? AND status = ?", []interface{}{clientID, models.TaskPending}},
		{&a.CompletedTasks, &models.ScheduledTask{}, "client_id = ? AND status = ?", []interface{}{clientID, models.TaskCompleted}},
		{&a.FailedTasks, &models.ScheduledTask{}, "client_id = ? AND status = ?", []interface{}{clientID, models.TaskFailed}},
	}
	for _, c := range counts {
		if err := db.Model(c.model).Where(c.where, c.args...).Count(c.dst).Error; err != nil {
			return nil, fmt.Errorf("automation analytics: %w", err)
		}
	}

	err := db.Model(&models.Automation{}).
		Where("client_id = ?", clientID).
		Select("COALESCE(SUM(execution_count), 0)").
		Scan(&a.TotalExecutions).Error
	if err != nil {
		return nil, fmt.Errorf("automation analytics: %w", err)
	}
	return &a, nil
}

// Summary is the tenant dashboard headline.
type Summary struct {
	Leads       int64 `json:"leads"`
	Emails      int64 `json:"emails"`
	Automations int64 `json:"automations"`
	DueTasks    int64 `json:"pending_tasks"`
}

func (s *Store) GetSummary(ctx context.Context, clientID uint) (*Summary, error) {
	var sum Summary
	db := s.db.WithContext(ctx)
	if err := db.Model(&models.Lead{}).Where("client_id = ?", clientID).Count(&sum.Leads).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Email{}).Where("client_id = ?", clientID).Count(&sum.Emails).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Automation{}).Where("client_id = ?", clientID).Count(&sum.Automations).Error; err != nil {
		return nil, err
	}
	err := db.Model(&models.ScheduledTask{}).
		Where("client_id = ? AND status = ?", clientID, models.TaskPending).
		Count(&sum.DueTasks).Error
	if err != nil {
		return nil, err
	}
	return &sum, nil
}

// --- System settings ---

func (s *Store) GetSettings(ctx context.Context) ([]models.SystemSetting, error) {
	var settings []models.SystemSetting
	err := s.db.WithContext(ctx).Order("key ASC").Find(&settings).Error
	return settings, err
}

func (s *Store) UpdateSetting(ctx context.Context, key, value string) error {
	res := s.db.WithContext(ctx).Model(&models.SystemSetting{}).Where("key = ?", key).Update("value", value)
	if res.Error != nil {
		return fmt.Errorf("update setting %s: %w", key, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("setting %s: %w", key, ErrNotFound)
	}
	return nil
}
