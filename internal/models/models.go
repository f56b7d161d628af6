package models

import (
	"time"
)

// Client is a tenant account. Mail fields override the process defaults
// when set.
type Client struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Name          string    `gorm:"type:varchar(255);not null" json:"name"`
	MailTransport string    `gorm:"type:varchar(20)" json:"mail_transport"` // smtp, ses
	FromEmail     string    `gorm:"type:varchar(255)" json:"from_email"`
	FromName      string    `gorm:"type:varchar(255)" json:"from_name"`
	SMTPHost      string    `gorm:"type:varchar(255)" json:"smtp_host"`
	SMTPPort      int       `json:"smtp_port"`
	SMTPUser      string    `gorm:"type:varchar(255)" json:"smtp_user"`
	SMTPPassword  string    `gorm:"type:varchar(255)" json:"-"`
	SESRegion     string    `gorm:"type:varchar(50)" json:"ses_region"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Client) TableName() string {
	return "clients"
}

// Lead is a captured contact belonging to a tenant
type Lead struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ClientID  uint      `gorm:"index;not null" json:"client_id"`
	Email     string    `gorm:"type:varchar(255);not null" json:"email"`
	Name      string    `gorm:"type:varchar(255)" json:"name"`
	Company   string    `gorm:"type:varchar(255)" json:"company"`
	Phone     string    `gorm:"type:varchar(50)" json:"phone"`
	Source    string    `gorm:"type:varchar(100)" json:"source"` // landing page slug, import, manual
	Score     int       `gorm:"default:0" json:"score"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Lead) TableName() string {
	return "leads"
}

// Email is a tenant-authored email template
type Email struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ClientID  uint      `gorm:"index;not null" json:"client_id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	Subject   string    `gorm:"type:varchar(500)" json:"subject"`
	HTMLBody  string    `gorm:"type:text" json:"html_body"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Email) TableName() string {
	return "emails"
}

// Automation statuses. Only active automations are matched against triggers.
const (
	AutomationActive   = "active"
	AutomationPaused   = "paused"
	AutomationInactive = "inactive"
	AutomationDraft    = "draft"
)

// Automation is a tenant rule of the form trigger -> ordered actions
type Automation struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ClientID       uint      `gorm:"index;not null" json:"client_id"`
	Name           string    `gorm:"type:varchar(255);not null" json:"name"`
	Trigger        string    `gorm:"type:varchar(50);not null;index" json:"trigger"`
	Conditions     string    `gorm:"type:text" json:"conditions"` // JSON, stored only
	Actions        string    `gorm:"type:text" json:"actions"`    // JSON, flat array or {emails: [...]}
	Status         string    `gorm:"type:varchar(20);default:'draft';index" json:"status"`
	ExecutionCount int       `gorm:"default:0" json:"execution_count"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Automation) TableName() string {
	return "automations"
}

// Scheduled task statuses. EnProceso marks a task claimed by a poller.
const (
	TaskPending   = "Programada"
	TaskClaimed   = "EnProceso"
	TaskCompleted = "Completada"
	TaskFailed    = "Fallida"
)

const TaskTypeSendAutomationEmail = "send_automation_email"

// ScheduledTask is a deferred automation action
type ScheduledTask struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	ClientID      uint       `gorm:"index;not null" json:"client_id"`
	TaskType      string     `gorm:"type:varchar(50);not null" json:"task_type"`
	ReferenceID   uint       `json:"reference_id"`
	ReferenceName string     `gorm:"type:text" json:"reference_name"` // JSON {automationId, leadId, emailId}
	ScheduledFor  time.Time  `gorm:"not null;index" json:"scheduled_for"`
	Status        string     `gorm:"type:varchar(20);default:'Programada';index" json:"status"`
	ExecutedAt    *time.Time `json:"executed_at"`
	Result        string     `gorm:"type:text" json:"result"`
	ClaimToken    string     `gorm:"type:varchar(64)" json:"-"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ScheduledTask) TableName() string {
	return "scheduled_tasks"
}

// AutomationLog represents a log entry for automation execution
type AutomationLog struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	ClientID     uint      `gorm:"index" json:"client_id"`
	AutomationID uint      `gorm:"index" json:"automation_id"`
	LeadID       uint      `json:"lead_id"`
	Trigger      string    `gorm:"type:varchar(50)" json:"trigger"`
	ActionTaken  string    `gorm:"type:text" json:"action_taken"`
	Success      bool      `json:"success"`
	ErrorMessage string    `gorm:"type:text" json:"error_message"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (AutomationLog) TableName() string {
	return "automation_logs"
}

// SystemSetting is a key/value pair mirrored from configuration
type SystemSetting struct {
	Key       string    `gorm:"primaryKey;type:varchar(100)" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SystemSetting) TableName() string {
	return "system_settings"
}
