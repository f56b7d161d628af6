package models

import "time"

// Event is the envelope pushed to admin websocket clients.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Event types
const (
	EventTaskUpdate   = "task_update"
	EventLeadCaptured = "lead_captured"
)

// TaskEvent reports a scheduled task reaching a terminal state.
type TaskEvent struct {
	TaskID       uint       `json:"task_id"`
	ClientID     uint       `json:"client_id"`
	TaskType     string     `json:"task_type"`
	Status       string     `json:"status"`
	Result       string     `json:"result"`
	ScheduledFor time.Time  `json:"scheduled_for"`
	ExecutedAt   *time.Time `json:"executed_at,omitempty"`
}

// LeadEvent reports a lead captured from a public page.
type LeadEvent struct {
	LeadID   uint   `json:"lead_id"`
	ClientID uint   `json:"client_id"`
	Page     string `json:"page,omitempty"`
	Created  bool   `json:"created"`
}
