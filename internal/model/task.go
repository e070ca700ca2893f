package model

import (
	"time"
)

// TaskType enumerates the content-generation task kinds the router accepts.
type TaskType string

const (
	TaskTypeImage       TaskType = "image"
	TaskTypeCode        TaskType = "code"
	TaskTypeCodeProject TaskType = "code_project"
	TaskTypePrompt      TaskType = "prompt"
	TaskTypeMeeting     TaskType = "meeting"
	TaskTypePeopleImage TaskType = "people_image"
)

// TaskTypes returns the closed set of accepted task types.
func TaskTypes() []TaskType {
	return []TaskType{
		TaskTypeImage,
		TaskTypeCode,
		TaskTypeCodeProject,
		TaskTypePrompt,
		TaskTypeMeeting,
		TaskTypePeopleImage,
	}
}

// Valid reports whether t is one of the accepted task types.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeImage, TaskTypeCode, TaskTypeCodeProject,
		TaskTypePrompt, TaskTypeMeeting, TaskTypePeopleImage:
		return true
	}
	return false
}

func (t TaskType) String() string {
	return string(t)
}

// TaskStatus tracks a task through its lifecycle:
// pending -> processing -> completed | failed | cancelled.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"    // accepted, waiting for a worker
	TaskStatusProcessing TaskStatus = "processing" // an assignment is in flight
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

func (s TaskStatus) String() string {
	return string(s)
}

// Terminal reports whether the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// Priority bounds. 5 is picked up first, 1 last.
const (
	PriorityMin     = 1
	PriorityMax     = 5
	PriorityDefault = 3
)

// Task is the unit of work submitted to the router.
type Task struct {
	ID            string                 `json:"task_id"`
	Title         string                 `json:"title,omitempty"`
	Type          TaskType               `json:"task_type"`
	Priority      int                    `json:"priority"`
	Status        TaskStatus             `json:"status"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	ContentLength int                    `json:"content_length"`
	WebhookURL    string                 `json:"webhook_url,omitempty"`
	Output        string                 `json:"output,omitempty"`
	ErrorMessage  string                 `json:"error_message,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	StartedAt     *time.Time             `json:"started_at,omitempty"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty"`
}

// SubmitRequest is the task submission body.
type SubmitRequest struct {
	Title         string                 `json:"title"`
	TaskType      string                 `json:"task_type" binding:"required"`
	Priority      int                    `json:"priority"`
	Payload       map[string]interface{} `json:"payload"`
	ContentLength int                    `json:"content_length"`
	WebhookURL    string                 `json:"webhook_url"`
}

// SubmitResponse acknowledges an accepted task.
type SubmitResponse struct {
	ID     string `json:"task_id"`
	Status string `json:"status"`
}

// AssignmentView is the outward shape of one dispatch attempt.
type AssignmentView struct {
	ID           string `json:"assignment_id"`
	ProviderID   string `json:"provider_id"`
	ProviderName string `json:"provider_name,omitempty"`
	AccountID    string `json:"account_id"`
	Status       string `json:"status"`
	Attempt      int    `json:"attempt"`
	ErrorMessage string `json:"error_message,omitempty"`
	TokensUsed   int    `json:"tokens_used,omitempty"`
	Test         bool   `json:"test,omitempty"`
	CreatedAt    string `json:"created_at"`
	CompletedAt  string `json:"completed_at,omitempty"`
}

// TaskResponse is the task status payload, including assignment history.
type TaskResponse struct {
	ID           string           `json:"task_id"`
	Title        string           `json:"title,omitempty"`
	Type         string           `json:"task_type"`
	Priority     int              `json:"priority"`
	Status       string           `json:"status"`
	Output       string           `json:"output,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	QueueWaitMS  int64            `json:"queue_wait_ms,omitempty"`
	ExecutionMS  int64            `json:"execution_ms,omitempty"`
	CreatedAt    string           `json:"created_at"`
	StartedAt    string           `json:"started_at,omitempty"`
	CompletedAt  string           `json:"completed_at,omitempty"`
	Assignments  []AssignmentView `json:"assignments,omitempty"`
}
