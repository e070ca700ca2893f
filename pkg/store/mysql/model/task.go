package model

import (
	"time"
)

// Task MySQL model for tasks table
type Task struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	TaskID        string     `gorm:"column:task_id;type:varchar(64);not null;uniqueIndex:idx_task_id_unique" json:"task_id"`
	Title         string     `gorm:"column:title;type:varchar(255)" json:"title"`
	TaskType      string     `gorm:"column:task_type;type:varchar(32);not null;index:idx_task_type" json:"task_type"`
	Priority      int        `gorm:"column:priority;type:int;not null;default:3;index:idx_status_priority,priority:2" json:"priority"`
	Status        string     `gorm:"column:status;type:varchar(20);not null;index:idx_status_priority,priority:1" json:"status"`
	Payload       JSONMap    `gorm:"column:payload;type:json" json:"payload"`
	ContentLength int        `gorm:"column:content_length;type:int;not null;default:0" json:"content_length"`
	WebhookURL    string     `gorm:"column:webhook_url;type:varchar(1000)" json:"webhook_url"`
	Output        string     `gorm:"column:output;type:mediumtext" json:"output"`
	ErrorMessage  string     `gorm:"column:error_message;type:text" json:"error_message"`
	CreatedAt     time.Time  `gorm:"column:created_at;type:datetime(3);not null;default:CURRENT_TIMESTAMP(3);index:idx_created_at" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;type:datetime(3);not null;default:CURRENT_TIMESTAMP(3)" json:"updated_at"`
	StartedAt     *time.Time `gorm:"column:started_at;type:datetime(3)" json:"started_at"`
	CompletedAt   *time.Time `gorm:"column:completed_at;type:datetime(3)" json:"completed_at"`
}

// TableName specifies the table name for Task
func (Task) TableName() string {
	return "tasks"
}
