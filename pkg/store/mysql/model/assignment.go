package model

import (
	"time"
)

// TaskAssignment MySQL model for task_assignments table. One row per
// dispatch attempt; terminal rows are immutable audit records.
type TaskAssignment struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	AssignmentID   string     `gorm:"column:assignment_id;type:varchar(64);not null;uniqueIndex:idx_assignment_id_unique" json:"assignment_id"`
	TaskID         string     `gorm:"column:task_id;type:varchar(64);not null;index:idx_assignments_task" json:"task_id"`
	ProviderID     string     `gorm:"column:provider_id;type:varchar(64);not null;index:idx_assignments_provider" json:"provider_id"`
	AccountID      string     `gorm:"column:account_id;type:varchar(64);not null" json:"account_id"`
	Status         string     `gorm:"column:status;type:varchar(20);not null;index:idx_assignments_status" json:"status"`
	Attempt        int        `gorm:"column:attempt;type:int;not null;default:1" json:"attempt"`
	ErrorMessage   string     `gorm:"column:error_message;type:text" json:"error_message"`
	TokensReserved int        `gorm:"column:tokens_reserved;type:int;not null;default:0" json:"tokens_reserved"`
	TokensUsed     int        `gorm:"column:tokens_used;type:int;not null;default:0" json:"tokens_used"`
	Test           bool       `gorm:"column:test;not null;default:false" json:"test"`
	CreatedAt      time.Time  `gorm:"column:created_at;type:datetime(3);not null;default:CURRENT_TIMESTAMP(3)" json:"created_at"`
	CompletedAt    *time.Time `gorm:"column:completed_at;type:datetime(3)" json:"completed_at"`
}

// TableName specifies the table name for TaskAssignment
func (TaskAssignment) TableName() string {
	return "task_assignments"
}
