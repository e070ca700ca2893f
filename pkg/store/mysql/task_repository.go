package mysql

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"genrouter/pkg/store/mysql/model"
)

// TaskRepository handles task persistence in MySQL
type TaskRepository struct {
	ds *Datastore
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(ds *Datastore) *TaskRepository {
	return &TaskRepository{ds: ds}
}

// Create creates a new task
func (r *TaskRepository) Create(ctx context.Context, task *model.Task) error {
	return r.ds.DB(ctx).Create(task).Error
}

// Get retrieves a task by ID
func (r *TaskRepository) Get(ctx context.Context, taskID string) (*model.Task, error) {
	var task model.Task
	err := r.ds.DB(ctx).Where("task_id = ?", taskID).First(&task).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &task, nil
}

// UpdateFields updates specific fields of a task by task_id
func (r *TaskRepository) UpdateFields(ctx context.Context, taskID string, updates map[string]interface{}) error {
	return r.ds.DB(ctx).Model(&model.Task{}).
		Where("task_id = ?", taskID).
		Updates(updates).Error
}

// UpdateFieldsWithStatus updates specific fields of a task with CAS (Compare-And-Swap) on status
// This prevents concurrent updates by ensuring the task status matches expectedStatus before updating
// Returns error if task not found or status doesn't match expectedStatus
func (r *TaskRepository) UpdateFieldsWithStatus(ctx context.Context, taskID string, expectedStatus string, updates map[string]interface{}) error {
	result := r.ds.DB(ctx).Model(&model.Task{}).
		Where("task_id = ? AND status = ?", taskID, expectedStatus).
		Updates(updates)

	if result.Error != nil {
		return fmt.Errorf("failed to update task: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("task not found or status changed (expected: %s): task_id=%s", expectedStatus, taskID)
	}

	return nil
}

// UpdateStatus updates task status with atomic state transition (CAS - Compare And Swap)
// This prevents concurrent updates and ensures valid state transitions
// Returns error if task not found or current status doesn't match fromStatus
func (r *TaskRepository) UpdateStatus(ctx context.Context, taskID string, fromStatus, toStatus string) error {
	result := r.ds.DB(ctx).Model(&model.Task{}).
		Where("task_id = ? AND status = ?", taskID, fromStatus).
		Update("status", toStatus)

	if result.Error != nil {
		return fmt.Errorf("failed to update task status: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("task not found or invalid status transition: task_id=%s, from=%s, to=%s", taskID, fromStatus, toStatus)
	}

	return nil
}

// MarkProcessing transitions a pending task to processing and stamps started_at.
// Returns false without error when the task is no longer pending, so callers
// can re-read the row and decide how to proceed (the task may have been cancelled).
func (r *TaskRepository) MarkProcessing(ctx context.Context, taskID string, startedAt time.Time) (bool, error) {
	result := r.ds.DB(ctx).Model(&model.Task{}).
		Where("task_id = ? AND status = ?", taskID, "pending").
		Updates(map[string]interface{}{
			"status":     "processing",
			"started_at": startedAt,
		})

	if result.Error != nil {
		return false, fmt.Errorf("failed to mark task processing: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Delete deletes a task
func (r *TaskRepository) Delete(ctx context.Context, taskID string) error {
	return r.ds.DB(ctx).Where("task_id = ?", taskID).Delete(&model.Task{}).Error
}

// List retrieves tasks with optional filters
func (r *TaskRepository) List(ctx context.Context, filters map[string]interface{}, limit, offset int) ([]*model.Task, error) {
	if limit <= 0 {
		limit = 100
	}

	query := r.ds.DB(ctx).Model(&model.Task{})

	for key, value := range filters {
		query = query.Where(key+" = ?", value)
	}

	var tasks []*model.Task
	err := query.
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

// Count counts tasks with optional filters
func (r *TaskRepository) Count(ctx context.Context, filters map[string]interface{}) (int64, error) {
	query := r.ds.DB(ctx).Model(&model.Task{})

	for key, value := range filters {
		query = query.Where(key+" = ?", value)
	}

	var count int64
	err := query.Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return count, nil
}

// CountByStatus counts tasks by status globally
func (r *TaskRepository) CountByStatus(ctx context.Context, status string) (int64, error) {
	var count int64
	err := r.ds.DB(ctx).Model(&model.Task{}).Where("status = ?", status).Count(&count).Error
	return count, err
}

// ListPendingOlderThan retrieves pending tasks created before the cutoff,
// highest priority first. The reaper uses this to find tasks whose queue
// entry was lost so they can be enqueued again.
func (r *TaskRepository) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*model.Task, error) {
	if limit <= 0 {
		limit = 100
	}

	var tasks []*model.Task
	err := r.ds.DB(ctx).
		Where("status = ? AND created_at < ?", "pending", cutoff).
		Order("priority DESC, created_at ASC").
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending tasks: %w", err)
	}
	return tasks, nil
}

// ListProcessingOlderThan retrieves processing tasks that started before the
// cutoff. The reaper cross-checks these against open assignments to catch
// workers that died between claiming a task and recording an assignment.
func (r *TaskRepository) ListProcessingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*model.Task, error) {
	if limit <= 0 {
		limit = 100
	}

	var tasks []*model.Task
	err := r.ds.DB(ctx).
		Where("status = ? AND started_at < ?", "processing", cutoff).
		Order("started_at ASC").
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list processing tasks: %w", err)
	}
	return tasks, nil
}

// ExecTx executes a function within a transaction
// This allows multiple repository operations to be executed atomically
func (r *TaskRepository) ExecTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.ds.ExecTx(ctx, fn)
}

// CleanupOldTasks removes terminal tasks older than the given time in batches
func (r *TaskRepository) CleanupOldTasks(ctx context.Context, before time.Time) (int64, error) {
	const batchSize = 5000
	var total int64
	for {
		result := r.ds.DB(ctx).
			Where("status IN (?, ?, ?) AND updated_at < ?", "completed", "failed", "cancelled", before).
			Limit(batchSize).
			Delete(&model.Task{})
		if result.Error != nil {
			return total, result.Error
		}
		total += result.RowsAffected
		if result.RowsAffected < batchSize {
			break
		}
		time.Sleep(100 * time.Millisecond) // avoid overwhelming DB
	}
	return total, nil
}
