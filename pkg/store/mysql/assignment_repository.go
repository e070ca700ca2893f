package mysql

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"genrouter/pkg/store/mysql/model"
)

// AssignmentRepository handles task assignment persistence in MySQL.
// Assignments are the audit trail of dispatch attempts; terminal rows are
// never transitioned again.
type AssignmentRepository struct {
	ds *Datastore
}

// NewAssignmentRepository creates a new assignment repository
func NewAssignmentRepository(ds *Datastore) *AssignmentRepository {
	return &AssignmentRepository{ds: ds}
}

// Create creates a new assignment
func (r *AssignmentRepository) Create(ctx context.Context, assignment *model.TaskAssignment) error {
	return r.ds.DB(ctx).Create(assignment).Error
}

// Get retrieves an assignment by ID
func (r *AssignmentRepository) Get(ctx context.Context, assignmentID string) (*model.TaskAssignment, error) {
	var assignment model.TaskAssignment
	err := r.ds.DB(ctx).Where("assignment_id = ?", assignmentID).First(&assignment).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return &assignment, nil
}

// ListByTask retrieves all assignments for a task in attempt order
func (r *AssignmentRepository) ListByTask(ctx context.Context, taskID string) ([]*model.TaskAssignment, error) {
	var assignments []*model.TaskAssignment
	err := r.ds.DB(ctx).
		Where("task_id = ?", taskID).
		Order("id ASC").
		Find(&assignments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	return assignments, nil
}

// GetActiveByTask retrieves the in-flight assignment for a task, if any.
// A task has at most one assignment in the assigned state at a time.
func (r *AssignmentRepository) GetActiveByTask(ctx context.Context, taskID string) (*model.TaskAssignment, error) {
	var assignment model.TaskAssignment
	err := r.ds.DB(ctx).
		Where("task_id = ? AND status = ?", taskID, "assigned").
		Order("id DESC").
		First(&assignment).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active assignment: %w", err)
	}
	return &assignment, nil
}

// CountByTask counts dispatch attempts recorded for a task.
// Test dispatches are excluded so they never count against the attempt budget.
func (r *AssignmentRepository) CountByTask(ctx context.Context, taskID string) (int64, error) {
	var count int64
	err := r.ds.DB(ctx).Model(&model.TaskAssignment{}).
		Where("task_id = ? AND test = ?", taskID, false).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count assignments: %w", err)
	}
	return count, nil
}

// UpdateFields updates specific fields of an assignment without a status
// guard. Used to attach audit details (for example a connector result that
// arrived after cancellation) to an already terminal row.
func (r *AssignmentRepository) UpdateFields(ctx context.Context, assignmentID string, updates map[string]interface{}) error {
	result := r.ds.DB(ctx).Model(&model.TaskAssignment{}).
		Where("assignment_id = ?", assignmentID).
		Updates(updates)

	if result.Error != nil {
		return fmt.Errorf("failed to update assignment: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("assignment not found: assignment_id=%s", assignmentID)
	}

	return nil
}

// UpdateFieldsWithStatus updates an assignment with CAS (Compare-And-Swap) on status.
// Only an assigned row can move to succeeded or failed; once a row is
// terminal no further transition matches and the caller learns it lost the race.
func (r *AssignmentRepository) UpdateFieldsWithStatus(ctx context.Context, assignmentID string, expectedStatus string, updates map[string]interface{}) error {
	result := r.ds.DB(ctx).Model(&model.TaskAssignment{}).
		Where("assignment_id = ? AND status = ?", assignmentID, expectedStatus).
		Updates(updates)

	if result.Error != nil {
		return fmt.Errorf("failed to update assignment: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("assignment not found or status changed (expected: %s): assignment_id=%s", expectedStatus, assignmentID)
	}

	return nil
}

// ListStaleAssigned retrieves non-test assignments stuck in the assigned
// state since before the cutoff. The reaper fails these and releases their
// reservations.
func (r *AssignmentRepository) ListStaleAssigned(ctx context.Context, cutoff time.Time, limit int) ([]*model.TaskAssignment, error) {
	if limit <= 0 {
		limit = 100
	}

	var assignments []*model.TaskAssignment
	err := r.ds.DB(ctx).
		Where("status = ? AND test = ? AND created_at < ?", "assigned", false, cutoff).
		Order("id ASC").
		Limit(limit).
		Find(&assignments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale assignments: %w", err)
	}
	return assignments, nil
}

// FailedProviderIDs retrieves the distinct providers that already failed a
// task, so rerouting can exclude them.
func (r *AssignmentRepository) FailedProviderIDs(ctx context.Context, taskID string) ([]string, error) {
	var providerIDs []string
	err := r.ds.DB(ctx).Model(&model.TaskAssignment{}).
		Distinct("provider_id").
		Where("task_id = ? AND status = ? AND test = ?", taskID, "failed", false).
		Pluck("provider_id", &providerIDs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get failed providers: %w", err)
	}
	return providerIDs, nil
}
