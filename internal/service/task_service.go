package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"genrouter/internal/model"
	"genrouter/pkg/logger"
	"genrouter/pkg/metrics"
	"genrouter/pkg/queue/asynq"
	"genrouter/pkg/store/mysql"
)

var (
	// ErrTaskNotFound means the task ID matches no row.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskFinished means the task already reached a terminal state.
	ErrTaskFinished = errors.New("task already finished")
	// ErrInvalidRequest marks caller mistakes so handlers can answer 400
	// instead of 500.
	ErrInvalidRequest = errors.New("invalid request")
)

// TaskNotifier delivers terminal-state notifications. Implementations may
// block; callers fire them on their own goroutine.
type TaskNotifier interface {
	TaskFinished(task *model.Task)
}

// TaskService owns the task lifecycle on the API side: intake, status,
// cancellation.
type TaskService struct {
	taskRepo       *mysql.TaskRepository
	assignmentRepo *mysql.AssignmentRepository
	providerRepo   *mysql.ProviderRepository
	accountRepo    *mysql.AccountRepository
	queue          *asynq.Manager
	notifier       TaskNotifier
}

// NewTaskService creates a new task service.
func NewTaskService(taskRepo *mysql.TaskRepository, assignmentRepo *mysql.AssignmentRepository, providerRepo *mysql.ProviderRepository, accountRepo *mysql.AccountRepository, queueMgr *asynq.Manager) *TaskService {
	return &TaskService{
		taskRepo:       taskRepo,
		assignmentRepo: assignmentRepo,
		providerRepo:   providerRepo,
		accountRepo:    accountRepo,
		queue:          queueMgr,
	}
}

// SetNotifier sets the terminal-state notifier (for dependency injection).
func (s *TaskService) SetNotifier(notifier TaskNotifier) {
	s.notifier = notifier
}

// SubmitTask validates a submission, persists it, and enqueues it for
// dispatch on its priority queue.
func (s *TaskService) SubmitTask(ctx context.Context, req *model.SubmitRequest) (*model.SubmitResponse, error) {
	taskType := model.TaskType(req.TaskType)
	if !taskType.Valid() {
		return nil, fmt.Errorf("%w: unsupported task type: %s", ErrInvalidRequest, req.TaskType)
	}

	priority := req.Priority
	if priority == 0 {
		priority = model.PriorityDefault
	}
	if priority < model.PriorityMin || priority > model.PriorityMax {
		return nil, fmt.Errorf("%w: priority must be between %d and %d", ErrInvalidRequest, model.PriorityMin, model.PriorityMax)
	}

	contentLength := req.ContentLength
	if contentLength < 0 {
		contentLength = 0
	}

	task := &model.Task{
		ID:            uuid.New().String(),
		Title:         req.Title,
		Type:          taskType,
		Priority:      priority,
		Status:        model.TaskStatusPending,
		Payload:       req.Payload,
		ContentLength: contentLength,
		WebhookURL:    req.WebhookURL,
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.taskRepo.Create(ctx, mysql.FromTaskDomain(task)); err != nil {
		return nil, fmt.Errorf("failed to save task: %w", err)
	}

	if err := s.queue.EnqueueTask(ctx, task.ID, priority); err != nil {
		// The row is in, so the task is accepted. The reaper re-enqueues
		// pending tasks without a queue entry.
		logger.WarnCtx(ctx, "failed to enqueue task %s: %v (the reaper will enqueue it)", task.ID, err)
	}

	metrics.TasksSubmittedTotal.WithLabelValues(taskType.String()).Inc()
	logger.InfoCtx(ctx, "task submitted, task_id: %s, type: %s, priority: %d", task.ID, taskType, priority)

	return &model.SubmitResponse{
		ID:     task.ID,
		Status: model.TaskStatusPending.String(),
	}, nil
}

// GetTaskStatus returns a task with its assignment history.
func (s *TaskService) GetTaskStatus(ctx context.Context, taskID string) (*model.TaskResponse, error) {
	row, err := s.taskRepo.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrTaskNotFound
	}
	task := mysql.ToTaskDomain(row)

	assignmentRows, err := s.assignmentRepo.ListByTask(ctx, taskID)
	if err != nil {
		logger.WarnCtx(ctx, "failed to load assignments for task %s: %v (non-critical, continuing)", taskID, err)
	}
	assignments := mysql.ToAssignmentDomainList(assignmentRows)

	return s.toTaskResponse(ctx, task, assignments), nil
}

// ListTasks returns tasks matching the filters, newest first, without
// assignment history.
func (s *TaskService) ListTasks(ctx context.Context, status, taskType string, limit, offset int) ([]*model.TaskResponse, int64, error) {
	filters := make(map[string]interface{})
	if status != "" {
		filters["status"] = status
	}
	if taskType != "" {
		filters["task_type"] = taskType
	}

	total, err := s.taskRepo.Count(ctx, filters)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.taskRepo.List(ctx, filters, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	responses := make([]*model.TaskResponse, 0, len(rows))
	for _, row := range rows {
		responses = append(responses, s.toTaskResponse(ctx, mysql.ToTaskDomain(row), nil))
	}
	return responses, total, nil
}

// CancelTask moves a pending or processing task to cancelled, closes any
// open assignment, returns its reservation, and drops the queue entry. A
// provider call already in flight is not interrupted; its result lands on
// the closed assignment for audit and the task stays cancelled.
func (s *TaskService) CancelTask(ctx context.Context, taskID string) error {
	row, err := s.taskRepo.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if row == nil {
		return ErrTaskNotFound
	}

	task := mysql.ToTaskDomain(row)
	now := time.Now().UTC()

	// The status can flip pending <-> processing underneath us, so retry
	// the guarded update against whatever we last saw.
	cancelled := false
	for try := 0; try < 3 && !cancelled; try++ {
		if task.Status.Terminal() {
			return ErrTaskFinished
		}
		err := s.taskRepo.UpdateFieldsWithStatus(ctx, taskID, task.Status.String(), map[string]interface{}{
			"status":       model.TaskStatusCancelled.String(),
			"completed_at": now,
		})
		if err == nil {
			cancelled = true
			break
		}
		current, getErr := s.taskRepo.Get(ctx, taskID)
		if getErr != nil {
			return getErr
		}
		if current == nil {
			return ErrTaskNotFound
		}
		task = mysql.ToTaskDomain(current)
	}
	if !cancelled {
		return fmt.Errorf("task %s kept changing state, try again", taskID)
	}

	s.closeActiveAssignment(ctx, taskID, now)

	// Processing tasks have no queue entry anymore; a missing entry is
	// the normal case, not a failure.
	if err := s.queue.CancelTask(taskID, task.Priority); err != nil && !asynq.IsTaskGone(err) {
		logger.WarnCtx(ctx, "failed to remove queue entry for task %s: %v (the dispatcher will notice the cancelled status)", taskID, err)
	}

	metrics.TasksFinishedTotal.WithLabelValues(task.Type.String(), model.TaskStatusCancelled.String()).Inc()
	logger.InfoCtx(ctx, "task cancelled, task_id: %s", taskID)

	task.Status = model.TaskStatusCancelled
	task.CompletedAt = &now
	if s.notifier != nil {
		go s.notifier.TaskFinished(task)
	}
	return nil
}

// closeActiveAssignment fails the task's open assignment and returns its
// reservation. The guard on the assigned status means a dispatcher that
// just settled the attempt wins and the ledger is left alone.
func (s *TaskService) closeActiveAssignment(ctx context.Context, taskID string, now time.Time) {
	row, err := s.assignmentRepo.GetActiveByTask(ctx, taskID)
	if err != nil {
		logger.WarnCtx(ctx, "failed to look up active assignment for task %s: %v", taskID, err)
		return
	}
	if row == nil {
		return
	}
	assignment := mysql.ToAssignmentDomain(row)

	err = s.assignmentRepo.UpdateFieldsWithStatus(ctx, assignment.ID, model.AssignmentStatusAssigned.String(), map[string]interface{}{
		"status":        model.AssignmentStatusFailed.String(),
		"error_message": "cancelled by user",
		"completed_at":  now,
	})
	if err != nil {
		logger.DebugCtx(ctx, "assignment %s settled before cancellation: %v", assignment.ID, err)
		return
	}

	if assignment.TokensReserved > 0 {
		if err := s.accountRepo.Release(ctx, assignment.AccountID, assignment.TokensReserved); err != nil {
			logger.WarnCtx(ctx, "failed to release %d tokens for account %s: %v (the monthly reset will square the ledger)",
				assignment.TokensReserved, assignment.AccountID, err)
		}
	}
}

// DeleteTask removes a terminal task and its assignment history.
func (s *TaskService) DeleteTask(ctx context.Context, taskID string) error {
	row, err := s.taskRepo.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if row == nil {
		return ErrTaskNotFound
	}
	if !model.TaskStatus(row.Status).Terminal() {
		return fmt.Errorf("%w: task %s is still %s, cancel it first", ErrInvalidRequest, taskID, row.Status)
	}
	return s.taskRepo.Delete(ctx, taskID)
}

// GetPendingTaskCount reports queue depth across all priority queues.
func (s *TaskService) GetPendingTaskCount(ctx context.Context) (int, error) {
	return s.queue.GetPendingTaskCount()
}

func (s *TaskService) toTaskResponse(ctx context.Context, task *model.Task, assignments []*model.TaskAssignment) *model.TaskResponse {
	var queueWaitMS, executionMS int64
	if task.StartedAt != nil {
		queueWaitMS = task.StartedAt.Sub(task.CreatedAt).Milliseconds()
	}
	if task.CompletedAt != nil && task.StartedAt != nil {
		executionMS = task.CompletedAt.Sub(*task.StartedAt).Milliseconds()
	}

	resp := &model.TaskResponse{
		ID:           task.ID,
		Title:        task.Title,
		Type:         task.Type.String(),
		Priority:     task.Priority,
		Status:       task.Status.String(),
		Output:       task.Output,
		ErrorMessage: task.ErrorMessage,
		QueueWaitMS:  queueWaitMS,
		ExecutionMS:  executionMS,
		CreatedAt:    task.CreatedAt.Format(time.RFC3339),
	}
	if task.StartedAt != nil {
		resp.StartedAt = task.StartedAt.Format(time.RFC3339)
	}
	if task.CompletedAt != nil {
		resp.CompletedAt = task.CompletedAt.Format(time.RFC3339)
	}

	if len(assignments) > 0 {
		names := s.providerNames(ctx, assignments)
		views := make([]model.AssignmentView, 0, len(assignments))
		for _, a := range assignments {
			views = append(views, assignmentView(a, names[a.ProviderID]))
		}
		resp.Assignments = views
	}
	return resp
}

// providerNames resolves provider display names for assignment history.
// Lookups are per unique provider; a task touches at most a handful.
func (s *TaskService) providerNames(ctx context.Context, assignments []*model.TaskAssignment) map[string]string {
	names := make(map[string]string)
	for _, a := range assignments {
		if _, seen := names[a.ProviderID]; seen {
			continue
		}
		names[a.ProviderID] = ""
		row, err := s.providerRepo.Get(ctx, a.ProviderID)
		if err != nil || row == nil {
			continue
		}
		names[a.ProviderID] = row.Name
	}
	return names
}

func assignmentView(a *model.TaskAssignment, providerName string) model.AssignmentView {
	view := model.AssignmentView{
		ID:           a.ID,
		ProviderID:   a.ProviderID,
		ProviderName: providerName,
		AccountID:    a.AccountID,
		Status:       a.Status.String(),
		Attempt:      a.Attempt,
		ErrorMessage: a.ErrorMessage,
		TokensUsed:   a.TokensUsed,
		Test:         a.Test,
		CreatedAt:    a.CreatedAt.Format(time.RFC3339),
	}
	if a.CompletedAt != nil {
		view.CompletedAt = a.CompletedAt.Format(time.RFC3339)
	}
	return view
}
