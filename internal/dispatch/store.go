package dispatch

import (
	"context"
	"fmt"
	"time"

	"genrouter/internal/model"
	"genrouter/pkg/secrets"
	"genrouter/pkg/store/mysql"
)

// Store is the persistence surface the dispatcher works against.
type Store interface {
	GetTask(ctx context.Context, taskID string) (*model.Task, error)
	// MarkTaskProcessing claims a pending task. False without error means
	// the task is no longer pending and the caller should re-read it.
	MarkTaskProcessing(ctx context.Context, taskID string, startedAt time.Time) (bool, error)
	UpdateTaskWithStatus(ctx context.Context, taskID string, expected model.TaskStatus, updates map[string]interface{}) error
	// RequeueTask hands a claimed task back to the queue, processing to
	// pending.
	RequeueTask(ctx context.Context, taskID string) error

	CountAttempts(ctx context.Context, taskID string) (int, error)
	FailedProviders(ctx context.Context, taskID string) ([]string, error)
	CreateAssignment(ctx context.Context, assignment *model.TaskAssignment) error
	UpdateAssignmentWithStatus(ctx context.Context, assignmentID string, expected model.AssignmentStatus, updates map[string]interface{}) error
	UpdateAssignment(ctx context.Context, assignmentID string, updates map[string]interface{}) error

	ReleaseTokens(ctx context.Context, accountID string, tokens int) error
	ReconcileTokens(ctx context.Context, accountID string, reserved, actual int) error
	AccountAPIKey(ctx context.Context, accountID string) (string, error)
}

// ReaperStore is the persistence surface the reaper sweeps against.
type ReaperStore interface {
	GetTask(ctx context.Context, taskID string) (*model.Task, error)
	RequeueTask(ctx context.Context, taskID string) error
	UpdateAssignmentWithStatus(ctx context.Context, assignmentID string, expected model.AssignmentStatus, updates map[string]interface{}) error
	ReleaseTokens(ctx context.Context, accountID string, tokens int) error

	ListStaleAssigned(ctx context.Context, cutoff time.Time, limit int) ([]*model.TaskAssignment, error)
	ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*model.Task, error)
	ListProcessingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*model.Task, error)
	// ActiveAssignment returns the task's open assignment, nil when none.
	ActiveAssignment(ctx context.Context, taskID string) (*model.TaskAssignment, error)
}

type mysqlStore struct {
	repo   *mysql.Repository
	sealer *secrets.Sealer
}

// NewMySQLStore adapts the MySQL repository for the dispatcher. The sealer
// unlocks stored account credentials at dispatch time.
func NewMySQLStore(repo *mysql.Repository, sealer *secrets.Sealer) Store {
	return &mysqlStore{repo: repo, sealer: sealer}
}

// NewMySQLReaperStore adapts the MySQL repository for the reaper.
func NewMySQLReaperStore(repo *mysql.Repository) ReaperStore {
	return &mysqlStore{repo: repo}
}

func (s *mysqlStore) GetTask(ctx context.Context, taskID string) (*model.Task, error) {
	task, err := s.repo.Task.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return mysql.ToTaskDomain(task), nil
}

func (s *mysqlStore) MarkTaskProcessing(ctx context.Context, taskID string, startedAt time.Time) (bool, error) {
	return s.repo.Task.MarkProcessing(ctx, taskID, startedAt)
}

func (s *mysqlStore) UpdateTaskWithStatus(ctx context.Context, taskID string, expected model.TaskStatus, updates map[string]interface{}) error {
	return s.repo.Task.UpdateFieldsWithStatus(ctx, taskID, expected.String(), updates)
}

func (s *mysqlStore) RequeueTask(ctx context.Context, taskID string) error {
	return s.repo.Task.UpdateStatus(ctx, taskID, model.TaskStatusProcessing.String(), model.TaskStatusPending.String())
}

func (s *mysqlStore) CountAttempts(ctx context.Context, taskID string) (int, error) {
	count, err := s.repo.Assignment.CountByTask(ctx, taskID)
	return int(count), err
}

func (s *mysqlStore) FailedProviders(ctx context.Context, taskID string) ([]string, error) {
	return s.repo.Assignment.FailedProviderIDs(ctx, taskID)
}

func (s *mysqlStore) CreateAssignment(ctx context.Context, assignment *model.TaskAssignment) error {
	return s.repo.Assignment.Create(ctx, mysql.FromAssignmentDomain(assignment))
}

func (s *mysqlStore) UpdateAssignmentWithStatus(ctx context.Context, assignmentID string, expected model.AssignmentStatus, updates map[string]interface{}) error {
	return s.repo.Assignment.UpdateFieldsWithStatus(ctx, assignmentID, expected.String(), updates)
}

func (s *mysqlStore) UpdateAssignment(ctx context.Context, assignmentID string, updates map[string]interface{}) error {
	return s.repo.Assignment.UpdateFields(ctx, assignmentID, updates)
}

func (s *mysqlStore) ReleaseTokens(ctx context.Context, accountID string, tokens int) error {
	return s.repo.Account.Release(ctx, accountID, tokens)
}

func (s *mysqlStore) ReconcileTokens(ctx context.Context, accountID string, reserved, actual int) error {
	return s.repo.Account.Reconcile(ctx, accountID, reserved, actual)
}

func (s *mysqlStore) AccountAPIKey(ctx context.Context, accountID string) (string, error) {
	account, err := s.repo.Account.Get(ctx, accountID)
	if err != nil {
		return "", err
	}
	if account == nil {
		return "", fmt.Errorf("account not found: %s", accountID)
	}
	if account.APIKeySealed == "" {
		return "", nil
	}
	if s.sealer == nil {
		return "", fmt.Errorf("credential key not configured, cannot open key for account %s", accountID)
	}
	return s.sealer.Open(account.APIKeySealed)
}

func (s *mysqlStore) ListStaleAssigned(ctx context.Context, cutoff time.Time, limit int) ([]*model.TaskAssignment, error) {
	rows, err := s.repo.Assignment.ListStaleAssigned(ctx, cutoff, limit)
	if err != nil {
		return nil, err
	}
	return mysql.ToAssignmentDomainList(rows), nil
}

func (s *mysqlStore) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*model.Task, error) {
	rows, err := s.repo.Task.ListPendingOlderThan(ctx, cutoff, limit)
	if err != nil {
		return nil, err
	}
	return mysql.ToTaskDomainList(rows), nil
}

func (s *mysqlStore) ListProcessingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*model.Task, error) {
	rows, err := s.repo.Task.ListProcessingOlderThan(ctx, cutoff, limit)
	if err != nil {
		return nil, err
	}
	return mysql.ToTaskDomainList(rows), nil
}

func (s *mysqlStore) ActiveAssignment(ctx context.Context, taskID string) (*model.TaskAssignment, error) {
	row, err := s.repo.Assignment.GetActiveByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return mysql.ToAssignmentDomain(row), nil
}
