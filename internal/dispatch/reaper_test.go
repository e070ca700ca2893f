package dispatch

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genrouter/internal/model"
	"genrouter/pkg/config"
)

func (s *fakeStore) ListStaleAssigned(ctx context.Context, cutoff time.Time, limit int) ([]*model.TaskAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stale []*model.TaskAssignment
	for _, id := range s.order {
		a := s.assignments[id]
		if a.Status == model.AssignmentStatusAssigned && !a.Test && a.CreatedAt.Before(cutoff) {
			clone := *a
			stale = append(stale, &clone)
		}
	}
	return stale, nil
}

func (s *fakeStore) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*model.Task, error) {
	return s.tasksWhere(func(t *model.Task) bool {
		return t.Status == model.TaskStatusPending && t.CreatedAt.Before(cutoff)
	}), nil
}

func (s *fakeStore) ListProcessingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*model.Task, error) {
	return s.tasksWhere(func(t *model.Task) bool {
		return t.Status == model.TaskStatusProcessing && t.StartedAt != nil && t.StartedAt.Before(cutoff)
	}), nil
}

func (s *fakeStore) tasksWhere(match func(*model.Task) bool) []*model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Task
	for _, t := range s.tasks {
		if match(t) {
			clone := *t
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *fakeStore) ActiveAssignment(ctx context.Context, taskID string) (*model.TaskAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		a := s.assignments[id]
		if a.TaskID == taskID && a.Status == model.AssignmentStatusAssigned {
			clone := *a
			return &clone, nil
		}
	}
	return nil, nil
}

type fakeQueue struct {
	mu        sync.Mutex
	queued    map[string]bool
	conflicts map[string]bool
	enqueued  []string
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{queued: make(map[string]bool), conflicts: make(map[string]bool)}
}

func (q *fakeQueue) EnqueueTask(ctx context.Context, taskID string, priority int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.conflicts[taskID] {
		return asynq.ErrTaskIDConflict
	}
	q.enqueued = append(q.enqueued, taskID)
	q.queued[taskID] = true
	return nil
}

func (q *fakeQueue) TaskQueued(taskID string, priority int) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queued[taskID], nil
}

func (q *fakeQueue) enqueuedIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.enqueued...)
}

func newTestReaper(store *fakeStore, q *fakeQueue) *Reaper {
	cfg := &config.Config{}
	cfg.Reaper.AssignmentTimeout = 300
	return NewReaper(store, q, cfg)
}

func staleTime() time.Time {
	return time.Now().UTC().Add(-10 * time.Minute)
}

func TestReaper_ReapsStaleAssignment(t *testing.T) {
	store := newFakeStore()
	started := staleTime()
	task := pendingTask("task-1", model.TaskTypeCode)
	task.Status = model.TaskStatusProcessing
	task.StartedAt = &started
	store.addTask(task)
	store.addAssignment(&model.TaskAssignment{
		ID: "asg-1", TaskID: "task-1", ProviderID: "prov-a", AccountID: "acct-1",
		Status: model.AssignmentStatusAssigned, Attempt: 1,
		TokensReserved: 900, CreatedAt: staleTime(),
	})

	q := newFakeQueue()
	reaper := newTestReaper(store, q)

	reclaimed, err := reaper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	a := store.assignment(0)
	assert.Equal(t, model.AssignmentStatusFailed, a.Status)
	assert.Contains(t, a.ErrorMessage, "reclaimed after dispatch timeout")
	assert.NotNil(t, a.CompletedAt)

	require.Len(t, store.releases, 1)
	assert.Equal(t, tokenOp{accountID: "acct-1", tokens: 900}, store.releases[0])

	assert.Equal(t, model.TaskStatusPending, store.task("task-1").Status)
	assert.Equal(t, []string{"task-1"}, q.enqueuedIDs())
}

func TestReaper_FreshAssignmentsUntouched(t *testing.T) {
	store := newFakeStore()
	now := time.Now().UTC()
	task := pendingTask("task-1", model.TaskTypeCode)
	task.Status = model.TaskStatusProcessing
	task.StartedAt = &now
	store.addTask(task)
	store.addAssignment(&model.TaskAssignment{
		ID: "asg-1", TaskID: "task-1", ProviderID: "prov-a", AccountID: "acct-1",
		Status: model.AssignmentStatusAssigned, Attempt: 1,
		TokensReserved: 900, CreatedAt: now,
	})

	q := newFakeQueue()
	reclaimed, err := newTestReaper(store, q).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, reclaimed)

	assert.Equal(t, model.AssignmentStatusAssigned, store.assignment(0).Status)
	assert.Equal(t, model.TaskStatusProcessing, store.task("task-1").Status)
	assert.Empty(t, store.releases)
	assert.Empty(t, q.enqueuedIDs())
}

func TestReaper_CancelledTaskNotRequeued(t *testing.T) {
	store := newFakeStore()
	task := pendingTask("task-1", model.TaskTypeCode)
	task.Status = model.TaskStatusCancelled
	store.addTask(task)
	store.addAssignment(&model.TaskAssignment{
		ID: "asg-1", TaskID: "task-1", ProviderID: "prov-a", AccountID: "acct-1",
		Status: model.AssignmentStatusAssigned, Attempt: 1,
		TokensReserved: 400, CreatedAt: staleTime(),
	})

	q := newFakeQueue()
	reclaimed, err := newTestReaper(store, q).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	// The reservation comes back but the cancelled task stays put.
	assert.Equal(t, model.AssignmentStatusFailed, store.assignment(0).Status)
	require.Len(t, store.releases, 1)
	assert.Equal(t, model.TaskStatusCancelled, store.task("task-1").Status)
	assert.Empty(t, q.enqueuedIDs())
}

func TestReaper_ReclaimsClaimedTaskWithoutAssignment(t *testing.T) {
	store := newFakeStore()
	started := staleTime()
	task := pendingTask("task-1", model.TaskTypeImage)
	task.Status = model.TaskStatusProcessing
	task.StartedAt = &started
	store.addTask(task)

	q := newFakeQueue()
	reclaimed, err := newTestReaper(store, q).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	assert.Equal(t, model.TaskStatusPending, store.task("task-1").Status)
	assert.Equal(t, []string{"task-1"}, q.enqueuedIDs())
	assert.Empty(t, store.releases)
}

func TestReaper_ClaimedTaskWithLiveAssignmentLeftAlone(t *testing.T) {
	store := newFakeStore()
	started := staleTime()
	task := pendingTask("task-1", model.TaskTypeImage)
	task.Status = model.TaskStatusProcessing
	task.StartedAt = &started
	store.addTask(task)
	// Assignment is fresh: the attempt is still running, only the task's
	// started_at is old because earlier attempts took their time.
	store.addAssignment(&model.TaskAssignment{
		ID: "asg-1", TaskID: "task-1", ProviderID: "prov-a", AccountID: "acct-1",
		Status: model.AssignmentStatusAssigned, Attempt: 2,
		TokensReserved: 700, CreatedAt: time.Now().UTC(),
	})

	q := newFakeQueue()
	reclaimed, err := newTestReaper(store, q).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, reclaimed)

	assert.Equal(t, model.TaskStatusProcessing, store.task("task-1").Status)
	assert.Empty(t, q.enqueuedIDs())
}

func TestReaper_RequeuesLostPendingTask(t *testing.T) {
	store := newFakeStore()
	lost := pendingTask("task-lost", model.TaskTypePrompt)
	lost.CreatedAt = staleTime()
	store.addTask(lost)
	queuedTask := pendingTask("task-queued", model.TaskTypePrompt)
	queuedTask.CreatedAt = staleTime()
	store.addTask(queuedTask)

	q := newFakeQueue()
	q.queued["task-queued"] = true

	reclaimed, err := newTestReaper(store, q).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)
	assert.Equal(t, []string{"task-lost"}, q.enqueuedIDs())
}

func TestReaper_FreshPendingTaskNotRequeued(t *testing.T) {
	store := newFakeStore()
	store.addTask(pendingTask("task-1", model.TaskTypePrompt))

	q := newFakeQueue()
	reclaimed, err := newTestReaper(store, q).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, reclaimed)
	assert.Empty(t, q.enqueuedIDs())
}

func TestReaper_DuplicateEnqueueTolerated(t *testing.T) {
	store := newFakeStore()
	lost := pendingTask("task-1", model.TaskTypePrompt)
	lost.CreatedAt = staleTime()
	store.addTask(lost)

	q := newFakeQueue()
	// Entry reappears between the queue check and the enqueue.
	q.conflicts["task-1"] = true

	reclaimed, err := newTestReaper(store, q).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, reclaimed)
}

func TestReaper_EmptySweep(t *testing.T) {
	reclaimed, err := newTestReaper(newFakeStore(), newFakeQueue()).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, reclaimed)
}
