package dispatch

import (
	"context"
	"time"

	"genrouter/internal/model"
	"genrouter/pkg/config"
	"genrouter/pkg/logger"
	"genrouter/pkg/metrics"
	queue "genrouter/pkg/queue/asynq"
)

const reapBatchSize = 100

// Queue is the view of the dispatch queue the reaper needs to put lost
// tasks back in circulation.
type Queue interface {
	EnqueueTask(ctx context.Context, taskID string, priority int) error
	TaskQueued(taskID string, priority int) (bool, error)
}

// Reaper reclaims dispatch state left behind by crashed workers: assignments
// stuck in assigned, claimed tasks with no assignment, and pending tasks
// whose queue entry vanished.
type Reaper struct {
	store             ReaperStore
	queue             Queue
	assignmentTimeout time.Duration
}

// NewReaper creates a reaper over the dispatch store and queue.
func NewReaper(store ReaperStore, queue Queue, cfg *config.Config) *Reaper {
	timeout := time.Duration(cfg.Reaper.AssignmentTimeout) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Reaper{
		store:             store,
		queue:             queue,
		assignmentTimeout: timeout,
	}
}

// Sweep runs one reclamation pass and returns how many records it touched.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-r.assignmentTimeout)

	reclaimed, err := r.reapStaleAssignments(ctx, cutoff)
	if err != nil {
		return reclaimed, err
	}

	orphans, err := r.reclaimUnassignedTasks(ctx, cutoff)
	reclaimed += orphans
	if err != nil {
		return reclaimed, err
	}

	requeued, err := r.requeueLostTasks(ctx, cutoff)
	reclaimed += requeued
	if err != nil {
		return reclaimed, err
	}

	if reclaimed > 0 {
		logger.InfoCtx(ctx, "reaper pass reclaimed %d record(s)", reclaimed)
	}
	return reclaimed, nil
}

// reapStaleAssignments closes assignments whose worker never came back,
// returns their reservations, and puts the task back in the queue.
func (r *Reaper) reapStaleAssignments(ctx context.Context, cutoff time.Time) (int, error) {
	assignments, err := r.store.ListStaleAssigned(ctx, cutoff, reapBatchSize)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, assignment := range assignments {
		now := time.Now().UTC()
		err := r.store.UpdateAssignmentWithStatus(ctx, assignment.ID, model.AssignmentStatusAssigned, map[string]interface{}{
			"status":        model.AssignmentStatusFailed.String(),
			"error_message": "reclaimed after dispatch timeout",
			"completed_at":  now,
		})
		if err != nil {
			// The dispatcher finished this one between the list and
			// the update. Its reservation is already settled.
			logger.DebugCtx(ctx, "assignment %s closed before reaping: %v", assignment.ID, err)
			continue
		}

		if assignment.TokensReserved > 0 {
			if err := r.store.ReleaseTokens(ctx, assignment.AccountID, assignment.TokensReserved); err != nil {
				logger.WarnCtx(ctx, "failed to release %d tokens for account %s: %v (the monthly reset will square the ledger)",
					assignment.TokensReserved, assignment.AccountID, err)
			}
		}

		reaped++
		metrics.AssignmentsReapedTotal.Inc()
		logger.WarnCtx(ctx, "🚨 reaped stale assignment %s (task %s, provider %s, %d tokens returned)",
			assignment.ID, assignment.TaskID, assignment.ProviderID, assignment.TokensReserved)

		r.requeueClaimedTask(ctx, assignment.TaskID)
	}
	return reaped, nil
}

// reclaimUnassignedTasks rescues tasks a worker claimed and then abandoned
// before it recorded an assignment. They hold no reservation, so going back
// to pending is all it takes.
func (r *Reaper) reclaimUnassignedTasks(ctx context.Context, cutoff time.Time) (int, error) {
	tasks, err := r.store.ListProcessingOlderThan(ctx, cutoff, reapBatchSize)
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, task := range tasks {
		active, err := r.store.ActiveAssignment(ctx, task.ID)
		if err != nil {
			logger.WarnCtx(ctx, "failed to check assignments for task %s: %v", task.ID, err)
			continue
		}
		if active != nil {
			// A live (or soon to be reaped) assignment owns this task.
			continue
		}

		if err := r.store.RequeueTask(ctx, task.ID); err != nil {
			logger.DebugCtx(ctx, "task %s moved on before reclaim: %v", task.ID, err)
			continue
		}

		reclaimed++
		logger.WarnCtx(ctx, "reclaimed task %s stuck in processing with no assignment", task.ID)
		r.enqueue(ctx, task.ID, task.Priority)
	}
	return reclaimed, nil
}

// requeueLostTasks re-enqueues pending tasks whose queue entry disappeared,
// for example when Redis lost data the database kept.
func (r *Reaper) requeueLostTasks(ctx context.Context, cutoff time.Time) (int, error) {
	tasks, err := r.store.ListPendingOlderThan(ctx, cutoff, reapBatchSize)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, task := range tasks {
		queued, err := r.queue.TaskQueued(task.ID, task.Priority)
		if err != nil {
			logger.WarnCtx(ctx, "failed to check queue entry for task %s: %v", task.ID, err)
			continue
		}
		if queued {
			continue
		}

		if r.enqueue(ctx, task.ID, task.Priority) {
			requeued++
			logger.WarnCtx(ctx, "re-enqueued task %s after its queue entry went missing", task.ID)
		}
	}
	return requeued, nil
}

// requeueClaimedTask hands a reaped task back to the queue unless it already
// reached a terminal state.
func (r *Reaper) requeueClaimedTask(ctx context.Context, taskID string) {
	task, err := r.store.GetTask(ctx, taskID)
	if err != nil || task == nil {
		return
	}
	if task.Status != model.TaskStatusProcessing {
		return
	}

	if err := r.store.RequeueTask(ctx, taskID); err != nil {
		logger.DebugCtx(ctx, "task %s moved on before requeue: %v", taskID, err)
		return
	}
	r.enqueue(ctx, taskID, task.Priority)
}

func (r *Reaper) enqueue(ctx context.Context, taskID string, priority int) bool {
	if err := r.queue.EnqueueTask(ctx, taskID, priority); err != nil {
		if queue.IsDuplicateTask(err) {
			logger.DebugCtx(ctx, "task %s already has a queue entry", taskID)
			return false
		}
		logger.WarnCtx(ctx, "failed to enqueue task %s: %v (next sweep will retry)", taskID, err)
		return false
	}
	return true
}
