package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"genrouter/internal/model"
	"genrouter/internal/scheduler"
	"genrouter/pkg/config"
	"genrouter/pkg/connector"
	"genrouter/pkg/logger"
	"genrouter/pkg/metrics"
	queue "genrouter/pkg/queue/asynq"
)

// Router picks a provider account for a task and reserves its estimate.
type Router interface {
	Route(ctx context.Context, taskType model.TaskType, contentLength int, exclude map[string]bool) (*scheduler.Selection, error)
}

// Connectors hands out provider adapters by connector name.
type Connectors interface {
	Get(name string) (connector.Connector, error)
}

// Notifier delivers terminal-state notifications. Implementations block;
// the dispatcher calls them on their own goroutine.
type Notifier interface {
	TaskFinished(task *model.Task)
}

// Dispatcher runs queued tasks to completion: claim, route, call the
// provider, settle the token ledger, and record the outcome. Provider
// failures consume attempts and re-route to the next eligible provider
// until the attempt budget runs out.
type Dispatcher struct {
	store      Store
	router     Router
	connectors Connectors
	notifier   Notifier
	sanitizer  *connector.Sanitizer

	maxAttempts     int
	dispatchTimeout time.Duration
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(store Store, router Router, connectors Connectors, notifier Notifier, cfg *config.Config) *Dispatcher {
	maxAttempts := cfg.Scheduler.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Dispatcher{
		store:           store,
		router:          router,
		connectors:      connectors,
		notifier:        notifier,
		sanitizer:       connector.NewSanitizer(),
		maxAttempts:     maxAttempts,
		dispatchTimeout: time.Duration(cfg.Queue.DispatchTimeout) * time.Second,
	}
}

// HandleDispatch is the queue handler for task:dispatch messages. A
// NoCapacityError asks the queue for redelivery after the capacity delay;
// once redeliveries run out the task fails with the capacity reason. All
// other outcomes are settled inside Process.
func (d *Dispatcher) HandleDispatch(ctx context.Context, t *asynq.Task) error {
	var payload queue.DispatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logger.ErrorCtx(ctx, "dropping dispatch message with bad payload: %v", err)
		return fmt.Errorf("bad dispatch payload: %v: %w", err, asynq.SkipRetry)
	}

	err := d.Process(ctx, payload.TaskID)
	if err == nil {
		return nil
	}

	if scheduler.IsNoCapacity(err) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		if retried >= maxRetry {
			logger.WarnCtx(ctx, "task %s out of capacity redeliveries, failing: %v", payload.TaskID, err)
			d.failPendingTask(ctx, payload.TaskID, err.Error())
			return nil
		}
		return err
	}

	return err
}

// Process runs one dispatch cycle for a task.
func (d *Dispatcher) Process(ctx context.Context, taskID string) error {
	task, err := d.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil {
		logger.WarnCtx(ctx, "task %s no longer exists, dropping queue entry", taskID)
		return nil
	}
	if task.Status.Terminal() {
		logger.InfoCtx(ctx, "task %s already %s, nothing to dispatch", taskID, task.Status)
		return nil
	}

	claimed, err := d.store.MarkTaskProcessing(ctx, taskID, time.Now().UTC())
	if err != nil {
		return err
	}
	if !claimed {
		// Someone else owns the task now: cancelled, finished, or stuck
		// in processing from a crashed run the reaper will reclaim.
		current, err := d.store.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if current != nil && current.Status == model.TaskStatusProcessing {
			logger.WarnCtx(ctx, "task %s already processing, leaving it to the reaper", taskID)
		}
		return nil
	}

	priorAttempts, err := d.store.CountAttempts(ctx, taskID)
	if err != nil {
		d.handBack(ctx, taskID)
		return err
	}

	lastError := ""
	attemptsMade := priorAttempts

	for attempt := priorAttempts + 1; attempt <= d.maxAttempts; attempt++ {
		// The task may have been cancelled while a previous attempt ran.
		current, err := d.store.GetTask(ctx, taskID)
		if err != nil {
			d.handBack(ctx, taskID)
			return err
		}
		if current == nil || current.Status != model.TaskStatusProcessing {
			logger.InfoCtx(ctx, "task %s left processing state mid-dispatch, stopping", taskID)
			return nil
		}

		excluded, err := d.store.FailedProviders(ctx, taskID)
		if err != nil {
			d.handBack(ctx, taskID)
			return err
		}

		selection, err := d.router.Route(ctx, task.Type, task.ContentLength, toSet(excluded))
		if err != nil {
			if capErr, ok := scheduler.AsNoCapacity(err); ok {
				metrics.NoCapacityTotal.WithLabelValues(capErr.Reason).Inc()
				if attemptsMade > 0 {
					// Partway through the budget with nowhere left to
					// go. Waiting for capacity would hold the task in
					// limbo, so it fails with the full story.
					d.failTask(ctx, task, fmt.Sprintf("failed after %d attempts, then %s", attemptsMade, err.Error()))
					return nil
				}
				d.handBack(ctx, taskID)
				return err
			}
			d.handBack(ctx, taskID)
			return err
		}

		metrics.TokensReservedTotal.WithLabelValues(selection.Provider.ID).Add(float64(selection.Estimate))

		outcome, sanitized := d.attempt(ctx, task, selection, attempt)
		if outcome == nil {
			return nil
		}
		if !outcome.retryable {
			return outcome.err
		}

		attemptsMade++
		lastError = sanitized
	}

	summary := fmt.Sprintf("failed after %d attempts, last error: %s", attemptsMade, lastError)
	if lastError == "" {
		summary = fmt.Sprintf("failed after %d attempts", attemptsMade)
	}
	d.failTask(ctx, task, summary)
	return nil
}

// attemptOutcome is nil on success. retryable means the loop should move
// on to the next provider; otherwise err is returned to the queue.
type attemptOutcome struct {
	retryable bool
	err       error
}

func (d *Dispatcher) attempt(ctx context.Context, task *model.Task, selection *scheduler.Selection, attempt int) (*attemptOutcome, string) {
	assignment := &model.TaskAssignment{
		ID:             uuid.New().String(),
		TaskID:         task.ID,
		ProviderID:     selection.Provider.ID,
		AccountID:      selection.Account.ID,
		Status:         model.AssignmentStatusAssigned,
		Attempt:        attempt,
		TokensReserved: selection.Estimate,
		CreatedAt:      time.Now().UTC(),
	}

	if err := d.store.CreateAssignment(ctx, assignment); err != nil {
		d.releaseReservation(ctx, selection.Account.ID, selection.Estimate)
		d.handBack(ctx, task.ID)
		return &attemptOutcome{retryable: false, err: err}, ""
	}

	logger.InfoCtx(ctx, "dispatching task %s to provider %s (account %s, attempt %d/%d, reserved %d tokens)",
		task.ID, selection.Provider.ID, selection.Account.ID, attempt, d.maxAttempts, selection.Estimate)

	result, genErr := d.callProvider(ctx, task, selection)
	if genErr == nil {
		d.settleSuccess(ctx, task, selection, assignment, result)
		return nil, ""
	}

	failure, ok := connector.AsFailure(genErr)
	if !ok {
		failure = &connector.Failure{
			Kind:     connector.FailureUnknown,
			Provider: selection.Provider.Connector,
			Message:  genErr.Error(),
		}
	}
	sanitized := d.sanitizer.SanitizeFailure(failure)

	logger.WarnCtx(ctx, "task %s attempt %d on provider %s failed: %s (%s)",
		task.ID, attempt, selection.Provider.ID, failure.Kind, sanitized)
	metrics.DispatchAttemptsTotal.WithLabelValues(selection.Provider.ID, "failed").Inc()

	if err := d.store.UpdateAssignmentWithStatus(ctx, assignment.ID, model.AssignmentStatusAssigned, map[string]interface{}{
		"status":        model.AssignmentStatusFailed.String(),
		"error_message": sanitized,
		"completed_at":  time.Now().UTC(),
	}); err != nil {
		// Lost the assignment race, most likely a cancel or the reaper.
		// Either one released the reservation already.
		logger.WarnCtx(ctx, "assignment %s changed hands mid-attempt: %v", assignment.ID, err)
		return &attemptOutcome{retryable: false, err: nil}, sanitized
	}

	d.releaseReservation(ctx, selection.Account.ID, selection.Estimate)

	return &attemptOutcome{retryable: true}, sanitized
}

// callProvider runs one connector call under the per-attempt timeout.
func (d *Dispatcher) callProvider(ctx context.Context, task *model.Task, selection *scheduler.Selection) (*connector.Result, error) {
	conn, err := d.connectors.Get(selection.Provider.Connector)
	if err != nil {
		return nil, &connector.Failure{
			Kind:     connector.FailureUnknown,
			Provider: selection.Provider.Connector,
			Reason:   "connector_unavailable",
			Message:  err.Error(),
		}
	}

	apiKey, err := d.store.AccountAPIKey(ctx, selection.Account.ID)
	if err != nil {
		return nil, &connector.Failure{
			Kind:     connector.FailureAuth,
			Provider: selection.Provider.Connector,
			Reason:   "credentials_unavailable",
			Message:  err.Error(),
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, d.dispatchTimeout)
	defer cancel()

	start := time.Now()
	result, err := conn.Generate(attemptCtx, &connector.Request{
		TaskID:   task.ID,
		TaskType: task.Type.String(),
		Payload:  task.Payload,
		Endpoint: selection.Provider.Endpoint,
		APIKey:   apiKey,
	})
	metrics.DispatchDurationSeconds.WithLabelValues(selection.Provider.ID).Observe(time.Since(start).Seconds())

	return result, err
}

// settleSuccess records the result: assignment succeeded with actual
// usage, ledger reconciled from estimate to actual, task completed.
func (d *Dispatcher) settleSuccess(ctx context.Context, task *model.Task, selection *scheduler.Selection, assignment *model.TaskAssignment, result *connector.Result) {
	actual := result.TokensUsed
	if actual <= 0 {
		// Provider reported no usage, the estimate stands.
		actual = selection.Estimate
	}

	now := time.Now().UTC()

	if err := d.store.UpdateAssignmentWithStatus(ctx, assignment.ID, model.AssignmentStatusAssigned, map[string]interface{}{
		"status":       model.AssignmentStatusSucceeded.String(),
		"tokens_used":  actual,
		"completed_at": now,
	}); err != nil {
		// The assignment was closed out from under us, a cancel or reaper
		// already released the reservation. Keep the usage on the record
		// for audit and leave the ledger alone.
		logger.WarnCtx(ctx, "result for assignment %s arrived after it was closed: %v", assignment.ID, err)
		if auditErr := d.store.UpdateAssignment(ctx, assignment.ID, map[string]interface{}{
			"tokens_used":   actual,
			"error_message": "result arrived after the assignment was closed",
		}); auditErr != nil {
			logger.WarnCtx(ctx, "failed to record late result on assignment %s: %v (non-critical, continuing)", assignment.ID, auditErr)
		}
		return
	}

	if err := d.store.ReconcileTokens(ctx, selection.Account.ID, selection.Estimate, actual); err != nil {
		logger.WarnCtx(ctx, "failed to reconcile %d reserved to %d actual on account %s: %v (non-critical, continuing)",
			selection.Estimate, actual, selection.Account.ID, err)
	}
	metrics.TokensUsedTotal.WithLabelValues(selection.Provider.ID).Add(float64(actual))
	metrics.DispatchAttemptsTotal.WithLabelValues(selection.Provider.ID, "succeeded").Inc()

	if err := d.store.UpdateTaskWithStatus(ctx, task.ID, model.TaskStatusProcessing, map[string]interface{}{
		"status":       model.TaskStatusCompleted.String(),
		"output":       result.Output,
		"completed_at": now,
	}); err != nil {
		current, getErr := d.store.GetTask(ctx, task.ID)
		if getErr == nil && current != nil && current.Status == model.TaskStatusCancelled {
			// Cancelled while the provider was generating. The work is
			// done and paid for; the record stays on the assignment but
			// the task does not come back to life.
			logger.InfoCtx(ctx, "task %s was cancelled mid-generation, result kept on assignment %s", task.ID, assignment.ID)
			return
		}
		logger.ErrorCtx(ctx, "failed to complete task %s: %v", task.ID, err)
		return
	}

	logger.InfoCtx(ctx, "task %s completed by provider %s, %d tokens used ✅", task.ID, selection.Provider.ID, actual)
	metrics.TasksFinishedTotal.WithLabelValues(task.Type.String(), model.TaskStatusCompleted.String()).Inc()

	task.Status = model.TaskStatusCompleted
	task.Output = result.Output
	task.CompletedAt = &now
	d.notify(task)
}

// failTask moves a processing task to failed with a summary of what
// happened.
func (d *Dispatcher) failTask(ctx context.Context, task *model.Task, summary string) {
	now := time.Now().UTC()
	if err := d.store.UpdateTaskWithStatus(ctx, task.ID, model.TaskStatusProcessing, map[string]interface{}{
		"status":        model.TaskStatusFailed.String(),
		"error_message": summary,
		"completed_at":  now,
	}); err != nil {
		// A cancel won the race; cancelled is just as terminal.
		logger.InfoCtx(ctx, "task %s left processing before it could fail: %v", task.ID, err)
		return
	}

	logger.WarnCtx(ctx, "task %s failed: %s", task.ID, summary)
	metrics.TasksFinishedTotal.WithLabelValues(task.Type.String(), model.TaskStatusFailed.String()).Inc()

	task.Status = model.TaskStatusFailed
	task.ErrorMessage = summary
	task.CompletedAt = &now
	d.notify(task)
}

// failPendingTask fails a task that never got claimed, used when capacity
// redeliveries run out.
func (d *Dispatcher) failPendingTask(ctx context.Context, taskID string, reason string) {
	task, err := d.store.GetTask(ctx, taskID)
	if err != nil || task == nil {
		logger.WarnCtx(ctx, "cannot fail task %s: %v", taskID, err)
		return
	}
	if task.Status.Terminal() {
		return
	}

	now := time.Now().UTC()
	if err := d.store.UpdateTaskWithStatus(ctx, taskID, model.TaskStatusPending, map[string]interface{}{
		"status":        model.TaskStatusFailed.String(),
		"error_message": reason,
		"completed_at":  now,
	}); err != nil {
		logger.WarnCtx(ctx, "failed to fail task %s for capacity: %v", taskID, err)
		return
	}

	metrics.TasksFinishedTotal.WithLabelValues(task.Type.String(), model.TaskStatusFailed.String()).Inc()

	task.Status = model.TaskStatusFailed
	task.ErrorMessage = reason
	task.CompletedAt = &now
	d.notify(task)
}

// handBack returns a claimed task to pending so a redelivery can claim it
// again.
func (d *Dispatcher) handBack(ctx context.Context, taskID string) {
	if err := d.store.RequeueTask(ctx, taskID); err != nil {
		logger.WarnCtx(ctx, "failed to hand task %s back to pending: %v (the reaper will reclaim it)", taskID, err)
	}
}

func (d *Dispatcher) releaseReservation(ctx context.Context, accountID string, tokens int) {
	if err := d.store.ReleaseTokens(ctx, accountID, tokens); err != nil {
		logger.WarnCtx(ctx, "failed to release %d tokens on account %s: %v (the monthly reset will square the ledger)",
			tokens, accountID, err)
	}
}

func (d *Dispatcher) notify(task *model.Task) {
	if d.notifier == nil {
		return
	}
	go d.notifier.TaskFinished(task)
}

func toSet(ids []string) map[string]bool {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
