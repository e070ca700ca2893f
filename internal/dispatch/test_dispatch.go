package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"genrouter/internal/model"
	"genrouter/internal/scheduler"
	"genrouter/pkg/connector"
	"genrouter/pkg/logger"
)

// TestDispatch exercises one provider account directly: no routing, no
// token reservation, no attempt counting. The call is recorded as a test
// assignment so the account's history shows it, and connector failures
// come back sanitized in the result rather than as an error.
func (d *Dispatcher) TestDispatch(ctx context.Context, provider *model.Provider, req *model.TestDispatchRequest) (*model.TestDispatchResult, error) {
	taskType := model.TaskType(req.TaskType)
	if req.TaskType == "" {
		taskType = model.TaskTypePrompt
	}
	if !taskType.Valid() {
		return nil, fmt.Errorf("unknown task type: %s", req.TaskType)
	}

	payload := req.Payload
	if len(payload) == 0 {
		payload = map[string]interface{}{"prompt": "connectivity test"}
	}

	assignment := &model.TaskAssignment{
		ID:         uuid.New().String(),
		ProviderID: provider.ID,
		AccountID:  req.AccountID,
		Status:     model.AssignmentStatusAssigned,
		Test:       true,
		CreatedAt:  time.Now().UTC(),
	}
	if err := d.store.CreateAssignment(ctx, assignment); err != nil {
		return nil, err
	}

	logger.InfoCtx(ctx, "test dispatch to provider %s (account %s, task type %s)", provider.ID, req.AccountID, taskType)

	selection := &scheduler.Selection{
		Provider: provider,
		Account:  &model.ProviderAccount{ID: req.AccountID},
	}

	start := time.Now()
	result, genErr := d.callProvider(ctx, &model.Task{
		ID:      assignment.ID,
		Type:    taskType,
		Payload: payload,
	}, selection)
	duration := time.Since(start)

	now := time.Now().UTC()

	if genErr != nil {
		failure, ok := connector.AsFailure(genErr)
		if !ok {
			failure = &connector.Failure{Kind: connector.FailureUnknown, Provider: provider.Connector, Message: genErr.Error()}
		}
		sanitized := d.sanitizer.SanitizeFailure(failure)

		if err := d.store.UpdateAssignmentWithStatus(ctx, assignment.ID, model.AssignmentStatusAssigned, map[string]interface{}{
			"status":        model.AssignmentStatusFailed.String(),
			"error_message": sanitized,
			"completed_at":  now,
		}); err != nil {
			logger.WarnCtx(ctx, "failed to record test assignment %s outcome: %v (non-critical, continuing)", assignment.ID, err)
		}

		return &model.TestDispatchResult{
			AssignmentID: assignment.ID,
			Success:      false,
			DurationMS:   duration.Milliseconds(),
			Error:        sanitized,
		}, nil
	}

	if err := d.store.UpdateAssignmentWithStatus(ctx, assignment.ID, model.AssignmentStatusAssigned, map[string]interface{}{
		"status":       model.AssignmentStatusSucceeded.String(),
		"tokens_used":  result.TokensUsed,
		"completed_at": now,
	}); err != nil {
		logger.WarnCtx(ctx, "failed to record test assignment %s outcome: %v (non-critical, continuing)", assignment.ID, err)
	}

	return &model.TestDispatchResult{
		AssignmentID: assignment.ID,
		Success:      true,
		Output:       result.Output,
		TokensUsed:   result.TokensUsed,
		DurationMS:   duration.Milliseconds(),
	}, nil
}
