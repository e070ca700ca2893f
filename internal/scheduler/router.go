package scheduler

import (
	"context"
	"errors"

	"genrouter/internal/model"
	"genrouter/pkg/logger"
)

// Selection is a successful routing outcome: the chosen pair and the
// estimate already reserved against the account.
type Selection struct {
	Provider *model.Provider
	Account  *model.ProviderAccount
	Estimate int
}

// Router picks a (provider, account) pair for a task and reserves the token
// estimate in the same motion, so two concurrent routers can never promise
// the same budget twice.
type Router struct {
	store   Store
	retries int
}

// NewRouter creates a router. retries is how many times the candidate list
// is refreshed after the first walk comes up empty-handed.
func NewRouter(store Store, retries int) *Router {
	if retries < 0 {
		retries = 0
	}
	return &Router{store: store, retries: retries}
}

// Route selects the best candidate able to cover the task's estimate and
// reserves against it. Candidates are walked in rank order; losing a
// reservation race just moves on to the next one. When a full walk finds
// nothing, the list is refreshed and walked again up to the retry budget
// in case budgets freed up mid-flight. Returns NoCapacityError when
// routing is impossible, with the reason split between no provider
// matching the task type and all matching providers being over budget.
func (r *Router) Route(ctx context.Context, taskType model.TaskType, contentLength int, exclude map[string]bool) (*Selection, error) {
	estimate := EstimateTokens(taskType, contentLength)

	sawProvider := false
	for attempt := 0; attempt <= r.retries; attempt++ {
		candidates, matched, err := SelectCandidates(ctx, r.store, taskType, estimate, exclude)
		if err != nil {
			return nil, err
		}
		if matched {
			sawProvider = true
		}

		for _, c := range candidates {
			err := r.store.ReserveTokens(ctx, c.Account.ID, estimate)
			if err == nil {
				logger.DebugCtx(ctx, "reserved %d tokens on account %s (provider %s, headroom was %d)",
					estimate, c.Account.ID, c.Provider.ID, c.Headroom)
				return &Selection{Provider: c.Provider, Account: c.Account, Estimate: estimate}, nil
			}
			if errors.Is(err, ErrReservationLost) {
				logger.DebugCtx(ctx, "reservation lost on account %s, trying next candidate", c.Account.ID)
				continue
			}
			return nil, err
		}
	}

	reason := ReasonNoProvider
	if sawProvider {
		reason = ReasonOverBudget
	}
	return nil, &NoCapacityError{TaskType: taskType.String(), Reason: reason}
}
