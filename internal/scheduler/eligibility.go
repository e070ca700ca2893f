package scheduler

import (
	"context"
	"fmt"
	"sort"

	"genrouter/internal/model"
)

// Candidate is one (provider, account) pair able to take a task, with the
// figures the ranking is computed from.
type Candidate struct {
	Provider   *model.Provider
	Account    *model.ProviderAccount
	Competency int
	Headroom   int
}

// SelectCandidates assembles the ranked candidate list for a task type.
//
// Providers must be active, score the task type above zero, and not be in
// the exclude set. Their active accounts qualify when remaining budget
// covers the estimate; an account whose headroom exactly equals the
// estimate still qualifies. Ranking is headroom first (most remaining
// budget spreads load), then competency, then account ID for a stable
// total order.
//
// The second return value reports whether any provider matched at all,
// letting the caller tell a competency gap apart from exhausted budgets.
func SelectCandidates(ctx context.Context, store Store, taskType model.TaskType, estimate int, exclude map[string]bool) ([]Candidate, bool, error) {
	providers, err := store.ListActiveProviders(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list providers: %w", err)
	}

	matched := make(map[string]*model.Provider)
	providerIDs := make([]string, 0, len(providers))
	for _, p := range providers {
		if exclude[p.ID] {
			continue
		}
		if p.CompetencyFor(taskType) <= 0 {
			continue
		}
		matched[p.ID] = p
		providerIDs = append(providerIDs, p.ID)
	}

	if len(providerIDs) == 0 {
		return nil, false, nil
	}

	accounts, err := store.ListActiveAccounts(ctx, providerIDs)
	if err != nil {
		return nil, true, fmt.Errorf("failed to list accounts: %w", err)
	}

	candidates := make([]Candidate, 0, len(accounts))
	for _, a := range accounts {
		p := matched[a.ProviderID]
		if p == nil {
			continue
		}
		headroom := a.Headroom()
		if headroom < estimate {
			continue
		}
		candidates = append(candidates, Candidate{
			Provider:   p,
			Account:    a,
			Competency: p.CompetencyFor(taskType),
			Headroom:   headroom,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Headroom != candidates[j].Headroom {
			return candidates[i].Headroom > candidates[j].Headroom
		}
		if candidates[i].Competency != candidates[j].Competency {
			return candidates[i].Competency > candidates[j].Competency
		}
		return candidates[i].Account.ID < candidates[j].Account.ID
	})

	return candidates, true, nil
}
