package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genrouter/internal/model"
)

// mockStore emulates the persistence contract in memory, including the
// guarded reservation: ReserveTokens only succeeds while the account is
// active with enough headroom.
type mockStore struct {
	providers []*model.Provider
	accounts  []*model.ProviderAccount

	reserveFunc     func(ctx context.Context, accountID string, tokens int) error
	listProviderErr error
	listAccountErr  error
}

func (m *mockStore) ListActiveProviders(ctx context.Context) ([]*model.Provider, error) {
	if m.listProviderErr != nil {
		return nil, m.listProviderErr
	}
	var out []*model.Provider
	for _, p := range m.providers {
		if p.Active() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockStore) ListActiveAccounts(ctx context.Context, providerIDs []string) ([]*model.ProviderAccount, error) {
	if m.listAccountErr != nil {
		return nil, m.listAccountErr
	}
	ids := make(map[string]bool, len(providerIDs))
	for _, id := range providerIDs {
		ids[id] = true
	}
	var out []*model.ProviderAccount
	for _, a := range m.accounts {
		if a.Active() && ids[a.ProviderID] {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockStore) ReserveTokens(ctx context.Context, accountID string, tokens int) error {
	if m.reserveFunc != nil {
		return m.reserveFunc(ctx, accountID, tokens)
	}
	for _, a := range m.accounts {
		if a.ID == accountID && a.Active() && a.Headroom() >= tokens {
			a.TokenUsed += tokens
			return nil
		}
	}
	return ErrReservationLost
}

func testProvider(id string, status model.ActivationStatus, competency map[string]int) *model.Provider {
	return &model.Provider{
		ID:         id,
		Name:       "provider-" + id,
		Connector:  "openai",
		Competency: competency,
		Status:     status,
	}
}

func testAccount(id, providerID string, limit, used int) *model.ProviderAccount {
	return &model.ProviderAccount{
		ID:         id,
		ProviderID: providerID,
		TokenLimit: limit,
		TokenUsed:  used,
		Status:     model.StatusActive,
	}
}

func TestSelectCandidates_FiltersProviders(t *testing.T) {
	store := &mockStore{
		providers: []*model.Provider{
			testProvider("p-active", model.StatusActive, map[string]int{"code": 8}),
			testProvider("p-inactive", model.StatusInactive, map[string]int{"code": 10}),
			testProvider("p-unskilled", model.StatusActive, map[string]int{"image": 9}),
			testProvider("p-zero", model.StatusActive, map[string]int{"code": 0}),
		},
		accounts: []*model.ProviderAccount{
			testAccount("a-active", "p-active", 10000, 0),
			testAccount("a-inactive", "p-inactive", 10000, 0),
			testAccount("a-unskilled", "p-unskilled", 10000, 0),
			testAccount("a-zero", "p-zero", 10000, 0),
		},
	}

	candidates, matched, err := SelectCandidates(context.Background(), store, model.TaskTypeCode, 500, nil)
	require.NoError(t, err)
	assert.True(t, matched)
	require.Len(t, candidates, 1)
	assert.Equal(t, "p-active", candidates[0].Provider.ID)
	assert.Equal(t, 8, candidates[0].Competency)
}

func TestSelectCandidates_NoMatchingProvider(t *testing.T) {
	store := &mockStore{
		providers: []*model.Provider{
			testProvider("p1", model.StatusActive, map[string]int{"image": 9}),
		},
		accounts: []*model.ProviderAccount{
			testAccount("a1", "p1", 10000, 0),
		},
	}

	candidates, matched, err := SelectCandidates(context.Background(), store, model.TaskTypeMeeting, 1500, nil)
	require.NoError(t, err)
	assert.False(t, matched, "no provider scores meeting above zero")
	assert.Empty(t, candidates)
}

func TestSelectCandidates_HeadroomBoundary(t *testing.T) {
	store := &mockStore{
		providers: []*model.Provider{
			testProvider("p1", model.StatusActive, map[string]int{"code": 5}),
		},
		accounts: []*model.ProviderAccount{
			testAccount("a-exact", "p1", 1000, 500),   // headroom == estimate
			testAccount("a-short", "p1", 1000, 501),   // headroom one below
			testAccount("a-plenty", "p1", 10000, 0),   // lots of headroom
			testAccount("a-negative", "p1", 1000, 1200), // overshot by reconciliation
		},
	}

	candidates, matched, err := SelectCandidates(context.Background(), store, model.TaskTypeCode, 500, nil)
	require.NoError(t, err)
	assert.True(t, matched)
	require.Len(t, candidates, 2)
	assert.Equal(t, "a-plenty", candidates[0].Account.ID)
	assert.Equal(t, "a-exact", candidates[1].Account.ID, "headroom exactly equal to the estimate qualifies")
}

func TestSelectCandidates_InactiveAccountsExcluded(t *testing.T) {
	inactive := testAccount("a-off", "p1", 10000, 0)
	inactive.Status = model.StatusInactive

	store := &mockStore{
		providers: []*model.Provider{
			testProvider("p1", model.StatusActive, map[string]int{"code": 5}),
		},
		accounts: []*model.ProviderAccount{
			inactive,
			testAccount("a-on", "p1", 10000, 0),
		},
	}

	candidates, matched, err := SelectCandidates(context.Background(), store, model.TaskTypeCode, 500, nil)
	require.NoError(t, err)
	assert.True(t, matched)
	require.Len(t, candidates, 1)
	assert.Equal(t, "a-on", candidates[0].Account.ID)
}

func TestSelectCandidates_Ranking(t *testing.T) {
	store := &mockStore{
		providers: []*model.Provider{
			testProvider("p-good", model.StatusActive, map[string]int{"code": 9}),
			testProvider("p-fair", model.StatusActive, map[string]int{"code": 4}),
		},
		accounts: []*model.ProviderAccount{
			testAccount("a1", "p-fair", 20000, 0),  // headroom 20000
			testAccount("a2", "p-good", 10000, 0),  // headroom 10000
			testAccount("a3", "p-fair", 10000, 0),  // headroom 10000, same as a2
			testAccount("a4", "p-good", 5000, 0),   // headroom 5000
		},
	}

	candidates, _, err := SelectCandidates(context.Background(), store, model.TaskTypeCode, 500, nil)
	require.NoError(t, err)
	require.Len(t, candidates, 4)

	// Headroom rules; competency breaks the a2/a3 tie; a4 trails.
	assert.Equal(t, "a1", candidates[0].Account.ID)
	assert.Equal(t, "a2", candidates[1].Account.ID)
	assert.Equal(t, "a3", candidates[2].Account.ID)
	assert.Equal(t, "a4", candidates[3].Account.ID)
}

func TestSelectCandidates_AccountIDBreaksFullTies(t *testing.T) {
	store := &mockStore{
		providers: []*model.Provider{
			testProvider("p1", model.StatusActive, map[string]int{"prompt": 7}),
		},
		accounts: []*model.ProviderAccount{
			testAccount("a-b", "p1", 10000, 0),
			testAccount("a-a", "p1", 10000, 0),
		},
	}

	candidates, _, err := SelectCandidates(context.Background(), store, model.TaskTypePrompt, 300, nil)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "a-a", candidates[0].Account.ID)
	assert.Equal(t, "a-b", candidates[1].Account.ID)
}

func TestSelectCandidates_ExcludeSet(t *testing.T) {
	store := &mockStore{
		providers: []*model.Provider{
			testProvider("p-failed", model.StatusActive, map[string]int{"code": 9}),
			testProvider("p-next", model.StatusActive, map[string]int{"code": 3}),
		},
		accounts: []*model.ProviderAccount{
			testAccount("a1", "p-failed", 50000, 0),
			testAccount("a2", "p-next", 10000, 0),
		},
	}

	exclude := map[string]bool{"p-failed": true}
	candidates, matched, err := SelectCandidates(context.Background(), store, model.TaskTypeCode, 500, exclude)
	require.NoError(t, err)
	assert.True(t, matched)
	require.Len(t, candidates, 1)
	assert.Equal(t, "p-next", candidates[0].Provider.ID)
}

func TestSelectCandidates_StoreErrors(t *testing.T) {
	store := &mockStore{listProviderErr: errors.New("db down")}
	_, _, err := SelectCandidates(context.Background(), store, model.TaskTypeCode, 500, nil)
	assert.Error(t, err)

	store = &mockStore{
		providers:      []*model.Provider{testProvider("p1", model.StatusActive, map[string]int{"code": 5})},
		listAccountErr: errors.New("db down"),
	}
	_, _, err = SelectCandidates(context.Background(), store, model.TaskTypeCode, 500, nil)
	assert.Error(t, err)
}
