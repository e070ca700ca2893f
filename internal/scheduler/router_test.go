package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genrouter/internal/model"
)

func TestRouter_RoutesToBestCandidate(t *testing.T) {
	store := &mockStore{
		providers: []*model.Provider{
			testProvider("p1", model.StatusActive, map[string]int{"code": 9}),
			testProvider("p2", model.StatusActive, map[string]int{"code": 6}),
		},
		accounts: []*model.ProviderAccount{
			testAccount("a1", "p1", 5000, 0),
			testAccount("a2", "p2", 20000, 0),
		},
	}

	router := NewRouter(store, 1)
	sel, err := router.Route(context.Background(), model.TaskTypeCode, 0, nil)
	require.NoError(t, err)

	assert.Equal(t, "p2", sel.Provider.ID, "larger headroom wins over higher competency")
	assert.Equal(t, "a2", sel.Account.ID)
	assert.Equal(t, 500, sel.Estimate)
	assert.Equal(t, 500, store.accounts[1].TokenUsed, "estimate reserved against the chosen account")
	assert.Equal(t, 0, store.accounts[0].TokenUsed, "other accounts untouched")
}

func TestRouter_FallsThroughOnLostReservation(t *testing.T) {
	store := &mockStore{
		providers: []*model.Provider{
			testProvider("p1", model.StatusActive, map[string]int{"code": 9}),
			testProvider("p2", model.StatusActive, map[string]int{"code": 6}),
		},
		accounts: []*model.ProviderAccount{
			testAccount("a1", "p1", 20000, 0),
			testAccount("a2", "p2", 10000, 0),
		},
	}

	// First candidate loses its reservation race, second succeeds.
	calls := []string{}
	store.reserveFunc = func(ctx context.Context, accountID string, tokens int) error {
		calls = append(calls, accountID)
		if accountID == "a1" {
			return ErrReservationLost
		}
		return nil
	}

	router := NewRouter(store, 0)
	sel, err := router.Route(context.Background(), model.TaskTypeCode, 0, nil)
	require.NoError(t, err)

	assert.Equal(t, "a2", sel.Account.ID)
	assert.Equal(t, []string{"a1", "a2"}, calls, "candidates attempted in rank order")
}

func TestRouter_NoProviderReason(t *testing.T) {
	store := &mockStore{
		providers: []*model.Provider{
			testProvider("p1", model.StatusActive, map[string]int{"image": 9}),
		},
		accounts: []*model.ProviderAccount{
			testAccount("a1", "p1", 100000, 0),
		},
	}

	router := NewRouter(store, 1)
	_, err := router.Route(context.Background(), model.TaskTypeMeeting, 0, nil)
	require.Error(t, err)
	require.True(t, IsNoCapacity(err))

	var nc *NoCapacityError
	require.True(t, errors.As(err, &nc))
	assert.Equal(t, ReasonNoProvider, nc.Reason)
	assert.Equal(t, "meeting", nc.TaskType)
}

func TestRouter_OverBudgetReason(t *testing.T) {
	store := &mockStore{
		providers: []*model.Provider{
			testProvider("p1", model.StatusActive, map[string]int{"code": 9}),
		},
		accounts: []*model.ProviderAccount{
			testAccount("a1", "p1", 1000, 900), // headroom 100 < estimate 500
		},
	}

	router := NewRouter(store, 1)
	_, err := router.Route(context.Background(), model.TaskTypeCode, 0, nil)
	require.Error(t, err)

	var nc *NoCapacityError
	require.True(t, errors.As(err, &nc))
	assert.Equal(t, ReasonOverBudget, nc.Reason)
}

func TestRouter_ExcludedProvidersLeaveNoCapacity(t *testing.T) {
	store := &mockStore{
		providers: []*model.Provider{
			testProvider("p1", model.StatusActive, map[string]int{"code": 9}),
		},
		accounts: []*model.ProviderAccount{
			testAccount("a1", "p1", 100000, 0),
		},
	}

	router := NewRouter(store, 0)
	_, err := router.Route(context.Background(), model.TaskTypeCode, 0, map[string]bool{"p1": true})
	require.Error(t, err)

	// The only capable provider already failed this task, so from the
	// router's view nothing matches anymore.
	var nc *NoCapacityError
	require.True(t, errors.As(err, &nc))
	assert.Equal(t, ReasonNoProvider, nc.Reason)
}

func TestRouter_RefreshFindsFreedCapacity(t *testing.T) {
	store := &mockStore{
		providers: []*model.Provider{
			testProvider("p1", model.StatusActive, map[string]int{"code": 9}),
		},
		accounts: []*model.ProviderAccount{
			testAccount("a1", "p1", 1000, 0),
		},
	}

	// Every candidate walk fails its reservation; after the first full
	// walk a release frees budget and the refreshed walk succeeds.
	walks := 0
	store.reserveFunc = func(ctx context.Context, accountID string, tokens int) error {
		walks++
		if walks == 1 {
			return ErrReservationLost
		}
		return nil
	}

	router := NewRouter(store, 1)
	sel, err := router.Route(context.Background(), model.TaskTypeCode, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, "a1", sel.Account.ID)
	assert.Equal(t, 2, walks)
}

func TestRouter_NoRefreshWhenRetriesZero(t *testing.T) {
	store := &mockStore{
		providers: []*model.Provider{
			testProvider("p1", model.StatusActive, map[string]int{"code": 9}),
		},
		accounts: []*model.ProviderAccount{
			testAccount("a1", "p1", 1000, 0),
		},
	}

	attempts := 0
	store.reserveFunc = func(ctx context.Context, accountID string, tokens int) error {
		attempts++
		return ErrReservationLost
	}

	router := NewRouter(store, 0)
	_, err := router.Route(context.Background(), model.TaskTypeCode, 0, nil)
	require.Error(t, err)
	assert.Equal(t, 1, attempts)

	var nc *NoCapacityError
	require.True(t, errors.As(err, &nc))
	assert.Equal(t, ReasonOverBudget, nc.Reason)
}

func TestRouter_PropagatesStoreErrors(t *testing.T) {
	store := &mockStore{
		providers: []*model.Provider{
			testProvider("p1", model.StatusActive, map[string]int{"code": 9}),
		},
		accounts: []*model.ProviderAccount{
			testAccount("a1", "p1", 1000, 0),
		},
	}

	dbErr := errors.New("connection reset")
	store.reserveFunc = func(ctx context.Context, accountID string, tokens int) error {
		return dbErr
	}

	router := NewRouter(store, 1)
	_, err := router.Route(context.Background(), model.TaskTypeCode, 0, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, dbErr)
	assert.False(t, IsNoCapacity(err))
}

func TestRouter_ConcurrentReservationsNeverOversubscribe(t *testing.T) {
	// Budget for exactly one task; two sequential routes simulate the
	// interleaving where both saw the same snapshot.
	store := &mockStore{
		providers: []*model.Provider{
			testProvider("p1", model.StatusActive, map[string]int{"code": 9}),
		},
		accounts: []*model.ProviderAccount{
			testAccount("a1", "p1", 500, 0),
		},
	}

	router := NewRouter(store, 0)

	sel1, err1 := router.Route(context.Background(), model.TaskTypeCode, 0, nil)
	require.NoError(t, err1)
	assert.Equal(t, 500, sel1.Estimate)

	_, err2 := router.Route(context.Background(), model.TaskTypeCode, 0, nil)
	require.Error(t, err2)
	require.True(t, IsNoCapacity(err2))
	assert.Equal(t, 500, store.accounts[0].TokenUsed, "budget charged exactly once")
}
