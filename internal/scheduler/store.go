package scheduler

import (
	"context"
	"errors"

	"genrouter/internal/model"
	"genrouter/pkg/store/mysql"
)

// Store is the persistence surface the scheduler needs: list what is in
// rotation and reserve budget atomically.
type Store interface {
	ListActiveProviders(ctx context.Context) ([]*model.Provider, error)
	ListActiveAccounts(ctx context.Context, providerIDs []string) ([]*model.ProviderAccount, error)
	// ReserveTokens atomically charges the estimate against the account.
	// Returns ErrReservationLost when the account no longer has the headroom.
	ReserveTokens(ctx context.Context, accountID string, tokens int) error
}

type mysqlStore struct {
	repo *mysql.Repository
}

// NewMySQLStore adapts the MySQL repositories to the scheduler's store.
func NewMySQLStore(repo *mysql.Repository) Store {
	return &mysqlStore{repo: repo}
}

func (s *mysqlStore) ListActiveProviders(ctx context.Context) ([]*model.Provider, error) {
	rows, err := s.repo.Provider.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	return mysql.ToProviderDomainList(rows), nil
}

func (s *mysqlStore) ListActiveAccounts(ctx context.Context, providerIDs []string) ([]*model.ProviderAccount, error) {
	rows, err := s.repo.Account.ListActiveByProviders(ctx, providerIDs)
	if err != nil {
		return nil, err
	}
	return mysql.ToAccountDomainList(rows), nil
}

func (s *mysqlStore) ReserveTokens(ctx context.Context, accountID string, tokens int) error {
	err := s.repo.Account.Reserve(ctx, accountID, tokens)
	if errors.Is(err, mysql.ErrReservationLost) {
		return ErrReservationLost
	}
	return err
}
