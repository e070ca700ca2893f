package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"genrouter/pkg/store/mysql/model"
)

// ErrReservationLost indicates a reservation UPDATE matched no row: the
// account lost its headroom to a concurrent reservation, was deactivated,
// or no longer exists. Callers move on to the next candidate.
var ErrReservationLost = errors.New("reservation lost: insufficient headroom or account unavailable")

// AccountRepository handles provider account persistence in MySQL.
// All token ledger mutations are single guarded UPDATE statements so that
// concurrent routers cannot oversubscribe an account.
type AccountRepository struct {
	ds *Datastore
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(ds *Datastore) *AccountRepository {
	return &AccountRepository{ds: ds}
}

// Create creates a new provider account
func (r *AccountRepository) Create(ctx context.Context, account *model.ProviderAccount) error {
	return r.ds.DB(ctx).Create(account).Error
}

// Get retrieves an account by ID
func (r *AccountRepository) Get(ctx context.Context, accountID string) (*model.ProviderAccount, error) {
	var account model.ProviderAccount
	err := r.ds.DB(ctx).Where("account_id = ?", accountID).First(&account).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// ListByProvider retrieves all accounts belonging to a provider
func (r *AccountRepository) ListByProvider(ctx context.Context, providerID string) ([]*model.ProviderAccount, error) {
	var accounts []*model.ProviderAccount
	err := r.ds.DB(ctx).
		Where("provider_id = ?", providerID).
		Order("id ASC").
		Find(&accounts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

// ListActiveByProviders retrieves active accounts for the given providers.
// The scheduler computes headroom in memory from the returned rows; the
// actual admission check happens in Reserve.
func (r *AccountRepository) ListActiveByProviders(ctx context.Context, providerIDs []string) ([]*model.ProviderAccount, error) {
	if len(providerIDs) == 0 {
		return []*model.ProviderAccount{}, nil
	}

	var accounts []*model.ProviderAccount
	err := r.ds.DB(ctx).
		Where("provider_id IN ? AND status = ?", providerIDs, "active").
		Order("id ASC").
		Find(&accounts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active accounts: %w", err)
	}
	return accounts, nil
}

// UpdateFields updates specific fields of an account by account_id
func (r *AccountRepository) UpdateFields(ctx context.Context, accountID string, updates map[string]interface{}) error {
	result := r.ds.DB(ctx).Model(&model.ProviderAccount{}).
		Where("account_id = ?", accountID).
		Updates(updates)

	if result.Error != nil {
		return fmt.Errorf("failed to update account: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("account not found: account_id=%s", accountID)
	}

	return nil
}

// UpdateStatus sets the activation status of an account
func (r *AccountRepository) UpdateStatus(ctx context.Context, accountID string, status string) error {
	return r.UpdateFields(ctx, accountID, map[string]interface{}{"status": status})
}

// Reserve atomically reserves tokens against an account's budget.
// The WHERE clause recomputes headroom inside the UPDATE, so the check and
// the increment are one statement and two concurrent reservations can never
// both succeed on the last slice of budget. A reservation that exactly
// consumes the remaining headroom is allowed.
// Returns ErrReservationLost when no row matched.
func (r *AccountRepository) Reserve(ctx context.Context, accountID string, tokens int) error {
	result := r.ds.DB(ctx).Model(&model.ProviderAccount{}).
		Where("account_id = ? AND status = ? AND token_limit - token_used >= ?", accountID, "active", tokens).
		Update("token_used", gorm.Expr("token_used + ?", tokens))

	if result.Error != nil {
		return fmt.Errorf("failed to reserve tokens: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return ErrReservationLost
	}

	return nil
}

// Release returns reserved tokens to an account after a failed or cancelled
// attempt. Usage never goes below zero even if a reset zeroed the counter
// between the reservation and the release.
func (r *AccountRepository) Release(ctx context.Context, accountID string, tokens int) error {
	result := r.ds.DB(ctx).Model(&model.ProviderAccount{}).
		Where("account_id = ?", accountID).
		Update("token_used", gorm.Expr("GREATEST(token_used - ?, 0)", tokens))

	if result.Error != nil {
		return fmt.Errorf("failed to release tokens: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("account not found: account_id=%s", accountID)
	}

	return nil
}

// Reconcile adjusts an account's usage from the reserved estimate to the
// actual consumption reported by the connector. The delta may be negative
// when the task used fewer tokens than estimated; the floor keeps usage
// non-negative either way.
func (r *AccountRepository) Reconcile(ctx context.Context, accountID string, reserved, actual int) error {
	delta := actual - reserved
	if delta == 0 {
		return nil
	}

	result := r.ds.DB(ctx).Model(&model.ProviderAccount{}).
		Where("account_id = ?", accountID).
		Update("token_used", gorm.Expr("GREATEST(token_used + ?, 0)", delta))

	if result.Error != nil {
		return fmt.Errorf("failed to reconcile tokens: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("account not found: account_id=%s", accountID)
	}

	return nil
}

// AddUsage applies a manual usage adjustment. Negative amounts reduce usage
// and the floor keeps the counter non-negative. Unlike Reserve this is not
// admission checked, so usage may exceed the limit afterwards.
func (r *AccountRepository) AddUsage(ctx context.Context, accountID string, tokens int) error {
	result := r.ds.DB(ctx).Model(&model.ProviderAccount{}).
		Where("account_id = ?", accountID).
		Update("token_used", gorm.Expr("GREATEST(token_used + ?, 0)", tokens))

	if result.Error != nil {
		return fmt.Errorf("failed to add usage: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("account not found: account_id=%s", accountID)
	}

	return nil
}

// ListResetDue retrieves accounts whose reset date has arrived.
// Accounts without a reset date never reset automatically.
func (r *AccountRepository) ListResetDue(ctx context.Context, now time.Time) ([]*model.ProviderAccount, error) {
	var accounts []*model.ProviderAccount
	err := r.ds.DB(ctx).
		Where("reset_date IS NOT NULL AND reset_date <= ?", now).
		Order("id ASC").
		Find(&accounts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts due for reset: %w", err)
	}
	return accounts, nil
}

// ResetLedger zeroes an account's usage and advances its reset date, guarded
// by a CAS on the old reset date. If another instance already performed the
// reset the old date no longer matches and this returns false, making the
// sweep idempotent across concurrent runs.
func (r *AccountRepository) ResetLedger(ctx context.Context, accountID string, oldReset, newReset time.Time) (bool, error) {
	result := r.ds.DB(ctx).Model(&model.ProviderAccount{}).
		Where("account_id = ? AND reset_date = ?", accountID, oldReset).
		Updates(map[string]interface{}{
			"token_used": 0,
			"reset_date": newReset,
		})

	if result.Error != nil {
		return false, fmt.Errorf("failed to reset account ledger: %w", result.Error)
	}

	return result.RowsAffected > 0, nil
}

// ResetUsage unconditionally zeroes an account's usage counter.
// This backs the manual admin reset and does not touch the reset date.
func (r *AccountRepository) ResetUsage(ctx context.Context, accountID string) error {
	result := r.ds.DB(ctx).Model(&model.ProviderAccount{}).
		Where("account_id = ?", accountID).
		Update("token_used", 0)

	if result.Error != nil {
		return fmt.Errorf("failed to reset account usage: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("account not found: account_id=%s", accountID)
	}

	return nil
}

// Delete deletes an account
func (r *AccountRepository) Delete(ctx context.Context, accountID string) error {
	return r.ds.DB(ctx).Where("account_id = ?", accountID).Delete(&model.ProviderAccount{}).Error
}
