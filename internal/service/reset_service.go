package service

import (
	"context"
	"fmt"
	"time"

	"genrouter/pkg/logger"
	"genrouter/pkg/metrics"
	"genrouter/pkg/store/mysql"
)

// ResetService zeroes account token ledgers when their monthly reset date
// comes due.
type ResetService struct {
	accountRepo *mysql.AccountRepository
}

// NewResetService creates a new reset service.
func NewResetService(accountRepo *mysql.AccountRepository) *ResetService {
	return &ResetService{accountRepo: accountRepo}
}

// ResetDueLedgers resets every account whose reset date has passed and
// advances the date into the future one calendar month at a time. The update
// is guarded by the old reset date, so concurrent replicas and reruns land at
// most one reset per account per cycle. Accounts without a reset date never
// reset automatically.
func (s *ResetService) ResetDueLedgers(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	accounts, err := s.accountRepo.ListResetDue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list accounts due for reset: %w", err)
	}
	if len(accounts) == 0 {
		return 0, nil
	}

	resets := 0
	for _, account := range accounts {
		if account.ResetDate == nil {
			continue
		}
		oldReset := *account.ResetDate
		newReset := nextResetDate(oldReset, now)

		ok, err := s.accountRepo.ResetLedger(ctx, account.AccountID, oldReset, newReset)
		if err != nil {
			logger.WarnCtx(ctx, "failed to reset ledger for account %s: %v", account.AccountID, err)
			continue
		}
		if !ok {
			logger.DebugCtx(ctx, "account %s was already reset by another instance", account.AccountID)
			continue
		}

		resets++
		metrics.AccountsResetTotal.Inc()
		logger.InfoCtx(ctx, "account %s ledger reset, next reset at %s", account.AccountID, newReset.Format(time.RFC3339))
	}

	if resets > 0 {
		logger.InfoCtx(ctx, "monthly ledger reset complete, %d account(s) reset ✅", resets)
	}
	return resets, nil
}

// nextResetDate advances a reset date month by month until it lands strictly
// after now. A single hop covers the common case; the loop catches up dates
// that sat due for several cycles (downtime, accounts created with dates far
// in the past).
func nextResetDate(oldReset, now time.Time) time.Time {
	next := oldReset.AddDate(0, 1, 0)
	for !next.After(now) {
		next = next.AddDate(0, 1, 0)
	}
	return next
}
