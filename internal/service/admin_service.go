package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"genrouter/internal/dispatch"
	"genrouter/internal/model"
	"genrouter/internal/scheduler"
	"genrouter/pkg/connector"
	"genrouter/pkg/logger"
	"genrouter/pkg/secrets"
	"genrouter/pkg/store/mysql"
)

var (
	// ErrProviderNotFound means the provider ID matches no row.
	ErrProviderNotFound = errors.New("provider not found")
	// ErrAccountNotFound means the account ID matches no row.
	ErrAccountNotFound = errors.New("account not found")
)

// competencyMax is the top of the competency scale.
const competencyMax = 10

// AdminService manages providers and their metered accounts.
type AdminService struct {
	providerRepo *mysql.ProviderRepository
	accountRepo  *mysql.AccountRepository
	sealer       *secrets.Sealer
	schedStore   scheduler.Store
	dispatcher   *dispatch.Dispatcher
}

// NewAdminService creates a new admin service. The sealer protects account
// credentials at rest; the scheduler store backs routing previews.
func NewAdminService(providerRepo *mysql.ProviderRepository, accountRepo *mysql.AccountRepository, sealer *secrets.Sealer, schedStore scheduler.Store, dispatcher *dispatch.Dispatcher) *AdminService {
	return &AdminService{
		providerRepo: providerRepo,
		accountRepo:  accountRepo,
		sealer:       sealer,
		schedStore:   schedStore,
		dispatcher:   dispatcher,
	}
}

// AddProvider registers a provider with its competency map.
func (s *AdminService) AddProvider(ctx context.Context, req *model.AddProviderRequest) (*model.ProviderView, error) {
	connectorName := strings.ToLower(strings.TrimSpace(req.Connector))
	if !connector.Known(connectorName) {
		return nil, fmt.Errorf("%w: unsupported connector type: %s", ErrInvalidRequest, req.Connector)
	}
	if err := validateCompetency(req.Competency); err != nil {
		return nil, err
	}

	existing, err := s.providerRepo.GetByName(ctx, req.Name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: provider %s already exists", ErrInvalidRequest, req.Name)
	}

	now := time.Now().UTC()
	provider := &model.Provider{
		ID:         uuid.New().String(),
		Name:       req.Name,
		Connector:  connectorName,
		Endpoint:   req.Endpoint,
		Competency: req.Competency,
		Status:     model.StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.providerRepo.Create(ctx, mysql.FromProviderDomain(provider)); err != nil {
		return nil, fmt.Errorf("failed to save provider: %w", err)
	}

	logger.InfoCtx(ctx, "provider registered, provider_id: %s, name: %s, connector: %s", provider.ID, provider.Name, provider.Connector)
	return providerView(provider, nil), nil
}

// GetProvider returns a provider with its accounts.
func (s *AdminService) GetProvider(ctx context.Context, providerID string) (*model.ProviderView, error) {
	row, err := s.providerRepo.Get(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrProviderNotFound
	}

	accountRows, err := s.accountRepo.ListByProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	return providerView(mysql.ToProviderDomain(row), mysql.ToAccountDomainList(accountRows)), nil
}

// ListProviders returns all providers with their accounts.
func (s *AdminService) ListProviders(ctx context.Context) ([]*model.ProviderView, error) {
	rows, err := s.providerRepo.List(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]*model.ProviderView, 0, len(rows))
	for _, row := range rows {
		provider := mysql.ToProviderDomain(row)
		accountRows, err := s.accountRepo.ListByProvider(ctx, provider.ID)
		if err != nil {
			return nil, err
		}
		views = append(views, providerView(provider, mysql.ToAccountDomainList(accountRows)))
	}
	return views, nil
}

// ListFallbackProviders returns active providers that declare competency
// for the task type, best first, so an operator can see who could take
// over when the excluded provider is unavailable. Any non-zero score
// qualifies; headroom is not consulted here, route previews cover that.
func (s *AdminService) ListFallbackProviders(ctx context.Context, taskType, excludeProviderID string) ([]*model.ProviderView, error) {
	tt := model.TaskType(taskType)
	if !tt.Valid() {
		return nil, fmt.Errorf("%w: unsupported task type: %s", ErrInvalidRequest, taskType)
	}

	rows, err := s.providerRepo.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	providers := make([]*model.Provider, 0, len(rows))
	for _, row := range rows {
		provider := mysql.ToProviderDomain(row)
		if provider.ID == excludeProviderID {
			continue
		}
		if provider.Competency[taskType] <= 0 {
			continue
		}
		providers = append(providers, provider)
	}

	sort.Slice(providers, func(i, j int) bool {
		if providers[i].Competency[taskType] != providers[j].Competency[taskType] {
			return providers[i].Competency[taskType] > providers[j].Competency[taskType]
		}
		return providers[i].Name < providers[j].Name
	})

	views := make([]*model.ProviderView, 0, len(providers))
	for _, provider := range providers {
		views = append(views, providerView(provider, nil))
	}
	return views, nil
}

// SetProviderStatus moves a provider in or out of the routing pool. Tasks
// already dispatched to it finish; new routing skips it immediately.
func (s *AdminService) SetProviderStatus(ctx context.Context, providerID, status string) error {
	if err := validateStatus(status); err != nil {
		return err
	}
	row, err := s.providerRepo.Get(ctx, providerID)
	if err != nil {
		return err
	}
	if row == nil {
		return ErrProviderNotFound
	}

	if err := s.providerRepo.UpdateStatus(ctx, providerID, status); err != nil {
		return err
	}
	logger.InfoCtx(ctx, "provider %s status set to %s", providerID, status)
	return nil
}

// DeleteProvider removes a provider that has no accounts left.
func (s *AdminService) DeleteProvider(ctx context.Context, providerID string) error {
	row, err := s.providerRepo.Get(ctx, providerID)
	if err != nil {
		return err
	}
	if row == nil {
		return ErrProviderNotFound
	}

	accounts, err := s.accountRepo.ListByProvider(ctx, providerID)
	if err != nil {
		return err
	}
	if len(accounts) > 0 {
		return fmt.Errorf("%w: provider %s still has %d account(s), delete them first", ErrInvalidRequest, providerID, len(accounts))
	}

	if err := s.providerRepo.Delete(ctx, providerID); err != nil {
		return err
	}
	logger.InfoCtx(ctx, "provider deleted, provider_id: %s", providerID)
	return nil
}

// AddAccount creates a metered account under a provider. The api key is
// sealed before it is stored and never appears in logs or responses.
func (s *AdminService) AddAccount(ctx context.Context, req *model.AddAccountRequest) (*model.AccountView, error) {
	providerRow, err := s.providerRepo.Get(ctx, req.ProviderID)
	if err != nil {
		return nil, err
	}
	if providerRow == nil {
		return nil, ErrProviderNotFound
	}

	if req.TokenLimit <= 0 {
		return nil, fmt.Errorf("%w: token_limit must be positive", ErrInvalidRequest)
	}

	var resetDate *time.Time
	if req.ResetDate != "" {
		parsed, err := time.Parse(time.RFC3339, req.ResetDate)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid reset_date %q, want RFC3339", ErrInvalidRequest, req.ResetDate)
		}
		utc := parsed.UTC()
		resetDate = &utc
	}

	if s.sealer == nil {
		return nil, fmt.Errorf("credential key not configured, cannot store account keys")
	}
	sealed, err := s.sealer.Seal(req.APIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to seal api key: %w", err)
	}

	now := time.Now().UTC()
	account := &model.ProviderAccount{
		ID:         uuid.New().String(),
		ProviderID: req.ProviderID,
		Label:      req.Label,
		TokenLimit: req.TokenLimit,
		TokenUsed:  0,
		ResetDate:  resetDate,
		Status:     model.StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	row := mysql.FromAccountDomain(account)
	row.APIKeySealed = sealed
	if err := s.accountRepo.Create(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to save account: %w", err)
	}

	logger.InfoCtx(ctx, "account added, account_id: %s, provider_id: %s, token_limit: %d", account.ID, req.ProviderID, req.TokenLimit)
	view := accountView(account)
	return &view, nil
}

// UpdateAccount adjusts account metadata. Nil fields stay as they are; an
// empty reset_date clears the date so the account never resets on its own.
func (s *AdminService) UpdateAccount(ctx context.Context, accountID string, req *model.UpdateAccountRequest) (*model.AccountView, error) {
	row, err := s.accountRepo.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrAccountNotFound
	}

	updates := make(map[string]interface{})
	if req.Label != nil {
		updates["label"] = *req.Label
	}
	if req.TokenLimit != nil {
		if *req.TokenLimit <= 0 {
			return nil, fmt.Errorf("%w: token_limit must be positive", ErrInvalidRequest)
		}
		updates["token_limit"] = *req.TokenLimit
	}
	if req.ResetDate != nil {
		if *req.ResetDate == "" {
			updates["reset_date"] = nil
		} else {
			parsed, err := time.Parse(time.RFC3339, *req.ResetDate)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid reset_date %q, want RFC3339", ErrInvalidRequest, *req.ResetDate)
			}
			updates["reset_date"] = parsed.UTC()
		}
	}

	if len(updates) > 0 {
		if err := s.accountRepo.UpdateFields(ctx, accountID, updates); err != nil {
			return nil, err
		}
		row, err = s.accountRepo.Get(ctx, accountID)
		if err != nil {
			return nil, err
		}
	}

	view := accountView(mysql.ToAccountDomain(row))
	return &view, nil
}

// SetAccountStatus moves an account in or out of the reservation pool.
func (s *AdminService) SetAccountStatus(ctx context.Context, accountID, status string) error {
	if err := validateStatus(status); err != nil {
		return err
	}
	row, err := s.accountRepo.Get(ctx, accountID)
	if err != nil {
		return err
	}
	if row == nil {
		return ErrAccountNotFound
	}

	if err := s.accountRepo.UpdateStatus(ctx, accountID, status); err != nil {
		return err
	}
	logger.InfoCtx(ctx, "account %s status set to %s", accountID, status)
	return nil
}

// AdjustUsage records out-of-band token consumption against an account.
// Negative values give tokens back; the ledger floors at zero.
func (s *AdminService) AdjustUsage(ctx context.Context, accountID string, tokens int) error {
	row, err := s.accountRepo.Get(ctx, accountID)
	if err != nil {
		return err
	}
	if row == nil {
		return ErrAccountNotFound
	}

	if err := s.accountRepo.AddUsage(ctx, accountID, tokens); err != nil {
		return err
	}
	logger.InfoCtx(ctx, "account %s usage adjusted by %d tokens", accountID, tokens)
	return nil
}

// ResetAccount zeroes an account's usage immediately, independent of its
// reset schedule.
func (s *AdminService) ResetAccount(ctx context.Context, accountID string) error {
	row, err := s.accountRepo.Get(ctx, accountID)
	if err != nil {
		return err
	}
	if row == nil {
		return ErrAccountNotFound
	}

	if err := s.accountRepo.ResetUsage(ctx, accountID); err != nil {
		return err
	}
	logger.InfoCtx(ctx, "account %s usage reset manually", accountID)
	return nil
}

// DeleteAccount removes an account. In-flight work against it settles via
// the usual release path since reservations reference the account ID only.
func (s *AdminService) DeleteAccount(ctx context.Context, accountID string) error {
	row, err := s.accountRepo.Get(ctx, accountID)
	if err != nil {
		return err
	}
	if row == nil {
		return ErrAccountNotFound
	}

	if err := s.accountRepo.Delete(ctx, accountID); err != nil {
		return err
	}
	logger.InfoCtx(ctx, "account deleted, account_id: %s", accountID)
	return nil
}

// RoutePreview returns the candidates a task of this type would be offered
// to, in routing order, without reserving anything.
func (s *AdminService) RoutePreview(ctx context.Context, taskType string, contentLength int) (*model.RoutePreview, error) {
	tt := model.TaskType(taskType)
	if !tt.Valid() {
		return nil, fmt.Errorf("%w: unsupported task type: %s", ErrInvalidRequest, taskType)
	}

	estimate := scheduler.EstimateTokens(tt, contentLength)
	candidates, matched, err := scheduler.SelectCandidates(ctx, s.schedStore, tt, estimate, nil)
	if err != nil {
		return nil, err
	}

	preview := &model.RoutePreview{
		TaskType:   taskType,
		Estimate:   estimate,
		Candidates: make([]model.CandidateView, 0, len(candidates)),
	}
	for _, c := range candidates {
		preview.Candidates = append(preview.Candidates, model.CandidateView{
			ProviderID:   c.Provider.ID,
			ProviderName: c.Provider.Name,
			AccountID:    c.Account.ID,
			Label:        c.Account.Label,
			Competency:   c.Competency,
			Headroom:     c.Headroom,
		})
	}

	if len(candidates) == 0 {
		if matched {
			preview.Reason = scheduler.ReasonOverBudget
		} else {
			preview.Reason = scheduler.ReasonNoProvider
		}
	}
	return preview, nil
}

// TestDispatch sends a connectivity probe through a specific account of
// the provider, bypassing routing and the token ledger.
func (s *AdminService) TestDispatch(ctx context.Context, providerID string, req *model.TestDispatchRequest) (*model.TestDispatchResult, error) {
	providerRow, err := s.providerRepo.Get(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if providerRow == nil {
		return nil, ErrProviderNotFound
	}

	if req.TaskType != "" && !model.TaskType(req.TaskType).Valid() {
		return nil, fmt.Errorf("%w: unsupported task type: %s", ErrInvalidRequest, req.TaskType)
	}

	accountRow, err := s.accountRepo.Get(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if accountRow == nil {
		return nil, ErrAccountNotFound
	}
	if accountRow.ProviderID != providerID {
		return nil, fmt.Errorf("%w: account %s does not belong to provider %s", ErrInvalidRequest, req.AccountID, providerID)
	}

	return s.dispatcher.TestDispatch(ctx, mysql.ToProviderDomain(providerRow), req)
}

func validateStatus(status string) error {
	if status != model.StatusActive.String() && status != model.StatusInactive.String() {
		return fmt.Errorf("%w: status must be %s or %s", ErrInvalidRequest, model.StatusActive, model.StatusInactive)
	}
	return nil
}

func validateCompetency(competency map[string]int) error {
	if len(competency) == 0 {
		return fmt.Errorf("%w: competency map is required", ErrInvalidRequest)
	}
	for taskType, score := range competency {
		if !model.TaskType(taskType).Valid() {
			return fmt.Errorf("%w: unknown task type in competency map: %s", ErrInvalidRequest, taskType)
		}
		if score < 0 || score > competencyMax {
			return fmt.Errorf("%w: competency score for %s must be between 0 and %d", ErrInvalidRequest, taskType, competencyMax)
		}
	}
	return nil
}

func providerView(provider *model.Provider, accounts []*model.ProviderAccount) *model.ProviderView {
	view := &model.ProviderView{
		ID:         provider.ID,
		Name:       provider.Name,
		Connector:  provider.Connector,
		Endpoint:   provider.Endpoint,
		Competency: provider.Competency,
		Status:     provider.Status.String(),
	}
	for _, account := range accounts {
		view.Accounts = append(view.Accounts, accountView(account))
	}
	return view
}

func accountView(account *model.ProviderAccount) model.AccountView {
	view := model.AccountView{
		ID:         account.ID,
		ProviderID: account.ProviderID,
		Label:      account.Label,
		TokenLimit: account.TokenLimit,
		TokenUsed:  account.TokenUsed,
		Headroom:   account.Headroom(),
		Status:     account.Status.String(),
	}
	if account.ResetDate != nil {
		view.ResetDate = account.ResetDate.Format(time.RFC3339)
	}
	return view
}
