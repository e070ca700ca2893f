package mysql

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"genrouter/pkg/store/mysql/model"
)

// ProviderRepository handles provider persistence in MySQL
type ProviderRepository struct {
	ds *Datastore
}

// NewProviderRepository creates a new provider repository
func NewProviderRepository(ds *Datastore) *ProviderRepository {
	return &ProviderRepository{ds: ds}
}

// Create creates a new provider
func (r *ProviderRepository) Create(ctx context.Context, provider *model.Provider) error {
	return r.ds.DB(ctx).Create(provider).Error
}

// Get retrieves a provider by ID
func (r *ProviderRepository) Get(ctx context.Context, providerID string) (*model.Provider, error) {
	var provider model.Provider
	err := r.ds.DB(ctx).Where("provider_id = ?", providerID).First(&provider).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get provider: %w", err)
	}
	return &provider, nil
}

// GetByName retrieves a provider by its unique name
func (r *ProviderRepository) GetByName(ctx context.Context, name string) (*model.Provider, error) {
	var provider model.Provider
	err := r.ds.DB(ctx).Where("name = ?", name).First(&provider).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get provider by name: %w", err)
	}
	return &provider, nil
}

// List retrieves all providers ordered by creation time
func (r *ProviderRepository) List(ctx context.Context) ([]*model.Provider, error) {
	var providers []*model.Provider
	err := r.ds.DB(ctx).Order("id ASC").Find(&providers).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	return providers, nil
}

// ListActive retrieves all active providers.
// Competency filtering happens in the scheduler because the competency map
// is stored as a JSON column.
func (r *ProviderRepository) ListActive(ctx context.Context) ([]*model.Provider, error) {
	var providers []*model.Provider
	err := r.ds.DB(ctx).Where("status = ?", "active").Order("id ASC").Find(&providers).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active providers: %w", err)
	}
	return providers, nil
}

// UpdateFields updates specific fields of a provider by provider_id
func (r *ProviderRepository) UpdateFields(ctx context.Context, providerID string, updates map[string]interface{}) error {
	result := r.ds.DB(ctx).Model(&model.Provider{}).
		Where("provider_id = ?", providerID).
		Updates(updates)

	if result.Error != nil {
		return fmt.Errorf("failed to update provider: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("provider not found: provider_id=%s", providerID)
	}

	return nil
}

// UpdateStatus sets the activation status of a provider
func (r *ProviderRepository) UpdateStatus(ctx context.Context, providerID string, status string) error {
	return r.UpdateFields(ctx, providerID, map[string]interface{}{"status": status})
}

// Delete deletes a provider
func (r *ProviderRepository) Delete(ctx context.Context, providerID string) error {
	return r.ds.DB(ctx).Where("provider_id = ?", providerID).Delete(&model.Provider{}).Error
}
