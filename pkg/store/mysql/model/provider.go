package model

import (
	"time"
)

// Provider MySQL model for providers table
type Provider struct {
	ID         int64         `gorm:"primaryKey;autoIncrement" json:"id"`
	ProviderID string        `gorm:"column:provider_id;type:varchar(64);not null;uniqueIndex:idx_provider_id_unique" json:"provider_id"`
	Name       string        `gorm:"column:name;type:varchar(128);not null;uniqueIndex:idx_provider_name_unique" json:"name"`
	Connector  string        `gorm:"column:connector;type:varchar(64);not null" json:"connector"`
	Endpoint   string        `gorm:"column:endpoint;type:varchar(512)" json:"endpoint"`
	Competency CompetencyMap `gorm:"column:competency;type:json" json:"competency"`
	Status     string        `gorm:"column:status;type:varchar(20);not null;index:idx_providers_status" json:"status"`
	CreatedAt  time.Time     `gorm:"column:created_at;type:datetime(3);not null;default:CURRENT_TIMESTAMP(3)" json:"created_at"`
	UpdatedAt  time.Time     `gorm:"column:updated_at;type:datetime(3);not null;default:CURRENT_TIMESTAMP(3)" json:"updated_at"`
}

// TableName specifies the table name for Provider
func (Provider) TableName() string {
	return "providers"
}

// ProviderAccount MySQL model for provider_accounts table. The ledger
// columns token_limit/token_used are only ever mutated through guarded
// UPDATE statements; see AccountRepository.
type ProviderAccount struct {
	ID           int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID    string     `gorm:"column:account_id;type:varchar(64);not null;uniqueIndex:idx_account_id_unique" json:"account_id"`
	ProviderID   string     `gorm:"column:provider_id;type:varchar(64);not null;index:idx_accounts_provider" json:"provider_id"`
	Label        string     `gorm:"column:label;type:varchar(128)" json:"label"`
	APIKeySealed string     `gorm:"column:api_key_sealed;type:text" json:"-"`
	TokenLimit   int        `gorm:"column:token_limit;type:int;not null" json:"token_limit"`
	TokenUsed    int        `gorm:"column:token_used;type:int;not null;default:0" json:"token_used"`
	ResetDate    *time.Time `gorm:"column:reset_date;type:datetime(3);index:idx_accounts_reset_date" json:"reset_date"`
	Status       string     `gorm:"column:status;type:varchar(20);not null;index:idx_accounts_status" json:"status"`
	CreatedAt    time.Time  `gorm:"column:created_at;type:datetime(3);not null;default:CURRENT_TIMESTAMP(3)" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;type:datetime(3);not null;default:CURRENT_TIMESTAMP(3)" json:"updated_at"`
}

// TableName specifies the table name for ProviderAccount
func (ProviderAccount) TableName() string {
	return "provider_accounts"
}
