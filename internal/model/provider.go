package model

import (
	"time"
)

// ActivationStatus marks providers and accounts in or out of the
// eligibility pool without deleting them.
type ActivationStatus string

const (
	StatusActive   ActivationStatus = "active"
	StatusInactive ActivationStatus = "inactive"
)

func (s ActivationStatus) String() string {
	return string(s)
}

// Provider is a registered content-generation backend. Competency maps
// task type to a 0..10 score; zero means the provider does not serve
// that type at all.
type Provider struct {
	ID         string           `json:"provider_id"`
	Name       string           `json:"name"`
	Connector  string           `json:"connector"` // adapter name in the connector registry
	Endpoint   string           `json:"endpoint,omitempty"`
	Competency map[string]int   `json:"competency"`
	Status     ActivationStatus `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// Active reports whether the provider participates in routing.
func (p *Provider) Active() bool {
	return p.Status == StatusActive
}

// CompetencyFor returns the provider's score for a task type, 0 when unset.
func (p *Provider) CompetencyFor(t TaskType) int {
	if p.Competency == nil {
		return 0
	}
	return p.Competency[string(t)]
}

// ProviderAccount is one metered credential under a provider. TokenUsed
// never goes below zero; it may exceed TokenLimit after reconciliation
// with actual usage, but reservations never push it past the limit.
type ProviderAccount struct {
	ID         string           `json:"account_id"`
	ProviderID string           `json:"provider_id"`
	Label      string           `json:"label,omitempty"`
	TokenLimit int              `json:"token_limit"`
	TokenUsed  int              `json:"token_used"`
	ResetDate  *time.Time       `json:"reset_date,omitempty"`
	Status     ActivationStatus `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// Active reports whether the account can receive reservations.
func (a *ProviderAccount) Active() bool {
	return a.Status == StatusActive
}

// Headroom is the remaining budget. Negative once actuals overshoot the limit.
func (a *ProviderAccount) Headroom() int {
	return a.TokenLimit - a.TokenUsed
}

// AssignmentStatus tracks one dispatch attempt: assigned -> succeeded | failed.
type AssignmentStatus string

const (
	AssignmentStatusAssigned  AssignmentStatus = "assigned"
	AssignmentStatusSucceeded AssignmentStatus = "succeeded"
	AssignmentStatusFailed    AssignmentStatus = "failed"
)

func (s AssignmentStatus) String() string {
	return string(s)
}

// TaskAssignment binds a task to the (provider, account) pair chosen for
// one attempt. A task accumulates assignments across fallbacks; at most
// one is in the assigned state at a time.
type TaskAssignment struct {
	ID             string           `json:"assignment_id"`
	TaskID         string           `json:"task_id"`
	ProviderID     string           `json:"provider_id"`
	AccountID      string           `json:"account_id"`
	Status         AssignmentStatus `json:"status"`
	Attempt        int              `json:"attempt"`
	ErrorMessage   string           `json:"error_message,omitempty"`
	TokensReserved int              `json:"tokens_reserved"`
	TokensUsed     int              `json:"tokens_used"`
	Test           bool             `json:"test,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
}

// AddProviderRequest registers a provider with its competency map.
type AddProviderRequest struct {
	Name       string         `json:"name" binding:"required"`
	Connector  string         `json:"connector" binding:"required"`
	Endpoint   string         `json:"endpoint"`
	Competency map[string]int `json:"competency" binding:"required"`
}

// AddAccountRequest creates a metered account under a provider. The api
// key is sealed before it touches storage and never serialized back out.
type AddAccountRequest struct {
	ProviderID string `json:"provider_id" binding:"required"`
	Label      string `json:"label"`
	APIKey     string `json:"api_key" binding:"required"`
	TokenLimit int    `json:"token_limit" binding:"required"`
	ResetDate  string `json:"reset_date"` // RFC3339, optional
}

// UpdateAccountRequest adjusts account metadata. Nil fields are untouched.
type UpdateAccountRequest struct {
	Label      *string `json:"label"`
	TokenLimit *int    `json:"token_limit"`
	ResetDate  *string `json:"reset_date"` // RFC3339, empty string clears it
}

// StatusRequest toggles a provider or account in or out of rotation.
type StatusRequest struct {
	Status string `json:"status" binding:"required"` // active or inactive
}

// UsageRequest manually adjusts an account ledger, e.g. to record
// out-of-band consumption. Negative values release tokens.
type UsageRequest struct {
	Tokens int `json:"tokens" binding:"required"`
}

// TestDispatchRequest exercises a provider account directly, bypassing
// routing. The ledger is never touched; the attempt is recorded as a
// test assignment.
type TestDispatchRequest struct {
	AccountID string                 `json:"account_id" binding:"required"`
	TaskType  string                 `json:"task_type"`
	Payload   map[string]interface{} `json:"payload"`
}

// TestDispatchResult reports a test dispatch outcome.
type TestDispatchResult struct {
	AssignmentID string `json:"assignment_id"`
	Success      bool   `json:"success"`
	Output       string `json:"output,omitempty"`
	TokensUsed   int    `json:"tokens_used,omitempty"`
	DurationMS   int64  `json:"duration_ms"`
	Error        string `json:"error,omitempty"`
}

// CandidateView is one (provider, account) pair in routing order.
type CandidateView struct {
	ProviderID   string `json:"provider_id"`
	ProviderName string `json:"provider_name"`
	AccountID    string `json:"account_id"`
	Label        string `json:"label,omitempty"`
	Competency   int    `json:"competency"`
	Headroom     int    `json:"headroom"`
}

// RoutePreview shows where a task of the given type would land, in the
// order the router would try. Reason is set when no candidate qualifies.
type RoutePreview struct {
	TaskType   string          `json:"task_type"`
	Estimate   int             `json:"estimate"`
	Candidates []CandidateView `json:"candidates"`
	Reason     string          `json:"reason,omitempty"`
}

// AccountView is the admin-facing account shape. Credentials stay out.
type AccountView struct {
	ID         string `json:"account_id"`
	ProviderID string `json:"provider_id"`
	Label      string `json:"label,omitempty"`
	TokenLimit int    `json:"token_limit"`
	TokenUsed  int    `json:"token_used"`
	Headroom   int    `json:"headroom"`
	ResetDate  string `json:"reset_date,omitempty"`
	Status     string `json:"status"`
}

// ProviderView is the admin-facing provider shape with account summaries.
type ProviderView struct {
	ID         string         `json:"provider_id"`
	Name       string         `json:"name"`
	Connector  string         `json:"connector"`
	Endpoint   string         `json:"endpoint,omitempty"`
	Competency map[string]int `json:"competency"`
	Status     string         `json:"status"`
	Accounts   []AccountView  `json:"accounts,omitempty"`
}
