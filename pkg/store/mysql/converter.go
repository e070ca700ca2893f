package mysql

import (
	domain "genrouter/internal/model"
	"genrouter/pkg/store/mysql/model"
)

// ToTaskDomain converts MySQL Task to domain Task model
func ToTaskDomain(mysqlTask *model.Task) *domain.Task {
	if mysqlTask == nil {
		return nil
	}

	return &domain.Task{
		ID:            mysqlTask.TaskID,
		Title:         mysqlTask.Title,
		Type:          domain.TaskType(mysqlTask.TaskType),
		Priority:      mysqlTask.Priority,
		Status:        domain.TaskStatus(mysqlTask.Status),
		Payload:       map[string]interface{}(mysqlTask.Payload),
		ContentLength: mysqlTask.ContentLength,
		WebhookURL:    mysqlTask.WebhookURL,
		Output:        mysqlTask.Output,
		ErrorMessage:  mysqlTask.ErrorMessage,
		CreatedAt:     mysqlTask.CreatedAt,
		StartedAt:     mysqlTask.StartedAt,
		CompletedAt:   mysqlTask.CompletedAt,
	}
}

// FromTaskDomain converts domain Task model to MySQL Task
func FromTaskDomain(domainTask *domain.Task) *model.Task {
	if domainTask == nil {
		return nil
	}

	return &model.Task{
		TaskID:        domainTask.ID,
		Title:         domainTask.Title,
		TaskType:      string(domainTask.Type),
		Priority:      domainTask.Priority,
		Status:        string(domainTask.Status),
		Payload:       model.JSONMap(domainTask.Payload),
		ContentLength: domainTask.ContentLength,
		WebhookURL:    domainTask.WebhookURL,
		Output:        domainTask.Output,
		ErrorMessage:  domainTask.ErrorMessage,
		CreatedAt:     domainTask.CreatedAt,
		StartedAt:     domainTask.StartedAt,
		CompletedAt:   domainTask.CompletedAt,
	}
}

// ToProviderDomain converts MySQL Provider to domain Provider model
func ToProviderDomain(mysqlProvider *model.Provider) *domain.Provider {
	if mysqlProvider == nil {
		return nil
	}

	return &domain.Provider{
		ID:         mysqlProvider.ProviderID,
		Name:       mysqlProvider.Name,
		Connector:  mysqlProvider.Connector,
		Endpoint:   mysqlProvider.Endpoint,
		Competency: map[string]int(mysqlProvider.Competency),
		Status:     domain.ActivationStatus(mysqlProvider.Status),
		CreatedAt:  mysqlProvider.CreatedAt,
		UpdatedAt:  mysqlProvider.UpdatedAt,
	}
}

// FromProviderDomain converts domain Provider model to MySQL Provider
func FromProviderDomain(domainProvider *domain.Provider) *model.Provider {
	if domainProvider == nil {
		return nil
	}

	return &model.Provider{
		ProviderID: domainProvider.ID,
		Name:       domainProvider.Name,
		Connector:  domainProvider.Connector,
		Endpoint:   domainProvider.Endpoint,
		Competency: model.CompetencyMap(domainProvider.Competency),
		Status:     string(domainProvider.Status),
		CreatedAt:  domainProvider.CreatedAt,
		UpdatedAt:  domainProvider.UpdatedAt,
	}
}

// ToAccountDomain converts MySQL ProviderAccount to domain ProviderAccount model.
// The sealed credential stays behind in the storage layer.
func ToAccountDomain(mysqlAccount *model.ProviderAccount) *domain.ProviderAccount {
	if mysqlAccount == nil {
		return nil
	}

	return &domain.ProviderAccount{
		ID:         mysqlAccount.AccountID,
		ProviderID: mysqlAccount.ProviderID,
		Label:      mysqlAccount.Label,
		TokenLimit: mysqlAccount.TokenLimit,
		TokenUsed:  mysqlAccount.TokenUsed,
		ResetDate:  mysqlAccount.ResetDate,
		Status:     domain.ActivationStatus(mysqlAccount.Status),
		CreatedAt:  mysqlAccount.CreatedAt,
		UpdatedAt:  mysqlAccount.UpdatedAt,
	}
}

// FromAccountDomain converts domain ProviderAccount model to MySQL ProviderAccount.
// The sealed credential is set separately by the caller.
func FromAccountDomain(domainAccount *domain.ProviderAccount) *model.ProviderAccount {
	if domainAccount == nil {
		return nil
	}

	return &model.ProviderAccount{
		AccountID:  domainAccount.ID,
		ProviderID: domainAccount.ProviderID,
		Label:      domainAccount.Label,
		TokenLimit: domainAccount.TokenLimit,
		TokenUsed:  domainAccount.TokenUsed,
		ResetDate:  domainAccount.ResetDate,
		Status:     string(domainAccount.Status),
		CreatedAt:  domainAccount.CreatedAt,
		UpdatedAt:  domainAccount.UpdatedAt,
	}
}

// ToAssignmentDomain converts MySQL TaskAssignment to domain TaskAssignment model
func ToAssignmentDomain(mysqlAssignment *model.TaskAssignment) *domain.TaskAssignment {
	if mysqlAssignment == nil {
		return nil
	}

	return &domain.TaskAssignment{
		ID:             mysqlAssignment.AssignmentID,
		TaskID:         mysqlAssignment.TaskID,
		ProviderID:     mysqlAssignment.ProviderID,
		AccountID:      mysqlAssignment.AccountID,
		Status:         domain.AssignmentStatus(mysqlAssignment.Status),
		Attempt:        mysqlAssignment.Attempt,
		ErrorMessage:   mysqlAssignment.ErrorMessage,
		TokensReserved: mysqlAssignment.TokensReserved,
		TokensUsed:     mysqlAssignment.TokensUsed,
		Test:           mysqlAssignment.Test,
		CreatedAt:      mysqlAssignment.CreatedAt,
		CompletedAt:    mysqlAssignment.CompletedAt,
	}
}

// FromAssignmentDomain converts domain TaskAssignment model to MySQL TaskAssignment
func FromAssignmentDomain(domainAssignment *domain.TaskAssignment) *model.TaskAssignment {
	if domainAssignment == nil {
		return nil
	}

	return &model.TaskAssignment{
		AssignmentID:   domainAssignment.ID,
		TaskID:         domainAssignment.TaskID,
		ProviderID:     domainAssignment.ProviderID,
		AccountID:      domainAssignment.AccountID,
		Status:         string(domainAssignment.Status),
		Attempt:        domainAssignment.Attempt,
		ErrorMessage:   domainAssignment.ErrorMessage,
		TokensReserved: domainAssignment.TokensReserved,
		TokensUsed:     domainAssignment.TokensUsed,
		Test:           domainAssignment.Test,
		CreatedAt:      domainAssignment.CreatedAt,
		CompletedAt:    domainAssignment.CompletedAt,
	}
}

// Batch conversion helpers

// ToTaskDomainList converts a list of MySQL tasks to domain tasks
func ToTaskDomainList(mysqlTasks []*model.Task) []*domain.Task {
	if mysqlTasks == nil {
		return nil
	}

	domainTasks := make([]*domain.Task, 0, len(mysqlTasks))
	for _, mysqlTask := range mysqlTasks {
		domainTasks = append(domainTasks, ToTaskDomain(mysqlTask))
	}
	return domainTasks
}

// ToProviderDomainList converts a list of MySQL providers to domain providers
func ToProviderDomainList(mysqlProviders []*model.Provider) []*domain.Provider {
	if mysqlProviders == nil {
		return nil
	}

	domainProviders := make([]*domain.Provider, 0, len(mysqlProviders))
	for _, mysqlProvider := range mysqlProviders {
		domainProviders = append(domainProviders, ToProviderDomain(mysqlProvider))
	}
	return domainProviders
}

// ToAccountDomainList converts a list of MySQL accounts to domain accounts
func ToAccountDomainList(mysqlAccounts []*model.ProviderAccount) []*domain.ProviderAccount {
	if mysqlAccounts == nil {
		return nil
	}

	domainAccounts := make([]*domain.ProviderAccount, 0, len(mysqlAccounts))
	for _, mysqlAccount := range mysqlAccounts {
		domainAccounts = append(domainAccounts, ToAccountDomain(mysqlAccount))
	}
	return domainAccounts
}

// ToAssignmentDomainList converts a list of MySQL assignments to domain assignments
func ToAssignmentDomainList(mysqlAssignments []*model.TaskAssignment) []*domain.TaskAssignment {
	if mysqlAssignments == nil {
		return nil
	}

	domainAssignments := make([]*domain.TaskAssignment, 0, len(mysqlAssignments))
	for _, mysqlAssignment := range mysqlAssignments {
		domainAssignments = append(domainAssignments, ToAssignmentDomain(mysqlAssignment))
	}
	return domainAssignments
}
