package mysql

import "context"

// Repository aggregates all MySQL repositories
type Repository struct {
	ds *Datastore

	Task       *TaskRepository
	Provider   *ProviderRepository
	Account    *AccountRepository
	Assignment *AssignmentRepository
}

// NewRepository creates a new MySQL repository with all sub-repositories
func NewRepository(dsn string) (*Repository, error) {
	ds, err := NewDatastore(dsn)
	if err != nil {
		return nil, err
	}

	return &Repository{
		ds:         ds,
		Task:       NewTaskRepository(ds),
		Provider:   NewProviderRepository(ds),
		Account:    NewAccountRepository(ds),
		Assignment: NewAssignmentRepository(ds),
	}, nil
}

// GetDatastore returns the underlying datastore for transaction support
func (r *Repository) GetDatastore() *Datastore {
	return r.ds
}

// ExecTx executes a function within a transaction spanning any of the
// sub-repositories.
func (r *Repository) ExecTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.ds.ExecTx(ctx, fn)
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.ds.Close()
}
