package scheduler

import (
	"errors"
	"fmt"
)

// NoCapacity reasons, surfaced to callers and audit logs.
const (
	ReasonNoProvider = "no matching provider"
	ReasonOverBudget = "all matching providers over budget"
)

// ErrReservationLost indicates a candidate account could not be reserved:
// a concurrent reservation took the headroom or the account dropped out of
// rotation between listing and reserving.
var ErrReservationLost = errors.New("reservation lost")

// NoCapacityError means routing found no account able to take the task.
// Reason distinguishes a competency gap from exhausted budgets so callers
// can decide between failing fast and backing off.
type NoCapacityError struct {
	TaskType string
	Reason   string
}

func (e *NoCapacityError) Error() string {
	return fmt.Sprintf("no capacity for task type %s: %s", e.TaskType, e.Reason)
}

// IsNoCapacity reports whether err is a NoCapacityError.
func IsNoCapacity(err error) bool {
	var nc *NoCapacityError
	return errors.As(err, &nc)
}

// AsNoCapacity unwraps err into a NoCapacityError if it is one.
func AsNoCapacity(err error) (*NoCapacityError, bool) {
	var nc *NoCapacityError
	if errors.As(err, &nc) {
		return nc, true
	}
	return nil, false
}
