package shared

import "errors"

var (
	// ErrTenantRequired occurs when a request carries no organization scope.
	ErrTenantRequired = errors.New("organization id required")
	// ErrLockHeld occurs when a distributed lock is owned by someone else.
	ErrLockHeld = errors.New("lock already held")
)
