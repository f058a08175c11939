package sync

import "errors"

// Domain errors for the sync package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, sync.ErrAlreadyRunning) {
//	    // surface 409 to the caller
//	}
var (
	// ErrAlreadyRunning is returned when a run is requested for an
	// integration that already has one in flight.
	ErrAlreadyRunning = errors.New("sync: already running")

	// ErrIntegrationBlocked is returned when the integration's status is
	// error; new manual runs are refused until it is resolved or disabled.
	ErrIntegrationBlocked = errors.New("sync: integration blocked by error status")

	// ErrRunNotFound is returned when a sync run ID does not exist.
	ErrRunNotFound = errors.New("sync: run not found")

	// ErrConflictNotFound is returned when a conflict ID does not exist.
	ErrConflictNotFound = errors.New("sync: conflict not found")

	// ErrConflictResolved is returned when resolving a conflict that is
	// no longer pending.
	ErrConflictResolved = errors.New("sync: conflict already resolved")

	// ErrInvalidOperation is returned for an unrecognised run operation.
	ErrInvalidOperation = errors.New("sync: invalid operation")

	// ErrInvalidChoice is returned when a manual conflict resolution
	// names neither side.
	ErrInvalidChoice = errors.New("sync: invalid resolution choice")
)
