package registry

import "errors"

// Domain errors for the registry package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, registry.ErrUnavailable) {
//	    // retry later
//	}
var (
	// ErrUnavailable is returned when the remote registry cannot be reached
	// or answers with a server error. The condition is usually transient.
	ErrUnavailable = errors.New("registry: unavailable")

	// ErrAuth is returned when the registry rejects the configured credentials.
	ErrAuth = errors.New("registry: authentication failed")

	// ErrNotFound is returned when a remote device does not exist.
	ErrNotFound = errors.New("registry: device not found")

	// ErrConfig is returned when integration settings are missing or malformed.
	ErrConfig = errors.New("registry: invalid configuration")

	// ErrUnsupported is returned when an integration type has no adapter
	// or an adapter does not implement the requested operation.
	ErrUnsupported = errors.New("registry: operation not supported")

	// ErrRateLimited is returned when the registry throttles the client.
	ErrRateLimited = errors.New("registry: rate limited")
)
