package integration

import "errors"

// Domain errors for the integration package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, integration.ErrNotFound) {
//	    // handle not found case
//	}
var (
	// ErrNotFound is returned when an integration ID does not exist.
	ErrNotFound = errors.New("integration: not found")

	// ErrExists is returned when creating an integration with an ID that already exists.
	ErrExists = errors.New("integration: already exists")

	// ErrInvalid is returned when integration validation fails.
	ErrInvalid = errors.New("integration: invalid")

	// ErrInvalidType is returned when an integration type is not recognised.
	ErrInvalidType = errors.New("integration: invalid type")

	// ErrInvalidDirection is returned when a sync direction is not recognised.
	ErrInvalidDirection = errors.New("integration: invalid sync direction")

	// ErrInvalidPolicy is returned when a conflict policy is not recognised.
	ErrInvalidPolicy = errors.New("integration: invalid conflict policy")

	// ErrInvalidFrequency is returned when a sync frequency is outside [1, 1440] minutes.
	ErrInvalidFrequency = errors.New("integration: invalid sync frequency")

	// ErrNotRegistry is returned when a sync operation targets an
	// integration that is not a device registry (email, slack, webhook).
	ErrNotRegistry = errors.New("integration: not a device registry")
)
