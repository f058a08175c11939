package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrNotFound) {
//	    // handle not found case
//	}
var (
	// ErrNotFound is returned when a device ID does not exist.
	ErrNotFound = errors.New("device: not found")

	// ErrExists is returned when creating a device with an ID that already exists.
	ErrExists = errors.New("device: already exists")

	// ErrExternalIDConflict is returned when an upsert would violate the
	// (organization, external_device_id) uniqueness constraint.
	ErrExternalIDConflict = errors.New("device: external device id already linked")

	// ErrInvalid is returned when device validation fails.
	ErrInvalid = errors.New("device: invalid")

	// ErrStaleWrite is returned when an update carries an older modification
	// timestamp than the stored row and force is not set.
	ErrStaleWrite = errors.New("device: stale write rejected")
)
