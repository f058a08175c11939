package notify

import "errors"

// Domain errors for the notify package.
var (
	// ErrNotFound is returned when a delivery ID does not exist.
	ErrNotFound = errors.New("notify: delivery not found")

	// ErrInvalid is returned for a structurally invalid send request.
	ErrInvalid = errors.New("notify: invalid send request")

	// ErrNotRetryable is returned when retrying a delivery that is not
	// in the failed or timeout state.
	ErrNotRetryable = errors.New("notify: delivery not retryable")

	// ErrIntegrationInactive is returned when the channel's integration
	// is no longer active.
	ErrIntegrationInactive = errors.New("notify: integration not active")

	// ErrChannelUnsupported is returned for a channel with no transport.
	ErrChannelUnsupported = errors.New("notify: unsupported channel")

	// ErrTransportConfig is returned when the channel settings are
	// missing required fields.
	ErrTransportConfig = errors.New("notify: transport misconfigured")
)
