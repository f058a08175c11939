package webhook

import "errors"

// Domain errors for the webhook package.
var (
	// ErrSignatureMismatch is returned when the payload signature does
	// not verify against the integration's webhook secret.
	ErrSignatureMismatch = errors.New("webhook: signature mismatch")

	// ErrNoSecret is returned when the integration has no webhook secret
	// configured; unsigned ingestion is never allowed.
	ErrNoSecret = errors.New("webhook: no webhook secret configured")

	// ErrInvalidPayload is returned when the payload is not a
	// recognisable event document.
	ErrInvalidPayload = errors.New("webhook: invalid payload")

	// ErrEventNotFound is returned when a dedupe key has no stored event.
	ErrEventNotFound = errors.New("webhook: event not found")
)
