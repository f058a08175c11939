// Package integration manages third-party integration records.
//
// An Integration connects an organization to an external system: either a
// device registry (Golioth, AWS IoT Core, Azure IoT Hub, Google Cloud IoT,
// MQTT broker) whose device catalogue is mirrored locally, or a notification
// channel (email, Slack, webhook) used by the dispatcher.
//
// The package provides:
//   - Integration entity with type-specific settings and sync configuration
//   - SQLite-backed repository
//   - Validation of integration and sync configuration
//
// Status lifecycle: integrations are created active, may be disabled by an
// administrator (inactive), and are flipped to error by the sync engine after
// repeated fatal runs. An integration in error blocks new manual runs until
// it is re-enabled.
package integration
