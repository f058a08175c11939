// Package registry provides adapters for external device registries.
//
// An Adapter exposes a uniform view of a vendor registry (Golioth, AWS
// IoT Core, Azure IoT Hub, Google Cloud IoT, or a plain MQTT broker):
// paged device listing, single-device reads, upserts for export runs and
// shadow updates. The sync orchestrator only ever speaks to the Adapter
// interface; vendor quirks stay inside this package.
//
// Adapter errors are normalised onto the package sentinels so callers
// can distinguish fatal conditions (ErrAuth, ErrConfig) from retryable
// ones (ErrUnavailable) with errors.Is().
package registry
