package mqtt

import "fmt"

// Default topic prefix when an integration does not configure one.
const DefaultPrefix = "netneural"

// TopicPrefixSystem is the base for service status topics.
// The LWT and graceful-shutdown messages publish here regardless of
// any per-integration prefix.
const TopicPrefixSystem = "netneural/system"

// Topics provides builders for device registry MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
// Fleet topics follow the scheme: {prefix}/devices/{device_id}/{channel}
//
//	topics := mqtt.Topics{Prefix: "fleet"}
//	stateTopic := topics.DeviceState("sensor-42")
//	// Returns: "fleet/devices/sensor-42/state"
type Topics struct {
	// Prefix is the per-integration topic root. Empty means DefaultPrefix.
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultPrefix
	}
	return t.Prefix
}

// =============================================================================
// Device Topics
// =============================================================================

// DeviceState returns the topic carrying a device's reported shadow.
// Registries publish state retained so late subscribers see the latest value.
func (t Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/devices/%s/state", t.prefix(), deviceID)
}

// DeviceStatus returns the topic carrying a device's connectivity status.
func (t Topics) DeviceStatus(deviceID string) string {
	return fmt.Sprintf("%s/devices/%s/status", t.prefix(), deviceID)
}

// DeviceMeta returns the topic carrying device metadata (name, firmware, tags).
func (t Topics) DeviceMeta(deviceID string) string {
	return fmt.Sprintf("%s/devices/%s/meta", t.prefix(), deviceID)
}

// DeviceDesired returns the topic for pushing desired state to a device.
// Export runs publish here; the device (or its gateway) applies the change.
func (t Topics) DeviceDesired(deviceID string) string {
	return fmt.Sprintf("%s/devices/%s/desired", t.prefix(), deviceID)
}

// =============================================================================
// Wildcard Patterns (for subscriptions)
// =============================================================================

// AllDeviceStates returns the pattern matching every device's state topic.
func (t Topics) AllDeviceStates() string {
	return fmt.Sprintf("%s/devices/+/state", t.prefix())
}

// AllDeviceStatus returns the pattern matching every device's status topic.
func (t Topics) AllDeviceStatus() string {
	return fmt.Sprintf("%s/devices/+/status", t.prefix())
}

// AllDeviceMeta returns the pattern matching every device's metadata topic.
func (t Topics) AllDeviceMeta() string {
	return fmt.Sprintf("%s/devices/+/meta", t.prefix())
}

// AllDeviceTopics returns the pattern matching everything under the prefix.
func (t Topics) AllDeviceTopics() string {
	return fmt.Sprintf("%s/devices/#", t.prefix())
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the service online/offline status topic.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// DeviceIDFromTopic extracts the device segment from a fleet topic.
// Returns "" when the topic does not match {prefix}/devices/{id}/{channel}.
func DeviceIDFromTopic(topic, prefix string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	want := prefix + "/devices/"
	if len(topic) <= len(want) || topic[:len(want)] != want {
		return ""
	}
	rest := topic[len(want):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i]
		}
	}
	return ""
}
