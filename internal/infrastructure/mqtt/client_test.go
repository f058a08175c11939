package mqtt

import (
	"context"
	"errors"
	"testing"
)

// These tests exercise everything that does not need a live broker.
// Connection behaviour is covered by the integration suite
// (go test -tags=integration) against a local Mosquitto.

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v, want nil", err)
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	client := &Client{}
	if client.IsConnected() {
		t.Error("IsConnected() = true on zero client, want false")
	}
}

func TestHealthCheckDisconnected(t *testing.T) {
	client := &Client{}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	client := &Client{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := client.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() expected error for cancelled context")
	}
}

func TestPublishValidation(t *testing.T) {
	client := &Client{}

	t.Run("empty topic", func(t *testing.T) {
		err := client.Publish("", []byte("{}"), 1, false)
		if !errors.Is(err, ErrInvalidTopic) {
			t.Errorf("Publish() error = %v, want ErrInvalidTopic", err)
		}
	})

	t.Run("invalid qos", func(t *testing.T) {
		err := client.Publish("fleet/devices/d1/state", []byte("{}"), 3, false)
		if !errors.Is(err, ErrInvalidQoS) {
			t.Errorf("Publish() error = %v, want ErrInvalidQoS", err)
		}
	})

	t.Run("disconnected", func(t *testing.T) {
		err := client.Publish("fleet/devices/d1/state", []byte("{}"), 1, false)
		if !errors.Is(err, ErrNotConnected) {
			t.Errorf("Publish() error = %v, want ErrNotConnected", err)
		}
	})

	t.Run("oversized payload", func(t *testing.T) {
		payload := make([]byte, maxPayloadSize+1)
		err := client.Publish("fleet/devices/d1/state", payload, 1, false)
		if !errors.Is(err, ErrPublishFailed) {
			t.Errorf("Publish() error = %v, want ErrPublishFailed", err)
		}
	})
}

func TestSubscribeValidation(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}
	handler := func(topic string, payload []byte) error { return nil }

	t.Run("empty topic", func(t *testing.T) {
		err := client.Subscribe("", 1, handler)
		if !errors.Is(err, ErrInvalidTopic) {
			t.Errorf("Subscribe() error = %v, want ErrInvalidTopic", err)
		}
	})

	t.Run("nil handler", func(t *testing.T) {
		err := client.Subscribe("fleet/devices/+/state", 1, nil)
		if !errors.Is(err, ErrSubscribeFailed) {
			t.Errorf("Subscribe() error = %v, want ErrSubscribeFailed", err)
		}
	})

	t.Run("disconnected", func(t *testing.T) {
		err := client.Subscribe("fleet/devices/+/state", 1, handler)
		if !errors.Is(err, ErrNotConnected) {
			t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
		}
	})
}

func TestSubscriptionTracking(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}

	if count := client.SubscriptionCount(); count != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", count)
	}
	if client.HasSubscription("fleet/devices/+/state") {
		t.Error("HasSubscription() = true, want false")
	}
}

func TestTopicBuilders(t *testing.T) {
	tests := []struct {
		name     string
		build    func() string
		expected string
	}{
		{
			name:     "device state",
			build:    func() string { return Topics{Prefix: "fleet"}.DeviceState("sensor-42") },
			expected: "fleet/devices/sensor-42/state",
		},
		{
			name:     "device status",
			build:    func() string { return Topics{Prefix: "fleet"}.DeviceStatus("sensor-42") },
			expected: "fleet/devices/sensor-42/status",
		},
		{
			name:     "device meta",
			build:    func() string { return Topics{Prefix: "fleet"}.DeviceMeta("sensor-42") },
			expected: "fleet/devices/sensor-42/meta",
		},
		{
			name:     "device desired",
			build:    func() string { return Topics{Prefix: "fleet"}.DeviceDesired("sensor-42") },
			expected: "fleet/devices/sensor-42/desired",
		},
		{
			name:     "all device states",
			build:    func() string { return Topics{Prefix: "fleet"}.AllDeviceStates() },
			expected: "fleet/devices/+/state",
		},
		{
			name:     "all device status",
			build:    func() string { return Topics{Prefix: "fleet"}.AllDeviceStatus() },
			expected: "fleet/devices/+/status",
		},
		{
			name:     "all device topics",
			build:    func() string { return Topics{Prefix: "fleet"}.AllDeviceTopics() },
			expected: "fleet/devices/#",
		},
		{
			name:     "default prefix",
			build:    func() string { return Topics{}.DeviceState("sensor-42") },
			expected: "netneural/devices/sensor-42/state",
		},
		{
			name:     "system status",
			build:    func() string { return Topics{}.SystemStatus() },
			expected: "netneural/system/status",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.build(); got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestDeviceIDFromTopic(t *testing.T) {
	tests := []struct {
		name   string
		topic  string
		prefix string
		want   string
	}{
		{"state topic", "fleet/devices/sensor-42/state", "fleet", "sensor-42"},
		{"status topic", "fleet/devices/gw-1/status", "fleet", "gw-1"},
		{"default prefix", "netneural/devices/d1/state", "", "d1"},
		{"wrong prefix", "other/devices/d1/state", "fleet", ""},
		{"missing channel", "fleet/devices/d1", "fleet", ""},
		{"unrelated topic", "fleet/system/status", "fleet", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeviceIDFromTopic(tt.topic, tt.prefix); got != tt.want {
				t.Errorf("DeviceIDFromTopic(%q, %q) = %q, want %q", tt.topic, tt.prefix, got, tt.want)
			}
		})
	}
}
