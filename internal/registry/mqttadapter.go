package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/netneural/sync-core/internal/device"
	"github.com/netneural/sync-core/internal/infrastructure/config"
	"github.com/netneural/sync-core/internal/infrastructure/mqtt"
	"github.com/netneural/sync-core/internal/integration"
)

const (
	mqttDefaultPort      = 1883
	mqttDefaultDiscovery = 2 * time.Second
	mqttPublishQoS       = 1
)

// mqttAdapter treats an MQTT broker as a device registry. Devices (or
// their gateways) publish retained state, status and metadata under a
// topic prefix; discovery subscribes to the wildcards and snapshots
// whatever the broker retains.
//
// Required settings: host. Optional: port, username, password, tls,
// topic_prefix, discovery_seconds.
type mqttAdapter struct {
	integrationID string
	cfg           config.MQTTConfig
	topics        mqtt.Topics
	discovery     time.Duration

	mu     sync.Mutex
	client *mqtt.Client
}

func newMQTTAdapter(integ *integration.Integration) (*mqttAdapter, error) {
	host := integ.Settings.String("host")
	if host == "" {
		return nil, fmt.Errorf("%w: mqtt requires host", ErrConfig)
	}

	port := integ.Settings.Int("port")
	if port == 0 {
		port = mqttDefaultPort
	}

	discovery := mqttDefaultDiscovery
	if secs := integ.Settings.Int("discovery_seconds"); secs > 0 {
		discovery = time.Duration(secs) * time.Second
	}

	cfg := config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     host,
			Port:     port,
			ClientID: "netneural-sync-" + integ.ID,
			TLS:      integ.Settings.Bool("tls"),
		},
		Auth: config.MQTTAuthConfig{
			Username: integ.Settings.String("username"),
			Password: integ.Settings.String("password"),
		},
		QoS: mqttPublishQoS,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     30,
		},
	}

	return &mqttAdapter{
		integrationID: integ.ID,
		cfg:           cfg,
		topics:        mqtt.Topics{Prefix: integ.Settings.String("topic_prefix")},
		discovery:     discovery,
	}, nil
}

// connect establishes the broker connection on first use.
func (m *mqttAdapter) connect() (*mqtt.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil && m.client.IsConnected() {
		return m.client, nil
	}

	client, err := mqtt.Connect(m.cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	m.client = client
	return client, nil
}

// Close disconnects from the broker.
func (m *mqttAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil
	}
	err := m.client.Close()
	m.client = nil
	return err
}

// ListDevices snapshots every retained device topic under the prefix.
// The broker delivers retained messages immediately on subscribe; the
// discovery window just gives it time to flush them all.
func (m *mqttAdapter) ListDevices(ctx context.Context, opts ListOptions) (*Page, error) {
	records, err := m.collectRetained(ctx, m.topics.AllDeviceTopics())
	if err != nil {
		return nil, err
	}

	page := &Page{Records: make([]Record, 0, len(records))}
	for _, rec := range records {
		page.Records = append(page.Records, *rec)
	}
	return page, nil
}

// GetDevice snapshots the retained topics of a single device.
func (m *mqttAdapter) GetDevice(ctx context.Context, externalID string) (*Record, error) {
	pattern := m.topics.DeviceState(externalID)
	base := strings.TrimSuffix(pattern, "/state") + "/#"

	records, err := m.collectRetained(ctx, base)
	if err != nil {
		return nil, err
	}
	rec, ok := records[externalID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

// UpsertDevice publishes retained metadata for the device.
func (m *mqttAdapter) UpsertDevice(ctx context.Context, rec *Record) error {
	client, err := m.connect()
	if err != nil {
		return err
	}

	meta := mqttMetaPayload{Name: rec.Name, Tags: rec.Tags}
	if rec.FirmwareVersion != nil {
		meta.FirmwareVersion = *rec.FirmwareVersion
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	if err := client.PublishRetained(m.topics.DeviceMeta(rec.ExternalID), payload); err != nil {
		return fmt.Errorf("%w: publishing metadata: %v", ErrUnavailable, err)
	}
	return nil
}

// UpdateShadow publishes the desired state document for the device.
func (m *mqttAdapter) UpdateShadow(ctx context.Context, externalID string, shadow map[string]any) error {
	client, err := m.connect()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(shadow)
	if err != nil {
		return fmt.Errorf("encoding shadow: %w", err)
	}
	if err := client.PublishRetained(m.topics.DeviceDesired(externalID), payload); err != nil {
		return fmt.Errorf("%w: publishing shadow: %v", ErrUnavailable, err)
	}
	return nil
}

// TestConnection connects to the broker and checks the link.
func (m *mqttAdapter) TestConnection(ctx context.Context) error {
	client, err := m.connect()
	if err != nil {
		return err
	}
	if err := client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// collectRetained subscribes to a pattern, accumulates retained messages
// for the discovery window, then unsubscribes and returns the snapshot.
func (m *mqttAdapter) collectRetained(ctx context.Context, pattern string) (map[string]*Record, error) {
	client, err := m.connect()
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	records := make(map[string]*Record)

	handler := func(topic string, payload []byte) error {
		deviceID := mqtt.DeviceIDFromTopic(topic, m.topics.Prefix)
		if deviceID == "" {
			return nil
		}

		mu.Lock()
		defer mu.Unlock()
		rec, ok := records[deviceID]
		if !ok {
			rec = &Record{
				ExternalID: deviceID,
				Name:       deviceID,
				Status:     device.StatusUnknown,
			}
			records[deviceID] = rec
		}
		applyDevicePayload(rec, topic, payload)
		return nil
	}

	if err := client.Subscribe(pattern, mqttPublishQoS, handler); err != nil {
		return nil, fmt.Errorf("%w: subscribing for discovery: %v", ErrUnavailable, err)
	}
	defer client.Unsubscribe(pattern)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(m.discovery):
	}

	mu.Lock()
	defer mu.Unlock()
	snapshot := make(map[string]*Record, len(records))
	for id, rec := range records {
		cpy := *rec
		snapshot[id] = &cpy
	}
	return snapshot, nil
}

// mqttMetaPayload is the retained metadata document format.
type mqttMetaPayload struct {
	Name            string   `json:"name,omitempty"`
	FirmwareVersion string   `json:"firmware_version,omitempty"`
	Tags            []string `json:"tags,omitempty"`
}

// mqttStatusPayload is the retained status document format. A bare
// "online"/"offline" string payload is also accepted.
type mqttStatusPayload struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// applyDevicePayload folds one retained message into a record based on
// the topic's channel suffix.
func applyDevicePayload(rec *Record, topic string, payload []byte) {
	switch {
	case strings.HasSuffix(topic, "/state"):
		var shadow map[string]any
		if json.Unmarshal(payload, &shadow) == nil {
			rec.Shadow = shadow
		}

	case strings.HasSuffix(topic, "/status"):
		var status mqttStatusPayload
		raw := strings.TrimSpace(string(payload))
		if json.Unmarshal(payload, &status) != nil || status.Status == "" {
			status.Status = strings.Trim(raw, `"`)
		}
		switch status.Status {
		case "online":
			rec.Status = device.StatusOnline
		case "offline":
			rec.Status = device.StatusOffline
		}
		if status.Timestamp != "" {
			if t, err := time.Parse(time.RFC3339, status.Timestamp); err == nil {
				rec.UpdatedAt = t.UTC()
			}
		}

	case strings.HasSuffix(topic, "/meta"):
		var meta mqttMetaPayload
		if json.Unmarshal(payload, &meta) == nil {
			if meta.Name != "" {
				rec.Name = meta.Name
			}
			if meta.FirmwareVersion != "" {
				fw := meta.FirmwareVersion
				rec.FirmwareVersion = &fw
			}
			if len(meta.Tags) > 0 {
				rec.Tags = meta.Tags
			}
		}
	}
}
