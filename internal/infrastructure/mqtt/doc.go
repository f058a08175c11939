// Package mqtt provides MQTT client connectivity for Sync Core.
//
// This package manages:
//   - Connection to an MQTT broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// MQTT-type integrations treat a broker as a device registry: devices
// (or their gateways) publish retained state, status and metadata under
// a configurable topic prefix, and the sync engine reads those retained
// messages to build the remote device catalogue.
//
//	Sync Core ↔ MQTT Broker ↔ Devices / Gateways
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topics := mqtt.Topics{Prefix: "fleet"}
//	err = client.Subscribe(topics.AllDeviceStates(), 1,
//	    func(topic string, payload []byte) error {
//	        // handle retained shadow
//	        return nil
//	    })
package mqtt
