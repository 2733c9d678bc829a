// Package mqtt provides MQTT client connectivity for the BLE bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// The bridge uses MQTT as its only external surface: command requests
// arrive on <namespace>/+/commands, and scan results, characteristic data,
// and errors are published back under the same namespace. The broker
// decouples the bridge from every consumer.
//
//	Automation / Consumers ↔ MQTT Broker ↔ BLE Bridge ↔ Radio
//
// # Security Considerations
//
//   - TLS is recommended for non-local brokers (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Performance Characteristics
//
//   - Connection: <1 second to local broker
//   - Publish latency: <10ms for QoS 1 to local broker
//   - Reconnect: Exponential backoff 1s-60s
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, "ble")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to all command topics
//	err = client.Subscribe("ble/+/commands", 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish a characteristic reading
//	client.Publish("ble/livingroom_sensor/data/battery", []byte(`[90]`), 1, true)
package mqtt
