// Package mqtt provides MQTT client connectivity for the Lutron bridge.
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
// The bridge speaks to the rest of Gray Logic over MQTT. The broker
// decouples the Core from protocol-specific implementations:
//
//	Gray Logic Core ↔ MQTT Broker ↔ Lutron Bridge ↔ Controller
//
// The bridge's health reporter supplies the LWT message so the Core
// learns about a crashed bridge from the broker rather than waiting
// for a health report to go stale.
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, &mqtt.LWT{
//	    Topic:    reporter.GetLWTTopic(),
//	    Payload:  reporter.GetLWTPayload(),
//	    QoS:      1,
//	    Retained: true,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe("graylogic/command/lutron/#", 1,
//	    func(topic string, payload []byte) error {
//	        return handleCommand(topic, payload)
//	    })
package mqtt
