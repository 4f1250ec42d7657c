//go:build integration

package mqtt

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-lutron/internal/infrastructure/config"
)

// Integration tests for broker round-trips and reconnection behaviour.
// These require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//
//	go test -tags=integration -count=1 -v ./internal/infrastructure/mqtt/...
func integrationConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "graylogic-lutron-integration",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	client, err := Connect(integrationConfig(), nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	var received atomic.Int32
	topic := "graylogic/state/lutron/integration-test"

	err = client.Subscribe(topic, 1, func(_ string, payload []byte) error {
		if string(payload) == `{"level":50}` {
			received.Add(1)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := client.Publish(topic, []byte(`{"level":50}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	deadline := time.After(5 * time.Second)
	for received.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("message not received within 5s")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestLWTRegistered(t *testing.T) {
	will := &LWT{
		Topic:    "graylogic/health/lutron",
		Payload:  []byte(`{"status":"offline"}`),
		QoS:      1,
		Retained: true,
	}

	client, err := Connect(integrationConfig(), will)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after connect with LWT")
	}
}
