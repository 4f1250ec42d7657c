package lutron

import (
	"fmt"
	"strconv"
	"time"
)

// MQTT message types for communication between Gray Logic Core and the
// Lutron bridge. These types implement the bridge interface
// specification (docs/architecture/bridge-interface.md).

// ProtocolID identifies this bridge on the wire.
const ProtocolID = "lutron"

// CommandMessage is sent from Core to Bridge to execute a device command.
// Topic: graylogic/command/lutron/{integration_id}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with acknowledgments.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the Gray Logic device identifier.
	DeviceID string `json:"device_id"`

	// Command is the command name: "on", "off", "dim", "raise", "lower",
	// "stop", "press", "release", "scene", "query".
	Command string `json:"command"`

	// Parameters contains command-specific values.
	// Examples:
	//   {"level": 50} for dim
	//   {"level": 50, "fade": 4} for dim with fade time
	//   {"button": 3} for press/release
	//   {"scene": 2} for scene activation
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated.
	// Values: "api", "automation", "voice", "scene"
	Source string `json:"source"`

	// UserID is the user who triggered the command (if applicable).
	UserID string `json:"user_id,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was received and sent to the controller.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the controller did not respond within the timeout.
	AckTimeout AckStatus = "timeout"
)

// AckMessage is sent from Bridge to Core to acknowledge a command.
// Topic: graylogic/ack/lutron/{integration_id}
type AckMessage struct {
	// CommandID is the ID from the original command.
	CommandID string `json:"command_id"`

	// Timestamp is when the acknowledgment was sent (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the Gray Logic device identifier.
	DeviceID string `json:"device_id"`

	// Status indicates the acknowledgment status.
	Status AckStatus `json:"status"`

	// Protocol is the protocol identifier ("lutron").
	Protocol string `json:"protocol"`

	// IntegrationID is the Lutron integration ID the command targeted.
	IntegrationID int `json:"integration_id"`

	// Error contains details if status is "failed" or "timeout".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is the error code (e.g., "CONTROLLER_UNREACHABLE", "INVALID_COMMAND").
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeControllerUnreachable = "CONTROLLER_UNREACHABLE"
	ErrCodeInvalidCommand        = "INVALID_COMMAND"
	ErrCodeInvalidParameters     = "INVALID_PARAMETERS"
	ErrCodeProtocolError         = "PROTOCOL_ERROR"
	ErrCodeTimeout               = "TIMEOUT"
	ErrCodeBridgeError           = "BRIDGE_ERROR"
)

// StateMessage is sent from Bridge to Core when device state changes.
// Topic: graylogic/state/lutron/{integration_id}
// QoS: 1, Retained: Yes
type StateMessage struct {
	// DeviceID is the Gray Logic device identifier.
	DeviceID string `json:"device_id"`

	// Timestamp is when the state was observed (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// State contains the current device state.
	// Structure depends on device type:
	//   Output: {"on": true, "level": 75.0}
	//   Keypad: {"button": 3, "event": "press"}
	State map[string]any `json:"state"`

	// Protocol is the protocol identifier ("lutron").
	Protocol string `json:"protocol"`

	// IntegrationID is the Lutron integration ID that reported the state.
	IntegrationID int `json:"integration_id"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is operating with issues.
	HealthDegraded HealthStatus = "degraded"

	// HealthUnhealthy indicates the bridge is not operating correctly.
	HealthUnhealthy HealthStatus = "unhealthy"

	// HealthOffline indicates the bridge is not connected (from LWT).
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is sent from Bridge to Core to report operational status.
// Topic: graylogic/health/lutron
// QoS: 1, Retained: Yes
type HealthMessage struct {
	// Bridge is the bridge identifier ("lutron").
	Bridge string `json:"bridge"`

	// Timestamp is when the health status was generated (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Status indicates the current operational status.
	Status HealthStatus `json:"status"`

	// Version is the bridge software version.
	Version string `json:"version"`

	// UptimeSeconds is how long the bridge has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// Connection contains controller connection details.
	Connection *ConnectionStatus `json:"connection,omitempty"`

	// Statistics contains operational metrics.
	Statistics *BridgeStatistics `json:"statistics,omitempty"`

	// DevicesManaged is the number of nodes in the device model.
	DevicesManaged int `json:"devices_managed"`

	// Reason explains the status (especially for offline/degraded).
	Reason string `json:"reason,omitempty"`
}

// ConnectionStatus describes the controller connection state.
type ConnectionStatus struct {
	// Status is the connection status ("ready", "connecting",
	// "authenticating", "disconnected").
	Status string `json:"status"`

	// Address is the controller address.
	Address string `json:"address"`

	// LastActivity is when the controller last sent or received a line.
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// BridgeStatistics contains operational metrics.
type BridgeStatistics struct {
	// LinesReceived is the total number of feedback lines received.
	LinesReceived uint64 `json:"lines_received"`

	// LinesSent is the total number of command lines sent.
	LinesSent uint64 `json:"lines_sent"`

	// Errors is the total number of errors encountered.
	Errors uint64 `json:"errors"`

	// Reconnects is the total number of successful reconnections.
	Reconnects uint64 `json:"reconnects"`
}

// DiscoveryMessage is sent from Bridge to Core to announce the devices
// found in the controller's integration report.
// Topic: graylogic/discovery/lutron
type DiscoveryMessage struct {
	// Timestamp is when discovery was performed (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Bridge is the bridge identifier.
	Bridge string `json:"bridge"`

	// Devices contains the discovered devices.
	Devices []DiscoveredDevice `json:"devices"`
}

// DiscoveredDevice represents a node from the integration report.
type DiscoveredDevice struct {
	// Protocol is the protocol identifier.
	Protocol string `json:"protocol"`

	// IntegrationID is the node's Lutron integration ID.
	IntegrationID int `json:"integration_id"`

	// Type is the device type (e.g., "Dimmed", "Switched", "Pico3ButtonRaiseLower").
	Type string `json:"type"`

	// Capabilities lists the device capabilities (e.g., ["on_off", "dim"]).
	Capabilities []string `json:"capabilities"`

	// Area is the room the device belongs to.
	Area string `json:"area,omitempty"`

	// SuggestedName is a suggested display name for the device.
	SuggestedName string `json:"suggested_name,omitempty"`
}

// NewAckMessage creates an acknowledgment message for a command.
func NewAckMessage(cmd CommandMessage, status AckStatus, integrationID int) AckMessage {
	return AckMessage{
		CommandID:     cmd.ID,
		Timestamp:     time.Now().UTC(),
		DeviceID:      cmd.DeviceID,
		Status:        status,
		Protocol:      ProtocolID,
		IntegrationID: integrationID,
	}
}

// NewAckError creates an acknowledgment with error details.
func NewAckError(cmd CommandMessage, integrationID int, code, message string) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	return AckMessage{
		CommandID:     cmd.ID,
		Timestamp:     time.Now().UTC(),
		DeviceID:      cmd.DeviceID,
		Status:        status,
		Protocol:      ProtocolID,
		IntegrationID: integrationID,
		Error: &AckError{
			Code:    code,
			Message: message,
		},
	}
}

// NewStateMessage creates a state message for a device.
func NewStateMessage(deviceID string, integrationID int, state map[string]any) StateMessage {
	return StateMessage{
		DeviceID:      deviceID,
		Timestamp:     time.Now().UTC(),
		State:         state,
		Protocol:      ProtocolID,
		IntegrationID: integrationID,
	}
}

// NewLWTMessage creates a Last Will and Testament message for MQTT.
// The broker publishes it if the bridge disconnects unexpectedly.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// Topic helpers

// TopicPrefix is the base topic for all Gray Logic messages.
const TopicPrefix = "graylogic"

// CommandTopic returns the MQTT topic for commands to one integration ID.
// Example: graylogic/command/lutron/2
func CommandTopic(integrationID int) string {
	return fmt.Sprintf("%s/command/%s/%d", TopicPrefix, ProtocolID, integrationID)
}

// AckTopic returns the MQTT topic for command acknowledgments.
// Example: graylogic/ack/lutron/2
func AckTopic(integrationID int) string {
	return fmt.Sprintf("%s/ack/%s/%d", TopicPrefix, ProtocolID, integrationID)
}

// StateTopic returns the MQTT topic for state updates.
// Example: graylogic/state/lutron/2
func StateTopic(integrationID int) string {
	return fmt.Sprintf("%s/state/%s/%d", TopicPrefix, ProtocolID, integrationID)
}

// HealthTopic returns the MQTT topic for health status.
// Example: graylogic/health/lutron
func HealthTopic() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, ProtocolID)
}

// DiscoveryTopic returns the MQTT topic for device discovery.
// Example: graylogic/discovery/lutron
func DiscoveryTopic() string {
	return fmt.Sprintf("%s/discovery/%s", TopicPrefix, ProtocolID)
}

// CommandSubscribeTopic returns the subscription pattern for all commands.
// Example: graylogic/command/lutron/#
func CommandSubscribeTopic() string {
	return fmt.Sprintf("%s/command/%s/#", TopicPrefix, ProtocolID)
}

// IntegrationIDFromTopic extracts the integration ID from the last
// segment of a command topic. Returns an error for non-numeric or
// non-positive segments.
func IntegrationIDFromTopic(topic string) (int, error) {
	seg := topic
	for i := len(topic) - 1; i >= 0; i-- {
		if topic[i] == '/' {
			seg = topic[i+1:]
			break
		}
	}
	id, err := strconv.Atoi(seg)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("topic %q has no integration id segment", topic)
	}
	return id, nil
}
