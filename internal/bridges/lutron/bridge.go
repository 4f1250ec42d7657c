package lutron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-lutron/internal/lip"
)

// Bridge operation constants.
const (
	// minTopicParts is the minimum number of parts in a valid MQTT topic.
	minTopicParts = 3

	// commandTimeout bounds query commands issued on behalf of Core.
	commandTimeout = 5 * time.Second

	// refreshTimeout bounds the level sweep after startup or reconnect.
	refreshTimeout = 30 * time.Second

	// interQueryDelay spaces refresh queries so the controller's serial
	// link is not flooded.
	interQueryDelay = 50 * time.Millisecond
)

// Bridge orchestrates bidirectional translation between a Lutron
// controller and MQTT. It handles:
//   - Receiving commands from Core via MQTT and translating to LIP commands
//   - Receiving LIP feedback and publishing state updates to MQTT
//   - Health reporting and graceful shutdown
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	opts    BridgeOptions
	mqtt    MQTTClient
	lip     LIPClient
	health  *HealthReporter
	history HistoryRecorder // Optional state history persistence
	metrics MetricsWriter   // Optional telemetry sink

	feedbackToken uint64

	// Level cache for change detection
	levelCache   map[int]float64
	levelCacheMu sync.Mutex

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	// Logger
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool

	// Disconnect closes the connection gracefully.
	Disconnect(quiesce uint)
}

// LIPClient is the controller interface the bridge drives. It is
// satisfied by *lip.Client; tests substitute a mock.
type LIPClient interface {
	Execute(op lip.Operation, integrationID, action int, params ...lip.Param) error
	Query(ctx context.Context, op lip.Operation, integrationID, action int) (lip.Event, error)
	Subscribe(op lip.Operation, integrationID int, handler lip.EventHandler) uint64
	Unsubscribe(token uint64)
	Model() *lip.DeviceModel
	IsConnected() bool
	State() lip.SessionState
	Stats() lip.SessionStats
	SetOnState(callback func(lip.SessionState))
}

// HistoryRecorder persists observed state changes.
// It is optional - if nil, the bridge operates without history.
type HistoryRecorder interface {
	// RecordState stores one observed state for an integration ID.
	RecordState(ctx context.Context, integrationID int, state map[string]any) error
}

// MetricsWriter forwards observed values to a telemetry sink.
// It is optional - if nil, the bridge operates without telemetry.
type MetricsWriter interface {
	// WriteOutputLevel records an output level observation.
	WriteOutputLevel(integrationID int, name string, level float64)

	// WriteButtonEvent records a button press or release.
	WriteButtonEvent(integrationID, button int, event string)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// BridgeID identifies this bridge in topics and health messages.
	// Default: "lutron".
	BridgeID string

	// Version is the bridge software version for health messages.
	Version string

	// ControllerAddress is reported in health messages.
	ControllerAddress string

	// HealthInterval is how often health status is published.
	// Default: 30 seconds.
	HealthInterval time.Duration

	// MQTTClient is the MQTT client implementation. Required.
	MQTTClient MQTTClient

	// LIPClient is the controller client. Required.
	LIPClient LIPClient

	// Logger is optional structured logger.
	Logger Logger

	// History is optional state history persistence.
	History HistoryRecorder

	// Metrics is optional telemetry sink.
	Metrics MetricsWriter
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.LIPClient == nil {
		return nil, fmt.Errorf("LIP client is required")
	}
	if opts.BridgeID == "" {
		opts.BridgeID = ProtocolID
	}

	// Bridge-level context aborts in-flight commands on shutdown.
	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		opts:       opts,
		mqtt:       opts.MQTTClient,
		lip:        opts.LIPClient,
		history:    opts.History,
		metrics:    opts.Metrics,
		levelCache: make(map[int]float64),
		done:       make(chan struct{}),
		ctx:        ctx,
		ctxCancel:  ctxCancel,
		logger:     opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:          opts.BridgeID,
		Version:           opts.Version,
		Interval:          opts.HealthInterval,
		ControllerAddress: opts.ControllerAddress,
		Publisher:         opts.MQTTClient,
		LIPClient:         opts.LIPClient,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start begins bridge operation: subscribes to command topics, hooks
// controller feedback, publishes discovery from the device model, and
// starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	b.feedbackToken = b.lip.Subscribe(lip.AnyOperation, lip.AnyID, b.handleFeedback)

	// Retained state goes stale while the controller is away; sweep the
	// levels again every time the session comes back.
	b.lip.SetOnState(func(state lip.SessionState) {
		if state != lip.StateReady {
			return
		}
		select {
		case <-b.done:
			return
		default:
		}
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.refreshOutputLevels(b.ctx)
		}()
	})

	commandTopic := CommandSubscribeTopic()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	deviceCount := 0
	if model := b.lip.Model(); model != nil {
		deviceCount = model.NodeCount()
		if err := b.publishDiscovery(model); err != nil {
			b.logError("failed to publish discovery", err)
		}
	}
	b.health.SetDeviceCount(deviceCount)

	b.health.Start(ctx)
	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish healthy status", err)
	}

	// Populate initial levels in the background.
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.refreshOutputLevels(b.ctx)
	}()

	b.logInfo("bridge started",
		"bridge_id", b.opts.BridgeID,
		"devices", deviceCount)
	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()

		b.lip.SetOnState(nil)
		b.lip.Unsubscribe(b.feedbackToken)
		b.health.Stop()
		b.wg.Wait()

		b.logInfo("bridge stopped")
	})
}

// refreshOutputLevels queries every output in the device model so the
// state topics reflect reality after startup or reconnect.
func (b *Bridge) refreshOutputLevels(ctx context.Context) {
	model := b.lip.Model()
	if model == nil {
		return
	}

	refreshCtx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	queried := 0
	for _, area := range model.Areas {
		for _, out := range area.Outputs {
			if _, err := b.lip.Query(refreshCtx, lip.OpOutput, out.ID, lip.ActionZoneLevel); err != nil {
				b.logDebug("level refresh query failed",
					"integration_id", out.ID, "error", err)
			} else {
				queried++
			}

			select {
			case <-refreshCtx.Done():
				b.logInfo("level refresh interrupted", "queried", queried)
				return
			case <-time.After(interQueryDelay):
			}
		}
	}

	if queried > 0 {
		b.logInfo("level refresh complete", "queried", queried)
	}
}

// handleMQTTMessage routes incoming MQTT messages to appropriate handlers.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts {
		b.logError("invalid topic format", fmt.Errorf("topic: %s", topic))
		return
	}

	switch parts[1] {
	case "command":
		b.handleCommand(topic, payload)
	default:
		b.logError("unknown message type", fmt.Errorf("type: %s", parts[1]))
	}
}

// handleCommand processes a command message from Core.
func (b *Bridge) handleCommand(topic string, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		return
	}

	integrationID, err := IntegrationIDFromTopic(topic)
	if err != nil {
		b.publishAckError(cmd, 0, ErrCodeInvalidParameters, err.Error())
		return
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"command", cmd.Command,
		"integration_id", integrationID)

	if execErr := b.executeCommand(cmd, integrationID); execErr != nil {
		b.logError("command execution failed", execErr)
	}
}

// executeCommand translates a command to LIP and sends it. Error acks
// are published here; the returned error is for logging only.
func (b *Bridge) executeCommand(cmd CommandMessage, integrationID int) error {
	switch cmd.Command {
	case "on":
		return b.executeLevel(cmd, integrationID, 100, 0)
	case "off":
		return b.executeLevel(cmd, integrationID, 0, 0)
	case "dim":
		level, err := b.numberParam(cmd, "level")
		if err != nil {
			return err
		}
		fade, _ := cmd.Parameters["fade"].(float64)
		return b.executeLevel(cmd, integrationID, level, int(fade))
	case "raise":
		return b.executeAction(cmd, integrationID, lip.ActionStartRaising)
	case "lower":
		return b.executeAction(cmd, integrationID, lip.ActionStartLowering)
	case "stop":
		return b.executeAction(cmd, integrationID, lip.ActionStopRaiseLow)
	case "press":
		return b.executeButton(cmd, integrationID, lip.ActionButtonPress)
	case "release":
		return b.executeButton(cmd, integrationID, lip.ActionButtonRelease)
	case "scene":
		return b.executeScene(cmd)
	case "query":
		return b.executeQuery(cmd, integrationID)
	default:
		b.publishAckError(cmd, integrationID, ErrCodeInvalidCommand,
			fmt.Sprintf("unknown command: %s", cmd.Command))
		return fmt.Errorf("unknown command: %s", cmd.Command)
	}
}

// executeLevel sets an output level (#OUTPUT,id,1,level[,fade]).
func (b *Bridge) executeLevel(cmd CommandMessage, integrationID int, level float64, fadeSeconds int) error {
	if level < 0 || level > 100 {
		b.publishAckError(cmd, integrationID, ErrCodeInvalidParameters,
			fmt.Sprintf("'level' must be 0-100, got %.2f", level))
		return fmt.Errorf("level out of range: %.2f", level)
	}

	params := []lip.Param{lip.Number(level)}
	if fadeSeconds > 0 {
		params = append(params, lip.Integer(fadeSeconds))
	}

	b.publishAck(cmd, integrationID, AckAccepted)

	if err := b.lip.Execute(lip.OpOutput, integrationID, lip.ActionZoneLevel, params...); err != nil {
		b.publishAckError(cmd, integrationID, ErrCodeControllerUnreachable,
			fmt.Sprintf("send failed: %v", err))
		return err
	}
	return nil
}

// executeAction sends a parameterless output action (raise/lower/stop).
func (b *Bridge) executeAction(cmd CommandMessage, integrationID, action int) error {
	b.publishAck(cmd, integrationID, AckAccepted)

	if err := b.lip.Execute(lip.OpOutput, integrationID, action); err != nil {
		b.publishAckError(cmd, integrationID, ErrCodeControllerUnreachable,
			fmt.Sprintf("send failed: %v", err))
		return err
	}
	return nil
}

// executeButton presses or releases a button (#DEVICE,id,button,action).
func (b *Bridge) executeButton(cmd CommandMessage, integrationID, action int) error {
	button, err := b.numberParam(cmd, "button")
	if err != nil {
		return err
	}
	if button < 1 || button != math.Trunc(button) {
		b.publishAckError(cmd, integrationID, ErrCodeInvalidParameters,
			fmt.Sprintf("'button' must be a positive integer, got %v", button))
		return fmt.Errorf("bad button number: %v", button)
	}

	b.publishAck(cmd, integrationID, AckAccepted)

	if err := b.lip.Execute(lip.OpDevice, integrationID, int(button), lip.Integer(action)); err != nil {
		b.publishAckError(cmd, integrationID, ErrCodeControllerUnreachable,
			fmt.Sprintf("send failed: %v", err))
		return err
	}
	return nil
}

// executeScene activates a scene by pressing the corresponding button
// on the controller's virtual bridge device.
func (b *Bridge) executeScene(cmd CommandMessage) error {
	scene, err := b.numberParam(cmd, "scene")
	if err != nil {
		return err
	}
	if scene < 1 || scene != math.Trunc(scene) {
		b.publishAckError(cmd, 0, ErrCodeInvalidParameters,
			fmt.Sprintf("'scene' must be a positive integer, got %v", scene))
		return fmt.Errorf("bad scene number: %v", scene)
	}

	const bridgeDevice = 1
	b.publishAck(cmd, bridgeDevice, AckAccepted)

	button := int(scene)
	if err := b.lip.Execute(lip.OpDevice, bridgeDevice, button, lip.Integer(lip.ActionButtonPress)); err != nil {
		b.publishAckError(cmd, bridgeDevice, ErrCodeControllerUnreachable,
			fmt.Sprintf("send failed: %v", err))
		return err
	}
	if err := b.lip.Execute(lip.OpDevice, bridgeDevice, button, lip.Integer(lip.ActionButtonRelease)); err != nil {
		b.publishAckError(cmd, bridgeDevice, ErrCodeControllerUnreachable,
			fmt.Sprintf("send failed: %v", err))
		return err
	}
	return nil
}

// executeQuery asks the controller for an output's current level. The
// resulting feedback reaches Core through the ordinary state topic.
func (b *Bridge) executeQuery(cmd CommandMessage, integrationID int) error {
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	if _, err := b.lip.Query(ctx, lip.OpOutput, integrationID, lip.ActionZoneLevel); err != nil {
		code := ErrCodeControllerUnreachable
		if errors.Is(err, lip.ErrQueryTimeout) {
			code = ErrCodeTimeout
		}
		b.publishAckError(cmd, integrationID, code, err.Error())
		return err
	}

	b.publishAck(cmd, integrationID, AckAccepted)
	return nil
}

// numberParam extracts a required numeric parameter, publishing an
// error ack when it is missing or not a number.
func (b *Bridge) numberParam(cmd CommandMessage, key string) (float64, error) {
	raw, ok := cmd.Parameters[key]
	if !ok {
		b.publishAckError(cmd, 0, ErrCodeInvalidParameters,
			fmt.Sprintf("missing '%s' parameter", key))
		return 0, fmt.Errorf("missing %s parameter", key)
	}
	val, ok := raw.(float64)
	if !ok {
		b.publishAckError(cmd, 0, ErrCodeInvalidParameters,
			fmt.Sprintf("'%s' must be a number", key))
		return 0, fmt.Errorf("%s must be a number", key)
	}
	return val, nil
}

// handleFeedback processes one feedback event from the controller and
// publishes the corresponding state message.
func (b *Bridge) handleFeedback(ev lip.Event) error {
	switch ev.Operation {
	case lip.OpOutput, lip.OpShadeGroup:
		b.handleOutputFeedback(ev)
	case lip.OpDevice:
		b.handleDeviceFeedback(ev)
	case lip.OpError:
		b.logWarn("controller reported error", "code", ev.Action, "line", ev.Raw)
	default:
		b.logDebug("unhandled feedback", "line", ev.Raw)
	}
	return nil
}

// handleOutputFeedback publishes level changes for dimmers, switches,
// and shades.
func (b *Bridge) handleOutputFeedback(ev lip.Event) {
	if ev.Action != lip.ActionZoneLevel {
		b.logDebug("ignoring output action", "action", ev.Action, "line", ev.Raw)
		return
	}
	level, ok := ev.Level()
	if !ok {
		b.logDebug("output feedback without level", "line", ev.Raw)
		return
	}

	if b.levelUnchanged(ev.IntegrationID, level) {
		return
	}

	state := map[string]any{
		"level": level,
		"on":    level > 0,
	}
	b.publishState(ev.IntegrationID, state, true)

	if b.history != nil {
		if err := b.history.RecordState(b.ctx, ev.IntegrationID, state); err != nil {
			b.logDebug("history record skipped",
				"integration_id", ev.IntegrationID, "reason", err.Error())
		}
	}
	if b.metrics != nil {
		b.metrics.WriteOutputLevel(ev.IntegrationID, b.nodeName(ev.IntegrationID), level)
	}
}

// handleDeviceFeedback publishes button press/release events. These are
// momentary, so the state topic is not retained.
func (b *Bridge) handleDeviceFeedback(ev lip.Event) {
	if len(ev.Params) == 0 {
		b.logDebug("device feedback without action", "line", ev.Raw)
		return
	}
	action, ok := ev.Params[0].Int()
	if !ok {
		b.logDebug("device feedback with non-numeric action", "line", ev.Raw)
		return
	}

	var event string
	switch action {
	case lip.ActionButtonPress:
		event = "press"
	case lip.ActionButtonRelease:
		event = "release"
	default:
		b.logDebug("ignoring device action", "action", action, "line", ev.Raw)
		return
	}

	button := ev.Action // third wire field is the component number
	state := map[string]any{
		"button": button,
		"event":  event,
	}
	b.publishState(ev.IntegrationID, state, false)

	if b.metrics != nil {
		b.metrics.WriteButtonEvent(ev.IntegrationID, button, event)
	}
}

// publishState serialises and publishes one state message.
func (b *Bridge) publishState(integrationID int, state map[string]any, retained bool) {
	msg := NewStateMessage(b.deviceID(integrationID), integrationID, state)

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}

	if err := b.mqtt.Publish(StateTopic(integrationID), payload, 1, retained); err != nil {
		b.logError("failed to publish state", err)
	}
}

// publishDiscovery announces the device model's nodes to Core.
func (b *Bridge) publishDiscovery(model *lip.DeviceModel) error {
	msg := DiscoveryMessage{
		Timestamp: time.Now().UTC(),
		Bridge:    b.opts.BridgeID,
	}

	for _, area := range model.Areas {
		for _, dev := range area.Devices {
			msg.Devices = append(msg.Devices, DiscoveredDevice{
				Protocol:      ProtocolID,
				IntegrationID: dev.ID,
				Type:          dev.DeviceType,
				Capabilities:  []string{"press", "release"},
				Area:          dev.AreaName,
				SuggestedName: dev.Name,
			})
		}
		for _, out := range area.Outputs {
			msg.Devices = append(msg.Devices, DiscoveredDevice{
				Protocol:      ProtocolID,
				IntegrationID: out.ID,
				Type:          out.OutputType,
				Capabilities:  capabilitiesForOutput(out.OutputType),
				Area:          out.AreaName,
				SuggestedName: out.Name,
			})
		}
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal discovery: %w", err)
	}
	if err := b.mqtt.Publish(DiscoveryTopic(), payload, 1, true); err != nil {
		return fmt.Errorf("publish discovery: %w", err)
	}

	b.logInfo("published discovery", "devices", len(msg.Devices))
	return nil
}

// capabilitiesForOutput maps a Lutron output type to capability names.
func capabilitiesForOutput(outputType string) []string {
	switch outputType {
	case "Dimmed":
		return []string{"on_off", "dim", "raise_lower"}
	case "Switched", "Relay":
		return []string{"on_off"}
	case "Shade", "SystemShade", "Venetian":
		return []string{"raise_lower", "stop", "dim"}
	case "CeilingFanSpeedController":
		return []string{"on_off", "dim"}
	default:
		return []string{"on_off"}
	}
}

// levelUnchanged checks the new level against the cache. Returns true
// when unchanged (skip publish); otherwise updates the cache.
func (b *Bridge) levelUnchanged(integrationID int, level float64) bool {
	b.levelCacheMu.Lock()
	defer b.levelCacheMu.Unlock()

	cached, seen := b.levelCache[integrationID]
	if seen && cached == level {
		return true
	}
	b.levelCache[integrationID] = level
	return false
}

// deviceID derives the Core device identifier for an integration ID.
func (b *Bridge) deviceID(integrationID int) string {
	return fmt.Sprintf("%s-%d", b.opts.BridgeID, integrationID)
}

// nodeName returns the display name from the device model, if loaded.
func (b *Bridge) nodeName(integrationID int) string {
	model := b.lip.Model()
	if model == nil {
		return ""
	}
	node, ok := model.Lookup(integrationID)
	if !ok {
		return ""
	}
	return node.NodeName()
}

// publishAck publishes a command acknowledgment.
func (b *Bridge) publishAck(cmd CommandMessage, integrationID int, status AckStatus) {
	ack := NewAckMessage(cmd, status, integrationID)

	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}
	if err := b.mqtt.Publish(AckTopic(integrationID), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

// publishAckError publishes a failed-command acknowledgment.
func (b *Bridge) publishAckError(cmd CommandMessage, integrationID int, code, message string) {
	ack := NewAckError(cmd, integrationID, code, message)

	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack error", err)
		return
	}
	if err := b.mqtt.Publish(AckTopic(integrationID), payload, 1, false); err != nil {
		b.logError("failed to publish ack error", err)
	}

	b.logError("command failed", fmt.Errorf("code=%s message=%s", code, message))
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if logger is set.
func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logError logs an error if logger is set.
func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
