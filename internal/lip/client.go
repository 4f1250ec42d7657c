package lip

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Client is the high-level controller interface: one session, one
// dispatcher, one event bus, and an optional device model loaded from
// an integration report.
//
// Feedback events first get a chance to resolve a pending query, then
// are published to subscribers unconditionally. Feedback that answers
// a query is indistinguishable from a spontaneous state change, so
// subscribers must see both.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	session    *Session
	dispatcher *Dispatcher
	bus        *Bus

	model atomic.Pointer[DeviceModel]

	logger   Logger
	loggerMu sync.RWMutex
}

// NewClient creates a client for the controller described by cfg.
// Call Connect to open the session.
func NewClient(cfg SessionConfig) *Client {
	session := NewSession(cfg)
	c := &Client{
		session:    session,
		dispatcher: NewDispatcher(session),
		bus:        NewBus(),
	}

	session.SetOnEvent(c.handleEvent)
	session.SetOnDisconnect(func(err error) {
		c.dispatcher.FailAll(err)
	})

	return c
}

// handleEvent routes one decoded feedback event: dispatcher first, then
// the bus. Delivery order is preserved because the session invokes this
// from a single goroutine.
func (c *Client) handleEvent(ev Event) {
	c.dispatcher.Dispatch(ev)
	c.bus.Publish(ev)
}

// Connect opens the session and performs the login handshake.
func (c *Client) Connect(ctx context.Context) error {
	return c.session.Connect(ctx)
}

// Close logs out and shuts the client down. Pending queries are failed
// with ErrConnectionLost.
func (c *Client) Close() error {
	err := c.session.Close()
	c.dispatcher.FailAll(ErrConnectionLost)
	return err
}

// Execute sends a fire-and-forget command.
func (c *Client) Execute(op Operation, integrationID, action int, params ...Param) error {
	return c.dispatcher.Execute(op, integrationID, action, params...)
}

// Query sends a query and waits for the matching feedback event, using
// the dispatcher's default timeout.
func (c *Client) Query(ctx context.Context, op Operation, integrationID, action int) (Event, error) {
	return c.dispatcher.Query(ctx, op, integrationID, action, 0)
}

// QueryTimeout is Query with an explicit timeout.
func (c *Client) QueryTimeout(ctx context.Context, op Operation, integrationID, action int, timeout time.Duration) (Event, error) {
	return c.dispatcher.Query(ctx, op, integrationID, action, timeout)
}

// Subscribe registers a handler for feedback events matching op and
// integrationID. Use AnyOperation and AnyID as wildcards.
func (c *Client) Subscribe(op Operation, integrationID int, handler EventHandler) uint64 {
	return c.bus.Subscribe(op, integrationID, handler)
}

// Unsubscribe removes a subscription by its token.
func (c *Client) Unsubscribe(token uint64) {
	c.bus.Unsubscribe(token)
}

// LoadIntegrationReport parses report JSON and installs the resulting
// device model. Warnings from a partially usable report are returned
// on the model, not as errors.
func (c *Client) LoadIntegrationReport(data []byte) (*DeviceModel, error) {
	model, err := ParseIntegrationReport(data)
	if err != nil {
		return nil, err
	}
	c.model.Store(model)

	c.logInfo("integration report loaded",
		"nodes", model.NodeCount(),
		"areas", len(model.Areas),
		"scenes", len(model.Scenes),
		"warnings", len(model.Warnings))
	return model, nil
}

// Model returns the most recently loaded device model, or nil.
func (c *Client) Model() *DeviceModel {
	return c.model.Load()
}

// IsConnected returns true while the session is ready for traffic.
func (c *Client) IsConnected() bool {
	return c.session.IsConnected()
}

// State returns the session lifecycle state.
func (c *Client) State() SessionState {
	return c.session.State()
}

// Stats returns session statistics.
func (c *Client) Stats() SessionStats {
	return c.session.Stats()
}

// PendingQueries returns the number of queries awaiting feedback.
func (c *Client) PendingQueries() int {
	return c.dispatcher.PendingCount()
}

// SetOnState sets a callback fired on every session state transition.
func (c *Client) SetOnState(callback func(SessionState)) {
	c.session.SetOnState(callback)
}

// SetLogger sets the logger for the client and its components.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()

	c.session.SetLogger(logger)
	c.dispatcher.SetLogger(logger)
	c.bus.SetLogger(logger)
}

func (c *Client) logInfo(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}
