package lip

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default credentials and timing for the controller's Telnet interface.
const (
	// DefaultUsername and DefaultPassword are the factory integration
	// credentials on Caséta and RA2 Select bridges.
	DefaultUsername = "lutron"
	DefaultPassword = "integration"

	// defaultPort is the Telnet port the integration interface listens on.
	defaultPort = 23

	// defaultConnectTimeout bounds dial plus login handshake.
	defaultConnectTimeout = 10 * time.Second

	// defaultReadTimeout is the per-read deadline in the ready state.
	// A timeout is not an error: the bus is often idle and the keepalive
	// ping provides traffic well inside this window.
	defaultReadTimeout = 90 * time.Second

	// defaultWriteTimeout bounds individual line writes.
	defaultWriteTimeout = 5 * time.Second

	// defaultReconnectInterval is the initial delay between reconnection
	// attempts.
	defaultReconnectInterval = 5 * time.Second

	// defaultMaxReconnectInterval caps the reconnection backoff.
	defaultMaxReconnectInterval = 2 * time.Minute

	// backoffFactor grows the reconnect delay after each failed attempt.
	backoffFactor = 1.5

	// defaultPingInterval is how often #PING keepalives are sent while
	// ready. Zero in SessionConfig disables the keepalive.
	defaultPingInterval = 60 * time.Second

	// readChunkSize is the size of the socket read buffer.
	readChunkSize = 1024

	// eventQueueSize is the buffer between the read loop and the
	// delivery worker. A single worker preserves feedback ordering,
	// which the dispatcher's FIFO correlation depends on.
	eventQueueSize = 256
)

// SessionState is the connection lifecycle state.
type SessionState int32

// Session lifecycle states.
const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateAuthenticating
	StateReady
)

// String returns the lowercase state name.
func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	default:
		return "disconnected"
	}
}

// SessionConfig holds controller connection settings.
type SessionConfig struct {
	// Host is the controller address. Required.
	Host string

	// Port is the Telnet port. Default: 23.
	Port int

	// Username and Password are the integration credentials.
	// Defaults: "lutron" / "integration".
	Username string
	Password string

	// Prompt is the post-login ready marker. Default: "GNET> ".
	// HomeWorks QS controllers use "QNET> ".
	Prompt string

	// ConnectTimeout bounds dial plus login handshake. Default: 10s.
	ConnectTimeout time.Duration

	// ReadTimeout is the per-read deadline in the ready state. Default: 90s.
	ReadTimeout time.Duration

	// ReconnectInterval is the initial reconnection delay. Default: 5s.
	ReconnectInterval time.Duration

	// MaxReconnectInterval caps the reconnection backoff. Default: 2m.
	MaxReconnectInterval time.Duration

	// PingInterval is the #PING keepalive period while ready.
	// Negative disables the keepalive. Default: 60s.
	PingInterval time.Duration
}

// applyDefaults fills zero-valued fields.
func (c *SessionConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.Username == "" {
		c.Username = DefaultUsername
	}
	if c.Password == "" {
		c.Password = DefaultPassword
	}
	if c.Prompt == "" {
		c.Prompt = DefaultPrompt
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.ReconnectInterval == 0 {
		c.ReconnectInterval = defaultReconnectInterval
	}
	if c.MaxReconnectInterval == 0 {
		c.MaxReconnectInterval = defaultMaxReconnectInterval
	}
	if c.PingInterval == 0 {
		c.PingInterval = defaultPingInterval
	}
}

// SessionStats holds operational statistics.
type SessionStats struct {
	LinesTx         uint64
	LinesRx         uint64
	EventsDropped   uint64 // Events dropped due to full delivery queue
	DecodeErrors    uint64
	ErrorsTotal     uint64
	ReconnectsTotal uint64 // Successful reconnections
	LastActivity    time.Time
	State           SessionState
	Reconnecting    bool // True while a reconnection cycle is in progress
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// dialFunc matches net.Dialer.DialContext; swapped in tests.
type dialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Session owns one Telnet connection to a Lutron controller.
//
// It drives the login handshake, decodes feedback lines in a dedicated
// read loop, and reconnects automatically with exponential backoff when
// the connection drops. Writes are serialised through one entry point;
// decoded events are handed to a single delivery worker so subscribers
// observe feedback in wire order.
//
// Thread Safety: all methods are safe for concurrent use. A Session is
// single-use: after Close it cannot be reconnected, construct a new one.
// Multiple independent sessions (multiple controllers) compose freely;
// there is no process-wide state.
type Session struct {
	cfg  SessionConfig
	dial dialFunc

	// conn is guarded by connMu, which also serialises line writes.
	conn   net.Conn
	connMu sync.Mutex

	state   atomic.Int32
	started atomic.Bool

	// carry holds bytes read but not yet consumed. Owned by the
	// goroutine currently reading: Connect during the handshake, then
	// the read loop (including reconnect handshakes it performs).
	carry []byte

	// Event delivery
	eventQueue chan Event

	// Callbacks
	onEvent      func(Event)
	onDisconnect func(error)
	onState      func(SessionState)
	callbackMu   sync.RWMutex

	// Reconnection state
	reconnecting atomic.Bool

	// Shutdown coordination
	done *closeOnce
	wg   sync.WaitGroup

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics
	linesTx         atomic.Uint64
	linesRx         atomic.Uint64
	eventsDropped   atomic.Uint64
	decodeErrors    atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64
	lastActivity    atomic.Int64 // Unix timestamp
}

// NewSession creates a session for the given controller. Call Connect
// to open it.
func NewSession(cfg SessionConfig) *Session {
	cfg.applyDefaults()
	return &Session{
		cfg:        cfg,
		dial:       (&net.Dialer{}).DialContext,
		eventQueue: make(chan Event, eventQueueSize),
		done:       newCloseOnce(),
	}
}

// Connect dials the controller and performs the login handshake:
// wait for "login: ", send the username, wait for "password: ", send
// the password, then wait for the ready prompt. On success the session
// is READY and the read, delivery, and keepalive loops are running.
//
// Rejected credentials return ErrAuthenticationFailed; transport
// failures return ErrConnectionFailed. Either way a later Connect on a
// fresh Session may be attempted; only transient drops after a
// successful connect are retried automatically.
func (s *Session) Connect(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: session already started", ErrConnectionFailed)
	}

	conn, err := s.dialAndLogin(ctx)
	if err != nil {
		s.started.Store(false)
		s.setState(StateDisconnected)
		return err
	}

	s.setConn(conn)
	s.setState(StateReady)
	s.drainCarry()

	s.wg.Add(1)
	go s.deliverLoop()

	s.wg.Add(1)
	go s.readLoop()

	if s.cfg.PingInterval > 0 {
		s.wg.Add(1)
		go s.pingLoop()
	}

	s.logInfo("session ready", "host", s.cfg.Host, "port", s.cfg.Port)
	return nil
}

// dialAndLogin opens a TCP connection and runs the login handshake.
func (s *Session) dialAndLogin(ctx context.Context) (net.Conn, error) {
	s.setState(StateConnecting)

	if ctx == nil {
		ctx = context.Background()
	}
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	conn, err := s.dial(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, addr, err)
	}

	s.setState(StateAuthenticating)
	if err := s.login(dialCtx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// login drives the Telnet credential exchange on a fresh connection.
// The prompts are not line-terminated, so matching happens on the raw
// byte stream rather than through the line codec.
func (s *Session) login(ctx context.Context, conn net.Conn) error {
	deadline := time.Now().Add(s.cfg.ConnectTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrConnectionFailed, err)
	}
	defer conn.SetDeadline(time.Time{}) //nolint:errcheck // best effort reset

	s.carry = nil

	if _, err := s.readUntilAny(conn, LoginPrompt); err != nil {
		return fmt.Errorf("%w: waiting for login prompt: %w", ErrConnectionFailed, err)
	}
	if _, err := conn.Write([]byte(s.cfg.Username + "\r\n")); err != nil {
		return fmt.Errorf("%w: sending username: %w", ErrConnectionFailed, err)
	}

	if _, err := s.readUntilAny(conn, PasswordPrompt); err != nil {
		return fmt.Errorf("%w: waiting for password prompt: %w", ErrConnectionFailed, err)
	}
	if _, err := conn.Write([]byte(s.cfg.Password + "\r\n")); err != nil {
		return fmt.Errorf("%w: sending password: %w", ErrConnectionFailed, err)
	}

	// After the password the controller either shows the ready prompt
	// or loops back to "login: " when the credentials were rejected.
	matched, err := s.readUntilAny(conn, s.cfg.Prompt, LoginPrompt)
	if err != nil {
		return fmt.Errorf("%w: waiting for ready prompt: %w", ErrConnectionFailed, err)
	}
	if matched == 1 {
		return fmt.Errorf("%w: controller rejected credentials for %q",
			ErrAuthenticationFailed, s.cfg.Username)
	}
	return nil
}

// readUntilAny reads from conn until one of the patterns appears in the
// buffered stream. It returns the index of the matched pattern and
// preserves any bytes past the match in the carry buffer.
func (s *Session) readUntilAny(conn net.Conn, patterns ...string) (int, error) {
	buf := make([]byte, readChunkSize)
	for {
		for i, p := range patterns {
			if idx := bytes.Index(s.carry, []byte(p)); idx >= 0 {
				rest := s.carry[idx+len(p):]
				s.carry = append([]byte(nil), rest...)
				return i, nil
			}
		}

		n, err := conn.Read(buf)
		if n > 0 {
			s.carry = append(s.carry, buf[:n]...)
		}
		if err != nil {
			return 0, err
		}
	}
}

// readLoop continuously reads lines from the controller. On connection
// loss it attempts reconnection with exponential backoff.
func (s *Session) readLoop() {
	defer s.wg.Done()

	buf := make([]byte, readChunkSize)

	for {
		select {
		case <-s.done.Done():
			return
		default:
		}

		conn := s.currentConn()
		if conn == nil {
			if !s.reconnect() {
				return
			}
			continue
		}

		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
			s.logError("set read deadline failed", err)
		}

		n, err := conn.Read(buf)
		if n > 0 {
			s.ingest(buf[:n])
		}
		if err == nil {
			continue
		}

		if s.isClosed() {
			return
		}

		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			continue // Idle link; keepalive traffic arrives well inside the deadline
		}

		s.errorsTotal.Add(1)
		s.handleDisconnect(err)

		if !s.reconnect() {
			return
		}
	}
}

// drainCarry parses complete lines the login handshake left behind the
// ready prompt, so feedback bundled with the banner is not held back
// until the next socket read.
func (s *Session) drainCarry() {
	s.ingest(nil)
}

// ingest appends raw bytes to the carry buffer and hands complete
// CRLF-terminated lines to the codec.
func (s *Session) ingest(data []byte) {
	s.carry = append(s.carry, data...)
	for {
		idx := bytes.IndexByte(s.carry, '\n')
		if idx < 0 {
			return
		}
		line := strings.TrimRight(string(s.carry[:idx]), "\r")
		s.carry = append([]byte(nil), s.carry[idx+1:]...)
		s.handleLine(line)
	}
}

// handleLine decodes one line and queues resulting events for delivery.
// Decode failures are counted and logged; they never stop the loop.
func (s *Session) handleLine(line string) {
	dec, err := DecodeLine(line)
	if err != nil {
		s.decodeErrors.Add(1)
		s.errorsTotal.Add(1)
		s.logDebug("discarding malformed line", "line", line, "error", err)
		return
	}

	if dec.Kind != KindEvent {
		return // Prompts and blank chatter carry no payload in the ready state
	}

	s.linesRx.Add(1)
	s.lastActivity.Store(time.Now().Unix())

	select {
	case s.eventQueue <- dec.Event:
	default:
		// Queue full: drop rather than stall the read loop.
		s.eventsDropped.Add(1)
		s.errorsTotal.Add(1)
		s.logError("event queue full, dropping event", nil)
	}
}

// deliverLoop invokes the event callback from a single goroutine,
// preserving wire order for the dispatcher's FIFO correlation.
func (s *Session) deliverLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done.Done():
			return
		case ev := <-s.eventQueue:
			s.callbackMu.RLock()
			cb := s.onEvent
			s.callbackMu.RUnlock()

			if cb != nil {
				func() {
					defer func() {
						if r := recover(); r != nil {
							s.logError("event callback panic", fmt.Errorf("%v", r))
						}
					}()
					cb(ev)
				}()
			}
		}
	}
}

// pingLoop sends #PING keepalives while the session is ready.
func (s *Session) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done.Done():
			return
		case <-ticker.C:
			if s.State() != StateReady {
				continue
			}
			if err := s.writeLine("#PING"); err != nil {
				s.logDebug("keepalive ping failed", "error", err)
			}
		}
	}
}

// handleDisconnect records connection loss and notifies the owner so
// pending queries can be failed. Queries are never silently stranded
// across a reconnect.
func (s *Session) handleDisconnect(err error) {
	wasReady := s.State() == StateReady
	s.setState(StateDisconnected)

	if wasReady {
		s.logInfo("connection lost, will attempt reconnection", "error", err)
	}

	s.callbackMu.RLock()
	cb := s.onDisconnect
	s.callbackMu.RUnlock()
	if cb != nil {
		cb(fmt.Errorf("%w: %w", ErrConnectionLost, err))
	}
}

// reconnect re-establishes the connection with exponential backoff.
// Returns true on success, false when shutdown was signalled or the
// controller rejected the credentials (auth failures are not retried).
func (s *Session) reconnect() bool {
	if !s.reconnecting.CompareAndSwap(false, true) {
		return false // Only the read loop reconnects; nothing else should race here
	}
	defer s.reconnecting.Store(false)

	backoff := s.cfg.ReconnectInterval
	attempt := 0

	for {
		if s.isClosed() {
			return false
		}

		attempt++
		s.logInfo("attempting reconnection", "attempt", attempt, "backoff", backoff.String())

		s.closeConn()

		conn, err := s.dialAndLogin(context.Background())
		if err != nil {
			if errors.Is(err, ErrAuthenticationFailed) {
				// Credentials will not improve by waiting; give up and
				// leave the session disconnected for the owner to handle.
				s.logError("reconnect: credentials rejected, giving up", err)
				s.setState(StateDisconnected)
				return false
			}

			s.errorsTotal.Add(1)
			s.logError("reconnect failed", err)

			select {
			case <-s.done.Done():
				return false
			case <-time.After(backoff):
			}
			backoff = nextBackoff(backoff, s.cfg.MaxReconnectInterval)
			continue
		}

		s.setConn(conn)
		s.setState(StateReady)
		s.drainCarry()
		s.reconnectsTotal.Add(1)
		s.lastActivity.Store(time.Now().Unix())
		s.logInfo("reconnection successful", "total_reconnects", s.reconnectsTotal.Load())
		return true
	}
}

// nextBackoff grows the reconnect delay, capped at maxInterval. The
// delay resets to the configured base at the start of each reconnect
// cycle, i.e. after every successful READY transition.
func nextBackoff(cur, maxInterval time.Duration) time.Duration {
	next := time.Duration(float64(cur) * backoffFactor)
	if next > maxInterval {
		next = maxInterval
	}
	return next
}

// Send encodes and writes a command. Valid only in the ready state;
// otherwise ErrNotConnected is returned immediately. Callers queue or
// drop, they are never blocked on a reconnect in progress.
func (s *Session) Send(cmd Command) error {
	if s.State() != StateReady {
		return ErrNotConnected
	}

	line, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}
	return s.writeLine(line)
}

// writeLine writes one CRLF-terminated line under the write lock.
func (s *Session) writeLine(line string) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return ErrNotConnected
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
		return fmt.Errorf("%w: set write deadline: %w", ErrConnectionFailed, err)
	}
	if _, err := s.conn.Write([]byte(line + "\r\n")); err != nil {
		s.errorsTotal.Add(1)
		return fmt.Errorf("%w: write: %w", ErrConnectionFailed, err)
	}

	s.linesTx.Add(1)
	s.lastActivity.Store(time.Now().Unix())
	return nil
}

// Close logs out and shuts the session down. Safe to call multiple
// times. After Close the session cannot be reused.
func (s *Session) Close() error {
	// Best-effort LOGOUT before tearing the socket down.
	if s.State() == StateReady {
		_ = s.writeLine("LOGOUT") //nolint:errcheck // best effort during shutdown
	}

	s.done.Close()
	s.setState(StateDisconnected)
	s.closeConn()
	s.wg.Wait()

	s.logInfo("session closed")
	return nil
}

// closeConn closes and clears the current connection, if any.
func (s *Session) closeConn() {
	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()
}

// setConn installs a new connection.
func (s *Session) setConn(conn net.Conn) {
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
}

// currentConn returns the active connection, or nil.
func (s *Session) currentConn() net.Conn {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn
}

// isClosed returns true once Close has been called.
func (s *Session) isClosed() bool {
	select {
	case <-s.done.Done():
		return true
	default:
		return false
	}
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// IsConnected returns true when the session is ready for traffic.
func (s *Session) IsConnected() bool {
	return s.State() == StateReady
}

// setState stores the state and fires the state callback.
func (s *Session) setState(st SessionState) {
	old := SessionState(s.state.Swap(int32(st)))
	if old == st {
		return
	}

	s.callbackMu.RLock()
	cb := s.onState
	s.callbackMu.RUnlock()
	if cb != nil {
		cb(st)
	}
}

// SetOnEvent sets the callback for decoded events. Events are delivered
// from a single goroutine in wire order; panics are recovered and logged.
func (s *Session) SetOnEvent(callback func(Event)) {
	s.callbackMu.Lock()
	s.onEvent = callback
	s.callbackMu.Unlock()
}

// SetOnDisconnect sets the callback fired when the connection drops,
// before reconnection begins.
func (s *Session) SetOnDisconnect(callback func(error)) {
	s.callbackMu.Lock()
	s.onDisconnect = callback
	s.callbackMu.Unlock()
}

// SetOnState sets the callback fired on every state transition.
func (s *Session) SetOnState(callback func(SessionState)) {
	s.callbackMu.Lock()
	s.onState = callback
	s.callbackMu.Unlock()
}

// SetLogger sets the logger for this session.
func (s *Session) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// Stats returns current operational statistics.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		LinesTx:         s.linesTx.Load(),
		LinesRx:         s.linesRx.Load(),
		EventsDropped:   s.eventsDropped.Load(),
		DecodeErrors:    s.decodeErrors.Load(),
		ErrorsTotal:     s.errorsTotal.Load(),
		ReconnectsTotal: s.reconnectsTotal.Load(),
		LastActivity:    time.Unix(s.lastActivity.Load(), 0),
		State:           s.State(),
		Reconnecting:    s.reconnecting.Load(),
	}
}

// logInfo logs an info message if a logger is set.
func (s *Session) logInfo(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logDebug logs a debug message if a logger is set.
func (s *Session) logDebug(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logError logs an error message if a logger is set.
func (s *Session) logError(msg string, err error) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
