package lip

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// defaultQueryTimeout bounds a query when the caller does not supply
// its own timeout.
const defaultQueryTimeout = 3 * time.Second

// Sender writes commands to the controller. *Session satisfies it;
// tests substitute a mock.
type Sender interface {
	Send(cmd Command) error
}

// queryKey identifies the feedback line a query expects: the controller
// answers ?OUTPUT,2,1 with ~OUTPUT,2,1,... so operation, integration ID
// and action together correlate request and response.
type queryKey struct {
	op     Operation
	id     int
	action int
}

type queryResult struct {
	event Event
	err   error
}

// pendingQuery is one in-flight query awaiting its feedback line.
type pendingQuery struct {
	issuedAt time.Time
	result   chan queryResult // buffered 1; never blocks the resolver
}

// Dispatcher correlates query commands with the feedback events that
// answer them. Multiple queries for the same key resolve in issue
// order; queries for different keys are fully independent.
//
// Thread Safety: all methods are safe for concurrent use.
type Dispatcher struct {
	sender Sender

	mu      sync.Mutex
	pending map[queryKey][]*pendingQuery

	defaultTimeout time.Duration

	logger   Logger
	loggerMu sync.RWMutex
}

// NewDispatcher creates a dispatcher that issues commands through sender.
func NewDispatcher(sender Sender) *Dispatcher {
	return &Dispatcher{
		sender:         sender,
		pending:        make(map[queryKey][]*pendingQuery),
		defaultTimeout: defaultQueryTimeout,
	}
}

// SetLogger sets the logger for this dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.loggerMu.Lock()
	d.logger = logger
	d.loggerMu.Unlock()
}

// Execute sends a fire-and-forget command (#OP,id,action,params...).
// No response is awaited; the resulting state change, if any, arrives
// as an ordinary feedback event.
func (d *Dispatcher) Execute(op Operation, integrationID, action int, params ...Param) error {
	return d.sender.Send(NewExecute(op, integrationID, action, params...))
}

// Query sends ?op,id,action and blocks until the matching feedback
// event arrives, the timeout elapses (ErrQueryTimeout), or ctx is
// cancelled. A non-positive timeout selects the 3s default.
func (d *Dispatcher) Query(ctx context.Context, op Operation, integrationID, action int, timeout time.Duration) (Event, error) {
	if timeout <= 0 {
		timeout = d.defaultTimeout
	}

	key := queryKey{op: op, id: integrationID, action: action}
	pq := &pendingQuery{
		issuedAt: time.Now(),
		result:   make(chan queryResult, 1),
	}

	d.mu.Lock()
	d.pending[key] = append(d.pending[key], pq)
	d.mu.Unlock()

	if err := d.sender.Send(NewQuery(op, integrationID, action)); err != nil {
		d.remove(key, pq)
		return Event{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-pq.result:
		return res.event, res.err

	case <-timer.C:
		// The feedback may have raced the timer: only report a timeout
		// if the query was still registered when we removed it.
		if !d.remove(key, pq) {
			res := <-pq.result
			return res.event, res.err
		}
		return Event{}, fmt.Errorf("%w: %c%s,%d,%d after %s",
			ErrQueryTimeout, ModeQuery, op, integrationID, action, timeout)

	case <-ctx.Done():
		if !d.remove(key, pq) {
			res := <-pq.result
			return res.event, res.err
		}
		return Event{}, ctx.Err()
	}
}

// Dispatch offers a feedback event to the oldest pending query with a
// matching key. It returns true when the event resolved a query. The
// caller should publish the event to subscribers regardless: feedback
// answering a query is indistinguishable from a device changing state.
func (d *Dispatcher) Dispatch(ev Event) bool {
	key := queryKey{op: ev.Operation, id: ev.IntegrationID, action: ev.Action}

	d.mu.Lock()
	queue := d.pending[key]
	if len(queue) == 0 {
		d.mu.Unlock()
		return false
	}

	pq := queue[0]
	if len(queue) == 1 {
		delete(d.pending, key)
	} else {
		d.pending[key] = queue[1:]
	}
	d.mu.Unlock()

	pq.result <- queryResult{event: ev}

	d.logDebug("query resolved", "operation", string(ev.Operation),
		"integration_id", ev.IntegrationID, "action", ev.Action,
		"latency", time.Since(pq.issuedAt).String())
	return true
}

// FailAll resolves every pending query with err. Called on connection
// loss so waiters are not stranded across a reconnect.
func (d *Dispatcher) FailAll(err error) {
	d.mu.Lock()
	pending := d.pending
	d.pending = make(map[queryKey][]*pendingQuery)
	d.mu.Unlock()

	count := 0
	for _, queue := range pending {
		for _, pq := range queue {
			pq.result <- queryResult{err: err}
			count++
		}
	}

	if count > 0 {
		d.logDebug("failed pending queries", "count", count, "error", err)
	}
}

// PendingCount returns the number of queries awaiting feedback.
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	count := 0
	for _, queue := range d.pending {
		count += len(queue)
	}
	return count
}

// remove unregisters pq from key's queue. Returns true when pq was
// still registered, false when Dispatch or FailAll already claimed it.
func (d *Dispatcher) remove(key queryKey, pq *pendingQuery) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	queue := d.pending[key]
	for i, candidate := range queue {
		if candidate == pq {
			queue = append(queue[:i], queue[i+1:]...)
			if len(queue) == 0 {
				delete(d.pending, key)
			} else {
				d.pending[key] = queue
			}
			return true
		}
	}
	return false
}

func (d *Dispatcher) logDebug(msg string, keysAndValues ...any) {
	d.loggerMu.RLock()
	logger := d.logger
	d.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
