package lip

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockSender records sent commands and optionally fails.
type mockSender struct {
	mu      sync.Mutex
	sent    []Command
	sendErr error
}

func (m *mockSender) Send(cmd Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, cmd)
	return nil
}

func (m *mockSender) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func TestDispatcherExecute(t *testing.T) {
	sender := &mockSender{}
	d := NewDispatcher(sender)

	if err := d.Execute(OpOutput, 2, ActionZoneLevel, Number(75)); err != nil {
		t.Fatalf("Execute() unexpected error: %v", err)
	}

	if sender.sentCount() != 1 {
		t.Fatalf("sent %d commands, want 1", sender.sentCount())
	}
	got, _ := EncodeCommand(sender.sent[0])
	if got != "#OUTPUT,2,1,75.00" {
		t.Errorf("sent %q, want #OUTPUT,2,1,75.00", got)
	}
}

func TestDispatcherQueryResolved(t *testing.T) {
	sender := &mockSender{}
	d := NewDispatcher(sender)

	done := make(chan struct{})
	var ev Event
	var queryErr error

	go func() {
		defer close(done)
		ev, queryErr = d.Query(context.Background(), OpOutput, 2, 1, time.Second)
	}()

	// Wait for the query to register before dispatching feedback.
	waitFor(t, func() bool { return d.PendingCount() == 1 })

	feedback := mustEvent(t, "~OUTPUT,2,1,75.00")
	if !d.Dispatch(feedback) {
		t.Fatal("Dispatch() = false, want true")
	}

	<-done
	if queryErr != nil {
		t.Fatalf("Query() unexpected error: %v", queryErr)
	}
	if level, ok := ev.Level(); !ok || level != 75 {
		t.Errorf("level = %v (%v), want 75", level, ok)
	}
	if d.PendingCount() != 0 {
		t.Errorf("pending = %d, want 0", d.PendingCount())
	}
}

func TestDispatcherKeyIsolation(t *testing.T) {
	sender := &mockSender{}
	d := NewDispatcher(sender)

	results := make(chan Event, 2)
	for _, id := range []int{5, 7} {
		go func(id int) {
			ev, err := d.Query(context.Background(), OpOutput, id, 1, time.Second)
			if err != nil {
				t.Errorf("Query(id=%d) unexpected error: %v", id, err)
				return
			}
			results <- ev
		}(id)
	}

	waitFor(t, func() bool { return d.PendingCount() == 2 })

	// Feedback for 7 must not resolve the query for 5.
	d.Dispatch(mustEvent(t, "~OUTPUT,7,1,20.00"))
	d.Dispatch(mustEvent(t, "~OUTPUT,5,1,80.00"))

	byID := map[int]float64{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-results:
			level, _ := ev.Level()
			byID[ev.IntegrationID] = level
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for query results")
		}
	}

	if byID[5] != 80 {
		t.Errorf("query for 5 got level %v, want 80", byID[5])
	}
	if byID[7] != 20 {
		t.Errorf("query for 7 got level %v, want 20", byID[7])
	}
}

func TestDispatcherFIFOSameKey(t *testing.T) {
	sender := &mockSender{}
	d := NewDispatcher(sender)

	type result struct {
		order int
		level float64
	}
	results := make(chan result, 2)

	issue := func(order int) {
		ev, err := d.Query(context.Background(), OpOutput, 2, 1, time.Second)
		if err != nil {
			t.Errorf("Query() unexpected error: %v", err)
			return
		}
		level, _ := ev.Level()
		results <- result{order: order, level: level}
	}

	go issue(1)
	waitFor(t, func() bool { return d.PendingCount() == 1 })
	go issue(2)
	waitFor(t, func() bool { return d.PendingCount() == 2 })

	// First feedback resolves the first query, second the second.
	d.Dispatch(mustEvent(t, "~OUTPUT,2,1,10.00"))
	d.Dispatch(mustEvent(t, "~OUTPUT,2,1,20.00"))

	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			want := float64(r.order * 10)
			if r.level != want {
				t.Errorf("query %d got level %v, want %v", r.order, r.level, want)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for query results")
		}
	}
}

func TestDispatcherQueryTimeout(t *testing.T) {
	sender := &mockSender{}
	d := NewDispatcher(sender)

	start := time.Now()
	_, err := d.Query(context.Background(), OpOutput, 2, 1, 50*time.Millisecond)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrQueryTimeout) {
		t.Fatalf("Query() error = %v, want ErrQueryTimeout", err)
	}
	if want := "?OUTPUT,2,1 after 50ms"; !strings.Contains(err.Error(), want) {
		t.Errorf("Query() error = %q, want it to contain %q", err.Error(), want)
	}
	if elapsed < 50*time.Millisecond {
		t.Errorf("query returned after %v, before the timeout", elapsed)
	}
	if d.PendingCount() != 0 {
		t.Errorf("pending = %d, want 0 after timeout", d.PendingCount())
	}
}

func TestDispatcherQuerySendError(t *testing.T) {
	sendErr := errors.New("socket closed")
	sender := &mockSender{sendErr: sendErr}
	d := NewDispatcher(sender)

	_, err := d.Query(context.Background(), OpOutput, 2, 1, time.Second)
	if !errors.Is(err, sendErr) {
		t.Fatalf("Query() error = %v, want %v", err, sendErr)
	}
	if d.PendingCount() != 0 {
		t.Errorf("pending = %d, want 0 after send failure", d.PendingCount())
	}
}

func TestDispatcherContextCancelled(t *testing.T) {
	sender := &mockSender{}
	d := NewDispatcher(sender)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := d.Query(ctx, OpOutput, 2, 1, time.Minute)
		done <- err
	}()

	waitFor(t, func() bool { return d.PendingCount() == 1 })
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Query() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("query did not return after cancellation")
	}

	if d.PendingCount() != 0 {
		t.Errorf("pending = %d, want 0 after cancellation", d.PendingCount())
	}
}

func TestDispatcherFailAll(t *testing.T) {
	sender := &mockSender{}
	d := NewDispatcher(sender)

	const queries = 3
	done := make(chan error, queries)
	for i := 0; i < queries; i++ {
		go func(id int) {
			_, err := d.Query(context.Background(), OpOutput, id+1, 1, time.Minute)
			done <- err
		}(i)
	}

	waitFor(t, func() bool { return d.PendingCount() == queries })
	d.FailAll(ErrConnectionLost)

	for i := 0; i < queries; i++ {
		select {
		case err := <-done:
			if !errors.Is(err, ErrConnectionLost) {
				t.Errorf("Query() error = %v, want ErrConnectionLost", err)
			}
		case <-time.After(time.Second):
			t.Fatal("query did not return after FailAll")
		}
	}

	if d.PendingCount() != 0 {
		t.Errorf("pending = %d, want 0 after FailAll", d.PendingCount())
	}
}

func TestDispatcherUnmatchedFeedback(t *testing.T) {
	sender := &mockSender{}
	d := NewDispatcher(sender)

	if d.Dispatch(mustEvent(t, "~OUTPUT,2,1,75.00")) {
		t.Error("Dispatch() = true with no pending queries, want false")
	}
}

// mustEvent decodes a feedback line or fails the test.
func mustEvent(t *testing.T, line string) Event {
	t.Helper()
	dec, err := DecodeLine(line)
	if err != nil {
		t.Fatalf("DecodeLine(%q) unexpected error: %v", line, err)
	}
	if dec.Kind != KindEvent {
		t.Fatalf("DecodeLine(%q) kind = %v, want KindEvent", line, dec.Kind)
	}
	return dec.Event
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}
