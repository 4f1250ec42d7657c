package lip

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

// newTestClient wires a client to a fake controller over net.Pipe.
func newTestClient(t *testing.T) (*Client, *fakeController) {
	t.Helper()

	clientSide, serverSide := net.Pipe()
	controller := newFakeController(serverSide)
	go controller.run()

	c := NewClient(SessionConfig{
		Host:           "controller.test",
		ConnectTimeout: 2 * time.Second,
		ReadTimeout:    time.Second,
		PingInterval:   -1,
	})
	c.session.dial = func(ctx context.Context, network, address string) (net.Conn, error) {
		return clientSide, nil
	}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() unexpected error: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	return c, controller
}

func TestClientQueryAndPublish(t *testing.T) {
	c, controller := newTestClient(t)

	// Feedback answering a query must still reach subscribers.
	events := make(chan Event, 1)
	c.Subscribe(OpOutput, 2, func(ev Event) error {
		events <- ev
		return nil
	})

	done := make(chan struct{})
	var queryEv Event
	var queryErr error
	go func() {
		defer close(done)
		queryEv, queryErr = c.Query(context.Background(), OpOutput, 2, ActionZoneLevel)
	}()

	waitFor(t, func() bool { return c.PendingQueries() == 1 })
	controller.send("~OUTPUT,2,1,75.00")

	<-done
	if queryErr != nil {
		t.Fatalf("Query() unexpected error: %v", queryErr)
	}
	if level, ok := queryEv.Level(); !ok || level != 75 {
		t.Errorf("query level = %v (%v), want 75", level, ok)
	}

	sub := waitForEvent(t, events)
	if sub.Raw != queryEv.Raw {
		t.Errorf("subscriber saw %q, query saw %q", sub.Raw, queryEv.Raw)
	}
}

func TestClientExecute(t *testing.T) {
	c, controller := newTestClient(t)

	if err := c.Execute(OpDevice, 5, ActionButtonPress, Integer(3)); err != nil {
		t.Fatalf("Execute() unexpected error: %v", err)
	}

	got := waitForLines(t, controller, 3)
	if got[2] != "#DEVICE,5,3,3" {
		t.Errorf("controller received %q, want #DEVICE,5,3,3", got[2])
	}
}

func TestClientQueryTimeout(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.QueryTimeout(context.Background(), OpOutput, 2, 1, 50*time.Millisecond)
	if !errors.Is(err, ErrQueryTimeout) {
		t.Fatalf("QueryTimeout() error = %v, want ErrQueryTimeout", err)
	}
}

func TestClientDisconnectFailsPending(t *testing.T) {
	c, controller := newTestClient(t)

	done := make(chan error, 1)
	go func() {
		_, err := c.Query(context.Background(), OpOutput, 2, 1)
		done <- err
	}()

	waitFor(t, func() bool { return c.PendingQueries() == 1 })
	controller.conn.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrConnectionLost) {
			t.Errorf("Query() error = %v, want ErrConnectionLost", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("query not failed after disconnect")
	}
}

func TestClientUnsubscribe(t *testing.T) {
	c, controller := newTestClient(t)

	events := make(chan Event, 2)
	token := c.Subscribe(AnyOperation, AnyID, func(ev Event) error {
		events <- ev
		return nil
	})

	controller.send("~OUTPUT,2,1,75.00")
	waitForEvent(t, events)

	c.Unsubscribe(token)
	controller.send("~OUTPUT,2,1,50.00")

	select {
	case ev := <-events:
		t.Errorf("unexpected event after unsubscribe: %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClientLoadIntegrationReport(t *testing.T) {
	c, _ := newTestClient(t)

	if c.Model() != nil {
		t.Fatal("Model() != nil before any report loaded")
	}

	model, err := c.LoadIntegrationReport([]byte(nestedReport))
	if err != nil {
		t.Fatalf("LoadIntegrationReport() unexpected error: %v", err)
	}
	if model.NodeCount() != 4 {
		t.Errorf("node count = %d, want 4", model.NodeCount())
	}
	if c.Model() != model {
		t.Error("Model() does not return the loaded model")
	}

	if _, err := c.LoadIntegrationReport([]byte(`{broken`)); !errors.Is(err, ErrMalformedReport) {
		t.Errorf("LoadIntegrationReport() error = %v, want ErrMalformedReport", err)
	}
	if c.Model() != model {
		t.Error("failed load replaced the existing model")
	}
}
