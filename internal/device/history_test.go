package device

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-lutron/internal/infrastructure/database"
	_ "github.com/nerrad567/gray-logic-lutron/migrations"
)

func newTestHistory(t *testing.T) *History {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewHistory(db)
}

func TestRecordAndRecentStates(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	states := []map[string]any{
		{"level": 25.0, "on": true},
		{"level": 75.0, "on": true},
		{"level": 0.0, "on": false},
	}
	for _, s := range states {
		if err := h.RecordState(ctx, 5, s); err != nil {
			t.Fatalf("RecordState() error = %v", err)
		}
	}

	records, err := h.RecentStates(ctx, 5, 10)
	if err != nil {
		t.Fatalf("RecentStates() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("RecentStates() returned %d records, want 3", len(records))
	}

	// Newest first.
	if got := records[0].State["level"]; got != 0.0 {
		t.Errorf("newest record level = %v, want 0", got)
	}
	if got := records[2].State["level"]; got != 25.0 {
		t.Errorf("oldest record level = %v, want 25", got)
	}
	if records[0].IntegrationID != 5 {
		t.Errorf("IntegrationID = %d, want 5", records[0].IntegrationID)
	}
	if records[0].ObservedAt.IsZero() {
		t.Error("ObservedAt should be set")
	}
}

func TestRecentStatesIsolatedByDevice(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	if err := h.RecordState(ctx, 5, map[string]any{"level": 50.0}); err != nil {
		t.Fatalf("RecordState() error = %v", err)
	}
	if err := h.RecordState(ctx, 7, map[string]any{"level": 80.0}); err != nil {
		t.Fatalf("RecordState() error = %v", err)
	}

	records, err := h.RecentStates(ctx, 5, 10)
	if err != nil {
		t.Fatalf("RecentStates() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("RecentStates(5) returned %d records, want 1", len(records))
	}
	if got := records[0].State["level"]; got != 50.0 {
		t.Errorf("device 5 level = %v, want 50", got)
	}
}

func TestRecentStatesLimit(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := h.RecordState(ctx, 2, map[string]any{"level": float64(i)}); err != nil {
			t.Fatalf("RecordState() error = %v", err)
		}
	}

	records, err := h.RecentStates(ctx, 2, 2)
	if err != nil {
		t.Fatalf("RecentStates() error = %v", err)
	}
	if len(records) != 2 {
		t.Errorf("RecentStates() returned %d records, want 2", len(records))
	}
}

func TestLastState(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	last, err := h.LastState(ctx, 9)
	if err != nil {
		t.Fatalf("LastState() error = %v", err)
	}
	if last != nil {
		t.Errorf("LastState() with no history = %+v, want nil", last)
	}

	if err := h.RecordState(ctx, 9, map[string]any{"on": false}); err != nil {
		t.Fatalf("RecordState() error = %v", err)
	}
	if err := h.RecordState(ctx, 9, map[string]any{"on": true}); err != nil {
		t.Fatalf("RecordState() error = %v", err)
	}

	last, err = h.LastState(ctx, 9)
	if err != nil {
		t.Fatalf("LastState() error = %v", err)
	}
	if last == nil {
		t.Fatal("LastState() = nil, want record")
	}
	if got := last.State["on"]; got != true {
		t.Errorf("last state on = %v, want true", got)
	}
}

func TestPrune(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	// Insert a row timestamped in the past, bypassing RecordState.
	old := time.Now().UTC().Add(-48 * time.Hour).Format(time.RFC3339Nano)
	if _, err := h.db.ExecContext(ctx,
		"INSERT INTO state_history (integration_id, state, observed_at) VALUES (?, ?, ?)",
		3, `{"level":10}`, old,
	); err != nil {
		t.Fatalf("inserting old row: %v", err)
	}
	if err := h.RecordState(ctx, 3, map[string]any{"level": 20.0}); err != nil {
		t.Fatalf("RecordState() error = %v", err)
	}

	removed, err := h.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Prune() removed %d rows, want 1", removed)
	}

	records, err := h.RecentStates(ctx, 3, 10)
	if err != nil {
		t.Fatalf("RecentStates() error = %v", err)
	}
	if len(records) != 1 {
		t.Errorf("records after prune = %d, want 1", len(records))
	}
}
