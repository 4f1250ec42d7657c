package device

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-lutron/internal/infrastructure/database"
)

// defaultRecentLimit bounds RecentStates when the caller passes an
// unusable limit.
const defaultRecentLimit = 50

// StateRecord is one observed state change for a device.
type StateRecord struct {
	// ID is the row identifier, assigned by the database.
	ID int64

	// IntegrationID identifies the device on the Lutron controller.
	IntegrationID int

	// State holds the observed state fields (level, on, ...).
	State map[string]any

	// ObservedAt is when the state change was recorded, UTC.
	ObservedAt time.Time
}

// History records and queries device state changes in SQLite.
type History struct {
	db *database.DB
}

// NewHistory creates a history store over an open database. The
// state_history table must already exist (run migrations first).
func NewHistory(db *database.DB) *History {
	return &History{db: db}
}

// RecordState persists one state observation for a device.
func (h *History) RecordState(ctx context.Context, integrationID int, state map[string]any) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding state for device %d: %w", integrationID, err)
	}

	_, err = h.db.ExecContext(ctx,
		"INSERT INTO state_history (integration_id, state, observed_at) VALUES (?, ?, ?)",
		integrationID,
		string(payload),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("recording state for device %d: %w", integrationID, err)
	}
	return nil
}

// RecentStates returns the most recent state changes for a device,
// newest first. A non-positive limit falls back to a sane default.
func (h *History) RecentStates(ctx context.Context, integrationID, limit int) ([]StateRecord, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	rows, err := h.db.QueryContext(ctx, `
		SELECT id, integration_id, state, observed_at
		FROM state_history
		WHERE integration_id = ?
		ORDER BY observed_at DESC, id DESC
		LIMIT ?
	`, integrationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying state history for device %d: %w", integrationID, err)
	}
	defer rows.Close()

	var records []StateRecord
	for rows.Next() {
		var r StateRecord
		var state, observedAt string
		if err := rows.Scan(&r.ID, &r.IntegrationID, &state, &observedAt); err != nil {
			return nil, fmt.Errorf("scanning state history row: %w", err)
		}
		if err := json.Unmarshal([]byte(state), &r.State); err != nil {
			return nil, fmt.Errorf("decoding state for row %d: %w", r.ID, err)
		}
		r.ObservedAt, err = time.Parse(time.RFC3339Nano, observedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp for row %d: %w", r.ID, err)
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}
	return records, nil
}

// LastState returns the most recent state for a device, or nil when
// the device has no recorded history.
func (h *History) LastState(ctx context.Context, integrationID int) (*StateRecord, error) {
	records, err := h.RecentStates(ctx, integrationID, 1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// Prune deletes state history older than the retention window and
// returns the number of rows removed.
func (h *History) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339Nano)

	result, err := h.db.ExecContext(ctx,
		"DELETE FROM state_history WHERE observed_at < ?", cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("pruning state history: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned rows: %w", err)
	}
	return removed, nil
}
