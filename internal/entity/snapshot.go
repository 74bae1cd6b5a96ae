package entity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cosmo-home/cosmocore/internal/infrastructure/database"
)

// SnapshotStore persists registry dumps to SQLite for crash recovery.
// The core dumps on shutdown and restores on boot; the store replaces the
// whole snapshot atomically on every save.
type SnapshotStore struct {
	db *database.DB
}

// NewSnapshotStore creates a SnapshotStore backed by the given database.
func NewSnapshotStore(db *database.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Save replaces the persisted snapshot with the given dump in a single
// transaction.
func (s *SnapshotStore) Save(ctx context.Context, snapshots []Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning snapshot transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.ExecContext(ctx, `DELETE FROM state_snapshot`); err != nil {
		return fmt.Errorf("clearing previous snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO state_snapshot
			(entity_id, domain, adapter_id, value, value_spec, available, last_changed, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing snapshot insert: %w", err)
	}
	defer stmt.Close()

	for _, snap := range snapshots {
		valueJSON, err := json.Marshal(snap.Value)
		if err != nil {
			return fmt.Errorf("marshaling value for %s: %w", snap.EntityID, err)
		}
		specJSON, err := json.Marshal(snap.Spec)
		if err != nil {
			return fmt.Errorf("marshaling spec for %s: %w", snap.EntityID, err)
		}

		_, err = stmt.ExecContext(ctx,
			snap.EntityID,
			snap.Domain,
			snap.AdapterID,
			string(valueJSON),
			string(specJSON),
			snap.Available,
			snap.LastChanged.UTC().Format(time.RFC3339Nano),
			snap.LastUpdated.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("inserting snapshot for %s: %w", snap.EntityID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot: %w", err)
	}

	return nil
}

// Load returns the persisted snapshot, ordered by entity ID. An empty
// store returns an empty slice, not an error.
func (s *SnapshotStore) Load(ctx context.Context) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, domain, adapter_id, value, value_spec, available, last_changed, last_updated
		FROM state_snapshot
		ORDER BY entity_id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying snapshot: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshot rows: %w", err)
	}

	return out, nil
}

func scanSnapshot(rows *sql.Rows) (Snapshot, error) {
	var (
		snap        Snapshot
		valueJSON   string
		specJSON    string
		lastChanged string
		lastUpdated string
	)

	err := rows.Scan(
		&snap.EntityID,
		&snap.Domain,
		&snap.AdapterID,
		&valueJSON,
		&specJSON,
		&snap.Available,
		&lastChanged,
		&lastUpdated,
	)
	if err != nil {
		return Snapshot{}, fmt.Errorf("scanning snapshot row: %w", err)
	}

	if err := json.Unmarshal([]byte(valueJSON), &snap.Value); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshaling value for %s: %w", snap.EntityID, err)
	}
	if err := json.Unmarshal([]byte(specJSON), &snap.Spec); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshaling spec for %s: %w", snap.EntityID, err)
	}
	if snap.LastChanged, err = time.Parse(time.RFC3339Nano, lastChanged); err != nil {
		return Snapshot{}, fmt.Errorf("parsing last_changed for %s: %w", snap.EntityID, err)
	}
	if snap.LastUpdated, err = time.Parse(time.RFC3339Nano, lastUpdated); err != nil {
		return Snapshot{}, fmt.Errorf("parsing last_updated for %s: %w", snap.EntityID, err)
	}

	return snap, nil
}
