package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"LendLedger/internal/engine"
)

// SnapshotManager stores and loads full engine-state snapshots. The engine
// state is small (positions, reserves, collateral configs, supplies), so a
// snapshot is one JSON blob keyed by sequence. Recovery restores the latest
// verified snapshot; the operation log stays an audit trail, not a replay
// source, because replaying operations would re-trigger token transfers.
type SnapshotManager struct {
	db *sql.DB
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// Save persists a snapshot. Re-snapshotting at the same sequence overwrites.
func (sm *SnapshotManager) Save(ctx context.Context, snap engine.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO lend_log.snapshots
			(snapshot_id, sequence, data, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, FALSE, $5)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, size_bytes = $4
	`, uuid.New(), snap.Sequence, data, len(data), time.Now())

	return err
}

// LoadLatest loads the most recent verified snapshot. A nil snapshot with a
// nil error means cold start.
func (sm *SnapshotManager) LoadLatest(ctx context.Context) (*engine.Snapshot, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM lend_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap engine.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot usable for recovery. Snapshots taken from
// live state are verified immediately after saving.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE lend_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadOperationsFrom pages through the operation log for history queries.
func (sm *SnapshotManager) LoadOperationsFrom(ctx context.Context, fromSequence int64, limit int) ([]OperationRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, kind, account, liquidator, asset, amount,
		       collateral_asset, seized_amount, health_factor, timestamp
		FROM lend_log.operations
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OperationRow
	for rows.Next() {
		var r OperationRow
		if err := rows.Scan(
			&r.Sequence, &r.Kind, &r.Account, &r.Liquidator, &r.Asset,
			&r.Amount, &r.CollateralAsset, &r.SeizedAmount, &r.HealthFactor, &r.Timestamp,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}

	return out, rows.Err()
}

// LatestSequence returns the highest sequence in the operation log.
func (sm *SnapshotManager) LatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM lend_log.operations
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}
