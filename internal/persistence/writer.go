package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"LendLedger/internal/engine"
)

// OperationRow is a row in lend_log.operations. The operation log is an
// append-only audit trail of every committed engine operation.
type OperationRow struct {
	Sequence        int64
	Kind            string
	Account         *string
	Liquidator      *string
	Asset           string
	Amount          int64
	CollateralAsset *string
	SeizedAmount    int64
	HealthFactor    int64
	Timestamp       time.Time
}

// RowFromRecord flattens an engine record into its storage shape.
func RowFromRecord(rec engine.Record) OperationRow {
	row := OperationRow{
		Sequence:     rec.Sequence,
		Kind:         string(rec.Kind),
		Asset:        rec.Asset,
		Amount:       rec.Amount,
		SeizedAmount: rec.SeizedAmount,
		HealthFactor: rec.HealthFactor,
		Timestamp:    rec.Timestamp,
	}
	if rec.Account != uuid.Nil {
		s := rec.Account.String()
		row.Account = &s
	}
	if rec.Liquidator != uuid.Nil {
		s := rec.Liquidator.String()
		row.Liquidator = &s
	}
	if rec.CollateralAsset != "" {
		s := rec.CollateralAsset
		row.CollateralAsset = &s
	}
	return row
}

// OperationLogWriter batch-writes operation rows using multi-row INSERT.
// Sequence is the primary key, so retried batches are idempotent.
type OperationLogWriter struct {
	db *sql.DB
}

func NewOperationLogWriter(db *sql.DB) *OperationLogWriter {
	return &OperationLogWriter{db: db}
}

// WriteBatch inserts a batch of operation rows inside the given transaction.
func (w *OperationLogWriter) WriteBatch(ctx context.Context, tx *sql.Tx, rows []OperationRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO lend_log.operations
		(sequence, kind, account, liquidator, asset, amount, collateral_asset, seized_amount, health_factor, timestamp)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*10)

	for i, r := range rows {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			r.Sequence, r.Kind, r.Account, r.Liquidator, r.Asset,
			r.Amount, r.CollateralAsset, r.SeizedAmount, r.HealthFactor, r.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
