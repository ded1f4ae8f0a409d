package engine

import (
	"fmt"
	"time"

	"LendLedger/internal/fixedpoint"
	"LendLedger/internal/risk"
)

// The administrative surface. Simple setters, but they still flow through
// the engine so every state change lands in the operation log with a
// sequence number.

// ConfigureCollateral registers or updates a collateral asset's risk
// parameters. Re-applying the same configuration is idempotent.
func (e *Engine) ConfigureCollateral(cfg risk.CollateralConfig) error {
	start := time.Now()
	now := e.cfg.Now()

	e.mu.Lock()
	if err := e.registry.Configure(cfg); err != nil {
		e.mu.Unlock()
		return e.reject(KindConfigureCollateral, "invalid_configuration", err)
	}
	rec := e.commit(Record{
		Kind: KindConfigureCollateral, Timestamp: now,
		Asset: cfg.Asset,
	})
	e.mu.Unlock()

	e.emit(rec, start)
	return nil
}

// SetCollateralEnabled flips a collateral asset's enablement. Disabled
// assets stop counting toward health factors and reject new deposits;
// existing balances stay queryable and seizable.
func (e *Engine) SetCollateralEnabled(asset string, enabled bool) error {
	start := time.Now()
	now := e.cfg.Now()

	e.mu.Lock()
	if err := e.registry.SetEnabled(asset, enabled); err != nil {
		e.mu.Unlock()
		return e.reject(KindSetCollateralState, "asset_not_supported", err)
	}
	rec := e.commit(Record{
		Kind: KindSetCollateralState, Timestamp: now,
		Asset: asset, Amount: boolAmount(enabled),
	})
	e.mu.Unlock()

	e.emit(rec, start)
	return nil
}

// RegisterReserve creates (or re-registers) a loan-asset reserve.
func (e *Engine) RegisterReserve(asset string, decimals int, active bool) error {
	start := time.Now()
	if asset == "" || decimals < 0 || decimals > fixedpoint.WadDecimals {
		return e.reject(KindRegisterReserve, "invalid_configuration",
			fmt.Errorf("%w: asset %q decimals %d", risk.ErrInvalidConfiguration, asset, decimals))
	}
	now := e.cfg.Now()

	e.mu.Lock()
	e.reserves.Register(asset, decimals, active)
	e.publishReserveMetricsLocked(asset)
	rec := e.commit(Record{
		Kind: KindRegisterReserve, Timestamp: now,
		Asset: asset, Amount: boolAmount(active),
	})
	e.mu.Unlock()

	e.emit(rec, start)
	return nil
}

// SetReserveActive flips the reserve's administrative gate. Inactive
// reserves reject new borrows; repays and withdrawals keep working.
func (e *Engine) SetReserveActive(asset string, active bool) error {
	start := time.Now()
	now := e.cfg.Now()

	e.mu.Lock()
	if err := e.reserves.SetActive(asset, active); err != nil {
		e.mu.Unlock()
		return e.reject(KindSetReserveState, "reserve_not_found", err)
	}
	rec := e.commit(Record{
		Kind: KindSetReserveState, Timestamp: now,
		Asset: asset, Amount: boolAmount(active),
	})
	e.mu.Unlock()

	e.emit(rec, start)
	return nil
}

// boolAmount encodes an on/off flip into the record's amount field.
func boolAmount(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
