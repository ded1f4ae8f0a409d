package engine

import (
	"sort"

	"github.com/google/uuid"

	"LendLedger/internal/position"
	"LendLedger/internal/reserve"
	"LendLedger/internal/risk"
)

// Read-only surface. Every accessor takes the state mutex so a reader never
// observes a half-applied operation.

// HealthFactor reports the account's maintenance health factor, the value
// liquidation eligibility is judged by. math.MaxInt64 means no debt.
func (e *Engine) HealthFactor(account uuid.UUID) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.healthFactorLocked(account, true)
}

// BorrowHealthFactor reports the stricter health factor that gates new
// borrows and withdrawals (collateral factor as the risk weight).
func (e *Engine) BorrowHealthFactor(account uuid.UUID) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.healthFactorLocked(account, false)
}

// Position returns a deep copy of the account's position.
func (e *Engine) Position(account uuid.UUID) (position.UserPosition, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positions.Get(account)
}

// Reserve returns a copy of the loan asset's reserve state.
func (e *Engine) Reserve(asset string) (reserve.ReserveData, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reserves.Get(asset)
}

// AvailableLiquidity reports totalLiquidity - totalBorrowed for the asset.
func (e *Engine) AvailableLiquidity(asset string) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reserves.AvailableLiquidity(asset)
}

// ReserveAssets lists registered loan assets in deterministic order.
func (e *Engine) ReserveAssets() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reserves.Assets()
}

// CollateralConfig returns the risk parameters for a collateral asset.
func (e *Engine) CollateralConfig(asset string) (risk.CollateralConfig, bool) {
	return e.registry.Get(asset)
}

// CollateralAssets lists configured collateral assets in deterministic order.
func (e *Engine) CollateralAssets() []string {
	return e.registry.Assets()
}

// AccruedInterest reports per-asset interest grown since the account's last
// update, without applying it. The next mutating operation folds it into the
// debt balance.
func (e *Engine) AccruedInterest(account uuid.UUID) map[string]int64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	last := e.positions.LastUpdateTime(account)
	now := e.cfg.Now().Unix()
	out := make(map[string]int64)
	if last == 0 || now <= last {
		return out
	}
	for _, asset := range e.positions.DebtAssets(account) {
		r, ok := e.reserves.Get(asset)
		if !ok || r.BorrowRate == 0 {
			continue
		}
		debt := e.positions.GetDebt(account, asset)
		if interest := accruedInterest(debt, r.BorrowRate, now-last); interest > 0 {
			out[asset] = interest
		}
	}
	return out
}

// SupplyOf reports the provider's outstanding liquidity stake in a reserve.
func (e *Engine) SupplyOf(provider uuid.UUID, asset string) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.supplyOfLocked(provider, asset)
}

// Sequence reports the last committed operation sequence.
func (e *Engine) Sequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence
}

// Snapshot captures the full recoverable state at the current sequence.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	supplies := make([]SupplyBalance, 0, len(e.supplies))
	for provider, byAsset := range e.supplies {
		for asset, amount := range byAsset {
			supplies = append(supplies, SupplyBalance{Provider: provider, Asset: asset, Amount: amount})
		}
	}
	sort.Slice(supplies, func(i, j int) bool {
		if supplies[i].Provider.String() != supplies[j].Provider.String() {
			return supplies[i].Provider.String() < supplies[j].Provider.String()
		}
		return supplies[i].Asset < supplies[j].Asset
	})

	return Snapshot{
		Sequence:   e.sequence,
		Positions:  e.positions.Snapshot(),
		Reserves:   e.reserves.Snapshot(),
		Collateral: e.registry.Snapshot(),
		Supplies:   supplies,
	}
}

// Restore replaces engine state from a snapshot. Called once at startup
// before any operation is accepted.
func (e *Engine) Restore(snap Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sequence = snap.Sequence
	e.positions.Restore(snap.Positions)
	e.reserves.Restore(snap.Reserves)
	e.registry.Restore(snap.Collateral)

	e.supplies = make(map[uuid.UUID]map[string]int64)
	for _, s := range snap.Supplies {
		byAsset, ok := e.supplies[s.Provider]
		if !ok {
			byAsset = make(map[string]int64)
			e.supplies[s.Provider] = byAsset
		}
		byAsset[s.Asset] = s.Amount
	}

	if e.metrics != nil {
		e.metrics.EngineSequence.Set(float64(e.sequence))
		for _, asset := range e.reserves.Assets() {
			e.publishReserveMetricsLocked(asset)
		}
	}
}
