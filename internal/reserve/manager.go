package reserve

import (
	"errors"
	"fmt"
	"sort"

	"LendLedger/internal/fixedpoint"
	"LendLedger/internal/risk"
)

var (
	// ErrReserveNotFound means no reserve is registered for the loan asset.
	ErrReserveNotFound = errors.New("reserve not registered")

	// ErrReserveInactive gates new borrows on deactivated reserves.
	ErrReserveInactive = errors.New("reserve inactive")

	// ErrInsufficientLiquidity means a borrow or supply withdrawal would
	// exceed the reserve's available liquidity.
	ErrInsufficientLiquidity = errors.New("insufficient reserve liquidity")
)

// ReserveData is the aggregate state of one loan asset.
// Invariant: TotalBorrowed <= TotalLiquidity after every operation.
type ReserveData struct {
	Asset           string
	Decimals        int
	TotalLiquidity  int64
	TotalBorrowed   int64
	BorrowRate      int64 // annualized, WAD
	UtilizationRate int64 // WAD
	Active          bool
}

// Manager tracks per-loan-asset liquidity and outstanding borrows, and
// refreshes the effective borrow rate through the interest rate model after
// every state change. Mutation is exclusive to the lending engine, which
// serializes access; reads through the engine share that serialization.
type Manager struct {
	reserves map[string]*ReserveData
	model    risk.InterestRateModel
}

func NewManager(model risk.InterestRateModel) *Manager {
	return &Manager{
		reserves: make(map[string]*ReserveData),
		model:    model,
	}
}

// Register creates a reserve for a loan asset. Re-registering updates the
// decimals and active flag in place without touching balances.
func (m *Manager) Register(asset string, decimals int, active bool) {
	if r, ok := m.reserves[asset]; ok {
		r.Decimals = decimals
		r.Active = active
		return
	}
	r := &ReserveData{
		Asset:    asset,
		Decimals: decimals,
		Active:   active,
	}
	m.refresh(r)
	m.reserves[asset] = r
}

// SetActive flips the administrative gate. Inactive reserves reject new
// borrows; repays and withdrawals continue to work.
func (m *Manager) SetActive(asset string, active bool) error {
	r, ok := m.reserves[asset]
	if !ok {
		return fmt.Errorf("%w: %s", ErrReserveNotFound, asset)
	}
	r.Active = active
	return nil
}

// Get returns a copy of the reserve state.
func (m *Manager) Get(asset string) (ReserveData, bool) {
	r, ok := m.reserves[asset]
	if !ok {
		return ReserveData{}, false
	}
	return *r, true
}

// AvailableLiquidity returns totalLiquidity - totalBorrowed, 0 for unknown assets.
func (m *Manager) AvailableLiquidity(asset string) int64 {
	r, ok := m.reserves[asset]
	if !ok {
		return 0
	}
	return r.TotalLiquidity - r.TotalBorrowed
}

// OnSupply adds liquidity to the reserve.
func (m *Manager) OnSupply(asset string, amount int64) error {
	r, ok := m.reserves[asset]
	if !ok {
		return fmt.Errorf("%w: %s", ErrReserveNotFound, asset)
	}
	r.TotalLiquidity += amount
	m.refresh(r)
	return nil
}

// OnWithdrawSupply removes liquidity. Liquidity backing outstanding borrows
// cannot leave the reserve.
func (m *Manager) OnWithdrawSupply(asset string, amount int64) error {
	r, ok := m.reserves[asset]
	if !ok {
		return fmt.Errorf("%w: %s", ErrReserveNotFound, asset)
	}
	if amount > r.TotalLiquidity-r.TotalBorrowed {
		return fmt.Errorf("%w: %s available=%d requested=%d",
			ErrInsufficientLiquidity, asset, r.TotalLiquidity-r.TotalBorrowed, amount)
	}
	r.TotalLiquidity -= amount
	m.refresh(r)
	return nil
}

// OnBorrow records an outgoing borrow against the reserve.
func (m *Manager) OnBorrow(asset string, amount int64) error {
	r, ok := m.reserves[asset]
	if !ok {
		return fmt.Errorf("%w: %s", ErrReserveNotFound, asset)
	}
	if !r.Active {
		return fmt.Errorf("%w: %s", ErrReserveInactive, asset)
	}
	if amount > r.TotalLiquidity-r.TotalBorrowed {
		return fmt.Errorf("%w: %s available=%d requested=%d",
			ErrInsufficientLiquidity, asset, r.TotalLiquidity-r.TotalBorrowed, amount)
	}
	r.TotalBorrowed += amount
	m.refresh(r)
	return nil
}

// OnRepay records debt coming back into the reserve.
func (m *Manager) OnRepay(asset string, amount int64) error {
	r, ok := m.reserves[asset]
	if !ok {
		return fmt.Errorf("%w: %s", ErrReserveNotFound, asset)
	}
	if amount > r.TotalBorrowed {
		amount = r.TotalBorrowed
	}
	r.TotalBorrowed -= amount
	m.refresh(r)
	return nil
}

// ReverseRepay undoes a previously applied repay when a later step of the
// same operation fails. Unlike OnBorrow it bypasses the active and liquidity
// gates: the reserve is simply restored to its pre-repay state.
func (m *Manager) ReverseRepay(asset string, amount int64) error {
	r, ok := m.reserves[asset]
	if !ok {
		return fmt.Errorf("%w: %s", ErrReserveNotFound, asset)
	}
	r.TotalBorrowed += amount
	m.refresh(r)
	return nil
}

// OnInterestAccrued grows both outstanding borrows and liquidity by accrued
// interest: the debt is owed to the pool, so the pool's claim grows with it.
func (m *Manager) OnInterestAccrued(asset string, amount int64) error {
	r, ok := m.reserves[asset]
	if !ok {
		return fmt.Errorf("%w: %s", ErrReserveNotFound, asset)
	}
	r.TotalBorrowed += amount
	r.TotalLiquidity += amount
	m.refresh(r)
	return nil
}

// refresh recomputes utilization (0 when the reserve holds nothing) and the
// effective borrow rate.
func (m *Manager) refresh(r *ReserveData) {
	if r.TotalLiquidity == 0 {
		r.UtilizationRate = 0
	} else {
		r.UtilizationRate = fixedpoint.WadDiv(r.TotalBorrowed, r.TotalLiquidity, fixedpoint.RoundDown)
	}
	r.BorrowRate = m.model.BorrowRate(r.UtilizationRate)
}

// Assets returns registered loan assets in deterministic order.
func (m *Manager) Assets() []string {
	assets := make([]string, 0, len(m.reserves))
	for asset := range m.reserves {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets
}

// Snapshot returns copies of every reserve, for persistence.
func (m *Manager) Snapshot() []ReserveData {
	out := make([]ReserveData, 0, len(m.reserves))
	for _, asset := range m.Assets() {
		out = append(out, *m.reserves[asset])
	}
	return out
}

// Restore replaces manager contents from a snapshot.
func (m *Manager) Restore(reserves []ReserveData) {
	m.reserves = make(map[string]*ReserveData, len(reserves))
	for _, snap := range reserves {
		r := snap
		m.refresh(&r)
		m.reserves[snap.Asset] = &r
	}
}
