package position

import (
	"sort"

	"github.com/google/uuid"
)

// UserPosition is the unit of solvency evaluation: per-asset collateral and
// debt balances in native asset base units, plus the last time the position
// was touched (used for interest accrual).
type UserPosition struct {
	Account        uuid.UUID
	Collateral     map[string]int64
	Debt           map[string]int64
	LastUpdateTime int64
}

// Ledger holds every account's position. It is a pure data holder: no
// validation lives here. The lending engine is the sole mutator and
// serializes all access; the ledger itself carries no locking.
type Ledger struct {
	positions map[uuid.UUID]*UserPosition
}

func NewLedger() *Ledger {
	return &Ledger{
		positions: make(map[uuid.UUID]*UserPosition),
	}
}

// getOrCreate returns the position, creating it implicitly on first touch.
func (l *Ledger) getOrCreate(account uuid.UUID) *UserPosition {
	pos, ok := l.positions[account]
	if !ok {
		pos = &UserPosition{
			Account:    account,
			Collateral: make(map[string]int64),
			Debt:       make(map[string]int64),
		}
		l.positions[account] = pos
	}
	return pos
}

// GetCollateral returns the collateral balance, 0 for unknown accounts.
func (l *Ledger) GetCollateral(account uuid.UUID, asset string) int64 {
	if pos, ok := l.positions[account]; ok {
		return pos.Collateral[asset]
	}
	return 0
}

// GetDebt returns the debt balance, 0 for unknown accounts.
func (l *Ledger) GetDebt(account uuid.UUID, asset string) int64 {
	if pos, ok := l.positions[account]; ok {
		return pos.Debt[asset]
	}
	return 0
}

// AdjustCollateral applies a signed delta and returns the new balance.
// Positions are created implicitly; zeroed entries are pruned so positions
// decay rather than being explicitly destroyed.
func (l *Ledger) AdjustCollateral(account uuid.UUID, asset string, delta int64) int64 {
	pos := l.getOrCreate(account)
	pos.Collateral[asset] += delta
	next := pos.Collateral[asset]
	if next == 0 {
		delete(pos.Collateral, asset)
	}
	return next
}

// AdjustDebt applies a signed delta and returns the new balance.
func (l *Ledger) AdjustDebt(account uuid.UUID, asset string, delta int64) int64 {
	pos := l.getOrCreate(account)
	pos.Debt[asset] += delta
	next := pos.Debt[asset]
	if next == 0 {
		delete(pos.Debt, asset)
	}
	return next
}

// Touch records the last update time for an account.
func (l *Ledger) Touch(account uuid.UUID, now int64) {
	l.getOrCreate(account).LastUpdateTime = now
}

// LastUpdateTime returns when the account was last touched, 0 if never.
func (l *Ledger) LastUpdateTime(account uuid.UUID) int64 {
	if pos, ok := l.positions[account]; ok {
		return pos.LastUpdateTime
	}
	return 0
}

// CollateralAssets returns the account's collateral assets in deterministic order.
func (l *Ledger) CollateralAssets(account uuid.UUID) []string {
	pos, ok := l.positions[account]
	if !ok {
		return nil
	}
	assets := make([]string, 0, len(pos.Collateral))
	for asset := range pos.Collateral {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets
}

// DebtAssets returns the account's debt assets in deterministic order.
func (l *Ledger) DebtAssets(account uuid.UUID) []string {
	pos, ok := l.positions[account]
	if !ok {
		return nil
	}
	assets := make([]string, 0, len(pos.Debt))
	for asset := range pos.Debt {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets
}

// Get returns a deep copy of the position, false for unknown accounts.
func (l *Ledger) Get(account uuid.UUID) (UserPosition, bool) {
	pos, ok := l.positions[account]
	if !ok {
		return UserPosition{}, false
	}
	return copyPosition(pos), true
}

// Accounts returns every account with a position, in deterministic order.
func (l *Ledger) Accounts() []uuid.UUID {
	accounts := make([]uuid.UUID, 0, len(l.positions))
	for account := range l.positions {
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].String() < accounts[j].String()
	})
	return accounts
}

// Snapshot returns deep copies of all positions, for persistence.
func (l *Ledger) Snapshot() []UserPosition {
	accounts := l.Accounts()
	out := make([]UserPosition, 0, len(accounts))
	for _, account := range accounts {
		out = append(out, copyPosition(l.positions[account]))
	}
	return out
}

// Restore replaces the ledger contents from a snapshot.
func (l *Ledger) Restore(positions []UserPosition) {
	l.positions = make(map[uuid.UUID]*UserPosition, len(positions))
	for _, snap := range positions {
		pos := &UserPosition{
			Account:        snap.Account,
			Collateral:     make(map[string]int64, len(snap.Collateral)),
			Debt:           make(map[string]int64, len(snap.Debt)),
			LastUpdateTime: snap.LastUpdateTime,
		}
		for asset, amount := range snap.Collateral {
			pos.Collateral[asset] = amount
		}
		for asset, amount := range snap.Debt {
			pos.Debt[asset] = amount
		}
		l.positions[snap.Account] = pos
	}
}

func copyPosition(pos *UserPosition) UserPosition {
	out := UserPosition{
		Account:        pos.Account,
		Collateral:     make(map[string]int64, len(pos.Collateral)),
		Debt:           make(map[string]int64, len(pos.Debt)),
		LastUpdateTime: pos.LastUpdateTime,
	}
	for asset, amount := range pos.Collateral {
		out.Collateral[asset] = amount
	}
	for asset, amount := range pos.Debt {
		out.Debt[asset] = amount
	}
	return out
}
