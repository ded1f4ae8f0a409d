package engine

import (
	"time"

	"github.com/google/uuid"

	"LendLedger/internal/position"
	"LendLedger/internal/reserve"
	"LendLedger/internal/risk"
)

// Kind identifies an applied operation in the operation log and on the
// outbound event stream.
type Kind string

const (
	KindDeposit             Kind = "deposit"
	KindWithdraw            Kind = "withdraw"
	KindBorrow              Kind = "borrow"
	KindRepay               Kind = "repay"
	KindLiquidate           Kind = "liquidate"
	KindSupply              Kind = "supply"
	KindWithdrawSupply      Kind = "withdraw_supply"
	KindConfigureCollateral Kind = "configure_collateral"
	KindSetCollateralState  Kind = "set_collateral_state"
	KindRegisterReserve     Kind = "register_reserve"
	KindSetReserveState     Kind = "set_reserve_state"
)

// Record is the engine's canonical account of one applied operation. The
// persistence worker appends it to the operation log and the publisher
// forwards it to the event stream. Sequence numbers are assigned only to
// committed operations, gap-free and strictly increasing.
type Record struct {
	Sequence  int64     `json:"sequence"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	Account uuid.UUID `json:"account,omitempty"`
	Asset   string    `json:"asset,omitempty"`
	Amount  int64     `json:"amount,omitempty"`

	// Liquidation only.
	Liquidator      uuid.UUID `json:"liquidator,omitempty"`
	CollateralAsset string    `json:"collateral_asset,omitempty"`
	SeizedAmount    int64     `json:"seized_amount,omitempty"`

	// Health factor of the acting account after the operation, WAD-scaled.
	// math.MaxInt64 stands in for "no debt".
	HealthFactor int64 `json:"health_factor,omitempty"`
}

// SupplyBalance is one liquidity provider's stake in one reserve.
type SupplyBalance struct {
	Provider uuid.UUID `json:"provider"`
	Asset    string    `json:"asset"`
	Amount   int64     `json:"amount"`
}

// Snapshot is the full recoverable engine state. The persistence layer
// serializes it as a JSON blob keyed by sequence.
type Snapshot struct {
	Sequence   int64                   `json:"sequence"`
	Positions  []position.UserPosition `json:"positions"`
	Reserves   []reserve.ReserveData   `json:"reserves"`
	Collateral []risk.CollateralConfig `json:"collateral"`
	Supplies   []SupplyBalance         `json:"supplies"`
}
