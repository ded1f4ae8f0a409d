package query

import "github.com/google/uuid"

// PositionResponse is an account's position for API queries. All responses
// carry as_of_sequence for freshness semantics.
type PositionResponse struct {
	Account        uuid.UUID        `json:"account"`
	Collateral     map[string]int64 `json:"collateral"`
	Debt           map[string]int64 `json:"debt"`
	HealthFactor   int64            `json:"health_factor"`
	NoDebt         bool             `json:"no_debt"`
	LastUpdateTime int64            `json:"last_update_time"`
	AsOfSequence   int64            `json:"as_of_sequence"`
}

// HealthResponse is the solvency view of an account.
type HealthResponse struct {
	Account uuid.UUID `json:"account"`

	// WAD-scaled maintenance health factor; liquidation opens below 1e18.
	HealthFactor int64 `json:"health_factor"`

	// WAD-scaled borrow health factor, the stricter gate on new borrows.
	BorrowHealthFactor int64 `json:"borrow_health_factor"`

	// NoDebt marks the "infinite" sentinel in both factors.
	NoDebt bool `json:"no_debt"`

	// Pending interest per debt asset since the position's last update.
	AccruedInterest map[string]int64 `json:"accrued_interest,omitempty"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// ReserveResponse is a loan asset's reserve state for API queries.
type ReserveResponse struct {
	Asset              string `json:"asset"`
	Decimals           int    `json:"decimals"`
	TotalLiquidity     int64  `json:"total_liquidity"`
	TotalBorrowed      int64  `json:"total_borrowed"`
	AvailableLiquidity int64  `json:"available_liquidity"`
	BorrowRate         int64  `json:"borrow_rate"`
	UtilizationRate    int64  `json:"utilization_rate"`
	Active             bool   `json:"active"`
	AsOfSequence       int64  `json:"as_of_sequence"`
}

// CollateralResponse is a collateral asset's risk configuration.
type CollateralResponse struct {
	Asset              string `json:"asset"`
	Enabled            bool   `json:"enabled"`
	CollateralFactor   int64  `json:"collateral_factor"`
	LiquidationFactor  int64  `json:"liquidation_factor"`
	LiquidationPenalty int64  `json:"liquidation_penalty"`
	PriceSource        string `json:"price_source"`
	AssetDecimals      int    `json:"asset_decimals"`
	AsOfSequence       int64  `json:"as_of_sequence"`
}

// PriceResponse is the oracle's current TWAP rate for an asset.
type PriceResponse struct {
	Asset        string `json:"asset"`
	Rate         int64  `json:"rate"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// OperationResponse is one operation-log entry for history queries.
type OperationResponse struct {
	Sequence        int64  `json:"sequence"`
	Kind            string `json:"kind"`
	Account         string `json:"account,omitempty"`
	Liquidator      string `json:"liquidator,omitempty"`
	Asset           string `json:"asset,omitempty"`
	Amount          int64  `json:"amount,omitempty"`
	CollateralAsset string `json:"collateral_asset,omitempty"`
	SeizedAmount    int64  `json:"seized_amount,omitempty"`
	HealthFactor    int64  `json:"health_factor,omitempty"`
	Timestamp       int64  `json:"timestamp"`
}
