package risk

import (
	"fmt"

	"LendLedger/internal/fixedpoint"
)

// InterestRateModel maps reserve utilization to an annualized borrow rate.
// Piecewise linear with a kink at Optimal:
//
//	u <= optimal: base + u/optimal * slope1
//	u >  optimal: base + slope1 + (u-optimal)/(1-optimal) * slope2
//
// All parameters and the result are WAD-scaled. The model is pure: no state,
// no failure modes, monotone non-decreasing and continuous at the kink.
type InterestRateModel struct {
	Base    int64
	Slope1  int64
	Slope2  int64
	Optimal int64
}

// DefaultInterestRateModel returns base=5%, slope1=10%, slope2=30%, optimal=80%.
func DefaultInterestRateModel() InterestRateModel {
	return InterestRateModel{
		Base:    fixedpoint.Wad / 100 * 5,
		Slope1:  fixedpoint.Wad / 100 * 10,
		Slope2:  fixedpoint.Wad / 100 * 30,
		Optimal: fixedpoint.Wad / 100 * 80,
	}
}

// BorrowRate returns the annualized borrow rate for a WAD-scaled utilization.
func (m InterestRateModel) BorrowRate(utilization int64) int64 {
	if utilization <= m.Optimal {
		return m.Base + fixedpoint.MulDiv(utilization, m.Slope1, m.Optimal, fixedpoint.RoundDown)
	}
	excess := utilization - m.Optimal
	return m.Base + m.Slope1 +
		fixedpoint.MulDiv(excess, m.Slope2, fixedpoint.Wad-m.Optimal, fixedpoint.RoundDown)
}

// Validate checks the model parameters are internally consistent.
func (m InterestRateModel) Validate() error {
	if m.Optimal <= 0 || m.Optimal >= fixedpoint.Wad {
		return fmt.Errorf("optimal utilization must be in (0, 1), got %d", m.Optimal)
	}
	if m.Base < 0 || m.Slope1 < 0 || m.Slope2 < 0 {
		return fmt.Errorf("rate parameters must be non-negative")
	}
	return nil
}
