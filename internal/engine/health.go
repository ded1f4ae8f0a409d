package engine

import (
	"math"
	"math/big"

	"github.com/google/uuid"

	"LendLedger/internal/fixedpoint"
)

// priceOf resolves the RATE-scaled rate of an asset against the unit of
// account. The unit of account itself always prices at exactly 1.0 and never
// goes stale.
func (e *Engine) priceOf(asset string) (int64, error) {
	if asset == e.cfg.QuoteAsset {
		return fixedpoint.RateOne, nil
	}
	return e.quoter.Price(asset)
}

// assetValue converts an amount in asset base units at a RATE-scaled rate
// into quote base units:
// amount * rate * 10^quoteDecimals / (1e9 * 10^assetDecimals).
func (e *Engine) assetValue(amount, rate int64, assetDecimals int, mode fixedpoint.RoundingMode) int64 {
	num := new(big.Int).Mul(big.NewInt(amount), big.NewInt(rate))
	num.Mul(num, big.NewInt(fixedpoint.Pow10(e.cfg.QuoteDecimals)))
	denom := new(big.Int).Mul(big.NewInt(fixedpoint.RateOne), big.NewInt(fixedpoint.Pow10(assetDecimals)))
	return fixedpoint.DivBig(num, denom, mode)
}

// collateralUnits is the inverse of assetValue: quote base units back into
// asset base units at the given rate.
func (e *Engine) collateralUnits(value, rate int64, assetDecimals int, mode fixedpoint.RoundingMode) int64 {
	num := new(big.Int).Mul(big.NewInt(value), big.NewInt(fixedpoint.RateOne))
	num.Mul(num, big.NewInt(fixedpoint.Pow10(assetDecimals)))
	denom := new(big.Int).Mul(big.NewInt(rate), big.NewInt(fixedpoint.Pow10(e.cfg.QuoteDecimals)))
	return fixedpoint.DivBig(num, denom, mode)
}

// healthFactorLocked computes the account's WAD-scaled health factor:
// risk-weighted collateral value over total debt value. maintenance selects
// the liquidation factor as the risk weight (the unsafe-position threshold);
// otherwise the collateral factor gates new borrows and withdrawals.
// Zero debt reports math.MaxInt64. Disabled collateral assets contribute
// nothing. Called with e.mu held.
func (e *Engine) healthFactorLocked(account uuid.UUID, maintenance bool) (int64, error) {
	totalDebt := new(big.Int)
	for _, asset := range e.positions.DebtAssets(account) {
		rate, err := e.priceOf(asset)
		if err != nil {
			return 0, err
		}
		decimals := e.cfg.QuoteDecimals
		if r, ok := e.reserves.Get(asset); ok {
			decimals = r.Decimals
		}
		debt := e.positions.GetDebt(account, asset)
		v := e.assetValue(debt, rate, decimals, fixedpoint.RoundUp)
		totalDebt.Add(totalDebt, big.NewInt(v))
	}
	if totalDebt.Sign() == 0 {
		return math.MaxInt64, nil
	}

	totalCollateral := new(big.Int)
	for _, asset := range e.positions.CollateralAssets(account) {
		cfg, ok := e.registry.Get(asset)
		if !ok || !cfg.Enabled {
			continue
		}
		rate, err := e.priceOf(asset)
		if err != nil {
			return 0, err
		}
		held := e.positions.GetCollateral(account, asset)
		v := e.assetValue(held, rate, cfg.AssetDecimals, fixedpoint.RoundDown)
		factor := cfg.CollateralFactor
		if maintenance {
			factor = cfg.LiquidationFactor
		}
		weighted := fixedpoint.WadMul(v, factor, fixedpoint.RoundDown)
		totalCollateral.Add(totalCollateral, big.NewInt(weighted))
	}

	totalCollateral.Mul(totalCollateral, big.NewInt(fixedpoint.Wad))
	return fixedpoint.DivBig(totalCollateral, totalDebt, fixedpoint.RoundDown), nil
}

// healthSnapshotLocked is the best-effort maintenance health factor for
// operation records; a price failure reports 0 rather than aborting an
// already-committed operation.
func (e *Engine) healthSnapshotLocked(account uuid.UUID) int64 {
	hf, err := e.healthFactorLocked(account, true)
	if err != nil {
		return 0
	}
	return hf
}

// accruedInterest is simple interest on a debt balance:
// debt * rate * elapsedSeconds / (1e18 * secondsPerYear), rounded up.
func accruedInterest(debt, rate, elapsed int64) int64 {
	num := new(big.Int).Mul(big.NewInt(debt), big.NewInt(rate))
	num.Mul(num, big.NewInt(elapsed))
	denom := new(big.Int).Mul(big.NewInt(fixedpoint.Wad), big.NewInt(fixedpoint.SecondsPerYear))
	return fixedpoint.DivBig(num, denom, fixedpoint.RoundUp)
}
