package fixedpoint

import (
	"math"
	"math/big"
	"sync"
)

// All ratios (interest rates, factors, utilization, health factor) are int64
// fixed-point at WAD scale: 1e18 == 100%. Asset amounts stay in native asset
// decimals.
//
// Exchange rates use the coarser RATE scale: 1e9 == one unit of account per
// whole asset unit. A WAD-scaled price would cap out near 9.2 units of
// account in int64; the rate scale carries prices up to ~9.2e9 while keeping
// nano-unit precision.
const (
	WadDecimals = 18
	Wad         = int64(1_000_000_000_000_000_000)

	RateDecimals = 9
	RateOne      = int64(1_000_000_000)

	SecondsPerYear = int64(31_536_000)
)

// RoundingMode selects the rounding direction for divisions.
// The engine rounds down for amounts it pays out and up for amounts it is
// owed, so precision loss always lands on the protocol's side.
type RoundingMode int

const (
	RoundDown RoundingMode = iota
	RoundUp
	RoundHalfEven
)

var bigIntPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getBig() *big.Int {
	return bigIntPool.Get().(*big.Int)
}

func putBig(v *big.Int) {
	v.SetInt64(0)
	bigIntPool.Put(v)
}

// Mul returns a * b as a big.Int, avoiding int64 overflow on intermediates.
// The caller must release the result through Div (which recycles it) or
// discard it.
func Mul(a, b int64) *big.Int {
	result := getBig()
	x := getBig().SetInt64(a)
	y := getBig().SetInt64(b)
	result.Mul(x, y)
	putBig(x)
	putBig(y)
	return result
}

// Div divides numerator by denominator with the given rounding mode and
// recycles the numerator. Inputs are assumed non-negative; the engine never
// produces negative balances or prices.
func Div(numerator *big.Int, denominator int64, mode RoundingMode) int64 {
	denom := getBig().SetInt64(denominator)
	quotient := getBig()
	remainder := getBig()

	quotient.QuoRem(numerator, denom, remainder)
	result := quotient.Int64()

	switch mode {
	case RoundUp:
		if remainder.Sign() != 0 {
			result++
		}
	case RoundHalfEven:
		half := getBig().SetInt64(denominator / 2)
		cmp := remainder.Cmp(half)
		if cmp > 0 {
			result++
		} else if cmp == 0 && denominator%2 == 0 && result%2 != 0 {
			result++
		}
		putBig(half)
	}

	putBig(denom)
	putBig(quotient)
	putBig(remainder)
	putBig(numerator)

	return result
}

// DivBig divides two big.Ints with the given rounding mode. Results beyond
// the int64 range clamp to math.MaxInt64: ratios that large (a health factor
// against near-zero debt) are sentinels, not arithmetic inputs.
func DivBig(numerator, denominator *big.Int, mode RoundingMode) int64 {
	quotient := getBig()
	remainder := getBig()
	quotient.QuoRem(numerator, denominator, remainder)

	if !quotient.IsInt64() {
		putBig(quotient)
		putBig(remainder)
		return math.MaxInt64
	}

	result := quotient.Int64()
	if mode == RoundUp && remainder.Sign() != 0 && result < math.MaxInt64 {
		result++
	}

	putBig(quotient)
	putBig(remainder)
	return result
}

// MulDiv computes a * b / denominator through a big.Int intermediate.
func MulDiv(a, b, denominator int64, mode RoundingMode) int64 {
	return Div(Mul(a, b), denominator, mode)
}

// WadMul multiplies two WAD-scaled values: a * b / 1e18.
func WadMul(a, b int64, mode RoundingMode) int64 {
	return MulDiv(a, b, Wad, mode)
}

// WadDiv divides two values into a WAD-scaled ratio: a * 1e18 / b.
// The caller is responsible for b != 0.
func WadDiv(a, b int64, mode RoundingMode) int64 {
	return MulDiv(a, Wad, b, mode)
}

// Pow10 returns 10^n for n in [0, 18].
func Pow10(n int) int64 {
	result := int64(1)
	for i := 0; i < n; i++ {
		result *= 10
	}
	return result
}

// Rescale converts an amount between decimal precisions, e.g. a 6-decimal
// balance into 18-decimal units. Precision-losing conversions honor the
// rounding mode.
func Rescale(amount int64, fromDecimals, toDecimals int, mode RoundingMode) int64 {
	if fromDecimals == toDecimals {
		return amount
	}
	if toDecimals > fromDecimals {
		out := Mul(amount, Pow10(toDecimals-fromDecimals))
		return Div(out, 1, mode)
	}
	return Div(getBig().SetInt64(amount), Pow10(fromDecimals-toDecimals), mode)
}
