/*
Weighted-product invariant math.

The pool holds the product of balance^weight constant across swaps. Spot
price and the amount formulas follow from that invariant; fractional
exponents are evaluated as integer power times a binomial-series
approximation of the remainder, which converges for bases in (0, 2). The
max-in and max-out ratios enforced by the pool keep every base inside that
interval.

Rounding always favors the pool: outputs truncate, required inputs round
up.
*/
package pool

import (
	sdkmath "cosmossdk.io/math"
)

// powPrecision terminates the binomial series once terms drop below it.
var powPrecision = sdkmath.LegacyMustNewDecFromStr("0.00000001")

var (
	decOne = sdkmath.LegacyOneDec()
	decTwo = sdkmath.LegacyNewDec(2)
)

// calcSpotPrice returns the instantaneous price of tokenOut denominated in
// tokenIn, including the swap fee markup:
//
//	(balanceIn / weightIn) / (balanceOut / weightOut) * 1 / (1 - fee)
func calcSpotPrice(
	balanceIn sdkmath.Int, weightIn sdkmath.LegacyDec,
	balanceOut sdkmath.Int, weightOut sdkmath.LegacyDec,
	swapFee sdkmath.LegacyDec,
) sdkmath.LegacyDec {
	numer := sdkmath.LegacyNewDecFromInt(balanceIn).Quo(weightIn)
	denom := sdkmath.LegacyNewDecFromInt(balanceOut).Quo(weightOut)
	ratio := numer.Quo(denom)
	scale := decOne.Quo(decOne.Sub(swapFee))
	return ratio.Mul(scale)
}

// calcOutGivenIn solves the invariant for the output amount of an
// exact-input swap. The fee is charged on the input side.
func calcOutGivenIn(
	balanceIn sdkmath.Int, weightIn sdkmath.LegacyDec,
	balanceOut sdkmath.Int, weightOut sdkmath.LegacyDec,
	amountIn sdkmath.Int, swapFee sdkmath.LegacyDec,
) (sdkmath.Int, error) {
	weightRatio := weightIn.Quo(weightOut)
	adjustedIn := sdkmath.LegacyNewDecFromInt(amountIn).Mul(decOne.Sub(swapFee))

	balInDec := sdkmath.LegacyNewDecFromInt(balanceIn)
	y := balInDec.Quo(balInDec.Add(adjustedIn))
	power, err := decPow(y, weightRatio)
	if err != nil {
		return sdkmath.Int{}, err
	}
	bar := decOne.Sub(power)
	out := sdkmath.LegacyNewDecFromInt(balanceOut).Mul(bar)
	return out.TruncateInt(), nil
}

// calcInGivenOut solves the invariant for the required input of an
// exact-output swap, rounding the result up.
func calcInGivenOut(
	balanceIn sdkmath.Int, weightIn sdkmath.LegacyDec,
	balanceOut sdkmath.Int, weightOut sdkmath.LegacyDec,
	amountOut sdkmath.Int, swapFee sdkmath.LegacyDec,
) (sdkmath.Int, error) {
	weightRatio := weightOut.Quo(weightIn)

	balOutDec := sdkmath.LegacyNewDecFromInt(balanceOut)
	diff := balOutDec.Sub(sdkmath.LegacyNewDecFromInt(amountOut))
	if !diff.IsPositive() {
		return sdkmath.Int{}, ErrMathApprox
	}
	y := balOutDec.Quo(diff)
	power, err := decPow(y, weightRatio)
	if err != nil {
		return sdkmath.Int{}, err
	}
	foo := power.Sub(decOne)
	in := sdkmath.LegacyNewDecFromInt(balanceIn).Mul(foo).Quo(decOne.Sub(swapFee))
	return in.Ceil().TruncateInt(), nil
}

// decPow computes base^exp for a non-negative fractional exponent. The
// integer part uses exact exponentiation, the fractional remainder the
// binomial series around 1, so base must lie in (0, 2).
func decPow(base, exp sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	if !base.IsPositive() || base.GTE(decTwo) {
		return sdkmath.LegacyDec{}, ErrMathApprox
	}
	if exp.IsZero() {
		return decOne, nil
	}

	whole := exp.TruncateDec()
	remain := exp.Sub(whole)

	result := base.Power(uint64(whole.TruncateInt64()))
	if remain.IsZero() {
		return result, nil
	}
	partial := powApprox(base, remain, powPrecision)
	return result.Mul(partial), nil
}

// powApprox evaluates base^exp for 0 < exp < 1 via the binomial series
//
//	(1+x)^a = 1 + a x + a(a-1)/2! x^2 + ...
//
// where x = base - 1. Terms alternate in sign when x is negative; the sum
// is tracked with explicit sign bookkeeping since each term is kept as a
// magnitude.
func powApprox(base, exp, precision sdkmath.LegacyDec) sdkmath.LegacyDec {
	if exp.IsZero() {
		return decOne
	}

	a := exp
	x, xneg := absDifference(base, decOne)
	term := decOne
	sum := decOne
	negative := false

	for i := int64(1); term.GTE(precision); i++ {
		bigK := sdkmath.LegacyNewDec(i)
		c, cneg := absDifference(a, bigK.Sub(decOne))
		term = term.Mul(c.Mul(x))
		term = term.Quo(bigK)

		if term.IsZero() {
			break
		}
		if xneg {
			negative = !negative
		}
		if cneg {
			negative = !negative
		}
		if negative {
			sum = sum.Sub(term)
		} else {
			sum = sum.Add(term)
		}
	}
	return sum
}

// absDifference returns |a - b| and whether a - b is negative.
func absDifference(a, b sdkmath.LegacyDec) (sdkmath.LegacyDec, bool) {
	if a.GTE(b) {
		return a.Sub(b), false
	}
	return b.Sub(a), true
}
