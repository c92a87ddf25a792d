// Package lpmath implements the closed-form valuation of a concentrated-liquidity
// position (Uniswap-V3-style square-root invariant). Everything here is a pure
// function of liquidity, price, and range so callers can recompute from scratch
// each step instead of accumulating increments.
package lpmath

import "math"

// Range is the active price interval of an LP position.
type Range struct {
	Lower float64
	Upper float64
}

// Holdings are the token amounts backing a position at some price.
type Holdings struct {
	Base  float64 // volatile asset, token units
	Quote float64 // quote currency units
}

// RangeAround centers a range of the given half-width on price:
// [price*(1-width), price*(1+width)].
func RangeAround(price, width float64) Range {
	return Range{
		Lower: price * (1 - width),
		Upper: price * (1 + width),
	}
}

// Contains reports whether price is strictly inside the range.
func (r Range) Contains(price float64) bool {
	return price > r.Lower && price < r.Upper
}

// Multiplier returns the capital-efficiency factor of a range of the given
// half-width relative to full-range liquidity, evaluated at the center:
// 2 / (2 - 1/sqrt(1+w) - sqrt(1-w)). Fee income scales by this factor.
func Multiplier(width float64) float64 {
	sa := math.Sqrt(math.Max(1e-4, 1-width))
	sb := math.Sqrt(1 + width)
	return 2 / (2 - 1/sb - sa)
}

// LiquidityForCapital solves the square-root invariant for L given the capital
// deployed at price inside r:
//
//	L = capital / ((sqrt(P) - sqrt(Pa)) + P*(sqrt(Pb) - sqrt(P)) / (sqrt(P)*sqrt(Pb)))
//
// The result is clamped below by minLiquidity so degenerate ranges cannot
// produce a zero or non-finite L that later divides something.
func LiquidityForCapital(capital, price float64, r Range, minLiquidity float64) float64 {
	sp := math.Sqrt(price)
	sa := math.Sqrt(r.Lower)
	sb := math.Sqrt(r.Upper)

	denom := (sp - sa) + price*(sb-sp)/(sp*sb)
	if denom <= 0 || math.IsNaN(denom) || math.IsInf(denom, 0) {
		return minLiquidity
	}

	l := capital / denom
	if l < minLiquidity || math.IsNaN(l) || math.IsInf(l, 0) {
		return minLiquidity
	}
	return l
}

// HoldingsAt returns the token composition of a position with liquidity l and
// range r at the given price. Outside the range the position is entirely one
// asset; inside, both formulas of the square-root invariant apply.
func HoldingsAt(l, price float64, r Range) Holdings {
	sp := math.Sqrt(price)
	sa := math.Sqrt(r.Lower)
	sb := math.Sqrt(r.Upper)

	switch {
	case price <= r.Lower:
		// All base below the range.
		return Holdings{Base: l * (sb - sa) / (sa * sb)}
	case price >= r.Upper:
		// All quote above the range.
		return Holdings{Quote: l * (sb - sa)}
	default:
		return Holdings{
			Base:  l * (sb - sp) / (sp * sb),
			Quote: l * (sp - sa),
		}
	}
}

// ValueAt marks the position to market in quote units.
func ValueAt(l, price float64, r Range) float64 {
	h := HoldingsAt(l, price, r)
	return h.Base*price + h.Quote
}

// SkewAt returns the base-asset share of position value in [0,1].
// 1 means the position is entirely the volatile asset (price below range),
// 0 means entirely quote (price above range).
func SkewAt(l, price float64, r Range) float64 {
	h := HoldingsAt(l, price, r)
	value := h.Base*price + h.Quote
	if value <= 0 {
		return 0
	}
	return h.Base * price / value
}

// Delta returns the position's directional exposure in base units, the
// first derivative of position value with respect to price. For the
// square-root invariant this equals the base holdings at that price.
func Delta(l, price float64, r Range) float64 {
	return HoldingsAt(l, price, r).Base
}
