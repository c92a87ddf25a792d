// Package inventory tracks the portfolio's directional exposure: the LP
// position's price-dependent composition and the perp hedge offsetting it.
// Everything is value-in value-out; the engine owns the only mutable state.
package inventory

import (
	"math"

	"HedgeSim/internal/lpmath"
	"HedgeSim/internal/portfolio"
)

// ResidualDelta returns the net directional exposure in base units at the
// given price: the LP position's delta plus the signed hedge size.
// Recomputed fresh every step, never carried forward.
func ResidualDelta(s portfolio.State, price float64) float64 {
	return lpmath.Delta(s.LpLiquidity, price, s.Range()) + s.HedgeSize
}

// ApplyLpDrift returns a copy of s with the LP holdings rebalanced by the
// pool to the new price. The square-root invariant gives the composition in
// closed form, so no iteration and no path dependence. Liquidity is clamped
// below by minLiquidity so downstream ratio math never sees an exactly
// empty position.
func ApplyLpDrift(s portfolio.State, priceTo, minLiquidity float64) portfolio.State {
	l := s.LpLiquidity
	if l < minLiquidity {
		l = minLiquidity
	}
	h := lpmath.HoldingsAt(l, priceTo, s.Range())

	s.LpLiquidity = l
	s.LpQuantityBase = h.Base
	s.LpQuantityQuote = h.Quote
	return s
}

// ApplyHedgeFill applies a signed fill to the hedge position and returns
// the updated state plus realized PnL in quote units. The entry price is
// tracked as a weighted average; reducing fills realize PnL against it, a
// flip re-opens the remainder at the fill price. Cash effects (fees, PnL
// settlement) are the caller's concern.
func ApplyHedgeFill(s portfolio.State, fill, price float64) (portfolio.State, float64) {
	size := s.HedgeSize

	// Flat position: open fresh.
	if size == 0 {
		s.HedgeSize = fill
		s.HedgeEntryPrice = price
		return s, 0
	}

	// Same direction: increase and re-average the entry.
	if sameSign(size, fill) {
		total := size + fill
		s.HedgeEntryPrice = (size*s.HedgeEntryPrice + fill*price) / total
		s.HedgeSize = total
		return s, 0
	}

	// Opposite direction: reduce, close, or flip.
	absSize := math.Abs(size)
	absFill := math.Abs(fill)
	switch {
	case absFill < absSize:
		realized := sign(size) * absFill * (price - s.HedgeEntryPrice)
		s.HedgeSize = size + fill
		return s, realized

	case absFill == absSize:
		realized := size * (price - s.HedgeEntryPrice)
		s.HedgeSize = 0
		s.HedgeEntryPrice = 0
		return s, realized

	default:
		realized := size * (price - s.HedgeEntryPrice)
		s.HedgeSize = size + fill
		s.HedgeEntryPrice = price
		return s, realized
	}
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

func sameSign(a, b float64) bool {
	return a != 0 && b != 0 && (a > 0) == (b > 0)
}
