// Package portfolio holds the single authoritative state of a simulated
// delta-neutral portfolio: the concentrated-liquidity LP position, the perp
// hedge, and the cash balances of both margin accounts.
//
// State is a value type. The engine owns the only mutable copy; every
// sub-component receives it by value and cannot alter the original.
// Not thread-safe; only accessed from the single-threaded engine loop.
package portfolio

import (
	"time"

	"HedgeSim/internal/lpmath"
)

// State is the portfolio at one step boundary.
type State struct {
	StepIndex int64
	Timestamp time.Time // from the price feed, never the wall clock
	Price     float64

	// LP position.
	LpQuantityBase  float64
	LpQuantityQuote float64
	LpLiquidity     float64
	LpRangeLower    float64
	LpRangeUpper    float64

	// Perp hedge. Size is signed base units, short < 0.
	HedgeSize       float64
	HedgeEntryPrice float64 // weighted average entry

	// Cash balances in micro-USD, mirrored from the books ledger.
	LpMargin    int64
	HedgeMargin int64

	// Lifetime counters in micro-USD.
	CumulativeRescueTransferred int64
	CumulativeFundingPaid       int64 // positive = paid out by the hedge
	RealizedPnl                 int64

	LastRebalanceStep int64 // -1 before any rebalance
}

// Range returns the LP position's active price range.
func (s State) Range() lpmath.Range {
	return lpmath.Range{Lower: s.LpRangeLower, Upper: s.LpRangeUpper}
}

// LpHoldings returns the LP token holdings as recorded at the last step
// boundary. Use lpmath.HoldingsAt to revalue them at a different price.
func (s State) LpHoldings() lpmath.Holdings {
	return lpmath.Holdings{Base: s.LpQuantityBase, Quote: s.LpQuantityQuote}
}

// HedgeNotional returns the absolute hedge exposure in quote units at the
// given mark price.
func (s State) HedgeNotional(price float64) float64 {
	size := s.HedgeSize
	if size < 0 {
		size = -size
	}
	return size * price
}

// CanonicalBytes returns a deterministic serialization for hashing.
// Field order is fixed; int64 little-endian, float64 as IEEE-754 bit
// patterns little-endian, timestamps as UnixNano.
func (s State) CanonicalBytes() []byte {
	buf := make([]byte, 0, 128)

	buf = appendInt64LE(buf, s.StepIndex)
	buf = appendInt64LE(buf, s.Timestamp.UnixNano())
	buf = appendFloat64LE(buf, s.Price)
	buf = appendFloat64LE(buf, s.LpQuantityBase)
	buf = appendFloat64LE(buf, s.LpQuantityQuote)
	buf = appendFloat64LE(buf, s.LpLiquidity)
	buf = appendFloat64LE(buf, s.LpRangeLower)
	buf = appendFloat64LE(buf, s.LpRangeUpper)
	buf = appendFloat64LE(buf, s.HedgeSize)
	buf = appendFloat64LE(buf, s.HedgeEntryPrice)
	buf = appendInt64LE(buf, s.LpMargin)
	buf = appendInt64LE(buf, s.HedgeMargin)
	buf = appendInt64LE(buf, s.CumulativeRescueTransferred)
	buf = appendInt64LE(buf, s.CumulativeFundingPaid)
	buf = appendInt64LE(buf, s.RealizedPnl)
	buf = appendInt64LE(buf, s.LastRebalanceStep)

	return buf
}
