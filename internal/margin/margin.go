// Package margin derives per-side margin snapshots from portfolio state.
// All functions are pure: same state and price, same snapshot.
package margin

import (
	"math"

	"HedgeSim/internal/books"
	"HedgeSim/internal/feed"
	"HedgeSim/internal/lpmath"
	"HedgeSim/internal/portfolio"
)

// Snapshot is a derived view of one sub-account at a given mark price.
// Recomputed every step; never persisted apart from the state it came from.
type Snapshot struct {
	Equity        float64
	UsedMargin    float64
	UnrealizedPnl float64
	MarginRatio   float64 // Equity / UsedMargin, +Inf when UsedMargin == 0
}

// Status classifies a sub-account against its risk thresholds.
type Status int32

const (
	StatusHealthy Status = iota
	StatusAtRisk
	StatusMarginCall
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "Healthy"
	case StatusAtRisk:
		return "AtRisk"
	case StatusMarginCall:
		return "MarginCall"
	default:
		return "Unknown"
	}
}

// Status returns the health classification for the given thresholds.
// Config validation guarantees liquidation < maintenance.
func (ms Snapshot) Status(maintenance, liquidation float64) Status {
	if ms.MarginRatio < liquidation {
		return StatusMarginCall
	}
	if ms.MarginRatio < maintenance {
		return StatusAtRisk
	}
	return StatusHealthy
}

// SnapshotLp values the LP sub-account at the given mark price. Equity is
// position value plus cash. Used margin is the cost basis: the value the
// same liquidity had at the range's entry price, so the ratio starts near
// 1.0 at entry, sinks as impermanent loss bites, and rises with accrued
// fee cash. Unrealized PnL is mark value minus that cost basis.
func SnapshotLp(s portfolio.State, price float64) (Snapshot, error) {
	if err := checkPrice(s.StepIndex, price); err != nil {
		return Snapshot{}, err
	}

	r := s.Range()
	value := lpmath.ValueAt(s.LpLiquidity, price, r)
	// Ranges are built as price*(1±width), so the arithmetic center is the
	// entry price.
	entryValue := lpmath.ValueAt(s.LpLiquidity, (r.Lower+r.Upper)/2, r)
	equity := value + books.FromMicro(s.LpMargin)

	return Snapshot{
		Equity:        equity,
		UsedMargin:    entryValue,
		UnrealizedPnl: value - entryValue,
		MarginRatio:   ratio(equity, entryValue),
	}, nil
}

// SnapshotHedge values the perp sub-account at the given mark price using
// linear futures PnL. Used margin is notional over leverage.
func SnapshotHedge(s portfolio.State, price, leverage float64) (Snapshot, error) {
	if err := checkPrice(s.StepIndex, price); err != nil {
		return Snapshot{}, err
	}

	unrealized := s.HedgeSize * (price - s.HedgeEntryPrice)
	equity := books.FromMicro(s.HedgeMargin) + unrealized
	used := s.HedgeNotional(price) / leverage

	return Snapshot{
		Equity:        equity,
		UsedMargin:    used,
		UnrealizedPnl: unrealized,
		MarginRatio:   ratio(equity, used),
	}, nil
}

func ratio(equity, used float64) float64 {
	if used == 0 {
		// No exposure means nothing to liquidate.
		return math.Inf(1)
	}
	return equity / used
}

func checkPrice(step int64, price float64) error {
	switch {
	case math.IsNaN(price) || math.IsInf(price, 0):
		return &feed.InvalidPriceError{StepIndex: step, Price: price, Reason: "price is not finite"}
	case price <= 0:
		return &feed.InvalidPriceError{StepIndex: step, Price: price, Reason: "price is not positive"}
	}
	return nil
}
