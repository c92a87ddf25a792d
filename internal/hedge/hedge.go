// Package hedge decides perp rebalancing trades from residual delta.
// Decisions are pure; execution (fees, margin checks, fills) is the
// engine's job.
package hedge

import "math"

// Side is the direction of a perp order.
type Side int32

const (
	SideBuy Side = iota + 1
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// Order is a request to trade the perp, sized for a full rehedge.
type Order struct {
	Side       Side
	Size       float64 // magnitude, base units
	TargetSize float64 // signed hedge size after the fill
}

// SignedFill returns the fill quantity with direction applied.
func (o *Order) SignedFill() float64 {
	if o.Side == SideSell {
		return -o.Size
	}
	return o.Size
}

// Decide returns the order that brings residual delta to zero, or nil when
// the residual sits inside the deadband. Full rehedge: the order targets
// zero residual, not the deadband edge, so small noise cannot cause
// order-thrash but a triggered hedge converges completely.
func Decide(residual, deadband, currentSize float64) *Order {
	if math.Abs(residual) <= deadband {
		return nil
	}

	fill := -residual
	side := SideBuy
	if fill < 0 {
		side = SideSell
	}
	return &Order{
		Side:       side,
		Size:       math.Abs(fill),
		TargetSize: currentSize + fill,
	}
}
