package hedge_test

import (
	"math"
	"testing"

	"HedgeSim/internal/hedge"
)

// ============================================================================
// Test: deadband policy
// ============================================================================

func TestDecide_InsideDeadbandIsNoAction(t *testing.T) {
	cases := []struct {
		name     string
		residual float64
	}{
		{"zero", 0},
		{"small positive", 0.3},
		{"small negative", -0.3},
		{"exactly at band", 0.5},
		{"exactly at negative band", -0.5},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if order := hedge.Decide(c.residual, 0.5, -10); order != nil {
				t.Errorf("got order %+v, want none", order)
			}
		})
	}
}

func TestDecide_PositiveResidualSells(t *testing.T) {
	order := hedge.Decide(2.0, 0.5, -10)
	if order == nil {
		t.Fatal("expected an order")
	}
	if order.Side != hedge.SideSell {
		t.Errorf("side: got %s, want sell", order.Side)
	}
	if order.Size != 2.0 {
		t.Errorf("size: got %v, want 2", order.Size)
	}
	if order.TargetSize != -12 {
		t.Errorf("target: got %v, want -12", order.TargetSize)
	}
	if order.SignedFill() != -2.0 {
		t.Errorf("signed fill: got %v, want -2", order.SignedFill())
	}
}

func TestDecide_NegativeResidualBuys(t *testing.T) {
	order := hedge.Decide(-1.5, 0.5, -10)
	if order == nil {
		t.Fatal("expected an order")
	}
	if order.Side != hedge.SideBuy {
		t.Errorf("side: got %s, want buy", order.Side)
	}
	if order.SignedFill() != 1.5 {
		t.Errorf("signed fill: got %v, want 1.5", order.SignedFill())
	}
	if order.TargetSize != -8.5 {
		t.Errorf("target: got %v, want -8.5", order.TargetSize)
	}
}

func TestDecide_FillFlattensResidual(t *testing.T) {
	for _, residual := range []float64{3.7, -0.81, 125, -44.4} {
		order := hedge.Decide(residual, 0.5, -10)
		if order == nil {
			t.Fatalf("residual %v: expected an order", residual)
		}
		after := residual + order.SignedFill()
		if math.Abs(after) > 1e-12 {
			t.Errorf("residual %v: after fill got %v, want 0", residual, after)
		}
	}
}

func TestSide_String(t *testing.T) {
	if hedge.SideBuy.String() != "buy" || hedge.SideSell.String() != "sell" {
		t.Errorf("got %s/%s", hedge.SideBuy, hedge.SideSell)
	}
	if hedge.Side(0).String() != "unknown" {
		t.Errorf("got %s", hedge.Side(0))
	}
}
