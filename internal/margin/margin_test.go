package margin_test

import (
	"errors"
	"math"
	"testing"

	"HedgeSim/internal/books"
	"HedgeSim/internal/feed"
	"HedgeSim/internal/lpmath"
	"HedgeSim/internal/margin"
	"HedgeSim/internal/portfolio"
)

const minLiquidity = 1e-9

// lpState builds a portfolio whose LP position was entered at entryPrice
// with the given capital deployed and cash left on the side.
func lpState(entryPrice, width, capital, cash float64) portfolio.State {
	r := lpmath.RangeAround(entryPrice, width)
	l := lpmath.LiquidityForCapital(capital, entryPrice, r, minLiquidity)
	h := lpmath.HoldingsAt(l, entryPrice, r)
	return portfolio.State{
		Price:           entryPrice,
		LpQuantityBase:  h.Base,
		LpQuantityQuote: h.Quote,
		LpLiquidity:     l,
		LpRangeLower:    r.Lower,
		LpRangeUpper:    r.Upper,
		LpMargin:        books.ToMicro(cash),
	}
}

func almostEqual(a, b, tol float64) bool {
	if a == b {
		return true
	}
	diff := math.Abs(a - b)
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale < 1 {
		return diff < tol
	}
	return diff/scale < tol
}

// ============================================================================
// Test: LP snapshots
// ============================================================================

func TestSnapshotLp_AtEntry(t *testing.T) {
	s := lpState(3000, 0.10, 600_000, 5_000)

	snap, err := margin.SnapshotLp(s, 3000)
	if err != nil {
		t.Fatalf("SnapshotLp: %v", err)
	}

	if !almostEqual(snap.UsedMargin, 600_000, 1e-9) {
		t.Errorf("used margin: got %v, want 600000", snap.UsedMargin)
	}
	if !almostEqual(snap.Equity, 605_000, 1e-9) {
		t.Errorf("equity: got %v, want 605000", snap.Equity)
	}
	if !almostEqual(snap.UnrealizedPnl, 0, 1e-6) {
		t.Errorf("unrealized at entry: got %v, want ~0", snap.UnrealizedPnl)
	}
	wantRatio := 605_000.0 / 600_000.0
	if !almostEqual(snap.MarginRatio, wantRatio, 1e-9) {
		t.Errorf("ratio: got %v, want %v", snap.MarginRatio, wantRatio)
	}
}

func TestSnapshotLp_PriceDropShowsLoss(t *testing.T) {
	s := lpState(3000, 0.10, 600_000, 0)

	snap, err := margin.SnapshotLp(s, 2800)
	if err != nil {
		t.Fatal(err)
	}
	if snap.UnrealizedPnl >= 0 {
		t.Errorf("price drop should show a loss, got %v", snap.UnrealizedPnl)
	}
	// The cost basis stays pinned at the entry capital; the loss shows up in
	// equity and drags the ratio below 1.
	if !almostEqual(snap.UsedMargin, 600_000, 1e-9) {
		t.Errorf("used margin: got %v, want 600000", snap.UsedMargin)
	}
	if snap.Equity >= 600_000 {
		t.Errorf("equity should be below cost basis, got %v", snap.Equity)
	}
	if snap.MarginRatio >= 1 {
		t.Errorf("ratio: got %v, want < 1", snap.MarginRatio)
	}
}

func TestSnapshotLp_EmptyPositionIsSafe(t *testing.T) {
	s := portfolio.State{LpMargin: books.ToMicro(1_000)}

	snap, err := margin.SnapshotLp(s, 3000)
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsInf(snap.MarginRatio, 1) {
		t.Errorf("empty position ratio: got %v, want +Inf", snap.MarginRatio)
	}
	if snap.Status(1.05, 1.00) != margin.StatusHealthy {
		t.Error("empty position should be Healthy")
	}
}

// ============================================================================
// Test: hedge snapshots
// ============================================================================

func TestSnapshotHedge_ShortLinearPnl(t *testing.T) {
	s := portfolio.State{
		HedgeSize:       -0.1,
		HedgeEntryPrice: 3000,
		HedgeMargin:     books.ToMicro(100),
	}

	snap, err := margin.SnapshotHedge(s, 2900, 5)
	if err != nil {
		t.Fatal(err)
	}

	// Short gains when price falls: -0.1 * (2900 - 3000) = +10.
	if !almostEqual(snap.UnrealizedPnl, 10, 1e-12) {
		t.Errorf("unrealized: got %v, want 10", snap.UnrealizedPnl)
	}
	if !almostEqual(snap.Equity, 110, 1e-12) {
		t.Errorf("equity: got %v, want 110", snap.Equity)
	}
	// Notional 0.1*2900 = 290 over 5x leverage.
	if !almostEqual(snap.UsedMargin, 58, 1e-12) {
		t.Errorf("used margin: got %v, want 58", snap.UsedMargin)
	}
	if !almostEqual(snap.MarginRatio, 110.0/58.0, 1e-12) {
		t.Errorf("ratio: got %v, want %v", snap.MarginRatio, 110.0/58.0)
	}
}

func TestSnapshotHedge_FlatIsSafe(t *testing.T) {
	s := portfolio.State{HedgeMargin: books.ToMicro(400_000)}

	snap, err := margin.SnapshotHedge(s, 3000, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsInf(snap.MarginRatio, 1) {
		t.Errorf("flat hedge ratio: got %v, want +Inf", snap.MarginRatio)
	}
}

// ============================================================================
// Test: purity and error cases
// ============================================================================

func TestSnapshot_Idempotent(t *testing.T) {
	s := lpState(3000, 0.10, 600_000, 1_000)
	s.HedgeSize = -0.05
	s.HedgeEntryPrice = 3010
	s.HedgeMargin = books.ToMicro(400_000)

	before := s

	lp1, _ := margin.SnapshotLp(s, 2950)
	lp2, _ := margin.SnapshotLp(s, 2950)
	h1, _ := margin.SnapshotHedge(s, 2950, 5)
	h2, _ := margin.SnapshotHedge(s, 2950, 5)

	if lp1 != lp2 {
		t.Errorf("LP snapshot not idempotent: %+v vs %+v", lp1, lp2)
	}
	if h1 != h2 {
		t.Errorf("hedge snapshot not idempotent: %+v vs %+v", h1, h2)
	}
	if s != before {
		t.Error("snapshot mutated the state")
	}
}

func TestSnapshot_RejectsBadPrices(t *testing.T) {
	s := lpState(3000, 0.10, 600_000, 0)

	for _, price := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if _, err := margin.SnapshotLp(s, price); err == nil {
			t.Errorf("SnapshotLp accepted price %v", price)
		} else {
			var iperr *feed.InvalidPriceError
			if !errors.As(err, &iperr) {
				t.Errorf("SnapshotLp(%v): wrong error type %T", price, err)
			}
		}
		if _, err := margin.SnapshotHedge(s, price, 5); err == nil {
			t.Errorf("SnapshotHedge accepted price %v", price)
		}
	}
}

// ============================================================================
// Test: status classification
// ============================================================================

func TestStatus_Thresholds(t *testing.T) {
	const maintenance, liquidation = 1.10, 1.00

	cases := []struct {
		name  string
		ratio float64
		want  margin.Status
	}{
		{"well above maintenance", 1.50, margin.StatusHealthy},
		{"exactly maintenance", 1.10, margin.StatusHealthy},
		{"between thresholds", 1.05, margin.StatusAtRisk},
		{"exactly liquidation", 1.00, margin.StatusAtRisk},
		{"below liquidation", 0.90, margin.StatusMarginCall},
		{"no exposure", math.Inf(1), margin.StatusHealthy},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			snap := margin.Snapshot{MarginRatio: c.ratio}
			if got := snap.Status(maintenance, liquidation); got != c.want {
				t.Errorf("got %s, want %s", got, c.want)
			}
		})
	}
}

func TestStatus_String(t *testing.T) {
	if margin.StatusMarginCall.String() != "MarginCall" {
		t.Errorf("got %s", margin.StatusMarginCall)
	}
	if margin.Status(99).String() != "Unknown" {
		t.Errorf("got %s", margin.Status(99))
	}
}
