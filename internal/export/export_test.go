package export_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"math"
	"strings"
	"testing"
	"time"

	"HedgeSim/internal/config"
	"HedgeSim/internal/engine"
	"HedgeSim/internal/event"
	"HedgeSim/internal/export"
	"HedgeSim/internal/feed"
	"HedgeSim/internal/margin"
	"HedgeSim/internal/portfolio"
	"HedgeSim/internal/testutil"
)

// --- Test helpers ---

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// goldenRecords is a fixed four-record scenario covering an applied funding
// flow, a fill, a denial with a reason, and a no-action marker.
func goldenRecords() []event.Record {
	summary := event.StateSummary{
		LpEquity:         612_500,
		LpMarginRatio:    1.02,
		LpCash:           1_250_000,
		HedgeEquity:      58_000,
		HedgeMarginRatio: 7.25,
		HedgeCash:        57_069_540_000,
	}

	recs := []event.Record{
		{StepIndex: 1, Timestamp: t0.Add(1 * time.Minute), Kind: event.KindFunding, Price: 3000,
			Amount: -4_500_000, PreDelta: 0.25, PostDelta: 0.25},
		{StepIndex: 2, Timestamp: t0.Add(2 * time.Minute), Kind: event.KindHedge, Price: 3100,
			Side: "sell", Size: 2.5, Amount: 3_875_000, PreDelta: 2.5},
		{StepIndex: 3, Timestamp: t0.Add(3 * time.Minute), Kind: event.KindRescueDenied, Price: 3100,
			Amount: 20_000_000_000, Reason: "budget_exhausted"},
		{StepIndex: 4, Timestamp: t0.Add(4 * time.Minute), Kind: event.KindNoAction, Price: 3100},
	}
	realized := []int64{0, -1_250_000_000, -1_250_000_000, -1_250_000_000}
	for i := range recs {
		recs[i].Summary = summary
		recs[i].Summary.RealizedPnl = realized[i]
	}
	return recs
}

func parseCSV(t *testing.T, data []byte) [][]string {
	t.Helper()
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	return rows
}

// ============================================================================
// Test: event writer
// ============================================================================

func TestEventWriter_Golden(t *testing.T) {
	log := event.NewLog()
	var completed []event.Record
	for _, rec := range goldenRecords() {
		completed = append(completed, log.Append(rec))
	}

	var buf bytes.Buffer
	ew := export.NewEventWriter(&buf)
	outs := []engine.StepOutput{
		{Events: completed[:1]},
		{Events: completed[1:3]},
		{Events: completed[3:]},
	}
	for _, out := range outs {
		if err := ew.Consume(out); err != nil {
			t.Fatalf("Consume: %v", err)
		}
	}
	if err := ew.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	testutil.AssertGolden(t, "events.csv", buf.Bytes())
}

func TestEventWriter_HeaderExactlyOnce(t *testing.T) {
	log := event.NewLog()
	var completed []event.Record
	for _, rec := range goldenRecords() {
		completed = append(completed, log.Append(rec))
	}

	var buf bytes.Buffer
	ew := export.NewEventWriter(&buf)
	for _, rec := range completed {
		if err := ew.Consume(engine.StepOutput{Events: []event.Record{rec}}); err != nil {
			t.Fatalf("Consume: %v", err)
		}
	}
	// An output without events must not re-emit the header.
	if err := ew.Consume(engine.StepOutput{}); err != nil {
		t.Fatalf("Consume empty: %v", err)
	}
	if err := ew.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	rows := parseCSV(t, buf.Bytes())
	if len(rows) != len(completed)+1 {
		t.Fatalf("rows: got %d, want %d", len(rows), len(completed)+1)
	}
	if got, want := strings.Join(rows[0], ","), strings.Join(event.Columns(), ","); got != want {
		t.Errorf("header:\ngot  %s\nwant %s", got, want)
	}
	for i, rec := range completed {
		if got, want := strings.Join(rows[i+1], "\x00"), strings.Join(rec.FlatRow(), "\x00"); got != want {
			t.Errorf("row %d does not match FlatRow", i)
		}
	}
}

// ============================================================================
// Test: step writer
// ============================================================================

func TestStepWriter_Cells(t *testing.T) {
	out := engine.StepOutput{
		State: portfolio.State{
			StepIndex:             7,
			Timestamp:             t0.Add(7 * time.Minute),
			Price:                 3000,
			LpQuantityBase:        95.25,
			LpQuantityQuote:       285_750,
			LpLiquidity:           111_000,
			LpRangeLower:          2700,
			LpRangeUpper:          3300,
			HedgeSize:             -95.25,
			HedgeEntryPrice:       3000,
			LpMargin:              1_250_000,
			HedgeMargin:           400_000_000_000,
			RealizedPnl:           -5_500_000,
			CumulativeFundingPaid: 4_500_000,
			LastRebalanceStep:     -1,
		},
		Lp:    margin.Snapshot{Equity: 612_500, MarginRatio: 1.02},
		Hedge: margin.Snapshot{Equity: 400_000, MarginRatio: math.Inf(1)},
	}

	var buf bytes.Buffer
	sw := export.NewStepWriter(&buf)
	if err := sw.Consume(out); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if err := sw.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	rows := parseCSV(t, buf.Bytes())
	if len(rows) != 2 {
		t.Fatalf("rows: got %d, want 2", len(rows))
	}
	if got, want := strings.Join(rows[0], ","), strings.Join(export.StepColumns(), ","); got != want {
		t.Errorf("header:\ngot  %s\nwant %s", got, want)
	}

	cells := map[string]string{}
	for i, name := range export.StepColumns() {
		cells[name] = rows[1][i]
	}
	checks := map[string]string{
		"step":               "7",
		"timestamp":          "2024-01-01T00:07:00Z",
		"price":              "3000",
		"hedge_size":         "-95.25",
		"lp_cash":            "1.250000",
		"hedge_cash":         "400000.000000",
		"lp_margin_ratio":    "1.02",
		"hedge_margin_ratio": "+Inf",
		"realized_pnl":       "-5.500000",
		"funding_paid":       "4.500000",
		"rescue_transferred": "0.000000",
	}
	for name, want := range checks {
		if cells[name] != want {
			t.Errorf("%s: got %q, want %q", name, cells[name], want)
		}
	}
}

// ============================================================================
// Test: writers as live run sinks
// ============================================================================

func TestWriters_StreamLiveRun(t *testing.T) {
	obs := make([]feed.Observation, 30)
	for i := range obs {
		obs[i] = feed.Observation{Timestamp: t0.Add(time.Duration(i) * time.Minute), Price: 3000}
	}

	cfg := config.Default()
	cfg.MaxSteps = 30
	cfg.Verbose = true

	e, err := engine.NewEngine(cfg, feed.NewSliceFeed(obs), nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	var events, steps bytes.Buffer
	ew := export.NewEventWriter(&events)
	sw := export.NewStepWriter(&steps)

	res, err := e.Run(context.Background(), ew, sw)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := ew.Flush(); err != nil {
		t.Fatalf("flush events: %v", err)
	}
	if err := sw.Flush(); err != nil {
		t.Fatalf("flush steps: %v", err)
	}

	eventRows := parseCSV(t, events.Bytes())
	if len(eventRows) != e.Log().Len()+1 {
		t.Errorf("event rows: got %d, want %d", len(eventRows), e.Log().Len()+1)
	}

	stepRows := parseCSV(t, steps.Bytes())
	if int64(len(stepRows)) != res.Steps+1 {
		t.Errorf("step rows: got %d, want %d", len(stepRows), res.Steps+1)
	}
	if stepRows[1][0] != "0" || stepRows[len(stepRows)-1][0] != "29" {
		t.Errorf("step index range: first %s, last %s", stepRows[1][0], stepRows[len(stepRows)-1][0])
	}
}
