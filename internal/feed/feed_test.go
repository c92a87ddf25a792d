package feed_test

import (
	"HedgeSim/internal/feed"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ============================================================================
// Test: SliceFeed
// ============================================================================

func TestSliceFeed_ReplaysInOrder(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	obs := []feed.Observation{
		{Timestamp: base, Price: 100},
		{Timestamp: base.Add(time.Minute), Price: 101},
	}

	f := feed.NewSliceFeed(obs)

	for i, want := range obs {
		got, ok := f.Next()
		if !ok {
			t.Fatalf("Next %d: feed ended early", i)
		}
		if got != want {
			t.Errorf("Next %d: got %+v, want %+v", i, got, want)
		}
	}

	if _, ok := f.Next(); ok {
		t.Error("feed should be exhausted")
	}
	if f.Err() != nil {
		t.Errorf("clean exhaustion should have nil Err, got %v", f.Err())
	}
}

// ============================================================================
// Test: SyntheticFeed
// ============================================================================

func TestSyntheticFeed_Deterministic(t *testing.T) {
	params := feed.SyntheticParams{InitialPrice: 3000, Volatility: 0.8, Seed: 42}

	a := feed.NewSyntheticFeed(params)
	b := feed.NewSyntheticFeed(params)

	for i := 0; i < 500; i++ {
		oa, _ := a.Next()
		ob, _ := b.Next()
		if oa != ob {
			t.Fatalf("paths diverge at step %d: %+v vs %+v", i, oa, ob)
		}
	}
}

func TestSyntheticFeed_SeedChangesPath(t *testing.T) {
	a := feed.NewSyntheticFeed(feed.SyntheticParams{InitialPrice: 3000, Volatility: 0.8, Seed: 1})
	b := feed.NewSyntheticFeed(feed.SyntheticParams{InitialPrice: 3000, Volatility: 0.8, Seed: 2})

	a.Next() // zeroth point is the initial price on both
	b.Next()

	diverged := false
	for i := 0; i < 10; i++ {
		oa, _ := a.Next()
		ob, _ := b.Next()
		if oa.Price != ob.Price {
			diverged = true
			break
		}
	}
	if !diverged {
		t.Error("different seeds should produce different paths")
	}
}

func TestSyntheticFeed_FirstObservationIsInitialPrice(t *testing.T) {
	f := feed.NewSyntheticFeed(feed.SyntheticParams{InitialPrice: 1234.5, Volatility: 0.5, Seed: 9})
	obs, ok := f.Next()
	if !ok || obs.Price != 1234.5 {
		t.Errorf("zeroth point: got %+v, want price 1234.5", obs)
	}
}

func TestSyntheticFeed_PricesStayPositiveAndAdvance(t *testing.T) {
	f := feed.NewSyntheticFeed(feed.SyntheticParams{InitialPrice: 10, Volatility: 2.0, Seed: 7})

	var last time.Time
	for i := 0; i < 2000; i++ {
		obs, ok := f.Next()
		if !ok {
			t.Fatal("synthetic feed should be infinite")
		}
		if obs.Price <= 0 || math.IsNaN(obs.Price) || math.IsInf(obs.Price, 0) {
			t.Fatalf("bad price at step %d: %v", i, obs.Price)
		}
		if i > 0 && !obs.Timestamp.After(last) {
			t.Fatalf("timestamp did not advance at step %d", i)
		}
		last = obs.Timestamp
	}
}

func TestSyntheticFeed_ZeroVolatilityIsFlat(t *testing.T) {
	f := feed.NewSyntheticFeed(feed.SyntheticParams{InitialPrice: 500, Volatility: 0, Drift: 0, Seed: 3})
	for i := 0; i < 100; i++ {
		obs, _ := f.Next()
		if obs.Price != 500 {
			t.Fatalf("flat path moved at step %d: %v", i, obs.Price)
		}
	}
}

// ============================================================================
// Test: CSVFeed
// ============================================================================

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prices.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCSVFeed_CandleHeader(t *testing.T) {
	path := writeCSV(t, strings.Join([]string{
		"time,open,high,low,close,volume",
		"2024-01-01T00:00:00Z,3000,3010,2990,3005,120",
		"2024-01-01T00:01:00Z,3005,3020,3000,3015,90",
	}, "\n"))

	f, err := feed.OpenCSV(path)
	if err != nil {
		t.Fatalf("OpenCSV: %v", err)
	}
	defer f.Close()

	first, ok := f.Next()
	if !ok || first.Price != 3005 {
		t.Errorf("first close: got %+v", first)
	}
	second, ok := f.Next()
	if !ok || second.Price != 3015 {
		t.Errorf("second close: got %+v", second)
	}
	if _, ok := f.Next(); ok {
		t.Error("feed should be exhausted")
	}
	if f.Err() != nil {
		t.Errorf("clean EOF should leave Err nil, got %v", f.Err())
	}
}

func TestCSVFeed_UnixSecondsAndPriceColumn(t *testing.T) {
	path := writeCSV(t, "timestamp,price\n1704067200,42.5\n")

	f, err := feed.OpenCSV(path)
	if err != nil {
		t.Fatalf("OpenCSV: %v", err)
	}
	defer f.Close()

	obs, ok := f.Next()
	if !ok {
		t.Fatal("expected one observation")
	}
	if obs.Price != 42.5 {
		t.Errorf("price: got %v, want 42.5", obs.Price)
	}
	want := time.Unix(1704067200, 0).UTC()
	if !obs.Timestamp.Equal(want) {
		t.Errorf("timestamp: got %v, want %v", obs.Timestamp, want)
	}
}

func TestCSVFeed_MissingColumns(t *testing.T) {
	path := writeCSV(t, "open,high,low\n1,2,3\n")
	if _, err := feed.OpenCSV(path); err == nil {
		t.Error("expected header error for missing time/price columns")
	}
}

func TestCSVFeed_BadPriceStopsFeed(t *testing.T) {
	path := writeCSV(t, "time,price\n2024-01-01T00:00:00Z,abc\n")

	f, err := feed.OpenCSV(path)
	if err != nil {
		t.Fatalf("OpenCSV: %v", err)
	}
	defer f.Close()

	if _, ok := f.Next(); ok {
		t.Fatal("bad row should stop the feed")
	}
	if f.Err() == nil || !strings.Contains(f.Err().Error(), "parse price") {
		t.Errorf("expected parse price error, got %v", f.Err())
	}
}

// ============================================================================
// Test: Validator
// ============================================================================

func TestValidator_RejectsBadPrices(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		price float64
	}{
		{"zero", 0},
		{"negative", -1},
		{"nan", math.NaN()},
		{"posinf", math.Inf(1)},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			v := feed.NewValidator(time.Minute)
			err := v.Validate(feed.Observation{Timestamp: base, Price: c.price})

			var iperr *feed.InvalidPriceError
			if !errors.As(err, &iperr) {
				t.Fatalf("expected *InvalidPriceError, got %v", err)
			}
		})
	}
}

func TestValidator_RequiresAdvancingTimestamps(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	v := feed.NewValidator(time.Minute)

	if err := v.Validate(feed.Observation{Timestamp: base, Price: 100}); err != nil {
		t.Fatalf("first observation: %v", err)
	}
	if err := v.Validate(feed.Observation{Timestamp: base, Price: 101}); err == nil {
		t.Error("equal timestamp should be rejected")
	}
}

func TestValidator_ToleratesGapsButCounts(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	v := feed.NewValidator(time.Minute)

	if err := v.Validate(feed.Observation{Timestamp: base, Price: 100}); err != nil {
		t.Fatal(err)
	}
	// A ten-minute hole is a missing-candle gap, not an error.
	if err := v.Validate(feed.Observation{Timestamp: base.Add(10 * time.Minute), Price: 101}); err != nil {
		t.Fatalf("gap should be tolerated: %v", err)
	}

	if v.Metrics().Gaps() != 1 {
		t.Errorf("gaps: got %d, want 1", v.Metrics().Gaps())
	}
	if v.Seen() != 2 {
		t.Errorf("seen: got %d, want 2", v.Seen())
	}
}
