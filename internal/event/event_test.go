package event_test

import (
	"strings"
	"testing"
	"time"

	"HedgeSim/internal/event"
)

func sampleRecord(step int64, kind event.Kind) event.Record {
	return event.Record{
		StepIndex: step,
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(step) * time.Minute),
		Kind:      kind,
		Price:     3000,
		Side:      "sell",
		Size:      1.5,
		Amount:    20_000_000_000,
		PreDelta:  1.5,
		PostDelta: 0,
		Summary: event.StateSummary{
			LpEquity:         600_000,
			LpMarginRatio:    1.2,
			LpCash:           5_000_000_000,
			HedgeEquity:      400_000,
			HedgeMarginRatio: 1.8,
			HedgeCash:        400_000_000_000,
		},
	}
}

// ============================================================================
// Test: log append and hash chain
// ============================================================================

func TestAppend_AssignsSequence(t *testing.T) {
	log := event.NewLog()

	for i := int64(0); i < 5; i++ {
		rec := log.Append(sampleRecord(i, event.KindHedge))
		if rec.Seq != i {
			t.Errorf("record %d: seq %d", i, rec.Seq)
		}
	}
	if log.Len() != 5 {
		t.Errorf("len: got %d, want 5", log.Len())
	}
}

func TestAppend_ChainsHashes(t *testing.T) {
	log := event.NewLog()

	a := log.Append(sampleRecord(0, event.KindHedge))
	b := log.Append(sampleRecord(1, event.KindRescue))

	if b.PrevHash != a.StateHash {
		t.Error("record 1 prev hash does not match record 0 state hash")
	}
	if a.StateHash == b.StateHash {
		t.Error("distinct records must not share a state hash")
	}
	if log.Head() != b.StateHash {
		t.Error("head must be the last record's state hash")
	}
}

func TestAppend_DeterministicAcrossLogs(t *testing.T) {
	a := event.NewLog()
	b := event.NewLog()

	for i := int64(0); i < 20; i++ {
		kind := event.KindHedge
		if i%5 == 0 {
			kind = event.KindRescueDenied
		}
		ra := a.Append(sampleRecord(i, kind))
		rb := b.Append(sampleRecord(i, kind))
		if ra != rb {
			t.Fatalf("records diverge at %d", i)
		}
	}
	if a.Head() != b.Head() {
		t.Error("identical appends must produce identical heads")
	}
}

func TestAppend_ContentChangesHash(t *testing.T) {
	a := event.NewLog()
	b := event.NewLog()

	ra := a.Append(sampleRecord(0, event.KindHedge))

	changed := sampleRecord(0, event.KindHedge)
	changed.Reason = "different"
	rb := b.Append(changed)

	if ra.StateHash == rb.StateHash {
		t.Error("different content must hash differently")
	}
}

func TestRecords_ReturnsCopy(t *testing.T) {
	log := event.NewLog()
	log.Append(sampleRecord(0, event.KindFunding))

	records := log.Records()
	records[0].Reason = "tampered"

	if log.At(0).Reason == "tampered" {
		t.Error("Records must not expose the backing array")
	}
}

// ============================================================================
// Test: flat export
// ============================================================================

func TestFlatRow_MatchesColumns(t *testing.T) {
	rec := event.NewLog().Append(sampleRecord(3, event.KindRescue))

	row := rec.FlatRow()
	if len(row) != len(event.Columns()) {
		t.Fatalf("row width %d, columns %d", len(row), len(event.Columns()))
	}
}

func TestFlatRow_Cells(t *testing.T) {
	rec := event.NewLog().Append(sampleRecord(3, event.KindRescue))
	row := rec.FlatRow()

	cells := map[string]string{}
	for i, name := range event.Columns() {
		cells[name] = row[i]
	}

	if cells["seq"] != "0" || cells["step"] != "3" {
		t.Errorf("seq/step: %s/%s", cells["seq"], cells["step"])
	}
	if cells["kind"] != "Rescue" {
		t.Errorf("kind: %s", cells["kind"])
	}
	if cells["timestamp"] != "2024-01-01T00:03:00Z" {
		t.Errorf("timestamp: %s", cells["timestamp"])
	}
	if cells["price"] != "3000" {
		t.Errorf("price: %s", cells["price"])
	}
	if cells["amount"] != "20000.000000" {
		t.Errorf("amount: %s", cells["amount"])
	}
	if cells["lp_cash"] != "5000.000000" {
		t.Errorf("lp_cash: %s", cells["lp_cash"])
	}
	if len(cells["state_hash"]) != 64 || strings.ToLower(cells["state_hash"]) != cells["state_hash"] {
		t.Errorf("state_hash: %s", cells["state_hash"])
	}
}

func TestFlatRow_InapplicableFieldsAreEmpty(t *testing.T) {
	rec := event.Record{
		StepIndex: 1,
		Timestamp: time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC),
		Kind:      event.KindNoAction,
		Price:     3000,
	}
	row := event.NewLog().Append(rec).FlatRow()

	cells := map[string]string{}
	for i, name := range event.Columns() {
		cells[name] = row[i]
	}
	for _, name := range []string{"side", "size", "amount", "reason"} {
		if cells[name] != "" {
			t.Errorf("%s: got %q, want empty", name, cells[name])
		}
	}
}

func TestColumns_Stable(t *testing.T) {
	want := "seq,step,timestamp,kind,price,side,size,amount,pre_delta,post_delta,reason," +
		"lp_equity,lp_margin_ratio,lp_cash,hedge_equity,hedge_margin_ratio,hedge_cash," +
		"realized_pnl,state_hash"
	if got := strings.Join(event.Columns(), ","); got != want {
		t.Errorf("columns changed:\ngot  %s\nwant %s", got, want)
	}
}

func TestKind_String(t *testing.T) {
	cases := map[event.Kind]string{
		event.KindRebalance:    "Rebalance",
		event.KindHedge:        "Hedge",
		event.KindHedgeFailed:  "HedgeFailed",
		event.KindRescue:       "Rescue",
		event.KindRescueDenied: "RescueDenied",
		event.KindFunding:      "Funding",
		event.KindNoAction:     "NoAction",
		event.Kind(99):         "Unknown",
	}
	for kind, want := range cases {
		if kind.String() != want {
			t.Errorf("got %s, want %s", kind, want)
		}
	}
}

func TestParseKind_RoundTrips(t *testing.T) {
	kinds := []event.Kind{
		event.KindRebalance, event.KindHedge, event.KindHedgeFailed,
		event.KindRescue, event.KindRescueDenied, event.KindFunding,
		event.KindNoAction,
	}
	for _, k := range kinds {
		if got := event.ParseKind(k.String()); got != k {
			t.Errorf("ParseKind(%s): got %v", k, got)
		}
	}
	if got := event.ParseKind("bogus"); got != event.KindUnknown {
		t.Errorf("ParseKind(bogus): got %v", got)
	}
}

// ============================================================================
// Test: chain verification
// ============================================================================

func chainOf(n int64) []event.Record {
	log := event.NewLog()
	for i := int64(0); i < n; i++ {
		kind := event.KindHedge
		if i%3 == 0 {
			kind = event.KindFunding
		}
		log.Append(sampleRecord(i, kind))
	}
	return log.Records()
}

func TestVerifyChain_AcceptsAppendedRecords(t *testing.T) {
	if err := event.VerifyChain(chainOf(10)); err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
}

func TestVerifyChain_AcceptsSuffix(t *testing.T) {
	if err := event.VerifyChain(chainOf(10)[4:]); err != nil {
		t.Fatalf("VerifyChain on suffix: %v", err)
	}
}

func TestVerifyChain_DetectsTamperedContent(t *testing.T) {
	records := chainOf(5)
	records[2].Amount++

	if err := event.VerifyChain(records); err == nil {
		t.Fatal("tampered amount must fail verification")
	}
}

func TestVerifyChain_DetectsGap(t *testing.T) {
	records := chainOf(5)
	gapped := append(records[:2:2], records[3:]...)

	if err := event.VerifyChain(gapped); err == nil {
		t.Fatal("sequence gap must fail verification")
	}
}

func TestVerifyChain_DetectsBrokenLink(t *testing.T) {
	records := chainOf(5)
	records[3].PrevHash[0] ^= 0xff

	if err := event.VerifyChain(records); err == nil {
		t.Fatal("broken prev-hash link must fail verification")
	}
}

func TestVerifyChain_DetectsForgedGenesis(t *testing.T) {
	records := chainOf(1)
	records[0].PrevHash[0] ^= 0xff

	if err := event.VerifyChain(records); err == nil {
		t.Fatal("forged genesis link must fail verification")
	}
}
