// Package export streams run output to CSV. The events file uses the flat
// schema from the event package, the bit-exact contract with downstream
// charting; the steps file is the per-step portfolio trajectory.
package export

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"HedgeSim/internal/books"
	"HedgeSim/internal/engine"
	"HedgeSim/internal/event"
)

// EventWriter writes one CSV row per logged event, in sequence order.
// It implements engine.Sink; the header goes out with the first output.
type EventWriter struct {
	w      *csv.Writer
	header bool
}

func NewEventWriter(w io.Writer) *EventWriter {
	return &EventWriter{w: csv.NewWriter(w)}
}

func (ew *EventWriter) Consume(out engine.StepOutput) error {
	if !ew.header {
		if err := ew.w.Write(event.Columns()); err != nil {
			return err
		}
		ew.header = true
	}
	for _, rec := range out.Events {
		if err := ew.w.Write(rec.FlatRow()); err != nil {
			return err
		}
	}
	return nil
}

// Flush drains buffered rows and reports any deferred write error. Call it
// once after the run ends.
func (ew *EventWriter) Flush() error {
	ew.w.Flush()
	return ew.w.Error()
}

// StepColumns is the per-step trajectory schema, one row per engine step.
// Cash and lifetime counters render as micro-USD decimals, floats in the
// shortest round-trip form.
func StepColumns() []string {
	return []string{
		"step",
		"timestamp",
		"price",
		"lp_base",
		"lp_quote",
		"lp_liquidity",
		"lp_range_lower",
		"lp_range_upper",
		"hedge_size",
		"hedge_entry_price",
		"lp_cash",
		"hedge_cash",
		"lp_equity",
		"lp_margin_ratio",
		"hedge_equity",
		"hedge_margin_ratio",
		"realized_pnl",
		"funding_paid",
		"rescue_transferred",
	}
}

// StepWriter writes one CSV row per step output. Implements engine.Sink.
type StepWriter struct {
	w      *csv.Writer
	header bool
}

func NewStepWriter(w io.Writer) *StepWriter {
	return &StepWriter{w: csv.NewWriter(w)}
}

func (sw *StepWriter) Consume(out engine.StepOutput) error {
	if !sw.header {
		if err := sw.w.Write(StepColumns()); err != nil {
			return err
		}
		sw.header = true
	}

	s := out.State
	return sw.w.Write([]string{
		strconv.FormatInt(s.StepIndex, 10),
		s.Timestamp.UTC().Format(time.RFC3339Nano),
		formatFloat(s.Price),
		formatFloat(s.LpQuantityBase),
		formatFloat(s.LpQuantityQuote),
		formatFloat(s.LpLiquidity),
		formatFloat(s.LpRangeLower),
		formatFloat(s.LpRangeUpper),
		formatFloat(s.HedgeSize),
		formatFloat(s.HedgeEntryPrice),
		books.FormatMicro(s.LpMargin),
		books.FormatMicro(s.HedgeMargin),
		formatFloat(out.Lp.Equity),
		formatFloat(out.Lp.MarginRatio),
		formatFloat(out.Hedge.Equity),
		formatFloat(out.Hedge.MarginRatio),
		books.FormatMicro(s.RealizedPnl),
		books.FormatMicro(s.CumulativeFundingPaid),
		books.FormatMicro(s.CumulativeRescueTransferred),
	})
}

// Flush drains buffered rows and reports any deferred write error.
func (sw *StepWriter) Flush() error {
	sw.w.Flush()
	return sw.w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
