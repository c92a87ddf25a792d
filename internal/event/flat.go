package event

import (
	"encoding/hex"
	"strconv"
	"time"

	"HedgeSim/internal/books"
)

// Columns is the fixed tabular schema for exported records, one row per
// record. This schema is the only bit-exact contract with downstream
// consumers; changing it breaks stored runs.
func Columns() []string {
	return []string{
		"seq",
		"step",
		"timestamp",
		"kind",
		"price",
		"side",
		"size",
		"amount",
		"pre_delta",
		"post_delta",
		"reason",
		"lp_equity",
		"lp_margin_ratio",
		"lp_cash",
		"hedge_equity",
		"hedge_margin_ratio",
		"hedge_cash",
		"realized_pnl",
		"state_hash",
	}
}

// FlatRow renders the record into the Columns schema. Zero-valued side,
// size, amount, and reason render as empty cells; they are the fields that
// do not apply to every kind.
func (r Record) FlatRow() []string {
	side := r.Side
	size := ""
	if r.Size != 0 {
		size = formatFloat(r.Size)
	}
	amount := ""
	if r.Amount != 0 {
		amount = books.FormatMicro(r.Amount)
	}

	return []string{
		strconv.FormatInt(r.Seq, 10),
		strconv.FormatInt(r.StepIndex, 10),
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		r.Kind.String(),
		formatFloat(r.Price),
		side,
		size,
		amount,
		formatFloat(r.PreDelta),
		formatFloat(r.PostDelta),
		r.Reason,
		formatFloat(r.Summary.LpEquity),
		formatFloat(r.Summary.LpMarginRatio),
		books.FormatMicro(r.Summary.LpCash),
		formatFloat(r.Summary.HedgeEquity),
		formatFloat(r.Summary.HedgeMarginRatio),
		books.FormatMicro(r.Summary.HedgeCash),
		books.FormatMicro(r.Summary.RealizedPnl),
		hex.EncodeToString(r.StateHash[:]),
	}
}

// formatFloat uses the shortest representation that round-trips, so equal
// inputs always render to equal strings.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
