// Package event is the append-only audit log of a run. Every state-changing
// decision becomes one immutable Record; the log assigns sequence numbers
// and a SHA-256 hash chain so two runs can be compared byte for byte.
package event

import (
	"math"
	"time"
)

// StateSummary is the portfolio snapshot attached to each record, taken
// after the decision was applied.
type StateSummary struct {
	LpEquity         float64
	LpMarginRatio    float64
	LpCash           int64 // micro-USD
	HedgeEquity      float64
	HedgeMarginRatio float64
	HedgeCash        int64 // micro-USD
	RealizedPnl      int64 // micro-USD
}

// Record is one logged decision. Seq, StateHash, and PrevHash are assigned
// by the log on append; everything else is set by the producer. Fields that
// do not apply to a kind stay zero.
type Record struct {
	Seq       int64
	StepIndex int64
	Timestamp time.Time
	Kind      Kind
	Price     float64
	Side      string  // buy or sell, empty when not a trade
	Size      float64 // base units
	Amount    int64   // micro-USD moved (rescue, funding, costs)
	PreDelta  float64
	PostDelta float64
	Reason    string
	Summary   StateSummary

	StateHash [32]byte // SHA-256 of the chain after this record
	PrevHash  [32]byte
}

// digest returns the canonical serialization of the record's content, the
// input to the hash chain. StateHash and PrevHash are excluded; the chain
// itself covers them.
func (r Record) digest() []byte {
	buf := make([]byte, 0, 160)

	buf = appendInt64LE(buf, r.StepIndex)
	buf = appendInt64LE(buf, r.Timestamp.UnixNano())
	buf = append(buf, byte(r.Kind))
	buf = appendFloat64LE(buf, r.Price)
	buf = appendString(buf, r.Side)
	buf = appendFloat64LE(buf, r.Size)
	buf = appendInt64LE(buf, r.Amount)
	buf = appendFloat64LE(buf, r.PreDelta)
	buf = appendFloat64LE(buf, r.PostDelta)
	buf = appendString(buf, r.Reason)

	buf = appendFloat64LE(buf, r.Summary.LpEquity)
	buf = appendFloat64LE(buf, r.Summary.LpMarginRatio)
	buf = appendInt64LE(buf, r.Summary.LpCash)
	buf = appendFloat64LE(buf, r.Summary.HedgeEquity)
	buf = appendFloat64LE(buf, r.Summary.HedgeMarginRatio)
	buf = appendInt64LE(buf, r.Summary.HedgeCash)
	buf = appendInt64LE(buf, r.Summary.RealizedPnl)

	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

func appendFloat64LE(buf []byte, v float64) []byte {
	return appendInt64LE(buf, int64(math.Float64bits(v)))
}

func appendString(buf []byte, s string) []byte {
	buf = append(buf, byte(len(s)))
	return append(buf, s...)
}
