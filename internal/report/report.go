// Package report aggregates the per-step outputs of one run into summary
// statistics. The collector is fed from the run loop at step boundaries and
// owns no engine state.
package report

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"HedgeSim/internal/books"
	"HedgeSim/internal/event"
	"HedgeSim/internal/margin"
	"HedgeSim/internal/portfolio"
)

// Summary is the condensed result of a run. The JSON form is what the run
// store and the report files carry.
type Summary struct {
	Steps          int64   `json:"steps"`
	InitialEquity  float64 `json:"initial_equity"`   // USD, at the first step
	FinalEquity    float64 `json:"final_equity"`     // USD, at the last step
	NetPnl         float64 `json:"net_pnl"`          // FinalEquity - InitialEquity
	ReturnPct      float64 `json:"return_pct"`       // NetPnl / InitialEquity * 100
	MaxDrawdownPct float64 `json:"max_drawdown_pct"` // worst peak-to-trough equity drop, percent of peak
	StepVolatility float64 `json:"step_volatility"`  // sample stddev of per-step simple returns
	Sharpe         float64 `json:"sharpe"`           // annualized, zero risk-free rate

	RealizedPnl       float64 `json:"realized_pnl"`       // USD, from hedge fills
	RescueTransferred float64 `json:"rescue_transferred"` // USD, lifetime
	FundingPaid       float64 `json:"funding_paid"`       // USD, negative when the hedge received funding

	EventCounts map[string]int64 `json:"event_counts"` // by Kind.String()
}

// Collector accumulates one run's trajectory. Not safe for concurrent use;
// each run owns its own collector.
type Collector struct {
	stepsPerYear float64

	steps       int64
	initial     float64
	last        float64
	peak        float64
	maxDrawdown float64
	returns     []float64
	counts      map[string]int64

	lastState portfolio.State
}

// NewCollector returns a collector for a run with the given step length.
func NewCollector(stepMinutes float64) *Collector {
	return &Collector{
		stepsPerYear: 365 * 24 * 60 / stepMinutes,
		counts:       make(map[string]int64),
	}
}

// Observe ingests one step's output.
func (c *Collector) Observe(s portfolio.State, lp, hedge margin.Snapshot, events []event.Record) {
	equity := lp.Equity + hedge.Equity

	if c.steps == 0 {
		c.initial = equity
		c.peak = equity
	} else if c.last != 0 {
		c.returns = append(c.returns, equity/c.last-1)
	}

	if equity > c.peak {
		c.peak = equity
	}
	if c.peak > 0 {
		if dd := (c.peak - equity) / c.peak; dd > c.maxDrawdown {
			c.maxDrawdown = dd
		}
	}

	for _, r := range events {
		c.counts[r.Kind.String()]++
	}

	c.last = equity
	c.lastState = s
	c.steps++
}

// Summary finalizes the collected statistics.
func (c *Collector) Summary() Summary {
	s := Summary{
		Steps:          c.steps,
		InitialEquity:  c.initial,
		FinalEquity:    c.last,
		NetPnl:         c.last - c.initial,
		MaxDrawdownPct: c.maxDrawdown * 100,

		RealizedPnl:       books.FromMicro(c.lastState.RealizedPnl),
		RescueTransferred: books.FromMicro(c.lastState.CumulativeRescueTransferred),
		FundingPaid:       books.FromMicro(c.lastState.CumulativeFundingPaid),

		EventCounts: make(map[string]int64, len(c.counts)),
	}
	for k, n := range c.counts {
		s.EventCounts[k] = n
	}

	if c.initial != 0 {
		s.ReturnPct = s.NetPnl / c.initial * 100
	}

	if len(c.returns) >= 2 {
		mean := stat.Mean(c.returns, nil)
		sd := stat.StdDev(c.returns, nil)
		s.StepVolatility = sd
		if sd > 0 {
			s.Sharpe = mean / sd * math.Sqrt(c.stepsPerYear)
		}
	}

	return s
}
