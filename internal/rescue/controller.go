// Package rescue implements the bounded cross-margin circuit breaker. When
// the hedge side falls below its maintenance ratio, the controller may move
// cash from the LP side to restore it, capped by a per-window budget and by
// the requirement that the LP donor stay healthy after the transfer. An
// unbounded version of this mechanism is exactly the failure mode being
// prevented: draining the LP side to patch the hedge until both collapse.
package rescue

import (
	"math"

	"HedgeSim/internal/books"
	"HedgeSim/internal/margin"
	"HedgeSim/internal/portfolio"
)

// Denial reasons, stable strings used in event records.
const (
	ReasonBudgetExhausted = "budget_exhausted"
	ReasonDonorAtRisk     = "donor_at_risk"
)

// Params are the risk thresholds the controller evaluates against.
// Config validation guarantees TargetRatio exceeds the hedge maintenance.
type Params struct {
	LpMaintenance    float64 // donor-health bar
	HedgeMaintenance float64 // rescue trigger
	TargetRatio      float64 // restore the hedge to this ratio
}

// Transfer is an approved rescue: move Amount micro-USD of cash from the
// donor account to the recipient account.
type Transfer struct {
	Donor     books.Account
	Recipient books.Account
	Amount    int64
	Need      int64 // uncapped amount that would restore the target ratio
}

// Denial is a rescue that was needed but refused. Nothing executes
// partially; the step proceeds with the risk on the books.
type Denial struct {
	Reason string
	Needed int64
}

// Controller owns the breaker state and the budget for one run.
// Not thread-safe; only accessed from the single-threaded engine loop.
type Controller struct {
	params  Params
	budget  Budget
	breaker BreakerState
}

func NewController(params Params, budget Budget) *Controller {
	return &Controller{
		params:  params,
		budget:  budget,
		breaker: BreakerArmed,
	}
}

// Breaker returns the current breaker position.
func (c *Controller) Breaker() BreakerState { return c.breaker }

// Budget returns a copy of the current budget for inspection.
func (c *Controller) Budget() Budget { return c.budget }

// Evaluate decides whether a rescue happens at step now. At most one of the
// returns is non-nil: a Transfer the engine must apply, or a Denial it must
// record. Both nil means the hedge does not need rescuing.
//
// Order matters: the window rolls over first (re-arming a tripped breaker),
// then need is sized against the remaining window and lifetime budgets, and
// only a fully budgeted transfer is checked against donor health. A zero
// remaining budget trips the breaker; an unhealthy donor denies without
// tripping, since budget is still available for a smaller future need.
func (c *Controller) Evaluate(lp, hedge margin.Snapshot, s portfolio.State, now int64) (*Transfer, *Denial) {
	if c.budget.RolloverDue(now) {
		c.budget.Rollover(now)
		if c.breaker.CanTransitionTo(BreakerArmed) {
			c.breaker = BreakerArmed
		}
	}

	if hedge.MarginRatio >= c.params.HedgeMaintenance {
		return nil, nil
	}

	need := books.ToMicro(c.params.TargetRatio*hedge.UsedMargin - hedge.Equity)
	if need <= 0 {
		return nil, nil
	}

	remaining := c.budget.RemainingInWindow()
	if lifetime := c.budget.RemainingLifetime(s.CumulativeRescueTransferred); lifetime < remaining {
		remaining = lifetime
	}
	if remaining <= 0 {
		if c.breaker.CanTransitionTo(BreakerTripped) {
			c.breaker = BreakerTripped
		}
		return nil, &Denial{Reason: ReasonBudgetExhausted, Needed: need}
	}

	amount := need
	if amount > remaining {
		amount = remaining
	}

	donorEquityAfter := lp.Equity - books.FromMicro(amount)
	if marginRatio(donorEquityAfter, lp.UsedMargin) < c.params.LpMaintenance {
		return nil, &Denial{Reason: ReasonDonorAtRisk, Needed: need}
	}

	c.budget.TransferredInWindow += amount
	return &Transfer{
		Donor:     books.AccountLpCash,
		Recipient: books.AccountHedgeCash,
		Amount:    amount,
		Need:      need,
	}, nil
}

func marginRatio(equity, used float64) float64 {
	if used == 0 {
		return math.Inf(1)
	}
	return equity / used
}
