package engine

import (
	"fmt"
	"math"

	"HedgeSim/internal/books"
	"HedgeSim/internal/event"
	"HedgeSim/internal/feed"
	"HedgeSim/internal/hedge"
	"HedgeSim/internal/inventory"
	"HedgeSim/internal/lpmath"
	"HedgeSim/internal/margin"
	"HedgeSim/internal/rescue"
)

// Step consumes the next observation and advances the run by one step. The
// phase order is fixed: price validation, pool drift, funding, rebalance,
// margin snapshots, rescue, hedge, fee accrual, logging, terminal checks.
// Reordering phases changes every downstream hash, so treat the order as
// part of the wire format.
//
// The second return is false when no step was produced: the feed is
// exhausted or the run already ended. Errors are fatal; the run is marked
// Aborted before they are returned.
func (e *Engine) Step() (StepOutput, bool, error) {
	if e.done {
		return StepOutput{}, false, nil
	}

	obs, ok := e.feed.Next()
	if !ok {
		if err := e.feed.Err(); err != nil {
			e.finish(StatusAborted)
			return StepOutput{}, false, fmt.Errorf("feed: %w", err)
		}
		e.finish(StatusCompleted)
		return StepOutput{}, false, nil
	}

	if err := e.validator.Validate(obs); err != nil {
		e.finish(StatusAborted)
		return StepOutput{}, false, err
	}
	e.observeGaps()

	// First observation constructs the portfolio instead of trading it.
	if !e.started {
		e.started = true
		if err := e.initialize(obs); err != nil {
			e.finish(StatusAborted)
			return StepOutput{}, false, err
		}
		return e.finishStep(obs, nil), true, nil
	}

	stepIndex := e.state.StepIndex + 1
	e.state = inventory.ApplyLpDrift(e.state, obs.Price, e.cfg.MinLiquidity)
	e.state.StepIndex = stepIndex
	e.state.Timestamp = obs.Timestamp
	e.state.Price = obs.Price

	var staged []event.Record

	if rec, fired := e.settleFunding(obs); fired {
		staged = append(staged, rec)
	}
	if rec, fired := e.maybeRebalance(obs); fired {
		staged = append(staged, rec)
	}

	lpSnap, hedgeSnap := e.snapshots(obs.Price)

	transfer, denial := e.rescuer.Evaluate(lpSnap, hedgeSnap, e.state, stepIndex)
	if transfer != nil {
		staged = append(staged, e.applyRescue(obs, transfer))
		_, hedgeSnap = e.snapshots(obs.Price)
	} else if denial != nil {
		staged = append(staged, e.denyRescue(obs, denial))
	}

	if rec, fired := e.maybeHedge(obs, hedgeSnap); fired {
		staged = append(staged, rec)
	}

	return e.finishStep(obs, staged), true, nil
}

// settleFunding books the periodic funding flow against the hedge notional.
// A long position pays a positive rate, a short receives it; flow is signed
// from the hedge account's point of view, positive meaning paid out.
func (e *Engine) settleFunding(obs feed.Observation) (event.Record, bool) {
	if e.cfg.FundingRate == 0 || e.cfg.FundingIntervalSteps <= 0 {
		return event.Record{}, false
	}
	if e.state.StepIndex%e.cfg.FundingIntervalSteps != 0 {
		return event.Record{}, false
	}

	payment := books.ToMicro(e.state.HedgeNotional(obs.Price) * e.cfg.FundingRate)
	flow := payment
	if e.state.HedgeSize < 0 {
		flow = -payment
	}
	if flow == 0 {
		return event.Record{}, false
	}

	batch := books.NewBatch(e.state.StepIndex)
	if flow > 0 {
		batch.Add(books.JournalTypeFundingPayment, books.AccountExternalFunding, books.AccountHedgeCash, flow)
	} else {
		batch.Add(books.JournalTypeFundingPayment, books.AccountHedgeCash, books.AccountExternalFunding, -flow)
	}
	if err := e.books.ApplyBatch(batch); err != nil {
		panic(fmt.Sprintf("FATAL: funding journal: %v", err))
	}
	e.state.CumulativeFundingPaid += flow
	e.mirrorCash()

	if e.metrics != nil {
		if flow > 0 {
			e.metrics.FundingPaidUSD.Add(books.FromMicro(flow))
		} else {
			e.metrics.FundingRecvUSD.Add(books.FromMicro(-flow))
		}
	}

	return event.Record{
		StepIndex: e.state.StepIndex,
		Timestamp: obs.Timestamp,
		Kind:      event.KindFunding,
		Price:     obs.Price,
		Amount:    flow,
		Summary:   e.summarize(obs.Price),
	}, true
}

// maybeRebalance re-centers the liquidity range when the composition skew
// has drifted past the threshold and the cooldown has elapsed. Slippage is
// paid from position value; gas comes from LP cash when the balance covers
// it, otherwise it also reduces the position.
func (e *Engine) maybeRebalance(obs feed.Observation) (event.Record, bool) {
	price := obs.Price
	r := e.state.Range()

	drift := math.Abs(lpmath.SkewAt(e.state.LpLiquidity, price, r) - 0.5)
	if drift <= e.cfg.RebalanceThreshold {
		return event.Record{}, false
	}
	if e.state.LastRebalanceStep >= 0 &&
		e.state.StepIndex-e.state.LastRebalanceStep < e.cfg.RebalanceCooldownSteps {
		return event.Record{}, false
	}

	value := lpmath.ValueAt(e.state.LpLiquidity, price, r)
	slippageCost := value * drift * e.slippage
	costFromValue := slippageCost

	gasMicro := books.ToMicro(e.cfg.GasCost)
	if gasMicro > 0 && e.books.LpCash() >= gasMicro {
		batch := books.NewBatch(e.state.StepIndex)
		batch.Add(books.JournalTypeRebalanceCost, books.AccountExternalGas, books.AccountLpCash, gasMicro)
		if err := e.books.ApplyBatch(batch); err != nil {
			panic(fmt.Sprintf("FATAL: rebalance journal: %v", err))
		}
		e.mirrorCash()
	} else {
		costFromValue += e.cfg.GasCost
	}

	newValue := value - costFromValue
	if newValue < 0 {
		newValue = 0
	}

	nr := lpmath.RangeAround(price, e.cfg.RangeWidth)
	l := lpmath.LiquidityForCapital(newValue, price, nr, e.cfg.MinLiquidity)
	h := lpmath.HoldingsAt(l, price, nr)

	e.state.LpLiquidity = l
	e.state.LpRangeLower = nr.Lower
	e.state.LpRangeUpper = nr.Upper
	e.state.LpQuantityBase = h.Base
	e.state.LpQuantityQuote = h.Quote
	e.state.LastRebalanceStep = e.state.StepIndex

	return event.Record{
		StepIndex: e.state.StepIndex,
		Timestamp: obs.Timestamp,
		Kind:      event.KindRebalance,
		Price:     price,
		Amount:    books.ToMicro(slippageCost + e.cfg.GasCost),
		Reason:    "skew_drift",
		Summary:   e.summarize(price),
	}, true
}

// applyRescue executes an approved transfer: one journal from donor to
// recipient, cumulative counter, fresh cash mirror.
func (e *Engine) applyRescue(obs feed.Observation, t *rescue.Transfer) event.Record {
	batch := books.NewBatch(e.state.StepIndex)
	batch.Add(books.JournalTypeRescueTransfer, t.Recipient, t.Donor, t.Amount)
	if err := e.books.ApplyBatch(batch); err != nil {
		panic(fmt.Sprintf("FATAL: rescue journal: %v", err))
	}
	e.state.CumulativeRescueTransferred += t.Amount
	e.mirrorCash()

	if e.metrics != nil {
		e.metrics.RescueTransferredUSD.Add(books.FromMicro(t.Amount))
	}

	return event.Record{
		StepIndex: e.state.StepIndex,
		Timestamp: obs.Timestamp,
		Kind:      event.KindRescue,
		Price:     obs.Price,
		Amount:    t.Amount,
		Reason:    "to_hedge",
		Summary:   e.summarize(obs.Price),
	}
}

// denyRescue records a needed-but-refused rescue. Nothing moves.
func (e *Engine) denyRescue(obs feed.Observation, d *rescue.Denial) event.Record {
	if e.metrics != nil {
		e.metrics.RescueDenials.WithLabelValues(d.Reason).Inc()
	}
	return event.Record{
		StepIndex: e.state.StepIndex,
		Timestamp: obs.Timestamp,
		Kind:      event.KindRescueDenied,
		Price:     obs.Price,
		Amount:    d.Needed,
		Reason:    d.Reason,
		Summary:   e.summarize(obs.Price),
	}
}

// maybeHedge closes residual delta with a perp trade when it leaves the
// deadband. A fill that would outgrow the margin account is refused and
// recorded as HedgeFailed; the position is left as it was.
func (e *Engine) maybeHedge(obs feed.Observation, hedgeSnap margin.Snapshot) (event.Record, bool) {
	price := obs.Price
	preDelta := inventory.ResidualDelta(e.state, price)

	order := hedge.Decide(preDelta, e.cfg.Deadband, e.state.HedgeSize)
	if order == nil {
		return event.Record{}, false
	}

	fee := books.ToMicro(order.Size * price * e.takerFee)

	// Margin is checked only for growing trades; reducing exposure is
	// always allowed.
	if math.Abs(order.TargetSize) > math.Abs(e.state.HedgeSize) {
		needed := math.Abs(order.TargetSize) * price / e.cfg.HedgeLeverage
		if hedgeSnap.Equity-books.FromMicro(fee) < needed {
			return event.Record{
				StepIndex: e.state.StepIndex,
				Timestamp: obs.Timestamp,
				Kind:      event.KindHedgeFailed,
				Price:     price,
				Side:      order.Side.String(),
				Size:      order.Size,
				Amount:    fee,
				PreDelta:  preDelta,
				PostDelta: preDelta,
				Reason:    "insufficient_margin",
				Summary:   e.summarize(price),
			}, true
		}
	}

	next, realized := inventory.ApplyHedgeFill(e.state, order.SignedFill(), price)
	e.state = next
	realizedMicro := books.ToMicro(realized)

	batch := books.NewBatch(e.state.StepIndex)
	if fee > 0 {
		batch.Add(books.JournalTypeTradeFee, books.AccountExternalFees, books.AccountHedgeCash, fee)
	}
	if realizedMicro > 0 {
		batch.Add(books.JournalTypeTradePnl, books.AccountHedgeCash, books.AccountExternalTrading, realizedMicro)
	} else if realizedMicro < 0 {
		batch.Add(books.JournalTypeTradePnl, books.AccountExternalTrading, books.AccountHedgeCash, -realizedMicro)
	}
	if len(batch.Journals) > 0 {
		if err := e.books.ApplyBatch(batch); err != nil {
			panic(fmt.Sprintf("FATAL: hedge journal: %v", err))
		}
		e.mirrorCash()
	}
	e.state.RealizedPnl += realizedMicro

	if e.metrics != nil {
		e.metrics.HedgeVolumeUSD.Add(order.Size * price)
	}

	return event.Record{
		StepIndex: e.state.StepIndex,
		Timestamp: obs.Timestamp,
		Kind:      event.KindHedge,
		Price:     price,
		Side:      order.Side.String(),
		Size:      order.Size,
		Amount:    fee,
		PreDelta:  preDelta,
		PostDelta: inventory.ResidualDelta(e.state, price),
		Summary:   e.summarize(price),
	}, true
}

// accrueLpFees credits the step's trading fees to LP cash. Fees accrue only
// in range and only on real deployed liquidity; the construction step earns
// nothing because no time has elapsed yet.
func (e *Engine) accrueLpFees() {
	if e.state.StepIndex == 0 {
		return
	}
	r := e.state.Range()
	if !r.Contains(e.state.Price) || e.state.LpLiquidity <= e.cfg.MinLiquidity {
		return
	}

	value := lpmath.ValueAt(e.state.LpLiquidity, e.state.Price, r)
	fee := books.ToMicro(value * e.cfg.FeeAPR * lpmath.Multiplier(e.cfg.RangeWidth) * e.cfg.StepYears())
	if fee <= 0 {
		return
	}

	batch := books.NewBatch(e.state.StepIndex)
	batch.Add(books.JournalTypeLpFeeAccrual, books.AccountLpCash, books.AccountExternalFees, fee)
	if err := e.books.ApplyBatch(batch); err != nil {
		panic(fmt.Sprintf("FATAL: fee accrual journal: %v", err))
	}
	e.mirrorCash()
}

// finishStep closes the step: accrue fees, take the final snapshots, append
// the staged records to the log, and apply the terminal checks.
func (e *Engine) finishStep(obs feed.Observation, staged []event.Record) StepOutput {
	e.accrueLpFees()
	lp, hedgeSnap := e.snapshots(obs.Price)

	if len(staged) == 0 && e.cfg.Verbose && e.state.StepIndex > 0 {
		staged = append(staged, event.Record{
			StepIndex: e.state.StepIndex,
			Timestamp: obs.Timestamp,
			Kind:      event.KindNoAction,
			Price:     obs.Price,
			Summary:   e.summarize(obs.Price),
		})
	}

	out := StepOutput{State: e.state, Lp: lp, Hedge: hedgeSnap}
	for _, rec := range staged {
		out.Events = append(out.Events, e.log.Append(rec))
	}

	lpStatus := lp.Status(e.cfg.LpMaintenanceRatio, e.cfg.LpLiquidationRatio)
	hedgeStatus := hedgeSnap.Status(e.cfg.HedgeMaintenanceRatio, e.cfg.HedgeLiquidationRatio)
	switch {
	case lpStatus == margin.StatusMarginCall && hedgeStatus == margin.StatusMarginCall:
		e.finish(StatusPortfolioFailure)
	case e.cfg.MaxSteps > 0 && e.state.StepIndex+1 >= e.cfg.MaxSteps:
		e.finish(StatusMaxStepsReached)
	}

	e.observeStep(out)
	return out
}

// finish marks the run terminal exactly once.
func (e *Engine) finish(status RunStatus) {
	if e.done {
		return
	}
	e.done = true
	e.status = status
	if e.metrics != nil {
		e.metrics.RunsTotal.WithLabelValues(status.String()).Inc()
	}
}

// observeGaps forwards newly counted feed gaps to the gauge-side counter.
func (e *Engine) observeGaps() {
	if e.metrics == nil {
		return
	}
	if gaps := e.validator.Metrics().Gaps(); gaps > e.gapsSeen {
		e.metrics.FeedGapsTotal.Add(float64(gaps - e.gapsSeen))
		e.gapsSeen = gaps
	}
}

// observeStep exports the step's gauges and counters. Wall-clock timing is
// observed in Run around the whole step; Step itself never reads a clock.
func (e *Engine) observeStep(out StepOutput) {
	if e.metrics == nil {
		return
	}
	e.metrics.StepsTotal.Inc()
	for _, rec := range out.Events {
		e.metrics.EventsTotal.WithLabelValues(rec.Kind.String()).Inc()
	}
	e.metrics.ResidualDelta.Set(inventory.ResidualDelta(out.State, out.State.Price))
	e.metrics.ObservePortfolio("lp", out.Lp.Equity, out.Lp.MarginRatio)
	e.metrics.ObservePortfolio("hedge", out.Hedge.Equity, out.Hedge.MarginRatio)
	if e.rescuer.Breaker() == rescue.BreakerTripped {
		e.metrics.RescueBreakerTripped.Set(1)
	} else {
		e.metrics.RescueBreakerTripped.Set(0)
	}
}
