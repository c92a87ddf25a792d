// Package engine is the deterministic simulation core. One Engine owns one
// run: it consumes a price feed one observation at a time, carries the
// portfolio state forward, and emits event records and per-step snapshots at
// step boundaries. Identical feed and configuration replay identical state
// trajectories and identical event log bytes.
package engine

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"HedgeSim/internal/books"
	"HedgeSim/internal/config"
	"HedgeSim/internal/event"
	"HedgeSim/internal/feed"
	"HedgeSim/internal/lpmath"
	"HedgeSim/internal/margin"
	"HedgeSim/internal/observability"
	"HedgeSim/internal/portfolio"
	"HedgeSim/internal/rescue"
)

// StepOutput is one step's result, drained by the caller at the step
// boundary. Events carry their assigned sequence numbers and hashes.
type StepOutput struct {
	State  portfolio.State
	Lp     margin.Snapshot
	Hedge  margin.Snapshot
	Events []event.Record
}

// Engine drives one simulation run. Not thread-safe; callers single-step or
// run it from one goroutine. Parallel scenarios use one Engine each.
type Engine struct {
	cfg       config.Config
	feed      feed.Feed
	validator *feed.Validator
	books     *books.Ledger
	log       *event.Log
	rescuer   *rescue.Controller
	metrics   *observability.Metrics // nil disables instrumentation

	runID   uuid.UUID
	state   portfolio.State
	status  RunStatus
	started bool
	done    bool

	takerFee float64 // fraction of traded notional
	slippage float64 // fraction of swapped volume
	gapsSeen int64
}

// NewEngine validates the configuration, seeds the books with the initial
// capital split, and returns an engine ready to step. The portfolio itself
// is constructed lazily at the first observation, because the entry price
// comes from the feed.
func NewEngine(cfg config.Config, f feed.Feed, metrics *observability.Metrics) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ledger := books.NewLedger()
	lpMicro := books.ToMicro(cfg.InitialCapital * cfg.LpAllocation)
	hedgeMicro := books.ToMicro(cfg.InitialCapital) - lpMicro

	seed := books.NewBatch(0)
	seed.Add(books.JournalTypeSeed, books.AccountLpCash, books.AccountExternalSeed, lpMicro)
	seed.Add(books.JournalTypeSeed, books.AccountHedgeCash, books.AccountExternalSeed, hedgeMicro)
	if err := ledger.ApplyBatch(seed); err != nil {
		return nil, fmt.Errorf("seed books: %w", err)
	}

	rescuer := rescue.NewController(
		rescue.Params{
			LpMaintenance:    cfg.LpMaintenanceRatio,
			HedgeMaintenance: cfg.HedgeMaintenanceRatio,
			TargetRatio:      cfg.RescueTargetRatio,
		},
		rescue.Budget{
			LimitPerWindow:      books.ToMicro(cfg.RescueLimitPerWindow),
			WindowDurationSteps: cfg.RescueWindowSteps,
			LifetimeLimit:       books.ToMicro(cfg.RescueLifetimeLimit),
		},
	)

	e := &Engine{
		cfg:       cfg,
		feed:      f,
		validator: feed.NewValidator(cfg.StepDuration()),
		books:     ledger,
		log:       event.NewLog(),
		rescuer:   rescuer,
		metrics:   metrics,
		runID:     uuid.New(),
		status:    StatusRunning,
		takerFee:  cfg.TakerFeeBps / 10_000,
		slippage:  cfg.SlippageBps / 10_000,
	}
	e.state.LastRebalanceStep = -1
	e.mirrorCash()
	return e, nil
}

// RunID identifies this run in sinks and logs.
func (e *Engine) RunID() uuid.UUID { return e.runID }

// Status returns the run status; Running until a terminal condition fires.
func (e *Engine) Status() RunStatus { return e.status }

// State returns a copy of the current portfolio state.
func (e *Engine) State() portfolio.State { return e.state }

// Log returns the run's event log.
func (e *Engine) Log() *event.Log { return e.log }

// Books returns the run's cash ledger.
func (e *Engine) Books() *books.Ledger { return e.books }

// initialize opens the portfolio at the first observed price: the LP
// position is entered with the full LP allocation and the hedge is opened
// short by exactly the LP delta, so the portfolio starts delta-neutral.
// Construction is not a decision, so it emits no events; only the hedge
// entry fee is journaled.
func (e *Engine) initialize(obs feed.Observation) error {
	price := obs.Price
	r := lpmath.RangeAround(price, e.cfg.RangeWidth)
	lpCash := e.books.LpCash()

	l := lpmath.LiquidityForCapital(books.FromMicro(lpCash), price, r, e.cfg.MinLiquidity)
	holdings := lpmath.HoldingsAt(l, price, r)

	hedgeSize := -lpmath.Delta(l, price, r)
	entryFee := books.ToMicro(math.Abs(hedgeSize) * price * e.takerFee)

	batch := books.NewBatch(0)
	batch.Add(books.JournalTypeLpEntry, books.AccountExternalTrading, books.AccountLpCash, lpCash)
	if entryFee > 0 {
		batch.Add(books.JournalTypeTradeFee, books.AccountExternalFees, books.AccountHedgeCash, entryFee)
	}
	if err := e.books.ApplyBatch(batch); err != nil {
		return fmt.Errorf("construction journals: %w", err)
	}

	e.state = portfolio.State{
		StepIndex:         0,
		Timestamp:         obs.Timestamp,
		Price:             price,
		LpQuantityBase:    holdings.Base,
		LpQuantityQuote:   holdings.Quote,
		LpLiquidity:       l,
		LpRangeLower:      r.Lower,
		LpRangeUpper:      r.Upper,
		HedgeSize:         hedgeSize,
		HedgeEntryPrice:   price,
		LastRebalanceStep: -1,
	}
	e.mirrorCash()

	// The hedge allocation must carry the entry margin, or the run is
	// misconfigured from the start.
	hedgeSnap, err := margin.SnapshotHedge(e.state, price, e.cfg.HedgeLeverage)
	if err != nil {
		return err
	}
	if hedgeSnap.Equity < hedgeSnap.UsedMargin {
		return fmt.Errorf(
			"initial hedge underfunded: equity %.2f < used margin %.2f (lower lp_allocation or raise hedge_leverage)",
			hedgeSnap.Equity, hedgeSnap.UsedMargin)
	}
	return nil
}

// mirrorCash copies the books balances into the state so snapshots and
// canonical bytes see them. Called after every batch the engine applies.
func (e *Engine) mirrorCash() {
	e.state.LpMargin = e.books.LpCash()
	e.state.HedgeMargin = e.books.HedgeCash()
}

// snapshots computes both margin snapshots at the given price. The price was
// validated when the observation entered the step, so a failure here is an
// internal invariant violation.
func (e *Engine) snapshots(price float64) (margin.Snapshot, margin.Snapshot) {
	lp, err := margin.SnapshotLp(e.state, price)
	if err != nil {
		panic(fmt.Sprintf("FATAL: lp margin snapshot: %v", err))
	}
	hedge, err := margin.SnapshotHedge(e.state, price, e.cfg.HedgeLeverage)
	if err != nil {
		panic(fmt.Sprintf("FATAL: hedge margin snapshot: %v", err))
	}
	return lp, hedge
}

// summarize captures the per-side standing attached to each event record.
func (e *Engine) summarize(price float64) event.StateSummary {
	lp, hedge := e.snapshots(price)
	return event.StateSummary{
		LpEquity:         lp.Equity,
		LpMarginRatio:    lp.MarginRatio,
		LpCash:           e.state.LpMargin,
		HedgeEquity:      hedge.Equity,
		HedgeMarginRatio: hedge.MarginRatio,
		HedgeCash:        e.state.HedgeMargin,
		RealizedPnl:      e.state.RealizedPnl,
	}
}
