package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"HedgeSim/internal/config"
	"HedgeSim/internal/engine"
	"HedgeSim/internal/export"
	"HedgeSim/internal/observability"
	"HedgeSim/internal/persistence"
	"HedgeSim/internal/report"
	"HedgeSim/internal/stream"
)

const (
	persistBuffer  = 256
	persistBatch   = 64
	persistFlush   = 500 * time.Millisecond
	publishBuffer  = 256
	publishTimeout = 2 * time.Second
	drainTimeout   = 30 * time.Second
	connectTimeout = 10 * time.Second
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one scenario to completion",
		Long: `Run steps one engine over the configured price feed until a terminal
condition and prints the summary. CSV, Postgres and NATS sinks attach
when configured in the scenario, the environment, or by flag.`,
		Args: cobra.NoArgs,
		RunE: runRun,
	}
	addScenarioFlags(cmd)
	cmd.Flags().String("report", "", "write the JSON summary to this file")
	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := observability.NewLogger("run")
	if cfg.Verbose {
		log = observability.NewLoggerWithLevel("run", zerolog.DebugLevel)
	}

	f, closeFeed, err := buildFeed(cfg)
	if err != nil {
		return err
	}
	defer closeFeed()

	e, err := engine.NewEngine(cfg, f, metrics)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	health := observability.NewHealthChecker()
	if cfg.Sinks.MetricsAddr != "" {
		serveMetrics(ctx, cfg.Sinks.MetricsAddr, health, log)
	}

	sinks, err := openRunSinks(ctx, cfg, e.RunID(), metrics, log)
	if err != nil {
		return err
	}
	health.SetReady(true)

	log.Info().
		Stringer("run_id", e.RunID()).
		Str("feed", cfg.Feed.Kind).
		Int64("seed", cfg.Feed.Seed).
		Int64("max_steps", cfg.MaxSteps).
		Msg("run starting")

	startedAt := time.Now().UTC()
	res, runErr := e.Run(ctx, sinks.sinks...)
	if runErr != nil {
		log.Error().Err(runErr).Msg("run ended with error")
	}

	if err := sinks.finish(res, startedAt); err != nil && runErr == nil {
		runErr = err
	}

	printSummary(cmd.OutOrStdout(), res)

	if path, _ := cmd.Flags().GetString("report"); path != "" {
		if err := writeReport(path, res); err != nil {
			log.Error().Err(err).Msg("write report")
			if runErr == nil {
				runErr = err
			}
		}
	}

	log.Info().
		Stringer("run_id", res.RunID).
		Stringer("status", res.Status).
		Int64("steps", res.Steps).
		Float64("final_equity", res.Summary.FinalEquity).
		Msg("run finished")

	return runErr
}

// runSinks bundles the optional outputs of one run. The engine loop sees
// them only through the Sink interface; everything stateful about shutdown
// lives in finish.
type runSinks struct {
	sinks []engine.Sink

	events     *export.EventWriter
	steps      *export.StepWriter
	eventsFile *os.File
	stepsFile  *os.File

	persist *persistedRun
	store   *persistence.Store

	pub       *stream.Publisher
	pubDone   chan error
	natsClose func()

	log zerolog.Logger
}

func openRunSinks(
	ctx context.Context,
	cfg config.Config,
	runID uuid.UUID,
	metrics *observability.Metrics,
	log zerolog.Logger,
) (*runSinks, error) {
	rs := &runSinks{log: log}

	opened := false
	defer func() {
		if !opened {
			rs.abort()
		}
	}()

	if path := cfg.Sinks.EventsCSVPath; path != "" {
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("create events csv: %w", err)
		}
		rs.eventsFile = f
		rs.events = export.NewEventWriter(f)
		rs.sinks = append(rs.sinks, rs.events)
	}

	if path := cfg.Sinks.StepsCSVPath; path != "" {
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("create steps csv: %w", err)
		}
		rs.stepsFile = f
		rs.steps = export.NewStepWriter(f)
		rs.sinks = append(rs.sinks, rs.steps)
	}

	if dsn := cfg.Sinks.PostgresDSN; dsn != "" {
		store, err := persistence.Open(dsn)
		if err != nil {
			return nil, fmt.Errorf("open run store: %w", err)
		}
		rs.store = store

		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		err = store.Ping(pingCtx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("ping run store: %w", err)
		}

		rs.persist = startPersistedRun(ctx, store, runID, metrics, log)
		rs.sinks = append(rs.sinks, rs.persist.Sink(ctx))
	}

	if url := cfg.Sinks.NATSURL; url != "" {
		nc, js, err := stream.Connect(url)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		rs.natsClose = nc.Close

		ensureCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		err = stream.EnsureStream(ensureCtx, js)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("ensure event stream: %w", err)
		}

		rs.pub = stream.NewPublisher(js, runID, publishBuffer, publishTimeout, metrics, log)
		rs.pubDone = make(chan error, 1)
		go func() { rs.pubDone <- rs.pub.Run(context.Background()) }()
		rs.sinks = append(rs.sinks, rs.pub.Sink())
	}

	opened = true
	return rs, nil
}

// abort tears down whatever openRunSinks managed to start before failing.
func (rs *runSinks) abort() {
	if rs.eventsFile != nil {
		rs.eventsFile.Close()
	}
	if rs.stepsFile != nil {
		rs.stepsFile.Close()
	}
	if rs.persist != nil {
		rs.persist.stop()
	}
	if rs.store != nil {
		rs.store.Close()
	}
	if rs.pub != nil {
		rs.pub.Close()
		<-rs.pubDone
	}
	if rs.natsClose != nil {
		rs.natsClose()
	}
}

// finish flushes and closes every sink, then records the final run row.
// Every failure is logged; the first one is returned.
func (rs *runSinks) finish(res engine.RunResult, startedAt time.Time) error {
	var firstErr error
	keep := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	if rs.events != nil {
		if err := rs.events.Flush(); err != nil {
			rs.log.Error().Err(err).Msg("flush events csv")
			keep(err)
		}
		if err := rs.eventsFile.Close(); err != nil {
			keep(err)
		}
	}
	if rs.steps != nil {
		if err := rs.steps.Flush(); err != nil {
			rs.log.Error().Err(err).Msg("flush steps csv")
			keep(err)
		}
		if err := rs.stepsFile.Close(); err != nil {
			keep(err)
		}
	}

	if rs.pub != nil {
		rs.pub.Close()
		select {
		case <-rs.pubDone:
		case <-time.After(drainTimeout):
			rs.log.Warn().Msg("publisher drain timed out")
		}
		rs.natsClose()
	}

	if rs.persist != nil {
		if err := rs.persist.Drain(res, startedAt); err != nil {
			rs.log.Error().Err(err).Msg("persist run")
			keep(err)
		}
		if err := rs.store.Close(); err != nil {
			keep(err)
		}
	}

	return firstErr
}

// persistedRun owns one run's persistence worker. The worker gets its own
// context so a mid-run Ctrl-C does not cut off the final flush; Drain bounds
// how long shutdown waits for it.
type persistedRun struct {
	store  *persistence.Store
	ch     chan engine.StepOutput
	cancel context.CancelFunc
	done   chan error
	log    zerolog.Logger
}

func startPersistedRun(
	ctx context.Context,
	store *persistence.Store,
	runID uuid.UUID,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *persistedRun {
	workerCtx, cancel := context.WithCancel(context.Background())
	p := &persistedRun{
		store:  store,
		ch:     make(chan engine.StepOutput, persistBuffer),
		cancel: cancel,
		done:   make(chan error, 1),
		log:    log,
	}

	// Register the run up front so operators can see it while it is going.
	// The final upsert carries the real result either way.
	row := persistence.RunRow{
		RunID:     runID,
		Status:    engine.StatusRunning.String(),
		Head:      []byte{},
		Summary:   []byte("{}"),
		StartedAt: time.Now().UTC(),
	}
	if err := store.UpsertRun(ctx, row); err != nil {
		log.Warn().Err(err).Msg("register run row")
	}

	w := persistence.NewWorker(store, runID, p.ch, persistBatch, persistFlush, metrics, log)
	go func() { p.done <- w.Run(workerCtx) }()
	return p
}

// Sink hands step outputs to the worker. The send blocks so a slow database
// applies backpressure to the run; ctx cancellation still aborts cleanly.
func (p *persistedRun) Sink(ctx context.Context) engine.Sink {
	return engine.SinkFunc(func(out engine.StepOutput) error {
		select {
		case p.ch <- out:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// Drain closes the input, waits for the worker to flush what remains, and
// records the final run row.
func (p *persistedRun) Drain(res engine.RunResult, startedAt time.Time) error {
	close(p.ch)

	var firstErr error
	select {
	case err := <-p.done:
		if err != nil {
			firstErr = fmt.Errorf("persistence worker: %w", err)
		}
	case <-time.After(drainTimeout):
		p.log.Error().Msg("persistence drain timed out, forcing shutdown")
		p.cancel()
		<-p.done
		firstErr = errors.New("persistence drain timed out")
	}
	p.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	row, err := persistence.NewRunRow(res, startedAt, time.Now().UTC())
	if err == nil {
		err = p.store.UpsertRun(ctx, row)
	}
	if err != nil && firstErr == nil {
		firstErr = fmt.Errorf("record run: %w", err)
	}
	return firstErr
}

// stop abandons the worker without draining. Only for startup failures.
func (p *persistedRun) stop() {
	p.cancel()
	close(p.ch)
	<-p.done
}

func printSummary(w io.Writer, res engine.RunResult) {
	s := res.Summary
	fmt.Fprintf(w, "run %s: %s after %d steps\n", res.RunID, res.Status, res.Steps)
	fmt.Fprintf(w, "  initial equity   %14.2f USD\n", s.InitialEquity)
	fmt.Fprintf(w, "  final equity     %14.2f USD  (net %+.2f, %+.2f%%)\n", s.FinalEquity, s.NetPnl, s.ReturnPct)
	fmt.Fprintf(w, "  max drawdown     %14.2f %%\n", s.MaxDrawdownPct)
	fmt.Fprintf(w, "  step volatility  %14.6f\n", s.StepVolatility)
	fmt.Fprintf(w, "  sharpe           %14.2f\n", s.Sharpe)
	fmt.Fprintf(w, "  realized pnl     %14.2f USD\n", s.RealizedPnl)
	fmt.Fprintf(w, "  funding paid     %14.2f USD\n", s.FundingPaid)
	fmt.Fprintf(w, "  rescued          %14.2f USD\n", s.RescueTransferred)

	if len(s.EventCounts) > 0 {
		kinds := make([]string, 0, len(s.EventCounts))
		for k := range s.EventCounts {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		fmt.Fprint(w, "  events          ")
		for _, k := range kinds {
			fmt.Fprintf(w, " %s=%d", k, s.EventCounts[k])
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "  chain head       %s\n", hex.EncodeToString(res.Head[:]))
}

// reportDoc is the JSON shape of one exported run result.
type reportDoc struct {
	RunID   string         `json:"run_id"`
	Status  string         `json:"status"`
	Steps   int64          `json:"steps"`
	Head    string         `json:"head"`
	Summary report.Summary `json:"summary"`
}

func newReportDoc(res engine.RunResult) reportDoc {
	return reportDoc{
		RunID:   res.RunID.String(),
		Status:  res.Status.String(),
		Steps:   res.Steps,
		Head:    hex.EncodeToString(res.Head[:]),
		Summary: res.Summary,
	}
}

func writeReport(path string, res engine.RunResult) error {
	data, err := json.MarshalIndent(newReportDoc(res), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
