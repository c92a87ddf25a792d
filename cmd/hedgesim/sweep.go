package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"HedgeSim/internal/config"
	"HedgeSim/internal/engine"
	"HedgeSim/internal/observability"
	"HedgeSim/internal/persistence"
)

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one scenario across many seeds in parallel",
		Long: `Sweep runs the scenario once per seed, seeds counting up from the
configured one, each run on its own engine and feed. Runs only share
the process metrics and, when configured, the Postgres run store.`,
		Args: cobra.NoArgs,
		RunE: runSweep,
	}
	addScenarioFlags(cmd)
	cmd.Flags().Int("runs", 16, "number of seeds to run")
	cmd.Flags().Int("parallel", 0, "concurrent runs (0 = GOMAXPROCS)")
	cmd.Flags().String("report", "", "write the JSON results to this file")
	return cmd
}

func runSweep(cmd *cobra.Command, args []string) error {
	log := observability.NewLogger("sweep")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Feed.Kind != config.FeedKindSynthetic {
		return fmt.Errorf("sweep varies the feed seed, which needs feed.kind %q (got %q)",
			config.FeedKindSynthetic, cfg.Feed.Kind)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	runs, _ := cmd.Flags().GetInt("runs")
	if runs <= 0 {
		return fmt.Errorf("--runs must be > 0, got %d", runs)
	}
	parallel, _ := cmd.Flags().GetInt("parallel")
	if parallel <= 0 {
		parallel = runtime.GOMAXPROCS(0)
	}

	ctx := cmd.Context()

	health := observability.NewHealthChecker()
	if cfg.Sinks.MetricsAddr != "" {
		serveMetrics(ctx, cfg.Sinks.MetricsAddr, health, log)
		health.SetReady(true)
	}

	// CSV sinks are single-file and NATS streams a live run; a sweep archives
	// through the run store only.
	var store *persistence.Store
	if dsn := cfg.Sinks.PostgresDSN; dsn != "" {
		store, err = persistence.Open(dsn)
		if err != nil {
			return fmt.Errorf("open run store: %w", err)
		}
		defer store.Close()

		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		err = store.Ping(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("ping run store: %w", err)
		}
	}

	log.Info().
		Int("runs", runs).
		Int("parallel", parallel).
		Int64("base_seed", cfg.Feed.Seed).
		Msg("sweep starting")

	results := make([]engine.RunResult, runs)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)

	sweepStart := time.Now()
	for i := 0; i < runs; i++ {
		i := i
		g.Go(func() error {
			runCfg := cfg
			runCfg.Feed.Seed = cfg.Feed.Seed + int64(i)

			res, err := sweepOne(gctx, runCfg, store, metrics, log)
			if err != nil {
				return fmt.Errorf("seed %d: %w", runCfg.Feed.Seed, err)
			}
			results[i] = res

			log.Info().
				Int64("seed", runCfg.Feed.Seed).
				Stringer("run_id", res.RunID).
				Stringer("status", res.Status).
				Float64("return_pct", res.Summary.ReturnPct).
				Msg("sweep run finished")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	printSweep(cmd.OutOrStdout(), cfg.Feed.Seed, results)
	log.Info().Int("runs", runs).Dur("elapsed", time.Since(sweepStart)).Msg("sweep finished")

	if path, _ := cmd.Flags().GetString("report"); path != "" {
		if err := writeSweepReport(path, results); err != nil {
			return err
		}
	}
	return nil
}

// sweepOne runs a single seed to completion. Each run gets its own feed,
// engine, and persistence worker; only the store's connection pool and the
// process metrics are shared.
func sweepOne(
	ctx context.Context,
	cfg config.Config,
	store *persistence.Store,
	metrics *observability.Metrics,
	log zerolog.Logger,
) (engine.RunResult, error) {
	f, closeFeed, err := buildFeed(cfg)
	if err != nil {
		return engine.RunResult{}, err
	}
	defer closeFeed()

	e, err := engine.NewEngine(cfg, f, metrics)
	if err != nil {
		return engine.RunResult{}, err
	}

	var sinks []engine.Sink
	var persist *persistedRun
	if store != nil {
		persist = startPersistedRun(ctx, store, e.RunID(), metrics, log)
		sinks = append(sinks, persist.Sink(ctx))
	}

	startedAt := time.Now().UTC()
	res, runErr := e.Run(ctx, sinks...)

	if persist != nil {
		if err := persist.Drain(res, startedAt); err != nil {
			log.Error().Err(err).Stringer("run_id", res.RunID).Msg("persist run")
			if runErr == nil {
				runErr = err
			}
		}
	}
	return res, runErr
}

func printSweep(w io.Writer, baseSeed int64, results []engine.RunResult) {
	fmt.Fprintf(w, "%-8s %-36s %-18s %8s %14s %9s %8s\n",
		"seed", "run", "status", "steps", "final equity", "return%", "maxdd%")

	returns := make([]float64, 0, len(results))
	failures := 0
	for i, res := range results {
		s := res.Summary
		fmt.Fprintf(w, "%-8d %-36s %-18s %8d %14.2f %9.2f %8.2f\n",
			baseSeed+int64(i), res.RunID, res.Status, res.Steps,
			s.FinalEquity, s.ReturnPct, s.MaxDrawdownPct)
		returns = append(returns, s.ReturnPct)
		if res.Status == engine.StatusPortfolioFailure {
			failures++
		}
	}

	if len(returns) >= 2 {
		mean := stat.Mean(returns, nil)
		sd := stat.StdDev(returns, nil)
		fmt.Fprintf(w, "\n%d runs: mean return %+.2f%%, stddev %.2f%%, portfolio failures %d\n",
			len(results), mean, sd, failures)
	}
}

func writeSweepReport(path string, results []engine.RunResult) error {
	docs := make([]reportDoc, len(results))
	for i, res := range results {
		docs[i] = newReportDoc(res)
	}
	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sweep report: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write sweep report: %w", err)
	}
	return nil
}
