package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"HedgeSim/internal/config"
	"HedgeSim/internal/feed"
	"HedgeSim/internal/observability"
)

const version = "0.1.0"

// metrics is process-global: promauto registers on the default Prometheus
// registry, so construction must happen exactly once per binary even when
// several commands run in one process.
var metrics = observability.NewMetrics()

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "hedgesim",
		Short: "Delta-neutral LP hedging simulator",
		Long: `HedgeSim pairs a concentrated-liquidity LP position with a short perp
hedge and steps the pair through a price path: LP drift, funding,
range rebalances, rescue transfers and hedge fills all land in a
hash-chained event log. Scenarios are YAML files; CSV, Postgres and
NATS sinks attach when configured.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd(), newSweepCmd(), newExportCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "hedgesim %s (%s)\n", version, runtime.Version())
		},
	}
}

// addScenarioFlags registers the flags shared by run and sweep. Flag defaults
// mirror config.Default; only flags the user actually set override the file
// and environment layers.
func addScenarioFlags(cmd *cobra.Command) {
	def := config.Default()
	cmd.Flags().StringP("scenario", "s", "", "scenario YAML file (built-in defaults when empty)")
	cmd.Flags().Int64("seed", def.Feed.Seed, "synthetic feed seed")
	cmd.Flags().Int64("max-steps", def.MaxSteps, "stop after this many steps (0 = feed exhaustion)")
	cmd.Flags().Bool("verbose", def.Verbose, "log NoAction records too")
	cmd.Flags().String("events-csv", "", "write the event log to this CSV file")
	cmd.Flags().String("steps-csv", "", "write the per-step trajectory to this CSV file")
	cmd.Flags().String("postgres", "", "Postgres DSN for the run store")
	cmd.Flags().String("nats", "", "NATS URL for live event publishing")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")
}

// loadConfig builds the effective configuration: scenario file under
// HEDGESIM_* environment overrides under explicitly set CLI flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("scenario")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}

	fl := cmd.Flags()
	if fl.Changed("seed") {
		cfg.Feed.Seed, _ = fl.GetInt64("seed")
	}
	if fl.Changed("max-steps") {
		cfg.MaxSteps, _ = fl.GetInt64("max-steps")
	}
	if fl.Changed("verbose") {
		cfg.Verbose, _ = fl.GetBool("verbose")
	}
	if fl.Changed("events-csv") {
		cfg.Sinks.EventsCSVPath, _ = fl.GetString("events-csv")
	}
	if fl.Changed("steps-csv") {
		cfg.Sinks.StepsCSVPath, _ = fl.GetString("steps-csv")
	}
	if fl.Changed("postgres") {
		cfg.Sinks.PostgresDSN, _ = fl.GetString("postgres")
	}
	if fl.Changed("nats") {
		cfg.Sinks.NATSURL, _ = fl.GetString("nats")
	}
	if fl.Changed("metrics-addr") {
		cfg.Sinks.MetricsAddr, _ = fl.GetString("metrics-addr")
	}
	return cfg, nil
}

// buildFeed constructs the configured price source. The returned closer
// releases the CSV file handle; the synthetic feed has nothing to release.
func buildFeed(cfg config.Config) (feed.Feed, func() error, error) {
	switch cfg.Feed.Kind {
	case config.FeedKindSynthetic:
		f := feed.NewSyntheticFeed(feed.SyntheticParams{
			InitialPrice: cfg.Feed.InitialPrice,
			Drift:        cfg.Feed.Drift,
			Volatility:   cfg.Feed.Volatility,
			Seed:         cfg.Feed.Seed,
			Step:         cfg.StepDuration(),
		})
		return f, func() error { return nil }, nil

	case config.FeedKindCSV:
		f, err := feed.OpenCSV(cfg.Feed.CSVPath)
		if err != nil {
			return nil, nil, err
		}
		return f, f.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown feed kind %q", cfg.Feed.Kind)
	}
}

// serveMetrics starts the Prometheus endpoint with liveness and readiness
// probes. It shuts down when ctx is cancelled; listen errors are logged,
// never fatal to the run.
func serveMetrics(ctx context.Context, addr string, health *observability.HealthChecker, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.LivenessHandler)
	mux.HandleFunc("/readyz", health.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	go func() {
		log.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server")
		}
	}()
}
