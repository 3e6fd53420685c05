package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Swind/go-sim-runner/core"
	"github.com/Swind/go-sim-runner/internal/api"
	"github.com/Swind/go-sim-runner/internal/config"
	"github.com/Swind/go-sim-runner/internal/telemetry"
	promexp "github.com/Swind/go-sim-runner/observability/prometheus"
	"github.com/Swind/go-sim-runner/sim"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "run a simulation setup",

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "setup",
				Aliases:  []string{"s"},
				Required: true,
				Usage:    "path of the YAML setup file",
			},
			&cli.Int64Flag{
				Name:  "until",
				Usage: "simulated horizon in ticks (overrides the setup)",
			},
			&cli.IntFlag{
				Name:  "capacity",
				Usage: "maximum concurrently executing events (overrides SIMRUN_CAPACITY and the setup)",
			},
			&cli.DurationFlag{
				Name:  "poll-interval",
				Usage: "quiescence poll timeout between ticks",
			},
			&cli.StringFlag{
				Name:  "journal",
				Usage: "SQLite file to journal ticks to (in-memory when empty)",
			},
			&cli.StringFlag{
				Name:  "http-addr",
				Usage: "serve /metrics and /v1 introspection on this address",
			},
			&cli.BoolFlag{
				Name:  "linger",
				Usage: "keep serving HTTP after the run until interrupted",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "DEBUG, INFO, WARN or ERROR",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "CONSOLE or JSON",
			},
		},

		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	// 1. Resolve configuration: env first, flags override
	cfg, err := config.Load()
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	applyFlags(c, cfg)

	setup, err := sim.LoadSetup(c.String("setup"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	until := setup.Horizon()
	if c.IsSet("until") {
		until = sim.Time(c.Int64("until"))
	}

	logger := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "simrun", cfg.OTelEndpoint, cfg.OTelEnabled)
	if err != nil {
		return cli.Exit(fmt.Sprintf("setup tracing: %v", err), 1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("flush traces", zap.Error(err))
		}
	}()

	// 2. Wire metrics, journal and the simulation
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	exporter, err := promexp.NewMetricsExporter(cfg.MetricsNamespace, reg, promexp.ExporterOptions{})
	if err != nil {
		return cli.Exit(fmt.Sprintf("metrics: %v", err), 1)
	}

	var journal sim.Journal
	if cfg.JournalPath != "" {
		j, err := sim.NewSQLiteJournal(cfg.JournalPath)
		if err != nil {
			return cli.Exit(fmt.Sprintf("journal: %v", err), 1)
		}
		journal = j
	}

	s, err := sim.Build(setup, sim.DefaultBehaviors(), sim.DefaultNetworks(), func(o *sim.Options) {
		o.Logger = core.NewZapLogger(logger)
		o.Metrics = exporter
		o.Journal = journal
		// flag > env > setup > default
		if overrides(c, "capacity", "SIMRUN_CAPACITY") || setup.Capacity == 0 {
			o.Capacity = cfg.Capacity
		}
		if overrides(c, "poll-interval", "SIMRUN_POLL_INTERVAL") || setup.PollInterval == "" {
			o.PollInterval = cfg.PollInterval
		}
	})
	if err != nil {
		if journal != nil {
			_ = journal.Close()
		}
		return cli.Exit(err.Error(), 1)
	}

	poller, err := promexp.NewSnapshotPoller(cfg.MetricsNamespace, reg, cfg.SnapshotInterval)
	if err != nil {
		_ = s.Close(cfg.ShutdownTimeout)
		return cli.Exit(fmt.Sprintf("metrics: %v", err), 1)
	}
	poller.AddEngine(s.Engine().Name(), s.Engine())
	poller.AddClock(s.ID(), s.Scheduler())
	poller.Start(ctx)

	// 3. Run the simulation and the HTTP server side by side
	g, gctx := errgroup.WithContext(ctx)
	runCtx, runDone := context.WithCancel(gctx)
	defer runDone()
	linger := c.Bool("linger") && cfg.HTTPAddr != ""

	g.Go(func() error {
		if !linger {
			defer runDone()
		}
		err := s.Run(gctx, until)
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			logger.Info("run interrupted", zap.Int64("now", int64(s.Now())))
			return nil
		}
		return err
	})
	if cfg.HTTPAddr != "" {
		srv := api.NewServer(cfg.HTTPAddr, s, reg, cfg.CORSOrigins, logger)
		g.Go(func() error {
			return srv.Run(runCtx)
		})
	}

	runErr := g.Wait()
	poller.Stop()

	// 4. Report
	unstarted := s.Shutdown(cfg.ShutdownTimeout)
	if len(unstarted) > 0 {
		logger.Warn("tasks never started", zap.Int("count", len(unstarted)))
	}
	if err := printTicks(c.App.Writer, s); err != nil {
		logger.Warn("print tick summary", zap.Error(err))
	}
	if err := s.Close(cfg.ShutdownTimeout); err != nil {
		logger.Warn("close simulation", zap.Error(err))
	}

	if runErr != nil {
		return cli.Exit(fmt.Sprintf("run failed: %v", runErr), 1)
	}
	return nil
}

func overrides(c *cli.Context, flag, envKey string) bool {
	if c.IsSet(flag) {
		return true
	}
	_, ok := os.LookupEnv(envKey)
	return ok
}

func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("capacity") {
		cfg.Capacity = c.Int("capacity")
	}
	if c.IsSet("poll-interval") {
		cfg.PollInterval = c.Duration("poll-interval")
	}
	if c.IsSet("journal") {
		cfg.JournalPath = c.String("journal")
	}
	if c.IsSet("http-addr") {
		cfg.HTTPAddr = c.String("http-addr")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.LogFormat = c.String("log-format")
	}
}

func printTicks(w io.Writer, s *sim.Simulation) error {
	ticks, err := s.Journal().Ticks(context.Background(), s.ID())
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "TICK\tEVENTS\tDROPPED\tFAILURES\tDURATION\n")
	var events, failures int64
	for _, t := range ticks {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%v\n", t.Tick, t.Events, t.Dropped, t.Failures, t.Duration.Round(time.Microsecond))
		events += int64(t.Events)
		failures += t.Failures
	}
	fmt.Fprintf(tw, "total\t%d\t\t%d\t\n", events, failures)
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "run %s finished at tick %d\n", s.ID(), s.Now())
	return nil
}
