// Package main implements the flowline command, which runs a configured
// analytics pipeline once: load a definition, validate it against the
// stage registry, stream the source through the stages into the sinks
// and print the measured run report.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/c360/flowline/config"
	"github.com/c360/flowline/eventlog"
	"github.com/c360/flowline/health"
	"github.com/c360/flowline/metric"
	"github.com/c360/flowline/pipeline"
	"github.com/c360/flowline/runner"
	"github.com/c360/flowline/stage"
	_ "github.com/c360/flowline/stageregistry"
)

const (
	version = "0.1.0"
	appName = "flowline"
)

type cliConfig struct {
	configPath   string
	validateOnly bool
	listStages   bool
	logLevel     string
	logFormat    string
	metricsPort  int
	showVersion  bool
}

func main() {
	if err := run(); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cli := parseFlags()

	if cli.showVersion {
		fmt.Printf("%s version %s\n", appName, version)
		return nil
	}
	if cli.listStages {
		return listStages(os.Stdout)
	}

	logger := setupLogger(cli.logLevel, cli.logFormat)
	slog.SetDefault(logger)

	slog.Info("Starting flowline",
		"version", version,
		"config_path", cli.configPath)

	def, err := config.Load(cli.configPath)
	if err != nil {
		return err
	}
	if err := def.Validate(stage.Default()); err != nil {
		return err
	}
	if cli.validateOnly {
		slog.Info("Configuration is valid")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runPipeline(ctx, def, logger, cli.metricsPort)
}

func runPipeline(ctx context.Context, def *config.Definition, logger *slog.Logger, metricsPort int) error {
	events := eventlog.New(logger)
	registry := metric.NewMetricsRegistry()
	dashboard := health.NewDashboard()

	src, err := def.Source.Build()
	if err != nil {
		return err
	}
	snk, err := def.BuildSinks(os.Stdout)
	if err != nil {
		return err
	}

	rcfg := def.Runner.Config()
	var r *runner.Runner
	ropts := []runner.Option{runner.WithEventLogger(events), runner.WithMetrics(registry)}
	if rcfg.Strategy == "" || rcfg.Strategy == runner.StrategySequential {
		pipe, err := buildPipeline(def, registry)
		if err != nil {
			return err
		}
		r, err = runner.NewSequential(src, pipe, snk, rcfg, ropts...)
		if err != nil {
			return err
		}
	} else {
		procs, err := buildProcessors(def)
		if err != nil {
			return err
		}
		r, err = runner.NewWorkerPool(src, procs, snk, rcfg, ropts...)
		if err != nil {
			return err
		}
	}
	if err := dashboard.RegisterDeadLetterStore(r.DeadLetters()); err != nil {
		return err
	}

	var server *metric.Server
	if metricsPort > 0 {
		server = metric.NewServer(metricsPort, "/metrics", registry)
		server.Handle("/health", dashboard.Handler())
		if err := server.Start(); err != nil {
			return err
		}
		defer func() {
			if err := server.Stop(); err != nil {
				slog.Warn("Metrics server shutdown failed", "error", err)
			}
		}()
		slog.Info("Metrics server listening", "address", server.Address())
	}

	report, err := r.Run(ctx)
	if err != nil {
		return err
	}
	dashboard.ObserveRun(report)

	return printReport(report, dashboard.Report())
}

func buildPipeline(def *config.Definition, registry *metric.MetricsRegistry) (*pipeline.Pipeline, error) {
	return def.BuildPipeline(stage.Default(), pipeline.WithMetrics(registry))
}

// buildProcessors creates each configured stage and unwraps its
// per-record seam for the worker pool.
func buildProcessors(def *config.Definition) ([]stage.Processor, error) {
	procs := make([]stage.Processor, len(def.Stages))
	for i, spec := range def.Stages {
		s, err := stage.Default().Create(spec.Name, spec.Params)
		if err != nil {
			return nil, err
		}
		p, ok := stage.AsProcessor(s)
		if !ok {
			return nil, fmt.Errorf("stage %q is streaming-only and cannot run in a worker pool", spec.Name)
		}
		procs[i] = p
	}
	return procs, nil
}

// listStages prints every registered stage's metadata from the live
// registry, so the available stage set is always self-documenting.
func listStages(w io.Writer) error {
	registry := stage.Default()
	regs := make([]stage.Registration, 0)
	for _, name := range registry.List() {
		reg, err := registry.Describe(name)
		if err != nil {
			return err
		}
		regs = append(regs, reg)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(regs)
}

func printReport(run runner.Report, snapshot health.Report) error {
	out := struct {
		Run    runner.Report `json:"run"`
		Health health.Report `json:"health"`
	}{Run: run, Health: snapshot}

	enc := json.NewEncoder(os.Stderr)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func parseFlags() *cliConfig {
	cli := &cliConfig{}
	flag.StringVar(&cli.configPath, "config", "pipeline.json", "Path to pipeline definition")
	flag.BoolVar(&cli.validateOnly, "validate", false, "Validate the definition and exit")
	flag.BoolVar(&cli.listStages, "list-stages", false, "Print registered stages and their parameters, then exit")
	flag.StringVar(&cli.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&cli.logFormat, "log-format", "json", "Log format (json, text)")
	flag.IntVar(&cli.metricsPort, "metrics-port", 0, "Serve /metrics and /health on this port (0 disables)")
	flag.BoolVar(&cli.showVersion, "version", false, "Print version and exit")
	flag.Parse()
	return cli
}

func setupLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
