package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"adsbx_history/internal/adsbx"
	"adsbx_history/internal/config"
	"adsbx_history/internal/daemon"
	"adsbx_history/internal/database"
	"adsbx_history/internal/metrics"
	"adsbx_history/internal/pipeline"
	"adsbx_history/internal/reconcile"
	"adsbx_history/internal/sources"
)

// exit codes of the query command
const (
	exitSuccess = 0
	exitFailure = 1
	exitNoData  = 2
	exitStopped = 3
)

const usage = `Usage:
  adsbx_history query --hex A1B2C3 --start 2024-05-01 --end 2024-05-02 [--formats kml,csv,json] [--out dir] [--config file]
  adsbx_history serve [--config file]
`

func initLogger(cfg *config.Config) {
	var logLevel slog.Level
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(exitFailure)
	}

	// .env is optional
	_ = godotenv.Load()

	switch os.Args[1] {
	case "query":
		os.Exit(runQuery(os.Args[2:]))
	case "serve":
		os.Exit(runServe(os.Args[2:]))
	case "help", "-h", "--help":
		fmt.Fprint(os.Stdout, usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(exitFailure)
	}
}

// loadConfig parses args into fs and loads the configuration with those
// flags bound. It returns nil after reporting the error.
func loadConfig(fs *pflag.FlagSet, args []string) *config.Config {
	configPath := fs.String("config", "", "Path to config file (YAML)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n\n%s", err, usage)
		return nil
	}

	if *configPath != "" {
		os.Setenv(config.ConfigPathEnv, *configPath)
	}

	cfg, err := config.Load(fs)
	if err != nil {
		// logger isn't initialized yet
		basicLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		basicLogger.Error("Failed to load configuration", "error", err)
		return nil
	}

	initLogger(cfg)
	return cfg
}

// buildPipeline wires the trace client, metadata sources and the bulk
// aircraft database. The returned func releases the database.
func buildPipeline(cfg *config.Config, m *metrics.Metrics) (*pipeline.Pipeline, func(), error) {
	names := reconcile.NewTypeNames()
	if cfg.TypeNamesPath != "" {
		loaded, err := reconcile.LoadTypeNames(cfg.TypeNamesPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load type names: %w", err)
		}
		names = loaded
		slog.Info("Loaded type names", "path", cfg.TypeNamesPath, "count", names.Len())
	}

	p := &pipeline.Pipeline{
		Fetcher: adsbx.NewClient(adsbx.ClientConfig{
			TraceURL:    cfg.Fetch.TraceURL,
			CacheDir:    cfg.CacheDir,
			Pacing:      cfg.Fetch.Pacing,
			RetryWait:   cfg.Fetch.RetryWait,
			ErrorWait:   cfg.Fetch.ErrorWait,
			MaxAttempts: cfg.Fetch.MaxAttempts,
			Timeout:     cfg.Fetch.Timeout,
		}),
		Names:   names,
		Metrics: m,
	}

	if cfg.Sources.Enabled {
		p.FlightData = sources.NewOpenSkyClient(cfg.Sources.OpenSkyURL, cfg.Sources.Timeout)
		p.Photos = sources.NewPlanespottersClient(cfg.Sources.PlanespottersURL, cfg.Sources.Timeout)
	}

	acdb := database.NewAircraftDB(cfg.DBPath, func(ctx context.Context, repo database.AircraftRepository) (int, error) {
		if len(cfg.ACDB.CSVPaths) > 0 {
			slog.Info("Loading aircraft database from CSV", "csv_paths", cfg.ACDB.CSVPaths)
			return repo.LoadFromMultipleCSV(cfg.ACDB.CSVPaths, cfg.ACDB.BatchSize)
		}
		bundle := &adsbx.BundleFetcher{
			URL:       cfg.ACDB.URL,
			CacheDir:  filepath.Dir(cfg.DBPath),
			BatchSize: cfg.ACDB.BatchSize,
		}
		return bundle.Populate(ctx, repo)
	})
	p.AircraftDB = acdb

	cleanup := func() {
		if err := acdb.Close(); err != nil {
			slog.Error("Error closing aircraft database", "error", err)
		}
	}
	return p, cleanup, nil
}

func runQuery(args []string) int {
	fs := pflag.NewFlagSet("query", pflag.ContinueOnError)
	fs.String("hex", "", "ICAO 24-bit address (up to 6 hex digits)")
	fs.String("start", "", "First UTC day, YYYY-MM-DD")
	fs.String("end", "", "Last UTC day, YYYY-MM-DD")
	fs.String("formats", "", "Comma separated export formats (kml,csv,json)")
	fs.String("out", "", "Output directory")

	cfg := loadConfig(fs, args)
	if cfg == nil {
		return exitFailure
	}

	q, err := cfg.BuildQuery()
	if err != nil {
		slog.Error("Invalid query", "error", err)
		return exitFailure
	}

	p, cleanup, err := buildPipeline(cfg, metrics.New(nil))
	if err != nil {
		slog.Error("Failed to initialize pipeline", "error", err)
		return exitFailure
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := make(chan pipeline.Event, 64)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for ev := range events {
			printEvent(ev)
		}
	}()

	res := p.Run(ctx, q, events)
	close(events)
	<-printed

	switch res.Outcome {
	case pipeline.OutcomeSuccess:
		for _, exp := range res.Exports {
			if exp.Err != nil {
				slog.Error("Export failed", "format", exp.Format, "error", exp.Err)
			} else {
				slog.Info("Export written", "format", exp.Format, "path", exp.Path)
			}
		}
		if len(res.ExportErrors()) > 0 {
			return exitFailure
		}
		return exitSuccess
	case pipeline.OutcomeNoData:
		slog.Warn("No valid points found", "hex", q.Hex)
		return exitNoData
	case pipeline.OutcomeStopped:
		slog.Warn("Query stopped", "hex", q.Hex)
		return exitStopped
	default:
		slog.Error("Query failed", "hex", q.Hex, "error", res.Err)
		return exitFailure
	}
}

func printEvent(ev pipeline.Event) {
	switch ev.Kind {
	case pipeline.EventProgress:
		slog.Info(ev.Message)
	case pipeline.EventMeta:
		m := ev.Meta
		slog.Debug("Aircraft metadata",
			"registration", m.Registration,
			"type", m.Type,
			"type_name", m.TypeName,
			"owner", m.Owner,
			"flags", m.Flags,
			"callsigns", strings.Join(m.Callsigns, ","),
		)
	case pipeline.EventDone:
		slog.Info("Query done",
			"outcome", ev.Result.Outcome,
			"days", ev.Result.Days,
			"days_with_data", ev.Result.DaysData,
			"segments", ev.Result.Segments,
			"points", ev.Result.Points,
		)
	}
}

func runServe(args []string) int {
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	cfg := loadConfig(fs, args)
	if cfg == nil {
		return exitFailure
	}

	p, cleanup, err := buildPipeline(cfg, metrics.New(prometheus.DefaultRegisterer))
	if err != nil {
		slog.Error("Failed to initialize pipeline", "error", err)
		return exitFailure
	}
	defer cleanup()

	d := daemon.New(p)
	server := daemon.NewServer(cfg.Server.Addr, d, daemon.Defaults{
		OutDir:  cfg.OutDir,
		Formats: cfg.Formats,
	}, nil)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		slog.Info("Received interrupt signal, shutting down...")
	case err := <-serveErr:
		if err != nil {
			slog.Error("HTTP server stopped", "error", err)
			return exitFailure
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Error shutting down HTTP server", "error", err)
	}

	slog.Info("Shutdown complete")
	return exitSuccess
}
