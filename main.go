package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trip-pipeline/api"
	"trip-pipeline/config"
	"trip-pipeline/ingest"
	"trip-pipeline/models"
	"trip-pipeline/services"
	"trip-pipeline/storage"
	"trip-pipeline/utils"
)

const usage = `usage: trip-pipeline <command> [flags]

commands:
  clean   clean the raw trip CSV into the cleaned dataset and write the report
  load    load the cleaned CSV into PostgreSQL
  run     clean, then load
  serve   serve the analytics API

Run "trip-pipeline <command> -h" for the flags of a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.Load()
	logger := utils.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "clean":
		err = cleanCommand(ctx, cfg, logger, args)
	case "load":
		err = loadCommand(ctx, cfg, logger, args)
	case "run":
		err = runCommand(ctx, cfg, logger, args)
	case "serve":
		err = serveCommand(ctx, cfg, logger, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

// parseFlags parses args and validates the resulting configuration.
func parseFlags(fs *flag.FlagSet, args []string, cfg *config.Config, logger *utils.Logger) error {
	logLevel := fs.String("log-level", cfg.LogLevel, "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg.LogLevel = *logLevel
	logger.SetLevel(utils.ParseLevel(cfg.LogLevel))
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// cleanFlags registers the cleaning overrides on fs.
func cleanFlags(fs *flag.FlagSet, cfg *config.Config) {
	fs.StringVar(&cfg.RawInputPath, "input", cfg.RawInputPath, "raw trip CSV")
	fs.StringVar(&cfg.CleanedOutputPath, "output", cfg.CleanedOutputPath, "cleaned dataset path")
	fs.StringVar(&cfg.OutputFormat, "format", cfg.OutputFormat, "cleaned dataset format: csv or parquet")
	fs.StringVar(&cfg.ReportPath, "report", cfg.ReportPath, "cleaning report path")
	fs.IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "rows per chunk, 0 for the whole file")
	fs.StringVar(&cfg.DurationUnit, "duration-unit", cfg.DurationUnit, "unit of trip_duration: seconds or minutes")
	fs.StringVar(&cfg.FarePolicy, "fare-policy", cfg.FarePolicy, "fare policy: linear or floored")
	fs.StringVar(&cfg.PeakPolicy, "peak-policy", cfg.PeakPolicy, "peak policy: statistical or topk")
	fs.IntVar(&cfg.PeakTopK, "k", cfg.PeakTopK, "number of peak hours for the topk policy")
}

func cleanCommand(ctx context.Context, cfg *config.Config, logger *utils.Logger, args []string) error {
	fs := flag.NewFlagSet("clean", flag.ContinueOnError)
	cleanFlags(fs, cfg)
	insights := fs.Bool("insights", true, "print insights over the cleaned dataset")
	if err := parseFlags(fs, args, cfg, logger); err != nil {
		return err
	}

	report, err := clean(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if *insights {
		printInsights(ctx, cfg, logger, report)
	}
	return nil
}

func loadCommand(ctx context.Context, cfg *config.Config, logger *utils.Logger, args []string) error {
	fs := flag.NewFlagSet("load", flag.ContinueOnError)
	fs.StringVar(&cfg.CleanedOutputPath, "input", cfg.CleanedOutputPath, "cleaned dataset CSV")
	fs.IntVar(&cfg.InsertBatchSize, "batch-size", cfg.InsertBatchSize, "rows per INSERT")
	if err := parseFlags(fs, args, cfg, logger); err != nil {
		return err
	}
	return load(ctx, cfg, logger)
}

func runCommand(ctx context.Context, cfg *config.Config, logger *utils.Logger, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	cleanFlags(fs, cfg)
	if err := parseFlags(fs, args, cfg, logger); err != nil {
		return err
	}
	if cfg.OutputFormat != storage.FormatCSV {
		return errors.New("run: the loader reads CSV, set -format csv")
	}

	logger.Info("=== Trip pipeline starting ===")
	if _, err := clean(ctx, cfg, logger); err != nil {
		return err
	}
	return load(ctx, cfg, logger)
}

func serveCommand(ctx context.Context, cfg *config.Config, logger *utils.Logger, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.StringVar(&cfg.HTTPAddr, "addr", cfg.HTTPAddr, "listen address")
	fs.StringVar(&cfg.DatasetSource, "source", cfg.DatasetSource, "dataset source: postgres or csv")
	if err := parseFlags(fs, args, cfg, logger); err != nil {
		return err
	}
	return serve(ctx, cfg, logger)
}

func clean(ctx context.Context, cfg *config.Config, logger *utils.Logger) (*models.CleaningReport, error) {
	fare, err := services.NewFarePolicy(cfg.FarePolicy, services.FareSchedule{
		Base:      cfg.FareBase,
		PerKm:     cfg.FarePerKm,
		PerMinute: cfg.FarePerMinute,
		Surcharge: cfg.FareSurcharge,
		Minimum:   cfg.FareMinimum,
	})
	if err != nil {
		return nil, err
	}
	peaks, err := services.NewPeakSelector(cfg.PeakPolicy, cfg.PeakTopK, cfg.PeakStdDevs)
	if err != nil {
		return nil, err
	}

	cleaner := services.NewCleaner(logger, services.CleanerOptions{
		ChunkSize:      cfg.ChunkSize,
		DurationUnit:   ingest.DurationUnit(cfg.DurationUnit),
		MinDistanceKm:  cfg.MinDistanceKm,
		MinDurationSec: cfg.MinDurationSec,
		SampleRows:     cfg.ReportSampleRows,
	}, fare, services.SpeedClassifier{ThresholdKmh: cfg.SpeedThresholdKmh}, peaks)

	report, runErr := runCleaner(ctx, cfg, logger, cleaner)

	if err := storage.WriteReport(cfg.ReportPath, report); err != nil {
		logger.Error("Failed to write cleaning report: %v", err)
	} else {
		logger.Info("Cleaning report saved to %s", cfg.ReportPath)
	}

	if runErr != nil {
		return report, runErr
	}
	logger.Info("Cleaned dataset saved to %s", cfg.CleanedOutputPath)
	return report, nil
}

// runCleaner opens the input and the sink and runs cleaner. Failing to open
// either still yields a failed report.
func runCleaner(ctx context.Context, cfg *config.Config, logger *utils.Logger, cleaner *services.Cleaner) (*models.CleaningReport, error) {
	in, err := os.Open(cfg.RawInputPath)
	if err != nil {
		return cleaner.Reject(cfg.RawInputPath, models.StageLoaded, fmt.Errorf("open raw input: %w", err))
	}
	defer in.Close()

	sink, err := storage.NewSink(cfg.OutputFormat, cfg.CleanedOutputPath)
	if err != nil {
		return cleaner.Reject(cfg.RawInputPath, models.StagePersisted, err)
	}

	logger.Info("Cleaning %s → %s (%s, chunk size %d)", cfg.RawInputPath, cfg.CleanedOutputPath, cfg.OutputFormat, cfg.ChunkSize)
	return cleaner.Run(ctx, cfg.RawInputPath, in, sink)
}

func load(ctx context.Context, cfg *config.Config, logger *utils.Logger) error {
	trips, err := storage.CSVSource{Path: cfg.CleanedOutputPath}.FetchAll(ctx)
	if err != nil {
		return err
	}
	logger.Info("Read %d cleaned trips from %s", len(trips), cfg.CleanedOutputPath)

	store, err := openPostgres(ctx, cfg, logger)
	if err != nil {
		logger.Error("Make sure PostgreSQL is running: docker compose up -d")
		return err
	}
	defer store.Close()

	inserted, err := store.Write(ctx, trips)
	if err != nil {
		return err
	}
	logger.Info("Loaded %d new trips into PostgreSQL (table: taxi_trips), %d already present",
		inserted, int64(len(trips))-inserted)
	return nil
}

func serve(ctx context.Context, cfg *config.Config, logger *utils.Logger) error {
	var source storage.TripSource
	switch cfg.DatasetSource {
	case "csv":
		source = storage.CSVSource{Path: cfg.CleanedOutputPath}
	default:
		store, err := openPostgres(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		source = store
	}

	dataset := api.NewDataset(source, logger)
	if err := dataset.Reload(ctx); err != nil {
		return err
	}

	var cache api.ResponseCache = api.NoCache{}
	if cfg.RedisAddr != "" {
		ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
		rc, err := api.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, ttl, logger)
		if err != nil {
			logger.Warn("[api] Response cache disabled: %v", err)
		} else {
			defer rc.Close()
			cache = rc
		}
	}

	peaks, err := services.NewPeakSelector(cfg.PeakPolicy, cfg.PeakTopK, cfg.PeakStdDevs)
	if err != nil {
		return err
	}
	srv := api.NewServer(dataset, cache, api.ServerOptions{
		Peaks:       peaks,
		PeakStdDevs: cfg.PeakStdDevs,
		PageSize:    cfg.PageSize,
	}, logger)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(srv, os.Stdout),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("[api] Listening on %s", cfg.HTTPAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api: %w", err)
	case <-ctx.Done():
	}

	logger.Info("[api] Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func openPostgres(ctx context.Context, cfg *config.Config, logger *utils.Logger) (*storage.PostgresStore, error) {
	return storage.NewPostgresStore(ctx, cfg.DSN(), cfg.DatabaseURL(), storage.PostgresOptions{
		BatchSize:      cfg.InsertBatchSize,
		MaxConcurrency: cfg.MaxConcurrency,
		Retry: utils.RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   time.Duration(cfg.RetryBaseMs) * time.Millisecond,
			Logger:      logger,
		},
	}, logger)
}

// printInsights re-reads the cleaned CSV and prints the insight report.
func printInsights(ctx context.Context, cfg *config.Config, logger *utils.Logger, report *models.CleaningReport) {
	if cfg.OutputFormat != storage.FormatCSV {
		logger.Info("Insights are only printed for CSV output")
		return
	}
	trips, err := storage.CSVSource{Path: cfg.CleanedOutputPath}.FetchAll(ctx)
	if err != nil {
		logger.Error("Failed to read cleaned dataset for insights: %v", err)
		return
	}

	peaks, err := services.NewPeakSelector(report.PeakPolicy, cfg.PeakTopK, cfg.PeakStdDevs)
	if err != nil {
		logger.Error("%v", err)
		return
	}
	svc := services.NewInsightService(logger, peaks)
	svc.Print(svc.Generate(trips))

	fmt.Printf("  Done. Cleaned data → %s | Report → %s\n\n", cfg.CleanedOutputPath, cfg.ReportPath)
}
