package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/reviewharvest/config"
	"github.com/aluiziolira/reviewharvest/harvest"
	"github.com/aluiziolira/reviewharvest/metrics"
	"github.com/aluiziolira/reviewharvest/models"
	"github.com/aluiziolira/reviewharvest/pagination"
	"github.com/aluiziolira/reviewharvest/pipeline"
)

// idList collects identifiers from repeated or comma-separated flags.
type idList []string

func (l *idList) String() string {
	return strings.Join(*l, ",")
}

func (l *idList) Set(value string) error {
	for _, id := range strings.Split(value, ",") {
		if id = strings.TrimSpace(id); id != "" {
			*l = append(*l, id)
		}
	}
	return nil
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, ids, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}
	if len(ids) == 0 {
		slog.Error("no identifiers given; pass -ids or positional arguments")
		os.Exit(1)
	}

	slog.Info("starting harvest",
		slog.String("source", cfg.Source),
		slog.Int("identifiers", len(ids)),
		slog.String("timestamp", cfg.Timestamp),
		slog.Int("max_review_pages", cfg.MaxReviewPages),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, tearing down the run")
	}()

	m := metrics.New()
	metricsServer := startMetricsServer(cfg.MetricsAddr, m)

	src, sessions, err := buildSource(cfg, m, logger)
	if err != nil {
		slog.Error("initialising source", slog.Any("error", err))
		os.Exit(1)
	}

	writer, err := createWriter(cfg, logger)
	if err != nil {
		slog.Error("creating writer", slog.Any("error", err))
		os.Exit(1)
	}

	p := pipeline.NewPipeline(writer, pipeline.Options{FlushInterval: 5 * time.Second, Metrics: m, Logger: logger})
	p.Start(1)
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	orchestrator := harvest.New(src, harvest.Options{
		Sessions:      sessions,
		Region:        cfg.Region,
		RequireRegion: cfg.RequireRegion,
		Traverser:     pagination.Traverser{MaxPages: cfg.MaxReviewPages},
		Workers:       cfg.Workers,
		PreserveOrder: cfg.PreserveOrder,
		Metrics:       m,
		Logger:        logger,
	})

	startTime := time.Now()
	results, summary := orchestrator.Run(ctx, ids)
	var runErr error
	for item, err := range results {
		if err != nil {
			runErr = err
			break
		}
		if err := p.Process(item); err != nil {
			runErr = fmt.Errorf("sink: %w", err)
			break
		}
	}

	exitCode := 0
	if runErr != nil {
		slog.Error("harvest failed", slog.Any("error", runErr))
		exitCode = 1
	}
	if err := p.Close(); err != nil {
		slog.Error("pipeline shutdown failed", slog.Any("error", err))
		exitCode = 1
	}
	if err := writer.Validate(); err != nil {
		slog.Warn("output validation failed", slog.Any("error", err))
	}
	if err := writer.Close(); err != nil {
		slog.Error("close writer", slog.Any("error", err))
		exitCode = 1
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	written, rejected := p.Counts()
	printSummary(summary, time.Since(startTime), cfg.OutputDir, written, rejected)
	os.Exit(exitCode)
}

func parseFlags(args []string) (*config.Config, []string, error) {
	cfg := config.DefaultConfig()
	if err := applyEnv(cfg); err != nil {
		return nil, nil, err
	}

	fs := flag.NewFlagSet("harvester", flag.ContinueOnError)
	var ids idList
	fs.Var(&ids, "ids", "Identifiers to harvest, comma-separated or repeated")
	fs.StringVar(&cfg.Source, "source", cfg.Source, "Source to harvest: amazon, bestbuy, or walmart")
	fs.StringVar(&cfg.Timestamp, "timestamp", cfg.Timestamp, "Run label used in output names (YYYYMMDDHHMM)")
	fs.IntVar(&cfg.MaxReviewPages, "pages", cfg.MaxReviewPages, "Maximum review pages per identifier")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Concurrent identifiers for stateless sources")
	fs.BoolVar(&cfg.PreserveOrder, "ordered", cfg.PreserveOrder, "Release results in input order")
	fs.StringVar(&cfg.Region, "region", cfg.Region, "Postal code to pin the session to")
	fs.BoolVar(&cfg.RequireRegion, "require-region", cfg.RequireRegion, "Abort the run when region pinning fails")
	fs.BoolVar(&cfg.Headless, "headless", cfg.Headless, "Run the browser headless")
	fs.StringVar(&cfg.Proxy, "proxy", cfg.Proxy, "Proxy server for the browser")
	fs.StringVar(&cfg.DecoderURL, "decoder-url", cfg.DecoderURL, "OCR endpoint used to answer challenge images")
	fs.IntVar(&cfg.ChallengeMaxAttempts, "challenge-attempts", cfg.ChallengeMaxAttempts, "Challenge attempts before giving up")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Per-request timeout")
	fs.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "Maximum retry attempts per URL")
	fs.Float64Var(&cfg.RequestsPerSecond, "rps", cfg.RequestsPerSecond, "Request rate limit for stateless sources (0 disables)")
	fs.StringVar(&cfg.CookiesFile, "cookies", cfg.CookiesFile, "JSON cookie file applied to Best Buy requests")
	fs.StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "Directory receiving products/ and reviews/")
	fs.StringVar(&cfg.OutputFormat, "format", cfg.OutputFormat, "Output format: csv, json, or dual")
	fs.StringVar(&cfg.ProductsWebhook, "products-webhook", cfg.ProductsWebhook, "Webhook receiving product records")
	fs.StringVar(&cfg.ReviewsWebhook, "reviews-webhook", cfg.ReviewsWebhook, "Webhook receiving review files")
	fs.StringVar(&cfg.SummaryWebhook, "summary-webhook", cfg.SummaryWebhook, "Webhook refreshed once the batch is uploaded")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Enable verbose logging")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	for _, arg := range fs.Args() {
		_ = ids.Set(arg)
	}
	cfg.Source = strings.ToLower(cfg.Source)
	cfg.OutputFormat = strings.ToLower(cfg.OutputFormat)
	return cfg, ids, nil
}

func applyEnv(cfg *config.Config) error {
	if value, ok := config.EnvString("HARVEST_SOURCE"); ok {
		cfg.Source = value
	}
	if value, ok, err := config.EnvInt("HARVEST_PAGES"); err != nil {
		return err
	} else if ok {
		cfg.MaxReviewPages = value
	}
	if value, ok, err := config.EnvInt("HARVEST_WORKERS"); err != nil {
		return err
	} else if ok {
		cfg.Workers = value
	}
	if value, ok, err := config.EnvBool("HARVEST_REQUIRE_REGION"); err != nil {
		return err
	} else if ok {
		cfg.RequireRegion = value
	}
	if value, ok, err := config.EnvDuration("HARVEST_TIMEOUT"); err != nil {
		return err
	} else if ok {
		cfg.Timeout = value
	}
	overrides := map[string]*string{
		"HARVEST_REGION":           &cfg.Region,
		"HARVEST_PROXY":            &cfg.Proxy,
		"HARVEST_DECODER_URL":      &cfg.DecoderURL,
		"HARVEST_COOKIES_FILE":     &cfg.CookiesFile,
		"HARVEST_OUTPUT_DIR":       &cfg.OutputDir,
		"HARVEST_PRODUCTS_WEBHOOK": &cfg.ProductsWebhook,
		"HARVEST_REVIEWS_WEBHOOK":  &cfg.ReviewsWebhook,
		"HARVEST_SUMMARY_WEBHOOK":  &cfg.SummaryWebhook,
		"HARVEST_METRICS_ADDR":     &cfg.MetricsAddr,
	}
	for key, dst := range overrides {
		if value, ok := config.EnvString(key); ok {
			*dst = value
		}
	}
	return nil
}

func startMetricsServer(addr string, m *metrics.Metrics) *http.Server {
	if addr == "" {
		return nil
	}
	server := &http.Server{
		Addr:    addr,
		Handler: promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return server
}

func printSummary(summary *models.Summary, duration time.Duration, outputDir string, written int, rejected map[string]int) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Printf("Harvest complete (%s)\n", summary.Source)

	fmt.Printf("  Succeeded:     %d\n", summary.Count(models.StatusSucceeded))
	fmt.Printf("  No reviews:    %d\n", summary.Count(models.StatusNoReviews))
	fmt.Printf("  Failed:        %d\n", summary.Count(models.StatusFailed))
	fmt.Printf("  Reviews:       %d\n", summary.TotalReviews())
	for _, o := range summary.Outcomes() {
		if o.Status == models.StatusFailed {
			fmt.Printf("    - %s: %v\n", o.Identifier, o.Err)
		}
	}
	if err := summary.Err(); err != nil {
		fmt.Printf("  Aborted:       %v\n", err)
	}
	fmt.Printf("  Written:       %d\n", written)
	if len(rejected) > 0 {
		fmt.Printf("  Rejected:      %v\n", rejected)
	}
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Printf("  Output dir:    %s\n", outputDir)
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	var handler slog.Handler
	if isTerminal(os.Stderr) {
		handler = tint.NewHandler(os.Stderr, &tint.Options{Level: level, TimeFormat: time.TimeOnly})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
