package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/aluiziolira/reviewharvest/adapter"
	"github.com/aluiziolira/reviewharvest/adapter/amazon"
	"github.com/aluiziolira/reviewharvest/adapter/bestbuy"
	"github.com/aluiziolira/reviewharvest/adapter/walmart"
	"github.com/aluiziolira/reviewharvest/browser"
	"github.com/aluiziolira/reviewharvest/challenge"
	"github.com/aluiziolira/reviewharvest/config"
	"github.com/aluiziolira/reviewharvest/harvest"
	"github.com/aluiziolira/reviewharvest/metrics"
	"github.com/aluiziolira/reviewharvest/pipeline"
	"github.com/aluiziolira/reviewharvest/scraper"
	"github.com/aluiziolira/reviewharvest/session"
)

var errNoDecoder = errors.New("no challenge decoder configured")

// buildSource returns the adapter for cfg.Source and, for session-bound
// sources, the session provider that signs it in.
func buildSource(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (adapter.Adapter, harvest.SessionProvider, error) {
	if cfg.SessionBound() {
		return buildSessionSource(cfg, m, logger)
	}

	switch cfg.Source {
	case config.SourceBestBuy:
		cookies, err := bestbuy.LoadCookies(cfg.CookiesFile)
		if err != nil {
			return nil, nil, err
		}
		fetcher, err := scraper.NewFetcher(cfg, bestbuy.Domains,
			scraper.WithMetrics(m),
			scraper.WithLogger(logger),
			scraper.WithCookies("https://www.bestbuy.com/", cookies),
		)
		if err != nil {
			return nil, nil, err
		}
		src, err := bestbuy.New(fetcher, bestbuy.Options{Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		return src, nil, nil

	case config.SourceWalmart:
		fetcher, err := scraper.NewFetcher(cfg, walmart.Domains,
			scraper.WithMetrics(m),
			scraper.WithLogger(logger),
		)
		if err != nil {
			return nil, nil, err
		}
		return walmart.New(fetcher, walmart.Options{Logger: logger}), nil, nil

	default:
		return nil, nil, fmt.Errorf("unsupported source: %s", cfg.Source)
	}
}

// buildSessionSource wires the browser-backed adapter to a session manager
// that signs in with the configured credentials.
func buildSessionSource(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (adapter.Adapter, harvest.SessionProvider, error) {
	creds, err := config.LoadCredentials()
	if err != nil {
		return nil, nil, err
	}
	var decoder challenge.Decoder = challenge.DecoderFunc(func(context.Context, []byte) (string, error) {
		return "", errNoDecoder
	})
	if cfg.DecoderURL != "" {
		decoder = challenge.NewHTTPDecoder(nil, cfg.DecoderURL)
	} else {
		logger.Warn("challenge screens cannot be answered without -decoder-url")
	}
	resolver := challenge.NewResolver(
		challenge.Config{
			Form:         amazon.ChallengeForm,
			MaxAttempts:  cfg.ChallengeMaxAttempts,
			ProbeTimeout: cfg.ChallengeProbeTimeout,
		},
		decoder,
		challenge.NewHTTPImageFetcher(nil),
		challenge.WithMetrics(m),
		challenge.WithLogger(logger),
	)
	sessions := session.NewManager(session.Options{
		Flow:        amazon.SessionFlow(""),
		Credentials: creds,
		Launcher: browser.NewChromeLauncher(browser.Options{
			Headless:      cfg.Headless,
			Proxy:         cfg.Proxy,
			UserAgent:     cfg.UserAgent,
			ActionTimeout: cfg.Timeout,
		}),
		Resolver:        resolver,
		LandmarkTimeout: cfg.LandmarkTimeout,
		LogoutTimeout:   cfg.LogoutTimeout,
		Logger:          logger,
	})
	src := amazon.New(amazon.Options{
		ProductTimeout: cfg.ProductTimeout,
		ReviewTimeout:  cfg.ReviewTimeout,
		ProbeTimeout:   cfg.ChallengeProbeTimeout,
		Logger:         logger,
	})
	return src, sessions, nil
}

// createWriter builds the file writer for cfg.OutputFormat and chains the
// webhook uploader behind it when any webhook is configured.
func createWriter(cfg *config.Config, logger *slog.Logger) (pipeline.OutputWriter, error) {
	var writer pipeline.OutputWriter
	jsonFilename := filepath.Join(cfg.OutputDir, fmt.Sprintf("%s_%s.jsonl", cfg.Timestamp, cfg.Source))

	switch cfg.OutputFormat {
	case "json":
		jw, err := pipeline.NewJSONWriter(jsonFilename)
		if err != nil {
			return nil, err
		}
		writer = jw
	case "csv":
		cw, err := pipeline.NewCSVWriter(cfg.OutputDir, cfg.Timestamp)
		if err != nil {
			return nil, err
		}
		writer = cw
	case "dual":
		cw, err := pipeline.NewCSVWriter(cfg.OutputDir, cfg.Timestamp)
		if err != nil {
			return nil, err
		}
		jw, err := pipeline.NewJSONWriter(jsonFilename)
		if err != nil {
			return nil, err
		}
		writer = pipeline.NewDualWriter(cw, jw)
	default:
		return nil, fmt.Errorf("unsupported format: %s", cfg.OutputFormat)
	}

	if cfg.ProductsWebhook == "" && cfg.ReviewsWebhook == "" && cfg.SummaryWebhook == "" {
		return writer, nil
	}
	webhook := pipeline.NewWebhookWriter(nil, pipeline.WebhookOptions{
		ProductsURL: cfg.ProductsWebhook,
		ReviewsURL:  cfg.ReviewsWebhook,
		SummaryURL:  cfg.SummaryWebhook,
		Timestamp:   cfg.Timestamp,
		Timeout:     cfg.Timeout,
		Logger:      logger,
	})
	return pipeline.NewDualWriter(writer, webhook), nil
}
