package config

import (
	"fmt"
	"strings"
	"time"
)

// Supported source names.
const (
	SourceAmazon  = "amazon"
	SourceBestBuy = "bestbuy"
	SourceWalmart = "walmart"
)

// Config holds harvester configuration.
type Config struct {
	Source    string
	Timestamp string

	// Pagination and concurrency.
	MaxReviewPages int
	Workers        int
	PreserveOrder  bool

	// Session-bound regime.
	Region                string
	RequireRegion         bool
	Headless              bool
	Proxy                 string
	LandmarkTimeout       time.Duration
	LogoutTimeout         time.Duration
	ProductTimeout        time.Duration
	ReviewTimeout         time.Duration
	ChallengeProbeTimeout time.Duration
	ChallengeMaxAttempts  int
	DecoderURL            string

	// Stateless regime.
	Timeout           time.Duration
	MaxRetries        int
	RetryBackoff      time.Duration
	RetryBackoffMax   time.Duration
	RequestsPerSecond float64
	CookiesFile       string
	UserAgent         string

	// Output.
	OutputDir       string
	OutputFormat    string // csv, json, or dual
	ProductsWebhook string
	ReviewsWebhook  string
	SummaryWebhook  string

	Verbose     bool
	MetricsAddr string
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() *Config {
	return &Config{
		Source:                SourceAmazon,
		Timestamp:             time.Now().Format("200601021504"),
		MaxReviewPages:        2,
		Workers:               4,
		PreserveOrder:         true,
		Region:                "10001",
		RequireRegion:         false,
		Headless:              true,
		LandmarkTimeout:       60 * time.Second,
		LogoutTimeout:         30 * time.Second,
		ProductTimeout:        180 * time.Second,
		ReviewTimeout:         60 * time.Second,
		ChallengeProbeTimeout: 3 * time.Second,
		ChallengeMaxAttempts:  3,
		Timeout:               30 * time.Second,
		MaxRetries:            2,
		RetryBackoff:          500 * time.Millisecond,
		RetryBackoffMax:       5 * time.Second,
		RequestsPerSecond:     2,
		UserAgent:             "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
		OutputDir:             ".",
		OutputFormat:          "csv",
		Verbose:               false,
	}
}

// SessionBound reports whether the configured source needs a browser session.
func (c *Config) SessionBound() bool {
	return c.Source == SourceAmazon
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	switch c.Source {
	case SourceAmazon, SourceBestBuy, SourceWalmart:
	default:
		return fmt.Errorf("source must be one of %s, %s, %s", SourceAmazon, SourceBestBuy, SourceWalmart)
	}
	if strings.TrimSpace(c.Timestamp) == "" {
		return fmt.Errorf("timestamp label cannot be empty")
	}
	if c.MaxReviewPages <= 0 {
		return fmt.Errorf("max review pages must be positive")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.RequireRegion && c.Region == "" {
		return fmt.Errorf("region is required when region pinning is mandatory")
	}
	if c.LandmarkTimeout <= 0 || c.LogoutTimeout <= 0 || c.ProductTimeout <= 0 || c.ReviewTimeout <= 0 {
		return fmt.Errorf("browser wait timeout must be positive")
	}
	if c.ChallengeProbeTimeout <= 0 {
		return fmt.Errorf("challenge probe timeout must be positive")
	}
	if c.ChallengeMaxAttempts <= 0 {
		return fmt.Errorf("challenge max attempts must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second cannot be negative")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output dir cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}
