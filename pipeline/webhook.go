package pipeline

import (
	"bytes"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/aluiziolira/reviewharvest/models"
)

// WebhookOptions points the writer at its endpoints. Empty URLs skip that
// upload.
type WebhookOptions struct {
	ProductsURL string
	ReviewsURL  string
	SummaryURL  string
	Timestamp   string
	Timeout     time.Duration
	Logger      *slog.Logger
}

// productPayload is the JSON body posted for each product.
type productPayload struct {
	Source          string  `json:"source"`
	ID              string  `json:"id"`
	Timestamp       string  `json:"timestamp"`
	IdentCode       string  `json:"product ident code"`
	Name            string  `json:"product name"`
	BasePrice       float64 `json:"base price"`
	FinalPrice      float64 `json:"final price"`
	InventoryStatus string  `json:"inventory status"`
}

// WebhookWriter uploads products as JSON and reviews as multipart CSV files.
// Close posts the run timestamp to the summary endpoint.
type WebhookWriter struct {
	client *resty.Client
	opts   WebhookOptions
	logger *slog.Logger

	mu       sync.Mutex
	uploaded int
}

// NewWebhookWriter uses client, or a fresh resty client when nil.
func NewWebhookWriter(client *resty.Client, opts WebhookOptions) *WebhookWriter {
	if client == nil {
		client = resty.New()
	}
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookWriter{client: client, opts: opts, logger: logger}
}

// Write uploads every harvest in the batch and stops at the first failure.
func (ww *WebhookWriter) Write(items []*models.Harvest) error {
	ww.mu.Lock()
	defer ww.mu.Unlock()

	for _, item := range items {
		if err := ww.postProduct(item); err != nil {
			return err
		}
		if err := ww.postReviews(item); err != nil {
			return err
		}
		ww.uploaded++
	}
	return nil
}

func (ww *WebhookWriter) postProduct(item *models.Harvest) error {
	if ww.opts.ProductsURL == "" {
		return nil
	}
	payload := productPayload{
		Source:          item.Source,
		ID:              ww.opts.Timestamp + "_" + item.Identifier,
		Timestamp:       ww.opts.Timestamp,
		IdentCode:       item.Identifier,
		Name:            item.Product.Name,
		BasePrice:       item.Product.BasePrice,
		FinalPrice:      item.Product.FinalPrice,
		InventoryStatus: item.Product.InventoryStatus,
	}
	resp, err := ww.client.R().SetBody(payload).Post(ww.opts.ProductsURL)
	if err != nil {
		return fmt.Errorf("post product %s: %w", item.Identifier, err)
	}
	if resp.IsError() {
		return fmt.Errorf("post product %s: status %d", item.Identifier, resp.StatusCode())
	}
	ww.logger.Debug("product uploaded", slog.String("identifier", item.Identifier), slog.Int("status", resp.StatusCode()))
	return nil
}

func (ww *WebhookWriter) postReviews(item *models.Harvest) error {
	if ww.opts.ReviewsURL == "" {
		return nil
	}
	var buf bytes.Buffer
	if err := encodeReviews(&buf, item.Reviews); err != nil {
		return fmt.Errorf("encode reviews %s: %w", item.Identifier, err)
	}
	filename := filepath.Base(ReviewsPath("", ww.opts.Timestamp, item.Source, item.Identifier))
	resp, err := ww.client.R().
		SetMultipartField("file", filename, "text/csv", &buf).
		SetFormData(map[string]string{"source": item.Source}).
		Post(ww.opts.ReviewsURL)
	if err != nil {
		return fmt.Errorf("upload reviews %s: %w", item.Identifier, err)
	}
	if resp.IsError() {
		return fmt.Errorf("upload reviews %s: status %d", item.Identifier, resp.StatusCode())
	}
	ww.logger.Debug("reviews uploaded", slog.String("file", filename), slog.Int("reviews", len(item.Reviews)))
	return nil
}

// Close refreshes the summary for this run's timestamp when anything was
// uploaded.
func (ww *WebhookWriter) Close() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()

	if ww.opts.SummaryURL == "" || ww.uploaded == 0 {
		return nil
	}
	resp, err := ww.client.R().
		SetFormData(map[string]string{"timestamp": ww.opts.Timestamp}).
		Post(ww.opts.SummaryURL)
	if err != nil {
		return fmt.Errorf("refresh summary: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("refresh summary: status %d", resp.StatusCode())
	}
	ww.logger.Info("summary refreshed", slog.String("timestamp", ww.opts.Timestamp))
	return nil
}

// Validate ensures at least one harvest reached the endpoints.
func (ww *WebhookWriter) Validate() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.uploaded == 0 {
		return fmt.Errorf("no harvests uploaded")
	}
	return nil
}
