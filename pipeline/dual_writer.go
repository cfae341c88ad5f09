package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aluiziolira/reviewharvest/models"
)

// DualWriter fans every batch out to two writers, e.g. CSV files and a JSONL
// log, or local files and the webhook.
type DualWriter struct {
	primary   OutputWriter
	secondary OutputWriter
	mu        sync.Mutex
}

// NewDualWriter writes to primary first, then secondary.
func NewDualWriter(primary, secondary OutputWriter) *DualWriter {
	return &DualWriter{primary: primary, secondary: secondary}
}

// Write writes the batch to both writers.
func (dw *DualWriter) Write(items []*models.Harvest) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if err := dw.primary.Write(items); err != nil {
		return fmt.Errorf("primary write failed: %w", err)
	}
	if err := dw.secondary.Write(items); err != nil {
		return fmt.Errorf("secondary write failed: %w", err)
	}
	return nil
}

// Close closes both writers.
func (dw *DualWriter) Close() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	var errs []error
	if err := dw.primary.Close(); err != nil {
		errs = append(errs, fmt.Errorf("primary close failed: %w", err))
	}
	if err := dw.secondary.Close(); err != nil {
		errs = append(errs, fmt.Errorf("secondary close failed: %w", err))
	}
	return errors.Join(errs...)
}

// Validate validates both writers.
func (dw *DualWriter) Validate() error {
	var errs []error
	if err := dw.primary.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("primary validation failed: %w", err))
	}
	if err := dw.secondary.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("secondary validation failed: %w", err))
	}
	return errors.Join(errs...)
}
