// Package adapter defines the contract every source site implements. The
// harvesting engine only talks to sources through these interfaces, so
// adding a site never touches session handling, pagination or the
// orchestrator.
package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/aluiziolira/reviewharvest/models"
	"github.com/aluiziolira/reviewharvest/session"
)

var (
	// ErrEmptyPage means no review elements were located on a page. It ends
	// pagination normally.
	ErrEmptyPage = errors.New("adapter: no reviews on page")

	// ErrChallengeUnresolved means a mid-session challenge could not be passed.
	ErrChallengeUnresolved = errors.New("adapter: challenge unresolved")
)

// Adapter extracts canonical data from one source site.
type Adapter interface {
	Name() string
	ProductURL(id string) string
	ReviewsURL(id string) string
	FetchProduct(ctx context.Context, id string) (models.Product, error)
	Reviews(ctx context.Context, id string) (ReviewPager, error)
}

// SessionAdapter is an Adapter that needs an authenticated browsing
// context. WithSession returns a copy bound to h; the receiver is unchanged.
type SessionAdapter interface {
	Adapter
	WithSession(h *session.Handle) Adapter
}

// ReviewPager walks one identifier's review pages. Pages are 1-based and
// must be requested in increasing order.
type ReviewPager interface {
	// FetchReviewPage returns the raw reviews of page, or ErrEmptyPage.
	FetchReviewPage(ctx context.Context, page int) ([]RawReview, error)
	// HasNextPage reports whether a page follows the last one fetched.
	HasNextPage(ctx context.Context) bool
}

// RawReview is a site-specific review element not yet parsed.
type RawReview interface {
	Review() (models.Review, error)
}

// ExtractionError reports a failure for one identifier. It never aborts a batch.
type ExtractionError struct {
	Identifier string
	Step       string
	Err        error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s (%s): %v", e.Identifier, e.Step, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Extraction steps used in ExtractionError.Step.
const (
	StepProduct = "product"
	StepReviews = "reviews"
)

// Wrap returns err as an ExtractionError for id, leaving nil and existing
// ExtractionErrors untouched.
func Wrap(id, step string, err error) error {
	if err == nil {
		return nil
	}
	var extractionErr *ExtractionError
	if errors.As(err, &extractionErr) {
		return err
	}
	return &ExtractionError{Identifier: id, Step: step, Err: err}
}
