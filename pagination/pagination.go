// Package pagination walks an adapter's review pages as a lazy, bounded
// sequence.
package pagination

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"sync/atomic"

	"github.com/aluiziolira/reviewharvest/adapter"
	"github.com/aluiziolira/reviewharvest/metrics"
	"github.com/aluiziolira/reviewharvest/models"
)

// DefaultMaxPages caps traversal when MaxPages is unset.
const DefaultMaxPages = 2

// ErrConsumed is yielded when a sequence is iterated a second time.
var ErrConsumed = errors.New("pagination: sequence already consumed")

// Traverser turns a ReviewPager into a sequence of parsed pages.
type Traverser struct {
	MaxPages int
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

func (t Traverser) maxPages() int {
	if t.MaxPages <= 0 {
		return DefaultMaxPages
	}
	return t.MaxPages
}

func (t Traverser) logger() *slog.Logger {
	if t.Logger == nil {
		return slog.Default()
	}
	return t.Logger
}

// Traverse yields the parsed reviews of each page, starting at page 1. It
// stops on ErrEmptyPage, when the pager reports no next page, or once
// MaxPages pages have been fetched. Any other page error is yielded once and
// ends the sequence. Reviews that fail to parse are logged and skipped.
//
// The sequence may be ranged over only once.
func (t Traverser) Traverse(ctx context.Context, pager adapter.ReviewPager) iter.Seq2[[]models.Review, error] {
	var used atomic.Bool
	maxPages := t.maxPages()
	logger := t.logger()

	return func(yield func([]models.Review, error) bool) {
		if !used.CompareAndSwap(false, true) {
			yield(nil, ErrConsumed)
			return
		}

		for page := 1; page <= maxPages; page++ {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			raw, err := pager.FetchReviewPage(ctx, page)
			if errors.Is(err, adapter.ErrEmptyPage) {
				logger.Debug("no reviews on page, stopping", slog.Int("page", page))
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}

			reviews := make([]models.Review, 0, len(raw))
			skipped := 0
			for i, r := range raw {
				review, err := r.Review()
				if err != nil {
					skipped++
					logger.Warn("skipping unparseable review",
						slog.Int("page", page),
						slog.Int("index", i),
						slog.Any("error", err),
					)
					continue
				}
				reviews = append(reviews, review)
			}
			t.Metrics.AddReviewPage(len(reviews), skipped)

			if !yield(reviews, nil) {
				return
			}
			if page == maxPages || !pager.HasNextPage(ctx) {
				return
			}
		}
	}
}

// Collect flattens seq in page order. The result is never nil.
func Collect(seq iter.Seq2[[]models.Review, error]) ([]models.Review, error) {
	all := make([]models.Review, 0)
	for reviews, err := range seq {
		if err != nil {
			return all, err
		}
		all = append(all, reviews...)
	}
	return all, nil
}
