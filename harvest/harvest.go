// Package harvest drives a batch of identifiers through a source adapter and
// streams the results. Session-bound sources run sequentially against one
// signed-in browsing context; stateless sources run on a bounded worker pool.
package harvest

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/reviewharvest/adapter"
	"github.com/aluiziolira/reviewharvest/metrics"
	"github.com/aluiziolira/reviewharvest/models"
	"github.com/aluiziolira/reviewharvest/pagination"
	"github.com/aluiziolira/reviewharvest/scraper"
	"github.com/aluiziolira/reviewharvest/session"
)

// DefaultWorkers bounds the stateless pool when Options.Workers is unset.
const DefaultWorkers = 4

// ErrConsumed is yielded when a run's sequence is iterated a second time.
var ErrConsumed = errors.New("harvest: results already consumed")

var errNoSessions = errors.New("session-bound source configured without a session provider")

// SessionProvider opens, pins and closes the shared browsing context.
// *session.Manager implements it.
type SessionProvider interface {
	Open(ctx context.Context) (*session.Handle, error)
	PinRegion(ctx context.Context, h *session.Handle, region string) error
	Close(h *session.Handle)
}

// Options configures an Orchestrator.
type Options struct {
	Sessions      SessionProvider
	Region        string
	RequireRegion bool
	Traverser     pagination.Traverser
	Workers       int
	PreserveOrder bool
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

// Orchestrator runs batches against one adapter.
type Orchestrator struct {
	src    adapter.Adapter
	opts   Options
	logger *slog.Logger
}

// New builds an orchestrator for src.
func New(src adapter.Adapter, opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("source", src.Name()))
	if opts.Traverser.Metrics == nil {
		opts.Traverser.Metrics = opts.Metrics
	}
	if opts.Traverser.Logger == nil {
		opts.Traverser.Logger = logger
	}
	return &Orchestrator{src: src, opts: opts, logger: logger}
}

// Run returns a lazy sequence of harvested identifiers and the summary it
// fills in. Nothing happens until the sequence is ranged over, and it may be
// ranged over only once. Failed identifiers are logged and recorded in the
// summary but never yielded. A session failure or cancellation is yielded
// as the final error.
func (o *Orchestrator) Run(ctx context.Context, ids []string) (iter.Seq2[*models.Harvest, error], *models.Summary) {
	summary := models.NewSummary(o.src.Name())
	var used atomic.Bool

	seq := func(yield func(*models.Harvest, error) bool) {
		if !used.CompareAndSwap(false, true) {
			yield(nil, ErrConsumed)
			return
		}
		summary.StartTime = time.Now()
		defer summary.Finish()

		o.logger.Info("harvest started", slog.Int("identifiers", len(ids)))
		if src, ok := o.src.(adapter.SessionAdapter); ok {
			o.runSession(ctx, src, ids, summary, yield)
		} else {
			o.runStateless(ctx, ids, summary, yield)
		}
		o.logger.Info("harvest finished",
			slog.Int("succeeded", summary.Count(models.StatusSucceeded)),
			slog.Int("no_reviews", summary.Count(models.StatusNoReviews)),
			slog.Int("failed", summary.Count(models.StatusFailed)),
		)
	}
	return seq, summary
}

func (o *Orchestrator) abort(summary *models.Summary, err error, yield func(*models.Harvest, error) bool) {
	summary.Fail(err)
	o.logger.Error("harvest aborted", slog.Any("error", err))
	yield(nil, err)
}

func (o *Orchestrator) runSession(ctx context.Context, src adapter.SessionAdapter, ids []string, summary *models.Summary, yield func(*models.Harvest, error) bool) {
	if o.opts.Sessions == nil {
		o.abort(summary, &session.SessionError{Kind: session.KindContext, Err: errNoSessions}, yield)
		return
	}

	h, err := o.opts.Sessions.Open(ctx)
	// Close is nil-safe; it runs once on every path out of this function.
	defer o.opts.Sessions.Close(h)
	if err != nil {
		o.abort(summary, err, yield)
		return
	}

	if err := o.opts.Sessions.PinRegion(ctx, h, o.opts.Region); err != nil {
		switch {
		case ctx.Err() != nil:
			o.abort(summary, ctx.Err(), yield)
			return
		case o.opts.RequireRegion:
			o.abort(summary, err, yield)
			return
		default:
			o.logger.Warn("region pin failed, continuing unpinned", slog.String("region", o.opts.Region), slog.Any("error", err))
		}
	}

	bound := src.WithSession(h)
	for pos, id := range ids {
		if err := ctx.Err(); err != nil {
			o.abort(summary, err, yield)
			return
		}
		result, outcome := o.harvestOne(ctx, bound, pos, id)
		if err := ctx.Err(); err != nil {
			o.abort(summary, err, yield)
			return
		}
		o.record(summary, outcome)
		if result != nil && !yield(result, nil) {
			return
		}
	}
}

type result struct {
	harvest *models.Harvest
	outcome models.Outcome
}

func (o *Orchestrator) runStateless(ctx context.Context, ids []string, summary *models.Summary, yield func(*models.Harvest, error) bool) {
	workCtx, cancel := context.WithCancel(ctx)
	results := make(chan result)
	done := make(chan struct{})
	// Workers may not watch ctx, so every exit waits for them.
	defer func() {
		cancel()
		<-done
	}()

	go func() {
		defer close(done)
		defer close(results)
		var g errgroup.Group
		g.SetLimit(o.opts.Workers)
		for pos, id := range ids {
			if workCtx.Err() != nil {
				break
			}
			g.Go(func() error {
				harvest, outcome := o.harvestOne(workCtx, o.src, pos, id)
				select {
				case results <- result{harvest: harvest, outcome: outcome}:
				case <-workCtx.Done():
				}
				return nil
			})
		}
		_ = g.Wait()
	}()

	pending := make(map[int]result)
	next := 0
	emit := func(r result) bool {
		o.record(summary, r.outcome)
		if r.harvest == nil {
			return true
		}
		return yield(r.harvest, nil)
	}

	for {
		select {
		case <-ctx.Done():
			o.abort(summary, ctx.Err(), yield)
			return
		case r, ok := <-results:
			if !ok {
				if err := ctx.Err(); err != nil {
					o.abort(summary, err, yield)
				}
				return
			}
			// Work finished after cancellation is discarded.
			if err := ctx.Err(); err != nil {
				o.abort(summary, err, yield)
				return
			}
			if !o.opts.PreserveOrder {
				if !emit(r) {
					return
				}
				continue
			}
			pending[r.outcome.Position] = r
			for {
				ready, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				next++
				if !emit(ready) {
					return
				}
			}
		}
	}
}

// harvestOne extracts one identifier. It never returns an error: failures
// come back as a failed outcome and a nil harvest.
func (o *Orchestrator) harvestOne(ctx context.Context, src adapter.Adapter, pos int, id string) (*models.Harvest, models.Outcome) {
	outcome := models.Outcome{Identifier: id, Position: pos}
	logger := o.logger.With(slog.String("identifier", id), slog.Int("position", pos))
	start := time.Now()

	fail := func(step string, err error) (*models.Harvest, models.Outcome) {
		err = adapter.Wrap(id, step, err)
		outcome.Status = models.StatusFailed
		outcome.Err = err
		if ctx.Err() == nil {
			o.opts.Metrics.IncError(scraper.ErrorType(err))
			logger.Error("identifier failed", slog.String("step", step), slog.Any("error", err))
		}
		return nil, outcome
	}

	product, err := src.FetchProduct(ctx, id)
	if err != nil {
		return fail(adapter.StepProduct, err)
	}
	pager, err := src.Reviews(ctx, id)
	if err != nil {
		return fail(adapter.StepReviews, err)
	}
	reviews, err := pagination.Collect(o.opts.Traverser.Traverse(ctx, pager))
	if err != nil {
		return fail(adapter.StepReviews, err)
	}

	outcome.Reviews = len(reviews)
	outcome.Status = models.StatusSucceeded
	if len(reviews) == 0 {
		outcome.Status = models.StatusNoReviews
	}
	logger.Info("identifier harvested",
		slog.Int("reviews", len(reviews)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return &models.Harvest{
		Identifier: id,
		Source:     o.src.Name(),
		Product:    product,
		Reviews:    reviews,
	}, outcome
}

func (o *Orchestrator) record(summary *models.Summary, outcome models.Outcome) {
	summary.Record(outcome)
	o.opts.Metrics.IncIdentifier(o.src.Name(), string(outcome.Status))
}
