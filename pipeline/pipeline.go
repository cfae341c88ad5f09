// Package pipeline hands harvested identifiers to output writers in batches.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/reviewharvest/metrics"
	"github.com/aluiziolira/reviewharvest/models"
	"github.com/aluiziolira/reviewharvest/parser"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrPipelineCloseTimeout is returned when workers do not drain in time.
	ErrPipelineCloseTimeout = errors.New("pipeline: close timed out")
)

// drainTimeout bounds how long Close waits for in-flight writes.
var drainTimeout = 30 * time.Second

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(items []*models.Harvest) error
	Close() error
	Validate() error
}

// Options tunes batching.
type Options struct {
	BatchSize  int
	BufferSize int
	// FlushInterval writes a partial batch once it has waited this long.
	// Harvests arrive one product at a time, so without it a short run
	// reaches the writers only on Close. Zero disables it.
	FlushInterval time.Duration
	// Metrics receives the written and rejected counts. A private set is
	// created when nil.
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Pipeline coordinates validation, de-duplication, and output writing.
type Pipeline struct {
	writer    OutputWriter
	itemCh        chan *models.Harvest
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger

	wg sync.WaitGroup

	seen   map[string]struct{}
	seenMu sync.Mutex

	metrics *metrics.Metrics

	mu     sync.Mutex // guards closed/err
	closed bool
	err    error

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline with a modest in-memory buffer.
func NewPipeline(writer OutputWriter, opts Options) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 16
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 64
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Pipeline{
		writer:        writer,
		itemCh:        make(chan *models.Harvest, opts.BufferSize),
		batchSize:     opts.BatchSize,
		flushInterval: opts.FlushInterval,
		logger:        opts.Logger,
		seen:          make(map[string]struct{}),
		metrics:       opts.Metrics,
		shutdown:      make(chan struct{}),
	}
}

// Start launches worker goroutines.
func (p *Pipeline) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Process enqueues harvests for downstream writing.
func (p *Pipeline) Process(items ...*models.Harvest) error {
	if len(items) == 0 {
		return nil
	}

	closed, err := p.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}

	for _, item := range items {
		if item == nil {
			continue
		}
		if err := p.enqueue(item); err != nil {
			return err
		}
	}
	return nil
}

// Close stops accepting work and waits, up to drainTimeout, for workers to
// flush what they hold.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.itemCh)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		return ErrPipelineCloseTimeout
	}
	return p.Err()
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Counts returns how many records were written and how many were dropped,
// by reason.
func (p *Pipeline) Counts() (written int, rejected map[string]int) {
	return p.metrics.SinkCounts()
}

// StartMetricsReporting emits periodic progress logs.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				written, rejected := p.Counts()
				p.logger.Info("pipeline progress",
					slog.Int("written", written),
					slog.Any("rejected", rejected),
				)
			case <-p.shutdown:
				return
			}
		}
	}()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	var tick <-chan time.Time
	if p.flushInterval > 0 {
		ticker := time.NewTicker(p.flushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	batch := make([]*models.Harvest, 0, p.batchSize)
	flush := func() bool {
		if len(batch) == 0 {
			return true
		}
		if err := p.writer.Write(batch); err != nil {
			p.setErr(fmt.Errorf("write batch of %d: %w", len(batch), err))
			return false
		}
		p.metrics.AddWritten(len(batch))
		batch = batch[:0]
		return true
	}

	for {
		select {
		case item, ok := <-p.itemCh:
			if !ok {
				flush()
				return
			}
			if prepared := p.prepare(item); prepared != nil {
				batch = append(batch, prepared)
			}
			if len(batch) >= p.batchSize && !flush() {
				return
			}
		case <-tick:
			if !flush() {
				return
			}
		}
	}
}

func (p *Pipeline) prepare(item *models.Harvest) *models.Harvest {
	if item.Identifier == "" || item.Source == "" {
		p.metrics.IncSinkRejected("invalid_record")
		return nil
	}
	if err := parser.ValidateProduct(&item.Product); err != nil {
		p.logger.Warn("dropping invalid harvest",
			slog.String("identifier", item.Identifier),
			slog.Any("error", err),
		)
		p.metrics.IncSinkRejected("invalid_record")
		return nil
	}

	key := item.Source + "/" + item.Identifier
	p.seenMu.Lock()
	if _, ok := p.seen[key]; ok {
		p.seenMu.Unlock()
		p.metrics.IncSinkRejected("duplicate_identifier")
		return nil
	}
	p.seen[key] = struct{}{}
	p.seenMu.Unlock()

	if item.Reviews == nil {
		item.Reviews = []models.Review{}
	}

	return item
}

func (p *Pipeline) enqueue(item *models.Harvest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case p.itemCh <- item:
		return nil
	}
}

func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return
	}
	p.err = err
	p.closed = true
	p.mu.Unlock()

	p.logger.Error("pipeline stopped", slog.Any("error", err))
	p.signalShutdown()
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}
