package pipeline

import (
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/aluiziolira/reviewharvest/metrics"
	"github.com/aluiziolira/reviewharvest/models"
)

type mockWriter struct {
	mu          sync.Mutex
	batches     [][]*models.Harvest
	closed      bool
	validateErr error
}

func (mw *mockWriter) Write(items []*models.Harvest) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	copyBatch := make([]*models.Harvest, len(items))
	copy(copyBatch, items)
	mw.batches = append(mw.batches, copyBatch)
	return nil
}

func (mw *mockWriter) Close() error {
	mw.mu.Lock()
	mw.closed = true
	mw.mu.Unlock()
	return nil
}

func (mw *mockWriter) Validate() error {
	return mw.validateErr
}

func (mw *mockWriter) totalWritten() int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	total := 0
	for _, batch := range mw.batches {
		total += len(batch)
	}
	return total
}

func (mw *mockWriter) batchSizes() []int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	sizes := make([]int, 0, len(mw.batches))
	for _, batch := range mw.batches {
		sizes = append(sizes, len(batch))
	}
	return sizes
}

type blockingWriter struct {
	blockCh chan struct{}
}

func (bw *blockingWriter) Write(items []*models.Harvest) error {
	<-bw.blockCh
	return nil
}

func (bw *blockingWriter) Close() error {
	return nil
}

func (bw *blockingWriter) Validate() error {
	return nil
}

type failingWriter struct{ mockWriter }

func (fw *failingWriter) Write(items []*models.Harvest) error {
	return errors.New("disk full")
}

func harvest(id string) *models.Harvest {
	return &models.Harvest{
		Identifier: id,
		Source:     "amazon",
		Product: models.Product{
			IdentifierCode:  id,
			Name:            "Kettle " + id,
			BasePrice:       49.99,
			FinalPrice:      39.99,
			InventoryStatus: "In Stock",
		},
		Reviews: []models.Review{},
	}
}

func TestPipelineProcessValidationAndDedup(t *testing.T) {
	writer := &mockWriter{}
	p := NewPipeline(writer, Options{})
	p.Start(1)

	valid := harvest("B0001")
	invalid := harvest("B0002")
	invalid.Product.Name = ""
	duplicate := harvest("B0001")
	otherSource := harvest("B0001")
	otherSource.Source = "walmart"
	noReviews := harvest("B0003")
	noReviews.Reviews = nil

	if err := p.Process(valid, invalid, duplicate, otherSource, noReviews); err != nil {
		t.Fatalf("process: %v", err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := writer.totalWritten(); got != 3 {
		t.Fatalf("written harvests = %d, want 3", got)
	}
	if noReviews.Reviews == nil {
		t.Fatalf("nil reviews were not replaced with an empty slice")
	}

	written, rejected := p.Counts()
	if rejected["invalid_record"] != 1 {
		t.Fatalf("invalid_record = %d, want 1", rejected["invalid_record"])
	}
	if rejected["duplicate_identifier"] != 1 {
		t.Fatalf("duplicate_identifier = %d, want 1", rejected["duplicate_identifier"])
	}
	if written != 3 {
		t.Fatalf("written = %d, want 3", written)
	}
}

func TestPipelineRecordsToSharedMetrics(t *testing.T) {
	m := metrics.New()
	writer := &mockWriter{}
	p := NewPipeline(writer, Options{Metrics: m, BatchSize: 2})
	p.Start(1)

	invalid := harvest("B0002")
	invalid.Source = ""
	if err := p.Process(harvest("B0001"), harvest("B0001"), invalid, harvest("B0003")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := testutil.ToFloat64(m.HarvestsWritten); got != 2 {
		t.Fatalf("written counter = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.SinkRejected.WithLabelValues("duplicate_identifier")); got != 1 {
		t.Fatalf("duplicate counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SinkRejected.WithLabelValues("invalid_record")); got != 1 {
		t.Fatalf("invalid counter = %v, want 1", got)
	}
}

func TestPipelineBatchFlushThreshold(t *testing.T) {
	writer := &mockWriter{}
	p := NewPipeline(writer, Options{BatchSize: 8})
	p.Start(1)

	for i := 0; i < 9; i++ {
		if err := p.Process(harvest("B" + strconv.Itoa(i))); err != nil {
			t.Fatalf("process: %v", err)
		}
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	sizes := writer.batchSizes()
	if len(sizes) != 2 {
		t.Fatalf("batch writes = %d, want 2", len(sizes))
	}
	if sizes[0] != 8 || sizes[1] != 1 {
		t.Fatalf("batch sizes = %v, want [8 1]", sizes)
	}
}

func TestPipelineFlushInterval(t *testing.T) {
	writer := &mockWriter{}
	p := NewPipeline(writer, Options{BatchSize: 16, FlushInterval: 10 * time.Millisecond})
	p.Start(1)
	t.Cleanup(func() { _ = p.Close() })

	if err := p.Process(harvest("B0001")); err != nil {
		t.Fatalf("process: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for writer.totalWritten() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("partial batch not flushed before Close")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if sizes := writer.batchSizes(); len(sizes) != 1 || sizes[0] != 1 {
		t.Fatalf("batch sizes = %v, want [1]", sizes)
	}
}

func TestPipelineCloseDrainsPendingItems(t *testing.T) {
	writer := &mockWriter{}
	p := NewPipeline(writer, Options{})
	p.Start(2)

	for i := 0; i < 100; i++ {
		if err := p.Process(harvest("B" + strconv.Itoa(i+200))); err != nil {
			t.Fatalf("process: %v", err)
		}
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := writer.totalWritten(); got != 100 {
		t.Fatalf("written harvests = %d, want 100", got)
	}
	if err := p.Process(harvest("late")); !errors.Is(err, ErrPipelineClosed) {
		t.Fatalf("process after close = %v, want ErrPipelineClosed", err)
	}
}

func TestPipelineWriteErrorSurfaces(t *testing.T) {
	p := NewPipeline(&failingWriter{}, Options{BatchSize: 1})
	p.Start(1)

	if err := p.Process(harvest("B1")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err == nil {
		t.Fatalf("expected write error from close")
	}
}

func TestPipelineCloseTimeout(t *testing.T) {
	writer := &blockingWriter{blockCh: make(chan struct{})}
	p := NewPipeline(writer, Options{BatchSize: 1})
	p.Start(1)

	if err := p.Process(harvest("blocked")); err != nil {
		t.Fatalf("process: %v", err)
	}

	previousTimeout := drainTimeout
	drainTimeout = 25 * time.Millisecond
	t.Cleanup(func() {
		drainTimeout = previousTimeout
		close(writer.blockCh)
	})

	if err := p.Close(); err == nil || !errors.Is(err, ErrPipelineCloseTimeout) {
		t.Fatalf("expected close timeout error, got %v", err)
	}
}
