package models

import (
	"sync"
	"time"
)

// Status describes how a single identifier ended.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusNoReviews Status = "no_reviews"
	StatusFailed    Status = "failed"
)

// Outcome records the result of one identifier in the batch.
type Outcome struct {
	Identifier string
	Position   int
	Status     Status
	Reviews    int
	Err        error
}

// Summary aggregates the outcomes of a run. It is safe for concurrent use and
// complete once the run's result sequence has been fully consumed.
type Summary struct {
	Source    string
	StartTime time.Time
	EndTime   time.Time

	mu       sync.Mutex
	outcomes []Outcome
	fatal    error
}

// NewSummary starts a summary for source.
func NewSummary(source string) *Summary {
	return &Summary{Source: source, StartTime: time.Now()}
}

// Record appends an outcome.
func (s *Summary) Record(o Outcome) {
	s.mu.Lock()
	s.outcomes = append(s.outcomes, o)
	s.mu.Unlock()
}

// Fail marks the run as aborted.
func (s *Summary) Fail(err error) {
	s.mu.Lock()
	if s.fatal == nil {
		s.fatal = err
	}
	s.mu.Unlock()
}

// Finish stamps the end time.
func (s *Summary) Finish() {
	s.mu.Lock()
	s.EndTime = time.Now()
	s.mu.Unlock()
}

// Err returns the error that aborted the run, if any.
func (s *Summary) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

// Outcomes returns a copy of every recorded outcome.
func (s *Summary) Outcomes() []Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Outcome, len(s.outcomes))
	copy(out, s.outcomes)
	return out
}

// Count returns how many identifiers ended with status.
func (s *Summary) Count(status Status) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, o := range s.outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// TotalReviews sums reviews over successful identifiers.
func (s *Summary) TotalReviews() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, o := range s.outcomes {
		n += o.Reviews
	}
	return n
}
