package models

import (
	"errors"
	"sync"
	"testing"
)

func TestSummaryCounts(t *testing.T) {
	s := NewSummary("walmart")
	s.Record(Outcome{Identifier: "a", Position: 0, Status: StatusSucceeded, Reviews: 7})
	s.Record(Outcome{Identifier: "b", Position: 1, Status: StatusNoReviews})
	s.Record(Outcome{Identifier: "c", Position: 2, Status: StatusFailed, Err: errors.New("boom")})
	s.Record(Outcome{Identifier: "d", Position: 3, Status: StatusSucceeded, Reviews: 3})

	if got := s.Count(StatusSucceeded); got != 2 {
		t.Fatalf("succeeded = %d, want 2", got)
	}
	if got := s.Count(StatusNoReviews); got != 1 {
		t.Fatalf("no_reviews = %d, want 1", got)
	}
	if got := s.Count(StatusFailed); got != 1 {
		t.Fatalf("failed = %d, want 1", got)
	}
	if got := s.TotalReviews(); got != 10 {
		t.Fatalf("total reviews = %d, want 10", got)
	}

	outcomes := s.Outcomes()
	outcomes[0].Identifier = "mutated"
	if s.Outcomes()[0].Identifier != "a" {
		t.Fatalf("Outcomes should return a copy")
	}
}

func TestSummaryFailKeepsFirstError(t *testing.T) {
	s := NewSummary("amazon")
	first := errors.New("session lost")
	s.Fail(first)
	s.Fail(errors.New("later"))
	if !errors.Is(s.Err(), first) {
		t.Fatalf("Err = %v, want first error", s.Err())
	}

	s.Finish()
	if s.EndTime.Before(s.StartTime) {
		t.Fatalf("end time before start time")
	}
}

func TestSummaryConcurrentRecord(t *testing.T) {
	s := NewSummary("bestbuy")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(pos int) {
			defer wg.Done()
			s.Record(Outcome{Position: pos, Status: StatusSucceeded, Reviews: 1})
		}(i)
	}
	wg.Wait()
	if got := s.TotalReviews(); got != 50 {
		t.Fatalf("total reviews = %d, want 50", got)
	}
}
