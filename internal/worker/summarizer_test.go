package worker

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/skeetgame-ingest/internal/config"
	"github.com/skeetgame-ingest/internal/domain"
)

type fakeSource struct {
	mu        sync.Mutex
	flushes   int
	runs      int
	rollups   int
	summaries []domain.EventSummary
	flushErr  error
}

func (s *fakeSource) FlushEvents(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return s.flushErr
}

func (s *fakeSource) Summarize(ctx context.Context, window time.Duration) ([]domain.EventSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs++
	return s.summaries, nil
}

func (s *fakeSource) RollupDaily(ctx context.Context, window time.Duration) (*domain.EventSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollups++
	return &domain.EventSummary{DID: domain.DailySummaryDID, Posts: 5}, nil
}

func (s *fakeSource) counts() (int, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes, s.runs, s.rollups
}

type fakeSink struct {
	mu       sync.Mutex
	received [][]domain.EventSummary
}

func (s *fakeSink) RecordSummaries(ctx context.Context, summaries []domain.EventSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, summaries)
	return nil
}

func (s *fakeSink) batches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSummarizeFlushesThenAggregates(t *testing.T) {
	source := &fakeSource{summaries: []domain.EventSummary{{DID: "did:plc:alice", Posts: 2}}}
	sink := &fakeSink{}
	s := NewSummarizer(source, sink, config.SummaryConfig{
		Interval:       10 * time.Millisecond,
		Window:         28 * time.Minute,
		RollupInterval: time.Hour,
		RollupWindow:   24 * time.Hour,
	}, testLogger())

	s.Start()
	deadline := time.Now().Add(time.Second)
	for sink.batches() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	flushes, runs, _ := source.counts()
	if flushes == 0 || runs == 0 {
		t.Fatalf("flushes = %d, runs = %d, want both > 0", flushes, runs)
	}
	if flushes < runs {
		t.Fatalf("flushes = %d < runs = %d; every run must flush first", flushes, runs)
	}
	if sink.batches() == 0 {
		t.Fatal("sink never received summaries")
	}
}

func TestSummarizeSkipsSinkWhenEmpty(t *testing.T) {
	source := &fakeSource{}
	sink := &fakeSink{}
	s := NewSummarizer(source, sink, config.SummaryConfig{
		Interval:       10 * time.Millisecond,
		Window:         28 * time.Minute,
		RollupInterval: time.Hour,
		RollupWindow:   24 * time.Hour,
	}, testLogger())

	s.Start()
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	if _, runs, _ := source.counts(); runs == 0 {
		t.Fatal("no summarization runs happened")
	}
	if sink.batches() != 0 {
		t.Fatal("sink called with empty summaries")
	}
}

func TestFlushFailureSkipsSummarize(t *testing.T) {
	source := &fakeSource{flushErr: context.DeadlineExceeded}
	s := NewSummarizer(source, nil, config.SummaryConfig{
		Interval:       10 * time.Millisecond,
		Window:         28 * time.Minute,
		RollupInterval: time.Hour,
		RollupWindow:   24 * time.Hour,
	}, testLogger())

	s.Start()
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	flushes, runs, _ := source.counts()
	if flushes == 0 {
		t.Fatal("flush never attempted")
	}
	if runs != 0 {
		t.Fatalf("summarize ran %d times despite flush failures", runs)
	}
}

func TestRollupTick(t *testing.T) {
	source := &fakeSource{}
	s := NewSummarizer(source, nil, config.SummaryConfig{
		Interval:       time.Hour,
		Window:         28 * time.Minute,
		RollupInterval: 10 * time.Millisecond,
		RollupWindow:   24 * time.Hour,
	}, testLogger())

	s.Start()
	deadline := time.Now().Add(time.Second)
	for {
		if _, _, rollups := source.counts(); rollups > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	if _, _, rollups := source.counts(); rollups == 0 {
		t.Fatal("rollup never ran")
	}
}
