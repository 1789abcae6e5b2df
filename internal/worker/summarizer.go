package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/skeetgame-ingest/internal/config"
	"github.com/skeetgame-ingest/internal/domain"
)

// Source provides the event records and aggregation the worker drives
type Source interface {
	FlushEvents(ctx context.Context) error
	Summarize(ctx context.Context, window time.Duration) ([]domain.EventSummary, error)
	RollupDaily(ctx context.Context, window time.Duration) (*domain.EventSummary, error)
}

// Sink receives freshly written summarization rows
type Sink interface {
	RecordSummaries(ctx context.Context, summaries []domain.EventSummary) error
}

// Summarizer periodically flushes buffered event records, aggregates the
// trailing window into per-player summaries, and once a day folds the
// summaries into a single rollup row. Failures are logged; the next tick
// simply tries again.
type Summarizer struct {
	source Source
	sink   Sink
	cfg    config.SummaryConfig
	logger *slog.Logger
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSummarizer creates a Summarizer; sink may be nil when no live
// ranking is configured
func NewSummarizer(source Source, sink Sink, cfg config.SummaryConfig, logger *slog.Logger) *Summarizer {
	return &Summarizer{
		source: source,
		sink:   sink,
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the worker loop
func (s *Summarizer) Start() {
	go s.run()
	s.logger.Info("summarization worker started",
		"interval", s.cfg.Interval, "rollup_interval", s.cfg.RollupInterval)
}

// Stop signals the worker and waits for the loop to exit
func (s *Summarizer) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Summarizer) run() {
	defer close(s.doneCh)

	summarize := time.NewTicker(s.cfg.Interval)
	defer summarize.Stop()
	rollup := time.NewTicker(s.cfg.RollupInterval)
	defer rollup.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-summarize.C:
			s.runSummarize()
		case <-rollup.C:
			s.runRollup()
		}
	}
}

func (s *Summarizer) runSummarize() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := s.source.FlushEvents(ctx); err != nil {
		s.logger.Error("pre-summarize flush failed", "error", err)
		return
	}
	summaries, err := s.source.Summarize(ctx, s.cfg.Window)
	if err != nil {
		s.logger.Error("summarization failed", "error", err)
		return
	}
	if len(summaries) == 0 {
		return
	}
	s.logger.Info("summarization run complete", "players", len(summaries))

	if s.sink == nil {
		return
	}
	if err := s.sink.RecordSummaries(ctx, summaries); err != nil {
		s.logger.Error("leaderboard update failed", "error", err)
	}
}

func (s *Summarizer) runRollup() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	summary, err := s.source.RollupDaily(ctx, s.cfg.RollupWindow)
	if err != nil {
		s.logger.Error("daily rollup failed", "error", err)
		return
	}
	if summary == nil {
		return
	}
	s.logger.Info("daily rollup complete",
		"posts", summary.Posts, "replies", summary.Replies, "likes", summary.Likes)
}
