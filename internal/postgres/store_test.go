package postgres

import (
	"testing"
	"time"

	"github.com/skeetgame-ingest/internal/domain"
)

func TestWindowBounds(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	runTime, cutoff := windowBounds(now, 24*time.Hour)

	if runTime != now.UnixMilli() {
		t.Fatalf("runTime = %d, want %d", runTime, now.UnixMilli())
	}
	if got, want := runTime-cutoff, (24 * time.Hour).Milliseconds(); got != want {
		t.Fatalf("window span = %dms, want %dms", got, want)
	}
	if cutoff >= runTime {
		t.Fatal("cutoff not strictly before run time")
	}
}

func TestRollupSummariesSumsPerKind(t *testing.T) {
	runTime := time.UnixMilli(1_700_000_000_000).UnixMilli()
	rows := []domain.EventSummary{
		{DID: "did:plc:alice", Posts: 3, Replies: 1, Likes: 5},
		{DID: "did:plc:bob", Posts: 2, Replies: 4, Likes: 0},
		{DID: "did:plc:alice", Posts: 1, Replies: 0, Likes: 2},
	}

	agg, ok := rollupSummaries(rows, runTime)
	if !ok {
		t.Fatal("rollup of non-empty rows reported nothing to do")
	}
	if agg.DID != domain.DailySummaryDID {
		t.Fatalf("aggregate did = %q, want %q", agg.DID, domain.DailySummaryDID)
	}
	if agg.Posts != 6 || agg.Replies != 5 || agg.Likes != 7 {
		t.Fatalf("aggregate counts = %d/%d/%d, want 6/5/7", agg.Posts, agg.Replies, agg.Likes)
	}
	if agg.RunTime.UnixMilli() != runTime {
		t.Fatalf("aggregate run time = %d, want %d", agg.RunTime.UnixMilli(), runTime)
	}
	if agg.Total() != 18 {
		t.Fatalf("aggregate total = %d, want 18", agg.Total())
	}
}

func TestRollupSummariesEmpty(t *testing.T) {
	if _, ok := rollupSummaries(nil, time.Now().UnixMilli()); ok {
		t.Fatal("empty rollup reported work")
	}
}
