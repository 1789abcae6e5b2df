package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/skeetgame-ingest/internal/domain"
)

type memRecords struct {
	recs  map[string]*domain.RateLimitRecord
	saves int
}

func newMemRecords() *memRecords {
	return &memRecords{recs: make(map[string]*domain.RateLimitRecord)}
}

func (m *memRecords) RateLimit(ctx context.Context, did string) (*domain.RateLimitRecord, error) {
	return m.recs[did], nil
}

func (m *memRecords) SaveRateLimit(ctx context.Context, rec *domain.RateLimitRecord) error {
	m.recs[rec.DID] = rec
	m.saves++
	return nil
}

func newTestLimiter(records Records) (*Limiter, *time.Time) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := New(records, 3, 5*time.Minute, 4, logger)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestFirstCommandPermitted(t *testing.T) {
	records := newMemRecords()
	records.recs["did:plc:alice"] = &domain.RateLimitRecord{DID: "did:plc:alice"}
	l, _ := newTestLimiter(records)

	ok, err := l.Allow(context.Background(), "did:plc:alice")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if !ok {
		t.Fatal("first command denied")
	}
	rec := records.recs["did:plc:alice"]
	if rec.Count != 1 {
		t.Fatalf("count = %d, want 1", rec.Count)
	}
	if rec.WindowStart.IsZero() {
		t.Fatal("window not opened")
	}
	if records.saves != 1 {
		t.Fatalf("saves = %d, want 1", records.saves)
	}
}

func TestDeniedWithoutRecord(t *testing.T) {
	l, _ := newTestLimiter(newMemRecords())

	ok, err := l.Allow(context.Background(), "did:plc:stranger")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if ok {
		t.Fatal("identifier with no record was permitted")
	}
}

func TestOverLimitEscalatesToAbusive(t *testing.T) {
	records := newMemRecords()
	records.recs["did:plc:alice"] = &domain.RateLimitRecord{DID: "did:plc:alice"}
	l, now := newTestLimiter(records)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if ok, _ := l.Allow(ctx, "did:plc:alice"); !ok {
			t.Fatalf("command %d inside the limit denied", i+1)
		}
	}

	// The fourth command inside the window is over the limit
	ok, err := l.Allow(ctx, "did:plc:alice")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if ok {
		t.Fatal("over-limit command permitted")
	}
	rec := records.recs["did:plc:alice"]
	if rec.Count != 3 {
		t.Fatalf("count = %d, want 3 (denials must not increment)", rec.Count)
	}
	if rec.OverLimitAttempts != 1 {
		t.Fatalf("overLimitAttempts = %d, want 1", rec.OverLimitAttempts)
	}

	for i := 0; i < 3; i++ {
		l.Allow(ctx, "did:plc:alice")
	}
	if !rec.Abusive {
		t.Fatalf("not abusive after %d over-limit attempts", rec.OverLimitAttempts)
	}

	// Abusive survives window expiry
	*now = now.Add(time.Hour)
	if ok, _ := l.Allow(ctx, "did:plc:alice"); ok {
		t.Fatal("abusive identifier permitted after window expiry")
	}
}

func TestWindowExpiryResets(t *testing.T) {
	records := newMemRecords()
	records.recs["did:plc:alice"] = &domain.RateLimitRecord{DID: "did:plc:alice"}
	l, now := newTestLimiter(records)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		l.Allow(ctx, "did:plc:alice")
	}
	rec := records.recs["did:plc:alice"]
	if rec.OverLimitAttempts != 1 {
		t.Fatalf("overLimitAttempts = %d, want 1", rec.OverLimitAttempts)
	}

	*now = now.Add(6 * time.Minute)
	ok, err := l.Allow(ctx, "did:plc:alice")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if !ok {
		t.Fatal("command after window expiry denied")
	}
	if rec.Count != 1 {
		t.Fatalf("count = %d after reset, want 1", rec.Count)
	}
	if rec.OverLimitAttempts != 0 {
		t.Fatalf("overLimitAttempts = %d after reset, want 0", rec.OverLimitAttempts)
	}
}

func TestEveryTransitionPersists(t *testing.T) {
	records := newMemRecords()
	records.recs["did:plc:alice"] = &domain.RateLimitRecord{DID: "did:plc:alice"}
	l, _ := newTestLimiter(records)
	ctx := context.Background()

	// 3 permits + 2 denials: all five decisions mutate state
	for i := 0; i < 5; i++ {
		l.Allow(ctx, "did:plc:alice")
	}
	if records.saves != 5 {
		t.Fatalf("saves = %d, want 5", records.saves)
	}
}
