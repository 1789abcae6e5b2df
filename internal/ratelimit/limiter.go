package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/skeetgame-ingest/internal/domain"
)

// Records is the persistence surface the limiter needs. Every state
// transition is written back so the sliding window survives restarts.
type Records interface {
	RateLimit(ctx context.Context, did string) (*domain.RateLimitRecord, error)
	SaveRateLimit(ctx context.Context, rec *domain.RateLimitRecord) error
}

// Limiter enforces a per-player sliding command window with a sticky
// abusive state: a player who keeps hammering past the limit is shut out
// until the record is reset out of band.
type Limiter struct {
	records        Records
	logger         *slog.Logger
	maxCommands    int
	window         time.Duration
	abuseThreshold int
	now            func() time.Time
}

// New creates a Limiter over the given record store
func New(records Records, maxCommands int, window time.Duration, abuseThreshold int, logger *slog.Logger) *Limiter {
	return &Limiter{
		records:        records,
		logger:         logger,
		maxCommands:    maxCommands,
		window:         window,
		abuseThreshold: abuseThreshold,
		now:            time.Now,
	}
}

// Allow decides whether the player may run another command right now and
// persists the updated record. A player with no record is denied: limits
// are provisioned during onboarding, so an absent record means the caller
// skipped it.
func (l *Limiter) Allow(ctx context.Context, did string) (bool, error) {
	rec, err := l.records.RateLimit(ctx, did)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	if rec.Abusive {
		return false, nil
	}

	now := l.now()

	// Fresh record: open the window with this command
	if rec.WindowStart.IsZero() {
		rec.WindowStart = now
		rec.Count = 1
		return true, l.records.SaveRateLimit(ctx, rec)
	}

	// Window expired: reset and permit
	if now.Sub(rec.WindowStart) > l.window {
		rec.WindowStart = now
		rec.Count = 1
		rec.OverLimitAttempts = 0
		return true, l.records.SaveRateLimit(ctx, rec)
	}

	if rec.Count < l.maxCommands {
		rec.Count++
		return true, l.records.SaveRateLimit(ctx, rec)
	}

	// Over the limit inside the window: count the attempt and escalate
	// to abusive once the threshold is crossed
	rec.OverLimitAttempts++
	if rec.OverLimitAttempts >= l.abuseThreshold {
		rec.Abusive = true
		l.logger.Warn("player marked abusive", "did", did, "attempts", rec.OverLimitAttempts)
	}
	return false, l.records.SaveRateLimit(ctx, rec)
}
