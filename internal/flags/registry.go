package flags

import (
	"context"
	"log/slog"
	"time"

	"github.com/skeetgame-ingest/internal/domain"
)

// Handler inspects a profile snapshot and decides whether its flag
// should be present. A non-empty note means set, empty means clear.
type Handler interface {
	Name() string
	Evaluate(ctx context.Context, profile *domain.ProfileSnapshot) (note string, set bool, err error)
}

// Registry runs flag handlers over profile snapshots and folds the
// results into a player's flag list.
type Registry struct {
	handlers []Handler
	logger   *slog.Logger
}

// NewRegistry creates an empty flag Registry
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register appends a handler; evaluation order follows registration order
func (r *Registry) Register(h Handler) {
	r.handlers = append(r.handlers, h)
}

// ExecuteAll evaluates every handler against the profile and applies the
// verdicts to the flag list. A failing handler is logged and skipped; it
// neither sets nor clears its flag. Returns whether anything changed.
func (r *Registry) ExecuteAll(ctx context.Context, profile *domain.ProfileSnapshot, flags *domain.ProfileFlags) bool {
	changed := false
	for _, h := range r.handlers {
		note, set, err := h.Evaluate(ctx, profile)
		if err != nil {
			r.logger.Warn("flag handler failed", "flag", h.Name(), "did", profile.DID, "error", err)
			continue
		}
		if set {
			prev, had := flags.Get(h.Name())
			flags.Upsert(domain.ProfileFlag{Name: h.Name(), Note: note, SetAt: time.Now()})
			if !had || prev.Note != note {
				changed = true
			}
		} else if flags.Remove(h.Name()) {
			changed = true
		}
	}
	return changed
}
