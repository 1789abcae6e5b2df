package ingest

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/skeetgame-ingest/internal/bsky"
	"github.com/skeetgame-ingest/internal/bus"
	"github.com/skeetgame-ingest/internal/config"
	"github.com/skeetgame-ingest/internal/domain"
	"github.com/skeetgame-ingest/internal/flags"
	"github.com/skeetgame-ingest/internal/repo"
	"github.com/skeetgame-ingest/internal/tracker"
)

// Feed delivers commit events in order until the context is canceled
type Feed interface {
	Run(ctx context.Context, fn func(*bsky.CommitEvent)) error
}

// Engine consumes the commit feed and turns raw posts and likes into
// activity refreshes, event records, status changes and bus events. An
// error in one event never stops the feed.
type Engine struct {
	feed    Feed
	players *repo.Repository
	tracker *tracker.Tracker
	bus     *bus.Bus
	flags   *flags.Registry
	cfg     config.IngestConfig
	handle  string
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool
	flips   sync.WaitGroup
}

// New creates an Engine over the given feed and collaborators. A nil
// flag registry disables profile flag evaluation.
func New(feed Feed, players *repo.Repository, t *tracker.Tracker, b *bus.Bus, fr *flags.Registry, cfg config.IngestConfig, triggerHandle string, logger *slog.Logger) *Engine {
	return &Engine{
		feed:    feed,
		players: players,
		tracker: t,
		bus:     b,
		flags:   fr,
		cfg:     cfg,
		handle:  triggerHandle,
		logger:  logger,
		pending: make(map[string]*time.Timer),
	}
}

// Run consumes the feed and drives the inactivity sweep until the
// context is canceled. The caller flushes buffered writes afterwards.
func (e *Engine) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.sweep(ctx)
	}()

	err := e.feed.Run(ctx, func(ev *bsky.CommitEvent) {
		e.handleEvent(ctx, ev)
	})

	wg.Wait()
	e.cancelPending()
	return err
}

func (e *Engine) handleEvent(ctx context.Context, ev *bsky.CommitEvent) {
	switch ev.Commit.Collection {
	case bsky.CollectionPost:
		e.handlePost(ctx, ev)
	case bsky.CollectionLike:
		e.handleLike(ctx, ev)
	}
}

func (e *Engine) handlePost(ctx context.Context, ev *bsky.CommitEvent) {
	post, err := ev.DecodePost()
	if err != nil {
		e.logger.Debug("undecodable post record", "did", ev.DID, "error", err)
		return
	}

	if strings.HasPrefix(post.Text, e.cfg.TriggerSigil) {
		e.recognizeStatusCommand(ctx, ev.DID, post.Text)
	} else if strings.HasPrefix(post.Text, e.cfg.CommandSigil) && e.players.IsPlayerPlaying(ev.DID) {
		e.bus.Emit(bus.Event{Kind: bus.CommandIssued, DID: ev.DID, Text: post.Text, Source: ev})
	}

	if !e.players.IsPlayerPlaying(ev.DID) {
		return
	}
	e.tracker.Refresh(ev.DID)
	e.bus.Emit(bus.Event{Kind: bus.PlayerActive, DID: ev.DID})

	if post.HasLang(e.cfg.PrimaryLanguage) {
		kind := domain.EventKindPost
		if post.Reply != nil {
			kind = domain.EventKindReply
		}
		rec := domain.EventRecord{DID: ev.DID, Kind: kind, Time: ev.Time()}
		if err := e.players.InsertEvent(ctx, rec); err != nil {
			e.logger.Error("event record insert failed", "did", ev.DID, "kind", kind, "error", err)
		}
	}
}

func (e *Engine) handleLike(ctx context.Context, ev *bsky.CommitEvent) {
	if !e.players.IsPlayerPlaying(ev.DID) {
		return
	}
	e.tracker.Refresh(ev.DID)
	e.bus.Emit(bus.Event{Kind: bus.PlayerActive, DID: ev.DID})

	rec := domain.EventRecord{DID: ev.DID, Kind: domain.EventKindLike, Time: ev.Time()}
	if err := e.players.InsertEvent(ctx, rec); err != nil {
		e.logger.Error("event record insert failed", "did", ev.DID, "kind", domain.EventKindLike, "error", err)
	}
}

// recognizeStatusCommand matches posts whose first two tokens are the
// trigger handle and one argument word; trailing text is ignored. The
// status flip runs after a short delay so the triggering post is not
// itself counted as game activity; a second command from the same player
// replaces any pending flip instead of racing it.
func (e *Engine) recognizeStatusCommand(ctx context.Context, did, text string) {
	fields := strings.Fields(text)
	if len(fields) < 2 || !strings.EqualFold(fields[0], e.handle) {
		return
	}
	arg := strings.ToLower(fields[1])
	status, ok := domain.ParseStatus(arg)
	if !ok {
		return
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if prev, ok := e.pending[did]; ok {
		prev.Stop()
	}
	e.pending[did] = time.AfterFunc(e.cfg.StatusDelay, func() {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return
		}
		delete(e.pending, did)
		e.flips.Add(1)
		e.mu.Unlock()
		defer e.flips.Done()
		e.applyStatus(ctx, did, status, arg)
	})
	e.mu.Unlock()
}

func (e *Engine) applyStatus(ctx context.Context, did string, status domain.PlayerStatus, arg string) {
	if status == domain.StatusPlay {
		player, err := e.players.Player(ctx, did)
		if err != nil {
			e.logger.Error("player load failed during status change", "did", did, "error", err)
			return
		}
		if player == nil {
			if _, err := e.players.CreatePlayer(ctx, did); err != nil {
				e.logger.Error("player onboarding failed", "did", did, "error", err)
				return
			}
		}
		e.evaluateFlags(ctx, did)
	}
	if err := e.players.OverrideStatus(ctx, did, status); err != nil {
		e.logger.Error("status override failed", "did", did, "status", status, "error", err)
		return
	}
	if status != domain.StatusPlay {
		e.tracker.Forget(did)
	}
	e.bus.Emit(bus.Event{Kind: bus.PlayerSetStatus, DID: did, Arg: arg})
	e.logger.Info("player status changed", "did", did, "status", status)
}

// evaluateFlags reruns the flag handlers against the player's stored
// profile snapshot and persists the flag list when anything changed.
func (e *Engine) evaluateFlags(ctx context.Context, did string) {
	if e.flags == nil {
		return
	}
	profile, err := e.players.Profile(ctx, did)
	if err != nil || profile == nil {
		return
	}
	list, err := e.players.Flags(ctx, did)
	if err != nil {
		e.logger.Warn("flag list load failed", "did", did, "error", err)
		return
	}
	if list == nil {
		list = &domain.ProfileFlags{DID: did}
	}
	if e.flags.ExecuteAll(ctx, profile, list) {
		if err := e.players.SaveFlags(ctx, list); err != nil {
			e.logger.Error("flag list save failed", "did", did, "error", err)
		}
	}
}

func (e *Engine) sweep(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired := e.tracker.ClearInactive()
			for _, did := range expired {
				e.bus.Emit(bus.Event{Kind: bus.PlayerInactive, DID: did})
			}
			if len(expired) > 0 {
				e.logger.Info("inactivity sweep evicted players", "count", len(expired))
			}
		}
	}
}

// cancelPending stops every scheduled status flip and waits for flips
// already executing. A flip that fired but has not applied yet either
// completes before this returns or observes closed and backs out; no
// emission can happen after.
func (e *Engine) cancelPending() {
	e.mu.Lock()
	e.closed = true
	for did, timer := range e.pending {
		timer.Stop()
		delete(e.pending, did)
	}
	e.mu.Unlock()
	e.flips.Wait()
}
