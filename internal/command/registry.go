package command

import (
	"context"
	"log/slog"

	"github.com/skeetgame-ingest/internal/bsky"
	"github.com/skeetgame-ingest/internal/domain"
	"github.com/skeetgame-ingest/internal/repo"
)

// Poster is the posting capability handed to command handlers
type Poster interface {
	Reply(ctx context.Context, text string, parent, root bsky.StrongRef) error
}

// Threads fetches thread ancestry for commands that need it
type Threads interface {
	GetThread(ctx context.Context, uri string) (*bsky.Thread, error)
}

// Limiter gates command execution per player
type Limiter interface {
	Allow(ctx context.Context, did string) (bool, error)
}

// HandlerSpec declares what a handler needs before it runs
type HandlerSpec struct {
	RequiresTarget bool
	ExpectedParams int
	RequiresThread bool
}

// Context is the bundle a handler executes against
type Context struct {
	Initiator *domain.Player
	Target    *domain.Player
	Thread    *bsky.Thread
	Source    *bsky.CommitEvent
}

// Handler is the contract for pluggable game commands
type Handler interface {
	Spec() HandlerSpec
	Execute(ctx context.Context, c *Context, players *repo.Repository, params []string, poster Poster) error
}

// Registry holds command handlers and runs the validation pipeline in
// front of them. Invalid or rate-limited invocations are dropped with a
// log line and no user-visible effect.
type Registry struct {
	handlers map[string]Handler
	players  *repo.Repository
	threads  Threads
	poster   Poster
	limiter  Limiter
	logger   *slog.Logger
}

// NewRegistry creates an empty Registry
func NewRegistry(players *repo.Repository, threads Threads, poster Poster, limiter Limiter, logger *slog.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		players:  players,
		threads:  threads,
		poster:   poster,
		limiter:  limiter,
		logger:   logger,
	}
}

// Register adds a handler under a command name
func (r *Registry) Register(name string, h Handler) {
	r.handlers[name] = h
}

// Names returns the registered command names, for parser construction
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Dispatch validates and executes one parsed invocation from a player.
// Every abort path is silent to the player.
func (r *Registry) Dispatch(ctx context.Context, did, text string, source *bsky.CommitEvent, parser *Parser) {
	parsed := parser.Parse(text)
	if parsed.Command == "" {
		return
	}

	allowed, err := r.limiter.Allow(ctx, did)
	if err != nil {
		r.logger.Error("rate limit check failed", "did", did, "error", err)
		return
	}
	if !allowed {
		r.logger.Debug("command rate limited", "did", did, "command", parsed.Command)
		return
	}

	handler, ok := r.handlers[parsed.Command]
	if !ok {
		r.logger.Debug("no handler for command", "command", parsed.Command)
		return
	}
	spec := handler.Spec()

	initiator, err := r.players.Player(ctx, did)
	if err != nil || initiator == nil {
		r.logger.Warn("command from unknown player", "did", did, "error", err)
		return
	}

	c := &Context{Initiator: initiator, Source: source}

	if spec.RequiresTarget {
		if parsed.Target == "" {
			r.logger.Debug("command missing required target", "command", parsed.Command, "did", did)
			return
		}
		targetDID, err := r.players.ResolveDID(ctx, parsed.Target)
		if err != nil || targetDID == "" {
			r.logger.Debug("target resolution failed", "target", parsed.Target, "error", err)
			return
		}
		target, err := r.players.Player(ctx, targetDID)
		if err != nil || target == nil {
			r.logger.Debug("target is not a player", "target", parsed.Target, "did", targetDID)
			return
		}
		c.Target = target
	}

	if len(parsed.Params) < spec.ExpectedParams {
		r.logger.Debug("command short on parameters", "command", parsed.Command,
			"got", len(parsed.Params), "want", spec.ExpectedParams)
		return
	}

	if spec.RequiresThread {
		if source == nil {
			r.logger.Debug("command needs thread but has no source event", "command", parsed.Command)
			return
		}
		thread, err := r.threads.GetThread(ctx, source.RecordURI())
		if err != nil || thread == nil {
			r.logger.Debug("thread unavailable", "command", parsed.Command, "error", err)
			return
		}
		c.Thread = thread
	}

	if err := handler.Execute(ctx, c, r.players, parsed.Params, r.poster); err != nil {
		r.logger.Error("command handler failed", "command", parsed.Command, "did", did, "error", err)
	}
}
