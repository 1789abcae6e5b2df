package bus

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skeetgame-ingest/internal/bsky"
)

// Kind names one of the closed set of event kinds the bus carries
type Kind string

const (
	PlayerActive    Kind = "player.active"
	PlayerInactive  Kind = "player.inactive"
	PlayerSetStatus Kind = "player.setstatus"
	CommandIssued   Kind = "player.command"
)

var validKinds = map[Kind]struct{}{
	PlayerActive:    {},
	PlayerInactive:  {},
	PlayerSetStatus: {},
	CommandIssued:   {},
}

// Valid reports whether k belongs to the closed kind set
func (k Kind) Valid() bool {
	_, ok := validKinds[k]
	return ok
}

// Event is one typed notification flowing through the bus
type Event struct {
	Kind   Kind              `json:"kind"`
	DID    string            `json:"did"`
	Arg    string            `json:"arg,omitempty"`
	Text   string            `json:"text,omitempty"`
	Source *bsky.CommitEvent `json:"-"`
	Time   time.Time         `json:"time"`
}

// Handler consumes one event; handlers run sequentially on the bus
// goroutine, so a slow handler delays the rest.
type Handler func(Event)

// Bus is an in-process dispatcher with a bounded queue. Emit never blocks:
// when the queue is full the event is dropped and logged.
type Bus struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[Kind][]Handler

	queue  chan Event
	doneCh chan struct{}
}

// New creates a Bus with the given queue depth; zero means 256
func New(depth int, logger *slog.Logger) *Bus {
	if depth <= 0 {
		depth = 256
	}
	return &Bus{
		logger:   logger,
		handlers: make(map[Kind][]Handler),
		queue:    make(chan Event, depth),
		doneCh:   make(chan struct{}),
	}
}

// Subscribe registers a handler for a kind. Unknown kinds are rejected so
// typos fail at wiring time instead of silently never firing.
func (b *Bus) Subscribe(kind Kind, h Handler) error {
	if !kind.Valid() {
		return fmt.Errorf("subscribing to unknown event kind %q", kind)
	}
	b.mu.Lock()
	b.handlers[kind] = append(b.handlers[kind], h)
	b.mu.Unlock()
	return nil
}

// Emit enqueues an event without blocking the caller
func (b *Bus) Emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	select {
	case b.queue <- ev:
	default:
		b.logger.Warn("event bus queue full, dropping event", "kind", ev.Kind, "did", ev.DID)
	}
}

// Run drains the queue until Stop is called
func (b *Bus) Run() {
	defer close(b.doneCh)
	for ev := range b.queue {
		b.mu.RLock()
		handlers := b.handlers[ev.Kind]
		b.mu.RUnlock()
		for _, h := range handlers {
			h(ev)
		}
	}
}

// Stop closes the queue and waits for in-flight handlers to finish
func (b *Bus) Stop() {
	close(b.queue)
	<-b.doneCh
}
