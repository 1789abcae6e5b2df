package bus

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func newTestBus(depth int) *Bus {
	return New(depth, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSubscribeRejectsUnknownKind(t *testing.T) {
	b := newTestBus(4)
	if err := b.Subscribe("player.teleport", func(Event) {}); err == nil {
		t.Fatal("unknown kind accepted")
	}
	if err := b.Subscribe(PlayerActive, func(Event) {}); err != nil {
		t.Fatalf("valid kind rejected: %v", err)
	}
}

func TestKindValid(t *testing.T) {
	for _, kind := range []Kind{PlayerActive, PlayerInactive, PlayerSetStatus, CommandIssued} {
		if !kind.Valid() {
			t.Fatalf("kind %q reported invalid", kind)
		}
	}
	if Kind("player.teleport").Valid() {
		t.Fatal("unknown kind reported valid")
	}
}

func TestEmitRoutesByKind(t *testing.T) {
	b := newTestBus(16)

	var mu sync.Mutex
	var active, inactive []string

	b.Subscribe(PlayerActive, func(ev Event) {
		mu.Lock()
		active = append(active, ev.DID)
		mu.Unlock()
	})
	b.Subscribe(PlayerInactive, func(ev Event) {
		mu.Lock()
		inactive = append(inactive, ev.DID)
		mu.Unlock()
	})

	go b.Run()

	b.Emit(Event{Kind: PlayerActive, DID: "did:plc:alice"})
	b.Emit(Event{Kind: PlayerActive, DID: "did:plc:bob"})
	b.Emit(Event{Kind: PlayerInactive, DID: "did:plc:alice"})
	b.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(active) != 2 || active[0] != "did:plc:alice" || active[1] != "did:plc:bob" {
		t.Fatalf("active handler saw %v", active)
	}
	if len(inactive) != 1 || inactive[0] != "did:plc:alice" {
		t.Fatalf("inactive handler saw %v", inactive)
	}
}

func TestEmitStampsTime(t *testing.T) {
	b := newTestBus(4)

	var got Event
	done := make(chan struct{})
	b.Subscribe(PlayerSetStatus, func(ev Event) {
		got = ev
		close(done)
	})
	go b.Run()

	b.Emit(Event{Kind: PlayerSetStatus, DID: "did:plc:alice", Arg: "play"})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
	b.Stop()

	if got.Time.IsZero() {
		t.Fatal("event delivered without a timestamp")
	}
}

func TestEmitDropsWhenFull(t *testing.T) {
	b := newTestBus(1)
	// No Run loop: the queue fills and stays full
	b.Emit(Event{Kind: PlayerActive, DID: "did:plc:alice"})
	b.Emit(Event{Kind: PlayerActive, DID: "did:plc:bob"})

	if len(b.queue) != 1 {
		t.Fatalf("queue depth = %d, want 1", len(b.queue))
	}
}
