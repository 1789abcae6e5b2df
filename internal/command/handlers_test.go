package command

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/skeetgame-ingest/internal/bsky"
	"github.com/skeetgame-ingest/internal/domain"
	"github.com/skeetgame-ingest/internal/repo"
)

type capturePoster struct {
	texts   []string
	parents []bsky.StrongRef
	roots   []bsky.StrongRef
}

func (p *capturePoster) Reply(ctx context.Context, text string, parent, root bsky.StrongRef) error {
	p.texts = append(p.texts, text)
	p.parents = append(p.parents, parent)
	p.roots = append(p.roots, root)
	return nil
}

func handlerFixture(t *testing.T) (*dispatchStore, *repo.Repository, *Context) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &dispatchStore{
		players: map[string]*domain.Player{
			"did:plc:alice": {DID: "did:plc:alice", Handle: "alice.test", Status: domain.StatusPlay},
			"did:plc:bob":   {DID: "did:plc:bob", Handle: "bob.test", Status: domain.StatusPlay},
		},
	}
	players := repo.New(store, noDirectory{}, logger)
	c := &Context{
		Initiator: store.players["did:plc:alice"],
		Target:    store.players["did:plc:bob"],
		Source:    sourceEvent(),
	}
	return store, players, c
}

func TestGiftHandlerAddsItemAndReplies(t *testing.T) {
	store, players, c := handlerFixture(t)
	poster := &capturePoster{}

	err := GiftHandler{}.Execute(context.Background(), c, players, []string{"rose"}, poster)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	target := store.players["did:plc:bob"]
	if len(target.Inventory) != 1 {
		t.Fatalf("target inventory = %d items, want 1", len(target.Inventory))
	}
	item := target.Inventory[0]
	if item.Kind != domain.ItemKindGift || item.Name != "rose" || item.Qty != 1 {
		t.Fatalf("stored item = %+v", item)
	}
	if store.saves != 1 {
		t.Fatalf("target saved %d times, want 1", store.saves)
	}
	if len(poster.texts) != 1 || !strings.Contains(poster.texts[0], "rose") {
		t.Fatalf("reply = %q", poster.texts)
	}
	if got := poster.parents[0].URI; got != c.Source.RecordURI() {
		t.Fatalf("reply parent = %q, want %q", got, c.Source.RecordURI())
	}
}

func TestGiftHandlerWithoutSourceSkipsReply(t *testing.T) {
	_, players, c := handlerFixture(t)
	c.Source = nil
	poster := &capturePoster{}

	if err := (GiftHandler{}).Execute(context.Background(), c, players, []string{"rose"}, poster); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(poster.texts) != 0 {
		t.Fatalf("reply sent without a source post: %q", poster.texts)
	}
}

func TestWaveHandlerUsesDeclaredPronouns(t *testing.T) {
	store, players, c := handlerFixture(t)
	store.profiles = map[string]*domain.ProfileSnapshot{
		"did:plc:bob": {DID: "did:plc:bob", Handle: "bob.test", Pronouns: "he/him", FollowsCount: 3},
	}
	poster := &capturePoster{}

	if err := (WaveHandler{}).Execute(context.Background(), c, players, nil, poster); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(poster.texts) != 1 || !strings.Contains(poster.texts[0], "him") {
		t.Fatalf("reply = %q, want object pronoun him", poster.texts)
	}
}

func TestWaveHandlerDefaultsPronoun(t *testing.T) {
	_, players, c := handlerFixture(t)
	poster := &capturePoster{}

	if err := (WaveHandler{}).Execute(context.Background(), c, players, nil, poster); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(poster.texts) != 1 || !strings.Contains(poster.texts[0], "her") {
		t.Fatalf("reply = %q, want default pronoun her", poster.texts)
	}
}
