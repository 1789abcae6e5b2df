package command

import (
	"context"
	"fmt"

	"github.com/skeetgame-ingest/internal/bsky"
	"github.com/skeetgame-ingest/internal/domain"
	"github.com/skeetgame-ingest/internal/repo"
)

// replyRefs derives the parent and root references for replying to the
// triggering post. A post that is itself a reply keeps its thread root.
func replyRefs(source *bsky.CommitEvent) (parent, root bsky.StrongRef) {
	parent = bsky.StrongRef{URI: source.RecordURI(), CID: source.Commit.CID}
	root = parent
	if post, err := source.DecodePost(); err == nil && post.Reply != nil {
		root = post.Reply.Root
	}
	return parent, root
}

// GiftHandler hands a named gift item to another player and confirms
// with a reply in the triggering thread.
type GiftHandler struct{}

func (GiftHandler) Spec() HandlerSpec {
	return HandlerSpec{RequiresTarget: true, ExpectedParams: 1}
}

func (GiftHandler) Execute(ctx context.Context, c *Context, players *repo.Repository, params []string, poster Poster) error {
	item := domain.Item{Kind: domain.ItemKindGift, Name: params[0], Qty: 1}
	if err := item.Validate(); err != nil {
		return err
	}
	c.Target.Inventory = append(c.Target.Inventory, item)
	if err := players.SavePlayer(ctx, c.Target); err != nil {
		return fmt.Errorf("saving gift recipient: %w", err)
	}
	if c.Source == nil {
		return nil
	}
	parent, root := replyRefs(c.Source)
	text := fmt.Sprintf("@%s gave @%s a %s!", c.Initiator.Handle, c.Target.Handle, item.Name)
	return poster.Reply(ctx, text, parent, root)
}

// WaveHandler replies with a greeting aimed at the target, using the
// target's declared pronouns when a profile snapshot is on record.
type WaveHandler struct{}

func (WaveHandler) Spec() HandlerSpec {
	return HandlerSpec{RequiresTarget: true}
}

func (WaveHandler) Execute(ctx context.Context, c *Context, players *repo.Repository, params []string, poster Poster) error {
	if c.Source == nil {
		return nil
	}
	pronoun := "her"
	if profile, err := players.Profile(ctx, c.Target.DID); err == nil && profile != nil {
		pronoun = profile.ObjectPronoun()
	}
	parent, root := replyRefs(c.Source)
	text := fmt.Sprintf("@%s waves at @%s. Wave back at %s!", c.Initiator.Handle, c.Target.Handle, pronoun)
	return poster.Reply(ctx, text, parent, root)
}
