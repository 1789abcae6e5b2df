package bsky

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// ThreadPost is the subset of a thread node's post this system keeps
type ThreadPost struct {
	URI  string `json:"uri"`
	CID  string `json:"cid"`
	DID  string `json:"did"`
	Text string `json:"text"`
}

// Thread is a flattened thread node: the post, its parent chain and its
// direct children. Not-found and blocked branches are discarded during
// flattening.
type Thread struct {
	Post     ThreadPost `json:"post"`
	Parent   *Thread    `json:"parent,omitempty"`
	Children []*Thread  `json:"children,omitempty"`
}

// Ancestry returns the post and its parents, nearest first
func (t *Thread) Ancestry() []ThreadPost {
	var posts []ThreadPost
	for cur := t; cur != nil; cur = cur.Parent {
		posts = append(posts, cur.Post)
	}
	return posts
}

// FindAncestor returns the first ancestor post whose text matches pred
func (t *Thread) FindAncestor(pred func(ThreadPost) bool) (ThreadPost, bool) {
	for _, post := range t.Ancestry() {
		if pred(post) {
			return post, true
		}
	}
	return ThreadPost{}, false
}

const threadViewType = "app.bsky.feed.defs#threadViewPost"

// threadNode is the recursive wire shape of a getPostThread response
type threadNode struct {
	Type string `json:"$type"`
	Post struct {
		URI    string `json:"uri"`
		CID    string `json:"cid"`
		Author struct {
			DID string `json:"did"`
		} `json:"author"`
		Record struct {
			Text string `json:"text"`
		} `json:"record"`
	} `json:"post"`
	Parent  *threadNode  `json:"parent"`
	Replies []threadNode `json:"replies"`
}

// flatten converts a wire node into a Thread, dropping anything that is
// not a full thread view (not found, blocked)
func (n *threadNode) flatten() *Thread {
	if n == nil || n.Type != threadViewType {
		return nil
	}
	t := &Thread{
		Post: ThreadPost{
			URI:  n.Post.URI,
			CID:  n.Post.CID,
			DID:  n.Post.Author.DID,
			Text: n.Post.Record.Text,
		},
	}
	t.Parent = n.Parent.flatten()
	for i := range n.Replies {
		if child := n.Replies[i].flatten(); child != nil {
			t.Children = append(t.Children, child)
		}
	}
	return t
}

// GetThread fetches the thread containing the record at uri and flattens
// it. Returns (nil, nil) when the root itself is unavailable.
func (d *Directory) GetThread(ctx context.Context, uri string) (*Thread, error) {
	u := fmt.Sprintf("%s/xrpc/app.bsky.feed.getPostThread?uri=%s", d.publicAPI, url.QueryEscape(uri))

	var body struct {
		Thread json.RawMessage `json:"thread"`
	}
	if err := d.getJSON(ctx, u, &body); err != nil {
		return nil, err
	}

	var node threadNode
	if err := json.Unmarshal(body.Thread, &node); err != nil {
		return nil, fmt.Errorf("decoding thread: %w", err)
	}
	return node.flatten(), nil
}
