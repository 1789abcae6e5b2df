package bsky

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record collections the feed subscription asks for
const (
	CollectionPost = "app.bsky.feed.post"
	CollectionLike = "app.bsky.feed.like"
)

// CommitEvent is one commit-creation notification from the feed
type CommitEvent struct {
	DID    string `json:"did"`
	TimeUS int64  `json:"time_us"`
	Kind   string `json:"kind"`
	Commit Commit `json:"commit"`
}

// Commit carries the record payload of a commit event
type Commit struct {
	Rev        string          `json:"rev"`
	Operation  string          `json:"operation"`
	Collection string          `json:"collection"`
	RKey       string          `json:"rkey"`
	CID        string          `json:"cid"`
	Record     json.RawMessage `json:"record"`
}

// Time converts the microsecond feed timestamp to a time.Time
func (e *CommitEvent) Time() time.Time {
	return time.UnixMicro(e.TimeUS)
}

// RecordURI returns the canonical at:// URI of the committed record
func (e *CommitEvent) RecordURI() string {
	return fmt.Sprintf("at://%s/%s/%s", e.DID, e.Commit.Collection, e.Commit.RKey)
}

// StrongRef points at a specific record version
type StrongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// ReplyRef links a post into its thread
type ReplyRef struct {
	Root   StrongRef `json:"root"`
	Parent StrongRef `json:"parent"`
}

// PostRecord is the decoded payload of a post commit
type PostRecord struct {
	Text      string    `json:"text"`
	Langs     []string  `json:"langs,omitempty"`
	Reply     *ReplyRef `json:"reply,omitempty"`
	CreatedAt string    `json:"createdAt"`
}

// HasLang reports whether the post carries the given language tag
func (r *PostRecord) HasLang(lang string) bool {
	for _, l := range r.Langs {
		if l == lang {
			return true
		}
	}
	return false
}

// LikeRecord is the decoded payload of a like commit
type LikeRecord struct {
	Subject StrongRef `json:"subject"`
}

// DecodePost unmarshals the post record of a commit event
func (e *CommitEvent) DecodePost() (*PostRecord, error) {
	var rec PostRecord
	if err := json.Unmarshal(e.Commit.Record, &rec); err != nil {
		return nil, fmt.Errorf("decoding post record: %w", err)
	}
	return &rec, nil
}

// DecodeLike unmarshals the like record of a commit event
func (e *CommitEvent) DecodeLike() (*LikeRecord, error) {
	var rec LikeRecord
	if err := json.Unmarshal(e.Commit.Record, &rec); err != nil {
		return nil, fmt.Errorf("decoding like record: %w", err)
	}
	return &rec, nil
}
