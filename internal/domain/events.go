package domain

import "time"

// EventKind classifies one recorded game-relevant network event
type EventKind string

const (
	EventKindPost  EventKind = "post"
	EventKindReply EventKind = "reply"
	EventKindLike  EventKind = "like"
)

// EventRecord is one append-only activity observation. Records are never
// updated; a duplicate (did, time) insert is a no-op at the store.
type EventRecord struct {
	DID  string    `json:"did"`
	Kind EventKind `json:"kind"`
	Time time.Time `json:"time"`
}

// DailySummaryDID keys the aggregate row a daily rollup produces
const DailySummaryDID = "daily"

// EventSummary holds per-kind counts for one identifier produced by a
// summarization run. Daily rollups supersede the runs they aggregate.
type EventSummary struct {
	DID     string    `json:"did"`
	Posts   int       `json:"posts"`
	Replies int       `json:"replies"`
	Likes   int       `json:"likes"`
	RunTime time.Time `json:"run_time"`
}

// Total returns the summed event count across all kinds
func (s EventSummary) Total() int {
	return s.Posts + s.Replies + s.Likes
}

// RateLimitRecord tracks one identifier's sliding command window.
// A zero WindowStart means the identifier has never issued a command.
// Abusive is sticky; there is no path back to normal.
type RateLimitRecord struct {
	DID               string    `json:"did"`
	Count             int       `json:"count"`
	WindowStart       time.Time `json:"window_start"`
	OverLimitAttempts int       `json:"over_limit_attempts"`
	Abusive           bool      `json:"abusive"`
}

// GameState is the process-wide run state, created with defaults on
// first access if the store has no row yet
type GameState struct {
	State    string        `json:"state"`
	Interval time.Duration `json:"interval"`
}

// DefaultGameState returns the state written on first access
func DefaultGameState() *GameState {
	return &GameState{State: "running", Interval: 10 * time.Minute}
}
