package tracker

import (
	"sync"
	"time"
)

// DefaultTTL is how long a player counts as active after their last
// observed event.
const DefaultTTL = 30 * time.Minute

// Tracker records last-seen times for players and answers activity
// queries against a sliding TTL. Safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	lastSeen map[string]time.Time
	ttl      time.Duration
	now      func() time.Time
}

// New creates a Tracker with the given TTL; zero means DefaultTTL
func New(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{
		lastSeen: make(map[string]time.Time),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Refresh records activity for an identifier. It always reports true so
// callers treat every observed event as a state change worth announcing.
func (t *Tracker) Refresh(did string) bool {
	t.mu.Lock()
	t.lastSeen[did] = t.now()
	t.mu.Unlock()
	return true
}

// IsActive reports whether the identifier was seen within the TTL
func (t *Tracker) IsActive(did string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen, ok := t.lastSeen[did]
	if !ok {
		return false
	}
	return t.now().Sub(seen) <= t.ttl
}

// Forget drops an identifier immediately
func (t *Tracker) Forget(did string) {
	t.mu.Lock()
	delete(t.lastSeen, did)
	t.mu.Unlock()
}

// ClearInactive removes every identifier past the TTL and returns them
func (t *Tracker) ClearInactive() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	var expired []string
	for did, seen := range t.lastSeen {
		if now.Sub(seen) > t.ttl {
			expired = append(expired, did)
			delete(t.lastSeen, did)
		}
	}
	return expired
}

// ActiveCount returns how many identifiers are within the TTL
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	count := 0
	for _, seen := range t.lastSeen {
		if now.Sub(seen) <= t.ttl {
			count++
		}
	}
	return count
}

// ActiveIDs returns the identifiers currently within the TTL
func (t *Tracker) ActiveIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	var ids []string
	for did, seen := range t.lastSeen {
		if now.Sub(seen) <= t.ttl {
			ids = append(ids, did)
		}
	}
	return ids
}
