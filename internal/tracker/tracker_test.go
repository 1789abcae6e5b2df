package tracker

import (
	"sort"
	"testing"
	"time"
)

func newTestTracker(ttl time.Duration) (*Tracker, *time.Time) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := New(ttl)
	tr.now = func() time.Time { return now }
	return tr, &now
}

func TestRefreshAlwaysReportsChanged(t *testing.T) {
	tr, _ := newTestTracker(30 * time.Minute)

	if !tr.Refresh("did:plc:alice") {
		t.Fatal("first Refresh returned false")
	}
	// Duplicate suppression is off on purpose
	if !tr.Refresh("did:plc:alice") {
		t.Fatal("repeat Refresh returned false")
	}
}

func TestIsActiveWithinTTL(t *testing.T) {
	tr, now := newTestTracker(30 * time.Minute)

	if tr.IsActive("did:plc:alice") {
		t.Fatal("never-seen identifier reported active")
	}

	tr.Refresh("did:plc:alice")
	if !tr.IsActive("did:plc:alice") {
		t.Fatal("just-refreshed identifier reported inactive")
	}

	*now = now.Add(30 * time.Minute)
	if !tr.IsActive("did:plc:alice") {
		t.Fatal("identifier at exactly the TTL boundary reported inactive")
	}

	*now = now.Add(time.Second)
	if tr.IsActive("did:plc:alice") {
		t.Fatal("identifier past the TTL reported active")
	}
}

func TestClearInactiveReturnsEachOnce(t *testing.T) {
	tr, now := newTestTracker(30 * time.Minute)

	tr.Refresh("did:plc:alice")
	tr.Refresh("did:plc:bob")
	*now = now.Add(10 * time.Minute)
	tr.Refresh("did:plc:carol")

	*now = now.Add(25 * time.Minute)
	expired := tr.ClearInactive()
	sort.Strings(expired)
	if len(expired) != 2 || expired[0] != "did:plc:alice" || expired[1] != "did:plc:bob" {
		t.Fatalf("ClearInactive = %v, want [did:plc:alice did:plc:bob]", expired)
	}

	// Already-swept identifiers never come back
	if again := tr.ClearInactive(); len(again) != 0 {
		t.Fatalf("second ClearInactive = %v, want empty", again)
	}

	if !tr.IsActive("did:plc:carol") {
		t.Fatal("sweep evicted an identifier inside the TTL")
	}
}

func TestForget(t *testing.T) {
	tr, _ := newTestTracker(30 * time.Minute)

	tr.Refresh("did:plc:alice")
	tr.Forget("did:plc:alice")
	if tr.IsActive("did:plc:alice") {
		t.Fatal("forgotten identifier still active")
	}
	if expired := tr.ClearInactive(); len(expired) != 0 {
		t.Fatalf("forgotten identifier surfaced in sweep: %v", expired)
	}
}

func TestActiveCountAndIDs(t *testing.T) {
	tr, now := newTestTracker(30 * time.Minute)

	tr.Refresh("did:plc:alice")
	*now = now.Add(31 * time.Minute)
	tr.Refresh("did:plc:bob")

	if got := tr.ActiveCount(); got != 1 {
		t.Fatalf("ActiveCount = %d, want 1", got)
	}
	ids := tr.ActiveIDs()
	if len(ids) != 1 || ids[0] != "did:plc:bob" {
		t.Fatalf("ActiveIDs = %v, want [did:plc:bob]", ids)
	}
}

func TestZeroTTLUsesDefault(t *testing.T) {
	tr := New(0)
	if tr.ttl != DefaultTTL {
		t.Fatalf("ttl = %v, want %v", tr.ttl, DefaultTTL)
	}
}
