package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		arg    string
		want   PlayerStatus
		wantOK bool
	}{
		{"play", StatusPlay, true},
		{"quit", StatusQuit, true},
		{"purge", StatusPurge, true},
		{"initial", "", false},
		{"PLAY", "", false},
		{"", "", false},
		{"stop", "", false},
	}

	for _, tt := range tests {
		got, ok := ParseStatus(tt.arg)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseStatus(%q) = (%q, %v), want (%q, %v)", tt.arg, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestItemValidate(t *testing.T) {
	tests := []struct {
		name    string
		item    Item
		wantErr bool
	}{
		{"valid gift", Item{Kind: ItemKindGift, Name: "rose", Qty: 1}, false},
		{"valid badge", Item{Kind: ItemKindBadge, Name: "veteran"}, false},
		{"valid token", Item{Kind: ItemKindToken, Name: "festival", Qty: 3}, false},
		{"gift without name", Item{Kind: ItemKindGift, Qty: 1}, true},
		{"negative quantity", Item{Kind: ItemKindToken, Name: "festival", Qty: -1}, true},
		{"opaque with payload", Item{Kind: ItemKindOpaque, Raw: json.RawMessage(`{"x":1}`)}, false},
		{"opaque without payload", Item{Kind: ItemKindOpaque}, true},
		{"unknown kind", Item{Kind: "weapon", Name: "sword"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.item.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidItem) {
					t.Fatalf("Validate() = %v, want ErrInvalidItem", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestMetadataSetGetDelete(t *testing.T) {
	m := make(Metadata)

	if _, ok := m.Get("at://x/post/1", "seen"); ok {
		t.Fatal("Get on empty metadata reported a value")
	}

	m.Set("at://x/post/1", "seen", "yes")
	m.Set("at://x/post/1", "score", "4")
	m.Set("at://x/post/2", "seen", "no")

	if v, ok := m.Get("at://x/post/1", "score"); !ok || v != "4" {
		t.Fatalf("Get = (%q, %v), want (\"4\", true)", v, ok)
	}

	m.Delete("at://x/post/1", "seen")
	if _, ok := m.Get("at://x/post/1", "seen"); ok {
		t.Fatal("deleted key still present")
	}
	if _, ok := m.Get("at://x/post/1", "score"); !ok {
		t.Fatal("sibling key dropped by Delete")
	}

	m.Delete("at://x/post/1", "score")
	if _, ok := m["at://x/post/1"]; ok {
		t.Fatal("empty uri level not dropped")
	}
}

func TestMetadataJSONRoundTrip(t *testing.T) {
	m := make(Metadata)
	m.Set("at://x/post/1", "seen", "yes")
	m.Set("at://x/post/1", "score", "4")
	m.Set("at://y/post/9", "note", "hi")

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	// Triples, not nested maps
	var triples []map[string]string
	if err := json.Unmarshal(data, &triples); err != nil {
		t.Fatalf("encoded form is not a triple list: %v", err)
	}
	if len(triples) != 3 {
		t.Fatalf("got %d triples, want 3", len(triples))
	}

	var back Metadata
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if v, ok := back.Get("at://x/post/1", "score"); !ok || v != "4" {
		t.Fatalf("round trip lost at://x/post/1 score, got (%q, %v)", v, ok)
	}
	if v, ok := back.Get("at://y/post/9", "note"); !ok || v != "hi" {
		t.Fatalf("round trip lost at://y/post/9 note, got (%q, %v)", v, ok)
	}
}
