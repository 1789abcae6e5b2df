package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// PlayerStatus drives membership in the active-player set
type PlayerStatus string

const (
	StatusInitial PlayerStatus = "initial"
	StatusPlay    PlayerStatus = "play"
	StatusQuit    PlayerStatus = "quit"
	StatusPurge   PlayerStatus = "purge"
)

// ParseStatus returns the status matching arg, or false for anything else
func ParseStatus(arg string) (PlayerStatus, bool) {
	switch PlayerStatus(arg) {
	case StatusPlay, StatusQuit, StatusPurge:
		return PlayerStatus(arg), true
	}
	return "", false
}

// Player represents a participant enrolled in the game
type Player struct {
	DID          string       `json:"did"`
	Handle       string       `json:"handle"`
	PDS          string       `json:"pds"`
	Status       PlayerStatus `json:"status"`
	LastActivity time.Time    `json:"last_activity"`
	Inventory    []Item       `json:"inventory"`
	Metadata     Metadata     `json:"metadata,omitempty"`
}

// ItemKind identifies the payload shape of an inventory item
type ItemKind string

const (
	ItemKindGift   ItemKind = "gift"
	ItemKindBadge  ItemKind = "badge"
	ItemKindToken  ItemKind = "token"
	ItemKindOpaque ItemKind = "opaque"
)

// Item is a tagged inventory entry. Known kinds carry a name and quantity;
// anything a handler stores that the game core does not understand goes
// through the opaque fallback with the raw payload preserved.
type Item struct {
	Kind ItemKind        `json:"kind"`
	Name string          `json:"name,omitempty"`
	Qty  int             `json:"qty,omitempty"`
	Raw  json.RawMessage `json:"raw,omitempty"`
}

// Validate checks an item at the storage boundary
func (i Item) Validate() error {
	switch i.Kind {
	case ItemKindGift, ItemKindBadge, ItemKindToken:
		if i.Name == "" {
			return fmt.Errorf("%w: %s item missing name", ErrInvalidItem, i.Kind)
		}
		if i.Qty < 0 {
			return fmt.Errorf("%w: %s item has negative quantity", ErrInvalidItem, i.Kind)
		}
	case ItemKindOpaque:
		if len(i.Raw) == 0 {
			return fmt.Errorf("%w: opaque item missing payload", ErrInvalidItem)
		}
	default:
		return fmt.Errorf("%w: unknown item kind %q", ErrInvalidItem, i.Kind)
	}
	return nil
}

// Metadata is a two-level mapping of URI to key/value pairs. It serializes
// as flat triples so stored documents stay structured instead of
// round-tripping arrays of map entries.
type Metadata map[string]map[string]string

type metadataTriple struct {
	URI   string `json:"uri"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Get returns the value stored under uri/key
func (m Metadata) Get(uri, key string) (string, bool) {
	inner, ok := m[uri]
	if !ok {
		return "", false
	}
	v, ok := inner[key]
	return v, ok
}

// Set stores value under uri/key, allocating inner maps as needed
func (m Metadata) Set(uri, key, value string) {
	inner, ok := m[uri]
	if !ok {
		inner = make(map[string]string)
		m[uri] = inner
	}
	inner[key] = value
}

// Delete removes uri/key, dropping the uri level once empty
func (m Metadata) Delete(uri, key string) {
	inner, ok := m[uri]
	if !ok {
		return
	}
	delete(inner, key)
	if len(inner) == 0 {
		delete(m, uri)
	}
}

// MarshalJSON encodes the nested map as flat uri/key/value triples
func (m Metadata) MarshalJSON() ([]byte, error) {
	triples := make([]metadataTriple, 0, len(m))
	for uri, inner := range m {
		for key, value := range inner {
			triples = append(triples, metadataTriple{URI: uri, Key: key, Value: value})
		}
	}
	return json.Marshal(triples)
}

// UnmarshalJSON rebuilds the nested map from flat triples
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var triples []metadataTriple
	if err := json.Unmarshal(data, &triples); err != nil {
		return fmt.Errorf("decoding metadata triples: %w", err)
	}
	out := make(Metadata, len(triples))
	for _, t := range triples {
		out.Set(t.URI, t.Key, t.Value)
	}
	*m = out
	return nil
}
