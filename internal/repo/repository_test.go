package repo

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/skeetgame-ingest/internal/bsky"
	"github.com/skeetgame-ingest/internal/domain"
)

// fakeStore overrides only what each test needs; calling anything else
// panics through the nil embedded interface, which is the point.
type fakeStore struct {
	Store

	players    map[string]*domain.Player
	handles    map[string]string
	rateLimits map[string]*domain.RateLimitRecord
	profiles   map[string]*domain.ProfileSnapshot
	flags      map[string]*domain.ProfileFlags
	follows    map[string][]string

	playerLoads  int
	batchInserts int
	batchSizes   []int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		players:    make(map[string]*domain.Player),
		handles:    make(map[string]string),
		rateLimits: make(map[string]*domain.RateLimitRecord),
		profiles:   make(map[string]*domain.ProfileSnapshot),
		flags:      make(map[string]*domain.ProfileFlags),
		follows:    make(map[string][]string),
	}
}

func (s *fakeStore) GetActivePlayerDIDs(ctx context.Context) ([]string, error) {
	var dids []string
	for did, p := range s.players {
		if p.Status == domain.StatusPlay {
			dids = append(dids, did)
		}
	}
	return dids, nil
}

func (s *fakeStore) GetPlayer(ctx context.Context, did string) (*domain.Player, error) {
	s.playerLoads++
	return s.players[did], nil
}

func (s *fakeStore) SavePlayer(ctx context.Context, player *domain.Player) error {
	s.players[player.DID] = player
	return nil
}

func (s *fakeStore) SaveHandle(ctx context.Context, handle, did string) error {
	s.handles[handle] = did
	return nil
}

func (s *fakeStore) GetDIDByHandle(ctx context.Context, handle string) (string, error) {
	return s.handles[handle], nil
}

func (s *fakeStore) SaveRateLimit(ctx context.Context, rec *domain.RateLimitRecord) error {
	s.rateLimits[rec.DID] = rec
	return nil
}

func (s *fakeStore) SaveProfile(ctx context.Context, profile *domain.ProfileSnapshot) error {
	s.profiles[profile.DID] = profile
	return nil
}

func (s *fakeStore) SaveFlags(ctx context.Context, flags *domain.ProfileFlags) error {
	s.flags[flags.DID] = flags
	return nil
}

func (s *fakeStore) SaveFollows(ctx context.Context, did string, follows []string) error {
	s.follows[did] = follows
	return nil
}

func (s *fakeStore) InsertEventBatch(ctx context.Context, records []domain.EventRecord) error {
	s.batchInserts++
	s.batchSizes = append(s.batchSizes, len(records))
	return nil
}

type fakeDirectory struct {
	descriptions map[string]*bsky.RepoDescription
	profiles     map[string]*bsky.ProfileRecord
	follows      map[string][]string
	describes    int
}

func (d *fakeDirectory) DescribeRepo(ctx context.Context, actor string) (*bsky.RepoDescription, error) {
	d.describes++
	return d.descriptions[actor], nil
}

func (d *fakeDirectory) FetchProfile(ctx context.Context, pds, did string) (*bsky.ProfileRecord, error) {
	return d.profiles[did], nil
}

func (d *fakeDirectory) ListFollows(ctx context.Context, pds, did string) ([]string, error) {
	return d.follows[did], nil
}

func newTestRepo(store Store, dir Directory) *Repository {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, dir, logger)
}

func TestBufferAutoFlushAtLimit(t *testing.T) {
	store := newFakeStore()
	r := newTestRepo(store, &fakeDirectory{})
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < EventBufferLimit; i++ {
		rec := domain.EventRecord{DID: "did:plc:alice", Kind: domain.EventKindPost, Time: base.Add(time.Duration(i) * time.Millisecond)}
		if err := r.InsertEvent(ctx, rec); err != nil {
			t.Fatalf("InsertEvent %d: %v", i, err)
		}
	}

	if store.batchInserts != 1 {
		t.Fatalf("batch inserts = %d, want exactly 1", store.batchInserts)
	}
	if store.batchSizes[0] != EventBufferLimit {
		t.Fatalf("batch size = %d, want %d", store.batchSizes[0], EventBufferLimit)
	}
	if r.BufferedEvents() != 0 {
		t.Fatalf("buffer depth = %d after auto flush, want 0", r.BufferedEvents())
	}
}

func TestManualFlush(t *testing.T) {
	store := newFakeStore()
	r := newTestRepo(store, &fakeDirectory{})
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		rec := domain.EventRecord{DID: "did:plc:alice", Kind: domain.EventKindLike, Time: base.Add(time.Duration(i) * time.Second)}
		if err := r.InsertEvent(ctx, rec); err != nil {
			t.Fatalf("InsertEvent: %v", err)
		}
	}
	if store.batchInserts != 0 {
		t.Fatal("flush fired below the limit")
	}

	if err := r.FlushEvents(ctx); err != nil {
		t.Fatalf("FlushEvents: %v", err)
	}
	if store.batchInserts != 1 || store.batchSizes[0] != 5 {
		t.Fatalf("flush wrote %d batches (sizes %v), want one batch of 5", store.batchInserts, store.batchSizes)
	}

	// Empty buffer: no store traffic
	if err := r.FlushEvents(ctx); err != nil {
		t.Fatalf("empty FlushEvents: %v", err)
	}
	if store.batchInserts != 1 {
		t.Fatalf("empty flush hit the store, batches = %d", store.batchInserts)
	}
}

func TestPlayerCacheAside(t *testing.T) {
	store := newFakeStore()
	store.players["did:plc:alice"] = &domain.Player{DID: "did:plc:alice", Handle: "alice.test", Status: domain.StatusPlay}
	r := newTestRepo(store, &fakeDirectory{})
	ctx := context.Background()

	p, err := r.Player(ctx, "did:plc:alice")
	if err != nil {
		t.Fatalf("Player: %v", err)
	}
	if p == nil || p.Handle != "alice.test" {
		t.Fatalf("Player = %+v", p)
	}
	if p.Metadata == nil {
		t.Fatal("nil metadata not replaced on load")
	}

	// Second read is served from cache
	if _, err := r.Player(ctx, "did:plc:alice"); err != nil {
		t.Fatalf("Player: %v", err)
	}
	if store.playerLoads != 1 {
		t.Fatalf("store loads = %d, want 1", store.playerLoads)
	}

	// Play status synced into the active set
	if !r.IsPlayerPlaying("did:plc:alice") {
		t.Fatal("playing player missing from active set after load")
	}

	if p, err := r.Player(ctx, "did:plc:nobody"); err != nil || p != nil {
		t.Fatalf("missing player = (%+v, %v), want (nil, nil)", p, err)
	}
}

func TestResolveDIDFallsBackToDirectory(t *testing.T) {
	store := newFakeStore()
	dir := &fakeDirectory{
		descriptions: map[string]*bsky.RepoDescription{
			"bob.test": {DID: "did:plc:bob", Handle: "bob.test", PDS: "https://pds.test"},
		},
	}
	r := newTestRepo(store, dir)
	ctx := context.Background()

	did, err := r.ResolveDID(ctx, "bob.test")
	if err != nil {
		t.Fatalf("ResolveDID: %v", err)
	}
	if did != "did:plc:bob" {
		t.Fatalf("ResolveDID = %q, want did:plc:bob", did)
	}
	if store.handles["bob.test"] != "did:plc:bob" {
		t.Fatal("directory result not backfilled into the handle index")
	}

	// Cached now: no second directory call
	if _, err := r.ResolveDID(ctx, "bob.test"); err != nil {
		t.Fatalf("ResolveDID: %v", err)
	}
	if dir.describes != 1 {
		t.Fatalf("directory describes = %d, want 1", dir.describes)
	}

	if did, err := r.ResolveDID(ctx, "ghost.test"); err != nil || did != "" {
		t.Fatalf("unknown handle = (%q, %v), want (\"\", nil)", did, err)
	}
}

func TestCreatePlayerOnboarding(t *testing.T) {
	store := newFakeStore()
	dir := &fakeDirectory{
		descriptions: map[string]*bsky.RepoDescription{
			"did:plc:carol": {DID: "did:plc:carol", Handle: "carol.test", PDS: "https://pds.test"},
		},
		profiles: map[string]*bsky.ProfileRecord{
			"did:plc:carol": {DisplayName: "Carol", Description: "hi", Pronouns: "they/them"},
		},
		follows: map[string][]string{
			"did:plc:carol": {"did:plc:alice", "did:plc:bob"},
		},
	}
	r := newTestRepo(store, dir)
	ctx := context.Background()

	player, err := r.CreatePlayer(ctx, "did:plc:carol")
	if err != nil {
		t.Fatalf("CreatePlayer: %v", err)
	}
	if player.Handle != "carol.test" || player.Status != domain.StatusInitial {
		t.Fatalf("player = %+v", player)
	}
	if _, ok := store.rateLimits["did:plc:carol"]; !ok {
		t.Fatal("rate-limit record not provisioned")
	}
	profile := store.profiles["did:plc:carol"]
	if profile == nil || profile.Pronouns != "they/them" || profile.FollowsCount != 2 {
		t.Fatalf("profile = %+v", profile)
	}
	if flags := store.flags["did:plc:carol"]; flags == nil || len(flags.Flags) != 0 {
		t.Fatalf("flags = %+v, want empty list", flags)
	}
	if got := store.follows["did:plc:carol"]; len(got) != 2 {
		t.Fatalf("follows = %v", got)
	}
	if store.handles["carol.test"] != "did:plc:carol" {
		t.Fatal("handle index not written")
	}
}

func TestOverrideStatus(t *testing.T) {
	store := newFakeStore()
	store.players["did:plc:alice"] = &domain.Player{DID: "did:plc:alice", Handle: "alice.test", Status: domain.StatusInitial}
	r := newTestRepo(store, &fakeDirectory{})
	ctx := context.Background()

	if err := r.OverrideStatus(ctx, "did:plc:alice", domain.StatusPlay); err != nil {
		t.Fatalf("OverrideStatus: %v", err)
	}
	if !r.IsPlayerPlaying("did:plc:alice") {
		t.Fatal("player not in active set after play override")
	}
	if store.players["did:plc:alice"].Status != domain.StatusPlay {
		t.Fatal("status not persisted")
	}

	if err := r.OverrideStatus(ctx, "did:plc:alice", domain.StatusQuit); err != nil {
		t.Fatalf("OverrideStatus: %v", err)
	}
	if r.IsPlayerPlaying("did:plc:alice") {
		t.Fatal("player still in active set after quit")
	}

	// Unknown identifier: set membership only, nothing persisted
	if err := r.OverrideStatus(ctx, "did:plc:ghost", domain.StatusPlay); err != nil {
		t.Fatalf("OverrideStatus: %v", err)
	}
	if !r.IsPlayerPlaying("did:plc:ghost") {
		t.Fatal("unknown identifier not tracked in active set")
	}
}

func TestInitLoadsActiveSet(t *testing.T) {
	store := newFakeStore()
	store.players["did:plc:alice"] = &domain.Player{DID: "did:plc:alice", Status: domain.StatusPlay}
	store.players["did:plc:bob"] = &domain.Player{DID: "did:plc:bob", Status: domain.StatusQuit}
	r := newTestRepo(store, &fakeDirectory{})

	if err := r.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !r.IsPlayerPlaying("did:plc:alice") {
		t.Fatal("playing player missing after Init")
	}
	if r.IsPlayerPlaying("did:plc:bob") {
		t.Fatal("quit player present after Init")
	}
	if r.ActiveCount() != 1 {
		t.Fatalf("ActiveCount = %d, want 1", r.ActiveCount())
	}
}
